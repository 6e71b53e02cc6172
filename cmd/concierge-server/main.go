// Command concierge-server boots the dispatch core: it wires the
// stores, registry, and sweepers, validates that every mutating tool
// has a bound executor, and aborts with a non-zero exit listing every
// missing name when validation fails.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Harborlane-Labs/concierge/core/pkg/config"
	"github.com/Harborlane-Labs/concierge/core/pkg/contextcache"
	"github.com/Harborlane-Labs/concierge/core/pkg/contracts"
	"github.com/Harborlane-Labs/concierge/core/pkg/dispatch"
	"github.com/Harborlane-Labs/concierge/core/pkg/draftstore"
	"github.com/Harborlane-Labs/concierge/core/pkg/drafttools"
	"github.com/Harborlane-Labs/concierge/core/pkg/executor"
	"github.com/Harborlane-Labs/concierge/core/pkg/faults"
	"github.com/Harborlane-Labs/concierge/core/pkg/observability"
	"github.com/Harborlane-Labs/concierge/core/pkg/policy"
	"github.com/Harborlane-Labs/concierge/core/pkg/proposals"
	"github.com/Harborlane-Labs/concierge/core/pkg/registry"
	"github.com/Harborlane-Labs/concierge/core/pkg/sessions"

	_ "github.com/lib/pq" // Postgres driver
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.Load()
	logger := observability.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	meterProvider, err := observability.NewMeterProvider(ctx, cfg.OTLPEndpoint, cfg.OTLPInsecure)
	if err != nil {
		logger.Error("failed to build meter provider", "error", err)
		return 1
	}
	defer func() { _ = meterProvider.Shutdown(context.Background()) }()
	metrics, err := observability.NewMetrics(meterProvider.Meter("concierge-core"))
	if err != nil {
		logger.Error("failed to register metrics", "error", err)
		return 1
	}

	// Draft/publish store (Postgres).
	pgDB, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open postgres", "error", err)
		return 1
	}
	defer func() { _ = pgDB.Close() }()

	drafts := draftstore.NewPostgresStore(pgDB, draftstore.PublishPolicy(cfg.PublishPolicy)).WithMetrics(metrics)
	if err := drafts.Init(ctx); err != nil {
		logger.Error("failed to migrate draft store", "error", err)
		return 1
	}

	// Proposal store (SQLite).
	liteDB, err := sql.Open("sqlite", cfg.ProposalDBPath)
	if err != nil {
		logger.Error("failed to open proposal database", "error", err)
		return 1
	}
	defer func() { _ = liteDB.Close() }()

	proposalStore, err := proposals.NewSQLiteStore(liteDB)
	if err != nil {
		logger.Error("failed to migrate proposal store", "error", err)
		return 1
	}

	// Context cache: Redis when configured, else in-process.
	loader := tenantContextLoader(drafts)
	var cache contextcache.Cache
	if cfg.RedisAddr != "" {
		cache = contextcache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, loader, cfg.ContextTTL).WithMetrics(metrics)
	} else {
		cache = contextcache.NewMemoryCache(loader, cfg.ContextTTL).WithMetrics(metrics)
	}

	// Tier-escalation policy from tenant profiles.
	policyEngine, err := policy.NewEngine()
	if err != nil {
		logger.Error("failed to build policy engine", "error", err)
		return 1
	}
	sessionCfg := sessions.DefaultConfig()
	sessionMgr := sessions.NewManager(sessionCfg)
	if cfg.ProfileDir != "" {
		profiles, err := config.LoadProfiles(cfg.ProfileDir)
		if err != nil {
			logger.Error("failed to load tenant profiles", "error", err)
			return 1
		}
		for _, profile := range profiles {
			sessionMgr.SetTenantConfig(profile.TenantID, tenantSessionConfig(sessionCfg, profile))
			for _, rule := range profile.Escalation {
				err := policyEngine.AddRule(profile.TenantID, policy.Rule{
					Name:       rule.Name,
					Tool:       rule.Tool,
					Expression: rule.Expression,
					MinTier:    contracts.TrustTier(rule.MinTier),
				})
				if err != nil {
					logger.Error("failed to install escalation rule",
						"tenant", profile.TenantID, "rule", rule.Name, "error", err)
					return 1
				}
			}
		}
		logger.Info("loaded tenant profiles", "count", len(profiles))
	}

	// Registry: built-in draft tools now, domain tool modules register
	// here as well before Validate runs.
	reg := registry.New()
	if err := drafttools.RegisterAll(reg, drafts); err != nil {
		logger.Error("failed to register built-in tools", "error", err)
		return 1
	}

	// Fail-fast startup check: a mutating tool without an executor must
	// never reach traffic.
	if err := reg.Validate(); err != nil {
		if f, ok := faults.As(err); ok && len(f.Tools) > 0 {
			for _, name := range f.Tools {
				fmt.Fprintf(os.Stderr, "missing executor: %s\n", name)
			}
		}
		logger.Error("registry validation failed", "error", err)
		return 1
	}

	dispatcher := dispatch.New(dispatch.Deps{
		Registry:    reg,
		Invoker:     executor.NewInvoker(logger, executor.WithTimeout(cfg.ExecutorTimeout)),
		Store:       proposalStore,
		Cache:       cache,
		Sessions:    sessionMgr,
		Policy:      policyEngine,
		Metrics:     metrics,
		Logger:      logger,
		ProposalTTL: cfg.ProposalTTL,
	})
	_ = dispatcher // handed to the agent runtime / transport layer

	// Background maintenance.
	sweeper := proposals.NewSweeper(proposalStore, cfg.SweepInterval, logger)
	watchdog := proposals.NewWatchdog(proposalStore, cfg.WatchdogWindow, cfg.SweepInterval, logger)
	go sweeper.Run(ctx)
	go watchdog.Run(ctx)
	go sessionMgr.RunEviction(ctx, 5*time.Minute, logger)

	logger.Info("concierge core started",
		"tools", reg.List(),
		"publish_policy", cfg.PublishPolicy,
	)

	<-ctx.Done()
	logger.Info("shutting down")
	return 0
}

// tenantSessionConfig maps a profile's breaker and rate bounds onto the
// session manager's config, keeping process defaults for anything the
// profile leaves unset.
func tenantSessionConfig(base sessions.Config, profile config.TenantProfile) sessions.Config {
	out := base
	if profile.Breaker.Threshold > 0 {
		out.FailureThreshold = profile.Breaker.Threshold
	}
	if profile.Breaker.WindowSeconds > 0 {
		out.FailureWindow = time.Duration(profile.Breaker.WindowSeconds) * time.Second
	}
	if profile.Breaker.CooldownSeconds > 0 {
		out.CoolDown = time.Duration(profile.Breaker.CooldownSeconds) * time.Second
	}
	if profile.Rate.PerSecond > 0 {
		out.RatePerSecond = profile.Rate.PerSecond
		out.RateBurst = profile.Rate.Burst
	}
	return out
}

// tenantContextLoader assembles the memoized per-tenant context handed
// to the language-model caller on every turn.
func tenantContextLoader(drafts draftstore.Store) contextcache.Loader {
	return func(ctx context.Context, tenantID string) (*contracts.TenantContext, error) {
		data := map[string]any{}
		if snap, err := drafts.GetDraft(ctx, tenantID, "storefront"); err == nil {
			data["storefront"] = snap.Content
			data["storefront_is_draft"] = snap.IsDraft
		}
		return &contracts.TenantContext{
			TenantID: tenantID,
			Data:     data,
			BuiltAt:  time.Now().UTC(),
		}, nil
	}
}
