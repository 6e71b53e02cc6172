// Package config loads server configuration from environment variables
// and per-tenant profiles from YAML.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds process configuration.
type Config struct {
	LogLevel        string
	DatabaseURL     string // Postgres, draft/publish store
	ProposalDBPath  string // SQLite, proposal store
	RedisAddr       string // empty = in-process context cache
	RedisPassword   string
	RedisDB         int
	ProfileDir      string // tenant profile YAML directory
	ContextTTL      time.Duration
	ProposalTTL     time.Duration
	SweepInterval   time.Duration
	WatchdogWindow  time.Duration
	ExecutorTimeout time.Duration
	PublishPolicy   string // "retain" | "clear"
	OTLPEndpoint    string // empty = metrics stay in-process
	OTLPInsecure    bool
}

// Load loads configuration from environment variables.
func Load() *Config {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		dbURL = "postgres://concierge@localhost:5432/concierge?sslmode=disable"
	}

	proposalDB := os.Getenv("PROPOSAL_DB_PATH")
	if proposalDB == "" {
		proposalDB = "concierge-proposals.db"
	}

	publishPolicy := os.Getenv("PUBLISH_POLICY")
	if publishPolicy == "" {
		publishPolicy = "retain"
	}

	return &Config{
		LogLevel:        logLevel,
		DatabaseURL:     dbURL,
		ProposalDBPath:  proposalDB,
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		RedisDB:         envInt("REDIS_DB", 0),
		ProfileDir:      os.Getenv("PROFILE_DIR"),
		ContextTTL:      envDuration("CONTEXT_TTL", 30*time.Second),
		ProposalTTL:     envDuration("PROPOSAL_TTL", 15*time.Minute),
		SweepInterval:   envDuration("SWEEP_INTERVAL", time.Minute),
		WatchdogWindow:  envDuration("WATCHDOG_WINDOW", time.Hour),
		ExecutorTimeout: envDuration("EXECUTOR_TIMEOUT", 10*time.Second),
		PublishPolicy:   publishPolicy,
		OTLPEndpoint:    os.Getenv("OTLP_ENDPOINT"),
		OTLPInsecure:    os.Getenv("OTLP_INSECURE") == "true",
	}
}

func envInt(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
