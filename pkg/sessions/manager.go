// Package sessions keeps per-(tenant, session) working memory and
// failure-circuit state. Every entry is keyed by the pair — never a
// single shared object — so one misbehaving session can never degrade
// another session or another tenant.
package sessions

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Harborlane-Labs/concierge/core/pkg/contracts"
	"github.com/Harborlane-Labs/concierge/core/pkg/faults"
)

// Config bounds a session's failure circuit, request rate, and idle
// lifetime.
type Config struct {
	// FailureThreshold consecutive executor failures within
	// FailureWindow open the circuit for CoolDown.
	FailureThreshold int
	FailureWindow    time.Duration
	CoolDown         time.Duration
	// IdleTimeout evicts sessions with no activity, bounding memory.
	IdleTimeout time.Duration
	// RatePerSecond/RateBurst bound dispatch calls per session; zero
	// disables rate limiting.
	RatePerSecond float64
	RateBurst     int
}

// DefaultConfig mirrors the production defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		FailureWindow:    time.Minute,
		CoolDown:         30 * time.Second,
		IdleTimeout:      30 * time.Minute,
		RatePerSecond:    5,
		RateBurst:        10,
	}
}

type sessionKey struct {
	tenantID  string
	sessionID string
}

type sessionState struct {
	failures     int
	windowStart  time.Time
	openUntil    time.Time
	limiter      *rate.Limiter
	memory       map[string]any
	lastActivity time.Time
}

// Manager is the session isolation map. Construct one per process via
// NewManager; there is no package-level instance.
type Manager struct {
	mu        sync.RWMutex
	sessions  map[sessionKey]*sessionState
	cfg       Config
	overrides map[string]Config // tenantID → profile-supplied bounds
	clock     func() time.Time
}

// NewManager creates a manager with the given bounds.
func NewManager(cfg Config) *Manager {
	return &Manager{
		sessions:  make(map[sessionKey]*sessionState),
		cfg:       cfg,
		overrides: make(map[string]Config),
		clock:     time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (m *Manager) WithClock(clock func() time.Time) *Manager {
	m.clock = clock
	return m
}

// SetTenantConfig installs profile-supplied bounds for one tenant.
// Sessions created before the call keep their existing limiter; circuit
// bounds apply immediately.
func (m *Manager) SetTenantConfig(tenantID string, cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides[tenantID] = cfg
}

func (m *Manager) configFor(tenantID string) Config {
	if cfg, ok := m.overrides[tenantID]; ok {
		return cfg
	}
	return m.cfg
}

func (m *Manager) state(key sessionKey) *sessionState {
	if s, ok := m.sessions[key]; ok {
		return s
	}
	s := &sessionState{lastActivity: m.clock()}
	if cfg := m.configFor(key.tenantID); cfg.RatePerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RateBurst)
	}
	m.sessions[key] = s
	return s
}

// Gate checks whether the session may dispatch right now. An open
// circuit or an exhausted rate limit returns a retryable fault; other
// sessions and tenants are unaffected.
func (m *Manager) Gate(tenantID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	s := m.state(sessionKey{tenantID, sessionID})
	s.lastActivity = now

	if now.Before(s.openUntil) {
		return faults.Transient(
			fmt.Sprintf("this conversation is temporarily unavailable, try again in %s", s.openUntil.Sub(now).Round(time.Second)),
			nil,
		)
	}
	if s.limiter != nil && !s.limiter.Allow() {
		return faults.Transient("too many requests for this conversation, slow down a moment", nil)
	}
	return nil
}

// ReportSuccess resets the session's consecutive-failure count.
func (m *Manager) ReportSuccess(tenantID, sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.state(sessionKey{tenantID, sessionID})
	s.failures = 0
	s.windowStart = time.Time{}
	s.lastActivity = m.clock()
}

// ReportFailure records one executor failure. Crossing the threshold
// within the rolling window opens the circuit for the cool-down.
func (m *Manager) ReportFailure(tenantID, sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	cfg := m.configFor(tenantID)
	s := m.state(sessionKey{tenantID, sessionID})
	s.lastActivity = now

	if s.windowStart.IsZero() || now.Sub(s.windowStart) > cfg.FailureWindow {
		s.windowStart = now
		s.failures = 0
	}
	s.failures++
	if s.failures >= cfg.FailureThreshold {
		s.openUntil = now.Add(cfg.CoolDown)
		s.failures = 0
		s.windowStart = time.Time{}
	}
}

// Remember replaces the session's working memory wholesale. Replacement
// is always atomic, never an in-place merge.
func (m *Manager) Remember(tenantID, sessionID string, memory map[string]any) {
	clone := make(map[string]any, len(memory))
	for k, v := range memory {
		clone[k] = v
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state(sessionKey{tenantID, sessionID})
	s.memory = clone
	s.lastActivity = m.clock()
}

// Recall returns a copy of the session's working memory.
func (m *Manager) Recall(tenantID, sessionID string) map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[sessionKey{tenantID, sessionID}]
	if !ok || s.memory == nil {
		return nil
	}
	clone := make(map[string]any, len(s.memory))
	for k, v := range s.memory {
		clone[k] = v
	}
	return clone
}

// Snapshot returns a read-only view of one session, or nil if the
// session is unknown.
func (m *Manager) Snapshot(tenantID, sessionID string) *contracts.SessionSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[sessionKey{tenantID, sessionID}]
	if !ok {
		return nil
	}
	now := m.clock()
	snap := &contracts.SessionSnapshot{
		TenantID:            tenantID,
		SessionID:           sessionID,
		ConsecutiveFailures: s.failures,
		CircuitOpen:         now.Before(s.openUntil),
		LastActivityAt:      s.lastActivity,
	}
	if snap.CircuitOpen {
		snap.CircuitOpenUntil = s.openUntil
	}
	if s.memory != nil {
		snap.WorkingMemory = make(map[string]any, len(s.memory))
		for k, v := range s.memory {
			snap.WorkingMemory[k] = v
		}
	}
	return snap
}

// EvictIdle removes sessions idle past the threshold and returns how
// many were evicted.
func (m *Manager) EvictIdle() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	evicted := 0
	for key, s := range m.sessions {
		cutoff := now.Add(-m.configFor(key.tenantID).IdleTimeout)
		if s.lastActivity.Before(cutoff) {
			delete(m.sessions, key)
			evicted++
		}
	}
	return evicted
}

// Len reports how many sessions are currently tracked.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
