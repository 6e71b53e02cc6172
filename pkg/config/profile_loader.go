package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// TenantProfile is a per-tenant operating profile: circuit-breaker
// bounds, dispatch rate bounds, and tier-escalation rules.
type TenantProfile struct {
	TenantID   string           `yaml:"tenant_id" json:"tenant_id"`
	Breaker    BreakerConfig    `yaml:"breaker" json:"breaker"`
	Rate       RateConfig       `yaml:"rate" json:"rate"`
	Escalation []EscalationRule `yaml:"escalation,omitempty" json:"escalation,omitempty"`
}

// BreakerConfig bounds the per-session failure circuit.
type BreakerConfig struct {
	Threshold       int `yaml:"threshold" json:"threshold"`
	WindowSeconds   int `yaml:"window_seconds" json:"window_seconds"`
	CooldownSeconds int `yaml:"cooldown_seconds" json:"cooldown_seconds"`
}

// RateConfig bounds per-session dispatch rate.
type RateConfig struct {
	PerSecond float64 `yaml:"per_second" json:"per_second"`
	Burst     int     `yaml:"burst" json:"burst"`
}

// EscalationRule is a CEL tier-escalation rule (see pkg/policy).
type EscalationRule struct {
	Name       string `yaml:"name" json:"name"`
	Tool       string `yaml:"tool,omitempty" json:"tool,omitempty"`
	Expression string `yaml:"expression" json:"expression"`
	MinTier    string `yaml:"min_tier" json:"min_tier"`
}

// LoadProfiles reads every *.yaml / *.yml profile in dir.
func LoadProfiles(dir string) ([]TenantProfile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile directory %s: %w", dir, err)
	}

	var profiles []TenantProfile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		profile, err := loadProfile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, *profile)
	}
	return profiles, nil
}

func loadProfile(path string) (*TenantProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile %s: %w", path, err)
	}

	var profile TenantProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("failed to parse profile %s: %w", path, err)
	}
	if profile.TenantID == "" {
		return nil, fmt.Errorf("profile %s: tenant_id is required", path)
	}
	for _, rule := range profile.Escalation {
		if rule.Expression == "" {
			return nil, fmt.Errorf("profile %s: escalation rule %q has no expression", path, rule.Name)
		}
		if rule.MinTier == "" {
			return nil, fmt.Errorf("profile %s: escalation rule %q has no min_tier", path, rule.Name)
		}
	}
	return &profile, nil
}
