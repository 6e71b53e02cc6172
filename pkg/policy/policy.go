// Package policy evaluates per-tenant tier-escalation rules written in
// CEL. A rule can only raise a tool's effective trust tier — never
// lower it — so tenant configuration cannot weaken the registry's
// baseline classification.
package policy

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/Harborlane-Labs/concierge/core/pkg/contracts"
)

// Rule raises a tool's effective tier to at least MinTier when its CEL
// expression evaluates true against the validated params.
type Rule struct {
	Name       string
	Tool       string // empty matches every tool
	Expression string // CEL over: tool (string), tenant (string), params (map)
	MinTier    contracts.TrustTier
}

type compiledRule struct {
	rule    Rule
	program cel.Program
}

// Engine holds compiled rules per tenant. Construct via NewEngine; no
// package-level instance exists.
type Engine struct {
	env   *cel.Env
	rules map[string][]compiledRule // tenantID → rules
}

// NewEngine creates an engine with the standard CEL environment.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("tool", cel.StringType),
		cel.Variable("tenant", cel.StringType),
		cel.Variable("params", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build policy environment: %w", err)
	}
	return &Engine{env: env, rules: make(map[string][]compiledRule)}, nil
}

// AddRule compiles and installs a rule for a tenant. Compile errors
// surface at configuration load, not at dispatch time.
func (e *Engine) AddRule(tenantID string, rule Rule) error {
	if !rule.MinTier.Valid() {
		return fmt.Errorf("policy rule %q: unknown tier %q", rule.Name, rule.MinTier)
	}
	ast, iss := e.env.Compile(rule.Expression)
	if iss != nil && iss.Err() != nil {
		return fmt.Errorf("policy rule %q: %w", rule.Name, iss.Err())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return fmt.Errorf("policy rule %q: %w", rule.Name, err)
	}
	e.rules[tenantID] = append(e.rules[tenantID], compiledRule{rule: rule, program: prg})
	return nil
}

// EffectiveTier returns the tier a dispatch must honor: the descriptor
// baseline raised by any matching rule. Evaluation errors skip the rule
// rather than fail the dispatch; a broken rule cannot block traffic,
// and it also cannot lower ceremony.
func (e *Engine) EffectiveTier(base contracts.TrustTier, tenantID, tool string, params map[string]any) contracts.TrustTier {
	effective := base
	for _, cr := range e.rules[tenantID] {
		if cr.rule.Tool != "" && cr.rule.Tool != tool {
			continue
		}
		out, _, err := cr.program.Eval(map[string]any{
			"tool":   tool,
			"tenant": tenantID,
			"params": params,
		})
		if err != nil || out != types.True {
			continue
		}
		effective = contracts.MaxTier(effective, cr.rule.MinTier)
	}
	return effective
}

// RuleCount reports how many rules a tenant has installed.
func (e *Engine) RuleCount(tenantID string) int {
	return len(e.rules[tenantID])
}
