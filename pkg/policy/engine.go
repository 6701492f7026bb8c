package policy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"

	"github.com/greentic-ai/greentic-provision/pkg/provision"
)

// Engine compiles and evaluates op-schema conformance policies against a
// provision plan.
type Engine struct {
	mu              sync.RWMutex
	policies        map[string]*compiledPolicy
	logger          zerolog.Logger
	builtinPolicies []Policy
}

// compiledPolicy wraps a Policy with its compilation timestamp; the Rego
// module itself is parsed fresh on every query since PrepareForEval cannot
// be cached across arbitrary deny/warn queries without name collisions.
type compiledPolicy struct {
	policy   *Policy
	compiled time.Time
}

// NewEngine creates a policy engine pre-loaded with the built-in op-schema
// conformance policies.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies:        make(map[string]*compiledPolicy),
		logger:          logger.With().Str("component", "policy-engine").Logger(),
		builtinPolicies: GetBuiltinPolicies(),
	}
	if err := e.loadBuiltinPolicies(); err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}
	return e, nil
}

func (e *Engine) loadBuiltinPolicies() error {
	for i := range e.builtinPolicies {
		if err := e.storePolicy(&e.builtinPolicies[i]); err != nil {
			return fmt.Errorf("failed to compile built-in policy %s: %w", e.builtinPolicies[i].Name, err)
		}
	}
	e.logger.Info().Int("count", len(e.builtinPolicies)).Msg("built-in op-schema policies loaded")
	return nil
}

// storePolicy validates that a policy's Rego parses, then registers it.
func (e *Engine) storePolicy(policy *Policy) error {
	ctx := context.Background()
	if _, err := rego.New(
		rego.Module(policy.Name, policy.Rego),
		rego.Query("data"),
	).PrepareForEval(ctx); err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}

	e.policies[policy.Name] = &compiledPolicy{policy: policy, compiled: time.Now()}
	return nil
}

// LoadPolicies loads additional policies from disk on top of the built-ins.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	loader := NewLoader(e.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	for i := range policies {
		if err := e.storePolicy(&policies[i]); err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}

	e.logger.Info().Int("count", len(policies)).Msg("policies loaded")
	return nil
}

// Evaluate runs every enabled policy's deny and warn rule sets against a
// provision plan. Violations (deny) always block apply; warnings are
// opt-in via PolicyContext.Strict and never block apply on their own.
func (e *Engine) Evaluate(ctx context.Context, plan *provision.ProvisionPlan, pctx *PolicyContext) (*PolicyResult, error) {
	start := time.Now()

	e.mu.RLock()
	defer e.mu.RUnlock()

	if pctx == nil {
		pctx = &PolicyContext{}
	}
	if pctx.Timestamp.IsZero() {
		pctx.Timestamp = time.Now()
	}

	input := &PolicyInput{Plan: plan, Context: pctx}

	var violations, warnings []PolicyViolation
	evaluated := make([]string, 0, len(e.policies))

	for _, cp := range e.policies {
		if !cp.policy.Enabled {
			continue
		}
		evaluated = append(evaluated, cp.policy.Name)

		dv, err := e.evaluateSet(ctx, cp, input, "deny")
		if err != nil {
			e.logger.Error().Err(err).Str("policy", cp.policy.Name).Msg("deny rule evaluation failed")
			continue
		}
		violations = append(violations, dv...)

		wv, err := e.evaluateSet(ctx, cp, input, "warn")
		if err != nil {
			e.logger.Error().Err(err).Str("policy", cp.policy.Name).Msg("warn rule evaluation failed")
			continue
		}
		warnings = append(warnings, wv...)
	}

	result := &PolicyResult{
		Allowed:           len(violations) == 0,
		Violations:        violations,
		Warnings:          warnings,
		EvaluatedAt:       time.Now(),
		EvaluatedPolicies: evaluated,
		Duration:          time.Since(start),
	}

	e.logger.Debug().
		Int("violations", len(violations)).
		Int("warnings", len(warnings)).
		Dur("duration", result.Duration).
		Msg("op-schema conformance evaluated")

	return result, nil
}

// evaluateSet queries a single rule set ("deny" or "warn") within a policy's
// package and converts the resulting set of objects into PolicyViolations.
func (e *Engine) evaluateSet(ctx context.Context, cp *compiledPolicy, input *PolicyInput, set string) ([]PolicyViolation, error) {
	packageName := extractPackageName(cp.policy.Rego)
	query := fmt.Sprintf("data.%s.%s", packageName, set)

	r := rego.New(
		rego.Module(cp.policy.Name, cp.policy.Rego),
		rego.Query(query),
		rego.Input(input),
	)

	results, err := r.Eval(ctx)
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []PolicyViolation
	for _, result := range results {
		for _, expr := range result.Expressions {
			items, ok := expr.Value.([]interface{})
			if !ok {
				continue
			}
			for _, item := range items {
				violations = append(violations, e.toViolation(cp.policy, item))
			}
		}
	}
	return violations, nil
}

func (e *Engine) toViolation(policy *Policy, result interface{}) PolicyViolation {
	violation := PolicyViolation{
		Policy:     policy.Name,
		Severity:   policy.Severity,
		DetectedAt: time.Now(),
	}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok {
			violation.Severity = Severity(sev)
		}
		if op, ok := v["op"].(string); ok {
			violation.Op = op
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	return violation
}

// extractPackageName pulls the Rego package declaration out of a policy's
// source so queries can be addressed as data.<package>.<rule>.
func extractPackageName(regoSrc string) string {
	for _, line := range strings.Split(regoSrc, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			parts := strings.Fields(trimmed)
			if len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return "greentic.policies"
}

// GetPolicy returns a registered policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, ok := e.policies[name]
	if !ok {
		return nil, fmt.Errorf("policy not found: %s", name)
	}
	return cp.policy, nil
}

// ListPolicies returns all registered policies.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, cp := range e.policies {
		policies = append(policies, *cp.policy)
	}
	return policies
}

// ReloadPolicies drops all registered policies and reloads the built-ins.
func (e *Engine) ReloadPolicies(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.policies = make(map[string]*compiledPolicy)
	return e.loadBuiltinPolicies()
}

// EnablePolicy enables a registered policy by name.
func (e *Engine) EnablePolicy(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, ok := e.policies[name]
	if !ok {
		return fmt.Errorf("policy not found: %s", name)
	}
	cp.policy.Enabled = true
	return nil
}

// DisablePolicy disables a registered policy by name.
func (e *Engine) DisablePolicy(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, ok := e.policies[name]
	if !ok {
		return fmt.Errorf("policy not found: %s", name)
	}
	cp.policy.Enabled = false
	return nil
}
