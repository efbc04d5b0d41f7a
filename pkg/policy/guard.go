package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"

	"github.com/robocore/robocore/pkg/motion"
	"github.com/robocore/robocore/pkg/telemetry"
)

// Guard evaluates Rego policies against motion requests. It implements
// motion.Guard.
type Guard struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	logger   zerolog.Logger
	metrics  *telemetry.Metrics
	robot    string
	now      func() time.Time
	loader   *Loader
	delay    time.Duration
}

// compiledPolicy represents a compiled Rego policy.
type compiledPolicy struct {
	policy   *Policy
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// Option configures a Guard.
type Option func(*Guard)

// WithMetrics counts denials per policy.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(g *Guard) { g.metrics = m }
}

// WithRobot sets the robot name passed to policies as input.context.robot.
func WithRobot(name string) Option {
	return func(g *Guard) { g.robot = name }
}

// WithReloadDelay sets the debounce used by Watch.
func WithReloadDelay(d time.Duration) Option {
	return func(g *Guard) { g.delay = d }
}

// NewGuard creates a guard loaded with the built-in policies.
func NewGuard(logger zerolog.Logger, opts ...Option) (*Guard, error) {
	g := &Guard{
		policies: make(map[string]*compiledPolicy),
		logger:   logger.With().Str("component", "policy-guard").Logger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.loader = NewLoader(g.logger)
	if g.delay > 0 {
		g.loader.SetReloadDelay(g.delay)
	}

	ctx := context.Background()
	for _, p := range BuiltinPolicies() {
		p := p
		if err := g.compileAndStore(ctx, &p); err != nil {
			return nil, fmt.Errorf("failed to compile built-in policy %s: %w", p.Name, err)
		}
	}

	g.logger.Debug().Int("count", len(g.policies)).Msg("Built-in policies loaded")
	return g, nil
}

// Allow implements motion.Guard. A request is denied when any enabled
// policy reports an error or critical violation, or when evaluation
// itself fails.
func (g *Guard) Allow(ctx context.Context, in motion.Intent) error {
	decision, err := g.Evaluate(ctx, in)
	if err != nil {
		return err
	}

	for _, w := range decision.Warnings {
		g.logger.Warn().
			Str("policy", w.Policy).
			Str("opmode", in.OpMode).
			Msg(w.Message)
	}
	if decision.Allowed {
		return nil
	}

	for _, v := range decision.Violations {
		g.metrics.RecordPolicyDenial(v.Policy)
		g.logger.Warn().
			Str("policy", v.Policy).
			Str("opmode", in.OpMode).
			Str("kind", string(in.Kind)).
			Msg(v.Message)
	}
	return &DeniedError{Violations: decision.Violations}
}

// Evaluate runs every enabled policy against in.
func (g *Guard) Evaluate(ctx context.Context, in motion.Intent) (*Decision, error) {
	start := g.now()
	input := Input{
		Motion:  in,
		Context: InputContext{Timestamp: start, Robot: g.robot},
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	decision := &Decision{Allowed: true, EvaluatedAt: start}
	for _, name := range g.sortedNames() {
		cp := g.policies[name]
		if !cp.policy.Enabled {
			continue
		}
		decision.Evaluated = append(decision.Evaluated, name)

		violations, err := g.evaluatePolicy(ctx, cp, input)
		if err != nil {
			return nil, fmt.Errorf("policy %s: %w", name, err)
		}
		for _, v := range violations {
			if v.Severity.Blocks() {
				decision.Allowed = false
				decision.Violations = append(decision.Violations, v)
			} else {
				decision.Warnings = append(decision.Warnings, v)
			}
		}
	}

	decision.Duration = g.now().Sub(start)
	return decision, nil
}

// evaluatePolicy evaluates a single compiled policy.
func (g *Guard) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input Input) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, newViolation(cp.policy, d))
		}
	}
	return violations, nil
}

// newViolation creates a Violation from one element of a deny set.
func newViolation(policy *Policy, result interface{}) Violation {
	v := Violation{
		Policy:   policy.Name,
		Severity: policy.Severity,
	}

	switch r := result.(type) {
	case string:
		v.Message = r
	case map[string]interface{}:
		if msg, ok := r["message"].(string); ok {
			v.Message = msg
		}
		if sev, ok := r["severity"].(string); ok {
			v.Severity = Severity(sev)
		}
	default:
		v.Message = fmt.Sprintf("%v", result)
	}
	return v
}

// compileAndStore compiles a policy and stores it. Caller holds mu or
// owns g exclusively.
func (g *Guard) compileAndStore(ctx context.Context, policy *Policy) error {
	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}

	query, err := rego.New(
		rego.Module(policy.Name, policy.Rego),
		rego.Query(module.Package.Path.String()+".deny"),
	).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare query: %w", err)
	}

	if policy.UpdatedAt.IsZero() {
		policy.UpdatedAt = g.now()
	}
	g.policies[policy.Name] = &compiledPolicy{
		policy:   policy,
		query:    query,
		compiled: g.now(),
	}

	g.logger.Debug().Str("policy", policy.Name).Msg("Policy compiled")
	return nil
}

// LoadPolicies loads .rego and .json policies from files or directories.
func (g *Guard) LoadPolicies(ctx context.Context, paths []string) error {
	policies, err := g.loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}
	return g.Replace(ctx, policies)
}

// Replace swaps every non-builtin policy for the given set. Nothing
// changes if any of them fails to compile.
func (g *Guard) Replace(ctx context.Context, policies []Policy) error {
	staged := &Guard{policies: make(map[string]*compiledPolicy), logger: g.logger, now: g.now}
	for i := range policies {
		p := policies[i]
		p.Builtin = false
		if err := staged.compileAndStore(ctx, &p); err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", p.Name, err)
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	for name := range staged.policies {
		if existing, ok := g.policies[name]; ok && existing.policy.Builtin {
			return fmt.Errorf("policy %s shadows a built-in policy", name)
		}
	}
	for name, cp := range g.policies {
		if !cp.policy.Builtin {
			delete(g.policies, name)
		}
	}
	for name, cp := range staged.policies {
		g.policies[name] = cp
	}

	g.logger.Info().Int("count", len(staged.policies)).Msg("Policies loaded")
	return nil
}

// Watch reloads the policies under paths whenever a file changes, until
// ctx is done.
func (g *Guard) Watch(ctx context.Context, paths []string) error {
	return g.loader.Watch(ctx, paths, func(policies []Policy) error {
		return g.Replace(ctx, policies)
	})
}

// GetPolicy returns a policy by name.
func (g *Guard) GetPolicy(name string) (*Policy, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	cp, exists := g.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}
	p := *cp.policy
	return &p, nil
}

// ListPolicies returns all loaded policies sorted by name.
func (g *Guard) ListPolicies() []Policy {
	g.mu.RLock()
	defer g.mu.RUnlock()

	policies := make([]Policy, 0, len(g.policies))
	for _, name := range g.sortedNames() {
		policies = append(policies, *g.policies[name].policy)
	}
	return policies
}

// EnablePolicy enables a policy by name.
func (g *Guard) EnablePolicy(name string) error {
	return g.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (g *Guard) DisablePolicy(name string) error {
	return g.setEnabled(name, false)
}

func (g *Guard) setEnabled(name string, enabled bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	cp, exists := g.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}
	cp.policy.Enabled = enabled
	g.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy toggled")
	return nil
}

func (g *Guard) sortedNames() []string {
	names := make([]string, 0, len(g.policies))
	for name := range g.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
