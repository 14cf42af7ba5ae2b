// Package policy provides the CEL-based case promotion policy.
//
// The numeric promotion thresholds are documented defaults, not fixed law:
// operators override them by supplying their own CEL expression.
package policy

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/harrier/internal/domain"
)

// DefaultExpression opens a case once the composite crosses the HIGH threshold.
const DefaultExpression = "composite >= 70.0"

// Promotion decides whether an evaluation result opens (or escalates) a case.
// The expression sees the composite score, the derived risk level, the
// triggering amount and type, and the individual driver values.
type Promotion struct {
	mu      sync.RWMutex
	env     *cel.Env
	program cel.Program
	expr    string
	levels  domain.Thresholds
}

// Option configures a Promotion.
type Option func(*Promotion)

// WithThresholds overrides the banding behind the "level" variable.
func WithThresholds(t domain.Thresholds) Option {
	return func(p *Promotion) { p.levels = t }
}

// NewPromotion compiles a promotion policy. An empty expression selects the
// default policy.
func NewPromotion(expression string, opts ...Option) (*Promotion, error) {
	if expression == "" {
		expression = DefaultExpression
	}

	env, err := cel.NewEnv(
		cel.Variable("composite", cel.DoubleType),
		cel.Variable("level", cel.StringType),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("tx_type", cel.StringType),
		cel.Variable("drivers", cel.MapType(cel.StringType, cel.DoubleType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	p := &Promotion{env: env, levels: domain.DefaultThresholds()}
	for _, opt := range opts {
		opt(p)
	}
	if err := p.Reload(expression); err != nil {
		return nil, err
	}
	return p, nil
}

// Reload compiles and swaps in a new policy expression. The old policy stays
// active if compilation fails.
func (p *Promotion) Reload(expression string) error {
	program, err := p.compile(expression)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.program = program
	p.expr = expression
	p.mu.Unlock()
	return nil
}

// Expression returns the currently loaded policy expression.
func (p *Promotion) Expression() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.expr
}

// Promote evaluates the policy for one scored event. Evaluation errors fail
// closed: a broken policy must not open cases.
func (p *Promotion) Promote(composite float64, drivers []domain.RiskDriver, ev *domain.TransactionEvent) (bool, error) {
	driverMap := make(map[string]float64, len(drivers))
	for _, d := range drivers {
		driverMap[d.Name] = d.Value
	}
	amount, _ := ev.Amount.Float64()

	activation := map[string]any{
		"composite": composite,
		"level":     string(p.levels.Level(composite)),
		"amount":    amount,
		"tx_type":   string(ev.Type),
		"drivers":   driverMap,
	}

	p.mu.RLock()
	program := p.program
	p.mu.RUnlock()

	out, _, err := program.Eval(activation)
	if err != nil {
		return false, fmt.Errorf("policy evaluation failed: %w", err)
	}
	verdict, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("policy returned %T, want bool", out)
	}
	return bool(verdict), nil
}

func (p *Promotion) compile(expression string) (cel.Program, error) {
	ast, issues := p.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile policy: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("policy expression must return bool, got %s", ast.OutputType())
	}
	program, err := p.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create policy program: %w", err)
	}
	return program, nil
}
