package score

import (
	"context"
	"testing"

	"github.com/opensource-finance/harrier/internal/detector"
	"github.com/opensource-finance/harrier/internal/domain"
)

// fixedScorer returns a constant value for a named driver.
type fixedScorer struct {
	name  string
	value float64
}

func (f fixedScorer) Name() string { return f.name }
func (f fixedScorer) Score(context.Context, *domain.TransactionEvent, *domain.EntityState) float64 {
	return f.value
}

func TestWeightsValidate(t *testing.T) {
	if err := DefaultWeights().Validate(); err != nil {
		t.Fatalf("default weights invalid: %v", err)
	}

	bad := Weights{"a": 50, "b": 49}
	if err := bad.Validate(); err == nil {
		t.Error("Validate() = nil for weights summing to 99")
	}

	negative := Weights{"a": 110, "b": -10}
	if err := negative.Validate(); err == nil {
		t.Error("Validate() = nil for negative weight")
	}
}

func TestEvaluateComposite(t *testing.T) {
	scorers := []detector.Scorer{
		fixedScorer{domain.DriverVelocity, 1.0},
		fixedScorer{domain.DriverStructuring, 1.0},
		fixedScorer{domain.DriverJurisdiction, 0.0},
		fixedScorer{domain.DriverNewBeneficiary, 1.0},
		fixedScorer{domain.DriverRoundAmount, 0.0},
	}
	agg, err := NewAggregator(scorers, nil)
	if err != nil {
		t.Fatalf("NewAggregator() error = %v", err)
	}

	drivers, composite := agg.Evaluate(context.Background(), &domain.TransactionEvent{}, &domain.EntityState{})
	if composite != 65 {
		t.Errorf("composite = %v, want 65", composite)
	}
	if len(drivers) != 5 {
		t.Fatalf("drivers = %d, want 5", len(drivers))
	}
}

func TestEvaluateSortsWithTieBreak(t *testing.T) {
	// round_amount and velocity tie at 0.8; priority puts velocity first.
	scorers := []detector.Scorer{
		fixedScorer{domain.DriverRoundAmount, 0.8},
		fixedScorer{domain.DriverJurisdiction, 0.3},
		fixedScorer{domain.DriverVelocity, 0.8},
		fixedScorer{domain.DriverStructuring, 0.1},
		fixedScorer{domain.DriverNewBeneficiary, 0.3},
	}
	agg, err := NewAggregator(scorers, nil)
	if err != nil {
		t.Fatalf("NewAggregator() error = %v", err)
	}

	drivers, _ := agg.Evaluate(context.Background(), &domain.TransactionEvent{}, &domain.EntityState{})
	wantOrder := []string{
		domain.DriverVelocity,
		domain.DriverRoundAmount,
		domain.DriverJurisdiction,
		domain.DriverNewBeneficiary,
		domain.DriverStructuring,
	}
	for i, want := range wantOrder {
		if drivers[i].Name != want {
			t.Errorf("drivers[%d] = %s, want %s", i, drivers[i].Name, want)
		}
	}
}

func TestEvaluateClampsDrivers(t *testing.T) {
	scorers := []detector.Scorer{
		fixedScorer{domain.DriverVelocity, 3.5},
		fixedScorer{domain.DriverStructuring, -1},
	}
	agg, err := NewAggregator(scorers, Weights{domain.DriverVelocity: 60, domain.DriverStructuring: 40})
	if err != nil {
		t.Fatalf("NewAggregator() error = %v", err)
	}
	drivers, composite := agg.Evaluate(context.Background(), &domain.TransactionEvent{}, &domain.EntityState{})
	if drivers[0].Value != 1 || drivers[1].Value != 0 {
		t.Errorf("driver values = %v, want clamped to [0,1]", drivers)
	}
	if composite != 60 {
		t.Errorf("composite = %v, want 60", composite)
	}
}

func TestNewAggregatorRejectsEmpty(t *testing.T) {
	if _, err := NewAggregator(nil, nil); err == nil {
		t.Error("NewAggregator(nil) error = nil, want error")
	}
}
