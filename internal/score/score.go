// Package score combines detector outputs into a composite risk score.
package score

import (
	"context"
	"fmt"

	"github.com/opensource-finance/harrier/internal/detector"
	"github.com/opensource-finance/harrier/internal/domain"
)

// Weights assigns each driver its share of the composite score.
// Weights must sum to exactly 100 so the composite lands in [0,100].
type Weights map[string]float64

// DefaultWeights returns the documented default weighting.
func DefaultWeights() Weights {
	return Weights{
		domain.DriverVelocity:       25,
		domain.DriverStructuring:    25,
		domain.DriverJurisdiction:   20,
		domain.DriverNewBeneficiary: 15,
		domain.DriverRoundAmount:    15,
	}
}

// Validate checks that every weight is non-negative and the sum is 100.
func (w Weights) Validate() error {
	var sum float64
	for name, weight := range w {
		if weight < 0 {
			return fmt.Errorf("weight for %q is negative: %v", name, weight)
		}
		sum += weight
	}
	if sum != 100 {
		return fmt.Errorf("weights sum to %v, must sum to 100", sum)
	}
	return nil
}

// Aggregator runs an ordered list of scorers and folds their outputs into a
// composite score. Scorers are injected at construction time.
type Aggregator struct {
	scorers []detector.Scorer
	weights Weights
}

// NewAggregator creates an aggregator over the given scorers.
func NewAggregator(scorers []detector.Scorer, weights Weights) (*Aggregator, error) {
	if len(scorers) == 0 {
		return nil, fmt.Errorf("at least one scorer is required")
	}
	if weights == nil {
		weights = DefaultWeights()
	}
	if err := weights.Validate(); err != nil {
		return nil, fmt.Errorf("invalid weights: %w", err)
	}
	return &Aggregator{scorers: scorers, weights: weights}, nil
}

// Evaluate scores every driver for the event's origin-side state and returns
// the drivers sorted descending plus the weighted composite in [0,100].
func (a *Aggregator) Evaluate(ctx context.Context, ev *domain.TransactionEvent, st *domain.EntityState) ([]domain.RiskDriver, float64) {
	drivers := make([]domain.RiskDriver, 0, len(a.scorers))
	var composite float64
	for _, s := range a.scorers {
		value := s.Score(ctx, ev, st)
		if value < 0 {
			value = 0
		}
		if value > 1 {
			value = 1
		}
		drivers = append(drivers, domain.RiskDriver{Name: s.Name(), Value: value})
		composite += value * a.weights[s.Name()]
	}
	if composite > 100 {
		composite = 100
	}
	domain.SortDrivers(drivers)
	return drivers, composite
}
