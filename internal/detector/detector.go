// Package detector implements the five risk signal scorers.
//
// Each scorer is a pure function of (entity state, event) emitting a value in
// [0,1]. Scorers are order-independent and side-effect-free; recomputing them
// for the same input is deterministic. They are wired into the aggregator as
// an explicit ordered list, never through a global registry.
package detector

import (
	"context"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Scorer produces one named risk-driver score for the origin entity of an event.
type Scorer interface {
	// Name returns the driver name this scorer emits.
	Name() string

	// Score computes the driver value in [0,1] from the entity's current
	// state and the triggering event.
	Score(ctx context.Context, ev *domain.TransactionEvent, st *domain.EntityState) float64
}

// JurisdictionResolver looks up the jurisdiction risk in [0,1] for an entity.
// Implementations wrap domain.ErrLookupUnavailable on outages.
type JurisdictionResolver func(ctx context.Context, entityID string) (float64, error)

// DefaultScorers returns the five scorers in their fixed priority order.
func DefaultScorers(resolver JurisdictionResolver) []Scorer {
	return []Scorer{
		NewVelocity(),
		NewStructuring(),
		NewJurisdiction(resolver),
		NewNewBeneficiary(),
		NewRoundAmount(),
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
