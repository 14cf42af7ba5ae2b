package detector

import (
	"context"
	"math"

	"github.com/opensource-finance/harrier/internal/domain"
)

const (
	// reportingThreshold is the amount above which structuring stops making
	// sense as an evasion tactic.
	reportingThreshold = 10000.0

	// roundUnit is the round figure that structured amounts cluster beneath.
	roundUnit = 1000.0

	// proximityBand is how far below a round unit an amount may sit and
	// still count as "just below" it.
	proximityBand = 30.0
)

// Structuring detects repeated amounts kept just below round thousands under
// the reporting threshold. The score is the fraction of recent amounts
// matching the pattern.
type Structuring struct{}

// NewStructuring creates the structuring/smurfing scorer.
func NewStructuring() *Structuring {
	return &Structuring{}
}

func (s *Structuring) Name() string {
	return domain.DriverStructuring
}

func (s *Structuring) Score(_ context.Context, _ *domain.TransactionEvent, st *domain.EntityState) float64 {
	if len(st.LastAmounts) == 0 {
		return 0
	}
	matched := 0
	for _, a := range st.LastAmounts {
		if structured(a) {
			matched++
		}
	}
	return clamp01(float64(matched) / float64(len(st.LastAmounts)))
}

// structured reports whether an amount sits just below a round thousand.
// Exact multiples do not match; those belong to the round-amount signal.
func structured(amount float64) bool {
	if amount <= 0 || amount >= reportingThreshold {
		return false
	}
	gap := roundUnit - math.Mod(amount, roundUnit)
	return gap > 1e-9 && gap <= proximityBand
}
