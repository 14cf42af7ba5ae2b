package detector

import (
	"context"
	"math"

	"github.com/opensource-finance/harrier/internal/domain"
)

const (
	// roundAmountUnit is the smallest round unit that counts.
	roundAmountUnit = 100.0

	// roundAmountSaturation is the amount at which a round transaction
	// carries full weight.
	roundAmountSaturation = 10000.0
)

// RoundAmount scores the fraction of recent amounts that are exact multiples
// of a round unit, weighted by amount size: a round 10,000 weighs far more
// than a round 100.
type RoundAmount struct{}

// NewRoundAmount creates the round-amount scorer.
func NewRoundAmount() *RoundAmount {
	return &RoundAmount{}
}

func (r *RoundAmount) Name() string {
	return domain.DriverRoundAmount
}

func (r *RoundAmount) Score(_ context.Context, _ *domain.TransactionEvent, st *domain.EntityState) float64 {
	if len(st.LastAmounts) == 0 {
		return 0
	}
	var weighted float64
	for _, a := range st.LastAmounts {
		if isRound(a) {
			w := a / roundAmountSaturation
			if w > 1 {
				w = 1
			}
			weighted += w
		}
	}
	return clamp01(weighted / float64(len(st.LastAmounts)))
}

func isRound(amount float64) bool {
	if amount <= 0 {
		return false
	}
	rem := math.Mod(amount, roundAmountUnit)
	return rem < 1e-9 || roundAmountUnit-rem < 1e-9
}
