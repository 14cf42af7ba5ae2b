package detector

import (
	"context"

	"github.com/opensource-finance/harrier/internal/domain"
)

// newEntityBaseline is the fixed prior expected window count for entities
// without history outside the current window.
const newEntityBaseline = 1.0

// Velocity scores the ratio of the current window's transaction count against
// the entity's historical baseline rate. The score is 0 at or below baseline
// and saturates at 1.0 once the window runs at three times baseline.
type Velocity struct{}

// NewVelocity creates the velocity scorer.
func NewVelocity() *Velocity {
	return &Velocity{}
}

func (v *Velocity) Name() string {
	return domain.DriverVelocity
}

func (v *Velocity) Score(_ context.Context, _ *domain.TransactionEvent, st *domain.EntityState) float64 {
	if st.WindowCount == 0 {
		return 0
	}

	baseline := newEntityBaseline
	if history := st.LifetimeCount - st.WindowCount; history > 0 {
		span := st.LastSeenStep - st.FirstSeenStep + 1
		if span < 1 {
			span = 1
		}
		baseline = float64(st.LifetimeCount) * float64(st.WindowSteps) / float64(span)
		if baseline < newEntityBaseline {
			baseline = newEntityBaseline
		}
	}

	ratio := float64(st.WindowCount) / baseline
	return clamp01((ratio - 1.0) / 2.0)
}
