package detector

import (
	"context"

	"github.com/opensource-finance/harrier/internal/domain"
)

// NewBeneficiary scores the fraction of this window's distinct counterparties
// that were never seen before the window started.
type NewBeneficiary struct{}

// NewNewBeneficiary creates the new-beneficiary scorer.
func NewNewBeneficiary() *NewBeneficiary {
	return &NewBeneficiary{}
}

func (n *NewBeneficiary) Name() string {
	return domain.DriverNewBeneficiary
}

func (n *NewBeneficiary) Score(_ context.Context, _ *domain.TransactionEvent, st *domain.EntityState) float64 {
	if len(st.WindowParties) == 0 {
		return 0
	}
	windowStart := st.WindowStart()
	fresh := 0
	for party := range st.WindowParties {
		if first, ok := st.PartyFirstSeen[party]; ok && first >= windowStart {
			fresh++
		}
	}
	return clamp01(float64(fresh) / float64(len(st.WindowParties)))
}
