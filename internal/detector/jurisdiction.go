package detector

import (
	"context"
	"errors"
	"log/slog"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/metrics"
)

// Jurisdiction scores the counterparty's jurisdiction risk via the profile
// store. A failed or missing lookup fails open to 0 so bad reference data
// never escalates an entity on its own; outages are logged as a data-quality
// signal.
type Jurisdiction struct {
	resolver JurisdictionResolver
}

// NewJurisdiction creates the high-risk-jurisdiction scorer.
func NewJurisdiction(resolver JurisdictionResolver) *Jurisdiction {
	return &Jurisdiction{resolver: resolver}
}

func (j *Jurisdiction) Name() string {
	return domain.DriverJurisdiction
}

func (j *Jurisdiction) Score(ctx context.Context, ev *domain.TransactionEvent, st *domain.EntityState) float64 {
	if j.resolver == nil {
		return 0
	}
	counterparty := ev.Counterparty(st.EntityID)
	risk, err := j.resolver(ctx, counterparty)
	if err != nil {
		if errors.Is(err, domain.ErrLookupUnavailable) {
			metrics.LookupFailures.Inc()
			slog.Warn("jurisdiction lookup unavailable, failing open",
				"entity_id", counterparty,
				"error", err)
		}
		return 0
	}
	return clamp01(risk)
}
