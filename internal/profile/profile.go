// Package profile serves read-only entity profiles with cache-through
// lookups against the relational store.
package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/harrier/internal/detector"
	"github.com/opensource-finance/harrier/internal/domain"
)

// defaultTTL is how long profiles stay cached. Profiles are near-static
// reference data, so a generous TTL is fine.
const defaultTTL = 10 * time.Minute

// jurisdictionRisk is the static risk table keyed by jurisdiction code.
// Codes not listed score 0.
var jurisdictionRisk = map[string]float64{
	"IR": 1.0,
	"KP": 1.0,
	"MM": 0.9,
	"KY": 0.9,
	"PA": 0.8,
	"VG": 0.8,
	"AE": 0.6,
	"CY": 0.5,
	"MT": 0.4,
}

// RiskForJurisdiction returns the static table risk for a jurisdiction code.
func RiskForJurisdiction(code string) float64 {
	return jurisdictionRisk[code]
}

// Service resolves entity profiles, checking the cache before the store.
// Lookup outages are reported as errors wrapping domain.ErrLookupUnavailable
// so detectors can fail open.
type Service struct {
	store domain.ProfileStore
	cache domain.Cache
	ttl   time.Duration
	log   *slog.Logger
}

// NewService creates the profile service. cache may be nil.
func NewService(store domain.ProfileStore, cache domain.Cache) *Service {
	return &Service{
		store: store,
		cache: cache,
		ttl:   defaultTTL,
		log:   slog.Default(),
	}
}

// GetProfile resolves a profile. A missing record returns
// domain.ErrProfileNotFound; a store outage wraps domain.ErrLookupUnavailable.
func (s *Service) GetProfile(ctx context.Context, entityID string) (*domain.Profile, error) {
	if entityID == "" {
		return nil, domain.ErrProfileNotFound
	}

	if s.cache != nil {
		if p, err := s.cache.GetProfile(ctx, entityID); err == nil && p != nil {
			return p, nil
		}
	}

	if s.store == nil {
		return nil, fmt.Errorf("no profile store configured: %w", domain.ErrLookupUnavailable)
	}

	p, err := s.store.GetProfile(ctx, entityID)
	if err != nil {
		if errors.Is(err, domain.ErrProfileNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("profile store lookup for %s failed: %w: %w", entityID, domain.ErrLookupUnavailable, err)
	}

	// Fill in the jurisdiction risk from the static table when the stored
	// record carries only the code.
	if p.JurisdictionRisk == 0 && p.Jurisdiction != "" {
		p.JurisdictionRisk = RiskForJurisdiction(p.Jurisdiction)
	}

	if s.cache != nil {
		if err := s.cache.SetProfile(ctx, entityID, p, s.ttl); err != nil {
			s.log.Warn("failed to cache profile", "entity_id", entityID, "error", err)
		}
	}
	return p, nil
}

// Resolver adapts the service to the detectors' jurisdiction lookup shape.
// A missing profile resolves to risk 0 without error; outages propagate so
// the detector can log the data-quality signal.
func (s *Service) Resolver() detector.JurisdictionResolver {
	return func(ctx context.Context, entityID string) (float64, error) {
		p, err := s.GetProfile(ctx, entityID)
		if err != nil {
			if errors.Is(err, domain.ErrProfileNotFound) {
				return 0, nil
			}
			return 0, err
		}
		return p.JurisdictionRisk, nil
	}
}

// Ping checks the backing store.
func (s *Service) Ping(ctx context.Context) error {
	if s.store == nil {
		return fmt.Errorf("no profile store configured")
	}
	return s.store.Ping(ctx)
}
