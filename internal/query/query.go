// Package query exposes the read-only view of cases, graphs and pipeline
// health. All operations are safe for concurrent use alongside ingestion and
// never mutate engine state; callers may apply their own context timeouts
// without affecting the pipeline.
package query

import (
	"context"
	"fmt"

	"github.com/opensource-finance/harrier/internal/cases"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/state"
)

// PartitionStatus describes one partition's consumption lag.
type PartitionStatus struct {
	Partition int32 `json:"partition"`
	Low       int64 `json:"low"`
	High      int64 `json:"high"`
	Committed int64 `json:"committed"`
	Applied   int64 `json:"applied"`

	// Lag is the number of records between the applied position and the
	// high watermark.
	Lag int64 `json:"lag"`
}

// ProfileLookup resolves an entity profile. Wired to the profile service.
type ProfileLookup func(ctx context.Context, entityID string) (*domain.Profile, error)

// Service answers read-only queries for downstream consumers.
type Service struct {
	manager *cases.Manager
	store   *state.Store
	broker  domain.Broker
	topic   string
	group   string
	lookup  ProfileLookup
}

// NewService creates the query service. broker and lookup may be nil when the
// corresponding endpoints are not served.
func NewService(manager *cases.Manager, store *state.Store, broker domain.Broker, topic, group string, lookup ProfileLookup) *Service {
	return &Service{
		manager: manager,
		store:   store,
		broker:  broker,
		topic:   topic,
		group:   group,
		lookup:  lookup,
	}
}

// GetCase returns a case snapshot by id.
func (s *Service) GetCase(_ context.Context, caseID string) (*domain.Case, error) {
	return s.manager.GetCase(caseID)
}

// ListCases returns case snapshots filtered by optional status and level.
func (s *Service) ListCases(_ context.Context, status domain.CaseStatus, level domain.RiskLevel) []*domain.Case {
	return s.manager.ListCases(status, level)
}

// GetGraph returns a consistent snapshot of a case graph.
func (s *Service) GetGraph(_ context.Context, caseID string) (*domain.CaseGraph, error) {
	return s.manager.Graph(caseID)
}

// TopDrivers returns the case's strongest drivers, strongest first.
func (s *Service) TopDrivers(_ context.Context, caseID string, n int) ([]domain.RiskDriver, error) {
	return s.manager.TopDrivers(caseID, n)
}

// GetEntityState returns a snapshot of an entity's behavioral aggregates.
func (s *Service) GetEntityState(_ context.Context, entityID string) *domain.EntityState {
	return s.store.Get(entityID)
}

// GetProfile resolves an entity profile through the profile service.
func (s *Service) GetProfile(ctx context.Context, entityID string) (*domain.Profile, error) {
	if s.lookup == nil {
		return nil, domain.ErrProfileNotFound
	}
	return s.lookup(ctx, entityID)
}

// Partitions reports per-partition watermarks, commit positions and lag.
func (s *Service) Partitions(ctx context.Context) ([]PartitionStatus, error) {
	if s.broker == nil {
		return nil, fmt.Errorf("no broker configured: %w", domain.ErrBrokerUnavailable)
	}
	partitions, err := s.broker.ListPartitions(ctx, s.topic)
	if err != nil {
		return nil, fmt.Errorf("failed to list partitions: %w", err)
	}

	out := make([]PartitionStatus, 0, len(partitions))
	for _, p := range partitions {
		wm, err := s.broker.Watermarks(ctx, s.topic, p)
		if err != nil {
			return nil, fmt.Errorf("failed to read watermarks for partition %d: %w", p, err)
		}
		committed, err := s.broker.Committed(ctx, s.group, s.topic, p)
		if err != nil {
			return nil, fmt.Errorf("failed to read committed offset for partition %d: %w", p, err)
		}
		applied := s.store.LastApplied(p)
		lag := wm.High - 1 - applied
		if lag < 0 {
			lag = 0
		}
		out = append(out, PartitionStatus{
			Partition: p,
			Low:       wm.Low,
			High:      wm.High,
			Committed: committed,
			Applied:   applied,
			Lag:       lag,
		})
	}
	return out, nil
}
