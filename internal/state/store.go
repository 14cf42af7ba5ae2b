// Package state maintains per-entity behavioral aggregates for the
// streaming pipeline. One writer per entity; reads get copies.
package state

import (
	"errors"
	"sync"

	"github.com/opensource-finance/harrier/internal/domain"
)

// stepBucket aggregates the activity of a single logical step.
type stepBucket struct {
	count   int64
	total   float64
	parties map[string]bool
}

// entityState is the mutable, internal representation. Only the store
// touches it, always under its mutex.
type entityState struct {
	mu sync.Mutex

	id        string
	firstSeen int
	lastSeen  int

	lifetimeCount int64
	lifetimeTotal float64

	buckets    map[int]*stepBucket
	partyFirst map[string]int
	ring       []float64

	// halted is set when a state invariant is violated; further events for
	// this entity are rejected until an operator intervenes.
	halted bool
}

// Store owns all entity states and the per-partition replay watermarks.
type Store struct {
	windowSteps int

	mu       sync.RWMutex
	entities map[string]*entityState

	appliedMu sync.Mutex
	applied   map[int32]int64
}

// NewStore creates a state store with the given rolling window length.
func NewStore(windowSteps int) *Store {
	if windowSteps <= 0 {
		windowSteps = domain.DefaultWindowSteps
	}
	return &Store{
		windowSteps: windowSteps,
		entities:    make(map[string]*entityState),
		applied:     make(map[int32]int64),
	}
}

// Apply folds one event into the states of both parties. Each side is an
// independent single-entity transition: corruption on one side halts that
// entity alone, the other side still applies. The returned snapshots are nil
// for a halted side. A replayed event (offset at or below the partition's
// applied watermark) mutates nothing and returns fresh=false.
func (s *Store) Apply(ev *domain.TransactionEvent) (origin, dest *domain.EntityState, fresh bool, err error) {
	s.appliedMu.Lock()
	watermark, seen := s.applied[ev.Partition]
	s.appliedMu.Unlock()
	if seen && ev.Offset <= watermark {
		return s.Get(ev.OriginID), s.Get(ev.DestID), false, nil
	}

	amount, _ := ev.Amount.Float64()

	var origErr, destErr error
	origin, origErr = s.fold(ev.OriginID, ev.Step, amount, ev.DestID)
	dest, destErr = s.fold(ev.DestID, ev.Step, amount, ev.OriginID)

	// The watermark moves only once both per-entity outcomes are settled.
	// A halt is a settled outcome, so replays of this offset stay no-ops.
	s.appliedMu.Lock()
	s.applied[ev.Partition] = ev.Offset
	s.appliedMu.Unlock()

	return origin, dest, true, errors.Join(origErr, destErr)
}

// Get returns a snapshot of an entity's state, or an empty state for an
// entity that has never appeared.
func (s *Store) Get(entityID string) *domain.EntityState {
	s.mu.RLock()
	es := s.entities[entityID]
	s.mu.RUnlock()
	if es == nil {
		return &domain.EntityState{
			EntityID:       entityID,
			WindowSteps:    s.windowSteps,
			PartyFirstSeen: map[string]int{},
			WindowParties:  map[string]bool{},
		}
	}
	es.mu.Lock()
	defer es.mu.Unlock()
	return es.snapshot(s.windowSteps)
}

// LastApplied returns the highest applied offset for a partition,
// or -1 when the partition has not been seen.
func (s *Store) LastApplied(partition int32) int64 {
	s.appliedMu.Lock()
	defer s.appliedMu.Unlock()
	if off, ok := s.applied[partition]; ok {
		return off
	}
	return -1
}

// Halted reports whether processing is halted for an entity.
func (s *Store) Halted(entityID string) bool {
	s.mu.RLock()
	es := s.entities[entityID]
	s.mu.RUnlock()
	if es == nil {
		return false
	}
	es.mu.Lock()
	defer es.mu.Unlock()
	return es.halted
}

func (s *Store) fold(entityID string, step int, amount float64, counterparty string) (*domain.EntityState, error) {
	es := s.entity(entityID)
	es.mu.Lock()
	defer es.mu.Unlock()

	if es.halted {
		return nil, &domain.StateCorruptionError{EntityID: entityID, Reason: "entity halted after prior corruption"}
	}

	if es.lifetimeCount == 0 {
		es.firstSeen = step
		es.lastSeen = step
	}
	if step > es.lastSeen {
		es.lastSeen = step
	}
	if step < es.firstSeen {
		es.firstSeen = step
	}

	es.lifetimeCount++
	es.lifetimeTotal += amount

	b := es.buckets[step]
	if b == nil {
		b = &stepBucket{parties: make(map[string]bool)}
		es.buckets[step] = b
	}
	b.count++
	b.total += amount
	b.parties[counterparty] = true

	if _, ok := es.partyFirst[counterparty]; !ok {
		es.partyFirst[counterparty] = step
	}

	es.ring = append(es.ring, amount)
	if len(es.ring) > domain.AmountRingSize {
		es.ring = es.ring[len(es.ring)-domain.AmountRingSize:]
	}

	es.prune(s.windowSteps)

	if err := es.check(); err != nil {
		es.halted = true
		return nil, err
	}
	return es.snapshot(s.windowSteps), nil
}

func (s *Store) entity(entityID string) *entityState {
	s.mu.RLock()
	es := s.entities[entityID]
	s.mu.RUnlock()
	if es != nil {
		return es
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if es = s.entities[entityID]; es != nil {
		return es
	}
	es = &entityState{
		id:         entityID,
		buckets:    make(map[int]*stepBucket),
		partyFirst: make(map[string]int),
	}
	s.entities[entityID] = es
	return es
}

// prune drops step buckets that have fallen out of the rolling window.
func (es *entityState) prune(windowSteps int) {
	start := es.lastSeen - windowSteps + 1
	for step := range es.buckets {
		if step < start {
			delete(es.buckets, step)
		}
	}
}

// check validates the state invariants after an update.
func (es *entityState) check() error {
	if es.lifetimeCount < 0 {
		return &domain.StateCorruptionError{EntityID: es.id, Reason: "negative lifetime count"}
	}
	for step, b := range es.buckets {
		if b.count < 0 || b.total < 0 {
			return &domain.StateCorruptionError{EntityID: es.id, Reason: "negative window aggregate"}
		}
		if step > es.lastSeen {
			return &domain.StateCorruptionError{EntityID: es.id, Reason: "bucket beyond last seen step"}
		}
	}
	if len(es.ring) > domain.AmountRingSize {
		return &domain.StateCorruptionError{EntityID: es.id, Reason: "amount ring overflow"}
	}
	return nil
}

// snapshot builds the read-only view. Caller holds es.mu.
func (es *entityState) snapshot(windowSteps int) *domain.EntityState {
	snap := &domain.EntityState{
		EntityID:       es.id,
		WindowSteps:    windowSteps,
		FirstSeenStep:  es.firstSeen,
		LastSeenStep:   es.lastSeen,
		LifetimeCount:  es.lifetimeCount,
		LifetimeTotal:  es.lifetimeTotal,
		PartyFirstSeen: make(map[string]int, len(es.partyFirst)),
		WindowParties:  make(map[string]bool),
		LastAmounts:    append([]float64(nil), es.ring...),
	}
	for p, step := range es.partyFirst {
		snap.PartyFirstSeen[p] = step
	}
	for _, b := range es.buckets {
		snap.WindowCount += b.count
		snap.WindowTotal += b.total
		for p := range b.parties {
			snap.WindowParties[p] = true
		}
	}
	return snap
}
