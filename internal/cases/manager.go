// Package cases manages case lifecycle and the bounded case graphs.
package cases

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/harrier/internal/domain"
)

// caseSeqBase keeps generated case numbers in a 4-digit range, matching the
// AML-<year>-<number> convention of exported case files.
const caseSeqBase = 1000

type edgeKey struct {
	from string
	to   string
}

// record is the mutable internal form of one case plus its graph.
// All access goes through the manager's lock.
type record struct {
	c     *domain.Case
	nodes map[string]int // entity id -> hop distance from root
	edges map[edgeKey]*domain.GraphEdge
}

// Manager owns all cases. Mutations bump the case version; readers always get
// copies, so a snapshot reflects either the pre- or post-update state of a
// mutation, never a torn one.
type Manager struct {
	mu        sync.RWMutex
	cases     map[string]*record
	activeFor map[string]string // entity id -> case id for OPEN / IN_REVIEW cases

	hopRadius int
	levels    domain.Thresholds
	seq       int
	now       func() time.Time

	// repo persists case records when configured; the hot path tolerates
	// persistence failures and nil repositories.
	repo domain.Repository
	log  *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithRepository enables case persistence.
func WithRepository(repo domain.Repository) Option {
	return func(m *Manager) { m.repo = repo }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithThresholds overrides the risk-level banding.
func WithThresholds(t domain.Thresholds) Option {
	return func(m *Manager) { m.levels = t }
}

// NewManager creates a case manager with the given graph hop radius.
func NewManager(hopRadius int, opts ...Option) *Manager {
	if hopRadius <= 0 {
		hopRadius = domain.DefaultHopRadius
	}
	m := &Manager{
		cases:     make(map[string]*record),
		activeFor: make(map[string]string),
		hopRadius: hopRadius,
		levels:    domain.DefaultThresholds(),
		now:       time.Now,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ActiveCase returns a copy of the entity's OPEN or IN_REVIEW case, if any.
func (m *Manager) ActiveCase(entityID string) (*domain.Case, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.activeFor[entityID]
	if !ok {
		return nil, false
	}
	return copyCase(m.cases[id].c), true
}

// OpenCase opens a case rooted at the entity, or returns the existing active
// case with its score refreshed. A CLOSED case is never reopened; a new case
// is created instead.
func (m *Manager) OpenCase(ctx context.Context, entityID string, composite float64, drivers []domain.RiskDriver) (*domain.Case, bool) {
	m.mu.Lock()

	if id, ok := m.activeFor[entityID]; ok {
		rec := m.cases[id]
		m.refresh(rec, composite, drivers)
		c := copyCase(rec.c)
		m.mu.Unlock()
		m.persist(ctx, c)
		return c, false
	}

	m.seq++
	now := m.now()
	c := &domain.Case{
		ID:        fmt.Sprintf("AML-%d-%d", now.Year(), caseSeqBase+m.seq),
		EntityID:  entityID,
		RiskScore: composite,
		RiskLevel: m.levels.Level(composite),
		Status:    domain.CaseOpen,
		Drivers:   copyDrivers(drivers),
		OpenedAt:  now,
		UpdatedAt: now,
		Version:   1,
	}
	rec := &record{
		c:     c,
		nodes: map[string]int{entityID: 0},
		edges: make(map[edgeKey]*domain.GraphEdge),
	}
	m.cases[c.ID] = rec
	m.activeFor[entityID] = c.ID

	snap := copyCase(c)
	m.mu.Unlock()

	m.log.Info("case opened",
		"case_id", snap.ID,
		"entity_id", entityID,
		"risk_score", composite,
		"risk_level", snap.RiskLevel)
	m.persist(ctx, snap)
	return snap, true
}

// UpdateScore recomputes the score and drivers on the entity's active case.
// CLOSED cases are never touched. Returns the updated case, or nil when the
// entity has no active case.
func (m *Manager) UpdateScore(ctx context.Context, entityID string, composite float64, drivers []domain.RiskDriver) *domain.Case {
	m.mu.Lock()
	id, ok := m.activeFor[entityID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	rec := m.cases[id]
	m.refresh(rec, composite, drivers)
	snap := copyCase(rec.c)
	m.mu.Unlock()

	m.persist(ctx, snap)
	return snap
}

// Transition moves a case through OPEN -> IN_REVIEW -> CLOSED. Closing a case
// detaches it from its entity; after that the record is immutable.
func (m *Manager) Transition(ctx context.Context, caseID string, to domain.CaseStatus) (*domain.Case, error) {
	m.mu.Lock()
	rec, ok := m.cases[caseID]
	if !ok {
		m.mu.Unlock()
		return nil, domain.ErrCaseNotFound
	}

	from := rec.c.Status
	if from == domain.CaseClosed {
		m.mu.Unlock()
		return nil, domain.ErrCaseClosed
	}
	if !validTransition(from, to) {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
	}

	rec.c.Status = to
	rec.c.UpdatedAt = m.now()
	rec.c.Version++
	if to == domain.CaseClosed {
		delete(m.activeFor, rec.c.EntityID)
	}
	snap := copyCase(rec.c)
	m.mu.Unlock()

	m.log.Info("case transitioned",
		"case_id", caseID,
		"from", from,
		"to", to)
	m.persist(ctx, snap)
	return snap, nil
}

// Reopen returns a CLOSED case to review. Allowed only while its entity has
// not accumulated a newer active case; otherwise the investigator works the
// new case instead.
func (m *Manager) Reopen(ctx context.Context, caseID string) (*domain.Case, error) {
	m.mu.Lock()
	rec, ok := m.cases[caseID]
	if !ok {
		m.mu.Unlock()
		return nil, domain.ErrCaseNotFound
	}
	if rec.c.Status != domain.CaseClosed {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, rec.c.Status, domain.CaseInReview)
	}
	if activeID, busy := m.activeFor[rec.c.EntityID]; busy {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: entity %s already has active case %s", domain.ErrInvalidTransition, rec.c.EntityID, activeID)
	}

	rec.c.Status = domain.CaseInReview
	rec.c.UpdatedAt = m.now()
	rec.c.Version++
	m.activeFor[rec.c.EntityID] = caseID
	snap := copyCase(rec.c)
	m.mu.Unlock()

	m.log.Info("case reopened", "case_id", caseID, "entity_id", snap.EntityID)
	m.persist(ctx, snap)
	return snap, nil
}

func validTransition(from, to domain.CaseStatus) bool {
	switch from {
	case domain.CaseOpen:
		return to == domain.CaseInReview || to == domain.CaseClosed
	case domain.CaseInReview:
		return to == domain.CaseClosed
	default:
		return false
	}
}

// ApplyEvent folds a transaction into every active case graph it is visible
// to. A party joins a graph when its counterparty is already inside and the
// resulting hop distance stays within the radius. Edges accumulate count and
// amount; a SAR-flagged transaction annotates the edge.
func (m *Manager) ApplyEvent(ev *domain.TransactionEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range m.activeFor {
		rec := m.cases[id]
		if rec.c.Status == domain.CaseClosed {
			continue
		}
		if m.foldEdge(rec, ev) {
			rec.c.Version++
		}
	}
}

// foldEdge attempts to add the event to one case graph. Caller holds m.mu.
func (m *Manager) foldEdge(rec *record, ev *domain.TransactionEvent) bool {
	fromHop, fromIn := rec.nodes[ev.OriginID]
	toHop, toIn := rec.nodes[ev.DestID]
	if !fromIn && !toIn {
		return false
	}

	// Admit the missing endpoint one hop beyond the present one.
	if !fromIn {
		fromHop = toHop + 1
		if fromHop > m.hopRadius {
			return false
		}
		rec.nodes[ev.OriginID] = fromHop
	}
	if !toIn {
		toHop = fromHop + 1
		if toHop > m.hopRadius {
			return false
		}
		rec.nodes[ev.DestID] = toHop
	}

	key := edgeKey{from: ev.OriginID, to: ev.DestID}
	edge := rec.edges[key]
	if edge == nil {
		edge = &domain.GraphEdge{
			From:    ev.OriginID,
			To:      ev.DestID,
			Amount:  decimal.Zero,
			AlertID: domain.NoAlertID,
		}
		rec.edges[key] = edge
	}
	edge.Count++
	edge.Amount = edge.Amount.Add(ev.Amount)
	if ev.IsSAR {
		edge.Alert = true
		if ev.AlertID != domain.NoAlertID {
			edge.AlertID = ev.AlertID
		}
	}
	return true
}

// GetCase returns a copy of a case by id.
func (m *Manager) GetCase(caseID string) (*domain.Case, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.cases[caseID]
	if !ok {
		return nil, domain.ErrCaseNotFound
	}
	return copyCase(rec.c), nil
}

// ListCases returns copies of all cases matching the optional filters.
// Empty filter values match everything. Results are ordered by case id.
func (m *Manager) ListCases(status domain.CaseStatus, level domain.RiskLevel) []*domain.Case {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*domain.Case, 0, len(m.cases))
	for _, rec := range m.cases {
		if status != "" && rec.c.Status != status {
			continue
		}
		if level != "" && rec.c.RiskLevel != level {
			continue
		}
		out = append(out, copyCase(rec.c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Graph returns a read-only snapshot of a case graph. The snapshot reflects
// every event applied before the call; nodes and edges are sorted for
// deterministic output.
func (m *Manager) Graph(caseID string) (*domain.CaseGraph, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.cases[caseID]
	if !ok {
		return nil, domain.ErrCaseNotFound
	}

	g := &domain.CaseGraph{
		CaseID:    rec.c.ID,
		RootID:    rec.c.EntityID,
		HopRadius: m.hopRadius,
		Nodes:     make([]domain.GraphNode, 0, len(rec.nodes)),
		Edges:     make([]domain.GraphEdge, 0, len(rec.edges)),
		Version:   rec.c.Version,
	}
	for id, hop := range rec.nodes {
		g.Nodes = append(g.Nodes, domain.GraphNode{ID: id, Hop: hop})
	}
	for _, e := range rec.edges {
		g.Edges = append(g.Edges, *e)
	}
	sort.Slice(g.Nodes, func(i, j int) bool {
		if g.Nodes[i].Hop != g.Nodes[j].Hop {
			return g.Nodes[i].Hop < g.Nodes[j].Hop
		}
		return g.Nodes[i].ID < g.Nodes[j].ID
	})
	sort.Slice(g.Edges, func(i, j int) bool {
		if g.Edges[i].From != g.Edges[j].From {
			return g.Edges[i].From < g.Edges[j].From
		}
		return g.Edges[i].To < g.Edges[j].To
	})
	return g, nil
}

// TopDrivers returns up to n of the case's strongest drivers.
func (m *Manager) TopDrivers(caseID string, n int) ([]domain.RiskDriver, error) {
	c, err := m.GetCase(caseID)
	if err != nil {
		return nil, err
	}
	if n <= 0 || n > len(c.Drivers) {
		n = len(c.Drivers)
	}
	return c.Drivers[:n], nil
}

// RebuildGraph reconstructs a case graph from the persisted transaction log
// by breadth-first expansion from the root. Graphs are derived state; the
// transaction log is the source of truth.
func (m *Manager) RebuildGraph(ctx context.Context, caseID string, sinceStep int) error {
	if m.repo == nil {
		return fmt.Errorf("graph rebuild requires a repository")
	}

	m.mu.RLock()
	rec, ok := m.cases[caseID]
	if !ok {
		m.mu.RUnlock()
		return domain.ErrCaseNotFound
	}
	root := rec.c.EntityID
	m.mu.RUnlock()

	nodes := map[string]int{root: 0}
	edges := make(map[edgeKey]*domain.GraphEdge)

	// The same event surfaces in both endpoints' logs; count it once.
	type eventPos struct {
		partition int32
		offset    int64
	}
	seen := make(map[eventPos]bool)

	frontier := []string{root}
	for hop := 0; hop < m.hopRadius && len(frontier) > 0; hop++ {
		var next []string
		for _, entityID := range frontier {
			events, err := m.repo.GetEventsByEntity(ctx, entityID, sinceStep)
			if err != nil {
				return fmt.Errorf("failed to load events for %s: %w", entityID, err)
			}
			for _, ev := range events {
				pos := eventPos{partition: ev.Partition, offset: ev.Offset}
				if seen[pos] {
					continue
				}
				seen[pos] = true
				for _, party := range []string{ev.OriginID, ev.DestID} {
					if _, seen := nodes[party]; !seen {
						nodes[party] = hop + 1
						next = append(next, party)
					}
				}
				key := edgeKey{from: ev.OriginID, to: ev.DestID}
				edge := edges[key]
				if edge == nil {
					edge = &domain.GraphEdge{
						From:    ev.OriginID,
						To:      ev.DestID,
						Amount:  decimal.Zero,
						AlertID: domain.NoAlertID,
					}
					edges[key] = edge
				}
				edge.Count++
				edge.Amount = edge.Amount.Add(ev.Amount)
				if ev.IsSAR {
					edge.Alert = true
					if ev.AlertID != domain.NoAlertID {
						edge.AlertID = ev.AlertID
					}
				}
			}
		}
		frontier = next
	}

	m.mu.Lock()
	rec.nodes = nodes
	rec.edges = edges
	rec.c.Version++
	m.mu.Unlock()
	return nil
}

// refresh updates score, level and drivers on an active case. Caller holds m.mu.
func (m *Manager) refresh(rec *record, composite float64, drivers []domain.RiskDriver) {
	rec.c.RiskScore = composite
	rec.c.RiskLevel = m.levels.Level(composite)
	rec.c.Drivers = copyDrivers(drivers)
	rec.c.UpdatedAt = m.now()
	rec.c.Version++
}

func (m *Manager) persist(ctx context.Context, c *domain.Case) {
	if m.repo == nil {
		return
	}
	if err := m.repo.SaveCase(ctx, c); err != nil {
		m.log.Warn("failed to persist case", "case_id", c.ID, "error", err)
	}
}

func copyCase(c *domain.Case) *domain.Case {
	dup := *c
	dup.Drivers = copyDrivers(c.Drivers)
	return &dup
}

func copyDrivers(drivers []domain.RiskDriver) []domain.RiskDriver {
	return append([]domain.RiskDriver(nil), drivers...)
}
