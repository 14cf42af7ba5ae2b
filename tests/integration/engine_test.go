package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/broker"
	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/cases"
	"github.com/opensource-finance/harrier/internal/detector"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/pipeline"
	"github.com/opensource-finance/harrier/internal/policy"
	"github.com/opensource-finance/harrier/internal/profile"
	"github.com/opensource-finance/harrier/internal/score"
	"github.com/opensource-finance/harrier/internal/state"
)

const (
	testTopic = "aml_transactions"
	testGroup = "harrier-it"
)

// memProfiles is an in-memory profile store with a switchable outage mode.
type memProfiles struct {
	profiles map[string]*domain.Profile
	down     bool
}

func (m *memProfiles) GetProfile(_ context.Context, entityID string) (*domain.Profile, error) {
	if m.down {
		return nil, errors.New("connection refused")
	}
	p, ok := m.profiles[entityID]
	if !ok {
		return nil, domain.ErrProfileNotFound
	}
	dup := *p
	return &dup, nil
}

func (m *memProfiles) Ping(context.Context) error {
	if m.down {
		return errors.New("connection refused")
	}
	return nil
}

func (m *memProfiles) Close() error { return nil }

type stack struct {
	log     *broker.MemoryLog
	store   *state.Store
	manager *cases.Manager
	engine  *pipeline.Engine
}

func newStack(t *testing.T, group string, profiles *memProfiles) *stack {
	t.Helper()

	resolver := profile.NewService(profiles, cache.NewLRUCache(100)).Resolver()
	agg, err := score.NewAggregator(detector.DefaultScorers(resolver), score.DefaultWeights())
	if err != nil {
		t.Fatalf("NewAggregator() error = %v", err)
	}
	promotion, err := policy.NewPromotion("")
	if err != nil {
		t.Fatalf("NewPromotion() error = %v", err)
	}

	log := broker.NewMemoryLog(2)
	st := state.NewStore(domain.DefaultWindowSteps)
	manager := cases.NewManager(domain.DefaultHopRadius)
	engine := pipeline.New(pipeline.Config{Topic: testTopic, Group: group}, log, st, agg, promotion, manager)
	return &stack{log: log, store: st, manager: manager, engine: engine}
}

func appendTx(t *testing.T, log *broker.MemoryLog, step int, amount, orig, dest string) (int32, int64) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"step":     step,
		"type":     "TRANSFER",
		"amount":   json.Number(amount),
		"nameOrig": orig,
		"nameDest": dest,
		"isSAR":    false,
		"alertID":  -1,
	})
	if err != nil {
		t.Fatalf("marshal tx: %v", err)
	}
	return log.Append(testTopic, orig, payload)
}

// run drives the engine until every appended offset is committed for the
// given group, then stops it.
func run(t *testing.T, s *stack, group string, want map[int32]int64) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.engine.Run(ctx)
	}()
	defer func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("engine did not stop after cancellation")
		}
	}()

	deadline := time.After(3 * time.Second)
	for partition, offset := range want {
		for {
			committed, err := s.log.Committed(context.Background(), group, testTopic, partition)
			if err == nil && committed >= offset {
				break
			}
			select {
			case <-deadline:
				t.Fatalf("partition %d committed = %d, want >= %d", partition, committed, offset)
			case <-time.After(5 * time.Millisecond):
			}
		}
	}
}

type appendPos struct {
	partition int32
	offset    int64
}

func highWater(appends []appendPos) map[int32]int64 {
	out := map[int32]int64{}
	for _, a := range appends {
		if cur, ok := out[a.partition]; !ok || a.offset > cur {
			out[a.partition] = a.offset
		}
	}
	return out
}

// A burst of just-below-threshold transfers to fresh counterparties in risky
// jurisdictions opens a HIGH case with a bounded graph.
func TestStructuringBurstOpensHighCase(t *testing.T) {
	profiles := &memProfiles{profiles: map[string]*domain.Profile{
		"M1": {EntityID: "M1", Jurisdiction: "IR"},
		"M2": {EntityID: "M2", Jurisdiction: "KP"},
		"M3": {EntityID: "M3", Jurisdiction: "IR"},
	}}
	s := newStack(t, testGroup, profiles)

	var appends []appendPos
	for i, amount := range []string{"4999.00", "4998.00", "4997.00"} {
		p, o := appendTx(t, s.log, 10, amount, "982", fmt.Sprintf("M%d", i+1))
		appends = append(appends, appendPos{p, o})
	}

	run(t, s, testGroup, highWater(appends))

	open := s.manager.ListCases(domain.CaseOpen, "")
	if len(open) != 1 {
		t.Fatalf("open cases = %d, want 1", len(open))
	}
	c := open[0]
	if c.EntityID != "982" {
		t.Errorf("EntityID = %q, want 982", c.EntityID)
	}
	if c.RiskLevel != domain.LevelHigh {
		t.Errorf("RiskLevel = %v, want HIGH", c.RiskLevel)
	}
	if c.RiskScore < 70 {
		t.Errorf("RiskScore = %v, want >= 70", c.RiskScore)
	}

	// Drivers arrive sorted, strongest first.
	for i := 1; i < len(c.Drivers); i++ {
		if c.Drivers[i].Value > c.Drivers[i-1].Value {
			t.Errorf("drivers out of order at %d: %+v", i, c.Drivers)
		}
	}

	g, err := s.manager.Graph(c.ID)
	if err != nil {
		t.Fatalf("Graph() error = %v", err)
	}
	for _, n := range g.Nodes {
		if n.Hop > domain.DefaultHopRadius {
			t.Errorf("node %s at hop %d exceeds radius %d", n.ID, n.Hop, domain.DefaultHopRadius)
		}
	}
}

// A routine payment between low-risk parties never reaches the review
// threshold.
func TestRoutinePaymentStaysQuiet(t *testing.T) {
	s := newStack(t, testGroup, &memProfiles{profiles: map[string]*domain.Profile{}})

	p, o := appendTx(t, s.log, 5, "100.00", "C42", "C77")
	run(t, s, testGroup, map[int32]int64{p: o})

	if all := s.manager.ListCases("", ""); len(all) != 0 {
		t.Fatalf("cases = %d, want none for routine traffic", len(all))
	}
	if got := s.store.Get("C42").LifetimeCount; got != 1 {
		t.Errorf("LifetimeCount(C42) = %d, want 1", got)
	}
}

// Redelivery of already-applied offsets, as after a crash between apply and
// commit, changes nothing: state, case identity and score stay fixed.
func TestRedeliveryIsIdempotent(t *testing.T) {
	profiles := &memProfiles{profiles: map[string]*domain.Profile{
		"M1": {EntityID: "M1", Jurisdiction: "IR"},
		"M2": {EntityID: "M2", Jurisdiction: "IR"},
		"M3": {EntityID: "M3", Jurisdiction: "IR"},
	}}
	s := newStack(t, testGroup, profiles)

	var appends []appendPos
	for i, amount := range []string{"4999.00", "4998.00", "4997.00"} {
		p, o := appendTx(t, s.log, 10, amount, "982", fmt.Sprintf("M%d", i+1))
		appends = append(appends, appendPos{p, o})
	}
	want := highWater(appends)

	run(t, s, testGroup, want)

	count := s.store.Get("982").LifetimeCount
	c, ok := s.manager.ActiveCase("982")
	if !ok {
		t.Fatal("expected an active case for entity 982")
	}

	// Second consumer group, same state: every record is redelivered.
	s.engine = pipeline.New(pipeline.Config{Topic: testTopic, Group: "harrier-it-redelivery"},
		s.log, s.store, mustAggregator(t, profiles), mustPromotion(t), s.manager)
	run(t, s, "harrier-it-redelivery", want)

	if got := s.store.Get("982").LifetimeCount; got != count {
		t.Errorf("LifetimeCount = %d after redelivery, want %d", got, count)
	}
	c2, ok := s.manager.ActiveCase("982")
	if !ok || c2.ID != c.ID {
		t.Errorf("case after redelivery = %+v, want %s unchanged", c2, c.ID)
	}
	if c2.RiskScore != c.RiskScore {
		t.Errorf("RiskScore = %v after redelivery, want %v", c2.RiskScore, c.RiskScore)
	}
}

// A profile store outage degrades the jurisdiction signal to zero instead of
// stalling the stream.
func TestProfileOutageFailsOpen(t *testing.T) {
	profiles := &memProfiles{down: true}
	s := newStack(t, testGroup, profiles)

	p, o := appendTx(t, s.log, 3, "200.00", "C10", "C20")
	run(t, s, testGroup, map[int32]int64{p: o})

	if got := s.store.Get("C10").LifetimeCount; got != 1 {
		t.Errorf("LifetimeCount(C10) = %d, want 1 despite lookup outage", got)
	}
	if all := s.manager.ListCases("", ""); len(all) != 0 {
		t.Errorf("cases = %d, want none", len(all))
	}
}

func mustAggregator(t *testing.T, profiles *memProfiles) *score.Aggregator {
	t.Helper()
	resolver := profile.NewService(profiles, nil).Resolver()
	agg, err := score.NewAggregator(detector.DefaultScorers(resolver), score.DefaultWeights())
	if err != nil {
		t.Fatalf("NewAggregator() error = %v", err)
	}
	return agg
}

func mustPromotion(t *testing.T) *policy.Promotion {
	t.Helper()
	p, err := policy.NewPromotion("")
	if err != nil {
		t.Fatalf("NewPromotion() error = %v", err)
	}
	return p
}
