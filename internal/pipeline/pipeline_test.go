package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/broker"
	"github.com/opensource-finance/harrier/internal/cases"
	"github.com/opensource-finance/harrier/internal/detector"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/policy"
	"github.com/opensource-finance/harrier/internal/score"
	"github.com/opensource-finance/harrier/internal/state"
)

type capturingBus struct {
	mu       sync.Mutex
	messages map[string][][]byte
}

func newCapturingBus() *capturingBus {
	return &capturingBus{messages: map[string][][]byte{}}
}

func (b *capturingBus) Publish(_ context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages[topic] = append(b.messages[topic], payload)
	return nil
}

func (b *capturingBus) Subscribe(_ context.Context, _ string, _ domain.MessageHandler) (domain.Subscription, error) {
	return nil, nil
}

func (b *capturingBus) Ping(context.Context) error { return nil }

func (b *capturingBus) Close() error { return nil }

func (b *capturingBus) count(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages[topic])
}

func txJSON(t *testing.T, step int, amount, orig, dest string) []byte {
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
	return payload
}

func testEngine(t *testing.T, log *broker.MemoryLog) *Engine {
	t.Helper()
	resolver := func(_ context.Context, _ string) (float64, error) { return 1.0, nil }
	agg, err := score.NewAggregator(detector.DefaultScorers(resolver), score.DefaultWeights())
	if err != nil {
		t.Fatalf("NewAggregator() error = %v", err)
	}
	promotion, err := policy.NewPromotion("")
	if err != nil {
		t.Fatalf("NewPromotion() error = %v", err)
	}
	st := state.NewStore(domain.DefaultWindowSteps)
	mgr := cases.NewManager(domain.DefaultHopRadius)
	return New(Config{Topic: "aml_transactions", Group: "harrier-engine"}, log, st, agg, promotion, mgr)
}

func pollAll(t *testing.T, log *broker.MemoryLog, topic string, partition int32) []domain.RawRecord {
	t.Helper()
	recs, err := log.Poll(context.Background(), topic, partition, 0, 1000)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	return recs
}

func TestSuspiciousBurstOpensHighCase(t *testing.T) {
	log := broker.NewMemoryLog(1)
	bus := newCapturingBus()

	// Three just-below-threshold transfers to three fresh counterparties.
	for i, amount := range []string{"4999.00", "4998.00", "4997.00"} {
		log.Append("aml_transactions", "982", txJSON(t, 10, amount, "982", fmt.Sprintf("M%d", i+1)))
	}

	e := testEngine(t, log).WithBus(bus)
	ctx := context.Background()
	for _, rec := range pollAll(t, log, "aml_transactions", 0) {
		e.processRecord(ctx, rec)
	}

	c, ok := e.manager.ActiveCase("982")
	if !ok {
		t.Fatal("expected an active case for entity 982")
	}
	if c.RiskLevel != domain.LevelHigh {
		t.Errorf("RiskLevel = %v, want HIGH", c.RiskLevel)
	}
	if c.RiskScore < 70 {
		t.Errorf("RiskScore = %v, want >= 70", c.RiskScore)
	}

	g, err := e.manager.Graph(c.ID)
	if err != nil {
		t.Fatalf("Graph() error = %v", err)
	}
	if len(g.Edges) == 0 {
		t.Error("case graph has no edges after the triggering burst")
	}

	if got := bus.count(domain.TopicCaseOpened); got != 1 {
		t.Errorf("case.opened notifications = %d, want 1", got)
	}
}

func TestBenignTrafficOpensNoCase(t *testing.T) {
	log := broker.NewMemoryLog(1)
	// Clean jurisdictions this time.
	resolver := func(_ context.Context, _ string) (float64, error) { return 0, nil }
	agg, err := score.NewAggregator(detector.DefaultScorers(resolver), score.DefaultWeights())
	if err != nil {
		t.Fatalf("NewAggregator() error = %v", err)
	}
	promotion, err := policy.NewPromotion("")
	if err != nil {
		t.Fatalf("NewPromotion() error = %v", err)
	}
	e := New(Config{Topic: "aml_transactions", Group: "g"}, log, state.NewStore(domain.DefaultWindowSteps), agg, promotion, cases.NewManager(domain.DefaultHopRadius))

	log.Append("aml_transactions", "C42", txJSON(t, 5, "100.00", "C42", "C77"))

	ctx := context.Background()
	for _, rec := range pollAll(t, log, "aml_transactions", 0) {
		e.processRecord(ctx, rec)
	}

	if _, ok := e.manager.ActiveCase("C42"); ok {
		t.Error("benign transfer should not open a case")
	}
}

func TestReplayedRecordIsIdempotent(t *testing.T) {
	log := broker.NewMemoryLog(1)
	for i, amount := range []string{"4999.00", "4998.00", "4997.00"} {
		log.Append("aml_transactions", "982", txJSON(t, 10, amount, "982", fmt.Sprintf("M%d", i+1)))
	}

	e := testEngine(t, log)
	ctx := context.Background()
	recs := pollAll(t, log, "aml_transactions", 0)
	for _, rec := range recs {
		e.processRecord(ctx, rec)
	}

	before := e.store.Get("982").LifetimeCount
	c, _ := e.manager.ActiveCase("982")
	scoreBefore := c.RiskScore

	// Reprocess the whole batch, as a restart before commit would.
	for _, rec := range recs {
		e.processRecord(ctx, rec)
	}

	if after := e.store.Get("982").LifetimeCount; after != before {
		t.Errorf("LifetimeCount = %d after replay, want %d", after, before)
	}
	c2, _ := e.manager.ActiveCase("982")
	if c2.ID != c.ID {
		t.Errorf("replay opened a new case %s, want %s refreshed", c2.ID, c.ID)
	}
	if c2.RiskScore != scoreBefore {
		t.Errorf("RiskScore = %v after replay, want %v", c2.RiskScore, scoreBefore)
	}
}

func TestMalformedRecordIsSkipped(t *testing.T) {
	log := broker.NewMemoryLog(1)
	log.Append("aml_transactions", "junk", []byte(`{"step": "not-a-number"`))
	log.Append("aml_transactions", "junk", txJSON(t, 1, "50.00", "C1", "C2"))

	e := testEngine(t, log)
	ctx := context.Background()
	for _, rec := range pollAll(t, log, "aml_transactions", 0) {
		e.processRecord(ctx, rec)
	}

	// The well-formed record after the junk one still lands.
	if got := e.store.Get("C1").LifetimeCount; got != 1 {
		t.Errorf("LifetimeCount(C1) = %d, want 1", got)
	}
}

func TestRunCommitsAppliedOffsets(t *testing.T) {
	log := broker.NewMemoryLog(2)
	var lastPartition int32
	var lastOffset int64
	for i := 0; i < 6; i++ {
		orig := fmt.Sprintf("C%d", i)
		lastPartition, lastOffset = log.Append("aml_transactions", orig, txJSON(t, 1, "10.00", orig, "C99"))
	}

	e := testEngine(t, log)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		committed, err := log.Committed(context.Background(), "harrier-engine", "aml_transactions", lastPartition)
		if err == nil && committed >= lastOffset {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("partition %d committed = %d, want >= %d", lastPartition, committed, lastOffset)
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}
