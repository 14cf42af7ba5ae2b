// Package pipeline runs the partition-parallel ingestion loop: poll, decode,
// fold into entity state, score, update cases, commit.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/opensource-finance/harrier/internal/cases"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/ingest"
	"github.com/opensource-finance/harrier/internal/metrics"
	"github.com/opensource-finance/harrier/internal/policy"
	"github.com/opensource-finance/harrier/internal/score"
	"github.com/opensource-finance/harrier/internal/state"
)

const (
	pollBatchSize  = 200
	pollInterval   = 50 * time.Millisecond
	initialBackoff = 100 * time.Millisecond
	maxBackoff     = 5 * time.Second
	alertWindow    = time.Minute
)

// Config holds the engine's stream settings.
type Config struct {
	Topic string
	Group string
}

// Engine consumes the transaction stream and drives scoring and case
// management. One worker per partition; offsets are committed only after an
// event's full effect (state, detectors, case updates) is applied.
type Engine struct {
	cfg     Config
	broker  domain.Broker
	decoder *ingest.Decoder
	store   *state.Store
	agg     *score.Aggregator
	policy  *policy.Promotion
	manager *cases.Manager

	// Optional collaborators; the hot path tolerates their absence.
	repo  domain.Repository
	bus   domain.EventBus
	cache domain.Cache

	log *slog.Logger
}

// New creates an engine over the given collaborators.
func New(cfg Config, broker domain.Broker, store *state.Store, agg *score.Aggregator, promotion *policy.Promotion, manager *cases.Manager) *Engine {
	return &Engine{
		cfg:     cfg,
		broker:  broker,
		decoder: ingest.NewDecoder(),
		store:   store,
		agg:     agg,
		policy:  promotion,
		manager: manager,
		log:     slog.Default(),
	}
}

// WithRepository enables transaction-log persistence.
func (e *Engine) WithRepository(repo domain.Repository) *Engine {
	e.repo = repo
	return e
}

// WithBus enables case notifications.
func (e *Engine) WithBus(bus domain.EventBus) *Engine {
	e.bus = bus
	return e
}

// WithCache enables alert throttling.
func (e *Engine) WithCache(c domain.Cache) *Engine {
	e.cache = c
	return e
}

// Run consumes all partitions until the context is cancelled. Each partition
// gets a dedicated worker; a failing partition backs off alone while the
// others keep flowing.
func (e *Engine) Run(ctx context.Context) error {
	partitions, err := e.broker.ListPartitions(ctx, e.cfg.Topic)
	if err != nil {
		return fmt.Errorf("failed to list partitions: %w", err)
	}

	e.log.Info("pipeline starting",
		"topic", e.cfg.Topic,
		"group", e.cfg.Group,
		"partitions", len(partitions))

	var wg sync.WaitGroup
	for _, p := range partitions {
		wg.Add(1)
		go func(partition int32) {
			defer wg.Done()
			e.consumePartition(ctx, partition)
		}(p)
	}
	wg.Wait()
	return ctx.Err()
}

// consumePartition is the per-partition worker loop. Events are processed
// strictly in offset order; the commit position advances only past fully
// applied events, giving at-least-once semantics on restart.
func (e *Engine) consumePartition(ctx context.Context, partition int32) {
	log := e.log.With("partition", partition)

	committed, err := e.broker.Committed(ctx, e.cfg.Group, e.cfg.Topic, partition)
	if err != nil {
		committed = -1
	}
	next := committed + 1
	backoff := initialBackoff

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		batch, err := e.broker.Poll(ctx, e.cfg.Topic, partition, next, pollBatchSize)
		if err != nil {
			if errors.Is(err, domain.ErrBrokerUnavailable) {
				log.Warn("broker unavailable, backing off", "backoff", backoff, "error", err)
			} else {
				log.Error("poll failed", "error", err)
			}
			if !sleep(ctx, backoff) {
				return
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = initialBackoff

		if len(batch) == 0 {
			e.reportLag(ctx, partition)
			if !sleep(ctx, pollInterval) {
				return
			}
			continue
		}

		for _, rec := range batch {
			e.processRecord(ctx, rec)
			next = rec.Offset + 1
			if err := e.broker.Commit(ctx, e.cfg.Group, e.cfg.Topic, partition, rec.Offset); err != nil {
				log.Warn("offset commit failed, will reprocess after restart",
					"offset", rec.Offset,
					"error", err)
			}
		}
		e.reportLag(ctx, partition)
	}
}

// processRecord applies one record end to end. Failures are record- or
// entity-scoped; the worker always moves on.
func (e *Engine) processRecord(ctx context.Context, rec domain.RawRecord) {
	start := time.Now()

	ev, err := e.decoder.Ingest(rec)
	if err != nil {
		var malformed *domain.MalformedEventError
		if errors.As(err, &malformed) {
			metrics.EventsMalformed.Inc()
			e.log.Warn("skipping malformed record",
				"partition", malformed.Partition,
				"offset", malformed.Offset,
				"reason", malformed.Reason)
		}
		return
	}

	// Corruption halts one entity; the counterparty's side of the event
	// still applies and is processed below.
	origin, dest, fresh, err := e.store.Apply(ev)
	if err != nil {
		var corrupt *domain.StateCorruptionError
		if errors.As(err, &corrupt) {
			metrics.EntitiesHalted.Inc()
			e.log.Error("entity halted by state corruption",
				"entity_id", corrupt.EntityID,
				"reason", corrupt.Reason)
		}
	}
	if !fresh {
		metrics.EventsReplayed.Inc()
		return
	}

	if e.repo != nil {
		if err := e.repo.SaveEvent(ctx, ev); err != nil {
			e.log.Warn("failed to persist event",
				"partition", ev.Partition,
				"offset", ev.Offset,
				"error", err)
		}
	}

	if origin != nil {
		e.evaluate(ctx, ev, origin)
	}
	if dest != nil {
		e.reevaluateCounterparty(ctx, ev, dest)
	}

	// Graph updates come after case updates so a case opened by this very
	// event still absorbs it as its first edge.
	e.manager.ApplyEvent(ev)

	metrics.EventsIngested.WithLabelValues(strconv.Itoa(int(ev.Partition))).Inc()
	metrics.ProcessingDuration.Observe(time.Since(start).Seconds())
}

// evaluate scores the origin entity and applies the promotion policy.
func (e *Engine) evaluate(ctx context.Context, ev *domain.TransactionEvent, st *domain.EntityState) {
	drivers, composite := e.agg.Evaluate(ctx, ev, st)
	metrics.CompositeScore.Observe(composite)

	promote, err := e.policy.Promote(composite, drivers, ev)
	if err != nil {
		// A broken policy must not open cases.
		e.log.Error("promotion policy failed", "error", err)
		promote = false
	}

	if active, ok := e.manager.ActiveCase(ev.OriginID); ok {
		updated := e.manager.UpdateScore(ctx, ev.OriginID, composite, drivers)
		if updated != nil && promote && updated.RiskLevel == domain.LevelHigh && active.RiskLevel != domain.LevelHigh {
			e.publish(ctx, domain.TopicCaseEscalated, updated)
		}
		return
	}

	if promote {
		c, opened := e.manager.OpenCase(ctx, ev.OriginID, composite, drivers)
		if opened {
			metrics.CasesOpened.WithLabelValues(string(c.RiskLevel)).Inc()
			e.publish(ctx, domain.TopicCaseOpened, c)
		}
	}
}

// reevaluateCounterparty refreshes the destination's case when one exists.
// Without a case, destination-side activity stays a state update only.
func (e *Engine) reevaluateCounterparty(ctx context.Context, ev *domain.TransactionEvent, st *domain.EntityState) {
	if _, ok := e.manager.ActiveCase(ev.DestID); !ok {
		return
	}
	drivers, composite := e.agg.Evaluate(ctx, ev, st)
	e.manager.UpdateScore(ctx, ev.DestID, composite, drivers)
}

// publish sends a case notification, throttled per case so a burst of
// qualifying events does not flood downstream consumers.
func (e *Engine) publish(ctx context.Context, topic string, c *domain.Case) {
	if e.bus == nil {
		return
	}

	if e.cache != nil {
		count, err := e.cache.IncrementCounter(ctx, "alert:"+topic+":"+c.ID, alertWindow)
		if err == nil && count > 1 {
			return
		}
	}

	payload, err := json.Marshal(c)
	if err != nil {
		e.log.Error("failed to marshal case notification", "case_id", c.ID, "error", err)
		return
	}
	if err := e.bus.Publish(ctx, topic, payload); err != nil {
		e.log.Warn("failed to publish case notification",
			"case_id", c.ID,
			"topic", topic,
			"error", err)
		return
	}
	metrics.AlertsPublished.WithLabelValues(topic).Inc()
}

func (e *Engine) reportLag(ctx context.Context, partition int32) {
	wm, err := e.broker.Watermarks(ctx, e.cfg.Topic, partition)
	if err != nil {
		return
	}
	lag := wm.High - 1 - e.store.LastApplied(partition)
	if lag < 0 {
		lag = 0
	}
	metrics.PartitionLag.WithLabelValues(strconv.Itoa(int(partition))).Set(float64(lag))
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
