// Package engine wires the submission pipeline: validate, sequence,
// evaluate, score, decide, persist. It owns the per-subject ordering
// guarantees; every component below it is either pure or synchronized
// on its own state.
package engine

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/driftgate/driftgate/internal/dispatch"
	"github.com/driftgate/driftgate/internal/drift"
	"github.com/driftgate/driftgate/internal/evaluate"
	"github.com/driftgate/driftgate/internal/model"
	"github.com/driftgate/driftgate/internal/registry"
	"github.com/driftgate/driftgate/internal/store"
)

const lockStripes = 64

// Engine runs the full pipeline for one deployment. Submissions for
// the same subject are serialized; different subjects proceed in
// parallel on separate lock stripes.
type Engine struct {
	registry   *registry.Registry
	tracker    *drift.Tracker
	dispatcher *dispatch.Dispatcher
	store      *store.Store  // nil disables persistence
	writer     *store.Writer // non-nil in async durability mode
	logger     *slog.Logger

	stripes [lockStripes]sync.Mutex

	metaMu sync.Mutex
	meta   map[string]*subjectMeta
}

// subjectMeta carries the per-subject counters the store seeds and the
// pipeline advances. Guarded by the subject's lock stripe for writes;
// metaMu only guards the map itself.
type subjectMeta struct {
	sequence      uint64
	lastTimestamp int64
}

// Options configures persistence behavior.
type Options struct {
	Store  *store.Store
	Writer *store.Writer // enables async durability when set
	Logger *slog.Logger
}

// New assembles an engine. Store may be nil for a memory-only
// pipeline (used by replay and tests).
func New(reg *registry.Registry, tracker *drift.Tracker, dispatcher *dispatch.Dispatcher, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		registry:   reg,
		tracker:    tracker,
		dispatcher: dispatcher,
		store:      opts.Store,
		writer:     opts.Writer,
		logger:     logger,
		meta:       make(map[string]*subjectMeta),
	}
}

// Restore seeds sequence counters and drift windows from the store.
// Call once before serving traffic.
func (e *Engine) Restore(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	tails, err := e.store.Tails(ctx)
	if err != nil {
		return fmt.Errorf("load subject tails: %w", err)
	}

	for subject, tail := range tails {
		e.metaMu.Lock()
		e.meta[subject] = &subjectMeta{sequence: tail.Sequence, lastTimestamp: tail.Timestamp}
		e.metaMu.Unlock()

		if err := e.restoreDrift(ctx, subject, tail.Sequence); err != nil {
			return fmt.Errorf("restore drift for %s: %w", subject, err)
		}
	}
	return nil
}

// restoreDrift replays the subject's recent reports into the tracker
// so the first post-restart window continues where the last one ended.
func (e *Engine) restoreDrift(ctx context.Context, subject string, tailSeq uint64) error {
	const replayDepth = 256 // covers any sane window size
	var afterSeq uint64
	if tailSeq > replayDepth {
		afterSeq = tailSeq - replayDepth
	}
	reports, err := e.store.Reports(ctx, subject, afterSeq, replayDepth)
	if err != nil {
		return err
	}
	if len(reports) == 0 {
		return nil
	}

	samples := make([]drift.Sample, 0, len(reports))
	for _, r := range reports {
		failed := model.AnyFailed(r.Verdicts, model.SeverityCritical) ||
			model.AnyFailed(r.Verdicts, model.SeverityNormal)
		samples = append(samples, drift.Sample{Failed: failed, Timestamp: r.Timestamp})
	}
	last := reports[len(reports)-1].Drift
	e.tracker.Restore(subject, samples, last)
	return nil
}

// Submit runs one observation through the pipeline and returns its
// report. On a ValidationError nothing is stored and no drift state
// changes. A persistence failure in sync mode returns the report,
// marked durability-pending, together with a wrapped
// ErrPersistenceDegraded: the decision stands, durability does not.
func (e *Engine) Submit(ctx context.Context, subjectID string, timestamp int64, payload model.Payload) (model.Report, error) {
	if subjectID == "" {
		return model.Report{}, model.Validationf("subject_id is required")
	}
	if timestamp <= 0 {
		return model.Report{}, model.Validationf("timestamp must be a positive epoch-millisecond value")
	}
	if err := payload.Validate(); err != nil {
		return model.Report{}, err
	}
	if err := ctx.Err(); err != nil {
		return model.Report{}, err
	}

	lock := &e.stripes[stripeFor(subjectID)]
	lock.Lock()
	defer lock.Unlock()

	meta := e.subjectMeta(subjectID)
	if timestamp <= meta.lastTimestamp {
		return model.Report{}, model.Validationf(
			"timestamp %d is not after the subject's last observation at %d",
			timestamp, meta.lastTimestamp)
	}

	obs := &model.Observation{
		SubjectID: subjectID,
		Timestamp: timestamp,
		Payload:   payload,
		Sequence:  meta.sequence + 1,
	}

	verdicts := evaluate.Evaluate(obs, e.registry.OrderedLayers())
	driftState := e.tracker.Update(subjectID, verdicts, timestamp)
	report := e.dispatcher.Dispatch(obs, verdicts, driftState, e.registry.Hash())

	err := e.persist(ctx, obs, &report)

	// Counters advance even when persistence degraded: the evaluation
	// happened and the in-memory state reflects it.
	meta.sequence = obs.Sequence
	meta.lastTimestamp = timestamp

	return report, err
}

func (e *Engine) persist(ctx context.Context, obs *model.Observation, report *model.Report) error {
	if e.store == nil {
		return nil
	}

	if e.writer != nil {
		if e.writer.Enqueue(obs, report) {
			report.DurabilityPending = true
			return nil
		}
		// Buffer full: degrade to a synchronous write rather than
		// silently losing the row.
	}

	if err := e.store.AppendEvaluation(ctx, obs, report); err != nil {
		// The caller must be able to tell this report was never made
		// durable and retry through an external channel.
		report.DurabilityPending = true
		e.logger.Error("evaluation persist failed",
			"subject_id", obs.SubjectID, "sequence", obs.Sequence, "error", err)
		return fmt.Errorf("%w: %v", model.ErrPersistenceDegraded, err)
	}
	return nil
}

// Drift returns the subject's live drift state.
func (e *Engine) Drift(subjectID string) model.DriftState {
	return e.tracker.Current(subjectID)
}

// PolicyHash returns the hash of the active layer set.
func (e *Engine) PolicyHash() string {
	return e.registry.Hash()
}

// Registry exposes the layer registry for admin operations.
func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

// Store exposes the persistence layer for history queries; nil when
// the engine runs memory-only.
func (e *Engine) Store() *store.Store {
	return e.store
}

func (e *Engine) subjectMeta(subjectID string) *subjectMeta {
	e.metaMu.Lock()
	defer e.metaMu.Unlock()
	m := e.meta[subjectID]
	if m == nil {
		m = &subjectMeta{}
		e.meta[subjectID] = m
	}
	return m
}

func stripeFor(subjectID string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(subjectID))
	return h.Sum32() % lockStripes
}
