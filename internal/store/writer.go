package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/driftgate/driftgate/internal/model"
)

// Writer drains evaluations onto the store from a bounded buffer so
// the submission path does not wait on disk. Used when durability mode
// is "async"; in "sync" mode the engine writes through the Store
// directly.
type Writer struct {
	store   *Store
	jobs    chan evaluation
	logger  *slog.Logger
	wg      sync.WaitGroup
	retries int
	backoff time.Duration

	mu      sync.Mutex
	closed  bool
	dropped uint64
}

type evaluation struct {
	obs    *model.Observation
	report *model.Report
}

// NewWriter starts the background drain goroutine. bufferSize bounds
// the number of evaluations waiting for disk; beyond that Enqueue
// reports degradation instead of blocking.
func NewWriter(s *Store, bufferSize int, logger *slog.Logger) *Writer {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	w := &Writer{
		store:   s,
		jobs:    make(chan evaluation, bufferSize),
		logger:  logger,
		retries: 3,
		backoff: 100 * time.Millisecond,
	}
	w.wg.Add(1)
	go w.drain()
	return w
}

// Enqueue queues one evaluation for persistence. Returns false when
// the buffer is full or the writer is closed; the caller decides
// whether to degrade or write synchronously. The mutex is held across
// the send so Close cannot close the channel under an in-flight send.
func (w *Writer) Enqueue(obs *model.Observation, report *model.Report) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return false
	}

	select {
	case w.jobs <- evaluation{obs: obs, report: report}:
		return true
	default:
		w.dropped++
		w.logger.Warn("persistence buffer full, evaluation dropped",
			"subject_id", obs.SubjectID, "sequence", obs.Sequence)
		return false
	}
}

// Dropped returns how many evaluations were rejected because the
// buffer was full.
func (w *Writer) Dropped() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropped
}

// Depth returns the number of evaluations currently waiting for disk.
func (w *Writer) Depth() int {
	return len(w.jobs)
}

// Close stops accepting work, drains the buffer and waits for the
// final write to land. The channel is closed under the same mutex
// Enqueue sends under, so a concurrent Enqueue either lands before the
// close or sees closed and returns false.
func (w *Writer) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.jobs)
	w.mu.Unlock()

	w.wg.Wait()
}

func (w *Writer) drain() {
	defer w.wg.Done()
	for job := range w.jobs {
		w.persist(job)
	}
}

// persist retries transient failures with linear backoff. A write
// that still fails after the last attempt is logged and abandoned;
// the in-memory state has already moved on.
func (w *Writer) persist(job evaluation) {
	var err error
	for attempt := 0; attempt <= w.retries; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * w.backoff)
		}
		err = w.store.AppendEvaluation(context.Background(), job.obs, job.report)
		if err == nil {
			return
		}
	}
	w.logger.Error("evaluation write abandoned",
		"subject_id", job.obs.SubjectID,
		"sequence", job.obs.Sequence,
		"error", err)
}
