// Package drift maintains per-subject divergence scores over a sliding
// window of evaluation outcomes.
//
// The divergence score is a normalized, age-decayed failure rate:
//
//	score = Σ(weight_i × fail_i) / Σ(weight_i)
//
// where weight_i = decay^age_i (newest sample has age 0), bounding the
// score to [0,1]. With decay = 1.0 all samples weigh equally; smaller
// decay makes older failures fade faster. The formula has no heuristic
// component, so replaying the same window reproduces the same score.
package drift

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/driftgate/driftgate/internal/model"
)

// Config holds the drift window parameters. Thresholds, decay rates,
// and window sizes are configuration, never guessed constants.
type Config struct {
	WindowSize int           // samples per window
	Decay      float64       // per-sample age decay in (0,1]
	Epsilon    float64       // trend dead zone
	Retention  time.Duration // minimum snapshot retention for audit replay
}

// DefaultConfig returns the built-in drift parameters.
func DefaultConfig() Config {
	return Config{
		WindowSize: 20,
		Decay:      1.0,
		Epsilon:    0.01,
		Retention:  30 * 24 * time.Hour,
	}
}

// normalize clamps zero values to usable defaults.
func (c Config) normalize() Config {
	d := DefaultConfig()
	if c.WindowSize <= 0 {
		c.WindowSize = d.WindowSize
	}
	if c.Decay <= 0 || c.Decay > 1 {
		c.Decay = d.Decay
	}
	if c.Epsilon <= 0 {
		c.Epsilon = d.Epsilon
	}
	if c.Retention <= 0 {
		c.Retention = d.Retention
	}
	return c
}

type sample struct {
	failed    bool
	timestamp int64
}

type subjectState struct {
	samples []sample
	current model.DriftState
	seen    bool
}

// Tracker owns the current DriftState per subject. Each update
// produces a fresh immutable snapshot; historical snapshots are
// persisted by the caller, never edited here.
type Tracker struct {
	mu       sync.Mutex
	cfg      Config
	subjects map[string]*subjectState
}

// NewTracker creates a tracker with the given window parameters.
func NewTracker(cfg Config) *Tracker {
	return &Tracker{
		cfg:      cfg.normalize(),
		subjects: make(map[string]*subjectState),
	}
}

// Retention returns the configured minimum snapshot retention.
func (t *Tracker) Retention() time.Duration { return t.cfg.Retention }

// Update folds one evaluation outcome into the subject's window and
// returns the new snapshot. A sample counts as failed when any layer's
// aggregate verdict failed. The caller serializes updates per subject;
// the tracker's own lock only guards the cross-subject map.
func (t *Tracker) Update(subjectID string, verdicts []model.LayerVerdict, timestamp int64) model.DriftState {
	failed := model.AnyFailed(verdicts, model.SeverityCritical) ||
		model.AnyFailed(verdicts, model.SeverityNormal)

	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.subjects[subjectID]
	if st == nil {
		st = &subjectState{}
		t.subjects[subjectID] = st
	}

	st.samples = append(st.samples, sample{failed: failed, timestamp: timestamp})
	if len(st.samples) > t.cfg.WindowSize {
		st.samples = st.samples[len(st.samples)-t.cfg.WindowSize:]
	}

	prevScore := st.current.Score
	score := windowScore(st.samples, t.cfg.Decay)

	next := model.DriftState{
		SubjectID:   subjectID,
		WindowID:    uuid.NewString(),
		WindowStart: st.samples[0].timestamp,
		WindowEnd:   st.samples[len(st.samples)-1].timestamp,
		SampleCount: len(st.samples),
		Score:       score,
		PrevScore:   prevScore,
		Trend:       trend(score, prevScore, t.cfg.Epsilon),
	}

	st.current = next
	st.seen = true
	return next
}

// Current returns the subject's live DriftState. A subject with no
// history reports score 0, trend stable, sample count 0: an empty
// window is a defined state, never a division by zero.
func (t *Tracker) Current(subjectID string) model.DriftState {
	t.mu.Lock()
	defer t.mu.Unlock()

	if st, ok := t.subjects[subjectID]; ok && st.seen {
		return st.current
	}
	return model.DriftState{
		SubjectID: subjectID,
		Trend:     model.TrendStable,
	}
}

// Sample is one persisted evaluation outcome, used to rebuild a
// subject's window after restart.
type Sample struct {
	Failed    bool
	Timestamp int64
}

// Restore rebuilds a subject's window from persisted history. samples
// must be ordered oldest first; current is the last snapshot that was
// written for the subject. Restore never emits a new snapshot.
func (t *Tracker) Restore(subjectID string, samples []Sample, current model.DriftState) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := &subjectState{seen: true, current: current}
	start := 0
	if len(samples) > t.cfg.WindowSize {
		start = len(samples) - t.cfg.WindowSize
	}
	for _, s := range samples[start:] {
		st.samples = append(st.samples, sample{failed: s.Failed, timestamp: s.Timestamp})
	}
	t.subjects[subjectID] = st
}

// windowScore computes the decayed failure rate over the window.
func windowScore(samples []sample, decay float64) float64 {
	if len(samples) == 0 {
		return 0
	}

	var weighted, total float64
	weight := 1.0
	// Newest sample carries weight 1; each step back multiplies by decay.
	for i := len(samples) - 1; i >= 0; i-- {
		if samples[i].failed {
			weighted += weight
		}
		total += weight
		weight *= decay
	}
	if total == 0 {
		return 0
	}
	return weighted / total
}

// trend compares the new score against the previous window's score.
func trend(score, prev, epsilon float64) model.Trend {
	switch delta := score - prev; {
	case delta > epsilon:
		return model.TrendDegrading
	case delta < -epsilon:
		return model.TrendImproving
	default:
		return model.TrendStable
	}
}
