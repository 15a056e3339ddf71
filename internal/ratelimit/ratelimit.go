// Package ratelimit bounds submission throughput per subject with a
// fixed window counter. It protects the pipeline from a runaway
// producer; it is not an evaluation layer and never affects decisions.
package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// Limit defines the per-subject submission limit. Zero values mean no
// limit.
type Limit struct {
	MaxRequests int
	Window      time.Duration
}

// Enabled returns true when the limit is actually configured.
func (l Limit) Enabled() bool {
	return l.MaxRequests > 0 && l.Window > 0
}

// CheckResult is the outcome of a rate limit check.
type CheckResult struct {
	Exceeded bool
	Current  int
	Limit    int
	Reason   string
}

type window struct {
	start time.Time
	count int
}

// Limiter tracks per-subject submission counts. Safe for concurrent
// use.
type Limiter struct {
	mu       sync.Mutex
	limit    Limit
	subjects map[string]*window
}

// New creates a limiter. A disabled limit yields a limiter whose Allow
// always passes.
func New(limit Limit) *Limiter {
	return &Limiter{
		limit:    limit,
		subjects: make(map[string]*window),
	}
}

// Allow checks and, when within the limit, counts one submission for
// the subject. The window resets once its duration has fully elapsed.
func (l *Limiter) Allow(subjectID string, now time.Time) CheckResult {
	if !l.limit.Enabled() {
		return CheckResult{}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.subjects[subjectID]
	if w == nil || now.Sub(w.start) >= l.limit.Window {
		w = &window{start: now}
		l.subjects[subjectID] = w
	}

	if w.count >= l.limit.MaxRequests {
		return CheckResult{
			Exceeded: true,
			Current:  w.count,
			Limit:    l.limit.MaxRequests,
			Reason: fmt.Sprintf("rate limit exceeded: %d/%d submissions in %s window",
				w.count, l.limit.MaxRequests, l.limit.Window),
		}
	}

	w.count++
	return CheckResult{Current: w.count, Limit: l.limit.MaxRequests}
}
