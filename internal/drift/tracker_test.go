package drift

import (
	"math"
	"testing"

	"github.com/driftgate/driftgate/internal/model"
)

func passVerdicts() []model.LayerVerdict {
	return []model.LayerVerdict{
		{LayerName: "structural", Severity: model.SeverityCritical, Passed: true},
		{LayerName: "governance", Severity: model.SeverityNormal, Passed: true},
	}
}

func failNormalVerdicts() []model.LayerVerdict {
	return []model.LayerVerdict{
		{LayerName: "structural", Severity: model.SeverityCritical, Passed: true},
		{LayerName: "governance", Severity: model.SeverityNormal, Passed: false, FailedPredicates: []string{"policy_acknowledged"}},
	}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestEmptyWindowIsZeroStable(t *testing.T) {
	tr := NewTracker(DefaultConfig())

	st := tr.Current("never-seen")
	if st.Score != 0 {
		t.Errorf("score = %v, want 0", st.Score)
	}
	if st.Trend != model.TrendStable {
		t.Errorf("trend = %s, want stable", st.Trend)
	}
	if st.SampleCount != 0 {
		t.Errorf("sample_count = %d, want 0", st.SampleCount)
	}
}

func TestFirstObservationStartsAtZero(t *testing.T) {
	tr := NewTracker(DefaultConfig())

	st := tr.Update("S1", passVerdicts(), 1000)
	if st.Score != 0 || st.Trend != model.TrendStable || st.SampleCount != 1 {
		t.Errorf("unexpected first state: %+v", st)
	}
}

func TestAllPassWindowScoresZero(t *testing.T) {
	tr := NewTracker(DefaultConfig())

	var st model.DriftState
	for i := 0; i < 10; i++ {
		st = tr.Update("S1", passVerdicts(), int64(1000+i))
	}
	if st.Score != 0 {
		t.Errorf("all-pass window must score 0, got %v", st.Score)
	}
	if st.Trend != model.TrendStable {
		t.Errorf("trend = %s, want stable", st.Trend)
	}
}

func TestEqualWeightScenario(t *testing.T) {
	// 5 observations, 4 passing and 1 failing a non-critical layer,
	// equal weights (decay 1.0) in a 5-sample window: score 0.2 and
	// trend degrading relative to the prior all-pass window.
	cfg := DefaultConfig()
	cfg.WindowSize = 5
	cfg.Decay = 1.0
	tr := NewTracker(cfg)

	for i := 0; i < 4; i++ {
		tr.Update("S1", passVerdicts(), int64(1000+i))
	}
	st := tr.Update("S1", failNormalVerdicts(), 1004)

	if !almostEqual(st.Score, 0.2) {
		t.Errorf("score = %v, want 0.2", st.Score)
	}
	if st.Trend != model.TrendDegrading {
		t.Errorf("trend = %s, want degrading", st.Trend)
	}
	if st.SampleCount != 5 {
		t.Errorf("sample_count = %d, want 5", st.SampleCount)
	}
}

func TestImprovingTrend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WindowSize = 4
	tr := NewTracker(cfg)

	tr.Update("S1", failNormalVerdicts(), 1)
	tr.Update("S1", failNormalVerdicts(), 2)
	var st model.DriftState
	for i := 3; i <= 6; i++ {
		st = tr.Update("S1", passVerdicts(), int64(i))
	}

	// The failures have slid out of the 4-sample window.
	if st.Score != 0 {
		t.Errorf("score = %v, want 0 after failures left the window", st.Score)
	}
	if st.Trend != model.TrendImproving {
		// Previous window still held one failure (score 0.25).
		t.Errorf("trend = %s, want improving", st.Trend)
	}

	st = tr.Update("S1", passVerdicts(), 7)
	if st.Trend != model.TrendStable {
		t.Errorf("trend = %s, want stable once both windows score 0", st.Trend)
	}
}

func TestDecayWeightsOlderFailuresLess(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WindowSize = 3
	cfg.Decay = 0.5
	tr := NewTracker(cfg)

	// Window (oldest→newest): fail, pass, pass.
	// Weights newest→oldest: 1, 0.5, 0.25. Score = 0.25/1.75 = 1/7.
	tr.Update("S1", failNormalVerdicts(), 1)
	tr.Update("S1", passVerdicts(), 2)
	st := tr.Update("S1", passVerdicts(), 3)

	if !almostEqual(st.Score, 0.25/1.75) {
		t.Errorf("score = %v, want %v", st.Score, 0.25/1.75)
	}

	// Same failure, placed newest, must weigh more.
	tr2 := NewTracker(cfg)
	tr2.Update("S2", passVerdicts(), 1)
	tr2.Update("S2", passVerdicts(), 2)
	st2 := tr2.Update("S2", failNormalVerdicts(), 3)

	if !almostEqual(st2.Score, 1.0/1.75) {
		t.Errorf("score = %v, want %v", st2.Score, 1.0/1.75)
	}
	if st2.Score <= st.Score {
		t.Error("a recent failure must outweigh an old one")
	}
}

func TestScoreStaysBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WindowSize = 8
	cfg.Decay = 0.7
	tr := NewTracker(cfg)

	var st model.DriftState
	for i := 0; i < 50; i++ {
		st = tr.Update("S1", failNormalVerdicts(), int64(i))
	}
	if st.Score < 0 || st.Score > 1 {
		t.Errorf("score out of bounds: %v", st.Score)
	}
	if !almostEqual(st.Score, 1.0) {
		t.Errorf("all-fail window must score 1.0, got %v", st.Score)
	}
}

func TestSnapshotsAreSuperseded(t *testing.T) {
	tr := NewTracker(DefaultConfig())

	first := tr.Update("S1", passVerdicts(), 1)
	second := tr.Update("S1", failNormalVerdicts(), 2)

	if first.WindowID == second.WindowID {
		t.Error("each update must produce a distinct snapshot")
	}
	if first.Score != 0 {
		t.Error("earlier snapshot mutated by later update")
	}
	if cur := tr.Current("S1"); cur.WindowID != second.WindowID {
		t.Error("current state must be the latest snapshot")
	}
}

func TestSubjectsAreIndependent(t *testing.T) {
	tr := NewTracker(DefaultConfig())

	tr.Update("bad", failNormalVerdicts(), 1)
	st := tr.Update("good", passVerdicts(), 1)

	if st.Score != 0 {
		t.Errorf("subject isolation broken: score %v", st.Score)
	}
}

func TestRestoreRebuildsWindow(t *testing.T) {
	tr := NewTracker(Config{WindowSize: 4, Decay: 1.0, Epsilon: 0.01})

	samples := []Sample{
		{Failed: false, Timestamp: 1000},
		{Failed: true, Timestamp: 2000},
		{Failed: false, Timestamp: 3000},
	}
	last := model.DriftState{
		SubjectID:   "S1",
		WindowID:    "w-restored",
		WindowStart: 1000,
		WindowEnd:   3000,
		SampleCount: 3,
		Score:       1.0 / 3.0,
		Trend:       model.TrendStable,
	}
	tr.Restore("S1", samples, last)

	got := tr.Current("S1")
	if got.WindowID != "w-restored" || got.SampleCount != 3 {
		t.Errorf("restored state lost: %+v", got)
	}

	// The next update folds into the restored window, not a fresh one.
	next := tr.Update("S1", passVerdicts(), 4000)
	if next.SampleCount != 4 {
		t.Errorf("sample count = %d, want 4", next.SampleCount)
	}
	if next.Score != 0.25 {
		t.Errorf("score = %g, want 0.25", next.Score)
	}
	if next.PrevScore != last.Score {
		t.Errorf("prev score = %g, want %g", next.PrevScore, last.Score)
	}
}
