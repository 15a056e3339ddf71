package ratelimit

import (
	"testing"
	"time"
)

func TestDisabledLimitAlwaysAllows(t *testing.T) {
	l := New(Limit{})
	now := time.Now()
	for i := 0; i < 1000; i++ {
		if res := l.Allow("S1", now); res.Exceeded {
			t.Fatalf("disabled limiter rejected at %d", i)
		}
	}
}

func TestLimitEnforcedWithinWindow(t *testing.T) {
	l := New(Limit{MaxRequests: 3, Window: time.Minute})
	now := time.Now()

	for i := 1; i <= 3; i++ {
		res := l.Allow("S1", now)
		if res.Exceeded {
			t.Fatalf("request %d rejected within limit", i)
		}
		if res.Current != i {
			t.Errorf("current = %d, want %d", res.Current, i)
		}
	}

	res := l.Allow("S1", now)
	if !res.Exceeded {
		t.Fatal("fourth request must be rejected")
	}
	if res.Reason == "" {
		t.Error("rejection must carry a reason")
	}
}

func TestWindowResets(t *testing.T) {
	l := New(Limit{MaxRequests: 1, Window: time.Minute})
	now := time.Now()

	if res := l.Allow("S1", now); res.Exceeded {
		t.Fatal("first request rejected")
	}
	if res := l.Allow("S1", now.Add(30*time.Second)); !res.Exceeded {
		t.Fatal("second request inside window must be rejected")
	}
	if res := l.Allow("S1", now.Add(time.Minute)); res.Exceeded {
		t.Fatal("request after window elapsed must pass")
	}
}

func TestSubjectsAreIndependent(t *testing.T) {
	l := New(Limit{MaxRequests: 1, Window: time.Minute})
	now := time.Now()

	l.Allow("S1", now)
	if res := l.Allow("S1", now); !res.Exceeded {
		t.Fatal("S1 over limit must be rejected")
	}
	if res := l.Allow("S2", now); res.Exceeded {
		t.Fatal("S2 must not share S1's window")
	}
}
