package history

import (
	"testing"
	"time"
)

func eastern(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatal(err)
	}
	return loc
}

func TestROC_ColdStart(t *testing.T) {
	s := NewStore(eastern(t))
	now := time.Date(2025, 6, 2, 10, 0, 0, 0, eastern(t))

	// No history at all.
	if got := s.ROC("6000", now, Window5Min); got != 0 {
		t.Errorf("expected 0 on empty store, got %f", got)
	}

	// One observation, but nothing at-or-before now-window.
	s.Record("6000", 150, now)
	if got := s.ROC("6000", now, Window5Min); got != 0 {
		t.Errorf("expected 0 with insufficient span, got %f", got)
	}
	if got := s.ROCTradingDay("6000", now); got != 0 {
		t.Errorf("expected trading-day ROC 0 at session open, got %f", got)
	}
}

func TestROC_PercentChange(t *testing.T) {
	s := NewStore(eastern(t))
	base := time.Date(2025, 6, 2, 10, 0, 0, 0, eastern(t))

	s.Record("6000", 100, base)
	s.Record("6000", 150, base.Add(5*time.Minute))

	got := s.ROC("6000", base.Add(5*time.Minute), Window5Min)
	if got != 50 {
		t.Errorf("expected ROC 50%%, got %f", got)
	}

	// Negative base: percent change is against the absolute base value.
	s.Record("5990", -100, base)
	s.Record("5990", -50, base.Add(5*time.Minute))
	got = s.ROC("5990", base.Add(5*time.Minute), Window5Min)
	if got != 50 {
		t.Errorf("expected ROC 50%% against |base|, got %f", got)
	}
}

func TestROC_ClosestAtOrBefore(t *testing.T) {
	s := NewStore(eastern(t))
	base := time.Date(2025, 6, 2, 10, 0, 0, 0, eastern(t))

	s.Record("6000", 100, base)
	s.Record("6000", 200, base.Add(2*time.Minute))
	s.Record("6000", 400, base.Add(10*time.Minute))

	// Horizon is 10:05; the closest entry at-or-before is the 10:02 one.
	got := s.ROC("6000", base.Add(10*time.Minute), Window5Min)
	if got != 100 {
		t.Errorf("expected ROC 100%% from the 10:02 base, got %f", got)
	}
}

func TestROC_ZeroBase(t *testing.T) {
	s := NewStore(eastern(t))
	base := time.Date(2025, 6, 2, 10, 0, 0, 0, eastern(t))

	s.Record("6000", 0, base)
	s.Record("6000", 500, base.Add(time.Minute))

	if got := s.ROC("6000", base.Add(time.Minute), Window1Min); got != 0 {
		t.Errorf("expected 0 on zero base value, got %f", got)
	}
}

func TestROC_TimezoneNormalization(t *testing.T) {
	loc := eastern(t)
	s := NewStore(loc)

	// Same instant expressed in UTC and in venue time must compare equal.
	utc := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC) // 10:00 ET
	s.Record("6000", 100, utc)
	s.Record("6000", 120, time.Date(2025, 6, 2, 10, 1, 0, 0, loc))

	got := s.ROC("6000", time.Date(2025, 6, 2, 10, 1, 0, 0, loc), Window1Min)
	if got != 20 {
		t.Errorf("expected ROC 20%% across mixed offsets, got %f", got)
	}
}

func TestResetSession(t *testing.T) {
	loc := eastern(t)
	s := NewStore(loc)

	prevDay := time.Date(2025, 6, 1, 15, 0, 0, 0, loc)
	open := time.Date(2025, 6, 2, 9, 30, 0, 0, loc)

	s.Record("6000", 100, prevDay)
	s.Record("6000", 200, open)
	s.Record("6010", 50, prevDay.Add(time.Hour))

	s.ResetSession(open)

	if s.Count("6000") != 1 {
		t.Errorf("expected prior-session rows trimmed, count=%d", s.Count("6000"))
	}
	if s.Count("6010") != 0 {
		t.Errorf("expected 6010 fully trimmed, count=%d", s.Count("6010"))
	}
	if !s.SessionStart().Equal(open) {
		t.Errorf("expected session start %v, got %v", open, s.SessionStart())
	}
}

func TestPurgeIdempotent(t *testing.T) {
	loc := eastern(t)
	s := NewStore(loc)
	base := time.Date(2025, 6, 2, 9, 30, 0, 0, loc)

	for i := 0; i < 5; i++ {
		s.Record("6000", float64(i), base.Add(time.Duration(i)*time.Hour))
	}

	cutoff := base.Add(2 * time.Hour)
	if dropped := s.Purge(cutoff); dropped != 2 {
		t.Errorf("expected 2 dropped, got %d", dropped)
	}
	if dropped := s.Purge(cutoff); dropped != 0 {
		t.Errorf("second purge must drop nothing, got %d", dropped)
	}
	if s.Count("6000") != 3 {
		t.Errorf("expected 3 remaining, got %d", s.Count("6000"))
	}
}

func TestLoadRehydration(t *testing.T) {
	loc := eastern(t)
	s := NewStore(loc)
	base := time.Date(2025, 6, 2, 9, 30, 0, 0, loc)

	// Out-of-order persisted rows are sorted on load.
	s.Load([]Observation{
		{Strike: "6000", NetGamma: 200, RecordedAt: base.Add(5 * time.Minute)},
		{Strike: "6000", NetGamma: 100, RecordedAt: base},
	})

	got := s.ROC("6000", base.Add(5*time.Minute), Window5Min)
	if got != 100 {
		t.Errorf("expected ROC 100%% after rehydration, got %f", got)
	}

	latest, ok := s.Latest("6000")
	if !ok || latest.NetGamma != 200 {
		t.Errorf("expected latest 200, got %+v ok=%v", latest, ok)
	}
}

func TestWatermark(t *testing.T) {
	loc := eastern(t)
	s := NewStore(loc)
	base := time.Date(2025, 6, 2, 9, 30, 0, 0, loc)

	if _, ok := s.MaxRecordedAt(); ok {
		t.Error("empty store must have no watermark")
	}

	s.Record("6000", 100, base)
	s.Record("6010", 50, base.Add(time.Minute))

	max, ok := s.MaxRecordedAt()
	if !ok || !max.Equal(base.Add(time.Minute)) {
		t.Errorf("unexpected watermark %v ok=%v", max, ok)
	}

	newer := s.ObservationsSince(base)
	if len(newer) != 1 || newer[0].Strike != "6010" {
		t.Errorf("expected only the post-watermark row, got %+v", newer)
	}
}
