// Package history holds the bounded per-strike net-gamma time series that
// backs the rate-of-change windows. One Store serves exactly one symbol and
// is owned by the engine; nothing else mutates it.
package history

import (
	"sort"
	"sync"
	"time"
)

// Window identifiers for the fixed ROC look-backs.
const (
	Window1Min  = 1 * time.Minute
	Window5Min  = 5 * time.Minute
	Window30Min = 30 * time.Minute
	Window1Hr   = 1 * time.Hour
	Window4Hr   = 4 * time.Hour
)

// Observation is a single (timestamp, net gamma) sample for a strike.
type Observation struct {
	Strike     string
	NetGamma   float64
	RecordedAt time.Time
}

// Store is an insertion-ordered series of observations per strike, bounded
// by the session window plus a hard retention ceiling.
type Store struct {
	mu           sync.RWMutex
	loc          *time.Location
	series       map[string][]Observation
	sessionStart time.Time
}

// NewStore creates an empty store. Timestamps recorded into the store are
// normalized to loc before comparison so mixed-offset inputs cannot corrupt
// window lookups.
func NewStore(loc *time.Location) *Store {
	if loc == nil {
		loc = time.UTC
	}
	return &Store{
		loc:    loc,
		series: make(map[string][]Observation),
	}
}

func (s *Store) normalize(t time.Time) time.Time {
	return t.In(s.loc)
}

// Record appends one observation for a strike. It never overwrites; callers
// are responsible for not feeding duplicate/cached pulls (see the engine's
// freshness layer).
func (s *Store) Record(strike string, netGamma float64, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts = s.normalize(ts)
	s.series[strike] = append(s.series[strike], Observation{
		Strike:     strike,
		NetGamma:   netGamma,
		RecordedAt: ts,
	})
	if s.sessionStart.IsZero() || ts.Before(s.sessionStart) {
		s.sessionStart = ts
	}
}

// Load rehydrates the store from persisted rows, e.g. at process start.
// Rows are sorted per strike by timestamp so later lookups stay ordered.
func (s *Store) Load(obs []Observation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range obs {
		o.RecordedAt = s.normalize(o.RecordedAt)
		s.series[o.Strike] = append(s.series[o.Strike], o)
		if s.sessionStart.IsZero() || o.RecordedAt.Before(s.sessionStart) {
			s.sessionStart = o.RecordedAt
		}
	}
	for strike := range s.series {
		seq := s.series[strike]
		sort.SliceStable(seq, func(i, j int) bool {
			return seq[i].RecordedAt.Before(seq[j].RecordedAt)
		})
		s.series[strike] = seq
	}
}

// Latest returns the newest observation for a strike.
func (s *Store) Latest(strike string) (Observation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seq := s.series[strike]
	if len(seq) == 0 {
		return Observation{}, false
	}
	return seq[len(seq)-1], true
}

// valueAt returns the observation with the closest timestamp at-or-before
// cutoff. Callers hold at least a read lock.
func (s *Store) valueAt(strike string, cutoff time.Time) (Observation, bool) {
	seq := s.series[strike]
	for i := len(seq) - 1; i >= 0; i-- {
		if !seq[i].RecordedAt.After(cutoff) {
			return seq[i], true
		}
	}
	return Observation{}, false
}

// ROC returns the percentage change of net gamma over the given look-back
// window, measured from the latest observation. Insufficient history or a
// zero base value yields 0; a cold start is not an error.
func (s *Store) ROC(strike string, now time.Time, window time.Duration) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now = s.normalize(now)
	seq := s.series[strike]
	if len(seq) == 0 {
		return 0
	}
	current := seq[len(seq)-1].NetGamma

	base, ok := s.valueAt(strike, now.Add(-window))
	if !ok || base.NetGamma == 0 {
		return 0
	}
	return (current - base.NetGamma) / abs(base.NetGamma) * 100
}

// ROCTradingDay measures change from the first observation of the current
// session. The session boundary is redefined by ResetSession at daily reset.
func (s *Store) ROCTradingDay(strike string, now time.Time) float64 {
	s.mu.RLock()
	start := s.sessionStart
	s.mu.RUnlock()
	if start.IsZero() {
		return 0
	}
	return s.ROC(strike, now, s.normalize(now).Sub(start))
}

// SessionStart reports the first observation time of the current session.
func (s *Store) SessionStart() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionStart
}

// ResetSession drops observations older than start and re-bases the
// trading-day window. Called once per day at the operational session open.
func (s *Store) ResetSession(start time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start = s.normalize(start)
	s.trimBefore(start)
	s.sessionStart = time.Time{}
	for _, seq := range s.series {
		if len(seq) == 0 {
			continue
		}
		if s.sessionStart.IsZero() || seq[0].RecordedAt.Before(s.sessionStart) {
			s.sessionStart = seq[0].RecordedAt
		}
	}
}

// Purge removes observations older than cutoff across all strikes and
// returns the number dropped. Safe to call concurrently with Record.
func (s *Store) Purge(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trimBefore(s.normalize(cutoff))
}

func (s *Store) trimBefore(cutoff time.Time) int {
	dropped := 0
	for strike, seq := range s.series {
		idx := sort.Search(len(seq), func(i int) bool {
			return !seq[i].RecordedAt.Before(cutoff)
		})
		if idx == 0 {
			continue
		}
		dropped += idx
		if idx >= len(seq) {
			delete(s.series, strike)
			continue
		}
		s.series[strike] = append([]Observation(nil), seq[idx:]...)
	}
	return dropped
}

// Count reports the number of observations held for a strike.
func (s *Store) Count(strike string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.series[strike])
}

// MaxRecordedAt returns the newest timestamp across all strikes, used as the
// persistence watermark when flushing history to durable storage.
func (s *Store) MaxRecordedAt() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var max time.Time
	found := false
	for _, seq := range s.series {
		if len(seq) == 0 {
			continue
		}
		last := seq[len(seq)-1].RecordedAt
		if !found || last.After(max) {
			max = last
			found = true
		}
	}
	return max, found
}

// ObservationsSince returns all observations newer than the watermark, in
// per-strike timestamp order.
func (s *Store) ObservationsSince(watermark time.Time) []Observation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Observation
	for _, seq := range s.series {
		for _, o := range seq {
			if o.RecordedAt.After(watermark) {
				out = append(out, o)
			}
		}
	}
	return out
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
