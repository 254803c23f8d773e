// Package gex derives dealer gamma-exposure market structure from raw
// option chains: net gamma by strike, the flip point, call/put walls,
// multi-window rate of change, pin probability and danger zones.
package gex

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/scmhub/calendar"
	"go.uber.org/zap"

	"github.com/dgnsrekt/gexflow/internal/config"
	"github.com/dgnsrekt/gexflow/internal/history"
	"github.com/dgnsrekt/gexflow/internal/market"
)

// State labels the freshness of an engine response.
type State string

const (
	StateFresh       State = "fresh"
	StateCached      State = "cached"
	StateFrozen      State = "frozen"
	StateUnavailable State = "unavailable"
)

// Result is the envelope every caller receives: a snapshot with explicit
// freshness, or a structured unavailable reason. Never a bare error.
type Result struct {
	State    State            `json:"state"`
	Snapshot *market.Snapshot `json:"snapshot,omitempty"`
	CacheAge time.Duration    `json:"cache_age,omitempty"`
	Reason   string           `json:"reason,omitempty"`
	Message  string           `json:"message,omitempty"`
}

// Unavailable reasons.
const (
	ReasonEmptyChain  = "empty_chain"
	ReasonInvalidSpot = "invalid_spot"
	ReasonUpstream    = "upstream_error"
)

// Input is one raw data pull handed to the engine.
type Input struct {
	Chain      []market.OptionContract
	SpotPrice  float64
	VIX        float64
	Expiration string
	FetchedAt  time.Time
}

// Repository persists engine state for restart continuity. All writes are
// best-effort: a persistence failure never aborts snapshot construction.
type Repository interface {
	LoadHistory(ctx context.Context, symbol string, since time.Time) ([]history.Observation, error)
	AppendHistory(ctx context.Context, symbol string, obs []history.Observation) error
	SaveSnapshot(ctx context.Context, snap *market.Snapshot) error
	SaveAlerts(ctx context.Context, alerts []market.Alert) error
	LogDangerZones(ctx context.Context, symbol string, spot float64, zones []market.DangerZone, at time.Time) error
	ResolveDangerZones(ctx context.Context, symbol string, at time.Time) (int64, error)
	SavePinPrediction(ctx context.Context, symbol string, pinStrike, confidence float64, regime market.Regime, vix float64, at time.Time) error
}

// Sink receives fresh snapshots for fan-out (websocket, redis, ntfy).
type Sink interface {
	OnFresh(ctx context.Context, snap *market.Snapshot, alerts []market.Alert)
}

// Recorder abstracts instrumentation so the engine stays metrics-agnostic.
type Recorder interface {
	RecordResult(state string)
	ObserveProcess(seconds float64)
}

// symbolState is the per-symbol mutable state: the history store, the last
// good snapshot, its fetch time and the daily-reset guard. The mutex makes
// the check-then-reprocess sequence a critical section per symbol.
type symbolState struct {
	mu        sync.Mutex
	history   *history.Store
	prev      *market.Snapshot
	prevAt    time.Time
	resetDay  string // YYYY-MM-DD of the last session reset
}

// Engine owns all per-symbol state. Construct one per market; there are no
// package-level globals.
type Engine struct {
	cfg    config.EngineConfig
	loc    *time.Location
	cal    *calendar.Calendar
	logger *zap.Logger

	repo     Repository
	sinks    []Sink
	recorder Recorder
	now      func() time.Time

	mu     sync.Mutex
	states map[string]*symbolState
}

// Option configures optional engine collaborators.
type Option func(*Engine)

func WithRepository(repo Repository) Option { return func(e *Engine) { e.repo = repo } }
func WithSink(sink Sink) Option             { return func(e *Engine) { e.sinks = append(e.sinks, sink) } }
func WithRecorder(rec Recorder) Option      { return func(e *Engine) { e.recorder = rec } }

// WithClock overrides the engine clock, for tests.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// NewEngine builds an engine for the configured venue timezone and the NYSE
// trading calendar.
func NewEngine(cfg config.EngineConfig, logger *zap.Logger, opts ...Option) (*Engine, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading venue timezone: %w", err)
	}

	e := &Engine{
		cfg:    cfg,
		loc:    loc,
		cal:    calendar.XNYS(),
		logger: logger,
		now:    time.Now,
		states: make(map[string]*symbolState),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Engine) state(symbol string) *symbolState {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.states[symbol]
	if !ok {
		st = &symbolState{history: history.NewStore(e.loc)}
		e.states[symbol] = st
	}
	return st
}

// Rehydrate loads persisted gamma history for every configured symbol so
// ROC windows survive process restarts. Missing repository or rows are not
// errors; the engine simply starts cold.
func (e *Engine) Rehydrate(ctx context.Context) {
	if e.repo == nil {
		return
	}
	since := e.now().Add(-e.cfg.HistoryRetention())
	for _, symbol := range e.cfg.Symbols {
		obs, err := e.repo.LoadHistory(ctx, symbol, since)
		if err != nil {
			e.logger.Warn("history rehydration failed",
				zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		if len(obs) == 0 {
			continue
		}
		st := e.state(symbol)
		st.mu.Lock()
		st.history.Load(obs)
		st.mu.Unlock()
		e.logger.Info("history rehydrated",
			zap.String("symbol", symbol), zap.Int("observations", len(obs)))
	}
}

// Location returns the venue timezone the engine operates in.
func (e *Engine) Location() *time.Location {
	return e.loc
}

// MarketOpen reports whether the venue is inside its regular session.
func (e *Engine) MarketOpen(now time.Time) bool {
	now = now.In(e.loc)
	if !e.cal.IsBusinessDay(now) {
		return false
	}
	open := e.sessionStartAt(now)
	end := clockAt(now, e.cfg.SessionEndClock())
	return !now.Before(open) && now.Before(end)
}

func (e *Engine) sessionStartAt(day time.Time) time.Time {
	return clockAt(day.In(e.loc), e.cfg.SessionStartClock())
}

func clockAt(day time.Time, ct config.ClockTime) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), ct.Hour, ct.Minute, 0, 0, day.Location())
}

// Evaluate runs the freshness decision and, when warranted, the full
// processing pipeline for one symbol. This is the only entry point that
// mutates per-symbol state.
func (e *Engine) Evaluate(ctx context.Context, symbol string, input Input) Result {
	st := e.state(symbol)
	st.mu.Lock()
	defer st.mu.Unlock()

	now := e.now().In(e.loc)
	e.maybeDailyReset(st, now)

	open := e.MarketOpen(now)

	// After hours with a previous snapshot: frozen replay, bit-identical,
	// even if fresh raw data was fetched. VIX included.
	if !open && st.prev != nil {
		return e.record(Result{
			State:    StateFrozen,
			Snapshot: st.prev,
			CacheAge: now.Sub(st.prevAt),
		})
	}

	if len(input.Chain) == 0 {
		return e.record(e.fallback(st, now, ReasonEmptyChain,
			"no contracts returned for requested expiration"))
	}
	if input.SpotPrice <= 0 {
		return e.record(e.fallback(st, now, ReasonInvalidSpot,
			fmt.Sprintf("invalid spot price %f", input.SpotPrice)))
	}

	// Data served from an upstream cache inside the freshness window is a
	// duplicate: reprocessing it would insert a second near-identical
	// observation and silently flatten short-window ROC.
	if open && st.prev != nil && now.Sub(input.FetchedAt) > e.cfg.FreshnessMaxAge() {
		return e.record(Result{
			State:    StateCached,
			Snapshot: st.prev,
			CacheAge: now.Sub(st.prevAt),
		})
	}

	started := time.Now()
	snap := e.process(st, symbol, input, now, open)
	if e.recorder != nil {
		e.recorder.ObserveProcess(time.Since(started).Seconds())
	}

	alerts := BuildAlerts(snap, st.prev, now)
	zonesCleared := st.prev != nil && len(st.prev.DangerZones) > 0 && len(snap.DangerZones) == 0
	st.prev = snap
	st.prevAt = now

	e.persist(ctx, st, symbol, snap, alerts, now, zonesCleared)
	for _, sink := range e.sinks {
		sink.OnFresh(ctx, snap, alerts)
	}

	return e.record(Result{State: StateFresh, Snapshot: snap})
}

// fallback returns the last good snapshot when one exists, otherwise a
// structured unavailable result.
func (e *Engine) fallback(st *symbolState, now time.Time, reason, message string) Result {
	if st.prev != nil {
		e.logger.Warn("falling back to previous snapshot",
			zap.String("symbol", st.prev.Symbol), zap.String("reason", reason))
		return Result{
			State:    StateCached,
			Snapshot: st.prev,
			CacheAge: now.Sub(st.prevAt),
			Reason:   reason,
		}
	}
	return Result{State: StateUnavailable, Reason: reason, Message: message}
}

func (e *Engine) record(r Result) Result {
	if e.recorder != nil {
		e.recorder.RecordResult(string(r.State))
	}
	return r
}

// maybeDailyReset clears smoothing state at the first request at-or-after
// the operational session start each calendar day, exactly once per day.
func (e *Engine) maybeDailyReset(st *symbolState, now time.Time) {
	today := now.Format("2006-01-02")
	if st.resetDay == today {
		return
	}
	open := e.sessionStartAt(now)
	if now.Before(open) {
		return
	}
	st.history.ResetSession(open)
	st.prev = nil
	st.prevAt = time.Time{}
	st.resetDay = today
}

// process runs pipeline steps 2-7: history append, ROC, regime, structure,
// pin/danger, assembly. Input is already validated. Caller holds st.mu.
func (e *Engine) process(st *symbolState, symbol string, input Input, now time.Time, open bool) *market.Snapshot {
	records := aggregateChain(input.Chain, input.SpotPrice)

	// Step 2: one history observation per strike, exactly once per fresh
	// ingestion.
	for i := range records {
		st.history.Record(records[i].Strike.String(), records[i].NetGamma, now)
	}

	// Step 3: ROC for all six windows.
	total := 0.0
	for i := range records {
		key := records[i].Strike.String()
		records[i].ROC1Min = st.history.ROC(key, now, history.Window1Min)
		records[i].ROC5Min = st.history.ROC(key, now, history.Window5Min)
		records[i].ROC30Min = st.history.ROC(key, now, history.Window30Min)
		records[i].ROC1Hr = st.history.ROC(key, now, history.Window1Hr)
		records[i].ROC4Hr = st.history.ROC(key, now, history.Window4Hr)
		records[i].ROCTradingDay = st.history.ROCTradingDay(key, now)
		total += records[i].NetGamma
	}

	// Step 4: regime and flip.
	regime := ClassifyRegime(total, e.cfg.NeutralGammaThreshold)
	var prevRegime *market.Regime
	if st.prev != nil {
		r := st.prev.GammaRegime
		prevRegime = &r
	}
	flipped := DetectRegimeFlip(regime, prevRegime)

	// Step 5: structure.
	flipPoint := FlipPoint(records, input.SpotPrice)
	callWall := CallWall(records, input.SpotPrice)
	putWall := PutWall(records, input.SpotPrice)

	// Step 6: magnets, danger zones, pin, per-strike flips.
	magnets := Magnets(records, input.SpotPrice, e.cfg.MagnetCount)
	markMagnets(records, magnets)

	var zones []market.DangerZone
	for i := range records {
		if d := DangerFor(records[i].ROC1Min, records[i].ROC5Min,
			e.cfg.SpikeROCThreshold, e.cfg.BuildROCThreshold); d != nil {
			records[i].IsDanger = true
			records[i].DangerType = d
			zones = append(zones, market.DangerZone{
				Strike:     records[i].Strike.InexactFloat64(),
				DangerType: *d,
				ROC1Min:    records[i].ROC1Min,
				ROC5Min:    records[i].ROC5Min,
			})
		}
	}

	pin := LikelyPin(records, input.SpotPrice)
	var likelyPin *float64
	pinProb := 0.0
	if pin != nil {
		likelyPin = &pin.Strike
		pinProb = pin.Probability
		for i := range records {
			if records[i].Strike.InexactFloat64() == pin.Strike {
				records[i].IsPin = true
			}
		}
	}

	flips := detectGammaFlips(records, st.prev)

	status := market.MarketClosed
	if open {
		status = market.MarketOpen
	}

	// Step 7: assemble.
	return &market.Snapshot{
		Symbol:         symbol,
		ExpirationDate: input.Expiration,
		SnapshotTime:   now,
		SpotPrice:      input.SpotPrice,
		VIX:            input.VIX,
		ExpectedMove:   ExpectedMove(input.SpotPrice, input.VIX),
		Strikes:        records,
		TotalNetGamma:  total,
		GammaRegime:    regime,
		PreviousRegime: prevRegime,
		RegimeFlipped:  flipped,
		FlipPoint:      flipPoint,
		CallWall:       callWall,
		PutWall:        putWall,
		Magnets:        magnets,
		LikelyPin:      likelyPin,
		PinProbability: pinProb,
		DangerZones:    zones,
		GammaFlips:     flips,
		PinningStatus:  BuildPinningStatus(pin, input.SpotPrice, e.cfg.PinProximityPct, zones),
		MarketStatus:   status,
	}
}

// persist writes durable rows on true fresh reprocesses only. Every write
// is logged and swallowed on failure; the in-memory snapshot is the primary
// deliverable.
func (e *Engine) persist(ctx context.Context, st *symbolState, symbol string, snap *market.Snapshot, alerts []market.Alert, now time.Time, zonesCleared bool) {
	// Trim in-memory history to the hard retention ceiling on every fresh
	// pass, keeping memory bounded without a background thread.
	st.history.Purge(now.Add(-e.cfg.HistoryRetention()))

	if e.repo == nil {
		return
	}

	obs := make([]history.Observation, 0, len(snap.Strikes))
	for _, rec := range snap.Strikes {
		obs = append(obs, history.Observation{
			Strike:     rec.Strike.String(),
			NetGamma:   rec.NetGamma,
			RecordedAt: now,
		})
	}
	if err := e.repo.AppendHistory(ctx, symbol, obs); err != nil {
		e.logger.Warn("history persist failed", zap.String("symbol", symbol), zap.Error(err))
	}
	if err := e.repo.SaveSnapshot(ctx, snap); err != nil {
		e.logger.Warn("snapshot persist failed", zap.String("symbol", symbol), zap.Error(err))
	}
	if len(alerts) > 0 {
		if err := e.repo.SaveAlerts(ctx, alerts); err != nil {
			e.logger.Warn("alert persist failed", zap.String("symbol", symbol), zap.Error(err))
		}
	}
	if len(snap.DangerZones) > 0 {
		if err := e.repo.LogDangerZones(ctx, symbol, snap.SpotPrice, snap.DangerZones, now); err != nil {
			e.logger.Warn("danger-zone persist failed", zap.String("symbol", symbol), zap.Error(err))
		}
	}
	if zonesCleared {
		if _, err := e.repo.ResolveDangerZones(ctx, symbol, now); err != nil {
			e.logger.Warn("danger-zone resolve failed", zap.String("symbol", symbol), zap.Error(err))
		}
	}
	if snap.LikelyPin != nil && snap.PinProbability >= e.cfg.PinConfidenceFloor {
		if err := e.repo.SavePinPrediction(ctx, symbol, *snap.LikelyPin, snap.PinProbability,
			snap.GammaRegime, snap.VIX, now); err != nil {
			e.logger.Warn("pin-prediction persist failed", zap.String("symbol", symbol), zap.Error(err))
		}
	}
}

// Previous returns the last good snapshot for a symbol, or nil.
func (e *Engine) Previous(symbol string) *market.Snapshot {
	st := e.state(symbol)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.prev
}

// HistoryCount reports observations held for one strike of a symbol.
// Exposed for freshness diagnostics and tests.
func (e *Engine) HistoryCount(symbol, strike string) int {
	st := e.state(symbol)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.history.Count(strike)
}

// WarmSymbols lists symbols that have produced at least one snapshot.
func (e *Engine) WarmSymbols() []string {
	e.mu.Lock()
	states := make(map[string]*symbolState, len(e.states))
	for symbol, st := range e.states {
		states[symbol] = st
	}
	e.mu.Unlock()

	var out []string
	for symbol, st := range states {
		st.mu.Lock()
		warm := st.prev != nil
		st.mu.Unlock()
		if warm {
			out = append(out, symbol)
		}
	}
	sort.Strings(out)
	return out
}

// ExpectedMove estimates the one-day expected move implied by VIX.
func ExpectedMove(spot, vix float64) float64 {
	if spot <= 0 || vix <= 0 {
		return 0
	}
	return spot * vix / 100 / math.Sqrt(252)
}

// aggregateChain folds raw contracts into per-strike records sorted by
// strike ascending. Call and put rows for the same strike merge into one
// record.
func aggregateChain(chain []market.OptionContract, spot float64) []market.StrikeRecord {
	byStrike := make(map[string]*market.StrikeRecord)
	for _, c := range chain {
		key := c.Strike.String()
		rec, ok := byStrike[key]
		if !ok {
			rec = &market.StrikeRecord{Strike: c.Strike}
			byStrike[key] = rec
		}
		switch c.OptionType {
		case market.OptionCall:
			rec.CallGamma = c.Gamma
			rec.CallOpenInterest = c.OpenInterest
		case market.OptionPut:
			rec.PutGamma = c.Gamma
			rec.PutOpenInterest = c.OpenInterest
		}
	}

	records := make([]market.StrikeRecord, 0, len(byStrike))
	for _, rec := range byStrike {
		rec.NetGamma = market.NetGammaDollars(rec.CallGamma, rec.CallOpenInterest,
			rec.PutGamma, rec.PutOpenInterest, spot)
		records = append(records, *rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Strike.LessThan(records[j].Strike)
	})
	return records
}

func markMagnets(records []market.StrikeRecord, magnets []market.Magnet) {
	for _, m := range magnets {
		for i := range records {
			if records[i].Strike.InexactFloat64() == m.Strike {
				rank := m.Rank
				records[i].IsMagnet = true
				records[i].MagnetRank = &rank
			}
		}
	}
}

// detectGammaFlips compares per-strike net gamma signs against the previous
// snapshot. Strikes absent from the previous snapshot cannot flip.
func detectGammaFlips(records []market.StrikeRecord, prev *market.Snapshot) []market.GammaFlip {
	if prev == nil {
		return nil
	}
	prevGamma := make(map[string]float64, len(prev.Strikes))
	for _, rec := range prev.Strikes {
		prevGamma[rec.Strike.String()] = rec.NetGamma
	}

	var flips []market.GammaFlip
	for i := range records {
		before, ok := prevGamma[records[i].Strike.String()]
		if !ok || before == 0 || records[i].NetGamma == 0 {
			continue
		}
		if (before < 0) == (records[i].NetGamma < 0) {
			continue
		}
		dir := market.FlipNegToPos
		if before > 0 {
			dir = market.FlipPosToNeg
		}
		records[i].GammaFlipped = true
		records[i].FlipDirection = &dir
		flips = append(flips, market.GammaFlip{
			Strike:      records[i].Strike.InexactFloat64(),
			Direction:   dir,
			GammaBefore: before,
			GammaAfter:  records[i].NetGamma,
		})
	}
	return flips
}
