package server

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/gexflow/internal/broker"
	"github.com/dgnsrekt/gexflow/internal/gex"
)

// BrokerErrorRecorder counts upstream failures for instrumentation.
type BrokerErrorRecorder interface {
	RecordBrokerError(kind string)
}

// Service orchestrates one request cycle: pull quote, expiration, chain and
// VIX from the broker, then hand the bundle to the engine. Upstream failures
// degrade to the last good snapshot instead of erroring out.
type Service struct {
	engine   *gex.Engine
	data     broker.MarketData
	vix      broker.VIXProvider
	logger   *zap.Logger
	recorder BrokerErrorRecorder
	now      func() time.Time
}

type ServiceOption func(*Service)

func WithErrorRecorder(rec BrokerErrorRecorder) ServiceOption {
	return func(s *Service) { s.recorder = rec }
}

func NewService(engine *gex.Engine, data broker.MarketData, vix broker.VIXProvider, logger *zap.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		engine: engine,
		data:   data,
		vix:    vix,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot fetches raw data for a symbol and evaluates it. The returned
// Result always carries an explicit state; broker failures surface as a
// cached fallback when a previous snapshot exists, otherwise unavailable.
func (s *Service) Snapshot(ctx context.Context, symbol string) gex.Result {
	quote, err := s.data.GetQuote(ctx, symbol)
	if err != nil {
		return s.upstreamFallback(symbol, "quote", err)
	}

	expiration, err := s.frontExpiration(ctx, symbol)
	if err != nil {
		return s.upstreamFallback(symbol, "expirations", err)
	}

	chain, err := s.data.GetOptionChain(ctx, symbol, expiration)
	if err != nil {
		return s.upstreamFallback(symbol, "chain", err)
	}

	// VIX is enrichment only. A dead VIX feed must not block gamma data.
	vix, err := s.vix.GetVIXPrice(ctx)
	if err != nil {
		s.countBrokerError("vix")
		s.logger.Warn("vix unavailable, snapshot proceeds without it", zap.Error(err))
		vix = 0
	}

	return s.engine.Evaluate(ctx, symbol, gex.Input{
		Chain:      chain,
		SpotPrice:  quote.Last,
		VIX:        vix,
		Expiration: expiration,
		FetchedAt:  s.now(),
	})
}

// frontExpiration picks the nearest listed expiration at or after today.
func (s *Service) frontExpiration(ctx context.Context, symbol string) (string, error) {
	dates, err := s.data.GetOptionExpirations(ctx, symbol)
	if err != nil {
		return "", err
	}
	if len(dates) == 0 {
		return "", broker.ErrNoData
	}

	sort.Strings(dates)
	today := s.now().Format("2006-01-02")
	for _, d := range dates {
		if d >= today {
			return d, nil
		}
	}
	return dates[len(dates)-1], nil
}

func (s *Service) countBrokerError(kind string) {
	if s.recorder != nil {
		s.recorder.RecordBrokerError(kind)
	}
}

func (s *Service) upstreamFallback(symbol, kind string, err error) gex.Result {
	s.countBrokerError(kind)
	s.logger.Warn(kind+" fetch failed", zap.String("symbol", symbol), zap.Error(err))

	if prev := s.engine.Previous(symbol); prev != nil {
		return gex.Result{
			State:    gex.StateCached,
			Snapshot: prev,
			CacheAge: s.now().Sub(prev.SnapshotTime),
			Reason:   gex.ReasonUpstream,
		}
	}
	return gex.Result{
		State:   gex.StateUnavailable,
		Reason:  gex.ReasonUpstream,
		Message: err.Error(),
	}
}
