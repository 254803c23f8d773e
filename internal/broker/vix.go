package broker

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// VIXProvider supplies the volatility index the engine folds into expected
// move. Implementations must fail loudly when exhausted.
type VIXProvider interface {
	GetVIXPrice(ctx context.Context) (float64, error)
}

// VIXSource tries a list of index symbols in order against the market-data
// client. It never returns a default or stale value: a silently-wrong VIX
// corrupts expected-move and regime-confidence computations, so exhaustion
// is an error by contract.
type VIXSource struct {
	client  MarketData
	symbols []string
	logger  *zap.Logger
}

func NewVIXSource(client MarketData, symbols []string, logger *zap.Logger) *VIXSource {
	return &VIXSource{
		client:  client,
		symbols: symbols,
		logger:  logger,
	}
}

func (v *VIXSource) GetVIXPrice(ctx context.Context) (float64, error) {
	var lastErr error
	for _, symbol := range v.symbols {
		quote, err := v.client.GetQuote(ctx, symbol)
		if err != nil {
			lastErr = err
			v.logger.Debug("vix source failed",
				zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		if quote.Last <= 0 {
			lastErr = errors.New("non-positive vix quote")
			continue
		}
		return quote.Last, nil
	}
	if lastErr != nil {
		return 0, errors.Join(ErrVIXUnavailable, lastErr)
	}
	return 0, ErrVIXUnavailable
}
