// Package broker wraps the market-data API the engine consumes: underlying
// quotes, option expirations and option chains with upstream-computed
// Greeks. Order placement is out of scope.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/gexflow/internal/market"
)

// MarketData is the engine-facing interface, small enough to mock in tests.
type MarketData interface {
	GetQuote(ctx context.Context, symbol string) (*market.Quote, error)
	GetOptionExpirations(ctx context.Context, symbol string) ([]string, error)
	GetOptionChain(ctx context.Context, symbol, expiration string) ([]market.OptionContract, error)
}

type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	limiter    *rate.Limiter
	retryCount int
	retryDelay time.Duration
	logger     *zap.Logger
}

func NewClient(baseURL, apiKey string, ratePerSec int, timeout, retryDelay time.Duration, retryCount int, logger *zap.Logger) *HTTPClient {
	transport := &http.Transport{
		MaxIdleConns:    100,
		MaxConnsPerHost: 10,
		IdleConnTimeout: 90 * time.Second,
	}

	return &HTTPClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		baseURL:    baseURL,
		apiKey:     apiKey,
		limiter:    rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec*2),
		retryCount: retryCount,
		retryDelay: retryDelay,
		logger:     logger,
	}
}

// getJSON performs an authenticated GET with bounded retries. Transient
// failures (transport errors, 5xx, 429) retry with exponential backoff;
// client-side failures never retry.
func (c *HTTPClient) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 0; attempt <= c.retryCount; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay * time.Duration(1<<(attempt-1)) // Exponential backoff
			c.logger.Debug("retrying request", zap.Int("attempt", attempt), zap.Duration("delay", delay))

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = ErrRateLimited
			continue
		}
		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
		}

		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
		return nil
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

type quoteResponse struct {
	Quotes struct {
		Quote quotePayload `json:"quote"`
	} `json:"quotes"`
}

type quotePayload struct {
	Symbol string  `json:"symbol"`
	Last   float64 `json:"last"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	Volume int64   `json:"volume"`
}

func (c *HTTPClient) GetQuote(ctx context.Context, symbol string) (*market.Quote, error) {
	query := url.Values{"symbols": {symbol}}

	var resp quoteResponse
	if err := c.getJSON(ctx, "/v1/markets/quotes", query, &resp); err != nil {
		return nil, fmt.Errorf("fetching quote for %s: %w", symbol, err)
	}

	q := resp.Quotes.Quote
	return &market.Quote{
		Symbol: q.Symbol,
		Last:   q.Last,
		Bid:    q.Bid,
		Ask:    q.Ask,
		Volume: q.Volume,
	}, nil
}

type expirationsResponse struct {
	Expirations struct {
		Date []string `json:"date"`
	} `json:"expirations"`
}

func (c *HTTPClient) GetOptionExpirations(ctx context.Context, symbol string) ([]string, error) {
	query := url.Values{"symbol": {symbol}}

	var resp expirationsResponse
	if err := c.getJSON(ctx, "/v1/markets/options/expirations", query, &resp); err != nil {
		return nil, fmt.Errorf("fetching expirations for %s: %w", symbol, err)
	}
	return resp.Expirations.Date, nil
}

type chainResponse struct {
	Options struct {
		Option []chainContract `json:"option"`
	} `json:"options"`
}

type chainContract struct {
	Strike       float64 `json:"strike"`
	OptionType   string  `json:"option_type"`
	OpenInterest int64   `json:"open_interest"`
	Bid          float64 `json:"bid"`
	Ask          float64 `json:"ask"`
	Last         float64 `json:"last"`
	Volume       int64   `json:"volume"`
	Greeks       *struct {
		Gamma float64 `json:"gamma"`
		MidIV float64 `json:"mid_iv"`
	} `json:"greeks"`
}

// GetOptionChain fetches the chain for one expiration. An empty contract
// list maps to ErrNoData so callers can distinguish "nothing listed" from a
// genuine zero-gamma market.
func (c *HTTPClient) GetOptionChain(ctx context.Context, symbol, expiration string) ([]market.OptionContract, error) {
	query := url.Values{
		"symbol":     {symbol},
		"expiration": {expiration},
		"greeks":     {"true"},
	}

	var resp chainResponse
	if err := c.getJSON(ctx, "/v1/markets/options/chains", query, &resp); err != nil {
		return nil, fmt.Errorf("fetching chain for %s/%s: %w", symbol, expiration, err)
	}
	if len(resp.Options.Option) == 0 {
		return nil, ErrNoData
	}

	chain := make([]market.OptionContract, 0, len(resp.Options.Option))
	for _, c := range resp.Options.Option {
		contract := market.OptionContract{
			Strike:       decimal.NewFromFloat(c.Strike),
			OptionType:   market.OptionType(c.OptionType),
			OpenInterest: c.OpenInterest,
			Bid:          c.Bid,
			Ask:          c.Ask,
			Last:         c.Last,
			Volume:       c.Volume,
		}
		if c.Greeks != nil {
			contract.Gamma = c.Greeks.Gamma
			contract.ImpliedVolatility = c.Greeks.MidIV
		}
		chain = append(chain, contract)
	}
	return chain, nil
}
