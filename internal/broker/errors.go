package broker

import "errors"

var (
	// ErrNoData means the upstream answered but had no contracts for the
	// requested expiration. Distinct from a genuine zero-gamma market.
	ErrNoData = errors.New("no option data for this symbol/expiration")

	// ErrVIXUnavailable means every configured VIX source was exhausted.
	// Callers must treat this as fatal for the request; a fabricated VIX
	// would corrupt expected-move and regime-confidence downstream.
	ErrVIXUnavailable = errors.New("all VIX sources exhausted")

	ErrRateLimited = errors.New("rate limited by broker API")
)
