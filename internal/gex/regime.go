package gex

import "github.com/dgnsrekt/gexflow/internal/market"

// ClassifyRegime buckets total net dollar gamma against an absolute
// threshold. Raw dollar gamma is what drives dealer hedging flow, so the
// threshold is a dollar amount, not a percentage.
func ClassifyRegime(totalNetGamma, neutralThreshold float64) market.Regime {
	switch {
	case totalNetGamma > neutralThreshold:
		return market.RegimePositive
	case totalNetGamma < -neutralThreshold:
		return market.RegimeNegative
	default:
		return market.RegimeNeutral
	}
}

// DetectRegimeFlip reports whether the regime changed versus the previous
// snapshot. The first classification of a session has no previous regime
// and is never a flip.
func DetectRegimeFlip(current market.Regime, previous *market.Regime) bool {
	return previous != nil && current != *previous
}
