package gex

import (
	"fmt"
	"math"

	"github.com/dgnsrekt/gexflow/internal/market"
)

// Pin scoring weights: gamma magnitude dominates, proximity to spot breaks
// the magnitude apart. proximityFalloffPct is the distance (as a fraction
// of spot) at which the proximity component decays to zero.
const (
	pinMagnitudeWeight  = 0.6
	pinProximityWeight  = 0.4
	proximityFalloffPct = 0.02
)

// PinCandidate is the strike most likely to pin price at expiration, with a
// normalized 0-1 confidence score.
type PinCandidate struct {
	Strike      float64
	Probability float64
}

// LikelyPin scores every strike by combining its gamma-magnitude rank with
// its proximity to spot and returns the highest-scoring strike. Returns nil
// when the chain is empty or carries no gamma at all.
func LikelyPin(strikes []market.StrikeRecord, spot float64) *PinCandidate {
	lv := levels(strikes)
	if len(lv) == 0 || spot <= 0 {
		return nil
	}

	maxMag := 0.0
	for _, l := range lv {
		if m := math.Abs(l.gamma); m > maxMag {
			maxMag = m
		}
	}
	if maxMag == 0 {
		return nil
	}

	var best *PinCandidate
	for _, l := range lv {
		magScore := math.Abs(l.gamma) / maxMag
		proxScore := 1 - math.Abs(l.strike-spot)/(spot*proximityFalloffPct)
		if proxScore < 0 {
			proxScore = 0
		}
		score := pinMagnitudeWeight*magScore + pinProximityWeight*proxScore
		if best == nil || score > best.Probability {
			best = &PinCandidate{Strike: l.strike, Probability: score}
		}
	}
	return best
}

// DangerFor classifies a strike's ROC pair against the configured cutoffs.
// The 5-minute build/collapse checks run before the noisier 1-minute spike
// check, so a strike crossing both thresholds reads as BUILDING, not SPIKE.
func DangerFor(roc1Min, roc5Min, spikeThreshold, buildThreshold float64) *market.DangerType {
	switch {
	case roc5Min >= buildThreshold:
		d := market.DangerBuilding
		return &d
	case roc5Min <= -buildThreshold:
		d := market.DangerCollapsing
		return &d
	case math.Abs(roc1Min) >= spikeThreshold:
		d := market.DangerSpike
		return &d
	}
	return nil
}

// PinningStatus decides whether price is actively pinning: a pin candidate
// must exist, spot must sit within proximityPct of it, and no danger zones
// may be active. A nearby pin that is still being abandoned (strikes moving
// hard) is not a real pin.
func BuildPinningStatus(pin *PinCandidate, spot, proximityPct float64, dangerZones []market.DangerZone) market.PinningStatus {
	if pin == nil || spot <= 0 {
		return market.PinningStatus{Message: "no pin candidate"}
	}

	distPct := math.Abs(spot-pin.Strike) / spot * 100
	status := market.PinningStatus{
		PinStrike:        pin.Strike,
		DistanceToPinPct: distPct,
	}

	if len(dangerZones) > 0 {
		status.Message = fmt.Sprintf("pin candidate %.0f invalidated by %d active danger zone(s)", pin.Strike, len(dangerZones))
		return status
	}
	if distPct > proximityPct {
		status.Message = fmt.Sprintf("spot %.2f is %.2f%% from pin candidate %.0f", spot, distPct, pin.Strike)
		return status
	}

	status.IsPinning = true
	status.Message = fmt.Sprintf("price pinning to %.0f (%.2f%% away)", pin.Strike, distPct)
	status.TradeIdea = fmt.Sprintf("iron condor centered at %.0f into expiration", pin.Strike)
	return status
}
