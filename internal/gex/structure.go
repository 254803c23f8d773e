package gex

import (
	"math"

	"github.com/dgnsrekt/gexflow/internal/market"
)

// level is the (strike, net gamma) pair the structure walk operates on.
// Strikes must already be sorted ascending.
type level struct {
	strike float64
	gamma  float64
}

func levels(strikes []market.StrikeRecord) []level {
	out := make([]level, 0, len(strikes))
	for _, s := range strikes {
		out = append(out, level{strike: s.Strike.InexactFloat64(), gamma: s.NetGamma})
	}
	return out
}

// FlipPoint walks the gamma curve in strike order and interpolates the
// zero-gamma crossing. With multiple crossings (multi-modal curves, common
// near 0DTE) the candidate closest to spot wins, since that is the level
// dealers are actively hedging around. Returns nil when no sign change
// exists.
func FlipPoint(strikes []market.StrikeRecord, spot float64) *float64 {
	lv := levels(strikes)

	var best *float64
	bestDist := math.Inf(1)

	for i := 0; i+1 < len(lv); i++ {
		a, b := lv[i], lv[i+1]
		if a.gamma == 0 || b.gamma == 0 {
			continue
		}
		if (a.gamma < 0) == (b.gamma < 0) {
			continue
		}

		absA, absB := math.Abs(a.gamma), math.Abs(b.gamma)
		var candidate float64
		if absA+absB == 0 {
			candidate = a.strike
		} else {
			candidate = a.strike + absA/(absA+absB)*(b.strike-a.strike)
		}

		if dist := math.Abs(candidate - spot); dist < bestDist {
			bestDist = dist
			c := candidate
			best = &c
		}
	}
	return best
}

// CallWall returns the strike above spot with maximal absolute net gamma.
// Ties resolve to the strike nearer spot. Nil when no strike sits above.
func CallWall(strikes []market.StrikeRecord, spot float64) *float64 {
	return wall(strikes, spot, true)
}

// PutWall is the mirror of CallWall for strikes below spot.
func PutWall(strikes []market.StrikeRecord, spot float64) *float64 {
	return wall(strikes, spot, false)
}

func wall(strikes []market.StrikeRecord, spot float64, above bool) *float64 {
	var best *float64
	bestMag := -1.0
	bestDist := math.Inf(1)

	for _, lv := range levels(strikes) {
		if above && lv.strike <= spot {
			continue
		}
		if !above && lv.strike >= spot {
			continue
		}

		mag := math.Abs(lv.gamma)
		dist := math.Abs(lv.strike - spot)
		if mag > bestMag || (mag == bestMag && dist < bestDist) {
			bestMag = mag
			bestDist = dist
			s := lv.strike
			best = &s
		}
	}
	return best
}

// Magnets ranks the top-n strikes by absolute net gamma, descending, with
// ties broken by proximity to spot. Probability is each magnet's share of
// the total magnet gamma magnitude.
func Magnets(strikes []market.StrikeRecord, spot float64, n int) []market.Magnet {
	lv := levels(strikes)
	if len(lv) == 0 || n < 1 {
		return nil
	}

	sorted := make([]level, len(lv))
	copy(sorted, lv)
	sortLevels(sorted, spot)

	if n > len(sorted) {
		n = len(sorted)
	}

	var totalMag float64
	for i := 0; i < n; i++ {
		totalMag += math.Abs(sorted[i].gamma)
	}

	out := make([]market.Magnet, 0, n)
	for i := 0; i < n; i++ {
		prob := 0.0
		if totalMag > 0 {
			prob = math.Abs(sorted[i].gamma) / totalMag
		}
		out = append(out, market.Magnet{
			Rank:        i + 1,
			Strike:      sorted[i].strike,
			NetGamma:    sorted[i].gamma,
			Probability: prob,
		})
	}
	return out
}

func sortLevels(lv []level, spot float64) {
	// Insertion sort: magnet candidate sets are tiny.
	for i := 1; i < len(lv); i++ {
		for j := i; j > 0; j-- {
			magJ, magP := math.Abs(lv[j].gamma), math.Abs(lv[j-1].gamma)
			if magJ < magP {
				break
			}
			if magJ == magP && math.Abs(lv[j].strike-spot) >= math.Abs(lv[j-1].strike-spot) {
				break
			}
			lv[j], lv[j-1] = lv[j-1], lv[j]
		}
	}
}
