package gex

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/dgnsrekt/gexflow/internal/market"
)

// curve builds sorted strike records from (strike, netGamma) pairs.
func curve(pairs ...[2]float64) []market.StrikeRecord {
	records := make([]market.StrikeRecord, 0, len(pairs))
	for _, p := range pairs {
		records = append(records, market.StrikeRecord{
			Strike:   decimal.NewFromFloat(p[0]),
			NetGamma: p[1],
		})
	}
	return records
}

func TestFlipPoint_Interpolation(t *testing.T) {
	// +g1 at s1, -g2 at s2: the crossing lies strictly between them.
	fp := FlipPoint(curve([2]float64{5990, 300}, [2]float64{6010, -300}), 6000)
	if fp == nil {
		t.Fatal("expected a flip point")
	}
	if *fp <= 5990 || *fp >= 6010 {
		t.Errorf("flip point %f not strictly between strikes", *fp)
	}
	// Equal magnitudes: weighted midpoint.
	if *fp != 6000 {
		t.Errorf("expected weighted midpoint 6000, got %f", *fp)
	}
}

func TestFlipPoint_DegenerateWeight(t *testing.T) {
	// g1 -> 0 drives the weight to zero and the crossing to s1.
	fp := FlipPoint(curve([2]float64{5990, 0.0001}, [2]float64{6010, -1000}), 6000)
	if fp == nil {
		t.Fatal("expected a flip point")
	}
	if math.Abs(*fp-5990) > 0.01 {
		t.Errorf("expected flip point ~5990, got %f", *fp)
	}
}

func TestFlipPoint_NoCrossing(t *testing.T) {
	fp := FlipPoint(curve([2]float64{5990, 100}, [2]float64{6010, 200}), 6000)
	if fp != nil {
		t.Errorf("expected nil flip point, got %f", *fp)
	}
}

func TestFlipPoint_MultiCrossingNearestSpot(t *testing.T) {
	// Two sign changes: 5900/5910 and 6000/6010. Walking by strike order
	// alone would pick the lower crossing; the engine must pick the one
	// nearest spot.
	fp := FlipPoint(curve(
		[2]float64{5900, 100},
		[2]float64{5910, -100},
		[2]float64{5950, -200},
		[2]float64{6000, -100},
		[2]float64{6010, 100},
	), 6005)
	if fp == nil {
		t.Fatal("expected a flip point")
	}
	if *fp < 6000 || *fp > 6010 {
		t.Errorf("expected the crossing near spot, got %f", *fp)
	}
}

func TestWalls(t *testing.T) {
	records := curve(
		[2]float64{5980, -500},
		[2]float64{5990, -200},
		[2]float64{6010, 300},
		[2]float64{6020, 600},
	)

	cw := CallWall(records, 6000)
	if cw == nil || *cw != 6020 {
		t.Errorf("expected call wall 6020, got %v", cw)
	}
	pw := PutWall(records, 6000)
	if pw == nil || *pw != 5980 {
		t.Errorf("expected put wall 5980, got %v", pw)
	}
}

func TestWalls_NoStrikesOnSide(t *testing.T) {
	records := curve([2]float64{6010, 300}, [2]float64{6020, 600})
	if pw := PutWall(records, 6000); pw != nil {
		t.Errorf("expected nil put wall, got %f", *pw)
	}
}

func TestWalls_TieNearerSpot(t *testing.T) {
	records := curve([2]float64{6010, 400}, [2]float64{6050, -400})
	cw := CallWall(records, 6000)
	if cw == nil || *cw != 6010 {
		t.Errorf("expected tie to resolve to 6010, got %v", cw)
	}
}

func TestMagnets_TopThreeByMagnitude(t *testing.T) {
	records := curve(
		[2]float64{5950, 50},
		[2]float64{5960, -900},
		[2]float64{5970, 120},
		[2]float64{5980, -80},
		[2]float64{5990, 700},
		[2]float64{6000, 10},
		[2]float64{6010, -650},
		[2]float64{6020, 30},
		[2]float64{6030, 400},
		[2]float64{6040, -5},
	)

	magnets := Magnets(records, 6000, 3)
	if len(magnets) != 3 {
		t.Fatalf("expected 3 magnets, got %d", len(magnets))
	}

	wantStrikes := []float64{5960, 5990, 6010}
	for i, want := range wantStrikes {
		if magnets[i].Strike != want {
			t.Errorf("rank %d: expected strike %f, got %f", i+1, want, magnets[i].Strike)
		}
		if magnets[i].Rank != i+1 {
			t.Errorf("expected rank %d, got %d", i+1, magnets[i].Rank)
		}
	}

	// Probabilities are magnitude shares of the magnet set.
	totalProb := magnets[0].Probability + magnets[1].Probability + magnets[2].Probability
	if math.Abs(totalProb-1) > 1e-9 {
		t.Errorf("expected probabilities to sum to 1, got %f", totalProb)
	}
}

func TestMagnets_TieBrokenByProximity(t *testing.T) {
	records := curve(
		[2]float64{5900, 500},
		[2]float64{6010, -500},
		[2]float64{6200, 100},
	)
	magnets := Magnets(records, 6000, 1)
	if len(magnets) != 1 || magnets[0].Strike != 6010 {
		t.Errorf("expected the nearer 6010 to win the tie, got %+v", magnets)
	}
}

func TestClassifyRegime(t *testing.T) {
	tests := []struct {
		total float64
		want  market.Regime
	}{
		{2_000_000_000, market.RegimePositive},
		{-2_000_000_000, market.RegimeNegative},
		{500_000_000, market.RegimeNeutral},
		{-500_000_000, market.RegimeNeutral},
		{0, market.RegimeNeutral},
	}
	for _, tt := range tests {
		if got := ClassifyRegime(tt.total, 1_000_000_000); got != tt.want {
			t.Errorf("ClassifyRegime(%f) = %s, want %s", tt.total, got, tt.want)
		}
	}
}

func TestDetectRegimeFlip_FirstRunSuppressed(t *testing.T) {
	if DetectRegimeFlip(market.RegimeNegative, nil) {
		t.Error("first classification must never report a flip")
	}

	prev := market.RegimePositive
	if !DetectRegimeFlip(market.RegimeNegative, &prev) {
		t.Error("expected flip POSITIVE -> NEGATIVE")
	}
	if DetectRegimeFlip(market.RegimePositive, &prev) {
		t.Error("unchanged regime must not flip")
	}
}
