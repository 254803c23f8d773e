package gex

import (
	"testing"

	"github.com/dgnsrekt/gexflow/internal/market"
)

func TestDangerFor_Precedence(t *testing.T) {
	spike, build := 50.0, 30.0

	// Both thresholds crossed: the 5-minute BUILDING signal wins over the
	// noisier 1-minute spike.
	d := DangerFor(80, 40, spike, build)
	if d == nil || *d != market.DangerBuilding {
		t.Errorf("expected BUILDING, got %v", d)
	}

	d = DangerFor(80, -40, spike, build)
	if d == nil || *d != market.DangerCollapsing {
		t.Errorf("expected COLLAPSING, got %v", d)
	}

	d = DangerFor(80, 10, spike, build)
	if d == nil || *d != market.DangerSpike {
		t.Errorf("expected SPIKE, got %v", d)
	}

	if d := DangerFor(10, 10, spike, build); d != nil {
		t.Errorf("expected no danger, got %v", *d)
	}
}

func TestLikelyPin_MagnitudeAndProximity(t *testing.T) {
	records := curve(
		[2]float64{5900, 800}, // big but far
		[2]float64{6000, 700}, // nearly as big, at spot
		[2]float64{6100, 100},
	)

	pin := LikelyPin(records, 6000)
	if pin == nil {
		t.Fatal("expected a pin candidate")
	}
	if pin.Strike != 6000 {
		t.Errorf("expected proximity to pull the pin to 6000, got %f", pin.Strike)
	}
	if pin.Probability <= 0 || pin.Probability > 1 {
		t.Errorf("probability out of range: %f", pin.Probability)
	}
}

func TestLikelyPin_NoGamma(t *testing.T) {
	if pin := LikelyPin(curve([2]float64{6000, 0}), 6000); pin != nil {
		t.Errorf("expected nil pin on flat curve, got %+v", pin)
	}
	if pin := LikelyPin(nil, 6000); pin != nil {
		t.Errorf("expected nil pin on empty curve, got %+v", pin)
	}
}

func TestBuildPinningStatus(t *testing.T) {
	pin := &PinCandidate{Strike: 6000, Probability: 0.8}

	// Spot within proximity, no danger: pinning.
	status := BuildPinningStatus(pin, 6010, 0.5, nil)
	if !status.IsPinning {
		t.Errorf("expected pinning, got %+v", status)
	}
	if status.TradeIdea == "" {
		t.Error("expected a trade idea when pinning")
	}

	// Active danger zones invalidate a nearby pin.
	zones := []market.DangerZone{{Strike: 6000, DangerType: market.DangerBuilding}}
	status = BuildPinningStatus(pin, 6010, 0.5, zones)
	if status.IsPinning {
		t.Error("danger zones must suppress pinning")
	}

	// Spot too far away.
	status = BuildPinningStatus(pin, 6100, 0.5, nil)
	if status.IsPinning {
		t.Error("distant spot must suppress pinning")
	}
	if status.DistanceToPinPct <= 0.5 {
		t.Errorf("expected distance above threshold, got %f", status.DistanceToPinPct)
	}

	// No candidate at all.
	status = BuildPinningStatus(nil, 6000, 0.5, nil)
	if status.IsPinning || status.Message == "" {
		t.Errorf("expected non-pinning status with message, got %+v", status)
	}
}
