package gex

import (
	"fmt"
	"time"

	"github.com/dgnsrekt/gexflow/internal/market"
)

// BuildAlerts derives operator alerts from a fresh snapshot and its
// predecessor: regime flips, active danger zones and per-strike gamma sign
// flips. Alerts annotate the snapshot; they never gate it.
func BuildAlerts(snap *market.Snapshot, prev *market.Snapshot, now time.Time) []market.Alert {
	var alerts []market.Alert

	if snap.RegimeFlipped && snap.PreviousRegime != nil {
		a := market.NewAlert(market.AlertRegimeFlip, snap.Symbol,
			fmt.Sprintf("gamma regime flipped %s -> %s (total %.0f)",
				*snap.PreviousRegime, snap.GammaRegime, snap.TotalNetGamma),
			"high", snap.SpotPrice, now)
		if prev != nil {
			old := prev.TotalNetGamma
			a.OldValue = &old
		}
		newTotal := snap.TotalNetGamma
		a.NewValue = &newTotal
		alerts = append(alerts, a)
	}

	for _, zone := range snap.DangerZones {
		a := market.NewAlert(market.AlertDangerZone, snap.Symbol,
			fmt.Sprintf("%s at strike %.0f (1m %.1f%%, 5m %.1f%%)",
				zone.DangerType, zone.Strike, zone.ROC1Min, zone.ROC5Min),
			"default", snap.SpotPrice, now)
		strike := zone.Strike
		a.Strike = &strike
		alerts = append(alerts, a)
	}

	for _, flip := range snap.GammaFlips {
		a := market.NewAlert(market.AlertGammaFlip, snap.Symbol,
			fmt.Sprintf("strike %.0f flipped %s (%.0f -> %.0f)",
				flip.Strike, flip.Direction, flip.GammaBefore, flip.GammaAfter),
			"low", snap.SpotPrice, now)
		strike := flip.Strike
		a.Strike = &strike
		before, after := flip.GammaBefore, flip.GammaAfter
		a.OldValue = &before
		a.NewValue = &after
		alerts = append(alerts, a)
	}

	return alerts
}
