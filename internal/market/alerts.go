package market

import (
	"time"

	"github.com/google/uuid"
)

// Alert types emitted by the engine on fresh snapshots.
const (
	AlertRegimeFlip = "regime_flip"
	AlertDangerZone = "danger_zone"
	AlertGammaFlip  = "gamma_flip"
)

// Alert is a market-structure event worth surfacing to operators. Alerts
// are derived from snapshot-to-snapshot comparisons and persisted/pushed
// best-effort; they never gate snapshot construction.
type Alert struct {
	EventID      string    `json:"event_id"`
	Type         string    `json:"type"`
	Symbol       string    `json:"symbol"`
	Strike       *float64  `json:"strike,omitempty"`
	Message      string    `json:"message"`
	Priority     string    `json:"priority"`
	SpotPrice    float64   `json:"spot_price"`
	OldValue     *float64  `json:"old_value,omitempty"`
	NewValue     *float64  `json:"new_value,omitempty"`
	TriggeredAt  time.Time `json:"triggered_at"`
	Acknowledged bool      `json:"acknowledged"`
}

// NewAlert stamps a fresh alert with an event ID and trigger time.
func NewAlert(alertType, symbol, message, priority string, spot float64, at time.Time) Alert {
	return Alert{
		EventID:     uuid.NewString(),
		Type:        alertType,
		Symbol:      symbol,
		Message:     message,
		Priority:    priority,
		SpotPrice:   spot,
		TriggeredAt: at,
	}
}
