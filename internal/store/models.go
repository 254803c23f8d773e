package store

import "time"

// GammaHistory is the append-only per-strike gamma series. Rows are
// deduplicated by a recorded_at watermark on insert, so restarts never
// duplicate history.
type GammaHistory struct {
	ID         uint      `gorm:"primaryKey"`
	Symbol     string    `gorm:"size:16;index:idx_gamma_history_lookup,priority:1;not null"`
	Strike     string    `gorm:"size:24;not null"`
	GammaValue float64   `gorm:"not null"`
	RecordedAt time.Time `gorm:"index:idx_gamma_history_lookup,priority:2;not null"`
}

// SnapshotRecord is one row per fresh snapshot, kept for next-day
// prior-session comparisons.
type SnapshotRecord struct {
	ID             uint      `gorm:"primaryKey"`
	Symbol         string    `gorm:"size:16;index;not null"`
	ExpirationDate string    `gorm:"size:10"`
	SnapshotTime   time.Time `gorm:"index;not null"`
	SpotPrice      float64
	ExpectedMove   float64
	VIX            float64 `gorm:"column:vix"`
	TotalNetGamma  float64
	GammaRegime    string  `gorm:"size:10"`
	PreviousRegime *string `gorm:"size:10"`
	RegimeFlipped  bool
	MarketStatus   string `gorm:"size:8"`
	FlipPoint      *float64
	CallWall       *float64
	PutWall        *float64
}

// AlertRecord mirrors market.Alert for durability.
type AlertRecord struct {
	ID           uint   `gorm:"primaryKey"`
	EventID      string `gorm:"size:36;uniqueIndex;not null"`
	AlertType    string `gorm:"size:24;index;not null"`
	Symbol       string `gorm:"size:16;index"`
	Strike       *float64
	Message      string `gorm:"size:512"`
	Priority     string `gorm:"size:12"`
	SpotPrice    float64
	OldValue     *float64
	NewValue     *float64
	TriggeredAt  time.Time `gorm:"index;not null"`
	Acknowledged bool      `gorm:"default:false"`
}

// DangerZoneEvent logs each detected danger zone for later review.
type DangerZoneEvent struct {
	ID                  uint      `gorm:"primaryKey"`
	DetectedAt          time.Time `gorm:"index;not null"`
	Symbol              string    `gorm:"size:16;index"`
	Strike              float64
	DangerType          string  `gorm:"size:12"`
	ROC1Min             float64 `gorm:"column:roc_1min"`
	ROC5Min             float64 `gorm:"column:roc_5min"`
	SpotPrice           float64
	DistanceFromSpotPct float64
	IsActive            bool `gorm:"default:true"`
	ResolvedAt          *time.Time
}

// PinPrediction captures high-confidence pin calls for accuracy scoring
// once the session closes.
type PinPrediction struct {
	ID              uint    `gorm:"primaryKey"`
	Symbol          string  `gorm:"size:16;index"`
	PredictionDate  string  `gorm:"size:10;index"`
	PredictedPin    float64
	ActualClose     *float64
	GammaRegime     string  `gorm:"size:10"`
	VIXAtPrediction float64 `gorm:"column:vix_at_prediction"`
	Confidence      float64
	PredictedAt     time.Time
}
