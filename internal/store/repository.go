// Package store is the durable layer behind the engine: gamma history for
// restart continuity, snapshots for prior-session comparisons, and alert /
// danger-zone / pin-prediction logs. All engine writes are best-effort.
package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/gorm/schema"

	"github.com/dgnsrekt/gexflow/internal/history"
	"github.com/dgnsrekt/gexflow/internal/market"
)

type Store struct {
	db *gorm.DB
}

// Open connects to postgres and migrates the schema. tablePrefix lets
// several engine deployments (different symbol sets, different threshold
// tuning) share one database without colliding.
func Open(dsn, tablePrefix string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{TablePrefix: tablePrefix},
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.AutoMigrate(
		&GammaHistory{},
		&SnapshotRecord{},
		&AlertRecord{},
		&DangerZoneEvent{},
		&PinPrediction{},
	); err != nil {
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	return &Store{db: db}, nil
}

// NewWithDB wraps an existing gorm handle; used by tests.
func NewWithDB(db *gorm.DB) *Store {
	return &Store{db: db}
}

// LoadHistory returns persisted observations newer than since, for engine
// rehydration at process start.
func (s *Store) LoadHistory(ctx context.Context, symbol string, since time.Time) ([]history.Observation, error) {
	var rows []GammaHistory
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND recorded_at > ?", symbol, since).
		Order("recorded_at asc").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	obs := make([]history.Observation, 0, len(rows))
	for _, row := range rows {
		obs = append(obs, history.Observation{
			Strike:     row.Strike,
			NetGamma:   row.GammaValue,
			RecordedAt: row.RecordedAt,
		})
	}
	return obs, nil
}

// AppendHistory inserts observations newer than the stored watermark for
// the symbol. Rows at or below the watermark are duplicates from a restart
// or a concurrent writer and are skipped.
func (s *Store) AppendHistory(ctx context.Context, symbol string, obs []history.Observation) error {
	if len(obs) == 0 {
		return nil
	}

	var watermark time.Time
	err := s.db.WithContext(ctx).
		Model(&GammaHistory{}).
		Where("symbol = ?", symbol).
		Select("COALESCE(MAX(recorded_at), 'epoch'::timestamptz)").
		Scan(&watermark).Error
	if err != nil {
		return fmt.Errorf("reading history watermark: %w", err)
	}

	rows := make([]GammaHistory, 0, len(obs))
	for _, o := range obs {
		if !o.RecordedAt.After(watermark) {
			continue
		}
		rows = append(rows, GammaHistory{
			Symbol:     symbol,
			Strike:     o.Strike,
			GammaValue: o.NetGamma,
			RecordedAt: o.RecordedAt,
		})
	}
	if len(rows) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).CreateInBatches(rows, 500).Error
}

// PurgeHistory deletes rows older than cutoff. Idempotent and safe to run
// concurrently with inserts; meant for the cron retention job.
func (s *Store) PurgeHistory(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("recorded_at < ?", cutoff).
		Delete(&GammaHistory{})
	return res.RowsAffected, res.Error
}

func (s *Store) SaveSnapshot(ctx context.Context, snap *market.Snapshot) error {
	var prevRegime *string
	if snap.PreviousRegime != nil {
		r := string(*snap.PreviousRegime)
		prevRegime = &r
	}
	row := SnapshotRecord{
		Symbol:         snap.Symbol,
		ExpirationDate: snap.ExpirationDate,
		SnapshotTime:   snap.SnapshotTime,
		SpotPrice:      snap.SpotPrice,
		ExpectedMove:   snap.ExpectedMove,
		VIX:            snap.VIX,
		TotalNetGamma:  snap.TotalNetGamma,
		GammaRegime:    string(snap.GammaRegime),
		PreviousRegime: prevRegime,
		RegimeFlipped:  snap.RegimeFlipped,
		MarketStatus:   string(snap.MarketStatus),
		FlipPoint:      snap.FlipPoint,
		CallWall:       snap.CallWall,
		PutWall:        snap.PutWall,
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

// PriorSessionSnapshot returns the latest snapshot strictly before the
// given day, for expected-move-change comparisons against the prior close.
func (s *Store) PriorSessionSnapshot(ctx context.Context, symbol string, before time.Time) (*SnapshotRecord, error) {
	var row SnapshotRecord
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND snapshot_time < ?", symbol, before).
		Order("snapshot_time desc").
		First(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *Store) SaveAlerts(ctx context.Context, alerts []market.Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	rows := make([]AlertRecord, 0, len(alerts))
	for _, a := range alerts {
		rows = append(rows, AlertRecord{
			EventID:      a.EventID,
			AlertType:    a.Type,
			Symbol:       a.Symbol,
			Strike:       a.Strike,
			Message:      a.Message,
			Priority:     a.Priority,
			SpotPrice:    a.SpotPrice,
			OldValue:     a.OldValue,
			NewValue:     a.NewValue,
			TriggeredAt:  a.TriggeredAt,
			Acknowledged: a.Acknowledged,
		})
	}
	return s.db.WithContext(ctx).CreateInBatches(rows, 100).Error
}

func (s *Store) LogDangerZones(ctx context.Context, symbol string, spot float64, zones []market.DangerZone, at time.Time) error {
	if len(zones) == 0 {
		return nil
	}
	rows := make([]DangerZoneEvent, 0, len(zones))
	for _, z := range zones {
		distPct := 0.0
		if spot > 0 {
			distPct = (z.Strike - spot) / spot * 100
		}
		rows = append(rows, DangerZoneEvent{
			DetectedAt:          at,
			Symbol:              symbol,
			Strike:              z.Strike,
			DangerType:          string(z.DangerType),
			ROC1Min:             z.ROC1Min,
			ROC5Min:             z.ROC5Min,
			SpotPrice:           spot,
			DistanceFromSpotPct: distPct,
			IsActive:            true,
		})
	}
	return s.db.WithContext(ctx).CreateInBatches(rows, 100).Error
}

// ResolveDangerZones marks active danger zones for a symbol as resolved.
// Called when a later snapshot shows the strike has calmed down.
func (s *Store) ResolveDangerZones(ctx context.Context, symbol string, at time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&DangerZoneEvent{}).
		Where("symbol = ? AND is_active = true", symbol).
		Updates(map[string]any{"is_active": false, "resolved_at": at})
	return res.RowsAffected, res.Error
}

func (s *Store) SavePinPrediction(ctx context.Context, symbol string, pinStrike, confidence float64, regime market.Regime, vix float64, at time.Time) error {
	row := PinPrediction{
		Symbol:          symbol,
		PredictionDate:  at.Format("2006-01-02"),
		PredictedPin:    pinStrike,
		GammaRegime:     string(regime),
		VIXAtPrediction: vix,
		Confidence:      confidence,
		PredictedAt:     at,
	}
	return s.db.WithContext(ctx).Create(&row).Error
}
