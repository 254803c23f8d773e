package ws

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/dgnsrekt/gexflow/internal/market"
)

// SnapshotStreamer bridges the engine to the hub: every fresh snapshot is
// serialized once and broadcast to the symbol's subscribers.
type SnapshotStreamer struct {
	hub    *Hub
	logger *zap.Logger
}

func NewSnapshotStreamer(hub *Hub, logger *zap.Logger) *SnapshotStreamer {
	return &SnapshotStreamer{hub: hub, logger: logger}
}

type streamEnvelope struct {
	Type     string           `json:"type"`
	Snapshot *market.Snapshot `json:"snapshot"`
	Alerts   []market.Alert   `json:"alerts,omitempty"`
}

// OnFresh implements the engine sink.
func (s *SnapshotStreamer) OnFresh(_ context.Context, snap *market.Snapshot, alerts []market.Alert) {
	payload, err := json.Marshal(streamEnvelope{
		Type:     "snapshot",
		Snapshot: snap,
		Alerts:   alerts,
	})
	if err != nil {
		s.logger.Warn("snapshot encode failed",
			zap.String("symbol", snap.Symbol), zap.Error(err))
		return
	}
	s.hub.Broadcast(snap.Symbol, payload)
}
