package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dgnsrekt/gexflow/internal/gex"
	"github.com/dgnsrekt/gexflow/internal/market"
)

// snapshotResponse is the wire shape for the full snapshot endpoint.
type snapshotResponse struct {
	State       gex.State        `json:"state"`
	CacheAgeSec float64          `json:"cache_age_sec,omitempty"`
	Reason      string           `json:"reason,omitempty"`
	Snapshot    *market.Snapshot `json:"snapshot"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// structureResponse strips per-strike rows, leaving the key levels that
// trading dashboards poll at high frequency.
type structureResponse struct {
	Symbol        string               `json:"symbol"`
	SnapshotTime  time.Time            `json:"snapshot_time"`
	SpotPrice     float64              `json:"spot_price"`
	TotalNetGamma float64              `json:"total_net_gamma"`
	GammaRegime   market.Regime        `json:"gamma_regime"`
	FlipPoint     *float64             `json:"flip_point,omitempty"`
	CallWall      *float64             `json:"call_wall,omitempty"`
	PutWall       *float64             `json:"put_wall,omitempty"`
	ExpectedMove  float64              `json:"expected_move"`
	Magnets       []market.Magnet      `json:"magnets"`
	DangerZones   []market.DangerZone  `json:"danger_zones"`
	PinningStatus market.PinningStatus `json:"pinning_status"`
	MarketStatus  market.MarketStatus  `json:"market_status"`
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(chi.URLParam(r, "symbol"))

	result := s.service.Snapshot(r.Context(), symbol)
	if result.State == gex.StateUnavailable {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{
			Error:  result.Message,
			Reason: result.Reason,
		})
		return
	}

	writeJSON(w, http.StatusOK, snapshotResponse{
		State:       result.State,
		CacheAgeSec: result.CacheAge.Seconds(),
		Reason:      result.Reason,
		Snapshot:    result.Snapshot,
	})
}

func (s *Server) handleStructure(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(chi.URLParam(r, "symbol"))

	result := s.service.Snapshot(r.Context(), symbol)
	if result.State == gex.StateUnavailable {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{
			Error:  result.Message,
			Reason: result.Reason,
		})
		return
	}

	snap := result.Snapshot
	writeJSON(w, http.StatusOK, structureResponse{
		Symbol:        snap.Symbol,
		SnapshotTime:  snap.SnapshotTime,
		SpotPrice:     snap.SpotPrice,
		TotalNetGamma: snap.TotalNetGamma,
		GammaRegime:   snap.GammaRegime,
		FlipPoint:     snap.FlipPoint,
		CallWall:      snap.CallWall,
		PutWall:       snap.PutWall,
		ExpectedMove:  snap.ExpectedMove,
		Magnets:       snap.Magnets,
		DangerZones:   snap.DangerZones,
		PinningStatus: snap.PinningStatus,
		MarketStatus:  snap.MarketStatus,
	})
}

// priorSessionResponse compares the current snapshot against the last
// persisted snapshot of an earlier session.
type priorSessionResponse struct {
	Symbol             string    `json:"symbol"`
	PriorSnapshotTime  time.Time `json:"prior_snapshot_time"`
	PriorSpotPrice     float64   `json:"prior_spot_price"`
	PriorTotalNetGamma float64   `json:"prior_total_net_gamma"`
	PriorRegime        string    `json:"prior_regime"`
	PriorExpectedMove  float64   `json:"prior_expected_move"`

	SpotChangePct      *float64 `json:"spot_change_pct,omitempty"`
	NetGammaChange     *float64 `json:"net_gamma_change,omitempty"`
	ExpectedMoveChange *float64 `json:"expected_move_change,omitempty"`
	RegimeChanged      *bool    `json:"regime_changed,omitempty"`
}

func (s *Server) handlePriorSession(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(chi.URLParam(r, "symbol"))

	if s.archive == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{
			Error: "snapshot archive is not configured",
		})
		return
	}

	now := time.Now().In(s.engine.Location())
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	prior, err := s.archive.PriorSessionSnapshot(r.Context(), symbol, dayStart)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{
			Error: "no prior-session snapshot for " + symbol,
		})
		return
	}

	resp := priorSessionResponse{
		Symbol:             symbol,
		PriorSnapshotTime:  prior.SnapshotTime,
		PriorSpotPrice:     prior.SpotPrice,
		PriorTotalNetGamma: prior.TotalNetGamma,
		PriorRegime:        prior.GammaRegime,
		PriorExpectedMove:  prior.ExpectedMove,
	}

	if cur := s.engine.Previous(symbol); cur != nil {
		if prior.SpotPrice > 0 {
			pct := (cur.SpotPrice - prior.SpotPrice) / prior.SpotPrice * 100
			resp.SpotChangePct = &pct
		}
		gammaDelta := cur.TotalNetGamma - prior.TotalNetGamma
		resp.NetGammaChange = &gammaDelta
		moveDelta := cur.ExpectedMove - prior.ExpectedMove
		resp.ExpectedMoveChange = &moveDelta
		changed := string(cur.GammaRegime) != prior.GammaRegime
		resp.RegimeChanged = &changed
	}

	writeJSON(w, http.StatusOK, resp)
}

type healthResponse struct {
	Status      string   `json:"status"`
	UptimeSec   float64  `json:"uptime_sec"`
	MarketOpen  bool     `json:"market_open"`
	WarmSymbols []string `json:"warm_symbols"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "ok",
		UptimeSec:   time.Since(s.started).Seconds(),
		MarketOpen:  s.engine.MarketOpen(time.Now()),
		WarmSymbols: s.engine.WarmSymbols(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
