package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dgnsrekt/gexflow/internal/config"
	"github.com/dgnsrekt/gexflow/internal/gex"
	"github.com/dgnsrekt/gexflow/internal/market"
	"github.com/dgnsrekt/gexflow/internal/store"
)

type mockMarketData struct {
	quote       *market.Quote
	quoteErr    error
	expirations []string
	chain       []market.OptionContract
	chainErr    error
}

func (m *mockMarketData) GetQuote(_ context.Context, _ string) (*market.Quote, error) {
	return m.quote, m.quoteErr
}

func (m *mockMarketData) GetOptionExpirations(_ context.Context, _ string) ([]string, error) {
	return m.expirations, nil
}

func (m *mockMarketData) GetOptionChain(_ context.Context, _, _ string) ([]market.OptionContract, error) {
	return m.chain, m.chainErr
}

type mockVIX struct {
	price float64
	err   error
}

func (m *mockVIX) GetVIXPrice(_ context.Context) (float64, error) {
	return m.price, m.err
}

func testConfig() config.EngineConfig {
	return config.EngineConfig{
		Symbols:               []string{"SPX"},
		Timezone:              "America/New_York",
		SessionStart:          "09:30",
		SessionEnd:            "16:00",
		NeutralGammaThreshold: 150,
		SpikeROCThreshold:     50,
		BuildROCThreshold:     30,
		PinProximityPct:       0.5,
		PinConfidenceFloor:    0.3,
		MagnetCount:           3,
		FreshnessMaxAgeSec:    2,
		HistoryRetentionHours: 8,
	}
}

func testContract(strike, target, spot float64) market.OptionContract {
	c := market.OptionContract{
		Strike:       decimal.NewFromFloat(strike),
		OpenInterest: 1,
	}
	if target >= 0 {
		c.OptionType = market.OptionCall
		c.Gamma = target / (100 * spot)
	} else {
		c.OptionType = market.OptionPut
		c.Gamma = -target / (100 * spot)
	}
	return c
}

// newTestServer wires a server against mocks with the engine clock pinned to
// a regular Monday trading session.
func newTestServer(t *testing.T, data *mockMarketData, vix *mockVIX) *Server {
	t.Helper()

	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatal(err)
	}
	clock := time.Date(2025, 6, 2, 10, 0, 0, 0, loc)

	logger := zap.NewNop()
	engine, err := gex.NewEngine(testConfig(), logger,
		gex.WithClock(func() time.Time { return clock }))
	if err != nil {
		t.Fatal(err)
	}

	service := NewService(engine, data, vix, logger)
	service.now = func() time.Time { return clock }

	return NewServer(service, engine, nil, nil, logger)
}

func TestSnapshotEndpoint(t *testing.T) {
	spot := 6000.0
	data := &mockMarketData{
		quote:       &market.Quote{Symbol: "SPX", Last: spot},
		expirations: []string{"2025-05-30", "2025-06-02", "2025-06-04"},
		chain: []market.OptionContract{
			testContract(5990, -300, spot),
			testContract(6010, 500, spot),
		},
	}
	srv := newTestServer(t, data, &mockVIX{price: 18})

	req := httptest.NewRequest(http.MethodGet, "/v1/gex/spx", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp snapshotResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.State != gex.StateFresh {
		t.Errorf("state = %s, want fresh", resp.State)
	}
	if resp.Snapshot == nil {
		t.Fatal("expected snapshot in response")
	}
	if resp.Snapshot.Symbol != "SPX" {
		t.Errorf("symbol = %s, want SPX (uppercased from path)", resp.Snapshot.Symbol)
	}
	// Nearest expiration at or after the clock date.
	if resp.Snapshot.ExpirationDate != "2025-06-02" {
		t.Errorf("expiration = %s, want 2025-06-02", resp.Snapshot.ExpirationDate)
	}
	if resp.Snapshot.VIX != 18 {
		t.Errorf("vix = %f, want 18", resp.Snapshot.VIX)
	}
	if len(resp.Snapshot.Strikes) != 2 {
		t.Errorf("strikes = %d, want 2", len(resp.Snapshot.Strikes))
	}
}

func TestStructureEndpointOmitsStrikes(t *testing.T) {
	spot := 6000.0
	data := &mockMarketData{
		quote:       &market.Quote{Symbol: "SPX", Last: spot},
		expirations: []string{"2025-06-02"},
		chain: []market.OptionContract{
			testContract(5990, -300, spot),
			testContract(6010, 500, spot),
		},
	}
	srv := newTestServer(t, data, &mockVIX{price: 18})

	req := httptest.NewRequest(http.MethodGet, "/v1/gex/SPX/structure", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp structureResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.FlipPoint == nil {
		t.Error("expected a flip point between opposing strikes")
	}
	if resp.TotalNetGamma < 199.99 || resp.TotalNetGamma > 200.01 {
		t.Errorf("total net gamma = %f, want ~200", resp.TotalNetGamma)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &raw); err != nil {
		t.Fatal(err)
	}
	if _, ok := raw["strikes"]; ok {
		t.Error("structure response must not carry per-strike rows")
	}
}

func TestSnapshotUpstreamFailureNoPrevious(t *testing.T) {
	data := &mockMarketData{quoteErr: errors.New("connection refused")}
	srv := newTestServer(t, data, &mockVIX{price: 18})

	req := httptest.NewRequest(http.MethodGet, "/v1/gex/SPX", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}

	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Reason != gex.ReasonUpstream {
		t.Errorf("reason = %s, want %s", resp.Reason, gex.ReasonUpstream)
	}
}

func TestSnapshotUpstreamFailureServesPrevious(t *testing.T) {
	spot := 6000.0
	data := &mockMarketData{
		quote:       &market.Quote{Symbol: "SPX", Last: spot},
		expirations: []string{"2025-06-02"},
		chain: []market.OptionContract{
			testContract(5990, -300, spot),
			testContract(6010, 500, spot),
		},
	}
	srv := newTestServer(t, data, &mockVIX{price: 18})

	// Warm the engine with one good pull.
	req := httptest.NewRequest(http.MethodGet, "/v1/gex/SPX", nil)
	srv.Router().ServeHTTP(httptest.NewRecorder(), req)

	// Break the upstream and ask again.
	data.chainErr = errors.New("gateway timeout")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/gex/SPX", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 cached fallback", rec.Code)
	}

	var resp snapshotResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.State != gex.StateCached {
		t.Errorf("state = %s, want cached", resp.State)
	}
	if resp.Reason != gex.ReasonUpstream {
		t.Errorf("reason = %s, want %s", resp.Reason, gex.ReasonUpstream)
	}
	if resp.Snapshot == nil {
		t.Fatal("expected previous snapshot in fallback")
	}
}

func TestVIXFailureDoesNotBlockSnapshot(t *testing.T) {
	spot := 6000.0
	data := &mockMarketData{
		quote:       &market.Quote{Symbol: "SPX", Last: spot},
		expirations: []string{"2025-06-02"},
		chain:       []market.OptionContract{testContract(6010, 500, spot)},
	}
	srv := newTestServer(t, data, &mockVIX{err: errors.New("vix feed down")})

	req := httptest.NewRequest(http.MethodGet, "/v1/gex/SPX", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp snapshotResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Snapshot.VIX != 0 {
		t.Errorf("vix = %f, want 0 when feed is down", resp.Snapshot.VIX)
	}
	if resp.Snapshot.ExpectedMove != 0 {
		t.Errorf("expected move = %f, want 0 without vix", resp.Snapshot.ExpectedMove)
	}
}

type mockArchive struct {
	record *store.SnapshotRecord
	err    error
}

func (m *mockArchive) PriorSessionSnapshot(_ context.Context, _ string, _ time.Time) (*store.SnapshotRecord, error) {
	return m.record, m.err
}

func TestPriorSessionWithoutArchive(t *testing.T) {
	srv := newTestServer(t, &mockMarketData{}, &mockVIX{price: 18})

	req := httptest.NewRequest(http.MethodGet, "/v1/gex/SPX/prior", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 when no archive is configured", rec.Code)
	}
}

func TestPriorSessionComparison(t *testing.T) {
	spot := 6000.0
	data := &mockMarketData{
		quote:       &market.Quote{Symbol: "SPX", Last: spot},
		expirations: []string{"2025-06-02"},
		chain: []market.OptionContract{
			testContract(5990, -300, spot),
			testContract(6010, 500, spot),
		},
	}
	srv := newTestServer(t, data, &mockVIX{price: 18})
	srv.archive = &mockArchive{record: &store.SnapshotRecord{
		Symbol:        "SPX",
		SnapshotTime:  time.Date(2025, 5, 30, 15, 59, 0, 0, time.UTC),
		SpotPrice:     5900,
		TotalNetGamma: -80,
		GammaRegime:   "NEUTRAL",
		ExpectedMove:  65,
	}}

	// Warm the engine so the comparison side is populated.
	srv.Router().ServeHTTP(httptest.NewRecorder(),
		httptest.NewRequest(http.MethodGet, "/v1/gex/SPX", nil))

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/gex/SPX/prior", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp priorSessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.PriorSpotPrice != 5900 {
		t.Errorf("prior spot = %f, want 5900", resp.PriorSpotPrice)
	}
	if resp.SpotChangePct == nil {
		t.Fatal("expected spot change versus prior session")
	}
	want := (spot - 5900) / 5900 * 100
	if diff := *resp.SpotChangePct - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("spot change = %f, want %f", *resp.SpotChangePct, want)
	}
	if resp.RegimeChanged == nil || !*resp.RegimeChanged {
		t.Error("expected regime change NEUTRAL -> POSITIVE")
	}
}

func TestHealthEndpoint(t *testing.T) {
	data := &mockMarketData{}
	srv := newTestServer(t, data, &mockVIX{price: 18})

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "ok" {
		t.Errorf("status = %s, want ok", resp.Status)
	}
	if len(resp.WarmSymbols) != 0 {
		t.Errorf("warm symbols = %v, want none before first snapshot", resp.WarmSymbols)
	}
}
