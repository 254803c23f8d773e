package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// Regime labels the sign/magnitude bucket of total net dealer gamma.
type Regime string

const (
	RegimePositive Regime = "POSITIVE"
	RegimeNegative Regime = "NEGATIVE"
	RegimeNeutral  Regime = "NEUTRAL"
)

// DangerType classifies a rate-of-change danger zone.
type DangerType string

const (
	DangerSpike      DangerType = "SPIKE"
	DangerBuilding   DangerType = "BUILDING"
	DangerCollapsing DangerType = "COLLAPSING"
)

// FlipDirection describes a per-strike net-gamma sign change.
type FlipDirection string

const (
	FlipNegToPos FlipDirection = "NEG_TO_POS"
	FlipPosToNeg FlipDirection = "POS_TO_NEG"
)

// MarketStatus is the venue state at snapshot time.
type MarketStatus string

const (
	MarketOpen   MarketStatus = "open"
	MarketClosed MarketStatus = "closed"
)

// OptionType distinguishes chain contract sides.
type OptionType string

const (
	OptionCall OptionType = "call"
	OptionPut  OptionType = "put"
)

// OptionContract is a single row of the raw chain as delivered by the
// market-data source. Greeks come from upstream; nothing is priced here.
type OptionContract struct {
	Strike            decimal.Decimal `json:"strike"`
	OptionType        OptionType      `json:"option_type"`
	Gamma             float64         `json:"gamma"`
	OpenInterest      int64           `json:"open_interest"`
	Bid               float64         `json:"bid"`
	Ask               float64         `json:"ask"`
	Last              float64         `json:"last"`
	ImpliedVolatility float64         `json:"implied_volatility"`
	Volume            int64           `json:"volume"`
}

// StrikeRecord is the per-strike slice of a snapshot.
//
// NetGamma is deterministic in the current chain alone. The ROC, flip and
// danger fields are derived from history and depend on ingestion order.
type StrikeRecord struct {
	Strike           decimal.Decimal `json:"strike"`
	CallGamma        float64         `json:"call_gamma"`
	PutGamma         float64         `json:"put_gamma"`
	CallOpenInterest int64           `json:"call_open_interest"`
	PutOpenInterest  int64           `json:"put_open_interest"`

	// Signed dealer gamma exposure in dollars. Positive means dealers are
	// net long gamma at this strike (mean-reversion flow), negative means
	// net short (trend-amplifying flow).
	NetGamma float64 `json:"net_gamma"`

	ROC1Min       float64 `json:"roc_1min"`
	ROC5Min       float64 `json:"roc_5min"`
	ROC30Min      float64 `json:"roc_30min"`
	ROC1Hr        float64 `json:"roc_1hr"`
	ROC4Hr        float64 `json:"roc_4hr"`
	ROCTradingDay float64 `json:"roc_trading_day"`

	IsMagnet   bool `json:"is_magnet"`
	MagnetRank *int `json:"magnet_rank,omitempty"`

	IsPin bool `json:"is_pin"`

	IsDanger   bool        `json:"is_danger"`
	DangerType *DangerType `json:"danger_type,omitempty"`

	GammaFlipped  bool           `json:"gamma_flipped"`
	FlipDirection *FlipDirection `json:"flip_direction,omitempty"`
}

// Magnet is one of the top strikes ranked by absolute net gamma.
type Magnet struct {
	Rank        int     `json:"rank"`
	Strike      float64 `json:"strike"`
	NetGamma    float64 `json:"net_gamma"`
	Probability float64 `json:"probability"`
}

// DangerZone reports a strike whose gamma ROC crossed a configured cutoff.
type DangerZone struct {
	Strike     float64    `json:"strike"`
	DangerType DangerType `json:"danger_type"`
	ROC1Min    float64    `json:"roc_1min"`
	ROC5Min    float64    `json:"roc_5min"`
}

// GammaFlip reports a per-strike sign change versus the previous snapshot.
type GammaFlip struct {
	Strike      float64       `json:"strike"`
	Direction   FlipDirection `json:"direction"`
	GammaBefore float64       `json:"gamma_before"`
	GammaAfter  float64       `json:"gamma_after"`
}

// PinningStatus summarizes whether price is actively pinning to a strike.
type PinningStatus struct {
	IsPinning        bool    `json:"is_pinning"`
	PinStrike        float64 `json:"pin_strike"`
	DistanceToPinPct float64 `json:"distance_to_pin_pct"`
	Message          string  `json:"message"`
	TradeIdea        string  `json:"trade_idea"`
}

// Snapshot is the immutable unit of engine output, one per symbol per fresh
// ingestion. Strikes are ordered ascending so clients see stable ordering.
type Snapshot struct {
	Symbol         string    `json:"symbol"`
	ExpirationDate string    `json:"expiration_date"`
	SnapshotTime   time.Time `json:"snapshot_time"`
	SpotPrice      float64   `json:"spot_price"`
	VIX            float64   `json:"vix"`
	ExpectedMove   float64   `json:"expected_move"`

	Strikes []StrikeRecord `json:"strikes"`

	TotalNetGamma  float64 `json:"total_net_gamma"`
	GammaRegime    Regime  `json:"gamma_regime"`
	PreviousRegime *Regime `json:"previous_regime,omitempty"`
	RegimeFlipped  bool    `json:"regime_flipped"`

	FlipPoint *float64 `json:"flip_point,omitempty"`
	CallWall  *float64 `json:"call_wall,omitempty"`
	PutWall   *float64 `json:"put_wall,omitempty"`

	Magnets        []Magnet     `json:"magnets"`
	LikelyPin      *float64     `json:"likely_pin,omitempty"`
	PinProbability float64      `json:"pin_probability"`
	DangerZones    []DangerZone `json:"danger_zones"`
	GammaFlips     []GammaFlip  `json:"gamma_flips"`

	PinningStatus PinningStatus `json:"pinning_status"`
	MarketStatus  MarketStatus  `json:"market_status"`
}

// Quote is the subset of an underlying quote the engine consumes.
type Quote struct {
	Symbol string  `json:"symbol"`
	Last   float64 `json:"last"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	Volume int64   `json:"volume"`
}

const contractMultiplier = 100

// NetGammaDollars converts per-contract call/put gamma and open interest
// into signed dealer dollar gamma at a strike. Calls are assumed dealer-long
// and puts dealer-short, the standard GEX convention.
func NetGammaDollars(callGamma float64, callOI int64, putGamma float64, putOI int64, spot float64) float64 {
	call := callGamma * float64(callOI) * contractMultiplier * spot
	put := putGamma * float64(putOI) * contractMultiplier * spot
	return call - put
}
