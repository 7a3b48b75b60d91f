package event

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	fpmath "PerpVAMM/internal/math"
	"PerpVAMM/internal/state"
)

// HistoryKind names one append-only history log.
type HistoryKind int32

const (
	HistoryCurve HistoryKind = iota
	HistoryDeposit
	HistoryFundingPayment
	HistoryFundingRate
	HistoryLiquidation
	HistoryTrade
	HistoryOrder
)

var historyKindNames = []string{
	"curve",
	"deposit",
	"funding_payment",
	"funding_rate",
	"liquidation",
	"trade",
	"order",
}

// HistoryKinds lists every kind in order.
func HistoryKinds() []HistoryKind {
	kinds := make([]HistoryKind, len(historyKindNames))
	for i := range kinds {
		kinds[i] = HistoryKind(i)
	}
	return kinds
}

func (k HistoryKind) String() string {
	if k < 0 || int(k) >= len(historyKindNames) {
		return "unknown"
	}
	return historyKindNames[k]
}

func ParseHistoryKind(s string) (HistoryKind, error) {
	for i, n := range historyKindNames {
		if n == s {
			return HistoryKind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown history kind %q", s)
}

func (k HistoryKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *HistoryKind) UnmarshalText(b []byte) error {
	parsed, err := ParseHistoryKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// HistoryRecord is implemented by every typed history entry.
type HistoryRecord interface {
	HistoryKind() HistoryKind
	Market() *uint64
}

// Record is one entry of a history log. ID counts from one per kind.
type Record struct {
	Kind        HistoryKind     `json:"kind"`
	ID          uint64          `json:"id"`
	Ts          int64           `json:"ts"`
	MarketIndex *uint64         `json:"market_index,omitempty"`
	Data        json.RawMessage `json:"data"`
}

func NewRecord(id uint64, ts int64, r HistoryRecord) (Record, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return Record{}, fmt.Errorf("encode %s record: %w", r.HistoryKind(), err)
	}
	return Record{Kind: r.HistoryKind(), ID: id, Ts: ts, MarketIndex: r.Market(), Data: data}, nil
}

type CurveRecord struct {
	MarketIndex                uint64                `json:"market_index"`
	Adjustment                 state.CurveAdjustment `json:"adjustment"`
	PegMultiplierBefore        fpmath.Uint           `json:"peg_multiplier_before"`
	PegMultiplierAfter         fpmath.Uint           `json:"peg_multiplier_after"`
	BaseAssetReserveBefore     fpmath.Uint           `json:"base_asset_reserve_before"`
	BaseAssetReserveAfter      fpmath.Uint           `json:"base_asset_reserve_after"`
	QuoteAssetReserveBefore    fpmath.Uint           `json:"quote_asset_reserve_before"`
	QuoteAssetReserveAfter     fpmath.Uint           `json:"quote_asset_reserve_after"`
	SqrtKBefore                fpmath.Uint           `json:"sqrt_k_before"`
	SqrtKAfter                 fpmath.Uint           `json:"sqrt_k_after"`
	BaseAssetAmountLong        fpmath.Uint           `json:"base_asset_amount_long"`
	BaseAssetAmountShort       fpmath.Uint           `json:"base_asset_amount_short"`
	BaseAssetAmount            fpmath.Int            `json:"base_asset_amount"`
	OpenInterest               uint64                `json:"open_interest"`
	TotalFee                   fpmath.Uint           `json:"total_fee"`
	TotalFeeMinusDistributions fpmath.Uint           `json:"total_fee_minus_distributions"`
	AdjustmentCost             fpmath.Int            `json:"adjustment_cost"`
	OraclePrice                fpmath.Int            `json:"oracle_price"`
}

func (r *CurveRecord) HistoryKind() HistoryKind { return HistoryCurve }
func (r *CurveRecord) Market() *uint64          { return marketRef(r.MarketIndex) }

type DepositRecord struct {
	User                     uuid.UUID              `json:"user"`
	Direction                state.DepositDirection `json:"direction"`
	CollateralBefore         fpmath.Uint            `json:"collateral_before"`
	CumulativeDepositsBefore fpmath.Uint            `json:"cumulative_deposits_before"`
	Amount                   fpmath.Uint            `json:"amount"`
}

func (r *DepositRecord) HistoryKind() HistoryKind { return HistoryDeposit }
func (r *DepositRecord) Market() *uint64          { return nil }

type FundingPaymentRecord struct {
	User                      uuid.UUID  `json:"user"`
	MarketIndex               uint64     `json:"market_index"`
	FundingPayment            fpmath.Int `json:"funding_payment"`
	BaseAssetAmount           fpmath.Int `json:"base_asset_amount"`
	UserLastCumulativeFunding fpmath.Int `json:"user_last_cumulative_funding"`
	UserLastFundingRateTs     int64      `json:"user_last_funding_rate_ts"`
	AMMCumulativeFundingLong  fpmath.Int `json:"amm_cumulative_funding_long"`
	AMMCumulativeFundingShort fpmath.Int `json:"amm_cumulative_funding_short"`
}

func (r *FundingPaymentRecord) HistoryKind() HistoryKind { return HistoryFundingPayment }
func (r *FundingPaymentRecord) Market() *uint64          { return marketRef(r.MarketIndex) }

type FundingRateRecord struct {
	MarketIndex                uint64      `json:"market_index"`
	FundingRate                fpmath.Int  `json:"funding_rate"`
	CumulativeFundingRateLong  fpmath.Int  `json:"cumulative_funding_rate_long"`
	CumulativeFundingRateShort fpmath.Int  `json:"cumulative_funding_rate_short"`
	OraclePriceTWAP            fpmath.Int  `json:"oracle_price_twap"`
	MarkPriceTWAP              fpmath.Uint `json:"mark_price_twap"`
}

func (r *FundingRateRecord) HistoryKind() HistoryKind { return HistoryFundingRate }
func (r *FundingRateRecord) Market() *uint64          { return marketRef(r.MarketIndex) }

type LiquidationRecord struct {
	User                 uuid.UUID   `json:"user"`
	Liquidator           uuid.UUID   `json:"liquidator"`
	Partial              bool        `json:"partial"`
	BaseAssetValue       fpmath.Uint `json:"base_asset_value"`
	BaseAssetValueClosed fpmath.Uint `json:"base_asset_value_closed"`
	LiquidationFee       fpmath.Uint `json:"liquidation_fee"`
	FeeToLiquidator      fpmath.Uint `json:"fee_to_liquidator"`
	FeeToInsuranceFund   fpmath.Uint `json:"fee_to_insurance_fund"`
	TotalCollateral      fpmath.Uint `json:"total_collateral"`
	Collateral           fpmath.Uint `json:"collateral"`
	UnrealizedPnl        fpmath.Int  `json:"unrealized_pnl"`
	MarginRatio          fpmath.Uint `json:"margin_ratio"`
}

func (r *LiquidationRecord) HistoryKind() HistoryKind { return HistoryLiquidation }
func (r *LiquidationRecord) Market() *uint64          { return nil }

type TradeRecord struct {
	User             uuid.UUID               `json:"user"`
	MarketIndex      uint64                  `json:"market_index"`
	Direction        state.PositionDirection `json:"direction"`
	BaseAssetAmount  fpmath.Uint             `json:"base_asset_amount"`
	QuoteAssetAmount fpmath.Uint             `json:"quote_asset_amount"`
	MarkPriceBefore  fpmath.Uint             `json:"mark_price_before"`
	MarkPriceAfter   fpmath.Uint             `json:"mark_price_after"`
	Fee              fpmath.Uint             `json:"fee"`
	ReferrerReward   fpmath.Uint             `json:"referrer_reward"`
	RefereeDiscount  fpmath.Uint             `json:"referee_discount"`
	TokenDiscount    fpmath.Uint             `json:"token_discount"`
	Liquidation      bool                    `json:"liquidation"`
	OraclePrice      fpmath.Int              `json:"oracle_price"`
}

func (r *TradeRecord) HistoryKind() HistoryKind { return HistoryTrade }
func (r *TradeRecord) Market() *uint64          { return marketRef(r.MarketIndex) }

type OrderRecord struct {
	User                    uuid.UUID         `json:"user"`
	Order                   state.Order       `json:"order"`
	Action                  state.OrderAction `json:"action"`
	Filler                  uuid.UUID         `json:"filler"`
	TradeRecordID           uint64            `json:"trade_record_id"`
	BaseAssetAmountFilled   fpmath.Uint       `json:"base_asset_amount_filled"`
	QuoteAssetAmountFilled  fpmath.Uint       `json:"quote_asset_amount_filled"`
	Fee                     fpmath.Uint       `json:"fee"`
	FillerReward            fpmath.Uint       `json:"filler_reward"`
	QuoteAssetAmountSurplus fpmath.Uint       `json:"quote_asset_amount_surplus"`
}

func (r *OrderRecord) HistoryKind() HistoryKind { return HistoryOrder }
func (r *OrderRecord) Market() *uint64          { return marketRef(r.Order.MarketIndex) }
