package state

import (
	"github.com/google/uuid"

	fpmath "PerpVAMM/internal/math"
)

// Position is a user's exposure in one market.
// Invariant: a zero BaseAssetAmount implies a zero QuoteAssetAmount.
type Position struct {
	User                      uuid.UUID   `json:"user"`
	MarketIndex               uint64      `json:"market_index"`
	BaseAssetAmount           fpmath.Int  `json:"base_asset_amount"`
	QuoteAssetAmount          fpmath.Uint `json:"quote_asset_amount"`
	LastCumulativeFundingRate fpmath.Int  `json:"last_cumulative_funding_rate"`
	LastFundingRateTs         int64       `json:"last_funding_rate_ts"`
	OrderLength               uint64      `json:"order_length"`
}

func NewPosition(user uuid.UUID, marketIndex uint64) *Position {
	return &Position{User: user, MarketIndex: marketIndex}
}

// IsOpen reports whether the position carries base exposure.
func (p *Position) IsOpen() bool {
	return !p.BaseAssetAmount.IsZero()
}

func (p *Position) HasOpenOrder() bool {
	return p.OrderLength != 0
}

// IsAvailable reports whether the record holds nothing worth keeping.
func (p *Position) IsAvailable() bool {
	return !p.IsOpen() && !p.HasOpenOrder()
}

// Direction returns the side of an open position.
func (p *Position) Direction() PositionDirection {
	if p.BaseAssetAmount.IsNegative() {
		return DirectionShort
	}
	return DirectionLong
}
