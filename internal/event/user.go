package event

import (
	"github.com/google/uuid"

	fpmath "PerpVAMM/internal/math"
	"PerpVAMM/internal/state"
)

// Deposit moves collateral from the signer's wallet into the collateral
// vault. Referrer is only recorded when the user is created.
type Deposit struct {
	Header
	Amount   fpmath.Uint `json:"amount"`
	Referrer *uuid.UUID  `json:"referrer,omitempty"`
}

func (d *Deposit) DirectiveType() DirectiveType { return DirectiveTypeDeposit }
func (d *Deposit) MarketIndex() *uint64         { return nil }

type Withdraw struct {
	Header
	Amount fpmath.Uint `json:"amount"`
}

func (w *Withdraw) DirectiveType() DirectiveType { return DirectiveTypeWithdraw }
func (w *Withdraw) MarketIndex() *uint64         { return nil }

// OpenPosition trades QuoteAssetAmount against the curve. LimitPrice, when
// set, bounds the average entry price.
type OpenPosition struct {
	Header
	Market           uint64                  `json:"market_index"`
	Direction        state.PositionDirection `json:"direction"`
	QuoteAssetAmount fpmath.Uint             `json:"quote_asset_amount"`
	LimitPrice       *fpmath.Uint            `json:"limit_price,omitempty"`
}

func (o *OpenPosition) DirectiveType() DirectiveType { return DirectiveTypeOpenPosition }
func (o *OpenPosition) MarketIndex() *uint64         { return marketRef(o.Market) }

type ClosePosition struct {
	Header
	Market uint64 `json:"market_index"`
}

func (c *ClosePosition) DirectiveType() DirectiveType { return DirectiveTypeClosePosition }
func (c *ClosePosition) MarketIndex() *uint64         { return marketRef(c.Market) }

// Liquidate is signed by the liquidator.
type Liquidate struct {
	Header
	User uuid.UUID `json:"user"`
}

func (l *Liquidate) DirectiveType() DirectiveType { return DirectiveTypeLiquidate }
func (l *Liquidate) MarketIndex() *uint64         { return nil }

type PlaceOrder struct {
	Header
	Params state.OrderParams `json:"params"`
}

func (p *PlaceOrder) DirectiveType() DirectiveType { return DirectiveTypePlaceOrder }
func (p *PlaceOrder) MarketIndex() *uint64         { return marketRef(p.Params.MarketIndex) }

type CancelOrder struct {
	Header
	Market     uint64 `json:"market_index"`
	OrderIndex uint64 `json:"order_index"`
}

func (c *CancelOrder) DirectiveType() DirectiveType { return DirectiveTypeCancelOrder }
func (c *CancelOrder) MarketIndex() *uint64         { return marketRef(c.Market) }

// FillOrder is signed by the filler.
type FillOrder struct {
	Header
	User       uuid.UUID `json:"user"`
	Market     uint64    `json:"market_index"`
	OrderIndex uint64    `json:"order_index"`
}

func (f *FillOrder) DirectiveType() DirectiveType { return DirectiveTypeFillOrder }
func (f *FillOrder) MarketIndex() *uint64         { return marketRef(f.Market) }

// ExpireOrders is signed by the filler.
type ExpireOrders struct {
	Header
	User uuid.UUID `json:"user"`
}

func (e *ExpireOrders) DirectiveType() DirectiveType { return DirectiveTypeExpireOrders }
func (e *ExpireOrders) MarketIndex() *uint64         { return nil }

type SettleFunding struct {
	Header
}

func (s *SettleFunding) DirectiveType() DirectiveType { return DirectiveTypeSettleFunding }
func (s *SettleFunding) MarketIndex() *uint64         { return nil }
