package event

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"PerpVAMM/internal/ledger"
)

// DirectiveType discriminator for directive payloads
type DirectiveType int32

const (
	DirectiveTypeUnknown DirectiveType = iota

	// user
	DirectiveTypeDeposit
	DirectiveTypeWithdraw
	DirectiveTypeOpenPosition
	DirectiveTypeClosePosition
	DirectiveTypeLiquidate
	DirectiveTypePlaceOrder
	DirectiveTypeCancelOrder
	DirectiveTypeFillOrder
	DirectiveTypeExpireOrders
	DirectiveTypeSettleFunding

	// admin
	DirectiveTypeInitializeMarket
	DirectiveTypeMovePrice
	DirectiveTypeWithdrawFees
	DirectiveTypeWithdrawFromInsuranceVault
	DirectiveTypeWithdrawFromInsuranceVaultToMarket
	DirectiveTypeRepeg
	DirectiveTypeUpdateOracleTWAP
	DirectiveTypeResetOracleTWAP
	DirectiveTypeUpdateFundingRate
	DirectiveTypeUpdateK
	DirectiveTypeFeedPrice

	// admin setters
	DirectiveTypeUpdateMarginRatio
	DirectiveTypeUpdateLiquidationParams
	DirectiveTypeUpdateFeeStructure
	DirectiveTypeUpdateOrderState
	DirectiveTypeUpdateOracleGuardRails
	DirectiveTypeUpdateMarketOracle
	DirectiveTypeUpdateMarketMinimumTradeSize
	DirectiveTypeUpdateMaxDeposit
	DirectiveTypeUpdateAdmin
	DirectiveTypeUpdateExchangePaused
	DirectiveTypeUpdateFundingPaused
	DirectiveTypeDisableAdminControlsPrices
	DirectiveTypeUpdateProtocolAddresses
)

var directiveTypeNames = []string{
	"unknown",
	"deposit",
	"withdraw",
	"open_position",
	"close_position",
	"liquidate",
	"place_order",
	"cancel_order",
	"fill_order",
	"expire_orders",
	"settle_funding",
	"initialize_market",
	"move_price",
	"withdraw_fees",
	"withdraw_from_insurance_vault",
	"withdraw_from_insurance_vault_to_market",
	"repeg",
	"update_oracle_twap",
	"reset_oracle_twap",
	"update_funding_rate",
	"update_k",
	"feed_price",
	"update_margin_ratio",
	"update_liquidation_params",
	"update_fee_structure",
	"update_order_state",
	"update_oracle_guard_rails",
	"update_market_oracle",
	"update_market_minimum_trade_size",
	"update_max_deposit",
	"update_admin",
	"update_exchange_paused",
	"update_funding_paused",
	"disable_admin_controls_prices",
	"update_protocol_addresses",
}

func (t DirectiveType) String() string {
	if t < 0 || int(t) >= len(directiveTypeNames) {
		return "unknown"
	}
	return directiveTypeNames[t]
}

// ParseDirectiveType is the inverse of String.
func ParseDirectiveType(s string) (DirectiveType, error) {
	for i, n := range directiveTypeNames {
		if i > 0 && n == s {
			return DirectiveType(i), nil
		}
	}
	return DirectiveTypeUnknown, fmt.Errorf("unknown directive type %q", s)
}

func (t DirectiveType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *DirectiveType) UnmarshalText(b []byte) error {
	parsed, err := ParseDirectiveType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// IsAdmin reports whether only the protocol admin may sign the directive.
// Funding rate updates are open to any keeper.
func (t DirectiveType) IsAdmin() bool {
	return t >= DirectiveTypeInitializeMarket && t != DirectiveTypeUpdateFundingRate
}

// Directive is the interface all inbound operations implement
type Directive interface {
	// DirectiveID returns the stable dedup key
	DirectiveID() uuid.UUID

	// DirectiveType returns the discriminator
	DirectiveType() DirectiveType

	// Signer is the identity the directive acts as
	Signer() uuid.UUID

	// MarketIndex returns the market context (nil for global directives)
	MarketIndex() *uint64

	// Timestamp is the versioned input time in unix seconds (NOT wall-clock)
	Timestamp() int64
}

// Header carries the fields every directive shares. They travel in the
// wire envelope, not in the payload.
type Header struct {
	ID        uuid.UUID `json:"-"`
	Authority uuid.UUID `json:"-"`
	Ts        int64     `json:"-"`
}

func (h *Header) DirectiveID() uuid.UUID { return h.ID }
func (h *Header) Signer() uuid.UUID      { return h.Authority }
func (h *Header) Timestamp() int64       { return h.Ts }
func (h *Header) header() *Header        { return h }

// Output wraps every applied directive in the log
type Output struct {
	// Global monotonic sequence assigned by core
	Sequence int64 `json:"sequence"`

	DirectiveID uuid.UUID     `json:"directive_id"`
	Type        DirectiveType `json:"type"`
	Signer      uuid.UUID     `json:"signer"`
	MarketIndex *uint64       `json:"market_index,omitempty"`
	Timestamp   int64         `json:"timestamp"`

	// JSON-encoded directive payload
	Payload json.RawMessage `json:"payload"`

	Journals []ledger.Journal `json:"journals"`
	Records  []Record         `json:"records"`

	// SHA-256 of state AFTER applying this directive
	StateHash [32]byte `json:"state_hash"`

	// Previous output's state hash (chain integrity)
	PrevHash [32]byte `json:"prev_hash"`
}

func marketRef(i uint64) *uint64 { return &i }
