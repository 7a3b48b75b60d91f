package event

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Envelope is the JSON wire format of a directive, shared by the NATS
// subjects and the gRPC Command RPC.
type Envelope struct {
	ID        uuid.UUID       `json:"id"`
	Type      DirectiveType   `json:"type"`
	Authority uuid.UUID       `json:"authority"`
	Ts        int64           `json:"ts"`
	Payload   json.RawMessage `json:"payload"`
}

var registry = map[DirectiveType]func() Directive{
	DirectiveTypeDeposit:                            func() Directive { return &Deposit{} },
	DirectiveTypeWithdraw:                           func() Directive { return &Withdraw{} },
	DirectiveTypeOpenPosition:                       func() Directive { return &OpenPosition{} },
	DirectiveTypeClosePosition:                      func() Directive { return &ClosePosition{} },
	DirectiveTypeLiquidate:                          func() Directive { return &Liquidate{} },
	DirectiveTypePlaceOrder:                         func() Directive { return &PlaceOrder{} },
	DirectiveTypeCancelOrder:                        func() Directive { return &CancelOrder{} },
	DirectiveTypeFillOrder:                          func() Directive { return &FillOrder{} },
	DirectiveTypeExpireOrders:                       func() Directive { return &ExpireOrders{} },
	DirectiveTypeSettleFunding:                      func() Directive { return &SettleFunding{} },
	DirectiveTypeInitializeMarket:                   func() Directive { return &InitializeMarket{} },
	DirectiveTypeMovePrice:                          func() Directive { return &MovePrice{} },
	DirectiveTypeWithdrawFees:                       func() Directive { return &WithdrawFees{} },
	DirectiveTypeWithdrawFromInsuranceVault:         func() Directive { return &WithdrawFromInsuranceVault{} },
	DirectiveTypeWithdrawFromInsuranceVaultToMarket: func() Directive { return &WithdrawFromInsuranceVaultToMarket{} },
	DirectiveTypeRepeg:                              func() Directive { return &Repeg{} },
	DirectiveTypeUpdateOracleTWAP:                   func() Directive { return &UpdateOracleTWAP{} },
	DirectiveTypeResetOracleTWAP:                    func() Directive { return &ResetOracleTWAP{} },
	DirectiveTypeUpdateFundingRate:                  func() Directive { return &UpdateFundingRate{} },
	DirectiveTypeUpdateK:                            func() Directive { return &UpdateK{} },
	DirectiveTypeFeedPrice:                          func() Directive { return &FeedPrice{} },
	DirectiveTypeUpdateMarginRatio:                  func() Directive { return &UpdateMarginRatio{} },
	DirectiveTypeUpdateLiquidationParams:            func() Directive { return &UpdateLiquidationParams{} },
	DirectiveTypeUpdateFeeStructure:                 func() Directive { return &UpdateFeeStructure{} },
	DirectiveTypeUpdateOrderState:                   func() Directive { return &UpdateOrderState{} },
	DirectiveTypeUpdateOracleGuardRails:             func() Directive { return &UpdateOracleGuardRails{} },
	DirectiveTypeUpdateMarketOracle:                 func() Directive { return &UpdateMarketOracle{} },
	DirectiveTypeUpdateMarketMinimumTradeSize:       func() Directive { return &UpdateMarketMinimumTradeSize{} },
	DirectiveTypeUpdateMaxDeposit:                   func() Directive { return &UpdateMaxDeposit{} },
	DirectiveTypeUpdateAdmin:                        func() Directive { return &UpdateAdmin{} },
	DirectiveTypeUpdateExchangePaused:               func() Directive { return &UpdateExchangePaused{} },
	DirectiveTypeUpdateFundingPaused:                func() Directive { return &UpdateFundingPaused{} },
	DirectiveTypeDisableAdminControlsPrices:         func() Directive { return &DisableAdminControlsPrices{} },
	DirectiveTypeUpdateProtocolAddresses:            func() Directive { return &UpdateProtocolAddresses{} },
}

type headed interface {
	header() *Header
}

// Decode parses a wire envelope into a typed directive.
func Decode(data []byte) (Directive, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parse envelope: %w", err)
	}
	return FromEnvelope(env)
}

// FromEnvelope builds the directive an envelope carries.
func FromEnvelope(env Envelope) (Directive, error) {
	if env.ID == uuid.Nil {
		return nil, fmt.Errorf("directive without id")
	}
	newDirective, ok := registry[env.Type]
	if !ok {
		return nil, fmt.Errorf("unknown directive type: %s", env.Type)
	}
	d := newDirective()
	if len(env.Payload) > 0 && string(env.Payload) != "null" {
		if err := json.Unmarshal(env.Payload, d); err != nil {
			return nil, fmt.Errorf("parse %s payload: %w", env.Type, err)
		}
	}
	h := d.(headed).header()
	h.ID = env.ID
	h.Authority = env.Authority
	h.Ts = env.Ts
	return d, nil
}

// Encode is the inverse of Decode.
func Encode(d Directive) ([]byte, error) {
	payload, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", d.DirectiveType(), err)
	}
	return json.Marshal(Envelope{
		ID:        d.DirectiveID(),
		Type:      d.DirectiveType(),
		Authority: d.Signer(),
		Ts:        d.Timestamp(),
		Payload:   payload,
	})
}
