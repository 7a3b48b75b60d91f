package state

import "fmt"

// PositionDirection is the side a trader takes.
type PositionDirection int32

const (
	DirectionLong PositionDirection = iota
	DirectionShort
)

var positionDirectionNames = []string{"Long", "Short"}

func (d PositionDirection) String() string { return enumName(positionDirectionNames, int32(d)) }

// Opposite returns the other side.
func (d PositionDirection) Opposite() PositionDirection {
	if d == DirectionLong {
		return DirectionShort
	}
	return DirectionLong
}

func (d PositionDirection) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *PositionDirection) UnmarshalText(b []byte) error {
	return parseEnum(positionDirectionNames, "position direction", b, (*int32)(d))
}

// SwapDirection is the direction reserves move on the AMM input side.
type SwapDirection int32

const (
	SwapAdd SwapDirection = iota
	SwapRemove
)

var swapDirectionNames = []string{"Add", "Remove"}

func (d SwapDirection) String() string { return enumName(swapDirectionNames, int32(d)) }

// DepositDirection tags deposit history records.
type DepositDirection int32

const (
	Deposit DepositDirection = iota
	Withdraw
)

var depositDirectionNames = []string{"Deposit", "Withdraw"}

func (d DepositDirection) String() string { return enumName(depositDirectionNames, int32(d)) }

func (d DepositDirection) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *DepositDirection) UnmarshalText(b []byte) error {
	return parseEnum(depositDirectionNames, "deposit direction", b, (*int32)(d))
}

// OrderStatus is the lifecycle state of a stored order. Terminal states
// (filled, cancelled, expired) remove the record instead.
type OrderStatus int32

const (
	OrderStatusInit OrderStatus = iota
	OrderStatusOpen
)

var orderStatusNames = []string{"Init", "Open"}

func (s OrderStatus) String() string { return enumName(orderStatusNames, int32(s)) }

func (s OrderStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *OrderStatus) UnmarshalText(b []byte) error {
	return parseEnum(orderStatusNames, "order status", b, (*int32)(s))
}

type OrderType int32

const (
	OrderTypeMarket OrderType = iota
	OrderTypeLimit
	OrderTypeTriggerMarket
	OrderTypeTriggerLimit
)

var orderTypeNames = []string{"Market", "Limit", "TriggerMarket", "TriggerLimit"}

func (t OrderType) String() string { return enumName(orderTypeNames, int32(t)) }

func (t OrderType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *OrderType) UnmarshalText(b []byte) error {
	return parseEnum(orderTypeNames, "order type", b, (*int32)(t))
}

type TriggerCondition int32

const (
	TriggerAbove TriggerCondition = iota
	TriggerBelow
)

var triggerConditionNames = []string{"Above", "Below"}

func (c TriggerCondition) String() string { return enumName(triggerConditionNames, int32(c)) }

func (c TriggerCondition) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *TriggerCondition) UnmarshalText(b []byte) error {
	return parseEnum(triggerConditionNames, "trigger condition", b, (*int32)(c))
}

// DiscountTier is the fee discount tier recorded on an order at placement.
type DiscountTier int32

const (
	DiscountTierNone DiscountTier = iota
	DiscountTierFirst
	DiscountTierSecond
	DiscountTierThird
	DiscountTierFourth
)

var discountTierNames = []string{"None", "First", "Second", "Third", "Fourth"}

func (t DiscountTier) String() string { return enumName(discountTierNames, int32(t)) }

func (t DiscountTier) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *DiscountTier) UnmarshalText(b []byte) error {
	return parseEnum(discountTierNames, "discount tier", b, (*int32)(t))
}

// LiquidationType is derived fresh on every status computation.
type LiquidationType int32

const (
	LiquidationNone LiquidationType = iota
	LiquidationPartial
	LiquidationFull
)

var liquidationTypeNames = []string{"None", "Partial", "Full"}

func (t LiquidationType) String() string { return enumName(liquidationTypeNames, int32(t)) }

func (t LiquidationType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *LiquidationType) UnmarshalText(b []byte) error {
	return parseEnum(liquidationTypeNames, "liquidation type", b, (*int32)(t))
}

// OrderAction tags order history records.
type OrderAction int32

const (
	OrderActionPlace OrderAction = iota
	OrderActionCancel
	OrderActionFill
	OrderActionExpire
)

var orderActionNames = []string{"Place", "Cancel", "Fill", "Expire"}

func (a OrderAction) String() string { return enumName(orderActionNames, int32(a)) }

func (a OrderAction) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *OrderAction) UnmarshalText(b []byte) error {
	return parseEnum(orderActionNames, "order action", b, (*int32)(a))
}

// CurveAdjustment tags curve history records.
type CurveAdjustment int32

const (
	CurveRepeg CurveAdjustment = iota
	CurveUpdateK
)

var curveAdjustmentNames = []string{"Repeg", "UpdateK"}

func (a CurveAdjustment) String() string { return enumName(curveAdjustmentNames, int32(a)) }

func (a CurveAdjustment) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *CurveAdjustment) UnmarshalText(b []byte) error {
	return parseEnum(curveAdjustmentNames, "curve adjustment", b, (*int32)(a))
}

func enumName(names []string, v int32) string {
	if v < 0 || int(v) >= len(names) {
		return "Unknown"
	}
	return names[v]
}

func parseEnum(names []string, kind string, b []byte, dst *int32) error {
	s := string(b)
	for i, n := range names {
		if n == s {
			*dst = int32(i)
			return nil
		}
	}
	return fmt.Errorf("unknown %s %q", kind, s)
}
