// Package margin checks collateral sufficiency across a user's positions,
// derives liquidation status, and executes liquidations.
package margin

import (
	"errors"
	"slices"

	"PerpVAMM/internal/amm"
	fpmath "PerpVAMM/internal/math"
	"PerpVAMM/internal/position"
	"PerpVAMM/internal/state"
)

// Holding pairs a user's position with its market. Positions and markets
// are mutated in place by liquidation.
type Holding struct {
	Market   *state.Market
	Position *state.Position
}

// OracleSource reads the oracle for a market. An error matching
// state.ErrOracleNotFound marks the oracle invalid instead of failing.
type OracleSource func(m *state.Market) (state.OraclePriceData, error)

func marginRatio(m *state.Market, kind state.LiquidationType) uint32 {
	switch kind {
	case state.LiquidationFull:
		return m.MarginRatioMaintenance
	case state.LiquidationPartial:
		return m.MarginRatioPartial
	default:
		return m.MarginRatioInitial
	}
}

// requirement sums value*ratio over open holdings and returns it with the
// total unrealized pnl. ratio picks the margin ratio per market.
func requirement(holdings []Holding, ratio func(*state.Market) uint32, skip *uint64) (req fpmath.Uint, pnl fpmath.Int, closedValue fpmath.Uint, err error) {
	c := fpmath.NewCalc("margin_requirement")
	for _, h := range holdings {
		if h.Position == nil || h.Position.BaseAssetAmount.IsZero() {
			continue
		}
		value, upnl, err := position.ValueAndPnl(h.Position, &h.Market.AMM)
		if err != nil {
			return fpmath.Uint{}, fpmath.Int{}, fpmath.Uint{}, err
		}
		if skip != nil && *skip == h.Market.Index {
			closedValue = value
		} else {
			req = c.Add(req, c.Mul(value, fpmath.NewUint(uint64(ratio(h.Market)))))
		}
		pnl = c.IAdd(pnl, upnl)
	}
	req = c.Div(req, fpmath.MarginPrecision)
	return req, pnl, closedValue, c.Err()
}

// Requirement is the collateral the holdings need at the given level:
// LiquidationNone for initial margin, LiquidationPartial or LiquidationFull
// for the partial and maintenance thresholds.
func Requirement(holdings []Holding, level state.LiquidationType) (fpmath.Uint, error) {
	req, _, _, err := requirement(holdings, func(m *state.Market) uint32 { return marginRatio(m, level) }, nil)
	return req, err
}

func meets(user *state.User, holdings []Holding, level state.LiquidationType) (bool, error) {
	req, pnl, _, err := requirement(holdings, func(m *state.Market) uint32 { return marginRatio(m, level) }, nil)
	if err != nil {
		return false, err
	}
	total := position.UpdatedCollateral(user.Collateral, pnl)
	return total.GTE(req), nil
}

// MeetsInitialMarginRequirement reports whether collateral plus unrealized
// pnl covers the initial margin of every open position.
func MeetsInitialMarginRequirement(user *state.User, holdings []Holding) (bool, error) {
	return meets(user, holdings, state.LiquidationNone)
}

// MeetsPartialMarginRequirement is the partial-liquidation threshold check
// applied after risk-increasing trades.
func MeetsPartialMarginRequirement(user *state.User, holdings []Holding) (bool, error) {
	return meets(user, holdings, state.LiquidationPartial)
}

// FreeCollateral is collateral plus unrealized pnl beyond the initial
// margin requirement. When marketToClose is set that market is left out of
// the requirement and its value is returned separately.
func FreeCollateral(user *state.User, holdings []Holding, marketToClose *uint64) (free, closedValue fpmath.Uint, err error) {
	req, pnl, closedValue, err := requirement(holdings, func(m *state.Market) uint32 { return m.MarginRatioInitial }, marketToClose)
	if err != nil {
		return fpmath.Uint{}, fpmath.Uint{}, err
	}
	total := position.UpdatedCollateral(user.Collateral, pnl)
	if req.LT(total) {
		c := fpmath.NewCalc("calculate_free_collateral")
		free = c.Sub(total, req)
		if err := c.Err(); err != nil {
			return fpmath.Uint{}, fpmath.Uint{}, err
		}
	}
	return free, closedValue, nil
}

// Status computes the user's liquidation status. Where the oracle is valid
// and far enough from mark, each market is valued at whichever of the
// oracle and the curve gives the trader the better pnl.
func Status(user *state.User, holdings []Holding, oracles OracleSource, rails *state.OracleGuardRails) (state.LiquidationStatus, error) {
	c := fpmath.NewCalc("calculate_liquidation_status")
	var (
		partialReq, maintenanceReq, baseValue fpmath.Uint
		unrealized, adjusted                  fpmath.Int
		statuses                              []state.MarketStatus
	)

	for _, h := range holdings {
		if h.Position == nil || h.Position.BaseAssetAmount.IsZero() {
			continue
		}
		m, pos := h.Market, h.Position
		value, pnl, err := position.ValueAndPnl(pos, &m.AMM)
		if err != nil {
			return state.LiquidationStatus{}, err
		}
		baseValue = c.Add(baseValue, value)
		unrealized = c.IAdd(unrealized, pnl)

		mark, err := amm.MarkPrice(&m.AMM)
		if err != nil {
			return state.LiquidationStatus{}, err
		}
		oracle, err := oracleStatus(m, oracles, rails, mark)
		if err != nil {
			return state.LiquidationStatus{}, err
		}

		marginValue, marginPnl := value, pnl
		var slippage *fpmath.Int
		useOracle := false
		if oracle.IsValid {
			if useOracle, err = amm.UseOraclePriceForMargin(oracle.OracleMarkSpreadPct, rails); err != nil {
				return state.LiquidationStatus{}, err
			}
		}
		if useOracle {
			s, err := position.Slippage(value, pos.BaseAssetAmount.Abs(), mark)
			if err != nil {
				return state.LiquidationStatus{}, err
			}
			slippage = &s
			exitPrice := c.IAdd(oracle.PriceData.Price, s)
			oValue, oPnl, err := position.ValueAndPnlWithOraclePrice(pos, exitPrice)
			if err != nil {
				return state.LiquidationStatus{}, err
			}
			if oPnl.GT(pnl) {
				marginValue, marginPnl = oValue, oPnl
			}
		}
		adjusted = c.IAdd(adjusted, marginPnl)

		marketPartial := c.Mul(marginValue, fpmath.NewUint(uint64(m.MarginRatioPartial)))
		marketMaintenance := c.Mul(marginValue, fpmath.NewUint(uint64(m.MarginRatioMaintenance)))
		partialReq = c.Add(partialReq, marketPartial)
		maintenanceReq = c.Add(maintenanceReq, marketMaintenance)

		statuses = append(statuses, state.MarketStatus{
			MarketIndex:                  m.Index,
			PartialMarginRequirement:     c.Div(marketPartial, fpmath.MarginPrecision),
			MaintenanceMarginRequirement: c.Div(marketMaintenance, fpmath.MarginPrecision),
			BaseAssetValue:               value,
			MarkPriceBefore:              mark,
			ClosePositionSlippage:        slippage,
			OracleStatus:                 oracle,
		})
	}

	partialReq = c.Div(partialReq, fpmath.MarginPrecision)
	maintenanceReq = c.Div(maintenanceReq, fpmath.MarginPrecision)
	if err := c.Err(); err != nil {
		return state.LiquidationStatus{}, err
	}

	total := position.UpdatedCollateral(user.Collateral, unrealized)
	adjustedTotal := position.UpdatedCollateral(user.Collateral, adjusted)

	st := state.LiquidationStatus{
		LiquidationType:         state.LiquidationNone,
		MarginRequirement:       partialReq,
		TotalCollateral:         total,
		UnrealizedPnl:           unrealized,
		AdjustedTotalCollateral: adjustedTotal,
		BaseAssetValue:          baseValue,
		MarginRatio:             fpmath.MaxUint256,
		MarketStatuses:          statuses,
	}
	switch {
	case adjustedTotal.LT(maintenanceReq):
		st.LiquidationType = state.LiquidationFull
		st.MarginRequirement = maintenanceReq
		slices.SortStableFunc(st.MarketStatuses, func(a, b state.MarketStatus) int {
			return b.MaintenanceMarginRequirement.Cmp(a.MaintenanceMarginRequirement)
		})
	case adjustedTotal.LT(partialReq):
		st.LiquidationType = state.LiquidationPartial
		slices.SortStableFunc(st.MarketStatuses, func(a, b state.MarketStatus) int {
			return b.PartialMarginRequirement.Cmp(a.PartialMarginRequirement)
		})
	}
	if !baseValue.IsZero() {
		st.MarginRatio = c.Div(c.Mul(total, fpmath.MarginPrecision), baseValue)
	}
	return st, c.Err()
}

func oracleStatus(m *state.Market, oracles OracleSource, rails *state.OracleGuardRails, mark fpmath.Uint) (state.OracleStatus, error) {
	data, err := oracles(m)
	if errors.Is(err, state.ErrOracleNotFound) {
		return state.OracleStatus{}, nil
	}
	if err != nil {
		return state.OracleStatus{}, err
	}
	return amm.Status(&m.AMM, data, rails, &mark)
}
