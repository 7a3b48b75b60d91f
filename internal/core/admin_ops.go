package core

import (
	"fmt"

	"github.com/google/uuid"

	"PerpVAMM/internal/amm"
	"PerpVAMM/internal/event"
	"PerpVAMM/internal/ledger"
	fpmath "PerpVAMM/internal/math"
	"PerpVAMM/internal/state"
)

func (ch *ClearingHouse) initializeMarket(t *txn, d *event.InitializeMarket) error {
	ps, err := t.protocolState()
	if err != nil {
		return err
	}
	if !d.BaseAssetReserve.Eq(d.QuoteAssetReserve) {
		return fmt.Errorf("base reserve %s != quote reserve %s: %w", d.BaseAssetReserve, d.QuoteAssetReserve, state.ErrInvalidInitialPeg)
	}
	if d.BaseAssetReserve.IsZero() || d.PegMultiplier.IsZero() {
		return fmt.Errorf("zero reserves or peg: %w", state.ErrInvalidInitialPeg)
	}
	if d.FundingPeriod <= 0 {
		return fmt.Errorf("funding period %d: %w", d.FundingPeriod, state.ErrInvalidParameter)
	}
	if err := state.ValidateMarginRatios(d.MarginRatioInitial, d.MarginRatioPartial, d.MarginRatioMaintenance); err != nil {
		return err
	}

	// base * quote must fit before sqrt k is derived
	c := fpmath.NewCalc("initialize_market")
	_ = c.Mul(d.BaseAssetReserve, d.QuoteAssetReserve)
	if err := c.Err(); err != nil {
		return err
	}
	initialPrice, err := amm.CalculatePrice(d.QuoteAssetReserve, d.BaseAssetReserve, d.PegMultiplier)
	if err != nil {
		return err
	}

	m := &state.Market{
		Index:                  d.Market,
		Symbol:                 d.Symbol,
		Initialized:            true,
		MarginRatioInitial:     d.MarginRatioInitial,
		MarginRatioPartial:     d.MarginRatioPartial,
		MarginRatioMaintenance: d.MarginRatioMaintenance,
		AMM: state.AMM{
			Oracle:                     ps.Oracle,
			BaseAssetReserve:           d.BaseAssetReserve,
			QuoteAssetReserve:          d.QuoteAssetReserve,
			SqrtK:                      d.BaseAssetReserve,
			PegMultiplier:              d.PegMultiplier,
			LastFundingRateTs:          t.now,
			FundingPeriod:              d.FundingPeriod,
			LastMarkPriceTWAP:          initialPrice,
			LastMarkPriceTWAPTs:        t.now,
			LastOraclePriceTWAPTs:      t.now,
			MinimumQuoteAssetTradeSize: state.DefaultMinimumTradeSize,
			MinimumBaseAssetTradeSize:  state.DefaultMinimumTradeSize,
		},
	}
	if err := t.createMarket(m); err != nil {
		return err
	}
	ps.MarketsLength++
	return nil
}

func (ch *ClearingHouse) movePrice(t *txn, d *event.MovePrice) error {
	if err := requireAdminControlsPrices(t); err != nil {
		return err
	}
	m, err := t.market(d.Market)
	if err != nil {
		return err
	}
	return amm.MoveToPrice(&m.AMM, d.BaseAssetReserve, d.QuoteAssetReserve)
}

func (ch *ClearingHouse) feedPrice(t *txn, d *event.FeedPrice) error {
	if err := requireAdminControlsPrices(t); err != nil {
		return err
	}
	m, err := t.market(d.Market)
	if err != nil {
		return err
	}
	m.AMM.LastOraclePrice = d.Price
	m.AMM.LastOraclePriceTWAP = d.Price
	m.AMM.LastOraclePriceTWAPTs = t.now
	return nil
}

func requireAdminControlsPrices(t *txn) error {
	ps, err := t.protocolState()
	if err != nil {
		return err
	}
	if !ps.AdminControlsPrices {
		return state.ErrAdminControlsPricesDisabled
	}
	return nil
}

// withdrawFees pays out at most the clearing house share of a market's fees
// less what was already withdrawn.
func (ch *ClearingHouse) withdrawFees(t *txn, d *event.WithdrawFees) error {
	ps, err := t.protocolState()
	if err != nil {
		return err
	}
	m, err := t.market(d.Market)
	if err != nil {
		return err
	}
	c := fpmath.NewCalc("withdraw_fees")
	share := c.MulRatio(m.AMM.TotalFee, fpmath.ShareOfFeesAllocatedToClearingHouse)
	if err := c.Err(); err != nil {
		return err
	}
	available := c.Sub(share, fpmath.MinUint(share, m.AMM.TotalFeeWithdrawn))
	if d.Amount.GT(available) {
		return fmt.Errorf("withdraw %s of %s: %w", d.Amount, available, state.ErrAdminWithdrawTooLarge)
	}
	m.AMM.TotalFeeWithdrawn = c.Add(m.AMM.TotalFeeWithdrawn, d.Amount)
	if err := c.Err(); err != nil {
		return err
	}
	t.batch.Transfer(ledger.WalletAccount(d.Recipient), ledger.VaultAccount(ps.CollateralVault), d.Amount, ledger.JournalTypeFeeWithdrawal)
	return nil
}

func (ch *ClearingHouse) withdrawFromInsuranceVault(t *txn, d *event.WithdrawFromInsuranceVault) error {
	ps, err := t.protocolState()
	if err != nil {
		return err
	}
	t.batch.Transfer(ledger.WalletAccount(d.Recipient), ledger.VaultAccount(ps.InsuranceVault), d.Amount, ledger.JournalTypeInsuranceVaultWithdrawal)
	return nil
}

func (ch *ClearingHouse) withdrawFromInsuranceVaultToMarket(t *txn, d *event.WithdrawFromInsuranceVaultToMarket) error {
	ps, err := t.protocolState()
	if err != nil {
		return err
	}
	m, err := t.market(d.Market)
	if err != nil {
		return err
	}
	c := fpmath.NewCalc("withdraw_from_insurance_vault_to_market")
	m.AMM.TotalFeeMinusDistributions = c.Add(m.AMM.TotalFeeMinusDistributions, d.Amount)
	if err := c.Err(); err != nil {
		return err
	}
	t.batch.Transfer(ledger.VaultAccount(ps.CollateralVault), ledger.VaultAccount(ps.InsuranceVault), d.Amount, ledger.JournalTypeInsuranceToMarket)
	return nil
}

// curveSnapshot holds the curve fields a CurveRecord reports before and after.
type curveSnapshot struct {
	peg, base, quote, sqrtK fpmath.Uint
}

func snapshotCurve(m *state.Market) curveSnapshot {
	return curveSnapshot{
		peg:   m.AMM.PegMultiplier,
		base:  m.AMM.BaseAssetReserve,
		quote: m.AMM.QuoteAssetReserve,
		sqrtK: m.AMM.SqrtK,
	}
}

func curveRecord(m *state.Market, adj state.CurveAdjustment, before curveSnapshot, cost, oraclePrice fpmath.Int) *event.CurveRecord {
	return &event.CurveRecord{
		MarketIndex:                m.Index,
		Adjustment:                 adj,
		PegMultiplierBefore:        before.peg,
		PegMultiplierAfter:         m.AMM.PegMultiplier,
		BaseAssetReserveBefore:     before.base,
		BaseAssetReserveAfter:      m.AMM.BaseAssetReserve,
		QuoteAssetReserveBefore:    before.quote,
		QuoteAssetReserveAfter:     m.AMM.QuoteAssetReserve,
		SqrtKBefore:                before.sqrtK,
		SqrtKAfter:                 m.AMM.SqrtK,
		BaseAssetAmountLong:        m.BaseAssetAmountLong.Abs(),
		BaseAssetAmountShort:       m.BaseAssetAmountShort.Abs(),
		BaseAssetAmount:            m.BaseAssetAmount,
		OpenInterest:               m.OpenInterest,
		TotalFee:                   m.AMM.TotalFee,
		TotalFeeMinusDistributions: m.AMM.TotalFeeMinusDistributions,
		AdjustmentCost:             cost,
		OraclePrice:                oraclePrice,
	}
}

func (ch *ClearingHouse) repeg(t *txn, d *event.Repeg) error {
	rails, err := t.guardRails()
	if err != nil {
		return err
	}
	m, err := t.market(d.Market)
	if err != nil {
		return err
	}
	data, err := t.oracle(m)
	if err != nil {
		return err
	}
	var reading state.OraclePriceData
	if data != nil {
		reading = *data
	}
	before := snapshotCurve(m)
	cost, err := amm.Repeg(m, d.NewPeg, reading, rails)
	if err != nil {
		return err
	}
	_, err = t.record(curveRecord(m, state.CurveRepeg, before, cost, reading.Price))
	return err
}

// updateOracleTWAP moves the oracle TWAP toward a fresh sample only when
// that narrows its gap to the mark TWAP. A sample that would flip the sign
// of the gap pins the oracle TWAP to the mark TWAP instead.
func (ch *ClearingHouse) updateOracleTWAP(t *txn, d *event.UpdateOracleTWAP) error {
	m, err := t.market(d.Market)
	if err != nil {
		return err
	}
	data, err := t.oracle(m)
	if err != nil {
		return err
	}
	if data == nil || m.AMM.LastMarkPriceTWAP.IsZero() {
		return state.ErrInvalidOracle
	}
	normalised, err := amm.NormaliseOraclePrice(&m.AMM, *data, nil)
	if err != nil {
		return err
	}
	oracleTWAP, err := amm.NewOracleTWAP(&m.AMM, t.now, normalised)
	if err != nil {
		return err
	}

	c := fpmath.NewCalc("update_amm_oracle_twap")
	markTWAP := c.ToInt(m.AMM.LastMarkPriceTWAP)
	gapBefore := c.ISub(markTWAP, m.AMM.LastOraclePriceTWAP)
	gapAfter := c.ISub(markTWAP, oracleTWAP)
	if err := c.Err(); err != nil {
		return err
	}

	switch {
	case gapAfter.Sign()*gapBefore.Sign() < 0:
		m.AMM.LastOraclePriceTWAP = markTWAP
	case gapAfter.Abs().LTE(gapBefore.Abs()):
		m.AMM.LastOraclePriceTWAP = oracleTWAP
	default:
		return state.ErrOracleMarkSpreadLimit
	}
	m.AMM.LastOraclePriceTWAPTs = t.now
	return nil
}

// resetOracleTWAP pins the oracle TWAP to the mark TWAP while the oracle is
// invalid. With a valid oracle it changes nothing.
func (ch *ClearingHouse) resetOracleTWAP(t *txn, d *event.ResetOracleTWAP) error {
	rails, err := t.guardRails()
	if err != nil {
		return err
	}
	m, err := t.market(d.Market)
	if err != nil {
		return err
	}
	data, err := t.oracle(m)
	if err != nil {
		return err
	}
	valid := false
	if data != nil {
		if valid, err = amm.IsOracleValid(&m.AMM, *data, rails); err != nil {
			return err
		}
	}
	if valid {
		return nil
	}
	c := fpmath.NewCalc("reset_amm_oracle_twap")
	m.AMM.LastOraclePriceTWAP = c.ToInt(m.AMM.LastMarkPriceTWAP)
	m.AMM.LastOraclePriceTWAPTs = t.now
	return c.Err()
}

// updateK pays a positive adjustment cost from the market's fee pool above
// what was withdrawn; a negative cost is returned to the pool.
func (ch *ClearingHouse) updateK(t *txn, d *event.UpdateK) error {
	m, err := t.market(d.Market)
	if err != nil {
		return err
	}
	before := snapshotCurve(m)
	priceBefore, err := amm.MarkPrice(&m.AMM)
	if err != nil {
		return err
	}
	cost, err := amm.AdjustKCost(m, d.SqrtK)
	if err != nil {
		return err
	}

	c := fpmath.NewCalc("update_k")
	if cost.IsPositive() {
		budget := c.Sub(m.AMM.TotalFeeMinusDistributions, fpmath.MinUint(m.AMM.TotalFeeMinusDistributions, m.AMM.TotalFeeWithdrawn))
		if cost.Abs().GT(budget) {
			return fmt.Errorf("cost %s above %s: %w", cost, budget, state.ErrInvalidUpdateK)
		}
		m.AMM.TotalFeeMinusDistributions = c.Sub(m.AMM.TotalFeeMinusDistributions, cost.Abs())
	} else {
		m.AMM.TotalFeeMinusDistributions = c.Add(m.AMM.TotalFeeMinusDistributions, cost.Abs())
	}
	if err := c.Err(); err != nil {
		return err
	}

	priceAfter, err := amm.MarkPrice(&m.AMM)
	if err != nil {
		return err
	}
	change := c.ISub(c.ToInt(priceBefore), c.ToInt(priceAfter))
	if err := c.Err(); err != nil {
		return err
	}
	if change.Abs().GT(fpmath.UpdateKAllowedPriceChange) {
		return fmt.Errorf("mark moved by %s: %w", change, state.ErrInvalidUpdateK)
	}

	_, err = t.record(curveRecord(m, state.CurveUpdateK, before, cost, m.AMM.LastOraclePrice))
	return err
}

func (ch *ClearingHouse) updateMarginRatio(t *txn, d *event.UpdateMarginRatio) error {
	m, err := t.market(d.Market)
	if err != nil {
		return err
	}
	if err := state.ValidateMarginRatios(d.Initial, d.Partial, d.Maintenance); err != nil {
		return err
	}
	m.MarginRatioInitial = d.Initial
	m.MarginRatioPartial = d.Partial
	m.MarginRatioMaintenance = d.Maintenance
	return nil
}

func (ch *ClearingHouse) updateLiquidationParams(t *txn, d *event.UpdateLiquidationParams) error {
	ps, err := t.protocolState()
	if err != nil {
		return err
	}
	if d.PartialClosePercentage != nil {
		ps.PartialLiquidationClosePercentage = *d.PartialClosePercentage
	}
	if d.PartialPenaltyPercentage != nil {
		ps.PartialLiquidationPenaltyPercentage = *d.PartialPenaltyPercentage
	}
	if d.FullPenaltyPercentage != nil {
		ps.FullLiquidationPenaltyPercentage = *d.FullPenaltyPercentage
	}
	if d.PartialLiquidatorShareDenominator != nil {
		ps.PartialLiquidationLiquidatorShareDenominator = *d.PartialLiquidatorShareDenominator
	}
	if d.FullLiquidatorShareDenominator != nil {
		ps.FullLiquidationLiquidatorShareDenominator = *d.FullLiquidatorShareDenominator
	}
	return state.ValidateLiquidationParams(ps)
}

func (ch *ClearingHouse) updateFeeStructure(t *txn, d *event.UpdateFeeStructure) error {
	fs, err := t.fees()
	if err != nil {
		return err
	}
	if err := state.ValidateFeeStructure(&d.FeeStructure); err != nil {
		return err
	}
	*fs = d.FeeStructure
	return nil
}

func (ch *ClearingHouse) updateOrderState(t *txn, d *event.UpdateOrderState) error {
	os, err := t.orders()
	if err != nil {
		return err
	}
	if err := state.ValidateOrderState(&d.OrderState); err != nil {
		return err
	}
	*os = d.OrderState
	return nil
}

func (ch *ClearingHouse) updateOracleGuardRails(t *txn, d *event.UpdateOracleGuardRails) error {
	rails, err := t.guardRails()
	if err != nil {
		return err
	}
	if err := state.ValidateGuardRails(&d.Rails); err != nil {
		return err
	}
	*rails = d.Rails
	return nil
}

func (ch *ClearingHouse) updateMarketOracle(t *txn, d *event.UpdateMarketOracle) error {
	if d.Oracle == "" {
		return fmt.Errorf("empty oracle name: %w", state.ErrInvalidParameter)
	}
	m, err := t.market(d.Market)
	if err != nil {
		return err
	}
	m.AMM.Oracle = d.Oracle
	return nil
}

func (ch *ClearingHouse) updateMarketMinimumTradeSize(t *txn, d *event.UpdateMarketMinimumTradeSize) error {
	m, err := t.market(d.Market)
	if err != nil {
		return err
	}
	if d.Quote != nil {
		if d.Quote.IsZero() {
			return fmt.Errorf("zero minimum quote size: %w", state.ErrInvalidParameter)
		}
		m.AMM.MinimumQuoteAssetTradeSize = *d.Quote
	}
	if d.Base != nil {
		if d.Base.IsZero() {
			return fmt.Errorf("zero minimum base size: %w", state.ErrInvalidParameter)
		}
		m.AMM.MinimumBaseAssetTradeSize = *d.Base
	}
	return nil
}

func (ch *ClearingHouse) updateMaxDeposit(t *txn, d *event.UpdateMaxDeposit) error {
	ps, err := t.protocolState()
	if err != nil {
		return err
	}
	ps.MaxDeposit = d.MaxDeposit
	return nil
}

func (ch *ClearingHouse) updateAdmin(t *txn, d *event.UpdateAdmin) error {
	if d.Admin == uuid.Nil {
		return fmt.Errorf("nil admin: %w", state.ErrInvalidParameter)
	}
	ps, err := t.protocolState()
	if err != nil {
		return err
	}
	ps.Admin = d.Admin
	return nil
}

func (ch *ClearingHouse) updateExchangePaused(t *txn, d *event.UpdateExchangePaused) error {
	ps, err := t.protocolState()
	if err != nil {
		return err
	}
	ps.ExchangePaused = d.Paused
	return nil
}

func (ch *ClearingHouse) updateFundingPaused(t *txn, d *event.UpdateFundingPaused) error {
	ps, err := t.protocolState()
	if err != nil {
		return err
	}
	ps.FundingPaused = d.Paused
	return nil
}

func (ch *ClearingHouse) disableAdminControlsPrices(t *txn, _ *event.DisableAdminControlsPrices) error {
	ps, err := t.protocolState()
	if err != nil {
		return err
	}
	ps.AdminControlsPrices = false
	return nil
}

func (ch *ClearingHouse) updateProtocolAddresses(t *txn, d *event.UpdateProtocolAddresses) error {
	ps, err := t.protocolState()
	if err != nil {
		return err
	}
	if d.Oracle != nil {
		if *d.Oracle == "" {
			return fmt.Errorf("empty oracle name: %w", state.ErrInvalidParameter)
		}
		ps.Oracle = *d.Oracle
	}
	if d.HistoryStream != nil {
		if *d.HistoryStream == "" {
			return fmt.Errorf("empty history stream: %w", state.ErrInvalidParameter)
		}
		ps.HistoryStream = *d.HistoryStream
	}
	return nil
}
