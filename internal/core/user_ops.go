package core

import (
	"fmt"

	"PerpVAMM/internal/amm"
	"PerpVAMM/internal/event"
	"PerpVAMM/internal/fees"
	"PerpVAMM/internal/ledger"
	"PerpVAMM/internal/margin"
	fpmath "PerpVAMM/internal/math"
	"PerpVAMM/internal/order"
	"PerpVAMM/internal/position"
	"PerpVAMM/internal/state"
)

func (ch *ClearingHouse) deposit(t *txn, d *event.Deposit) error {
	if d.Amount.IsZero() {
		return state.ErrInsufficientDeposit
	}
	ps, err := t.protocolState()
	if err != nil {
		return err
	}

	u, found, err := t.maybeUser(d.Signer())
	if err != nil {
		return err
	}
	if !found {
		u = &state.User{ID: d.Signer()}
		if d.Referrer != nil {
			if *d.Referrer == u.ID {
				return state.ErrUserCantReferThemselves
			}
			ref := *d.Referrer
			u.Referrer = &ref
		}
		t.createUser(u)
	}

	collateralBefore := u.Collateral
	cumulativeBefore := u.CumulativeDeposits

	c := fpmath.NewCalc("deposit_collateral")
	u.CumulativeDeposits = c.Add(u.CumulativeDeposits, d.Amount)
	u.Collateral = c.Add(u.Collateral, d.Amount)
	if err := c.Err(); err != nil {
		return err
	}
	if !ps.MaxDeposit.IsZero() && u.CumulativeDeposits.GT(ps.MaxDeposit) {
		return fmt.Errorf("cumulative deposits %s above %s: %w", u.CumulativeDeposits, ps.MaxDeposit, state.ErrUserMaxDeposit)
	}
	if err := t.settleFunding(u); err != nil {
		return err
	}

	t.batch.Transfer(ledger.VaultAccount(ps.CollateralVault), ledger.WalletAccount(u.ID), d.Amount, ledger.JournalTypeDeposit)
	_, err = t.record(&event.DepositRecord{
		User:                     u.ID,
		Direction:                state.Deposit,
		CollateralBefore:         collateralBefore,
		CumulativeDepositsBefore: cumulativeBefore,
		Amount:                   d.Amount,
	})
	return err
}

// withdraw pays out of the collateral vault first and tops up from the
// insurance vault when the collateral vault runs short.
func (ch *ClearingHouse) withdraw(t *txn, d *event.Withdraw) error {
	ps, err := t.protocolState()
	if err != nil {
		return err
	}
	u, err := t.user(d.Signer())
	if err != nil {
		return err
	}
	if err := t.settleFunding(u); err != nil {
		return err
	}
	if d.Amount.GT(u.Collateral) {
		return fmt.Errorf("withdraw %s of %s: %w", d.Amount, u.Collateral, state.ErrInsufficientCollateral)
	}

	collateralBalance, err := ch.vaults.Balance(t.ctx, ps.CollateralVault)
	if err != nil {
		return err
	}
	insuranceBalance, err := ch.vaults.Balance(t.ctx, ps.InsuranceVault)
	if err != nil {
		return err
	}
	fromCollateral, fromInsurance := position.WithdrawalAmounts(d.Amount, collateralBalance, insuranceBalance)

	collateralBefore := u.Collateral
	cumulativeBefore := u.CumulativeDeposits

	c := fpmath.NewCalc("withdraw_collateral")
	withdrawn := c.Add(fromCollateral, fromInsurance)
	u.CumulativeDeposits = c.Sub(u.CumulativeDeposits, fpmath.MinUint(withdrawn, u.CumulativeDeposits))
	u.Collateral = c.Sub(u.Collateral, withdrawn)
	if err := c.Err(); err != nil {
		return err
	}

	holdings, err := t.holdings(u.ID)
	if err != nil {
		return err
	}
	meets, err := margin.MeetsInitialMarginRequirement(u, holdings)
	if err != nil {
		return err
	}
	if !meets {
		return state.ErrInsufficientCollateral
	}

	wallet := ledger.WalletAccount(u.ID)
	t.batch.Transfer(wallet, ledger.VaultAccount(ps.CollateralVault), fromCollateral, ledger.JournalTypeWithdrawal)
	t.batch.Transfer(wallet, ledger.VaultAccount(ps.InsuranceVault), fromInsurance, ledger.JournalTypeInsuranceWithdrawal)
	_, err = t.record(&event.DepositRecord{
		User:                     u.ID,
		Direction:                state.Withdraw,
		CollateralBefore:         collateralBefore,
		CumulativeDepositsBefore: cumulativeBefore,
		Amount:                   withdrawn,
	})
	return err
}

// tradeResult is what a swap against the curve did to a position.
type tradeResult struct {
	direction      state.PositionDirection
	base           fpmath.Uint
	quote          fpmath.Uint
	riskIncreasing bool
}

// heldDiscountTokens is the discount-token balance a user's fee tier is keyed
// to. The exchange custodies no discount tokens, so every user is untiered
// whatever a directive carries.
func heldDiscountTokens(*state.User) fpmath.Uint { return fpmath.Uint{} }

// trade wraps a curve swap with the checks every market trade shares: the
// oracle TWAP update, the margin check, the fee, the oracle divergence guard
// and the caller's limit price.
func (ch *ClearingHouse) trade(t *txn, u *state.User, m *state.Market, limit *fpmath.Uint, swap func(markBefore fpmath.Uint) (tradeResult, error)) error {
	fs, err := t.fees()
	if err != nil {
		return err
	}
	rails, err := t.guardRails()
	if err != nil {
		return err
	}

	markBefore, err := amm.MarkPrice(&m.AMM)
	if err != nil {
		return err
	}
	data, err := t.oracle(m)
	if err != nil {
		return err
	}
	var (
		spreadBefore fpmath.Int
		oraclePrice  fpmath.Int
		oracleValid  bool
	)
	if data != nil {
		oraclePrice = data.Price
		if spreadBefore, err = amm.OracleMarkSpreadPct(&m.AMM, *data, &markBefore); err != nil {
			return err
		}
		if oracleValid, err = amm.IsOracleValid(&m.AMM, *data, rails); err != nil {
			return err
		}
		if oracleValid {
			normalised, err := amm.NormaliseOraclePrice(&m.AMM, *data, &markBefore)
			if err != nil {
				return err
			}
			if _, err := amm.UpdateOracleTWAP(&m.AMM, t.now, normalised); err != nil {
				return err
			}
		}
	}

	res, err := swap(markBefore)
	if err != nil {
		return err
	}
	markAfter, err := amm.MarkPrice(&m.AMM)
	if err != nil {
		return err
	}

	if res.riskIncreasing {
		holdings, err := t.holdings(u.ID)
		if err != nil {
			return err
		}
		meets, err := margin.MeetsInitialMarginRequirement(u, holdings)
		if err != nil {
			return err
		}
		if !meets {
			return state.ErrInsufficientCollateral
		}
	}

	fee, err := fees.FeeForTrade(res.quote, fs, heldDiscountTokens(u), u.HasReferrer())
	if err != nil {
		return err
	}
	c := fpmath.NewCalc("charge_trade_fee")
	m.AMM.TotalFee = c.Add(m.AMM.TotalFee, fee.FeeToMarket)
	m.AMM.TotalFeeMinusDistributions = c.Add(m.AMM.TotalFeeMinusDistributions, fee.FeeToMarket)
	u.Collateral = c.Sub(u.Collateral, fpmath.MinUint(fee.UserFee, u.Collateral))
	u.TotalFeePaid = c.Add(u.TotalFeePaid, fee.UserFee)
	u.TotalTokenDiscount = c.Add(u.TotalTokenDiscount, fee.TokenDiscount)
	u.TotalRefereeDiscount = c.Add(u.TotalRefereeDiscount, fee.RefereeDiscount)
	if err := c.Err(); err != nil {
		return err
	}
	if u.Referrer != nil && !fee.ReferrerReward.IsZero() {
		ref, found, err := t.maybeUser(*u.Referrer)
		if err != nil {
			return err
		}
		if found {
			ref.TotalReferralReward = c.Add(ref.TotalReferralReward, fee.ReferrerReward)
			if err := c.Err(); err != nil {
				return err
			}
		}
	}

	if oracleValid {
		spreadAfter, err := amm.OracleMarkSpreadPct(&m.AMM, *data, &markAfter)
		if err != nil {
			return err
		}
		tooDivergentBefore, err := amm.IsOracleMarkTooDivergent(spreadBefore, rails)
		if err != nil {
			return err
		}
		tooDivergentAfter, err := amm.IsOracleMarkTooDivergent(spreadAfter, rails)
		if err != nil {
			return err
		}
		if tooDivergentAfter && !tooDivergentBefore {
			return state.ErrOracleMarkSpreadLimit
		}
	}

	if limit != nil && !res.base.IsZero() {
		ok, err := order.LimitPriceSatisfied(*limit, res.quote, res.base, res.direction)
		if err != nil {
			return err
		}
		if !ok {
			return state.ErrSlippageOutsideLimit
		}
	}

	if _, err := t.record(&event.TradeRecord{
		User:             u.ID,
		MarketIndex:      m.Index,
		Direction:        res.direction,
		BaseAssetAmount:  res.base,
		QuoteAssetAmount: res.quote,
		MarkPriceBefore:  markBefore,
		MarkPriceAfter:   markAfter,
		Fee:              fee.UserFee,
		ReferrerReward:   fee.ReferrerReward,
		RefereeDiscount:  fee.RefereeDiscount,
		TokenDiscount:    fee.TokenDiscount,
		OraclePrice:      oraclePrice,
	}); err != nil {
		return err
	}
	return t.updateFundingRate(m, data)
}

func (ch *ClearingHouse) openPosition(t *txn, d *event.OpenPosition) error {
	if d.QuoteAssetAmount.IsZero() {
		return state.ErrTradeSizeTooSmall
	}
	u, err := t.user(d.Signer())
	if err != nil {
		return err
	}
	if err := t.settleFunding(u); err != nil {
		return err
	}
	m, err := t.market(d.Market)
	if err != nil {
		return err
	}
	pos, err := t.position(u.ID, m.Index)
	if err != nil {
		return err
	}
	return ch.trade(t, u, m, d.LimitPrice, func(markBefore fpmath.Uint) (tradeResult, error) {
		up, err := position.UpdateWithQuote(m, pos, u, d.QuoteAssetAmount, d.Direction, markBefore, t.now)
		if err != nil {
			return tradeResult{}, err
		}
		return tradeResult{
			direction:      d.Direction,
			base:           up.BaseAssetAmount,
			quote:          up.QuoteAssetAmount,
			riskIncreasing: up.PotentiallyRiskIncreasing,
		}, nil
	})
}

func (ch *ClearingHouse) closePosition(t *txn, d *event.ClosePosition) error {
	u, err := t.user(d.Signer())
	if err != nil {
		return err
	}
	if err := t.settleFunding(u); err != nil {
		return err
	}
	m, err := t.market(d.Market)
	if err != nil {
		return err
	}
	pos, err := t.position(u.ID, m.Index)
	if err != nil {
		return err
	}
	if !pos.IsOpen() {
		return fmt.Errorf("market %d: %w", m.Index, state.ErrUserHasNoPositionInMarket)
	}
	dir := amm.DirectionToClose(pos.BaseAssetAmount)
	return ch.trade(t, u, m, nil, func(markBefore fpmath.Uint) (tradeResult, error) {
		closed, err := position.Close(m, pos, u, t.now, nil, &markBefore)
		if err != nil {
			return tradeResult{}, err
		}
		return tradeResult{
			direction: dir,
			base:      closed.BaseAssetAmount.Abs(),
			quote:     closed.QuoteAssetAmount,
		}, nil
	})
}

// liquidate is signed by the liquidator, who is paid their share of the fee
// as collateral, opening an account for them if they have none. The
// insurance share moves from the collateral vault to the insurance vault.
func (ch *ClearingHouse) liquidate(t *txn, d *event.Liquidate) error {
	ps, err := t.protocolState()
	if err != nil {
		return err
	}
	rails, err := t.guardRails()
	if err != nil {
		return err
	}
	u, err := t.user(d.User)
	if err != nil {
		return err
	}
	if err := t.settleFunding(u); err != nil {
		return err
	}
	holdings, err := t.holdings(u.ID)
	if err != nil {
		return err
	}
	st, err := margin.Status(u, holdings, t.oracleSource, rails)
	if err != nil {
		return err
	}
	liq, err := margin.Liquidate(u, holdings, st, ps, rails, t.now)
	if err != nil {
		return err
	}

	collateralBalance, err := ch.vaults.Balance(t.ctx, ps.CollateralVault)
	if err != nil {
		return err
	}
	insuranceBalance, err := ch.vaults.Balance(t.ctx, ps.InsuranceVault)
	if err != nil {
		return err
	}
	toLiquidator, toInsurance, err := margin.FeeSplit(liq.Fee, collateralBalance, insuranceBalance, liq.Full, ps)
	if err != nil {
		return err
	}
	if !toLiquidator.IsZero() {
		liquidator, found, err := t.maybeUser(d.Signer())
		if err != nil {
			return fmt.Errorf("liquidator: %w", err)
		}
		if !found {
			liquidator = &state.User{ID: d.Signer()}
			t.createUser(liquidator)
		}
		c := fpmath.NewCalc("liquidator_reward")
		liquidator.Collateral = c.Add(liquidator.Collateral, toLiquidator)
		if err := c.Err(); err != nil {
			return err
		}
	}
	t.batch.Transfer(ledger.VaultAccount(ps.InsuranceVault), ledger.VaultAccount(ps.CollateralVault), toInsurance, ledger.JournalTypeLiquidationFee)

	for _, tr := range liq.Trades {
		if _, err := t.record(&event.TradeRecord{
			User:             u.ID,
			MarketIndex:      tr.MarketIndex,
			Direction:        tr.Direction,
			BaseAssetAmount:  tr.BaseAssetAmount,
			QuoteAssetAmount: tr.QuoteAssetAmount,
			MarkPriceBefore:  tr.MarkPriceBefore,
			MarkPriceAfter:   tr.MarkPriceAfter,
			Liquidation:      true,
			OraclePrice:      tr.OraclePrice,
		}); err != nil {
			return err
		}
	}

	rec := &event.LiquidationRecord{
		User:                 u.ID,
		Liquidator:           d.Signer(),
		Partial:              !liq.Full,
		BaseAssetValue:       st.BaseAssetValue,
		BaseAssetValueClosed: liq.BaseAssetValueClosed,
		LiquidationFee:       liq.Fee,
		FeeToLiquidator:      toLiquidator,
		FeeToInsuranceFund:   toInsurance,
		TotalCollateral:      st.TotalCollateral,
		Collateral:           liq.CollateralBefore,
		UnrealizedPnl:        st.UnrealizedPnl,
		MarginRatio:          st.MarginRatio,
	}
	if _, err := t.record(rec); err != nil {
		return err
	}
	t.liquidation = rec
	return nil
}

func (ch *ClearingHouse) settleFunding(t *txn, d *event.SettleFunding) error {
	u, err := t.user(d.Signer())
	if err != nil {
		return err
	}
	return t.settleFunding(u)
}

// updateFundingRate is open to any signer. A call before the period has
// elapsed, or while the oracle has no reading, changes nothing.
func (ch *ClearingHouse) updateFundingRate(t *txn, d *event.UpdateFundingRate) error {
	m, err := t.market(d.Market)
	if err != nil {
		return err
	}
	data, err := t.oracle(m)
	if err != nil {
		return err
	}
	return t.updateFundingRate(m, data)
}
