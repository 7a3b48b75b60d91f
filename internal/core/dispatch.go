package core

import (
	"fmt"

	"PerpVAMM/internal/event"
	"PerpVAMM/internal/state"
)

// dispatch routes a directive to its handler. Handlers mutate the txn only;
// nothing reaches the store until Apply commits the batch.
func (ch *ClearingHouse) dispatch(t *txn, d event.Directive) error {
	switch d := d.(type) {
	case *event.Deposit:
		return ch.deposit(t, d)
	case *event.Withdraw:
		return ch.withdraw(t, d)
	case *event.OpenPosition:
		return ch.openPosition(t, d)
	case *event.ClosePosition:
		return ch.closePosition(t, d)
	case *event.Liquidate:
		return ch.liquidate(t, d)
	case *event.SettleFunding:
		return ch.settleFunding(t, d)
	case *event.PlaceOrder:
		return ch.placeOrder(t, d)
	case *event.CancelOrder:
		return ch.cancelOrder(t, d)
	case *event.FillOrder:
		return ch.fillOrder(t, d)
	case *event.ExpireOrders:
		return ch.expireOrders(t, d)
	case *event.UpdateFundingRate:
		return ch.updateFundingRate(t, d)

	case *event.InitializeMarket:
		return ch.initializeMarket(t, d)
	case *event.MovePrice:
		return ch.movePrice(t, d)
	case *event.WithdrawFees:
		return ch.withdrawFees(t, d)
	case *event.WithdrawFromInsuranceVault:
		return ch.withdrawFromInsuranceVault(t, d)
	case *event.WithdrawFromInsuranceVaultToMarket:
		return ch.withdrawFromInsuranceVaultToMarket(t, d)
	case *event.Repeg:
		return ch.repeg(t, d)
	case *event.UpdateOracleTWAP:
		return ch.updateOracleTWAP(t, d)
	case *event.ResetOracleTWAP:
		return ch.resetOracleTWAP(t, d)
	case *event.UpdateK:
		return ch.updateK(t, d)
	case *event.FeedPrice:
		return ch.feedPrice(t, d)
	case *event.UpdateMarginRatio:
		return ch.updateMarginRatio(t, d)
	case *event.UpdateLiquidationParams:
		return ch.updateLiquidationParams(t, d)
	case *event.UpdateFeeStructure:
		return ch.updateFeeStructure(t, d)
	case *event.UpdateOrderState:
		return ch.updateOrderState(t, d)
	case *event.UpdateOracleGuardRails:
		return ch.updateOracleGuardRails(t, d)
	case *event.UpdateMarketOracle:
		return ch.updateMarketOracle(t, d)
	case *event.UpdateMarketMinimumTradeSize:
		return ch.updateMarketMinimumTradeSize(t, d)
	case *event.UpdateMaxDeposit:
		return ch.updateMaxDeposit(t, d)
	case *event.UpdateAdmin:
		return ch.updateAdmin(t, d)
	case *event.UpdateExchangePaused:
		return ch.updateExchangePaused(t, d)
	case *event.UpdateFundingPaused:
		return ch.updateFundingPaused(t, d)
	case *event.DisableAdminControlsPrices:
		return ch.disableAdminControlsPrices(t, d)
	case *event.UpdateProtocolAddresses:
		return ch.updateProtocolAddresses(t, d)
	default:
		return fmt.Errorf("unhandled directive %T: %w", d, state.ErrInvalidParameter)
	}
}
