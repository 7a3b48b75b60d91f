package state

import "errors"

// Validation failures surfaced to callers. Arithmetic failures are
// math.ErrArithmetic instead. Callers wrap these with context using %w.
var (
	ErrUnauthorized                  = errors.New("unauthorized")
	ErrUserDoesNotExist              = errors.New("user does not exist")
	ErrInsufficientDeposit           = errors.New("insufficient deposit")
	ErrInsufficientCollateral        = errors.New("insufficient collateral")
	ErrSufficientCollateral          = errors.New("sufficient collateral")
	ErrUserMaxDeposit                = errors.New("cumulative deposits exceed max deposit")
	ErrUserCantReferThemselves       = errors.New("user cannot refer themselves")
	ErrExchangePaused                = errors.New("exchange is paused")
	ErrAdminControlsPricesDisabled   = errors.New("admin price control disabled")
	ErrAdminWithdrawTooLarge         = errors.New("withdrawal larger than fees available to admin")
	ErrInvalidParameter              = errors.New("invalid parameter")
	ErrMarketIndexNotInitialized     = errors.New("market index not initialized")
	ErrMarketIndexAlreadyInitialized = errors.New("market index already initialized")
	ErrUserHasNoPositionInMarket     = errors.New("user has no position in market")
	ErrInvalidInitialPeg             = errors.New("invalid initial peg")
	ErrInvalidMarginRatio            = errors.New("invalid margin ratio")
	ErrTradeSizeTooSmall             = errors.New("trade size too small")
	ErrTradeSizeTooLarge             = errors.New("trade size too large")
	ErrSlippageOutsideLimit          = errors.New("slippage outside limit price")
	ErrOracleMarkSpreadLimit         = errors.New("oracle/mark spread too large")
	ErrInvalidOracle                 = errors.New("invalid oracle")
	ErrOracleNotFound                = errors.New("oracle not found")
	ErrInvalidRepegRedundant         = errors.New("amm repeg already configured with amount given")
	ErrInvalidRepegDirection         = errors.New("amm repeg incorrect repeg direction")
	ErrInvalidRepegProfitability     = errors.New("amm repeg out of bounds pnl")
	ErrInvalidUpdateK                = errors.New("price change too large when updating k")
	ErrInvalidFundingProfitability   = errors.New("amm funding out of bounds pnl")
	ErrNoPositionsLiquidatable       = errors.New("no positions liquidatable")
	ErrInvalidOrder                  = errors.New("invalid order")
	ErrOrderAmountTooSmall           = errors.New("order amount too small")
	ErrOrderDoesNotExist             = errors.New("order does not exist")
	ErrOrderNotOpen                  = errors.New("order not open")
	ErrCouldNotFillOrder             = errors.New("could not fill order")
	ErrReduceOnlyOrderIncreasedRisk  = errors.New("reduce only order increased risk")
	ErrInvalidOracleOffset           = errors.New("oracle offset limit price below zero")
	ErrOracleNotFoundToOffset        = errors.New("no valid oracle price for oracle offset limit price")
	ErrCantExpireOrders              = errors.New("cannot expire orders")
	ErrCantCancelPostOnlyOrder       = errors.New("post only order would fill and cannot be canceled")
)
