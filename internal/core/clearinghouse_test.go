package core_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PerpVAMM/internal/core"
	"PerpVAMM/internal/event"
	"PerpVAMM/internal/ledger"
	fpmath "PerpVAMM/internal/math"
	"PerpVAMM/internal/oracle"
	"PerpVAMM/internal/state"
	"PerpVAMM/internal/store"
	"PerpVAMM/internal/testutil"
	"PerpVAMM/internal/vault"
)

const market uint64 = 0

var (
	reserve = fpmath.MustUint("5000000000000000000")
	peg     = fpmath.NewUint(1000)
)

// newExchange returns a harness with one $1 market.
func newExchange(t *testing.T) *testutil.Harness {
	t.Helper()
	h := testutil.NewHarness(t)
	h.InitMarket(market, reserve, peg)
	return h
}

func openLong(h *testutil.Harness, user uuid.UUID, quote uint64) event.Output {
	return h.MustApply(&event.OpenPosition{
		Header:           h.Header(user),
		Market:           market,
		Direction:        state.DirectionLong,
		QuoteAssetAmount: fpmath.NewUint(quote),
	})
}

func TestInitializeMarket(t *testing.T) {
	h := newExchange(t)

	m := h.Market(market)
	assert.True(t, m.Initialized)
	assert.Equal(t, "10000000000", m.AMM.LastMarkPriceTWAP.String())
	assert.True(t, m.AMM.SqrtK.Eq(reserve))
	assert.Equal(t, testutil.OracleName, m.AMM.Oracle)
	assert.Equal(t, uint64(1), h.ProtocolState().MarketsLength)

	err := h.Apply(&event.InitializeMarket{
		Header:                 h.Header(h.Admin),
		Market:                 market,
		BaseAssetReserve:       reserve,
		QuoteAssetReserve:      reserve,
		FundingPeriod:          fpmath.OneHour,
		PegMultiplier:          peg,
		MarginRatioInitial:     2000,
		MarginRatioPartial:     625,
		MarginRatioMaintenance: 500,
	})
	assert.ErrorIs(t, err, state.ErrMarketIndexAlreadyInitialized)

	err = h.Apply(&event.InitializeMarket{
		Header:                 h.Header(h.Admin),
		Market:                 1,
		BaseAssetReserve:       reserve,
		QuoteAssetReserve:      fpmath.MustUint("4000000000000000000"),
		FundingPeriod:          fpmath.OneHour,
		PegMultiplier:          peg,
		MarginRatioInitial:     2000,
		MarginRatioPartial:     625,
		MarginRatioMaintenance: 500,
	})
	assert.ErrorIs(t, err, state.ErrInvalidInitialPeg)
}

func TestOpenLongWithinLeverage(t *testing.T) {
	h := newExchange(t)
	user := uuid.New()
	h.Deposit(user, 10_000_000)

	out := openLong(h, user, 49_750_000)

	positions := h.Positions(user)
	require.Len(t, positions, 1)
	assert.True(t, positions[0].BaseAssetAmount.IsPositive())
	assert.Equal(t, "49750000", positions[0].QuoteAssetAmount.String())

	m := h.Market(market)
	assert.True(t, m.BaseAssetAmount.Eq(positions[0].BaseAssetAmount))
	assert.True(t, m.BaseAssetAmountLong.Eq(positions[0].BaseAssetAmount))
	assert.Equal(t, uint64(1), m.OpenInterest)

	trades := testutil.RecordsOf(out, event.HistoryTrade)
	require.Len(t, trades, 1)
	assert.Equal(t, uint64(1), trades[0].ID)
}

func TestOpenBeyondInitialMarginRejected(t *testing.T) {
	h := newExchange(t)
	user := uuid.New()
	h.Deposit(user, 10_000_000)

	err := h.Apply(&event.OpenPosition{
		Header:           h.Header(user),
		Market:           market,
		Direction:        state.DirectionLong,
		QuoteAssetAmount: fpmath.NewUint(60_000_000),
	})
	assert.ErrorIs(t, err, state.ErrInsufficientCollateral)
	assert.Empty(t, h.Positions(user))
}

func TestTradeFeeGoesToMarket(t *testing.T) {
	h := newExchange(t)
	user := uuid.New()
	h.Deposit(user, 10_000_000)
	openLong(h, user, 49_750_000)

	m := h.Market(market)
	assert.Equal(t, "49750", m.AMM.TotalFee.String())
	assert.Equal(t, "49750", m.AMM.TotalFeeMinusDistributions.String())

	u := h.User(user)
	assert.Equal(t, "49750", u.TotalFeePaid.String())
	assert.Equal(t, "9950250", u.Collateral.String())
}

// withPayloadField re-decodes d from the wire with an extra payload field.
func withPayloadField(t *testing.T, d event.Directive, field string, value any) event.Directive {
	t.Helper()
	data, err := event.Encode(d)
	require.NoError(t, err)
	var env event.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	var payload map[string]any
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	payload[field] = value
	env.Payload, err = json.Marshal(payload)
	require.NoError(t, err)
	data, err = json.Marshal(env)
	require.NoError(t, err)
	out, err := event.Decode(data)
	require.NoError(t, err)
	return out
}

func TestClaimedDiscountTokensDoNotLowerFee(t *testing.T) {
	h := newExchange(t)
	user := uuid.New()
	h.Deposit(user, 10_000_000)

	open := withPayloadField(t, &event.OpenPosition{
		Header:           h.Header(user),
		Market:           market,
		Direction:        state.DirectionLong,
		QuoteAssetAmount: fpmath.NewUint(49_750_000),
	}, "discount_token_balance", "1000000000000000000")
	h.MustApply(open)

	u := h.User(user)
	assert.Equal(t, "49750", u.TotalFeePaid.String())
	assert.True(t, u.TotalTokenDiscount.IsZero())

	maker := uuid.New()
	h.Deposit(maker, 10_000_000)
	place := withPayloadField(t, &event.PlaceOrder{
		Header: h.Header(maker),
		Params: state.OrderParams{
			OrderType:       state.OrderTypeLimit,
			Direction:       state.DirectionLong,
			BaseAssetAmount: fpmath.NewUint(10_000_000_000_000),
			Price:           fpmath.NewUint(9_000_000_000),
			MarketIndex:     market,
		},
	}, "discount_token_balance", "1000000000000000000")
	h.MustApply(place)

	orders, err := core.ReadOrders(h.Ctx, h.Store, maker, market)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, state.DiscountTierNone, orders[0].DiscountTier)
}

func TestRoundTripCostsTwoFees(t *testing.T) {
	h := newExchange(t)
	user := uuid.New()
	h.Deposit(user, 10_000_000)
	openLong(h, user, 49_750_000)

	out := h.MustApply(&event.ClosePosition{Header: h.Header(user), Market: market})
	trades := testutil.RecordsOf(out, event.HistoryTrade)
	require.Len(t, trades, 1)

	u := h.User(user)
	m := h.Market(market)
	fees := m.AMM.TotalFee.Float64(fpmath.NewUint(1))
	assert.InDelta(t, 10_000_000-fees, u.Collateral.Float64(fpmath.NewUint(1)), 2)
	assert.InDelta(t, 99_500, fees, 1)

	assert.Empty(t, h.Positions(user))
	assert.True(t, m.BaseAssetAmount.IsZero())
	assert.Zero(t, m.OpenInterest)

	err := h.Apply(&event.ClosePosition{Header: h.Header(user), Market: market})
	assert.ErrorIs(t, err, state.ErrUserHasNoPositionInMarket)
}

func TestLimitPriceBoundsOpen(t *testing.T) {
	h := newExchange(t)
	user := uuid.New()
	h.Deposit(user, 10_000_000)

	limit := fpmath.NewUint(9_000_000_000)
	err := h.Apply(&event.OpenPosition{
		Header:           h.Header(user),
		Market:           market,
		Direction:        state.DirectionLong,
		QuoteAssetAmount: fpmath.NewUint(10_000_000),
		LimitPrice:       &limit,
	})
	assert.ErrorIs(t, err, state.ErrSlippageOutsideLimit)
}

func TestAdminDirectiveNeedsAdminSigner(t *testing.T) {
	h := newExchange(t)
	user := uuid.New()
	h.Deposit(user, 1_000_000)

	err := h.Apply(&event.UpdateExchangePaused{Header: h.Header(user), Paused: true})
	assert.ErrorIs(t, err, state.ErrUnauthorized)
	assert.False(t, h.ProtocolState().ExchangePaused)

	rejected := h.Metrics.DirectivesRejected.WithLabelValues("update_exchange_paused", "unauthorized")
	assert.Equal(t, 1.0, promtestutil.ToFloat64(rejected))
}

func TestExchangePausedBlocksUsers(t *testing.T) {
	h := newExchange(t)
	user := uuid.New()
	h.Deposit(user, 1_000_000)

	h.MustApply(&event.UpdateExchangePaused{Header: h.Header(h.Admin), Paused: true})
	err := h.Apply(&event.Deposit{Header: h.Header(user), Amount: fpmath.NewUint(1_000_000)})
	assert.ErrorIs(t, err, state.ErrExchangePaused)

	err = h.Apply(&event.UpdateFundingRate{Header: h.Header(user), Market: market})
	assert.ErrorIs(t, err, state.ErrExchangePaused)

	h.MustApply(&event.UpdateExchangePaused{Header: h.Header(h.Admin), Paused: false})
	h.Deposit(user, 1_000_000)
	assert.Equal(t, "2000000", h.User(user).Collateral.String())
}

func TestDuplicateDirectiveIsSkipped(t *testing.T) {
	h := newExchange(t)
	user := uuid.New()
	d := &event.Deposit{Header: h.Header(user), Amount: fpmath.NewUint(5_000_000)}

	h.MustApply(d)
	seq := h.CH.Sequence()
	require.NoError(t, h.Apply(d))

	assert.Equal(t, seq, h.CH.Sequence())
	assert.Equal(t, "5000000", h.User(user).Collateral.String())
	assert.Empty(t, h.Outputs)
	dup := h.Metrics.DirectivesRejected.WithLabelValues("deposit", "duplicate")
	assert.Equal(t, 1.0, promtestutil.ToFloat64(dup))
}

func TestApplyBeforeBootstrap(t *testing.T) {
	ch, err := core.NewClearingHouse(store.NewMemory(), vault.NewLedger(), oracle.NewService(), core.Options{})
	require.NoError(t, err)

	err = ch.Apply(context.Background(), &event.Deposit{
		Header: event.Header{ID: uuid.New(), Authority: uuid.New(), Ts: testutil.StartTs},
		Amount: fpmath.NewUint(1),
	})
	assert.ErrorIs(t, err, core.ErrNotBootstrapped)
	assert.Zero(t, ch.Sequence())
}

func TestBootstrapKeepsExistingState(t *testing.T) {
	h := testutil.NewHarness(t)

	err := h.CH.Bootstrap(h.Ctx, core.Defaults{
		Protocol:     state.DefaultProtocolState(uuid.New(), "other", "other_insurance", "other", "other"),
		FeeStructure: state.DefaultFeeStructure(),
		Rails:        state.DefaultOracleGuardRails(),
		OrderState:   state.DefaultOrderState(),
	})
	require.NoError(t, err)
	assert.Equal(t, h.Admin, h.ProtocolState().Admin)
	assert.Equal(t, testutil.CollateralVault, h.ProtocolState().CollateralVault)
}

func TestDepositAndWithdraw(t *testing.T) {
	h := newExchange(t)
	user := uuid.New()

	out := h.Deposit(user, 10_000_000)
	require.Len(t, out.Journals, 1)
	assert.Equal(t, ledger.JournalTypeDeposit, out.Journals[0].JournalType)
	assert.Equal(t, "10000000", h.VaultBalance(testutil.CollateralVault).String())

	out = h.MustApply(&event.Withdraw{Header: h.Header(user), Amount: fpmath.NewUint(4_000_000)})
	require.Len(t, out.Journals, 1)
	assert.Equal(t, ledger.JournalTypeWithdrawal, out.Journals[0].JournalType)

	u := h.User(user)
	assert.Equal(t, "6000000", u.Collateral.String())
	assert.Equal(t, "6000000", u.CumulativeDeposits.String())
	assert.Equal(t, "6000000", h.VaultBalance(testutil.CollateralVault).String())
	assert.Equal(t, "-6000000", h.Vaults.WalletBalance(ledger.WalletAccount(user)).String())

	deposits := testutil.RecordsOf(out, event.HistoryDeposit)
	require.Len(t, deposits, 1)
	assert.Equal(t, uint64(2), deposits[0].ID)
}

func TestWithdrawRespectsMargin(t *testing.T) {
	h := newExchange(t)
	user := uuid.New()
	h.Deposit(user, 10_000_000)
	openLong(h, user, 40_000_000)

	err := h.Apply(&event.Withdraw{Header: h.Header(user), Amount: fpmath.NewUint(5_000_000)})
	assert.ErrorIs(t, err, state.ErrInsufficientCollateral)

	err = h.Apply(&event.Withdraw{Header: h.Header(user), Amount: fpmath.NewUint(20_000_000)})
	assert.ErrorIs(t, err, state.ErrInsufficientCollateral)

	h.MustApply(&event.Withdraw{Header: h.Header(user), Amount: fpmath.NewUint(1_000_000)})
}

func TestRejectedDirectiveLeavesNoTrace(t *testing.T) {
	h := newExchange(t)
	user := uuid.New()
	h.Deposit(user, 1_000_000)

	seq := h.CH.Sequence()
	hash := h.CH.StateHash()
	records := h.Store.Len()

	err := h.Apply(&event.Withdraw{Header: h.Header(user), Amount: fpmath.NewUint(2_000_000)})
	require.ErrorIs(t, err, state.ErrInsufficientCollateral)

	assert.Equal(t, seq, h.CH.Sequence())
	assert.Equal(t, hash, h.CH.StateHash())
	assert.Equal(t, records, h.Store.Len())
	assert.Empty(t, h.Outputs)
	assert.Equal(t, "1000000", h.VaultBalance(testutil.CollateralVault).String())
}

func TestOutputsFormHashChain(t *testing.T) {
	h := testutil.NewHarness(t)
	first := h.InitMarket(market, reserve, peg)
	user := uuid.New()
	second := h.Deposit(user, 1_000_000)
	third := h.Deposit(user, 1_000_000)

	assert.Equal(t, int64(1), first.Sequence)
	assert.Equal(t, int64(2), second.Sequence)
	assert.Equal(t, int64(3), third.Sequence)
	assert.Equal(t, first.StateHash, second.PrevHash)
	assert.Equal(t, second.StateHash, third.PrevHash)
	assert.NotEqual(t, second.StateHash, third.StateHash)
	assert.Equal(t, third.StateHash, h.CH.StateHash())
	assert.Equal(t, event.DirectiveTypeDeposit, third.Type)
	assert.Equal(t, user, third.Signer)
}

func TestWithdrawFeesCappedAtClearingHouseShare(t *testing.T) {
	h := newExchange(t)
	user := uuid.New()
	h.Deposit(user, 10_000_000)
	openLong(h, user, 49_750_000)

	recipient := uuid.New()
	err := h.Apply(&event.WithdrawFees{Header: h.Header(h.Admin), Market: market, Recipient: recipient, Amount: fpmath.NewUint(24_876)})
	assert.ErrorIs(t, err, state.ErrAdminWithdrawTooLarge)

	out := h.MustApply(&event.WithdrawFees{Header: h.Header(h.Admin), Market: market, Recipient: recipient, Amount: fpmath.NewUint(24_875)})
	require.Len(t, out.Journals, 1)
	assert.Equal(t, ledger.JournalTypeFeeWithdrawal, out.Journals[0].JournalType)
	assert.Equal(t, "9975125", h.VaultBalance(testutil.CollateralVault).String())
	assert.Equal(t, "24875", h.Market(market).AMM.TotalFeeWithdrawn.String())

	err = h.Apply(&event.WithdrawFees{Header: h.Header(h.Admin), Market: market, Recipient: recipient, Amount: fpmath.NewUint(1)})
	assert.ErrorIs(t, err, state.ErrAdminWithdrawTooLarge)
}

func TestMaxDeposit(t *testing.T) {
	h := newExchange(t)
	h.MustApply(&event.UpdateMaxDeposit{Header: h.Header(h.Admin), MaxDeposit: fpmath.NewUint(15_000_000)})

	user := uuid.New()
	h.Deposit(user, 10_000_000)
	err := h.Apply(&event.Deposit{Header: h.Header(user), Amount: fpmath.NewUint(6_000_000)})
	assert.ErrorIs(t, err, state.ErrUserMaxDeposit)

	err = h.Apply(&event.Deposit{Header: h.Header(user), Amount: fpmath.Uint{}})
	assert.ErrorIs(t, err, state.ErrInsufficientDeposit)
}

func TestSelfReferralRejected(t *testing.T) {
	h := newExchange(t)
	user := uuid.New()
	err := h.Apply(&event.Deposit{Header: h.Header(user), Amount: fpmath.NewUint(1_000_000), Referrer: &user})
	assert.ErrorIs(t, err, state.ErrUserCantReferThemselves)
}

func TestPlaceAndCancelLimitOrder(t *testing.T) {
	h := newExchange(t)
	user := uuid.New()
	h.Deposit(user, 10_000_000)

	out := h.MustApply(&event.PlaceOrder{
		Header: h.Header(user),
		Params: state.OrderParams{
			OrderType:       state.OrderTypeLimit,
			Direction:       state.DirectionLong,
			BaseAssetAmount: fpmath.NewUint(10_000_000_000_000),
			Price:           fpmath.NewUint(9_000_000_000),
			MarketIndex:     market,
		},
	})
	require.Len(t, testutil.RecordsOf(out, event.HistoryOrder), 1)

	orders, err := core.ReadOrders(h.Ctx, h.Store, user, market)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, uint64(1), orders[0].Index)
	assert.Equal(t, state.OrderStatusOpen, orders[0].Status)

	positions := h.Positions(user)
	require.Len(t, positions, 1)
	assert.Equal(t, uint64(1), positions[0].OrderLength)

	h.MustApply(&event.CancelOrder{Header: h.Header(user), Market: market, OrderIndex: 1})

	orders, err = core.ReadOrders(h.Ctx, h.Store, user, market)
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.Empty(t, h.Positions(user))

	err = h.Apply(&event.CancelOrder{Header: h.Header(user), Market: market, OrderIndex: 1})
	assert.ErrorIs(t, err, state.ErrOrderDoesNotExist)
}

func TestFillLimitOrder(t *testing.T) {
	h := newExchange(t)
	user, filler := uuid.New(), uuid.New()
	h.Deposit(user, 10_000_000)
	h.Deposit(filler, 1_000_000)

	h.MustApply(&event.PlaceOrder{
		Header: h.Header(user),
		Params: state.OrderParams{
			OrderType:       state.OrderTypeLimit,
			Direction:       state.DirectionLong,
			BaseAssetAmount: fpmath.NewUint(10_000_000_000_000),
			Price:           fpmath.NewUint(11_000_000_000),
			MarketIndex:     market,
		},
	})

	out := h.MustApply(&event.FillOrder{Header: h.Header(filler), User: user, Market: market, OrderIndex: 1})

	trades := testutil.RecordsOf(out, event.HistoryTrade)
	fills := testutil.RecordsOf(out, event.HistoryOrder)
	require.Len(t, trades, 1)
	require.Len(t, fills, 1)

	positions := h.Positions(user)
	require.Len(t, positions, 1)
	assert.Equal(t, "10000000000000", positions[0].BaseAssetAmount.String())
	assert.Zero(t, positions[0].OrderLength)
	assert.True(t, !h.Market(market).AMM.TotalFee.IsZero())

	orders, err := core.ReadOrders(h.Ctx, h.Store, user, market)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestFillNeedsKnownFiller(t *testing.T) {
	h := newExchange(t)
	user := uuid.New()
	h.Deposit(user, 10_000_000)

	err := h.Apply(&event.FillOrder{Header: h.Header(uuid.New()), User: user, Market: market, OrderIndex: 1})
	assert.ErrorIs(t, err, state.ErrUserDoesNotExist)
}

func TestLiquidateUnderwaterLong(t *testing.T) {
	h := newExchange(t)
	user, liquidator := uuid.New(), uuid.New()
	h.Deposit(liquidator, 1_000_000)
	h.Deposit(user, 10_000_000)
	openLong(h, user, 49_750_000)

	err := h.Apply(&event.Liquidate{Header: h.Header(liquidator), User: user})
	assert.ErrorIs(t, err, state.ErrSufficientCollateral)

	h.MustApply(&event.MovePrice{
		Header:            h.Header(h.Admin),
		Market:            market,
		BaseAssetReserve:  fpmath.MustUint("5500000000000000000"),
		QuoteAssetReserve: fpmath.MustUint("4500000000000000000"),
	})

	out := h.MustApply(&event.Liquidate{Header: h.Header(liquidator), User: user})

	liqs := testutil.RecordsOf(out, event.HistoryLiquidation)
	require.Len(t, liqs, 1)
	trades := testutil.RecordsOf(out, event.HistoryTrade)
	require.Len(t, trades, 1)

	var feeJournal *ledger.Journal
	for i := range out.Journals {
		if out.Journals[i].JournalType == ledger.JournalTypeLiquidationFee {
			feeJournal = &out.Journals[i]
		}
	}
	require.NotNil(t, feeJournal)
	assert.Equal(t, ledger.VaultAccount(testutil.InsuranceVault), feeJournal.DebitAccount)
	assert.Equal(t, ledger.VaultAccount(testutil.CollateralVault), feeJournal.CreditAccount)

	assert.True(t, h.VaultBalance(testutil.InsuranceVault).GT(testutil.InsuranceSeed))
	assert.True(t, h.User(user).Collateral.LTE(fpmath.NewUint(1)))
	assert.Empty(t, h.Positions(user))
	assert.True(t, h.User(liquidator).Collateral.GT(fpmath.NewUint(1_000_000)))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(h.Metrics.Liquidations.WithLabelValues("full")))
}

func TestLiquidatorWithoutAccountIsPaid(t *testing.T) {
	h := newExchange(t)
	user, keeper := uuid.New(), uuid.New()
	h.Deposit(user, 10_000_000)
	openLong(h, user, 49_750_000)

	h.MustApply(&event.MovePrice{
		Header:            h.Header(h.Admin),
		Market:            market,
		BaseAssetReserve:  fpmath.MustUint("5500000000000000000"),
		QuoteAssetReserve: fpmath.MustUint("4500000000000000000"),
	})

	out := h.MustApply(&event.Liquidate{Header: h.Header(keeper), User: user})
	require.Len(t, testutil.RecordsOf(out, event.HistoryLiquidation), 1)
	assert.Empty(t, h.Positions(user))

	reward := h.User(keeper).Collateral
	assert.False(t, reward.IsZero())

	h.MustApply(&event.Withdraw{Header: h.Header(keeper), Amount: reward})
	assert.True(t, h.User(keeper).Collateral.IsZero())
}

func TestMovePriceNeedsAdminControl(t *testing.T) {
	h := newExchange(t)
	h.MustApply(&event.DisableAdminControlsPrices{Header: h.Header(h.Admin)})

	err := h.Apply(&event.MovePrice{
		Header:            h.Header(h.Admin),
		Market:            market,
		BaseAssetReserve:  reserve,
		QuoteAssetReserve: reserve,
	})
	assert.ErrorIs(t, err, state.ErrAdminControlsPricesDisabled)
}

func TestWithdrawFromInsuranceVaultToMarket(t *testing.T) {
	h := newExchange(t)
	user := uuid.New()
	h.Deposit(user, 1_000_000)

	out := h.MustApply(&event.WithdrawFromInsuranceVaultToMarket{Header: h.Header(h.Admin), Market: market, Amount: fpmath.NewUint(500)})
	require.Len(t, out.Journals, 1)
	assert.Equal(t, ledger.JournalTypeInsuranceToMarket, out.Journals[0].JournalType)
	assert.Equal(t, "500", h.Market(market).AMM.TotalFeeMinusDistributions.String())
	assert.Equal(t, "1000500", h.VaultBalance(testutil.CollateralVault).String())
}

func TestWithdrawBeyondInsuranceVaultRejected(t *testing.T) {
	h := newExchange(t)
	c := fpmath.NewCalc("insurance_overdraw")
	amount := c.Add(testutil.InsuranceSeed, fpmath.NewUint(1))
	require.NoError(t, c.Err())

	err := h.Apply(&event.WithdrawFromInsuranceVault{Header: h.Header(h.Admin), Recipient: uuid.New(), Amount: amount})
	assert.ErrorIs(t, err, vault.ErrInsufficientFunds)
	assert.True(t, h.VaultBalance(testutil.InsuranceVault).Eq(testutil.InsuranceSeed))
}

func TestUpdateMarginRatioValidates(t *testing.T) {
	h := newExchange(t)
	err := h.Apply(&event.UpdateMarginRatio{
		Header:      h.Header(h.Admin),
		Market:      market,
		Initial:     500,
		Partial:     625,
		Maintenance: 500,
	})
	assert.ErrorIs(t, err, state.ErrInvalidMarginRatio)
	assert.Equal(t, uint32(2000), h.Market(market).MarginRatioInitial)
}
