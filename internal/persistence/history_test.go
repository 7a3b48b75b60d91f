package persistence_test

import (
	"context"
	"crypto/sha256"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PerpVAMM/internal/core"
	"PerpVAMM/internal/event"
	"PerpVAMM/internal/ledger"
	fpmath "PerpVAMM/internal/math"
	"PerpVAMM/internal/persistence"
	"PerpVAMM/internal/testutil"
	"PerpVAMM/internal/vault"
)

// seedHistory applies a market and two deposits and returns their outputs.
func seedHistory(t *testing.T) (*testutil.Harness, []event.Output) {
	h := testutil.NewHarness(t)
	outs := []event.Output{
		h.InitMarket(0, fpmath.MustUint("5000000000000000000"), fpmath.NewUint(1000)),
		h.Deposit(uuid.New(), 10_000_000),
		h.Deposit(uuid.New(), 2_500_000),
	}
	return h, outs
}

func TestHistoryWriterRoundTrip(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	h, outs := seedHistory(t)
	w := persistence.NewHistoryWriter(db)
	require.NoError(t, w.WriteOutputs(ctx, outs))
	// A replayed batch is a no-op.
	require.NoError(t, w.WriteOutputs(ctx, outs))

	loader := persistence.NewRecoveryLoader(db)
	loaded, err := loader.LoadOutputsFrom(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, loaded, len(outs))
	for i, out := range outs {
		got := loaded[i]
		assert.Equal(t, out.Sequence, got.Sequence)
		assert.Equal(t, out.DirectiveID, got.DirectiveID)
		assert.Equal(t, out.Type, got.Type)
		assert.Equal(t, out.StateHash, got.StateHash)
		assert.Equal(t, out.PrevHash, got.PrevHash)
		assert.Len(t, got.Records, len(out.Records))
		assert.Len(t, got.Journals, len(out.Journals))
	}

	deposits := testutil.RecordsOf(loaded[1], event.HistoryDeposit)
	require.Len(t, deposits, 1)
	assert.Equal(t, outs[1].Records[0].ID, deposits[0].ID)

	genesis := sha256.Sum256([]byte(core.GenesisHashSeed))
	checked, err := loader.VerifyChain(ctx, genesis, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(len(outs)), checked)
	assert.Equal(t, h.CH.StateHash(), outs[len(outs)-1].StateHash)
}

func TestRecoveryLoad(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	loader := persistence.NewRecoveryLoader(db)
	rec, err := loader.Load(ctx, 10)
	require.NoError(t, err)
	assert.True(t, rec.Empty())

	h, outs := seedHistory(t)
	w := persistence.NewHistoryWriter(db)
	require.NoError(t, w.WriteOutputs(ctx, outs))
	require.NoError(t, w.WriteJournals(ctx, []ledger.Journal{
		vault.FundingJournal(testutil.InsuranceVault, testutil.InsuranceSeed, testutil.StartTs),
	}))

	rec, err = loader.Load(ctx, 2)
	require.NoError(t, err)
	assert.False(t, rec.Empty())
	assert.Equal(t, h.CH.Sequence(), rec.Sequence)
	assert.Equal(t, h.CH.StateHash(), rec.StateHash)
	assert.Equal(t, []uuid.UUID{outs[1].DirectiveID, outs[2].DirectiveID}, rec.RecentDirectiveIDs)

	collateral := rec.Balances[ledger.VaultAccount(testutil.CollateralVault)]
	assert.Equal(t, "12500000", collateral.String())
	insurance := rec.Balances[ledger.VaultAccount(testutil.InsuranceVault)]
	assert.True(t, insurance.Abs().Eq(testutil.InsuranceSeed))

	// The restored ledger matches the live one.
	restored := vault.NewLedger()
	require.NoError(t, restored.Restore(rec.Balances))
	for _, name := range []string{testutil.CollateralVault, testutil.InsuranceVault} {
		got, err := restored.Balance(ctx, name)
		require.NoError(t, err)
		assert.Equal(t, h.VaultBalance(name).String(), got.String(), name)
	}
}

func TestPostgresIdempotencyChecker(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	_, outs := seedHistory(t)
	require.NoError(t, persistence.NewHistoryWriter(db).WriteOutputs(ctx, outs))

	checker := persistence.NewPostgresIdempotencyChecker(db)
	dup, err := checker.IsDuplicate(ctx, outs[0].DirectiveID)
	require.NoError(t, err)
	assert.True(t, dup)

	dup, err = checker.IsDuplicate(ctx, uuid.New())
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestMigratorDownUp(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	m := persistence.NewMigrator(db)
	pending, err := m.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	require.NoError(t, m.Down(ctx))
	pending, err = m.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"000003_projections.up.sql"}, pending)

	require.NoError(t, m.Up(ctx))
	pending, err = m.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
