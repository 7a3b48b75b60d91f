package ledger_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PerpVAMM/internal/ledger"
	fpmath "PerpVAMM/internal/math"
	"PerpVAMM/internal/store"
)

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_Paths(t *testing.T) {
	userID := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")

	assert.Equal(t, "vault:collateral", ledger.VaultAccount("collateral").AccountPath())
	assert.Equal(t, "wallet:550e8400-e29b-41d4-a716-446655440000", ledger.WalletAccount(userID).AccountPath())
	assert.Equal(t, "external:mint", ledger.ExternalAccount("mint").AccountPath())
}

func TestParseAccountPath_RoundTrip(t *testing.T) {
	for _, k := range []ledger.AccountKey{
		ledger.VaultAccount("insurance"),
		ledger.WalletAccount(uuid.New()),
		ledger.ExternalAccount("mint"),
	} {
		parsed, err := ledger.ParseAccountPath(k.AccountPath())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}
}

func TestParseAccountPath_Rejects(t *testing.T) {
	for _, p := range []string{"", "vault", "vault:", "bank:x", "wallet:not-a-uuid"} {
		_, err := ledger.ParseAccountPath(p)
		assert.Error(t, err, p)
	}
}

// ============================================================================
// Test: Batch overlay
// ============================================================================

type record struct {
	N int `json:"n"`
}

func seeded(t *testing.T) *store.Memory {
	t.Helper()
	m := store.NewMemory()
	require.NoError(t, m.Commit(context.Background(), []store.Write{
		{Key: "r/1", Value: []byte(`{"n":1}`)},
		{Key: "r/2", Value: []byte(`{"n":2}`)},
	}))
	return m
}

func TestBatch_ReadsStagedWritesFirst(t *testing.T) {
	ctx := context.Background()
	base := seeded(t)
	b := ledger.NewBatch(base, uuid.New(), 1, 100)

	require.NoError(t, b.Put("r/1", record{N: 10}))
	b.Delete("r/2")
	require.NoError(t, b.Put("r/3", record{N: 3}))

	var r record
	ok, err := b.Load(ctx, "r/1", &r)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 10, r.N)

	ok, err = b.Load(ctx, "r/2", &r)
	require.NoError(t, err)
	assert.False(t, ok)

	var seen []string
	require.NoError(t, b.Scan(ctx, "r/", func(k string, _ []byte) error {
		seen = append(seen, k)
		return nil
	}))
	assert.Equal(t, []string{"r/1", "r/3"}, seen)

	// Base is untouched until commit.
	_, err = base.Get(ctx, "r/3")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, base.Commit(ctx, b.Writes()))
	_, err = base.Get(ctx, "r/2")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, 2, base.Len())
}

func TestBatch_TransferDropsZero(t *testing.T) {
	b := ledger.NewBatch(store.NewMemory(), uuid.New(), 1, 100)
	user := ledger.WalletAccount(uuid.New())
	vault := ledger.VaultAccount("collateral")

	b.Transfer(vault, user, fpmath.Uint{}, ledger.JournalTypeDeposit)
	b.Transfer(vault, user, fpmath.NewUint(5), ledger.JournalTypeDeposit)

	require.Len(t, b.Journals, 1)
	assert.Equal(t, b.BatchID, b.Journals[0].BatchID)
	assert.Equal(t, int64(100), b.Journals[0].Timestamp)
	assert.NoError(t, b.Validate())
}

func TestBatch_ValidateRejectsSelfTransfer(t *testing.T) {
	b := ledger.NewBatch(store.NewMemory(), uuid.New(), 1, 100)
	vault := ledger.VaultAccount("collateral")
	b.Transfer(vault, vault, fpmath.NewUint(1), ledger.JournalTypeDeposit)
	assert.Error(t, b.Validate())
}

// ============================================================================
// Test: BalanceTracker and InvariantValidator
// ============================================================================

func TestBalanceTracker_ZeroSum(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	b := ledger.NewBatch(store.NewMemory(), uuid.New(), 1, 100)
	user := ledger.WalletAccount(uuid.New())
	collateral := ledger.VaultAccount("collateral")
	insurance := ledger.VaultAccount("insurance")

	b.Transfer(collateral, user, fpmath.NewUint(100), ledger.JournalTypeDeposit)
	b.Transfer(insurance, collateral, fpmath.NewUint(30), ledger.JournalTypeLiquidationFee)
	require.NoError(t, bt.ApplyBatch(b))

	assert.Equal(t, "70", bt.GetBalance(collateral).String())
	assert.Equal(t, "30", bt.GetBalance(insurance).String())
	assert.Equal(t, "-100", bt.GetBalance(user).String())
	assert.NoError(t, bt.ValidateNonNegative(collateral))
	assert.Error(t, bt.ValidateNonNegative(user))

	total, err := bt.ComputeGlobalBalance()
	require.NoError(t, err)
	assert.True(t, total.IsZero())
}

type fixedVaults map[string]fpmath.Uint

func (f fixedVaults) Balance(_ context.Context, name string) (fpmath.Uint, error) {
	return f[name], nil
}

func TestInvariantValidator_VaultsCovered(t *testing.T) {
	ctx := context.Background()
	v := ledger.NewInvariantValidator(fixedVaults{"collateral": fpmath.NewUint(50)})
	user := ledger.WalletAccount(uuid.New())
	collateral := ledger.VaultAccount("collateral")

	ok := ledger.NewBatch(store.NewMemory(), uuid.New(), 1, 100)
	ok.Transfer(collateral, user, fpmath.NewUint(25), ledger.JournalTypeDeposit)
	ok.Transfer(user, collateral, fpmath.NewUint(75), ledger.JournalTypeWithdrawal)
	assert.NoError(t, v.ValidateVaultsCovered(ctx, ok))

	over := ledger.NewBatch(store.NewMemory(), uuid.New(), 1, 100)
	over.Transfer(user, collateral, fpmath.NewUint(51), ledger.JournalTypeWithdrawal)
	assert.Error(t, v.ValidateVaultsCovered(ctx, over))
}
