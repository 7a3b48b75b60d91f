package vault_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PerpVAMM/internal/ledger"
	fpmath "PerpVAMM/internal/math"
	"PerpVAMM/internal/vault"
)

func TestLedgerTransfer(t *testing.T) {
	ctx := context.Background()
	v := vault.NewLedger()
	user := ledger.WalletAccount(uuid.New())

	require.NoError(t, v.Transfer(ctx, ledger.Journal{
		DebitAccount:  ledger.VaultAccount("collateral"),
		CreditAccount: user,
		Amount:        fpmath.NewUint(100),
		JournalType:   ledger.JournalTypeDeposit,
	}))
	bal, err := v.Balance(ctx, "collateral")
	require.NoError(t, err)
	assert.Equal(t, "100", bal.String())
	assert.Equal(t, "-100", v.WalletBalance(user).String())

	err = v.Transfer(ctx, ledger.Journal{
		DebitAccount:  user,
		CreditAccount: ledger.VaultAccount("collateral"),
		Amount:        fpmath.NewUint(101),
		JournalType:   ledger.JournalTypeWithdrawal,
	})
	assert.ErrorIs(t, err, vault.ErrInsufficientFunds)
	assert.Len(t, v.Applied(), 1)
}

func TestLedgerFund(t *testing.T) {
	ctx := context.Background()
	v := vault.NewLedger()
	require.NoError(t, v.Fund(ctx, "insurance", fpmath.NewUint(7)))
	bal, err := v.Balance(ctx, "insurance")
	require.NoError(t, err)
	assert.Equal(t, "7", bal.String())

	assert.Error(t, v.Fund(ctx, "insurance", fpmath.Uint{}))
}

func TestLedgerRestore(t *testing.T) {
	ctx := context.Background()
	v := vault.NewLedger()
	require.NoError(t, v.Restore(map[ledger.AccountKey]fpmath.Int{
		ledger.VaultAccount("insurance"): fpmath.NewInt(500),
		ledger.ExternalAccount("mint"):   fpmath.NewInt(-500),
	}))

	bal, err := v.Balance(ctx, "insurance")
	require.NoError(t, err)
	assert.Equal(t, "500", bal.String())

	require.NoError(t, v.Fund(ctx, "insurance", fpmath.NewUint(250)))
	bal, err = v.Balance(ctx, "insurance")
	require.NoError(t, err)
	assert.Equal(t, "750", bal.String())
	assert.Equal(t, "-750", v.WalletBalance(ledger.ExternalAccount("mint")).String())
}

func TestLedgerRestoreRejectsUnbalancedBooks(t *testing.T) {
	v := vault.NewLedger()
	err := v.Restore(map[ledger.AccountKey]fpmath.Int{
		ledger.VaultAccount("insurance"): fpmath.NewInt(500),
		ledger.ExternalAccount("mint"):   fpmath.NewInt(-400),
	})
	assert.ErrorContains(t, err, "net to 100")

	err = v.Restore(map[ledger.AccountKey]fpmath.Int{
		ledger.VaultAccount("insurance"): fpmath.NewInt(-500),
		ledger.ExternalAccount("mint"):   fpmath.NewInt(500),
	})
	assert.ErrorContains(t, err, "negative balance")

	bal, err := v.Balance(context.Background(), "insurance")
	require.NoError(t, err)
	assert.True(t, bal.IsZero())
}
