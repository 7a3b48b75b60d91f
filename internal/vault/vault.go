// Package vault moves quote tokens between the exchange's vaults and user
// wallets.
package vault

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"PerpVAMM/internal/ledger"
	fpmath "PerpVAMM/internal/math"
)

var ErrInsufficientFunds = errors.New("vault: insufficient funds")

// Vault is the token custody the clearing house settles against.
type Vault interface {
	Balance(ctx context.Context, vault string) (fpmath.Uint, error)
	Transfer(ctx context.Context, j ledger.Journal) error
}

// Ledger is an in-process Vault that keeps balances in a
// ledger.BalanceTracker. Wallets and external accounts are unbounded
// sources; vaults can never be overdrawn.
type Ledger struct {
	mu      sync.RWMutex
	tracker *ledger.BalanceTracker
	applied []ledger.Journal
}

func NewLedger() *Ledger {
	return &Ledger{tracker: ledger.NewBalanceTracker()}
}

func (l *Ledger) Balance(_ context.Context, vault string) (fpmath.Uint, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.tracker.GetBalance(ledger.VaultAccount(vault)).Abs(), nil
}

func (l *Ledger) Transfer(ctx context.Context, j ledger.Journal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := j.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if j.CreditAccount.Scope == ledger.AccountScopeVault {
		if have := l.tracker.GetBalance(j.CreditAccount); have.Abs().LT(j.Amount) {
			return fmt.Errorf("%s holds %s, need %s: %w", j.CreditAccount, have, j.Amount, ErrInsufficientFunds)
		}
	}
	if err := l.tracker.ApplyJournal(j); err != nil {
		return err
	}
	l.applied = append(l.applied, j)
	return nil
}

// FundingJournal mints amount into a vault from the external boundary.
func FundingJournal(vault string, amount fpmath.Uint, ts int64) ledger.Journal {
	return ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.VaultAccount(vault),
		CreditAccount: ledger.ExternalAccount("mint"),
		Amount:        amount,
		JournalType:   ledger.JournalTypeVaultFunding,
		Timestamp:     ts,
	}
}

// Fund applies a FundingJournal. Used to seed the insurance vault.
func (l *Ledger) Fund(ctx context.Context, vault string, amount fpmath.Uint) error {
	return l.Transfer(ctx, FundingJournal(vault, amount, 0))
}

// WalletBalance is the net flow into a user's wallet: negative after the
// user deposits more than they withdraw.
func (l *Ledger) WalletBalance(account ledger.AccountKey) fpmath.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.tracker.GetBalance(account)
}

// Applied returns the journals transferred so far, oldest first.
func (l *Ledger) Applied() []ledger.Journal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]ledger.Journal, len(l.applied))
	copy(out, l.applied)
	return out
}

// Restore replaces every balance with the given ones, used when rebuilding
// the ledger from persisted journals. The balances must net to zero and no
// vault may be negative.
func (l *Ledger) Restore(balances map[ledger.AccountKey]fpmath.Int) error {
	tracker := ledger.NewBalanceTracker()
	for k, v := range balances {
		tracker.SetBalance(k, v)
		if k.Scope == ledger.AccountScopeVault {
			if err := tracker.ValidateNonNegative(k); err != nil {
				return err
			}
		}
	}
	total, err := tracker.ComputeGlobalBalance()
	if err != nil {
		return err
	}
	if !total.IsZero() {
		return fmt.Errorf("restored balances net to %s, want 0", total)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.tracker = tracker
	return nil
}
