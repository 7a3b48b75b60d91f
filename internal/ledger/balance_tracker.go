package ledger

import (
	"fmt"

	fpmath "PerpVAMM/internal/math"
)

// BalanceTracker maintains in-memory account balances. Vault balances must
// stay non-negative; wallet and external accounts go negative as tokens
// flow in from them. Not thread-safe.
type BalanceTracker struct {
	balances map[AccountKey]fpmath.Int
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]fpmath.Int),
	}
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) error {
	c := fpmath.NewCalc("apply_journal")
	amount := c.ToInt(j.Amount)
	debit := c.IAdd(bt.balances[j.DebitAccount], amount)
	credit := c.ISub(bt.balances[j.CreditAccount], amount)
	if err := c.Err(); err != nil {
		return err
	}
	bt.balances[j.DebitAccount] = debit
	bt.balances[j.CreditAccount] = credit
	return nil
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}
	for _, j := range batch.Journals {
		if err := bt.ApplyJournal(j); err != nil {
			return err
		}
	}
	return nil
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) fpmath.Int {
	return bt.balances[key]
}

// SetBalance overwrites a balance. Used when restoring.
func (bt *BalanceTracker) SetBalance(key AccountKey, balance fpmath.Int) {
	bt.balances[key] = balance
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if balance.IsNegative() {
		return fmt.Errorf("account %s has negative balance: %s", key.AccountPath(), balance)
	}
	return nil
}

// ComputeGlobalBalance sums all account balances. Complete books net to zero.
func (bt *BalanceTracker) ComputeGlobalBalance() (fpmath.Int, error) {
	c := fpmath.NewCalc("global_balance")
	var total fpmath.Int
	for _, balance := range bt.balances {
		total = c.IAdd(total, balance)
	}
	return total, c.Err()
}
