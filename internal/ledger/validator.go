package ledger

import (
	"context"
	"fmt"

	fpmath "PerpVAMM/internal/math"
)

// VaultBalances reads the token balance held by a vault.
type VaultBalances interface {
	Balance(ctx context.Context, vault string) (fpmath.Uint, error)
}

// InvariantValidator checks a batch before it is committed
type InvariantValidator struct {
	vaults VaultBalances
}

func NewInvariantValidator(vaults VaultBalances) *InvariantValidator {
	return &InvariantValidator{
		vaults: vaults,
	}
}

// ValidateBatchBalance verifies every journal is a positive transfer
// between two distinct accounts.
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateVaultsCovered replays the batch's journals against current vault
// balances and fails if any vault would be overdrawn at any point.
func (v *InvariantValidator) ValidateVaultsCovered(ctx context.Context, batch *Batch) error {
	running := make(map[string]fpmath.Uint)
	balance := func(name string) (fpmath.Uint, error) {
		if b, ok := running[name]; ok {
			return b, nil
		}
		b, err := v.vaults.Balance(ctx, name)
		if err != nil {
			return fpmath.Uint{}, err
		}
		running[name] = b
		return b, nil
	}

	c := fpmath.NewCalc("validate_vaults_covered")
	for _, j := range batch.Journals {
		if j.CreditAccount.Scope == AccountScopeVault {
			b, err := balance(j.CreditAccount.Name)
			if err != nil {
				return err
			}
			if b.LT(j.Amount) {
				return fmt.Errorf("vault %s holds %s, journal %s moves %s", j.CreditAccount.Name, b, j.JournalType, j.Amount)
			}
			running[j.CreditAccount.Name] = c.Sub(b, j.Amount)
		}
		if j.DebitAccount.Scope == AccountScopeVault {
			b, err := balance(j.DebitAccount.Name)
			if err != nil {
				return err
			}
			running[j.DebitAccount.Name] = c.Add(b, j.Amount)
		}
	}
	return c.Err()
}
