package ledger

import (
	"fmt"

	"github.com/google/uuid"

	fpmath "PerpVAMM/internal/math"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeDeposit JournalType = iota
	JournalTypeWithdrawal
	JournalTypeInsuranceWithdrawal // user withdrawal topped up from insurance
	JournalTypeLiquidationFee      // insurance share of a liquidation fee
	JournalTypeFeeWithdrawal
	JournalTypeInsuranceVaultWithdrawal
	JournalTypeInsuranceToMarket
	JournalTypeVaultFunding
)

var journalTypeNames = []string{
	"deposit",
	"withdrawal",
	"insurance_withdrawal",
	"liquidation_fee",
	"fee_withdrawal",
	"insurance_vault_withdrawal",
	"insurance_to_market",
	"vault_funding",
}

func (t JournalType) String() string {
	if t < 0 || int(t) >= len(journalTypeNames) {
		return "unknown"
	}
	return journalTypeNames[t]
}

func (t JournalType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *JournalType) UnmarshalText(b []byte) error {
	for i, n := range journalTypeNames {
		if n == string(b) {
			*t = JournalType(i)
			return nil
		}
	}
	return fmt.Errorf("unknown journal type %q", b)
}

// Journal is one token movement. Amount leaves CreditAccount and arrives in
// DebitAccount.
type Journal struct {
	JournalID     uuid.UUID   `json:"journal_id"`
	BatchID       uuid.UUID   `json:"batch_id"`
	DirectiveID   uuid.UUID   `json:"directive_id"`
	Sequence      int64       `json:"sequence"`
	DebitAccount  AccountKey  `json:"debit_account"`
	CreditAccount AccountKey  `json:"credit_account"`
	Amount        fpmath.Uint `json:"amount"` // quote precision, always positive
	JournalType   JournalType `json:"journal_type"`
	Timestamp     int64       `json:"timestamp"`
}

// Validate checks a single entry. A batch is balanced entry by entry since
// each journal moves one positive amount between two distinct accounts.
func (j *Journal) Validate() error {
	if j.Amount.IsZero() {
		return fmt.Errorf("journal %s has zero amount", j.JournalID)
	}
	if j.DebitAccount == j.CreditAccount {
		return fmt.Errorf("journal %s has same debit and credit account %s", j.JournalID, j.DebitAccount)
	}
	return nil
}
