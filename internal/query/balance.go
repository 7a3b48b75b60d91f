package query

import (
	"github.com/google/uuid"

	fpmath "PerpVAMM/internal/math"
)

// AccountSummary is a user's collateral with the values derived from their
// open positions at query time.
type AccountSummary struct {
	UserID uuid.UUID `json:"user_id"`

	// Stored balances
	Collateral         fpmath.Uint `json:"collateral"`
	CumulativeDeposits fpmath.Uint `json:"cumulative_deposits"`
	TotalFeePaid       fpmath.Uint `json:"total_fee_paid"`

	// Derived values (NOT stored)
	UnrealizedPnl            fpmath.Int  `json:"unrealized_pnl"`
	TotalCollateral          fpmath.Uint `json:"total_collateral"` // collateral + unrealized pnl, floored at zero
	InitialMarginRequirement fpmath.Uint `json:"initial_margin_requirement"`
	FreeCollateral           fpmath.Uint `json:"free_collateral"`
	OpenPositions            int         `json:"open_positions"`

	AsOfSequence int64 `json:"as_of_sequence"`
}
