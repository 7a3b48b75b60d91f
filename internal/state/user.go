package state

import (
	"github.com/google/uuid"

	fpmath "PerpVAMM/internal/math"
)

// User holds collateral and lifetime fee accounting. Collateral never goes
// negative; PnL application clamps at zero.
type User struct {
	ID                   uuid.UUID   `json:"id"`
	Collateral           fpmath.Uint `json:"collateral"`
	CumulativeDeposits   fpmath.Uint `json:"cumulative_deposits"`
	TotalFeePaid         fpmath.Uint `json:"total_fee_paid"`
	TotalTokenDiscount   fpmath.Uint `json:"total_token_discount"`
	TotalReferralReward  fpmath.Uint `json:"total_referral_reward"`
	TotalRefereeDiscount fpmath.Uint `json:"total_referee_discount"`
	Referrer             *uuid.UUID  `json:"referrer,omitempty"`
}

func (u *User) HasReferrer() bool {
	return u.Referrer != nil
}
