package query

import (
	"github.com/google/uuid"

	"PerpVAMM/internal/event"
	"PerpVAMM/internal/ledger"
	fpmath "PerpVAMM/internal/math"
	"PerpVAMM/internal/state"
)

// PositionView is a position valued against its market's curve.
type PositionView struct {
	*state.Position
	BaseAssetValue fpmath.Uint `json:"base_asset_value"`
	UnrealizedPnl  fpmath.Int  `json:"unrealized_pnl"`
	MarkPrice      fpmath.Uint `json:"mark_price"`
}

// MarketView is a market with its current mark price.
type MarketView struct {
	*state.Market
	MarkPrice fpmath.Uint `json:"mark_price"`
}

// HistoryPage is a page of one history log in ID order. Next is the cursor
// for the following page, zero when there is none.
type HistoryPage struct {
	Kind    event.HistoryKind `json:"kind"`
	Records []event.Record    `json:"records"`
	Next    uint64            `json:"next,omitempty"`
}

// JournalHistoryEntry is one vault movement touching a user's wallet.
type JournalHistoryEntry struct {
	JournalID     uuid.UUID          `json:"journal_id"`
	DirectiveID   uuid.UUID          `json:"directive_id"`
	Sequence      int64              `json:"sequence"`
	DebitAccount  ledger.AccountKey  `json:"debit_account"`
	CreditAccount ledger.AccountKey  `json:"credit_account"`
	Amount        fpmath.Uint        `json:"amount"`
	JournalType   ledger.JournalType `json:"journal_type"`
	Timestamp     int64              `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy      bool       `json:"is_healthy"`
	CheckedOutputs int64      `json:"checked_outputs"`
	HashChainError string     `json:"hash_chain_error,omitempty"`
	GlobalBalance  fpmath.Int `json:"global_balance"`
	Watermark      int64      `json:"watermark"`
}
