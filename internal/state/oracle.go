package state

import (
	fpmath "PerpVAMM/internal/math"
)

// OraclePriceData is one oracle reading. Price is at MarkPricePrecision.
// Delay is the number of slots since the price was last published.
type OraclePriceData struct {
	Price                   fpmath.Int  `json:"price"`
	Confidence              fpmath.Uint `json:"confidence"`
	Delay                   int64       `json:"delay"`
	HasSufficientDataPoints bool        `json:"has_sufficient_data_points"`
}

// OracleStatus bundles an oracle reading with its validity and spread
// against the mark price.
type OracleStatus struct {
	PriceData           OraclePriceData `json:"price_data"`
	OracleMarkSpreadPct fpmath.Int      `json:"oracle_mark_spread_pct"`
	IsValid             bool            `json:"is_valid"`
	MarkTooDivergent    bool            `json:"mark_too_divergent"`
}
