package state

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Store keys. Every record is one JSON value under one key; per-user
// records share a prefix so they can be range scanned.
const (
	KeyProtocolState    = "state"
	KeyFeeStructure     = "fee_structure"
	KeyOracleGuardRails = "oracle_guard_rails"
	KeyOrderState       = "order_state"
	KeyHistoryLength    = "history_length"

	prefixMarket   = "market/"
	prefixPosition = "position/"
	prefixUser     = "user/"
	prefixOrder    = "order/"
)

// Market indices are zero padded so lexical key order is index order.
func MarketKey(index uint64) string {
	return fmt.Sprintf("%s%020d", prefixMarket, index)
}

func MarketPrefix() string { return prefixMarket }

func PositionKey(user uuid.UUID, market uint64) string {
	return fmt.Sprintf("%s%s/%020d", prefixPosition, user, market)
}

// PositionPrefix scans every position of a user.
func PositionPrefix(user uuid.UUID) string {
	return prefixPosition + user.String() + "/"
}

func UserKey(user uuid.UUID) string {
	return prefixUser + user.String()
}

func UserPrefix() string { return prefixUser }

func OrderKey(user uuid.UUID, market, index uint64) string {
	return fmt.Sprintf("%s%020d", OrderPrefix(user, market), index)
}

// OrderPrefix scans a user's orders in one market.
func OrderPrefix(user uuid.UUID, market uint64) string {
	return fmt.Sprintf("%s%s/%020d/", prefixOrder, user, market)
}

// ParseMarketKey extracts the index from a market key.
func ParseMarketKey(key string) (uint64, error) {
	rest, ok := strings.CutPrefix(key, prefixMarket)
	if !ok {
		return 0, fmt.Errorf("not a market key: %q", key)
	}
	return strconv.ParseUint(rest, 10, 64)
}
