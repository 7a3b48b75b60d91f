package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"PerpVAMM/internal/event"
	"PerpVAMM/internal/state"
	"PerpVAMM/internal/store"
)

// ErrNotBootstrapped is returned while the protocol records are missing.
var ErrNotBootstrapped = errors.New("clearing house not bootstrapped")

// Reader is the read side of a store. Both store.Store and ledger.Batch
// satisfy it.
type Reader interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error
}

// readRecord decodes the JSON record at key. It returns a nil value and no
// error when the key does not exist, along with the raw bytes read.
func readRecord[T any](ctx context.Context, r Reader, key string) (*T, []byte, error) {
	data, err := r.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	v := new(T)
	if err := json.Unmarshal(data, v); err != nil {
		return nil, nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return v, data, nil
}

func requireRecord[T any](ctx context.Context, r Reader, key string) (*T, error) {
	v, _, err := readRecord[T](ctx, r, key)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, fmt.Errorf("%s: %w", key, ErrNotBootstrapped)
	}
	return v, nil
}

func ReadProtocolState(ctx context.Context, r Reader) (*state.ProtocolState, error) {
	return requireRecord[state.ProtocolState](ctx, r, state.KeyProtocolState)
}

func ReadFeeStructure(ctx context.Context, r Reader) (*state.FeeStructure, error) {
	return requireRecord[state.FeeStructure](ctx, r, state.KeyFeeStructure)
}

func ReadOracleGuardRails(ctx context.Context, r Reader) (*state.OracleGuardRails, error) {
	return requireRecord[state.OracleGuardRails](ctx, r, state.KeyOracleGuardRails)
}

func ReadOrderState(ctx context.Context, r Reader) (*state.OrderState, error) {
	return requireRecord[state.OrderState](ctx, r, state.KeyOrderState)
}

// ReadMarket loads an initialized market.
func ReadMarket(ctx context.Context, r Reader, index uint64) (*state.Market, error) {
	m, _, err := readRecord[state.Market](ctx, r, state.MarketKey(index))
	if err != nil {
		return nil, err
	}
	if m == nil || !m.Initialized {
		return nil, fmt.Errorf("market %d: %w", index, state.ErrMarketIndexNotInitialized)
	}
	return m, nil
}

// ReadMarkets returns every initialized market in index order.
func ReadMarkets(ctx context.Context, r Reader) ([]*state.Market, error) {
	var out []*state.Market
	err := r.Scan(ctx, state.MarketPrefix(), func(key string, value []byte) error {
		m := new(state.Market)
		if err := json.Unmarshal(value, m); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		if m.Initialized {
			out = append(out, m)
		}
		return nil
	})
	return out, err
}

func ReadUser(ctx context.Context, r Reader, id uuid.UUID) (*state.User, error) {
	u, _, err := readRecord[state.User](ctx, r, state.UserKey(id))
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, fmt.Errorf("user %s: %w", id, state.ErrUserDoesNotExist)
	}
	return u, nil
}

// ReadPositions returns the user's stored positions in market order.
func ReadPositions(ctx context.Context, r Reader, user uuid.UUID) ([]*state.Position, error) {
	var out []*state.Position
	err := r.Scan(ctx, state.PositionPrefix(user), func(key string, value []byte) error {
		p := new(state.Position)
		if err := json.Unmarshal(value, p); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		out = append(out, p)
		return nil
	})
	return out, err
}

// ReadOrders returns the user's orders in one market in index order.
func ReadOrders(ctx context.Context, r Reader, user uuid.UUID, market uint64) ([]*state.Order, error) {
	var out []*state.Order
	err := r.Scan(ctx, state.OrderPrefix(user, market), func(key string, value []byte) error {
		o := new(state.Order)
		if err := json.Unmarshal(value, o); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		out = append(out, o)
		return nil
	})
	return out, err
}

// HistoryLengths maps each history kind to the ID of its last record.
type HistoryLengths map[event.HistoryKind]uint64

func ReadHistoryLengths(ctx context.Context, r Reader) (HistoryLengths, error) {
	h, _, err := readRecord[HistoryLengths](ctx, r, state.KeyHistoryLength)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return HistoryLengths{}, nil
	}
	return *h, nil
}
