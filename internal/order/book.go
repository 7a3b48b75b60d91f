// Package order runs the resting order lifecycle: placement, cancellation,
// fills by keepers, and expiry of orders on accounts that ran dry.
//
// Orders are stored per (user, market) with dense 1-based indices. Removing
// an order moves the last one into its slot, so the caller must rewrite
// every index up to Length and delete the keys past it.
package order

import (
	"fmt"
	"slices"

	"PerpVAMM/internal/state"
)

// Book is a user's orders in one market together with the position that
// counts them.
type Book struct {
	Position *state.Position
	Orders   []*state.Order
}

// NewBook builds a book from stored orders in any order. The orders must
// carry exactly the indices 1..pos.OrderLength.
func NewBook(pos *state.Position, orders []*state.Order) (*Book, error) {
	sorted := slices.Clone(orders)
	slices.SortFunc(sorted, func(a, b *state.Order) int {
		switch {
		case a.Index < b.Index:
			return -1
		case a.Index > b.Index:
			return 1
		}
		return 0
	})
	if uint64(len(sorted)) != pos.OrderLength {
		return nil, fmt.Errorf("market %d: %d orders stored for order length %d: %w",
			pos.MarketIndex, len(sorted), pos.OrderLength, state.ErrOrderDoesNotExist)
	}
	for i, o := range sorted {
		if o.Index != uint64(i+1) {
			return nil, fmt.Errorf("market %d: order index %d at slot %d: %w",
				pos.MarketIndex, o.Index, i+1, state.ErrOrderDoesNotExist)
		}
	}
	return &Book{Position: pos, Orders: sorted}, nil
}

// Length is the number of orders in the book.
func (b *Book) Length() uint64 {
	return uint64(len(b.Orders))
}

func (b *Book) Get(index uint64) (*state.Order, error) {
	if index == 0 || index > b.Length() {
		return nil, fmt.Errorf("order %d in market %d: %w", index, b.Position.MarketIndex, state.ErrOrderDoesNotExist)
	}
	return b.Orders[index-1], nil
}

func (b *Book) add(o *state.Order) {
	o.Index = b.Length() + 1
	b.Orders = append(b.Orders, o)
	b.Position.OrderLength = b.Length()
}

// remove takes the order at index out of the book, moving the last order
// into its slot.
func (b *Book) remove(index uint64) (*state.Order, error) {
	o, err := b.Get(index)
	if err != nil {
		return nil, err
	}
	last := b.Length()
	if index != last {
		moved := b.Orders[last-1]
		moved.Index = index
		b.Orders[index-1] = moved
	}
	b.Orders = b.Orders[:last-1]
	b.Position.OrderLength = b.Length()
	return o, nil
}
