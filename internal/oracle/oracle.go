// Package oracle serves external price readings to the clearing house.
package oracle

import (
	"context"
	"fmt"
	"sort"
	"sync"

	fpmath "PerpVAMM/internal/math"
	"PerpVAMM/internal/state"
)

// Feed reads the latest price of a named oracle. A name with no reading
// fails with state.ErrOracleNotFound.
type Feed interface {
	Price(ctx context.Context, name string) (state.OraclePriceData, error)
}

// Reading is one published price. Price and Confidence are at mark price
// precision; Slot is the publisher's clock.
type Reading struct {
	Price                   fpmath.Int  `json:"price"`
	Confidence              fpmath.Uint `json:"confidence"`
	Slot                    int64       `json:"slot"`
	HasSufficientDataPoints bool        `json:"has_sufficient_data_points"`
}

// Service keeps the last reading per oracle and a current slot. Delay is
// the distance from a reading's slot to the current one.
type Service struct {
	mu       sync.RWMutex
	readings map[string]Reading
	slot     int64
}

func NewService() *Service {
	return &Service{readings: make(map[string]Reading)}
}

// Push records a reading. Readings older than the stored one are ignored.
// The current slot never moves backwards.
func (s *Service) Push(name string, r Reading) error {
	if name == "" {
		return fmt.Errorf("oracle reading without name: %w", state.ErrInvalidOracle)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.readings[name]; ok && r.Slot < prev.Slot {
		return nil
	}
	s.readings[name] = r
	s.slot = max(s.slot, r.Slot)
	return nil
}

// Advance moves the current slot forward without publishing, ageing every
// reading.
func (s *Service) Advance(slot int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slot = max(s.slot, slot)
}

func (s *Service) Slot() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.slot
}

func (s *Service) Price(ctx context.Context, name string) (state.OraclePriceData, error) {
	if err := ctx.Err(); err != nil {
		return state.OraclePriceData{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.readings[name]
	if !ok {
		return state.OraclePriceData{}, fmt.Errorf("oracle %q: %w", name, state.ErrOracleNotFound)
	}
	return state.OraclePriceData{
		Price:                   r.Price,
		Confidence:              r.Confidence,
		Delay:                   s.slot - r.Slot,
		HasSufficientDataPoints: r.HasSufficientDataPoints,
	}, nil
}

// Names lists the oracles with a reading, sorted.
func (s *Service) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.readings))
	for n := range s.readings {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
