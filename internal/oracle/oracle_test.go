package oracle_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fpmath "PerpVAMM/internal/math"
	"PerpVAMM/internal/oracle"
	"PerpVAMM/internal/state"
)

func TestPriceReportsDelay(t *testing.T) {
	ctx := context.Background()
	s := oracle.NewService()
	require.NoError(t, s.Push("SOL", oracle.Reading{Price: fpmath.NewInt(1e12), Slot: 10, HasSufficientDataPoints: true}))
	s.Advance(25)

	data, err := s.Price(ctx, "SOL")
	require.NoError(t, err)
	assert.Equal(t, int64(15), data.Delay)
	assert.Equal(t, "1000000000000", data.Price.String())
	assert.True(t, data.HasSufficientDataPoints)
}

func TestPushIgnoresStaleReading(t *testing.T) {
	ctx := context.Background()
	s := oracle.NewService()
	require.NoError(t, s.Push("SOL", oracle.Reading{Price: fpmath.NewInt(2), Slot: 10}))
	require.NoError(t, s.Push("SOL", oracle.Reading{Price: fpmath.NewInt(1), Slot: 9}))

	data, err := s.Price(ctx, "SOL")
	require.NoError(t, err)
	assert.Equal(t, "2", data.Price.String())
	assert.Equal(t, int64(10), s.Slot())
}

func TestPriceUnknownOracle(t *testing.T) {
	s := oracle.NewService()
	_, err := s.Price(context.Background(), "BTC")
	assert.ErrorIs(t, err, state.ErrOracleNotFound)
	assert.ErrorIs(t, s.Push("", oracle.Reading{}), state.ErrInvalidOracle)
}

func TestNamesSorted(t *testing.T) {
	s := oracle.NewService()
	require.NoError(t, s.Push("SOL", oracle.Reading{Slot: 1}))
	require.NoError(t, s.Push("BTC", oracle.Reading{Slot: 1}))
	assert.Equal(t, []string{"BTC", "SOL"}, s.Names())
}
