package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAmount(t *testing.T) {
	prices := map[string]int64{"A": 200, "B": 150, "AA": 500}

	t.Run("sums per-row prices", func(t *testing.T) {
		got, err := Amount(prices, []string{"A1", "A2", "B5"})
		require.NoError(t, err)
		assert.Equal(t, int64(550), got)
	})

	t.Run("single seat", func(t *testing.T) {
		got, err := Amount(prices, []string{"A7"})
		require.NoError(t, err)
		assert.Equal(t, int64(200), got)
	})

	t.Run("multi-letter row", func(t *testing.T) {
		got, err := Amount(prices, []string{"AA3"})
		require.NoError(t, err)
		assert.Equal(t, int64(500), got)
	})

	t.Run("unpriced row rejected", func(t *testing.T) {
		_, err := Amount(prices, []string{"A1", "Z9"})
		require.ErrorIs(t, err, ErrInvalidSeat)
		assert.Contains(t, err.Error(), `"Z9"`)
	})

	t.Run("label without row letter rejected", func(t *testing.T) {
		_, err := Amount(prices, []string{"12"})
		require.ErrorIs(t, err, ErrInvalidSeat)
	})

	t.Run("empty selection sums to zero", func(t *testing.T) {
		got, err := Amount(prices, nil)
		require.NoError(t, err)
		assert.Zero(t, got)
	})

	t.Run("deterministic", func(t *testing.T) {
		seats := []string{"B1", "A4", "B2"}
		first, err := Amount(prices, seats)
		require.NoError(t, err)
		second, err := Amount(prices, seats)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})
}
