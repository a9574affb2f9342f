package common

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestApplyFillTransitionsToPartiallyFilledThenFilled(t *testing.T) {
	o := NewOrder("alice", "AAPL", Buy, LimitOrder,
		decimal.NewNullDecimal(decimal.NewFromInt(100)), decimal.NewFromInt(10), "", time.Now())

	o.ApplyFill(decimal.NewFromInt(4))
	require.Equal(t, PartiallyFilled, o.Status)
	require.True(t, o.Remaining.Equal(decimal.NewFromInt(6)))

	o.ApplyFill(decimal.NewFromInt(6))
	require.Equal(t, Filled, o.Status)
	require.True(t, o.Remaining.IsZero())
}

func TestIsRestableRequiresOpenLimitOrderWithPrice(t *testing.T) {
	now := time.Now()
	limit := NewOrder("alice", "AAPL", Buy, LimitOrder,
		decimal.NewNullDecimal(decimal.NewFromInt(100)), decimal.NewFromInt(10), "", now)
	require.True(t, limit.IsRestable())

	market := NewOrder("alice", "AAPL", Buy, MarketOrder, decimal.NullDecimal{}, decimal.NewFromInt(10), "", now)
	require.False(t, market.IsRestable())

	filled := limit
	filled.Status = Filled
	require.False(t, filled.IsRestable())

	drained := limit
	drained.Remaining = decimal.Zero
	require.False(t, drained.IsRestable())
}
