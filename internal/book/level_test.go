package book

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"fenrir/internal/common"
)

var testNow = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestOrder(id uuid.UUID) *common.Order {
	price := decimal.NewNullDecimal(decimal.NewFromInt(100))
	o := common.NewOrder("alice", "AAPL", common.Buy, common.LimitOrder, price, decimal.NewFromInt(10), "", testNow)
	o.ID = id
	return &o
}

func TestPriceLevelFIFOOrdering(t *testing.T) {
	lvl := NewPriceLevel(decimal.NewFromInt(100))
	require.True(t, lvl.IsEmpty())

	a := newTestOrder(uuid.New())
	b := newTestOrder(uuid.New())
	c := newTestOrder(uuid.New())
	lvl.PushBack(a)
	lvl.PushBack(b)
	lvl.PushBack(c)

	require.Equal(t, 3, lvl.Len())
	require.Equal(t, a, lvl.PeekFront())

	require.Equal(t, a, lvl.PopFront())
	require.Equal(t, b, lvl.PeekFront())
	require.Equal(t, 2, lvl.Len())
}

func TestPriceLevelRemoveByIDPreservesOrder(t *testing.T) {
	lvl := NewPriceLevel(decimal.NewFromInt(100))
	a := newTestOrder(uuid.New())
	b := newTestOrder(uuid.New())
	c := newTestOrder(uuid.New())
	lvl.PushBack(a)
	lvl.PushBack(b)
	lvl.PushBack(c)

	removed, ok := lvl.RemoveByID(b.ID)
	require.True(t, ok)
	require.Equal(t, b, removed)

	require.Equal(t, []*common.Order{a, c}, lvl.Orders())

	_, ok = lvl.RemoveByID(b.ID)
	require.False(t, ok)
}

func TestPriceLevelEmptyAfterAllRemoved(t *testing.T) {
	lvl := NewPriceLevel(decimal.NewFromInt(100))
	a := newTestOrder(uuid.New())
	lvl.PushBack(a)
	lvl.PopFront()
	require.True(t, lvl.IsEmpty())
	require.Nil(t, lvl.PeekFront())
	require.Nil(t, lvl.PopFront())
}
