package book

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"fenrir/internal/common"
)

func orderAt(side common.Side, price int64, qty int64) *common.Order {
	p := decimal.NewNullDecimal(decimal.NewFromInt(price))
	o := common.NewOrder("bob", "AAPL", side, common.LimitOrder, p, decimal.NewFromInt(qty), "", testNow)
	return &o
}

func TestSideBookBestPriceBidsDescending(t *testing.T) {
	sb := NewSideBook(common.Buy)
	sb.Insert(orderAt(common.Buy, 100, 10))
	sb.Insert(orderAt(common.Buy, 105, 5))
	sb.Insert(orderAt(common.Buy, 99, 20))

	best, ok := sb.BestPrice()
	require.True(t, ok)
	require.True(t, best.Equal(decimal.NewFromInt(105)))
}

func TestSideBookBestPriceAsksAscending(t *testing.T) {
	sb := NewSideBook(common.Sell)
	sb.Insert(orderAt(common.Sell, 100, 10))
	sb.Insert(orderAt(common.Sell, 95, 5))
	sb.Insert(orderAt(common.Sell, 110, 20))

	best, ok := sb.BestPrice()
	require.True(t, ok)
	require.True(t, best.Equal(decimal.NewFromInt(95)))
}

func TestSideBookEqualDecimalScalesShareOneLevel(t *testing.T) {
	sb := NewSideBook(common.Buy)
	a := orderAt(common.Buy, 0, 10)
	a.Price = decimal.NewNullDecimal(decimal.RequireFromString("1.5"))
	b := orderAt(common.Buy, 0, 5)
	b.Price = decimal.NewNullDecimal(decimal.RequireFromString("1.50"))

	sb.Insert(a)
	sb.Insert(b)

	lvl, ok := sb.BestLevel()
	require.True(t, ok)
	require.Equal(t, 2, lvl.Len())
}

func TestSideBookRemovePopsEmptyLevel(t *testing.T) {
	sb := NewSideBook(common.Buy)
	a := orderAt(common.Buy, 100, 10)
	sb.Insert(a)

	removed, ok := sb.Remove(a.ID, decimal.NewFromInt(100))
	require.True(t, ok)
	require.Equal(t, a, removed)
	require.True(t, sb.IsEmpty())

	_, ok = sb.LevelAt(decimal.NewFromInt(100))
	require.False(t, ok)
}

func TestSideBookLevelsAggregatesRemainingQuantity(t *testing.T) {
	sb := NewSideBook(common.Buy)
	sb.Insert(orderAt(common.Buy, 100, 10))
	sb.Insert(orderAt(common.Buy, 100, 15))
	sb.Insert(orderAt(common.Buy, 99, 5))

	levels := sb.Levels(0)
	require.Len(t, levels, 2)
	require.True(t, levels[0].Price.Equal(decimal.NewFromInt(100)))
	require.True(t, levels[0].Quantity.Equal(decimal.NewFromInt(25)))
	require.Equal(t, 2, levels[0].Orders)
	require.True(t, levels[1].Price.Equal(decimal.NewFromInt(99)))
}
