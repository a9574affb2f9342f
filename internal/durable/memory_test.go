package durable

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"fenrir/internal/common"
)

var fixedNow = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newOrder(side common.Side, qty int64) common.Order {
	return common.NewOrder("alice", "AAPL", side, common.LimitOrder,
		decimal.NewNullDecimal(decimal.NewFromInt(100)), decimal.NewFromInt(qty), "", fixedNow)
}

func TestMemoryPersistAcceptIsIdempotent(t *testing.T) {
	m := NewMemory().WithClock(func() time.Time { return fixedNow })
	ctx := context.Background()

	o := newOrder(common.Buy, 10)
	o.IdempotencyKey = "dup"
	first, err := m.PersistAccept(ctx, o)
	require.NoError(t, err)
	require.False(t, first.Replay)

	o2 := newOrder(common.Buy, 10)
	o2.IdempotencyKey = "dup"
	second, err := m.PersistAccept(ctx, o2)
	require.NoError(t, err)
	require.True(t, second.Replay)
	require.Equal(t, first.Order.ID, second.Order.ID)
}

func TestMemoryPersistTradeUnitReconciliationClampsToRemaining(t *testing.T) {
	m := NewMemory().WithClock(func() time.Time { return fixedNow })
	ctx := context.Background()

	buy := newOrder(common.Buy, 10)
	sell := newOrder(common.Sell, 4)
	_, err := m.PersistAccept(ctx, buy)
	require.NoError(t, err)
	_, err = m.PersistAccept(ctx, sell)
	require.NoError(t, err)

	result, err := m.PersistTradeUnit(ctx, TradeUnit{
		Instrument: "AAPL",
		IncomingID: buy.ID,
		RestingID:  sell.ID,
		BuyOrderID: buy.ID,
		SellOrderID: sell.ID,
		Price:      decimal.NewFromInt(100),
		Quantity:   decimal.NewFromInt(10), // over-proposes past sell's remaining
	})
	require.NoError(t, err)
	require.True(t, result.Committed)
	require.True(t, result.Trade.Quantity.Equal(decimal.NewFromInt(4)))
	require.Equal(t, common.Filled, result.RestingStatus)
	require.Equal(t, common.PartiallyFilled, result.IncomingStatus)
}

func TestMemoryPersistTradeUnitSkewsOnUnknownOrder(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	result, err := m.PersistTradeUnit(ctx, TradeUnit{
		IncomingID: uuid.New(),
		RestingID:  uuid.New(),
		Quantity:   decimal.NewFromInt(1),
	})
	require.NoError(t, err)
	require.True(t, result.Skew)
	require.False(t, result.Committed)
}

func TestMemoryPersistCancelRefusesFilledOrder(t *testing.T) {
	m := NewMemory().WithClock(func() time.Time { return fixedNow })
	ctx := context.Background()

	o := newOrder(common.Buy, 10)
	_, err := m.PersistAccept(ctx, o)
	require.NoError(t, err)

	_, _, err = reconcileToZero(m, ctx, o.ID)
	require.NoError(t, err)

	_, err = m.PersistCancel(ctx, o.ID)
	require.Error(t, err)
	var stateErr *common.StateError
	require.ErrorAs(t, err, &stateErr)
}

func reconcileToZero(m *Memory, ctx context.Context, orderID uuid.UUID) (decimal.Decimal, common.OrderStatus, error) {
	return m.ReconcileRemaining(ctx, orderID, decimal.Zero)
}

func TestMemoryReconcileRemainingStaysOpenWhenNothingFilled(t *testing.T) {
	m := NewMemory().WithClock(func() time.Time { return fixedNow })
	ctx := context.Background()

	o := newOrder(common.Buy, 10)
	_, err := m.PersistAccept(ctx, o)
	require.NoError(t, err)

	remaining, status, err := m.ReconcileRemaining(ctx, o.ID, o.Quantity)
	require.NoError(t, err)
	require.True(t, remaining.Equal(o.Quantity))
	require.Equal(t, common.Open, status)
}

func TestMemoryLoadOpenOrdersSortedByCreatedAt(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	older := newOrder(common.Buy, 10)
	older.CreatedAt = fixedNow.Add(-time.Hour)
	newer := newOrder(common.Sell, 5)
	newer.CreatedAt = fixedNow

	_, err := m.PersistAccept(ctx, newer)
	require.NoError(t, err)
	_, err = m.PersistAccept(ctx, older)
	require.NoError(t, err)

	open, err := m.LoadOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 2)
	require.Equal(t, older.ID, open[0].ID)
	require.Equal(t, newer.ID, open[1].ID)
}
