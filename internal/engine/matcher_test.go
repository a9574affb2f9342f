package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"fenrir/internal/common"
	"fenrir/internal/durable"
)

var testNow = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// recordingReporter captures every report for assertions instead of
// fanning out over a connection, mirroring the shape of the teacher's own
// MockReporter.
type recordingReporter struct {
	mu     sync.Mutex
	acks   []common.Order
	trades []common.Trade
	errs   []error
}

func (r *recordingReporter) ReportTrade(trade common.Trade, _, _ common.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trades = append(r.trades, trade)
}

func (r *recordingReporter) ReportAck(order common.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.acks = append(r.acks, order)
}

func (r *recordingReporter) ReportError(_ string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func limitOrder(clientID string, side common.Side, price, qty int64) *common.Order {
	o := common.NewOrder(clientID, "AAPL", side, common.LimitOrder,
		decimal.NewNullDecimal(decimal.NewFromInt(price)), decimal.NewFromInt(qty), "", testNow)
	return &o
}

func marketOrder(clientID string, side common.Side, qty int64) *common.Order {
	o := common.NewOrder(clientID, "AAPL", side, common.MarketOrder,
		decimal.NullDecimal{}, decimal.NewFromInt(qty), "", testNow)
	return &o
}

func newTestBook() (*InstrumentBook, *durable.Memory, *recordingReporter) {
	mem := durable.NewMemory().WithClock(func() time.Time { return testNow })
	rep := &recordingReporter{}
	ib := NewInstrumentBook("AAPL", mem, rep)
	return ib, mem, rep
}

func TestLimitOrderRestsWhenNothingCrosses(t *testing.T) {
	ib, _, _ := newTestBook()
	ctx := context.Background()

	order, trades, err := ib.Submit(ctx, limitOrder("alice", common.Buy, 100, 10))
	require.NoError(t, err)
	require.Empty(t, trades)
	require.Equal(t, common.Open, order.Status)

	best, ok := ib.Bids.BestPrice()
	require.True(t, ok)
	require.True(t, best.Equal(decimal.NewFromInt(100)))
}

func TestLimitOrderMatchesRestingOpposite(t *testing.T) {
	ib, _, rep := newTestBook()
	ctx := context.Background()

	_, _, err := ib.Submit(ctx, limitOrder("alice", common.Sell, 100, 10))
	require.NoError(t, err)

	taker, trades, err := ib.Submit(ctx, limitOrder("bob", common.Buy, 100, 10))
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.True(t, trades[0].Quantity.Equal(decimal.NewFromInt(10)))
	require.True(t, trades[0].Price.Equal(decimal.NewFromInt(100)))
	require.Equal(t, common.Filled, taker.Status)
	require.True(t, ib.Asks.IsEmpty())
	require.Len(t, rep.trades, 1)
}

func TestLimitOrderPartialFillRestsResidue(t *testing.T) {
	ib, _, _ := newTestBook()
	ctx := context.Background()

	_, _, err := ib.Submit(ctx, limitOrder("alice", common.Sell, 100, 5))
	require.NoError(t, err)

	taker, trades, err := ib.Submit(ctx, limitOrder("bob", common.Buy, 100, 10))
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.True(t, trades[0].Quantity.Equal(decimal.NewFromInt(5)))
	require.Equal(t, common.PartiallyFilled, taker.Status)
	require.True(t, taker.Remaining.Equal(decimal.NewFromInt(5)))

	best, ok := ib.Bids.BestPrice()
	require.True(t, ok)
	require.True(t, best.Equal(decimal.NewFromInt(100)))
}

func TestMarketOrderNeverRestsResidue(t *testing.T) {
	ib, _, _ := newTestBook()
	ctx := context.Background()

	order, trades, err := ib.Submit(ctx, marketOrder("alice", common.Buy, 10))
	require.NoError(t, err)
	require.Empty(t, trades)
	require.Equal(t, common.Cancelled, order.Status)
	require.True(t, ib.Bids.IsEmpty())
}

func TestMarketOrderConsumesAvailableLiquidityThenCancelsResidue(t *testing.T) {
	ib, _, _ := newTestBook()
	ctx := context.Background()

	_, _, err := ib.Submit(ctx, limitOrder("alice", common.Sell, 100, 4))
	require.NoError(t, err)

	order, trades, err := ib.Submit(ctx, marketOrder("bob", common.Buy, 10))
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.True(t, trades[0].Quantity.Equal(decimal.NewFromInt(4)))
	require.Equal(t, common.Cancelled, order.Status)
	require.True(t, order.Remaining.Equal(decimal.NewFromInt(6)))
}

func TestCancelRemovesRestingOrder(t *testing.T) {
	ib, _, _ := newTestBook()
	ctx := context.Background()

	order, _, err := ib.Submit(ctx, limitOrder("alice", common.Buy, 100, 10))
	require.NoError(t, err)

	cancelled, err := ib.Cancel(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, common.Cancelled, cancelled.Status)
	require.True(t, ib.Bids.IsEmpty())
}

func TestCancelUnknownOrderFails(t *testing.T) {
	ib, _, _ := newTestBook()
	ctx := context.Background()

	order := limitOrder("alice", common.Buy, 100, 10)
	_, err := ib.Cancel(ctx, order.ID)
	require.Error(t, err)
}

func TestSubmitIsIdempotentOnReplayKey(t *testing.T) {
	ib, _, _ := newTestBook()
	ctx := context.Background()

	first := limitOrder("alice", common.Buy, 100, 10)
	first.IdempotencyKey = "key-1"
	accepted, _, err := ib.Submit(ctx, first)
	require.NoError(t, err)

	replay := limitOrder("alice", common.Buy, 100, 10)
	replay.IdempotencyKey = "key-1"
	replayed, _, err := ib.Submit(ctx, replay)
	require.NoError(t, err)

	require.Equal(t, accepted.ID, replayed.ID)
	best, _ := ib.Bids.BestLevel()
	require.Equal(t, 1, best.Len())
}

func TestPriceTimePriorityFIFOWithinLevel(t *testing.T) {
	ib, _, _ := newTestBook()
	ctx := context.Background()

	first, _, err := ib.Submit(ctx, limitOrder("alice", common.Sell, 100, 5))
	require.NoError(t, err)
	_, _, err = ib.Submit(ctx, limitOrder("carol", common.Sell, 100, 5))
	require.NoError(t, err)

	_, trades, err := ib.Submit(ctx, limitOrder("bob", common.Buy, 100, 5))
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.Equal(t, first.ID, trades[0].SellOrderID)
}
