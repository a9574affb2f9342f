package registry

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"fenrir/internal/common"
	"fenrir/internal/durable"
	"fenrir/internal/engine"
)

func TestRegistryRoutesByInstrument(t *testing.T) {
	mem := durable.NewMemory()
	reg := New(mem, engine.NoopReporter{})
	ctx := context.Background()

	appl := common.NewOrder("alice", "AAPL", common.Buy, common.LimitOrder,
		decimal.NewNullDecimal(decimal.NewFromInt(100)), decimal.NewFromInt(10), "", time.Now())
	msft := common.NewOrder("bob", "MSFT", common.Sell, common.LimitOrder,
		decimal.NewNullDecimal(decimal.NewFromInt(200)), decimal.NewFromInt(5), "", time.Now())

	_, _, err := reg.Submit(ctx, &appl)
	require.NoError(t, err)
	_, _, err = reg.Submit(ctx, &msft)
	require.NoError(t, err)

	applSnap := reg.Snapshot("AAPL", 0)
	require.Len(t, applSnap.Bids, 1)
	require.Empty(t, applSnap.Asks)

	msftSnap := reg.Snapshot("MSFT", 0)
	require.Len(t, msftSnap.Asks, 1)
	require.Empty(t, msftSnap.Bids)
}

func TestRegistryRecoverRestsOpenOrdersWithoutMatching(t *testing.T) {
	mem := durable.NewMemory()
	ctx := context.Background()

	buy := common.NewOrder("alice", "AAPL", common.Buy, common.LimitOrder,
		decimal.NewNullDecimal(decimal.NewFromInt(100)), decimal.NewFromInt(10), "", time.Now())
	sell := common.NewOrder("bob", "AAPL", common.Sell, common.LimitOrder,
		decimal.NewNullDecimal(decimal.NewFromInt(90)), decimal.NewFromInt(5), "", time.Now())
	_, err := mem.PersistAccept(ctx, buy)
	require.NoError(t, err)
	_, err = mem.PersistAccept(ctx, sell)
	require.NoError(t, err)

	reg := New(mem, engine.NoopReporter{})
	require.NoError(t, reg.Recover(ctx))

	snap := reg.Snapshot("AAPL", 0)
	require.Len(t, snap.Bids, 1)
	require.Len(t, snap.Asks, 1)
}

func TestRegistryCancelUnknownOrderOnUnseenInstrumentFails(t *testing.T) {
	mem := durable.NewMemory()
	reg := New(mem, engine.NoopReporter{})

	_, err := reg.Cancel(context.Background(), "GOOG", uuid.New())
	require.Error(t, err)
}
