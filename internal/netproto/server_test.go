package netproto

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"fenrir/internal/cache"
	"fenrir/internal/common"
	"fenrir/internal/durable"
	"fenrir/internal/registry"
)

func newTestServer(t *testing.T) (*Server, *registry.Registry) {
	mem := durable.NewMemory()
	srv := New("127.0.0.1", 0, nil, mem)
	reg := registry.New(mem, srv)
	srv.SetHandler(reg)
	srv.SetSnapshots(cache.New(reg, nil, time.Second))
	return srv, reg
}

func TestServerDispatchSnapshotQuery(t *testing.T) {
	srv, reg := newTestServer(t)
	ctx := context.Background()

	buy := common.NewOrder("alice", "AAPL", common.Buy, common.LimitOrder,
		decimal.NewNullDecimal(decimal.NewFromInt(100)), decimal.NewFromInt(10), "", time.Now())
	_, _, err := reg.Submit(ctx, &buy)
	require.NoError(t, err)

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	done := make(chan struct{})
	go func() {
		env, err := ReadFrame(client)
		require.NoError(t, err)
		require.Equal(t, TypeSnapshotQuery, env.Type)
		srv.dispatch(ctx, client, env)
		close(done)
	}()

	go func() {
		require.NoError(t, WriteFrame(server, TypeSnapshotQuery, SnapshotQuery{Instrument: "AAPL", Depth: 0}))
	}()

	// net.Pipe is unbuffered: dispatch's reply must be read before it returns.
	resultEnv, err := ReadFrame(server)
	require.NoError(t, err)
	<-done
	require.Equal(t, TypeSnapshotResult, resultEnv.Type)

	var resp SnapshotResult
	require.NoError(t, decodeInto(resultEnv, &resp))
	require.Equal(t, "AAPL", resp.Instrument)
	require.Len(t, resp.Bids, 1)
	require.Empty(t, resp.Asks)
}

func TestServerDispatchTradesQuery(t *testing.T) {
	srv, reg := newTestServer(t)
	ctx := context.Background()

	sell := common.NewOrder("alice", "AAPL", common.Sell, common.LimitOrder,
		decimal.NewNullDecimal(decimal.NewFromInt(100)), decimal.NewFromInt(5), "", time.Now())
	_, _, err := reg.Submit(ctx, &sell)
	require.NoError(t, err)
	buy := common.NewOrder("bob", "AAPL", common.Buy, common.LimitOrder,
		decimal.NewNullDecimal(decimal.NewFromInt(100)), decimal.NewFromInt(5), "", time.Now())
	_, trades, err := reg.Submit(ctx, &buy)
	require.NoError(t, err)
	require.Len(t, trades, 1)

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	done := make(chan struct{})
	go func() {
		env, err := ReadFrame(client)
		require.NoError(t, err)
		srv.dispatch(ctx, client, env)
		close(done)
	}()

	go func() {
		require.NoError(t, WriteFrame(server, TypeTradesQuery, TradesQuery{Instrument: "AAPL", Limit: 10}))
	}()

	// net.Pipe is unbuffered: dispatch's reply must be read before it returns.
	resultEnv, err := ReadFrame(server)
	require.NoError(t, err)
	<-done
	require.Equal(t, TypeTradesResult, resultEnv.Type)

	var resp TradesResult
	require.NoError(t, decodeInto(resultEnv, &resp))
	require.Len(t, resp.Trades, 1)
}

func decodeInto(env Envelope, v any) error {
	return json.Unmarshal(env.Payload, v)
}
