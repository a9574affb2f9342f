package durable

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"fenrir/internal/common"
)

// Memory is an in-memory Coordinator used by unit tests that exercise the
// matcher's transactional protocol without a database. It preserves the
// same locking discipline (a single mutex standing in for row locks) and
// the same reconciliation semantics as the Postgres implementation.
type Memory struct {
	mu     sync.Mutex
	orders map[uuid.UUID]common.Order
	trades []common.Trade
	byKey  map[string]uuid.UUID
	now    Clock
}

func NewMemory() *Memory {
	return &Memory{
		orders: make(map[uuid.UUID]common.Order),
		byKey:  make(map[string]uuid.UUID),
		now:    time.Now,
	}
}

// WithClock overrides the time source, useful for deterministic tests.
func (m *Memory) WithClock(clock Clock) *Memory {
	m.now = clock
	return m
}

func (m *Memory) PersistAccept(_ context.Context, order common.Order) (AcceptResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if order.IdempotencyKey != "" {
		if existingID, ok := m.byKey[order.IdempotencyKey]; ok {
			return AcceptResult{Order: m.orders[existingID], Replay: true}, nil
		}
	}
	m.orders[order.ID] = order
	if order.IdempotencyKey != "" {
		m.byKey[order.IdempotencyKey] = order.ID
	}
	return AcceptResult{Order: order}, nil
}

func (m *Memory) PersistTradeUnit(_ context.Context, unit TradeUnit) (TradeUnitResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	incoming, ok := m.orders[unit.IncomingID]
	if !ok {
		return TradeUnitResult{Skew: true}, nil
	}
	resting, ok := m.orders[unit.RestingID]
	if !ok {
		return TradeUnitResult{Skew: true}, nil
	}

	qty := decimal.Min(unit.Quantity, incoming.Remaining, resting.Remaining)
	if qty.Sign() <= 0 {
		return TradeUnitResult{
			Skew:              true,
			IncomingRemaining: incoming.Remaining,
			IncomingStatus:    incoming.Status,
			RestingRemaining:  resting.Remaining,
			RestingStatus:     resting.Status,
		}, nil
	}

	incoming.ApplyFill(qty)
	resting.ApplyFill(qty)
	incoming.UpdatedAt = m.now()
	resting.UpdatedAt = m.now()
	m.orders[unit.IncomingID] = incoming
	m.orders[unit.RestingID] = resting

	trade := common.Trade{
		ID:          uuid.New(),
		BuyOrderID:  unit.BuyOrderID,
		SellOrderID: unit.SellOrderID,
		Instrument:  unit.Instrument,
		Price:       unit.Price,
		Quantity:    qty,
		TradedAt:    m.now(),
	}
	m.trades = append(m.trades, trade)

	return TradeUnitResult{
		Committed:         true,
		Trade:             trade,
		IncomingRemaining: incoming.Remaining,
		IncomingStatus:    incoming.Status,
		RestingRemaining:  resting.Remaining,
		RestingStatus:     resting.Status,
	}, nil
}

func (m *Memory) PersistCancel(_ context.Context, orderID uuid.UUID) (common.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[orderID]
	if !ok {
		return common.Order{}, &common.StateError{OrderID: orderID.String(), Reason: "unknown order"}
	}
	if order.Status == common.Filled {
		return common.Order{}, &common.StateError{OrderID: orderID.String(), Reason: "already filled"}
	}
	if order.Status == common.Cancelled {
		return common.Order{}, &common.StateError{OrderID: orderID.String(), Reason: "already cancelled"}
	}
	order.Status = common.Cancelled
	order.UpdatedAt = m.now()
	m.orders[orderID] = order
	return order, nil
}

func (m *Memory) ReconcileRemaining(_ context.Context, orderID uuid.UUID, proposedRemaining decimal.Decimal) (decimal.Decimal, common.OrderStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[orderID]
	if !ok {
		return decimal.Zero, common.Cancelled, &common.StateError{OrderID: orderID.String(), Reason: "unknown order"}
	}
	if order.Status == common.Cancelled {
		return order.Remaining, order.Status, nil
	}
	final := decimal.Min(order.Remaining, proposedRemaining)
	order.Remaining = final
	switch {
	case final.Sign() <= 0:
		order.Status = common.Filled
	case final.Equal(order.Quantity):
		order.Status = common.Open
	default:
		order.Status = common.PartiallyFilled
	}
	order.UpdatedAt = m.now()
	m.orders[orderID] = order
	return order.Remaining, order.Status, nil
}

func (m *Memory) LoadOpen(_ context.Context) ([]common.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]common.Order, 0)
	for _, o := range m.orders {
		if (o.Status == common.Open || o.Status == common.PartiallyFilled) && o.Type == common.LimitOrder && o.Price.Valid {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) TradesByOrder(_ context.Context, orderID uuid.UUID) ([]common.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]common.Trade, 0)
	for _, t := range m.trades {
		if t.BuyOrderID == orderID || t.SellOrderID == orderID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *Memory) TradesByInstrument(_ context.Context, instrument common.Instrument, limit int) ([]common.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]common.Trade, 0)
	for _, t := range m.trades {
		if t.Instrument == instrument {
			out = append(out, t)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

var _ Coordinator = (*Memory)(nil)
