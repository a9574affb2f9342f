// Package durable implements the durability coordinator (C5): the
// transactional persistence protocol that keeps durable state consistent
// with in-memory state under concurrent order arrival, cancellation, and
// crash (§4.5). Coordinator is the seam the matcher (internal/engine)
// programs against; Postgres is the only production implementation, and
// an in-memory fake backs unit tests that must not depend on a database.
package durable

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"fenrir/internal/common"
)

// TradeUnit is the proposed content of one durability unit: a candidate
// match between an incoming and a resting order for up to Quantity, at
// Price (always the resting order's price, per §4.4 step d).
type TradeUnit struct {
	Instrument  common.Instrument
	IncomingID  uuid.UUID
	RestingID   uuid.UUID
	BuyOrderID  uuid.UUID
	SellOrderID uuid.UUID
	Price       decimal.Decimal
	Quantity    decimal.Decimal // the tentative match quantity computed in memory
}

// TradeUnitResult reports the outcome of a durability unit after the
// coordinator re-read both legs' remaining quantity under exclusion and
// reconciled it against the proposal (§4.4 step e).
type TradeUnitResult struct {
	// Committed is true iff a trade row was inserted and both order rows
	// were updated.
	Committed bool
	// Skew is true when the durable remaining on one or both legs had
	// already fallen below what the in-memory proposal assumed (a
	// concurrent unit or cancellation drained it) and the reconciled
	// quantity was zero, so nothing was committed.
	Skew bool

	Trade             common.Trade
	IncomingRemaining decimal.Decimal
	IncomingStatus    common.OrderStatus
	RestingRemaining  decimal.Decimal
	RestingStatus     common.OrderStatus
}

// AcceptResult reports the outcome of persisting a newly-submitted order.
type AcceptResult struct {
	Order common.Order
	// Replay is true when IdempotencyKey already had a winning row; Order
	// is that winning row, not a new insert (§7 Conflict, §9).
	Replay bool
}

// Coordinator is the transactional persistence contract used by the
// matcher (C4) and by InstrumentBook's lifecycle hooks (C3, §4.3).
type Coordinator interface {
	// PersistAccept inserts the order row atomically, enforcing
	// uniqueness on IdempotencyKey when present. On a losing race against
	// a concurrent submit with the same key, it returns the winner's row
	// with Replay=true instead of an error.
	PersistAccept(ctx context.Context, order common.Order) (AcceptResult, error)

	// PersistTradeUnit executes one durability unit: within a single
	// transaction it locks both order rows, re-reads their remaining
	// quantity, reconciles the proposed quantity against reality, inserts
	// the trade row, and updates both order rows. It returns
	// TransientError on lock contention or connection loss so the matcher
	// can retry a bounded number of times.
	PersistTradeUnit(ctx context.Context, unit TradeUnit) (TradeUnitResult, error)

	// PersistCancel exclusive-locks the order row and cancels it, or
	// returns a StateError if the order is already filled, already
	// cancelled, or unknown.
	PersistCancel(ctx context.Context, orderID uuid.UUID) (common.Order, error)

	// ReconcileRemaining reads the current durable remaining/status for
	// orderID and updates it to the minimum of that and proposedRemaining
	// — the finalization step of §4.4.3, defensive against a concurrent
	// cancellation of the same order.
	ReconcileRemaining(ctx context.Context, orderID uuid.UUID, proposedRemaining decimal.Decimal) (decimal.Decimal, common.OrderStatus, error)

	// LoadOpen returns every limit order with status in {open,
	// partially_filled} and a non-null price, ordered by CreatedAt
	// ascending, for boot-time recovery (§4.5 Recovery).
	LoadOpen(ctx context.Context) ([]common.Order, error)

	// TradesByOrder and TradesByInstrument serve the read-only query
	// surface of §6; they never touch the matcher.
	TradesByOrder(ctx context.Context, orderID uuid.UUID) ([]common.Trade, error)
	TradesByInstrument(ctx context.Context, instrument common.Instrument, limit int) ([]common.Trade, error)
}

// Clock lets tests and the Postgres implementation share the same "now"
// seam without pulling time.Now() into every call site.
type Clock func() time.Time
