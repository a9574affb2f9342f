package engine

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"fenrir/internal/book"
	"fenrir/internal/common"
	"fenrir/internal/durable"
)

// InstrumentBook owns one instrument's two side books, its arrival queue,
// and the serialization token that guarantees at most one logical matcher
// is active for this instrument at any time (C3, §3, §5).
//
// The queue + matcherActive pair is the "single-consumer wakeup" latch
// described in §5: Submit/Cancel enqueue a task, then test-and-set
// matcherActive under mu. The winner launches drain(); everyone else's
// task is picked up by that already-running drain loop. drain() only
// returns once it observes the queue empty while still holding mu, which
// is exactly what rules out the lost-wakeup race.
type InstrumentBook struct {
	Instrument common.Instrument
	Bids       *book.SideBook
	Asks       *book.SideBook

	coordinator durable.Coordinator
	reporter    Reporter
	logger      zerolog.Logger

	mu            sync.Mutex
	queue         []task
	matcherActive bool
}

type taskKind int

const (
	taskSubmit taskKind = iota
	taskCancel
)

type task struct {
	kind       taskKind
	order      *common.Order
	cancelID   uuid.UUID
	submitDone chan submitResult
	cancelDone chan cancelResult
}

type submitResult struct {
	order  common.Order
	trades []common.Trade
	err    error
}

type cancelResult struct {
	order common.Order
	err   error
}

// NewInstrumentBook constructs an empty book for instrument. reporter may
// be nil, in which case reports are discarded.
func NewInstrumentBook(instrument common.Instrument, coordinator durable.Coordinator, reporter Reporter) *InstrumentBook {
	if reporter == nil {
		reporter = NoopReporter{}
	}
	return &InstrumentBook{
		Instrument:  instrument,
		Bids:        book.NewSideBook(common.Buy),
		Asks:        book.NewSideBook(common.Sell),
		coordinator: coordinator,
		reporter:    reporter,
		logger:      log.With().Str("component", "engine.instrument").Str("instrument", string(instrument)).Logger(),
	}
}

// Restore inserts a recovered order directly into the appropriate side
// book without matching (§4.5 Recovery: durable state is assumed
// quiescent). Callers must present orders in CreatedAt order and must not
// call Restore concurrently with Submit/Cancel on the same book.
func (ib *InstrumentBook) Restore(order *common.Order) {
	if !order.IsRestable() {
		return
	}
	ib.sideFor(order.Side).Insert(order)
}

func (ib *InstrumentBook) sideFor(side common.Side) *book.SideBook {
	if side == common.Buy {
		return ib.Bids
	}
	return ib.Asks
}

func (ib *InstrumentBook) oppositeSide(side common.Side) *book.SideBook {
	if side == common.Buy {
		return ib.Asks
	}
	return ib.Bids
}

// Submit enqueues order and waits for the result of processing it: the
// accepted/updated order snapshot and every trade produced as a direct
// consequence of this submission (§6).
func (ib *InstrumentBook) Submit(ctx context.Context, order *common.Order) (common.Order, []common.Trade, error) {
	done := make(chan submitResult, 1)
	ib.enqueue(task{kind: taskSubmit, order: order, submitDone: done})
	select {
	case res := <-done:
		return res.order, res.trades, res.err
	case <-ctx.Done():
		return common.Order{}, nil, ctx.Err()
	}
}

// Cancel enqueues a cancel request for orderID and waits for its outcome.
func (ib *InstrumentBook) Cancel(ctx context.Context, orderID uuid.UUID) (common.Order, error) {
	done := make(chan cancelResult, 1)
	ib.enqueue(task{kind: taskCancel, cancelID: orderID, cancelDone: done})
	select {
	case res := <-done:
		return res.order, res.err
	case <-ctx.Done():
		return common.Order{}, ctx.Err()
	}
}

func (ib *InstrumentBook) enqueue(t task) {
	ib.mu.Lock()
	ib.queue = append(ib.queue, t)
	launch := !ib.matcherActive
	if launch {
		ib.matcherActive = true
	}
	ib.mu.Unlock()

	if launch {
		go ib.drain()
	}
}

// drain is the single active matcher for this instrument. It exits only
// when it observes the queue empty while holding mu.
func (ib *InstrumentBook) drain() {
	ctx := context.Background()
	for {
		ib.mu.Lock()
		if len(ib.queue) == 0 {
			ib.matcherActive = false
			ib.mu.Unlock()
			return
		}
		t := ib.queue[0]
		ib.queue = ib.queue[1:]
		ib.mu.Unlock()

		switch t.kind {
		case taskSubmit:
			order, trades, err := ib.matchOrder(ctx, t.order)
			t.submitDone <- submitResult{order: order, trades: trades, err: err}
		case taskCancel:
			order, err := ib.cancel(ctx, t.cancelID)
			t.cancelDone <- cancelResult{order: order, err: err}
		}
	}
}

// cancel implements §4.3 Cancel: persist first, then mutate memory only on
// success. A non-resting order (filled, already cancelled, unknown)
// returns a StateError without touching memory.
func (ib *InstrumentBook) cancel(ctx context.Context, orderID uuid.UUID) (common.Order, error) {
	order, err := ib.coordinator.PersistCancel(ctx, orderID)
	if err != nil {
		return common.Order{}, err
	}
	if order.Price.Valid {
		ib.sideFor(order.Side).Remove(orderID, order.Price.Decimal)
	}
	ib.reporter.ReportAck(order)
	return order, nil
}
