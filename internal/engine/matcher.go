package engine

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"fenrir/internal/book"
	"fenrir/internal/common"
	"fenrir/internal/durable"
)

// maxTradeUnitAttempts bounds the retry loop on a TransientError from the
// durability coordinator (§4.4 step e): a contended durability unit (lock
// contention, connection loss) is attempted at most this many times, with
// no delay between attempts, before the matcher gives up and surfaces the
// error to the submitter. A skewed unit is not an error and is not retried
// here: it comes back as TradeUnitResult.Skew and the matching loop
// continues with the refreshed remaining quantities. Memory is never
// mutated on a path that might still retry, so a retry is always safe to
// redo from scratch.
const maxTradeUnitAttempts = 3

// matchOrder is the C4 matching algorithm. It is only ever called from
// drain(), so it owns the instrument's books exclusively for its duration.
//
// Shape: persist the accept, then repeatedly consume the opposite side's
// best price level while the incoming order still crosses it, persisting
// one durability unit per match and mutating memory only after that unit
// commits. Whatever quantity remains when the loop ends either rests (a
// limit order with remaining size) or is cancelled outright (a market
// order never rests, per §9).
func (ib *InstrumentBook) matchOrder(ctx context.Context, order *common.Order) (common.Order, []common.Trade, error) {
	if err := validateOrder(order); err != nil {
		return common.Order{}, nil, err
	}

	accepted, err := ib.coordinator.PersistAccept(ctx, *order)
	if err != nil {
		return common.Order{}, nil, err
	}
	if accepted.Replay {
		trades, err := ib.coordinator.TradesByOrder(ctx, accepted.Order.ID)
		if err != nil {
			return common.Order{}, nil, err
		}
		return accepted.Order, trades, nil
	}

	working := accepted.Order
	order = &working
	ib.reporter.ReportAck(*order)

	own := ib.sideFor(order.Side)
	opposite := ib.oppositeSide(order.Side)
	trades := make([]common.Trade, 0)

	for order.Remaining.Sign() > 0 {
		bestPrice, ok := opposite.BestPrice()
		if !ok {
			break
		}
		if order.Type == common.LimitOrder && !crosses(order.Side, order.Price.Decimal, bestPrice) {
			break
		}
		resting := opposite.PeekBestOrder()
		if resting == nil {
			break
		}

		qty := decimal.Min(order.Remaining, resting.Remaining)
		unit := durable.TradeUnit{
			Instrument: ib.Instrument,
			IncomingID: order.ID,
			RestingID:  resting.ID,
			Price:      bestPrice,
			Quantity:   qty,
		}
		if order.Side == common.Buy {
			unit.BuyOrderID, unit.SellOrderID = order.ID, resting.ID
		} else {
			unit.BuyOrderID, unit.SellOrderID = resting.ID, order.ID
		}

		result, err := ib.persistTradeUnit(ctx, unit)
		if err != nil {
			ib.reporter.ReportError(order.ClientID, err)
			return common.Order{}, nil, err
		}

		order.Remaining = result.IncomingRemaining
		order.Status = result.IncomingStatus
		resting.Remaining = result.RestingRemaining
		resting.Status = result.RestingStatus

		if result.Skew {
			// The durable remaining had already moved under us (a
			// concurrent cancellation in a multi-instance deployment);
			// memory now reflects reality and the loop retries with fresh
			// state rather than treating this as a match.
			if resting.Remaining.Sign() <= 0 {
				opposite.Remove(resting.ID, bestPrice)
			}
			continue
		}

		trades = append(trades, result.Trade)
		ib.reporter.ReportTrade(result.Trade, *order, *resting)

		if resting.Remaining.Sign() <= 0 {
			opposite.Remove(resting.ID, bestPrice)
		}
	}

	if order.Remaining.Sign() > 0 {
		if err := ib.settleResidue(ctx, order, own); err != nil {
			ib.reporter.ReportError(order.ClientID, err)
			return common.Order{}, nil, err
		}
	}

	return *order, trades, nil
}

// settleResidue disposes of whatever quantity is left once the matching
// loop can no longer cross: a limit order rests it, a market order's
// residue is cancelled rather than left exposed (§9, resolving the Open
// Question on unfilled market-order remainders).
func (ib *InstrumentBook) settleResidue(ctx context.Context, order *common.Order, own *book.SideBook) error {
	if order.Type == common.MarketOrder {
		cancelled, err := ib.coordinator.PersistCancel(ctx, order.ID)
		if err != nil {
			var stateErr *common.StateError
			if errors.As(err, &stateErr) {
				return nil
			}
			return err
		}
		*order = cancelled
		ib.reporter.ReportAck(*order)
		return nil
	}

	final, status, err := ib.coordinator.ReconcileRemaining(ctx, order.ID, order.Remaining)
	if err != nil {
		return err
	}
	order.Remaining = final
	order.Status = status
	if order.IsRestable() {
		own.Insert(order)
	}
	return nil
}

func (ib *InstrumentBook) persistTradeUnit(ctx context.Context, unit durable.TradeUnit) (durable.TradeUnitResult, error) {
	var lastErr error
	for attempt := 0; attempt < maxTradeUnitAttempts; attempt++ {
		result, err := ib.coordinator.PersistTradeUnit(ctx, unit)
		if err == nil {
			return result, nil
		}
		var transient *common.TransientError
		if !errors.As(err, &transient) {
			return durable.TradeUnitResult{}, err
		}
		lastErr = err
	}
	return durable.TradeUnitResult{}, lastErr
}

// crosses reports whether a limit order at limitPrice is marketable
// against a resting order at restingPrice on the opposite side.
func crosses(side common.Side, limitPrice, restingPrice decimal.Decimal) bool {
	if side == common.Buy {
		return limitPrice.Cmp(restingPrice) >= 0
	}
	return limitPrice.Cmp(restingPrice) <= 0
}

func validateOrder(order *common.Order) error {
	switch {
	case order.Quantity.Sign() <= 0:
		return &common.ValidationError{Field: "quantity", Reason: "must be positive"}
	case order.Type == common.LimitOrder && !order.Price.Valid:
		return &common.ValidationError{Field: "price", Reason: "required for a limit order"}
	case order.Type == common.MarketOrder && order.Price.Valid:
		return &common.ValidationError{Field: "price", Reason: "must be absent for a market order"}
	case order.Price.Valid && order.Price.Decimal.Sign() <= 0:
		return &common.ValidationError{Field: "price", Reason: "must be positive"}
	}
	return nil
}
