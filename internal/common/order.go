package common

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order is the durable unit of client intent. Price and Quantity arrive as
// client-supplied decimals and are never widened to binary floats on any
// path that can reach durable storage or a trade price.
type Order struct {
	ID             uuid.UUID
	ClientID       string
	Instrument     Instrument
	Side           Side
	Type           OrderType
	Price          decimal.NullDecimal // required for LimitOrder, absent for MarketOrder
	Quantity       decimal.Decimal     // original submitted size, immutable after creation
	Remaining      decimal.Decimal     // 0 <= Remaining <= Quantity, monotonically non-increasing
	Status         OrderStatus
	IdempotencyKey string // optional, unique across all orders when present
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewOrder constructs an order in its initial accepted state. Remaining
// starts equal to Quantity per the data model invariant.
func NewOrder(clientID string, instrument Instrument, side Side, typ OrderType, price decimal.NullDecimal, quantity decimal.Decimal, idempotencyKey string, now time.Time) Order {
	return Order{
		ID:             uuid.New(),
		ClientID:       clientID,
		Instrument:     instrument,
		Side:           side,
		Type:           typ,
		Price:          price,
		Quantity:       quantity,
		Remaining:      quantity,
		Status:         Open,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// IsRestable reports whether the order is eligible to sit in a side book:
// a limit order, still open or partially filled, with remaining size and a
// price.
func (o Order) IsRestable() bool {
	return o.Type == LimitOrder &&
		(o.Status == Open || o.Status == PartiallyFilled) &&
		o.Remaining.Sign() > 0 &&
		o.Price.Valid
}

// ApplyFill mutates Remaining/Status in lockstep: Remaining only ever
// decreases, and Status always reflects Remaining exactly.
func (o *Order) ApplyFill(qty decimal.Decimal) {
	o.Remaining = o.Remaining.Sub(qty)
	if o.Remaining.Sign() <= 0 {
		o.Remaining = decimal.Zero
		o.Status = Filled
	} else {
		o.Status = PartiallyFilled
	}
}

func (o Order) String() string {
	price := "-"
	if o.Price.Valid {
		price = o.Price.Decimal.String()
	}
	return fmt.Sprintf(
		"Order{id=%s client=%s instrument=%s side=%s type=%s price=%s qty=%s remaining=%s status=%s}",
		o.ID, o.ClientID, o.Instrument, o.Side, o.Type, price, o.Quantity, o.Remaining, o.Status,
	)
}
