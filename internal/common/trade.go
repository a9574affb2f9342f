package common

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Trade is immutable once created. Price is always the resting order's
// price at the moment of the match (§4.4, step d); Quantity is positive.
type Trade struct {
	ID          uuid.UUID
	BuyOrderID  uuid.UUID
	SellOrderID uuid.UUID
	Instrument  Instrument
	Price       decimal.Decimal
	Quantity    decimal.Decimal
	TradedAt    time.Time
}

func (t Trade) String() string {
	return fmt.Sprintf(
		"Trade{id=%s instrument=%s buy=%s sell=%s price=%s qty=%s at=%s}",
		t.ID, t.Instrument, t.BuyOrderID, t.SellOrderID, t.Price, t.Quantity,
		t.TradedAt.Format(time.RFC3339Nano),
	)
}
