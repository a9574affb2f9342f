// Package netproto is the wire protocol between cmd/client and cmd/server:
// length-prefixed JSON frames. The teacher's internal/net/messages.go used
// a fixed-width binary layout with math.Float64bits for price — exactly
// the binary-float price representation a decimal-safe book cannot carry
// through the wire without losing precision, so prices here travel as
// shopspring/decimal values, which marshal to JSON as an exact-precision
// numeral rather than a float64 approximation.
package netproto

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"fenrir/internal/common"
)

// MessageType discriminates the JSON payload carried by an Envelope.
type MessageType string

const (
	TypeNewOrder        MessageType = "new_order"
	TypeCancelOrder     MessageType = "cancel_order"
	TypeSnapshotQuery   MessageType = "snapshot_query"
	TypeSnapshotResult  MessageType = "snapshot_result"
	TypeTradesQuery     MessageType = "trades_query"
	TypeTradesResult    MessageType = "trades_result"
	TypeAck             MessageType = "ack"
	TypeTrade           MessageType = "trade"
	TypeError           MessageType = "error"
)

// maxFrameLen guards against a malicious or corrupt length prefix
// demanding an unreasonable allocation.
const maxFrameLen = 1 << 20

var ErrFrameTooLarge = errors.New("netproto: frame exceeds maximum length")

// Envelope is the outer shape of every frame: a type tag plus a
// type-specific JSON payload, deferred-decoded by the caller once it
// knows which struct to decode into.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// WriteFrame serializes v as payload bytes, wraps it in an Envelope of the
// given type, and writes a 4-byte big-endian length prefix followed by the
// JSON bytes.
func WriteFrame(w io.Writer, msgType MessageType, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("netproto: marshal payload: %w", err)
	}
	body, err := json.Marshal(Envelope{Type: msgType, Payload: payload})
	if err != nil {
		return fmt.Errorf("netproto: marshal envelope: %w", err)
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

// ReadFrame blocks until a full frame is available on r and returns its
// envelope.
func ReadFrame(r io.Reader) (Envelope, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Envelope{}, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameLen {
		return Envelope{}, ErrFrameTooLarge
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return Envelope{}, err
	}
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("netproto: unmarshal envelope: %w", err)
	}
	return env, nil
}

// NewOrderRequest is the payload of a TypeNewOrder frame.
type NewOrderRequest struct {
	ClientID       string           `json:"client_id"`
	Instrument     string           `json:"instrument"`
	Side           string           `json:"side"`       // "buy" | "sell"
	OrderType      string           `json:"order_type"` // "limit" | "market"
	Price          *decimal.Decimal `json:"price,omitempty"`
	Quantity       decimal.Decimal  `json:"quantity"`
	IdempotencyKey string           `json:"idempotency_key,omitempty"`
}

// Order converts the wire request into a domain order, stamped with now.
func (r NewOrderRequest) Order(now time.Time) (common.Order, error) {
	side, err := parseSide(r.Side)
	if err != nil {
		return common.Order{}, err
	}
	orderType, err := parseOrderType(r.OrderType)
	if err != nil {
		return common.Order{}, err
	}
	price := decimal.NullDecimal{}
	if r.Price != nil {
		price = decimal.NewNullDecimal(*r.Price)
	}
	return common.NewOrder(r.ClientID, common.Instrument(r.Instrument), side, orderType, price, r.Quantity, r.IdempotencyKey, now), nil
}

func parseSide(s string) (common.Side, error) {
	switch s {
	case "buy":
		return common.Buy, nil
	case "sell":
		return common.Sell, nil
	default:
		return 0, &common.ValidationError{Field: "side", Reason: "must be \"buy\" or \"sell\""}
	}
}

func parseOrderType(s string) (common.OrderType, error) {
	switch s {
	case "limit":
		return common.LimitOrder, nil
	case "market":
		return common.MarketOrder, nil
	default:
		return 0, &common.ValidationError{Field: "order_type", Reason: "must be \"limit\" or \"market\""}
	}
}

// CancelOrderRequest is the payload of a TypeCancelOrder frame.
type CancelOrderRequest struct {
	Instrument string    `json:"instrument"`
	OrderID    uuid.UUID `json:"order_id"`
}

// OrderDTO is the wire representation of common.Order.
type OrderDTO struct {
	ID         uuid.UUID        `json:"id"`
	ClientID   string           `json:"client_id"`
	Instrument string           `json:"instrument"`
	Side       string           `json:"side"`
	OrderType  string           `json:"order_type"`
	Price      *decimal.Decimal `json:"price,omitempty"`
	Quantity   decimal.Decimal  `json:"quantity"`
	Remaining  decimal.Decimal  `json:"remaining"`
	Status     string           `json:"status"`
}

func NewOrderDTO(o common.Order) OrderDTO {
	dto := OrderDTO{
		ID:         o.ID,
		ClientID:   o.ClientID,
		Instrument: string(o.Instrument),
		Side:       o.Side.String(),
		OrderType:  o.Type.String(),
		Quantity:   o.Quantity,
		Remaining:  o.Remaining,
		Status:     o.Status.String(),
	}
	if o.Price.Valid {
		dto.Price = &o.Price.Decimal
	}
	return dto
}

// TradeDTO is the wire representation of common.Trade.
type TradeDTO struct {
	ID          uuid.UUID       `json:"id"`
	BuyOrderID  uuid.UUID       `json:"buy_order_id"`
	SellOrderID uuid.UUID       `json:"sell_order_id"`
	Instrument  string          `json:"instrument"`
	Price       decimal.Decimal `json:"price"`
	Quantity    decimal.Decimal `json:"quantity"`
	TradedAt    time.Time       `json:"traded_at"`
}

func NewTradeDTO(t common.Trade) TradeDTO {
	return TradeDTO{
		ID:          t.ID,
		BuyOrderID:  t.BuyOrderID,
		SellOrderID: t.SellOrderID,
		Instrument:  string(t.Instrument),
		Price:       t.Price,
		Quantity:    t.Quantity,
		TradedAt:    t.TradedAt,
	}
}

// AckReport is sent when an order is accepted and when it is cancelled,
// so a client can track its own order's lifecycle. Fills arrive as
// TradeReport; an order coming to rest in the book sends no separate ack.
type AckReport struct {
	Order OrderDTO `json:"order"`
}

// TradeReport is sent to both counterparties of a trade, each from their
// own perspective via Self/Counterparty.
type TradeReport struct {
	Trade        TradeDTO `json:"trade"`
	Self         OrderDTO `json:"self"`
	Counterparty OrderDTO `json:"counterparty"`
}

// ErrorReport carries a client-visible error.
type ErrorReport struct {
	Message string `json:"message"`
}

// SnapshotQuery asks for the current book depth for one instrument — the
// read-only query surface of §6, carried over the same ingress rather
// than a separate HTTP API (explicitly out of scope).
type SnapshotQuery struct {
	Instrument string `json:"instrument"`
	Depth      int    `json:"depth"`
}

// LevelDTO is the wire representation of book.LevelDepth.
type LevelDTO struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Orders   int             `json:"orders"`
}

// SnapshotResult answers a SnapshotQuery.
type SnapshotResult struct {
	Instrument string     `json:"instrument"`
	Bids       []LevelDTO `json:"bids"`
	Asks       []LevelDTO `json:"asks"`
}

// TradesQuery asks for recent trades on one instrument.
type TradesQuery struct {
	Instrument string `json:"instrument"`
	Limit      int    `json:"limit"`
}

// TradesResult answers a TradesQuery.
type TradesResult struct {
	Trades []TradeDTO `json:"trades"`
}
