package durable

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"fenrir/internal/common"
)

const uniqueViolation = "23505"

// Postgres is the production Coordinator (C5). Grounded in the market-data
// repo's internal/infrastructure/instruments/repository.go: a *pgxpool.Pool,
// hand-written SQL, and explicit pgx.Tx boundaries — chosen over
// gorm.io/gorm because §4.5's row-locking protocol needs SELECT ... FOR
// UPDATE inside a caller-controlled transaction, which raw pgx exposes
// directly.
type Postgres struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
	now    Clock
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{
		pool:   pool,
		logger: log.With().Str("component", "durable.postgres").Logger(),
		now:    time.Now,
	}
}

// Migrate applies Schema. Failure here is fatal at boot (§7).
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, Schema); err != nil {
		p.logger.Error().Err(err).Msg("schema migration failed")
		return &common.FatalError{Op: "migrate", Err: err}
	}
	p.logger.Info().Msg("schema migrated")
	return nil
}

func (p *Postgres) PersistAccept(ctx context.Context, order common.Order) (AcceptResult, error) {
	const insert = `
		INSERT INTO orders (id, client_id, instrument, side, type, price, quantity, remaining, status, idempotency_key, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NULLIF($10,''),$11,$12)`

	_, err := p.pool.Exec(ctx, insert,
		order.ID, order.ClientID, string(order.Instrument), int16(order.Side), int16(order.Type),
		nullableDecimal(order.Price), order.Quantity, order.Remaining, int16(order.Status),
		order.IdempotencyKey, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && order.IdempotencyKey != "" {
			existing, findErr := p.findByIdempotencyKey(ctx, order.IdempotencyKey)
			if findErr != nil {
				return AcceptResult{}, &common.TransientError{Op: "persist_accept.replay_lookup", Err: findErr}
			}
			return AcceptResult{Order: existing, Replay: true}, nil
		}
		return AcceptResult{}, &common.TransientError{Op: "persist_accept", Err: err}
	}
	return AcceptResult{Order: order}, nil
}

func (p *Postgres) findByIdempotencyKey(ctx context.Context, key string) (common.Order, error) {
	const query = orderColumns + ` FROM orders WHERE idempotency_key = $1`
	row := p.pool.QueryRow(ctx, query, key)
	return scanOrder(row)
}

func (p *Postgres) PersistTradeUnit(ctx context.Context, unit TradeUnit) (TradeUnitResult, error) {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return TradeUnitResult{}, &common.TransientError{Op: "persist_trade_unit.begin", Err: err}
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Lock both rows in a fixed order (ascending id) so two concurrent
	// units touching the same pair of orders never deadlock.
	firstID, secondID := unit.IncomingID, unit.RestingID
	if bytesLess(secondID, firstID) {
		firstID, secondID = secondID, firstID
	}
	locked := make(map[uuid.UUID]lockedOrder, 2)
	for _, id := range []uuid.UUID{firstID, secondID} {
		lo, err := lockOrderForUpdate(ctx, tx, id)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return TradeUnitResult{Skew: true}, nil
			}
			return TradeUnitResult{}, &common.TransientError{Op: "persist_trade_unit.lock", Err: err}
		}
		locked[id] = lo
	}

	incoming := locked[unit.IncomingID]
	resting := locked[unit.RestingID]

	qty := decimal.Min(unit.Quantity, incoming.remaining, resting.remaining)
	if qty.Sign() <= 0 {
		return TradeUnitResult{
			Skew:              true,
			IncomingRemaining: incoming.remaining,
			IncomingStatus:    incoming.status,
			RestingRemaining:  resting.remaining,
			RestingStatus:     resting.status,
		}, nil
	}

	newIncomingRemaining := incoming.remaining.Sub(qty)
	newRestingRemaining := resting.remaining.Sub(qty)
	newIncomingStatus := statusFor(newIncomingRemaining, incoming.quantity)
	newRestingStatus := statusFor(newRestingRemaining, resting.quantity)

	now := p.now()
	trade := common.Trade{
		ID:          uuid.New(),
		BuyOrderID:  unit.BuyOrderID,
		SellOrderID: unit.SellOrderID,
		Instrument:  unit.Instrument,
		Price:       unit.Price,
		Quantity:    qty,
		TradedAt:    now,
	}

	const insertTrade = `
		INSERT INTO trades (id, buy_order_id, sell_order_id, instrument, price, quantity, traded_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`
	if _, err := tx.Exec(ctx, insertTrade, trade.ID, trade.BuyOrderID, trade.SellOrderID, string(trade.Instrument), trade.Price, trade.Quantity, trade.TradedAt); err != nil {
		return TradeUnitResult{}, &common.TransientError{Op: "persist_trade_unit.insert_trade", Err: err}
	}

	if err := updateRemaining(ctx, tx, unit.IncomingID, newIncomingRemaining, newIncomingStatus, now); err != nil {
		return TradeUnitResult{}, &common.TransientError{Op: "persist_trade_unit.update_incoming", Err: err}
	}
	if err := updateRemaining(ctx, tx, unit.RestingID, newRestingRemaining, newRestingStatus, now); err != nil {
		return TradeUnitResult{}, &common.TransientError{Op: "persist_trade_unit.update_resting", Err: err}
	}

	if err := tx.Commit(ctx); err != nil {
		return TradeUnitResult{}, &common.TransientError{Op: "persist_trade_unit.commit", Err: err}
	}

	return TradeUnitResult{
		Committed:         true,
		Trade:             trade,
		IncomingRemaining: newIncomingRemaining,
		IncomingStatus:    newIncomingStatus,
		RestingRemaining:  newRestingRemaining,
		RestingStatus:     newRestingStatus,
	}, nil
}

func (p *Postgres) PersistCancel(ctx context.Context, orderID uuid.UUID) (common.Order, error) {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return common.Order{}, &common.TransientError{Op: "persist_cancel.begin", Err: err}
	}
	defer func() { _ = tx.Rollback(ctx) }()

	lo, err := lockOrderForUpdate(ctx, tx, orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return common.Order{}, &common.StateError{OrderID: orderID.String(), Reason: "unknown order"}
		}
		return common.Order{}, &common.TransientError{Op: "persist_cancel.lock", Err: err}
	}
	if lo.status == common.Filled {
		return common.Order{}, &common.StateError{OrderID: orderID.String(), Reason: "already filled"}
	}
	if lo.status == common.Cancelled {
		return common.Order{}, &common.StateError{OrderID: orderID.String(), Reason: "already cancelled"}
	}

	now := p.now()
	const update = `UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1`
	if _, err := tx.Exec(ctx, update, orderID, int16(common.Cancelled), now); err != nil {
		return common.Order{}, &common.TransientError{Op: "persist_cancel.update", Err: err}
	}

	const query = orderColumns + ` FROM orders WHERE id = $1`
	row := tx.QueryRow(ctx, query, orderID)
	order, err := scanOrder(row)
	if err != nil {
		return common.Order{}, &common.TransientError{Op: "persist_cancel.reload", Err: err}
	}

	if err := tx.Commit(ctx); err != nil {
		return common.Order{}, &common.TransientError{Op: "persist_cancel.commit", Err: err}
	}
	return order, nil
}

func (p *Postgres) ReconcileRemaining(ctx context.Context, orderID uuid.UUID, proposedRemaining decimal.Decimal) (decimal.Decimal, common.OrderStatus, error) {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return decimal.Zero, 0, &common.TransientError{Op: "reconcile.begin", Err: err}
	}
	defer func() { _ = tx.Rollback(ctx) }()

	lo, err := lockOrderForUpdate(ctx, tx, orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, 0, &common.StateError{OrderID: orderID.String(), Reason: "unknown order"}
		}
		return decimal.Zero, 0, &common.TransientError{Op: "reconcile.lock", Err: err}
	}
	if lo.status == common.Cancelled {
		if err := tx.Commit(ctx); err != nil {
			return decimal.Zero, 0, &common.TransientError{Op: "reconcile.commit", Err: err}
		}
		return lo.remaining, lo.status, nil
	}

	final := decimal.Min(lo.remaining, proposedRemaining)
	status := statusFor(final, lo.quantity)
	now := p.now()
	if err := updateRemaining(ctx, tx, orderID, final, status, now); err != nil {
		return decimal.Zero, 0, &common.TransientError{Op: "reconcile.update", Err: err}
	}
	if err := tx.Commit(ctx); err != nil {
		return decimal.Zero, 0, &common.TransientError{Op: "reconcile.commit", Err: err}
	}
	return final, status, nil
}

func (p *Postgres) LoadOpen(ctx context.Context) ([]common.Order, error) {
	const query = orderColumns + `
		FROM orders
		WHERE type = $1 AND status IN ($2, $3) AND price IS NOT NULL
		ORDER BY created_at ASC`

	rows, err := p.pool.Query(ctx, query, int16(common.LimitOrder), int16(common.Open), int16(common.PartiallyFilled))
	if err != nil {
		return nil, &common.FatalError{Op: "load_open", Err: err}
	}
	defer rows.Close()

	var out []common.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, &common.FatalError{Op: "load_open.scan", Err: err}
		}
		out = append(out, order)
	}
	if err := rows.Err(); err != nil {
		return nil, &common.FatalError{Op: "load_open.rows", Err: err}
	}
	return out, nil
}

func (p *Postgres) TradesByOrder(ctx context.Context, orderID uuid.UUID) ([]common.Trade, error) {
	const query = `
		SELECT id, buy_order_id, sell_order_id, instrument, price, quantity, traded_at
		FROM trades WHERE buy_order_id = $1 OR sell_order_id = $1
		ORDER BY traded_at ASC`
	rows, err := p.pool.Query(ctx, query, orderID)
	if err != nil {
		return nil, &common.TransientError{Op: "trades_by_order", Err: err}
	}
	defer rows.Close()
	return scanTrades(rows)
}

func (p *Postgres) TradesByInstrument(ctx context.Context, instrument common.Instrument, limit int) ([]common.Trade, error) {
	query := `
		SELECT id, buy_order_id, sell_order_id, instrument, price, quantity, traded_at
		FROM trades WHERE instrument = $1
		ORDER BY traded_at DESC`
	args := []any{string(instrument)}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, &common.TransientError{Op: "trades_by_instrument", Err: err}
	}
	defer rows.Close()
	return scanTrades(rows)
}

// --- shared scan/lock helpers -----------------------------------------

const orderColumns = `SELECT id, client_id, instrument, side, type, price, quantity, remaining, status, COALESCE(idempotency_key, ''), created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (common.Order, error) {
	var (
		o          common.Order
		instrument string
		side, typ  int16
		status     int16
		price      *decimal.Decimal
	)
	if err := row.Scan(&o.ID, &o.ClientID, &instrument, &side, &typ, &price, &o.Quantity, &o.Remaining, &status, &o.IdempotencyKey, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return common.Order{}, err
	}
	o.Instrument = common.Instrument(instrument)
	o.Side = common.Side(side)
	o.Type = common.OrderType(typ)
	o.Status = common.OrderStatus(status)
	if price != nil {
		o.Price = decimal.NewNullDecimal(*price)
	}
	return o, nil
}

func scanTrades(rows pgx.Rows) ([]common.Trade, error) {
	var out []common.Trade
	for rows.Next() {
		var t common.Trade
		var instrument string
		if err := rows.Scan(&t.ID, &t.BuyOrderID, &t.SellOrderID, &instrument, &t.Price, &t.Quantity, &t.TradedAt); err != nil {
			return nil, &common.TransientError{Op: "scan_trade", Err: err}
		}
		t.Instrument = common.Instrument(instrument)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, &common.TransientError{Op: "scan_trades.rows", Err: err}
	}
	return out, nil
}

type lockedOrder struct {
	quantity  decimal.Decimal
	remaining decimal.Decimal
	status    common.OrderStatus
}

func lockOrderForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (lockedOrder, error) {
	const query = `SELECT quantity, remaining, status FROM orders WHERE id = $1 FOR UPDATE`
	var lo lockedOrder
	var status int16
	if err := tx.QueryRow(ctx, query, id).Scan(&lo.quantity, &lo.remaining, &status); err != nil {
		return lockedOrder{}, err
	}
	lo.status = common.OrderStatus(status)
	return lo, nil
}

func updateRemaining(ctx context.Context, tx pgx.Tx, id uuid.UUID, remaining decimal.Decimal, status common.OrderStatus, now time.Time) error {
	const update = `UPDATE orders SET remaining = $2, status = $3, updated_at = $4 WHERE id = $1`
	_, err := tx.Exec(ctx, update, id, remaining, int16(status), now)
	return err
}

// statusFor derives an order's status from its remaining quantity against
// its original quantity: untouched (remaining == quantity) stays Open,
// fully consumed becomes Filled, anything in between is PartiallyFilled.
func statusFor(remaining, quantity decimal.Decimal) common.OrderStatus {
	switch {
	case remaining.Sign() <= 0:
		return common.Filled
	case remaining.Equal(quantity):
		return common.Open
	default:
		return common.PartiallyFilled
	}
}

func nullableDecimal(nd decimal.NullDecimal) *decimal.Decimal {
	if !nd.Valid {
		return nil
	}
	return &nd.Decimal
}

func bytesLess(a, b uuid.UUID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

var _ Coordinator = (*Postgres)(nil)
