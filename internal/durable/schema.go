package durable

// Schema is the DDL for the two durable relations of §6. It is applied by
// cmd/server at boot (idempotently, via IF NOT EXISTS) rather than through
// a migration framework — the kernel owns exactly two tables and gains
// nothing from a migration DSL the rest of the pack doesn't otherwise use.
const Schema = `
CREATE TABLE IF NOT EXISTS orders (
	id              UUID PRIMARY KEY,
	client_id       TEXT NOT NULL,
	instrument      TEXT NOT NULL,
	side            SMALLINT NOT NULL,
	type            SMALLINT NOT NULL,
	price           NUMERIC,
	quantity        NUMERIC NOT NULL,
	remaining       NUMERIC NOT NULL,
	status          SMALLINT NOT NULL,
	idempotency_key TEXT,
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS orders_idempotency_key_uidx
	ON orders (idempotency_key)
	WHERE idempotency_key IS NOT NULL;

CREATE INDEX IF NOT EXISTS orders_open_by_instrument_idx
	ON orders (instrument, created_at)
	WHERE type = 0 AND status IN (0, 1);

CREATE TABLE IF NOT EXISTS trades (
	id             UUID PRIMARY KEY,
	buy_order_id   UUID NOT NULL REFERENCES orders (id),
	sell_order_id  UUID NOT NULL REFERENCES orders (id),
	instrument     TEXT NOT NULL,
	price          NUMERIC NOT NULL,
	quantity       NUMERIC NOT NULL,
	traded_at      TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS trades_instrument_idx ON trades (instrument, traded_at);
CREATE INDEX IF NOT EXISTS trades_buy_order_idx ON trades (buy_order_id);
CREATE INDEX IF NOT EXISTS trades_sell_order_idx ON trades (sell_order_id);
`
