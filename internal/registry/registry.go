// Package registry implements C6: the dispatch layer that maps an
// instrument symbol to its InstrumentBook and owns boot-time recovery.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"fenrir/internal/book"
	"fenrir/internal/common"
	"fenrir/internal/durable"
	"fenrir/internal/engine"
)

// Registry routes requests to the InstrumentBook for their instrument,
// creating one on first sight. Each InstrumentBook serializes its own
// traffic (§3); Registry adds no locking of its own beyond protecting the
// instrument→book map, so distinct instruments run fully in parallel.
type Registry struct {
	coordinator durable.Coordinator
	reporter    engine.Reporter
	logger      zerolog.Logger

	mu     sync.RWMutex
	books  map[common.Instrument]*engine.InstrumentBook
}

func New(coordinator durable.Coordinator, reporter engine.Reporter) *Registry {
	if reporter == nil {
		reporter = engine.NoopReporter{}
	}
	return &Registry{
		coordinator: coordinator,
		reporter:    reporter,
		logger:      log.With().Str("component", "registry").Logger(),
		books:       make(map[common.Instrument]*engine.InstrumentBook),
	}
}

func (r *Registry) bookFor(instrument common.Instrument) *engine.InstrumentBook {
	r.mu.RLock()
	ib, ok := r.books[instrument]
	r.mu.RUnlock()
	if ok {
		return ib
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if ib, ok := r.books[instrument]; ok {
		return ib
	}
	ib = engine.NewInstrumentBook(instrument, r.coordinator, r.reporter)
	r.books[instrument] = ib
	return ib
}

// Submit routes order to its instrument's book, creating the book on
// first sight.
func (r *Registry) Submit(ctx context.Context, order *common.Order) (common.Order, []common.Trade, error) {
	return r.bookFor(order.Instrument).Submit(ctx, order)
}

// Cancel routes a cancel request to instrument's book. The caller is
// expected to know which instrument an order belongs to; a registry with
// no prior knowledge of the instrument will still create an (empty) book
// and correctly fail the cancel via the coordinator's unknown-order path.
func (r *Registry) Cancel(ctx context.Context, instrument common.Instrument, orderID uuid.UUID) (common.Order, error) {
	return r.bookFor(instrument).Cancel(ctx, orderID)
}

// Snapshot returns up to depth price levels per side for instrument, for
// the read-only book query surface of §6. A never-seen instrument reports
// as empty on both sides rather than an error.
type Snapshot struct {
	Instrument common.Instrument
	Bids       []book.LevelDepth
	Asks       []book.LevelDepth
}

func (r *Registry) Snapshot(instrument common.Instrument, depth int) Snapshot {
	ib := r.bookFor(instrument)
	return Snapshot{
		Instrument: instrument,
		Bids:       ib.Bids.Levels(depth),
		Asks:       ib.Asks.Levels(depth),
	}
}

// Recover implements §4.5: on boot, load every durably-open limit order
// and rest it directly into its instrument's book without matching
// (durable state is trusted to already be quiescent — nothing crossed
// when the process stopped, or it would have matched before stopping).
// Orders are grouped by instrument and each instrument's restoration runs
// concurrently via errgroup, mirroring the teacher's use of the same
// pattern for concurrent per-shard setup; restoration within one
// instrument stays sequential so CreatedAt order is preserved.
func (r *Registry) Recover(ctx context.Context) error {
	open, err := r.coordinator.LoadOpen(ctx)
	if err != nil {
		return fmt.Errorf("registry: load open orders: %w", err)
	}

	byInstrument := make(map[common.Instrument][]common.Order)
	for _, o := range open {
		byInstrument[o.Instrument] = append(byInstrument[o.Instrument], o)
	}

	g, _ := errgroup.WithContext(ctx)
	for instrument, orders := range byInstrument {
		instrument, orders := instrument, orders
		g.Go(func() error {
			ib := r.bookFor(instrument)
			for i := range orders {
				ib.Restore(&orders[i])
			}
			r.logger.Info().Str("instrument", string(instrument)).Int("orders", len(orders)).Msg("recovered open orders")
			return nil
		})
	}
	return g.Wait()
}

// Instruments returns every instrument symbol the registry has seen.
func (r *Registry) Instruments() []common.Instrument {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]common.Instrument, 0, len(r.books))
	for instrument := range r.books {
		out = append(out, instrument)
	}
	return out
}
