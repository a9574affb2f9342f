package netproto

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"fenrir/internal/book"
	"fenrir/internal/cache"
	"fenrir/internal/common"
	"fenrir/internal/durable"
	"fenrir/internal/workerpool"
)

const defaultWorkers = 32

var ErrImproperConversion = errors.New("netproto: improper task type")

// Handler is the subset of registry.Registry the server needs: routing a
// submission or cancellation to the right instrument's book. Accepting
// the interface rather than the concrete type keeps this package testable
// without a real coordinator.
type Handler interface {
	Submit(ctx context.Context, order *common.Order) (common.Order, []common.Trade, error)
	Cancel(ctx context.Context, instrument common.Instrument, orderID uuid.UUID) (common.Order, error)
}

// Server is a TCP frontend for Handler. It implements engine.Reporter
// structurally (ReportAck/ReportTrade/ReportError) so it can be handed
// straight to registry.New as the fan-out sink: every ack and trade is
// pushed to whichever connected session identified itself with the
// matching client id.
type Server struct {
	address     string
	port        int
	handler     Handler
	coordinator durable.Coordinator
	snapshots   *cache.SnapshotCache
	pool        *workerpool.Pool

	mu       sync.Mutex
	sessions map[string]net.Conn

	cancel context.CancelFunc
}

func New(address string, port int, handler Handler, coordinator durable.Coordinator) *Server {
	return &Server{
		address:     address,
		port:        port,
		handler:     handler,
		coordinator: coordinator,
		pool:        workerpool.New(defaultWorkers),
		sessions:    make(map[string]net.Conn),
	}
}

// SetHandler wires the request handler after construction, for the
// common boot-order case where the server itself is registry.New's
// reporter and so must exist before the registry does.
func (s *Server) SetHandler(h Handler) {
	s.handler = h
}

// SetSnapshots wires the read-through snapshot cache after construction,
// for the same boot-order reason as SetHandler: the cache is built from
// the registry, which needs the server to exist first as its reporter.
func (s *Server) SetSnapshots(snapshots *cache.SnapshotCache) {
	s.snapshots = snapshots
}

func (s *Server) Shutdown() {
	log.Info().Msg("netproto: server shutting down")
	if s.cancel != nil {
		s.cancel()
	}
}

// Run listens for connections until ctx is cancelled. It blocks.
func (s *Server) Run(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	defer s.Shutdown()

	t, ctx := tomb.WithContext(ctx)

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf("%s:%d", s.address, s.port))
	if err != nil {
		return fmt.Errorf("netproto: listen: %w", err)
	}
	defer listener.Close()

	t.Go(func() error {
		s.pool.Run(t, s.handleTask)
		return nil
	})

	log.Info().Str("address", listener.Addr().String()).Msg("netproto: server running")

	for {
		select {
		case <-ctx.Done():
			return t.Wait()
		default:
			conn, err := listener.Accept()
			if err != nil {
				select {
				case <-ctx.Done():
					return t.Wait()
				default:
					log.Error().Err(err).Msg("netproto: accept")
					continue
				}
			}
			log.Info().Str("remote", conn.RemoteAddr().String()).Msg("netproto: client connected")
			s.pool.AddTask(conn)
		}
	}
}

// handleTask reads exactly one frame off the connection, dispatches it,
// and — unless the connection died — re-enqueues it so another worker
// picks up its next frame. This bounds concurrent in-flight reads to the
// pool size without dedicating one goroutine per connection.
func (s *Server) handleTask(t *tomb.Tomb, task any) error {
	conn, ok := task.(net.Conn)
	if !ok {
		return ErrImproperConversion
	}

	select {
	case <-t.Dying():
		conn.Close()
		return nil
	default:
	}

	env, err := ReadFrame(conn)
	if err != nil {
		s.dropSession(conn)
		conn.Close()
		return nil
	}

	s.dispatch(context.Background(), conn, env)
	s.pool.AddTask(conn)
	return nil
}

func (s *Server) dispatch(ctx context.Context, conn net.Conn, env Envelope) {
	switch env.Type {
	case TypeNewOrder:
		var req NewOrderRequest
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			s.writeError(conn, err)
			return
		}
		s.registerSession(req.ClientID, conn)
		order, err := req.Order(time.Now())
		if err != nil {
			s.ReportError(req.ClientID, err)
			return
		}
		if _, _, err := s.handler.Submit(ctx, &order); err != nil {
			s.ReportError(req.ClientID, err)
		}

	case TypeCancelOrder:
		var req CancelOrderRequest
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			s.writeError(conn, err)
			return
		}
		if _, err := s.handler.Cancel(ctx, common.Instrument(req.Instrument), req.OrderID); err != nil {
			s.writeError(conn, err)
		}

	case TypeSnapshotQuery:
		var req SnapshotQuery
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			s.writeError(conn, err)
			return
		}
		s.handleSnapshotQuery(ctx, conn, req)

	case TypeTradesQuery:
		var req TradesQuery
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			s.writeError(conn, err)
			return
		}
		s.handleTradesQuery(ctx, conn, req)

	default:
		s.writeError(conn, fmt.Errorf("netproto: unknown frame type %q", env.Type))
	}
}

// handleSnapshotQuery answers a book-depth read over the connection that
// asked, rather than through the session/client-id fan-out used for
// order reports — a query is answered to whoever asked, not broadcast.
func (s *Server) handleSnapshotQuery(ctx context.Context, conn net.Conn, req SnapshotQuery) {
	if s.snapshots == nil {
		s.writeError(conn, errors.New("netproto: snapshot query unavailable"))
		return
	}
	snap, err := s.snapshots.Get(ctx, req.Instrument, req.Depth)
	if err != nil {
		s.writeError(conn, err)
		return
	}
	resp := SnapshotResult{
		Instrument: string(snap.Instrument),
		Bids:       levelDTOs(snap.Bids),
		Asks:       levelDTOs(snap.Asks),
	}
	if err := WriteFrame(conn, TypeSnapshotResult, resp); err != nil {
		log.Error().Err(err).Msg("netproto: failed to write snapshot result")
	}
}

func (s *Server) handleTradesQuery(ctx context.Context, conn net.Conn, req TradesQuery) {
	if s.coordinator == nil {
		s.writeError(conn, errors.New("netproto: trades query unavailable"))
		return
	}
	trades, err := s.coordinator.TradesByInstrument(ctx, common.Instrument(req.Instrument), req.Limit)
	if err != nil {
		s.writeError(conn, err)
		return
	}
	dtos := make([]TradeDTO, 0, len(trades))
	for _, tr := range trades {
		dtos = append(dtos, NewTradeDTO(tr))
	}
	if err := WriteFrame(conn, TypeTradesResult, TradesResult{Trades: dtos}); err != nil {
		log.Error().Err(err).Msg("netproto: failed to write trades result")
	}
}

func levelDTOs(levels []book.LevelDepth) []LevelDTO {
	out := make([]LevelDTO, 0, len(levels))
	for _, lvl := range levels {
		out = append(out, LevelDTO{Price: lvl.Price, Quantity: lvl.Quantity, Orders: lvl.Orders})
	}
	return out
}

func (s *Server) registerSession(clientID string, conn net.Conn) {
	if clientID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[clientID] = conn
}

func (s *Server) dropSession(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.sessions {
		if c == conn {
			delete(s.sessions, id)
		}
	}
}

func (s *Server) sendTo(clientID string, msgType MessageType, payload any) {
	s.mu.Lock()
	conn, ok := s.sessions[clientID]
	s.mu.Unlock()
	if !ok {
		return
	}
	if err := WriteFrame(conn, msgType, payload); err != nil {
		log.Error().Err(err).Str("client_id", clientID).Msg("netproto: write failed, dropping session")
		s.dropSession(conn)
	}
}

func (s *Server) writeError(conn net.Conn, err error) {
	if writeErr := WriteFrame(conn, TypeError, ErrorReport{Message: err.Error()}); writeErr != nil {
		log.Error().Err(writeErr).Msg("netproto: failed to write error report")
	}
}

// ReportAck implements engine.Reporter.
func (s *Server) ReportAck(order common.Order) {
	s.sendTo(order.ClientID, TypeAck, AckReport{Order: NewOrderDTO(order)})
}

// ReportTrade implements engine.Reporter, fanning the same fill out to
// both counterparties from their own point of view.
func (s *Server) ReportTrade(trade common.Trade, taker, maker common.Order) {
	dto := NewTradeDTO(trade)
	s.sendTo(taker.ClientID, TypeTrade, TradeReport{Trade: dto, Self: NewOrderDTO(taker), Counterparty: NewOrderDTO(maker)})
	s.sendTo(maker.ClientID, TypeTrade, TradeReport{Trade: dto, Self: NewOrderDTO(maker), Counterparty: NewOrderDTO(taker)})
}

// ReportError implements engine.Reporter.
func (s *Server) ReportError(clientID string, err error) {
	s.sendTo(clientID, TypeError, ErrorReport{Message: err.Error()})
}
