package engine

import "fenrir/internal/common"

// Reporter is notified after every committed durability unit and after
// every accepted/cancelled order, so an ingress layer (internal/netproto) can
// push execution/ack/error reports to connected clients. It mirrors the
// teacher's stubbed Engine.Trade hook and the MockReporter its own test
// file already assumed existed.
type Reporter interface {
	ReportTrade(trade common.Trade, taker, maker common.Order)
	ReportAck(order common.Order)
	ReportError(clientID string, err error)
}

// NoopReporter discards every report. It is the default for package users
// that don't care about fan-out (tests, and NewInstrumentBook or
// registry.New when handed a nil reporter).
type NoopReporter struct{}

func (NoopReporter) ReportTrade(common.Trade, common.Order, common.Order) {}
func (NoopReporter) ReportAck(common.Order)                               {}
func (NoopReporter) ReportError(string, error)                           {}
