package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"fenrir/internal/netproto"
)

func main() {
	serverAddr := flag.String("server", "127.0.0.1:9001", "address of the exchange server")
	clientID := flag.String("client", "", "client id (compulsory)")
	action := flag.String("action", "place", "action to perform: ['place', 'cancel', 'snapshot', 'trades']")

	instrument := flag.String("instrument", "AAPL", "instrument symbol")
	sideStr := flag.String("side", "buy", "order side: 'buy' or 'sell'")
	typeStr := flag.String("type", "limit", "order type: 'limit' or 'market'")
	price := flag.String("price", "", "limit price (required for limit orders)")
	qtyStr := flag.String("qty", "10", "quantity, or a comma-separated list (e.g. 10,20,50)")
	idempotencyKey := flag.String("key", "", "idempotency key (optional)")

	orderID := flag.String("order-id", "", "order id to cancel")
	depth := flag.Int("depth", 10, "book depth for -action=snapshot (0 for full depth)")
	limit := flag.Int("limit", 20, "trade count for -action=trades")

	flag.Parse()

	if *clientID == "" {
		fmt.Println("Error: -client is compulsory.")
		flag.Usage()
		os.Exit(1)
	}

	conn, err := net.Dial("tcp", *serverAddr)
	if err != nil {
		log.Fatalf("failed to connect to %s: %v", *serverAddr, err)
	}
	defer conn.Close()
	fmt.Printf("connected to %s as %q\n", *serverAddr, *clientID)

	go readReports(conn)

	switch strings.ToLower(*action) {
	case "place":
		quantities := parseQuantities(*qtyStr)
		for _, qty := range quantities {
			req := netproto.NewOrderRequest{
				ClientID:       *clientID,
				Instrument:     *instrument,
				Side:           strings.ToLower(*sideStr),
				OrderType:      strings.ToLower(*typeStr),
				Quantity:       qty,
				IdempotencyKey: *idempotencyKey,
			}
			if strings.ToLower(*typeStr) == "limit" {
				p, err := decimal.NewFromString(*price)
				if err != nil {
					log.Fatalf("invalid -price: %v", err)
				}
				req.Price = &p
			}
			if err := netproto.WriteFrame(conn, netproto.TypeNewOrder, req); err != nil {
				log.Printf("failed to place order (qty %s): %v", qty, err)
				continue
			}
			fmt.Printf("-> sent %s %s order: %s %s @ %s\n", req.Side, req.OrderType, req.Quantity, req.Instrument, *price)
			time.Sleep(5 * time.Millisecond)
		}

	case "cancel":
		if *orderID == "" {
			log.Fatal("-order-id is required for cancellation")
		}
		id, err := uuid.Parse(*orderID)
		if err != nil {
			log.Fatalf("invalid -order-id: %v", err)
		}
		req := netproto.CancelOrderRequest{Instrument: *instrument, OrderID: id}
		if err := netproto.WriteFrame(conn, netproto.TypeCancelOrder, req); err != nil {
			log.Printf("failed to send cancel request: %v", err)
		} else {
			fmt.Printf("-> sent cancel request for order %s\n", id)
		}

	case "snapshot":
		req := netproto.SnapshotQuery{Instrument: *instrument, Depth: *depth}
		if err := netproto.WriteFrame(conn, netproto.TypeSnapshotQuery, req); err != nil {
			log.Printf("failed to send snapshot query: %v", err)
		} else {
			fmt.Printf("-> sent snapshot query for %s\n", *instrument)
		}

	case "trades":
		req := netproto.TradesQuery{Instrument: *instrument, Limit: *limit}
		if err := netproto.WriteFrame(conn, netproto.TypeTradesQuery, req); err != nil {
			log.Printf("failed to send trades query: %v", err)
		} else {
			fmt.Printf("-> sent trades query for %s\n", *instrument)
		}

	default:
		log.Fatalf("unknown action: %s", *action)
	}

	fmt.Println("\nlistening for reports... (press ctrl+c to exit)")
	select {}
}

func parseQuantities(input string) []decimal.Decimal {
	parts := strings.Split(input, ",")
	result := make([]decimal.Decimal, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if qty, err := decimal.NewFromString(p); err == nil {
			result = append(result, qty)
		} else {
			log.Printf("warning: invalid quantity %q, skipping", p)
		}
	}
	return result
}

func readReports(conn net.Conn) {
	for {
		env, err := netproto.ReadFrame(conn)
		if err != nil {
			log.Printf("connection lost: %v", err)
			os.Exit(0)
		}

		switch env.Type {
		case netproto.TypeAck:
			var ack netproto.AckReport
			if err := decodeInto(env, &ack); err != nil {
				log.Printf("bad ack report: %v", err)
				continue
			}
			fmt.Printf("\n[ACK] order %s status=%s remaining=%s\n", ack.Order.ID, ack.Order.Status, ack.Order.Remaining)

		case netproto.TypeTrade:
			var trade netproto.TradeReport
			if err := decodeInto(env, &trade); err != nil {
				log.Printf("bad trade report: %v", err)
				continue
			}
			fmt.Printf("\n[TRADE] %s %s qty=%s price=%s vs=%s\n",
				strings.ToUpper(trade.Self.Side), trade.Trade.Instrument, trade.Trade.Quantity, trade.Trade.Price, trade.Counterparty.ClientID)

		case netproto.TypeSnapshotResult:
			var snap netproto.SnapshotResult
			if err := decodeInto(env, &snap); err != nil {
				log.Printf("bad snapshot result: %v", err)
				continue
			}
			fmt.Printf("\n[SNAPSHOT] %s bids=%d asks=%d\n", snap.Instrument, len(snap.Bids), len(snap.Asks))
			for _, lvl := range snap.Bids {
				fmt.Printf("  bid %s x %s (%d orders)\n", lvl.Price, lvl.Quantity, lvl.Orders)
			}
			for _, lvl := range snap.Asks {
				fmt.Printf("  ask %s x %s (%d orders)\n", lvl.Price, lvl.Quantity, lvl.Orders)
			}

		case netproto.TypeTradesResult:
			var trades netproto.TradesResult
			if err := decodeInto(env, &trades); err != nil {
				log.Printf("bad trades result: %v", err)
				continue
			}
			fmt.Printf("\n[TRADES] %d trade(s)\n", len(trades.Trades))
			for _, tr := range trades.Trades {
				fmt.Printf("  %s qty=%s price=%s at %s\n", tr.Instrument, tr.Quantity, tr.Price, tr.TradedAt.Format(time.RFC3339))
			}

		case netproto.TypeError:
			var errReport netproto.ErrorReport
			if err := decodeInto(env, &errReport); err != nil {
				log.Printf("bad error report: %v", err)
				continue
			}
			fmt.Printf("\n[SERVER ERROR] %s\n", errReport.Message)

		default:
			log.Printf("unknown report type: %s", env.Type)
		}
	}
}

func decodeInto(env netproto.Envelope, v any) error {
	return json.Unmarshal(env.Payload, v)
}
