package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"krait/internal/engine"
	kraitnet "krait/internal/net"
)

func main() {
	serverAddr := flag.String("server", "127.0.0.1:9001", "Address of the exchange server")
	trader := flag.String("trader", "", "Trader name (compulsory)")
	action := flag.String("action", "place", "Action to perform: ['place', 'cancel']")

	// Order parameters.
	pair := flag.String("pair", "BTC-USD", "Trading pair")
	sideStr := flag.String("side", "buy", "Order side: 'buy' or 'sell'")
	typeStr := flag.String("type", "limit", "Order type: 'limit' or 'market'")
	price := flag.Int64("price", 100, "Limit price in ticks")
	qtyStr := flag.String("qty", "10", "Quantity or comma-separated list (e.g. 10,20,50)")
	ttl := flag.Duration("ttl", 0, "Optional order lifetime (0 = good till canceled)")

	// Cancel parameters.
	orderID := flag.Uint64("order", 0, "ID of the order to cancel")

	flag.Parse()

	if *trader == "" {
		fmt.Println("Error: -trader is compulsory.")
		flag.Usage()
		os.Exit(1)
	}

	conn, err := net.Dial("tcp", *serverAddr)
	if err != nil {
		log.Fatalf("Failed to connect to server at %s: %v", *serverAddr, err)
	}
	defer conn.Close()
	fmt.Printf("Connected to %s as '%s'\n", *serverAddr, *trader)

	// Start listening for reports (async).
	go readReports(conn)

	side := engine.Buy
	if strings.ToLower(*sideStr) == "sell" {
		side = engine.Sell
	}
	orderType := engine.LimitOrder
	limitPrice := *price
	if strings.ToLower(*typeStr) == "market" {
		orderType = engine.MarketOrder
		limitPrice = 0
	}
	var expiry time.Time
	if *ttl > 0 {
		expiry = time.Now().Add(*ttl)
	}

	switch strings.ToLower(*action) {
	case "place":
		for _, q := range parseQuantities(*qtyStr) {
			msg := kraitnet.NewOrderMessage{
				Side:      side,
				OrderType: orderType,
				Price:     limitPrice,
				Quantity:  q,
				Expiry:    expiry,
				Pair:      *pair,
				Trader:    *trader,
			}
			if _, err := conn.Write(msg.Serialize()); err != nil {
				log.Printf("Failed to place order (qty %d): %v", q, err)
				continue
			}
			fmt.Printf("-> Sent %s order: %s %d @ %d\n", strings.ToUpper(*sideStr), *pair, q, limitPrice)
			// Small sleep so the server sequences the orders distinctly.
			time.Sleep(5 * time.Millisecond)
		}

	case "cancel":
		if *orderID == 0 {
			log.Fatal("Error: -order is required for cancellation")
		}
		msg := kraitnet.CancelOrderMessage{
			OrderID: *orderID,
			Pair:    *pair,
			Trader:  *trader,
		}
		if _, err := conn.Write(msg.Serialize()); err != nil {
			log.Printf("Failed to send cancel request: %v", err)
		} else {
			fmt.Printf("-> Sent cancel request for order %d\n", *orderID)
		}

	default:
		log.Fatalf("Unknown action %q", *action)
	}

	// Give the report reader a moment to drain responses.
	time.Sleep(500 * time.Millisecond)
}

func parseQuantities(s string) []int64 {
	parts := strings.Split(s, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		q, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil || q <= 0 {
			log.Fatalf("Invalid quantity %q", p)
		}
		out = append(out, q)
	}
	return out
}

func readReports(conn net.Conn) {
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		report, err := kraitnet.ParseReport(buf[:n])
		if err != nil {
			log.Printf("Bad report frame: %v", err)
			continue
		}
		switch report.Type {
		case kraitnet.OrderAck:
			fmt.Printf("<- ACK order=%d status=%s filled=%d remaining=%d\n",
				report.OrderID, report.Status, report.Quantity, report.Remaining)
		case kraitnet.ExecutionReport:
			fmt.Printf("<- FILL order=%d %d @ %d\n",
				report.OrderID, report.Quantity, report.Price)
		case kraitnet.ErrorReport:
			fmt.Printf("<- ERROR %s\n", report.Err)
		}
	}
}
