package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/luxfi/log"
	"github.com/nats-io/nats.go"

	"github.com/luxfi/bsfpga/pkg/natsrpc"
)

type request struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
	ID      int         `json:"id"`
}

type priceParams struct {
	Spot       string `json:"spot"`
	Strike     string `json:"strike"`
	Time       string `json:"time"`
	Volatility string `json:"volatility"`
	Rate       string `json:"rate"`
	Type       string `json:"type"`
}

func main() {
	var (
		transport = flag.String("transport", "ws", "Transport (ws, nats)")
		wsURL     = flag.String("url", "ws://localhost:8081/ws", "WebSocket URL")
		natsURL   = flag.String("nats", nats.DefaultURL, "NATS server URL")
		subject   = flag.String("subject", natsrpc.DefaultSubject, "NATS request subject")
		method    = flag.String("method", "pricer.price", "JSON-RPC method")
		spot      = flag.String("spot", "100", "Spot price")
		strike    = flag.String("strike", "100", "Strike price")
		maturity  = flag.String("time", "1", "Time to expiry in years")
		vol       = flag.String("vol", "0.2", "Volatility")
		rate      = flag.String("rate", "0.05", "Risk-free rate")
		optType   = flag.String("type", "call", "Option type (call, put)")
		timeout   = flag.Duration("timeout", 10*time.Second, "Request timeout")
	)
	flag.Parse()

	level, _ := log.ToLevel("info")
	logger := log.NewTestLogger(level)

	req := request{JSONRPC: "2.0", Method: *method, ID: 1}
	if *method == "pricer.price" || *method == "pricer.d1d2" {
		req.Params = priceParams{
			Spot:       *spot,
			Strike:     *strike,
			Time:       *maturity,
			Volatility: *vol,
			Rate:       *rate,
			Type:       *optType,
		}
	}
	data, err := json.Marshal(req)
	if err != nil {
		logger.Error("Failed to encode request", "error", err)
		os.Exit(1)
	}

	var reply []byte
	switch *transport {
	case "ws":
		reply, err = callWebSocket(*wsURL, data, *timeout)
	case "nats":
		reply, err = callNATS(*natsURL, *subject, data, *timeout)
	default:
		err = fmt.Errorf("unknown transport %q", *transport)
	}
	if err != nil {
		logger.Error("Request failed", "transport", *transport, "error", err)
		os.Exit(1)
	}

	fmt.Println(string(reply))
}

func callWebSocket(raw string, data []byte, timeout time.Duration) ([]byte, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = timeout
	conn, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(timeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return nil, err
	}
	conn.SetReadDeadline(time.Now().Add(timeout))
	_, reply, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return reply, nil
}

func callNATS(raw, subject string, data []byte, timeout time.Duration) ([]byte, error) {
	nc, err := nats.Connect(raw, nats.Timeout(timeout))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	msg, err := nc.Request(subject, data, timeout)
	if err != nil {
		return nil, err
	}
	return msg.Data, nil
}
