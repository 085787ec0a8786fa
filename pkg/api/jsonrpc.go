package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/luxfi/log"

	"github.com/luxfi/bsfpga/pkg/fpga"
)

const (
	// MaxBatch bounds the number of requests in one pricer.batch call
	MaxBatch = 1024
	// MaxBodyBytes bounds an HTTP request body
	MaxBodyBytes = 1 << 20
)

// Pricer is the pricing backend; *fpga.Manager implements it
type Pricer interface {
	Price(ctx context.Context, req fpga.PricingRequest) (fpga.PricingResult, error)
	BatchPrice(ctx context.Context, reqs []fpga.PricingRequest) ([]fpga.PricingResult, error)
	GetStats() map[string]fpga.Stats
	TotalStats() fpga.Stats
	CacheHits() uint64
	Busy() int
	Config() fpga.ManagerConfig
}

// RequestRecorder counts requests per transport
type RequestRecorder interface {
	RecordRequest(transport string)
}

// JSONRPCServer handles JSON-RPC 2.0 requests
type JSONRPCServer struct {
	pricer   Pricer
	logger   log.Logger
	recorder RequestRecorder
}

// NewJSONRPCServer creates a new JSON-RPC server
func NewJSONRPCServer(pricer Pricer, logger log.Logger) *JSONRPCServer {
	return &JSONRPCServer{
		pricer: pricer,
		logger: logger,
	}
}

// SetRecorder attaches a request counter
func (s *JSONRPCServer) SetRecorder(r RequestRecorder) {
	s.recorder = r
}

// JSONRPCRequest represents a JSON-RPC 2.0 request
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      interface{}     `json:"id"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response
type JSONRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// RPCError represents a JSON-RPC error
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Error implements error interface
func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC Error %d: %s", e.Code, e.Message)
}

// Standard JSON-RPC error codes
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// ServeHTTP implements http.Handler
func (s *JSONRPCServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(s.HandleMessage(r.Context(), "jsonrpc", body))
}

// HandleMessage processes one encoded JSON-RPC message, single or batch, and
// returns the encoded reply. The WebSocket and NATS front ends share it.
func (s *JSONRPCServer) HandleMessage(ctx context.Context, transport string, data []byte) []byte {
	if s.recorder != nil {
		s.recorder.RecordRequest(transport)
	}

	trimmed := bytes.TrimSpace(data)
	if !json.Valid(trimmed) {
		return encode(errorResponse(nil, ParseError, "Parse error"))
	}
	if trimmed[0] == '[' {
		var batch []json.RawMessage
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			return encode(errorResponse(nil, ParseError, "Parse error"))
		}
		// An empty batch is answered with a single error, not an empty array
		if len(batch) == 0 {
			return encode(errorResponse(nil, InvalidRequest, "Invalid Request"))
		}
		resps := make([]JSONRPCResponse, len(batch))
		for i, raw := range batch {
			resps[i] = s.handleRaw(ctx, raw)
		}
		return encode(resps)
	}
	return encode(s.handleRaw(ctx, trimmed))
}

// handleRaw decodes one well-formed JSON value as a request. Anything that
// is not a request object is an invalid request rather than a parse error.
func (s *JSONRPCServer) handleRaw(ctx context.Context, raw json.RawMessage) JSONRPCResponse {
	var req JSONRPCRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return errorResponse(nil, InvalidRequest, "Invalid Request")
	}
	return s.handle(ctx, req)
}

func (s *JSONRPCServer) handle(ctx context.Context, req JSONRPCRequest) JSONRPCResponse {
	if req.JSONRPC != "2.0" {
		return errorResponse(req.ID, InvalidRequest, "Invalid Request")
	}

	result, err := s.handleMethod(ctx, req.Method, req.Params)
	if err != nil {
		var rpcErr *RPCError
		if !errors.As(err, &rpcErr) {
			rpcErr = &RPCError{Code: InternalError, Message: err.Error()}
		}
		s.logger.Debug("JSON-RPC call failed", "method", req.Method, "code", rpcErr.Code, "error", rpcErr.Message)
		return JSONRPCResponse{JSONRPC: "2.0", Error: rpcErr, ID: req.ID}
	}

	return JSONRPCResponse{
		JSONRPC: "2.0",
		Result:  result,
		ID:      req.ID,
	}
}

func (s *JSONRPCServer) handleMethod(ctx context.Context, method string, params json.RawMessage) (interface{}, error) {
	switch method {
	// Pricing methods
	case "pricer.price":
		return s.price(ctx, params)
	case "pricer.batch":
		return s.batch(ctx, params)

	// Stage diagnostics
	case "pricer.d1d2":
		return s.d1d2(params)
	case "pricer.cdf":
		return s.cdf(params)

	// Info methods
	case "pricer.stats":
		return s.stats(), nil
	case "pricer.ping":
		return "pong", nil

	default:
		return nil, &RPCError{Code: MethodNotFound, Message: "Method not found"}
	}
}

func invalidParams(err error) *RPCError {
	return &RPCError{Code: InvalidParams, Message: "Invalid params", Data: err.Error()}
}

// Single pricing run
func (s *JSONRPCServer) price(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p PriceParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, invalidParams(err)
	}
	format := s.pricer.Config().Pipeline.Format
	req, err := p.Encode(format)
	if err != nil {
		return nil, invalidParams(err)
	}

	res, err := s.pricer.Price(ctx, req)
	if err != nil {
		return nil, &RPCError{Code: InternalError, Message: err.Error()}
	}
	return NewPriceResult(format, res), nil
}

// Batch pricing, results in request order
func (s *JSONRPCServer) batch(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var ps []PriceParams
	if err := json.Unmarshal(params, &ps); err != nil {
		return nil, invalidParams(err)
	}
	if len(ps) > MaxBatch {
		return nil, invalidParams(fmt.Errorf("batch of %d exceeds %d", len(ps), MaxBatch))
	}

	format := s.pricer.Config().Pipeline.Format
	reqs := make([]fpga.PricingRequest, len(ps))
	for i, p := range ps {
		req, err := p.Encode(format)
		if err != nil {
			return nil, invalidParams(fmt.Errorf("request %d: %w", i, err))
		}
		reqs[i] = req
	}

	results, err := s.pricer.BatchPrice(ctx, reqs)
	if err != nil {
		return nil, &RPCError{Code: InternalError, Message: err.Error()}
	}
	out := make([]PriceResult, len(results))
	for i, res := range results {
		out[i] = NewPriceResult(format, res)
	}
	return out, nil
}

// d1/d2 only, on a dedicated engine
func (s *JSONRPCServer) d1d2(params json.RawMessage) (interface{}, error) {
	var p PriceParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, invalidParams(err)
	}
	cfg := s.pricer.Config().Pipeline
	req, err := p.Encode(cfg.Format)
	if err != nil {
		return nil, invalidParams(err)
	}

	e := fpga.NewD1D2Engine(cfg.Format)
	e.Submit(fpga.D1D2Op{
		Spot:       req.Spot,
		Strike:     req.Strike,
		Time:       req.Time,
		Volatility: req.Volatility,
		Rate:       req.Rate,
	})
	ticks, err := fpga.Drive(e, tickLimit(cfg))
	if err != nil {
		return nil, &RPCError{Code: InternalError, Message: err.Error()}
	}
	res, _ := e.Result()
	if res.Err != nil {
		return nil, &RPCError{Code: InternalError, Message: res.Err.Error()}
	}

	f := cfg.Format
	return D1D2Result{
		D1:       f.StringFixed(res.D1, DecimalPlaces),
		D2:       f.StringFixed(res.D2, DecimalPlaces),
		SigmaRtT: f.StringFixed(res.SigmaRtT, DecimalPlaces),
		LogMoney: f.StringFixed(res.LogMoney, DecimalPlaces),
		Ticks:    ticks,
	}, nil
}

// Standard normal CDF on a dedicated engine
func (s *JSONRPCServer) cdf(params json.RawMessage) (interface{}, error) {
	var p CDFParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, invalidParams(err)
	}
	cfg := s.pricer.Config().Pipeline
	strategy := cfg.Strategy
	if p.Strategy != "" {
		var err error
		if strategy, err = fpga.ParseCDFStrategy(p.Strategy); err != nil {
			return nil, invalidParams(err)
		}
	}
	x, err := cfg.Format.FromDecimal(p.X)
	if err != nil {
		return nil, invalidParams(err)
	}

	e := fpga.NewNormalCDFEngine(cfg.Format, strategy)
	e.Submit(fpga.CDFOp{X: x})
	ticks, err := fpga.Drive(e, tickLimit(cfg))
	if err != nil {
		return nil, &RPCError{Code: InternalError, Message: err.Error()}
	}
	res, _ := e.Result()
	return CDFResult{
		Value:    cfg.Format.StringFixed(res.Value, DecimalPlaces),
		Strategy: strategy.String(),
		Ticks:    ticks,
	}, nil
}

// Device pool statistics
func (s *JSONRPCServer) stats() StatsResult {
	cfg := s.pricer.Config()
	out := StatsResult{
		Format:    cfg.Pipeline.Format.String(),
		Strategy:  cfg.Pipeline.Strategy.String(),
		Joint:     cfg.Pipeline.Joint.String(),
		Devices:   cfg.Devices,
		Busy:      s.pricer.Busy(),
		CacheHits: s.pricer.CacheHits(),
		Total:     newDeviceStats(s.pricer.TotalStats()),
		PerDevice: make(map[string]DeviceStats),
	}
	for id, st := range s.pricer.GetStats() {
		out.PerDevice[id] = newDeviceStats(st)
	}
	return out
}

func tickLimit(cfg fpga.PipelineConfig) int {
	if cfg.TickLimit <= 0 {
		return fpga.DefaultTickLimit
	}
	return cfg.TickLimit
}

func errorResponse(id interface{}, code int, message string) JSONRPCResponse {
	return JSONRPCResponse{
		JSONRPC: "2.0",
		Error: &RPCError{
			Code:    code,
			Message: message,
		},
		ID: id,
	}
}

func encode(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		data, _ = json.Marshal(errorResponse(nil, InternalError, "Internal error"))
	}
	return data
}

// StartJSONRPCServer serves JSON-RPC on port until ctx is done
func StartJSONRPCServer(ctx context.Context, port int, server *JSONRPCServer, logger log.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/", server)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		httpServer.Shutdown(context.Background())
	}()

	logger.Info("JSON-RPC server started", "port", port)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
