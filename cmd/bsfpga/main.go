package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/luxfi/log"
	"github.com/shopspring/decimal"

	"github.com/luxfi/bsfpga/pkg/api"
	"github.com/luxfi/bsfpga/pkg/cache"
	"github.com/luxfi/bsfpga/pkg/config"
	"github.com/luxfi/bsfpga/pkg/fpga"
	"github.com/luxfi/bsfpga/pkg/metrics"
	"github.com/luxfi/bsfpga/pkg/natsrpc"
	"github.com/luxfi/bsfpga/pkg/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// Engine flags override the environment
	width := flag.Uint("width", cfg.Width, "Fixed-point word width in bits")
	frac := flag.Uint("frac", cfg.Frac, "Fractional bits")
	strategy := flag.String("strategy", cfg.Strategy, "Normal CDF strategy (rational, table, quartic)")
	joint := flag.String("joint", cfg.Joint, "N(d1)/N(d2) evaluation (parallel, serial)")
	devices := flag.Int("devices", cfg.Devices, "Number of pricing pipelines")
	tickLimit := flag.Int("tick-limit", cfg.TickLimit, "Maximum ticks per pricing run")
	useCache := flag.Bool("cache", cfg.Cache, "Cache completed pricing results")
	cacheDir := flag.String("cache-dir", cfg.CacheDir, "Persist the cache in BadgerDB under this directory (empty keeps it in memory)")
	logLevel := flag.String("log-level", cfg.LogLevel, "Log level")

	// Front ends
	rpcPort := flag.Int("rpc-port", cfg.RPCPort, "JSON-RPC port (0 disables)")
	wsPort := flag.Int("ws-port", cfg.WSPort, "WebSocket port (0 disables)")
	metricsPort := flag.Int("metrics-port", cfg.MetricsPort, "Prometheus metrics port (0 disables)")
	natsURL := flag.String("nats", cfg.NATSURL, "NATS server URL (empty disables)")
	natsSubject := flag.String("nats-subject", cfg.NATSSubject, "NATS request subject")

	// One-shot pricing
	price := flag.Bool("price", false, "Price one option and exit")
	spot := flag.String("spot", "100", "Spot price")
	strike := flag.String("strike", "100", "Strike price")
	maturity := flag.String("time", "1", "Time to expiry in years")
	vol := flag.String("vol", "0.2", "Volatility")
	rate := flag.String("rate", "0.05", "Risk-free rate")
	optType := flag.String("type", "call", "Option type (call, put)")
	flag.Parse()

	cfg.Width, cfg.Frac = *width, *frac
	cfg.Strategy, cfg.Joint = *strategy, *joint
	cfg.Devices, cfg.TickLimit = *devices, *tickLimit
	cfg.Cache, cfg.CacheDir, cfg.LogLevel = *useCache, *cacheDir, *logLevel
	cfg.RPCPort, cfg.WSPort, cfg.MetricsPort = *rpcPort, *wsPort, *metricsPort
	cfg.NATSURL, cfg.NATSSubject = *natsURL, *natsSubject

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	level, _ := log.ToLevel(cfg.LogLevel)
	logger := log.NewTestLogger(level)

	if *price {
		params, err := parseParams(*spot, *strike, *maturity, *vol, *rate, *optType)
		if err == nil {
			err = priceOnce(cfg, params, os.Stdout)
		}
		if err != nil {
			logger.Error("Pricing failed", "error", err)
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := serve(ctx, cfg, logger); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func parseParams(spot, strike, maturity, vol, rate, optType string) (api.PriceParams, error) {
	var p api.PriceParams
	fields := []struct {
		name string
		in   string
		out  *decimal.Decimal
	}{
		{"spot", spot, &p.Spot},
		{"strike", strike, &p.Strike},
		{"time", maturity, &p.Time},
		{"vol", vol, &p.Volatility},
		{"rate", rate, &p.Rate},
	}
	for _, f := range fields {
		d, err := decimal.NewFromString(f.in)
		if err != nil {
			return api.PriceParams{}, fmt.Errorf("-%s: %w", f.name, err)
		}
		*f.out = d
	}
	p.Type = optType
	return p, nil
}

// priceOnce runs a single pipeline and writes the result as JSON
func priceOnce(cfg config.Config, params api.PriceParams, out io.Writer) error {
	pc, err := cfg.PipelineConfig()
	if err != nil {
		return err
	}
	p, err := fpga.NewPipeline(pc)
	if err != nil {
		return err
	}
	req, err := params.Encode(pc.Format)
	if err != nil {
		return err
	}
	res, err := p.Price(req)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(api.NewPriceResult(pc.Format, res)); err != nil {
		return err
	}
	return res.Err
}

// serve runs the device pool behind every enabled front end until ctx is done
func serve(ctx context.Context, cfg config.Config, logger log.Logger) error {
	mc, err := cfg.ManagerConfig()
	if err != nil {
		return err
	}

	m := metrics.New("bsfpga")
	opts := []fpga.ManagerOption{fpga.WithObserver(m)}
	if cfg.Cache {
		db, err := cache.OpenDatabase(cfg.CacheDir, m.Registry(), logger)
		if err != nil {
			return err
		}
		defer db.Close()
		opts = append(opts, fpga.WithCache(cache.New(db, logger)))
	}

	manager, err := fpga.NewManager(mc, logger, opts...)
	if err != nil {
		return fmt.Errorf("failed to create pricing pipelines: %w", err)
	}

	rpc := api.NewJSONRPCServer(manager, logger)
	rpc.SetRecorder(m)

	errCh := make(chan error, 2)

	if cfg.MetricsPort > 0 {
		if err := m.StartServer(strconv.Itoa(cfg.MetricsPort)); err != nil {
			return err
		}
		go m.CollectSystemMetrics(ctx)
	}

	if cfg.RPCPort > 0 {
		go func() {
			errCh <- api.StartJSONRPCServer(ctx, cfg.RPCPort, rpc, logger)
		}()
	}

	if cfg.WSPort > 0 {
		wsConfig := websocket.DefaultConfig()
		wsConfig.Port = cfg.WSPort
		ws := websocket.NewServer(rpc, logger, wsConfig)
		defer ws.Stop()
		go func() {
			errCh <- ws.Start(wsConfig.Port)
		}()
	}

	if cfg.NATSURL != "" {
		natsConfig := natsrpc.DefaultConfig()
		natsConfig.URL = cfg.NATSURL
		natsConfig.Subject = cfg.NATSSubject
		natsConfig.Workers = cfg.NATSWorkers
		responder := natsrpc.NewResponder(natsConfig, rpc, manager, logger)
		if err := responder.Start(ctx); err != nil {
			return err
		}
		defer responder.Stop()
	}

	logger.Info("bsfpga ready",
		"format", mc.Pipeline.Format.String(),
		"strategy", mc.Pipeline.Strategy.String(),
		"joint", mc.Pipeline.Joint.String(),
		"devices", mc.Devices,
		"cache", cfg.Cache)

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
		return nil
	case err := <-errCh:
		if err != nil {
			return err
		}
		<-ctx.Done()
		return nil
	}
}
