// Package natsrpc answers JSON-RPC pricing requests arriving over NATS
package natsrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/luxfi/log"
	"github.com/nats-io/nats.go"

	"github.com/luxfi/bsfpga/pkg/fpga"
)

// Defaults for Config
const (
	DefaultSubject          = "bsfpga.rpc"
	DefaultQueue            = "bsfpga-workers"
	DefaultAnnounceSubject  = "bsfpga.announce"
	DefaultAnnounceInterval = 5 * time.Second
)

// MessageHandler answers one encoded request; *api.JSONRPCServer implements it
type MessageHandler interface {
	HandleMessage(ctx context.Context, transport string, data []byte) []byte
}

// StatsSource reports pool load for announcements; *fpga.Manager implements it
type StatsSource interface {
	TotalStats() fpga.Stats
	Busy() int
	Config() fpga.ManagerConfig
}

// Config holds the NATS responder settings
type Config struct {
	URL              string
	Subject          string
	Queue            string
	Workers          int
	AnnounceSubject  string
	AnnounceInterval time.Duration
}

// DefaultConfig returns a responder config for a local NATS server
func DefaultConfig() Config {
	return Config{
		URL:              nats.DefaultURL,
		Subject:          DefaultSubject,
		Queue:            DefaultQueue,
		Workers:          1,
		AnnounceSubject:  DefaultAnnounceSubject,
		AnnounceInterval: DefaultAnnounceInterval,
	}
}

// Announcement is published periodically so clients can discover pricers
type Announcement struct {
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	Subject   string    `json:"subject"`
	Devices   int       `json:"devices"`
	Busy      int       `json:"busy"`
	Completed uint64    `json:"completed"`
	Errors    uint64    `json:"errors"`
	Timestamp time.Time `json:"timestamp"`
}

// Responder subscribes to the request subject with a queue group so several
// processes share the load
type Responder struct {
	config  Config
	handler MessageHandler
	stats   StatsSource
	logger  log.Logger

	nc   *nats.Conn
	subs []*nats.Subscription

	handled atomic.Uint64
	failed  atomic.Uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewResponder creates a responder; stats may be nil to disable announcements
func NewResponder(config Config, handler MessageHandler, stats StatsSource, logger log.Logger) *Responder {
	if config.Subject == "" {
		config.Subject = DefaultSubject
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.AnnounceInterval <= 0 {
		config.AnnounceInterval = DefaultAnnounceInterval
	}
	return &Responder{
		config:  config,
		handler: handler,
		stats:   stats,
		logger:  logger,
	}
}

// Start connects and subscribes. It returns once the subscriptions are live.
func (r *Responder) Start(ctx context.Context) error {
	nc, err := nats.Connect(r.config.URL,
		nats.Name("bsfpga"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				r.logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			r.logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return r.Serve(ctx, nc)
}

// Serve subscribes on an existing connection
func (r *Responder) Serve(ctx context.Context, nc *nats.Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	r.nc = nc
	r.cancel = cancel

	for i := 0; i < r.config.Workers; i++ {
		sub, err := nc.QueueSubscribe(r.config.Subject, r.config.Queue, func(m *nats.Msg) {
			r.handle(ctx, m)
		})
		if err != nil {
			cancel()
			return fmt.Errorf("subscribe %s: %w", r.config.Subject, err)
		}
		r.subs = append(r.subs, sub)
	}

	if r.stats != nil && r.config.AnnounceSubject != "" {
		r.wg.Add(1)
		go r.announce(ctx)
	}

	r.logger.Info("NATS responder ready",
		"subject", r.config.Subject,
		"queue", r.config.Queue,
		"workers", r.config.Workers)
	return nil
}

// Stop drains the subscriptions and closes the connection
func (r *Responder) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	for _, sub := range r.subs {
		if err := sub.Drain(); err != nil {
			r.logger.Debug("NATS drain failed", "error", err)
		}
	}
	if r.nc != nil {
		r.nc.Close()
	}
}

// Counts returns the number of messages answered and the number whose reply
// could not be sent
func (r *Responder) Counts() (handled, failed uint64) {
	return r.handled.Load(), r.failed.Load()
}

func (r *Responder) handle(ctx context.Context, m *nats.Msg) {
	reply := r.handler.HandleMessage(ctx, "nats", m.Data)
	r.handled.Add(1)
	if err := m.Respond(reply); err != nil {
		r.failed.Add(1)
		// Fire-and-forget publishes carry no reply subject
		if !errors.Is(err, nats.ErrMsgNoReply) {
			r.logger.Warn("NATS reply failed", "subject", m.Subject, "error", err)
		}
	}
}

func (r *Responder) announcement() Announcement {
	total := r.stats.TotalStats()
	return Announcement{
		Type:      "bsfpga-pricer",
		Status:    "ready",
		Subject:   r.config.Subject,
		Devices:   r.stats.Config().Devices,
		Busy:      r.stats.Busy(),
		Completed: total.Completed,
		Errors:    total.Errors,
		Timestamp: time.Now(),
	}
}

func (r *Responder) announce(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.AnnounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			data, err := json.Marshal(r.announcement())
			if err != nil {
				continue
			}
			if err := r.nc.Publish(r.config.AnnounceSubject, data); err != nil {
				r.logger.Debug("NATS announce failed", "error", err)
			}
		}
	}
}
