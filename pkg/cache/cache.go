// Package cache stores completed pricing runs. Pipeline runs are
// deterministic, so a run is identified by its raw operands and the
// pipeline configuration that shapes its arithmetic.
package cache

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/luxfi/database"
	"github.com/luxfi/log"

	"github.com/luxfi/bsfpga/pkg/fixed"
	"github.com/luxfi/bsfpga/pkg/fpga"
)

var (
	keyPrefix = []byte("price/")

	errShortValue = errors.New("cached value too short")
)

const (
	keyLen   = 6 + 3 + 5*8 + 1 // prefix, format+strategy, operands, type
	valueLen = 9 * 8            // eight values plus ticks
)

// Cache implements fpga.ResultCache over a database.Database
type Cache struct {
	db     database.Database
	logger log.Logger

	hits   atomic.Uint64
	misses atomic.Uint64
}

var _ fpga.ResultCache = (*Cache)(nil)

// New creates a cache on db
func New(db database.Database, logger log.Logger) *Cache {
	if logger == nil {
		logger = log.Root().New("module", "cache")
	}
	return &Cache{db: db, logger: logger}
}

// Key returns the database key of a request under cfg. Joint scheduling and
// tick limits do not change results and are not part of the key.
func Key(cfg fpga.PipelineConfig, req fpga.PricingRequest) []byte {
	key := make([]byte, 0, keyLen)
	key = append(key, keyPrefix...)
	key = append(key, byte(cfg.Format.Width), byte(cfg.Format.Frac), byte(cfg.Strategy))
	for _, v := range []fixed.Value{req.Spot, req.Strike, req.Time, req.Volatility, req.Rate} {
		key = binary.BigEndian.AppendUint64(key, uint64(v))
	}
	return append(key, byte(req.Type))
}

// Lookup returns a cached result for req, if any
func (c *Cache) Lookup(cfg fpga.PipelineConfig, req fpga.PricingRequest) (fpga.PricingResult, bool) {
	raw, err := c.db.Get(Key(cfg, req))
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			c.logger.Warn("Cache read failed", "error", err)
		}
		c.misses.Add(1)
		return fpga.PricingResult{}, false
	}
	res, err := decodeResult(raw)
	if err != nil {
		c.logger.Warn("Dropping corrupt cache entry", "error", err)
		c.misses.Add(1)
		return fpga.PricingResult{}, false
	}
	c.hits.Add(1)
	return res, true
}

// Store caches a successful result. Failed runs are not stored.
func (c *Cache) Store(cfg fpga.PipelineConfig, req fpga.PricingRequest, res fpga.PricingResult) {
	if res.Err != nil {
		return
	}
	if err := c.db.Put(Key(cfg, req), encodeResult(res)); err != nil {
		c.logger.Warn("Cache write failed", "error", err)
	}
}

// Purge deletes every cached result and returns how many were removed
func (c *Cache) Purge() (int, error) {
	it := c.db.NewIteratorWithPrefix(keyPrefix)
	defer it.Release()

	batch := c.db.NewBatch()
	n := 0
	for it.Next() {
		if err := batch.Delete(it.Key()); err != nil {
			return 0, fmt.Errorf("failed to queue delete: %w", err)
		}
		n++
	}
	if err := it.Error(); err != nil {
		return 0, fmt.Errorf("failed to scan cache: %w", err)
	}
	if err := batch.Write(); err != nil {
		return 0, fmt.Errorf("failed to purge cache: %w", err)
	}
	c.logger.Info("Purged pricing cache", "entries", n)
	return n, nil
}

// Stats returns lookup hit and miss counts
func (c *Cache) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}

func encodeResult(res fpga.PricingResult) []byte {
	buf := make([]byte, 0, valueLen)
	for _, v := range []fixed.Value{res.D1, res.D2, res.Nd1, res.Nd2, res.Discount, res.Call, res.Put, res.Price} {
		buf = binary.BigEndian.AppendUint64(buf, uint64(v))
	}
	return binary.BigEndian.AppendUint64(buf, res.Ticks)
}

func decodeResult(raw []byte) (fpga.PricingResult, error) {
	if len(raw) < valueLen {
		return fpga.PricingResult{}, fmt.Errorf("%w: %d bytes", errShortValue, len(raw))
	}
	var vals [8]fixed.Value
	for i := range vals {
		vals[i] = fixed.Value(binary.BigEndian.Uint64(raw[i*8:]))
	}
	return fpga.PricingResult{
		D1:       vals[0],
		D2:       vals[1],
		Nd1:      vals[2],
		Nd2:      vals[3],
		Discount: vals[4],
		Call:     vals[5],
		Put:      vals[6],
		Price:    vals[7],
		Ticks:    binary.BigEndian.Uint64(raw[64:]),
	}, nil
}
