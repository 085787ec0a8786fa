package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/luxfi/database/memdb"
	"github.com/luxfi/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/bsfpga/pkg/fixed"
	"github.com/luxfi/bsfpga/pkg/fpga"
)

func testLogger() log.Logger {
	level, _ := log.ToLevel("debug")
	return log.NewTestLogger(level)
}

func request(t *testing.T, spot, strike, tm, sigma, rate string) fpga.PricingRequest {
	t.Helper()
	parse := func(s string) fixed.Value {
		v, err := fixed.Q16_16.ParseDecimal(s)
		require.NoError(t, err)
		return v
	}
	return fpga.PricingRequest{
		Spot:       parse(spot),
		Strike:     parse(strike),
		Time:       parse(tm),
		Volatility: parse(sigma),
		Rate:       parse(rate),
	}
}

func TestCacheRoundTrip(t *testing.T) {
	c := New(memdb.New(), testLogger())
	cfg := fpga.DefaultPipelineConfig()
	req := request(t, "100", "100", "1", "0.2", "0.05")

	_, ok := c.Lookup(cfg, req)
	assert.False(t, ok)

	p, err := fpga.NewPipeline(cfg)
	require.NoError(t, err)
	res, err := p.Price(req)
	require.NoError(t, err)
	require.NoError(t, res.Err)

	c.Store(cfg, req, res)
	got, ok := c.Lookup(cfg, req)
	require.True(t, ok)
	assert.Equal(t, res, got)

	hits, misses := c.Stats()
	assert.Equal(t, uint64(1), hits)
	assert.Equal(t, uint64(1), misses)
}

func TestCacheKeySeparatesConfigurations(t *testing.T) {
	req := request(t, "100", "90", "0.5", "0.25", "0.03")
	rational := fpga.DefaultPipelineConfig()
	table := rational
	table.Strategy = fpga.CDFTable
	serial := rational
	serial.Joint = fpga.JointSerial

	assert.NotEqual(t, Key(rational, req), Key(table, req))
	assert.Equal(t, Key(rational, req), Key(serial, req))

	put := req
	put.Type = fpga.Put
	assert.NotEqual(t, Key(rational, req), Key(rational, put))
	assert.Len(t, Key(rational, req), keyLen)
}

func TestCacheSkipsFailedRuns(t *testing.T) {
	db := memdb.New()
	c := New(db, testLogger())
	cfg := fpga.DefaultPipelineConfig()

	c.Store(cfg, request(t, "1", "0", "1", "1", "1"), fpga.PricingResult{Err: fpga.ErrDivideByZero})
	assert.Empty(t, db.GetDatabase())
}

func TestCacheCorruptEntry(t *testing.T) {
	db := memdb.New()
	c := New(db, testLogger())
	cfg := fpga.DefaultPipelineConfig()
	req := request(t, "1", "1", "1", "1", "1")

	require.NoError(t, db.Put(Key(cfg, req), []byte{1, 2, 3}))
	_, ok := c.Lookup(cfg, req)
	assert.False(t, ok)
}

func TestCachePurge(t *testing.T) {
	db := memdb.New()
	c := New(db, testLogger())
	cfg := fpga.DefaultPipelineConfig()

	require.NoError(t, db.Put([]byte("other"), []byte("kept")))
	for _, s := range []string{"90", "100", "110"} {
		c.Store(cfg, request(t, s, "100", "1", "0.2", "0.05"), fpga.PricingResult{Price: 1})
	}
	require.Len(t, db.GetDatabase(), 4)

	n, err := c.Purge()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Len(t, db.GetDatabase(), 1)

	has, err := db.Has([]byte("other"))
	require.NoError(t, err)
	assert.True(t, has)
}

func TestCacheWithManager(t *testing.T) {
	c := New(memdb.New(), testLogger())
	m, err := fpga.NewManager(fpga.ManagerConfig{
		Pipeline: fpga.DefaultPipelineConfig(),
		Devices:  2,
	}, testLogger(), fpga.WithCache(c))
	require.NoError(t, err)

	req := request(t, "50", "55", "2", "0.3", "0.01")
	first, err := m.Price(context.Background(), req)
	require.NoError(t, err)
	second, err := m.Price(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, uint64(1), m.CacheHits())
}

func TestOpenDatabaseInMemory(t *testing.T) {
	db, err := OpenDatabase("", nil, testLogger())
	require.NoError(t, err)
	defer db.Close()

	_, ok := db.(*memdb.Database)
	assert.True(t, ok)
}

func TestOpenDatabasePersists(t *testing.T) {
	dir := t.TempDir()
	cfg := fpga.DefaultPipelineConfig()
	req := request(t, "100", "100", "1", "0.2", "0.05")
	want := fpga.PricingResult{Price: 684918, Call: 684918, Put: 2060267, Ticks: 131}

	db, err := OpenDatabase(dir, nil, testLogger())
	require.NoError(t, err)
	_, inMemory := db.(*memdb.Database)
	require.False(t, inMemory)
	New(db, testLogger()).Store(cfg, req, want)
	require.NoError(t, db.Close())

	db, err = OpenDatabase(dir, nil, testLogger())
	require.NoError(t, err)
	defer db.Close()

	got, ok := New(db, testLogger()).Lookup(cfg, req)
	require.True(t, ok)
	assert.Equal(t, want, got)

	info, err := os.Stat(filepath.Join(dir, DatabaseName))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestOpenDatabaseFallsBackToMemory(t *testing.T) {
	// A regular file where the data directory should be
	path := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	db, err := OpenDatabase(path, nil, testLogger())
	require.NoError(t, err)
	defer db.Close()

	_, ok := db.(*memdb.Database)
	assert.True(t, ok)
}
