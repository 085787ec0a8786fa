package cache

import (
	"fmt"

	"github.com/luxfi/database"
	"github.com/luxfi/database/manager"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
)

// DatabaseName is the directory of the persistent store under the data dir
const DatabaseName = "pricecache"

// OpenDatabase returns the store behind the cache. An empty dataDir selects
// an in-memory database. Otherwise results persist in BadgerDB under
// dataDir, falling back to memory when it cannot be opened.
func OpenDatabase(dataDir string, registerer prometheus.Registerer, logger log.Logger) (database.Database, error) {
	if logger == nil {
		logger = log.Root().New("module", "cache")
	}
	if dataDir == "" {
		logger.Info("Using in-memory pricing cache")
		return memdb.New(), nil
	}

	dbManager := manager.NewManager(dataDir, registerer)
	dbConfig := manager.DefaultBadgerDBConfig(DatabaseName)
	dbConfig.Namespace = "bsfpga_cache"

	db, err := dbManager.New(dbConfig)
	if err != nil {
		logger.Warn("Failed to open BadgerDB", "path", dataDir, "error", err)
		db, err = dbManager.New(manager.DefaultMemoryConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
		logger.Info("Using in-memory pricing cache")
		return db, nil
	}

	logger.Info("BadgerDB pricing cache opened", "path", dataDir, "name", DatabaseName)
	return db, nil
}
