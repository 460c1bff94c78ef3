package core

import (
	"fmt"
	"io"

	"familytree/internal/config"
	"familytree/internal/infra/persistence/memory"
	"familytree/internal/infra/persistence/postgres"
	"familytree/internal/infra/persistence/relational"
	"familytree/internal/infra/persistence/sqlite"
	"familytree/pkg/domain"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory     StorageDriver = "memory"     // in-memory only (tests / ephemeral)
	StorageSQLite     StorageDriver = "sqlite"     // embedded sqlite snapshot file
	StoragePostgres   StorageDriver = "postgres"   // PostgreSQL server
	StorageRelational StorageDriver = "relational" // normalized tables via gorm
)

type (
	Transaction     = domain.Transaction
	TransactionView = domain.TransactionView
	PersistentStore = domain.PersistentStore
)

// OpenPersistentStore selects a backend from cfg. An empty driver means sqlite.
func OpenPersistentStore(cfg config.StorageConfig, engine *RulesEngine) (PersistentStore, error) {
	return openPersistentStore(cfg, engine, nil)
}

func openPersistentStore(cfg config.StorageConfig, engine *RulesEngine, gormLog io.Writer) (PersistentStore, error) {
	driver := StorageDriver(cfg.Driver)
	if driver == "" {
		driver = StorageSQLite
	}
	var (
		store PersistentStore
		err   error
	)
	switch driver {
	case StorageMemory:
		return memory.NewStore(engine), nil
	case StorageSQLite:
		var s *sqlite.Store
		s, err = sqlite.NewStore(cfg.SQLitePath, engine)
		store = s
	case StoragePostgres:
		var s *postgres.Store
		s, err = postgres.NewStore(cfg.PostgresDSN, engine)
		store = s
	case StorageRelational:
		var s *relational.Store
		s, err = relational.NewStore(relational.Config{
			Path:          cfg.RelationalPath,
			LogLevel:      cfg.GormLogLevel,
			SlowThreshold: cfg.GormSlowQuery,
			LogWriter:     gormLog,
		}, engine)
		store = s
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", driver, err)
	}
	return store, nil
}
