package backend

import (
	"context"
	"fmt"

	"backoffice/internal/log"
	"backoffice/internal/storage"
	"backoffice/internal/store"
	"backoffice/internal/store/memory"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.Discard()
	}
	return &DefaultFactory{
		logger: logger.WithComponent(log.ComponentBackend),
	}
}

// CreateBackend opens the configured store, runs migrations for SQL backends
// and loads the seed file when one is configured.
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var (
		st  store.Store
		err error
	)
	switch config.Type {
	case MemoryBackend:
		st = memory.New()
		f.logger.Info("Initialized memory backend")
	case SQLiteBackend:
		st, err = storage.NewSQLiteRepository(config.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
		}
		f.logger.Info("Initialized SQLite backend", "db_path", config.SQLiteDBPath)
	case PostgresBackend:
		st, err = storage.NewPostgresRepository(config.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Postgres repository: %w", err)
		}
		f.logger.Info("Initialized Postgres backend")
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}

	seeded, err := store.LoadSeedFile(ctx, st, config.TenantID, config.SeedFile)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("load seed file: %w", err)
	}
	if seeded > 0 {
		f.logger.Info("Loaded seed data", log.FieldCount, seeded, "file", config.SeedFile)
	}

	return &BackendResult{
		Store:   st,
		Cleanup: st.Close,
		Seeded:  seeded,
	}, nil
}
