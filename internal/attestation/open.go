package attestation

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/concord-cpg-engine/internal/config"
	"github.com/concord-cpg-engine/internal/database"
	"github.com/concord-cpg-engine/internal/domain"
)

// Open returns the store selected by cfg.Attestation.Store, or nil for "none".
// Postgres and Redis stores are wrapped in a circuit breaker; Postgres runs the
// embedded migrations first when database.migrate is set.
func Open(ctx context.Context, cfg *domain.Config, logger *logrus.Logger) (Store, error) {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	switch strings.ToLower(cfg.Attestation.Store) {
	case "", "none":
		return nil, nil

	case "sqlite":
		store, err := NewSQLiteStore(cfg.Attestation.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite attestation store: %w", err)
		}
		return store, nil

	case "postgres":
		if cfg.Database.Migrate {
			if err := migrateUp(ctx, config.DatabaseConnectionString(cfg.Database), logger); err != nil {
				return nil, err
			}
		}
		db, err := database.NewConnection(ctx, cfg.Database, logger)
		if err != nil {
			return nil, fmt.Errorf("opening postgres attestation store: %w", err)
		}
		store, err := NewPostgresStore(db.SQL())
		if err != nil {
			db.Close()
			return nil, err
		}
		return NewBreakerStore("postgres-attestations", &pooledStore{PostgresStore: store, db: db}, cfg.Breaker, logger), nil

	case "redis":
		store, err := NewRedisStore(ctx, cfg.Redis.URL, cfg.Redis.TTL)
		if err != nil {
			return nil, fmt.Errorf("opening redis attestation store: %w", err)
		}
		return NewBreakerStore("redis-attestations", store, cfg.Breaker, logger), nil
	}
	return nil, fmt.Errorf("unknown attestation store %q", cfg.Attestation.Store)
}

func migrateUp(ctx context.Context, url string, logger *logrus.Logger) error {
	runner, err := database.NewMigrationRunner(url, "", logger)
	if err != nil {
		return err
	}
	defer runner.Close()
	return runner.Up(ctx)
}

// pooledStore closes the pgx pool along with the store.
type pooledStore struct {
	*PostgresStore
	db *database.DB
}

func (s *pooledStore) Close() error {
	s.db.Close()
	return nil
}
