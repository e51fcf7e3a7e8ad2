package participant

import (
	"context"
	"io/fs"

	sharedconfig "github.com/draftea/pizza-saga/shared/config"
	"github.com/draftea/pizza-saga/shared/infrastructure"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// StoreOptions describes how a participant persists its aggregate
type StoreOptions[A Aggregate[A]] struct {
	// Name namespaces redis keys
	Name string
	// Migrations holds the goose migrations under "migrations"
	Migrations  fs.FS
	NewPostgres func(db *sqlx.DB) Repository[A]
}

// Store is an opened repository together with the connection behind it
type Store[A Aggregate[A]] struct {
	Repository Repository[A]
	close      func() error
}

// OpenStore opens the repository named by cfg.Storage.Driver
func OpenStore[A Aggregate[A]](ctx context.Context, cfg sharedconfig.Infrastructure, opts StoreOptions[A]) (*Store[A], error) {
	switch cfg.Storage.Driver {
	case sharedconfig.StorageMemory:
		return &Store[A]{Repository: NewMemoryRepository[A](), close: func() error { return nil }}, nil

	case sharedconfig.StoragePostgres:
		db, err := infrastructure.ConnectPostgres(ctx, cfg.Database.DSN())
		if err != nil {
			return nil, err
		}
		if cfg.Database.Migrate {
			if err := infrastructure.Migrate(ctx, db, opts.Migrations, "migrations"); err != nil {
				_ = db.Close()
				return nil, err
			}
		}
		return &Store[A]{Repository: opts.NewPostgres(db), close: db.Close}, nil

	case sharedconfig.StorageRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, errors.Wrap(err, "failed to ping redis")
		}
		return &Store[A]{Repository: NewRedisRepository[A](client, cfg.Redis.KeyPrefix, opts.Name), close: client.Close}, nil
	}

	return nil, errors.Errorf("unknown storage driver %q", cfg.Storage.Driver)
}

// Close releases the connection behind the repository
func (s *Store[A]) Close() error {
	return s.close()
}
