package participant

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	sharedconfig "github.com/draftea/pizza-saga/shared/config"
	"github.com/draftea/pizza-saga/shared/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func repositories(t *testing.T) map[string]Repository[*ticket] {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })

	repos := map[string]Repository[*ticket]{
		"memory": NewMemoryRepository[*ticket](),
		"redis":  NewRedisRepository[*ticket](client, "test", "kitchen"),
	}
	if os.Getenv("DATABASE_URL") != "" {
		db, table := postgresTable(t)
		repos["postgres"] = NewPostgresRepository[*ticket](db, table)
	}
	return repos
}

func TestRepository_CreateIfAbsent(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			orderID := models.GenerateUUID()
			first := newTicket(orderID)

			stored, created, err := repo.CreateIfAbsent(ctx, first)
			require.NoError(t, err)
			assert.True(t, created)
			assert.Equal(t, first.ID, stored.ID)

			stored, created, err = repo.CreateIfAbsent(ctx, newTicket(orderID))
			require.NoError(t, err)
			assert.False(t, created)
			assert.Equal(t, first.ID, stored.ID)

			all, err := repo.FindAll(ctx)
			require.NoError(t, err)
			assert.Len(t, all, 1)
		})
	}
}

func TestRepository_FindByOrderIDNotFound(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			_, err := repo.FindByOrderID(context.Background(), models.GenerateUUID())
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestRepository_UpdateIsCompareAndSwap(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			orderID := models.GenerateUUID()
			_, _, err := repo.CreateIfAbsent(ctx, newTicket(orderID))
			require.NoError(t, err)

			a, err := repo.FindByOrderID(ctx, orderID)
			require.NoError(t, err)
			b, err := repo.FindByOrderID(ctx, orderID)
			require.NoError(t, err)

			a.Status, a.Version = ticketDone, a.Version.Update()
			b.Status, b.Version = ticketFailed, b.Version.Update()

			require.NoError(t, repo.Update(ctx, a))
			assert.ErrorIs(t, repo.Update(ctx, b), ErrConcurrentUpdate)

			stored, err := repo.FindByOrderID(ctx, orderID)
			require.NoError(t, err)
			assert.Equal(t, ticketDone, stored.Status)
			assert.Equal(t, 2, stored.CurrentVersion())
		})
	}
}

func TestRepository_UpdateUnknownRecord(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			tk := newTicket(models.GenerateUUID())
			tk.Version = tk.Version.Update()
			assert.ErrorIs(t, repo.Update(context.Background(), tk), ErrNotFound)
		})
	}
}

func TestRepository_ConcurrentCreateHasOneWinner(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			orderID := models.GenerateUUID()
			var (
				wg   sync.WaitGroup
				mu   sync.Mutex
				wins int
			)
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, created, err := repo.CreateIfAbsent(context.Background(), newTicket(orderID))
					assert.NoError(t, err)
					if created {
						mu.Lock()
						wins++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, 1, wins)
		})
	}
}

func TestRepository_FindAllKeepsCreationOrder(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var ids []models.ID
			for i := 0; i < 3; i++ {
				tk := newTicket(models.GenerateUUID())
				ids = append(ids, tk.OrderID)
				_, _, err := repo.CreateIfAbsent(ctx, tk)
				require.NoError(t, err)
			}

			all, err := repo.FindAll(ctx)
			require.NoError(t, err)
			require.Len(t, all, 3)
			for i, tk := range all {
				assert.Equal(t, ids[i], tk.OrderID)
			}
		})
	}
}

func TestOpenStore(t *testing.T) {
	srv := miniredis.RunT(t)

	tests := []struct {
		name    string
		cfg     sharedconfig.Infrastructure
		wantErr bool
	}{
		{name: "memory", cfg: sharedconfig.Infrastructure{Storage: sharedconfig.Storage{Driver: sharedconfig.StorageMemory}}},
		{
			name: "redis",
			cfg: sharedconfig.Infrastructure{
				Storage: sharedconfig.Storage{Driver: sharedconfig.StorageRedis},
				Redis:   sharedconfig.Redis{Addr: srv.Addr(), KeyPrefix: "test"},
			},
		},
		{name: "unknown driver", cfg: sharedconfig.Infrastructure{Storage: sharedconfig.Storage{Driver: "cassandra"}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := OpenStore(context.Background(), tt.cfg, StoreOptions[*ticket]{Name: "kitchen"})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer store.Close()

			ctx := context.Background()
			orderID := models.GenerateUUID()
			_, created, err := store.Repository.CreateIfAbsent(ctx, newTicket(orderID))
			require.NoError(t, err)
			assert.True(t, created)

			stored, err := store.Repository.FindByOrderID(ctx, orderID)
			require.NoError(t, err)
			assert.Equal(t, orderID, stored.OrderID)
		})
	}
}
