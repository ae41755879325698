package postgres

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/henrisama/dexscreener/internal/models"
	"github.com/henrisama/dexscreener/internal/storage"
)

// setupTestDB starts a PostgreSQL container and applies the schema.
// It skips the test when no container provider is available.
func setupTestDB(t *testing.T) *Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err, "failed to create pool")
	require.NoError(t, pool.Migrate(ctx))
	// applying twice must be harmless
	require.NoError(t, pool.Migrate(ctx))

	t.Cleanup(func() {
		pool.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})
	return pool
}

func TestLedger(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()

	t.Run("open is idempotent", func(t *testing.T) {
		l := NewLedger(pool, 0)
		opened, err := l.Open(ctx, "MintOne", "One", "ONE", models.EventPump, "tx-1")
		require.NoError(t, err)
		assert.True(t, opened)

		opened, err = l.Open(ctx, "mintone", "Other", "OTH", models.EventTierOne, "tx-2")
		require.NoError(t, err)
		assert.False(t, opened)

		p, err := l.Get(ctx, "MINTONE")
		require.NoError(t, err)
		assert.Equal(t, "MintOne", p.Token)
		assert.Equal(t, "tx-1", p.EntryTxRef)
		assert.True(t, p.Held)
		assert.Nil(t, p.ClosedAt)
	})

	t.Run("close transitions held once", func(t *testing.T) {
		l := NewLedger(pool, 0)
		_, err := l.Open(ctx, "MintTwo", "Two", "TWO", models.EventPump, "tx-buy")
		require.NoError(t, err)

		closed, err := l.ClosePosition(ctx, "minttwo", models.EventRugPull, "tx-sell")
		require.NoError(t, err)
		assert.True(t, closed)

		closed, err = l.ClosePosition(ctx, "MintTwo", models.EventRugPull, "tx-again")
		require.NoError(t, err)
		assert.False(t, closed)

		p, err := l.Get(ctx, "MintTwo")
		require.NoError(t, err)
		assert.False(t, p.Held)
		assert.Equal(t, models.EventRugPull, p.EventTag)
		assert.Equal(t, "tx-sell", p.ExitTxRef)
		require.NotNil(t, p.ClosedAt)

		opened, err := l.Open(ctx, "MintTwo", "Two", "TWO", models.EventPump, "tx-3")
		require.NoError(t, err)
		assert.False(t, opened, "closed records are terminal")

		closed, err = l.ClosePosition(ctx, "Missing", models.EventRugPull, "tx")
		require.NoError(t, err)
		assert.False(t, closed)
	})

	t.Run("list open and all", func(t *testing.T) {
		l := NewLedger(pool, 0)
		open, err := l.ListOpen(ctx)
		require.NoError(t, err)
		for _, p := range open {
			assert.True(t, p.Held)
		}
		all, err := l.ListAll(ctx)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(all), len(open))
	})

	t.Run("get not found", func(t *testing.T) {
		_, err := NewLedger(pool, 0).Get(ctx, "nope")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("observations are capped", func(t *testing.T) {
		l := NewLedger(pool, 2)
		base := time.Now()
		for i := 0; i < 4; i++ {
			require.NoError(t, l.RecordObservation(ctx, models.Observation{
				Token:      "MintObs",
				Metrics:    models.Metrics{PriceUSD: math.NaN(), Change7d: 12.5, FDV: float64(i)},
				EventTag:   models.EventPump,
				ObservedAt: base.Add(time.Duration(i) * time.Second),
			}))
		}
		obs, err := l.RecentObservations(ctx, 10)
		require.NoError(t, err)
		require.Len(t, obs, 2)
		assert.Equal(t, 3.0, obs[0].Metrics.FDV)
		assert.Equal(t, 12.5, obs[0].Metrics.Change7d)
		assert.True(t, math.IsNaN(obs[0].Metrics.PriceUSD))
		assert.Equal(t, models.EventPump, obs[0].EventTag)
	})
}
