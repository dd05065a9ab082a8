//go:build integration

package dbtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/climaguard/alerts/internal/config"
	"github.com/climaguard/alerts/internal/db"
)

// PostGISImage carries both plain Postgres and the postgis extension, so it
// serves either GEO_INDEX backend.
const PostGISImage = "postgis/postgis:16-3.4"

// StartPostgres runs a throwaway database, applies the schema and returns a
// pool that is closed when the test ends.
func StartPostgres(ctx context.Context, t *testing.T, geoIndex string) *db.Pool {
	t.Helper()

	ctr, err := postgres.Run(ctx, PostGISImage,
		postgres.WithDatabase("climaguard"),
		postgres.WithUsername("climaguard"),
		postgres.WithPassword("secret"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err, "start postgres container")

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	cfg := &config.Config{
		DatabaseURL:    dsn,
		DBPoolMinConns: 1,
		DBPoolMaxConns: 4,
		DBPoolMaxLife:  time.Hour,
		GeoIndex:       geoIndex,
	}
	pool, err := db.New(ctx, cfg)
	require.NoError(t, err, "connect to postgres container")
	t.Cleanup(pool.Close)
	return pool
}
