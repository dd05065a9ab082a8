// Package db provides a pgxpool-based connection pool with schema bootstrap,
// prepared statement registration and health checking.
package db

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/climaguard/alerts/internal/config"
)

//go:embed schema.sql
var schemaSQL string

//go:embed schema_postgis.sql
var postgisSQL string

// Querier is the subset of pgxpool.Pool the stores depend on.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Pool wraps pgxpool.Pool with application-specific helpers.
type Pool struct {
	*pgxpool.Pool
}

// New applies the schema, then creates and validates a connection pool.
func New(ctx context.Context, cfg *config.Config) (*Pool, error) {
	if err := Migrate(ctx, cfg.DatabaseURL, cfg.UsePostGIS()); err != nil {
		return nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolCfg.MinConns = int32(cfg.DBPoolMinConns)
	poolCfg.MaxConns = int32(cfg.DBPoolMaxConns)
	poolCfg.MaxConnLifetime = cfg.DBPoolMaxLife
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	// Register prepared statements on every new connection.
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return registerPreparedStatements(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	// Verify connectivity
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// Migrate applies the idempotent schema on a dedicated connection. With
// postgis set it also installs the extension and the spatial indexes.
func Migrate(ctx context.Context, databaseURL string, postgis bool) error {
	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		return fmt.Errorf("connect for migration: %w", err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	if postgis {
		if _, err := conn.Exec(ctx, postgisSQL); err != nil {
			return fmt.Errorf("apply postgis schema: %w", err)
		}
	}
	return nil
}

// HealthCheck runs a trivial query to verify the database is reachable.
func (p *Pool) HealthCheck(ctx context.Context) error {
	var n int
	return p.QueryRow(ctx, "health_check").Scan(&n)
}

// Column lists shared by the statements and the row scanners in the stores.
const (
	SubscriptionColumns = "id::text, endpoint, p256dh, auth, lat, lng, user_agent, created_at, updated_at"
	AlertColumns        = "id::text, type, severity, title, message, affected_area, radius_km, triggered_at, expires_at, " +
		"notified_subscription_ids::text[], total_users_notified, dispatch_status, dispatched_at"
)

// registerPreparedStatements registers all statements the API, scheduler and
// maintenance layers use. PostGIS queries are not prepared here because the
// extension may be absent.
func registerPreparedStatements(ctx context.Context, conn *pgx.Conn) error {
	stmts := map[string]string{
		// Health
		"health_check": "SELECT 1",

		// Subscriptions
		"subscription_upsert": `
			INSERT INTO subscriptions (id, endpoint, p256dh, auth, lat, lng, user_agent, created_at, updated_at)
			VALUES ($1::text::uuid, $2, $3, $4, $5, $6, $7, $8, $8)
			ON CONFLICT (endpoint) DO UPDATE SET
				p256dh = EXCLUDED.p256dh,
				auth = EXCLUDED.auth,
				lat = EXCLUDED.lat,
				lng = EXCLUDED.lng,
				user_agent = EXCLUDED.user_agent,
				updated_at = EXCLUDED.updated_at
			RETURNING ` + SubscriptionColumns + `, (xmax = 0) AS inserted`,
		"subscription_by_endpoint":        "SELECT " + SubscriptionColumns + " FROM subscriptions WHERE endpoint = $1",
		"subscription_delete":             "DELETE FROM subscriptions WHERE endpoint = $1",
		"subscription_delete_many":        "DELETE FROM subscriptions WHERE endpoint = ANY($1::text[])",
		"subscription_distinct_locations": "SELECT DISTINCT lat, lng FROM subscriptions ORDER BY lat, lng LIMIT $1",
		"subscription_in_box": "SELECT " + SubscriptionColumns + ` FROM subscriptions
			WHERE lat BETWEEN $1 AND $2 AND lng BETWEEN $3 AND $4`,

		// Alerts
		"alert_insert": `
			INSERT INTO alerts (id, type, severity, title, message, affected_area, radius_km,
				min_lat, max_lat, min_lng, max_lng, triggered_at, expires_at)
			VALUES ($1::text::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		"alert_record_notified": `
			UPDATE alerts SET
				notified_subscription_ids = notified_subscription_ids || $2::text[]::uuid[],
				total_users_notified = $3,
				dispatch_status = 'dispatched',
				dispatched_at = $4
			WHERE id = $1::text::uuid AND dispatch_status = 'pending'`,
		"alert_dispatch_status": "SELECT dispatch_status FROM alerts WHERE id = $1::text::uuid",
		"alert_by_id":           "SELECT " + AlertColumns + " FROM alerts WHERE id = $1::text::uuid",
		"alert_active_in_box": "SELECT " + AlertColumns + ` FROM alerts
			WHERE expires_at > $1
			  AND min_lat <= $2 AND max_lat >= $2
			  AND min_lng <= $3 AND max_lng >= $3
			ORDER BY triggered_at DESC, id DESC
			LIMIT $4 OFFSET $5`,
		"alert_undispatched_count": `
			SELECT COUNT(*) FROM alerts
			WHERE dispatch_status = 'pending' AND triggered_at < $1`,
		"alert_active_count": "SELECT COUNT(*) FROM alerts WHERE expires_at > $1",
	}

	for name, sql := range stmts {
		if _, err := conn.Prepare(ctx, name, sql); err != nil {
			return fmt.Errorf("prepare %q: %w", name, err)
		}
	}
	return nil
}
