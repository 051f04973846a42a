package testutil

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// OpenTestDB connects to the onboarding database for integration tests.
// It skips unless RUN_DB_INTEGRATION is set or when the database cannot be
// reached. Connection settings use the service's DB_* variables, then the
// POSTGRES_* ones.
func OpenTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if os.Getenv("RUN_DB_INTEGRATION") == "" {
		t.Skip("set RUN_DB_INTEGRATION=1 to run")
	}

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		dbEnv("USER", "onboarding"),
		dbEnv("PASSWORD", "onboarding"),
		dbEnv("HOST", "localhost"),
		dbEnv("PORT", "5432"),
		dbEnv("NAME", "onboarding"),
		dbEnv("SSLMODE", "disable"),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Skipf("db connection failed: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Skipf("db ping failed: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

// CountRows runs a COUNT query and fails the test on error.
func CountRows(t *testing.T, pool *pgxpool.Pool, query string, args ...any) int {
	t.Helper()
	var n int
	if err := pool.QueryRow(context.Background(), query, args...).Scan(&n); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	return n
}

func dbEnv(name, fallback string) string {
	if v := os.Getenv("DB_" + name); v != "" {
		return v
	}
	postgres := name
	if name == "NAME" {
		postgres = "DB"
	}
	if v := os.Getenv("POSTGRES_" + postgres); v != "" {
		return v
	}
	return fallback
}
