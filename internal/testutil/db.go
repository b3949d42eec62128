package testutil

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/xxxsen/sharegate/internal/config"
	"github.com/xxxsen/sharegate/internal/db"
	"github.com/xxxsen/sharegate/internal/pkg/dbutil"
)

// OpenTestDB returns a migrated database. It is an in-memory sqlite database
// unless TEST_DB_HOST points at a postgres server, in which case the tables
// are emptied first.
func OpenTestDB(t *testing.T) *db.DB {
	t.Helper()
	cfg := config.DatabaseConfig{Driver: dbutil.DriverSQLite, DSN: ":memory:"}
	if host := os.Getenv("TEST_DB_HOST"); host != "" {
		cfg = config.DatabaseConfig{
			Driver:   dbutil.DriverPostgres,
			Host:     host,
			Port:     5432,
			User:     "sharegate",
			Password: "sharegate_pass",
			DBName:   "sharegate_test",
			SSLMode:  "disable",
		}
	}
	conn, err := db.Open(cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.ApplyMigrations(conn); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	if cfg.Driver == dbutil.DriverPostgres {
		truncate(t, conn)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}

func truncate(t *testing.T, conn *db.DB) {
	t.Helper()
	tables := []string{"share_files", "shares", "reverse_shares", "users"}
	if _, err := conn.ExecContext(context.Background(), "TRUNCATE "+strings.Join(tables, ", ")); err != nil {
		t.Fatalf("truncate: %v", err)
	}
}
