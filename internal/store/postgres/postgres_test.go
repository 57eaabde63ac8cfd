package postgres_test

import (
	"os"
	"testing"

	"github.com/driveguard/driveguard-go/internal/store"
	_ "github.com/driveguard/driveguard-go/internal/store/postgres"
	"github.com/driveguard/driveguard-go/internal/store/testutil"
)

// TestPostgresDriver needs a reachable database, e.g.
//
//	docker run --rm -e POSTGRES_PASSWORD=test -p 5432:5432 postgres:16
//	DRIVEGUARD_TEST_PG_DSN="host=localhost user=postgres password=test sslmode=disable" go test ./internal/store/postgres
func TestPostgresDriver(t *testing.T) {
	dsn := os.Getenv("DRIVEGUARD_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("DRIVEGUARD_TEST_PG_DSN not set")
	}

	cfg := &store.DriverConfig{
		Driver: "postgres",
		DSN:    dsn,
	}

	testutil.RunDriverTests(t, "postgres", cfg)
}

func TestPostgresDriverRequiresDSN(t *testing.T) {
	_, err := store.New(&store.DriverConfig{Driver: "postgres"})
	if err == nil {
		t.Error("expected error for empty dsn")
	}
}
