package store_test

import (
	"testing"

	"github.com/driveguard/driveguard-go/internal/store"
	_ "github.com/driveguard/driveguard-go/internal/store/postgres"
	_ "github.com/driveguard/driveguard-go/internal/store/sqlite"
)

func TestRegistryKnowsBothDrivers(t *testing.T) {
	names := store.AvailableDrivers()
	want := map[string]bool{"sqlite": false, "postgres": false}
	for _, n := range names {
		if _, ok := want[n]; ok {
			want[n] = true
		}
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("driver %q not registered", name)
		}
	}
}

func TestRegistryUnknownDriver(t *testing.T) {
	_, err := store.New(&store.DriverConfig{Driver: "etcd"})
	if err == nil {
		t.Error("expected error for unknown driver")
	}
}
