package storage

import (
	"testing"

	"streamlink/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return newTestStoreWithOptions(t, Options{})
}

func newTestStoreWithOptions(t *testing.T, opts Options) *Store {
	t.Helper()

	store, _, err := Open(t.TempDir(), opts)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close test store: %v", err)
		}
	})

	return store
}

func mustSaveHost(t *testing.T, store *Store, uuid, name string, apps ...*models.App) models.Host {
	t.Helper()

	host := models.Host{
		UUID:         uuid,
		Name:         name,
		LocalAddress: "192.168.1.20",
		HTTPSPort:    47984,
		PairState:    models.PairStateUnpaired,
		Apps:         apps,
	}
	if err := store.SaveHost(host); err != nil {
		t.Fatalf("save host %q: %v", uuid, err)
	}

	return host
}
