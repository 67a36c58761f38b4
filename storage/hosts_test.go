package storage

import (
	"errors"
	"testing"

	"streamlink/models"
)

func TestSaveAndGetHost(t *testing.T) {
	store := newTestStore(t)

	host := models.Host{
		UUID:                   "host-1",
		Name:                   "Gaming PC",
		LocalAddress:           "192.168.1.20",
		ExternalAddress:        "203.0.113.7",
		MAC:                    "aa:bb:cc:dd:ee:ff",
		HTTPSPort:              47984,
		ServerCert:             []byte("cert"),
		PairState:              models.PairStatePaired,
		ServerCodecModeSupport: 0x0301,
		IsNvidiaServerSoftware: true,
		Apps: []*models.App{
			{ID: "1", Name: "Desktop"},
			{ID: "2", Name: "Steam", HDRSupported: true, Hidden: true},
		},
	}
	if err := store.SaveHost(host); err != nil {
		t.Fatalf("SaveHost failed: %v", err)
	}

	got, err := store.GetHost("host-1")
	if err != nil {
		t.Fatalf("GetHost failed: %v", err)
	}
	if got.Name != "Gaming PC" || got.MAC != "aa:bb:cc:dd:ee:ff" || got.HTTPSPort != 47984 {
		t.Fatalf("unexpected host fields: %+v", got)
	}
	if got.PairState != models.PairStatePaired || string(got.ServerCert) != "cert" {
		t.Fatalf("expected paired host with cert, got %s / %q", got.PairState, got.ServerCert)
	}
	if got.ActiveAddress != "192.168.1.20" {
		t.Fatalf("expected active address to prefer local, got %q", got.ActiveAddress)
	}
	if len(got.Apps) != 2 || got.Apps[0].ID != "1" || got.Apps[1].ID != "2" {
		t.Fatalf("unexpected apps: %+v", got.Apps)
	}
	if !got.Apps[1].Hidden || !got.Apps[1].HDRSupported || got.Apps[1].HostUUID != "host-1" {
		t.Fatalf("expected app flags to round trip, got %+v", got.Apps[1])
	}

	if _, err := store.GetHost("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveHostWithoutCertIsUnpaired(t *testing.T) {
	store := newTestStore(t)

	if err := store.SaveHost(models.Host{UUID: "host-1", Name: "PC", PairState: models.PairStatePaired}); err != nil {
		t.Fatalf("SaveHost failed: %v", err)
	}

	got, err := store.GetHost("host-1")
	if err != nil {
		t.Fatalf("GetHost failed: %v", err)
	}
	if got.PairState != models.PairStateUnpaired {
		t.Fatalf("expected host without cert to load unpaired, got %s", got.PairState)
	}
}

func TestListHostsSkipsMalformedRows(t *testing.T) {
	store := newTestStore(t)
	mustSaveHost(t, store, "host-1", "Alpha")

	if _, err := store.db.Exec(
		`INSERT INTO hosts (uuid, name, https_port, updated_timestamp) VALUES ('', 'Broken', 0, 1)`,
	); err != nil {
		t.Fatalf("insert malformed host: %v", err)
	}
	if _, err := store.db.Exec(
		`INSERT INTO hosts (uuid, name, https_port, updated_timestamp) VALUES ('host-2', 'Bad Port', 'not-a-port', 1)`,
	); err != nil {
		t.Fatalf("insert malformed host: %v", err)
	}

	hosts, skipped, err := store.ListHosts()
	if err != nil {
		t.Fatalf("ListHosts failed: %v", err)
	}
	if len(hosts) != 1 || hosts[0].UUID != "host-1" {
		t.Fatalf("expected only the valid host, got %+v", hosts)
	}
	if skipped != 2 {
		t.Fatalf("expected 2 skipped rows, got %d", skipped)
	}
}

func TestListHostsNormalizesLegacyIPv6(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.db.Exec(
		`INSERT INTO hosts (uuid, name, ipv6_address, https_port, updated_timestamp)
		VALUES ('host-1', 'IPv6 Host', '[fe80::1]', 0, 1)`,
	); err != nil {
		t.Fatalf("insert legacy host: %v", err)
	}

	hosts, _, err := store.ListHosts()
	if err != nil {
		t.Fatalf("ListHosts failed: %v", err)
	}
	if len(hosts) != 1 {
		t.Fatalf("expected 1 host, got %d", len(hosts))
	}
	if hosts[0].IPv6Address != "[fe80::1]:47989" {
		t.Fatalf("expected normalized IPv6 address, got %q", hosts[0].IPv6Address)
	}
	if hosts[0].ActiveAddress != "[fe80::1]:47989" {
		t.Fatalf("expected active address from IPv6, got %q", hosts[0].ActiveAddress)
	}
}

func TestRemoveHostCascadesApps(t *testing.T) {
	store := newTestStore(t)
	mustSaveHost(t, store, "host-1", "Alpha", &models.App{ID: "1", Name: "Desktop"})

	if err := store.RemoveHost("host-1"); err != nil {
		t.Fatalf("RemoveHost failed: %v", err)
	}
	if err := store.RemoveHost("host-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second remove, got %v", err)
	}

	apps, err := store.ListApps("host-1")
	if err != nil {
		t.Fatalf("ListApps failed: %v", err)
	}
	if len(apps) != 0 {
		t.Fatalf("expected apps to be removed with host, got %d", len(apps))
	}

	exists, err := store.HasHost("host-1")
	if err != nil {
		t.Fatalf("HasHost failed: %v", err)
	}
	if exists {
		t.Fatalf("expected host to be gone")
	}
}
