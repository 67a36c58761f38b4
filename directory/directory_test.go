package directory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamlink/models"
)

func TestLoadSavedHostsAddsHostsWithUnknownState(t *testing.T) {
	saved := savedHost("host-1", "Gaming PC", "[fe80::1]:47989")
	saved.State = models.HostStateOnline
	store := newFakeStore(saved)
	store.skipped = 1

	d := newTestDirectory(t, &fakeClient{}, store, nil)
	require.NoError(t, d.LoadSavedHosts())

	hosts := d.Hosts()
	require.Len(t, hosts, 1)
	assert.Equal(t, "Gaming PC", hosts[0].Name)
	assert.Equal(t, models.HostStateUnknown, hosts[0].State)
	assert.Equal(t, "[fe80::1]:47989", hosts[0].ActiveAddress)
}

func TestLoadSavedHostsTwiceDoesNotDuplicate(t *testing.T) {
	store := newFakeStore(savedHost("host-1", "Gaming PC", "192.168.1.10:47989"))
	d := newTestDirectory(t, &fakeClient{}, store, nil)

	require.NoError(t, d.LoadSavedHosts())
	require.NoError(t, d.LoadSavedHosts())

	assert.Len(t, d.Hosts(), 1)
}

func TestHostsReturnsSnapshots(t *testing.T) {
	store := newFakeStore(savedHost("host-1", "Gaming PC", "192.168.1.10:47989", &models.App{ID: "1", Name: "Desktop"}))
	d := newTestDirectory(t, &fakeClient{}, store, nil)
	require.NoError(t, d.LoadSavedHosts())

	hosts := d.Hosts()
	hosts[0].Name = "mutated"
	hosts[0].Apps[0].Hidden = true

	host, ok := d.Host("host-1")
	require.True(t, ok)
	assert.Equal(t, "Gaming PC", host.Name)
	assert.False(t, host.Apps[0].Hidden)
}

func TestRemoveHostIsIdempotent(t *testing.T) {
	store := newFakeStore(savedHost("host-1", "Gaming PC", "192.168.1.10:47989"))
	d := newTestDirectory(t, &fakeClient{}, store, nil)
	require.NoError(t, d.LoadSavedHosts())
	events := d.Subscribe()

	require.NoError(t, d.RemoveHost("host-1"))
	require.NoError(t, d.RemoveHost("host-1"))
	require.NoError(t, d.RemoveHost("never-known"))

	assert.Empty(t, d.Hosts())
	assert.Equal(t, []string{"host-1"}, store.removedHosts)

	evt := <-events
	assert.Equal(t, EventHostRemoved, evt.Type)
	assert.Equal(t, "host-1", evt.Host.UUID)
	assert.Empty(t, events)
}

func TestSetServerCertMarksHostPairedAndPersists(t *testing.T) {
	store := newFakeStore()
	d := newTestDirectory(t, &fakeClient{serverInfo: onlineHost("host-1", "Gaming PC")}, store, nil)

	_, err := d.AddHost(t.Context(), "192.168.1.20")
	require.NoError(t, err)

	cert := []byte("-----BEGIN CERTIFICATE-----\nMIIB\n-----END CERTIFICATE-----\n")
	require.NoError(t, d.SetServerCert("host-1", cert))

	host, _ := d.Host("host-1")
	assert.Equal(t, models.PairStatePaired, host.PairState)
	assert.Equal(t, cert, host.ServerCert)

	saved, ok := store.host("host-1")
	require.True(t, ok)
	assert.Equal(t, models.PairStatePaired, saved.PairState)

	require.ErrorIs(t, d.SetServerCert("missing", cert), ErrHostNotFound)
}

func TestSetAppHidden(t *testing.T) {
	store := newFakeStore(savedHost("host-1", "Gaming PC", "192.168.1.10:47989", &models.App{ID: "1", Name: "Desktop"}))
	d := newTestDirectory(t, &fakeClient{}, store, nil)
	require.NoError(t, d.LoadSavedHosts())

	require.NoError(t, d.SetAppHidden("host-1", "1", true))

	host, _ := d.Host("host-1")
	assert.True(t, host.Apps[0].Hidden)
	saved, _ := store.host("host-1")
	assert.True(t, saved.Apps[0].Hidden)

	require.ErrorIs(t, d.SetAppHidden("host-1", "99", true), ErrHostNotFound)
}

func TestOperationsAfterClose(t *testing.T) {
	d := newTestDirectory(t, &fakeClient{}, newFakeStore(), newFakeProbe())
	d.Close()

	require.ErrorIs(t, d.StartDiscovery(), ErrClosed)
	require.ErrorIs(t, d.PauseDiscovery("host-1"), ErrClosed)
	assert.Empty(t, d.Hosts())
}

func TestClearServerCert(t *testing.T) {
	saved := savedHost("host-1", "Gaming PC", "192.168.1.10:47989")
	saved.ServerCert = []byte("cert")
	saved.PairState = models.PairStatePaired
	store := newFakeStore(saved)
	d := newTestDirectory(t, &fakeClient{}, store, nil)
	require.NoError(t, d.LoadSavedHosts())

	require.NoError(t, d.ClearServerCert("host-1"))

	host, _ := d.Host("host-1")
	assert.Nil(t, host.ServerCert)
	assert.Equal(t, models.PairStateUnpaired, host.PairState)
	persisted, _ := store.host("host-1")
	assert.Equal(t, models.PairStateUnpaired, persisted.PairState)
}
