package transport

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamlink/models"
)

func TestServerInfoOverHTTP(t *testing.T) {
	host := newFakeHost(t)
	client := newTestClient(t, newTestIdentity(t))

	info, err := client.ServerInfo(context.Background(), host.target(nil), false)
	require.NoError(t, err)

	target := host.target(nil)
	observed := info.Host(target.Address)
	assert.Equal(t, "host-uuid-1", observed.UUID)
	assert.Equal(t, "GAMING-PC", observed.Name)
	assert.Equal(t, target.HTTPSPort, observed.HTTPSPort)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", observed.MAC)
	assert.Equal(t, int32(259), observed.ServerCodecModeSupport)
	assert.Equal(t, models.HostStateOnline, observed.State)
	assert.Equal(t, models.PairStateUnpaired, observed.PairState)
	assert.Equal(t, "203.0.113.7:47989", observed.ExternalAddress)
	assert.Equal(t, target.Address, observed.Address)
	assert.Empty(t, observed.CurrentGame)
	assert.True(t, observed.IsNvidiaServerSoftware)
}

func TestServerInfoOverHTTPSRequiresPairing(t *testing.T) {
	host := newFakeHost(t)
	client := newTestClient(t, newTestIdentity(t))

	_, err := client.ServerInfo(context.Background(), host.target(nil), true)
	require.Error(t, err)
	assert.True(t, IsAuthorizationError(err), "expected authorization error, got %v", err)
}

func TestHTTPStatusIsReportedAsStatusError(t *testing.T) {
	host := newFakeHost(t)
	host.mu.Lock()
	host.httpsStatus = http.StatusServiceUnavailable
	host.mu.Unlock()
	client := newTestClient(t, newTestIdentity(t))

	_, err := client.ServerInfo(context.Background(), host.target(nil), true)
	require.Error(t, err)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.Code)
	assert.False(t, IsAuthorizationError(err))
}

func TestUnreachableHostFails(t *testing.T) {
	client := newTestClient(t, newTestIdentity(t))

	_, err := client.ServerInfo(context.Background(), Target{Address: "127.0.0.1:1"}, false)
	require.Error(t, err)
	assert.False(t, IsAuthorizationError(err))

	_, err = client.ServerInfo(context.Background(), Target{}, false)
	require.Error(t, err)
}

func TestPinnedCertificateMismatchIsRejected(t *testing.T) {
	host := newFakeHost(t)
	other := newFakeHost(t)
	client := newTestClient(t, newTestIdentity(t))

	_, err := client.ServerInfo(context.Background(), host.target(other.serverCertPEM), true)
	require.Error(t, err)
	assert.ErrorContains(t, err, ErrCertificateMismatch.Error())
}

func TestServerInfoHostUsesIPv6Slot(t *testing.T) {
	info := &ServerInfo{UniqueID: "u", LocalIP: "fe80::2", MAC: "00:00:00:00:00:00", CurrentGame: "881448767"}

	observed := info.Host("[fe80::1]:47989")
	assert.Equal(t, "[fe80::1]:47989", observed.IPv6Address)
	assert.Empty(t, observed.Address)
	assert.Equal(t, "[fe80::2]:47989", observed.LocalAddress)
	assert.Empty(t, observed.MAC)
	assert.Equal(t, "881448767", observed.CurrentGame)
	assert.False(t, observed.IsNvidiaServerSoftware)
}
