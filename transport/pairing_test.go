package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPairThenUseEncryptedEndpoints(t *testing.T) {
	host := newFakeHost(t)
	client := newTestClient(t, newTestIdentity(t))

	var shownPIN string
	result, err := client.Pair(context.Background(), host.target(nil), func(pin string) {
		shownPIN = pin
		host.pins <- pin
	})
	require.NoError(t, err)
	assert.Len(t, shownPIN, 4)
	assert.Equal(t, host.serverCertPEM, result.ServerCert)
	assert.Zero(t, host.unpairCount())

	target := host.target(result.ServerCert)

	info, err := client.ServerInfo(context.Background(), target, true)
	require.NoError(t, err)
	assert.Equal(t, "1", info.PairStatus)

	apps, err := client.AppList(context.Background(), target)
	require.NoError(t, err)
	require.Len(t, apps, 2)
	assert.Equal(t, "Desktop", apps[0].App().Name)
	assert.True(t, apps[1].App().HDRSupported)

	host.mu.Lock()
	host.currentGame = "2"
	host.mu.Unlock()
	require.NoError(t, client.QuitApp(context.Background(), target))
	info, err = client.ServerInfo(context.Background(), target, true)
	require.NoError(t, err)
	assert.Equal(t, "0", info.CurrentGame)
}

func TestPairWithWrongPINFailsAndUnpairs(t *testing.T) {
	host := newFakeHost(t)
	client := newTestClient(t, newTestIdentity(t))

	_, err := client.Pair(context.Background(), host.target(nil), func(pin string) {
		wrong := []byte(pin)
		wrong[0] = '0' + (wrong[0]-'0'+1)%10
		host.pins <- string(wrong)
	})
	require.ErrorIs(t, err, ErrIncorrectPIN)
	assert.Equal(t, 1, host.unpairCount())
}

func TestQuitAppRefused(t *testing.T) {
	host := newFakeHost(t)
	client := newTestClient(t, newTestIdentity(t))

	result, err := client.Pair(context.Background(), host.target(nil), func(pin string) { host.pins <- pin })
	require.NoError(t, err)

	host.mu.Lock()
	host.quitRefused = true
	host.mu.Unlock()

	err = client.QuitApp(context.Background(), host.target(result.ServerCert))
	require.Error(t, err)
}

func TestPairRequiresIdentity(t *testing.T) {
	client := NewClient(Options{UniqueID: "0123456789ABCDEF"})

	_, err := client.Pair(context.Background(), Target{Address: "127.0.0.1:1"}, nil)
	require.Error(t, err)
}
