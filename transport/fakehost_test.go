package transport

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"streamlink/crypto"
)

// fakeHost implements the host side of the HTTP protocol for tests.
type fakeHost struct {
	t *testing.T

	serverKey     ed25519.PrivateKey
	serverCert    *x509.Certificate
	serverCertPEM []byte

	httpServer  *httptest.Server
	httpsServer *httptest.Server

	pins chan string

	mu              sync.Mutex
	paired          bool
	clientCert      *x509.Certificate
	key             []byte
	serverSecret    []byte
	serverChallenge []byte
	clientAnswer    []byte
	unpairs         int
	apps            string
	currentGame     string
	quitRefused     bool
	httpsStatus     int
}

func newFakeHost(t *testing.T) *fakeHost {
	t.Helper()

	_, key, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	certPEM, err := crypto.SelfSignedCertificate(key, "NVIDIA GameStream Server")
	require.NoError(t, err)
	cert, err := crypto.ParseCertificatePEM(certPEM)
	require.NoError(t, err)

	h := &fakeHost{
		t:             t,
		serverKey:     key,
		serverCert:    cert,
		serverCertPEM: certPEM,
		pins:          make(chan string, 1),
		currentGame:   "0",
		apps: `<App><AppTitle>Desktop</AppTitle><ID>1</ID><IsHdrSupported>0</IsHdrSupported></App>` +
			`<App><AppTitle>Steam Big Picture</AppTitle><ID>2</ID><IsHdrSupported>1</IsHdrSupported></App>`,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/serverinfo", h.handleServerInfo)
	mux.HandleFunc("/applist", h.handleAppList)
	mux.HandleFunc("/cancel", h.handleCancel)
	mux.HandleFunc("/pair", h.handlePair)
	mux.HandleFunc("/unpair", h.handleUnpair)

	h.httpServer = httptest.NewServer(mux)
	t.Cleanup(h.httpServer.Close)

	h.httpsServer = httptest.NewUnstartedServer(mux)
	h.httpsServer.TLS = &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{cert.Raw}, PrivateKey: key}},
		ClientAuth:   tls.RequestClientCert,
	}
	h.httpsServer.StartTLS()
	t.Cleanup(h.httpsServer.Close)

	return h
}

func (h *fakeHost) target(serverCert []byte) Target {
	_, portText, err := net.SplitHostPort(h.httpsServer.Listener.Addr().String())
	require.NoError(h.t, err)
	port, err := strconv.Atoi(portText)
	require.NoError(h.t, err)

	return Target{
		Address:    h.httpServer.Listener.Addr().String(),
		HTTPSPort:  uint16(port),
		ServerCert: serverCert,
	}
}

// trusted reports whether the request came over TLS from the paired client.
func (h *fakeHost) trusted(r *http.Request) bool {
	if r.TLS == nil || len(r.TLS.PeerCertificates) == 0 {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.paired && h.clientCert != nil && bytes.Equal(r.TLS.PeerCertificates[0].Raw, h.clientCert.Raw)
}

func (h *fakeHost) handleServerInfo(w http.ResponseWriter, r *http.Request) {
	if r.TLS != nil {
		h.mu.Lock()
		status := h.httpsStatus
		h.mu.Unlock()
		if status != 0 {
			w.WriteHeader(status)
			return
		}
		if !h.trusted(r) {
			fmt.Fprint(w, `<root status_code="401" status_message="The client is not authorized. Certificate verification failed."/>`)
			return
		}
	}

	pairStatus := "0"
	if h.trusted(r) {
		pairStatus = "1"
	}
	h.mu.Lock()
	game := h.currentGame
	h.mu.Unlock()

	_, httpsPort, _ := net.SplitHostPort(h.httpsServer.Listener.Addr().String())
	fmt.Fprintf(w, `<?xml version="1.0" encoding="utf-8"?>
<root status_code="200">
<hostname>GAMING-PC</hostname>
<appversion>7.1.431.-1</appversion>
<uniqueid>host-uuid-1</uniqueid>
<HttpsPort>%s</HttpsPort>
<ExternalIP>203.0.113.7</ExternalIP>
<LocalIP>127.0.0.1</LocalIP>
<mac>aa:bb:cc:dd:ee:ff</mac>
<ServerCodecModeSupport>259</ServerCodecModeSupport>
<PairStatus>%s</PairStatus>
<currentgame>%s</currentgame>
<state>MJOLNIR_STATE_SERVER_AVAILABLE</state>
</root>`, httpsPort, pairStatus, game)
}

func (h *fakeHost) handleAppList(w http.ResponseWriter, r *http.Request) {
	if !h.trusted(r) {
		fmt.Fprint(w, `<root status_code="401" status_message="not paired"/>`)
		return
	}
	h.mu.Lock()
	apps := h.apps
	h.mu.Unlock()
	fmt.Fprintf(w, `<root status_code="200">%s</root>`, apps)
}

func (h *fakeHost) handleCancel(w http.ResponseWriter, r *http.Request) {
	if !h.trusted(r) {
		fmt.Fprint(w, `<root status_code="401" status_message="not paired"/>`)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.quitRefused {
		fmt.Fprint(w, `<root status_code="200"><cancel>0</cancel></root>`)
		return
	}
	h.currentGame = "0"
	fmt.Fprint(w, `<root status_code="200"><cancel>1</cancel></root>`)
}

func (h *fakeHost) handleUnpair(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	h.paired = false
	h.clientCert = nil
	h.unpairs++
	h.mu.Unlock()
	fmt.Fprint(w, `<root status_code="200"/>`)
}

func (h *fakeHost) handlePair(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	switch {
	case q.Get("phrase") == "getservercert":
		h.pairGetServerCert(w, q.Get("salt"), q.Get("clientcert"))
	case q.Get("clientchallenge") != "":
		h.pairClientChallenge(w, q.Get("clientchallenge"))
	case q.Get("serverchallengeresp") != "":
		h.pairServerChallengeResponse(w, q.Get("serverchallengeresp"))
	case q.Get("clientpairingsecret") != "":
		h.pairClientSecret(w, q.Get("clientpairingsecret"))
	case q.Get("phrase") == "pairchallenge":
		if h.trusted(r) {
			fmt.Fprint(w, `<root status_code="200"><paired>1</paired></root>`)
			return
		}
		fmt.Fprint(w, `<root status_code="200"><paired>0</paired></root>`)
	default:
		fmt.Fprint(w, `<root status_code="400" status_message="bad pair request"/>`)
	}
}

func (h *fakeHost) pairGetServerCert(w http.ResponseWriter, saltHex, clientCertHex string) {
	salt, err := hex.DecodeString(saltHex)
	require.NoError(h.t, err)
	clientCertPEM, err := hex.DecodeString(clientCertHex)
	require.NoError(h.t, err)
	clientCert, err := crypto.ParseCertificatePEM(clientCertPEM)
	require.NoError(h.t, err)

	pin := <-h.pins
	key, err := crypto.DerivePairingKey(pin, salt)
	require.NoError(h.t, err)

	h.mu.Lock()
	h.key = key
	h.clientCert = clientCert
	h.mu.Unlock()

	fmt.Fprintf(w, `<root status_code="200"><paired>1</paired><plaincert>%s</plaincert></root>`, hex.EncodeToString(h.serverCertPEM))
}

func (h *fakeHost) pairClientChallenge(w http.ResponseWriter, sealed string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clientChallenge, err := crypto.OpenHex(h.key, sealed)
	if err != nil {
		fmt.Fprint(w, `<root status_code="200"><paired>0</paired></root>`)
		return
	}

	h.serverSecret = randomBytes(h.t, secretSize)
	h.serverChallenge = randomBytes(h.t, challengeSize)
	commitment := ChallengeHash(clientChallenge, h.serverCert.Signature, h.serverSecret)

	reply, err := crypto.SealHex(h.key, append(commitment, h.serverChallenge...))
	require.NoError(h.t, err)
	fmt.Fprintf(w, `<root status_code="200"><paired>1</paired><challengeresponse>%s</challengeresponse></root>`, reply)
}

func (h *fakeHost) pairServerChallengeResponse(w http.ResponseWriter, sealed string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	answer, err := crypto.OpenHex(h.key, sealed)
	if err != nil {
		fmt.Fprint(w, `<root status_code="200"><paired>0</paired></root>`)
		return
	}
	h.clientAnswer = answer

	secret, err := crypto.SignedSecret(h.serverKey, h.serverSecret)
	require.NoError(h.t, err)
	fmt.Fprintf(w, `<root status_code="200"><paired>1</paired><pairingsecret>%s</pairingsecret></root>`, hex.EncodeToString(secret))
}

func (h *fakeHost) pairClientSecret(w http.ResponseWriter, secretHex string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	raw, err := hex.DecodeString(secretHex)
	require.NoError(h.t, err)
	clientSecret, err := crypto.VerifySignedSecret(h.clientCert, raw, secretSize)
	if err != nil {
		fmt.Fprint(w, `<root status_code="200"><paired>0</paired></root>`)
		return
	}
	if !bytes.Equal(ChallengeHash(h.serverChallenge, h.clientCert.Signature, clientSecret), h.clientAnswer) {
		fmt.Fprint(w, `<root status_code="200"><paired>0</paired></root>`)
		return
	}

	h.paired = true
	fmt.Fprint(w, `<root status_code="200"><paired>1</paired></root>`)
}

func (h *fakeHost) unpairCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.unpairs
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	out, err := crypto.RandomBytes(n)
	require.NoError(t, err)
	return out
}

func newTestIdentity(t *testing.T) *crypto.Identity {
	t.Helper()
	dir := t.TempDir()
	identity, err := crypto.EnsureClientIdentity(filepath.Join(dir, "cert.pem"), filepath.Join(dir, "key.pem"), "streamlink-test")
	require.NoError(t, err)
	return identity
}

func newTestClient(t *testing.T, identity *crypto.Identity) *Client {
	t.Helper()
	return NewClient(Options{
		Identity:   identity,
		UniqueID:   "0123456789ABCDEF",
		DeviceName: "test-client",
	})
}
