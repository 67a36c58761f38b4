package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"streamlink/crypto"
	"streamlink/models"
)

const (
	// DefaultRequestTimeout bounds ordinary host requests.
	DefaultRequestTimeout = 10 * time.Second

	maxResponseSize = 4 * 1024 * 1024
)

// Target identifies the host endpoint a request is sent to.
type Target struct {
	// Address is host:port of the plain HTTP endpoint.
	Address string
	// HTTPSPort is the encrypted endpoint port; zero selects the default.
	HTTPSPort uint16
	// ServerCert is the pinned PEM certificate of a paired host.
	ServerCert []byte
}

// TargetFor builds a Target from a host's active address and trust state.
func TargetFor(host *models.Host) Target {
	return Target{
		Address:    host.ActiveAddress,
		HTTPSPort:  host.HTTPSPort,
		ServerCert: host.ServerCert,
	}
}

func (t Target) baseURL(useHTTPS bool) (string, error) {
	if t.Address == "" {
		return "", fmt.Errorf("host has no address")
	}
	if !useHTTPS {
		host, port := models.SplitAddress(t.Address, models.DefaultHTTPPort)
		return "http://" + net.JoinHostPort(host, strconv.Itoa(port)), nil
	}

	host, _ := models.SplitAddress(t.Address, models.DefaultHTTPPort)
	port := int(t.HTTPSPort)
	if port == 0 {
		port = models.DefaultHTTPSPort
	}
	return "https://" + net.JoinHostPort(host, strconv.Itoa(port)), nil
}

// Options configures a Client.
type Options struct {
	Identity   *crypto.Identity
	UniqueID   string
	DeviceName string
	Timeout    time.Duration
	Logger     *slog.Logger
}

func (o Options) withDefaults() Options {
	out := o
	if out.Timeout <= 0 {
		out.Timeout = DefaultRequestTimeout
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	if out.DeviceName == "" {
		out.DeviceName = "streamlink"
	}
	return out
}

// Client issues typed requests against streaming hosts.
type Client struct {
	opts   Options
	logger *slog.Logger
}

// NewClient creates a client with defaults applied.
func NewClient(options Options) *Client {
	opts := options.withDefaults()
	return &Client{
		opts:   opts,
		logger: opts.Logger.With("component", "transport"),
	}
}

// ServerInfo fetches the host's server-info document.
func (c *Client) ServerInfo(ctx context.Context, target Target, useHTTPS bool) (*ServerInfo, error) {
	var info ServerInfo
	if err := c.do(ctx, target, useHTTPS, "/serverinfo", nil, c.opts.Timeout, &info); err != nil {
		return nil, fmt.Errorf("serverinfo: %w", err)
	}
	if err := info.err(); err != nil {
		return nil, fmt.Errorf("serverinfo: %w", err)
	}
	return &info, nil
}

// AppList fetches the host's installed applications over the encrypted endpoint.
func (c *Client) AppList(ctx context.Context, target Target) ([]AppInfo, error) {
	var resp appListResponse
	if err := c.do(ctx, target, true, "/applist", nil, c.opts.Timeout, &resp); err != nil {
		return nil, fmt.Errorf("applist: %w", err)
	}
	if err := resp.err(); err != nil {
		return nil, fmt.Errorf("applist: %w", err)
	}
	return resp.Apps, nil
}

// QuitApp asks the host to stop its running application.
func (c *Client) QuitApp(ctx context.Context, target Target) error {
	var resp cancelResponse
	if err := c.do(ctx, target, true, "/cancel", nil, c.opts.Timeout, &resp); err != nil {
		return fmt.Errorf("cancel: %w", err)
	}
	if err := resp.err(); err != nil {
		return fmt.Errorf("cancel: %w", err)
	}
	if resp.Cancel != "1" {
		return fmt.Errorf("cancel: host refused to quit the running app")
	}
	return nil
}

// Unpair asks the host to forget this client.
func (c *Client) Unpair(ctx context.Context, target Target) error {
	var resp responseStatus
	if err := c.do(ctx, target, false, "/unpair", nil, c.opts.Timeout, &resp); err != nil {
		return fmt.Errorf("unpair: %w", err)
	}
	if err := resp.err(); err != nil {
		return fmt.Errorf("unpair: %w", err)
	}
	return nil
}

// do performs one GET and decodes the XML body into out. timeout zero means
// the request is bounded by ctx only.
func (c *Client) do(ctx context.Context, target Target, useHTTPS bool, path string, query url.Values, timeout time.Duration, out any) error {
	base, err := target.baseURL(useHTTPS)
	if err != nil {
		return err
	}

	params := url.Values{}
	params.Set("uniqueid", c.opts.UniqueID)
	params.Set("uuid", uuid.NewString())
	for key, values := range query {
		for _, v := range values {
			params.Add(key, v)
		}
	}
	reqURL := base + path + "?" + params.Encode()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	httpClient, err := c.httpClient(target, useHTTPS)
	if err != nil {
		return err
	}

	c.logger.Debug("Host request", "path", path, "https", useHTTPS, "address", target.Address)

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("read response %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}

	if err := xml.NewDecoder(bytes.NewReader(body)).Decode(out); err != nil {
		return fmt.Errorf("decode response %s: %w", path, err)
	}

	return nil
}

func (c *Client) httpClient(target Target, useHTTPS bool) (*http.Client, error) {
	transport := &http.Transport{
		DisableKeepAlives: true,
		DialContext:       (&net.Dialer{Timeout: c.opts.Timeout}).DialContext,
	}
	if useHTTPS {
		tlsConfig, err := c.tlsConfig(target.ServerCert)
		if err != nil {
			return nil, err
		}
		transport.TLSClientConfig = tlsConfig
	}
	return &http.Client{Transport: transport}, nil
}

// tlsConfig presents the client identity and, when a certificate is pinned,
// accepts only that exact certificate from the host. Hosts use self-signed
// certificates without usable names, so chain verification is replaced by
// the pin check.
func (c *Client) tlsConfig(pinnedPEM []byte) (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: true,
	}
	if c.opts.Identity != nil {
		cfg.Certificates = []tls.Certificate{c.opts.Identity.TLSCertificate()}
	}

	if len(pinnedPEM) == 0 {
		return cfg, nil
	}

	pinned, err := crypto.ParseCertificatePEM(pinnedPEM)
	if err != nil {
		return nil, fmt.Errorf("parse pinned server certificate: %w", err)
	}
	cfg.VerifyPeerCertificate = func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 || !bytes.Equal(rawCerts[0], pinned.Raw) {
			return ErrCertificateMismatch
		}
		return nil
	}

	return cfg, nil
}
