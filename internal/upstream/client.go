// Package upstream is the Upstream Client of §4.5: a pooled HTTP/1.1 client
// for unary requests, an HTTP/2-prior-knowledge client for SSE streaming,
// structured error extraction, and the retry/backoff policy shared by both.
package upstream

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
)

// Config holds the static parameters shared by both transports.
type Config struct {
	UserAgent        string
	Timeout          time.Duration
	ProxyURL         string
	RetryStatusCodes map[int]struct{}
	RetryMaxAttempts int
	// Host selects the upstream code-assist host directly (e.g. via
	// EndpointHostForMode); empty defaults to the production host.
	Host string
}

// Endpoint mode hosts, selectable via ENDPOINT_MODE.
const (
	ProductionHost = "cloudcode-pa.googleapis.com"
	DailyHost      = "daily-cloudcode-pa.sandbox.googleapis.com"
)

// EndpointHostForMode maps the ENDPOINT_MODE config value to its backend
// host; any value other than "daily" resolves to the production host.
func EndpointHostForMode(mode string) string {
	if mode == "daily" {
		return DailyHost
	}
	return ProductionHost
}

// DefaultRetryStatusCodes is the §6 default "429,500".
func DefaultRetryStatusCodes() map[int]struct{} {
	return map[int]struct{}{429: {}, 500: {}}
}

// Client issues unary and streaming calls against the upstream code-assist
// endpoints.
type Client struct {
	cfg       Config
	unary     *http.Client
	streaming *http.Client

	// baseURLOverride lets tests point FetchAvailableModels at an httptest
	// server instead of the real upstream host.
	baseURLOverride string
}

// New builds a Client. The unary transport stays HTTP/1.1 with a small idle
// pool; the streaming transport forces HTTP/2 prior knowledge, required by
// the upstream's SSE surface.
func New(cfg Config) (*Client, error) {
	if cfg.RetryStatusCodes == nil {
		cfg.RetryStatusCodes = DefaultRetryStatusCodes()
	}
	if cfg.RetryMaxAttempts <= 0 {
		cfg.RetryMaxAttempts = 3
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 180 * time.Second
	}

	var proxyFunc func(*http.Request) (*url.URL, error)
	if cfg.ProxyURL != "" {
		u, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("upstream: invalid proxy url: %w", err)
		}
		proxyFunc = http.ProxyURL(u)
	}

	unaryTransport := &http.Transport{
		Proxy:               proxyFunc,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSNextProto:        make(map[string]func(string, *tls.Conn) http.RoundTripper),
	}

	dialer := &net.Dialer{Timeout: 30 * time.Second}
	streamTransport := &http2.Transport{
		AllowHTTP: false,
		DialTLS: func(network, addr string, cfgTLS *tls.Config) (net.Conn, error) {
			return dialFirefoxFingerprint(dialer, network, addr, cfgTLS)
		},
	}
	return &Client{
		cfg:       cfg,
		unary:     &http.Client{Transport: unaryTransport, Timeout: timeout},
		streaming: &http.Client{Transport: streamTransport, Timeout: timeout},
	}, nil
}

// dialFirefoxFingerprint opens the streaming transport's TLS connection
// with utls' Firefox ClientHello instead of Go's stock fingerprint, which
// some upstream edges rate-limit or block outright.
func dialFirefoxFingerprint(dialer *net.Dialer, network, addr string, cfgTLS *tls.Config) (net.Conn, error) {
	raw, err := dialer.Dial(network, addr)
	if err != nil {
		return nil, err
	}
	serverName := cfgTLS.ServerName
	if serverName == "" {
		if host, _, splitErr := net.SplitHostPort(addr); splitErr == nil {
			serverName = host
		}
	}
	uconn := utls.UClient(raw, &utls.Config{ServerName: serverName}, utls.HelloFirefox_Auto)
	if err := uconn.Handshake(); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("upstream: utls handshake: %w", err)
	}
	return uconn, nil
}

func (c *Client) applyHeaders(req *http.Request, accessToken string, unary bool) {
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	if unary {
		req.Header.Set("Accept-Encoding", "gzip")
	}
}

// CallUnary performs a retrying unary POST. attemptToken is invoked before
// each attempt (including the first) to obtain the access token and a
// disable-callback hook, letting the gateway rotate credentials between
// attempts without this package knowing about the credential store.
func (c *Client) CallUnary(ctx context.Context, url, accessToken string, body []byte) ([]byte, http.Header, error) {
	return c.call(ctx, c.unary, url, accessToken, body)
}

func (c *Client) call(ctx context.Context, client *http.Client, targetURL, accessToken string, body []byte) ([]byte, http.Header, error) {
	var lastErr error
	for attempt := 0; attempt < c.cfg.RetryMaxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, bytes.NewReader(body))
		if err != nil {
			return nil, nil, err
		}
		c.applyHeaders(req, accessToken, true)

		resp, err := client.Do(req)
		if err != nil {
			return nil, nil, fmt.Errorf("upstream: transport error: %w", err)
		}
		data, readErr := readBody(resp)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, nil, fmt.Errorf("upstream: read body: %w", readErr)
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return data, resp.Header, nil
		}

		upErr := ParseError(resp.StatusCode, data)
		lastErr = upErr
		if upErr.Status == 401 {
			// 401 is never retried on the same client; the caller rotates.
			return nil, nil, upErr
		}
		if !c.shouldRetryStatus(upErr) {
			return nil, nil, upErr
		}
		if attempt == c.cfg.RetryMaxAttempts-1 {
			break
		}
		delay := c.retryDelay(upErr, attempt)
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, nil, lastErr
}

// readBody drains the response, transparently inflating a gzip-encoded body.
// Only unary calls advertise Accept-Encoding: gzip, but some upstream edges
// compress error bodies too regardless of status, so this isn't gated on 2xx.
func readBody(resp *http.Response) ([]byte, error) {
	if !strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		return io.ReadAll(resp.Body)
	}
	zr, err := gzip.NewReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("upstream: gzip reader: %w", err)
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

func (c *Client) shouldRetryStatus(e *Error) bool {
	if e.ModelCapacityExhausted {
		return true
	}
	_, ok := c.cfg.RetryStatusCodes[e.Status]
	return ok
}

func (c *Client) retryDelay(e *Error, attempt int) time.Duration {
	if d, ok := e.RetryDelay(); ok {
		return d
	}
	ms := 1000 * (attempt + 1)
	if ms > 5000 {
		ms = 5000
	}
	return time.Duration(ms) * time.Millisecond
}

// StreamResponse carries the raw upstream SSE response; the caller is
// responsible for closing Body once fully drained.
type StreamResponse struct {
	Body       io.ReadCloser
	Header     http.Header
	StatusCode int
}

// CallStream opens a streaming (alt=sse) POST over HTTP/2 prior knowledge.
// Unlike CallUnary it does not retry internally — the gateway's orchestration
// loop owns retry-with-next-credential for streaming calls, since a stream
// can fail mid-flight after already emitting events.
func (c *Client) CallStream(ctx context.Context, targetURL, accessToken string, body []byte) (*StreamResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	c.applyHeaders(req, accessToken, false)

	resp, err := c.streaming.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream: stream transport error: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, ParseError(resp.StatusCode, data)
	}
	return &StreamResponse{Body: resp.Body, Header: resp.Header, StatusCode: resp.StatusCode}, nil
}

// FetchAvailableModels satisfies quota.ModelsFetcher: a thin unary GET/POST
// wrapper returning the raw body for ParseModelsResponse.
func (c *Client) FetchAvailableModels(ctx context.Context, projectID, accessToken, email string) ([]byte, error) {
	_ = email // upstream keys by bearer token; email is carried for logging only
	reqURL := c.fetchModelsURL(projectID)
	data, _, err := c.CallUnary(ctx, reqURL, accessToken, []byte(`{}`))
	return data, err
}

func (c *Client) fetchModelsURL(projectID string) string {
	base := strings.TrimSuffix(c.baseURL(), "/")
	return base + "/v1internal:fetchAvailableModels?project=" + url.QueryEscape(projectID)
}

// GenerateContentURL returns the unary (non-streamed) call's target URL.
func (c *Client) GenerateContentURL() string {
	return strings.TrimSuffix(c.baseURL(), "/") + "/v1internal:generateContent"
}

// StreamGenerateContentURL returns the streaming (alt=sse) call's target URL.
func (c *Client) StreamGenerateContentURL() string {
	return strings.TrimSuffix(c.baseURL(), "/") + "/v1internal:streamGenerateContent?alt=sse"
}

func (c *Client) baseURL() string {
	if c.baseURLOverride != "" {
		return c.baseURLOverride
	}
	host := c.cfg.Host
	if host == "" {
		host = ProductionHost
	}
	return "https://" + host
}
