package lxd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/openfroyo/lxd-inventory/pkg/engine"
)

// Client defaults.
const (
	DefaultTimeout         = 30 * time.Second
	DefaultMaxRetries      = 3
	DefaultInitialInterval = time.Second
	DefaultMaxInterval     = 10 * time.Second
	DefaultUserAgent       = "lxd-inventory"

	// unixHost is the placeholder host of requests sent over a unix socket.
	unixHost = "http://unix.socket"

	// maxBodySize bounds the response bodies read from the server.
	maxBodySize = 64 << 20
)

// ErrCodeTLSMaterial marks client certificates or CAs that cannot be loaded.
const ErrCodeTLSMaterial = "TLS_MATERIAL"

// retryableStatus lists the HTTP status codes that are retried.
var retryableStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// Client talks to the REST API of one LXD endpoint. It implements
// engine.Fetcher.
type Client struct {
	name    string
	baseURL string
	http    *http.Client
	logger  zerolog.Logger

	timeout         time.Duration
	maxRetries      uint
	initialInterval time.Duration
	maxInterval     time.Duration
	userAgent       string
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithRetry sets how often a failed request is retried and the bounds of the
// exponential backoff between attempts.
func WithRetry(maxRetries uint, initial, ceiling time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.initialInterval = initial
		c.maxInterval = ceiling
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// NewClient creates a client for an endpoint. unix:// endpoints dial the
// socket; http(s):// endpoints use TLS material from the configuration.
func NewClient(cfg engine.EndpointConfig, opts ...Option) (*Client, error) {
	c := &Client{
		name:            cfg.Name,
		logger:          zerolog.Nop(),
		timeout:         DefaultTimeout,
		maxRetries:      DefaultMaxRetries,
		initialInterval: DefaultInitialInterval,
		maxInterval:     DefaultMaxInterval,
		userAgent:       DefaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().
		Str("component", "lxd-client").
		Str("endpoint", cfg.Name).
		Logger()

	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, c.newError(fmt.Sprintf("invalid endpoint %q", cfg.Endpoint), err, engine.ErrCodeUnreachable)
	}

	base := http.DefaultTransport.(*http.Transport).Clone()
	switch u.Scheme {
	case "unix":
		if u.Path == "" {
			return nil, c.newError(fmt.Sprintf("invalid endpoint %q: missing socket path", cfg.Endpoint), nil, engine.ErrCodeUnreachable)
		}
		socket := u.Path
		base.Proxy = nil
		base.DialContext = func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socket)
		}
		c.baseURL = unixHost

	case "http", "https":
		if u.Host == "" {
			return nil, c.newError(fmt.Sprintf("invalid endpoint %q: missing host", cfg.Endpoint), nil, engine.ErrCodeUnreachable)
		}
		if u.Scheme == "https" {
			tlsConfig, err := buildTLSConfig(cfg.CertPath, cfg.KeyPath, cfg.CACertPath, cfg.VerifySSL)
			if err != nil {
				return nil, c.newError("failed to prepare TLS", err, ErrCodeTLSMaterial)
			}
			base.TLSClientConfig = tlsConfig
		}
		c.baseURL = strings.TrimRight(u.Scheme+"://"+u.Host+u.Path, "/")

	default:
		return nil, c.newError(fmt.Sprintf("unsupported endpoint scheme %q", u.Scheme), nil, engine.ErrCodeUnreachable)
	}

	c.http = &http.Client{
		Timeout: c.timeout,
		Transport: otelhttp.NewTransport(base,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return "lxd " + r.Method + " " + r.URL.Path
			}),
		),
	}

	return c, nil
}

// Factory returns an engine.ClientFactory building real clients.
func Factory(opts ...Option) engine.ClientFactory {
	return func(cfg engine.EndpointConfig) (engine.Fetcher, error) {
		return NewClient(cfg, opts...)
	}
}

// response is the envelope of every LXD API reply.
type response struct {
	Type       string          `json:"type"`
	Status     string          `json:"status"`
	StatusCode int             `json:"status_code"`
	Error      string          `json:"error"`
	ErrorCode  int             `json:"error_code"`
	Metadata   json.RawMessage `json:"metadata"`
}

// statusError is a non-2xx reply, kept retryable until attempts run out.
type statusError struct {
	code    int
	message string
}

func (e *statusError) Error() string {
	if e.message != "" {
		return fmt.Sprintf("HTTP %d: %s", e.code, e.message)
	}
	return fmt.Sprintf("HTTP %d", e.code)
}

// Fetch performs GET <endpoint>/1.0<path> and returns the metadata member.
// Transport errors and 429/5xx replies are retried with exponential backoff.
func (c *Client) Fetch(ctx context.Context, path string) (json.RawMessage, error) {
	target := c.baseURL + "/1.0" + path

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialInterval
	b.MaxInterval = c.maxInterval

	attempt := 0
	metadata, err := backoff.Retry(ctx, func() (json.RawMessage, error) {
		attempt++
		return c.get(ctx, target)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(c.maxRetries+1),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Debug().
				Err(err).
				Str("path", path).
				Int("attempt", attempt).
				Dur("retry_in", next).
				Msg("Request failed, retrying")
		}),
	)
	if err != nil {
		return nil, c.classify(path, err)
	}
	return metadata, nil
}

// get performs one attempt. Errors that must not be retried are wrapped
// with backoff.Permanent.
func (c *Client) get(ctx context.Context, target string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, err
	}

	var env response
	decodeErr := json.Unmarshal(body, &env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &statusError{code: resp.StatusCode}
		if decodeErr == nil {
			se.message = env.Error
		}
		if retryableStatus[resp.StatusCode] {
			return nil, se
		}
		return nil, backoff.Permanent(se)
	}

	if decodeErr != nil {
		return nil, backoff.Permanent(c.newError("malformed response", decodeErr, engine.ErrCodeMalformedPayload))
	}
	if env.Type == "error" {
		msg := env.Error
		if msg == "" {
			msg = "unknown error"
		}
		return nil, backoff.Permanent(c.newError("LXD API error: "+msg, nil, engine.ErrCodeAPIError).
			WithDetail("error_code", env.ErrorCode))
	}
	if len(env.Metadata) == 0 {
		return json.RawMessage("null"), nil
	}
	return env.Metadata, nil
}

// classify turns the final attempt's error into a fetch error.
func (c *Client) classify(path string, err error) error {
	var ee *engine.EngineError
	if errors.As(err, &ee) {
		return ee.WithDetail("path", path)
	}

	var se *statusError
	if errors.As(err, &se) {
		return c.newError(fmt.Sprintf("GET %s", path), se, engine.ErrCodeHTTPStatus).
			WithDetail("path", path).
			WithDetail("status", se.code)
	}

	return c.newError(fmt.Sprintf("GET %s", path), err, engine.ErrCodeUnreachable).
		WithDetail("path", path)
}

func (c *Client) newError(message string, err error, code string) *engine.EngineError {
	return engine.NewFetchError(message, err).
		WithEndpoint(c.name).
		WithCode(code)
}

// Server is the subset of GET /1.0 used to describe an endpoint.
type Server struct {
	APIVersion  string `json:"api_version"`
	Auth        string `json:"auth"`
	Environment struct {
		ServerName    string `json:"server_name"`
		ServerVersion string `json:"server_version"`
		Server        string `json:"server"`
	} `json:"environment"`
}

// ServerInfo fetches GET /1.0. It is used to check that an endpoint is
// reachable and trusts the client.
func (c *Client) ServerInfo(ctx context.Context) (*Server, error) {
	raw, err := c.Fetch(ctx, "")
	if err != nil {
		return nil, err
	}

	var s Server
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, c.newError("malformed server info", err, engine.ErrCodeMalformedPayload)
	}
	return &s, nil
}

// Close releases idle connections.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}
