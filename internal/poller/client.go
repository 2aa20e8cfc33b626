package poller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

const maxResponseBodySize = 1 << 20 // 1MB

// cacheBustParam is appended to every request with the current time in
// milliseconds so intermediaries cannot serve a stale progress document.
const cacheBustParam = "_"

// connection pooling limits; a tracker talks to a single host
const (
	defaultMaxIdleConns        = 10
	defaultMaxIdleConnsPerHost = 4
	defaultMaxConnsPerHost     = 4
	defaultIdleConnTimeout     = 60 * time.Second
)

// ErrUnexpectedStatus is wrapped by [Response.Error] when the endpoint answers
// with a status code outside the 2xx range.
var ErrUnexpectedStatus = errors.New("unexpected status code")

// Response holds the result of an HTTP request made by [Client].
type Response struct {
	// Body contains the HTTP response body, limited to 1MB.
	Body []byte

	// StatusCode is the HTTP status code (e.g., 200, 404, 500).
	// Zero if the request failed before receiving a response.
	StatusCode int

	// Latency is the total time taken for the request.
	Latency time.Duration

	// Error contains any error that occurred during the request, including
	// non-2xx responses (wrapping [ErrUnexpectedStatus]).
	Error error
}

// Client is an HTTP client wrapper for polling progress endpoints.
//
// Every request disables caching: Cache-Control and Pragma headers are set to
// no-cache and a timestamp query parameter is added. Timeouts are applied per
// request via context.
type Client struct {
	rc        *resty.Client
	transport *http.Transport
}

// NewClient creates a new polling [Client].
func NewClient() *Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        defaultMaxIdleConns,
		MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
		MaxConnsPerHost:     defaultMaxConnsPerHost,
		IdleConnTimeout:     defaultIdleConnTimeout,
	}

	rc := resty.New().
		SetTransport(transport).
		SetHeader("Cache-Control", "no-cache").
		SetHeader("Pragma", "no-cache").
		SetHeader("Accept", "application/json, text/plain, */*")

	return &Client{rc: rc, transport: transport}
}

// Fetch performs a GET request and returns a structured [Response].
//
// Fetch always returns a Response; errors are captured in the Error field
// rather than returned separately. A response that arrives with a non-2xx
// status keeps its body and status code but carries an error.
func (c *Client) Fetch(ctx context.Context, url string, headers map[string]string, timeout time.Duration) Response {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()

	resp, err := c.rc.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetQueryParam(cacheBustParam, strconv.FormatInt(start.UnixMilli(), 10)).
		SetDoNotParseResponse(true).
		Get(url)
	if err != nil {
		return Response{
			Latency: time.Since(start),
			Error:   fmt.Errorf("request failed: %w", err),
		}
	}

	raw := resp.RawBody()
	defer func() { _ = raw.Close() }()

	body, err := io.ReadAll(io.LimitReader(raw, maxResponseBodySize))
	if err != nil {
		return Response{
			StatusCode: resp.StatusCode(),
			Latency:    time.Since(start),
			Error:      fmt.Errorf("failed to read response body: %w", err),
		}
	}

	out := Response{
		Body:       body,
		StatusCode: resp.StatusCode(),
		Latency:    time.Since(start),
	}
	if out.StatusCode < 200 || out.StatusCode >= 300 {
		out.Error = fmt.Errorf("%w: %d", ErrUnexpectedStatus, out.StatusCode)
	}
	return out
}

// Close closes all idle connections in the client's connection pool.
//
// Safe to call multiple times and on a nil receiver. After Close, the client
// remains usable but new connections will be established as needed.
func (c *Client) Close() {
	if c == nil || c.transport == nil {
		return
	}
	c.transport.CloseIdleConnections()
}
