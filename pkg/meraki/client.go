// Package meraki is a small client for the Meraki dashboard REST API.
//
// Every non-2xx response becomes an *APIError and every failure below HTTP
// a *TransportError; both unwrap to the util error sentinels so callers
// classify with errors.Is. The client never retries.
package meraki

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/merakimate/merakimate/pkg/util"
	"github.com/merakimate/merakimate/pkg/version"
)

// DefaultBaseURL is the dashboard API v1 root.
const DefaultBaseURL = "https://api.meraki.com/api/v1"

// DefaultTimeout bounds a single request.
const DefaultTimeout = 30 * time.Second

// Client talks to the dashboard API with a bearer token.
type Client struct {
	baseURL   string
	token     string
	http      *http.Client
	userAgent string
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API root (used by tests and regional clouds).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithDialer routes all connections through dial, e.g. an SSH bastion.
func WithDialer(dial func(ctx context.Context, network, addr string) (net.Conn, error)) Option {
	return func(c *Client) {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.DialContext = dial
		tr.Proxy = nil
		c.http.Transport = tr
	}
}

// NewClient creates a client for the given API key.
func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		baseURL:   DefaultBaseURL,
		token:     token,
		http:      &http.Client{Timeout: DefaultTimeout},
		userAgent: version.UserAgent(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the configured API root.
func (c *Client) BaseURL() string { return c.baseURL }

// Get decodes the JSON response of GET path into out.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	_, err := c.do(ctx, http.MethodGet, path, query, nil, out)
	return err
}

// Put sends body as JSON and decodes the response into out (may be nil).
func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	_, err := c.do(ctx, http.MethodPut, path, nil, body, out)
	return err
}

// Post sends body as JSON and decodes the response into out (may be nil).
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	_, err := c.do(ctx, http.MethodPost, path, nil, body, out)
	return err
}

// Delete issues DELETE path.
func (c *Client) Delete(ctx context.Context, path string) error {
	_, err := c.do(ctx, http.MethodDelete, path, nil, nil, nil)
	return err
}

// GetPages follows rel="next" Link headers starting at path, handing each
// raw page body to fn. maxPages <= 0 means no limit.
func (c *Client) GetPages(ctx context.Context, path string, query url.Values, maxPages int, fn func(page []byte) error) error {
	next := c.resolve(path, query)
	for n := 0; next != ""; n++ {
		if maxPages > 0 && n >= maxPages {
			return nil
		}
		var raw json.RawMessage
		hdr, err := c.send(ctx, http.MethodGet, next, path, nil, &raw)
		if err != nil {
			return err
		}
		if err := fn(raw); err != nil {
			return err
		}
		next = nextLink(hdr.Get("Link"))
	}
	return nil
}

func (c *Client) resolve(path string, query url.Values) string {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) (http.Header, error) {
	return c.send(ctx, method, c.resolve(path, query), path, body, out)
}

func (c *Client) send(ctx context.Context, method, rawURL, path string, body, out any) (http.Header, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding %s %s body: %w", method, path, err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, fmt.Errorf("building %s %s: %w", method, path, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Method: method, Path: path, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Method: method, Path: path, Err: err}
	}
	util.WithFields(map[string]interface{}{
		"method":  method,
		"path":    path,
		"status":  resp.StatusCode,
		"elapsed": time.Since(start).Round(time.Millisecond).String(),
	}).Debug("api request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newAPIError(method, path, resp.StatusCode, data)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return resp.Header, nil
	}
	if raw, ok := out.(*json.RawMessage); ok {
		*raw = append((*raw)[:0], data...)
		return resp.Header, nil
	}
	if err := Decode(data, out); err != nil {
		return nil, fmt.Errorf("decoding %s %s: %w", method, path, err)
	}
	return resp.Header, nil
}

// Decode unmarshals data keeping numbers as json.Number inside untyped
// values, so documents re-encode without float rounding.
func Decode(data []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(out)
}

func newAPIError(method, path string, status int, body []byte) *APIError {
	e := &APIError{StatusCode: status, Method: method, Path: path, Detail: string(body)}
	var payload struct {
		Errors []string `json:"errors"`
	}
	if json.Unmarshal(body, &payload) == nil {
		e.Errors = payload.Errors
	}
	return e
}

var linkNextRE = regexp.MustCompile(`<([^>]+)>\s*;\s*rel="?next"?`)

// nextLink extracts the rel=next target from an RFC 8288 Link header.
func nextLink(header string) string {
	for _, part := range strings.Split(header, ",") {
		if m := linkNextRE.FindStringSubmatch(part); m != nil {
			return m[1]
		}
	}
	return ""
}
