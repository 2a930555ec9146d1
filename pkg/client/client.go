// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package client provides a typed client for the kernel supervisor server.
//
// The supervisor server hosts interactive compute sessions and exposes an
// HTTP API plus a WebSocket event stream per session. Its address and bearer
// token are not known until the server has written its connection file, so a
// Client starts out unconnected:
//
//	c := client.New()
//	c.SetConnection("http://127.0.0.1:8182/", token)
//	status, err := c.ServerStatus(ctx)
//
// # Error Handling
//
// Transport failures are returned unwrapped enough for classification:
//
//	if client.IsConnectionRefused(err) { ... }
//	if client.IsTimeout(err) { ... }
//
// Non-2xx responses are returned as *HTTPError values:
//
//	if code, ok := client.StatusCode(err); ok && code == http.StatusNotFound { ... }
//
// Requests are never retried by the client; callers own their retry policy.
package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/net/http/httpproxy"
)

const defaultTimeout = 10 * time.Second

// Client is a kernel supervisor API client.
//
// The Client is safe for concurrent use by multiple goroutines. The base
// path and bearer token may be replaced with SetConnection at any time;
// each request reads them once.
type Client struct {
	rc      *resty.Client
	timeout time.Duration

	mu       sync.RWMutex
	basePath string
	token    string
	noProxy  string
}

// Option configures a [Client].
type Option func(*Client)

// WithTimeout sets the per-request timeout. The default is 10 seconds.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// New creates an unconnected client.
func New(opts ...Option) *Client {
	c := &Client{timeout: defaultTimeout}
	for _, opt := range opts {
		opt(c)
	}

	// Borrow the pooled transport; retries stay off since the supervisor
	// decides what is retryable.
	rt := retryablehttp.NewClient()
	transport, ok := rt.HTTPClient.Transport.(*http.Transport)
	if !ok {
		transport = http.DefaultTransport.(*http.Transport).Clone()
	}
	transport.Proxy = c.proxyFor

	c.rc = resty.New().
		SetTransport(transport).
		SetTimeout(c.timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json")
	return c
}

// SetConnection points the client at a running server.
func (c *Client) SetConnection(basePath, token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.basePath = strings.TrimSuffix(basePath, "/")
	c.token = token
	c.noProxy = ""
	if u, err := url.Parse(c.basePath); err == nil && u.Host != "" {
		c.noProxy = u.Host
		if u.Hostname() == "127.0.0.1" {
			c.noProxy += ",localhost:" + u.Port()
		}
	}
}

// BasePath returns the current base path, without a trailing slash.
func (c *Client) BasePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.basePath
}

// Connected reports whether SetConnection has been called with a base path.
func (c *Client) Connected() bool {
	return c.BasePath() != ""
}

func (c *Client) connection() (string, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.basePath, c.token
}

// ProxyFromEnvironment returns the HTTP proxy configured in the environment,
// if any. Requests to the supervisor bypass it.
func ProxyFromEnvironment() string {
	cfg := httpproxy.FromEnvironment()
	if cfg.HTTPProxy != "" {
		return cfg.HTTPProxy
	}
	return cfg.HTTPSProxy
}

// proxyFor applies the environment's proxy settings with the supervisor's
// own host appended to NO_PROXY.
func (c *Client) proxyFor(req *http.Request) (*url.URL, error) {
	cfg := httpproxy.FromEnvironment()
	c.mu.RLock()
	if c.noProxy != "" {
		if cfg.NoProxy != "" {
			cfg.NoProxy += ","
		}
		cfg.NoProxy += c.noProxy
	}
	c.mu.RUnlock()
	return cfg.ProxyFunc()(req.URL)
}

// request starts a request against the current connection.
func (c *Client) request(ctx context.Context) (*resty.Request, string, error) {
	base, token := c.connection()
	if base == "" {
		return nil, "", fmt.Errorf("client is not connected to a server")
	}
	r := c.rc.R().SetContext(ctx).SetError(&errorBody{})
	if token != "" {
		r.SetAuthToken(token)
	}
	return r, base, nil
}

// do executes r and converts non-2xx responses to *HTTPError.
func (c *Client) do(r *resty.Request, method, url string) error {
	resp, err := r.Execute(method, url)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return newHTTPError(resp)
	}
	return nil
}
