// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"

	"github.com/wingedpig/kernelsup/internal/api/handlers"
	"github.com/wingedpig/kernelsup/internal/api/version"
	"github.com/wingedpig/kernelsup/internal/events"
)

// apiClient talks to a running kernelsup's local API.
type apiClient struct {
	base string
	rc   *resty.Client
}

func newAPIClient(base string, timeout time.Duration) *apiClient {
	base = strings.TrimSuffix(base, "/")
	return &apiClient{
		base: base,
		rc: resty.New().
			SetBaseURL(base).
			SetTimeout(timeout).
			SetHeader("Accept", "application/json").
			SetHeader(version.Header, version.LatestVersion),
	}
}

// apiError is an error envelope returned by the API.
type apiError struct {
	Status  int
	Code    string
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

type envelope struct {
	Data  json.RawMessage     `json:"data"`
	Error *handlers.ErrorInfo `json:"error"`
}

// call performs a request and decodes the data field of the response into
// out, which may be nil.
func (c *apiClient) call(ctx context.Context, method, path string, body, out interface{}) error {
	r := c.rc.R().SetContext(ctx)
	if body != nil {
		r.SetBody(body)
	}
	resp, err := r.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return fmt.Errorf("%s %s: unexpected response (%d): %w", method, path, resp.StatusCode(), err)
	}
	if env.Error != nil {
		return &apiError{Status: resp.StatusCode(), Code: env.Error.Code, Message: env.Error.Message}
	}
	if resp.StatusCode() >= http.StatusBadRequest {
		return &apiError{Status: resp.StatusCode(), Code: "HTTP_ERROR", Message: resp.Status()}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

func (c *apiClient) get(ctx context.Context, path string, out interface{}) error {
	return c.call(ctx, http.MethodGet, path, nil, out)
}

func (c *apiClient) post(ctx context.Context, path string, body, out interface{}) error {
	return c.call(ctx, http.MethodPost, path, body, out)
}

// streamEvents follows the event WebSocket until ctx is done or the
// connection drops.
func (c *apiClient) streamEvents(ctx context.Context, pattern string, fn func(events.Event)) error {
	u, err := url.Parse(c.base + "/api/v1/events/ws")
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	if pattern != "" {
		q := u.Query()
		q.Set("pattern", pattern)
		u.RawQuery = q.Encode()
	}

	hdr := http.Header{}
	hdr.Set(version.Header, version.LatestVersion)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), hdr)
	if err != nil {
		return fmt.Errorf("connecting to event stream: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		var evt events.Event
		if err := conn.ReadJSON(&evt); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		fn(evt)
	}
}
