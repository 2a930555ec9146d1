// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
)

// ListSessions returns every session hosted by the server.
func (c *Client) ListSessions(ctx context.Context) (*SessionList, error) {
	r, base, err := c.request(ctx)
	if err != nil {
		return nil, err
	}
	var list SessionList
	r.SetResult(&list)
	if err := c.do(r, http.MethodGet, base+"/sessions"); err != nil {
		return nil, err
	}
	return &list, nil
}

// GetSession returns the status of one session.
func (c *Client) GetSession(ctx context.Context, id string) (*ActiveSession, error) {
	r, base, err := c.request(ctx)
	if err != nil {
		return nil, err
	}
	var session ActiveSession
	r.SetResult(&session)
	if err := c.do(r, http.MethodGet, base+"/sessions/"+url.PathEscape(id)); err != nil {
		return nil, err
	}
	return &session, nil
}

// NewSession registers a session with the server.
func (c *Client) NewSession(ctx context.Context, req NewSession) (*NewSessionResponse, error) {
	r, base, err := c.request(ctx)
	if err != nil {
		return nil, err
	}
	var resp NewSessionResponse
	r.SetBody(req).SetResult(&resp)
	if err := c.do(r, http.MethodPut, base+"/sessions"); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StartSession launches the kernel backing a registered session.
func (c *Client) StartSession(ctx context.Context, id string) error {
	r, base, err := c.request(ctx)
	if err != nil {
		return err
	}
	return c.do(r, http.MethodPost, base+"/sessions/"+url.PathEscape(id)+"/start")
}

// DialChannels opens the WebSocket event stream for a session.
func (c *Client) DialChannels(ctx context.Context, id string) (*websocket.Conn, error) {
	base, token := c.connection()
	if base == "" {
		return nil, fmt.Errorf("client is not connected to a server")
	}
	target := base + "/sessions/" + url.PathEscape(id) + "/channels"
	switch {
	case strings.HasPrefix(target, "https://"):
		target = "wss://" + strings.TrimPrefix(target, "https://")
	case strings.HasPrefix(target, "http://"):
		target = "ws://" + strings.TrimPrefix(target, "http://")
	}

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	dialer := websocket.Dialer{
		Proxy:            c.proxyFor,
		HandshakeTimeout: c.timeout,
	}
	conn, resp, err := dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return nil, &HTTPError{
				StatusCode: resp.StatusCode,
				Method:     http.MethodGet,
				URL:        target,
				Message:    fmt.Sprintf("websocket handshake failed: %v", err),
			}
		}
		return nil, err
	}
	return conn, nil
}
