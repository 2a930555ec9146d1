// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"net/http"
)

// ServerStatus returns the server's version, session count and process id.
func (c *Client) ServerStatus(ctx context.Context) (*ServerStatus, error) {
	r, base, err := c.request(ctx)
	if err != nil {
		return nil, err
	}
	var status ServerStatus
	r.SetResult(&status)
	if err := c.do(r, http.MethodGet, base+"/status"); err != nil {
		return nil, err
	}
	return &status, nil
}

// ClientHeartbeat reports that the client process pid is still attached.
func (c *Client) ClientHeartbeat(ctx context.Context, pid int) error {
	r, base, err := c.request(ctx)
	if err != nil {
		return err
	}
	r.SetBody(ClientHeartbeat{ProcessID: pid})
	return c.do(r, http.MethodPost, base+"/client_heartbeat")
}

// SetServerConfiguration updates the server's runtime configuration.
func (c *Client) SetServerConfiguration(ctx context.Context, cfg ServerConfiguration) error {
	r, base, err := c.request(ctx)
	if err != nil {
		return err
	}
	r.SetBody(cfg)
	return c.do(r, http.MethodPost, base+"/server_configuration")
}

// ShutdownServer asks the server to exit gracefully.
func (c *Client) ShutdownServer(ctx context.Context) error {
	r, base, err := c.request(ctx)
	if err != nil {
		return err
	}
	return c.do(r, http.MethodPost, base+"/shutdown")
}
