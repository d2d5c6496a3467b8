/*
 * Copyright 2025 Benchlab Instruments
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package agentapi is the request/response client for the measurement
// agent's control API: session start/stop, per-device retest, and port
// discovery. The push stream has its own package; this one never blocks
// longer than the caller's context allows.
package agentapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/benchlab/fcdiag/pkg/models"
)

const maxErrorBody = 512

var errSessionIDMissing = errors.New("agent returned no session id")

// Client talks to one agent instance.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the agent at baseURL, e.g.
// "http://127.0.0.1:8077". No request timeout is imposed here; callers
// bound calls through their context.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
}

type startResponse struct {
	SessionID string `json:"session_id"`
}

// StartSession asks the agent to begin a test run and returns the opaque
// session id it assigned.
func (c *Client) StartSession(ctx context.Context, cfg models.SessionConfig) (string, error) {
	var resp startResponse

	if err := c.post(ctx, "/v1/start", cfg.Normalized(), &resp); err != nil {
		return "", fmt.Errorf("starting session: %w", err)
	}

	if resp.SessionID == "" {
		return "", errSessionIDMissing
	}

	return resp.SessionID, nil
}

type stopRequest struct {
	SessionID string `json:"session_id"`
}

// StopSession asks the agent to terminate the given session.
func (c *Client) StopSession(ctx context.Context, sessionID string) error {
	if err := c.post(ctx, "/v1/stop", stopRequest{SessionID: sessionID}, nil); err != nil {
		return fmt.Errorf("stopping session: %w", err)
	}

	return nil
}

type retestRequest struct {
	SessionID string `json:"session_id"`
	UID       string `json:"uid"`
}

// Retest asks the agent to rerun the test for one device. The resulting
// classification arrives later over the event stream; nothing changes
// locally.
func (c *Client) Retest(ctx context.Context, sessionID, uid string) error {
	if err := c.post(ctx, "/v1/retest", retestRequest{SessionID: sessionID, UID: uid}, nil); err != nil {
		return fmt.Errorf("requesting retest for %s: %w", uid, err)
	}

	return nil
}

type portsResponse struct {
	Ports []models.PortInfo `json:"ports"`
}

// ListPorts returns the serial ports currently visible to the agent.
func (c *Client) ListPorts(ctx context.Context) ([]models.PortInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/ports", http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("building ports request: %w", err)
	}

	var resp portsResponse

	if err := c.do(req, &resp); err != nil {
		return nil, fmt.Errorf("listing ports: %w", err)
	}

	return resp.Ports, nil
}

// StreamURL converts the control base URL into the WebSocket endpoint for
// the given session's event stream.
func (c *Client) StreamURL(sessionID string) string {
	wsBase := c.baseURL

	switch {
	case strings.HasPrefix(wsBase, "https://"):
		wsBase = "wss://" + strings.TrimPrefix(wsBase, "https://")
	case strings.HasPrefix(wsBase, "http://"):
		wsBase = "ws://" + strings.TrimPrefix(wsBase, "http://")
	}

	return wsBase + "/v1/stream?" + url.Values{"session_id": {sessionID}}.Encode()
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

		return fmt.Errorf("agent returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	return nil
}
