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

package agentapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benchlab/fcdiag/pkg/models"
)

func TestStartSession(t *testing.T) {
	var got models.SessionConfig

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/start", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		json.NewEncoder(w).Encode(map[string]string{"session_id": "3f2b9c"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL)

	id, err := client.StartSession(context.Background(), models.SessionConfig{Simulate: true})
	require.NoError(t, err)
	assert.Equal(t, "3f2b9c", id)

	// Defaults are filled in before the request goes out.
	assert.Equal(t, models.DefaultBaud, got.Baud)
	assert.Equal(t, models.DefaultProfile, got.Profile)
	assert.Equal(t, models.DefaultMode, got.Mode)
	assert.True(t, got.Simulate)
}

func TestStartSessionMissingID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).StartSession(context.Background(), models.SessionConfig{})
	require.ErrorIs(t, err, errSessionIDMissing)
}

func TestStartSessionAgentError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "whitelist rejected all ports", http.StatusConflict)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).StartSession(context.Background(), models.SessionConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
	assert.Contains(t, err.Error(), "whitelist rejected all ports")
}

func TestStopSession(t *testing.T) {
	var got stopRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/stop", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, NewClient(srv.URL).StopSession(context.Background(), "3f2b9c"))
	assert.Equal(t, "3f2b9c", got.SessionID)
}

func TestRetest(t *testing.T) {
	var got retestRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/retest", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, NewClient(srv.URL).Retest(context.Background(), "3f2b9c", "FC-001"))
	assert.Equal(t, "3f2b9c", got.SessionID)
	assert.Equal(t, "FC-001", got.UID)
}

func TestListPorts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/v1/ports", r.URL.Path)

		json.NewEncoder(w).Encode(map[string]interface{}{
			"ports": []models.PortInfo{
				{Device: "/dev/ttyACM0", VID: "0483", PID: "5740", Whitelisted: true},
				{Device: "/dev/ttyUSB3", Whitelisted: false, Reason: "vid_pid_not_whitelisted"},
			},
		})
	}))
	defer srv.Close()

	ports, err := NewClient(srv.URL).ListPorts(context.Background())
	require.NoError(t, err)
	require.Len(t, ports, 2)
	assert.Equal(t, "/dev/ttyACM0", ports[0].Device)
	assert.True(t, ports[0].Whitelisted)
	assert.Equal(t, "vid_pid_not_whitelisted", ports[1].Reason)
}

func TestStreamURL(t *testing.T) {
	tests := []struct {
		name string
		base string
		want string
	}{
		{
			"http becomes ws",
			"http://127.0.0.1:8077",
			"ws://127.0.0.1:8077/v1/stream?session_id=3f2b9c",
		},
		{
			"https becomes wss",
			"https://bench-agent.local",
			"wss://bench-agent.local/v1/stream?session_id=3f2b9c",
		},
		{
			"trailing slash stripped",
			"http://127.0.0.1:8077/",
			"ws://127.0.0.1:8077/v1/stream?session_id=3f2b9c",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewClient(tt.base).StreamURL("3f2b9c"))
		})
	}
}

func TestRequestHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).StartSession(ctx, models.SessionConfig{})
	require.Error(t, err)
}
