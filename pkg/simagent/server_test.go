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

package simagent

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benchlab/fcdiag/pkg/logger"
	"github.com/benchlab/fcdiag/pkg/models"
)

func newTestAgent(t *testing.T, opts ...Option) (*Server, *httptest.Server) {
	t.Helper()

	agent := NewServer(logger.NewTestLogger(), opts...)
	srv := httptest.NewServer(agent.Handler())

	t.Cleanup(func() {
		agent.Shutdown()
		srv.Close()
	})

	return agent, srv
}

func startSession(t *testing.T, srv *httptest.Server) string {
	t.Helper()

	body, err := json.Marshal(models.SessionConfig{Simulate: true, Duration: 1})
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/v1/start", "application/json", bytes.NewReader(body))
	require.NoError(t, err)

	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))

	return out["session_id"]
}

func postJSON(t *testing.T, url string, payload interface{}) *http.Response {
	t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(t, err)

	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)

	return resp
}

func TestStartAssignsSessionID(t *testing.T) {
	_, srv := newTestAgent(t)

	id := startSession(t, srv)
	_, err := uuid.Parse(id)
	assert.NoError(t, err)
}

func TestPortsListsSimulatedDevices(t *testing.T) {
	_, srv := newTestAgent(t, WithDeviceCount(2))

	resp, err := http.Get(srv.URL + "/v1/ports")
	require.NoError(t, err)

	defer resp.Body.Close()

	var out struct {
		Ports []models.PortInfo `json:"ports"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))

	require.Len(t, out.Ports, 2)
	assert.Equal(t, "sim://001", out.Ports[0].Device)
	assert.True(t, out.Ports[0].Simulated)
	assert.True(t, out.Ports[0].Whitelisted)
}

func TestStreamDeliversSnapshots(t *testing.T) {
	_, srv := newTestAgent(t, WithDeviceCount(2), WithTick(10*time.Millisecond))

	id := startSession(t, srv)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/stream?session_id=" + id

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	defer conn.Close()

	seen := map[string]string{}
	deadline := time.Now().Add(3 * time.Second)

	for len(seen) < 2 && time.Now().Before(deadline) {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))

		var ev event
		require.NoError(t, conn.ReadJSON(&ev))

		if ev.Type != "snapshot" {
			continue
		}

		require.NotNil(t, ev.Data)
		seen[ev.UID] = ev.Data.State
	}

	assert.Equal(t, "testing", seen["SIM-001"])
	assert.Equal(t, "testing", seen["SIM-002"])
}

func TestStreamUnknownSessionClosedWith4004(t *testing.T) {
	_, srv := newTestAgent(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/stream?session_id=no-such-session"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	_, _, err = conn.ReadMessage()
	require.Error(t, err)

	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, closeUnknownSession, closeErr.Code)
}

func TestStopEndsStream(t *testing.T) {
	_, srv := newTestAgent(t, WithTick(10*time.Millisecond))

	id := startSession(t, srv)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/stream?session_id=" + id

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	defer conn.Close()

	resp := postJSON(t, srv.URL+"/v1/stop", map[string]string{"session_id": id})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Remaining queued frames drain, then the server closes normally.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			var closeErr *websocket.CloseError
			require.ErrorAs(t, err, &closeErr)
			assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)

			break
		}
	}
}

func TestRetestRestartsDevice(t *testing.T) {
	agent, srv := newTestAgent(t)

	id := startSession(t, srv)

	agent.mu.Lock()
	sess := agent.sessions[id]
	agent.mu.Unlock()
	require.NotNil(t, sess)

	// Settle the first device, then retest it.
	sess.mu.Lock()
	dev := sess.devices[0]
	now := time.Now()
	dev.started = now.Add(-10 * time.Second)
	dev.step(now, 1)
	settled := dev.state
	sess.mu.Unlock()

	require.Equal(t, models.StateComplete, settled)

	resp := postJSON(t, srv.URL+"/v1/retest", map[string]string{"session_id": id, "uid": dev.uid})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	sess.mu.Lock()
	state := dev.state
	verdict := dev.ok
	sess.mu.Unlock()

	assert.Equal(t, models.StateTesting, state)
	assert.Nil(t, verdict)
}

func TestRetestUnknownSession(t *testing.T) {
	_, srv := newTestAgent(t)

	resp := postJSON(t, srv.URL+"/v1/retest", map[string]string{"session_id": "no-such", "uid": "SIM-001"})
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRetestUnknownDevice(t *testing.T) {
	_, srv := newTestAgent(t)

	id := startSession(t, srv)

	resp := postJSON(t, srv.URL+"/v1/retest", map[string]string{"session_id": id, "uid": "SIM-999"})
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeviceSettlesAfterDuration(t *testing.T) {
	dev := newSimDevice(0, models.DefaultProfile, models.DefaultMode)

	start := time.Now()
	snap := dev.step(start, 1)
	assert.Equal(t, models.StateTesting, snap.State)
	assert.Nil(t, snap.OK)

	snap = dev.step(start.Add(1500*time.Millisecond), 1)
	assert.Equal(t, models.StateComplete, snap.State)
	require.NotNil(t, snap.OK)

	if !*snap.OK {
		assert.NotEmpty(t, snap.Reasons)
	}
}

func TestDeviceHistoryCapped(t *testing.T) {
	dev := newSimDevice(0, models.DefaultProfile, models.DefaultMode)

	start := time.Now()

	var snap *models.DeviceSnapshot
	for i := 0; i < historyCap+50; i++ {
		snap = dev.step(start.Add(time.Duration(i)*time.Millisecond), 3600)
	}

	assert.Len(t, snap.History.Vbat, historyCap)
	assert.Len(t, snap.History.CycleUS, historyCap)
}

func TestPublishDropsOldestWhenFull(t *testing.T) {
	sess := newSimSession("s", models.SessionConfig{}.Normalized(), 0, time.Second, logger.NewTestLogger())

	for i := 0; i < eventQueueSize+10; i++ {
		sess.publish(event{Type: "snapshot", UID: "SIM-001", TS: float64(i)})
	}

	// The queue holds the newest frames; the oldest ten were dropped.
	first := <-sess.events
	assert.Equal(t, float64(10), first.TS)
	assert.Len(t, sess.events, eventQueueSize-1)
}
