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

// Package simagent is an in-process stand-in for the measurement agent:
// the same control endpoints and event stream, fed by deterministic
// telemetry generators. It backs demos and integration tests; it decodes
// no real protocol.
package simagent

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/benchlab/fcdiag/pkg/logger"
	"github.com/benchlab/fcdiag/pkg/models"
)

const (
	defaultDeviceCount = 3
	defaultTick        = 100 * time.Millisecond
	eventQueueSize     = 256
	keepaliveInterval  = time.Second

	// closeUnknownSession mirrors the agent's close code for a stream
	// request naming a session that does not exist.
	closeUnknownSession = 4004
)

// event is one wire frame on the stream.
type event struct {
	Type   string                 `json:"type"`
	UID    string                 `json:"uid,omitempty"`
	Port   string                 `json:"port,omitempty"`
	Reason string                 `json:"reason,omitempty"`
	Data   *models.DeviceSnapshot `json:"data,omitempty"`
	TS     float64                `json:"ts,omitempty"`
}

// Server implements the agent control API plus the per-session stream.
type Server struct {
	log      logger.Logger
	upgrader websocket.Upgrader

	deviceCount int
	tick        time.Duration

	mu       sync.Mutex
	sessions map[string]*simSession
}

// Option adjusts server construction.
type Option func(*Server)

// WithDeviceCount sets how many simulated devices each session carries.
func WithDeviceCount(n int) Option {
	return func(s *Server) { s.deviceCount = n }
}

// WithTick sets the snapshot emission interval.
func WithTick(d time.Duration) Option {
	return func(s *Server) { s.tick = d }
}

// NewServer creates a simulated agent.
func NewServer(log logger.Logger, opts ...Option) *Server {
	s := &Server{
		log:         log.WithComponent("simagent"),
		upgrader:    websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		deviceCount: defaultDeviceCount,
		tick:        defaultTick,
		sessions:    make(map[string]*simSession),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Handler returns the HTTP handler for all agent endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/ports", s.handlePorts)
	mux.HandleFunc("/v1/start", s.handleStart)
	mux.HandleFunc("/v1/stop", s.handleStop)
	mux.HandleFunc("/v1/retest", s.handleRetest)
	mux.HandleFunc("/v1/stream", s.handleStream)

	return mux
}

// Shutdown stops every running session.
func (s *Server) Shutdown() {
	s.mu.Lock()
	sessions := make([]*simSession, 0, len(s.sessions))

	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}

	s.sessions = make(map[string]*simSession)
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.stop()
	}
}

func (s *Server) handlePorts(w http.ResponseWriter, _ *http.Request) {
	ports := make([]models.PortInfo, 0, s.deviceCount)

	for i := 0; i < s.deviceCount; i++ {
		dev := newSimDevice(i, models.DefaultProfile, models.DefaultMode)
		ports = append(ports, models.PortInfo{
			Device:      dev.port,
			Description: "Simulated flight controller",
			Whitelisted: true,
			Simulated:   true,
		})
	}

	writeJSON(w, map[string]interface{}{"ports": ports})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var cfg models.SessionConfig

	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, "invalid start request", http.StatusBadRequest)
		return
	}

	cfg = cfg.Normalized()

	sess := newSimSession(uuid.New().String(), cfg, s.deviceCount, s.tick, s.log)

	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()

	sess.start()

	s.log.Info().
		Str("session_id", sess.id).
		Str("profile", cfg.Profile).
		Int("devices", s.deviceCount).
		Msg("Simulated session started")

	writeJSON(w, map[string]string{"session_id": sess.id})
}

type sessionRequest struct {
	SessionID string `json:"session_id"`
	UID       string `json:"uid,omitempty"`
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid stop request", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	sess, ok := s.sessions[req.SessionID]
	delete(s.sessions, req.SessionID)
	s.mu.Unlock()

	if ok {
		sess.stop()
		s.log.Info().Str("session_id", req.SessionID).Msg("Simulated session stopped")
	}

	writeJSON(w, map[string]bool{"ok": true})
}

func (s *Server) handleRetest(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid retest request", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	sess, ok := s.sessions[req.SessionID]
	s.mu.Unlock()

	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	if !sess.retest(req.UID) {
		http.Error(w, "device not found", http.StatusNotFound)
		return
	}

	writeJSON(w, map[string]bool{"ok": true})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("Stream upgrade failed")
		return
	}

	defer conn.Close()

	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	s.mu.Unlock()

	if !ok {
		msg := websocket.FormatCloseMessage(closeUnknownSession, "session not found")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))

		return
	}

	s.serveStream(conn, sess)
}

// serveStream pumps session events to one subscriber, with a keepalive
// ping when the queue is idle. A read goroutine watches for the client
// closing its end.
func (s *Server) serveStream(conn *websocket.Conn, sess *simSession) {
	clientGone := make(chan struct{})

	go func() {
		defer close(clientGone)

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case ev, ok := <-sess.events:
			if !ok {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))

				return
			}

			if err := conn.WriteJSON(ev); err != nil {
				s.log.Debug().Err(err).Str("session_id", sess.id).Msg("Stream write failed")
				return
			}

		case <-keepalive.C:
			ping := event{Type: "ping", TS: float64(time.Now().UnixNano()) / 1e9}
			if err := conn.WriteJSON(ping); err != nil {
				return
			}

		case <-clientGone:
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")

	_ = json.NewEncoder(w).Encode(v)
}

// simSession drives one set of simulated devices.
type simSession struct {
	id        string
	cfg       models.SessionConfig
	tickEvery time.Duration
	events    chan event
	log       logger.Logger

	mu      sync.Mutex
	devices []*simDevice

	stopOnce sync.Once
	done     chan struct{}
}

func newSimSession(id string, cfg models.SessionConfig, deviceCount int, tick time.Duration, log logger.Logger) *simSession {
	sess := &simSession{
		id:        id,
		cfg:       cfg,
		tickEvery: tick,
		events:    make(chan event, eventQueueSize),
		log:       log,
		done:      make(chan struct{}),
	}

	for i := 0; i < deviceCount; i++ {
		sess.devices = append(sess.devices, newSimDevice(i, cfg.Profile, cfg.Mode))
	}

	return sess
}

func (s *simSession) start() {
	go s.run()
}

func (s *simSession) run() {
	ticker := time.NewTicker(s.tickEvery)
	defer ticker.Stop()
	defer close(s.events)

	for {
		select {
		case <-s.done:
			return
		case now := <-ticker.C:
			s.emitSnapshots(now)
		}
	}
}

func (s *simSession) emitSnapshots(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, dev := range s.devices {
		snap := dev.step(now, s.cfg.Duration)
		s.publish(event{
			Type: "snapshot",
			UID:  dev.uid,
			Port: dev.port,
			Data: snap,
		})
	}
}

// publish drops the oldest queued event when the buffer is full, matching
// the agent's behavior under a slow consumer.
func (s *simSession) publish(ev event) {
	for {
		select {
		case s.events <- ev:
			return
		default:
			select {
			case <-s.events:
			default:
			}
		}
	}
}

func (s *simSession) retest(uid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, dev := range s.devices {
		if dev.uid == uid {
			dev.restart(time.Now())
			return true
		}
	}

	return false
}

func (s *simSession) stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
}
