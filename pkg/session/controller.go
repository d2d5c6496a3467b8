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

// Package session owns session identity and lifecycle. A Controller is an
// explicit state machine over {inactive, starting, active, stopping}; the
// single-in-flight-operation rule is structural: control calls only
// transition out of a settled state, so one arriving mid-transition is a
// no-op rather than queued.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/benchlab/fcdiag/pkg/logger"
	"github.com/benchlab/fcdiag/pkg/models"
	"github.com/benchlab/fcdiag/pkg/reconcile"
	"github.com/benchlab/fcdiag/pkg/stream"
	"github.com/benchlab/fcdiag/pkg/throughput"
)

// State of the session lifecycle.
type State string

const (
	StateInactive State = "inactive"
	StateStarting State = "starting"
	StateActive   State = "active"
	StateStopping State = "stopping"
)

var (
	errSessionActive = errors.New("a session is already active; stop it first")
	errNoSession     = errors.New("no active session")
)

// ControlAPI is the subset of the agent control API the controller drives.
type ControlAPI interface {
	StartSession(ctx context.Context, cfg models.SessionConfig) (string, error)
	StopSession(ctx context.Context, sessionID string) error
	Retest(ctx context.Context, sessionID, uid string) error
	StreamURL(sessionID string) string
}

// consumer is the slice of stream.Consumer the controller owns.
type consumer interface {
	SessionID() string
	Close()
}

type dialFunc func(
	ctx context.Context,
	wsURL, sessionID string,
	sink stream.EventSink,
	meter *throughput.Meter,
	onClosed func(string),
	log logger.Logger,
) (consumer, error)

// Controller owns at most one session and exactly one stream consumer at a
// time. It is also the stream's event sink: snapshot and removal events
// land in the canonical store, probe failures in the session error.
type Controller struct {
	mu        sync.Mutex
	state     State
	sessionID string
	cfg       models.SessionConfig
	lastErr   string
	cons      consumer

	api   ControlAPI
	store *reconcile.Store
	meter *throughput.Meter
	dial  dialFunc
	log   logger.Logger
}

var _ stream.EventSink = (*Controller)(nil)

// NewController wires a controller to its control API, canonical store,
// and throughput meter. The store and meter are shared with the display
// layer; the controller is their only writer besides the stream.
func NewController(api ControlAPI, store *reconcile.Store, meter *throughput.Meter, log logger.Logger) *Controller {
	return &Controller{
		state: StateInactive,
		api:   api,
		store: store,
		meter: meter,
		dial:  dialStream,
		log:   log.WithComponent("session"),
	}
}

func dialStream(
	ctx context.Context,
	wsURL, sessionID string,
	sink stream.EventSink,
	meter *throughput.Meter,
	onClosed func(string),
	log logger.Logger,
) (consumer, error) {
	return stream.Dial(ctx, wsURL, sessionID, sink, meter, onClosed, log)
}

// Start begins a new session with cfg. It is a no-op while a start or stop
// is in flight, an error if a session is already active. Any prior device
// records and throughput counters are discarded before the control call;
// on failure the session stays inactive with the error recorded, and no
// retry is attempted.
func (c *Controller) Start(ctx context.Context, cfg models.SessionConfig) error {
	c.mu.Lock()

	switch c.state {
	case StateStarting, StateStopping:
		c.log.Debug().Str("state", string(c.state)).Msg("Start ignored, operation in flight")
		c.mu.Unlock()

		return nil
	case StateActive:
		c.mu.Unlock()

		return errSessionActive
	case StateInactive:
	}

	c.state = StateStarting
	c.lastErr = ""
	c.mu.Unlock()

	c.store.Clear()
	c.meter.Reset()

	cfg = cfg.Normalized()

	id, err := c.api.StartSession(ctx, cfg)
	if err != nil {
		c.fail("session start failed: " + err.Error())

		return err
	}

	cons, err := c.dial(ctx, c.api.StreamURL(id), id, c, c.meter, c.streamClosed, c.log)
	if err != nil {
		// The agent-side session would run orphaned; tear it down best
		// effort before reporting the failure.
		if stopErr := c.api.StopSession(ctx, id); stopErr != nil {
			c.log.Warn().Err(stopErr).Str("session_id", id).Msg("Orphaned session cleanup failed")
		}

		c.fail("stream open failed: " + err.Error())

		return err
	}

	c.mu.Lock()
	c.sessionID = id
	c.cfg = cfg
	c.cons = cons
	c.state = StateActive
	c.mu.Unlock()

	c.log.Info().
		Str("session_id", id).
		Str("profile", cfg.Profile).
		Str("mode", cfg.Mode).
		Bool("simulate", cfg.Simulate).
		Msg("Session started")

	return nil
}

// Stop terminates the active session: control call, stream teardown, and
// local state cleared. It is a no-op when no session is active. A failed
// control call is surfaced but does not prevent local teardown.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()

	if c.state != StateActive {
		c.log.Debug().Str("state", string(c.state)).Msg("Stop ignored, no active session")
		c.mu.Unlock()

		return nil
	}

	c.state = StateStopping
	id := c.sessionID
	cons := c.cons
	// Clearing the id first makes the consumer's own close callback a
	// stale one, so teardown is not applied twice.
	c.sessionID = ""
	c.cons = nil
	c.mu.Unlock()

	err := c.api.StopSession(ctx, id)
	if err != nil {
		c.log.Warn().Err(err).Str("session_id", id).Msg("Session stop call failed")
	}

	if cons != nil {
		cons.Close()
	}

	c.store.Clear()
	c.meter.Reset()

	c.mu.Lock()
	c.state = StateInactive

	if err != nil {
		c.lastErr = "session stop failed: " + err.Error()
	}
	c.mu.Unlock()

	c.log.Info().Str("session_id", id).Msg("Session stopped")

	return err
}

// Reconfigure stops the current session and starts a new one with cfg.
// The gap in between, with no session and no devices displayed, is the
// intended behavior: options are immutable for a session's lifetime.
func (c *Controller) Reconfigure(ctx context.Context, cfg models.SessionConfig) error {
	if err := c.Stop(ctx); err != nil {
		c.log.Warn().Err(err).Msg("Reconfigure continuing past stop failure")
	}

	return c.Start(ctx, cfg)
}

// Retest forwards a retest request for one device. No local state changes;
// the new classification arrives over the event stream.
func (c *Controller) Retest(ctx context.Context, key string) error {
	c.mu.Lock()
	id := c.sessionID
	active := c.state == StateActive
	c.mu.Unlock()

	if !active {
		return errNoSession
	}

	return c.api.Retest(ctx, id, key)
}

// streamClosed handles the consumer's close callback. A closure reported
// for a superseded session id is ignored entirely, so a slow-closing old
// connection can never clear a newly started session.
func (c *Controller) streamClosed(id string) {
	c.mu.Lock()

	if id == "" || id != c.sessionID {
		c.log.Debug().Str("session_id", id).Msg("Ignoring stale stream closure")
		c.mu.Unlock()

		return
	}

	c.sessionID = ""
	c.cons = nil
	c.state = StateInactive
	c.lastErr = "stream closed unexpectedly"
	c.mu.Unlock()

	c.store.Clear()
	c.meter.Reset()

	c.log.Warn().Str("session_id", id).Msg("Session ended by stream closure")
}

// fail records err and settles back to inactive, releasing the guard.
func (c *Controller) fail(msg string) {
	c.mu.Lock()
	c.lastErr = msg
	c.state = StateInactive
	c.mu.Unlock()

	c.log.Error().Str("error", msg).Msg("Session operation failed")
}

// ApplySnapshot implements stream.EventSink.
func (c *Controller) ApplySnapshot(key string, data *models.DeviceSnapshot) {
	c.store.Upsert(key, data)
}

// ApplyRemoval implements stream.EventSink.
func (c *Controller) ApplyRemoval(key string) {
	c.store.Remove(key)
}

// StreamError implements stream.EventSink: an upstream probe failure
// becomes the session-level error without touching the device set.
func (c *Controller) StreamError(reason string) {
	c.mu.Lock()
	c.lastErr = reason
	c.mu.Unlock()
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// SessionID returns the active session id, or "" when inactive.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.sessionID
}

// Config returns the immutable option set of the current session.
func (c *Controller) Config() models.SessionConfig {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.cfg
}

// LastError returns the persistent session-level error string. It is
// cleared by the next successful Start.
func (c *Controller) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lastErr
}
