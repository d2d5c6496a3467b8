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

// Package stream consumes the per-session WebSocket event stream pushed by
// the measurement agent and routes validated events to the reconciler and
// the throughput meter.
package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/benchlab/fcdiag/pkg/logger"
	"github.com/benchlab/fcdiag/pkg/models"
	"github.com/benchlab/fcdiag/pkg/throughput"
)

const closeGrace = time.Second

// EventSink receives validated stream events. Calls arrive strictly one at
// a time from the consumer's single read goroutine, in delivery order.
type EventSink interface {
	// ApplySnapshot replaces the record for key with data.
	ApplySnapshot(key string, data *models.DeviceSnapshot)
	// ApplyRemoval deletes the record for key.
	ApplyRemoval(key string)
	// StreamError surfaces an upstream probe failure as a session-level
	// error. The device set is not touched.
	StreamError(reason string)
}

// Consumer owns the single push connection of one session. It performs no
// reconnection: once the read loop exits, resuming requires a new session
// start.
type Consumer struct {
	sessionID string
	conn      *websocket.Conn
	sink      EventSink
	meter     *throughput.Meter
	onClosed  func(sessionID string)
	log       logger.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// Dial opens the stream for sessionID at wsURL and starts consuming. The
// onClosed callback fires exactly once when the read loop exits, carrying
// this consumer's session id so the owner can discard stale closures.
func Dial(
	ctx context.Context,
	wsURL, sessionID string,
	sink EventSink,
	meter *throughput.Meter,
	onClosed func(sessionID string),
	log logger.Logger,
) (*Consumer, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dialing stream (status %s): %w", resp.Status, err)
		}

		return nil, fmt.Errorf("dialing stream: %w", err)
	}

	c := &Consumer{
		sessionID: sessionID,
		conn:      conn,
		sink:      sink,
		meter:     meter,
		onClosed:  onClosed,
		log:       log.WithComponent("stream"),
		done:      make(chan struct{}),
	}

	c.log.Info().
		Str("session_id", sessionID).
		Str("url", wsURL).
		Msg("Stream connected")

	go c.readLoop()

	return c, nil
}

// SessionID returns the session this consumer is bound to.
func (c *Consumer) SessionID() string {
	return c.sessionID
}

func (c *Consumer) readLoop() {
	defer func() {
		close(c.done)

		if c.onClosed != nil {
			c.onClosed(c.sessionID)
		}
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warn().
					Err(err).
					Str("session_id", c.sessionID).
					Msg("Stream closed unexpectedly")
			} else {
				c.log.Debug().
					Str("session_id", c.sessionID).
					Msg("Stream closed")
			}

			return
		}

		env, err := decodeEnvelope(raw)
		if err != nil {
			// A bad frame is dropped; it never terminates the session.
			c.log.Warn().
				Err(err).
				Str("session_id", c.sessionID).
				Int("frame_bytes", len(raw)).
				Msg("Dropping malformed stream frame")

			continue
		}

		c.dispatch(env)
	}
}

func (c *Consumer) dispatch(env *Envelope) {
	switch env.Type {
	case TypeSnapshot:
		key := env.Key()
		if key == "" {
			key = env.Data.Key()
		}

		c.sink.ApplySnapshot(key, env.Data)
		c.meter.Mark()

	case TypeRemoved:
		c.sink.ApplyRemoval(env.Key())

	case TypeProbeFailed:
		c.log.Warn().
			Str("session_id", c.sessionID).
			Str("reason", env.Reason).
			Msg("Upstream probe failed")
		c.sink.StreamError(env.Reason)

	case TypePing:
		c.log.Debug().Str("session_id", c.sessionID).Msg("Stream keepalive")
	}
}

// Close sends a close frame best-effort, tears the connection down, and
// waits briefly for the read loop to drain.
func (c *Consumer) Close() {
	c.closeOnce.Do(func() {
		deadline := time.Now().Add(closeGrace)

		err := c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			deadline,
		)
		if err != nil {
			c.log.Debug().Err(err).Msg("Close frame not delivered")
		}

		_ = c.conn.Close()

		select {
		case <-c.done:
		case <-time.After(closeGrace):
		}
	})
}
