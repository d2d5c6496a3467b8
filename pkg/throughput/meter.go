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

// Package throughput measures the arrival rate of snapshot events over a
// sliding, resettable one-second counting window.
package throughput

import (
	"math"
	"sync"
	"time"
)

const window = time.Second

// Meter counts frames and publishes an approximate events-per-second rate
// once per window. Between publishes the rate does not change.
type Meter struct {
	mu          sync.Mutex
	count       int
	windowStart time.Time
	rate        int

	now func() time.Time
}

// NewMeter creates a meter with an empty window and a zero rate.
func NewMeter() *Meter {
	return &Meter{now: time.Now}
}

// Mark records one frame arrival. The first mark after a reset records the
// window start; once the elapsed time reaches the window size the rate is
// published as round(count * 1000 / elapsedMs) and the window restarts.
func (m *Meter) Mark() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()

	if m.windowStart.IsZero() {
		m.windowStart = now
	}

	m.count++

	elapsed := now.Sub(m.windowStart)
	if elapsed >= window {
		ms := float64(elapsed.Milliseconds())
		m.rate = int(math.Round(float64(m.count) * 1000.0 / ms))
		m.count = 0
		m.windowStart = now
	}
}

// Rate returns the most recently published rate in events per second.
func (m *Meter) Rate() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.rate
}

// Reset discards the counter, window start, and published rate. Called
// whenever a session starts or stops.
func (m *Meter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.count = 0
	m.windowStart = time.Time{}
	m.rate = 0
}
