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

// Package models defines the shared data types exchanged between the
// measurement agent and the dashboard synchronization core.
package models

import (
	"encoding/json"
	"time"
)

// Device test states as reported by the agent. The dashboard only treats
// StateTesting specially; every other state counts as settled.
const (
	StateIdle     = "idle"
	StateReady    = "ready"
	StateTesting  = "testing"
	StateComplete = "complete"
	StateError    = "error"
)

// History holds the bounded trend series the agent maintains per device.
// The agent caps each series at 600 samples; the dashboard trims again at
// render time and never appends to these.
type History struct {
	CycleUS []float64 `json:"cycle_us"`
	LoopHz  []float64 `json:"loop_hz"`
	Vbat    []float64 `json:"vbat"`
	Amps    []float64 `json:"amps"`
}

// Tail returns at most the last max samples of s.
func Tail(s []float64, max int) []float64 {
	if max <= 0 || len(s) <= max {
		return s
	}

	return s[len(s)-max:]
}

// DeviceSnapshot is the full per-device payload carried by a snapshot
// event. The nested measurement blocks are opaque to the dashboard: they
// are decoded by the chart widgets, never interpreted here.
type DeviceSnapshot struct {
	UID     string `json:"uid"`
	Port    string `json:"port"`
	Profile string `json:"profile,omitempty"`
	Mode    string `json:"mode,omitempty"`
	Baud    int    `json:"baud,omitempty"`

	// OK is the upstream pass/fail verdict; nil means not yet classified.
	OK      *bool    `json:"ok"`
	State   string   `json:"state"`
	Reasons []string `json:"reasons"`

	Meta map[string]string `json:"meta,omitempty"`

	Status        json.RawMessage `json:"status,omitempty"`
	Attitude      json.RawMessage `json:"attitude,omitempty"`
	Analog        json.RawMessage `json:"analog,omitempty"`
	IMU           json.RawMessage `json:"imu,omitempty"`
	Loop          json.RawMessage `json:"loop,omitempty"`
	IMUStats      json.RawMessage `json:"imu_stats,omitempty"`
	VoltageMeters json.RawMessage `json:"voltage_meters,omitempty"`
	CurrentMeters json.RawMessage `json:"current_meters,omitempty"`
	BatteryState  json.RawMessage `json:"battery_state,omitempty"`

	History  History `json:"history"`
	Duration float64 `json:"duration_s,omitempty"`
}

// Key returns the stable identity for the canonical set: the device UID
// when the agent resolved one, otherwise the physical port path.
func (d *DeviceSnapshot) Key() string {
	if d.UID != "" {
		return d.UID
	}

	return d.Port
}

// Testing reports whether the device is mid-test. Testing devices are
// always surfaced distinctly regardless of the ok verdict.
func (d *DeviceSnapshot) Testing() bool {
	return d.State == StateTesting
}

// DeviceRecord is one entry of the canonical set: the last snapshot
// received for a key plus the local time it was applied.
type DeviceRecord struct {
	Key     string         `json:"key"`
	Data    DeviceSnapshot `json:"data"`
	Updated time.Time      `json:"updated"`
}

// PortInfo describes one serial port known to the agent, including the
// agent's whitelist verdict for it.
type PortInfo struct {
	Device      string `json:"device"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	VID         string `json:"vid,omitempty"`
	PID         string `json:"pid,omitempty"`
	Whitelisted bool   `json:"whitelisted"`
	Simulated   bool   `json:"simulated"`
	Reason      string `json:"reason,omitempty"`
}
