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

package models

// SessionConfig is the immutable option set a test session is started
// with. Changing any option requires stopping the session and starting a
// new one.
type SessionConfig struct {
	Ports            []string `json:"ports,omitempty"`
	Baud             int      `json:"baud,omitempty"`
	Profile          string   `json:"profile"`
	Mode             string   `json:"mode"`
	Simulate         bool     `json:"simulate"`
	Auto             bool     `json:"auto"`
	EnforceWhitelist bool     `json:"enforce_whitelist"`
	IncludeSimulator bool     `json:"include_simulator"`
	Duration         float64  `json:"duration,omitempty"`
}

// Defaults used when a config field is left zero. These mirror the agent
// defaults so both sides agree on what an unconfigured session means.
const (
	DefaultBaud     = 1000000
	DefaultProfile  = "usb_stand"
	DefaultMode     = "normal"
	DefaultDuration = 5.0
)

// Normalized returns a copy of c with zero fields replaced by defaults.
func (c SessionConfig) Normalized() SessionConfig {
	if c.Baud == 0 {
		c.Baud = DefaultBaud
	}

	if c.Profile == "" {
		c.Profile = DefaultProfile
	}

	if c.Mode == "" {
		c.Mode = DefaultMode
	}

	if c.Duration == 0 {
		c.Duration = DefaultDuration
	}

	return c
}
