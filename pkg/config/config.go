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

// Package config loads dashboard configuration from JSON files.
package config

import (
	"errors"

	"github.com/benchlab/fcdiag/pkg/logger"
	"github.com/benchlab/fcdiag/pkg/models"
)

var errAgentURLRequired = errors.New("agent_url is required")

// AppConfig is the top-level configuration for the fcdiag dashboard.
type AppConfig struct {
	// AgentURL is the base URL of the measurement agent's control API,
	// e.g. "http://127.0.0.1:8077".
	AgentURL string `json:"agent_url"`

	// Session holds the default options used when starting a session.
	Session models.SessionConfig `json:"session"`

	Logging logger.Config `json:"logging"`
}

// Validate checks the config for required fields.
func (c *AppConfig) Validate() error {
	if c.AgentURL == "" {
		return errAgentURLRequired
	}

	return nil
}
