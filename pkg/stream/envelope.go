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

package stream

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/benchlab/fcdiag/pkg/models"
)

// Event types carried on the session stream. The union is closed: anything
// else is rejected at this boundary and never reaches the reconciler.
const (
	TypeSnapshot    = "snapshot"
	TypeRemoved     = "removed"
	TypeProbeFailed = "probe_failed"
	TypePing        = "ping"
)

var (
	errEmptyType       = errors.New("envelope has no type")
	errSnapshotNoData  = errors.New("snapshot envelope has no data")
	errSnapshotNoKey   = errors.New("snapshot envelope has neither uid nor port")
	errRemovedNoKey    = errors.New("removed envelope has neither uid nor port")
	errProbeNoReason   = errors.New("probe_failed envelope has no reason")
	errUnknownEnvelope = errors.New("unknown envelope type")
)

// Envelope is one tagged message received over the session stream.
type Envelope struct {
	Type   string                 `json:"type"`
	UID    string                 `json:"uid,omitempty"`
	Port   string                 `json:"port,omitempty"`
	Reason string                 `json:"reason,omitempty"`
	Data   *models.DeviceSnapshot `json:"data,omitempty"`
	TS     float64                `json:"ts,omitempty"`
}

// Key returns the device identity an envelope addresses: the UID when the
// agent resolved one, otherwise the port path.
func (e *Envelope) Key() string {
	if e.UID != "" {
		return e.UID
	}

	return e.Port
}

// decodeEnvelope parses and validates one stream frame. Validation happens
// here, at the single choke point, so downstream code can trust the shape
// of every event it sees.
func decodeEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope

	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("malformed envelope: %w", err)
	}

	switch env.Type {
	case "":
		return nil, errEmptyType
	case TypeSnapshot:
		if env.Data == nil {
			return nil, errSnapshotNoData
		}

		if env.Key() == "" && env.Data.Key() == "" {
			return nil, errSnapshotNoKey
		}
	case TypeRemoved:
		if env.Key() == "" {
			return nil, errRemovedNoKey
		}
	case TypeProbeFailed:
		if env.Reason == "" {
			return nil, errProbeNoReason
		}
	case TypePing:
		// Keepalive, no payload to validate.
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownEnvelope, env.Type)
	}

	return &env, nil
}
