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

// Package reconcile maintains the canonical per-device record set. Events
// from the session stream are applied here one at a time in arrival order,
// so last-write-wins is well defined without sequence numbers.
package reconcile

import (
	"sync"
	"time"

	"github.com/benchlab/fcdiag/pkg/models"
)

// Store is the canonical mapping of device key to device record. A single
// writer (the stream goroutine) mutates it; display readers take copied
// snapshots under a read lock.
type Store struct {
	mu      sync.RWMutex
	records map[string]*models.DeviceRecord
	order   []string

	now func() time.Time
}

// NewStore creates an empty canonical set.
func NewStore() *Store {
	return &Store{
		records: make(map[string]*models.DeviceRecord),
		now:     time.Now,
	}
}

// Upsert replaces any existing record for key with a fresh record built
// from data. There is no field-level merge: the snapshot wins wholesale.
// Replaying the same data produces the same record apart from Updated.
func (s *Store) Upsert(key string, data *models.DeviceSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[key]; !ok {
		s.order = append(s.order, key)
	}

	s.records[key] = &models.DeviceRecord{
		Key:     key,
		Data:    *data,
		Updated: s.now(),
	}
}

// Remove deletes the record for key if present. Removing an absent key is
// a silent no-op.
func (s *Store) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[key]; !ok {
		return
	}

	delete(s.records, key)

	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Get returns a copy of the record for key.
func (s *Store) Get(key string) (models.DeviceRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[key]
	if !ok {
		return models.DeviceRecord{}, false
	}

	return *rec, true
}

// Records returns a copied slice of all records in first-insertion order.
// Re-upserting an existing key keeps its position, so repeated projections
// of an unchanged set see the same input order.
func (s *Store) Records() []models.DeviceRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.DeviceRecord, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, *s.records[key])
	}

	return out
}

// Len returns the number of records in the set.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.records)
}

// Clear discards every record. Called when a session starts, stops, or
// its stream terminates; device data never outlives its session.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[string]*models.DeviceRecord)
	s.order = s.order[:0]
}
