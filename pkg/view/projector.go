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

// Package view derives ordered, filtered projections of the canonical
// device set for display. Projection is pure: it never mutates its input
// and produces the same output for the same input.
package view

import (
	"sort"
	"strings"

	"github.com/benchlab/fcdiag/pkg/models"
)

// Filter selects which records are shown.
type Filter string

const (
	FilterAll     Filter = "all"
	FilterTesting Filter = "testing"
	FilterOK      Filter = "ok"
	FilterNotOK   Filter = "not_ok"
)

// SortKey selects the display order.
type SortKey string

const (
	SortPort    SortKey = "port"
	SortUpdated SortKey = "updated"
	SortStatus  SortKey = "status"
)

// Severity ranks for status ordering: devices still testing come first,
// then failures, passes, and finally unclassified ones.
const (
	rankTesting = 0
	rankNotOK   = 1
	rankOK      = 2
	rankUnknown = 3
)

// Project returns the ordered subset of records matching filter and
// search, sorted by key. The sort is stable: records that compare equal
// keep their relative input order, so unrelated rows do not reshuffle on
// every refresh.
func Project(records []models.DeviceRecord, filter Filter, search string, key SortKey) []models.DeviceRecord {
	needle := strings.ToLower(strings.TrimSpace(search))

	out := make([]models.DeviceRecord, 0, len(records))

	for _, rec := range records {
		if !passesFilter(&rec, filter) {
			continue
		}

		if needle != "" && !matchesSearch(&rec, needle) {
			continue
		}

		out = append(out, rec)
	}

	switch key {
	case SortPort:
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].Data.Port < out[j].Data.Port
		})
	case SortUpdated:
		// Most recent first.
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].Updated.After(out[j].Updated)
		})
	case SortStatus:
		fallthrough
	default:
		sort.SliceStable(out, func(i, j int) bool {
			return severity(&out[i]) < severity(&out[j])
		})
	}

	return out
}

func passesFilter(rec *models.DeviceRecord, filter Filter) bool {
	switch filter {
	case FilterTesting:
		return rec.Data.Testing()
	case FilterOK:
		return rec.Data.OK != nil && *rec.Data.OK
	case FilterNotOK:
		return rec.Data.OK != nil && !*rec.Data.OK
	case FilterAll:
		fallthrough
	default:
		return true
	}
}

func matchesSearch(rec *models.DeviceRecord, needle string) bool {
	haystack := strings.ToLower(rec.Key + " " + rec.Data.Port)

	return strings.Contains(haystack, needle)
}

func severity(rec *models.DeviceRecord) int {
	if rec.Data.Testing() {
		return rankTesting
	}

	if rec.Data.OK == nil {
		return rankUnknown
	}

	if *rec.Data.OK {
		return rankOK
	}

	return rankNotOK
}
