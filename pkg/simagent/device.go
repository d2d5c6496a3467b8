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

package simagent

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/benchlab/fcdiag/pkg/models"
)

const historyCap = 600

// simDevice is one deterministic telemetry generator. Seeding the RNG
// with the port string keeps runs reproducible per device.
type simDevice struct {
	uid     string
	port    string
	profile string
	mode    string

	rng     *rand.Rand
	phase   float64
	started time.Time
	state   string
	ok      *bool
	reasons []string

	histCycle []float64
	histLoop  []float64
	histVbat  []float64
	histAmps  []float64
	samples   int
}

func newSimDevice(index int, profile, mode string) *simDevice {
	port := fmt.Sprintf("sim://%03d", index+1)
	seed := int64(0)

	for _, r := range port {
		seed = seed*31 + int64(r)
	}

	rng := rand.New(rand.NewSource(seed))

	return &simDevice{
		uid:     fmt.Sprintf("SIM-%03d", index+1),
		port:    port,
		profile: profile,
		mode:    mode,
		rng:     rng,
		phase:   rng.Float64() * math.Pi,
		state:   models.StateTesting,
	}
}

// restart puts the device back into testing with verdict and histories
// cleared, as the agent does on a retest request.
func (d *simDevice) restart(now time.Time) {
	d.started = now
	d.state = models.StateTesting
	d.ok = nil
	d.reasons = nil
	d.histCycle = nil
	d.histLoop = nil
	d.histVbat = nil
	d.histAmps = nil
	d.samples = 0
}

// step advances the generator one tick and returns the full snapshot.
// After duration seconds of testing the device settles with a verdict;
// devices whose seeded jitter is high settle not-ok.
func (d *simDevice) step(now time.Time, duration float64) *models.DeviceSnapshot {
	if d.started.IsZero() {
		d.started = now
	}

	d.samples++
	elapsed := now.Sub(d.started).Seconds()
	t := elapsed + d.phase

	cycleUS := 250.0 + d.rng.NormFloat64()*4.0
	loopHz := 1_000_000.0 / cycleUS
	vbat := math.Max(0, 16.2-elapsed*0.05)
	amps := math.Abs(d.rng.NormFloat64()*0.15 + 0.2)

	d.histCycle = appendCapped(d.histCycle, cycleUS)
	d.histLoop = appendCapped(d.histLoop, loopHz)
	d.histVbat = appendCapped(d.histVbat, vbat)
	d.histAmps = appendCapped(d.histAmps, amps)

	if d.state == models.StateTesting && elapsed >= duration {
		d.state = models.StateComplete
		d.settle()
	}

	snap := &models.DeviceSnapshot{
		UID:     d.uid,
		Port:    d.port,
		Profile: d.profile,
		Mode:    d.mode,
		Baud:    models.DefaultBaud,
		OK:      d.ok,
		State:   d.state,
		Reasons: append([]string(nil), d.reasons...),
		Meta: map[string]string{
			"fc_variant":  "BTFL",
			"fc_version":  "4.5.0",
			"board_id":    "SIM",
			"api_version": "1.0.0",
			"build_info":  "simulated",
		},
		Status: mustRaw(map[string]interface{}{
			"cycleTime_us": cycleUS,
			"i2c_errors":   0,
		}),
		Attitude: mustRaw(map[string]interface{}{
			"roll_deg":  math.Sin(t) * 1.5,
			"pitch_deg": math.Cos(t*0.7) * 1.5,
			"yaw_deg":   math.Mod(t*20, 360),
		}),
		Analog: mustRaw(map[string]interface{}{
			"vbat_V":   vbat,
			"amps_A":   amps,
			"mAh_used": int(elapsed * 120),
		}),
		Loop: mustRaw(map[string]interface{}{
			"samples":       d.samples,
			"cycle_us_mean": 250.0,
			"loop_hz_mean":  4000.0,
		}),
		History: models.History{
			CycleUS: append([]float64(nil), d.histCycle...),
			LoopHz:  append([]float64(nil), d.histLoop...),
			Vbat:    append([]float64(nil), d.histVbat...),
			Amps:    append([]float64(nil), d.histAmps...),
		},
		Duration: elapsed,
	}

	return snap
}

// settle assigns the final verdict. Roughly one device in eight fails,
// decided by the seeded RNG so the outcome is stable per port.
func (d *simDevice) settle() {
	failed := d.rng.Intn(8) == 0

	ok := !failed
	d.ok = &ok

	if failed {
		d.reasons = []string{"gyro_noise_high", "loop_jitter_high"}
	}
}

func appendCapped(s []float64, v float64) []float64 {
	s = append(s, v)
	if len(s) > historyCap {
		s = s[len(s)-historyCap:]
	}

	return s
}

func mustRaw(v interface{}) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}

	return raw
}
