// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package latency

import (
	"sort"
	"time"

	"github.com/united-manufacturing-hub/expiremap/v2/pkg/expiremap"

	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/models"
)

// Window is a rolling set of request durations keyed by the time they were observed.
// Entries expire after the window length.
type Window = expiremap.ExpireMap[time.Time, time.Duration]

// NewWindow returns a window that keeps samples for length.
func NewWindow(length time.Duration) *Window {
	return expiremap.NewEx[time.Time, time.Duration](length, length)
}

// Summarize returns min, max, average and percentiles of the samples in w, in milliseconds.
func Summarize(w *Window) models.Latency {
	var durations []time.Duration
	var total time.Duration

	w.Range(func(_ time.Time, value time.Duration) bool {
		durations = append(durations, value)
		total += value
		return true
	})

	if len(durations) == 0 {
		return models.Latency{}
	}

	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	percentile := func(p float64) time.Duration {
		idx := int(float64(len(durations)) * p)
		if idx >= len(durations) {
			idx = len(durations) - 1
		}
		return durations[idx]
	}

	return models.Latency{
		MinMs: ms(durations[0]),
		MaxMs: ms(durations[len(durations)-1]),
		AvgMs: ms(total / time.Duration(len(durations))),
		P95Ms: ms(percentile(0.95)),
		P99Ms: ms(percentile(0.99)),
		Count: len(durations),
	}
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
