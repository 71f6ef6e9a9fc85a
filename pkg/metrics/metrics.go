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

package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	// Component labels.
	ComponentTransport = "transport"
	ComponentQuery     = "query"
	ComponentErrorSink = "error_sink"
	ComponentResource  = "resource"
	ComponentServices  = "services"

	// Lookup results.
	LookupFresh = "fresh"
	LookupStale = "stale"
	LookupMiss  = "miss"

	// Fetch and query outcomes.
	OutcomeSuccess  = "success"
	OutcomeError    = "error"
	OutcomeCanceled = "canceled"
	OutcomeTimeout  = "timeout"
)

var (
	// Namespace and subsystem for all metrics.
	namespace = "insights"
	subsystem = "client"

	errorCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "errors_total",
			Help:      "Total number of errors encountered by component",
		},
		[]string{"component", "instance"},
	)

	resourceLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "resource_lookups_total",
			Help:      "Cache lookups by resource and result (fresh, stale, miss)",
		},
		[]string{"resource", "result"},
	)

	resourceFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "resource_fetches_total",
			Help:      "Background resource fetches by outcome",
		},
		[]string{"resource", "outcome"},
	)

	resourceFetchTime = promauto.NewSummaryVec(
		prometheus.SummaryOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "resource_fetch_duration_milliseconds",
			Help:      "Time taken to fetch a resource (in milliseconds)",
			Objectives: map[float64]float64{
				0.5:  0.01,
				0.9:  0.01,
				0.99: 0.01,
			},
		},
		[]string{"resource"},
	)

	httpRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "http_requests_total",
			Help:      "Outbound API requests by method and status code (0 = no response)",
		},
		[]string{"method", "code"},
	)

	httpRequestTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of outbound API requests in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method"},
	)

	queryExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "query_executions_total",
			Help:      "Submit/poll/fetch sequences by outcome",
		},
		[]string{"outcome"},
	)

	queryPollAttempts = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "query_poll_attempts",
			Help:      "Status requests needed until a query task finished",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21, 34, 55, 89, 120},
		},
	)

	errorSinkDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "error_sink_dropped_total",
			Help:      "Errors dropped because the error sink queue was full",
		},
	)
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// IncErrorCountAndLog increments the error counter and logs the error.
func IncErrorCountAndLog(component, instance string, err error, logger *zap.SugaredLogger) {
	logger.Errorf("Error in %s (%s): %v", component, instance, err)
	IncErrorCount(component, instance)
}

// IncErrorCount increments the error counter for a component.
func IncErrorCount(component, instance string) {
	errorCounter.WithLabelValues(component, instance).Inc()
}

// RecordLookup counts a cache lookup.
func RecordLookup(resource, result string) {
	resourceLookups.WithLabelValues(resource, result).Inc()
}

// RecordFetch counts a finished fetch and its duration.
func RecordFetch(resource, outcome string, duration time.Duration) {
	resourceFetches.WithLabelValues(resource, outcome).Inc()
	resourceFetchTime.WithLabelValues(resource).Observe(float64(duration.Milliseconds()))
}

// RecordHTTPRequest counts an outbound request. statusCode is 0 if no response arrived.
func RecordHTTPRequest(method string, statusCode int, duration time.Duration) {
	httpRequests.WithLabelValues(method, strconv.Itoa(statusCode)).Inc()
	httpRequestTime.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordQueryExecution counts a finished query sequence.
func RecordQueryExecution(outcome string, pollAttempts int) {
	queryExecutions.WithLabelValues(outcome).Inc()
	if pollAttempts > 0 {
		queryPollAttempts.Observe(float64(pollAttempts))
	}
}

// IncErrorSinkDropped counts an error the sink had no room for.
func IncErrorSinkDropped() {
	errorSinkDropped.Inc()
}
