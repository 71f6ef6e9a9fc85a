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

// Package errorsink collects terminal failures of the sync layer for display and reporting.
package errorsink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/communicator/http"
	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/constants"
	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/metrics"
	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/sentry"
)

// ErrorSink receives failures. Handle must never block.
type ErrorSink interface {
	Handle(err error)
}

// Func adapts a function to ErrorSink.
type Func func(err error)

func (f Func) Handle(err error) { f(err) }

// Discard drops every error.
var Discard ErrorSink = Func(func(error) {})

// Resetter is implemented by sinks that count repeated transient failures.
// Callers reset the counters after a successful request.
type Resetter interface {
	Reset()
}

// Record is a handled error as shown to the user.
type Record struct {
	At         time.Time `json:"at"`
	Message    string    `json:"message"`
	Kind       string    `json:"kind,omitempty"`
	Endpoint   string    `json:"endpoint,omitempty"`
	StatusCode int       `json:"statusCode,omitempty"`
	Transient  bool      `json:"transient"`
}

// ReportFunc sends an error to the issue tracker.
type ReportFunc func(err error, transferErr *http.TransferError, occurrences int)

// Config configures a SentrySink. Zero values fall back to defaults.
type Config struct {
	Buffer             int
	Recent             int
	TransientThreshold int
	// Report replaces the Sentry reporter, mostly for tests.
	Report ReportFunc
	Now    func() time.Time
}

// SentrySink logs errors, keeps the most recent ones for display and reports them to Sentry.
// Transient HTTP failures are only reported once they repeated TransientThreshold times.
type SentrySink struct {
	queue  chan error
	done   chan struct{}
	wg     sync.WaitGroup
	closed sync.Once

	mu              sync.Mutex
	recent          []Record
	recentSize      int
	transientCounts map[int]int
	threshold       int

	dropped atomic.Uint64
	report  ReportFunc
	now     func() time.Time
	logger  *zap.SugaredLogger
}

// NewSentrySink creates the sink and starts its worker.
func NewSentrySink(cfg Config, logger *zap.SugaredLogger) *SentrySink {
	if cfg.Buffer <= 0 {
		cfg.Buffer = constants.ErrorSinkBuffer
	}
	if cfg.Recent <= 0 {
		cfg.Recent = constants.ErrorSinkRecent
	}
	if cfg.TransientThreshold <= 0 {
		cfg.TransientThreshold = constants.TransientErrorThreshold
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cfg.Report == nil {
		cfg.Report = sentryReporter(logger)
	}

	s := &SentrySink{
		queue:           make(chan error, cfg.Buffer),
		done:            make(chan struct{}),
		recentSize:      cfg.Recent,
		transientCounts: make(map[int]int),
		threshold:       cfg.TransientThreshold,
		report:          cfg.Report,
		now:             cfg.Now,
		logger:          logger,
	}

	s.wg.Add(1)
	go s.run()

	return s
}

// Handle queues err. When the queue is full the error is dropped and counted.
func (s *SentrySink) Handle(err error) {
	if err == nil {
		return
	}

	select {
	case <-s.done:
		return
	default:
	}

	select {
	case s.queue <- err:
	default:
		s.dropped.Add(1)
		metrics.IncErrorSinkDropped()
	}
}

// Recent returns the most recent errors, newest first.
func (s *SentrySink) Recent() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Record, len(s.recent))
	for i, r := range s.recent {
		out[len(s.recent)-1-i] = r
	}

	return out
}

// Dropped returns how many errors did not fit into the queue.
func (s *SentrySink) Dropped() uint64 {
	return s.dropped.Load()
}

// Reset clears the transient failure counters.
func (s *SentrySink) Reset() {
	s.mu.Lock()
	clear(s.transientCounts)
	s.mu.Unlock()
}

// Close stops the worker after it handled what is already queued.
func (s *SentrySink) Close() {
	s.closed.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
}

func (s *SentrySink) run() {
	defer s.wg.Done()

	for {
		select {
		case err := <-s.queue:
			s.process(err)
		case <-s.done:
			for {
				select {
				case err := <-s.queue:
					s.process(err)
				default:
					return
				}
			}
		}
	}
}

func (s *SentrySink) process(err error) {
	if errors.Is(err, context.Canceled) {
		s.logger.Debugf("Ignoring cancelled operation: %v", err)
		return
	}

	record := Record{At: s.now(), Message: err.Error()}
	transferErr, isTransfer := http.AsTransferError(err)
	if isTransfer {
		record.Kind = transferErr.Kind.String()
		record.Endpoint = string(transferErr.Endpoint)
		record.StatusCode = transferErr.StatusCode
		record.Transient = transferErr.Transient()
	}

	occurrences := 1
	report := true

	s.mu.Lock()
	s.recent = append(s.recent, record)
	if len(s.recent) > s.recentSize {
		s.recent = s.recent[len(s.recent)-s.recentSize:]
	}
	if record.Transient {
		s.transientCounts[record.StatusCode]++
		occurrences = s.transientCounts[record.StatusCode]
		report = occurrences >= s.threshold
	}
	s.mu.Unlock()

	if record.Transient {
		s.logger.Warnf("%s (occurred %d times)", record.Message, occurrences)
	} else {
		s.logger.Error(record.Message)
	}
	metrics.IncErrorCount(metrics.ComponentErrorSink, kindLabel(record.Kind))

	if report {
		s.report(err, transferErr, occurrences)
	}
}

func kindLabel(kind string) string {
	if kind == "" {
		return "other"
	}

	return kind
}

func sentryReporter(logger *zap.SugaredLogger) ReportFunc {
	return func(err error, transferErr *http.TransferError, occurrences int) {
		if transferErr == nil {
			sentry.ReportIssue(err, sentry.IssueTypeError, logger)
			return
		}

		if occurrences > 1 {
			err = fmt.Errorf("[HTTP Error] %w (occurred %d times)", err, occurrences)
		}
		sentry.ReportRequestError(logger, transferErr.Method, string(transferErr.Endpoint),
			transferErr.StatusCode, transferErr.Kind.String(), err)
	}
}
