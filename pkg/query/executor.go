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

// Package query runs analytical queries through the asynchronous task API:
// submit the query, show the last known value, poll the task, fetch the result.
package query

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"

	"github.com/tiendc/go-deepcopy"
	"go.uber.org/zap"

	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/backoff"
	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/communicator/http"
	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/metrics"
	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/models"
)

// ErrPollTimeout is returned when a task is still running after the poll budget is used up.
var ErrPollTimeout = errors.New("query task did not finish in time")

// Settings are the UI-held parameters a query is resolved against.
type Settings struct {
	Interval models.QueryTimeInterval `json:"interval"`
	TestMode bool                     `json:"testMode"`
}

// Equal reports whether both settings resolve queries the same way.
func (s Settings) Equal(other Settings) bool {
	return s.TestMode == other.TestMode &&
		s.Interval.BeginningDate.Equal(other.Interval.BeginningDate) &&
		s.Interval.EndDate.Equal(other.Interval.EndDate)
}

// Resolve returns a copy of query with intervals and test mode filled in from
// settings where the query leaves them open.
func (s Settings) Resolve(query models.CustomQuery) (models.CustomQuery, error) {
	var resolved models.CustomQuery
	if err := deepcopy.Copy(&resolved, &query); err != nil {
		return models.CustomQuery{}, fmt.Errorf("copying query: %w", err)
	}

	if len(resolved.Intervals) == 0 {
		resolved.Intervals = []models.QueryTimeInterval{s.Interval}
	}
	if resolved.TestMode == nil {
		testMode := s.TestMode
		resolved.TestMode = &testMode
	}

	return resolved, nil
}

// PublishFunc receives every value a run produces. final is false for the
// value shown while the task is still calculating.
type PublishFunc func(result models.QueryResultWrapper, final bool)

// Executor runs the submit, poll and fetch sequence for one query at a time per call.
type Executor struct {
	requester http.Requester
	poll      backoff.PollConfig
	logger    *zap.SugaredLogger
}

// NewExecutor returns an executor polling with cfg.
func NewExecutor(requester http.Requester, cfg backoff.PollConfig, logger *zap.SugaredLogger) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &Executor{requester: requester, poll: cfg, logger: logger}, nil
}

// Execute submits query and blocks until its final result is known, the task
// fails, the poll budget runs out or ctx is done. The last known value is
// published before polling starts if the server has one; the final result is
// published and returned.
func (e *Executor) Execute(ctx context.Context, query models.CustomQuery, settings Settings, publish PublishFunc) (models.QueryResultWrapper, error) {
	if publish == nil {
		publish = func(models.QueryResultWrapper, bool) {}
	}

	statusRequests := 0
	result, err := e.execute(ctx, query, settings, publish, &statusRequests)
	metrics.RecordQueryExecution(executionOutcome(err), statusRequests)

	return result, err
}

func (e *Executor) execute(ctx context.Context, query models.CustomQuery, settings Settings, publish PublishFunc, statusRequests *int) (models.QueryResultWrapper, error) {
	resolved, err := settings.Resolve(query)
	if err != nil {
		return models.QueryResultWrapper{}, err
	}

	task, err := http.PostRequest[models.QueryTask](ctx, e.requester, http.QueryCalculateAsyncEndpoint, &resolved)
	if err != nil {
		return models.QueryResultWrapper{}, fmt.Errorf("submitting query: %w", err)
	}
	taskID := task.QueryTaskID
	if taskID == "" {
		return models.QueryResultWrapper{}, &http.TransferError{
			Kind:     http.KindDecodeFailed,
			Method:   nethttp.MethodPost,
			Endpoint: http.QueryCalculateAsyncEndpoint,
			Err:      errors.New("response carries no queryTaskID"),
		}
	}
	e.logger.Debugf("Submitted query %s as task %s", resolved.QueryType, taskID)

	initial, err := http.GetRequest[models.QueryResultWrapper](ctx, e.requester, http.TaskLastSuccessfulValueEndpoint(taskID))
	switch {
	case ctx.Err() != nil:
		return models.QueryResultWrapper{}, ctx.Err()
	case err != nil:
		e.logger.Debugf("No previous value for task %s: %v", taskID, err)
	case initial.Result != nil:
		publish(*initial, false)
	}

	if err := e.awaitTask(ctx, taskID, statusRequests); err != nil {
		return models.QueryResultWrapper{}, err
	}

	final, err := http.GetRequest[models.QueryResultWrapper](ctx, e.requester, http.TaskLastSuccessfulValueEndpoint(taskID))
	if err != nil {
		return models.QueryResultWrapper{}, fmt.Errorf("fetching result of task %s: %w", taskID, err)
	}
	if final.Result == nil {
		return models.QueryResultWrapper{}, &http.TransferError{
			Kind:     http.KindDecodeFailed,
			Method:   nethttp.MethodGet,
			Endpoint: http.TaskLastSuccessfulValueEndpoint(taskID),
			Err:      errors.New("finished task has no result"),
		}
	}
	publish(*final, true)

	return *final, nil
}

// awaitTask polls the status of taskID until it leaves the running state.
func (e *Executor) awaitTask(ctx context.Context, taskID string, statusRequests *int) error {
	poller := backoff.NewPoller(e.poll)
	endpoint := http.TaskStatusEndpoint(taskID)

	for {
		if err := poller.Wait(ctx); err != nil {
			if errors.Is(err, backoff.ErrExhausted) {
				return fmt.Errorf("%w: task %s after %d status requests: %w", ErrPollTimeout, taskID, *statusRequests, err)
			}
			return err
		}

		*statusRequests++
		status, err := http.GetRequest[models.QueryTaskStatusResponse](ctx, e.requester, endpoint)
		if err != nil {
			return fmt.Errorf("polling task %s: %w", taskID, err)
		}

		switch status.Status {
		case models.QueryTaskSuccessful:
			e.logger.Debugf("Task %s finished after %d status requests", taskID, *statusRequests)
			return nil
		case models.QueryTaskError:
			return http.NewServerError(nethttp.MethodGet, endpoint, "query task "+taskID+" failed")
		case models.QueryTaskRunning:
		default:
			return &http.TransferError{
				Kind:     http.KindDecodeFailed,
				Method:   nethttp.MethodGet,
				Endpoint: endpoint,
				Err:      fmt.Errorf("unknown task status %q", status.Status),
			}
		}
	}
}

func executionOutcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, context.Canceled):
		return metrics.OutcomeCanceled
	case errors.Is(err, ErrPollTimeout), errors.Is(err, context.DeadlineExceeded):
		return metrics.OutcomeTimeout
	default:
		return metrics.OutcomeError
	}
}

