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

package query

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tiendc/go-deepcopy"
	"go.uber.org/zap"

	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/errorsink"
	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/models"
)

// State is what a UI shows for one query.
type State struct {
	// Result is the newest value of the current run, or the last final result
	// of a successful run if the current one failed.
	Result *models.QueryResultWrapper `json:"result,omitempty"`
	// Final is true if Result came from a finished task.
	Final      bool      `json:"final"`
	Loading    bool      `json:"loading"`
	Err        string    `json:"error,omitempty"`
	Generation uint64    `json:"generation"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Runner keeps the result of one query current. Every Run starts a new
// generation and cancels the one before it; values published by an older
// generation are dropped.
type Runner struct {
	executor *Executor
	query    models.CustomQuery
	sink     errorsink.ErrorSink
	now      func() time.Time
	logger   *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	settings   Settings
	state      State
	lastFinal  *models.QueryResultWrapper
	cancelRun  context.CancelFunc
	generation uint64
	closed     bool
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithClock sets the clock used for State.UpdatedAt.
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRunner returns an idle runner. Call Run or SetSettings to start it.
func NewRunner(executor *Executor, query models.CustomQuery, settings Settings, sink errorsink.ErrorSink, opts ...RunnerOption) *Runner {
	if sink == nil {
		sink = errorsink.Discard
	}
	ctx, cancel := context.WithCancel(context.Background())

	r := &Runner{
		executor: executor,
		query:    query,
		sink:     sink,
		now:      time.Now,
		logger:   executor.logger,
		ctx:      ctx,
		cancel:   cancel,
		settings: settings,
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Run starts a new generation with the current settings and returns its number.
// It returns 0 once the runner is closed.
func (r *Runner) Run() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.runLocked()
}

func (r *Runner) runLocked() uint64 {
	if r.closed {
		return 0
	}
	if r.cancelRun != nil {
		r.cancelRun()
	}

	r.generation++
	generation := r.generation
	ctx, cancel := context.WithCancel(r.ctx)
	r.cancelRun = cancel

	r.state.Loading = true
	r.state.Generation = generation
	r.state.UpdatedAt = r.now()

	settings := r.settings
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		r.execute(ctx, generation, settings)
	}()

	return generation
}

func (r *Runner) execute(ctx context.Context, generation uint64, settings Settings) {
	start := time.Now()
	_, err := r.executor.Execute(ctx, r.query, settings, func(result models.QueryResultWrapper, final bool) {
		r.publish(generation, result, final)
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	if generation != r.generation {
		r.logger.Debugf("Dropping outcome of superseded run %d", generation)
		return
	}

	r.state.Loading = false
	r.state.UpdatedAt = r.now()
	if err == nil {
		r.state.Err = ""
		r.logger.Debugf("Query run %d finished in %s", generation, time.Since(start).Round(time.Millisecond))
		return
	}

	if errors.Is(err, context.Canceled) {
		return
	}
	r.state.Result = r.lastFinal
	r.state.Final = r.lastFinal != nil
	r.state.Err = err.Error()
	r.sink.Handle(err)
}

func (r *Runner) publish(generation uint64, result models.QueryResultWrapper, final bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if generation != r.generation {
		return
	}

	r.state.Result = &result
	r.state.Final = final
	r.state.UpdatedAt = r.now()
	if final {
		r.lastFinal = &result
	}
}

// SetSettings stores settings and starts a new run if they differ from the current ones.
func (r *Runner) SetSettings(settings Settings) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.settings.Equal(settings) && r.generation > 0 {
		return false
	}
	r.settings = settings

	return r.runLocked() != 0
}

// State returns a copy of the current state that the caller may keep and modify.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()

	var snapshot State
	if err := deepcopy.Copy(&snapshot, &r.state); err != nil {
		r.logger.Warnf("Failed to copy query state: %v", err)
		snapshot = r.state
		snapshot.Result = nil
	}

	return snapshot
}

// Close cancels the current run and waits for it to return.
func (r *Runner) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Loading {
		r.state.Loading = false
		r.state.UpdatedAt = r.now()
	}
}
