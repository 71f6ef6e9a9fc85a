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

// Package resource implements "get cached or refresh" for one entity type.
//
// A Service combines an ExpiringCache with a loading state Store. Get always
// answers from the cache, possibly with a stale value, and starts a background
// fetch when the entry is missing or expired. At most one fetch per key is in
// flight; a failed key waits for the error cooldown before it is fetched again.
package resource

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/cache"
	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/constants"
	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/errorsink"
	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/loadingstate"
	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/metrics"
)

var (
	// ErrFetchInFlight is returned by Fetch when the key is already loading or cooling down after an error.
	ErrFetchInFlight = errors.New("fetch already in flight or cooling down")
	// ErrClosed is returned once the service has been closed.
	ErrClosed = errors.New("resource service closed")
)

// FetchFunc loads the current value of key from the API.
type FetchFunc[K comparable, V any] func(ctx context.Context, key K) (V, error)

// Config configures a Service. Name, TTL and Fetch are required.
type Config[K comparable, V any] struct {
	// Name labels logs and metrics, e.g. "apps".
	Name  string
	TTL   time.Duration
	Fetch FetchFunc[K, V]
	Sink  errorsink.ErrorSink
	// Limiter bounds concurrent fetches. It is usually shared by every service.
	Limiter      *semaphore.Weighted
	FetchTimeout time.Duration
	Cooldown     time.Duration
	Now          func() time.Time
	Logger       *zap.SugaredLogger
}

// Service is safe for concurrent use.
type Service[K comparable, V any] struct {
	name         string
	ttl          time.Duration
	fetch        FetchFunc[K, V]
	sink         errorsink.ErrorSink
	limiter      *semaphore.Weighted
	fetchTimeout time.Duration
	logger       *zap.SugaredLogger

	cache  *cache.ExpiringCache[K, V]
	states *loadingstate.Store[K]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// mu guards closed and the invalidation epochs. A fetch only writes its
	// result if the epoch of its key did not change while it was running.
	mu        sync.Mutex
	closed    bool
	epoch     uint64
	keyEpochs map[K]uint64
}

// New creates a Service.
func New[K comparable, V any](cfg Config[K, V]) (*Service[K, V], error) {
	if cfg.Name == "" {
		return nil, errors.New("resource service needs a name")
	}
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("resource service %s: TTL must be positive, got %s", cfg.Name, cfg.TTL)
	}
	if cfg.Fetch == nil {
		return nil, fmt.Errorf("resource service %s: fetch function is required", cfg.Name)
	}
	if cfg.Sink == nil {
		cfg.Sink = errorsink.Discard
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = constants.FetchTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Service[K, V]{
		name:         cfg.Name,
		ttl:          cfg.TTL,
		fetch:        cfg.Fetch,
		sink:         cfg.Sink,
		limiter:      cfg.Limiter,
		fetchTimeout: cfg.FetchTimeout,
		logger:       cfg.Logger,
		cache:        cache.New[K, V](cache.WithClock(cfg.Now)),
		states: loadingstate.New[K](loadingstate.Config{
			Cooldown: cfg.Cooldown,
			Now:      cfg.Now,
			Logger:   cfg.Logger,
		}),
		ctx:       ctx,
		cancel:    cancel,
		keyEpochs: make(map[K]uint64),
	}, nil
}

// Name returns the service name.
func (s *Service[K, V]) Name() string {
	return s.name
}

// Get returns the cached value for key, even if it is stale. ok is false if
// nothing is cached yet. A missing or stale entry triggers a background refresh.
func (s *Service[K, V]) Get(key K) (value V, ok bool) {
	value, ok = s.cache.Get(key)
	needsUpdate := s.cache.NeedsUpdate(key)

	switch {
	case !ok:
		metrics.RecordLookup(s.name, metrics.LookupMiss)
	case needsUpdate:
		metrics.RecordLookup(s.name, metrics.LookupStale)
	default:
		metrics.RecordLookup(s.name, metrics.LookupFresh)
	}

	if needsUpdate {
		s.TriggerRefresh(key)
	}

	return value, ok
}

// TriggerRefresh starts a background fetch of key. It returns false and does
// nothing if a fetch is already in flight, the key is cooling down after an
// error, or the service is closed.
func (s *Service[K, V]) TriggerRefresh(key K) bool {
	s.mu.Lock()
	if s.closed || !s.states.TransitionToLoading(key) {
		s.mu.Unlock()
		return false
	}
	epoch := s.epochLocked(key)
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		_, _ = s.load(s.ctx, key, epoch)
	}()

	return true
}

// Fetch loads key synchronously and stores the result. It obeys the same
// in-flight gate as TriggerRefresh and returns ErrFetchInFlight when gated.
func (s *Service[K, V]) Fetch(ctx context.Context, key K) (V, error) {
	var zero V

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return zero, ErrClosed
	}
	if !s.states.TransitionToLoading(key) {
		s.mu.Unlock()
		return zero, ErrFetchInFlight
	}
	epoch := s.epochLocked(key)
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	return s.load(ctx, key, epoch)
}

// load runs one fetch for a key that is already in the loading state.
func (s *Service[K, V]) load(ctx context.Context, key K, epoch uint64) (V, error) {
	var zero V
	start := time.Now()

	if s.limiter != nil {
		if err := s.limiter.Acquire(ctx, 1); err != nil {
			s.fail(key, fmt.Errorf("waiting for a fetch slot: %w", err))
			return zero, err
		}
		defer s.limiter.Release(1)
	}

	ctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	s.logger.Debugf("Fetching %s %v", s.name, key)
	value, err := s.fetch(ctx, key)
	if err != nil {
		metrics.RecordFetch(s.name, outcome(err), time.Since(start))
		s.fail(key, err)
		return zero, err
	}
	metrics.RecordFetch(s.name, metrics.OutcomeSuccess, time.Since(start))

	s.mu.Lock()
	current := s.epochLocked(key) == epoch
	if current {
		s.cache.Set(key, value, s.ttl)
	}
	s.mu.Unlock()

	if err := s.states.TransitionToFinished(key); err != nil {
		s.logger.Debugf("%s %v was reset while loading: %v", s.name, key, err)
	}
	if !current {
		s.logger.Debugf("Discarding %s %v, it was invalidated while loading", s.name, key)
	}
	if resetter, ok := s.sink.(errorsink.Resetter); ok {
		resetter.Reset()
	}

	return value, nil
}

// fail records err for key. A cancelled fetch says nothing about the key, so
// it returns to idle without a cooldown and is not forwarded to the sink.
func (s *Service[K, V]) fail(key K, err error) {
	if errors.Is(err, context.Canceled) {
		s.logger.Debugf("Fetch of %s %v was cancelled", s.name, key)
		s.states.Reset(key)
		return
	}

	s.sink.Handle(fmt.Errorf("fetching %s %v: %w", s.name, key, err))
	if stateErr := s.states.TransitionToError(key, err.Error()); stateErr != nil {
		s.logger.Debugf("%s %v was reset while loading: %v", s.name, key, stateErr)
	}
}

func outcome(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return metrics.OutcomeCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return metrics.OutcomeTimeout
	default:
		return metrics.OutcomeError
	}
}

// epochLocked returns the invalidation epoch of key. Caller holds s.mu.
func (s *Service[K, V]) epochLocked(key K) uint64 {
	return s.epoch + s.keyEpochs[key]
}

// State returns the loading state of key.
func (s *Service[K, V]) State(key K) loadingstate.State {
	return s.states.Read(key)
}

// NeedsUpdate reports whether key is missing or stale.
func (s *Service[K, V]) NeedsUpdate(key K) bool {
	return s.cache.NeedsUpdate(key)
}

// Entry returns the cache entry of key without triggering a refresh.
func (s *Service[K, V]) Entry(key K) (cache.Entry[V], bool) {
	return s.cache.Entry(key)
}

// Keys returns every cached key.
func (s *Service[K, V]) Keys() []K {
	return s.cache.Keys()
}

// Store writes value for key, e.g. the server's answer to an update, and marks the key finished.
// A fetch that is in flight for key keeps running; its result overwrites value.
func (s *Service[K, V]) Store(key K, value V) {
	s.cache.Set(key, value, s.ttl)

	if !s.states.MarkFinished(key) {
		s.logger.Debugf("Stored %s %v while a fetch is in flight", s.name, key)
	}
}

// Invalidate removes key. The result of a fetch already in flight for key is discarded.
func (s *Service[K, V]) Invalidate(key K) {
	s.mu.Lock()
	s.keyEpochs[key]++
	s.cache.Remove(key)
	if !s.states.Read(key).IsLoading() {
		s.states.Reset(key)
	}
	s.mu.Unlock()
}

// InvalidateAll removes every key and discards the results of every fetch in flight.
func (s *Service[K, V]) InvalidateAll() {
	s.mu.Lock()
	s.epoch++
	s.cache.InvalidateAll()
	for key, state := range s.states.Snapshot() {
		if !state.IsLoading() {
			s.states.Reset(key)
		}
	}
	s.mu.Unlock()
}

// Close cancels fetches in flight and waits for them. Later refreshes are ignored.
func (s *Service[K, V]) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}
