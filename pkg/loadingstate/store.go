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

// Package loadingstate tracks, per key, whether a fetch is pending, done or failed.
//
// Every key owns a small looplab/fsm machine:
//
//	start:   idle, finished, error -> loading
//	succeed: loading               -> finished
//	fail:    loading               -> error
//
// An error blocks "start" until the cooldown has passed. The cooldown is
// evaluated lazily whenever the state is read; nothing runs in the background.
package loadingstate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/constants"
)

// Phase is the coarse loading state of a key.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseLoading  Phase = "loading"
	PhaseFinished Phase = "finished"
	PhaseError    Phase = "error"
)

const (
	EventStart   = "start"
	EventSucceed = "succeed"
	EventFail    = "fail"
)

// State is the loading state of a single key.
// At is set for finished and error; Message only for error.
type State struct {
	Phase   Phase     `json:"phase"`
	At      time.Time `json:"at,omitzero"`
	Message string    `json:"message,omitempty"`
}

// IsLoading reports whether a fetch is in flight.
func (s State) IsLoading() bool { return s.Phase == PhaseLoading }

// IsError reports whether the last fetch failed and the cooldown is still running.
func (s State) IsError() bool { return s.Phase == PhaseError }

var events = fsm.Events{
	{Name: EventStart, Src: []string{string(PhaseIdle), string(PhaseFinished), string(PhaseError)}, Dst: string(PhaseLoading)},
	{Name: EventSucceed, Src: []string{string(PhaseLoading)}, Dst: string(PhaseFinished)},
	{Name: EventFail, Src: []string{string(PhaseLoading)}, Dst: string(PhaseError)},
}

type entry struct {
	machine *fsm.FSM
	at      time.Time
	message string
}

// Store holds the loading state of every key of one entity type.
// All transitions are serialized by one mutex.
type Store[K comparable] struct {
	mu       sync.Mutex
	entries  map[K]*entry
	cooldown time.Duration
	now      func() time.Time
	logger   *zap.SugaredLogger
}

// Config configures a Store. Zero values fall back to defaults.
type Config struct {
	Cooldown time.Duration
	Now      func() time.Time
	Logger   *zap.SugaredLogger
}

// New creates an empty store.
func New[K comparable](cfg Config) *Store[K] {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = constants.ErrorCooldown
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}

	return &Store[K]{
		entries:  make(map[K]*entry),
		cooldown: cfg.Cooldown,
		now:      cfg.Now,
		logger:   cfg.Logger,
	}
}

func (s *Store[K]) newEntry(key K) *entry {
	e := &entry{}
	e.machine = fsm.NewFSM(
		string(PhaseIdle),
		events,
		fsm.Callbacks{
			"enter_state": func(_ context.Context, ev *fsm.Event) {
				e.at = s.now()
				e.message = ""
				if ev.Dst == string(PhaseError) && len(ev.Args) > 0 {
					if msg, ok := ev.Args[0].(string); ok {
						e.message = msg
					}
				}
				s.logger.Debugf("loading state of %v: %s -> %s", key, ev.Src, ev.Dst)
			},
		},
	)

	return e
}

// entryLocked returns the entry for key, creating an idle one. Caller holds s.mu.
func (s *Store[K]) entryLocked(key K) *entry {
	e, ok := s.entries[key]
	if !ok {
		e = s.newEntry(key)
		s.entries[key] = e
	}

	return e
}

// stateLocked applies the cooldown rule. Caller holds s.mu.
func (s *Store[K]) stateLocked(e *entry) State {
	phase := Phase(e.machine.Current())
	switch phase {
	case PhaseIdle, PhaseLoading:
		return State{Phase: phase}
	case PhaseError:
		if s.now().Sub(e.at) > s.cooldown {
			return State{Phase: PhaseIdle}
		}
		return State{Phase: PhaseError, At: e.at, Message: e.message}
	default:
		return State{Phase: phase, At: e.at}
	}
}

// Read returns the state of key. An error older than the cooldown reads as idle;
// the stored state is left as is until the next transition.
func (s *Store[K]) Read(key K) State {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return State{Phase: PhaseIdle}
	}

	return s.stateLocked(e)
}

// TransitionToLoading moves key to loading. It returns false, and changes
// nothing, if a fetch for key is already in flight or the key failed less than
// one cooldown ago. The caller that gets true owns the fetch.
func (s *Store[K]) TransitionToLoading(key K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entryLocked(key)
	switch s.stateLocked(e).Phase {
	case PhaseLoading, PhaseError:
		return false
	}

	if err := e.machine.Event(context.Background(), EventStart); err != nil {
		s.logger.Warnf("unexpected loading state transition for %v: %v", key, err)
		return false
	}

	return true
}

// TransitionToFinished records a successful fetch for key.
func (s *Store[K]) TransitionToFinished(key K) error {
	return s.fire(key, EventSucceed)
}

// TransitionToError records a failed fetch for key.
func (s *Store[K]) TransitionToError(key K, message string) error {
	return s.fire(key, EventFail, message)
}

func (s *Store[K]) fire(key K, event string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || !e.machine.Can(event) {
		current := PhaseIdle
		if ok {
			current = Phase(e.machine.Current())
		}
		return fmt.Errorf("cannot %s %v: state is %s", event, key, current)
	}

	return e.machine.Event(context.Background(), event, args...)
}

// MarkFinished records that key holds a current value that did not come from a
// fetch, e.g. the server's answer to an update. An error and its cooldown are
// cleared. It returns false, and changes nothing, while a fetch is in flight.
func (s *Store[K]) MarkFinished(key K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entryLocked(key)
	if Phase(e.machine.Current()) == PhaseLoading {
		return false
	}

	for _, event := range []string{EventStart, EventSucceed} {
		if err := e.machine.Event(context.Background(), event); err != nil {
			s.logger.Warnf("unexpected loading state transition for %v: %v", key, err)
			return false
		}
	}

	return true
}

// Reset forgets key, which then reads as idle.
func (s *Store[K]) Reset(key K) {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

// ResetAll forgets every key.
func (s *Store[K]) ResetAll() {
	s.mu.Lock()
	s.entries = make(map[K]*entry)
	s.mu.Unlock()
}

// Snapshot returns the state of every known key.
func (s *Store[K]) Snapshot() map[K]State {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[K]State, len(s.entries))
	for k, e := range s.entries {
		out[k] = s.stateLocked(e)
	}

	return out
}
