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

// Package backoff paces the status poll loop of asynchronous query tasks.
package backoff

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/constants"
)

// ErrExhausted is returned once the attempt or time budget of a poller is used up.
var ErrExhausted = errors.New("poll budget exhausted")

// PollConfig bounds a poll loop. Waits grow exponentially from InitialInterval
// by Multiplier up to MaxInterval.
type PollConfig struct {
	InitialInterval time.Duration `yaml:"initialInterval"`
	MaxInterval     time.Duration `yaml:"maxInterval"`
	Multiplier      float64       `yaml:"multiplier"`
	MaxAttempts     int           `yaml:"maxAttempts"`
	Timeout         time.Duration `yaml:"timeout"`
}

// DefaultPollConfig returns the production poll settings.
func DefaultPollConfig() PollConfig {
	return PollConfig{
		InitialInterval: constants.PollInitialInterval,
		MaxInterval:     constants.PollMaxInterval,
		Multiplier:      constants.PollMultiplier,
		MaxAttempts:     constants.PollMaxAttempts,
		Timeout:         constants.PollTimeout,
	}
}

// Validate rejects settings that would poll forever or not at all.
func (c PollConfig) Validate() error {
	switch {
	case c.InitialInterval <= 0:
		return fmt.Errorf("poll initial interval must be positive, got %s", c.InitialInterval)
	case c.MaxInterval < c.InitialInterval:
		return fmt.Errorf("poll max interval %s is below the initial interval %s", c.MaxInterval, c.InitialInterval)
	case c.Multiplier < 1:
		return fmt.Errorf("poll multiplier must be at least 1, got %v", c.Multiplier)
	case c.MaxAttempts <= 0:
		return fmt.Errorf("poll max attempts must be positive, got %d", c.MaxAttempts)
	case c.Timeout <= 0:
		return fmt.Errorf("poll timeout must be positive, got %s", c.Timeout)
	}

	return nil
}

// Poller hands out poll attempts. It is not safe for concurrent use; every poll loop owns one.
type Poller struct {
	cfg      PollConfig
	backOff  *backoff.ExponentialBackOff
	attempts int
}

// NewPoller starts the attempt and time budget now.
func NewPoller(cfg PollConfig) *Poller {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialInterval
	b.MaxInterval = cfg.MaxInterval
	b.Multiplier = cfg.Multiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = cfg.Timeout
	b.Reset()

	return &Poller{cfg: cfg, backOff: b}
}

// Wait blocks until the next attempt is due. It returns ErrExhausted when no
// attempt is left or the next one would start after the timeout, and the
// context error when ctx is done first.
func (p *Poller) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.attempts >= p.cfg.MaxAttempts {
		return ErrExhausted
	}

	next := p.backOff.NextBackOff()
	if next == backoff.Stop || p.backOff.GetElapsedTime()+next > p.cfg.Timeout {
		return ErrExhausted
	}

	timer := time.NewTimer(next)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}
	p.attempts++

	return nil
}

// Attempts returns how many waits completed.
func (p *Poller) Attempts() int {
	return p.attempts
}
