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

package backoff_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/backoff"
)

var _ = Describe("Poller", func() {
	fast := backoff.PollConfig{
		InitialInterval: time.Millisecond,
		MaxInterval:     4 * time.Millisecond,
		Multiplier:      2,
		MaxAttempts:     3,
		Timeout:         time.Second,
	}

	It("allows exactly MaxAttempts waits", func() {
		p := backoff.NewPoller(fast)
		for i := 0; i < 3; i++ {
			Expect(p.Wait(context.Background())).To(Succeed())
		}
		Expect(p.Attempts()).To(Equal(3))
		Expect(p.Wait(context.Background())).To(MatchError(backoff.ErrExhausted))
	})

	It("stops when the next wait would pass the timeout", func() {
		cfg := fast
		cfg.MaxAttempts = 1000
		cfg.InitialInterval = 20 * time.Millisecond
		cfg.MaxInterval = 20 * time.Millisecond
		cfg.Timeout = 50 * time.Millisecond

		p := backoff.NewPoller(cfg)
		var err error
		for err == nil {
			err = p.Wait(context.Background())
		}
		Expect(err).To(MatchError(backoff.ErrExhausted))
		Expect(p.Attempts()).To(BeNumerically("<=", 2))
	})

	It("grows the wait exponentially", func() {
		cfg := fast
		cfg.InitialInterval = 10 * time.Millisecond
		cfg.MaxInterval = 40 * time.Millisecond

		p := backoff.NewPoller(cfg)
		start := time.Now()
		for i := 0; i < 3; i++ {
			Expect(p.Wait(context.Background())).To(Succeed())
		}
		// 10ms + 20ms + 40ms
		Expect(time.Since(start)).To(BeNumerically(">=", 70*time.Millisecond))
	})

	It("returns the context error when cancelled", func() {
		cfg := fast
		cfg.InitialInterval = time.Hour
		cfg.MaxInterval = time.Hour
		cfg.Timeout = 2 * time.Hour

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()

		Expect(backoff.NewPoller(cfg).Wait(ctx)).To(MatchError(context.Canceled))
	})
})

var _ = Describe("PollConfig", func() {
	It("accepts the defaults", func() {
		Expect(backoff.DefaultPollConfig().Validate()).To(Succeed())
	})

	DescribeTable("rejects unbounded or invalid settings",
		func(mutate func(*backoff.PollConfig)) {
			cfg := backoff.DefaultPollConfig()
			mutate(&cfg)
			Expect(cfg.Validate()).ToNot(Succeed())
		},
		Entry("zero interval", func(c *backoff.PollConfig) { c.InitialInterval = 0 }),
		Entry("max below initial", func(c *backoff.PollConfig) { c.MaxInterval = c.InitialInterval / 2 }),
		Entry("shrinking multiplier", func(c *backoff.PollConfig) { c.Multiplier = 0.5 }),
		Entry("no attempts", func(c *backoff.PollConfig) { c.MaxAttempts = 0 }),
		Entry("no timeout", func(c *backoff.PollConfig) { c.Timeout = 0 }),
	)
})
