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

// Package cache provides a generic expiring key/value store with
// stale-while-revalidate reads: Get keeps returning an entry after it expired,
// only NeedsUpdate reports the expiration.
package cache

import (
	"sync"
	"time"
)

// Entry is a cached value with its absolute expiration time.
// Entries are never mutated; Set replaces them wholesale.
type Entry[V any] struct {
	Value     V
	ExpiresAt time.Time
}

// Expired reports whether the entry is stale at now.
func (e Entry[V]) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Option configures an ExpiringCache.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// ExpiringCache is safe for concurrent use.
type ExpiringCache[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]Entry[V]
	now     func() time.Time
}

// New creates an empty cache.
func New[K comparable, V any](opts ...Option) *ExpiringCache[K, V] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	return &ExpiringCache[K, V]{
		entries: make(map[K]Entry[V]),
		now:     o.now,
	}
}

// Set stores value under key until now+ttl, replacing any previous entry.
func (c *ExpiringCache[K, V]) Set(key K, value V, ttl time.Duration) {
	expiresAt := c.now().Add(ttl)

	c.mu.Lock()
	c.entries[key] = Entry[V]{Value: value, ExpiresAt: expiresAt}
	c.mu.Unlock()
}

// Get returns the value stored under key even if it already expired.
// ok is false only if the key was never set or has been removed.
func (c *ExpiringCache[K, V]) Get(key K) (value V, ok bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	return entry.Value, ok
}

// Entry returns the full entry for key.
func (c *ExpiringCache[K, V]) Entry(key K) (Entry[V], bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]

	return entry, ok
}

// NeedsUpdate is true if key has no entry or its entry expired.
func (c *ExpiringCache[K, V]) NeedsUpdate(key K) bool {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return true
	}

	return entry.Expired(c.now())
}

// Remove evicts key.
func (c *ExpiringCache[K, V]) Remove(key K) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// InvalidateAll evicts every entry.
func (c *ExpiringCache[K, V]) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[K]Entry[V])
	c.mu.Unlock()
}

// Len returns the number of entries, stale ones included.
func (c *ExpiringCache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

// Keys returns the cached keys in no particular order.
func (c *ExpiringCache[K, V]) Keys() []K {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]K, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}

	return keys
}
