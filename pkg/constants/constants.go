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

package constants

import "time"

// DefaultAppVersion is reported when the binary was built without a version.
const DefaultAppVersion = "0.0.0-dev"

// API defaults.
const (
	// DefaultAPIURL is the base URL of the insights API.
	DefaultAPIURL = "https://api.telemetrydeck.com"

	// DefaultAPIVersion is the version prefix prepended to every endpoint path.
	DefaultAPIVersion = "v3"

	// DefaultRequestTimeout bounds a single HTTP round trip.
	DefaultRequestTimeout = 30 * time.Second

	// DefaultRequestsPerSecond throttles outbound requests. Burst allows short spikes.
	DefaultRequestsPerSecond = 20
	DefaultRequestBurst      = 40
)

// Cache TTLs per entity type.
const (
	AppTTL          = 20 * time.Minute
	GroupTTL        = 20 * time.Minute
	InsightTTL      = 10 * time.Minute
	OrganizationTTL = 60 * time.Minute
)

const (
	// ErrorCooldown is how long an error state blocks a new fetch for the same key.
	ErrorCooldown = 60 * time.Second

	// FetchTimeout bounds one background resource fetch.
	FetchTimeout = 45 * time.Second

	// MaxConcurrentFetches bounds background fetches across all resource services.
	MaxConcurrentFetches = 8
)

// Query poll loop.
const (
	PollInitialInterval = 1 * time.Second
	PollMultiplier      = 1.5
	PollMaxInterval     = 10 * time.Second
	PollMaxAttempts     = 120
	PollTimeout         = 5 * time.Minute
)

// Error sink.
const (
	// ErrorSinkBuffer is the number of errors queued before new ones are dropped.
	ErrorSinkBuffer = 64

	// ErrorSinkRecent is the number of errors kept for display.
	ErrorSinkRecent = 20

	// TransientErrorThreshold is how often a transient HTTP error has to repeat before it is reported.
	TransientErrorThreshold = 10
)

// DefaultStatusAddress is where the local status server listens.
const DefaultStatusAddress = "127.0.0.1:8090"

// OrganizationKey is the cache key of the single organization of a session.
const OrganizationKey = "current"
