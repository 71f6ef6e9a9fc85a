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

package http

import (
	"context"
	"crypto/tls"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/communicator/http/internal"
	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/constants"
	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/version"
)

// TokenSource supplies the bearer token of the current session.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource that always returns the same token.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }

// ClientConfig configures a Client. Zero values fall back to defaults.
type ClientConfig struct {
	// BaseURL of the API without version, e.g. "https://api.example.com".
	BaseURL string
	// Version prefix inserted before every endpoint, e.g. "v3".
	Version string
	Tokens  TokenSource
	Timeout time.Duration
	// RequestsPerSecond throttles outbound requests; <= 0 disables throttling.
	RequestsPerSecond float64
	Burst             int
	InsecureTLS       bool
	// HTTPClient replaces the default client, mostly for tests.
	HTTPClient *http.Client
}

// Client is the Requester used in production. Safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	limiter    *rate.Limiter
	inflight   singleflight.Group
	latencies  *latencyWindows
	userAgent  string
	timeout    time.Duration
	logger     *zap.SugaredLogger
}

// NewClient creates a Client.
func NewClient(cfg ClientConfig, logger *zap.SugaredLogger) *Client {
	if cfg.Version == "" {
		cfg.Version = constants.DefaultAPIVersion
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = constants.DefaultRequestTimeout
	}
	if cfg.Tokens == nil {
		cfg.Tokens = StaticToken("")
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = newHTTPClient(cfg.InsecureTLS, cfg.Timeout)
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/") + "/" + strings.Trim(cfg.Version, "/"),
		httpClient: httpClient,
		tokens:     cfg.Tokens,
		limiter:    limiter,
		latencies:  newLatencyWindows(),
		userAgent:  internal.UserAgentPrefix + version.GetAppVersion(),
		timeout:    cfg.Timeout,
		logger:     logger,
	}
}

// HTTPClient returns the underlying client so tests can intercept it.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// URL returns the absolute URL of endpoint.
func (c *Client) URL(endpoint Endpoint) string {
	return c.baseURL + string(endpoint)
}

func newHTTPClient(insecureTLS bool, timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
	}
	if insecureTLS {
		transport.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: true, //nolint:gosec // opt-in for self-hosted API instances
		}
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}
