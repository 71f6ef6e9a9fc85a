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

// Package config loads the client configuration from a YAML file and the environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/backoff"
	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/constants"
	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/env"
	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/sentry"
	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/services"
)

// DefaultPath is used when CONFIG_PATH is not set.
const DefaultPath = "config.yaml"

// Config is the complete client configuration.
type Config struct {
	API          APIConfig          `yaml:"api"`
	Cache        services.Config    `yaml:"cache"`
	Poll         backoff.PollConfig `yaml:"poll"`
	ErrorSink    ErrorSinkConfig    `yaml:"errorSink"`
	StatusServer StatusServerConfig `yaml:"statusServer"`
	Sentry       SentryConfig       `yaml:"sentry"`
	// TestMode is the initial test-mode setting of query runs.
	TestMode bool `yaml:"testMode"`
}

type APIConfig struct {
	URL               string        `yaml:"url"`
	Version           string        `yaml:"version"`
	AuthToken         string        `yaml:"authToken"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond"`
	Burst             int           `yaml:"burst"`
	AllowInsecureTLS  bool          `yaml:"allowInsecureTLS"`
}

type ErrorSinkConfig struct {
	Buffer             int `yaml:"buffer"`
	Recent             int `yaml:"recent"`
	TransientThreshold int `yaml:"transientThreshold"`
}

type StatusServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

type SentryConfig struct {
	DSN      string        `yaml:"dsn"`
	Debounce time.Duration `yaml:"debounce"`
}

// Default returns the configuration used for everything a file does not set.
func Default() Config {
	return Config{
		API: APIConfig{
			URL:               constants.DefaultAPIURL,
			Version:           constants.DefaultAPIVersion,
			Timeout:           constants.DefaultRequestTimeout,
			RequestsPerSecond: constants.DefaultRequestsPerSecond,
			Burst:             constants.DefaultRequestBurst,
		},
		Cache: services.DefaultConfig(),
		Poll:  backoff.DefaultPollConfig(),
		ErrorSink: ErrorSinkConfig{
			Buffer:             constants.ErrorSinkBuffer,
			Recent:             constants.ErrorSinkRecent,
			TransientThreshold: constants.TransientErrorThreshold,
		},
		StatusServer: StatusServerConfig{
			Enabled: true,
			Address: constants.DefaultStatusAddress,
		},
		Sentry: SentryConfig{Debounce: 2 * time.Hour},
	}
}

// Parse decodes YAML on top of the defaults. Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// LoadFile reads path. A missing file yields the defaults.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}

	return Parse(data)
}

// LoadWithEnvOverrides loads the file at CONFIG_PATH and applies environment overrides.
//
// Order of precedence (highest to lowest):
//  1. Environment variables (API_URL, API_VERSION, AUTH_TOKEN, TEST_MODE, STATUS_ADDRESS,
//     ALLOW_INSECURE_TLS, SENTRY_DSN)
//  2. Config file values
//  3. Default values
//
// Unlike the file, the environment is never written back.
func LoadWithEnvOverrides(log *zap.SugaredLogger) (Config, error) {
	path, err := env.GetAsString("CONFIG_PATH", false, DefaultPath)
	if err != nil {
		return Config{}, err
	}

	cfg, err := LoadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg.applyEnv(log)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	log.Infof("Loaded config from %s (api %s/%s)", path, cfg.API.URL, cfg.API.Version)

	return cfg, nil
}

func (c *Config) applyEnv(log *zap.SugaredLogger) {
	overrideString := func(key string, target *string) {
		value, err := env.GetAsString(key, false, "")
		if err != nil {
			sentry.ReportIssuef(sentry.IssueTypeWarning, log, "Failed to get %s: %w", key, err)
			return
		}
		if value != "" {
			*target = value
		}
	}
	overrideBool := func(key string, target *bool) {
		value, err := env.GetAsBool(key, false, *target)
		if err != nil {
			sentry.ReportIssuef(sentry.IssueTypeWarning, log, "Failed to get %s: %w", key, err)
			return
		}
		*target = value
	}

	overrideString("API_URL", &c.API.URL)
	overrideString("API_VERSION", &c.API.Version)
	overrideString("AUTH_TOKEN", &c.API.AuthToken)
	overrideString("STATUS_ADDRESS", &c.StatusServer.Address)
	overrideString("SENTRY_DSN", &c.Sentry.DSN)
	overrideBool("TEST_MODE", &c.TestMode)
	overrideBool("ALLOW_INSECURE_TLS", &c.API.AllowInsecureTLS)
}

// Validate checks the whole configuration.
func (c Config) Validate() error {
	u, err := url.Parse(c.API.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("api.url %q is not an absolute URL", c.API.URL)
	}
	if c.API.Version == "" {
		return errors.New("api.version must not be empty")
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("api.timeout must be positive, got %s", c.API.Timeout)
	}
	if c.API.RequestsPerSecond > 0 && c.API.Burst <= 0 {
		return fmt.Errorf("api.burst must be positive when throttling, got %d", c.API.Burst)
	}
	if err := c.Cache.Validate(); err != nil {
		return err
	}
	if err := c.Poll.Validate(); err != nil {
		return err
	}
	if c.ErrorSink.Buffer <= 0 || c.ErrorSink.Recent <= 0 || c.ErrorSink.TransientThreshold <= 0 {
		return fmt.Errorf("errorSink settings must be positive, got %+v", c.ErrorSink)
	}
	if c.StatusServer.Enabled && c.StatusServer.Address == "" {
		return errors.New("statusServer.address must be set when the status server is enabled")
	}

	return nil
}
