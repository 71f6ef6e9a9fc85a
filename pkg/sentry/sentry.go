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

package sentry

import (
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/constants"
)

const (
	environmentProduction  = "production"
	environmentDevelopment = "development"
)

// Options configures error reporting.
type Options struct {
	// DSN of the Sentry project. Reporting is disabled when empty.
	DSN        string
	AppVersion string
	// Debounce is the minimum time between two reports of the same issue. Zero disables debouncing.
	Debounce time.Duration
}

// InitSentry initializes the global Sentry client.
// Development builds (no version or the default version) and an empty DSN leave reporting disabled.
func InitSentry(opts Options) {
	reporter.setDebounce(opts.Debounce)

	if opts.DSN == "" || opts.AppVersion == "" || opts.AppVersion == constants.DefaultAppVersion {
		zap.S().Debug("Sentry disabled for local development build")
		return
	}

	environment := environmentDevelopment
	version, err := semver.NewVersion(opts.AppVersion)
	if err != nil {
		zap.S().Errorf("Failed to parse app version, using default environment (development): %s", err)
	} else if version.Prerelease() == "" {
		environment = environmentProduction
	}

	err = sentry.Init(sentry.ClientOptions{
		Dsn:         opts.DSN,
		Environment: environment,
		Release:     "insights-client@" + opts.AppVersion,
	})
	if err != nil {
		zap.S().Errorf("Failed to initialize Sentry: %s", err)
	}
}

// Flush waits up to timeout for queued events to be sent.
func Flush(timeout time.Duration) bool {
	return sentry.Flush(timeout)
}

// issueTitle returns the first phrase of the error message, cut to 100 characters.
func issueTitle(err error) string {
	message := err.Error()

	if idx := strings.IndexAny(message, ".,:"); idx > 0 {
		message = message[:idx]
	}
	if len(message) > 100 {
		message = message[:97] + "..."
	}

	return message
}

// fingerprintKeys are context keys that split issues into separate Sentry groups.
var fingerprintKeys = []string{"operation", "resource", "endpoint", "kind"}

func createEvent(level sentry.Level, err error, context map[string]any) *sentry.Event {
	event := sentry.NewEvent()
	event.Level = level
	event.Message = err.Error()
	event.Exception = []sentry.Exception{{
		Type:       issueTitle(err),
		Value:      err.Error(),
		Stacktrace: sentry.ExtractStacktrace(err),
	}}

	if level == sentry.LevelFatal || level == sentry.LevelError {
		threads, stack := captureGoroutinesAsThreads()
		event.Threads = threads
		event.Attachments = append(event.Attachments, &sentry.Attachment{
			Filename:    "stacktrace.txt",
			ContentType: "text/plain",
			Payload:     stack,
		})
	}

	event.Fingerprint = []string{"{{ default }}", "level: " + string(level)}
	if event.Tags == nil {
		event.Tags = make(map[string]string)
	}
	if event.Extra == nil {
		event.Extra = make(map[string]any)
	}

	for key, value := range context {
		switch v := value.(type) {
		case string:
			event.Tags[key] = v
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, bool:
			event.Tags[key] = fmt.Sprintf("%v", v)
		default:
			event.Extra[key] = v
		}
	}
	for _, key := range fingerprintKeys {
		if value, ok := context[key]; ok {
			event.Fingerprint = append(event.Fingerprint, fmt.Sprintf("%s: %v", key, value))
		}
	}

	return event
}

func sendEvent(event *sentry.Event) {
	sentry.CurrentHub().Clone().CaptureEvent(event)
}
