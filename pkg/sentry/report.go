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
	"runtime/debug"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

type IssueType string

const (
	IssueTypeWarning IssueType = "warning"
	IssueTypeError   IssueType = "error"
	IssueTypeFatal   IssueType = "fatal"
)

func (t IssueType) level() sentry.Level {
	switch t {
	case IssueTypeFatal:
		return sentry.LevelFatal
	case IssueTypeWarning:
		return sentry.LevelWarning
	default:
		return sentry.LevelError
	}
}

// debouncer suppresses repeated reports of the same issue within a window.
type debouncer struct {
	mu       sync.Mutex
	window   time.Duration
	lastSent map[string]time.Time
	now      func() time.Time
}

var reporter = &debouncer{
	window:   2 * time.Hour,
	lastSent: make(map[string]time.Time),
	now:      time.Now,
}

func (d *debouncer) setDebounce(window time.Duration) {
	d.mu.Lock()
	d.window = window
	d.lastSent = make(map[string]time.Time)
	d.mu.Unlock()
}

// allow reports whether an issue with this key may be sent now and records it if so.
func (d *debouncer) allow(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if last, ok := d.lastSent[key]; ok && d.window > 0 && now.Sub(last) < d.window {
		return false
	}
	d.lastSent[key] = now

	return true
}

// ReportIssue logs err and sends it to Sentry. Errors and warnings with the same
// title are sent at most once per debounce window; fatal issues always go out and panic afterwards.
func ReportIssue(err error, issueType IssueType, log *zap.SugaredLogger) {
	ReportIssueWithContext(err, issueType, log, nil)
}

func ReportIssuef(issueType IssueType, log *zap.SugaredLogger, template string, args ...any) {
	ReportIssue(fmt.Errorf(template, args...), issueType, log)
}

// ReportIssueWithContext reports an issue with tags and extra data attached.
func ReportIssueWithContext(err error, issueType IssueType, log *zap.SugaredLogger, context map[string]any) {
	if err == nil {
		return
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	if issueType == IssueTypeFatal {
		log.Errorf("Fatal error, terminating: %s", err)
		log.Errorf("Stack trace: %s", string(debug.Stack()))
		sendEvent(createEvent(sentry.LevelFatal, err, context))
		sentry.Flush(5 * time.Second)
		log.Panic("Fatal error")
	}

	key := string(issueType) + "|" + issueTitle(err)
	if op, ok := context["operation"]; ok {
		key += fmt.Sprintf("|%v", op)
	}
	if !reporter.allow(key) {
		return
	}

	if issueType == IssueTypeWarning {
		log.Warn(err)
	} else {
		log.Error(err)
	}
	sendEvent(createEvent(issueType.level(), err, context))
}

// ReportRequestError reports a failed API request.
func ReportRequestError(log *zap.SugaredLogger, method, endpoint string, statusCode int, kind string, err error) {
	ReportIssueWithContext(err, IssueTypeError, log, map[string]any{
		"operation":   method + " " + endpoint,
		"endpoint":    endpoint,
		"status_code": statusCode,
		"kind":        kind,
	})
}

// ReportResourceErrorf reports a problem of a resource service.
func ReportResourceErrorf(log *zap.SugaredLogger, resource, operation, template string, args ...any) {
	ReportIssueWithContext(fmt.Errorf(template, args...), IssueTypeWarning, log, map[string]any{
		"resource":  resource,
		"operation": operation,
	})
}
