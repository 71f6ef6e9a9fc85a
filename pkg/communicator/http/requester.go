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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"strings"
	"time"

	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/communicator/http/internal"
	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/metrics"
	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/models"
	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/tools/safejson"
)

// Requester performs one authenticated JSON request. body may be nil; out may
// be nil when the response body is not needed. Every failure is a *TransferError.
type Requester interface {
	Do(ctx context.Context, method string, endpoint Endpoint, body any, out any) error
}

// GetRequest fetches endpoint and decodes the response into R.
func GetRequest[R any](ctx context.Context, r Requester, endpoint Endpoint) (*R, error) {
	var result R
	if err := r.Do(ctx, http.MethodGet, endpoint, nil, &result); err != nil {
		return nil, err
	}

	return &result, nil
}

// PostRequest sends data to endpoint and decodes the response into R.
func PostRequest[R any, T any](ctx context.Context, r Requester, endpoint Endpoint, data *T) (*R, error) {
	var result R
	if err := r.Do(ctx, http.MethodPost, endpoint, data, &result); err != nil {
		return nil, err
	}

	return &result, nil
}

// PatchRequest sends a partial update to endpoint and decodes the response into R.
func PatchRequest[R any, T any](ctx context.Context, r Requester, endpoint Endpoint, data *T) (*R, error) {
	var result R
	if err := r.Do(ctx, http.MethodPatch, endpoint, data, &result); err != nil {
		return nil, err
	}

	return &result, nil
}

// DeleteRequest deletes endpoint. An empty response body yields the zero R.
func DeleteRequest[R any](ctx context.Context, r Requester, endpoint Endpoint) (*R, error) {
	var result R
	if err := r.Do(ctx, http.MethodDelete, endpoint, nil, &result); err != nil {
		return nil, err
	}

	return &result, nil
}

// Do implements Requester. Identical concurrent GETs share one round trip.
func (c *Client) Do(ctx context.Context, method string, endpoint Endpoint, body any, out any) error {
	var payload []byte
	if body != nil {
		encoded, err := safejson.Marshal(body)
		if err != nil {
			return &TransferError{Kind: KindTransferFailed, Method: method, Endpoint: endpoint,
				Err: fmt.Errorf("encoding request body: %w", err)}
		}
		payload = encoded
	}

	var (
		raw []byte
		err error
	)
	if method == http.MethodGet && payload == nil {
		raw, err = c.sharedGet(ctx, endpoint)
	} else {
		raw, err = c.roundTrip(ctx, method, endpoint, payload)
	}
	if err != nil {
		return err
	}

	if out == nil {
		return nil
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		if method == http.MethodDelete {
			return nil
		}
		return &TransferError{Kind: KindDecodeFailed, Method: method, Endpoint: endpoint,
			Err: errors.New("empty response body")}
	}
	if err := safejson.Unmarshal(raw, out); err != nil {
		return &TransferError{Kind: KindDecodeFailed, Method: method, Endpoint: endpoint, Err: err}
	}

	return nil
}

func (c *Client) sharedGet(ctx context.Context, endpoint Endpoint) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, &TransferError{Kind: KindTransferFailed, Method: http.MethodGet, Endpoint: endpoint, Err: err}
	}

	// The shared round trip outlives any single caller; only the client timeout bounds it.
	ch := c.inflight.DoChan(string(endpoint), func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()

		return c.roundTrip(shared, http.MethodGet, endpoint, nil)
	})

	select {
	case <-ctx.Done():
		return nil, &TransferError{Kind: KindTransferFailed, Method: http.MethodGet, Endpoint: endpoint, Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		raw, _ := res.Val.([]byte)

		return raw, nil
	}
}

// roundTrip sends one request and returns the decoded response body of a 2xx answer.
func (c *Client) roundTrip(ctx context.Context, method string, endpoint Endpoint, payload []byte) ([]byte, error) {
	transferFailed := func(err error) error {
		return &TransferError{Kind: KindTransferFailed, Method: method, Endpoint: endpoint, Err: err}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, transferFailed(err)
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, transferFailed(fmt.Errorf("obtaining access token: %w", err))
	}

	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.URL(endpoint), bodyReader)
	if err != nil {
		return nil, transferFailed(err)
	}

	req.Header.Set("Accept", internal.ContentTypeJSON)
	req.Header.Set("Accept-Encoding", internal.AcceptEncoding)
	req.Header.Set("User-Agent", c.userAgent)
	if payload != nil {
		req.Header.Set("Content-Type", internal.ContentTypeJSON)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	timings := &requestTimings{}
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), timings.trace()))

	timings.start = time.Now()
	response, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordHTTPRequest(method, 0, time.Since(timings.start))
		return nil, transferFailed(enhanceConnectionError(err))
	}
	defer func() {
		if err := response.Body.Close(); err != nil {
			c.logger.Debugf("Error closing response body of %s %s: %v", method, endpoint, err)
		}
	}()

	metrics.RecordHTTPRequest(method, response.StatusCode, time.Since(timings.start))
	c.latencies.record(timings, response)

	raw, err := readBody(response)
	if err != nil {
		if response.StatusCode >= 200 && response.StatusCode < 300 {
			return nil, &TransferError{Kind: KindDecodeFailed, Method: method, Endpoint: endpoint,
				StatusCode: response.StatusCode, Err: err}
		}
		raw = nil
	}

	if response.StatusCode < 200 || response.StatusCode > 299 {
		serverErr := &TransferError{
			Kind:       KindServerError,
			Method:     method,
			Endpoint:   endpoint,
			StatusCode: response.StatusCode,
			Message:    errorReason(response, raw),
		}
		c.logger.Debugf("%s %s returned %d: %s", method, endpoint, response.StatusCode, truncate(raw, internal.MaxErrorBodyLog))

		return nil, serverErr
	}

	return raw, nil
}

// errorReason extracts the reason of a structured error body, or falls back to the status text.
func errorReason(response *http.Response, raw []byte) string {
	if response.StatusCode == http.StatusUnauthorized {
		return "unauthorized: the access token is invalid or expired, please log in again"
	}

	var body models.ErrorResponse
	if len(raw) > 0 && safejson.Unmarshal(raw, &body) == nil && body.Reason != "" {
		return body.Reason
	}
	if text := http.StatusText(response.StatusCode); text != "" {
		return text
	}

	return response.Status
}

// enhanceConnectionError adds a hint to common connection errors.
func enhanceConnectionError(err error) error {
	message := err.Error()
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case strings.Contains(message, "EOF"):
		return fmt.Errorf("connection closed before a response arrived: %w", err)
	case strings.Contains(message, "timeout") || strings.Contains(message, "deadline exceeded"):
		return fmt.Errorf("request timed out: %w", err)
	case strings.Contains(message, "connection refused"):
		return fmt.Errorf("connection refused, is the API reachable: %w", err)
	}

	return err
}

func truncate(raw []byte, limit int) string {
	if len(raw) <= limit {
		return string(raw)
	}

	return string(raw[:limit]) + "..."
}
