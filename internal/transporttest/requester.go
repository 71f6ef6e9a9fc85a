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

// Package transporttest provides a scripted Requester for tests.
package transporttest

import (
	"context"
	"errors"
	"sync"

	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/communicator/http"
	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/tools/safejson"
)

// Response is one scripted answer. A non-nil Err is returned as is; otherwise
// Body is encoded to JSON and decoded into the caller's output.
type Response struct {
	Body any
	Err  error
	// Hook runs before the response is returned, e.g. to block until the test releases it.
	Hook func(ctx context.Context) error
}

// Call is a recorded request.
type Call struct {
	Method   string
	Endpoint http.Endpoint
	Body     []byte
}

// Requester answers requests from per-route scripts. The last response of a
// script repeats once the script is used up. Unscripted routes fail with a transfer error.
type Requester struct {
	mu      sync.Mutex
	scripts map[string][]Response
	calls   []Call
}

var _ http.Requester = (*Requester)(nil)

// New returns an empty Requester.
func New() *Requester {
	return &Requester{scripts: make(map[string][]Response)}
}

func route(method string, endpoint http.Endpoint) string {
	return method + " " + string(endpoint)
}

// On scripts the answers for method and endpoint.
func (r *Requester) On(method string, endpoint http.Endpoint, responses ...Response) *Requester {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.scripts[route(method, endpoint)] = append(r.scripts[route(method, endpoint)], responses...)

	return r
}

// Reply is shorthand for On with a single body.
func (r *Requester) Reply(method string, endpoint http.Endpoint, body any) *Requester {
	return r.On(method, endpoint, Response{Body: body})
}

// Do implements http.Requester.
func (r *Requester) Do(ctx context.Context, method string, endpoint http.Endpoint, body any, out any) error {
	var encoded []byte
	if body != nil {
		encoded = safejson.MustMarshal(body)
	}

	r.mu.Lock()
	r.calls = append(r.calls, Call{Method: method, Endpoint: endpoint, Body: encoded})
	script := r.scripts[route(method, endpoint)]
	var response Response
	found := len(script) > 0
	if found {
		response = script[0]
		if len(script) > 1 {
			r.scripts[route(method, endpoint)] = script[1:]
		}
	}
	r.mu.Unlock()

	if !found {
		return &http.TransferError{Kind: http.KindTransferFailed, Method: method, Endpoint: endpoint,
			Err: errors.New("no scripted response")}
	}
	if response.Hook != nil {
		if err := response.Hook(ctx); err != nil {
			return &http.TransferError{Kind: http.KindTransferFailed, Method: method, Endpoint: endpoint, Err: err}
		}
	}
	if err := ctx.Err(); err != nil {
		return &http.TransferError{Kind: http.KindTransferFailed, Method: method, Endpoint: endpoint, Err: err}
	}
	if response.Err != nil {
		return response.Err
	}
	if out == nil || response.Body == nil {
		return nil
	}

	if err := safejson.Unmarshal(safejson.MustMarshal(response.Body), out); err != nil {
		return &http.TransferError{Kind: http.KindDecodeFailed, Method: method, Endpoint: endpoint, Err: err}
	}

	return nil
}

// Calls returns the recorded requests in order.
func (r *Requester) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]Call(nil), r.calls...)
}

// Count returns how often method and endpoint were requested.
func (r *Requester) Count(method string, endpoint http.Endpoint) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, c := range r.calls {
		if c.Method == method && c.Endpoint == endpoint {
			n++
		}
	}

	return n
}
