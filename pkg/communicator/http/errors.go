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
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies why a request failed.
type Kind int

const (
	// KindTransferFailed means no response was received (network, TLS, timeout, cancellation).
	KindTransferFailed Kind = iota + 1
	// KindDecodeFailed means the response did not match the expected schema.
	KindDecodeFailed
	// KindServerError means the server answered with an error status.
	KindServerError
)

func (k Kind) String() string {
	switch k {
	case KindTransferFailed:
		return "transfer failed"
	case KindDecodeFailed:
		return "decode failed"
	case KindServerError:
		return "server error"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is.
var (
	ErrTransferFailed = errors.New("transfer failed")
	ErrDecodeFailed   = errors.New("decode failed")
	ErrServerError    = errors.New("server error")
)

// TransferError is returned by every request helper. It is terminal for the
// call that produced it; nothing in this package retries.
type TransferError struct {
	Kind     Kind
	Method   string
	Endpoint Endpoint
	// StatusCode is 0 when no response was received.
	StatusCode int
	// Message is the server's reason for a server error.
	Message string
	Err     error
}

func (e *TransferError) Error() string {
	prefix := e.Method + " " + string(e.Endpoint)
	if e.Method == "" {
		prefix = string(e.Endpoint)
	}

	switch {
	case e.Kind == KindServerError && e.StatusCode != 0:
		return fmt.Sprintf("%s: %s (%d): %s", prefix, e.Kind, e.StatusCode, e.Message)
	case e.Kind == KindServerError:
		return fmt.Sprintf("%s: %s: %s", prefix, e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", prefix, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s", prefix, e.Kind)
	}
}

func (e *TransferError) Unwrap() error { return e.Err }

// Is matches the kind sentinels.
func (e *TransferError) Is(target error) bool {
	switch target {
	case ErrTransferFailed:
		return e.Kind == KindTransferFailed
	case ErrDecodeFailed:
		return e.Kind == KindDecodeFailed
	case ErrServerError:
		return e.Kind == KindServerError
	}

	return false
}

// Transient reports whether the failure is likely to go away on its own:
// no response at all, or a 408, 425, 429 or 5xx status.
func (e *TransferError) Transient() bool {
	if e.Kind == KindTransferFailed {
		return true
	}
	if e.Kind != KindServerError {
		return false
	}

	switch e.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return true
	}

	return e.StatusCode >= 500
}

// NewServerError builds a server error that did not come from an HTTP status,
// e.g. a query task that reported failure.
func NewServerError(method string, endpoint Endpoint, message string) *TransferError {
	return &TransferError{Kind: KindServerError, Method: method, Endpoint: endpoint, Message: message}
}

// AsTransferError unwraps err into a TransferError.
func AsTransferError(err error) (*TransferError, bool) {
	var te *TransferError
	if errors.As(err, &te) {
		return te, true
	}

	return nil, false
}
