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

package internal

const (
	// ContentTypeJSON is the MIME type of every request and response body.
	ContentTypeJSON = "application/json"

	// AcceptEncoding lists the response encodings the client decodes itself.
	AcceptEncoding = "zstd, gzip"

	// HeaderResponseTime carries the server side processing time in nanoseconds.
	HeaderResponseTime = "X-Response-Time"

	// UserAgentPrefix is followed by the application version.
	UserAgentPrefix = "insights-client/"

	// MaxErrorBodyLog is how many bytes of an error body end up in a log line.
	MaxErrorBodyLog = 512
)
