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
	"net/url"

	"github.com/google/uuid"
)

// Endpoint is an API path relative to the version prefix, e.g. "/apps/<id>".
type Endpoint string

var (
	// QueryCalculateAsyncEndpoint submits a query for asynchronous calculation.
	QueryCalculateAsyncEndpoint Endpoint = "/query/calculate-async"
	// OrganizationEndpoint is the organization of the authenticated user.
	OrganizationEndpoint Endpoint = "/organization"
)

// TaskStatusEndpoint returns the status path of a query task.
func TaskStatusEndpoint(taskID string) Endpoint {
	return Endpoint("/task/" + url.PathEscape(taskID) + "/status")
}

// TaskLastSuccessfulValueEndpoint returns the path of the last computed value of a query task.
func TaskLastSuccessfulValueEndpoint(taskID string) Endpoint {
	return Endpoint("/task/" + url.PathEscape(taskID) + "/lastSuccessfulValue")
}

func AppEndpoint(id uuid.UUID) Endpoint {
	return Endpoint("/apps/" + id.String())
}

func GroupEndpoint(id uuid.UUID) Endpoint {
	return Endpoint("/groups/" + id.String())
}

func InsightEndpoint(id uuid.UUID) Endpoint {
	return Endpoint("/insights/" + id.String())
}
