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

package models

import "time"

// QueryTimeInterval is an absolute time window a query is evaluated over.
type QueryTimeInterval struct {
	BeginningDate time.Time `json:"beginningDate"`
	EndDate       time.Time `json:"endDate"`
}

// CustomQuery is an analytical query in the server's query language.
// Only the fields the client resolves are typed; the rest is passed through.
type CustomQuery struct {
	QueryType    string              `json:"queryType"`
	DataSource   string              `json:"dataSource,omitempty"`
	Granularity  string              `json:"granularity,omitempty"`
	Intervals    []QueryTimeInterval `json:"intervals,omitempty"`
	TestMode     *bool               `json:"testMode,omitempty"`
	Filter       map[string]any      `json:"filter,omitempty"`
	Aggregations []map[string]any    `json:"aggregations,omitempty"`
}

// QueryTask is returned when a query is submitted for asynchronous calculation.
type QueryTask struct {
	QueryTaskID string `json:"queryTaskID"`
}

// QueryTaskStatus is the state of a server-side calculation.
type QueryTaskStatus string

const (
	QueryTaskRunning    QueryTaskStatus = "running"
	QueryTaskSuccessful QueryTaskStatus = "successful"
	QueryTaskError      QueryTaskStatus = "error"
)

// QueryTaskStatusResponse is the body of GET /task/{id}/status.
type QueryTaskStatusResponse struct {
	Status QueryTaskStatus `json:"status"`
}

// ResultRow is one row of a query result.
type ResultRow struct {
	Timestamp time.Time      `json:"timestamp"`
	Result    map[string]any `json:"result"`
}

// QueryResult is the computed result of a query.
type QueryResult struct {
	Type string      `json:"type"`
	Rows []ResultRow `json:"rows"`
}

// QueryResultWrapper is the body of GET /task/{id}/lastSuccessfulValue.
// Result is nil when the task has never produced a value.
type QueryResultWrapper struct {
	Result                *QueryResult `json:"result"`
	CalculationFinishedAt time.Time    `json:"calculationFinishedAt"`
}

// ErrorResponse is the structured error body the API returns for failed requests.
type ErrorResponse struct {
	Reason string `json:"reason"`
	Error  bool   `json:"error,omitempty"`
}
