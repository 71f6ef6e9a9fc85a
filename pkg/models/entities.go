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

import (
	"time"

	"github.com/google/uuid"
)

// Organization is the account that owns the apps of a session.
type Organization struct {
	ID      uuid.UUID   `json:"id"`
	Name    string      `json:"name"`
	AppIDs  []uuid.UUID `json:"appIDs"`
	IsSuper bool        `json:"isSuperOrg,omitempty"`
}

// OrganizationPatch is the body of PATCH /organization. Nil fields are left unchanged.
type OrganizationPatch struct {
	Name *string `json:"name,omitempty"`
}

// App is a tracked application.
type App struct {
	ID              uuid.UUID   `json:"id"`
	Name            string      `json:"name"`
	OrganizationID  uuid.UUID   `json:"organizationID"`
	InsightGroupIDs []uuid.UUID `json:"insightGroupIDs"`
}

// AppPatch is the body of PATCH /apps/{id}.
type AppPatch struct {
	Name *string `json:"name,omitempty"`
}

// Group is an ordered collection of insights inside an app.
type Group struct {
	ID         uuid.UUID   `json:"id"`
	AppID      uuid.UUID   `json:"appID"`
	Title      string      `json:"title"`
	Order      *float64    `json:"order,omitempty"`
	InsightIDs []uuid.UUID `json:"insightIDs"`
}

// GroupPatch is the body of PATCH /groups/{id}.
type GroupPatch struct {
	Title *string  `json:"title,omitempty"`
	Order *float64 `json:"order,omitempty"`
}

// DisplayMode selects the chart type of an insight.
type DisplayMode string

const (
	DisplayModeNumber    DisplayMode = "number"
	DisplayModeLineChart DisplayMode = "lineChart"
	DisplayModeBarChart  DisplayMode = "barChart"
	DisplayModePieChart  DisplayMode = "pieChart"
	DisplayModeTable     DisplayMode = "raw"
)

// Insight is a single saved query with its presentation settings.
type Insight struct {
	ID          uuid.UUID    `json:"id"`
	GroupID     uuid.UUID    `json:"groupID"`
	Title       string       `json:"title"`
	Order       *float64     `json:"order,omitempty"`
	DisplayMode DisplayMode  `json:"displayMode"`
	IsExpanded  bool         `json:"isExpanded"`
	Query       *CustomQuery `json:"query,omitempty"`
	LastRunAt   *time.Time   `json:"lastRunAt,omitempty"`
}

// InsightPatch is the body of PATCH /insights/{id}.
type InsightPatch struct {
	Title       *string      `json:"title,omitempty"`
	Order       *float64     `json:"order,omitempty"`
	DisplayMode *DisplayMode `json:"displayMode,omitempty"`
	IsExpanded  *bool        `json:"isExpanded,omitempty"`
	Query       *CustomQuery `json:"query,omitempty"`
}

// DeleteResponse is what the API returns for a successful DELETE.
type DeleteResponse struct {
	ID uuid.UUID `json:"id,omitempty"`
}
