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

// Package services wires one resource service per entity type of the insights API.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/communicator/http"
	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/constants"
	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/errorsink"
	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/logger"
	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/metrics"
	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/models"
	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/resource"
)

// Config holds the cache settings of every entity type.
type Config struct {
	AppTTL               time.Duration `yaml:"appTTL"`
	GroupTTL             time.Duration `yaml:"groupTTL"`
	InsightTTL           time.Duration `yaml:"insightTTL"`
	OrganizationTTL      time.Duration `yaml:"organizationTTL"`
	ErrorCooldown        time.Duration `yaml:"errorCooldown"`
	FetchTimeout         time.Duration `yaml:"fetchTimeout"`
	MaxConcurrentFetches int64         `yaml:"maxConcurrentFetches"`
	// Now replaces the clock of every cache, mostly for tests.
	Now func() time.Time `yaml:"-"`
}

// DefaultConfig returns the production cache settings.
func DefaultConfig() Config {
	return Config{
		AppTTL:               constants.AppTTL,
		GroupTTL:             constants.GroupTTL,
		InsightTTL:           constants.InsightTTL,
		OrganizationTTL:      constants.OrganizationTTL,
		ErrorCooldown:        constants.ErrorCooldown,
		FetchTimeout:         constants.FetchTimeout,
		MaxConcurrentFetches: constants.MaxConcurrentFetches,
	}
}

// Validate rejects non-positive TTLs and limits.
func (c Config) Validate() error {
	for name, d := range map[string]time.Duration{
		"appTTL":          c.AppTTL,
		"groupTTL":        c.GroupTTL,
		"insightTTL":      c.InsightTTL,
		"organizationTTL": c.OrganizationTTL,
		"errorCooldown":   c.ErrorCooldown,
		"fetchTimeout":    c.FetchTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("cache.%s must be positive, got %s", name, d)
		}
	}
	if c.MaxConcurrentFetches <= 0 {
		return fmt.Errorf("cache.maxConcurrentFetches must be positive, got %d", c.MaxConcurrentFetches)
	}

	return nil
}

// Services is the cache-backed access to every entity of the insights API.
// Build it once and pass it to whoever needs it.
type Services struct {
	Apps         *resource.Service[uuid.UUID, models.App]
	Groups       *resource.Service[uuid.UUID, models.Group]
	Insights     *resource.Service[uuid.UUID, models.Insight]
	Organization *resource.Service[string, models.Organization]

	requester            http.Requester
	sink                 errorsink.ErrorSink
	maxConcurrentFetches int
	logger               *zap.SugaredLogger
}

// New creates the four entity services on top of requester.
func New(requester http.Requester, sink errorsink.ErrorSink, cfg Config) (*Services, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		sink = errorsink.Discard
	}

	limiter := semaphore.NewWeighted(cfg.MaxConcurrentFetches)
	s := &Services{
		requester:            requester,
		sink:                 sink,
		maxConcurrentFetches: int(cfg.MaxConcurrentFetches),
		logger:               logger.For(logger.ComponentCore),
	}

	var err error
	if s.Apps, err = newService(cfg, "apps", cfg.AppTTL, limiter, sink, logger.ComponentAppService,
		byID[models.App](requester, http.AppEndpoint)); err != nil {
		return nil, err
	}
	if s.Groups, err = newService(cfg, "groups", cfg.GroupTTL, limiter, sink, logger.ComponentGroupService,
		byID[models.Group](requester, http.GroupEndpoint)); err != nil {
		return nil, err
	}
	if s.Insights, err = newService(cfg, "insights", cfg.InsightTTL, limiter, sink, logger.ComponentInsightService,
		byID[models.Insight](requester, http.InsightEndpoint)); err != nil {
		return nil, err
	}
	if s.Organization, err = newService(cfg, "organization", cfg.OrganizationTTL, limiter, sink, logger.ComponentOrganizationService,
		organization(requester)); err != nil {
		return nil, err
	}

	return s, nil
}

func newService[K comparable, V any](cfg Config, name string, ttl time.Duration, limiter *semaphore.Weighted,
	sink errorsink.ErrorSink, component string, fetch resource.FetchFunc[K, V],
) (*resource.Service[K, V], error) {
	return resource.New(resource.Config[K, V]{
		Name:         name,
		TTL:          ttl,
		Fetch:        fetch,
		Sink:         sink,
		Limiter:      limiter,
		FetchTimeout: cfg.FetchTimeout,
		Cooldown:     cfg.ErrorCooldown,
		Now:          cfg.Now,
		Logger:       logger.For(component),
	})
}

func byID[V any](requester http.Requester, endpoint func(uuid.UUID) http.Endpoint) resource.FetchFunc[uuid.UUID, V] {
	return func(ctx context.Context, id uuid.UUID) (V, error) {
		value, err := http.GetRequest[V](ctx, requester, endpoint(id))
		if err != nil {
			var zero V
			return zero, err
		}

		return *value, nil
	}
}

func organization(requester http.Requester) resource.FetchFunc[string, models.Organization] {
	return func(ctx context.Context, _ string) (models.Organization, error) {
		org, err := http.GetRequest[models.Organization](ctx, requester, http.OrganizationEndpoint)
		if err != nil {
			return models.Organization{}, err
		}

		return *org, nil
	}
}

// CurrentOrganization returns the cached organization, refreshing it when stale.
func (s *Services) CurrentOrganization() (models.Organization, bool) {
	return s.Organization.Get(constants.OrganizationKey)
}

// UpdateApp patches an app and caches the server's answer.
func (s *Services) UpdateApp(ctx context.Context, id uuid.UUID, patch models.AppPatch) (models.App, error) {
	app, err := http.PatchRequest[models.App](ctx, s.requester, http.AppEndpoint(id), &patch)
	if err != nil {
		return models.App{}, s.report("updating app", err)
	}
	s.Apps.Store(id, *app)

	return *app, nil
}

// UpdateGroup patches a group and caches the server's answer.
func (s *Services) UpdateGroup(ctx context.Context, id uuid.UUID, patch models.GroupPatch) (models.Group, error) {
	group, err := http.PatchRequest[models.Group](ctx, s.requester, http.GroupEndpoint(id), &patch)
	if err != nil {
		return models.Group{}, s.report("updating group", err)
	}
	s.Groups.Store(id, *group)

	return *group, nil
}

// UpdateInsight patches an insight and caches the server's answer.
func (s *Services) UpdateInsight(ctx context.Context, id uuid.UUID, patch models.InsightPatch) (models.Insight, error) {
	insight, err := http.PatchRequest[models.Insight](ctx, s.requester, http.InsightEndpoint(id), &patch)
	if err != nil {
		return models.Insight{}, s.report("updating insight", err)
	}
	s.Insights.Store(id, *insight)

	return *insight, nil
}

// UpdateOrganization patches the organization and caches the server's answer.
func (s *Services) UpdateOrganization(ctx context.Context, patch models.OrganizationPatch) (models.Organization, error) {
	org, err := http.PatchRequest[models.Organization](ctx, s.requester, http.OrganizationEndpoint, &patch)
	if err != nil {
		return models.Organization{}, s.report("updating organization", err)
	}
	s.Organization.Store(constants.OrganizationKey, *org)

	return *org, nil
}

// DeleteApp deletes an app, drops it from the cache and refreshes the organization listing it.
func (s *Services) DeleteApp(ctx context.Context, id uuid.UUID) error {
	if _, err := http.DeleteRequest[models.DeleteResponse](ctx, s.requester, http.AppEndpoint(id)); err != nil {
		return s.report("deleting app", err)
	}
	s.Apps.Invalidate(id)
	s.Organization.TriggerRefresh(constants.OrganizationKey)

	return nil
}

// DeleteGroup deletes a group, drops it from the cache and refreshes its app if known.
func (s *Services) DeleteGroup(ctx context.Context, id uuid.UUID) error {
	if _, err := http.DeleteRequest[models.DeleteResponse](ctx, s.requester, http.GroupEndpoint(id)); err != nil {
		return s.report("deleting group", err)
	}
	if entry, ok := s.Groups.Entry(id); ok {
		s.Apps.TriggerRefresh(entry.Value.AppID)
	}
	s.Groups.Invalidate(id)

	return nil
}

// DeleteInsight deletes an insight, drops it from the cache and refreshes its group if known.
func (s *Services) DeleteInsight(ctx context.Context, id uuid.UUID) error {
	if _, err := http.DeleteRequest[models.DeleteResponse](ctx, s.requester, http.InsightEndpoint(id)); err != nil {
		return s.report("deleting insight", err)
	}
	if entry, ok := s.Insights.Entry(id); ok {
		s.Groups.TriggerRefresh(entry.Value.GroupID)
	}
	s.Insights.Invalidate(id)

	return nil
}

func (s *Services) report(operation string, err error) error {
	err = fmt.Errorf("%s: %w", operation, err)
	metrics.IncErrorCount(metrics.ComponentServices, operation)
	s.sink.Handle(err)

	return err
}

// Warmup loads the organization, then all of its apps, then all of their groups.
// Keys that are already loading are skipped.
func (s *Services) Warmup(ctx context.Context) error {
	org, err := s.Organization.Fetch(ctx, constants.OrganizationKey)
	if errors.Is(err, resource.ErrFetchInFlight) {
		var ok bool
		if org, ok = s.Organization.Get(constants.OrganizationKey); !ok {
			return nil
		}
	} else if err != nil {
		return fmt.Errorf("warming up organization: %w", err)
	}

	apps, err := fetchAll(ctx, s.Apps, org.AppIDs, s.maxConcurrentFetches)
	if err != nil {
		return fmt.Errorf("warming up apps: %w", err)
	}

	var groupIDs []uuid.UUID
	for _, app := range apps {
		groupIDs = append(groupIDs, app.InsightGroupIDs...)
	}
	if _, err := fetchAll(ctx, s.Groups, groupIDs, s.maxConcurrentFetches); err != nil {
		return fmt.Errorf("warming up groups: %w", err)
	}

	s.logger.Infof("Warmed up %d apps and %d groups", len(apps), len(groupIDs))

	return nil
}

func fetchAll[V any](ctx context.Context, service *resource.Service[uuid.UUID, V], ids []uuid.UUID, limit int) ([]V, error) {
	values := make([]V, len(ids))
	fetched := make([]bool, len(ids))

	// A failing key must not cancel its siblings: they would all miss the warm-up.
	var g errgroup.Group
	g.SetLimit(limit)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			value, err := service.Fetch(ctx, id)
			if errors.Is(err, resource.ErrFetchInFlight) {
				return nil
			}
			if err != nil {
				return err
			}
			values[i], fetched[i] = value, true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := values[:0]
	for i, ok := range fetched {
		if ok {
			out = append(out, values[i])
		}
	}

	return out, nil
}

// Close stops every service and waits for fetches in flight.
func (s *Services) Close() {
	s.Apps.Close()
	s.Groups.Close()
	s.Insights.Close()
	s.Organization.Close()
}
