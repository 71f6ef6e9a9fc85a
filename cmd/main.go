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

package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/communicator/http"
	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/config"
	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/errorsink"
	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/logger"
	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/models"
	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/query"
	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/resource"
	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/sentry"
	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/services"
	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/statusserver"
	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/version"
)

const defaultTimeWindow = 30 * 24 * time.Hour

func main() {
	logger.Initialize()
	defer func() { _ = logger.Sync() }()

	log := logger.For(logger.ComponentCore)
	log.Infof("Starting insights client %s", version.GetAppVersion())

	cfg, err := config.LoadWithEnvOverrides(logger.For(logger.ComponentConfig))
	if err != nil {
		log.Errorf("Failed to load config: %v", err)
		os.Exit(1)
	}

	sentry.InitSentry(sentry.Options{
		DSN:        cfg.Sentry.DSN,
		AppVersion: version.GetAppVersion(),
		Debounce:   cfg.Sentry.Debounce,
	})
	defer sentry.Flush(2 * time.Second)

	if cfg.API.AuthToken == "" {
		log.Warnf("No AUTH_TOKEN configured, requests will be rejected by %s", cfg.API.URL)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := http.NewClient(http.ClientConfig{
		BaseURL:           cfg.API.URL,
		Version:           cfg.API.Version,
		Tokens:            http.StaticToken(cfg.API.AuthToken),
		Timeout:           cfg.API.Timeout,
		RequestsPerSecond: cfg.API.RequestsPerSecond,
		Burst:             cfg.API.Burst,
		InsecureTLS:       cfg.API.AllowInsecureTLS,
	}, logger.For(logger.ComponentTransport))

	sink := errorsink.NewSentrySink(errorsink.Config{
		Buffer:             cfg.ErrorSink.Buffer,
		Recent:             cfg.ErrorSink.Recent,
		TransientThreshold: cfg.ErrorSink.TransientThreshold,
	}, logger.For(logger.ComponentErrorSink))
	defer sink.Close()

	svc, err := services.New(client, sink, cfg.Cache)
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Failed to create services: %w", err)
	}
	defer svc.Close()

	executor, err := query.NewExecutor(client, cfg.Poll, logger.For(logger.ComponentQuery))
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Failed to create query executor: %w", err)
	}

	var server *statusserver.Server
	if cfg.StatusServer.Enabled {
		server = statusserver.New(cfg.StatusServer.Address, svc, sink, client, logger.For(logger.ComponentStatusServer))
		server.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Errorf("Failed to shut down status server: %v", err)
			}
		}()
	}

	if err := svc.Warmup(ctx); err != nil {
		log.Warnf("Warm-up incomplete, continuing with an empty cache: %v", err)
	}

	now := time.Now()
	settings := query.Settings{
		Interval: models.QueryTimeInterval{BeginningDate: now.Add(-defaultTimeWindow), EndDate: now},
		TestMode: cfg.TestMode,
	}
	runners := startQueries(ctx, svc, executor, settings, sink, server, log)
	defer func() {
		for _, runner := range runners {
			runner.Close()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")
}

// startQueries runs the query of every insight in the warmed-up groups.
func startQueries(ctx context.Context, svc *services.Services, executor *query.Executor, settings query.Settings,
	sink errorsink.ErrorSink, server *statusserver.Server, log *zap.SugaredLogger,
) []*query.Runner {
	var runners []*query.Runner
	for _, groupID := range svc.Groups.Keys() {
		group, ok := svc.Groups.Get(groupID)
		if !ok {
			continue
		}
		for _, insightID := range group.InsightIDs {
			insight, err := fetchInsight(ctx, svc, insightID)
			if err != nil {
				log.Debugf("Skipping insight %s: %v", insightID, err)
				continue
			}
			if insight.Query == nil {
				continue
			}

			runner := query.NewRunner(executor, *insight.Query, settings, sink)
			if server != nil {
				server.RegisterQuery(insightID.String(), runner)
			}
			runner.Run()
			runners = append(runners, runner)
		}
	}
	log.Infof("Started %d insight queries", len(runners))

	return runners
}

func fetchInsight(ctx context.Context, svc *services.Services, id uuid.UUID) (models.Insight, error) {
	insight, err := svc.Insights.Fetch(ctx, id)
	if errors.Is(err, resource.ErrFetchInFlight) {
		if cached, ok := svc.Insights.Get(id); ok {
			return cached, nil
		}
	}

	return insight, err
}
