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

// Package statusserver exposes the cached state of the sync layer to a local UI process.
package statusserver

import (
	"context"
	"errors"
	nethttp "net/http"
	"sync"
	"time"

	"github.com/gin-contrib/gzip"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/communicator/http"
	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/constants"
	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/errorsink"
	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/loadingstate"
	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/metrics"
	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/query"
	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/resource"
	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/services"
)

// ErrorLog lists recently handled errors.
type ErrorLog interface {
	Recent() []errorsink.Record
}

// LatencySource reports transport timings.
type LatencySource interface {
	Latencies() http.Latencies
}

// EntityResponse is the body of every entity endpoint.
type EntityResponse[V any] struct {
	Value       *V                 `json:"value"`
	State       loadingstate.State `json:"state"`
	NeedsUpdate bool               `json:"needsUpdate"`
}

type idRequest struct {
	ID string `uri:"id" binding:"required,uuid"`
}

// Server is the local status API.
type Server struct {
	services  *services.Services
	errors    ErrorLog
	latencies LatencySource
	router    *gin.Engine
	server    *nethttp.Server
	logger    *zap.SugaredLogger

	mu      sync.RWMutex
	queries map[string]*query.Runner
}

// New builds the router. errors and latencies may be nil.
func New(address string, svc *services.Services, errs ErrorLog, latencies LatencySource, logger *zap.SugaredLogger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(ginzap.Ginzap(logger.Desugar(), time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger.Desugar(), true))
	router.Use(gzip.Gzip(gzip.DefaultCompression))

	s := &Server{
		services:  svc,
		errors:    errs,
		latencies: latencies,
		router:    router,
		logger:    logger,
		queries:   make(map[string]*query.Runner),
	}
	s.server = &nethttp.Server{
		Addr:              address,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	router.GET("/", func(c *gin.Context) {
		c.String(nethttp.StatusOK, "online")
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := router.Group("/v1")
	{
		v1.GET("/organization", s.getOrganization)
		v1.GET("/apps/:id", entityHandler(svc.Apps))
		v1.GET("/groups/:id", entityHandler(svc.Groups))
		v1.GET("/insights/:id", entityHandler(svc.Insights))
		v1.POST("/organization/refresh", s.refreshOrganization)
		v1.POST("/apps/:id/refresh", refreshHandler(svc.Apps))
		v1.POST("/groups/:id/refresh", refreshHandler(svc.Groups))
		v1.POST("/insights/:id/refresh", refreshHandler(svc.Insights))
		v1.GET("/queries/:id", s.getQuery)
		v1.GET("/errors", s.getErrors)
		v1.GET("/latency", s.getLatency)
	}

	return s
}

// Handler returns the router, mostly for tests.
func (s *Server) Handler() nethttp.Handler {
	return s.router
}

// RegisterQuery makes the state of runner available under id.
func (s *Server) RegisterQuery(id string, runner *query.Runner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries[id] = runner
}

// UnregisterQuery removes the runner registered under id.
func (s *Server) UnregisterQuery(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.queries, id)
}

// Start listens in the background. Listen errors other than a shutdown are logged.
func (s *Server) Start() {
	go func() {
		s.logger.Infof("Status server listening on %s", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			s.logger.Errorf("Status server stopped: %v", err)
		}
	}()
}

// Shutdown stops accepting requests and waits for running ones until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func entityResponse[K comparable, V any](svc *resource.Service[K, V], key K) EntityResponse[V] {
	response := EntityResponse[V]{}
	if value, ok := svc.Get(key); ok {
		response.Value = &value
	}
	response.State = svc.State(key)
	response.NeedsUpdate = svc.NeedsUpdate(key)

	return response
}

func entityHandler[V any](svc *resource.Service[uuid.UUID, V]) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := bindID(c)
		if !ok {
			return
		}
		c.JSON(nethttp.StatusOK, entityResponse(svc, id))
	}
}

func refreshHandler[V any](svc *resource.Service[uuid.UUID, V]) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := bindID(c)
		if !ok {
			return
		}
		c.JSON(nethttp.StatusAccepted, gin.H{"triggered": svc.TriggerRefresh(id), "state": svc.State(id)})
	}
}

func bindID(c *gin.Context) (uuid.UUID, bool) {
	var request idRequest
	if err := c.ShouldBindUri(&request); err != nil {
		c.JSON(nethttp.StatusBadRequest, gin.H{"error": err.Error()})
		return uuid.Nil, false
	}
	id, err := uuid.Parse(request.ID)
	if err != nil {
		c.JSON(nethttp.StatusBadRequest, gin.H{"error": err.Error()})
		return uuid.Nil, false
	}

	return id, true
}

func (s *Server) getOrganization(c *gin.Context) {
	c.JSON(nethttp.StatusOK, entityResponse(s.services.Organization, constants.OrganizationKey))
}

func (s *Server) refreshOrganization(c *gin.Context) {
	c.JSON(nethttp.StatusAccepted, gin.H{
		"triggered": s.services.Organization.TriggerRefresh(constants.OrganizationKey),
		"state":     s.services.Organization.State(constants.OrganizationKey),
	})
}

func (s *Server) getQuery(c *gin.Context) {
	s.mu.RLock()
	runner, ok := s.queries[c.Param("id")]
	s.mu.RUnlock()
	if !ok {
		c.JSON(nethttp.StatusNotFound, gin.H{"error": "no query registered under " + c.Param("id")})
		return
	}

	c.JSON(nethttp.StatusOK, runner.State())
}

func (s *Server) getErrors(c *gin.Context) {
	if s.errors == nil {
		c.JSON(nethttp.StatusOK, []errorsink.Record{})
		return
	}
	c.JSON(nethttp.StatusOK, s.errors.Recent())
}

func (s *Server) getLatency(c *gin.Context) {
	if s.latencies == nil {
		c.JSON(nethttp.StatusOK, http.Latencies{})
		return
	}
	c.JSON(nethttp.StatusOK, s.latencies.Latencies())
}
