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

package statusserver_test

import (
	"context"
	nethttp "net/http"
	"net/http/httptest"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/TelemetryDeck/TelemetryViewer-sub001/internal/transporttest"
	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/backoff"
	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/communicator/http"
	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/errorsink"
	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/models"
	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/query"
	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/services"
	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/statusserver"
	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/tools/safejson"
)

type fixedErrors []errorsink.Record

func (f fixedErrors) Recent() []errorsink.Record { return f }

type fixedLatencies http.Latencies

func (f fixedLatencies) Latencies() http.Latencies { return http.Latencies(f) }

var _ = Describe("Server", func() {
	var (
		requester *transporttest.Requester
		svc       *services.Services
		server    *statusserver.Server
		insightID uuid.UUID
	)

	do := func(method, path string) *httptest.ResponseRecorder {
		recorder := httptest.NewRecorder()
		request := httptest.NewRequest(method, path, nil)
		server.Handler().ServeHTTP(recorder, request)
		return recorder
	}

	decode := func(recorder *httptest.ResponseRecorder, out any) {
		ExpectWithOffset(1, safejson.Unmarshal(recorder.Body.Bytes(), out)).To(Succeed())
	}

	BeforeEach(func() {
		insightID = uuid.New()
		requester = transporttest.New()
		requester.Reply("GET", http.InsightEndpoint(insightID), models.Insight{ID: insightID, Title: "Daily users"})
		requester.Reply("GET", http.OrganizationEndpoint, models.Organization{ID: uuid.New(), Name: "Acme"})

		var err error
		svc, err = services.New(requester, errorsink.Discard, services.DefaultConfig())
		Expect(err).NotTo(HaveOccurred())

		errs := fixedErrors{{Message: "GET /apps/1: server error (500): boom", StatusCode: 500, Transient: true}}
		latencies := fixedLatencies{Server: models.Latency{AvgMs: 12, Count: 3}}
		server = statusserver.New("127.0.0.1:0", svc, errs, latencies, zap.NewNop().Sugar())
	})

	AfterEach(func() {
		svc.Close()
	})

	It("answers the health check", func() {
		recorder := do("GET", "/")
		Expect(recorder.Code).To(Equal(nethttp.StatusOK))
		Expect(recorder.Body.String()).To(Equal("online"))
	})

	It("serves an entity and loads it on first access", func() {
		var response statusserver.EntityResponse[models.Insight]
		decode(do("GET", "/v1/insights/"+insightID.String()), &response)
		Expect(response.Value).To(BeNil())
		Expect(response.NeedsUpdate).To(BeTrue())

		Eventually(func() *models.Insight {
			var response statusserver.EntityResponse[models.Insight]
			decode(do("GET", "/v1/insights/"+insightID.String()), &response)
			return response.Value
		}).ShouldNot(BeNil())

		decode(do("GET", "/v1/insights/"+insightID.String()), &response)
		Expect(response.Value.Title).To(Equal("Daily users"))
		Expect(response.NeedsUpdate).To(BeFalse())
		Expect(string(response.State.Phase)).To(Equal("finished"))
		Expect(requester.Count("GET", http.InsightEndpoint(insightID))).To(Equal(1))
	})

	It("serves the organization", func() {
		Eventually(func() *models.Organization {
			var response statusserver.EntityResponse[models.Organization]
			decode(do("GET", "/v1/organization"), &response)
			return response.Value
		}).Should(HaveField("Name", "Acme"))
	})

	It("rejects ids that are not UUIDs", func() {
		Expect(do("GET", "/v1/apps/A123").Code).To(Equal(nethttp.StatusBadRequest))
		Expect(do("POST", "/v1/groups/A123/refresh").Code).To(Equal(nethttp.StatusBadRequest))
	})

	It("triggers a refresh on request", func() {
		recorder := do("POST", "/v1/insights/"+insightID.String()+"/refresh")
		Expect(recorder.Code).To(Equal(nethttp.StatusAccepted))

		var body struct {
			Triggered bool `json:"triggered"`
		}
		decode(recorder, &body)
		Expect(body.Triggered).To(BeTrue())
		Eventually(func() int { return requester.Count("GET", http.InsightEndpoint(insightID)) }).Should(Equal(1))
	})

	It("serves registered queries", func() {
		Expect(do("GET", "/v1/queries/daily").Code).To(Equal(nethttp.StatusNotFound))

		requester.On("POST", http.QueryCalculateAsyncEndpoint, transporttest.Response{Body: models.QueryTask{QueryTaskID: "t1"}})
		requester.Reply("GET", http.TaskStatusEndpoint("t1"), models.QueryTaskStatusResponse{Status: models.QueryTaskSuccessful})
		requester.Reply("GET", http.TaskLastSuccessfulValueEndpoint("t1"), models.QueryResultWrapper{
			Result:                &models.QueryResult{Type: "timeseriesResult"},
			CalculationFinishedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		})
		executor, err := query.NewExecutor(requester, backoff.PollConfig{
			InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, Multiplier: 1, MaxAttempts: 5, Timeout: time.Second,
		}, nil)
		Expect(err).NotTo(HaveOccurred())
		runner := query.NewRunner(executor, models.CustomQuery{QueryType: "timeseries"}, query.Settings{}, nil)
		defer runner.Close()
		server.RegisterQuery("daily", runner)
		runner.Run()

		Eventually(func() bool {
			var state query.State
			decode(do("GET", "/v1/queries/daily"), &state)
			return state.Final
		}).Should(BeTrue())

		server.UnregisterQuery("daily")
		Expect(do("GET", "/v1/queries/daily").Code).To(Equal(nethttp.StatusNotFound))
	})

	It("lists recent errors and latencies", func() {
		var records []errorsink.Record
		decode(do("GET", "/v1/errors"), &records)
		Expect(records).To(HaveLen(1))
		Expect(records[0].StatusCode).To(Equal(500))

		var latencies http.Latencies
		decode(do("GET", "/v1/latency"), &latencies)
		Expect(latencies.Server.Count).To(Equal(3))
	})

	It("exposes prometheus metrics", func() {
		do("GET", "/v1/insights/"+insightID.String())

		recorder := do("GET", "/metrics")
		Expect(recorder.Code).To(Equal(nethttp.StatusOK))
		Expect(recorder.Body.String()).To(ContainSubstring("insights_client"))
	})

	It("shuts down without having started", func() {
		Expect(server.Shutdown(context.Background())).To(Succeed())
	})
})
