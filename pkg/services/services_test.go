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

package services_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/TelemetryDeck/TelemetryViewer-sub001/internal/clocktest"
	"github.com/TelemetryDeck/TelemetryViewer-sub001/internal/transporttest"
	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/communicator/http"
	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/constants"
	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/models"
	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/services"
)

type collectingSink struct {
	mu   sync.Mutex
	errs []error
}

func (c *collectingSink) Handle(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, err)
}

func (c *collectingSink) Errors() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]error(nil), c.errs...)
}

var _ = Describe("Services", func() {
	var (
		requester *transporttest.Requester
		sink      *collectingSink
		clock     *clocktest.FakeClock
		svc       *services.Services

		orgID, appID, groupID, insightID uuid.UUID
	)

	BeforeEach(func() {
		requester = transporttest.New()
		sink = &collectingSink{}
		clock = clocktest.New(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

		orgID, appID, groupID, insightID = uuid.New(), uuid.New(), uuid.New(), uuid.New()
		requester.
			Reply("GET", http.OrganizationEndpoint, models.Organization{ID: orgID, Name: "Acme", AppIDs: []uuid.UUID{appID}}).
			Reply("GET", http.AppEndpoint(appID), models.App{ID: appID, Name: "Shop", OrganizationID: orgID, InsightGroupIDs: []uuid.UUID{groupID}}).
			Reply("GET", http.GroupEndpoint(groupID), models.Group{ID: groupID, AppID: appID, Title: "Retention", InsightIDs: []uuid.UUID{insightID}}).
			Reply("GET", http.InsightEndpoint(insightID), models.Insight{ID: insightID, GroupID: groupID, Title: "Daily users"})

		cfg := services.DefaultConfig()
		cfg.Now = clock.Now

		var err error
		svc, err = services.New(requester, sink, cfg)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		svc.Close()
	})

	Describe("Config", func() {
		It("rejects non-positive values", func() {
			cfg := services.DefaultConfig()
			cfg.InsightTTL = 0
			Expect(cfg.Validate()).To(MatchError(ContainSubstring("insightTTL")))

			cfg = services.DefaultConfig()
			cfg.MaxConcurrentFetches = 0
			Expect(cfg.Validate()).To(MatchError(ContainSubstring("maxConcurrentFetches")))

			_, err := services.New(requester, sink, cfg)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Warmup", func() {
		It("loads the organization, its apps and their groups", func() {
			Expect(svc.Warmup(context.Background())).To(Succeed())

			Expect(requester.Count("GET", http.OrganizationEndpoint)).To(Equal(1))
			Expect(requester.Count("GET", http.AppEndpoint(appID))).To(Equal(1))
			Expect(requester.Count("GET", http.GroupEndpoint(groupID))).To(Equal(1))
			Expect(requester.Count("GET", http.InsightEndpoint(insightID))).To(BeZero())

			org, ok := svc.CurrentOrganization()
			Expect(ok).To(BeTrue())
			Expect(org.Name).To(Equal("Acme"))

			group, ok := svc.Groups.Get(groupID)
			Expect(ok).To(BeTrue())
			Expect(group.Title).To(Equal("Retention"))
			Expect(svc.Groups.NeedsUpdate(groupID)).To(BeFalse())

			// fresh entries are served without another request
			Expect(requester.Count("GET", http.GroupEndpoint(groupID))).To(Equal(1))
			Expect(sink.Errors()).To(BeEmpty())
		})

		It("fails when the organization cannot be loaded", func() {
			requester = transporttest.New()
			requester.On("GET", http.OrganizationEndpoint, transporttest.Response{
				Err: &http.TransferError{Kind: http.KindServerError, Method: "GET", Endpoint: http.OrganizationEndpoint, StatusCode: 500, Message: "boom"},
			})
			failing, err := services.New(requester, sink, services.DefaultConfig())
			Expect(err).NotTo(HaveOccurred())
			defer failing.Close()

			err = failing.Warmup(context.Background())
			Expect(err).To(MatchError(http.ErrServerError))
			Expect(sink.Errors()).To(HaveLen(1))
			Expect(failing.Organization.State(constants.OrganizationKey).IsError()).To(BeTrue())
		})

		It("still loads healthy apps when one app fails", func() {
			badID, slowID := uuid.New(), uuid.New()
			requester = transporttest.New()
			requester.
				Reply("GET", http.OrganizationEndpoint, models.Organization{ID: orgID, AppIDs: []uuid.UUID{badID, slowID}}).
				On("GET", http.AppEndpoint(badID), transporttest.Response{
					Err: &http.TransferError{Kind: http.KindServerError, Method: "GET", Endpoint: http.AppEndpoint(badID), StatusCode: 500, Message: "boom"},
				}).
				On("GET", http.AppEndpoint(slowID), transporttest.Response{
					Body: models.App{ID: slowID, Name: "Slow"},
					Hook: func(ctx context.Context) error {
						select {
						case <-time.After(100 * time.Millisecond):
							return nil
						case <-ctx.Done():
							return ctx.Err()
						}
					},
				})
			partial, err := services.New(requester, sink, services.DefaultConfig())
			Expect(err).NotTo(HaveOccurred())
			defer partial.Close()

			Expect(partial.Warmup(context.Background())).To(MatchError(http.ErrServerError))

			Expect(partial.Apps.State(slowID).IsError()).To(BeFalse())
			app, ok := partial.Apps.Get(slowID)
			Expect(ok).To(BeTrue())
			Expect(app.Name).To(Equal("Slow"))
			Expect(partial.Apps.State(badID).IsError()).To(BeTrue())
			Expect(sink.Errors()).To(HaveLen(1))
		})
	})

	Describe("Get", func() {
		It("triggers a background fetch on a miss", func() {
			_, ok := svc.Insights.Get(insightID)
			Expect(ok).To(BeFalse())

			Eventually(func() bool {
				_, ok := svc.Insights.Get(insightID)
				return ok
			}).Should(BeTrue())
			Expect(requester.Count("GET", http.InsightEndpoint(insightID))).To(Equal(1))
		})

		It("refreshes an insight once its ten minute TTL has passed", func() {
			_, err := svc.Insights.Fetch(context.Background(), insightID)
			Expect(err).NotTo(HaveOccurred())

			clock.Advance(constants.InsightTTL - time.Second)
			Expect(svc.Insights.NeedsUpdate(insightID)).To(BeFalse())

			clock.Advance(2 * time.Second)
			value, ok := svc.Insights.Get(insightID)
			Expect(ok).To(BeTrue())
			Expect(value.Title).To(Equal("Daily users"))
			Eventually(func() int { return requester.Count("GET", http.InsightEndpoint(insightID)) }).Should(Equal(2))
		})
	})

	Describe("updates", func() {
		It("stores the server's answer", func() {
			title := "Weekly users"
			requester.Reply("PATCH", http.InsightEndpoint(insightID),
				models.Insight{ID: insightID, GroupID: groupID, Title: title})

			updated, err := svc.UpdateInsight(context.Background(), insightID, models.InsightPatch{Title: &title})
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.Title).To(Equal(title))

			cached, ok := svc.Insights.Get(insightID)
			Expect(ok).To(BeTrue())
			Expect(cached.Title).To(Equal(title))
			Expect(svc.Insights.State(insightID).IsError()).To(BeFalse())

			calls := requester.Calls()
			Expect(string(calls[0].Body)).To(MatchJSON(`{"title":"Weekly users"}`))
		})

		It("reports failures and leaves the cache alone", func() {
			_, err := svc.Groups.Fetch(context.Background(), groupID)
			Expect(err).NotTo(HaveOccurred())

			requester.On("PATCH", http.GroupEndpoint(groupID), transporttest.Response{Err: errors.New("connection reset")})
			title := "Renamed"
			_, err = svc.UpdateGroup(context.Background(), groupID, models.GroupPatch{Title: &title})
			Expect(err).To(MatchError(ContainSubstring("updating group")))
			Expect(sink.Errors()).To(HaveLen(1))

			cached, _ := svc.Groups.Get(groupID)
			Expect(cached.Title).To(Equal("Retention"))
		})

		It("updates the organization under its fixed key", func() {
			name := "Acme Inc"
			requester.Reply("PATCH", http.OrganizationEndpoint, models.Organization{ID: orgID, Name: name})

			_, err := svc.UpdateOrganization(context.Background(), models.OrganizationPatch{Name: &name})
			Expect(err).NotTo(HaveOccurred())

			org, ok := svc.CurrentOrganization()
			Expect(ok).To(BeTrue())
			Expect(org.Name).To(Equal(name))
		})

		It("updates an app", func() {
			name := "Storefront"
			requester.Reply("PATCH", http.AppEndpoint(appID), models.App{ID: appID, Name: name, OrganizationID: orgID})

			app, err := svc.UpdateApp(context.Background(), appID, models.AppPatch{Name: &name})
			Expect(err).NotTo(HaveOccurred())
			Expect(app.Name).To(Equal(name))
			Expect(svc.Apps.NeedsUpdate(appID)).To(BeFalse())
		})
	})

	Describe("deletes", func() {
		It("drops an insight and refreshes its group", func() {
			Expect(svc.Warmup(context.Background())).To(Succeed())
			_, err := svc.Insights.Fetch(context.Background(), insightID)
			Expect(err).NotTo(HaveOccurred())
			requester.Reply("DELETE", http.InsightEndpoint(insightID), nil)

			Expect(svc.DeleteInsight(context.Background(), insightID)).To(Succeed())

			_, ok := svc.Insights.Entry(insightID)
			Expect(ok).To(BeFalse())
			Eventually(func() int { return requester.Count("GET", http.GroupEndpoint(groupID)) }).Should(Equal(2))
		})

		It("drops a group and refreshes its app", func() {
			Expect(svc.Warmup(context.Background())).To(Succeed())
			requester.Reply("DELETE", http.GroupEndpoint(groupID), nil)

			Expect(svc.DeleteGroup(context.Background(), groupID)).To(Succeed())

			_, ok := svc.Groups.Entry(groupID)
			Expect(ok).To(BeFalse())
			Eventually(func() int { return requester.Count("GET", http.AppEndpoint(appID)) }).Should(Equal(2))
		})

		It("drops an app and refreshes the organization", func() {
			Expect(svc.Warmup(context.Background())).To(Succeed())
			requester.Reply("DELETE", http.AppEndpoint(appID), nil)

			Expect(svc.DeleteApp(context.Background(), appID)).To(Succeed())

			_, ok := svc.Apps.Entry(appID)
			Expect(ok).To(BeFalse())
			Eventually(func() int { return requester.Count("GET", http.OrganizationEndpoint) }).Should(Equal(2))
		})

		It("keeps the entry when the server refuses", func() {
			_, err := svc.Apps.Fetch(context.Background(), appID)
			Expect(err).NotTo(HaveOccurred())
			requester.On("DELETE", http.AppEndpoint(appID), transporttest.Response{
				Err: http.NewServerError("DELETE", http.AppEndpoint(appID), "forbidden"),
			})

			err = svc.DeleteApp(context.Background(), appID)
			Expect(err).To(MatchError(http.ErrServerError))
			_, ok := svc.Apps.Entry(appID)
			Expect(ok).To(BeTrue())
			Expect(sink.Errors()).To(HaveLen(1))
		})
	})
})
