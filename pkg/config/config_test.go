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

package config_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/config"
	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/constants"
)

var _ = Describe("Config", func() {
	log := zap.NewNop().Sugar()

	Describe("Parse", func() {
		It("returns the defaults for an empty document", func() {
			cfg, err := config.Parse(nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg).To(Equal(config.Default()))
			Expect(cfg.Validate()).To(Succeed())
		})

		It("overrides only the keys that are set", func() {
			cfg, err := config.Parse([]byte(`
api:
  url: https://insights.example.com
  timeout: 10s
cache:
  insightTTL: 2m
poll:
  maxAttempts: 30
`))
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.API.URL).To(Equal("https://insights.example.com"))
			Expect(cfg.API.Version).To(Equal(constants.DefaultAPIVersion))
			Expect(cfg.API.Timeout).To(Equal(10 * time.Second))
			Expect(cfg.Cache.InsightTTL).To(Equal(2 * time.Minute))
			Expect(cfg.Cache.AppTTL).To(Equal(constants.AppTTL))
			Expect(cfg.Poll.MaxAttempts).To(Equal(30))
			Expect(cfg.Poll.InitialInterval).To(Equal(constants.PollInitialInterval))
		})

		It("rejects unknown keys", func() {
			_, err := config.Parse([]byte("api:\n  uri: https://typo.example.com\n"))
			Expect(err).To(MatchError(ContainSubstring("uri")))
		})
	})

	Describe("Validate", func() {
		DescribeTable("rejects broken settings",
			func(mutate func(*config.Config), field string) {
				cfg := config.Default()
				mutate(&cfg)
				Expect(cfg.Validate()).To(MatchError(ContainSubstring(field)))
			},
			Entry("relative url", func(c *config.Config) { c.API.URL = "/api" }, "api.url"),
			Entry("missing version", func(c *config.Config) { c.API.Version = "" }, "api.version"),
			Entry("zero timeout", func(c *config.Config) { c.API.Timeout = 0 }, "api.timeout"),
			Entry("zero TTL", func(c *config.Config) { c.Cache.GroupTTL = 0 }, "groupTTL"),
			Entry("no poll attempts", func(c *config.Config) { c.Poll.MaxAttempts = 0 }, "max attempts"),
			Entry("no error buffer", func(c *config.Config) { c.ErrorSink.Buffer = 0 }, "errorSink"),
			Entry("no status address", func(c *config.Config) { c.StatusServer.Address = "" }, "statusServer.address"),
		)
	})

	Describe("LoadWithEnvOverrides", func() {
		var dir string

		BeforeEach(func() {
			dir = GinkgoT().TempDir()
		})

		It("falls back to the defaults when the file is missing", func() {
			GinkgoT().Setenv("CONFIG_PATH", filepath.Join(dir, "missing.yaml"))

			cfg, err := config.LoadWithEnvOverrides(log)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.API.URL).To(Equal(constants.DefaultAPIURL))
		})

		It("lets the environment win over the file", func() {
			path := filepath.Join(dir, "config.yaml")
			Expect(os.WriteFile(path, []byte("api:\n  authToken: from-file\n  version: v2\ntestMode: false\n"), 0o600)).To(Succeed())
			GinkgoT().Setenv("CONFIG_PATH", path)
			GinkgoT().Setenv("AUTH_TOKEN", "from-env")
			GinkgoT().Setenv("TEST_MODE", "true")
			GinkgoT().Setenv("STATUS_ADDRESS", "127.0.0.1:9999")

			cfg, err := config.LoadWithEnvOverrides(log)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.API.AuthToken).To(Equal("from-env"))
			Expect(cfg.API.Version).To(Equal("v2"))
			Expect(cfg.TestMode).To(BeTrue())
			Expect(cfg.StatusServer.Address).To(Equal("127.0.0.1:9999"))
		})

		It("fails on an invalid file", func() {
			path := filepath.Join(dir, "config.yaml")
			Expect(os.WriteFile(path, []byte("cache:\n  appTTL: -1m\n"), 0o600)).To(Succeed())
			GinkgoT().Setenv("CONFIG_PATH", path)

			_, err := config.LoadWithEnvOverrides(log)
			Expect(err).To(MatchError(ContainSubstring("appTTL")))
		})
	})
})
