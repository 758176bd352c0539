/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Config", func() {
	var (
		tempDir    string
		configFile string
	)

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "config-test")
		Expect(err).NotTo(HaveOccurred())
		configFile = filepath.Join(tempDir, "config.yaml")
	})

	AfterEach(func() {
		os.RemoveAll(tempDir)
	})

	Describe("Load", func() {
		Context("when config file exists with full content", func() {
			BeforeEach(func() {
				full := `
server:
  listen_addr: ":8090"
  metrics_addr: ":9091"

orchestrator:
  health_check_interval: "15s"
  failure_threshold: 5
  recovery_timeout: "2m"
  load_balancing_enabled: true
  auto_scaling_enabled: true
  max_components_per_type: 10

rate_limit:
  requests_per_minute: 60
  backoff_multiplier: 1.5
  max_backoff_ms: 30000

intake:
  chunk_size_bytes: 4096
  max_description_bytes: 8192

arbitration:
  min_confidence_for_approval: 0.8
  allow_conditional: false
  min_reasoning_steps: 4

logging:
  level: "debug"
  format: "text"
`
				Expect(os.WriteFile(configFile, []byte(full), 0644)).To(Succeed())
			})

			It("should load configuration successfully", func() {
				cfg, err := Load(configFile)
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg).NotTo(BeNil())

				Expect(cfg.Server.ListenAddr).To(Equal(":8090"))
				Expect(cfg.Server.MetricsAddr).To(Equal(":9091"))

				Expect(cfg.Orchestrator.HealthCheckInterval).To(Equal(15 * time.Second))
				Expect(cfg.Orchestrator.FailureThreshold).To(Equal(5))
				Expect(cfg.Orchestrator.RecoveryTimeout).To(Equal(2 * time.Minute))
				Expect(cfg.Orchestrator.MaxComponentsPerType).To(Equal(10))

				Expect(cfg.RateLimit.RequestsPerMinute).To(Equal(60))

				Expect(cfg.Intake.ChunkSizeBytes).To(Equal(4096))
				Expect(cfg.Intake.MaxDescriptionBytes).To(Equal(8192))

				Expect(cfg.Arbitration.MinConfidenceForApproval).To(Equal(0.8))
				Expect(cfg.Arbitration.AllowConditional).To(BeFalse())
				Expect(cfg.Arbitration.MinReasoningSteps).To(Equal(4))

				Expect(cfg.Logging.Level).To(Equal("debug"))
				Expect(cfg.Logging.Format).To(Equal("text"))
			})
		})

		Context("when config file has minimal content", func() {
			BeforeEach(func() {
				minimal := `
server:
  listen_addr: ":3000"
`
				Expect(os.WriteFile(configFile, []byte(minimal), 0644)).To(Succeed())
			})

			It("should load with defaults for missing values", func() {
				cfg, err := Load(configFile)
				Expect(err).NotTo(HaveOccurred())

				Expect(cfg.Server.ListenAddr).To(Equal(":3000"))
				Expect(cfg.Orchestrator.MaxComponentsPerType).To(Equal(Default().Orchestrator.MaxComponentsPerType))
				Expect(cfg.Intake.ChunkSizeBytes).To(Equal(Default().Intake.ChunkSizeBytes))
				Expect(cfg.Arbitration.MinConfidenceForApproval).To(Equal(Default().Arbitration.MinConfidenceForApproval))
			})
		})

		Context("when the file does not exist", func() {
			It("returns an error", func() {
				_, err := Load(filepath.Join(tempDir, "missing.yaml"))
				Expect(err).To(HaveOccurred())
			})
		})
	})
})
