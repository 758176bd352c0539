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

package policy

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Policy Store", func() {
	var (
		root string
	)

	BeforeEach(func() {
		var err error
		root, err = os.MkdirTemp("", "policy-store")
		Expect(err).NotTo(HaveOccurred())
		Expect(os.MkdirAll(filepath.Join(root, ".caws", "waivers"), 0755)).To(Succeed())
	})

	AfterEach(func() {
		os.RemoveAll(root)
	})

	Context("when no policy file exists", func() {
		It("falls back to the baked-in default with all three tiers populated", func() {
			store := NewStore(&FileLoader{ProjectRoot: root}, 5*time.Minute)
			p, err := store.Policy()
			Expect(err).NotTo(HaveOccurred())
			Expect(p.RiskTiers).To(HaveLen(3))
			for _, tier := range []int{1, 2, 3} {
				Expect(p.RiskTiers[tier].MaxFiles).To(BeNumerically(">", 0))
				Expect(p.RiskTiers[tier].MaxLoc).To(BeNumerically(">", 0))
			}
		})
	})

	Context("when a policy file exists", func() {
		BeforeEach(func() {
			content := `
version: "v2"
risk_tiers:
  1:
    max_files: 2
    max_loc: 100
  2:
    max_files: 5
    max_loc: 300
  3:
    max_files: 15
    max_loc: 900
`
			Expect(os.WriteFile(filepath.Join(root, ".caws", "policy.yaml"), []byte(content), 0644)).To(Succeed())
		})

		It("loads and caches the parsed document", func() {
			store := NewStore(&FileLoader{ProjectRoot: root}, time.Hour)
			p, err := store.Policy()
			Expect(err).NotTo(HaveOccurred())
			Expect(p.Version).To(Equal("v2"))
			Expect(p.RiskTiers[1].MaxFiles).To(Equal(2))
		})

		It("reloads the document on ReloadPolicy even within the TTL", func() {
			store := NewStore(&FileLoader{ProjectRoot: root}, time.Hour)
			_, err := store.Policy()
			Expect(err).NotTo(HaveOccurred())

			updated := `
version: "v3"
risk_tiers:
  1: {max_files: 2, max_loc: 100}
  2: {max_files: 5, max_loc: 300}
  3: {max_files: 15, max_loc: 900}
`
			Expect(os.WriteFile(filepath.Join(root, ".caws", "policy.yaml"), []byte(updated), 0644)).To(Succeed())

			p, err := store.ReloadPolicy()
			Expect(err).NotTo(HaveOccurred())
			Expect(p.Version).To(Equal("v3"))
		})
	})
})
