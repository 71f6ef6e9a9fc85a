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

package safejson_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/tools/safejson"
)

type taskStatus struct {
	Status string `json:"status"`
}

type wrapper struct {
	Result                []int     `json:"result"`
	CalculationFinishedAt time.Time `json:"calculationFinishedAt"`
}

var _ = Describe("Unmarshal", func() {
	It("decodes into a struct", func() {
		var s taskStatus
		Expect(safejson.Unmarshal([]byte(`{"status":"running"}`), &s)).To(Succeed())
		Expect(s.Status).To(Equal("running"))
	})

	It("decodes RFC 3339 timestamps", func() {
		var w wrapper
		Expect(safejson.Unmarshal([]byte(`{"result":[1,2],"calculationFinishedAt":"2024-05-01T10:00:00Z"}`), &w)).To(Succeed())
		Expect(w.Result).To(Equal([]int{1, 2}))
		Expect(w.CalculationFinishedAt).To(Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)))
	})

	It("decodes maps and slices through the stdlib path", func() {
		result := map[string]any{}
		Expect(safejson.Unmarshal([]byte(`{"key":"value"}`), &result)).To(Succeed())
		Expect(result).To(HaveKeyWithValue("key", "value"))

		var list []string
		Expect(safejson.Unmarshal([]byte(`["a","b"]`), &list)).To(Succeed())
		Expect(list).To(ConsistOf("a", "b"))
	})

	It("rejects a nil or non-pointer target", func() {
		var m map[string]any
		Expect(safejson.Unmarshal([]byte(`{}`), m)).ToNot(Succeed())
		Expect(safejson.Unmarshal([]byte(`{}`), nil)).ToNot(Succeed())
	})

	It("leaves the target untouched on invalid json", func() {
		s := taskStatus{Status: "successful"}
		Expect(safejson.Unmarshal([]byte(`{"status": `), &s)).ToNot(Succeed())
		Expect(s.Status).To(Equal("successful"))
	})
})

var _ = Describe("Marshal", func() {
	It("encodes a struct", func() {
		out, err := safejson.Marshal(taskStatus{Status: "error"})
		Expect(err).ToNot(HaveOccurred())
		Expect(string(out)).To(Equal(`{"status":"error"}`))
	})

	It("encodes a nil map as null", func() {
		var m map[string]any
		Expect(string(safejson.MustMarshal(m))).To(Equal("null"))
	})
})
