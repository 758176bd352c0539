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

package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/darianrosebrook/agent-agency/pkg/arbitration"
	"github.com/darianrosebrook/agent-agency/pkg/coordinator"
)

var _ = Describe("PostgresStore", func() {
	var (
		ctx   context.Context
		db    *sqlx.DB
		mock  sqlmock.Sqlmock
		store *PostgresStore
	)

	BeforeEach(func() {
		ctx = context.Background()
		mockDB, mockSQL, err := sqlmock.New()
		Expect(err).NotTo(HaveOccurred())
		db = sqlx.NewDb(mockDB, "sqlmock")
		mock = mockSQL
		store = NewPostgresStore(db)
	})

	AfterEach(func() {
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	Describe("SaveComponent", func() {
		It("upserts the descriptor as JSONB", func() {
			c := coordinator.ComponentDescriptor{ID: "api", Type: coordinator.ComponentTaskRouter, Endpoint: "http://api:8080"}
			mock.ExpectExec(`INSERT INTO components`).
				WithArgs(c.ID, string(c.Type), c.Endpoint, sqlmock.AnyArg()).
				WillReturnResult(sqlmock.NewResult(0, 1))

			Expect(store.SaveComponent(ctx, c)).To(Succeed())
		})

		It("surfaces the driver error", func() {
			c := coordinator.ComponentDescriptor{ID: "api", Type: coordinator.ComponentTaskRouter}
			mock.ExpectExec(`INSERT INTO components`).WillReturnError(sqlmock.ErrCancelled)

			err := store.SaveComponent(ctx, c)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("GetComponent", func() {
		It("unmarshals the stored descriptor", func() {
			c := coordinator.ComponentDescriptor{ID: "api", Type: coordinator.ComponentTaskRouter, Endpoint: "http://api:8080"}
			payload, _ := json.Marshal(c)
			mock.ExpectQuery(`SELECT descriptor FROM components`).
				WithArgs("api").
				WillReturnRows(sqlmock.NewRows([]string{"descriptor"}).AddRow(payload))

			got, ok, err := store.GetComponent(ctx, "api")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(got.Endpoint).To(Equal("http://api:8080"))
		})

		It("reports ok=false on no matching row, not an error", func() {
			mock.ExpectQuery(`SELECT descriptor FROM components`).
				WithArgs("missing").
				WillReturnRows(sqlmock.NewRows([]string{"descriptor"}))

			_, ok, err := store.GetComponent(ctx, "missing")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
		})
	})

	Describe("SaveVerdict", func() {
		It("rejects a verdict with no id before touching the database", func() {
			err := store.SaveVerdict(ctx, &arbitration.Verdict{})
			Expect(err).To(HaveOccurred())
		})

		It("inserts the verdict payload", func() {
			v := &arbitration.Verdict{ID: "VERDICT-1", SessionID: "sess-1", Outcome: "APPROVED", Confidence: 0.9, IssuedAt: time.Now()}
			mock.ExpectExec(`INSERT INTO verdicts`).
				WithArgs(v.ID, v.SessionID, string(v.Outcome), v.Confidence, sqlmock.AnyArg(), sqlmock.AnyArg()).
				WillReturnResult(sqlmock.NewResult(0, 1))

			Expect(store.SaveVerdict(ctx, v)).To(Succeed())
		})
	})

	Describe("ListVerdictsBySession", func() {
		It("unmarshals every row in the result set", func() {
			v1 := arbitration.Verdict{ID: "VERDICT-1", SessionID: "sess-1"}
			v2 := arbitration.Verdict{ID: "VERDICT-2", SessionID: "sess-1"}
			p1, _ := json.Marshal(v1)
			p2, _ := json.Marshal(v2)

			mock.ExpectQuery(`SELECT payload FROM verdicts WHERE session_id`).
				WithArgs("sess-1").
				WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow(p1).AddRow(p2))

			list, err := store.ListVerdictsBySession(ctx, "sess-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(list).To(HaveLen(2))
		})
	})

	Describe("AppendAudit", func() {
		It("mints an id when the caller didn't supply one", func() {
			mock.ExpectExec(`INSERT INTO audit_log`).
				WithArgs(sqlmock.AnyArg(), "VERDICT-1", "issued", "arbiter-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
				WillReturnResult(sqlmock.NewResult(0, 1))

			err := store.AppendAudit(ctx, AuditRecord{Subject: "VERDICT-1", Action: "issued", Actor: "arbiter-1"})
			Expect(err).NotTo(HaveOccurred())
		})
	})
})
