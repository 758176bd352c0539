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
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	apperrors "github.com/darianrosebrook/agent-agency/internal/errors"
	"github.com/darianrosebrook/agent-agency/pkg/arbitration"
	"github.com/darianrosebrook/agent-agency/pkg/coordinator"
	"github.com/darianrosebrook/agent-agency/pkg/resilience"
)

// PostgresStore is the durable Store binding: one JSONB payload column
// per row, following the teacher's datastorage repositories (typed
// columns for what's queried on, a JSONB blob for the rest).
type PostgresStore struct {
	db      *sqlx.DB
	Breaker *resilience.BreakerRegistry
}

// NewPostgresStore wraps db, which must already be migrated via
// Migrate. Breaker is left nil; set it directly to guard every
// statement through a per-operation circuit breaker.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// guard runs fn through s.Breaker under the given operation name.
func (s *PostgresStore) guard(op string, fn func() error) error {
	_, err := resilience.Guard(s.Breaker, "postgres:"+op, func() (any, error) {
		return nil, fn()
	})
	return err
}

func (s *PostgresStore) SaveComponent(ctx context.Context, c coordinator.ComponentDescriptor) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "marshal component")
	}
	err = s.guard("save-component", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO components (id, component_type, endpoint, descriptor, updated_at)
			VALUES ($1, $2, $3, $4, now())
			ON CONFLICT (id) DO UPDATE SET
				component_type = EXCLUDED.component_type,
				endpoint = EXCLUDED.endpoint,
				descriptor = EXCLUDED.descriptor,
				updated_at = now()`,
			c.ID, string(c.Type), c.Endpoint, payload)
		return err
	})
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "save component")
	}
	return nil
}

func (s *PostgresStore) GetComponent(ctx context.Context, id string) (coordinator.ComponentDescriptor, bool, error) {
	var payload []byte
	var notFound bool
	err := s.guard("get-component", func() error {
		gerr := s.db.GetContext(ctx, &payload, `SELECT descriptor FROM components WHERE id = $1`, id)
		if gerr == sql.ErrNoRows {
			notFound = true
			return nil
		}
		return gerr
	})
	if notFound {
		return coordinator.ComponentDescriptor{}, false, nil
	}
	if err != nil {
		return coordinator.ComponentDescriptor{}, false, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "get component")
	}
	var c coordinator.ComponentDescriptor
	if err := json.Unmarshal(payload, &c); err != nil {
		return coordinator.ComponentDescriptor{}, false, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "unmarshal component")
	}
	return c, true, nil
}

func (s *PostgresStore) ListComponents(ctx context.Context) ([]coordinator.ComponentDescriptor, error) {
	var payloads [][]byte
	if err := s.guard("list-components", func() error {
		return s.db.SelectContext(ctx, &payloads, `SELECT descriptor FROM components ORDER BY id`)
	}); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "list components")
	}
	out := make([]coordinator.ComponentDescriptor, 0, len(payloads))
	for _, p := range payloads {
		var c coordinator.ComponentDescriptor
		if err := json.Unmarshal(p, &c); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "unmarshal component")
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *PostgresStore) DeleteComponent(ctx context.Context, id string) error {
	if err := s.guard("delete-component", func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM components WHERE id = $1`, id)
		return err
	}); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "delete component")
	}
	return nil
}

func (s *PostgresStore) SaveVerdict(ctx context.Context, v *arbitration.Verdict) error {
	if v == nil || v.ID == "" {
		return apperrors.Validation("verdict id is required")
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "marshal verdict")
	}
	err = s.guard("save-verdict", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO verdicts (id, session_id, outcome, confidence, payload, issued_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO NOTHING`,
			v.ID, v.SessionID, string(v.Outcome), v.Confidence, payload, v.IssuedAt)
		return err
	})
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "save verdict")
	}
	return nil
}

func (s *PostgresStore) GetVerdict(ctx context.Context, id string) (*arbitration.Verdict, bool, error) {
	var payload []byte
	var notFound bool
	err := s.guard("get-verdict", func() error {
		gerr := s.db.GetContext(ctx, &payload, `SELECT payload FROM verdicts WHERE id = $1`, id)
		if gerr == sql.ErrNoRows {
			notFound = true
			return nil
		}
		return gerr
	})
	if notFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "get verdict")
	}
	var v arbitration.Verdict
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, false, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "unmarshal verdict")
	}
	return &v, true, nil
}

func (s *PostgresStore) ListVerdictsBySession(ctx context.Context, sessionID string) ([]*arbitration.Verdict, error) {
	var payloads [][]byte
	if err := s.guard("list-verdicts-by-session", func() error {
		return s.db.SelectContext(ctx, &payloads,
			`SELECT payload FROM verdicts WHERE session_id = $1 ORDER BY issued_at`, sessionID)
	}); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "list verdicts by session")
	}
	out := make([]*arbitration.Verdict, 0, len(payloads))
	for _, p := range payloads {
		var v arbitration.Verdict
		if err := json.Unmarshal(p, &v); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "unmarshal verdict")
		}
		out = append(out, &v)
	}
	return out, nil
}

func (s *PostgresStore) SavePrecedent(ctx context.Context, p *arbitration.Precedent) error {
	if p == nil || p.ID == "" {
		return apperrors.Validation("precedent id is required")
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "marshal precedent")
	}
	err = s.guard("save-precedent", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO precedents (id, category, severity, payload, created_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload`,
			p.ID, p.Applicability.Category, string(p.Applicability.Severity), payload, p.CreatedAt)
		return err
	})
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "save precedent")
	}
	return nil
}

func (s *PostgresStore) GetPrecedent(ctx context.Context, id string) (*arbitration.Precedent, bool, error) {
	var payload []byte
	var notFound bool
	err := s.guard("get-precedent", func() error {
		gerr := s.db.GetContext(ctx, &payload, `SELECT payload FROM precedents WHERE id = $1`, id)
		if gerr == sql.ErrNoRows {
			notFound = true
			return nil
		}
		return gerr
	})
	if notFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "get precedent")
	}
	var p arbitration.Precedent
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, false, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "unmarshal precedent")
	}
	return &p, true, nil
}

func (s *PostgresStore) ListPrecedents(ctx context.Context) ([]*arbitration.Precedent, error) {
	var payloads [][]byte
	if err := s.guard("list-precedents", func() error {
		return s.db.SelectContext(ctx, &payloads, `SELECT payload FROM precedents ORDER BY created_at`)
	}); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "list precedents")
	}
	out := make([]*arbitration.Precedent, 0, len(payloads))
	for _, p := range payloads {
		var prec arbitration.Precedent
		if err := json.Unmarshal(p, &prec); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "unmarshal precedent")
		}
		out = append(out, &prec)
	}
	return out, nil
}

func (s *PostgresStore) AppendAudit(ctx context.Context, r AuditRecord) error {
	if r.ID == "" {
		r.ID = "AUDIT-" + uuid.NewString()
	}
	details, err := json.Marshal(r.Details)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "marshal audit details")
	}
	err = s.guard("append-audit", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO audit_log (id, subject, action, actor, details, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			r.ID, r.Subject, r.Action, r.Actor, details, r.Timestamp)
		return err
	})
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "append audit record")
	}
	return nil
}

func (s *PostgresStore) ListAuditBySubject(ctx context.Context, subject string) ([]AuditRecord, error) {
	var rows *sqlx.Rows
	err := s.guard("list-audit-by-subject", func() error {
		var qerr error
		rows, qerr = s.db.QueryxContext(ctx,
			`SELECT id, subject, action, actor, details, created_at FROM audit_log WHERE subject = $1 ORDER BY created_at`, subject)
		return qerr
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "list audit by subject")
	}
	defer rows.Close()

	var out []AuditRecord
	for rows.Next() {
		var (
			r       AuditRecord
			details []byte
		)
		if err := rows.Scan(&r.ID, &r.Subject, &r.Action, &r.Actor, &details, &r.Timestamp); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "scan audit row")
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &r.Details); err != nil {
				return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "unmarshal audit details")
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

var _ Store = (*PostgresStore)(nil)
