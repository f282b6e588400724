// internal/history/postgres.go
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"sprint-assistant/internal/common/database"
	"sprint-assistant/internal/common/errors"
	"sprint-assistant/internal/models"
)

// PostgresStore keeps the audit log in one jsonb-backed table.
type PostgresStore struct {
	db *database.PostgresClient
}

func NewPostgresStore(db *database.PostgresClient) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

const createHistoryTable = `
CREATE TABLE IF NOT EXISTS audit_history (
    id                 TEXT        PRIMARY KEY,
    tenant_id          TEXT        NOT NULL,
    user_id            TEXT        NOT NULL,
    kind               TEXT        NOT NULL,
    utterance_hash     TEXT        NOT NULL DEFAULT '',
    origin             TEXT        NOT NULL DEFAULT '',
    intent             JSONB,
    candidates         JSONB,
    state              TEXT        NOT NULL DEFAULT '',
    selected_entity_id TEXT        NOT NULL DEFAULT '',
    action_type        TEXT        NOT NULL DEFAULT '',
    risk               TEXT        NOT NULL DEFAULT '',
    draft              JSONB,
    result             JSONB,
    idempotency_key    TEXT        NOT NULL DEFAULT '',
    reason             TEXT        NOT NULL DEFAULT '',
    created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

const createHistoryTenantIndex = `
CREATE INDEX IF NOT EXISTS audit_history_tenant_recent
    ON audit_history (tenant_id, created_at DESC)`

// The partial unique index is what arbitrates concurrent acts sharing an
// idempotency key: the second insert fails and the caller replays.
const createHistoryIdempotencyIndex = `
CREATE UNIQUE INDEX IF NOT EXISTS audit_history_act_key
    ON audit_history (tenant_id, idempotency_key)
    WHERE kind = 'act' AND idempotency_key <> ''`

// EnsureSchema creates the audit table and its indexes if missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{createHistoryTable, createHistoryTenantIndex, createHistoryIdempotencyIndex} {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return errors.NewDatabaseError("ensure audit_history", err)
		}
	}
	return nil
}

const insertEntry = `
INSERT INTO audit_history (
    id, tenant_id, user_id, kind, utterance_hash, origin,
    intent, candidates, state, selected_entity_id, action_type, risk,
    draft, result, idempotency_key, reason, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

// Append inserts one entry. Missing id and timestamp are filled in.
func (s *PostgresStore) Append(ctx context.Context, entry models.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	intent, err := marshalNullable(entry.Intent)
	if err != nil {
		return errors.NewHistoryWriteFailedError(err)
	}
	candidates, err := marshalNullable(entry.Candidates)
	if err != nil {
		return errors.NewHistoryWriteFailedError(err)
	}
	draft, err := marshalNullable(entry.Draft)
	if err != nil {
		return errors.NewHistoryWriteFailedError(err)
	}
	result, err := marshalNullable(entry.Result)
	if err != nil {
		return errors.NewHistoryWriteFailedError(err)
	}

	_, err = s.db.Exec(ctx, insertEntry,
		entry.ID, entry.TenantID, entry.UserID, string(entry.Kind),
		entry.UtteranceHash, string(entry.Origin),
		intent, candidates, string(entry.State), entry.SelectedEntityID,
		string(entry.ActionType), string(entry.Risk),
		draft, result, entry.IdempotencyKey, entry.Reason, entry.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if stderrors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return errors.NewIdempotencyConflictError(entry.IdempotencyKey)
		}
		return errors.NewHistoryWriteFailedError(err)
	}
	return nil
}

const selectColumns = `
    id, tenant_id, user_id, kind, utterance_hash, origin,
    intent, candidates, state, selected_entity_id, action_type, risk,
    draft, result, idempotency_key, reason, created_at`

const selectInterpretByID = `
SELECT` + selectColumns + `
FROM audit_history
WHERE id = $1 AND kind = 'interpret'`

// GetInterpret looks the entry up by id alone and compares tenants
// afterwards, so a cross-tenant probe is distinguishable from a miss.
func (s *PostgresStore) GetInterpret(ctx context.Context, tenantID, id string) (*models.AuditEntry, error) {
	row := s.db.QueryRow(ctx, selectInterpretByID, id)
	entry, err := scanEntry(row)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewNotFoundError("interpret", id)
		}
		return nil, errors.NewDatabaseError("get interpret entry", err)
	}
	if entry.TenantID != tenantID {
		return nil, errors.NewTenantIsolationViolationError("interpret entry belongs to another tenant")
	}
	return entry, nil
}

const selectActByKey = `
SELECT` + selectColumns + `
FROM audit_history
WHERE tenant_id = $1 AND idempotency_key = $2 AND kind = 'act'
LIMIT 1`

func (s *PostgresStore) FindActByIdempotencyKey(ctx context.Context, tenantID, key string) (*models.AuditEntry, error) {
	if key == "" {
		return nil, nil
	}
	row := s.db.QueryRow(ctx, selectActByKey, tenantID, key)
	entry, err := scanEntry(row)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.NewDatabaseError("find act by idempotency key", err)
	}
	return entry, nil
}

const completeAct = `
UPDATE audit_history
SET result = $3
WHERE id = $1 AND tenant_id = $2 AND kind = 'act' AND result IS NULL`

// CompleteAct fills in the result of a previously reserved act entry. The
// result IS NULL guard makes the write fire at most once per entry.
func (s *PostgresStore) CompleteAct(ctx context.Context, tenantID, id string, result *models.ActResult) error {
	payload, err := marshalNullable(result)
	if err != nil {
		return errors.NewHistoryWriteFailedError(err)
	}
	res, err := s.db.Exec(ctx, completeAct, id, tenantID, payload)
	if err != nil {
		return errors.NewHistoryWriteFailedError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.NewHistoryWriteFailedError(err)
	}
	if affected == 0 {
		return errors.NewNotFoundError("act", id)
	}
	return nil
}

const selectRecent = `
SELECT` + selectColumns + `
FROM audit_history
WHERE tenant_id = $1
ORDER BY created_at DESC
LIMIT $2`

func (s *PostgresStore) ListRecent(ctx context.Context, tenantID string, limit int) ([]models.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, selectRecent, tenantID, limit)
	if err != nil {
		return nil, errors.NewDatabaseError("list recent entries", err)
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, errors.NewDatabaseError("scan history row", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewDatabaseError("iterate history rows", err)
	}
	return entries, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (*models.AuditEntry, error) {
	var entry models.AuditEntry
	var kind, origin, state, actionType, risk string
	var intent, candidates, draft, result []byte

	err := row.Scan(
		&entry.ID, &entry.TenantID, &entry.UserID, &kind,
		&entry.UtteranceHash, &origin,
		&intent, &candidates, &state, &entry.SelectedEntityID,
		&actionType, &risk,
		&draft, &result, &entry.IdempotencyKey, &entry.Reason, &entry.CreatedAt)
	if err != nil {
		return nil, err
	}

	entry.Kind = models.AuditKind(kind)
	entry.Origin = models.IntentOrigin(origin)
	entry.State = models.DecisionState(state)
	entry.ActionType = models.IntentType(actionType)
	entry.Risk = models.RiskLevel(risk)

	if len(intent) > 0 {
		entry.Intent = &models.ParsedIntent{}
		if err := json.Unmarshal(intent, entry.Intent); err != nil {
			return nil, err
		}
	}
	if len(candidates) > 0 {
		if err := json.Unmarshal(candidates, &entry.Candidates); err != nil {
			return nil, err
		}
	}
	if len(draft) > 0 {
		entry.Draft = &models.ActionDraft{}
		if err := json.Unmarshal(draft, entry.Draft); err != nil {
			return nil, err
		}
	}
	if len(result) > 0 {
		entry.Result = &models.ActResult{}
		if err := json.Unmarshal(result, entry.Result); err != nil {
			return nil, err
		}
	}
	return &entry, nil
}

func marshalNullable(v interface{}) ([]byte, error) {
	switch val := v.(type) {
	case *models.ParsedIntent:
		if val == nil {
			return nil, nil
		}
	case *models.ActionDraft:
		if val == nil {
			return nil, nil
		}
	case *models.ActResult:
		if val == nil {
			return nil, nil
		}
	case []models.EntityCandidate:
		if len(val) == 0 {
			return nil, nil
		}
	}
	return json.Marshal(v)
}
