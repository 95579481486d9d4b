package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/agileflow/internal/model"
)

// PostgresAuditLogRepo はPostgreSQLを使用した監査ログリポジトリ。
// 更新と削除のメソッドは持たない。
type PostgresAuditLogRepo struct {
	db *sql.DB
}

// NewPostgresAuditLogRepo はPostgresAuditLogRepoを生成する。
func NewPostgresAuditLogRepo(db *sql.DB) *PostgresAuditLogRepo {
	return &PostgresAuditLogRepo{db: db}
}

func scanAuditLog(row rowScanner) (*model.AuditLogEntry, error) {
	e := &model.AuditLogEntry{}
	var userID sql.NullString
	var action string
	var changes []byte
	if err := row.Scan(&e.ID, &e.TenantID, &e.EntityType, &e.EntityID, &userID, &action,
		&changes, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.UserID = userID.String
	e.Action = model.AuditAction(action)
	if err := json.Unmarshal(changes, &e.Changes); err != nil {
		return nil, fmt.Errorf("failed to decode changes: %w", err)
	}
	return e, nil
}

// Insert は監査ログを追記する。
func (r *PostgresAuditLogRepo) Insert(ctx context.Context, e *model.AuditLogEntry) error {
	changes, err := json.Marshal(e.Changes)
	if err != nil {
		return fmt.Errorf("failed to encode changes: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO audit_logs (id, tenant_id, entity_type, entity_id, user_id, action, changes, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.TenantID, e.EntityType, e.EntityID, nullableString(&e.UserID), string(e.Action),
		string(changes), e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

// ListByEntity はエンティティの監査ログを古い順に返す。
func (r *PostgresAuditLogRepo) ListByEntity(ctx context.Context, tenantID, entityType, entityID string) ([]*model.AuditLogEntry, error) {
	return queryList(ctx, r.db, "audit logs", scanAuditLog,
		`SELECT id, tenant_id, entity_type, entity_id, user_id, action, changes, created_at
		 FROM audit_logs
		 WHERE tenant_id = $1 AND entity_type = $2 AND entity_id = $3
		 ORDER BY created_at`,
		tenantID, entityType, entityID)
}

// compile-time interface check
var _ AuditLogRepository = (*PostgresAuditLogRepo)(nil)
