package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitoshi/agileflow/internal/model"
)

// pqUniqueViolation はPostgreSQLの一意制約違反のSQLSTATE。
const pqUniqueViolation = "23505"

// isUniqueViolation はerrが一意制約違反かどうかを判定する。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqUniqueViolation
	}
	return false
}

// validID はidがUUIDとして解釈できるかを返す。
// 解釈できないIDはUUID型の列に渡すとエラーになるため、存在しないものとして扱う。
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// nullableString は*stringをSQLパラメータに変換する。
func nullableString(s *string) any {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}

// nullableTime は*time.TimeをSQLパラメータに変換する。
func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

// nullableInt は*intをSQLパラメータに変換する。
func nullableInt(i *int) any {
	if i == nil {
		return nil
	}
	return *i
}

// nullableFloat は*float64をSQLパラメータに変換する。
func nullableFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func intPtr(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	i := int(ni.Int64)
	return &i
}

func floatPtr(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	f := nf.Float64
	return &f
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

// execer は*sql.DBと*sql.Txの共通インターフェース。
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// reserveWithinLimit はテナント行をFOR UPDATEでロックし、現在数が上限未満であることを確認する。
// 同一テナントの上限付き作成処理はこのロックで直列化される。
// 上限に達している場合はErrQuotaExceededを返す。
func reserveWithinLimit(ctx context.Context, tx *sql.Tx, tenantID string, resource model.Resource) error {
	tenant := &model.Tenant{ID: tenantID}
	err := tx.QueryRowContext(ctx,
		`SELECT max_projects, max_members FROM tenants WHERE id = $1 FOR UPDATE`,
		tenantID,
	).Scan(&tenant.MaxProjects, &tenant.MaxMembers)
	if err == sql.ErrNoRows {
		return fmt.Errorf("tenant not found: %s", tenantID)
	}
	if err != nil {
		return fmt.Errorf("failed to lock tenant: %w", err)
	}

	limit, err := tenant.LimitFor(resource)
	if err != nil {
		return err
	}
	if limit == model.Unlimited {
		return nil
	}

	query, err := countQuery(resource)
	if err != nil {
		return err
	}
	var count int
	if err := tx.QueryRowContext(ctx, query, tenantID).Scan(&count); err != nil {
		return fmt.Errorf("failed to count %s: %w", resource, err)
	}
	if !model.WithinLimit(count, limit) {
		return ErrQuotaExceeded
	}
	return nil
}

// countQuery はリソース種別ごとのカウントSQLを返す。
func countQuery(resource model.Resource) (string, error) {
	switch resource {
	case model.ResourceProjects:
		return `SELECT count(*) FROM projects WHERE tenant_id = $1`, nil
	case model.ResourceMembers:
		return `SELECT count(*) FROM users WHERE tenant_id = $1`, nil
	}
	return "", fmt.Errorf("unknown resource: %q", resource)
}
