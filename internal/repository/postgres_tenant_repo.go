package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/agileflow/internal/model"
)

// PostgresTenantRepo はPostgreSQLを使用したテナントリポジトリ。
type PostgresTenantRepo struct {
	db *sql.DB
}

// NewPostgresTenantRepo はPostgresTenantRepoを生成する。
func NewPostgresTenantRepo(db *sql.DB) *PostgresTenantRepo {
	return &PostgresTenantRepo{db: db}
}

const tenantColumns = `id, name, slug, plan_id, max_projects, max_members, trial_ends_at, done_column_id, created_at`

func scanTenant(row rowScanner) (*model.Tenant, error) {
	t := &model.Tenant{}
	var planID string
	var trialEnds sql.NullTime
	var doneColumn sql.NullString
	if err := row.Scan(&t.ID, &t.Name, &t.Slug, &planID, &t.MaxProjects, &t.MaxMembers,
		&trialEnds, &doneColumn, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.PlanID = model.PlanID(planID)
	t.TrialEndsAt = timePtr(trialEnds)
	t.DoneColumnID = doneColumn.String
	return t, nil
}

// FindByID は指定IDのテナントを取得する。見つからない場合はnilを返す。
func (r *PostgresTenantRepo) FindByID(ctx context.Context, id string) (*model.Tenant, error) {
	if !validID(id) {
		return nil, nil
	}
	t, err := scanTenant(r.db.QueryRowContext(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find tenant by ID: %w", err)
	}
	return t, nil
}

// FindBySlug はslugでテナントを取得する。見つからない場合はnilを返す。
func (r *PostgresTenantRepo) FindBySlug(ctx context.Context, slug string) (*model.Tenant, error) {
	t, err := scanTenant(r.db.QueryRowContext(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE slug = $1`, slug))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find tenant by slug: %w", err)
	}
	return t, nil
}

// CreateWorkspace はテナント、ボード列、最初のユーザーを同一トランザクションで作成する。
func (r *PostgresTenantRepo) CreateWorkspace(ctx context.Context, tenant *model.Tenant, columns []model.Column, owner *model.User) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO tenants (id, name, slug, plan_id, max_projects, max_members, trial_ends_at, done_column_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		tenant.ID, tenant.Name, tenant.Slug, string(tenant.PlanID), tenant.MaxProjects, tenant.MaxMembers,
		nullableTime(tenant.TrialEndsAt), tenant.DoneColumnID, tenant.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert tenant: %w", err)
	}

	for _, c := range columns {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO board_columns (id, tenant_id, name, sort_order) VALUES ($1, $2, $3, $4)`,
			c.ID, c.TenantID, c.Name, c.SortOrder,
		)
		if err != nil {
			return fmt.Errorf("failed to insert column: %w", err)
		}
	}

	if err := insertUser(ctx, tx, owner); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// CountResources はテナント内のリソース数を返す。
func (r *PostgresTenantRepo) CountResources(ctx context.Context, tenantID string, resource model.Resource) (int, error) {
	query, err := countQuery(resource)
	if err != nil {
		return 0, err
	}
	var count int
	if err := r.db.QueryRowContext(ctx, query, tenantID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", resource, err)
	}
	return count, nil
}

// ListColumns はテナントのボード列を表示順に返す。
func (r *PostgresTenantRepo) ListColumns(ctx context.Context, tenantID string) ([]*model.Column, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, tenant_id, name, sort_order FROM board_columns
		 WHERE tenant_id = $1 ORDER BY sort_order`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list columns: %w", err)
	}
	defer rows.Close()

	var cols []*model.Column
	for rows.Next() {
		c := &model.Column{}
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Name, &c.SortOrder); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate columns: %w", err)
	}
	return cols, nil
}

// compile-time interface check
var _ TenantRepository = (*PostgresTenantRepo)(nil)
