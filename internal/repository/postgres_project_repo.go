package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/agileflow/internal/model"
)

// PostgresProjectRepo はPostgreSQLを使用したプロジェクトリポジトリ。
type PostgresProjectRepo struct {
	db *sql.DB
}

// NewPostgresProjectRepo はPostgresProjectRepoを生成する。
func NewPostgresProjectRepo(db *sql.DB) *PostgresProjectRepo {
	return &PostgresProjectRepo{db: db}
}

const projectColumns = `id, tenant_id, name, description, creator_id, created_at`

func scanProject(row rowScanner) (*model.Project, error) {
	p := &model.Project{}
	var creator sql.NullString
	if err := row.Scan(&p.ID, &p.TenantID, &p.Name, &p.Description, &creator, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.CreatorID = creator.String
	return p, nil
}

func (r *PostgresProjectRepo) list(ctx context.Context, query string, args ...any) ([]*model.Project, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []*model.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate projects: %w", err)
	}
	return projects, nil
}

// FindInTenant はテナント内のプロジェクトを取得する。見つからない場合はnilを返す。
func (r *PostgresProjectRepo) FindInTenant(ctx context.Context, tenantID, id string) (*model.Project, error) {
	if !validID(id) {
		return nil, nil
	}
	p, err := scanProject(r.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE tenant_id = $1 AND id = $2`,
		tenantID, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find project: %w", err)
	}
	return p, nil
}

// ListByTenant はテナントの全プロジェクトを返す。
func (r *PostgresProjectRepo) ListByTenant(ctx context.Context, tenantID string) ([]*model.Project, error) {
	return r.list(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE tenant_id = $1 ORDER BY created_at DESC`,
		tenantID)
}

// ListByProjects は指定IDのプロジェクトを返す。
func (r *PostgresProjectRepo) ListByProjects(ctx context.Context, tenantID string, projectIDs []string) ([]*model.Project, error) {
	if len(projectIDs) == 0 {
		return []*model.Project{}, nil
	}
	return r.list(ctx,
		`SELECT `+projectColumns+` FROM projects
		 WHERE tenant_id = $1 AND id = ANY($2)
		 ORDER BY created_at DESC`,
		tenantID, pq.Array(projectIDs))
}

// CreateWithinLimit はテナント行をロックしてプロジェクト上限を再確認した上で
// プロジェクトと初期メンバーを作成する。
func (r *PostgresProjectRepo) CreateWithinLimit(ctx context.Context, p *model.Project, members []model.ProjectMember) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := reserveWithinLimit(ctx, tx, p.TenantID, model.ResourceProjects); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO projects (id, tenant_id, name, description, creator_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.TenantID, p.Name, p.Description, nullableString(&p.CreatorID), p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert project: %w", err)
	}

	for i := range members {
		if err := insertMember(ctx, tx, &members[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// DeleteInTenant はプロジェクトを削除する。配下のエピック、フィーチャー、タスクはCASCADE削除される。
func (r *PostgresProjectRepo) DeleteInTenant(ctx context.Context, tenantID, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM projects WHERE tenant_id = $1 AND id = $2`,
		tenantID, id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete project: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// ListMemberProjectIDs はユーザーがメンバーであるテナント内プロジェクトのIDを返す。
func (r *PostgresProjectRepo) ListMemberProjectIDs(ctx context.Context, tenantID, userID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT pm.project_id FROM project_members pm
		 JOIN projects p ON p.id = pm.project_id
		 WHERE p.tenant_id = $1 AND pm.user_id = $2`,
		tenantID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list member projects: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan project id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate member projects: %w", err)
	}
	return ids, nil
}

// ListMembers はプロジェクトのメンバーを返す。
func (r *PostgresProjectRepo) ListMembers(ctx context.Context, tenantID, projectID string) ([]*model.ProjectMember, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT pm.project_id, pm.user_id, pm.role, u.username, u.full_name, pm.created_at
		 FROM project_members pm
		 JOIN projects p ON p.id = pm.project_id
		 JOIN users u ON u.id = pm.user_id
		 WHERE p.tenant_id = $1 AND pm.project_id = $2
		 ORDER BY pm.created_at`,
		tenantID, projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list project members: %w", err)
	}
	defer rows.Close()

	var members []*model.ProjectMember
	for rows.Next() {
		m := &model.ProjectMember{}
		var role string
		if err := rows.Scan(&m.ProjectID, &m.UserID, &role, &m.Username, &m.FullName, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan project member: %w", err)
		}
		m.Role = model.MemberRole(role)
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate project members: %w", err)
	}
	return members, nil
}

// insertMember はメンバーシップを作成し、既存の場合は役割を更新する。
func insertMember(ctx context.Context, exec execer, m *model.ProjectMember) error {
	_, err := exec.ExecContext(ctx,
		`INSERT INTO project_members (project_id, user_id, role, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (project_id, user_id) DO UPDATE SET role = EXCLUDED.role`,
		m.ProjectID, m.UserID, string(m.Role), m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert project member: %w", err)
	}
	return nil
}

// UpsertMember はメンバーシップを作成し、既存の場合は役割を更新する。
func (r *PostgresProjectRepo) UpsertMember(ctx context.Context, m *model.ProjectMember) error {
	return insertMember(ctx, r.db, m)
}

// RemoveMember はメンバーシップを削除する。
func (r *PostgresProjectRepo) RemoveMember(ctx context.Context, tenantID, projectID, userID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM project_members pm
		 USING projects p
		 WHERE p.id = pm.project_id AND p.tenant_id = $1
		   AND pm.project_id = $2 AND pm.user_id = $3`,
		tenantID, projectID, userID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to remove project member: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// compile-time interface check
var _ ProjectRepository = (*PostgresProjectRepo)(nil)
