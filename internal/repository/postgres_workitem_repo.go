package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/agileflow/internal/model"
)

// deleteInTenant はテナント内の1行を削除し、削除できたかどうかを返す。
func deleteInTenant(ctx context.Context, db *sql.DB, table, tenantID, id string) (bool, error) {
	result, err := db.ExecContext(ctx,
		`DELETE FROM `+table+` WHERE tenant_id = $1 AND id = $2`,
		tenantID, id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// queryList はクエリ結果をscanで1行ずつ変換する。
func queryList[T any](ctx context.Context, db *sql.DB, entity string, scan func(rowScanner) (*T, error), query string, args ...any) ([]*T, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", entity, err)
	}
	defer rows.Close()

	items := []*T{}
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", entity, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s: %w", entity, err)
	}
	return items, nil
}

// queryOne は1行を取得する。見つからない場合はnilを返す。
func queryOne[T any](ctx context.Context, db *sql.DB, entity string, scan func(rowScanner) (*T, error), query string, args ...any) (*T, error) {
	item, err := scan(db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find %s: %w", entity, err)
	}
	return item, nil
}

// --- Epic ---

// PostgresEpicRepo はPostgreSQLを使用したエピックリポジトリ。
type PostgresEpicRepo struct {
	db *sql.DB
}

// NewPostgresEpicRepo はPostgresEpicRepoを生成する。
func NewPostgresEpicRepo(db *sql.DB) *PostgresEpicRepo {
	return &PostgresEpicRepo{db: db}
}

const epicColumns = `id, tenant_id, project_id, title, description, status, progress, owner_id,
	closed_at, created_at, updated_at`

func scanEpic(row rowScanner) (*model.Epic, error) {
	e := &model.Epic{}
	var projectID, ownerID sql.NullString
	var status string
	var closedAt sql.NullTime
	if err := row.Scan(&e.ID, &e.TenantID, &projectID, &e.Title, &e.Description, &status,
		&e.Progress, &ownerID, &closedAt, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.ProjectID = stringPtr(projectID)
	e.OwnerID = stringPtr(ownerID)
	e.Status = model.EpicStatus(status)
	e.ClosedAt = timePtr(closedAt)
	return e, nil
}

// FindInTenant はテナント内のエピックを取得する。見つからない場合はnilを返す。
func (r *PostgresEpicRepo) FindInTenant(ctx context.Context, tenantID, id string) (*model.Epic, error) {
	if !validID(id) {
		return nil, nil
	}
	return queryOne(ctx, r.db, "epic", scanEpic,
		`SELECT `+epicColumns+` FROM epics WHERE tenant_id = $1 AND id = $2`, tenantID, id)
}

// ListByTenant はテナントの全エピックを返す。
func (r *PostgresEpicRepo) ListByTenant(ctx context.Context, tenantID string) ([]*model.Epic, error) {
	return queryList(ctx, r.db, "epics", scanEpic,
		`SELECT `+epicColumns+` FROM epics WHERE tenant_id = $1 ORDER BY created_at DESC`, tenantID)
}

// ListByProjects は指定プロジェクトのエピックとプロジェクト未指定のエピックを返す。
func (r *PostgresEpicRepo) ListByProjects(ctx context.Context, tenantID string, projectIDs []string) ([]*model.Epic, error) {
	if len(projectIDs) == 0 {
		return []*model.Epic{}, nil
	}
	return queryList(ctx, r.db, "epics", scanEpic,
		`SELECT `+epicColumns+` FROM epics
		 WHERE tenant_id = $1 AND (project_id = ANY($2) OR project_id IS NULL)
		 ORDER BY created_at DESC`,
		tenantID, pq.Array(projectIDs))
}

// Create はエピックを作成する。
func (r *PostgresEpicRepo) Create(ctx context.Context, e *model.Epic) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO epics (id, tenant_id, project_id, title, description, status, progress, owner_id,
		   closed_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID, e.TenantID, nullableString(e.ProjectID), e.Title, e.Description, string(e.Status),
		e.Progress, nullableString(e.OwnerID), nullableTime(e.ClosedAt), e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create epic: %w", err)
	}
	return nil
}

// DeleteInTenant はエピックを削除する。配下のフィーチャーとタスクの参照はNULLになる。
func (r *PostgresEpicRepo) DeleteInTenant(ctx context.Context, tenantID, id string) (bool, error) {
	return deleteInTenant(ctx, r.db, "epics", tenantID, id)
}

// --- Feature ---

// PostgresFeatureRepo はPostgreSQLを使用したフィーチャーリポジトリ。
type PostgresFeatureRepo struct {
	db *sql.DB
}

// NewPostgresFeatureRepo はPostgresFeatureRepoを生成する。
func NewPostgresFeatureRepo(db *sql.DB) *PostgresFeatureRepo {
	return &PostgresFeatureRepo{db: db}
}

const featureColumns = `id, tenant_id, epic_id, project_id, title, description, status,
	closed_at, created_at, updated_at`

func scanFeature(row rowScanner) (*model.Feature, error) {
	f := &model.Feature{}
	var epicID, projectID sql.NullString
	var status string
	var closedAt sql.NullTime
	if err := row.Scan(&f.ID, &f.TenantID, &epicID, &projectID, &f.Title, &f.Description, &status,
		&closedAt, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	f.EpicID = stringPtr(epicID)
	f.ProjectID = stringPtr(projectID)
	f.Status = model.FeatureStatus(status)
	f.ClosedAt = timePtr(closedAt)
	return f, nil
}

// FindInTenant はテナント内のフィーチャーを取得する。見つからない場合はnilを返す。
func (r *PostgresFeatureRepo) FindInTenant(ctx context.Context, tenantID, id string) (*model.Feature, error) {
	if !validID(id) {
		return nil, nil
	}
	return queryOne(ctx, r.db, "feature", scanFeature,
		`SELECT `+featureColumns+` FROM features WHERE tenant_id = $1 AND id = $2`, tenantID, id)
}

// ListByTenant はテナントの全フィーチャーを返す。
func (r *PostgresFeatureRepo) ListByTenant(ctx context.Context, tenantID string) ([]*model.Feature, error) {
	return queryList(ctx, r.db, "features", scanFeature,
		`SELECT `+featureColumns+` FROM features WHERE tenant_id = $1 ORDER BY created_at DESC`, tenantID)
}

// ListByProjects は指定プロジェクトに属するフィーチャーを返す。
func (r *PostgresFeatureRepo) ListByProjects(ctx context.Context, tenantID string, projectIDs []string) ([]*model.Feature, error) {
	if len(projectIDs) == 0 {
		return []*model.Feature{}, nil
	}
	return queryList(ctx, r.db, "features", scanFeature,
		`SELECT `+featureColumns+` FROM features
		 WHERE tenant_id = $1 AND project_id = ANY($2)
		 ORDER BY created_at DESC`,
		tenantID, pq.Array(projectIDs))
}

// Create はフィーチャーを作成する。
func (r *PostgresFeatureRepo) Create(ctx context.Context, f *model.Feature) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO features (id, tenant_id, epic_id, project_id, title, description, status,
		   closed_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		f.ID, f.TenantID, nullableString(f.EpicID), nullableString(f.ProjectID), f.Title, f.Description,
		string(f.Status), nullableTime(f.ClosedAt), f.CreatedAt, f.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create feature: %w", err)
	}
	return nil
}

// DeleteInTenant はフィーチャーを削除する。
func (r *PostgresFeatureRepo) DeleteInTenant(ctx context.Context, tenantID, id string) (bool, error) {
	return deleteInTenant(ctx, r.db, "features", tenantID, id)
}

// --- Task ---

// PostgresTaskRepo はPostgreSQLを使用したタスクリポジトリ。
type PostgresTaskRepo struct {
	db *sql.DB
}

// NewPostgresTaskRepo はPostgresTaskRepoを生成する。
func NewPostgresTaskRepo(db *sql.DB) *PostgresTaskRepo {
	return &PostgresTaskRepo{db: db}
}

const taskColumns = `id, tenant_id, project_id, feature_id, epic_id, sprint_id, parent_id, column_id,
	assignee_id, title, description, type, priority, status, story_points, estimated_hours,
	due_date, closed_at, created_by, created_at, updated_at`

func scanTask(row rowScanner) (*model.Task, error) {
	t := &model.Task{}
	var projectID, featureID, epicID, sprintID, parentID, columnID, assigneeID, createdBy sql.NullString
	var taskType, priority, status string
	var storyPoints sql.NullInt64
	var estimatedHours sql.NullFloat64
	var dueDate, closedAt sql.NullTime
	if err := row.Scan(&t.ID, &t.TenantID, &projectID, &featureID, &epicID, &sprintID, &parentID,
		&columnID, &assigneeID, &t.Title, &t.Description, &taskType, &priority, &status,
		&storyPoints, &estimatedHours, &dueDate, &closedAt, &createdBy, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.ProjectID = stringPtr(projectID)
	t.FeatureID = stringPtr(featureID)
	t.EpicID = stringPtr(epicID)
	t.SprintID = stringPtr(sprintID)
	t.ParentID = stringPtr(parentID)
	t.ColumnID = stringPtr(columnID)
	t.AssigneeID = stringPtr(assigneeID)
	t.Type = model.TaskType(taskType)
	t.Priority = model.Priority(priority)
	t.Status = model.TaskStatus(status)
	t.StoryPoints = intPtr(storyPoints)
	t.EstimatedHours = floatPtr(estimatedHours)
	t.DueDate = timePtr(dueDate)
	t.ClosedAt = timePtr(closedAt)
	t.CreatedBy = createdBy.String
	return t, nil
}

// FindInTenant はテナント内のタスクを取得する。見つからない場合はnilを返す。
func (r *PostgresTaskRepo) FindInTenant(ctx context.Context, tenantID, id string) (*model.Task, error) {
	if !validID(id) {
		return nil, nil
	}
	return queryOne(ctx, r.db, "task", scanTask,
		`SELECT `+taskColumns+` FROM tasks WHERE tenant_id = $1 AND id = $2`, tenantID, id)
}

// ListByTenant はテナントの全タスクを返す。
func (r *PostgresTaskRepo) ListByTenant(ctx context.Context, tenantID string) ([]*model.Task, error) {
	return queryList(ctx, r.db, "tasks", scanTask,
		`SELECT `+taskColumns+` FROM tasks WHERE tenant_id = $1 ORDER BY created_at DESC`, tenantID)
}

// ListByProjects は指定プロジェクトに属するタスクを返す。
func (r *PostgresTaskRepo) ListByProjects(ctx context.Context, tenantID string, projectIDs []string) ([]*model.Task, error) {
	if len(projectIDs) == 0 {
		return []*model.Task{}, nil
	}
	return queryList(ctx, r.db, "tasks", scanTask,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE tenant_id = $1 AND project_id = ANY($2)
		 ORDER BY created_at DESC`,
		tenantID, pq.Array(projectIDs))
}

// Create はタスクを作成する。
func (r *PostgresTaskRepo) Create(ctx context.Context, t *model.Task) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tasks (id, tenant_id, project_id, feature_id, epic_id, sprint_id, parent_id, column_id,
		   assignee_id, title, description, type, priority, status, story_points, estimated_hours,
		   due_date, closed_at, created_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		t.ID, t.TenantID, nullableString(t.ProjectID), nullableString(t.FeatureID), nullableString(t.EpicID),
		nullableString(t.SprintID), nullableString(t.ParentID), nullableString(t.ColumnID),
		nullableString(t.AssigneeID), t.Title, t.Description, string(t.Type), string(t.Priority),
		string(t.Status), nullableInt(t.StoryPoints), nullableFloat(t.EstimatedHours),
		nullableTime(t.DueDate), nullableTime(t.ClosedAt), nullableString(&t.CreatedBy),
		t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

// Update は編集可能な全カラムを上書きする。
func (r *PostgresTaskRepo) Update(ctx context.Context, t *model.Task) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE tasks SET project_id = $3, feature_id = $4, epic_id = $5, sprint_id = $6, parent_id = $7,
		   column_id = $8, assignee_id = $9, title = $10, description = $11, type = $12, priority = $13,
		   status = $14, story_points = $15, estimated_hours = $16, due_date = $17, closed_at = $18,
		   updated_at = $19
		 WHERE tenant_id = $1 AND id = $2`,
		t.TenantID, t.ID, nullableString(t.ProjectID), nullableString(t.FeatureID), nullableString(t.EpicID),
		nullableString(t.SprintID), nullableString(t.ParentID), nullableString(t.ColumnID),
		nullableString(t.AssigneeID), t.Title, t.Description, string(t.Type), string(t.Priority),
		string(t.Status), nullableInt(t.StoryPoints), nullableFloat(t.EstimatedHours),
		nullableTime(t.DueDate), nullableTime(t.ClosedAt), t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	return nil
}

// DeleteInTenant はタスクを削除する。コメントと添付はCASCADE削除される。
func (r *PostgresTaskRepo) DeleteInTenant(ctx context.Context, tenantID, id string) (bool, error) {
	return deleteInTenant(ctx, r.db, "tasks", tenantID, id)
}

// --- Sprint ---

// PostgresSprintRepo はPostgreSQLを使用したスプリントリポジトリ。
type PostgresSprintRepo struct {
	db *sql.DB
}

// NewPostgresSprintRepo はPostgresSprintRepoを生成する。
func NewPostgresSprintRepo(db *sql.DB) *PostgresSprintRepo {
	return &PostgresSprintRepo{db: db}
}

const sprintColumns = `id, tenant_id, project_id, name, goal, start_date, end_date, status, target_capacity, created_at`

func scanSprint(row rowScanner) (*model.Sprint, error) {
	s := &model.Sprint{}
	var projectID sql.NullString
	var startDate, endDate sql.NullTime
	var status string
	var capacity sql.NullInt64
	if err := row.Scan(&s.ID, &s.TenantID, &projectID, &s.Name, &s.Goal, &startDate, &endDate,
		&status, &capacity, &s.CreatedAt); err != nil {
		return nil, err
	}
	s.ProjectID = stringPtr(projectID)
	s.StartDate = timePtr(startDate)
	s.EndDate = timePtr(endDate)
	s.Status = model.SprintStatus(status)
	s.TargetCapacity = intPtr(capacity)
	return s, nil
}

// FindInTenant はテナント内のスプリントを取得する。見つからない場合はnilを返す。
func (r *PostgresSprintRepo) FindInTenant(ctx context.Context, tenantID, id string) (*model.Sprint, error) {
	if !validID(id) {
		return nil, nil
	}
	return queryOne(ctx, r.db, "sprint", scanSprint,
		`SELECT `+sprintColumns+` FROM sprints WHERE tenant_id = $1 AND id = $2`, tenantID, id)
}

// ListByTenant はテナントの全スプリントを返す。
func (r *PostgresSprintRepo) ListByTenant(ctx context.Context, tenantID string) ([]*model.Sprint, error) {
	return queryList(ctx, r.db, "sprints", scanSprint,
		`SELECT `+sprintColumns+` FROM sprints WHERE tenant_id = $1 ORDER BY created_at DESC`, tenantID)
}

// ListByProjects は指定プロジェクトのスプリントとプロジェクト未指定のスプリントを返す。
func (r *PostgresSprintRepo) ListByProjects(ctx context.Context, tenantID string, projectIDs []string) ([]*model.Sprint, error) {
	if len(projectIDs) == 0 {
		return []*model.Sprint{}, nil
	}
	return queryList(ctx, r.db, "sprints", scanSprint,
		`SELECT `+sprintColumns+` FROM sprints
		 WHERE tenant_id = $1 AND (project_id = ANY($2) OR project_id IS NULL)
		 ORDER BY created_at DESC`,
		tenantID, pq.Array(projectIDs))
}

// Create はスプリントを作成する。
func (r *PostgresSprintRepo) Create(ctx context.Context, s *model.Sprint) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sprints (id, tenant_id, project_id, name, goal, start_date, end_date, status,
		   target_capacity, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		s.ID, s.TenantID, nullableString(s.ProjectID), s.Name, s.Goal, nullableTime(s.StartDate),
		nullableTime(s.EndDate), string(s.Status), nullableInt(s.TargetCapacity), s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create sprint: %w", err)
	}
	return nil
}

// DeleteInTenant はスプリントを削除する。タスクのsprint_idはNULLになる。
func (r *PostgresSprintRepo) DeleteInTenant(ctx context.Context, tenantID, id string) (bool, error) {
	return deleteInTenant(ctx, r.db, "sprints", tenantID, id)
}

// compile-time interface check
var (
	_ EpicRepository    = (*PostgresEpicRepo)(nil)
	_ FeatureRepository = (*PostgresFeatureRepo)(nil)
	_ TaskRepository    = (*PostgresTaskRepo)(nil)
	_ SprintRepository  = (*PostgresSprintRepo)(nil)
)
