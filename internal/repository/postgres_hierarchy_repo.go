package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/agileflow/internal/model"
)

// PostgresHierarchyRepo はライフサイクル連鎖用のPostgreSQLリポジトリ。
// 更新は現在値と異なる場合のみ行うため、同じ評価を繰り返しても行は変化しない。
type PostgresHierarchyRepo struct {
	db *sql.DB
}

// NewPostgresHierarchyRepo はPostgresHierarchyRepoを生成する。
func NewPostgresHierarchyRepo(db *sql.DB) *PostgresHierarchyRepo {
	return &PostgresHierarchyRepo{db: db}
}

// FindTask はテナント内のタスクを取得する。見つからない場合はnilを返す。
func (r *PostgresHierarchyRepo) FindTask(ctx context.Context, tenantID, id string) (*model.Task, error) {
	if !validID(id) {
		return nil, nil
	}
	return queryOne(ctx, r.db, "task", scanTask,
		`SELECT `+taskColumns+` FROM tasks WHERE tenant_id = $1 AND id = $2`, tenantID, id)
}

// FindFeature はテナント内のフィーチャーを取得する。見つからない場合はnilを返す。
func (r *PostgresHierarchyRepo) FindFeature(ctx context.Context, tenantID, id string) (*model.Feature, error) {
	if !validID(id) {
		return nil, nil
	}
	return queryOne(ctx, r.db, "feature", scanFeature,
		`SELECT `+featureColumns+` FROM features WHERE tenant_id = $1 AND id = $2`, tenantID, id)
}

// FindEpic はテナント内のエピックを取得する。見つからない場合はnilを返す。
func (r *PostgresHierarchyRepo) FindEpic(ctx context.Context, tenantID, id string) (*model.Epic, error) {
	if !validID(id) {
		return nil, nil
	}
	return queryOne(ctx, r.db, "epic", scanEpic,
		`SELECT `+epicColumns+` FROM epics WHERE tenant_id = $1 AND id = $2`, tenantID, id)
}

func (r *PostgresHierarchyRepo) countPair(ctx context.Context, what, query string, args ...any) (int, int, error) {
	var total, matched int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&total, &matched); err != nil {
		return 0, 0, fmt.Errorf("failed to count %s: %w", what, err)
	}
	return total, matched, nil
}

// CountFeatureTasks はフィーチャー配下のタスク総数とclosed_atが設定済みの数を返す。
func (r *PostgresHierarchyRepo) CountFeatureTasks(ctx context.Context, tenantID, featureID string) (int, int, error) {
	return r.countPair(ctx, "feature tasks",
		`SELECT count(*), count(closed_at) FROM tasks WHERE tenant_id = $1 AND feature_id = $2`,
		tenantID, featureID)
}

// CountEpicFeatures はエピック配下のフィーチャー総数とVerifiedの数を返す。
func (r *PostgresHierarchyRepo) CountEpicFeatures(ctx context.Context, tenantID, epicID string) (int, int, error) {
	return r.countPair(ctx, "epic features",
		`SELECT count(*), count(*) FILTER (WHERE status = $3)
		 FROM features WHERE tenant_id = $1 AND epic_id = $2`,
		tenantID, epicID, string(model.FeatureStatusVerified))
}

// CountEpicTasks はエピックを直接参照するタスク総数とstatusがDoneの数を返す。
func (r *PostgresHierarchyRepo) CountEpicTasks(ctx context.Context, tenantID, epicID string) (int, int, error) {
	return r.countPair(ctx, "epic tasks",
		`SELECT count(*), count(*) FILTER (WHERE status = $3)
		 FROM tasks WHERE tenant_id = $1 AND epic_id = $2`,
		tenantID, epicID, string(model.TaskStatusDone))
}

func (r *PostgresHierarchyRepo) execChanged(ctx context.Context, what, query string, args ...any) (bool, error) {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to %s: %w", what, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// VerifyFeature はフィーチャーをVerifiedにする。既にVerifiedの場合はfalseを返す。
func (r *PostgresHierarchyRepo) VerifyFeature(ctx context.Context, tenantID, featureID string, now time.Time) (bool, error) {
	return r.execChanged(ctx, "verify feature",
		`UPDATE features SET status = $3, closed_at = COALESCE(closed_at, $4), updated_at = $4
		 WHERE tenant_id = $1 AND id = $2 AND status <> $3`,
		tenantID, featureID, string(model.FeatureStatusVerified), now)
}

// ReopenFeature はVerifiedのフィーチャーをIn Progressに戻す。Verified以外の場合はfalseを返す。
func (r *PostgresHierarchyRepo) ReopenFeature(ctx context.Context, tenantID, featureID string, now time.Time) (bool, error) {
	return r.execChanged(ctx, "reopen feature",
		`UPDATE features SET status = $3, closed_at = NULL, updated_at = $5
		 WHERE tenant_id = $1 AND id = $2 AND status = $4`,
		tenantID, featureID, string(model.FeatureStatusInProgress), string(model.FeatureStatusVerified), now)
}

// CompleteEpic はエピックをCompletedにする。既にCompletedの場合はfalseを返す。
func (r *PostgresHierarchyRepo) CompleteEpic(ctx context.Context, tenantID, epicID string, now time.Time) (bool, error) {
	return r.execChanged(ctx, "complete epic",
		`UPDATE epics SET status = $3, closed_at = COALESCE(closed_at, $4), updated_at = $4
		 WHERE tenant_id = $1 AND id = $2 AND status <> $3`,
		tenantID, epicID, string(model.EpicStatusCompleted), now)
}

// ReopenEpic はCompletedのエピックをIn Progressに戻す。Completed以外の場合はfalseを返す。
func (r *PostgresHierarchyRepo) ReopenEpic(ctx context.Context, tenantID, epicID string, now time.Time) (bool, error) {
	return r.execChanged(ctx, "reopen epic",
		`UPDATE epics SET status = $3, closed_at = NULL, updated_at = $5
		 WHERE tenant_id = $1 AND id = $2 AND status = $4`,
		tenantID, epicID, string(model.EpicStatusInProgress), string(model.EpicStatusCompleted), now)
}

// SetEpicProgress はエピックの進捗率を更新する。値が同じ場合はfalseを返す。
func (r *PostgresHierarchyRepo) SetEpicProgress(ctx context.Context, tenantID, epicID string, progress float64, now time.Time) (bool, error) {
	return r.execChanged(ctx, "set epic progress",
		`UPDATE epics SET progress = $3, updated_at = $4
		 WHERE tenant_id = $1 AND id = $2 AND progress IS DISTINCT FROM $3`,
		tenantID, epicID, progress, now)
}

// compile-time interface check
var _ HierarchyRepository = (*PostgresHierarchyRepo)(nil)
