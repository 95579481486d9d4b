// Package audit は変更履歴の追記と参照を提供する。
//
// 記録は主処理のコミット後に行う。記録に失敗しても主処理の結果は変えず、
// ログとメトリクスに残して握りつぶす。
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/agileflow/internal/metrics"
	"github.com/hitoshi/agileflow/internal/model"
	"github.com/hitoshi/agileflow/internal/repository"
)

// Event は記録する1件の変更。
type Event struct {
	TenantID   string
	EntityType string
	EntityID   string
	UserID     string
	Action     model.AuditAction
	Changes    model.Changes
}

// RecorderInterface はサービス層から利用する監査記録のインターフェース。
type RecorderInterface interface {
	Record(ctx context.Context, e Event)
}

// Recorder は監査ログをリポジトリに追記する。
type Recorder struct {
	repo    repository.AuditLogRepository
	metrics metrics.MetricsCollector
	now     func() time.Time
}

// NewRecorder はRecorderを生成する。
func NewRecorder(repo repository.AuditLogRepository, mc metrics.MetricsCollector) *Recorder {
	if mc == nil {
		mc = metrics.NopCollector{}
	}
	return &Recorder{repo: repo, metrics: mc, now: time.Now}
}

// Record は監査ログを追記する。失敗はエラーとして返さない。
func (r *Recorder) Record(ctx context.Context, e Event) {
	changes := e.Changes
	if changes == nil {
		changes = model.Changes{}
	}
	entry := &model.AuditLogEntry{
		ID:         uuid.NewString(),
		TenantID:   e.TenantID,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		UserID:     e.UserID,
		Action:     e.Action,
		Changes:    changes,
		CreatedAt:  r.now(),
	}
	if err := r.repo.Insert(ctx, entry); err != nil {
		r.metrics.RecordAuditFailure()
		slog.Error("監査ログの記録に失敗しました",
			slog.String("error", err.Error()),
			slog.String("tenant_id", e.TenantID),
			slog.String("entity_type", e.EntityType),
			slog.String("entity_id", e.EntityID),
			slog.String("action", string(e.Action)),
		)
	}
}

// ListByEntity はテナント内のエンティティの監査ログを返す。
func (r *Recorder) ListByEntity(ctx context.Context, tenantID, entityType, entityID string) ([]*model.AuditLogEntry, error) {
	if !KnownEntityType(entityType) {
		return nil, model.NewValidationError(fmt.Sprintf("不明なエンティティ種別です: %s", entityType))
	}
	entries, err := r.repo.ListByEntity(ctx, tenantID, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("監査ログの取得に失敗しました: %w", err)
	}
	return entries, nil
}

// KnownEntityType は監査対象のエンティティ種別かどうかを返す。
func KnownEntityType(entityType string) bool {
	switch entityType {
	case model.EntityTask, model.EntityFeature, model.EntityEpic, model.EntitySprint,
		model.EntityProject, model.EntityUser, model.EntityInvitation,
		model.EntityComment, model.EntityAttachment,
		model.EntityTestSuite, model.EntityTestCase:
		return true
	}
	return false
}

// Changes はフィールド名と値を交互に並べた引数から順序付きの変更内容を作る。
// エンコードできない値はnullとして記録する。
func Changes(kv ...any) model.Changes {
	c := model.Changes{}
	for i := 0; i+1 < len(kv); i += 2 {
		field, ok := kv[i].(string)
		if !ok {
			continue
		}
		if err := c.Set(field, kv[i+1]); err != nil {
			c.SetRaw(field, []byte("null"))
		}
	}
	return c
}

// compile-time interface check
var _ RecorderInterface = (*Recorder)(nil)
