package workitem

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/hitoshi/agileflow/internal/access"
	"github.com/hitoshi/agileflow/internal/audit"
	"github.com/hitoshi/agileflow/internal/model"
)

// FeatureInput はフィーチャー作成の入力。
type FeatureInput struct {
	EpicID      string
	Title       string
	Description string
	Status      string
}

// ListFeatures は参照できるフィーチャーを返す。
func (s *Service) ListFeatures(ctx context.Context, actor model.Principal) ([]*model.Feature, error) {
	scope, err := s.scopes.VisibleProjects(ctx, actor)
	if err != nil {
		return nil, err
	}
	features, err := access.List(ctx, scope,
		func(ctx context.Context) ([]*model.Feature, error) {
			return s.features.ListByTenant(ctx, actor.TenantID)
		},
		func(ctx context.Context, ids []string) ([]*model.Feature, error) {
			return s.features.ListByProjects(ctx, actor.TenantID, ids)
		},
	)
	if err != nil {
		return nil, fmt.Errorf("フィーチャー一覧の取得に失敗しました: %w", err)
	}
	return features, nil
}

// CreateFeature はフィーチャーを作成する。project_idは親エピックから導出する。
// Verifiedは配下のタスクの完了によってのみ設定される。
func (s *Service) CreateFeature(ctx context.Context, actor model.Principal, in FeatureInput) (*model.Feature, error) {
	title := s.sanitizer.PlainText(strings.TrimSpace(in.Title))
	if title == "" {
		return nil, model.NewValidationError("タイトルは必須です")
	}
	status := model.FeatureStatusDraft
	if in.Status != "" {
		st, err := model.ParseFeatureStatus(in.Status)
		if err != nil {
			return nil, model.NewValidationError(err.Error())
		}
		status = st
	}
	if status == model.FeatureStatusVerified {
		return nil, model.NewValidationError("Verifiedは配下のタスクの完了によってのみ設定されます")
	}

	scope, err := s.scopes.VisibleProjects(ctx, actor)
	if err != nil {
		return nil, err
	}

	var (
		epicID    *string
		projectID *string
	)
	if in.EpicID != "" {
		e, err := s.epics.FindInTenant(ctx, actor.TenantID, in.EpicID)
		if err != nil {
			return nil, fmt.Errorf("エピックの取得に失敗しました: %w", err)
		}
		if e == nil || !scope.AllowsOptional(e.ProjectID) {
			return nil, model.NewNotFoundError("エピック")
		}
		epicID, projectID = &e.ID, e.ProjectID
	}
	if err := placeable(scope, projectID); err != nil {
		return nil, err
	}

	now := s.now()
	f := &model.Feature{
		ID:          uuid.NewString(),
		TenantID:    actor.TenantID,
		EpicID:      epicID,
		ProjectID:   projectID,
		Title:       title,
		Description: s.sanitizer.RichText(in.Description),
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.features.Create(ctx, f); err != nil {
		return nil, fmt.Errorf("フィーチャーの作成に失敗しました: %w", err)
	}

	if epicID != nil {
		logCascade(actor, f.ID, s.cascade.ReconcileEpic(ctx, actor, *epicID))
	}

	s.audit.Record(ctx, audit.Event{
		TenantID:   actor.TenantID,
		EntityType: model.EntityFeature,
		EntityID:   f.ID,
		UserID:     actor.UserID,
		Action:     model.AuditActionCreate,
		Changes:    audit.Changes("title", f.Title, "status", f.Status, "epic_id", f.EpicID),
	})
	return f, nil
}

// DeleteFeature はフィーチャーを削除し、親エピックを再評価する。
// 配下のタスクのfeature_idはNULLになる。
func (s *Service) DeleteFeature(ctx context.Context, actor model.Principal, featureID string) error {
	scope, err := s.scopes.VisibleProjects(ctx, actor)
	if err != nil {
		return err
	}
	f, err := s.features.FindInTenant(ctx, actor.TenantID, featureID)
	if err != nil {
		return fmt.Errorf("フィーチャーの取得に失敗しました: %w", err)
	}
	if f == nil || !strictlyVisible(scope, f.ProjectID) {
		return model.NewNotFoundError("フィーチャー")
	}

	deleted, err := s.features.DeleteInTenant(ctx, actor.TenantID, featureID)
	if err != nil {
		return fmt.Errorf("フィーチャーの削除に失敗しました: %w", err)
	}
	if !deleted {
		return model.NewNotFoundError("フィーチャー")
	}

	if f.EpicID != nil {
		logCascade(actor, featureID, s.cascade.ReconcileEpic(ctx, actor, *f.EpicID))
	}

	s.audit.Record(ctx, audit.Event{
		TenantID:   actor.TenantID,
		EntityType: model.EntityFeature,
		EntityID:   featureID,
		UserID:     actor.UserID,
		Action:     model.AuditActionDelete,
		Changes:    audit.Changes("title", f.Title),
	})
	return nil
}
