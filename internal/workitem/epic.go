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

// EpicInput はエピック作成の入力。
type EpicInput struct {
	ProjectID   string
	Title       string
	Description string
	Status      string
	OwnerID     string
}

// ListEpics は参照できるエピックを返す。プロジェクト未指定のエピックも含む。
func (s *Service) ListEpics(ctx context.Context, actor model.Principal) ([]*model.Epic, error) {
	scope, err := s.scopes.VisibleProjects(ctx, actor)
	if err != nil {
		return nil, err
	}
	epics, err := access.List(ctx, scope,
		func(ctx context.Context) ([]*model.Epic, error) {
			return s.epics.ListByTenant(ctx, actor.TenantID)
		},
		func(ctx context.Context, ids []string) ([]*model.Epic, error) {
			return s.epics.ListByProjects(ctx, actor.TenantID, ids)
		},
	)
	if err != nil {
		return nil, fmt.Errorf("エピック一覧の取得に失敗しました: %w", err)
	}
	return epics, nil
}

// CreateEpic はエピックを作成する。Completedは連鎖によってのみ設定される。
func (s *Service) CreateEpic(ctx context.Context, actor model.Principal, in EpicInput) (*model.Epic, error) {
	title := s.sanitizer.PlainText(strings.TrimSpace(in.Title))
	if title == "" {
		return nil, model.NewValidationError("タイトルは必須です")
	}
	status := model.EpicStatusBacklog
	if in.Status != "" {
		st, err := model.ParseEpicStatus(in.Status)
		if err != nil {
			return nil, model.NewValidationError(err.Error())
		}
		status = st
	}
	if status == model.EpicStatusCompleted {
		return nil, model.NewValidationError("Completedは配下のフィーチャーの検証によってのみ設定されます")
	}

	scope, err := s.scopes.VisibleProjects(ctx, actor)
	if err != nil {
		return nil, err
	}
	projectID, err := s.resolveProject(ctx, actor, scope, in.ProjectID)
	if err != nil {
		return nil, err
	}
	if !scope.AllowsOptional(projectID) {
		return nil, model.NewValidationError("プロジェクトを指定してください")
	}
	ownerID := optional(in.OwnerID)
	if err := s.requireUser(ctx, actor, ownerID); err != nil {
		return nil, err
	}

	now := s.now()
	e := &model.Epic{
		ID:          uuid.NewString(),
		TenantID:    actor.TenantID,
		ProjectID:   projectID,
		Title:       title,
		Description: s.sanitizer.RichText(in.Description),
		Status:      status,
		OwnerID:     ownerID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.epics.Create(ctx, e); err != nil {
		return nil, fmt.Errorf("エピックの作成に失敗しました: %w", err)
	}

	s.audit.Record(ctx, audit.Event{
		TenantID:   actor.TenantID,
		EntityType: model.EntityEpic,
		EntityID:   e.ID,
		UserID:     actor.UserID,
		Action:     model.AuditActionCreate,
		Changes:    audit.Changes("title", e.Title, "status", e.Status, "project_id", e.ProjectID, "owner_id", e.OwnerID),
	})
	return e, nil
}

// DeleteEpic はエピックを削除する。配下のフィーチャーとタスクのepic_idはNULLになる。
func (s *Service) DeleteEpic(ctx context.Context, actor model.Principal, epicID string) error {
	scope, err := s.scopes.VisibleProjects(ctx, actor)
	if err != nil {
		return err
	}
	e, err := s.epics.FindInTenant(ctx, actor.TenantID, epicID)
	if err != nil {
		return fmt.Errorf("エピックの取得に失敗しました: %w", err)
	}
	if e == nil || !scope.AllowsOptional(e.ProjectID) {
		return model.NewNotFoundError("エピック")
	}

	deleted, err := s.epics.DeleteInTenant(ctx, actor.TenantID, epicID)
	if err != nil {
		return fmt.Errorf("エピックの削除に失敗しました: %w", err)
	}
	if !deleted {
		return model.NewNotFoundError("エピック")
	}

	s.audit.Record(ctx, audit.Event{
		TenantID:   actor.TenantID,
		EntityType: model.EntityEpic,
		EntityID:   epicID,
		UserID:     actor.UserID,
		Action:     model.AuditActionDelete,
		Changes:    audit.Changes("title", e.Title),
	})
	return nil
}
