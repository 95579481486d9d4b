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

// SprintInput はスプリント作成の入力。日付はYYYY-MM-DD形式。
type SprintInput struct {
	ProjectID      string
	Name           string
	Goal           string
	StartDate      string
	EndDate        string
	Status         string
	TargetCapacity *int
}

// ListSprints は参照できるスプリントを返す。プロジェクト未指定のスプリントも含む。
func (s *Service) ListSprints(ctx context.Context, actor model.Principal) ([]*model.Sprint, error) {
	scope, err := s.scopes.VisibleProjects(ctx, actor)
	if err != nil {
		return nil, err
	}
	sprints, err := access.List(ctx, scope,
		func(ctx context.Context) ([]*model.Sprint, error) {
			return s.sprints.ListByTenant(ctx, actor.TenantID)
		},
		func(ctx context.Context, ids []string) ([]*model.Sprint, error) {
			return s.sprints.ListByProjects(ctx, actor.TenantID, ids)
		},
	)
	if err != nil {
		return nil, fmt.Errorf("スプリント一覧の取得に失敗しました: %w", err)
	}
	return sprints, nil
}

// CreateSprint はスプリントを作成する。
func (s *Service) CreateSprint(ctx context.Context, actor model.Principal, in SprintInput) (*model.Sprint, error) {
	name := s.sanitizer.PlainText(strings.TrimSpace(in.Name))
	if name == "" {
		return nil, model.NewValidationError("スプリント名は必須です")
	}
	status := model.SprintStatusPlanned
	if in.Status != "" {
		st, err := model.ParseSprintStatus(in.Status)
		if err != nil {
			return nil, model.NewValidationError(err.Error())
		}
		status = st
	}
	start, err := parseDate("start_date", in.StartDate)
	if err != nil {
		return nil, err
	}
	end, err := parseDate("end_date", in.EndDate)
	if err != nil {
		return nil, err
	}
	if start != nil && end != nil && end.Before(*start) {
		return nil, model.NewValidationError("終了日は開始日以降にしてください")
	}
	if in.TargetCapacity != nil && *in.TargetCapacity < 0 {
		return nil, invalidField("target_capacity")
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

	sp := &model.Sprint{
		ID:             uuid.NewString(),
		TenantID:       actor.TenantID,
		ProjectID:      projectID,
		Name:           name,
		Goal:           s.sanitizer.PlainText(in.Goal),
		StartDate:      start,
		EndDate:        end,
		Status:         status,
		TargetCapacity: in.TargetCapacity,
		CreatedAt:      s.now(),
	}
	if err := s.sprints.Create(ctx, sp); err != nil {
		return nil, fmt.Errorf("スプリントの作成に失敗しました: %w", err)
	}

	s.audit.Record(ctx, audit.Event{
		TenantID:   actor.TenantID,
		EntityType: model.EntitySprint,
		EntityID:   sp.ID,
		UserID:     actor.UserID,
		Action:     model.AuditActionCreate,
		Changes:    audit.Changes("name", sp.Name, "status", sp.Status, "project_id", sp.ProjectID),
	})
	return sp, nil
}

// DeleteSprint はスプリントを削除する。タスクのsprint_idはNULLになる。
func (s *Service) DeleteSprint(ctx context.Context, actor model.Principal, sprintID string) error {
	scope, err := s.scopes.VisibleProjects(ctx, actor)
	if err != nil {
		return err
	}
	sp, err := s.sprints.FindInTenant(ctx, actor.TenantID, sprintID)
	if err != nil {
		return fmt.Errorf("スプリントの取得に失敗しました: %w", err)
	}
	if sp == nil || !scope.AllowsOptional(sp.ProjectID) {
		return model.NewNotFoundError("スプリント")
	}

	deleted, err := s.sprints.DeleteInTenant(ctx, actor.TenantID, sprintID)
	if err != nil {
		return fmt.Errorf("スプリントの削除に失敗しました: %w", err)
	}
	if !deleted {
		return model.NewNotFoundError("スプリント")
	}

	s.audit.Record(ctx, audit.Event{
		TenantID:   actor.TenantID,
		EntityType: model.EntitySprint,
		EntityID:   sprintID,
		UserID:     actor.UserID,
		Action:     model.AuditActionDelete,
	})
	return nil
}
