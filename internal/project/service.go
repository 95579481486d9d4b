// Package project はプロジェクトとメンバーシップのドメインロジックを提供する。
package project

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/agileflow/internal/access"
	"github.com/hitoshi/agileflow/internal/audit"
	"github.com/hitoshi/agileflow/internal/model"
	"github.com/hitoshi/agileflow/internal/quota"
	"github.com/hitoshi/agileflow/internal/repository"
)

// UserLookup はメンバー追加時のユーザー存在確認のインターフェース。
type UserLookup interface {
	FindInTenant(ctx context.Context, tenantID, id string) (*model.User, error)
}

// Service はプロジェクト管理のサービス層。
type Service struct {
	projects repository.ProjectRepository
	users    UserLookup
	scopes   *access.Resolver
	quota    quota.Checker
	audit    audit.RecorderInterface
	now      func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	projects repository.ProjectRepository,
	users UserLookup,
	scopes *access.Resolver,
	checker quota.Checker,
	rec audit.RecorderInterface,
) *Service {
	return &Service{
		projects: projects,
		users:    users,
		scopes:   scopes,
		quota:    checker,
		audit:    rec,
		now:      time.Now,
	}
}

// CreateInput はプロジェクト作成の入力。
type CreateInput struct {
	Name        string
	Description string
	AdminIDs    []string
}

// List は呼び出し元が参照できるプロジェクトを返す。
func (s *Service) List(ctx context.Context, actor model.Principal) ([]*model.Project, error) {
	scope, err := s.scopes.VisibleProjects(ctx, actor)
	if err != nil {
		return nil, err
	}
	projects, err := access.List(ctx, scope,
		func(ctx context.Context) ([]*model.Project, error) {
			return s.projects.ListByTenant(ctx, actor.TenantID)
		},
		func(ctx context.Context, ids []string) ([]*model.Project, error) {
			return s.projects.ListByProjects(ctx, actor.TenantID, ids)
		},
	)
	if err != nil {
		return nil, fmt.Errorf("プロジェクト一覧の取得に失敗しました: %w", err)
	}
	return projects, nil
}

// Create はプロジェクトを作成する。作成者はsuperadminとしてメンバーに加わる。
// プロジェクト数の上限はテナント行をロックした上で再確認する。
func (s *Service) Create(ctx context.Context, actor model.Principal, in CreateInput) (*model.Project, error) {
	if err := access.RequireRole(actor.Role, access.AdminRoles...); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, model.NewValidationError("プロジェクト名は必須です")
	}

	if err := s.quota.Check(ctx, actor.TenantID, model.ResourceProjects); err != nil {
		return nil, err
	}

	now := s.now()
	p := &model.Project{
		ID:          uuid.NewString(),
		TenantID:    actor.TenantID,
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		CreatorID:   actor.UserID,
		CreatedAt:   now,
	}

	members := []model.ProjectMember{{
		ProjectID: p.ID,
		UserID:    actor.UserID,
		Role:      model.MemberRoleSuperadmin,
		CreatedAt: now,
	}}
	seen := map[string]bool{actor.UserID: true}
	for _, id := range in.AdminIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		u, err := s.users.FindInTenant(ctx, actor.TenantID, id)
		if err != nil {
			return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
		}
		if u == nil {
			return nil, model.NewValidationError(fmt.Sprintf("管理者に指定したユーザーが存在しません: %s", id))
		}
		members = append(members, model.ProjectMember{
			ProjectID: p.ID,
			UserID:    id,
			Role:      model.MemberRoleAdmin,
			CreatedAt: now,
		})
	}

	if err := s.projects.CreateWithinLimit(ctx, p, members); err != nil {
		if translated := s.quota.Translate(err, actor.TenantID, model.ResourceProjects); translated != err {
			return nil, translated
		}
		return nil, fmt.Errorf("プロジェクトの作成に失敗しました: %w", err)
	}

	slog.Info("project created",
		slog.String("tenant_id", actor.TenantID),
		slog.String("project_id", p.ID),
		slog.String("user_id", actor.UserID),
	)
	s.audit.Record(ctx, audit.Event{
		TenantID:   actor.TenantID,
		EntityType: model.EntityProject,
		EntityID:   p.ID,
		UserID:     actor.UserID,
		Action:     model.AuditActionCreate,
		Changes:    audit.Changes("name", p.Name, "description", p.Description, "admin_ids", in.AdminIDs),
	})
	return p, nil
}

// Delete はプロジェクトを削除する。superadminのみが実行できる。
// メンバーシップとプロジェクト配下の作業項目はCASCADE削除される。
func (s *Service) Delete(ctx context.Context, actor model.Principal, projectID string) error {
	if err := access.RequireRole(actor.Role, access.SuperadminOnly...); err != nil {
		return err
	}
	deleted, err := s.projects.DeleteInTenant(ctx, actor.TenantID, projectID)
	if err != nil {
		return fmt.Errorf("プロジェクトの削除に失敗しました: %w", err)
	}
	if !deleted {
		return model.NewNotFoundError("プロジェクト")
	}

	s.audit.Record(ctx, audit.Event{
		TenantID:   actor.TenantID,
		EntityType: model.EntityProject,
		EntityID:   projectID,
		UserID:     actor.UserID,
		Action:     model.AuditActionDelete,
	})
	return nil
}

// ListMembers はプロジェクトのメンバーを返す。
// 参照できないプロジェクトは存在しないものとして扱う。
func (s *Service) ListMembers(ctx context.Context, actor model.Principal, projectID string) ([]*model.ProjectMember, error) {
	if _, err := s.visibleProject(ctx, actor, projectID); err != nil {
		return nil, err
	}
	members, err := s.projects.ListMembers(ctx, actor.TenantID, projectID)
	if err != nil {
		return nil, fmt.Errorf("メンバー一覧の取得に失敗しました: %w", err)
	}
	return members, nil
}

// AddMember はメンバーを追加する。既にメンバーの場合は役割を更新する。
func (s *Service) AddMember(ctx context.Context, actor model.Principal, projectID, userID, role string) (*model.ProjectMember, error) {
	if err := access.RequireRole(actor.Role, access.AdminRoles...); err != nil {
		return nil, err
	}
	memberRole, err := model.ParseMemberRole(role)
	if err != nil {
		return nil, model.NewValidationError(err.Error())
	}
	if userID == "" {
		return nil, model.NewValidationError("ユーザーIDは必須です")
	}

	if _, err := s.visibleProject(ctx, actor, projectID); err != nil {
		return nil, err
	}
	u, err := s.users.FindInTenant(ctx, actor.TenantID, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if u == nil {
		return nil, model.NewNotFoundError("ユーザー")
	}

	member := &model.ProjectMember{
		ProjectID: projectID,
		UserID:    u.ID,
		Role:      memberRole,
		Username:  u.Username,
		FullName:  u.FullName,
		CreatedAt: s.now(),
	}
	if err := s.projects.UpsertMember(ctx, member); err != nil {
		return nil, fmt.Errorf("メンバーの追加に失敗しました: %w", err)
	}

	s.audit.Record(ctx, audit.Event{
		TenantID:   actor.TenantID,
		EntityType: model.EntityProject,
		EntityID:   projectID,
		UserID:     actor.UserID,
		Action:     model.AuditActionUpdate,
		Changes:    audit.Changes("member_added", u.ID, "member_role", memberRole),
	})
	return member, nil
}

// RemoveMember はメンバーを外す。
func (s *Service) RemoveMember(ctx context.Context, actor model.Principal, projectID, userID string) error {
	if err := access.RequireRole(actor.Role, access.AdminRoles...); err != nil {
		return err
	}
	removed, err := s.projects.RemoveMember(ctx, actor.TenantID, projectID, userID)
	if err != nil {
		return fmt.Errorf("メンバーの削除に失敗しました: %w", err)
	}
	if !removed {
		return model.NewNotFoundError("メンバー")
	}

	s.audit.Record(ctx, audit.Event{
		TenantID:   actor.TenantID,
		EntityType: model.EntityProject,
		EntityID:   projectID,
		UserID:     actor.UserID,
		Action:     model.AuditActionUpdate,
		Changes:    audit.Changes("member_removed", userID),
	})
	return nil
}

func (s *Service) visibleProject(ctx context.Context, actor model.Principal, projectID string) (*model.Project, error) {
	scope, err := s.scopes.VisibleProjects(ctx, actor)
	if err != nil {
		return nil, err
	}
	if !scope.Allows(projectID) {
		return nil, model.NewNotFoundError("プロジェクト")
	}
	p, err := s.projects.FindInTenant(ctx, actor.TenantID, projectID)
	if err != nil {
		return nil, fmt.Errorf("プロジェクトの取得に失敗しました: %w", err)
	}
	if p == nil {
		return nil, model.NewNotFoundError("プロジェクト")
	}
	return p, nil
}
