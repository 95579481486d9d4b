// Package user はワークスペース内のユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/agileflow/internal/access"
	"github.com/hitoshi/agileflow/internal/audit"
	"github.com/hitoshi/agileflow/internal/auth"
	mailer "github.com/hitoshi/agileflow/internal/mail"
	"github.com/hitoshi/agileflow/internal/model"
	"github.com/hitoshi/agileflow/internal/quota"
	"github.com/hitoshi/agileflow/internal/repository"
)

// ProjectLookup は所属プロジェクト指定時の存在確認のインターフェース。
type ProjectLookup interface {
	FindInTenant(ctx context.Context, tenantID, id string) (*model.Project, error)
}

// SessionRevoker はリフレッシュトークンの一括失効インターフェース。
type SessionRevoker interface {
	RevokeAll(ctx context.Context, userID string) error
}

// Service はユーザー管理のサービス層。
// 作成時の権限判定と人数上限、削除時のセッション失効を担う。
type Service struct {
	users     repository.UserRepository
	projects  ProjectLookup
	scopes    *access.Resolver
	quota     quota.Checker
	passwords *auth.PasswordHasher
	sessions  SessionRevoker
	sender    mailer.Sender
	audit     audit.RecorderInterface
	appURL    string
	now       func() time.Time
}

// Deps はServiceの依存。
type Deps struct {
	Users     repository.UserRepository
	Projects  ProjectLookup
	Scopes    *access.Resolver
	Quota     quota.Checker
	Passwords *auth.PasswordHasher
	Sessions  SessionRevoker
	Mailer    mailer.Sender
	Audit     audit.RecorderInterface
	AppURL    string
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(deps Deps) *Service {
	return &Service{
		users:     deps.Users,
		projects:  deps.Projects,
		scopes:    deps.Scopes,
		quota:     deps.Quota,
		passwords: deps.Passwords,
		sessions:  deps.Sessions,
		sender:    deps.Mailer,
		audit:     deps.Audit,
		appURL:    deps.AppURL,
		now:       time.Now,
	}
}

// CreateInput は管理者によるユーザー作成の入力。
type CreateInput struct {
	Username  string
	Email     string
	FullName  string
	Password  string
	Role      string
	ProjectID string
}

// List は呼び出し元が参照できるユーザーを返す。
// projectIDを指定した場合はそのプロジェクトのメンバーに絞り込む。
func (s *Service) List(ctx context.Context, actor model.Principal, projectID string) ([]*model.User, error) {
	scope, err := s.scopes.VisibleProjects(ctx, actor)
	if err != nil {
		return nil, err
	}
	if projectID != "" && projectID != "all" {
		if !scope.Allows(projectID) {
			return []*model.User{}, nil
		}
		scope = access.Restricted([]string{projectID})
	}

	users, err := access.List(ctx, scope,
		func(ctx context.Context) ([]*model.User, error) {
			return s.users.ListByTenant(ctx, actor.TenantID)
		},
		func(ctx context.Context, ids []string) ([]*model.User, error) {
			return s.users.ListByProjects(ctx, actor.TenantID, ids)
		},
	)
	if err != nil {
		return nil, fmt.Errorf("ユーザー一覧の取得に失敗しました: %w", err)
	}
	return users, nil
}

// Create はワークスペースにユーザーを追加する。
// adminは管理者レベルのロールを付与できない。人数上限はテナント行をロックした上で再確認する。
func (s *Service) Create(ctx context.Context, actor model.Principal, in CreateInput) (*model.User, error) {
	if err := access.RequireRole(actor.Role, access.AdminRoles...); err != nil {
		return nil, err
	}
	role, err := model.ParseRole(in.Role)
	if err != nil {
		return nil, model.NewValidationError(err.Error())
	}
	if !access.CanAssignRole(actor.Role, role) {
		return nil, model.NewForbiddenError()
	}

	username := strings.TrimSpace(in.Username)
	email := strings.TrimSpace(in.Email)
	if username == "" || email == "" {
		return nil, model.NewValidationError("ユーザー名とメールアドレスは必須です")
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return nil, model.NewValidationError("メールアドレスの形式が正しくありません")
	}
	if err := auth.ValidatePassword(in.Password); err != nil {
		return nil, err
	}

	var membership *model.ProjectMember
	now := s.now()
	userID := uuid.NewString()
	if in.ProjectID != "" {
		p, err := s.projects.FindInTenant(ctx, actor.TenantID, in.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("プロジェクトの取得に失敗しました: %w", err)
		}
		if p == nil {
			return nil, model.NewNotFoundError("プロジェクト")
		}
		membership = &model.ProjectMember{
			ProjectID: p.ID,
			UserID:    userID,
			Role:      model.MemberRoleMember,
			CreatedAt: now,
		}
	}

	if err := s.quota.Check(ctx, actor.TenantID, model.ResourceMembers); err != nil {
		return nil, err
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	u := &model.User{
		ID:                userID,
		TenantID:          actor.TenantID,
		Username:          username,
		Email:             email,
		FullName:          strings.TrimSpace(in.FullName),
		Role:              role,
		PasswordHash:      hash,
		VerificationToken: uuid.NewString(),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.users.CreateWithinLimit(ctx, u, repository.CreateUserOptions{Membership: membership}); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewConflictError("ユーザー名またはメールアドレスは既に使用されています")
		}
		if translated := s.quota.Translate(err, actor.TenantID, model.ResourceMembers); translated != err {
			return nil, translated
		}
		return nil, fmt.Errorf("ユーザーの作成に失敗しました: %w", err)
	}

	if err := s.sender.Send(ctx, mailer.VerificationMessage(s.appURL, u.Email, u.VerificationToken)); err != nil {
		slog.Error("確認メールの送信に失敗しました",
			slog.String("error", err.Error()),
			slog.String("user_id", u.ID),
		)
	}

	s.audit.Record(ctx, audit.Event{
		TenantID:   actor.TenantID,
		EntityType: model.EntityUser,
		EntityID:   u.ID,
		UserID:     actor.UserID,
		Action:     model.AuditActionCreate,
		Changes:    audit.Changes("username", u.Username, "email", u.Email, "role", u.Role, "project_id", in.ProjectID),
	})
	return u, nil
}

// Delete はユーザーを削除する。superadminのみが実行でき、自分自身は削除できない。
// 削除順序: リフレッシュトークン失効 → user（+ CASCADE: project_members）
// 作業項目の担当者・作成者はNULLになる。
func (s *Service) Delete(ctx context.Context, actor model.Principal, userID string) error {
	if err := access.RequireRole(actor.Role, access.SuperadminOnly...); err != nil {
		return err
	}
	if userID == actor.UserID {
		return model.NewValidationError("自分自身は削除できません")
	}

	u, err := s.users.FindInTenant(ctx, actor.TenantID, userID)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if u == nil {
		return model.NewNotFoundError("ユーザー")
	}

	slog.Info("ユーザー削除を開始します",
		slog.String("tenant_id", actor.TenantID),
		slog.String("user_id", userID),
	)

	// 1. リフレッシュトークンを失効
	if err := s.sessions.RevokeAll(ctx, userID); err != nil {
		return fmt.Errorf("セッションの失効に失敗しました: %w", err)
	}

	// 2. ユーザーを削除
	deleted, err := s.users.DeleteInTenant(ctx, actor.TenantID, userID)
	if err != nil {
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}
	if !deleted {
		return model.NewNotFoundError("ユーザー")
	}

	slog.Info("ユーザー削除が完了しました",
		slog.String("tenant_id", actor.TenantID),
		slog.String("user_id", userID),
	)
	s.audit.Record(ctx, audit.Event{
		TenantID:   actor.TenantID,
		EntityType: model.EntityUser,
		EntityID:   userID,
		UserID:     actor.UserID,
		Action:     model.AuditActionDelete,
		Changes:    audit.Changes("username", u.Username),
	})
	return nil
}
