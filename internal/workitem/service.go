// Package workitem はエピック・フィーチャー・タスク・スプリントと、
// タスクへのコメント・添付の操作を提供する。
//
// 参照と書き込みはすべて呼び出し元のテナントとプロジェクトスコープに限定する。
// スコープ外の項目は存在しないものとして扱う。
package workitem

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/agileflow/internal/access"
	"github.com/hitoshi/agileflow/internal/audit"
	"github.com/hitoshi/agileflow/internal/cascade"
	"github.com/hitoshi/agileflow/internal/model"
	"github.com/hitoshi/agileflow/internal/repository"
	"github.com/hitoshi/agileflow/internal/security"
)

// Cascader はタスク更新後のライフサイクル連鎖のインターフェース。
type Cascader interface {
	OnTaskMutated(ctx context.Context, actor model.Principal, taskID string) cascade.Result
	Reconcile(ctx context.Context, actor model.Principal, parents cascade.Parents) cascade.Result
	ReconcileEpic(ctx context.Context, actor model.Principal, epicID string) cascade.Result
}

// TenantLookup は終端列とボード列の参照インターフェース。
type TenantLookup interface {
	FindByID(ctx context.Context, id string) (*model.Tenant, error)
	ListColumns(ctx context.Context, tenantID string) ([]*model.Column, error)
}

// UserLookup は担当者指定時のユーザー存在確認のインターフェース。
type UserLookup interface {
	FindInTenant(ctx context.Context, tenantID, id string) (*model.User, error)
}

// ProjectLookup はプロジェクト指定時の存在確認のインターフェース。
type ProjectLookup interface {
	FindInTenant(ctx context.Context, tenantID, id string) (*model.Project, error)
}

// Deps はServiceの依存。
type Deps struct {
	Epics       repository.EpicRepository
	Features    repository.FeatureRepository
	Tasks       repository.TaskRepository
	Sprints     repository.SprintRepository
	Comments    repository.CommentRepository
	Attachments repository.AttachmentRepository
	Tenants     TenantLookup
	Users       UserLookup
	Projects    ProjectLookup
	Scopes      *access.Resolver
	Cascade     Cascader
	Sanitizer   security.ContentSanitizer
	Audit       audit.RecorderInterface
}

// Service は作業項目のサービス層。
type Service struct {
	epics       repository.EpicRepository
	features    repository.FeatureRepository
	tasks       repository.TaskRepository
	sprints     repository.SprintRepository
	comments    repository.CommentRepository
	attachments repository.AttachmentRepository
	tenants     TenantLookup
	users       UserLookup
	projects    ProjectLookup
	scopes      *access.Resolver
	cascade     Cascader
	sanitizer   security.ContentSanitizer
	audit       audit.RecorderInterface
	now         func() time.Time
}

// NewService はServiceを生成する。
func NewService(deps Deps) *Service {
	sanitizer := deps.Sanitizer
	if sanitizer == nil {
		sanitizer = security.NewContentSanitizer()
	}
	return &Service{
		epics:       deps.Epics,
		features:    deps.Features,
		tasks:       deps.Tasks,
		sprints:     deps.Sprints,
		comments:    deps.Comments,
		attachments: deps.Attachments,
		tenants:     deps.Tenants,
		users:       deps.Users,
		projects:    deps.Projects,
		scopes:      deps.Scopes,
		cascade:     deps.Cascade,
		sanitizer:   sanitizer,
		audit:       deps.Audit,
		now:         time.Now,
	}
}

// strictlyVisible はプロジェクト必須の項目（フィーチャー、タスク）の参照可否を返す。
// プロジェクト未指定の項目はsuperadminのみが参照できる。
func strictlyVisible(scope access.Scope, projectID *string) bool {
	if scope.IsUnrestricted() {
		return true
	}
	return projectID != nil && scope.Allows(*projectID)
}

// placeable は項目を指定プロジェクトに置けるかを判定する。
func placeable(scope access.Scope, projectID *string) error {
	if strictlyVisible(scope, projectID) {
		return nil
	}
	if projectID == nil {
		return model.NewValidationError("プロジェクトを指定してください")
	}
	return model.NewNotFoundError("プロジェクト")
}

// resolveProject は明示指定されたプロジェクトIDを検証する。
func (s *Service) resolveProject(ctx context.Context, actor model.Principal, scope access.Scope, projectID string) (*string, error) {
	if projectID == "" {
		return nil, nil
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
	return &p.ID, nil
}

func (s *Service) requireUser(ctx context.Context, actor model.Principal, userID *string) error {
	if userID == nil {
		return nil
	}
	u, err := s.users.FindInTenant(ctx, actor.TenantID, *userID)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if u == nil {
		return model.NewNotFoundError("ユーザー")
	}
	return nil
}

// logCascade は連鎖処理のエラーを記録する。連鎖の失敗は主処理の結果を変えない。
func logCascade(actor model.Principal, entityID string, res cascade.Result) {
	if res.Err == nil {
		return
	}
	slog.Error("連鎖処理の一部が失敗しました",
		slog.String("tenant_id", actor.TenantID),
		slog.String("entity_id", entityID),
		slog.String("error", res.Err.Error()),
	)
}

// compile-time interface check
var _ Cascader = (*cascade.Engine)(nil)
