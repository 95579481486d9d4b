// Package invitation はワークスペースへの招待の発行と参照を提供する。
// 招待の受諾はauthパッケージが担う。
package invitation

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/agileflow/internal/access"
	"github.com/hitoshi/agileflow/internal/audit"
	mailer "github.com/hitoshi/agileflow/internal/mail"
	"github.com/hitoshi/agileflow/internal/model"
	"github.com/hitoshi/agileflow/internal/quota"
	"github.com/hitoshi/agileflow/internal/repository"
)

// DefaultTTL は招待の既定の有効期間。
const DefaultTTL = 7 * 24 * time.Hour

// Lookups は招待発行時に参照するテナント・ユーザー・プロジェクト。
type Lookups interface {
	FindTenant(ctx context.Context, id string) (*model.Tenant, error)
	FindUserByEmail(ctx context.Context, tenantID, email string) (*model.User, error)
	FindProject(ctx context.Context, tenantID, id string) (*model.Project, error)
}

// Service は招待のサービス層。
type Service struct {
	invites repository.InvitationRepository
	lookups Lookups
	quota   quota.Checker
	sender  mailer.Sender
	audit   audit.RecorderInterface
	appURL  string
	ttl     time.Duration
	now     func() time.Time
}

// NewService はServiceを生成する。ttlが0以下の場合はDefaultTTLを使う。
func NewService(
	invites repository.InvitationRepository,
	lookups Lookups,
	checker quota.Checker,
	sender mailer.Sender,
	rec audit.RecorderInterface,
	appURL string,
	ttl time.Duration,
) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{
		invites: invites,
		lookups: lookups,
		quota:   checker,
		sender:  sender,
		audit:   rec,
		appURL:  appURL,
		ttl:     ttl,
		now:     time.Now,
	}
}

// CreateInput は招待発行の入力。Roleを省略した場合はdevになる。
type CreateInput struct {
	Email     string
	Role      string
	ProjectID string
}

// Create は招待を発行してメールを送る。
// 人数上限はここでは早期判定のみ行い、受諾時にロック下で再確認する。
func (s *Service) Create(ctx context.Context, actor model.Principal, in CreateInput) (*model.Invitation, error) {
	if err := access.RequireRole(actor.Role, access.AdminRoles...); err != nil {
		return nil, err
	}

	role := model.RoleDev
	if in.Role != "" {
		r, err := model.ParseRole(in.Role)
		if err != nil {
			return nil, model.NewValidationError(err.Error())
		}
		role = r
	}
	if !access.CanAssignRole(actor.Role, role) {
		return nil, model.NewForbiddenError()
	}

	email := strings.TrimSpace(in.Email)
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return nil, model.NewValidationError("メールアドレスの形式が正しくありません")
	}

	tenant, err := s.lookups.FindTenant(ctx, actor.TenantID)
	if err != nil {
		return nil, fmt.Errorf("テナントの取得に失敗しました: %w", err)
	}
	if tenant == nil {
		return nil, model.NewNotFoundError("テナント")
	}

	var projectID *string
	if in.ProjectID != "" {
		p, err := s.lookups.FindProject(ctx, actor.TenantID, in.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("プロジェクトの取得に失敗しました: %w", err)
		}
		if p == nil {
			return nil, model.NewNotFoundError("プロジェクト")
		}
		projectID = &p.ID
	}

	if err := s.quota.Check(ctx, actor.TenantID, model.ResourceMembers); err != nil {
		return nil, err
	}

	existing, err := s.lookups.FindUserByEmail(ctx, actor.TenantID, email)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの検索に失敗しました: %w", err)
	}
	if existing != nil {
		return nil, model.NewConflictError("このメールアドレスのユーザーは既にワークスペースに参加しています")
	}

	now := s.now()
	inv := &model.Invitation{
		ID:        uuid.NewString(),
		TenantID:  actor.TenantID,
		Email:     email,
		Role:      role,
		Token:     uuid.NewString(),
		InvitedBy: actor.UserID,
		ProjectID: projectID,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}
	if err := s.invites.Create(ctx, inv); err != nil {
		return nil, fmt.Errorf("招待の作成に失敗しました: %w", err)
	}

	if err := s.sender.Send(ctx, mailer.InvitationMessage(s.appURL, inv.Email, tenant.Name, inv.Token)); err != nil {
		slog.Error("招待メールの送信に失敗しました",
			slog.String("error", err.Error()),
			slog.String("invitation_id", inv.ID),
		)
	}

	s.audit.Record(ctx, audit.Event{
		TenantID:   actor.TenantID,
		EntityType: model.EntityInvitation,
		EntityID:   inv.ID,
		UserID:     actor.UserID,
		Action:     model.AuditActionCreate,
		Changes:    audit.Changes("email", inv.Email, "role", inv.Role, "project_id", inv.ProjectID),
	})
	return inv, nil
}

// List はテナントの招待を新しい順に返す。
func (s *Service) List(ctx context.Context, actor model.Principal) ([]*model.Invitation, error) {
	if err := access.RequireRole(actor.Role, access.AdminRoles...); err != nil {
		return nil, err
	}
	invites, err := s.invites.ListByTenant(ctx, actor.TenantID)
	if err != nil {
		return nil, fmt.Errorf("招待一覧の取得に失敗しました: %w", err)
	}
	return invites, nil
}

// RepositoryLookups は各リポジトリをLookupsとして束ねる。
type RepositoryLookups struct {
	Tenants  repository.TenantRepository
	Users    repository.UserRepository
	Projects repository.ProjectRepository
}

// FindTenant はLookupsを実装する。
func (l RepositoryLookups) FindTenant(ctx context.Context, id string) (*model.Tenant, error) {
	return l.Tenants.FindByID(ctx, id)
}

// FindUserByEmail はLookupsを実装する。
func (l RepositoryLookups) FindUserByEmail(ctx context.Context, tenantID, email string) (*model.User, error) {
	return l.Users.FindByEmail(ctx, tenantID, email)
}

// FindProject はLookupsを実装する。
func (l RepositoryLookups) FindProject(ctx context.Context, tenantID, id string) (*model.Project, error) {
	return l.Projects.FindInTenant(ctx, tenantID, id)
}

// compile-time interface check
var _ Lookups = RepositoryLookups{}
