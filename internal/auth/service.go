// Package auth はパスワード認証、トークン発行、アカウント回復のフローを提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/agileflow/internal/audit"
	mailer "github.com/hitoshi/agileflow/internal/mail"
	"github.com/hitoshi/agileflow/internal/metrics"
	"github.com/hitoshi/agileflow/internal/model"
	"github.com/hitoshi/agileflow/internal/quota"
	"github.com/hitoshi/agileflow/internal/repository"
)

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	AppURL        string        // メール内リンクのベースURL
	TrialPeriod   time.Duration // 登録時のトライアル期間
	ResetTokenTTL time.Duration // パスワードリセットトークンの有効期間
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	sessions  *SessionManager
	passwords *PasswordHasher
	users     repository.UserRepository
	tenants   repository.TenantRepository
	invites   repository.InvitationRepository
	quota     quota.Checker
	sender    mailer.Sender
	audit     audit.RecorderInterface
	metrics   metrics.MetricsCollector
	config    ServiceConfig
	now       func() time.Time
}

// Deps はServiceの依存。
type Deps struct {
	Sessions    *SessionManager
	Passwords   *PasswordHasher
	Users       repository.UserRepository
	Tenants     repository.TenantRepository
	Invitations repository.InvitationRepository
	Quota       quota.Checker
	Mailer      mailer.Sender
	Audit       audit.RecorderInterface
	Metrics     metrics.MetricsCollector
}

// NewService はServiceを生成する。
func NewService(deps Deps, config ServiceConfig) *Service {
	mc := deps.Metrics
	if mc == nil {
		mc = metrics.NopCollector{}
	}
	return &Service{
		sessions:  deps.Sessions,
		passwords: deps.Passwords,
		users:     deps.Users,
		tenants:   deps.Tenants,
		invites:   deps.Invitations,
		quota:     deps.Quota,
		sender:    deps.Mailer,
		audit:     deps.Audit,
		metrics:   mc,
		config:    config,
		now:       time.Now,
	}
}

// RegisterInput はワークスペース登録の入力。
type RegisterInput struct {
	WorkspaceName string
	WorkspaceSlug string
	FullName      string
	Email         string
	Password      string
}

// AuthResult は登録・ログイン・招待受諾の結果。
type AuthResult struct {
	Tokens *TokenPair
	User   *model.User
	Tenant *model.Tenant
}

// LoginInput はログインの入力。Loginにはユーザー名またはメールアドレスを指定する。
type LoginInput struct {
	Login      string
	Password   string
	TenantSlug string
}

// AcceptInvitationInput は招待受諾の入力。
type AcceptInvitationInput struct {
	Token    string
	FullName string
	Password string
}

// Slugify はワークスペース名をURLに使えるslugに変換する。
// 英小文字と数字以外はハイフンに置き換える。
func Slugify(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		}
		return '-'
	}, strings.TrimSpace(s))
}

func validateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return model.NewValidationError("メールアドレスの形式が正しくありません")
	}
	return nil
}

func localPart(email string) string {
	if i := strings.IndexByte(email, '@'); i > 0 {
		return email[:i]
	}
	return email
}

// Register はワークスペースを作成し、登録者をsuperadminとしてログインさせる。
func (s *Service) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	in.WorkspaceName = strings.TrimSpace(in.WorkspaceName)
	in.FullName = strings.TrimSpace(in.FullName)
	in.Email = strings.TrimSpace(in.Email)
	if in.WorkspaceName == "" || in.FullName == "" || in.Email == "" || in.Password == "" {
		return nil, model.NewValidationError("ワークスペース名、氏名、メールアドレス、パスワードは必須です")
	}
	if err := validateEmail(in.Email); err != nil {
		return nil, err
	}
	if err := ValidatePassword(in.Password); err != nil {
		return nil, err
	}

	slugSource := in.WorkspaceSlug
	if strings.TrimSpace(slugSource) == "" {
		slugSource = in.WorkspaceName
	}
	slug := Slugify(slugSource)
	if strings.Trim(slug, "-") == "" {
		return nil, model.NewValidationError("ワークスペースのslugに英数字を含めてください")
	}

	existing, err := s.tenants.FindBySlug(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("テナントの検索に失敗しました: %w", err)
	}
	if existing != nil {
		return nil, model.NewConflictError("このワークスペースのslugは既に使用されています")
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	now := s.now()
	trialEnd := now.Add(s.config.TrialPeriod)
	plan, err := model.LookupPlan(model.PlanFree)
	if err != nil {
		return nil, err
	}

	tenantID := uuid.NewString()
	columns := model.DefaultColumns(tenantID)
	tenant := &model.Tenant{
		ID:           tenantID,
		Name:         in.WorkspaceName,
		Slug:         slug,
		PlanID:       plan.ID,
		MaxProjects:  plan.MaxProjects,
		MaxMembers:   plan.MaxMembers,
		TrialEndsAt:  &trialEnd,
		DoneColumnID: columns[len(columns)-1].ID,
		CreatedAt:    now,
	}
	owner := &model.User{
		ID:                uuid.NewString(),
		TenantID:          tenantID,
		Username:          localPart(in.Email),
		Email:             in.Email,
		FullName:          in.FullName,
		Role:              model.RoleSuperadmin,
		PasswordHash:      hash,
		VerificationToken: uuid.NewString(),
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.tenants.CreateWorkspace(ctx, tenant, columns, owner); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewConflictError("このワークスペースのslugは既に使用されています")
		}
		return nil, fmt.Errorf("ワークスペースの作成に失敗しました: %w", err)
	}

	s.sendMail(ctx, mailer.VerificationMessage(s.config.AppURL, owner.Email, owner.VerificationToken))

	tokens, err := s.sessions.Issue(ctx, model.PrincipalOf(owner))
	if err != nil {
		return nil, err
	}

	s.metrics.RecordAuthAttempt("register", true)
	slog.Info("workspace registered",
		slog.String("tenant_id", tenant.ID),
		slog.String("user_id", owner.ID),
		slog.String("slug", slug),
	)
	s.audit.Record(ctx, audit.Event{
		TenantID:   tenant.ID,
		EntityType: model.EntityUser,
		EntityID:   owner.ID,
		UserID:     owner.ID,
		Action:     model.AuditActionCreate,
		Changes:    audit.Changes("username", owner.Username, "role", owner.Role),
	})

	return &AuthResult{Tokens: tokens, User: owner, Tenant: tenant}, nil
}

// Login はユーザー名またはメールアドレスとパスワードで認証する。
// テナントslugを省略した場合に複数テナントで一致したときはslugの指定を求める。
func (s *Service) Login(ctx context.Context, in LoginInput) (*AuthResult, error) {
	login := strings.TrimSpace(in.Login)
	if login == "" || in.Password == "" {
		return nil, model.NewValidationError("ユーザー名とパスワードは必須です")
	}

	candidates, err := s.users.FindByLogin(ctx, login, strings.TrimSpace(in.TenantSlug))
	if err != nil {
		return nil, fmt.Errorf("ユーザーの検索に失敗しました: %w", err)
	}
	if len(candidates) > 1 {
		return nil, model.NewValidationError("複数のワークスペースに一致するユーザーがいます。ワークスペースを指定してください")
	}
	if len(candidates) == 0 {
		s.loginFailed(login, "unknown user")
		return nil, model.NewInvalidCredentialsError()
	}

	user := candidates[0]
	ok, err := s.passwords.Compare(user.PasswordHash, in.Password)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.loginFailed(login, "password mismatch")
		return nil, model.NewInvalidCredentialsError()
	}

	tokens, err := s.sessions.Issue(ctx, model.PrincipalOf(user))
	if err != nil {
		return nil, err
	}

	s.metrics.RecordAuthAttempt("login", true)
	slog.Info("login succeeded",
		slog.String("tenant_id", user.TenantID),
		slog.String("user_id", user.ID),
	)
	return &AuthResult{Tokens: tokens, User: user}, nil
}

func (s *Service) loginFailed(login, reason string) {
	s.metrics.RecordAuthAttempt("login", false)
	slog.Warn("login failed", slog.String("login", login), slog.String("reason", reason))
}

// Refresh はリフレッシュトークンから新しいアクセストークンを発行する。
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, time.Time, error) {
	if refreshToken == "" {
		s.metrics.RecordAuthAttempt("refresh", false)
		return "", time.Time{}, model.NewUnauthenticatedError()
	}
	access, exp, err := s.sessions.Rotate(ctx, refreshToken)
	s.metrics.RecordAuthAttempt("refresh", err == nil)
	return access, exp, err
}

// Logout は呼び出し元のリフレッシュトークンをすべて失効させる。
// 発行済みのアクセストークンは有効期限まで有効なまま残る。
func (s *Service) Logout(ctx context.Context, p model.Principal) error {
	if err := s.sessions.RevokeAll(ctx, p.UserID); err != nil {
		return err
	}
	slog.Info("logout",
		slog.String("tenant_id", p.TenantID),
		slog.String("user_id", p.UserID),
	)
	return nil
}

// AcceptInvitation は招待を受諾してユーザーを作成し、ログインさせる。
// 人数上限はテナント行をロックした上で再確認する。
func (s *Service) AcceptInvitation(ctx context.Context, in AcceptInvitationInput) (*AuthResult, error) {
	if in.Token == "" {
		return nil, model.NewValidationError("招待トークンは必須です")
	}
	if err := ValidatePassword(in.Password); err != nil {
		return nil, err
	}

	now := s.now()
	inv, err := s.invites.FindPendingByToken(ctx, in.Token, now)
	if err != nil {
		return nil, fmt.Errorf("招待の取得に失敗しました: %w", err)
	}
	if inv == nil {
		return nil, model.NewValidationError("招待が無効か期限切れです")
	}

	if err := s.quota.Check(ctx, inv.TenantID, model.ResourceMembers); err != nil {
		return nil, err
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	user := &model.User{
		ID:            uuid.NewString(),
		TenantID:      inv.TenantID,
		Username:      localPart(inv.Email) + "_" + uuid.NewString()[:4],
		Email:         inv.Email,
		FullName:      strings.TrimSpace(in.FullName),
		Role:          inv.Role,
		PasswordHash:  hash,
		EmailVerified: true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	opts := repository.CreateUserOptions{AcceptInvitationID: inv.ID}
	if inv.ProjectID != nil {
		opts.Membership = &model.ProjectMember{
			ProjectID: *inv.ProjectID,
			UserID:    user.ID,
			Role:      model.MemberRoleMember,
			CreatedAt: now,
		}
	}

	if err := s.users.CreateWithinLimit(ctx, user, opts); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewConflictError("この招待は既に使用されているか、ユーザーが既に存在します")
		}
		if translated := s.quota.Translate(err, inv.TenantID, model.ResourceMembers); translated != err {
			return nil, translated
		}
		return nil, fmt.Errorf("ユーザーの作成に失敗しました: %w", err)
	}

	tenant, err := s.tenants.FindByID(ctx, inv.TenantID)
	if err != nil {
		return nil, fmt.Errorf("テナントの取得に失敗しました: %w", err)
	}

	tokens, err := s.sessions.Issue(ctx, model.PrincipalOf(user))
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, audit.Event{
		TenantID:   user.TenantID,
		EntityType: model.EntityUser,
		EntityID:   user.ID,
		UserID:     user.ID,
		Action:     model.AuditActionCreate,
		Changes:    audit.Changes("username", user.Username, "role", user.Role, "invitation_id", inv.ID),
	})
	return &AuthResult{Tokens: tokens, User: user, Tenant: tenant}, nil
}

// ChangePassword はパスワードを変更する。
// 本人以外のパスワードはsuperadminのみが変更でき、その場合は現在のパスワードを確認しない。
func (s *Service) ChangePassword(ctx context.Context, actor model.Principal, userID, currentPassword, newPassword string) error {
	if actor.UserID != userID && !actor.IsSuperadmin() {
		return model.NewForbiddenError()
	}
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}

	user, err := s.users.FindInTenant(ctx, actor.TenantID, userID)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return model.NewNotFoundError("ユーザー")
	}

	if !actor.IsSuperadmin() {
		ok, err := s.passwords.Compare(user.PasswordHash, currentPassword)
		if err != nil {
			return err
		}
		if !ok {
			return model.NewValidationError("現在のパスワードが正しくありません")
		}
	}

	hash, err := s.passwords.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return fmt.Errorf("パスワードの更新に失敗しました: %w", err)
	}

	s.audit.Record(ctx, audit.Event{
		TenantID:   actor.TenantID,
		EntityType: model.EntityUser,
		EntityID:   user.ID,
		UserID:     actor.UserID,
		Action:     model.AuditActionUpdate,
		Changes:    audit.Changes("password", "changed"),
	})
	return nil
}

// RequestPasswordReset はリセットトークンを発行してメールで送る。
// 登録の有無を推測されないよう、該当ユーザーがいなくても成功として扱う。
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil
	}

	candidates, err := s.users.FindByLogin(ctx, email, "")
	if err != nil {
		return fmt.Errorf("ユーザーの検索に失敗しました: %w", err)
	}

	expiresAt := s.now().Add(s.config.ResetTokenTTL)
	for _, u := range candidates {
		if !strings.EqualFold(u.Email, email) {
			continue
		}
		token := uuid.NewString()
		if err := s.users.SetResetToken(ctx, u.ID, token, expiresAt); err != nil {
			return fmt.Errorf("リセットトークンの保存に失敗しました: %w", err)
		}
		s.sendMail(ctx, mailer.PasswordResetMessage(s.config.AppURL, u.Email, token))
		slog.Info("password reset requested",
			slog.String("tenant_id", u.TenantID),
			slog.String("user_id", u.ID),
		)
	}
	return nil
}

// ResetPassword はリセットトークンでパスワードを再設定し、既存のリフレッシュトークンを失効させる。
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}
	if token == "" {
		return model.NewValidationError("リセットトークンが無効か期限切れです")
	}

	user, err := s.users.FindByResetToken(ctx, token, s.now())
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return model.NewValidationError("リセットトークンが無効か期限切れです")
	}

	hash, err := s.passwords.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return fmt.Errorf("パスワードの更新に失敗しました: %w", err)
	}
	return s.sessions.RevokeAll(ctx, user.ID)
}

// VerifyEmail はメール確認トークンを検証して確認済みにする。
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	if token == "" {
		return model.NewValidationError("確認トークンが無効です")
	}
	user, err := s.users.FindByVerificationToken(ctx, token)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return model.NewValidationError("確認トークンが無効です")
	}
	if err := s.users.MarkEmailVerified(ctx, user.ID); err != nil {
		return fmt.Errorf("メール確認の更新に失敗しました: %w", err)
	}
	return nil
}

// ValidateAccess はアクセストークンを検証する。認証ミドルウェアから利用する。
func (s *Service) ValidateAccess(token string) (model.Principal, error) {
	return s.sessions.ValidateAccess(token)
}

// sendMail はメールを送信する。配信失敗は呼び出し元の処理を失敗させない。
func (s *Service) sendMail(ctx context.Context, msg mailer.Message) {
	if err := s.sender.Send(ctx, msg); err != nil {
		slog.Error("メール送信に失敗しました",
			slog.String("subject", msg.Subject),
			slog.String("error", err.Error()),
		)
	}
}
