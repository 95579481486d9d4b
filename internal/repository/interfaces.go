// Package repository はデータ永続化のインターフェースを定義する。
//
// 主キー以外で検索するクエリは必ずtenant_idを条件に含める。
// プロジェクトスコープ付きの一覧はListByProjectsで取得し、
// 空のプロジェクトID集合にはクエリを発行せず空の結果を返す。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/agileflow/internal/model"
)

// ErrQuotaExceeded はトランザクション内の再カウントでプラン上限に達していた場合に返る。
var ErrQuotaExceeded = errors.New("plan limit reached")

// ErrDuplicate は一意制約違反の場合に返る。
var ErrDuplicate = errors.New("duplicate value")

// TenantRepository はテナント（ワークスペース）の永続化インターフェース。
type TenantRepository interface {
	// FindByID は指定IDのテナントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Tenant, error)

	// FindBySlug はslugでテナントを取得する。見つからない場合はnilを返す。
	FindBySlug(ctx context.Context, slug string) (*model.Tenant, error)

	// CreateWorkspace はテナント、ボード列、最初のユーザーを同一トランザクションで作成する。
	// slugが重複する場合はErrDuplicateを返す。
	CreateWorkspace(ctx context.Context, tenant *model.Tenant, columns []model.Column, owner *model.User) error

	// CountResources はテナント内のリソース数を返す。
	CountResources(ctx context.Context, tenantID string, resource model.Resource) (int, error)

	// ListColumns はテナントのボード列を表示順に返す。
	ListColumns(ctx context.Context, tenantID string) ([]*model.Column, error)
}

// CreateUserOptions はユーザー作成時に同一トランザクションで行う追加操作。
type CreateUserOptions struct {
	// Membership が指定された場合はプロジェクトメンバーシップも作成する。
	Membership *model.ProjectMember
	// AcceptInvitationID が指定された場合は招待を受諾済みにする。
	// 既に受諾済みまたは期限切れの場合はErrDuplicateを返す。
	AcceptInvitationID string
}

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindInTenant はテナント内の指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindInTenant(ctx context.Context, tenantID, id string) (*model.User, error)

	// FindByLogin はユーザー名またはメールアドレスに一致するユーザーを返す。
	// tenantSlugが空でない場合はそのテナントに限定する。
	FindByLogin(ctx context.Context, login, tenantSlug string) ([]*model.User, error)

	// FindByEmail はテナント内のメールアドレスに一致するユーザーを返す。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, tenantID, email string) (*model.User, error)

	// FindByVerificationToken はメール確認トークンでユーザーを取得する。
	FindByVerificationToken(ctx context.Context, token string) (*model.User, error)

	// FindByResetToken は有効期限内のパスワードリセットトークンでユーザーを取得する。
	FindByResetToken(ctx context.Context, token string, now time.Time) (*model.User, error)

	// ListByTenant はテナントの全ユーザーを返す。
	ListByTenant(ctx context.Context, tenantID string) ([]*model.User, error)

	// ListByProjects は指定プロジェクトのいずれかに所属するユーザーを返す。
	ListByProjects(ctx context.Context, tenantID string, projectIDs []string) ([]*model.User, error)

	// CreateWithinLimit はテナント行をロックして人数上限を再確認した上でユーザーを作成する。
	// 上限に達している場合はErrQuotaExceeded、ユーザー名かメールが重複する場合はErrDuplicateを返す。
	CreateWithinLimit(ctx context.Context, user *model.User, opts CreateUserOptions) error

	// UpdatePassword はパスワードハッシュを更新し、リセットトークンを消去する。
	UpdatePassword(ctx context.Context, id, passwordHash string) error

	// SetResetToken はパスワードリセットトークンと有効期限を設定する。
	SetResetToken(ctx context.Context, id, token string, expiresAt time.Time) error

	// MarkEmailVerified はメール確認済みにしてトークンを消去する。
	MarkEmailVerified(ctx context.Context, id string) error

	// DeleteInTenant はテナント内のユーザーを削除する。
	// refresh_tokens、project_membersはCASCADE削除される。見つからない場合はfalseを返す。
	DeleteInTenant(ctx context.Context, tenantID, id string) (bool, error)
}

// RefreshTokenRepository はリフレッシュトークンのハッシュの永続化インターフェース。
type RefreshTokenRepository interface {
	// Create はリフレッシュトークンのハッシュを保存する。
	Create(ctx context.Context, token *model.RefreshToken) error
	// ListActiveByUserID は期限切れでないトークンをすべて返す。
	ListActiveByUserID(ctx context.Context, userID string, now time.Time) ([]*model.RefreshToken, error)
	// DeleteByUserID は指定ユーザーの全トークンを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// ProjectRepository はプロジェクトとメンバーシップの永続化インターフェース。
type ProjectRepository interface {
	// FindInTenant はテナント内のプロジェクトを取得する。見つからない場合はnilを返す。
	FindInTenant(ctx context.Context, tenantID, id string) (*model.Project, error)

	// ListByTenant はテナントの全プロジェクトを返す。
	ListByTenant(ctx context.Context, tenantID string) ([]*model.Project, error)

	// ListByProjects は指定IDのプロジェクトを返す。
	ListByProjects(ctx context.Context, tenantID string, projectIDs []string) ([]*model.Project, error)

	// CreateWithinLimit はテナント行をロックしてプロジェクト上限を再確認した上で
	// プロジェクトと初期メンバーを作成する。上限に達している場合はErrQuotaExceededを返す。
	CreateWithinLimit(ctx context.Context, project *model.Project, members []model.ProjectMember) error

	// DeleteInTenant はプロジェクトを削除する。見つからない場合はfalseを返す。
	DeleteInTenant(ctx context.Context, tenantID, id string) (bool, error)

	// ListMemberProjectIDs はユーザーがメンバーであるテナント内プロジェクトのIDを返す。
	ListMemberProjectIDs(ctx context.Context, tenantID, userID string) ([]string, error)

	// ListMembers はプロジェクトのメンバーを返す。
	ListMembers(ctx context.Context, tenantID, projectID string) ([]*model.ProjectMember, error)

	// UpsertMember はメンバーシップを作成し、既存の場合は役割を更新する。
	UpsertMember(ctx context.Context, member *model.ProjectMember) error

	// RemoveMember はメンバーシップを削除する。見つからない場合はfalseを返す。
	RemoveMember(ctx context.Context, tenantID, projectID, userID string) (bool, error)
}

// InvitationRepository は招待の永続化インターフェース。
type InvitationRepository interface {
	// Create は招待を作成する。
	Create(ctx context.Context, inv *model.Invitation) error
	// FindPendingByToken は未受諾かつ有効期限内の招待を取得する。見つからない場合はnilを返す。
	FindPendingByToken(ctx context.Context, token string, now time.Time) (*model.Invitation, error)
	// ListByTenant はテナントの招待を新しい順に返す。
	ListByTenant(ctx context.Context, tenantID string) ([]*model.Invitation, error)
}

// EpicRepository はエピックの永続化インターフェース。
type EpicRepository interface {
	FindInTenant(ctx context.Context, tenantID, id string) (*model.Epic, error)
	ListByTenant(ctx context.Context, tenantID string) ([]*model.Epic, error)
	// ListByProjects は指定プロジェクトのエピックとプロジェクト未指定のエピックを返す。
	ListByProjects(ctx context.Context, tenantID string, projectIDs []string) ([]*model.Epic, error)
	Create(ctx context.Context, epic *model.Epic) error
	DeleteInTenant(ctx context.Context, tenantID, id string) (bool, error)
}

// FeatureRepository はフィーチャーの永続化インターフェース。
type FeatureRepository interface {
	FindInTenant(ctx context.Context, tenantID, id string) (*model.Feature, error)
	ListByTenant(ctx context.Context, tenantID string) ([]*model.Feature, error)
	ListByProjects(ctx context.Context, tenantID string, projectIDs []string) ([]*model.Feature, error)
	Create(ctx context.Context, feature *model.Feature) error
	DeleteInTenant(ctx context.Context, tenantID, id string) (bool, error)
}

// TaskRepository はタスクの永続化インターフェース。
type TaskRepository interface {
	FindInTenant(ctx context.Context, tenantID, id string) (*model.Task, error)
	ListByTenant(ctx context.Context, tenantID string) ([]*model.Task, error)
	ListByProjects(ctx context.Context, tenantID string, projectIDs []string) ([]*model.Task, error)
	Create(ctx context.Context, task *model.Task) error
	// Update は編集可能な全カラムを上書きする。
	Update(ctx context.Context, task *model.Task) error
	DeleteInTenant(ctx context.Context, tenantID, id string) (bool, error)
}

// SprintRepository はスプリントの永続化インターフェース。
type SprintRepository interface {
	FindInTenant(ctx context.Context, tenantID, id string) (*model.Sprint, error)
	ListByTenant(ctx context.Context, tenantID string) ([]*model.Sprint, error)
	// ListByProjects は指定プロジェクトのスプリントとプロジェクト未指定のスプリントを返す。
	ListByProjects(ctx context.Context, tenantID string, projectIDs []string) ([]*model.Sprint, error)
	Create(ctx context.Context, sprint *model.Sprint) error
	DeleteInTenant(ctx context.Context, tenantID, id string) (bool, error)
}

// CommentRepository はコメントの永続化インターフェース。
type CommentRepository interface {
	Create(ctx context.Context, comment *model.Comment) error
	ListByTask(ctx context.Context, tenantID, taskID string) ([]*model.Comment, error)
}

// AttachmentRepository は添付リンクの永続化インターフェース。
type AttachmentRepository interface {
	Create(ctx context.Context, attachment *model.Attachment) error
	ListByTask(ctx context.Context, tenantID, taskID string) ([]*model.Attachment, error)
}

// CustomFieldRepository はカスタムフィールドの永続化インターフェース。
type CustomFieldRepository interface {
	// CreateDefinition は定義を作成する。同名の定義がある場合はErrDuplicateを返す。
	CreateDefinition(ctx context.Context, def *model.CustomFieldDefinition) error
	FindDefinition(ctx context.Context, tenantID, id string) (*model.CustomFieldDefinition, error)
	// ListDefinitions はエンティティ種別の定義を返す。entityTypeが空の場合は全件を返す。
	ListDefinitions(ctx context.Context, tenantID, entityType string) ([]*model.CustomFieldDefinition, error)
	DeleteDefinition(ctx context.Context, tenantID, id string) (bool, error)
	// UpsertValue は値を作成または更新する。
	UpsertValue(ctx context.Context, value *model.CustomFieldValue) error
	ListValues(ctx context.Context, tenantID, entityID string) ([]*model.CustomFieldValue, error)
}

// TestSuiteRepository はテストスイートとテストケースの永続化インターフェース。
type TestSuiteRepository interface {
	CreateSuite(ctx context.Context, suite *model.TestSuite) error
	// FindSuite はテナント内のスイートを取得する。見つからない場合はnilを返す。
	FindSuite(ctx context.Context, tenantID, id string) (*model.TestSuite, error)
	ListSuites(ctx context.Context, tenantID string) ([]*model.TestSuite, error)
	CreateCase(ctx context.Context, tc *model.TestCase) error
	// FindCase はテナント内のテストケースを取得する。見つからない場合はnilを返す。
	FindCase(ctx context.Context, tenantID, id string) (*model.TestCase, error)
	ListCases(ctx context.Context, tenantID, suiteID string) ([]*model.TestCase, error)
	// UpdateCase はテストケースの内容と結果を更新する。対象がない場合はfalseを返す。
	UpdateCase(ctx context.Context, tc *model.TestCase) (bool, error)
}

// AuditLogRepository は監査ログの永続化インターフェース。追記と参照のみを提供する。
type AuditLogRepository interface {
	Insert(ctx context.Context, entry *model.AuditLogEntry) error
	ListByEntity(ctx context.Context, tenantID, entityType, entityID string) ([]*model.AuditLogEntry, error)
}

// HierarchyRepository はライフサイクル連鎖に必要な作業階層の参照と条件付き更新を提供する。
// 更新系は実際に行が変化した場合のみtrueを返す。
type HierarchyRepository interface {
	FindTask(ctx context.Context, tenantID, id string) (*model.Task, error)
	FindFeature(ctx context.Context, tenantID, id string) (*model.Feature, error)
	FindEpic(ctx context.Context, tenantID, id string) (*model.Epic, error)

	// CountFeatureTasks はフィーチャー配下のタスク総数とclosed_atが設定済みの数を返す。
	CountFeatureTasks(ctx context.Context, tenantID, featureID string) (total, closed int, err error)
	// CountEpicFeatures はエピック配下のフィーチャー総数とVerifiedの数を返す。
	CountEpicFeatures(ctx context.Context, tenantID, epicID string) (total, verified int, err error)
	// CountEpicTasks はエピックを直接参照するタスク総数とstatusがDoneの数を返す。
	CountEpicTasks(ctx context.Context, tenantID, epicID string) (total, done int, err error)

	VerifyFeature(ctx context.Context, tenantID, featureID string, now time.Time) (bool, error)
	ReopenFeature(ctx context.Context, tenantID, featureID string, now time.Time) (bool, error)
	CompleteEpic(ctx context.Context, tenantID, epicID string, now time.Time) (bool, error)
	ReopenEpic(ctx context.Context, tenantID, epicID string, now time.Time) (bool, error)
	SetEpicProgress(ctx context.Context, tenantID, epicID string, progress float64, now time.Time) (bool, error)
}
