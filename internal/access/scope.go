// Package access はロールによる操作可否とプロジェクトメンバーシップによる可視範囲の判定を提供する。
package access

import (
	"context"
	"fmt"
	"sort"

	"github.com/hitoshi/agileflow/internal/model"
)

// Scope は呼び出し元が参照できるプロジェクトの範囲。
// 無制限と空集合への制限は別の値として区別する。
type Scope struct {
	unrestricted bool
	projects     map[string]struct{}
}

// Unrestricted はテナント全体を参照できるスコープを返す。
func Unrestricted() Scope {
	return Scope{unrestricted: true}
}

// Restricted は指定プロジェクトのみを参照できるスコープを返す。
func Restricted(projectIDs []string) Scope {
	set := make(map[string]struct{}, len(projectIDs))
	for _, id := range projectIDs {
		set[id] = struct{}{}
	}
	return Scope{projects: set}
}

// IsUnrestricted はテナント全体を参照できるかどうかを返す。
func (s Scope) IsUnrestricted() bool {
	return s.unrestricted
}

// Empty は何も参照できないスコープかどうかを返す。
func (s Scope) Empty() bool {
	return !s.unrestricted && len(s.projects) == 0
}

// ProjectIDs は制限付きスコープのプロジェクトIDを昇順で返す。無制限の場合はnil。
func (s Scope) ProjectIDs() []string {
	if s.unrestricted {
		return nil
	}
	ids := make([]string, 0, len(s.projects))
	for id := range s.projects {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Allows は指定プロジェクトを参照できるかどうかを返す。
func (s Scope) Allows(projectID string) bool {
	if s.unrestricted {
		return true
	}
	_, ok := s.projects[projectID]
	return ok
}

// AllowsOptional はプロジェクト未指定を許す項目（エピック、スプリント）の参照可否を返す。
// プロジェクト未指定の項目は、いずれかのプロジェクトに所属していれば参照できる。
func (s Scope) AllowsOptional(projectID *string) bool {
	if projectID == nil || *projectID == "" {
		return !s.Empty()
	}
	return s.Allows(*projectID)
}

// MembershipStore はユーザーの所属プロジェクトを返すインターフェース。
type MembershipStore interface {
	ListMemberProjectIDs(ctx context.Context, tenantID, userID string) ([]string, error)
}

// Resolver はプリンシパルの可視プロジェクトを解決する。
type Resolver struct {
	store MembershipStore
}

// NewResolver はResolverを生成する。
func NewResolver(store MembershipStore) *Resolver {
	return &Resolver{store: store}
}

// VisibleProjects はプリンシパルが参照できるプロジェクトの範囲を返す。
// superadminはメンバーシップを参照せずに無制限となる。
func (r *Resolver) VisibleProjects(ctx context.Context, p model.Principal) (Scope, error) {
	if p.IsSuperadmin() {
		return Unrestricted(), nil
	}
	ids, err := r.store.ListMemberProjectIDs(ctx, p.TenantID, p.UserID)
	if err != nil {
		return Scope{}, fmt.Errorf("所属プロジェクトの取得に失敗しました: %w", err)
	}
	return Restricted(ids), nil
}

// List はスコープに応じて一覧を取得する。
// 無制限の場合はall、空の場合は問い合わせずに空の結果、それ以外はscopedを呼ぶ。
func List[T any](ctx context.Context, scope Scope,
	all func(ctx context.Context) ([]T, error),
	scoped func(ctx context.Context, projectIDs []string) ([]T, error),
) ([]T, error) {
	switch {
	case scope.IsUnrestricted():
		return all(ctx)
	case scope.Empty():
		return []T{}, nil
	default:
		return scoped(ctx, scope.ProjectIDs())
	}
}
