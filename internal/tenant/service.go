// Package tenant はワークスペース情報とプランの参照を提供する。
package tenant

import (
	"context"
	"fmt"
	"time"

	"github.com/hitoshi/agileflow/internal/model"
	"github.com/hitoshi/agileflow/internal/repository"
)

// Billing は現在のプランと利用状況。
type Billing struct {
	Tenant       *model.Tenant
	Plan         model.Plan
	ProjectCount int
	MemberCount  int
	TrialActive  bool
}

// Service はテナント参照のサービス層。
type Service struct {
	tenants repository.TenantRepository
	now     func() time.Time
}

// NewService はServiceを生成する。
func NewService(tenants repository.TenantRepository) *Service {
	return &Service{tenants: tenants, now: time.Now}
}

// Get は呼び出し元のテナントを返す。
func (s *Service) Get(ctx context.Context, actor model.Principal) (*model.Tenant, error) {
	t, err := s.tenants.FindByID(ctx, actor.TenantID)
	if err != nil {
		return nil, fmt.Errorf("テナントの取得に失敗しました: %w", err)
	}
	if t == nil {
		return nil, model.NewNotFoundError("テナント")
	}
	return t, nil
}

// Plans は提供中のプラン一覧を返す。
func (s *Service) Plans() []model.Plan {
	return model.Plans()
}

// Current は呼び出し元テナントのプランと利用状況を返す。
func (s *Service) Current(ctx context.Context, actor model.Principal) (*Billing, error) {
	t, err := s.Get(ctx, actor)
	if err != nil {
		return nil, err
	}
	plan, err := model.LookupPlan(t.PlanID)
	if err != nil {
		return nil, fmt.Errorf("テナントのプランが不正です: %w", err)
	}

	projects, err := s.tenants.CountResources(ctx, t.ID, model.ResourceProjects)
	if err != nil {
		return nil, fmt.Errorf("プロジェクト数の取得に失敗しました: %w", err)
	}
	members, err := s.tenants.CountResources(ctx, t.ID, model.ResourceMembers)
	if err != nil {
		return nil, fmt.Errorf("メンバー数の取得に失敗しました: %w", err)
	}

	return &Billing{
		Tenant:       t,
		Plan:         plan,
		ProjectCount: projects,
		MemberCount:  members,
		TrialActive:  t.TrialEndsAt != nil && s.now().Before(*t.TrialEndsAt),
	}, nil
}

// Columns はテナントのボード列を表示順に返す。
func (s *Service) Columns(ctx context.Context, actor model.Principal) ([]*model.Column, error) {
	cols, err := s.tenants.ListColumns(ctx, actor.TenantID)
	if err != nil {
		return nil, fmt.Errorf("ボード列の取得に失敗しました: %w", err)
	}
	return cols, nil
}
