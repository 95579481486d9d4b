package workitem

import (
	"context"
	"fmt"

	"github.com/hitoshi/agileflow/internal/model"
)

// CheckVisible は指定種別のエンティティがテナント内に存在し、かつ参照可能かを確認する。
// 存在しない場合も参照できない場合もNotFoundを返す。
func (s *Service) CheckVisible(ctx context.Context, actor model.Principal, entityType, entityID string) error {
	scope, err := s.scopes.VisibleProjects(ctx, actor)
	if err != nil {
		return err
	}

	switch entityType {
	case model.EntityTask:
		_, err := s.visibleTask(ctx, actor, scope, entityID)
		return err
	case model.EntityFeature:
		f, err := s.features.FindInTenant(ctx, actor.TenantID, entityID)
		if err != nil {
			return fmt.Errorf("フィーチャーの取得に失敗しました: %w", err)
		}
		if f == nil || !strictlyVisible(scope, f.ProjectID) {
			return model.NewNotFoundError("フィーチャー")
		}
	case model.EntityEpic:
		e, err := s.epics.FindInTenant(ctx, actor.TenantID, entityID)
		if err != nil {
			return fmt.Errorf("エピックの取得に失敗しました: %w", err)
		}
		if e == nil || !scope.AllowsOptional(e.ProjectID) {
			return model.NewNotFoundError("エピック")
		}
	case model.EntitySprint:
		sp, err := s.sprints.FindInTenant(ctx, actor.TenantID, entityID)
		if err != nil {
			return fmt.Errorf("スプリントの取得に失敗しました: %w", err)
		}
		if sp == nil || !scope.AllowsOptional(sp.ProjectID) {
			return model.NewNotFoundError("スプリント")
		}
	case model.EntityProject:
		p, err := s.projects.FindInTenant(ctx, actor.TenantID, entityID)
		if err != nil {
			return fmt.Errorf("プロジェクトの取得に失敗しました: %w", err)
		}
		if p == nil || !scope.Allows(p.ID) {
			return model.NewNotFoundError("プロジェクト")
		}
	default:
		return model.NewNotFoundError(entityType)
	}
	return nil
}
