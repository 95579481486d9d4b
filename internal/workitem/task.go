package workitem

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/hitoshi/agileflow/internal/access"
	"github.com/hitoshi/agileflow/internal/audit"
	"github.com/hitoshi/agileflow/internal/cascade"
	"github.com/hitoshi/agileflow/internal/model"
)

// TaskResult はタスク作成・更新の結果と、それに続いて発生した連鎖の状態変化。
type TaskResult struct {
	Task        *model.Task
	Transitions []cascade.Transition
}

// ListTasks は呼び出し元が参照できるタスクを返す。
func (s *Service) ListTasks(ctx context.Context, actor model.Principal) ([]*model.Task, error) {
	scope, err := s.scopes.VisibleProjects(ctx, actor)
	if err != nil {
		return nil, err
	}
	tasks, err := access.List(ctx, scope,
		func(ctx context.Context) ([]*model.Task, error) {
			return s.tasks.ListByTenant(ctx, actor.TenantID)
		},
		func(ctx context.Context, ids []string) ([]*model.Task, error) {
			return s.tasks.ListByProjects(ctx, actor.TenantID, ids)
		},
	)
	if err != nil {
		return nil, fmt.Errorf("タスク一覧の取得に失敗しました: %w", err)
	}
	return tasks, nil
}

// GetTask は参照できるタスクを返す。
func (s *Service) GetTask(ctx context.Context, actor model.Principal, taskID string) (*model.Task, error) {
	scope, err := s.scopes.VisibleProjects(ctx, actor)
	if err != nil {
		return nil, err
	}
	return s.visibleTask(ctx, actor, scope, taskID)
}

func (s *Service) visibleTask(ctx context.Context, actor model.Principal, scope access.Scope, taskID string) (*model.Task, error) {
	t, err := s.tasks.FindInTenant(ctx, actor.TenantID, taskID)
	if err != nil {
		return nil, fmt.Errorf("タスクの取得に失敗しました: %w", err)
	}
	if t == nil || !strictlyVisible(scope, t.ProjectID) {
		return nil, model.NewNotFoundError("タスク")
	}
	return t, nil
}

// CreateTask はタスクを作成する。fieldsはUpdateTaskと同じフィールドを受け付ける。
// project_idは親フィーチャー、親エピック、明示指定の順で決まる。
func (s *Service) CreateTask(ctx context.Context, actor model.Principal, fields model.Changes) (*TaskResult, error) {
	scope, err := s.scopes.VisibleProjects(ctx, actor)
	if err != nil {
		return nil, err
	}
	tenant, err := s.tenant(ctx, actor)
	if err != nil {
		return nil, err
	}

	now := s.now()
	task := &model.Task{
		ID:        uuid.NewString(),
		TenantID:  actor.TenantID,
		Type:      model.TaskTypeTask,
		Priority:  model.PriorityP2,
		Status:    model.TaskStatusTodo,
		CreatedBy: actor.UserID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.applyTaskFields(ctx, actor, scope, task, fields); err != nil {
		return nil, err
	}
	if task.Title == "" {
		return nil, model.NewValidationError("タイトルは必須です")
	}
	if err := placeable(scope, task.ProjectID); err != nil {
		return nil, err
	}

	cascade.ResolveClosure(task, tenant.DoneColumnID, now)
	if err := s.tasks.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("タスクの作成に失敗しました: %w", err)
	}

	result := &TaskResult{Task: task}
	if task.FeatureID != nil || task.EpicID != nil {
		res := s.cascade.OnTaskMutated(ctx, actor, task.ID)
		logCascade(actor, task.ID, res)
		result.Transitions = res.Transitions
	}

	s.audit.Record(ctx, audit.Event{
		TenantID:   actor.TenantID,
		EntityType: model.EntityTask,
		EntityID:   task.ID,
		UserID:     actor.UserID,
		Action:     model.AuditActionCreate,
		Changes:    fields,
	})
	return result, nil
}

// UpdateTask はタスクを部分更新する。
// 処理順序: 入力検証 → closed_at確定 → 更新 → 連鎖（新旧の親） → 監査
// 連鎖の失敗は更新の成否に影響しない。
func (s *Service) UpdateTask(ctx context.Context, actor model.Principal, taskID string, patch model.Changes) (*TaskResult, error) {
	if len(patch) == 0 {
		return nil, model.NewValidationError("更新内容がありません")
	}
	scope, err := s.scopes.VisibleProjects(ctx, actor)
	if err != nil {
		return nil, err
	}
	task, err := s.visibleTask(ctx, actor, scope, taskID)
	if err != nil {
		return nil, err
	}
	tenant, err := s.tenant(ctx, actor)
	if err != nil {
		return nil, err
	}

	before := cascade.ParentsOf(task)
	if err := s.applyTaskFields(ctx, actor, scope, task, patch); err != nil {
		return nil, err
	}
	if err := placeable(scope, task.ProjectID); err != nil {
		return nil, err
	}

	now := s.now()
	cascade.ResolveClosure(task, tenant.DoneColumnID, now)
	task.UpdatedAt = now
	if err := s.tasks.Update(ctx, task); err != nil {
		return nil, fmt.Errorf("タスクの更新に失敗しました: %w", err)
	}

	res := s.cascade.OnTaskMutated(ctx, actor, task.ID)
	logCascade(actor, task.ID, res)
	result := &TaskResult{Task: task, Transitions: res.Transitions}

	var left cascade.Parents
	if !sameRef(before.FeatureID, task.FeatureID) {
		left.FeatureID = before.FeatureID
	}
	if !sameRef(before.EpicID, task.EpicID) {
		left.EpicID = before.EpicID
	}
	if left.FeatureID != nil || left.EpicID != nil {
		res := s.cascade.Reconcile(ctx, actor, left)
		logCascade(actor, task.ID, res)
		result.Transitions = append(result.Transitions, res.Transitions...)
	}

	s.audit.Record(ctx, audit.Event{
		TenantID:   actor.TenantID,
		EntityType: model.EntityTask,
		EntityID:   task.ID,
		UserID:     actor.UserID,
		Action:     model.AuditActionUpdate,
		Changes:    patch,
	})
	return result, nil
}

// DeleteTask はタスクを削除する。superadminとadminのみが実行できる。
// 削除後に元の親フィーチャーとエピックを再評価する。
func (s *Service) DeleteTask(ctx context.Context, actor model.Principal, taskID string) error {
	if err := access.RequireRole(actor.Role, access.AdminRoles...); err != nil {
		return err
	}
	scope, err := s.scopes.VisibleProjects(ctx, actor)
	if err != nil {
		return err
	}
	task, err := s.visibleTask(ctx, actor, scope, taskID)
	if err != nil {
		return err
	}

	deleted, err := s.tasks.DeleteInTenant(ctx, actor.TenantID, taskID)
	if err != nil {
		return fmt.Errorf("タスクの削除に失敗しました: %w", err)
	}
	if !deleted {
		return model.NewNotFoundError("タスク")
	}

	logCascade(actor, taskID, s.cascade.Reconcile(ctx, actor, cascade.ParentsOf(task)))

	s.audit.Record(ctx, audit.Event{
		TenantID:   actor.TenantID,
		EntityType: model.EntityTask,
		EntityID:   taskID,
		UserID:     actor.UserID,
		Action:     model.AuditActionDelete,
		Changes:    audit.Changes("title", task.Title),
	})
	return nil
}

func (s *Service) tenant(ctx context.Context, actor model.Principal) (*model.Tenant, error) {
	t, err := s.tenants.FindByID(ctx, actor.TenantID)
	if err != nil {
		return nil, fmt.Errorf("テナントの取得に失敗しました: %w", err)
	}
	if t == nil {
		return nil, model.NewNotFoundError("テナント")
	}
	return t, nil
}

// applyTaskFields は許可されたフィールドのみをタスクに反映する。
// 参照先は同じテナントかつ参照可能なものに限る。
func (s *Service) applyTaskFields(ctx context.Context, actor model.Principal, scope access.Scope, task *model.Task, fields model.Changes) error {
	var (
		feature    *model.Feature
		epic       *model.Epic
		project    *string
		projectSet bool
	)

	for _, ch := range fields {
		switch ch.Field {
		case "title":
			v, err := decodeString(ch.Field, ch.Value)
			if err != nil {
				return err
			}
			task.Title = s.sanitizer.PlainText(strings.TrimSpace(v))
			if task.Title == "" {
				return model.NewValidationError("タイトルは必須です")
			}
		case "description":
			v, err := decodeString(ch.Field, ch.Value)
			if err != nil {
				return err
			}
			task.Description = s.sanitizer.RichText(v)
		case "status":
			v, err := decodeString(ch.Field, ch.Value)
			if err != nil {
				return err
			}
			status, err := model.ParseTaskStatus(v)
			if err != nil {
				return model.NewValidationError(err.Error())
			}
			task.Status = status
		case "type":
			v, err := decodeString(ch.Field, ch.Value)
			if err != nil {
				return err
			}
			typ, err := model.ParseTaskType(v)
			if err != nil {
				return model.NewValidationError(err.Error())
			}
			task.Type = typ
		case "priority":
			v, err := decodeString(ch.Field, ch.Value)
			if err != nil {
				return err
			}
			p, err := model.ParsePriority(v)
			if err != nil {
				return model.NewValidationError(err.Error())
			}
			task.Priority = p
		case "column_id":
			id, err := decodeOptionalString(ch.Field, ch.Value)
			if err != nil {
				return err
			}
			if err := s.requireColumn(ctx, actor, id); err != nil {
				return err
			}
			task.ColumnID = id
		case "assignee_id":
			id, err := decodeOptionalString(ch.Field, ch.Value)
			if err != nil {
				return err
			}
			if err := s.requireUser(ctx, actor, id); err != nil {
				return err
			}
			task.AssigneeID = id
		case "sprint_id":
			id, err := decodeOptionalString(ch.Field, ch.Value)
			if err != nil {
				return err
			}
			if id != nil {
				sp, err := s.sprints.FindInTenant(ctx, actor.TenantID, *id)
				if err != nil {
					return fmt.Errorf("スプリントの取得に失敗しました: %w", err)
				}
				if sp == nil || !scope.AllowsOptional(sp.ProjectID) {
					return model.NewNotFoundError("スプリント")
				}
			}
			task.SprintID = id
		case "feature_id":
			id, err := decodeOptionalString(ch.Field, ch.Value)
			if err != nil {
				return err
			}
			feature = nil
			if id != nil {
				f, err := s.features.FindInTenant(ctx, actor.TenantID, *id)
				if err != nil {
					return fmt.Errorf("フィーチャーの取得に失敗しました: %w", err)
				}
				if f == nil || !strictlyVisible(scope, f.ProjectID) {
					return model.NewNotFoundError("フィーチャー")
				}
				feature = f
			}
			task.FeatureID = id
		case "epic_id":
			id, err := decodeOptionalString(ch.Field, ch.Value)
			if err != nil {
				return err
			}
			epic = nil
			if id != nil {
				e, err := s.epics.FindInTenant(ctx, actor.TenantID, *id)
				if err != nil {
					return fmt.Errorf("エピックの取得に失敗しました: %w", err)
				}
				if e == nil || !scope.AllowsOptional(e.ProjectID) {
					return model.NewNotFoundError("エピック")
				}
				epic = e
			}
			task.EpicID = id
		case "parent_id":
			id, err := decodeOptionalString(ch.Field, ch.Value)
			if err != nil {
				return err
			}
			if id != nil {
				if *id == task.ID {
					return model.NewValidationError("タスク自身を親にはできません")
				}
				if _, err := s.visibleTask(ctx, actor, scope, *id); err != nil {
					return err
				}
			}
			task.ParentID = id
		case "project_id":
			id, err := decodeOptionalString(ch.Field, ch.Value)
			if err != nil {
				return err
			}
			pid, err := s.resolveProject(ctx, actor, scope, derefOr(id))
			if err != nil {
				return err
			}
			project, projectSet = pid, true
		case "story_points":
			n, err := decodeOptionalInt(ch.Field, ch.Value)
			if err != nil {
				return err
			}
			task.StoryPoints = n
		case "estimated_hours":
			h, err := decodeOptionalFloat(ch.Field, ch.Value)
			if err != nil {
				return err
			}
			task.EstimatedHours = h
		case "due_date":
			d, err := decodeOptionalDate(ch.Field, ch.Value)
			if err != nil {
				return err
			}
			task.DueDate = d
		default:
			return model.NewValidationError(fmt.Sprintf("更新できないフィールドです: %s", ch.Field))
		}
	}

	switch {
	case task.FeatureID != nil:
		if feature != nil {
			task.ProjectID = feature.ProjectID
		}
	case epic != nil:
		task.ProjectID = epic.ProjectID
	case projectSet:
		task.ProjectID = project
	}
	return nil
}

func (s *Service) requireColumn(ctx context.Context, actor model.Principal, columnID *string) error {
	if columnID == nil {
		return nil
	}
	cols, err := s.tenants.ListColumns(ctx, actor.TenantID)
	if err != nil {
		return fmt.Errorf("ボード列の取得に失敗しました: %w", err)
	}
	for _, c := range cols {
		if c.ID == *columnID {
			return nil
		}
	}
	return model.NewNotFoundError("ボード列")
}

func derefOr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
