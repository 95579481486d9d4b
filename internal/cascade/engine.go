// Package cascade はタスク更新後にフィーチャーとエピックへ状態を伝播させる。
//
// 各書き込みは条件付きで、行が実際に変化した場合のみ監査ログを残す。
// 同じタスクに対して何度実行しても、新たな変化がなければ何も書き込まない。
package cascade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/agileflow/internal/audit"
	"github.com/hitoshi/agileflow/internal/metrics"
	"github.com/hitoshi/agileflow/internal/model"
	"github.com/hitoshi/agileflow/internal/repository"
)

// Transition は連鎖で発生した1件の状態変化。
type Transition struct {
	EntityType string
	EntityID   string
	Field      string
	From       string
	To         string
}

// Result は連鎖処理の結果。Errはストアエラーが発生した分岐のエラーをまとめたもの。
type Result struct {
	Transitions []Transition
	Err         error
}

// Parents はタスクが参照する親の組。
type Parents struct {
	FeatureID *string
	EpicID    *string
}

// ParentsOf はタスクの親を返す。
func ParentsOf(task *model.Task) Parents {
	return Parents{FeatureID: task.FeatureID, EpicID: task.EpicID}
}

// Engine はライフサイクル連鎖を実行する。
type Engine struct {
	repo    repository.HierarchyRepository
	audit   audit.RecorderInterface
	metrics metrics.MetricsCollector
	now     func() time.Time
}

// NewEngine はEngineを生成する。
func NewEngine(repo repository.HierarchyRepository, rec audit.RecorderInterface, mc metrics.MetricsCollector) *Engine {
	if mc == nil {
		mc = metrics.NopCollector{}
	}
	return &Engine{repo: repo, audit: rec, metrics: mc, now: time.Now}
}

// OnTaskMutated はタスクの更新後に親フィーチャーとエピックを再評価する。
// タスクが既に存在しない場合は何もしない。
func (e *Engine) OnTaskMutated(ctx context.Context, actor model.Principal, taskID string) Result {
	task, err := e.repo.FindTask(ctx, actor.TenantID, taskID)
	if err != nil {
		return Result{Err: fmt.Errorf("タスクの取得に失敗しました: %w", err)}
	}
	if task == nil {
		return Result{}
	}
	return e.Reconcile(ctx, actor, ParentsOf(task))
}

// Reconcile は指定した親を再評価する。
// タスクの移動や削除で親から外れた場合に、元の親の集計を正しく保つために使う。
func (e *Engine) Reconcile(ctx context.Context, actor model.Principal, parents Parents) Result {
	run := &run{engine: e, actor: actor, now: e.now()}

	if id := deref(parents.FeatureID); id != "" {
		run.feature(ctx, id)
	}
	if id := deref(parents.EpicID); id != "" {
		run.progress(ctx, id)
	}

	return Result{Transitions: run.transitions, Err: errors.Join(run.errs...)}
}

// ReconcileEpic はエピック配下のフィーチャー集合が変化した後に完了状態を再評価する。
// フィーチャーの作成や削除の後に使う。
func (e *Engine) ReconcileEpic(ctx context.Context, actor model.Principal, epicID string) Result {
	run := &run{engine: e, actor: actor, now: e.now()}
	if epicID != "" {
		run.epic(ctx, epicID)
	}
	return Result{Transitions: run.transitions, Err: errors.Join(run.errs...)}
}

type run struct {
	engine      *Engine
	actor       model.Principal
	now         time.Time
	transitions []Transition
	errs        []error
}

func (r *run) fail(err error) {
	slog.Error("連鎖処理に失敗しました",
		slog.String("tenant_id", r.actor.TenantID),
		slog.String("error", err.Error()),
	)
	r.errs = append(r.errs, err)
}

func (r *run) record(ctx context.Context, t Transition) {
	r.transitions = append(r.transitions, t)
	label := t.To
	if t.Field != "status" {
		label = t.Field
	}
	r.engine.metrics.RecordCascadeTransition(t.EntityType, label)
	slog.Info("cascade transition",
		slog.String("tenant_id", r.actor.TenantID),
		slog.String("entity_type", t.EntityType),
		slog.String("entity_id", t.EntityID),
		slog.String("field", t.Field),
		slog.String("from", t.From),
		slog.String("to", t.To),
	)
	r.engine.audit.Record(ctx, audit.Event{
		TenantID:   r.actor.TenantID,
		EntityType: t.EntityType,
		EntityID:   t.EntityID,
		UserID:     r.actor.UserID,
		Action:     model.AuditActionUpdate,
		Changes:    audit.Changes(t.Field, t.To, "cascade", true),
	})
}

// feature はフィーチャー配下のタスクがすべて完了していればVerifiedにし、
// Verifiedなのに未完了のタスクがあればIn Progressに戻す。
// 状態が変化した場合は親エピックも再評価する。
func (r *run) feature(ctx context.Context, featureID string) {
	repo := r.engine.repo
	tenantID := r.actor.TenantID

	f, err := repo.FindFeature(ctx, tenantID, featureID)
	if err != nil {
		r.fail(fmt.Errorf("フィーチャーの取得に失敗しました: %w", err))
		return
	}
	if f == nil {
		return
	}

	total, closed, err := repo.CountFeatureTasks(ctx, tenantID, featureID)
	if err != nil {
		r.fail(fmt.Errorf("フィーチャーのタスク集計に失敗しました: %w", err))
		return
	}

	var (
		changed bool
		to      model.FeatureStatus
	)
	switch {
	case total > 0 && total == closed:
		to = model.FeatureStatusVerified
		changed, err = repo.VerifyFeature(ctx, tenantID, featureID, r.now)
	case closed < total && f.Status == model.FeatureStatusVerified:
		to = model.FeatureStatusInProgress
		changed, err = repo.ReopenFeature(ctx, tenantID, featureID, r.now)
	default:
		return
	}
	if err != nil {
		r.fail(fmt.Errorf("フィーチャーの更新に失敗しました: %w", err))
		return
	}
	if !changed {
		return
	}

	r.record(ctx, Transition{
		EntityType: model.EntityFeature,
		EntityID:   featureID,
		Field:      "status",
		From:       string(f.Status),
		To:         string(to),
	})

	if id := deref(f.EpicID); id != "" {
		r.epic(ctx, id)
	}
}

// epic はエピック配下のフィーチャーがすべてVerifiedであればCompletedにし、
// Completedなのに未検証のフィーチャーがあればIn Progressに戻す。
func (r *run) epic(ctx context.Context, epicID string) {
	repo := r.engine.repo
	tenantID := r.actor.TenantID

	ep, err := repo.FindEpic(ctx, tenantID, epicID)
	if err != nil {
		r.fail(fmt.Errorf("エピックの取得に失敗しました: %w", err))
		return
	}
	if ep == nil {
		return
	}

	total, verified, err := repo.CountEpicFeatures(ctx, tenantID, epicID)
	if err != nil {
		r.fail(fmt.Errorf("エピックのフィーチャー集計に失敗しました: %w", err))
		return
	}

	var (
		changed bool
		to      model.EpicStatus
	)
	switch {
	case total > 0 && total == verified:
		to = model.EpicStatusCompleted
		changed, err = repo.CompleteEpic(ctx, tenantID, epicID, r.now)
	case verified < total && ep.Status == model.EpicStatusCompleted:
		to = model.EpicStatusInProgress
		changed, err = repo.ReopenEpic(ctx, tenantID, epicID, r.now)
	default:
		return
	}
	if err != nil {
		r.fail(fmt.Errorf("エピックの更新に失敗しました: %w", err))
		return
	}
	if !changed {
		return
	}

	r.record(ctx, Transition{
		EntityType: model.EntityEpic,
		EntityID:   epicID,
		Field:      "status",
		From:       string(ep.Status),
		To:         string(to),
	})
}

// Progress はDoneのタスク数から進捗率（0〜100）を計算する。丸めは行わない。
func Progress(total, done int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(done) / float64(total) * 100
}

// progress はエピックを直接参照するタスクのstatusから進捗率を再計算する。
// closed_atではなくstatusがDoneかどうかで数える。
func (r *run) progress(ctx context.Context, epicID string) {
	repo := r.engine.repo
	tenantID := r.actor.TenantID

	ep, err := repo.FindEpic(ctx, tenantID, epicID)
	if err != nil {
		r.fail(fmt.Errorf("エピックの取得に失敗しました: %w", err))
		return
	}
	if ep == nil {
		return
	}

	total, done, err := repo.CountEpicTasks(ctx, tenantID, epicID)
	if err != nil {
		r.fail(fmt.Errorf("エピックのタスク集計に失敗しました: %w", err))
		return
	}

	progress := Progress(total, done)
	changed, err := repo.SetEpicProgress(ctx, tenantID, epicID, progress, r.now)
	if err != nil {
		r.fail(fmt.Errorf("エピックの進捗更新に失敗しました: %w", err))
		return
	}
	if !changed {
		return
	}

	r.record(ctx, Transition{
		EntityType: model.EntityEpic,
		EntityID:   epicID,
		Field:      "progress",
		From:       fmt.Sprint(ep.Progress),
		To:         fmt.Sprint(progress),
	})
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
