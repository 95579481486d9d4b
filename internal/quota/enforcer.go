// Package quota はテナントのプラン上限の判定を提供する。
//
// Checkは作成前の早期判定で、同時作成に対しては確定的ではない。
// プロジェクトとユーザーの作成はリポジトリのCreateWithinLimitがテナント行をロックして再判定する。
package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/agileflow/internal/metrics"
	"github.com/hitoshi/agileflow/internal/model"
	"github.com/hitoshi/agileflow/internal/repository"
)

// Store は上限判定に必要なテナント参照とカウントのインターフェース。
type Store interface {
	FindByID(ctx context.Context, id string) (*model.Tenant, error)
	CountResources(ctx context.Context, tenantID string, resource model.Resource) (int, error)
}

// Checker はサービス層から利用する上限判定のインターフェース。
type Checker interface {
	Check(ctx context.Context, tenantID string, resource model.Resource) error
	Translate(err error, tenantID string, resource model.Resource) error
}

// Enforcer はテナントのプラン上限を判定する。
type Enforcer struct {
	store   Store
	metrics metrics.MetricsCollector
}

// NewEnforcer はEnforcerを生成する。
func NewEnforcer(store Store, mc metrics.MetricsCollector) *Enforcer {
	if mc == nil {
		mc = metrics.NopCollector{}
	}
	return &Enforcer{store: store, metrics: mc}
}

// Allow はリソースをもう1つ作成できるかどうかを返す。
// 上限がUnlimitedの場合はカウントせずにtrueを返す。
func (e *Enforcer) Allow(ctx context.Context, tenantID string, resource model.Resource) (bool, error) {
	tenant, err := e.store.FindByID(ctx, tenantID)
	if err != nil {
		return false, fmt.Errorf("テナントの取得に失敗しました: %w", err)
	}
	if tenant == nil {
		return false, model.NewNotFoundError("テナント")
	}

	limit, err := tenant.LimitFor(resource)
	if err != nil {
		return false, err
	}
	if limit == model.Unlimited {
		return true, nil
	}

	count, err := e.store.CountResources(ctx, tenantID, resource)
	if err != nil {
		return false, fmt.Errorf("リソース数の取得に失敗しました: %w", err)
	}
	return model.WithinLimit(count, limit), nil
}

// Check は上限に達している場合にQuotaExceededエラーを返す。
func (e *Enforcer) Check(ctx context.Context, tenantID string, resource model.Resource) error {
	ok, err := e.Allow(ctx, tenantID, resource)
	if err != nil {
		return err
	}
	if !ok {
		return e.Rejected(tenantID, resource)
	}
	return nil
}

// Rejected は上限超過を記録してQuotaExceededエラーを返す。
func (e *Enforcer) Rejected(tenantID string, resource model.Resource) error {
	e.metrics.RecordQuotaRejection(string(resource))
	slog.Info("quota exceeded",
		slog.String("tenant_id", tenantID),
		slog.String("resource", string(resource)),
	)
	return model.NewQuotaExceededError(resource)
}

// Translate はCreateWithinLimitが返したErrQuotaExceededをQuotaExceededエラーに変換する。
// それ以外のエラーはそのまま返す。
func (e *Enforcer) Translate(err error, tenantID string, resource model.Resource) error {
	if errors.Is(err, repository.ErrQuotaExceeded) {
		return e.Rejected(tenantID, resource)
	}
	return err
}

// compile-time interface check
var _ Checker = (*Enforcer)(nil)
