package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/agileflow/internal/model"
	"github.com/hitoshi/agileflow/internal/tenant"
)

// TenantServiceInterface はテナントハンドラーが必要とするサービスインターフェース。
type TenantServiceInterface interface {
	Get(ctx context.Context, actor model.Principal) (*model.Tenant, error)
	Plans() []model.Plan
	Current(ctx context.Context, actor model.Principal) (*tenant.Billing, error)
	Columns(ctx context.Context, actor model.Principal) ([]*model.Column, error)
}

// TenantHandler はワークスペース情報・プラン・ボード列のHTTPハンドラー。
type TenantHandler struct {
	service TenantServiceInterface
}

// NewTenantHandler はTenantHandlerを生成する。
func NewTenantHandler(service TenantServiceInterface) *TenantHandler {
	return &TenantHandler{service: service}
}

// GetTenant は呼び出し元のテナントを返す。
// GET /api/tenant
func (h *TenantHandler) GetTenant(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOf(w, r)
	if !ok {
		return
	}

	t, err := h.service.Get(r.Context(), p)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toTenantResponse(t))
}

// ListPlans は提供中のプラン一覧を返す。
// GET /api/billing/plans
func (h *TenantHandler) ListPlans(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Plans())
}

// CurrentBilling は現在のプランと利用状況を返す。
// GET /api/billing/current
func (h *TenantHandler) CurrentBilling(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOf(w, r)
	if !ok {
		return
	}

	b, err := h.service.Current(r.Context(), p)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toBillingResponse(b))
}

// ListColumns はテナントのボード列を表示順に返す。
// GET /api/columns
func (h *TenantHandler) ListColumns(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOf(w, r)
	if !ok {
		return
	}

	cols, err := h.service.Columns(r.Context(), p)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if cols == nil {
		cols = []*model.Column{}
	}

	writeJSON(w, http.StatusOK, cols)
}
