package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/agileflow/internal/model"
)

// AuditLogReader は監査ログハンドラーが必要とする参照インターフェース。
type AuditLogReader interface {
	ListByEntity(ctx context.Context, tenantID, entityType, entityID string) ([]*model.AuditLogEntry, error)
}

// AuditHandler は監査ログ参照のHTTPハンドラー。
type AuditHandler struct {
	reader AuditLogReader
}

// NewAuditHandler はAuditHandlerを生成する。
func NewAuditHandler(reader AuditLogReader) *AuditHandler {
	return &AuditHandler{reader: reader}
}

// ListByEntity はエンティティの変更履歴を記録順に返す。
// 参照は呼び出し元のテナント内に限られる。
// GET /api/audit-logs/{entityType}/{entityId}
func (h *AuditHandler) ListByEntity(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOf(w, r)
	if !ok {
		return
	}
	entityID, ok := pathID(w, r, "entityId", "エンティティ")
	if !ok {
		return
	}

	entries, err := h.reader.ListByEntity(r.Context(), p.TenantID, chi.URLParam(r, "entityType"), entityID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, mapSlice(entries, toAuditLogResponse))
}
