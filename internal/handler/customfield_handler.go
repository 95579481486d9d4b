package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/hitoshi/agileflow/internal/customfield"
	"github.com/hitoshi/agileflow/internal/model"
)

// CustomFieldServiceInterface はカスタムフィールドハンドラーが必要とするサービスインターフェース。
type CustomFieldServiceInterface interface {
	ListDefinitions(ctx context.Context, actor model.Principal, entityType string) ([]*model.CustomFieldDefinition, error)
	CreateDefinition(ctx context.Context, actor model.Principal, in customfield.DefinitionInput) (*model.CustomFieldDefinition, error)
	DeleteDefinition(ctx context.Context, actor model.Principal, id string) error
	ListValues(ctx context.Context, actor model.Principal, entityID string) ([]*model.CustomFieldValue, error)
	SetValue(ctx context.Context, actor model.Principal, definitionID, entityID string, raw json.RawMessage) (*model.CustomFieldValue, error)
}

// CustomFieldHandler はカスタムフィールドの定義と値のHTTPハンドラー。
type CustomFieldHandler struct {
	service CustomFieldServiceInterface
}

// NewCustomFieldHandler はCustomFieldHandlerを生成する。
func NewCustomFieldHandler(service CustomFieldServiceInterface) *CustomFieldHandler {
	return &CustomFieldHandler{service: service}
}

type createDefinitionRequest struct {
	EntityType string   `json:"entity_type"`
	Name       string   `json:"name"`
	FieldType  string   `json:"field_type"`
	Options    []string `json:"options"`
	Required   bool     `json:"required"`
}

type setValueRequest struct {
	DefinitionID string          `json:"definition_id"`
	EntityID     string          `json:"entity_id"`
	Value        json.RawMessage `json:"value"`
}

// ListDefinitions はカスタムフィールド定義を返す。?entity_type=で絞り込める。
// GET /api/custom-fields/definitions
func (h *CustomFieldHandler) ListDefinitions(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOf(w, r)
	if !ok {
		return
	}

	defs, err := h.service.ListDefinitions(r.Context(), p, r.URL.Query().Get("entity_type"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, mapSlice(defs, toDefinitionResponse))
}

// CreateDefinition はカスタムフィールド定義を作成する。
// POST /api/custom-fields/definitions
func (h *CustomFieldHandler) CreateDefinition(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOf(w, r)
	if !ok {
		return
	}
	var req createDefinitionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	def, err := h.service.CreateDefinition(r.Context(), p, customfield.DefinitionInput{
		EntityType: req.EntityType,
		Name:       req.Name,
		FieldType:  req.FieldType,
		Options:    req.Options,
		Required:   req.Required,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toDefinitionResponse(def))
}

// DeleteDefinition はカスタムフィールド定義と、その値を削除する。
// DELETE /api/custom-fields/definitions/{id}
func (h *CustomFieldHandler) DeleteDefinition(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOf(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id", "カスタムフィールド")
	if !ok {
		return
	}

	if err := h.service.DeleteDefinition(r.Context(), p, id); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListValues はエンティティのカスタムフィールド値を返す。
// GET /api/custom-fields/values/{entityId}
func (h *CustomFieldHandler) ListValues(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOf(w, r)
	if !ok {
		return
	}
	entityID, ok := pathID(w, r, "entityId", "エンティティ")
	if !ok {
		return
	}

	values, err := h.service.ListValues(r.Context(), p, entityID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, mapSlice(values, toValueResponse))
}

// SetValue はカスタムフィールド値を設定する。同じ定義とエンティティの値は上書きする。
// POST /api/custom-fields/values
func (h *CustomFieldHandler) SetValue(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOf(w, r)
	if !ok {
		return
	}
	var req setValueRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if _, err := uuid.Parse(req.EntityID); req.EntityID != "" && err != nil {
		handleServiceError(w, model.NewValidationError("entity_idが不正です"))
		return
	}

	value, err := h.service.SetValue(r.Context(), p, req.DefinitionID, req.EntityID, req.Value)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toValueResponse(value))
}
