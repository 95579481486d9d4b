package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/agileflow/internal/model"
	"github.com/hitoshi/agileflow/internal/project"
)

// ProjectServiceInterface はプロジェクトハンドラーが必要とするサービスインターフェース。
type ProjectServiceInterface interface {
	List(ctx context.Context, actor model.Principal) ([]*model.Project, error)
	Create(ctx context.Context, actor model.Principal, in project.CreateInput) (*model.Project, error)
	Delete(ctx context.Context, actor model.Principal, projectID string) error
	ListMembers(ctx context.Context, actor model.Principal, projectID string) ([]*model.ProjectMember, error)
	AddMember(ctx context.Context, actor model.Principal, projectID, userID, role string) (*model.ProjectMember, error)
	RemoveMember(ctx context.Context, actor model.Principal, projectID, userID string) error
}

// ProjectHandler はプロジェクトとメンバーシップのHTTPハンドラー。
type ProjectHandler struct {
	service ProjectServiceInterface
}

// NewProjectHandler はProjectHandlerを生成する。
func NewProjectHandler(service ProjectServiceInterface) *ProjectHandler {
	return &ProjectHandler{service: service}
}

type createProjectRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	AdminIDs    []string `json:"admin_ids"`
}

type addMemberRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// ListProjects は参照できるプロジェクトを返す。
// GET /api/projects
func (h *ProjectHandler) ListProjects(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOf(w, r)
	if !ok {
		return
	}

	projects, err := h.service.List(r.Context(), p)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, mapSlice(projects, toProjectResponse))
}

// CreateProject はプロジェクトを作成する。
// POST /api/projects
func (h *ProjectHandler) CreateProject(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOf(w, r)
	if !ok {
		return
	}
	var req createProjectRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	created, err := h.service.Create(r.Context(), p, project.CreateInput{
		Name:        req.Name,
		Description: req.Description,
		AdminIDs:    req.AdminIDs,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toProjectResponse(created))
}

// DeleteProject はプロジェクトを削除する。
// DELETE /api/projects/{id}
func (h *ProjectHandler) DeleteProject(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOf(w, r)
	if !ok {
		return
	}
	projectID, ok := pathID(w, r, "id", "プロジェクト")
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), p, projectID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListMembers はプロジェクトのメンバーを返す。
// GET /api/projects/{id}/members
func (h *ProjectHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOf(w, r)
	if !ok {
		return
	}
	projectID, ok := pathID(w, r, "id", "プロジェクト")
	if !ok {
		return
	}

	members, err := h.service.ListMembers(r.Context(), p, projectID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, mapSlice(members, toMemberResponse))
}

// AddMember はプロジェクトにメンバーを追加する。
// POST /api/projects/{id}/members
func (h *ProjectHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOf(w, r)
	if !ok {
		return
	}
	projectID, ok := pathID(w, r, "id", "プロジェクト")
	if !ok {
		return
	}
	var req addMemberRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	member, err := h.service.AddMember(r.Context(), p, projectID, req.UserID, req.Role)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toMemberResponse(member))
}

// RemoveMember はプロジェクトからメンバーを外す。
// DELETE /api/projects/{id}/members/{userId}
func (h *ProjectHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOf(w, r)
	if !ok {
		return
	}
	projectID, ok := pathID(w, r, "id", "プロジェクト")
	if !ok {
		return
	}
	userID, ok := pathID(w, r, "userId", "ユーザー")
	if !ok {
		return
	}

	if err := h.service.RemoveMember(r.Context(), p, projectID, userID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
