package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/agileflow/internal/model"
	"github.com/hitoshi/agileflow/internal/workitem"
)

// WorkItemServiceInterface は作業項目ハンドラーが必要とするサービスインターフェース。
type WorkItemServiceInterface interface {
	ListTasks(ctx context.Context, actor model.Principal) ([]*model.Task, error)
	CreateTask(ctx context.Context, actor model.Principal, fields model.Changes) (*workitem.TaskResult, error)
	UpdateTask(ctx context.Context, actor model.Principal, taskID string, patch model.Changes) (*workitem.TaskResult, error)
	DeleteTask(ctx context.Context, actor model.Principal, taskID string) error

	ListEpics(ctx context.Context, actor model.Principal) ([]*model.Epic, error)
	CreateEpic(ctx context.Context, actor model.Principal, in workitem.EpicInput) (*model.Epic, error)
	DeleteEpic(ctx context.Context, actor model.Principal, epicID string) error

	ListFeatures(ctx context.Context, actor model.Principal) ([]*model.Feature, error)
	CreateFeature(ctx context.Context, actor model.Principal, in workitem.FeatureInput) (*model.Feature, error)
	DeleteFeature(ctx context.Context, actor model.Principal, featureID string) error

	ListSprints(ctx context.Context, actor model.Principal) ([]*model.Sprint, error)
	CreateSprint(ctx context.Context, actor model.Principal, in workitem.SprintInput) (*model.Sprint, error)
	DeleteSprint(ctx context.Context, actor model.Principal, sprintID string) error

	ListComments(ctx context.Context, actor model.Principal, taskID string) ([]*model.Comment, error)
	AddComment(ctx context.Context, actor model.Principal, taskID, content string) (*model.Comment, error)
	ListAttachments(ctx context.Context, actor model.Principal, taskID string) ([]*model.Attachment, error)
	AddAttachment(ctx context.Context, actor model.Principal, in workitem.AttachmentInput) (*model.Attachment, error)
}

// WorkItemHandler はタスク・エピック・フィーチャー・スプリントとコメント類のHTTPハンドラー。
type WorkItemHandler struct {
	service WorkItemServiceInterface
}

// NewWorkItemHandler はWorkItemHandlerを生成する。
func NewWorkItemHandler(service WorkItemServiceInterface) *WorkItemHandler {
	return &WorkItemHandler{service: service}
}

type createEpicRequest struct {
	ProjectID   string `json:"project_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
	OwnerID     string `json:"owner_id"`
}

type createFeatureRequest struct {
	EpicID      string `json:"epic_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

type createSprintRequest struct {
	ProjectID      string `json:"project_id"`
	Name           string `json:"name"`
	Goal           string `json:"goal"`
	StartDate      string `json:"start_date"`
	EndDate        string `json:"end_date"`
	Status         string `json:"status"`
	TargetCapacity *int   `json:"target_capacity"`
}

type createCommentRequest struct {
	TaskID  string `json:"task_id"`
	Content string `json:"content"`
}

type createAttachmentRequest struct {
	TaskID string `json:"task_id"`
	Name   string `json:"name"`
	URL    string `json:"url"`
	Type   string `json:"type"`
}

// --- タスク ---

// ListTasks は参照できるタスクを返す。
// GET /api/tasks
func (h *WorkItemHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOf(w, r)
	if !ok {
		return
	}

	tasks, err := h.service.ListTasks(r.Context(), p)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, mapSlice(tasks, toTaskResponse))
}

// CreateTask はタスクを作成する。ボディはフィールド名と値のJSONオブジェクト。
// POST /api/tasks
func (h *WorkItemHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOf(w, r)
	if !ok {
		return
	}
	var fields model.Changes
	if !decodeJSON(w, r, &fields) {
		return
	}

	res, err := h.service.CreateTask(r.Context(), p, fields)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toTaskResultResponse(res))
}

// UpdateTask はタスクを部分更新する。変更できるフィールドは許可リストで制限される。
// PATCH /api/tasks/{id}
func (h *WorkItemHandler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOf(w, r)
	if !ok {
		return
	}
	taskID, ok := pathID(w, r, "id", "タスク")
	if !ok {
		return
	}
	var patch model.Changes
	if !decodeJSON(w, r, &patch) {
		return
	}

	res, err := h.service.UpdateTask(r.Context(), p, taskID, patch)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toTaskResultResponse(res))
}

// DeleteTask はタスクを削除する。
// DELETE /api/tasks/{id}
func (h *WorkItemHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	h.deleteByID(w, r, "タスク", h.service.DeleteTask)
}

// --- エピック ---

// ListEpics は参照できるエピックを返す。
// GET /api/epics
func (h *WorkItemHandler) ListEpics(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOf(w, r)
	if !ok {
		return
	}

	epics, err := h.service.ListEpics(r.Context(), p)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, mapSlice(epics, toEpicResponse))
}

// CreateEpic はエピックを作成する。
// POST /api/epics
func (h *WorkItemHandler) CreateEpic(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOf(w, r)
	if !ok {
		return
	}
	var req createEpicRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	epic, err := h.service.CreateEpic(r.Context(), p, workitem.EpicInput{
		ProjectID:   req.ProjectID,
		Title:       req.Title,
		Description: req.Description,
		Status:      req.Status,
		OwnerID:     req.OwnerID,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toEpicResponse(epic))
}

// DeleteEpic はエピックを削除する。
// DELETE /api/epics/{id}
func (h *WorkItemHandler) DeleteEpic(w http.ResponseWriter, r *http.Request) {
	h.deleteByID(w, r, "エピック", h.service.DeleteEpic)
}

// --- フィーチャー ---

// ListFeatures は参照できるフィーチャーを返す。
// GET /api/features
func (h *WorkItemHandler) ListFeatures(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOf(w, r)
	if !ok {
		return
	}

	features, err := h.service.ListFeatures(r.Context(), p)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, mapSlice(features, toFeatureResponse))
}

// CreateFeature はフィーチャーを作成する。
// POST /api/features
func (h *WorkItemHandler) CreateFeature(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOf(w, r)
	if !ok {
		return
	}
	var req createFeatureRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	feature, err := h.service.CreateFeature(r.Context(), p, workitem.FeatureInput{
		EpicID:      req.EpicID,
		Title:       req.Title,
		Description: req.Description,
		Status:      req.Status,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toFeatureResponse(feature))
}

// DeleteFeature はフィーチャーを削除する。
// DELETE /api/features/{id}
func (h *WorkItemHandler) DeleteFeature(w http.ResponseWriter, r *http.Request) {
	h.deleteByID(w, r, "フィーチャー", h.service.DeleteFeature)
}

// --- スプリント ---

// ListSprints は参照できるスプリントを返す。
// GET /api/sprints
func (h *WorkItemHandler) ListSprints(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOf(w, r)
	if !ok {
		return
	}

	sprints, err := h.service.ListSprints(r.Context(), p)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, mapSlice(sprints, toSprintResponse))
}

// CreateSprint はスプリントを作成する。
// POST /api/sprints
func (h *WorkItemHandler) CreateSprint(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOf(w, r)
	if !ok {
		return
	}
	var req createSprintRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	sprint, err := h.service.CreateSprint(r.Context(), p, workitem.SprintInput{
		ProjectID:      req.ProjectID,
		Name:           req.Name,
		Goal:           req.Goal,
		StartDate:      req.StartDate,
		EndDate:        req.EndDate,
		Status:         req.Status,
		TargetCapacity: req.TargetCapacity,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toSprintResponse(sprint))
}

// DeleteSprint はスプリントを削除する。
// DELETE /api/sprints/{id}
func (h *WorkItemHandler) DeleteSprint(w http.ResponseWriter, r *http.Request) {
	h.deleteByID(w, r, "スプリント", h.service.DeleteSprint)
}

// --- コメント・添付 ---

// ListComments はタスクのコメントを返す。
// GET /api/tasks/{id}/comments
func (h *WorkItemHandler) ListComments(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOf(w, r)
	if !ok {
		return
	}
	taskID, ok := pathID(w, r, "id", "タスク")
	if !ok {
		return
	}

	comments, err := h.service.ListComments(r.Context(), p, taskID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, mapSlice(comments, toCommentResponse))
}

// CreateComment はタスクにコメントを追加する。
// POST /api/comments
func (h *WorkItemHandler) CreateComment(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOf(w, r)
	if !ok {
		return
	}
	var req createCommentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	comment, err := h.service.AddComment(r.Context(), p, req.TaskID, req.Content)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toCommentResponse(comment))
}

// ListAttachments はタスクの添付を返す。
// GET /api/tasks/{id}/attachments
func (h *WorkItemHandler) ListAttachments(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOf(w, r)
	if !ok {
		return
	}
	taskID, ok := pathID(w, r, "id", "タスク")
	if !ok {
		return
	}

	attachments, err := h.service.ListAttachments(r.Context(), p, taskID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, mapSlice(attachments, toAttachmentResponse))
}

// CreateAttachment はタスクに外部ファイルへのリンクを追加する。
// POST /api/attachments
func (h *WorkItemHandler) CreateAttachment(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOf(w, r)
	if !ok {
		return
	}
	var req createAttachmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	attachment, err := h.service.AddAttachment(r.Context(), p, workitem.AttachmentInput{
		TaskID: req.TaskID,
		Name:   req.Name,
		URL:    req.URL,
		Type:   req.Type,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAttachmentResponse(attachment))
}

// deleteByID はパスの{id}を検証して削除処理を呼び出し、成功時に204を返す。
func (h *WorkItemHandler) deleteByID(w http.ResponseWriter, r *http.Request, entity string,
	del func(ctx context.Context, actor model.Principal, id string) error) {
	p, ok := principalOf(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id", entity)
	if !ok {
		return
	}

	if err := del(r.Context(), p, id); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
