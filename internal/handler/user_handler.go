package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/agileflow/internal/invitation"
	"github.com/hitoshi/agileflow/internal/model"
	"github.com/hitoshi/agileflow/internal/user"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	List(ctx context.Context, actor model.Principal, projectID string) ([]*model.User, error)
	Create(ctx context.Context, actor model.Principal, in user.CreateInput) (*model.User, error)
	// Delete はユーザーのリフレッシュトークンを失効させてから削除する。
	Delete(ctx context.Context, actor model.Principal, userID string) error
}

// InvitationServiceInterface は招待ハンドラーが必要とするサービスインターフェース。
type InvitationServiceInterface interface {
	Create(ctx context.Context, actor model.Principal, in invitation.CreateInput) (*model.Invitation, error)
	List(ctx context.Context, actor model.Principal) ([]*model.Invitation, error)
}

// UserHandler はユーザー管理と招待のHTTPハンドラー。
type UserHandler struct {
	users       UserServiceInterface
	invitations InvitationServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(users UserServiceInterface, invitations InvitationServiceInterface) *UserHandler {
	return &UserHandler{users: users, invitations: invitations}
}

type createUserRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	FullName  string `json:"full_name"`
	Password  string `json:"password"`
	Role      string `json:"role"`
	ProjectID string `json:"project_id"`
}

type createInvitationRequest struct {
	Email     string `json:"email"`
	Role      string `json:"role"`
	ProjectID string `json:"project_id"`
}

// ListUsers は参照できるユーザーを返す。?project_id=で絞り込める。
// GET /api/users
func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOf(w, r)
	if !ok {
		return
	}

	users, err := h.users.List(r.Context(), p, r.URL.Query().Get("project_id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, mapSlice(users, toUserResponse))
}

// CreateUser は管理者がユーザーを直接作成する。
// POST /api/users
func (h *UserHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOf(w, r)
	if !ok {
		return
	}
	var req createUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	created, err := h.users.Create(r.Context(), p, user.CreateInput{
		Username:  req.Username,
		Email:     req.Email,
		FullName:  req.FullName,
		Password:  req.Password,
		Role:      req.Role,
		ProjectID: req.ProjectID,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toUserResponse(created))
}

// DeleteUser はユーザーを削除する。
// DELETE /api/users/{id}
func (h *UserHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOf(w, r)
	if !ok {
		return
	}
	userID, ok := pathID(w, r, "id", "ユーザー")
	if !ok {
		return
	}

	if err := h.users.Delete(r.Context(), p, userID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListInvitations はテナントの招待を返す。
// GET /api/invitations
func (h *UserHandler) ListInvitations(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOf(w, r)
	if !ok {
		return
	}

	invites, err := h.invitations.List(r.Context(), p)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, mapSlice(invites, toInvitationResponse))
}

// CreateInvitation は招待を発行する。
// POST /api/invitations
func (h *UserHandler) CreateInvitation(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOf(w, r)
	if !ok {
		return
	}
	var req createInvitationRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	inv, err := h.invitations.Create(r.Context(), p, invitation.CreateInput{
		Email:     req.Email,
		Role:      req.Role,
		ProjectID: req.ProjectID,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toInvitationResponse(inv))
}
