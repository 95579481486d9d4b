package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/agileflow/internal/model"
	"github.com/hitoshi/agileflow/internal/testmgmt"
)

// TestManagementServiceInterface はテスト管理ハンドラーが必要とするサービスインターフェース。
type TestManagementServiceInterface interface {
	ListSuites(ctx context.Context, actor model.Principal) ([]*model.TestSuite, error)
	CreateSuite(ctx context.Context, actor model.Principal, in testmgmt.SuiteInput) (*model.TestSuite, error)
	ListCases(ctx context.Context, actor model.Principal, suiteID string) ([]*model.TestCase, error)
	CreateCase(ctx context.Context, actor model.Principal, in testmgmt.CaseInput) (*model.TestCase, error)
	UpdateCase(ctx context.Context, actor model.Principal, caseID string, upd testmgmt.CaseUpdate) (*model.TestCase, error)
}

// TestManagementHandler はテストスイートとテストケースのHTTPハンドラー。
type TestManagementHandler struct {
	service TestManagementServiceInterface
}

// NewTestManagementHandler はTestManagementHandlerを生成する。
func NewTestManagementHandler(service TestManagementServiceInterface) *TestManagementHandler {
	return &TestManagementHandler{service: service}
}

type createSuiteRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type createCaseRequest struct {
	SuiteID        string `json:"suite_id"`
	Title          string `json:"title"`
	Steps          string `json:"steps"`
	ExpectedResult string `json:"expected_result"`
}

type updateCaseRequest struct {
	Title          *string `json:"title"`
	Steps          *string `json:"steps"`
	ExpectedResult *string `json:"expected_result"`
	ActualResult   *string `json:"actual_result"`
	Status         *string `json:"status"`
}

// ListSuites はテナントのテストスイートを返す。
// GET /api/test-suites
func (h *TestManagementHandler) ListSuites(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOf(w, r)
	if !ok {
		return
	}

	suites, err := h.service.ListSuites(r.Context(), p)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, mapSlice(suites, toSuiteResponse))
}

// CreateSuite はテストスイートを作成する。
// POST /api/test-suites
func (h *TestManagementHandler) CreateSuite(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOf(w, r)
	if !ok {
		return
	}
	var req createSuiteRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	suite, err := h.service.CreateSuite(r.Context(), p, testmgmt.SuiteInput{Name: req.Name, Description: req.Description})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toSuiteResponse(suite))
}

// ListCases はスイートのテストケースを返す。
// GET /api/test-cases/{id}（idはスイートID）
func (h *TestManagementHandler) ListCases(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOf(w, r)
	if !ok {
		return
	}
	suiteID, ok := pathID(w, r, "id", "テストスイート")
	if !ok {
		return
	}

	cases, err := h.service.ListCases(r.Context(), p, suiteID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, mapSlice(cases, toCaseResponse))
}

// CreateCase はテストケースを作成する。
// POST /api/test-cases
func (h *TestManagementHandler) CreateCase(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOf(w, r)
	if !ok {
		return
	}
	var req createCaseRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	tc, err := h.service.CreateCase(r.Context(), p, testmgmt.CaseInput{
		SuiteID:        req.SuiteID,
		Title:          req.Title,
		Steps:          req.Steps,
		ExpectedResult: req.ExpectedResult,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toCaseResponse(tc))
}

// UpdateCase はテストケースの内容または実行結果を更新する。
// PATCH /api/test-cases/{id}
func (h *TestManagementHandler) UpdateCase(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOf(w, r)
	if !ok {
		return
	}
	caseID, ok := pathID(w, r, "id", "テストケース")
	if !ok {
		return
	}
	var req updateCaseRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	tc, err := h.service.UpdateCase(r.Context(), p, caseID, testmgmt.CaseUpdate{
		Title:          req.Title,
		Steps:          req.Steps,
		ExpectedResult: req.ExpectedResult,
		ActualResult:   req.ActualResult,
		Status:         req.Status,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toCaseResponse(tc))
}
