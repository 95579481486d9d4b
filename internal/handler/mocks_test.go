package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/agileflow/internal/auth"
	"github.com/hitoshi/agileflow/internal/customfield"
	"github.com/hitoshi/agileflow/internal/invitation"
	"github.com/hitoshi/agileflow/internal/middleware"
	"github.com/hitoshi/agileflow/internal/model"
	"github.com/hitoshi/agileflow/internal/project"
	"github.com/hitoshi/agileflow/internal/tenant"
	"github.com/hitoshi/agileflow/internal/testmgmt"
	"github.com/hitoshi/agileflow/internal/user"
	"github.com/hitoshi/agileflow/internal/workitem"
)

const (
	testTaskID = "7b0f6c1e-3d2a-4c55-8f0e-2a9d1f4b6c01"
	testUserID = "0c9d8e7f-6a5b-4c3d-9e2f-1a0b9c8d7e6f"
)

// --- モック定義 ---

type mockAuthService struct {
	registerFn       func(ctx context.Context, in auth.RegisterInput) (*auth.AuthResult, error)
	loginFn          func(ctx context.Context, in auth.LoginInput) (*auth.AuthResult, error)
	refreshFn        func(ctx context.Context, token string) (string, time.Time, error)
	logoutFn         func(ctx context.Context, p model.Principal) error
	acceptFn         func(ctx context.Context, in auth.AcceptInvitationInput) (*auth.AuthResult, error)
	changePasswordFn func(ctx context.Context, actor model.Principal, userID, current, next string) error
	requestResetFn   func(ctx context.Context, email string) error
	resetFn          func(ctx context.Context, token, password string) error
	verifyFn         func(ctx context.Context, token string) error
}

func (m *mockAuthService) Register(ctx context.Context, in auth.RegisterInput) (*auth.AuthResult, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, in)
	}
	return nil, nil
}

func (m *mockAuthService) Login(ctx context.Context, in auth.LoginInput) (*auth.AuthResult, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, in)
	}
	return nil, nil
}

func (m *mockAuthService) Refresh(ctx context.Context, token string) (string, time.Time, error) {
	if m.refreshFn != nil {
		return m.refreshFn(ctx, token)
	}
	return "", time.Time{}, nil
}

func (m *mockAuthService) Logout(ctx context.Context, p model.Principal) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, p)
	}
	return nil
}

func (m *mockAuthService) AcceptInvitation(ctx context.Context, in auth.AcceptInvitationInput) (*auth.AuthResult, error) {
	if m.acceptFn != nil {
		return m.acceptFn(ctx, in)
	}
	return nil, nil
}

func (m *mockAuthService) ChangePassword(ctx context.Context, actor model.Principal, userID, current, next string) error {
	if m.changePasswordFn != nil {
		return m.changePasswordFn(ctx, actor, userID, current, next)
	}
	return nil
}

func (m *mockAuthService) RequestPasswordReset(ctx context.Context, email string) error {
	if m.requestResetFn != nil {
		return m.requestResetFn(ctx, email)
	}
	return nil
}

func (m *mockAuthService) ResetPassword(ctx context.Context, token, password string) error {
	if m.resetFn != nil {
		return m.resetFn(ctx, token, password)
	}
	return nil
}

func (m *mockAuthService) VerifyEmail(ctx context.Context, token string) error {
	if m.verifyFn != nil {
		return m.verifyFn(ctx, token)
	}
	return nil
}

type mockTenantService struct {
	tenant  *model.Tenant
	billing *tenant.Billing
	columns []*model.Column
	err     error
}

func (m *mockTenantService) Get(ctx context.Context, actor model.Principal) (*model.Tenant, error) {
	return m.tenant, m.err
}

func (m *mockTenantService) Plans() []model.Plan { return model.Plans() }

func (m *mockTenantService) Current(ctx context.Context, actor model.Principal) (*tenant.Billing, error) {
	return m.billing, m.err
}

func (m *mockTenantService) Columns(ctx context.Context, actor model.Principal) ([]*model.Column, error) {
	return m.columns, m.err
}

type mockProjectService struct {
	createFn       func(ctx context.Context, actor model.Principal, in project.CreateInput) (*model.Project, error)
	removeMemberFn func(ctx context.Context, actor model.Principal, projectID, userID string) error
}

func (m *mockProjectService) List(ctx context.Context, actor model.Principal) ([]*model.Project, error) {
	return nil, nil
}

func (m *mockProjectService) Create(ctx context.Context, actor model.Principal, in project.CreateInput) (*model.Project, error) {
	if m.createFn != nil {
		return m.createFn(ctx, actor, in)
	}
	return &model.Project{}, nil
}

func (m *mockProjectService) Delete(ctx context.Context, actor model.Principal, projectID string) error {
	return nil
}

func (m *mockProjectService) ListMembers(ctx context.Context, actor model.Principal, projectID string) ([]*model.ProjectMember, error) {
	return nil, nil
}

func (m *mockProjectService) AddMember(ctx context.Context, actor model.Principal, projectID, userID, role string) (*model.ProjectMember, error) {
	return &model.ProjectMember{ProjectID: projectID, UserID: userID, Role: model.MemberRole(role)}, nil
}

func (m *mockProjectService) RemoveMember(ctx context.Context, actor model.Principal, projectID, userID string) error {
	if m.removeMemberFn != nil {
		return m.removeMemberFn(ctx, actor, projectID, userID)
	}
	return nil
}

type mockUserService struct {
	listFn   func(ctx context.Context, actor model.Principal, projectID string) ([]*model.User, error)
	deleteFn func(ctx context.Context, actor model.Principal, userID string) error
}

func (m *mockUserService) List(ctx context.Context, actor model.Principal, projectID string) ([]*model.User, error) {
	if m.listFn != nil {
		return m.listFn(ctx, actor, projectID)
	}
	return nil, nil
}

func (m *mockUserService) Create(ctx context.Context, actor model.Principal, in user.CreateInput) (*model.User, error) {
	return &model.User{Username: in.Username, Email: in.Email, Role: model.Role(in.Role)}, nil
}

func (m *mockUserService) Delete(ctx context.Context, actor model.Principal, userID string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, actor, userID)
	}
	return nil
}

type mockInvitationService struct {
	createFn func(ctx context.Context, actor model.Principal, in invitation.CreateInput) (*model.Invitation, error)
}

func (m *mockInvitationService) Create(ctx context.Context, actor model.Principal, in invitation.CreateInput) (*model.Invitation, error) {
	if m.createFn != nil {
		return m.createFn(ctx, actor, in)
	}
	return &model.Invitation{Email: in.Email}, nil
}

func (m *mockInvitationService) List(ctx context.Context, actor model.Principal) ([]*model.Invitation, error) {
	return nil, nil
}

type mockWorkItemService struct {
	listTasksFn  func(ctx context.Context, actor model.Principal) ([]*model.Task, error)
	createTaskFn func(ctx context.Context, actor model.Principal, fields model.Changes) (*workitem.TaskResult, error)
	updateTaskFn func(ctx context.Context, actor model.Principal, taskID string, patch model.Changes) (*workitem.TaskResult, error)
	deleteTaskFn func(ctx context.Context, actor model.Principal, taskID string) error
	createEpicFn func(ctx context.Context, actor model.Principal, in workitem.EpicInput) (*model.Epic, error)
	addCommentFn func(ctx context.Context, actor model.Principal, taskID, content string) (*model.Comment, error)
}

func (m *mockWorkItemService) ListTasks(ctx context.Context, actor model.Principal) ([]*model.Task, error) {
	if m.listTasksFn != nil {
		return m.listTasksFn(ctx, actor)
	}
	return nil, nil
}

func (m *mockWorkItemService) CreateTask(ctx context.Context, actor model.Principal, fields model.Changes) (*workitem.TaskResult, error) {
	if m.createTaskFn != nil {
		return m.createTaskFn(ctx, actor, fields)
	}
	return &workitem.TaskResult{Task: &model.Task{}}, nil
}

func (m *mockWorkItemService) UpdateTask(ctx context.Context, actor model.Principal, taskID string, patch model.Changes) (*workitem.TaskResult, error) {
	if m.updateTaskFn != nil {
		return m.updateTaskFn(ctx, actor, taskID, patch)
	}
	return &workitem.TaskResult{Task: &model.Task{ID: taskID}}, nil
}

func (m *mockWorkItemService) DeleteTask(ctx context.Context, actor model.Principal, taskID string) error {
	if m.deleteTaskFn != nil {
		return m.deleteTaskFn(ctx, actor, taskID)
	}
	return nil
}

func (m *mockWorkItemService) ListEpics(ctx context.Context, actor model.Principal) ([]*model.Epic, error) {
	return nil, nil
}

func (m *mockWorkItemService) CreateEpic(ctx context.Context, actor model.Principal, in workitem.EpicInput) (*model.Epic, error) {
	if m.createEpicFn != nil {
		return m.createEpicFn(ctx, actor, in)
	}
	return &model.Epic{Title: in.Title}, nil
}

func (m *mockWorkItemService) DeleteEpic(ctx context.Context, actor model.Principal, epicID string) error {
	return nil
}

func (m *mockWorkItemService) ListFeatures(ctx context.Context, actor model.Principal) ([]*model.Feature, error) {
	return nil, nil
}

func (m *mockWorkItemService) CreateFeature(ctx context.Context, actor model.Principal, in workitem.FeatureInput) (*model.Feature, error) {
	return &model.Feature{Title: in.Title}, nil
}

func (m *mockWorkItemService) DeleteFeature(ctx context.Context, actor model.Principal, featureID string) error {
	return nil
}

func (m *mockWorkItemService) ListSprints(ctx context.Context, actor model.Principal) ([]*model.Sprint, error) {
	return nil, nil
}

func (m *mockWorkItemService) CreateSprint(ctx context.Context, actor model.Principal, in workitem.SprintInput) (*model.Sprint, error) {
	return &model.Sprint{Name: in.Name}, nil
}

func (m *mockWorkItemService) DeleteSprint(ctx context.Context, actor model.Principal, sprintID string) error {
	return nil
}

func (m *mockWorkItemService) ListComments(ctx context.Context, actor model.Principal, taskID string) ([]*model.Comment, error) {
	return nil, nil
}

func (m *mockWorkItemService) AddComment(ctx context.Context, actor model.Principal, taskID, content string) (*model.Comment, error) {
	if m.addCommentFn != nil {
		return m.addCommentFn(ctx, actor, taskID, content)
	}
	return &model.Comment{TaskID: taskID, Content: content}, nil
}

func (m *mockWorkItemService) ListAttachments(ctx context.Context, actor model.Principal, taskID string) ([]*model.Attachment, error) {
	return nil, nil
}

func (m *mockWorkItemService) AddAttachment(ctx context.Context, actor model.Principal, in workitem.AttachmentInput) (*model.Attachment, error) {
	return &model.Attachment{TaskID: in.TaskID, Name: in.Name, URL: in.URL}, nil
}

type mockCustomFieldService struct {
	setValueFn func(ctx context.Context, actor model.Principal, definitionID, entityID string, raw json.RawMessage) (*model.CustomFieldValue, error)
}

func (m *mockCustomFieldService) ListDefinitions(ctx context.Context, actor model.Principal, entityType string) ([]*model.CustomFieldDefinition, error) {
	return nil, nil
}

func (m *mockCustomFieldService) CreateDefinition(ctx context.Context, actor model.Principal, in customfield.DefinitionInput) (*model.CustomFieldDefinition, error) {
	return &model.CustomFieldDefinition{Name: in.Name, EntityType: in.EntityType}, nil
}

func (m *mockCustomFieldService) DeleteDefinition(ctx context.Context, actor model.Principal, id string) error {
	return nil
}

func (m *mockCustomFieldService) ListValues(ctx context.Context, actor model.Principal, entityID string) ([]*model.CustomFieldValue, error) {
	return nil, nil
}

func (m *mockCustomFieldService) SetValue(ctx context.Context, actor model.Principal, definitionID, entityID string, raw json.RawMessage) (*model.CustomFieldValue, error) {
	if m.setValueFn != nil {
		return m.setValueFn(ctx, actor, definitionID, entityID, raw)
	}
	return &model.CustomFieldValue{DefinitionID: definitionID, EntityID: entityID, Value: raw}, nil
}

type mockTestService struct {
	gotSuiteID string
	gotCaseID  string
	gotUpdate  testmgmt.CaseUpdate
	updateErr  error
}

func (m *mockTestService) ListSuites(ctx context.Context, actor model.Principal) ([]*model.TestSuite, error) {
	return nil, nil
}

func (m *mockTestService) CreateSuite(ctx context.Context, actor model.Principal, in testmgmt.SuiteInput) (*model.TestSuite, error) {
	return &model.TestSuite{ID: "s-1", TenantID: actor.TenantID, Name: in.Name}, nil
}

func (m *mockTestService) ListCases(ctx context.Context, actor model.Principal, suiteID string) ([]*model.TestCase, error) {
	m.gotSuiteID = suiteID
	return []*model.TestCase{{ID: "c-1", SuiteID: suiteID, Title: "t", Status: model.TestCasePending}}, nil
}

func (m *mockTestService) CreateCase(ctx context.Context, actor model.Principal, in testmgmt.CaseInput) (*model.TestCase, error) {
	return &model.TestCase{ID: "c-2", SuiteID: in.SuiteID, Title: in.Title, Status: model.TestCasePending}, nil
}

func (m *mockTestService) UpdateCase(ctx context.Context, actor model.Principal, caseID string, upd testmgmt.CaseUpdate) (*model.TestCase, error) {
	m.gotCaseID, m.gotUpdate = caseID, upd
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	return &model.TestCase{ID: caseID, Status: model.TestCasePassed}, nil
}

type mockAuditReader struct {
	gotTenant, gotType, gotID string
	entries                   []*model.AuditLogEntry
	err                       error
}

func (m *mockAuditReader) ListByEntity(ctx context.Context, tenantID, entityType, entityID string) ([]*model.AuditLogEntry, error) {
	m.gotTenant, m.gotType, m.gotID = tenantID, entityType, entityID
	return m.entries, m.err
}

// --- ヘルパー ---

var testPrincipal = model.Principal{UserID: testUserID, TenantID: "tenant-1", Role: model.RoleAdmin, Username: "alice"}

// withPrincipal は認証ミドルウェアを通した状態のリクエストを作る。
func withPrincipal(req *http.Request, p model.Principal) *http.Request {
	return req.WithContext(middleware.ContextWithPrincipal(req.Context(), p))
}

func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body middleware.ErrorResponseBody
	decodeBody(t, w, &body)
	return body.Code
}
