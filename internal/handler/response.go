package handler

import (
	"encoding/json"
	"time"

	"github.com/hitoshi/agileflow/internal/auth"
	"github.com/hitoshi/agileflow/internal/cascade"
	"github.com/hitoshi/agileflow/internal/model"
	"github.com/hitoshi/agileflow/internal/tenant"
	"github.com/hitoshi/agileflow/internal/workitem"
)

const dateLayout = "2006-01-02"

// formatDate は日付をYYYY-MM-DD形式の文字列に変換する。nilの場合はnilを返す。
func formatDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(dateLayout)
	return &s
}

type userResponse struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenant_id"`
	Username      string    `json:"username"`
	Email         string    `json:"email"`
	FullName      string    `json:"full_name"`
	Role          string    `json:"role"`
	EmailVerified bool      `json:"email_verified"`
	CreatedAt     time.Time `json:"created_at"`
}

// toUserResponse はパスワードハッシュとトークンを除いたユーザー情報に変換する。
func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:            u.ID,
		TenantID:      u.TenantID,
		Username:      u.Username,
		Email:         u.Email,
		FullName:      u.FullName,
		Role:          string(u.Role),
		EmailVerified: u.EmailVerified,
		CreatedAt:     u.CreatedAt,
	}
}

type tenantResponse struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Slug        string     `json:"slug"`
	PlanID      string     `json:"plan_id"`
	MaxProjects int        `json:"max_projects"`
	MaxMembers  int        `json:"max_members"`
	TrialEndsAt *time.Time `json:"trial_ends_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

func toTenantResponse(t *model.Tenant) tenantResponse {
	return tenantResponse{
		ID:          t.ID,
		Name:        t.Name,
		Slug:        t.Slug,
		PlanID:      string(t.PlanID),
		MaxProjects: t.MaxProjects,
		MaxMembers:  t.MaxMembers,
		TrialEndsAt: t.TrialEndsAt,
		CreatedAt:   t.CreatedAt,
	}
}

type authResponse struct {
	AccessToken      string          `json:"access_token"`
	AccessExpiresAt  time.Time       `json:"access_expires_at"`
	RefreshToken     string          `json:"refresh_token"`
	RefreshExpiresAt time.Time       `json:"refresh_expires_at"`
	User             userResponse    `json:"user"`
	Tenant           *tenantResponse `json:"tenant,omitempty"`
}

func toAuthResponse(res *auth.AuthResult) authResponse {
	resp := authResponse{
		AccessToken:      res.Tokens.AccessToken,
		AccessExpiresAt:  res.Tokens.AccessExpiresAt,
		RefreshToken:     res.Tokens.RefreshToken,
		RefreshExpiresAt: res.Tokens.RefreshExpiresAt,
		User:             toUserResponse(res.User),
	}
	if res.Tenant != nil {
		t := toTenantResponse(res.Tenant)
		resp.Tenant = &t
	}
	return resp
}

type billingResponse struct {
	Tenant       tenantResponse `json:"tenant"`
	Plan         model.Plan     `json:"plan"`
	ProjectCount int            `json:"project_count"`
	MemberCount  int            `json:"member_count"`
	TrialActive  bool           `json:"trial_active"`
}

func toBillingResponse(b *tenant.Billing) billingResponse {
	return billingResponse{
		Tenant:       toTenantResponse(b.Tenant),
		Plan:         b.Plan,
		ProjectCount: b.ProjectCount,
		MemberCount:  b.MemberCount,
		TrialActive:  b.TrialActive,
	}
}

type projectResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatorID   string    `json:"creator_id"`
	CreatedAt   time.Time `json:"created_at"`
}

func toProjectResponse(p *model.Project) projectResponse {
	return projectResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		CreatorID:   p.CreatorID,
		CreatedAt:   p.CreatedAt,
	}
}

type memberResponse struct {
	ProjectID string    `json:"project_id"`
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	Username  string    `json:"username"`
	FullName  string    `json:"full_name"`
	CreatedAt time.Time `json:"created_at"`
}

func toMemberResponse(m *model.ProjectMember) memberResponse {
	return memberResponse{
		ProjectID: m.ProjectID,
		UserID:    m.UserID,
		Role:      string(m.Role),
		Username:  m.Username,
		FullName:  m.FullName,
		CreatedAt: m.CreatedAt,
	}
}

// invitationResponse は招待トークンを含まない。トークンはメールでのみ渡す。
type invitationResponse struct {
	ID         string     `json:"id"`
	Email      string     `json:"email"`
	Role       string     `json:"role"`
	InvitedBy  string     `json:"invited_by"`
	ProjectID  *string    `json:"project_id"`
	ExpiresAt  time.Time  `json:"expires_at"`
	AcceptedAt *time.Time `json:"accepted_at"`
	CreatedAt  time.Time  `json:"created_at"`
}

func toInvitationResponse(inv *model.Invitation) invitationResponse {
	return invitationResponse{
		ID:         inv.ID,
		Email:      inv.Email,
		Role:       string(inv.Role),
		InvitedBy:  inv.InvitedBy,
		ProjectID:  inv.ProjectID,
		ExpiresAt:  inv.ExpiresAt,
		AcceptedAt: inv.AcceptedAt,
		CreatedAt:  inv.CreatedAt,
	}
}

type epicResponse struct {
	ID          string     `json:"id"`
	ProjectID   *string    `json:"project_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	Progress    float64    `json:"progress"`
	OwnerID     *string    `json:"owner_id"`
	ClosedAt    *time.Time `json:"closed_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func toEpicResponse(e *model.Epic) epicResponse {
	return epicResponse{
		ID:          e.ID,
		ProjectID:   e.ProjectID,
		Title:       e.Title,
		Description: e.Description,
		Status:      string(e.Status),
		Progress:    e.Progress,
		OwnerID:     e.OwnerID,
		ClosedAt:    e.ClosedAt,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}

type featureResponse struct {
	ID          string     `json:"id"`
	EpicID      *string    `json:"epic_id"`
	ProjectID   *string    `json:"project_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	ClosedAt    *time.Time `json:"closed_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func toFeatureResponse(f *model.Feature) featureResponse {
	return featureResponse{
		ID:          f.ID,
		EpicID:      f.EpicID,
		ProjectID:   f.ProjectID,
		Title:       f.Title,
		Description: f.Description,
		Status:      string(f.Status),
		ClosedAt:    f.ClosedAt,
		CreatedAt:   f.CreatedAt,
		UpdatedAt:   f.UpdatedAt,
	}
}

type taskResponse struct {
	ID             string     `json:"id"`
	ProjectID      *string    `json:"project_id"`
	FeatureID      *string    `json:"feature_id"`
	EpicID         *string    `json:"epic_id"`
	SprintID       *string    `json:"sprint_id"`
	ParentID       *string    `json:"parent_id"`
	ColumnID       *string    `json:"column_id"`
	AssigneeID     *string    `json:"assignee_id"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	Type           string     `json:"type"`
	Priority       string     `json:"priority"`
	Status         string     `json:"status"`
	StoryPoints    *int       `json:"story_points"`
	EstimatedHours *float64   `json:"estimated_hours"`
	DueDate        *string    `json:"due_date"`
	ClosedAt       *time.Time `json:"closed_at"`
	CreatedBy      string     `json:"created_by"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func toTaskResponse(t *model.Task) taskResponse {
	return taskResponse{
		ID:             t.ID,
		ProjectID:      t.ProjectID,
		FeatureID:      t.FeatureID,
		EpicID:         t.EpicID,
		SprintID:       t.SprintID,
		ParentID:       t.ParentID,
		ColumnID:       t.ColumnID,
		AssigneeID:     t.AssigneeID,
		Title:          t.Title,
		Description:    t.Description,
		Type:           string(t.Type),
		Priority:       string(t.Priority),
		Status:         string(t.Status),
		StoryPoints:    t.StoryPoints,
		EstimatedHours: t.EstimatedHours,
		DueDate:        formatDate(t.DueDate),
		ClosedAt:       t.ClosedAt,
		CreatedBy:      t.CreatedBy,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	}
}

type transitionResponse struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	Field      string `json:"field"`
	From       string `json:"from"`
	To         string `json:"to"`
}

// taskResultResponse はタスクと、その変更が引き起こした上位階層の状態遷移を返す。
type taskResultResponse struct {
	taskResponse
	Transitions []transitionResponse `json:"cascade"`
}

func toTaskResultResponse(res *workitem.TaskResult) taskResultResponse {
	return taskResultResponse{
		taskResponse: toTaskResponse(res.Task),
		Transitions:  toTransitionResponses(res.Transitions),
	}
}

func toTransitionResponses(ts []cascade.Transition) []transitionResponse {
	out := make([]transitionResponse, len(ts))
	for i, t := range ts {
		out[i] = transitionResponse{
			EntityType: t.EntityType,
			EntityID:   t.EntityID,
			Field:      t.Field,
			From:       t.From,
			To:         t.To,
		}
	}
	return out
}

type sprintResponse struct {
	ID             string    `json:"id"`
	ProjectID      *string   `json:"project_id"`
	Name           string    `json:"name"`
	Goal           string    `json:"goal"`
	StartDate      *string   `json:"start_date"`
	EndDate        *string   `json:"end_date"`
	Status         string    `json:"status"`
	TargetCapacity *int      `json:"target_capacity"`
	CreatedAt      time.Time `json:"created_at"`
}

func toSprintResponse(s *model.Sprint) sprintResponse {
	return sprintResponse{
		ID:             s.ID,
		ProjectID:      s.ProjectID,
		Name:           s.Name,
		Goal:           s.Goal,
		StartDate:      formatDate(s.StartDate),
		EndDate:        formatDate(s.EndDate),
		Status:         string(s.Status),
		TargetCapacity: s.TargetCapacity,
		CreatedAt:      s.CreatedAt,
	}
}

type commentResponse struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func toCommentResponse(c *model.Comment) commentResponse {
	return commentResponse{
		ID:        c.ID,
		TaskID:    c.TaskID,
		UserID:    c.UserID,
		Username:  c.Username,
		Content:   c.Content,
		CreatedAt: c.CreatedAt,
	}
}

type attachmentResponse struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

func toAttachmentResponse(a *model.Attachment) attachmentResponse {
	return attachmentResponse{
		ID:        a.ID,
		TaskID:    a.TaskID,
		Name:      a.Name,
		URL:       a.URL,
		Type:      a.Type,
		CreatedAt: a.CreatedAt,
	}
}

type definitionResponse struct {
	ID         string    `json:"id"`
	EntityType string    `json:"entity_type"`
	Name       string    `json:"name"`
	FieldType  string    `json:"field_type"`
	Options    []string  `json:"options"`
	Required   bool      `json:"required"`
	CreatedAt  time.Time `json:"created_at"`
}

func toDefinitionResponse(d *model.CustomFieldDefinition) definitionResponse {
	return definitionResponse{
		ID:         d.ID,
		EntityType: d.EntityType,
		Name:       d.Name,
		FieldType:  string(d.FieldType),
		Options:    d.Options,
		Required:   d.Required,
		CreatedAt:  d.CreatedAt,
	}
}

type valueResponse struct {
	DefinitionID string          `json:"definition_id"`
	EntityID     string          `json:"entity_id"`
	Value        json.RawMessage `json:"value"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func toValueResponse(v *model.CustomFieldValue) valueResponse {
	value := v.Value
	if len(value) == 0 {
		value = json.RawMessage("null")
	}
	return valueResponse{
		DefinitionID: v.DefinitionID,
		EntityID:     v.EntityID,
		Value:        value,
		UpdatedAt:    v.UpdatedAt,
	}
}

type auditLogResponse struct {
	ID         string        `json:"id"`
	EntityType string        `json:"entity_type"`
	EntityID   string        `json:"entity_id"`
	UserID     string        `json:"user_id"`
	Action     string        `json:"action"`
	Changes    model.Changes `json:"changes"`
	CreatedAt  time.Time     `json:"created_at"`
}

func toAuditLogResponse(e *model.AuditLogEntry) auditLogResponse {
	changes := e.Changes
	if changes == nil {
		changes = model.Changes{}
	}
	return auditLogResponse{
		ID:         e.ID,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		UserID:     e.UserID,
		Action:     string(e.Action),
		Changes:    changes,
		CreatedAt:  e.CreatedAt,
	}
}

type suiteResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

func toSuiteResponse(s *model.TestSuite) suiteResponse {
	return suiteResponse{
		ID:          s.ID,
		Name:        s.Name,
		Description: s.Description,
		CreatedAt:   s.CreatedAt,
	}
}

type caseResponse struct {
	ID             string     `json:"id"`
	SuiteID        string     `json:"suite_id"`
	Title          string     `json:"title"`
	Steps          string     `json:"steps"`
	ExpectedResult string     `json:"expected_result"`
	ActualResult   string     `json:"actual_result"`
	Status         string     `json:"status"`
	LastRun        *time.Time `json:"last_run"`
	CreatedAt      time.Time  `json:"created_at"`
}

func toCaseResponse(tc *model.TestCase) caseResponse {
	return caseResponse{
		ID:             tc.ID,
		SuiteID:        tc.SuiteID,
		Title:          tc.Title,
		Steps:          tc.Steps,
		ExpectedResult: tc.ExpectedResult,
		ActualResult:   tc.ActualResult,
		Status:         string(tc.Status),
		LastRun:        tc.LastRun,
		CreatedAt:      tc.CreatedAt,
	}
}

// mapSlice はスライスの各要素をレスポンス型に変換する。nilの場合も空配列を返す。
func mapSlice[T, R any](in []T, f func(T) R) []R {
	out := make([]R, len(in))
	for i, v := range in {
		out[i] = f(v)
	}
	return out
}
