package testmgmt

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/agileflow/internal/audit"
	"github.com/hitoshi/agileflow/internal/model"
	"github.com/hitoshi/agileflow/internal/repository"
)

// --- モック ---

type memRepo struct {
	suites    map[string]*model.TestSuite
	cases     map[string]*model.TestCase
	updates   int
	createErr error
}

func newMemRepo() *memRepo {
	return &memRepo{
		suites: map[string]*model.TestSuite{},
		cases:  map[string]*model.TestCase{},
	}
}

func (m *memRepo) CreateSuite(ctx context.Context, s *model.TestSuite) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.suites[s.ID] = s
	return nil
}

func (m *memRepo) FindSuite(ctx context.Context, tenantID, id string) (*model.TestSuite, error) {
	if s, ok := m.suites[id]; ok && s.TenantID == tenantID {
		return s, nil
	}
	return nil, nil
}

func (m *memRepo) ListSuites(ctx context.Context, tenantID string) ([]*model.TestSuite, error) {
	out := []*model.TestSuite{}
	for _, s := range m.suites {
		if s.TenantID == tenantID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memRepo) CreateCase(ctx context.Context, tc *model.TestCase) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.cases[tc.ID] = tc
	return nil
}

func (m *memRepo) FindCase(ctx context.Context, tenantID, id string) (*model.TestCase, error) {
	if tc, ok := m.cases[id]; ok && tc.TenantID == tenantID {
		cp := *tc
		return &cp, nil
	}
	return nil, nil
}

func (m *memRepo) ListCases(ctx context.Context, tenantID, suiteID string) ([]*model.TestCase, error) {
	out := []*model.TestCase{}
	for _, tc := range m.cases {
		if tc.TenantID == tenantID && tc.SuiteID == suiteID {
			out = append(out, tc)
		}
	}
	return out, nil
}

func (m *memRepo) UpdateCase(ctx context.Context, tc *model.TestCase) (bool, error) {
	if _, ok := m.cases[tc.ID]; !ok {
		return false, nil
	}
	m.updates++
	cp := *tc
	m.cases[tc.ID] = &cp
	return true, nil
}

type recordingAudit struct {
	events []audit.Event
}

func (r *recordingAudit) Record(ctx context.Context, e audit.Event) {
	r.events = append(r.events, e)
}

// compile-time interface check
var (
	_ repository.TestSuiteRepository = (*memRepo)(nil)
	_ audit.RecorderInterface        = (*recordingAudit)(nil)
)

// --- ヘルパー ---

var (
	qa    = model.Principal{UserID: "u-qa", TenantID: "acme", Role: model.RoleQA}
	other = model.Principal{UserID: "u-other", TenantID: "globex", Role: model.RoleAdmin}
	fixed = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
)

func newService(repo *memRepo, rec *recordingAudit) *Service {
	s := NewService(repo, rec)
	s.now = func() time.Time { return fixed }
	return s
}

func apiCode(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

func strp(s string) *string { return &s }

func seed(repo *memRepo) {
	repo.suites["s1"] = &model.TestSuite{ID: "s1", TenantID: "acme", Name: "Checkout"}
	repo.suites["s9"] = &model.TestSuite{ID: "s9", TenantID: "globex", Name: "Other"}
	repo.cases["c1"] = &model.TestCase{ID: "c1", TenantID: "acme", SuiteID: "s1", Title: "Pay by card",
		Status: model.TestCasePending}
}

// --- テスト ---

func TestCreateSuite(t *testing.T) {
	repo := newMemRepo()
	rec := &recordingAudit{}
	s := newService(repo, rec)

	suite, err := s.CreateSuite(context.Background(), qa, SuiteInput{Name: " <b>Login</b> ", Description: "smoke"})
	if err != nil {
		t.Fatalf("CreateSuite() error = %v", err)
	}
	if suite.Name != "Login" || suite.TenantID != "acme" || !suite.CreatedAt.Equal(fixed) {
		t.Errorf("suite = %+v", suite)
	}
	if len(rec.events) != 1 || rec.events[0].EntityType != model.EntityTestSuite || rec.events[0].Action != model.AuditActionCreate {
		t.Errorf("events = %+v, want one test_suite CREATE", rec.events)
	}

	if _, err := s.CreateSuite(context.Background(), qa, SuiteInput{Name: "  "}); apiCode(err) != model.ErrCodeValidation {
		t.Errorf("blank name: error = %v, want VALIDATION_FAILED", err)
	}
}

func TestCreateSuite_StoreErrorWrapped(t *testing.T) {
	repo := newMemRepo()
	repo.createErr = errors.New("connection refused")

	_, err := newService(repo, &recordingAudit{}).CreateSuite(context.Background(), qa, SuiteInput{Name: "x"})
	if err == nil || apiCode(err) != "" || !errors.Is(err, repo.createErr) {
		t.Fatalf("error = %v, want wrapped store error", err)
	}
}

func TestListSuites_TenantOnly(t *testing.T) {
	repo := newMemRepo()
	seed(repo)

	suites, err := newService(repo, &recordingAudit{}).ListSuites(context.Background(), qa)
	if err != nil {
		t.Fatalf("ListSuites() error = %v", err)
	}
	if len(suites) != 1 || suites[0].ID != "s1" {
		t.Errorf("suites = %+v, want only s1", suites)
	}
}

func TestCreateCase(t *testing.T) {
	repo := newMemRepo()
	seed(repo)
	rec := &recordingAudit{}
	s := newService(repo, rec)

	tc, err := s.CreateCase(context.Background(), qa, CaseInput{SuiteID: "s1", Title: "Refund", Steps: "1. pay\n2. refund"})
	if err != nil {
		t.Fatalf("CreateCase() error = %v", err)
	}
	if tc.Status != model.TestCasePending || tc.LastRun != nil || tc.SuiteID != "s1" {
		t.Errorf("case = %+v", tc)
	}
	if len(rec.events) != 1 || rec.events[0].EntityType != model.EntityTestCase {
		t.Errorf("events = %+v, want one test_case CREATE", rec.events)
	}

	tests := []struct {
		name string
		in   CaseInput
		want string
	}{
		{"blank title", CaseInput{SuiteID: "s1", Title: " "}, model.ErrCodeValidation},
		{"no suite", CaseInput{Title: "x"}, model.ErrCodeValidation},
		{"unknown suite", CaseInput{SuiteID: "nope", Title: "x"}, model.ErrCodeNotFound},
		{"other tenant suite", CaseInput{SuiteID: "s9", Title: "x"}, model.ErrCodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.CreateCase(context.Background(), qa, tt.in); apiCode(err) != tt.want {
				t.Errorf("error = %v, want %s", err, tt.want)
			}
		})
	}
}

func TestListCases_OtherTenantSuiteIsNotFound(t *testing.T) {
	repo := newMemRepo()
	seed(repo)
	s := newService(repo, &recordingAudit{})

	cases, err := s.ListCases(context.Background(), qa, "s1")
	if err != nil || len(cases) != 1 {
		t.Fatalf("ListCases(s1) = %v, %v; want one case", cases, err)
	}
	if _, err := s.ListCases(context.Background(), other, "s1"); apiCode(err) != model.ErrCodeNotFound {
		t.Errorf("other tenant: error = %v, want NOT_FOUND", err)
	}
}

func TestUpdateCase_StatusStampsLastRun(t *testing.T) {
	repo := newMemRepo()
	seed(repo)
	rec := &recordingAudit{}
	s := newService(repo, rec)

	tc, err := s.UpdateCase(context.Background(), qa, "c1", CaseUpdate{Status: strp("passed"), ActualResult: strp("ok")})
	if err != nil {
		t.Fatalf("UpdateCase() error = %v", err)
	}
	if tc.Status != model.TestCasePassed || tc.LastRun == nil || !tc.LastRun.Equal(fixed) || tc.ActualResult != "ok" {
		t.Errorf("case = %+v", tc)
	}
	if got := repo.cases["c1"].Status; got != model.TestCasePassed {
		t.Errorf("stored status = %q, want passed", got)
	}
	if len(rec.events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(rec.events))
	}
	fields := []string{}
	for _, c := range rec.events[0].Changes {
		fields = append(fields, c.Field)
	}
	if len(fields) != 2 || fields[0] != "actual_result" || fields[1] != "status" {
		t.Errorf("changed fields = %v, want [actual_result status]", fields)
	}
}

// 同じステータスでの再実行はlast_runのみ更新し、監査ログは残さない
func TestUpdateCase_RerunWithSameStatus(t *testing.T) {
	repo := newMemRepo()
	seed(repo)
	repo.cases["c1"].Status = model.TestCaseFailed
	rec := &recordingAudit{}
	s := newService(repo, rec)

	if _, err := s.UpdateCase(context.Background(), qa, "c1", CaseUpdate{Status: strp("failed")}); err != nil {
		t.Fatalf("UpdateCase() error = %v", err)
	}
	if repo.updates != 1 || repo.cases["c1"].LastRun == nil {
		t.Errorf("updates = %d, last_run = %v; want stored rerun", repo.updates, repo.cases["c1"].LastRun)
	}
	if len(rec.events) != 0 {
		t.Errorf("events = %d, want 0", len(rec.events))
	}
}

func TestUpdateCase_NoChangesSkipsStore(t *testing.T) {
	repo := newMemRepo()
	seed(repo)
	s := newService(repo, &recordingAudit{})

	if _, err := s.UpdateCase(context.Background(), qa, "c1", CaseUpdate{Title: strp("Pay by card")}); err != nil {
		t.Fatalf("UpdateCase() error = %v", err)
	}
	if repo.updates != 0 {
		t.Errorf("updates = %d, want 0", repo.updates)
	}
}

func TestUpdateCase_Rejects(t *testing.T) {
	repo := newMemRepo()
	seed(repo)
	s := newService(repo, &recordingAudit{})

	tests := []struct {
		name  string
		actor model.Principal
		id    string
		upd   CaseUpdate
		want  string
	}{
		{"unknown status", qa, "c1", CaseUpdate{Status: strp("skipped")}, model.ErrCodeValidation},
		{"blank title", qa, "c1", CaseUpdate{Title: strp("<i></i>")}, model.ErrCodeValidation},
		{"missing case", qa, "c404", CaseUpdate{Status: strp("passed")}, model.ErrCodeNotFound},
		{"other tenant", other, "c1", CaseUpdate{Status: strp("passed")}, model.ErrCodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.UpdateCase(context.Background(), tt.actor, tt.id, tt.upd); apiCode(err) != tt.want {
				t.Errorf("error = %v, want %s", err, tt.want)
			}
		})
	}
	if repo.updates != 0 {
		t.Errorf("updates = %d, want 0", repo.updates)
	}
}
