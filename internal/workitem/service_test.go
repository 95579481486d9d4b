package workitem

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/agileflow/internal/access"
	"github.com/hitoshi/agileflow/internal/audit"
	"github.com/hitoshi/agileflow/internal/cascade"
	"github.com/hitoshi/agileflow/internal/model"
	"github.com/hitoshi/agileflow/internal/repository"
)

// --- インメモリ実装 ---

// world は作業階層全体を保持する。各リポジトリは同じworldを共有する。
type world struct {
	tenant      *model.Tenant
	columns     []*model.Column
	projects    map[string]*model.Project
	users       map[string]*model.User
	members     map[string][]string // userID → projectIDs
	epics       map[string]*model.Epic
	features    map[string]*model.Feature
	tasks       map[string]*model.Task
	sprints     map[string]*model.Sprint
	comments    []*model.Comment
	attachments []*model.Attachment
}

const (
	tenantID     = "acme"
	doneColumnID = "acme-done"
)

func newWorld() *world {
	return &world{
		tenant: &model.Tenant{ID: tenantID, Slug: "acme", DoneColumnID: doneColumnID},
		columns: []*model.Column{
			{ID: "acme-todo", TenantID: tenantID},
			{ID: doneColumnID, TenantID: tenantID},
		},
		projects: map[string]*model.Project{
			"p1": {ID: "p1", TenantID: tenantID},
			"p2": {ID: "p2", TenantID: tenantID},
		},
		users: map[string]*model.User{
			"root":  {ID: "root", TenantID: tenantID, Role: model.RoleSuperadmin},
			"admin": {ID: "admin", TenantID: tenantID, Role: model.RoleAdmin},
			"dev":   {ID: "dev", TenantID: tenantID, Role: model.RoleDev},
		},
		members:  map[string][]string{"dev": {"p1"}, "admin": {"p1"}},
		epics:    map[string]*model.Epic{},
		features: map[string]*model.Feature{},
		tasks:    map[string]*model.Task{},
		sprints:  map[string]*model.Sprint{},
	}
}

func ptr(s string) *string { return &s }

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func inProjects(pid *string, ids []string) bool {
	for _, id := range ids {
		if deref(pid) == id {
			return true
		}
	}
	return false
}

func (w *world) ListMemberProjectIDs(ctx context.Context, tid, userID string) ([]string, error) {
	return w.members[userID], nil
}

// HierarchyRepository

func (w *world) FindTask(ctx context.Context, tid, id string) (*model.Task, error) {
	if t, ok := w.tasks[id]; ok && t.TenantID == tid {
		return t, nil
	}
	return nil, nil
}

func (w *world) FindFeature(ctx context.Context, tid, id string) (*model.Feature, error) {
	if f, ok := w.features[id]; ok && f.TenantID == tid {
		return f, nil
	}
	return nil, nil
}

func (w *world) FindEpic(ctx context.Context, tid, id string) (*model.Epic, error) {
	if e, ok := w.epics[id]; ok && e.TenantID == tid {
		return e, nil
	}
	return nil, nil
}

func (w *world) CountFeatureTasks(ctx context.Context, tid, featureID string) (int, int, error) {
	total, closed := 0, 0
	for _, t := range w.tasks {
		if t.TenantID == tid && deref(t.FeatureID) == featureID {
			total++
			if t.ClosedAt != nil {
				closed++
			}
		}
	}
	return total, closed, nil
}

func (w *world) CountEpicFeatures(ctx context.Context, tid, epicID string) (int, int, error) {
	total, verified := 0, 0
	for _, f := range w.features {
		if f.TenantID == tid && deref(f.EpicID) == epicID {
			total++
			if f.Status == model.FeatureStatusVerified {
				verified++
			}
		}
	}
	return total, verified, nil
}

func (w *world) CountEpicTasks(ctx context.Context, tid, epicID string) (int, int, error) {
	total, done := 0, 0
	for _, t := range w.tasks {
		if t.TenantID == tid && deref(t.EpicID) == epicID {
			total++
			if t.Status == model.TaskStatusDone {
				done++
			}
		}
	}
	return total, done, nil
}

func (w *world) VerifyFeature(ctx context.Context, tid, featureID string, now time.Time) (bool, error) {
	f, _ := w.FindFeature(ctx, tid, featureID)
	if f == nil || f.Status == model.FeatureStatusVerified {
		return false, nil
	}
	f.Status = model.FeatureStatusVerified
	f.ClosedAt = &now
	return true, nil
}

func (w *world) ReopenFeature(ctx context.Context, tid, featureID string, now time.Time) (bool, error) {
	f, _ := w.FindFeature(ctx, tid, featureID)
	if f == nil || f.Status != model.FeatureStatusVerified {
		return false, nil
	}
	f.Status = model.FeatureStatusInProgress
	f.ClosedAt = nil
	return true, nil
}

func (w *world) CompleteEpic(ctx context.Context, tid, epicID string, now time.Time) (bool, error) {
	e, _ := w.FindEpic(ctx, tid, epicID)
	if e == nil || e.Status == model.EpicStatusCompleted {
		return false, nil
	}
	e.Status = model.EpicStatusCompleted
	e.ClosedAt = &now
	return true, nil
}

func (w *world) ReopenEpic(ctx context.Context, tid, epicID string, now time.Time) (bool, error) {
	e, _ := w.FindEpic(ctx, tid, epicID)
	if e == nil || e.Status != model.EpicStatusCompleted {
		return false, nil
	}
	e.Status = model.EpicStatusInProgress
	e.ClosedAt = nil
	return true, nil
}

func (w *world) SetEpicProgress(ctx context.Context, tid, epicID string, progress float64, now time.Time) (bool, error) {
	e, _ := w.FindEpic(ctx, tid, epicID)
	if e == nil || e.Progress == progress {
		return false, nil
	}
	e.Progress = progress
	return true, nil
}

// TenantLookup, UserLookup, ProjectLookup

type tenantLookup struct{ w *world }

func (l tenantLookup) FindByID(ctx context.Context, id string) (*model.Tenant, error) {
	if id == l.w.tenant.ID {
		return l.w.tenant, nil
	}
	return nil, nil
}

func (l tenantLookup) ListColumns(ctx context.Context, tid string) ([]*model.Column, error) {
	return l.w.columns, nil
}

type userLookup struct{ w *world }

func (l userLookup) FindInTenant(ctx context.Context, tid, id string) (*model.User, error) {
	if u, ok := l.w.users[id]; ok && u.TenantID == tid {
		return u, nil
	}
	return nil, nil
}

type projectLookup struct{ w *world }

func (l projectLookup) FindInTenant(ctx context.Context, tid, id string) (*model.Project, error) {
	if p, ok := l.w.projects[id]; ok && p.TenantID == tid {
		return p, nil
	}
	return nil, nil
}

// 作業項目リポジトリ。取得結果はコピーを返し、書き込みで初めて反映される。

type epicRepo struct{ w *world }

func (r epicRepo) FindInTenant(ctx context.Context, tid, id string) (*model.Epic, error) {
	e, _ := r.w.FindEpic(ctx, tid, id)
	if e == nil {
		return nil, nil
	}
	c := *e
	return &c, nil
}

func (r epicRepo) ListByTenant(ctx context.Context, tid string) ([]*model.Epic, error) {
	return r.ListByProjects(ctx, tid, nil)
}

func (r epicRepo) ListByProjects(ctx context.Context, tid string, ids []string) ([]*model.Epic, error) {
	var out []*model.Epic
	for _, e := range r.w.epics {
		if e.TenantID == tid && (ids == nil || e.ProjectID == nil || inProjects(e.ProjectID, ids)) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r epicRepo) Create(ctx context.Context, e *model.Epic) error {
	c := *e
	r.w.epics[e.ID] = &c
	return nil
}

func (r epicRepo) DeleteInTenant(ctx context.Context, tid, id string) (bool, error) {
	if e, _ := r.w.FindEpic(ctx, tid, id); e == nil {
		return false, nil
	}
	delete(r.w.epics, id)
	for _, f := range r.w.features {
		if deref(f.EpicID) == id {
			f.EpicID = nil
		}
	}
	for _, t := range r.w.tasks {
		if deref(t.EpicID) == id {
			t.EpicID = nil
		}
	}
	return true, nil
}

type featureRepo struct{ w *world }

func (r featureRepo) FindInTenant(ctx context.Context, tid, id string) (*model.Feature, error) {
	f, _ := r.w.FindFeature(ctx, tid, id)
	if f == nil {
		return nil, nil
	}
	c := *f
	return &c, nil
}

func (r featureRepo) ListByTenant(ctx context.Context, tid string) ([]*model.Feature, error) {
	var out []*model.Feature
	for _, f := range r.w.features {
		if f.TenantID == tid {
			out = append(out, f)
		}
	}
	return out, nil
}

func (r featureRepo) ListByProjects(ctx context.Context, tid string, ids []string) ([]*model.Feature, error) {
	var out []*model.Feature
	for _, f := range r.w.features {
		if f.TenantID == tid && inProjects(f.ProjectID, ids) {
			out = append(out, f)
		}
	}
	return out, nil
}

func (r featureRepo) Create(ctx context.Context, f *model.Feature) error {
	c := *f
	r.w.features[f.ID] = &c
	return nil
}

func (r featureRepo) DeleteInTenant(ctx context.Context, tid, id string) (bool, error) {
	if f, _ := r.w.FindFeature(ctx, tid, id); f == nil {
		return false, nil
	}
	delete(r.w.features, id)
	for _, t := range r.w.tasks {
		if deref(t.FeatureID) == id {
			t.FeatureID = nil
		}
	}
	return true, nil
}

type taskRepo struct {
	w         *world
	updateErr error
}

func (r *taskRepo) FindInTenant(ctx context.Context, tid, id string) (*model.Task, error) {
	t, _ := r.w.FindTask(ctx, tid, id)
	if t == nil {
		return nil, nil
	}
	c := *t
	return &c, nil
}

func (r *taskRepo) ListByTenant(ctx context.Context, tid string) ([]*model.Task, error) {
	var out []*model.Task
	for _, t := range r.w.tasks {
		if t.TenantID == tid {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *taskRepo) ListByProjects(ctx context.Context, tid string, ids []string) ([]*model.Task, error) {
	var out []*model.Task
	for _, t := range r.w.tasks {
		if t.TenantID == tid && inProjects(t.ProjectID, ids) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *taskRepo) Create(ctx context.Context, t *model.Task) error {
	c := *t
	r.w.tasks[t.ID] = &c
	return nil
}

func (r *taskRepo) Update(ctx context.Context, t *model.Task) error {
	if r.updateErr != nil {
		return r.updateErr
	}
	c := *t
	r.w.tasks[t.ID] = &c
	return nil
}

func (r *taskRepo) DeleteInTenant(ctx context.Context, tid, id string) (bool, error) {
	if t, _ := r.w.FindTask(ctx, tid, id); t == nil {
		return false, nil
	}
	delete(r.w.tasks, id)
	return true, nil
}

type sprintRepo struct{ w *world }

func (r sprintRepo) FindInTenant(ctx context.Context, tid, id string) (*model.Sprint, error) {
	if s, ok := r.w.sprints[id]; ok && s.TenantID == tid {
		return s, nil
	}
	return nil, nil
}

func (r sprintRepo) ListByTenant(ctx context.Context, tid string) ([]*model.Sprint, error) {
	return r.ListByProjects(ctx, tid, nil)
}

func (r sprintRepo) ListByProjects(ctx context.Context, tid string, ids []string) ([]*model.Sprint, error) {
	var out []*model.Sprint
	for _, s := range r.w.sprints {
		if s.TenantID == tid && (ids == nil || s.ProjectID == nil || inProjects(s.ProjectID, ids)) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r sprintRepo) Create(ctx context.Context, s *model.Sprint) error {
	r.w.sprints[s.ID] = s
	return nil
}

func (r sprintRepo) DeleteInTenant(ctx context.Context, tid, id string) (bool, error) {
	if _, ok := r.w.sprints[id]; !ok {
		return false, nil
	}
	delete(r.w.sprints, id)
	return true, nil
}

type commentRepo struct{ w *world }

func (r commentRepo) Create(ctx context.Context, c *model.Comment) error {
	r.w.comments = append(r.w.comments, c)
	return nil
}

func (r commentRepo) ListByTask(ctx context.Context, tid, taskID string) ([]*model.Comment, error) {
	var out []*model.Comment
	for _, c := range r.w.comments {
		if c.TenantID == tid && c.TaskID == taskID {
			out = append(out, c)
		}
	}
	return out, nil
}

type attachmentRepo struct{ w *world }

func (r attachmentRepo) Create(ctx context.Context, a *model.Attachment) error {
	r.w.attachments = append(r.w.attachments, a)
	return nil
}

func (r attachmentRepo) ListByTask(ctx context.Context, tid, taskID string) ([]*model.Attachment, error) {
	var out []*model.Attachment
	for _, a := range r.w.attachments {
		if a.TenantID == tid && a.TaskID == taskID {
			out = append(out, a)
		}
	}
	return out, nil
}

// compile-time interface check
var (
	_ repository.HierarchyRepository  = (*world)(nil)
	_ repository.EpicRepository       = epicRepo{}
	_ repository.FeatureRepository    = featureRepo{}
	_ repository.TaskRepository       = (*taskRepo)(nil)
	_ repository.SprintRepository     = sprintRepo{}
	_ repository.CommentRepository    = commentRepo{}
	_ repository.AttachmentRepository = attachmentRepo{}
	_ access.MembershipStore          = (*world)(nil)
)

type recordingAudit struct {
	events []audit.Event
}

func (r *recordingAudit) Record(ctx context.Context, e audit.Event) {
	r.events = append(r.events, e)
}

func (r *recordingAudit) find(entityType string, action model.AuditAction) []audit.Event {
	var out []audit.Event
	for _, e := range r.events {
		if e.EntityType == entityType && e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

// --- ヘルパー ---

type fixture struct {
	w     *world
	tasks *taskRepo
	audit *recordingAudit
	svc   *Service
}

func newFixture() *fixture {
	w := newWorld()
	rec := &recordingAudit{}
	tasks := &taskRepo{w: w}
	svc := NewService(Deps{
		Epics:       epicRepo{w},
		Features:    featureRepo{w},
		Tasks:       tasks,
		Sprints:     sprintRepo{w},
		Comments:    commentRepo{w},
		Attachments: attachmentRepo{w},
		Tenants:     tenantLookup{w},
		Users:       userLookup{w},
		Projects:    projectLookup{w},
		Scopes:      access.NewResolver(w),
		Cascade:     cascade.NewEngine(w, rec, nil),
		Audit:       rec,
	})
	svc.now = func() time.Time { return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC) }
	return &fixture{w: w, tasks: tasks, audit: rec, svc: svc}
}

func principal(userID string) model.Principal {
	roles := map[string]model.Role{"root": model.RoleSuperadmin, "admin": model.RoleAdmin}
	role, ok := roles[userID]
	if !ok {
		role = model.RoleDev
	}
	return model.Principal{UserID: userID, TenantID: tenantID, Role: role, Username: userID}
}

func (f *fixture) addEpic(id, projectID string, status model.EpicStatus) *model.Epic {
	e := &model.Epic{ID: id, TenantID: tenantID, Status: status}
	if projectID != "" {
		e.ProjectID = ptr(projectID)
	}
	f.w.epics[id] = e
	return e
}

func (f *fixture) addFeature(id, epicID, projectID string, status model.FeatureStatus) *model.Feature {
	feat := &model.Feature{ID: id, TenantID: tenantID, Status: status}
	if epicID != "" {
		feat.EpicID = ptr(epicID)
	}
	if projectID != "" {
		feat.ProjectID = ptr(projectID)
	}
	f.w.features[id] = feat
	return feat
}

func (f *fixture) addTask(id, featureID, projectID string, status model.TaskStatus) *model.Task {
	t := &model.Task{ID: id, TenantID: tenantID, Title: id, Status: status,
		Type: model.TaskTypeTask, Priority: model.PriorityP2}
	if featureID != "" {
		t.FeatureID = ptr(featureID)
	}
	if projectID != "" {
		t.ProjectID = ptr(projectID)
	}
	cascade.ResolveClosure(t, doneColumnID, time.Now())
	f.w.tasks[id] = t
	return t
}

func changes(t *testing.T, kv ...any) model.Changes {
	t.Helper()
	var c model.Changes
	for i := 0; i+1 < len(kv); i += 2 {
		if err := c.Set(kv[i].(string), kv[i+1]); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
	}
	return c
}

func apiCode(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

func taskIDs(tasks []*model.Task) []string {
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	sort.Strings(ids)
	return ids
}

// --- タスク ---

// 最後のタスクをDoneにするとフィーチャーがVerified、エピックがCompletedになる
func TestUpdateTask_DoneCascadesToFeatureAndEpic(t *testing.T) {
	f := newFixture()
	f.addEpic("e1", "p1", model.EpicStatusInProgress)
	f.addFeature("f1", "e1", "p1", model.FeatureStatusInProgress)
	f.addTask("t1", "f1", "p1", model.TaskStatusInProgress)

	res, err := f.svc.UpdateTask(context.Background(), principal("dev"), "t1", changes(t, "status", "Done"))
	if err != nil {
		t.Fatalf("UpdateTask() error = %v", err)
	}
	if res.Task.ClosedAt == nil {
		t.Error("ClosedAt = nil, want set")
	}
	if got := f.w.features["f1"].Status; got != model.FeatureStatusVerified {
		t.Errorf("feature status = %q, want Verified", got)
	}
	if got := f.w.epics["e1"].Status; got != model.EpicStatusCompleted {
		t.Errorf("epic status = %q, want Completed", got)
	}
	if len(res.Transitions) != 2 {
		t.Errorf("len(Transitions) = %d, want 2", len(res.Transitions))
	}

	// タスクの監査は入力された差分のみを記録する
	updates := f.audit.find(model.EntityTask, model.AuditActionUpdate)
	if len(updates) != 1 {
		t.Fatalf("task update audits = %d, want 1", len(updates))
	}
	if fields := updates[0].Changes.Fields(); len(fields) != 1 || fields[0] != "status" {
		t.Errorf("audited fields = %v, want [status]", fields)
	}
}

// 終端列への移動はstatusを変えずに完了扱いにする
func TestUpdateTask_TerminalColumnCloses(t *testing.T) {
	f := newFixture()
	f.addFeature("f1", "", "p1", model.FeatureStatusInProgress)
	f.addTask("t1", "f1", "p1", model.TaskStatusReview)

	res, err := f.svc.UpdateTask(context.Background(), principal("dev"), "t1", changes(t, "column_id", doneColumnID))
	if err != nil {
		t.Fatalf("UpdateTask() error = %v", err)
	}
	if res.Task.Status != model.TaskStatusReview {
		t.Errorf("Status = %q, want Review", res.Task.Status)
	}
	if res.Task.ClosedAt == nil {
		t.Error("ClosedAt = nil, want set")
	}
	if got := f.w.features["f1"].Status; got != model.FeatureStatusVerified {
		t.Errorf("feature status = %q, want Verified", got)
	}
}

func TestUpdateTask_UnknownColumnIsNotFound(t *testing.T) {
	f := newFixture()
	f.addTask("t1", "", "p1", model.TaskStatusTodo)

	_, err := f.svc.UpdateTask(context.Background(), principal("dev"), "t1", changes(t, "column_id", "other-done"))
	if apiCode(err) != model.ErrCodeNotFound {
		t.Errorf("error = %v, want NOT_FOUND", err)
	}
}

// 許可リスト外のフィールドは拒否し、何も書き込まない
func TestUpdateTask_RejectsFieldOutsideAllowlist(t *testing.T) {
	f := newFixture()
	f.addTask("t1", "", "p1", model.TaskStatusTodo)

	for _, field := range []string{"tenant_id", "id", "closed_at", "created_by"} {
		_, err := f.svc.UpdateTask(context.Background(), principal("dev"), "t1",
			changes(t, "title", "renamed", field, "x"))
		if apiCode(err) != model.ErrCodeValidation {
			t.Errorf("%s: error = %v, want VALIDATION_FAILED", field, err)
		}
	}
	if got := f.w.tasks["t1"].Title; got != "t1" {
		t.Errorf("Title = %q, want unchanged", got)
	}
	if len(f.audit.events) != 0 {
		t.Errorf("audit events = %d, want 0", len(f.audit.events))
	}
}

func TestUpdateTask_EmptyPatch(t *testing.T) {
	f := newFixture()
	f.addTask("t1", "", "p1", model.TaskStatusTodo)

	_, err := f.svc.UpdateTask(context.Background(), principal("dev"), "t1", nil)
	if apiCode(err) != model.ErrCodeValidation {
		t.Errorf("error = %v, want VALIDATION_FAILED", err)
	}
}

func TestUpdateTask_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		patch []any
	}{
		{"unknown status", []any{"status", "Doing"}},
		{"blank title", []any{"title", "  "}},
		{"negative points", []any{"story_points", -1}},
		{"bad date", []any{"due_date", "2026/05/01"}},
		{"self parent", []any{"parent_id", "t1"}},
		{"title not string", []any{"title", 42}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.addTask("t1", "", "p1", model.TaskStatusTodo)
			_, err := f.svc.UpdateTask(context.Background(), principal("dev"), "t1", changes(t, tt.patch...))
			if apiCode(err) != model.ErrCodeValidation {
				t.Errorf("error = %v, want VALIDATION_FAILED", err)
			}
		})
	}
}

// タスクを別のフィーチャーへ移すと元のフィーチャーも再評価される
func TestUpdateTask_ReparentReconcilesFormerFeature(t *testing.T) {
	f := newFixture()
	f.addFeature("f1", "", "p1", model.FeatureStatusInProgress)
	f.addFeature("f2", "", "p1", model.FeatureStatusInProgress)
	f.addTask("t1", "f1", "p1", model.TaskStatusDone)
	f.addTask("t2", "f1", "p1", model.TaskStatusInProgress)

	res, err := f.svc.UpdateTask(context.Background(), principal("dev"), "t2", changes(t, "feature_id", "f2"))
	if err != nil {
		t.Fatalf("UpdateTask() error = %v", err)
	}
	if got := deref(res.Task.FeatureID); got != "f2" {
		t.Errorf("FeatureID = %q, want f2", got)
	}
	if got := f.w.features["f1"].Status; got != model.FeatureStatusVerified {
		t.Errorf("former feature status = %q, want Verified", got)
	}
	if got := f.w.features["f2"].Status; got != model.FeatureStatusInProgress {
		t.Errorf("new feature status = %q, want In Progress", got)
	}
}

// 完了済みタスクを戻すとVerifiedのフィーチャーとCompletedのエピックが再開される
func TestUpdateTask_ReopenCascades(t *testing.T) {
	f := newFixture()
	f.addEpic("e1", "p1", model.EpicStatusCompleted)
	f.addFeature("f1", "e1", "p1", model.FeatureStatusVerified)
	f.addTask("t1", "f1", "p1", model.TaskStatusDone)

	res, err := f.svc.UpdateTask(context.Background(), principal("dev"), "t1", changes(t, "status", "In Progress"))
	if err != nil {
		t.Fatalf("UpdateTask() error = %v", err)
	}
	if res.Task.ClosedAt != nil {
		t.Error("ClosedAt should be cleared")
	}
	if got := f.w.features["f1"].Status; got != model.FeatureStatusInProgress {
		t.Errorf("feature status = %q, want In Progress", got)
	}
	if got := f.w.epics["e1"].Status; got != model.EpicStatusInProgress {
		t.Errorf("epic status = %q, want In Progress", got)
	}
}

func TestUpdateTask_StoreErrorSkipsCascade(t *testing.T) {
	f := newFixture()
	f.addFeature("f1", "", "p1", model.FeatureStatusInProgress)
	f.addTask("t1", "f1", "p1", model.TaskStatusInProgress)
	f.tasks.updateErr = errors.New("connection reset")

	_, err := f.svc.UpdateTask(context.Background(), principal("dev"), "t1", changes(t, "status", "Done"))
	if err == nil || apiCode(err) != "" {
		t.Fatalf("error = %v, want wrapped store error", err)
	}
	if got := f.w.features["f1"].Status; got != model.FeatureStatusInProgress {
		t.Errorf("feature status = %q, want unchanged", got)
	}
}

// 所属プロジェクトのタスクのみが一覧に含まれる
func TestListTasks_ScopedToMemberships(t *testing.T) {
	f := newFixture()
	f.addTask("t1", "", "p1", model.TaskStatusTodo)
	f.addTask("t2", "", "p2", model.TaskStatusTodo)
	f.addTask("t3", "", "", model.TaskStatusTodo)

	tests := []struct {
		user string
		want []string
	}{
		{"root", []string{"t1", "t2", "t3"}},
		{"dev", []string{"t1"}},
		{"outsider", []string{}},
	}
	for _, tt := range tests {
		tasks, err := f.svc.ListTasks(context.Background(), principal(tt.user))
		if err != nil {
			t.Fatalf("%s: ListTasks() error = %v", tt.user, err)
		}
		got := taskIDs(tasks)
		if strings.Join(got, ",") != strings.Join(tt.want, ",") {
			t.Errorf("%s: tasks = %v, want %v", tt.user, got, tt.want)
		}
	}
}

// スコープ外や別テナントのタスクは存在しないものとして扱う
func TestGetTask_OutOfScopeIsNotFound(t *testing.T) {
	f := newFixture()
	f.addTask("t2", "", "p2", model.TaskStatusTodo)
	other := f.addTask("t9", "", "p1", model.TaskStatusTodo)
	other.TenantID = "globex"

	for _, id := range []string{"t2", "t9", "missing"} {
		_, err := f.svc.GetTask(context.Background(), principal("dev"), id)
		if apiCode(err) != model.ErrCodeNotFound {
			t.Errorf("%s: error = %v, want NOT_FOUND", id, err)
		}
	}
	if _, err := f.svc.GetTask(context.Background(), principal("root"), "t2"); err != nil {
		t.Errorf("superadmin GetTask() error = %v", err)
	}
}

// project_idは親フィーチャーから導出され、明示指定より優先される
func TestCreateTask_ProjectDerivedFromFeature(t *testing.T) {
	f := newFixture()
	f.w.members["dev"] = []string{"p1", "p2"}
	f.addFeature("f1", "", "p1", model.FeatureStatusDraft)

	res, err := f.svc.CreateTask(context.Background(), principal("dev"),
		changes(t, "title", "<b>Login</b> form", "project_id", "p2", "feature_id", "f1"))
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	task := res.Task
	if got := deref(task.ProjectID); got != "p1" {
		t.Errorf("ProjectID = %q, want p1", got)
	}
	if task.Title != "Login form" {
		t.Errorf("Title = %q, want tags stripped", task.Title)
	}
	if task.Status != model.TaskStatusTodo || task.Priority != model.PriorityP2 || task.Type != model.TaskTypeTask {
		t.Errorf("defaults = %q/%q/%q", task.Status, task.Priority, task.Type)
	}
	if task.CreatedBy != "dev" {
		t.Errorf("CreatedBy = %q, want dev", task.CreatedBy)
	}
	if len(f.audit.find(model.EntityTask, model.AuditActionCreate)) != 1 {
		t.Error("create audit not recorded")
	}
}

func TestCreateTask_ProjectDerivedFromEpic(t *testing.T) {
	f := newFixture()
	f.addEpic("e1", "p1", model.EpicStatusInProgress)

	res, err := f.svc.CreateTask(context.Background(), principal("dev"),
		changes(t, "title", "Direct", "epic_id", "e1", "status", "Done"))
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	if got := deref(res.Task.ProjectID); got != "p1" {
		t.Errorf("ProjectID = %q, want p1", got)
	}
	if got := f.w.epics["e1"].Progress; got != 100 {
		t.Errorf("epic progress = %v, want 100", got)
	}
}

func TestCreateTask_Placement(t *testing.T) {
	tests := []struct {
		name   string
		user   string
		fields []any
		want   string
	}{
		{"restricted without project", "dev", []any{"title", "x"}, model.ErrCodeValidation},
		{"out of scope project", "dev", []any{"title", "x", "project_id", "p2"}, model.ErrCodeNotFound},
		{"unknown project", "root", []any{"title", "x", "project_id", "nope"}, model.ErrCodeNotFound},
		{"missing title", "dev", []any{"project_id", "p1"}, model.ErrCodeValidation},
		{"unknown assignee", "dev", []any{"title", "x", "project_id", "p1", "assignee_id", "ghost"}, model.ErrCodeNotFound},
		{"superadmin without project", "root", []any{"title", "x"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			_, err := f.svc.CreateTask(context.Background(), principal(tt.user), changes(t, tt.fields...))
			if got := apiCode(err); got != tt.want {
				t.Errorf("code = %q (err %v), want %q", got, err, tt.want)
			}
		})
	}
}

// タスク削除後に元のフィーチャーを再評価する
func TestDeleteTask_ReconcilesFeature(t *testing.T) {
	f := newFixture()
	f.addFeature("f1", "", "p1", model.FeatureStatusInProgress)
	f.addTask("t1", "f1", "p1", model.TaskStatusDone)
	f.addTask("t2", "f1", "p1", model.TaskStatusTodo)

	if err := f.svc.DeleteTask(context.Background(), principal("dev"), "t2"); apiCode(err) != model.ErrCodeForbidden {
		t.Fatalf("dev DeleteTask() error = %v, want FORBIDDEN", err)
	}
	if err := f.svc.DeleteTask(context.Background(), principal("admin"), "t2"); err != nil {
		t.Fatalf("DeleteTask() error = %v", err)
	}
	if _, ok := f.w.tasks["t2"]; ok {
		t.Error("task should be deleted")
	}
	if got := f.w.features["f1"].Status; got != model.FeatureStatusVerified {
		t.Errorf("feature status = %q, want Verified", got)
	}
	if len(f.audit.find(model.EntityTask, model.AuditActionDelete)) != 1 {
		t.Error("delete audit not recorded")
	}
}

// --- エピック・フィーチャー・スプリント ---

func TestCreateEpic(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	e, err := f.svc.CreateEpic(ctx, principal("dev"), EpicInput{Title: "Checkout", OwnerID: "dev"})
	if err != nil {
		t.Fatalf("CreateEpic() error = %v", err)
	}
	if e.Status != model.EpicStatusBacklog || e.ProjectID != nil {
		t.Errorf("epic = %+v, want Backlog without project", e)
	}

	if _, err := f.svc.CreateEpic(ctx, principal("dev"), EpicInput{Title: "x", Status: "Completed"}); apiCode(err) != model.ErrCodeValidation {
		t.Errorf("Completed: error = %v, want VALIDATION_FAILED", err)
	}
	if _, err := f.svc.CreateEpic(ctx, principal("outsider"), EpicInput{Title: "x"}); apiCode(err) != model.ErrCodeValidation {
		t.Errorf("no memberships: error = %v, want VALIDATION_FAILED", err)
	}
	if _, err := f.svc.CreateEpic(ctx, principal("dev"), EpicInput{Title: "x", OwnerID: "ghost"}); apiCode(err) != model.ErrCodeNotFound {
		t.Errorf("unknown owner: error = %v, want NOT_FOUND", err)
	}
}

func TestListEpics_IncludesUnassigned(t *testing.T) {
	f := newFixture()
	f.addEpic("e1", "p1", model.EpicStatusBacklog)
	f.addEpic("e2", "p2", model.EpicStatusBacklog)
	f.addEpic("e3", "", model.EpicStatusBacklog)

	epics, err := f.svc.ListEpics(context.Background(), principal("dev"))
	if err != nil {
		t.Fatalf("ListEpics() error = %v", err)
	}
	got := map[string]bool{}
	for _, e := range epics {
		got[e.ID] = true
	}
	if !got["e1"] || got["e2"] || !got["e3"] {
		t.Errorf("epics = %v, want e1 and e3", got)
	}
}

func TestDeleteEpic_ClearsReferences(t *testing.T) {
	f := newFixture()
	f.addEpic("e1", "p1", model.EpicStatusInProgress)
	f.addFeature("f1", "e1", "p1", model.FeatureStatusDraft)

	if err := f.svc.DeleteEpic(context.Background(), principal("dev"), "e1"); err != nil {
		t.Fatalf("DeleteEpic() error = %v", err)
	}
	if f.w.features["f1"].EpicID != nil {
		t.Error("feature epic_id should be cleared")
	}
	if err := f.svc.DeleteEpic(context.Background(), principal("dev"), "e1"); apiCode(err) != model.ErrCodeNotFound {
		t.Errorf("second DeleteEpic() error = %v, want NOT_FOUND", err)
	}
}

func TestCreateFeature(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.addEpic("e1", "p1", model.EpicStatusInProgress)
	f.addEpic("e2", "p2", model.EpicStatusInProgress)

	feat, err := f.svc.CreateFeature(ctx, principal("dev"), FeatureInput{EpicID: "e1", Title: "Cart"})
	if err != nil {
		t.Fatalf("CreateFeature() error = %v", err)
	}
	if deref(feat.ProjectID) != "p1" || feat.Status != model.FeatureStatusDraft {
		t.Errorf("feature = %+v, want project p1 and Draft", feat)
	}

	if _, err := f.svc.CreateFeature(ctx, principal("dev"), FeatureInput{EpicID: "e1", Title: "x", Status: "Verified"}); apiCode(err) != model.ErrCodeValidation {
		t.Errorf("Verified: error = %v, want VALIDATION_FAILED", err)
	}
	if _, err := f.svc.CreateFeature(ctx, principal("dev"), FeatureInput{EpicID: "e2", Title: "x"}); apiCode(err) != model.ErrCodeNotFound {
		t.Errorf("out of scope epic: error = %v, want NOT_FOUND", err)
	}
	if _, err := f.svc.CreateFeature(ctx, principal("dev"), FeatureInput{Title: "x"}); apiCode(err) != model.ErrCodeValidation {
		t.Errorf("no epic: error = %v, want VALIDATION_FAILED", err)
	}
}

// Completedのエピックに未検証のフィーチャーが加わるとIn Progressに戻る
func TestCreateFeature_ReopensCompletedEpic(t *testing.T) {
	f := newFixture()
	f.addEpic("e1", "p1", model.EpicStatusCompleted)
	f.addFeature("f1", "e1", "p1", model.FeatureStatusVerified)

	if _, err := f.svc.CreateFeature(context.Background(), principal("dev"), FeatureInput{EpicID: "e1", Title: "More"}); err != nil {
		t.Fatalf("CreateFeature() error = %v", err)
	}
	if got := f.w.epics["e1"].Status; got != model.EpicStatusInProgress {
		t.Errorf("epic status = %q, want In Progress", got)
	}
}

// 未検証のフィーチャーを削除すると残りがすべてVerifiedのエピックは完了する
func TestDeleteFeature_CompletesEpic(t *testing.T) {
	f := newFixture()
	f.addEpic("e1", "p1", model.EpicStatusInProgress)
	f.addFeature("f1", "e1", "p1", model.FeatureStatusVerified)
	f.addFeature("f2", "e1", "p1", model.FeatureStatusDraft)
	f.addTask("t1", "f2", "p1", model.TaskStatusTodo)

	if err := f.svc.DeleteFeature(context.Background(), principal("dev"), "f2"); err != nil {
		t.Fatalf("DeleteFeature() error = %v", err)
	}
	if got := f.w.epics["e1"].Status; got != model.EpicStatusCompleted {
		t.Errorf("epic status = %q, want Completed", got)
	}
	if f.w.tasks["t1"].FeatureID != nil {
		t.Error("task feature_id should be cleared")
	}
}

func TestCreateSprint(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	capacity := 20

	sp, err := f.svc.CreateSprint(ctx, principal("dev"), SprintInput{
		ProjectID: "p1", Name: "Sprint 1", StartDate: "2026-05-01", EndDate: "2026-05-14", TargetCapacity: &capacity,
	})
	if err != nil {
		t.Fatalf("CreateSprint() error = %v", err)
	}
	if sp.Status != model.SprintStatusPlanned {
		t.Errorf("Status = %q, want Planned", sp.Status)
	}
	if sp.StartDate == nil || sp.StartDate.Format(dateLayout) != "2026-05-01" {
		t.Errorf("StartDate = %v", sp.StartDate)
	}

	tests := []struct {
		name string
		in   SprintInput
		want string
	}{
		{"end before start", SprintInput{Name: "x", StartDate: "2026-05-14", EndDate: "2026-05-01"}, model.ErrCodeValidation},
		{"bad date", SprintInput{Name: "x", StartDate: "May 1"}, model.ErrCodeValidation},
		{"missing name", SprintInput{}, model.ErrCodeValidation},
		{"unknown status", SprintInput{Name: "x", Status: "Running"}, model.ErrCodeValidation},
		{"out of scope project", SprintInput{Name: "x", ProjectID: "p2"}, model.ErrCodeNotFound},
	}
	for _, tt := range tests {
		if _, err := f.svc.CreateSprint(ctx, principal("dev"), tt.in); apiCode(err) != tt.want {
			t.Errorf("%s: error = %v, want %s", tt.name, err, tt.want)
		}
	}
}

func TestUpdateTask_SprintMustBeVisible(t *testing.T) {
	f := newFixture()
	f.addTask("t1", "", "p1", model.TaskStatusTodo)
	f.w.sprints["s2"] = &model.Sprint{ID: "s2", TenantID: tenantID, ProjectID: ptr("p2")}
	f.w.sprints["s0"] = &model.Sprint{ID: "s0", TenantID: tenantID}

	if _, err := f.svc.UpdateTask(context.Background(), principal("dev"), "t1", changes(t, "sprint_id", "s2")); apiCode(err) != model.ErrCodeNotFound {
		t.Errorf("out of scope sprint: error = %v, want NOT_FOUND", err)
	}
	res, err := f.svc.UpdateTask(context.Background(), principal("dev"), "t1", changes(t, "sprint_id", "s0"))
	if err != nil {
		t.Fatalf("UpdateTask() error = %v", err)
	}
	if deref(res.Task.SprintID) != "s0" {
		t.Errorf("SprintID = %v, want s0", res.Task.SprintID)
	}
}

// --- コメント・添付 ---

func TestAddComment_Sanitizes(t *testing.T) {
	f := newFixture()
	f.addTask("t1", "", "p1", model.TaskStatusTodo)
	ctx := context.Background()

	c, err := f.svc.AddComment(ctx, principal("dev"), "t1", `<p onclick="x()">Looks good</p><script>alert(1)</script>`)
	if err != nil {
		t.Fatalf("AddComment() error = %v", err)
	}
	if strings.Contains(c.Content, "script") || strings.Contains(c.Content, "onclick") {
		t.Errorf("Content = %q, want sanitized", c.Content)
	}
	if !strings.Contains(c.Content, "Looks good") {
		t.Errorf("Content = %q, want text kept", c.Content)
	}
	if c.Username != "dev" {
		t.Errorf("Username = %q, want dev", c.Username)
	}

	if _, err := f.svc.AddComment(ctx, principal("dev"), "t1", "<script>alert(1)</script>"); apiCode(err) != model.ErrCodeValidation {
		t.Errorf("empty after sanitize: error = %v, want VALIDATION_FAILED", err)
	}

	comments, err := f.svc.ListComments(ctx, principal("dev"), "t1")
	if err != nil {
		t.Fatalf("ListComments() error = %v", err)
	}
	if len(comments) != 1 {
		t.Errorf("len(comments) = %d, want 1", len(comments))
	}
}

func TestAddComment_OutOfScopeTask(t *testing.T) {
	f := newFixture()
	f.addTask("t2", "", "p2", model.TaskStatusTodo)

	_, err := f.svc.AddComment(context.Background(), principal("dev"), "t2", "hello")
	if apiCode(err) != model.ErrCodeNotFound {
		t.Errorf("error = %v, want NOT_FOUND", err)
	}
	if len(f.w.comments) != 0 {
		t.Error("comment should not be stored")
	}
}

func TestAddAttachment(t *testing.T) {
	f := newFixture()
	f.addTask("t1", "", "p1", model.TaskStatusTodo)
	ctx := context.Background()

	a, err := f.svc.AddAttachment(ctx, principal("dev"), AttachmentInput{TaskID: "t1", URL: "https://docs.example.com/spec.pdf", Type: "pdf"})
	if err != nil {
		t.Fatalf("AddAttachment() error = %v", err)
	}
	if a.Name != a.URL {
		t.Errorf("Name = %q, want URL as default", a.Name)
	}

	for _, u := range []string{"javascript:alert(1)", "http://169.254.169.254/latest", "http://localhost:8080/", ""} {
		if _, err := f.svc.AddAttachment(ctx, principal("dev"), AttachmentInput{TaskID: "t1", URL: u}); apiCode(err) != model.ErrCodeValidation {
			t.Errorf("%q: error = %v, want VALIDATION_FAILED", u, err)
		}
	}

	list, err := f.svc.ListAttachments(ctx, principal("dev"), "t1")
	if err != nil {
		t.Fatalf("ListAttachments() error = %v", err)
	}
	if len(list) != 1 {
		t.Errorf("len(attachments) = %d, want 1", len(list))
	}
}
