package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/hitoshi/agileflow/internal/database"
	"github.com/hitoshi/agileflow/internal/model"
)

// openIntegrationDB はTEST_DATABASE_URLのデータベースにマイグレーションを適用して返す。
// 未設定または接続できない場合はテストをスキップする。
func openIntegrationDB(t *testing.T) *sql.DB {
	t.Helper()
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL が未設定のためスキップ")
	}
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Fatalf("データベースへの接続に失敗: %v", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		t.Skipf("テスト用データベースに接続できません（スキップ）: %v", err)
	}
	if err := database.RunMigrations(dbURL); err != nil {
		db.Close()
		t.Fatalf("マイグレーション実行に失敗: %v", err)
	}
	if _, err := db.Exec(`TRUNCATE tenants CASCADE`); err != nil {
		db.Close()
		t.Fatalf("クリーンアップに失敗: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// seedWorkspace はテナントとオーナーを作成する。
func seedWorkspace(t *testing.T, db *sql.DB, slug string, maxProjects, maxMembers int) (*model.Tenant, *model.User) {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	tenant := &model.Tenant{
		ID:          uuid.NewString(),
		Name:        slug,
		Slug:        slug,
		PlanID:      model.PlanFree,
		MaxProjects: maxProjects,
		MaxMembers:  maxMembers,
		CreatedAt:   now,
	}
	columns := model.DefaultColumns(tenant.ID)
	tenant.DoneColumnID = columns[len(columns)-1].ID
	owner := &model.User{
		ID:           uuid.NewString(),
		TenantID:     tenant.ID,
		Username:     "owner-" + slug,
		Email:        "owner@" + slug + ".example.com",
		Role:         model.RoleSuperadmin,
		PasswordHash: "hash",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := NewPostgresTenantRepo(db).CreateWorkspace(context.Background(), tenant, columns, owner); err != nil {
		t.Fatalf("CreateWorkspace() error = %v", err)
	}
	return tenant, owner
}

func TestTenantRepo_CreateWorkspace_DuplicateSlug(t *testing.T) {
	db := openIntegrationDB(t)
	ctx := context.Background()
	tenant, _ := seedWorkspace(t, db, "acme", 1, 5)

	dup := &model.Tenant{ID: uuid.NewString(), Name: "x", Slug: "acme", PlanID: model.PlanFree, CreatedAt: time.Now()}
	owner := &model.User{ID: uuid.NewString(), TenantID: dup.ID, Username: "u", Email: "u@example.com",
		Role: model.RoleSuperadmin, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	err := NewPostgresTenantRepo(db).CreateWorkspace(ctx, dup, model.DefaultColumns(dup.ID), owner)
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("CreateWorkspace() error = %v, want ErrDuplicate", err)
	}

	cols, err := NewPostgresTenantRepo(db).ListColumns(ctx, tenant.ID)
	if err != nil {
		t.Fatalf("ListColumns() error = %v", err)
	}
	if len(cols) != 4 {
		t.Errorf("len(columns) = %d, want 4", len(cols))
	}
}

// 同時に作成要求が来ても上限を超えない
func TestProjectRepo_CreateWithinLimit_Concurrent(t *testing.T) {
	db := openIntegrationDB(t)
	tenant, owner := seedWorkspace(t, db, "race", 1, 5)
	repo := NewPostgresProjectRepo(db)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := &model.Project{ID: uuid.NewString(), TenantID: tenant.ID, Name: "p", CreatorID: owner.ID, CreatedAt: time.Now()}
			errs[i] = repo.CreateWithinLimit(context.Background(), p, []model.ProjectMember{
				{ProjectID: p.ID, UserID: owner.ID, Role: model.MemberRoleAdmin, CreatedAt: time.Now()},
			})
		}(i)
	}
	wg.Wait()

	succeeded, exceeded := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrQuotaExceeded):
			exceeded++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || exceeded != 1 {
		t.Errorf("succeeded=%d exceeded=%d, want 1 and 1", succeeded, exceeded)
	}

	count, err := NewPostgresTenantRepo(db).CountResources(context.Background(), tenant.ID, model.ResourceProjects)
	if err != nil {
		t.Fatalf("CountResources() error = %v", err)
	}
	if count != 1 {
		t.Errorf("project count = %d, want 1", count)
	}
}

func TestUserRepo_FindByLogin_AcrossTenants(t *testing.T) {
	db := openIntegrationDB(t)
	ctx := context.Background()
	_, _ = seedWorkspace(t, db, "one", 1, 5)
	second, _ := seedWorkspace(t, db, "two", 1, 5)
	repo := NewPostgresUserRepo(db)

	shared := &model.User{ID: uuid.NewString(), TenantID: second.ID, Username: "owner-one",
		Email: "shared@example.com", Role: model.RoleDev, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if err := repo.CreateWithinLimit(ctx, shared, CreateUserOptions{}); err != nil {
		t.Fatalf("CreateWithinLimit() error = %v", err)
	}

	all, err := repo.FindByLogin(ctx, "owner-one", "")
	if err != nil {
		t.Fatalf("FindByLogin() error = %v", err)
	}
	if len(all) != 2 {
		t.Errorf("len(FindByLogin without slug) = %d, want 2", len(all))
	}

	scoped, err := repo.FindByLogin(ctx, "owner-one", "two")
	if err != nil {
		t.Fatalf("FindByLogin() error = %v", err)
	}
	if len(scoped) != 1 || scoped[0].TenantID != second.ID {
		t.Errorf("FindByLogin with slug = %v, want user of tenant two", scoped)
	}
}

func TestHierarchyRepo_ConditionalUpdates(t *testing.T) {
	db := openIntegrationDB(t)
	ctx := context.Background()
	tenant, _ := seedWorkspace(t, db, "hier", 1, 5)
	now := time.Now().UTC()

	epic := &model.Epic{ID: uuid.NewString(), TenantID: tenant.ID, Title: "E", Status: model.EpicStatusInProgress, CreatedAt: now, UpdatedAt: now}
	if err := NewPostgresEpicRepo(db).Create(ctx, epic); err != nil {
		t.Fatalf("Create epic error = %v", err)
	}
	feature := &model.Feature{ID: uuid.NewString(), TenantID: tenant.ID, EpicID: &epic.ID, Title: "F",
		Status: model.FeatureStatusInProgress, CreatedAt: now, UpdatedAt: now}
	if err := NewPostgresFeatureRepo(db).Create(ctx, feature); err != nil {
		t.Fatalf("Create feature error = %v", err)
	}

	repo := NewPostgresHierarchyRepo(db)
	changed, err := repo.VerifyFeature(ctx, tenant.ID, feature.ID, now)
	if err != nil || !changed {
		t.Fatalf("VerifyFeature() = %v, %v, want true", changed, err)
	}
	changed, err = repo.VerifyFeature(ctx, tenant.ID, feature.ID, now)
	if err != nil || changed {
		t.Errorf("second VerifyFeature() = %v, %v, want false", changed, err)
	}

	total, verified, err := repo.CountEpicFeatures(ctx, tenant.ID, epic.ID)
	if err != nil {
		t.Fatalf("CountEpicFeatures() error = %v", err)
	}
	if total != 1 || verified != 1 {
		t.Errorf("CountEpicFeatures() = %d, %d, want 1, 1", total, verified)
	}

	changed, err = repo.SetEpicProgress(ctx, tenant.ID, epic.ID, 0, now)
	if err != nil || changed {
		t.Errorf("SetEpicProgress(same) = %v, %v, want false", changed, err)
	}

	third := 100.0 / 3
	changed, err = repo.SetEpicProgress(ctx, tenant.ID, epic.ID, third, now)
	if err != nil || !changed {
		t.Fatalf("SetEpicProgress(1/3) = %v, %v, want true", changed, err)
	}
	stored, err := repo.FindEpic(ctx, tenant.ID, epic.ID)
	if err != nil || stored == nil {
		t.Fatalf("FindEpic() = %v, %v", stored, err)
	}
	if stored.Progress != third {
		t.Errorf("stored progress = %v, want %v", stored.Progress, third)
	}

	// 他テナントからは更新できない
	other, _ := seedWorkspace(t, db, "other", 1, 5)
	changed, err = repo.ReopenFeature(ctx, other.ID, feature.ID, now)
	if err != nil || changed {
		t.Errorf("ReopenFeature(other tenant) = %v, %v, want false", changed, err)
	}
}

func TestAuditLogRepo_PreservesChangeOrder(t *testing.T) {
	db := openIntegrationDB(t)
	ctx := context.Background()
	tenant, owner := seedWorkspace(t, db, "audit", 1, 5)
	repo := NewPostgresAuditLogRepo(db)

	var changes model.Changes
	for _, f := range []string{"status", "closed_at", "assignee_id"} {
		if err := changes.Set(f, f+"-value"); err != nil {
			t.Fatal(err)
		}
	}
	entry := &model.AuditLogEntry{
		ID:         uuid.NewString(),
		TenantID:   tenant.ID,
		EntityType: model.EntityTask,
		EntityID:   uuid.NewString(),
		UserID:     owner.ID,
		Action:     model.AuditActionUpdate,
		Changes:    changes,
		CreatedAt:  time.Now(),
	}
	if err := repo.Insert(ctx, entry); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	got, err := repo.ListByEntity(ctx, tenant.ID, model.EntityTask, entry.EntityID)
	if err != nil {
		t.Fatalf("ListByEntity() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len(entries) = %d, want 1", len(got))
	}
	fields := got[0].Changes.Fields()
	want := []string{"status", "closed_at", "assignee_id"}
	for i := range want {
		if fields[i] != want[i] {
			t.Errorf("fields[%d] = %q, want %q", i, fields[i], want[i])
		}
	}
	raw, _ := got[0].Changes.Get("status")
	var status string
	if err := json.Unmarshal(raw, &status); err != nil || status != "status-value" {
		t.Errorf("status = %q, %v, want status-value", status, err)
	}
}

func TestTestSuiteRepo_TenantIsolationAndUpdate(t *testing.T) {
	db := openIntegrationDB(t)
	ctx := context.Background()
	acme, _ := seedWorkspace(t, db, "acme-qa", 1, 5)
	globex, _ := seedWorkspace(t, db, "globex-qa", 1, 5)
	repo := NewPostgresTestSuiteRepo(db)
	now := time.Now().UTC().Truncate(time.Microsecond)

	suite := &model.TestSuite{ID: uuid.NewString(), TenantID: acme.ID, Name: "Checkout", CreatedAt: now}
	if err := repo.CreateSuite(ctx, suite); err != nil {
		t.Fatalf("CreateSuite() error = %v", err)
	}
	tc := &model.TestCase{ID: uuid.NewString(), TenantID: acme.ID, SuiteID: suite.ID, Title: "Pay",
		Status: model.TestCasePending, CreatedAt: now}
	if err := repo.CreateCase(ctx, tc); err != nil {
		t.Fatalf("CreateCase() error = %v", err)
	}

	if got, err := repo.FindSuite(ctx, globex.ID, suite.ID); err != nil || got != nil {
		t.Errorf("FindSuite(other tenant) = %v, %v; want nil", got, err)
	}
	if got, err := repo.ListCases(ctx, globex.ID, suite.ID); err != nil || len(got) != 0 {
		t.Errorf("ListCases(other tenant) = %v, %v; want empty", got, err)
	}

	tc.Status = model.TestCaseFailed
	tc.ActualResult = "timeout"
	tc.LastRun = &now
	if ok, err := repo.UpdateCase(ctx, tc); err != nil || !ok {
		t.Fatalf("UpdateCase() = %v, %v", ok, err)
	}
	other := *tc
	other.TenantID = globex.ID
	if ok, err := repo.UpdateCase(ctx, &other); err != nil || ok {
		t.Errorf("UpdateCase(other tenant) = %v, %v; want false", ok, err)
	}

	got, err := repo.FindCase(ctx, acme.ID, tc.ID)
	if err != nil || got == nil {
		t.Fatalf("FindCase() = %v, %v", got, err)
	}
	if got.Status != model.TestCaseFailed || got.ActualResult != "timeout" || got.LastRun == nil || !got.LastRun.Equal(now) {
		t.Errorf("case = %+v", got)
	}
}
