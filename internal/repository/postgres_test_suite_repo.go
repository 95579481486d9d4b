package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/agileflow/internal/model"
)

// PostgresTestSuiteRepo はPostgreSQLを使用したテストスイート・テストケースリポジトリ。
type PostgresTestSuiteRepo struct {
	db *sql.DB
}

// NewPostgresTestSuiteRepo はPostgresTestSuiteRepoを生成する。
func NewPostgresTestSuiteRepo(db *sql.DB) *PostgresTestSuiteRepo {
	return &PostgresTestSuiteRepo{db: db}
}

const (
	suiteColumns = `id, tenant_id, name, description, created_at`
	caseColumns  = `id, tenant_id, suite_id, title, steps, expected_result, actual_result, status, last_run, created_at`
)

func scanSuite(row rowScanner) (*model.TestSuite, error) {
	s := &model.TestSuite{}
	if err := row.Scan(&s.ID, &s.TenantID, &s.Name, &s.Description, &s.CreatedAt); err != nil {
		return nil, err
	}
	return s, nil
}

func scanCase(row rowScanner) (*model.TestCase, error) {
	tc := &model.TestCase{}
	var status string
	var lastRun sql.NullTime
	if err := row.Scan(&tc.ID, &tc.TenantID, &tc.SuiteID, &tc.Title, &tc.Steps, &tc.ExpectedResult,
		&tc.ActualResult, &status, &lastRun, &tc.CreatedAt); err != nil {
		return nil, err
	}
	tc.Status = model.TestCaseStatus(status)
	tc.LastRun = timePtr(lastRun)
	return tc, nil
}

// CreateSuite はスイートを作成する。
func (r *PostgresTestSuiteRepo) CreateSuite(ctx context.Context, s *model.TestSuite) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO test_suites (`+suiteColumns+`) VALUES ($1, $2, $3, $4, $5)`,
		s.ID, s.TenantID, s.Name, s.Description, s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create test suite: %w", err)
	}
	return nil
}

// FindSuite はテナント内のスイートを取得する。見つからない場合はnilを返す。
func (r *PostgresTestSuiteRepo) FindSuite(ctx context.Context, tenantID, id string) (*model.TestSuite, error) {
	if !validID(id) {
		return nil, nil
	}
	return queryOne(ctx, r.db, "test suite", scanSuite,
		`SELECT `+suiteColumns+` FROM test_suites WHERE tenant_id = $1 AND id = $2`,
		tenantID, id)
}

// ListSuites はテナントのスイートを作成順に返す。
func (r *PostgresTestSuiteRepo) ListSuites(ctx context.Context, tenantID string) ([]*model.TestSuite, error) {
	return queryList(ctx, r.db, "test suites", scanSuite,
		`SELECT `+suiteColumns+` FROM test_suites WHERE tenant_id = $1 ORDER BY created_at, id`,
		tenantID)
}

// CreateCase はテストケースを作成する。
func (r *PostgresTestSuiteRepo) CreateCase(ctx context.Context, tc *model.TestCase) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO test_cases (`+caseColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		tc.ID, tc.TenantID, tc.SuiteID, tc.Title, tc.Steps, tc.ExpectedResult, tc.ActualResult,
		string(tc.Status), nullableTime(tc.LastRun), tc.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create test case: %w", err)
	}
	return nil
}

// FindCase はテナント内のテストケースを取得する。見つからない場合はnilを返す。
func (r *PostgresTestSuiteRepo) FindCase(ctx context.Context, tenantID, id string) (*model.TestCase, error) {
	if !validID(id) {
		return nil, nil
	}
	return queryOne(ctx, r.db, "test case", scanCase,
		`SELECT `+caseColumns+` FROM test_cases WHERE tenant_id = $1 AND id = $2`,
		tenantID, id)
}

// ListCases はスイートのテストケースを作成順に返す。
func (r *PostgresTestSuiteRepo) ListCases(ctx context.Context, tenantID, suiteID string) ([]*model.TestCase, error) {
	if !validID(suiteID) {
		return []*model.TestCase{}, nil
	}
	return queryList(ctx, r.db, "test cases", scanCase,
		`SELECT `+caseColumns+` FROM test_cases WHERE tenant_id = $1 AND suite_id = $2 ORDER BY created_at, id`,
		tenantID, suiteID)
}

// UpdateCase はテストケースの内容と結果を更新する。対象がない場合はfalseを返す。
func (r *PostgresTestSuiteRepo) UpdateCase(ctx context.Context, tc *model.TestCase) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE test_cases
		 SET title = $3, steps = $4, expected_result = $5, actual_result = $6, status = $7, last_run = $8
		 WHERE tenant_id = $1 AND id = $2`,
		tc.TenantID, tc.ID, tc.Title, tc.Steps, tc.ExpectedResult, tc.ActualResult,
		string(tc.Status), nullableTime(tc.LastRun),
	)
	if err != nil {
		return false, fmt.Errorf("failed to update test case: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return n > 0, nil
}

// compile-time interface check
var _ TestSuiteRepository = (*PostgresTestSuiteRepo)(nil)
