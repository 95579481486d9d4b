package model

import (
	"fmt"
	"time"
)

// TestCaseStatus はテストケースの最終実行結果。
type TestCaseStatus string

const (
	TestCasePending TestCaseStatus = "pending"
	TestCasePassed  TestCaseStatus = "passed"
	TestCaseFailed  TestCaseStatus = "failed"
)

// ParseTestCaseStatus は文字列をTestCaseStatusに変換する。
func ParseTestCaseStatus(s string) (TestCaseStatus, error) {
	switch TestCaseStatus(s) {
	case TestCasePending, TestCasePassed, TestCaseFailed:
		return TestCaseStatus(s), nil
	}
	return "", fmt.Errorf("unknown test case status: %q", s)
}

// TestSuite はテストケースをまとめるテナント単位の入れ物。
type TestSuite struct {
	ID          string
	TenantID    string
	Name        string
	Description string
	CreatedAt   time.Time
}

// TestCase はスイートに属する手動テストの手順と結果。
// LastRunはステータスが最後に記録された日時で、未実行の場合はnil。
type TestCase struct {
	ID             string
	TenantID       string
	SuiteID        string
	Title          string
	Steps          string
	ExpectedResult string
	ActualResult   string
	Status         TestCaseStatus
	LastRun        *time.Time
	CreatedAt      time.Time
}
