// Package testmgmt はテナント単位の手動テストスイートとテストケースを扱う。
package testmgmt

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/agileflow/internal/audit"
	"github.com/hitoshi/agileflow/internal/model"
	"github.com/hitoshi/agileflow/internal/repository"
	"github.com/hitoshi/agileflow/internal/security"
)

// SuiteInput はスイート作成の入力。
type SuiteInput struct {
	Name        string
	Description string
}

// CaseInput はテストケース作成の入力。
type CaseInput struct {
	SuiteID        string
	Title          string
	Steps          string
	ExpectedResult string
}

// CaseUpdate はテストケースの部分更新。nilのフィールドは変更しない。
type CaseUpdate struct {
	Title          *string
	Steps          *string
	ExpectedResult *string
	ActualResult   *string
	Status         *string
}

// Service はテスト管理のサービス層。
type Service struct {
	repo      repository.TestSuiteRepository
	audit     audit.RecorderInterface
	sanitizer security.ContentSanitizer
	now       func() time.Time
}

// NewService はServiceを生成する。
func NewService(repo repository.TestSuiteRepository, rec audit.RecorderInterface) *Service {
	return &Service{
		repo:      repo,
		audit:     rec,
		sanitizer: security.NewContentSanitizer(),
		now:       time.Now,
	}
}

// ListSuites はテナントのスイートを返す。
func (s *Service) ListSuites(ctx context.Context, actor model.Principal) ([]*model.TestSuite, error) {
	suites, err := s.repo.ListSuites(ctx, actor.TenantID)
	if err != nil {
		return nil, fmt.Errorf("テストスイート一覧の取得に失敗しました: %w", err)
	}
	return suites, nil
}

// CreateSuite はスイートを作成する。
func (s *Service) CreateSuite(ctx context.Context, actor model.Principal, in SuiteInput) (*model.TestSuite, error) {
	name := s.sanitizer.PlainText(strings.TrimSpace(in.Name))
	if name == "" {
		return nil, model.NewValidationError("スイート名は必須です")
	}

	suite := &model.TestSuite{
		ID:          uuid.NewString(),
		TenantID:    actor.TenantID,
		Name:        name,
		Description: s.sanitizer.PlainText(in.Description),
		CreatedAt:   s.now(),
	}
	if err := s.repo.CreateSuite(ctx, suite); err != nil {
		return nil, fmt.Errorf("テストスイートの作成に失敗しました: %w", err)
	}

	s.audit.Record(ctx, audit.Event{
		TenantID:   actor.TenantID,
		EntityType: model.EntityTestSuite,
		EntityID:   suite.ID,
		UserID:     actor.UserID,
		Action:     model.AuditActionCreate,
		Changes:    audit.Changes("name", suite.Name),
	})
	return suite, nil
}

// ListCases はスイートのテストケースを返す。他テナントのスイートはNotFoundとなる。
func (s *Service) ListCases(ctx context.Context, actor model.Principal, suiteID string) ([]*model.TestCase, error) {
	if _, err := s.suite(ctx, actor, suiteID); err != nil {
		return nil, err
	}
	cases, err := s.repo.ListCases(ctx, actor.TenantID, suiteID)
	if err != nil {
		return nil, fmt.Errorf("テストケース一覧の取得に失敗しました: %w", err)
	}
	return cases, nil
}

// CreateCase はスイートにテストケースを追加する。ステータスはpendingで始まる。
func (s *Service) CreateCase(ctx context.Context, actor model.Principal, in CaseInput) (*model.TestCase, error) {
	title := s.sanitizer.PlainText(strings.TrimSpace(in.Title))
	if title == "" {
		return nil, model.NewValidationError("テストケースのタイトルは必須です")
	}
	if in.SuiteID == "" {
		return nil, model.NewValidationError("suite_idは必須です")
	}
	suite, err := s.suite(ctx, actor, in.SuiteID)
	if err != nil {
		return nil, err
	}

	tc := &model.TestCase{
		ID:             uuid.NewString(),
		TenantID:       actor.TenantID,
		SuiteID:        suite.ID,
		Title:          title,
		Steps:          s.sanitizer.PlainText(in.Steps),
		ExpectedResult: s.sanitizer.PlainText(in.ExpectedResult),
		Status:         model.TestCasePending,
		CreatedAt:      s.now(),
	}
	if err := s.repo.CreateCase(ctx, tc); err != nil {
		return nil, fmt.Errorf("テストケースの作成に失敗しました: %w", err)
	}

	s.audit.Record(ctx, audit.Event{
		TenantID:   actor.TenantID,
		EntityType: model.EntityTestCase,
		EntityID:   tc.ID,
		UserID:     actor.UserID,
		Action:     model.AuditActionCreate,
		Changes:    audit.Changes("title", tc.Title, "suite_id", tc.SuiteID, "status", tc.Status),
	})
	return tc, nil
}

// UpdateCase はテストケースを部分更新する。ステータスを指定した場合はlast_runを現在時刻にする。
// 実際に変わったフィールドのみを監査ログに記録する。
func (s *Service) UpdateCase(ctx context.Context, actor model.Principal, caseID string, upd CaseUpdate) (*model.TestCase, error) {
	tc, err := s.repo.FindCase(ctx, actor.TenantID, caseID)
	if err != nil {
		return nil, fmt.Errorf("テストケースの取得に失敗しました: %w", err)
	}
	if tc == nil {
		return nil, model.NewNotFoundError("テストケース")
	}

	changes := model.Changes{}
	text := func(field string, in *string, dst *string) {
		if in == nil {
			return
		}
		v := s.sanitizer.PlainText(*in)
		if v != *dst {
			*dst = v
			_ = changes.Set(field, v)
		}
	}

	if upd.Title != nil && s.sanitizer.PlainText(*upd.Title) == "" {
		return nil, model.NewValidationError("テストケースのタイトルは必須です")
	}
	text("title", upd.Title, &tc.Title)
	text("steps", upd.Steps, &tc.Steps)
	text("expected_result", upd.ExpectedResult, &tc.ExpectedResult)
	text("actual_result", upd.ActualResult, &tc.ActualResult)

	if upd.Status != nil {
		status, err := model.ParseTestCaseStatus(*upd.Status)
		if err != nil {
			return nil, model.NewValidationError(err.Error())
		}
		now := s.now()
		tc.LastRun = &now
		if status != tc.Status {
			tc.Status = status
			_ = changes.Set("status", status)
		}
	}

	if len(changes) == 0 && upd.Status == nil {
		return tc, nil
	}

	updated, err := s.repo.UpdateCase(ctx, tc)
	if err != nil {
		return nil, fmt.Errorf("テストケースの更新に失敗しました: %w", err)
	}
	if !updated {
		return nil, model.NewNotFoundError("テストケース")
	}

	if len(changes) > 0 {
		s.audit.Record(ctx, audit.Event{
			TenantID:   actor.TenantID,
			EntityType: model.EntityTestCase,
			EntityID:   tc.ID,
			UserID:     actor.UserID,
			Action:     model.AuditActionUpdate,
			Changes:    changes,
		})
	}
	return tc, nil
}

func (s *Service) suite(ctx context.Context, actor model.Principal, suiteID string) (*model.TestSuite, error) {
	suite, err := s.repo.FindSuite(ctx, actor.TenantID, suiteID)
	if err != nil {
		return nil, fmt.Errorf("テストスイートの取得に失敗しました: %w", err)
	}
	if suite == nil {
		return nil, model.NewNotFoundError("テストスイート")
	}
	return suite, nil
}
