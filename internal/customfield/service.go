// Package customfield はテナント単位の追加フィールドの定義と値を扱う。
package customfield

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/agileflow/internal/access"
	"github.com/hitoshi/agileflow/internal/audit"
	"github.com/hitoshi/agileflow/internal/model"
	"github.com/hitoshi/agileflow/internal/repository"
	"github.com/hitoshi/agileflow/internal/security"
)

// targetEntities はカスタムフィールドを定義できるエンティティ種別。
var targetEntities = map[string]bool{
	model.EntityTask:    true,
	model.EntityFeature: true,
	model.EntityEpic:    true,
	model.EntitySprint:  true,
	model.EntityProject: true,
}

// DefinitionInput は定義作成の入力。
type DefinitionInput struct {
	EntityType string
	Name       string
	FieldType  string
	Options    []string
	Required   bool
}

// EntityChecker は値を持つエンティティの存在と参照可否を確認するインターフェース。
// 参照できない場合はNotFoundを返す。
type EntityChecker interface {
	CheckVisible(ctx context.Context, actor model.Principal, entityType, entityID string) error
}

// Service はカスタムフィールドのサービス層。
type Service struct {
	repo      repository.CustomFieldRepository
	entities  EntityChecker
	audit     audit.RecorderInterface
	sanitizer security.ContentSanitizer
	now       func() time.Time
}

// NewService はServiceを生成する。
func NewService(repo repository.CustomFieldRepository, entities EntityChecker, rec audit.RecorderInterface) *Service {
	return &Service{
		repo:      repo,
		entities:  entities,
		audit:     rec,
		sanitizer: security.NewContentSanitizer(),
		now:       time.Now,
	}
}

// ListDefinitions はテナントの定義を返す。entityTypeが空の場合は全種別を返す。
func (s *Service) ListDefinitions(ctx context.Context, actor model.Principal, entityType string) ([]*model.CustomFieldDefinition, error) {
	if entityType != "" && !targetEntities[entityType] {
		return nil, model.NewValidationError(fmt.Sprintf("未対応のエンティティ種別です: %s", entityType))
	}
	defs, err := s.repo.ListDefinitions(ctx, actor.TenantID, entityType)
	if err != nil {
		return nil, fmt.Errorf("カスタムフィールド定義の取得に失敗しました: %w", err)
	}
	return defs, nil
}

// CreateDefinition は定義を作成する。superadminとadminのみが実行できる。
func (s *Service) CreateDefinition(ctx context.Context, actor model.Principal, in DefinitionInput) (*model.CustomFieldDefinition, error) {
	if err := access.RequireRole(actor.Role, access.AdminRoles...); err != nil {
		return nil, err
	}
	if !targetEntities[in.EntityType] {
		return nil, model.NewValidationError(fmt.Sprintf("未対応のエンティティ種別です: %s", in.EntityType))
	}
	name := s.sanitizer.PlainText(strings.TrimSpace(in.Name))
	if name == "" {
		return nil, model.NewValidationError("フィールド名は必須です")
	}
	fieldType, err := model.ParseCustomFieldType(in.FieldType)
	if err != nil {
		return nil, model.NewValidationError(err.Error())
	}

	var options []string
	seen := map[string]bool{}
	for _, o := range in.Options {
		o = s.sanitizer.PlainText(strings.TrimSpace(o))
		if o == "" || seen[o] {
			continue
		}
		seen[o] = true
		options = append(options, o)
	}
	if fieldType == model.CustomFieldSelect && len(options) == 0 {
		return nil, model.NewValidationError("選択肢を1つ以上指定してください")
	}
	if fieldType != model.CustomFieldSelect {
		options = nil
	}

	def := &model.CustomFieldDefinition{
		ID:         uuid.NewString(),
		TenantID:   actor.TenantID,
		EntityType: in.EntityType,
		Name:       name,
		FieldType:  fieldType,
		Options:    options,
		Required:   in.Required,
		CreatedAt:  s.now(),
	}
	if err := s.repo.CreateDefinition(ctx, def); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewConflictError("同じ名前のフィールドが既に存在します")
		}
		return nil, fmt.Errorf("カスタムフィールド定義の作成に失敗しました: %w", err)
	}

	slog.Info("custom field defined",
		slog.String("tenant_id", actor.TenantID),
		slog.String("entity_type", def.EntityType),
		slog.String("field_type", string(def.FieldType)),
	)
	return def, nil
}

// DeleteDefinition は定義を削除する。値はCASCADE削除される。
func (s *Service) DeleteDefinition(ctx context.Context, actor model.Principal, id string) error {
	if err := access.RequireRole(actor.Role, access.AdminRoles...); err != nil {
		return err
	}
	deleted, err := s.repo.DeleteDefinition(ctx, actor.TenantID, id)
	if err != nil {
		return fmt.Errorf("カスタムフィールド定義の削除に失敗しました: %w", err)
	}
	if !deleted {
		return model.NewNotFoundError("カスタムフィールド")
	}
	return nil
}

// ListValues はエンティティのカスタムフィールド値を返す。
// エンティティの種別は値が参照する定義から決まり、参照できないエンティティはNotFoundとなる。
func (s *Service) ListValues(ctx context.Context, actor model.Principal, entityID string) ([]*model.CustomFieldValue, error) {
	values, err := s.repo.ListValues(ctx, actor.TenantID, entityID)
	if err != nil {
		return nil, fmt.Errorf("カスタムフィールド値の取得に失敗しました: %w", err)
	}
	if len(values) == 0 {
		return values, nil
	}

	checked := map[string]bool{}
	for _, v := range values {
		def, err := s.repo.FindDefinition(ctx, actor.TenantID, v.DefinitionID)
		if err != nil {
			return nil, fmt.Errorf("カスタムフィールド定義の取得に失敗しました: %w", err)
		}
		if def == nil || checked[def.EntityType] {
			continue
		}
		if err := s.entities.CheckVisible(ctx, actor, def.EntityType, entityID); err != nil {
			return nil, err
		}
		checked[def.EntityType] = true
	}
	return values, nil
}

// SetValue はエンティティのカスタムフィールド値を作成または更新する。
// 値は定義の型に従って検証する。
func (s *Service) SetValue(ctx context.Context, actor model.Principal, definitionID, entityID string, raw json.RawMessage) (*model.CustomFieldValue, error) {
	if entityID == "" {
		return nil, model.NewValidationError("entity_idは必須です")
	}
	def, err := s.repo.FindDefinition(ctx, actor.TenantID, definitionID)
	if err != nil {
		return nil, fmt.Errorf("カスタムフィールド定義の取得に失敗しました: %w", err)
	}
	if def == nil {
		return nil, model.NewNotFoundError("カスタムフィールド")
	}
	if err := s.entities.CheckVisible(ctx, actor, def.EntityType, entityID); err != nil {
		return nil, err
	}

	value, err := s.normalize(def, raw)
	if err != nil {
		return nil, err
	}

	v := &model.CustomFieldValue{
		ID:           uuid.NewString(),
		TenantID:     actor.TenantID,
		DefinitionID: def.ID,
		EntityID:     entityID,
		Value:        value,
		UpdatedAt:    s.now(),
	}
	if err := s.repo.UpsertValue(ctx, v); err != nil {
		return nil, fmt.Errorf("カスタムフィールド値の保存に失敗しました: %w", err)
	}

	changes := model.Changes{}
	changes.SetRaw("custom_field:"+def.Name, v.Value)
	s.audit.Record(ctx, audit.Event{
		TenantID:   actor.TenantID,
		EntityType: def.EntityType,
		EntityID:   entityID,
		UserID:     actor.UserID,
		Action:     model.AuditActionUpdate,
		Changes:    changes,
	})
	return v, nil
}

// normalize は値を定義の型で検証し、保存用のJSONを返す。
func (s *Service) normalize(def *model.CustomFieldDefinition, raw json.RawMessage) (json.RawMessage, error) {
	invalid := model.NewValidationError(fmt.Sprintf("%sの値が不正です", def.Name))

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		if def.Required {
			return nil, model.NewValidationError(fmt.Sprintf("%sは必須です", def.Name))
		}
		return json.RawMessage("null"), nil
	}

	switch def.FieldType {
	case model.CustomFieldNumber:
		var n float64
		if err := json.Unmarshal(trimmed, &n); err != nil {
			return nil, invalid
		}
		return json.Marshal(n)
	case model.CustomFieldText, model.CustomFieldDate, model.CustomFieldSelect:
		var str string
		if err := json.Unmarshal(trimmed, &str); err != nil {
			return nil, invalid
		}
		switch def.FieldType {
		case model.CustomFieldText:
			str = s.sanitizer.PlainText(str)
		case model.CustomFieldDate:
			if _, err := time.Parse("2006-01-02", str); err != nil {
				return nil, invalid
			}
		case model.CustomFieldSelect:
			if !contains(def.Options, str) {
				return nil, invalid
			}
		}
		if str == "" && def.Required {
			return nil, model.NewValidationError(fmt.Sprintf("%sは必須です", def.Name))
		}
		return json.Marshal(str)
	}
	return nil, invalid
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
