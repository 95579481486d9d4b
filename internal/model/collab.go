package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Comment はタスクへのコメント。Contentはサニタイズ済みHTML。
type Comment struct {
	ID        string
	TenantID  string
	TaskID    string
	UserID    string
	Username  string
	Content   string
	CreatedAt time.Time
}

// Attachment はタスクに紐づく外部ファイルへのリンク。
type Attachment struct {
	ID        string
	TenantID  string
	TaskID    string
	Name      string
	URL       string
	Type      string
	CreatedAt time.Time
}

// CustomFieldType はカスタムフィールドの値の型。
type CustomFieldType string

const (
	CustomFieldText   CustomFieldType = "text"
	CustomFieldNumber CustomFieldType = "number"
	CustomFieldDate   CustomFieldType = "date"
	CustomFieldSelect CustomFieldType = "select"
)

// ParseCustomFieldType は文字列をCustomFieldTypeに変換する。
func ParseCustomFieldType(s string) (CustomFieldType, error) {
	switch CustomFieldType(s) {
	case CustomFieldText, CustomFieldNumber, CustomFieldDate, CustomFieldSelect:
		return CustomFieldType(s), nil
	}
	return "", fmt.Errorf("unknown custom field type: %q", s)
}

// CustomFieldDefinition はテナント単位で定義する追加フィールド。
type CustomFieldDefinition struct {
	ID         string
	TenantID   string
	EntityType string
	Name       string
	FieldType  CustomFieldType
	Options    []string
	Required   bool
	CreatedAt  time.Time
}

// CustomFieldValue はエンティティごとのカスタムフィールド値。
type CustomFieldValue struct {
	ID           string
	TenantID     string
	DefinitionID string
	EntityID     string
	Value        json.RawMessage
	UpdatedAt    time.Time
}
