package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// AuditAction は監査ログの操作種別。
type AuditAction string

const (
	AuditActionCreate AuditAction = "CREATE"
	AuditActionUpdate AuditAction = "UPDATE"
	AuditActionDelete AuditAction = "DELETE"
)

// エンティティ種別
const (
	EntityTask       = "task"
	EntityFeature    = "feature"
	EntityEpic       = "epic"
	EntitySprint     = "sprint"
	EntityProject    = "project"
	EntityUser       = "user"
	EntityInvitation = "invitation"
	EntityComment    = "comment"
	EntityAttachment = "attachment"
	EntityTestSuite  = "test_suite"
	EntityTestCase   = "test_case"
)

// AuditLogEntry は変更の不変な記録を表す。追記のみで更新・削除しない。
type AuditLogEntry struct {
	ID         string
	TenantID   string
	EntityType string
	EntityID   string
	UserID     string
	Action     AuditAction
	Changes    Changes
	CreatedAt  time.Time
}

// Change はフィールド名と新しい値の組。
type Change struct {
	Field string
	Value json.RawMessage
}

// Changes はフィールド名から新しい値への順序付きマッピング。
// JSONオブジェクトとして入力時のキー順を保持して入出力する。
type Changes []Change

// Set はフィールドの値を設定する。既存キーは位置を保ったまま上書きする。
func (c *Changes) Set(field string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal change %q: %w", field, err)
	}
	c.SetRaw(field, raw)
	return nil
}

// SetRaw はエンコード済みの値を設定する。
func (c *Changes) SetRaw(field string, raw json.RawMessage) {
	for i := range *c {
		if (*c)[i].Field == field {
			(*c)[i].Value = raw
			return
		}
	}
	*c = append(*c, Change{Field: field, Value: raw})
}

// Get はフィールドの値を返す。
func (c Changes) Get(field string) (json.RawMessage, bool) {
	for _, ch := range c {
		if ch.Field == field {
			return ch.Value, true
		}
	}
	return nil, false
}

// Fields はフィールド名を順番に返す。
func (c Changes) Fields() []string {
	out := make([]string, len(c))
	for i, ch := range c {
		out[i] = ch.Field
	}
	return out
}

// MarshalJSON は順序を保ったJSONオブジェクトを出力する。
func (c Changes) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, ch := range c {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(ch.Field)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		if len(ch.Value) == 0 {
			buf.WriteString("null")
		} else {
			buf.Write(ch.Value)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON はJSONオブジェクトをキー順を保って読み込む。
// 重複キーは最後の値で上書きし、最初の出現位置を保つ。
func (c *Changes) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*c = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("changes must be a JSON object")
	}

	out := Changes{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected token %v in changes", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		out.SetRaw(key, raw)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*c = out
	return nil
}
