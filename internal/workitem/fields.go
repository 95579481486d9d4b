package workitem

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hitoshi/agileflow/internal/model"
)

const dateLayout = "2006-01-02"

func invalidField(field string) error {
	return model.NewValidationError(fmt.Sprintf("フィールドの値が不正です: %s", field))
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func decodeString(field string, raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", invalidField(field)
	}
	return s, nil
}

// decodeOptionalString はnullと空文字列をnilとして扱う。
func decodeOptionalString(field string, raw json.RawMessage) (*string, error) {
	if isNull(raw) {
		return nil, nil
	}
	s, err := decodeString(field, raw)
	if err != nil {
		return nil, err
	}
	if s == "" {
		return nil, nil
	}
	return &s, nil
}

func decodeOptionalInt(field string, raw json.RawMessage) (*int, error) {
	if isNull(raw) {
		return nil, nil
	}
	var n int
	if err := json.Unmarshal(raw, &n); err != nil || n < 0 {
		return nil, invalidField(field)
	}
	return &n, nil
}

func decodeOptionalFloat(field string, raw json.RawMessage) (*float64, error) {
	if isNull(raw) {
		return nil, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil || f < 0 {
		return nil, invalidField(field)
	}
	return &f, nil
}

func decodeOptionalDate(field string, raw json.RawMessage) (*time.Time, error) {
	s, err := decodeOptionalString(field, raw)
	if err != nil || s == nil {
		return nil, err
	}
	return parseDate(field, *s)
}

func parseDate(field, s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return nil, invalidField(field)
	}
	return &t, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func sameRef(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
