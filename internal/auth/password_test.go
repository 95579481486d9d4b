package auth

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/agileflow/internal/model"
)

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{"too short", "1234567", true},
		{"minimum", "12345678", false},
		{"bcrypt limit", strings.Repeat("a", 72), false},
		{"over bcrypt limit", strings.Repeat("a", 73), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePassword(tt.password)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidatePassword() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var apiErr *model.APIError
				if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeValidation {
					t.Errorf("err = %v, want validation error", err)
				}
			}
		})
	}
}

func TestPasswordHasher_HashAndCompare(t *testing.T) {
	h := NewPasswordHasher(bcrypt.MinCost)

	hash, err := h.Hash("correct horse")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if hash == "correct horse" {
		t.Fatal("hash equals plain text")
	}

	ok, err := h.Compare(hash, "correct horse")
	if err != nil || !ok {
		t.Errorf("Compare(correct) = %v, %v, want true", ok, err)
	}
	ok, err = h.Compare(hash, "wrong horse")
	if err != nil || ok {
		t.Errorf("Compare(wrong) = %v, %v, want false, nil", ok, err)
	}
}

func TestPasswordHasher_MalformedHash(t *testing.T) {
	h := NewPasswordHasher(bcrypt.MinCost)
	if _, err := h.Compare("not-a-hash", "pw"); err == nil {
		t.Error("Compare(malformed) error = nil, want error")
	}
}

func TestNewPasswordHasher_InvalidCostFallsBack(t *testing.T) {
	for _, cost := range []int{0, 3, 99} {
		if got := NewPasswordHasher(cost).cost; got != bcrypt.DefaultCost {
			t.Errorf("NewPasswordHasher(%d).cost = %d, want %d", cost, got, bcrypt.DefaultCost)
		}
	}
}
