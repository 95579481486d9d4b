package model

import "time"

// User はテナントに所属するユーザーを表す。
// PasswordHashと各種トークンはAPI応答に含めない。
type User struct {
	ID                string
	TenantID          string
	Username          string
	Email             string
	FullName          string
	Role              Role
	PasswordHash      string
	EmailVerified     bool
	VerificationToken string
	ResetToken        string
	ResetTokenExpires *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Principal は認証済みアクセストークンから復元した呼び出し元を表す。
type Principal struct {
	UserID   string
	TenantID string
	Role     Role
	Username string
}

// IsSuperadmin はプリンシパルがsuperadminかどうかを返す。
func (p Principal) IsSuperadmin() bool {
	return p.Role == RoleSuperadmin
}

// PrincipalOf はユーザーからプリンシパルを生成する。
func PrincipalOf(u *User) Principal {
	return Principal{
		UserID:   u.ID,
		TenantID: u.TenantID,
		Role:     u.Role,
		Username: u.Username,
	}
}

// RefreshToken は永続化されたリフレッシュトークンのハッシュを表す。
type RefreshToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Invitation はワークスペースへの招待を表す。
type Invitation struct {
	ID         string
	TenantID   string
	Email      string
	Role       Role
	Token      string
	InvitedBy  string
	ProjectID  *string
	ExpiresAt  time.Time
	AcceptedAt *time.Time
	CreatedAt  time.Time
}
