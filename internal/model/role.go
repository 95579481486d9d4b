package model

import "fmt"

// Role はユーザーの権限レベルを表す。テナントに依存しない固定カタログ。
type Role string

const (
	RoleSuperadmin Role = "superadmin"
	RoleAdmin      Role = "admin"
	RoleDev        Role = "dev"
	RoleQA         Role = "qa"
)

// Roles は定義済みロールの一覧を権限の強い順に返す。
func Roles() []Role {
	return []Role{RoleSuperadmin, RoleAdmin, RoleDev, RoleQA}
}

// ParseRole は文字列をRoleに変換する。未定義の値はエラーを返す。
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role: %q", s)
	}
	return r, nil
}

// Valid はロールが定義済みかどうかを返す。
func (r Role) Valid() bool {
	switch r {
	case RoleSuperadmin, RoleAdmin, RoleDev, RoleQA:
		return true
	}
	return false
}

// DisplayName はUI表示用のロール名を返す。
func (r Role) DisplayName() string {
	switch r {
	case RoleSuperadmin:
		return "Super Admin"
	case RoleAdmin:
		return "Admin"
	case RoleDev:
		return "Developer"
	case RoleQA:
		return "QA"
	}
	return string(r)
}

// IsAdminLevel はsuperadminまたはadminの場合にtrueを返す。
func (r Role) IsAdminLevel() bool {
	return r == RoleSuperadmin || r == RoleAdmin
}

// MemberRole はプロジェクトメンバーシップ上の役割を表す。
type MemberRole string

const (
	MemberRoleSuperadmin MemberRole = "superadmin"
	MemberRoleAdmin      MemberRole = "admin"
	MemberRoleMember     MemberRole = "member"
)

// ParseMemberRole は文字列をMemberRoleに変換する。空文字列はmemberとして扱う。
func ParseMemberRole(s string) (MemberRole, error) {
	switch MemberRole(s) {
	case "":
		return MemberRoleMember, nil
	case MemberRoleSuperadmin, MemberRoleAdmin, MemberRoleMember:
		return MemberRole(s), nil
	}
	return "", fmt.Errorf("unknown member role: %q", s)
}
