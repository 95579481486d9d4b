package access

import "github.com/hitoshi/agileflow/internal/model"

// 書き込み操作ごとの許可ロール
var (
	// AdminRoles はテナント管理操作（招待、プロジェクト作成、タスク削除、カスタムフィールド定義）を許可するロール。
	AdminRoles = []model.Role{model.RoleSuperadmin, model.RoleAdmin}
	// SuperadminOnly はテナント破壊的操作（ユーザー削除、プロジェクト削除）を許可するロール。
	SuperadminOnly = []model.Role{model.RoleSuperadmin}
)

// RequireRole はroleがallowedに含まれない場合にForbiddenエラーを返す。
func RequireRole(role model.Role, allowed ...model.Role) error {
	for _, a := range allowed {
		if role == a {
			return nil
		}
	}
	return model.NewForbiddenError()
}

// CanAssignRole はactorがtargetロールのユーザーを作成・招待できるかを返す。
// superadminはすべてのロールを、adminは管理者以外のロールのみを割り当てられる。
func CanAssignRole(actor, target model.Role) bool {
	if !target.Valid() {
		return false
	}
	switch actor {
	case model.RoleSuperadmin:
		return true
	case model.RoleAdmin:
		return !target.IsAdminLevel()
	}
	return false
}
