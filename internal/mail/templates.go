package mail

import "fmt"

// VerificationMessage はメールアドレス確認メールを生成する。
func VerificationMessage(appURL, to, token string) Message {
	return Message{
		To:      to,
		Subject: "メールアドレスの確認",
		Body:    fmt.Sprintf("以下のリンクからメールアドレスを確認してください。\n%s/verify-email?token=%s\n", appURL, token),
	}
}

// PasswordResetMessage はパスワードリセットメールを生成する。
func PasswordResetMessage(appURL, to, token string) Message {
	return Message{
		To:      to,
		Subject: "パスワードの再設定",
		Body:    fmt.Sprintf("以下のリンクから1時間以内にパスワードを再設定してください。\n%s/reset-password?token=%s\n", appURL, token),
	}
}

// InvitationMessage はワークスペース招待メールを生成する。
func InvitationMessage(appURL, to, workspace, token string) Message {
	return Message{
		To:      to,
		Subject: fmt.Sprintf("%s への招待", workspace),
		Body:    fmt.Sprintf("%s に招待されました。以下のリンクから参加してください。\n%s/accept-invite?token=%s\n", workspace, appURL, token),
	}
}
