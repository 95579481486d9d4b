package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/agileflow/internal/model"
	"github.com/hitoshi/agileflow/internal/repository"
)

// TokenPair はログイン時に発行するトークンの組。
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// SessionManager はアクセストークンの検証とリフレッシュトークンの永続化・ローテーションを行う。
// アクセストークンはステートレスで、RevokeAll後も有効期限まで有効なままとなる。
type SessionManager struct {
	tokens  *TokenManager
	refresh repository.RefreshTokenRepository
	users   repository.UserRepository
	now     func() time.Time
}

// NewSessionManager はSessionManagerを生成する。
func NewSessionManager(tokens *TokenManager, refresh repository.RefreshTokenRepository, users repository.UserRepository) *SessionManager {
	return &SessionManager{
		tokens:  tokens,
		refresh: refresh,
		users:   users,
		now:     time.Now,
	}
}

// HashToken はリフレッシュトークンの保存用ダイジェストを返す。
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Issue はアクセストークンとリフレッシュトークンを発行し、リフレッシュトークンのハッシュを保存する。
func (m *SessionManager) Issue(ctx context.Context, p model.Principal) (*TokenPair, error) {
	access, accessExp, err := m.tokens.SignAccess(p)
	if err != nil {
		return nil, err
	}
	refresh, refreshExp, err := m.tokens.SignRefresh(p.UserID)
	if err != nil {
		return nil, err
	}

	row := &model.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    p.UserID,
		TokenHash: HashToken(refresh),
		ExpiresAt: refreshExp,
		CreatedAt: m.now(),
	}
	if err := m.refresh.Create(ctx, row); err != nil {
		return nil, fmt.Errorf("リフレッシュトークンの保存に失敗しました: %w", err)
	}

	return &TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// ValidateAccess はアクセストークンを検証する。保存領域には問い合わせない。
func (m *SessionManager) ValidateAccess(token string) (model.Principal, error) {
	p, err := m.tokens.ParseAccess(token)
	if err != nil {
		return model.Principal{}, model.NewUnauthenticatedError()
	}
	return p, nil
}

// Rotate はリフレッシュトークンを検証し、新しいアクセストークンを発行する。
// 保存済みの期限内ハッシュすべてと比較するため、同一ユーザーの複数端末のトークンが同時に有効となる。
// ユーザーを再取得するため、ロール変更は新しいアクセストークンに反映される。
func (m *SessionManager) Rotate(ctx context.Context, refreshToken string) (string, time.Time, error) {
	claims, err := m.tokens.ParseRefresh(refreshToken)
	if err != nil {
		return "", time.Time{}, model.NewUnauthenticatedError()
	}

	rows, err := m.refresh.ListActiveByUserID(ctx, claims.UserID, m.now())
	if err != nil {
		return "", time.Time{}, fmt.Errorf("リフレッシュトークンの取得に失敗しました: %w", err)
	}

	digest := []byte(HashToken(refreshToken))
	matched := 0
	for _, row := range rows {
		matched |= subtle.ConstantTimeCompare(digest, []byte(row.TokenHash))
	}
	if matched != 1 {
		slog.Warn("unknown refresh token presented", slog.String("user_id", claims.UserID))
		return "", time.Time{}, model.NewUnauthenticatedError()
	}

	user, err := m.users.FindByID(ctx, claims.UserID)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return "", time.Time{}, model.NewUnauthenticatedError()
	}

	return m.tokens.SignAccess(model.PrincipalOf(user))
}

// RevokeAll はユーザーのリフレッシュトークンをすべて削除する。
func (m *SessionManager) RevokeAll(ctx context.Context, userID string) error {
	if err := m.refresh.DeleteByUserID(ctx, userID); err != nil {
		return fmt.Errorf("リフレッシュトークンの削除に失敗しました: %w", err)
	}
	return nil
}
