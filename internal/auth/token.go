package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/agileflow/internal/model"
)

// ErrInvalidToken は署名、有効期限、用途のいずれかが不正なトークンを表す。
var ErrInvalidToken = errors.New("invalid token")

const (
	tokenUseAccess  = "access"
	tokenUseRefresh = "refresh"
)

// AccessClaims はアクセストークンのペイロード。
type AccessClaims struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
	RoleID   string `json:"role_id"`
	RoleName string `json:"role_name"`
	Username string `json:"username"`
	TokenUse string `json:"token_use"`
	jwt.RegisteredClaims
}

// RefreshClaims はリフレッシュトークンのペイロード。RegisteredClaims.IDにjtiを持つ。
type RefreshClaims struct {
	UserID   string `json:"user_id"`
	TokenUse string `json:"token_use"`
	jwt.RegisteredClaims
}

// TokenManager はHS256で署名したJWTの発行と検証を行う。
type TokenManager struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenManager はTokenManagerを生成する。
func NewTokenManager(secret string, accessTTL, refreshTTL time.Duration) *TokenManager {
	return &TokenManager{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// SignAccess はプリンシパルのアクセストークンを発行する。
func (m *TokenManager) SignAccess(p model.Principal) (string, time.Time, error) {
	now := m.now()
	expiresAt := now.Add(m.accessTTL)
	claims := &AccessClaims{
		UserID:   p.UserID,
		TenantID: p.TenantID,
		RoleID:   string(p.Role),
		RoleName: p.Role.DisplayName(),
		Username: p.Username,
		TokenUse: tokenUseAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

// SignRefresh はユーザーのリフレッシュトークンを発行する。
// 同時刻に発行しても値が重複しないようjtiを付与する。
func (m *TokenManager) SignRefresh(userID string) (string, time.Time, error) {
	now := m.now()
	expiresAt := now.Add(m.refreshTTL)
	claims := &RefreshClaims{
		UserID:   userID,
		TokenUse: tokenUseRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign refresh token: %w", err)
	}
	return signed, expiresAt, nil
}

// ParseAccess はアクセストークンを検証してプリンシパルを復元する。
func (m *TokenManager) ParseAccess(tokenString string) (model.Principal, error) {
	claims := &AccessClaims{}
	if err := m.parse(tokenString, claims); err != nil {
		return model.Principal{}, err
	}
	if claims.TokenUse != tokenUseAccess || claims.UserID == "" || claims.TenantID == "" {
		return model.Principal{}, ErrInvalidToken
	}
	role, err := model.ParseRole(claims.RoleID)
	if err != nil {
		return model.Principal{}, ErrInvalidToken
	}
	return model.Principal{
		UserID:   claims.UserID,
		TenantID: claims.TenantID,
		Role:     role,
		Username: claims.Username,
	}, nil
}

// ParseRefresh はリフレッシュトークンを検証してクレームを返す。
func (m *TokenManager) ParseRefresh(tokenString string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := m.parse(tokenString, claims); err != nil {
		return nil, err
	}
	if claims.TokenUse != tokenUseRefresh || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (m *TokenManager) parse(tokenString string, claims jwt.Claims) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return ErrInvalidToken
	}
	return nil
}
