package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/agileflow/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

const userColumns = `u.id, u.tenant_id, u.username, u.email, u.full_name, u.role, u.password_hash,
	u.email_verified, u.verification_token, u.reset_token, u.reset_token_expires_at,
	u.created_at, u.updated_at`

func scanUser(row rowScanner) (*model.User, error) {
	u := &model.User{}
	var role string
	var verification, reset sql.NullString
	var resetExpires sql.NullTime
	if err := row.Scan(&u.ID, &u.TenantID, &u.Username, &u.Email, &u.FullName, &role, &u.PasswordHash,
		&u.EmailVerified, &verification, &reset, &resetExpires, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.Role = model.Role(role)
	u.VerificationToken = verification.String
	u.ResetToken = reset.String
	u.ResetTokenExpires = timePtr(resetExpires)
	return u, nil
}

func (r *PostgresUserRepo) findOne(ctx context.Context, query string, args ...any) (*model.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return u, nil
}

func (r *PostgresUserRepo) findMany(ctx context.Context, query string, args ...any) ([]*model.User, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return users, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if !validID(id) {
		return nil, nil
	}
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users u WHERE u.id = $1`, id)
}

// FindInTenant はテナント内の指定IDのユーザーを取得する。
func (r *PostgresUserRepo) FindInTenant(ctx context.Context, tenantID, id string) (*model.User, error) {
	if !validID(id) {
		return nil, nil
	}
	return r.findOne(ctx,
		`SELECT `+userColumns+` FROM users u WHERE u.tenant_id = $1 AND u.id = $2`,
		tenantID, id)
}

// FindByLogin はユーザー名またはメールアドレスに一致するユーザーを返す。
func (r *PostgresUserRepo) FindByLogin(ctx context.Context, login, tenantSlug string) ([]*model.User, error) {
	if tenantSlug != "" {
		return r.findMany(ctx,
			`SELECT `+userColumns+` FROM users u
			 JOIN tenants t ON t.id = u.tenant_id
			 WHERE (u.username = $1 OR u.email = $1) AND t.slug = $2`,
			login, tenantSlug)
	}
	return r.findMany(ctx,
		`SELECT `+userColumns+` FROM users u
		 WHERE u.username = $1 OR u.email = $1
		 ORDER BY u.created_at`,
		login)
}

// FindByEmail はテナント内のメールアドレスに一致するユーザーを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, tenantID, email string) (*model.User, error) {
	return r.findOne(ctx,
		`SELECT `+userColumns+` FROM users u WHERE u.tenant_id = $1 AND u.email = $2`,
		tenantID, email)
}

// FindByVerificationToken はメール確認トークンでユーザーを取得する。
func (r *PostgresUserRepo) FindByVerificationToken(ctx context.Context, token string) (*model.User, error) {
	return r.findOne(ctx,
		`SELECT `+userColumns+` FROM users u WHERE u.verification_token = $1`, token)
}

// FindByResetToken は有効期限内のパスワードリセットトークンでユーザーを取得する。
func (r *PostgresUserRepo) FindByResetToken(ctx context.Context, token string, now time.Time) (*model.User, error) {
	return r.findOne(ctx,
		`SELECT `+userColumns+` FROM users u
		 WHERE u.reset_token = $1 AND u.reset_token_expires_at > $2`,
		token, now)
}

// ListByTenant はテナントの全ユーザーを返す。
func (r *PostgresUserRepo) ListByTenant(ctx context.Context, tenantID string) ([]*model.User, error) {
	return r.findMany(ctx,
		`SELECT `+userColumns+` FROM users u WHERE u.tenant_id = $1 ORDER BY u.created_at`,
		tenantID)
}

// ListByProjects は指定プロジェクトのいずれかに所属するユーザーを返す。
func (r *PostgresUserRepo) ListByProjects(ctx context.Context, tenantID string, projectIDs []string) ([]*model.User, error) {
	if len(projectIDs) == 0 {
		return []*model.User{}, nil
	}
	return r.findMany(ctx,
		`SELECT `+userColumns+` FROM users u
		 WHERE u.tenant_id = $1
		   AND EXISTS (
		     SELECT 1 FROM project_members pm
		     WHERE pm.user_id = u.id AND pm.project_id = ANY($2)
		   )
		 ORDER BY u.created_at`,
		tenantID, pq.Array(projectIDs))
}

// insertUser はトランザクション内でユーザーを作成する。
func insertUser(ctx context.Context, tx *sql.Tx, u *model.User) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO users (id, tenant_id, username, email, full_name, role, password_hash,
		   email_verified, verification_token, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		u.ID, u.TenantID, u.Username, u.Email, u.FullName, string(u.Role), u.PasswordHash,
		u.EmailVerified, nullableString(&u.VerificationToken), u.CreatedAt, u.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// CreateWithinLimit はテナント行をロックして人数上限を再確認した上でユーザーを作成する。
func (r *PostgresUserRepo) CreateWithinLimit(ctx context.Context, u *model.User, opts CreateUserOptions) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := reserveWithinLimit(ctx, tx, u.TenantID, model.ResourceMembers); err != nil {
		return err
	}

	if opts.AcceptInvitationID != "" {
		result, err := tx.ExecContext(ctx,
			`UPDATE invitations SET accepted_at = $1
			 WHERE id = $2 AND tenant_id = $3 AND accepted_at IS NULL AND expires_at > $1`,
			u.CreatedAt, opts.AcceptInvitationID, u.TenantID,
		)
		if err != nil {
			return fmt.Errorf("failed to accept invitation: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if n == 0 {
			return ErrDuplicate
		}
	}

	if err := insertUser(ctx, tx, u); err != nil {
		return err
	}

	if m := opts.Membership; m != nil {
		if err := insertMember(ctx, tx, m); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// UpdatePassword はパスワードハッシュを更新し、リセットトークンを消去する。
func (r *PostgresUserRepo) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET password_hash = $1, reset_token = NULL, reset_token_expires_at = NULL,
		   updated_at = now()
		 WHERE id = $2`,
		passwordHash, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return nil
}

// SetResetToken はパスワードリセットトークンと有効期限を設定する。
func (r *PostgresUserRepo) SetResetToken(ctx context.Context, id, token string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET reset_token = $1, reset_token_expires_at = $2, updated_at = now() WHERE id = $3`,
		token, expiresAt, id,
	)
	if err != nil {
		return fmt.Errorf("failed to set reset token: %w", err)
	}
	return nil
}

// MarkEmailVerified はメール確認済みにしてトークンを消去する。
func (r *PostgresUserRepo) MarkEmailVerified(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET email_verified = TRUE, verification_token = NULL, updated_at = now() WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark email verified: %w", err)
	}
	return nil
}

// DeleteInTenant はテナント内のユーザーを削除する。
// refresh_tokens、project_membersはCASCADE削除される。
func (r *PostgresUserRepo) DeleteInTenant(ctx context.Context, tenantID, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM users WHERE tenant_id = $1 AND id = $2`,
		tenantID, id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete user: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
