package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/agileflow/internal/model"
)

// PostgresInvitationRepo はPostgreSQLを使用した招待リポジトリ。
type PostgresInvitationRepo struct {
	db *sql.DB
}

// NewPostgresInvitationRepo はPostgresInvitationRepoを生成する。
func NewPostgresInvitationRepo(db *sql.DB) *PostgresInvitationRepo {
	return &PostgresInvitationRepo{db: db}
}

const invitationColumns = `id, tenant_id, email, role, token, invited_by, project_id, expires_at, accepted_at, created_at`

func scanInvitation(row rowScanner) (*model.Invitation, error) {
	inv := &model.Invitation{}
	var role string
	var invitedBy, projectID sql.NullString
	var acceptedAt sql.NullTime
	if err := row.Scan(&inv.ID, &inv.TenantID, &inv.Email, &role, &inv.Token, &invitedBy,
		&projectID, &inv.ExpiresAt, &acceptedAt, &inv.CreatedAt); err != nil {
		return nil, err
	}
	inv.Role = model.Role(role)
	inv.InvitedBy = invitedBy.String
	inv.ProjectID = stringPtr(projectID)
	inv.AcceptedAt = timePtr(acceptedAt)
	return inv, nil
}

// Create は招待を作成する。
func (r *PostgresInvitationRepo) Create(ctx context.Context, inv *model.Invitation) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO invitations (id, tenant_id, email, role, token, invited_by, project_id, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		inv.ID, inv.TenantID, inv.Email, string(inv.Role), inv.Token, nullableString(&inv.InvitedBy),
		nullableString(inv.ProjectID), inv.ExpiresAt, inv.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create invitation: %w", err)
	}
	return nil
}

// FindPendingByToken は未受諾かつ有効期限内の招待を取得する。
func (r *PostgresInvitationRepo) FindPendingByToken(ctx context.Context, token string, now time.Time) (*model.Invitation, error) {
	inv, err := scanInvitation(r.db.QueryRowContext(ctx,
		`SELECT `+invitationColumns+` FROM invitations
		 WHERE token = $1 AND accepted_at IS NULL AND expires_at > $2`,
		token, now))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find invitation: %w", err)
	}
	return inv, nil
}

// ListByTenant はテナントの招待を新しい順に返す。
func (r *PostgresInvitationRepo) ListByTenant(ctx context.Context, tenantID string) ([]*model.Invitation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+invitationColumns+` FROM invitations WHERE tenant_id = $1 ORDER BY created_at DESC`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	defer rows.Close()

	var invs []*model.Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invitation: %w", err)
		}
		invs = append(invs, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate invitations: %w", err)
	}
	return invs, nil
}

// compile-time interface check
var _ InvitationRepository = (*PostgresInvitationRepo)(nil)
