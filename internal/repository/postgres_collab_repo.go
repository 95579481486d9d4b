package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/agileflow/internal/model"
)

// PostgresCommentRepo はPostgreSQLを使用したコメントリポジトリ。
type PostgresCommentRepo struct {
	db *sql.DB
}

// NewPostgresCommentRepo はPostgresCommentRepoを生成する。
func NewPostgresCommentRepo(db *sql.DB) *PostgresCommentRepo {
	return &PostgresCommentRepo{db: db}
}

func scanComment(row rowScanner) (*model.Comment, error) {
	c := &model.Comment{}
	var userID, username sql.NullString
	if err := row.Scan(&c.ID, &c.TenantID, &c.TaskID, &userID, &username, &c.Content, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.UserID = userID.String
	c.Username = username.String
	return c, nil
}

// Create はコメントを作成する。
func (r *PostgresCommentRepo) Create(ctx context.Context, c *model.Comment) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO comments (id, tenant_id, task_id, user_id, content, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.TenantID, c.TaskID, nullableString(&c.UserID), c.Content, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create comment: %w", err)
	}
	return nil
}

// ListByTask はタスクのコメントを投稿順に返す。
func (r *PostgresCommentRepo) ListByTask(ctx context.Context, tenantID, taskID string) ([]*model.Comment, error) {
	return queryList(ctx, r.db, "comments", scanComment,
		`SELECT c.id, c.tenant_id, c.task_id, c.user_id, u.username, c.content, c.created_at
		 FROM comments c
		 LEFT JOIN users u ON u.id = c.user_id
		 WHERE c.tenant_id = $1 AND c.task_id = $2
		 ORDER BY c.created_at`,
		tenantID, taskID)
}

// PostgresAttachmentRepo はPostgreSQLを使用した添付リンクリポジトリ。
type PostgresAttachmentRepo struct {
	db *sql.DB
}

// NewPostgresAttachmentRepo はPostgresAttachmentRepoを生成する。
func NewPostgresAttachmentRepo(db *sql.DB) *PostgresAttachmentRepo {
	return &PostgresAttachmentRepo{db: db}
}

func scanAttachment(row rowScanner) (*model.Attachment, error) {
	a := &model.Attachment{}
	if err := row.Scan(&a.ID, &a.TenantID, &a.TaskID, &a.Name, &a.URL, &a.Type, &a.CreatedAt); err != nil {
		return nil, err
	}
	return a, nil
}

// Create は添付リンクを作成する。
func (r *PostgresAttachmentRepo) Create(ctx context.Context, a *model.Attachment) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO attachments (id, tenant_id, task_id, name, url, type, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.TenantID, a.TaskID, a.Name, a.URL, a.Type, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create attachment: %w", err)
	}
	return nil
}

// ListByTask はタスクの添付リンクを返す。
func (r *PostgresAttachmentRepo) ListByTask(ctx context.Context, tenantID, taskID string) ([]*model.Attachment, error) {
	return queryList(ctx, r.db, "attachments", scanAttachment,
		`SELECT id, tenant_id, task_id, name, url, type, created_at
		 FROM attachments WHERE tenant_id = $1 AND task_id = $2
		 ORDER BY created_at`,
		tenantID, taskID)
}

// compile-time interface check
var (
	_ CommentRepository    = (*PostgresCommentRepo)(nil)
	_ AttachmentRepository = (*PostgresAttachmentRepo)(nil)
)
