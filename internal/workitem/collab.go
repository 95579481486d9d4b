package workitem

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/hitoshi/agileflow/internal/audit"
	"github.com/hitoshi/agileflow/internal/model"
	"github.com/hitoshi/agileflow/internal/security"
)

// AttachmentInput は添付リンク追加の入力。
type AttachmentInput struct {
	TaskID string
	Name   string
	URL    string
	Type   string
}

// ListComments はタスクのコメントを古い順に返す。
func (s *Service) ListComments(ctx context.Context, actor model.Principal, taskID string) ([]*model.Comment, error) {
	if _, err := s.GetTask(ctx, actor, taskID); err != nil {
		return nil, err
	}
	comments, err := s.comments.ListByTask(ctx, actor.TenantID, taskID)
	if err != nil {
		return nil, fmt.Errorf("コメントの取得に失敗しました: %w", err)
	}
	return comments, nil
}

// AddComment はタスクにコメントを追加する。本文はサニタイズして保存する。
func (s *Service) AddComment(ctx context.Context, actor model.Principal, taskID, content string) (*model.Comment, error) {
	body := strings.TrimSpace(s.sanitizer.RichText(content))
	if body == "" {
		return nil, model.NewValidationError("コメント本文は必須です")
	}
	if _, err := s.GetTask(ctx, actor, taskID); err != nil {
		return nil, err
	}

	c := &model.Comment{
		ID:        uuid.NewString(),
		TenantID:  actor.TenantID,
		TaskID:    taskID,
		UserID:    actor.UserID,
		Username:  actor.Username,
		Content:   body,
		CreatedAt: s.now(),
	}
	if err := s.comments.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("コメントの作成に失敗しました: %w", err)
	}

	s.audit.Record(ctx, audit.Event{
		TenantID:   actor.TenantID,
		EntityType: model.EntityComment,
		EntityID:   c.ID,
		UserID:     actor.UserID,
		Action:     model.AuditActionCreate,
		Changes:    audit.Changes("task_id", taskID),
	})
	return c, nil
}

// ListAttachments はタスクの添付リンクを返す。
func (s *Service) ListAttachments(ctx context.Context, actor model.Principal, taskID string) ([]*model.Attachment, error) {
	if _, err := s.GetTask(ctx, actor, taskID); err != nil {
		return nil, err
	}
	attachments, err := s.attachments.ListByTask(ctx, actor.TenantID, taskID)
	if err != nil {
		return nil, fmt.Errorf("添付の取得に失敗しました: %w", err)
	}
	return attachments, nil
}

// AddAttachment はタスクに外部ファイルへのリンクを追加する。
// URLはhttp/httpsの公開アドレスに限る。
func (s *Service) AddAttachment(ctx context.Context, actor model.Principal, in AttachmentInput) (*model.Attachment, error) {
	link := strings.TrimSpace(in.URL)
	if err := security.ValidateLinkURL(link); err != nil {
		return nil, model.NewValidationError(fmt.Sprintf("添付URLが不正です: %v", err))
	}
	name := s.sanitizer.PlainText(strings.TrimSpace(in.Name))
	if name == "" {
		name = link
	}
	if _, err := s.GetTask(ctx, actor, in.TaskID); err != nil {
		return nil, err
	}

	a := &model.Attachment{
		ID:        uuid.NewString(),
		TenantID:  actor.TenantID,
		TaskID:    in.TaskID,
		Name:      name,
		URL:       link,
		Type:      s.sanitizer.PlainText(strings.TrimSpace(in.Type)),
		CreatedAt: s.now(),
	}
	if err := s.attachments.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("添付の作成に失敗しました: %w", err)
	}

	s.audit.Record(ctx, audit.Event{
		TenantID:   actor.TenantID,
		EntityType: model.EntityAttachment,
		EntityID:   a.ID,
		UserID:     actor.UserID,
		Action:     model.AuditActionCreate,
		Changes:    audit.Changes("task_id", in.TaskID, "name", a.Name, "url", a.URL),
	})
	return a, nil
}
