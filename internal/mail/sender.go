// Package mail は外部メール配信のインターフェースを定義する。
package mail

import (
	"context"
	"log/slog"
)

// Message は送信するメール。
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender はメール配信のインターフェース。
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender は配信せずに送信内容をログに記録するSender。
// 本文にはトークンを含むため、ログには宛先と件名のみを出力する。
type LogSender struct{}

// Send は送信内容をログに記録する。
func (LogSender) Send(ctx context.Context, msg Message) error {
	slog.InfoContext(ctx, "mail send skipped",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
	)
	return nil
}

// compile-time interface check
var _ Sender = LogSender{}
