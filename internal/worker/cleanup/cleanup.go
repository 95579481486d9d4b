// Package cleanup は期限切れの認証データを削除する定期ジョブを提供する。
// 対象は期限切れのリフレッシュトークン、未受諾のまま期限切れになった招待、
// 期限切れのパスワードリセットトークンの3種類。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/agileflow/internal/metrics"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// target は1種類のクリーンアップ対象とそのSQL。$1には基準時刻を渡す。
type target struct {
	name  string
	query string
}

var targets = []target{
	{
		name:  "refresh_tokens",
		query: `DELETE FROM refresh_tokens WHERE expires_at < $1`,
	},
	{
		name:  "invitations",
		query: `DELETE FROM invitations WHERE accepted_at IS NULL AND expires_at < $1`,
	},
	{
		name: "reset_tokens",
		query: `UPDATE users SET reset_token = NULL, reset_token_expires_at = NULL
		 WHERE reset_token IS NOT NULL AND reset_token_expires_at < $1`,
	},
}

// CleanupJob は期限切れデータの削除ジョブ。
// 何度実行しても結果が変わらない冪等な処理として設計している。
type CleanupJob struct {
	db      Executor
	logger  *slog.Logger
	metrics metrics.MetricsCollector
	now     func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。mcがnilの場合はメトリクスを記録しない。
func NewCleanupJob(db Executor, logger *slog.Logger, mc metrics.MetricsCollector) *CleanupJob {
	if mc == nil {
		mc = metrics.NopCollector{}
	}
	return &CleanupJob{
		db:      db,
		logger:  logger,
		metrics: mc,
		now:     time.Now,
	}
}

// Run は全対象のクリーンアップを順に実行する。
// 1つの対象が失敗しても残りは実行し、最初のエラーを返す。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	cutoff := j.now()

	var firstErr error
	var total int64
	for _, t := range targets {
		n, err := j.runTarget(ctx, t, cutoff)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		total += n
	}

	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("affected_count", total),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return firstErr
}

func (j *CleanupJob) runTarget(ctx context.Context, t target, cutoff time.Time) (int64, error) {
	result, err := j.db.ExecContext(ctx, t.query, cutoff)
	if err != nil {
		j.logger.Error("クリーンアップの実行に失敗しました",
			slog.String("target", t.name),
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("%sのクリーンアップに失敗: %w", t.name, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%sの処理件数の取得に失敗: %w", t.name, err)
	}

	j.metrics.RecordCleanupDeleted(t.name, n)
	j.logger.Info("クリーンアップ対象を処理しました",
		slog.String("target", t.name),
		slog.Int64("deleted_count", n),
	)
	return n, nil
}

// Start は起動直後に1回実行し、その後intervalごとに実行する。ctxがキャンセルされると戻る。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if err := j.Run(ctx); err != nil {
		j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
			}
		}
	}
}
