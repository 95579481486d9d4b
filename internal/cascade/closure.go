package cascade

import (
	"time"

	"github.com/hitoshi/agileflow/internal/model"
)

// IsClosed はタスクが完了扱いかを返す。
// statusがDoneであるか、テナントの終端列に置かれていれば完了とする。
func IsClosed(task *model.Task, terminalColumnID string) bool {
	if task.Status == model.TaskStatusDone {
		return true
	}
	return terminalColumnID != "" && task.ColumnID != nil && *task.ColumnID == terminalColumnID
}

// ResolveClosure は書き込み前のタスクのclosed_atを確定させる。
// 完了扱いになった時点の時刻を保持し、完了扱いでなくなった場合は消去する。
// closed_atが変化した場合にtrueを返す。
func ResolveClosure(task *model.Task, terminalColumnID string, now time.Time) bool {
	if IsClosed(task, terminalColumnID) {
		if task.ClosedAt != nil {
			return false
		}
		t := now
		task.ClosedAt = &t
		return true
	}
	if task.ClosedAt == nil {
		return false
	}
	task.ClosedAt = nil
	return true
}
