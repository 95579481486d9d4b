package model

import (
	"fmt"
	"time"
)

// TaskStatus はタスクのステータス。
type TaskStatus string

const (
	TaskStatusTodo       TaskStatus = "To Do"
	TaskStatusInProgress TaskStatus = "In Progress"
	TaskStatusReview     TaskStatus = "Review"
	TaskStatusDone       TaskStatus = "Done"
)

// ParseTaskStatus は文字列をTaskStatusに変換する。
func ParseTaskStatus(s string) (TaskStatus, error) {
	switch TaskStatus(s) {
	case TaskStatusTodo, TaskStatusInProgress, TaskStatusReview, TaskStatusDone:
		return TaskStatus(s), nil
	}
	return "", fmt.Errorf("unknown task status: %q", s)
}

// FeatureStatus はフィーチャーのステータス。
type FeatureStatus string

const (
	FeatureStatusDraft       FeatureStatus = "Draft"
	FeatureStatusReadyForDev FeatureStatus = "Ready for Dev"
	FeatureStatusInProgress  FeatureStatus = "In Progress"
	FeatureStatusVerified    FeatureStatus = "Verified"
)

// ParseFeatureStatus は文字列をFeatureStatusに変換する。
func ParseFeatureStatus(s string) (FeatureStatus, error) {
	switch FeatureStatus(s) {
	case FeatureStatusDraft, FeatureStatusReadyForDev, FeatureStatusInProgress, FeatureStatusVerified:
		return FeatureStatus(s), nil
	}
	return "", fmt.Errorf("unknown feature status: %q", s)
}

// EpicStatus はエピックのステータス。
type EpicStatus string

const (
	EpicStatusBacklog    EpicStatus = "Backlog"
	EpicStatusInApproval EpicStatus = "In Approval"
	EpicStatusInProgress EpicStatus = "In Progress"
	EpicStatusCompleted  EpicStatus = "Completed"
	EpicStatusArchived   EpicStatus = "Archived"
)

// ParseEpicStatus は文字列をEpicStatusに変換する。
func ParseEpicStatus(s string) (EpicStatus, error) {
	switch EpicStatus(s) {
	case EpicStatusBacklog, EpicStatusInApproval, EpicStatusInProgress, EpicStatusCompleted, EpicStatusArchived:
		return EpicStatus(s), nil
	}
	return "", fmt.Errorf("unknown epic status: %q", s)
}

// SprintStatus はスプリントのステータス。
type SprintStatus string

const (
	SprintStatusPlanned SprintStatus = "Planned"
	SprintStatusActive  SprintStatus = "Active"
	SprintStatusClosed  SprintStatus = "Closed"
)

// ParseSprintStatus は文字列をSprintStatusに変換する。
func ParseSprintStatus(s string) (SprintStatus, error) {
	switch SprintStatus(s) {
	case SprintStatusPlanned, SprintStatusActive, SprintStatusClosed:
		return SprintStatus(s), nil
	}
	return "", fmt.Errorf("unknown sprint status: %q", s)
}

// TaskType はタスクの種別。
type TaskType string

const (
	TaskTypeTask  TaskType = "task"
	TaskTypeStory TaskType = "story"
	TaskTypeBug   TaskType = "bug"
	TaskTypeIssue TaskType = "issue"
)

// ParseTaskType は文字列をTaskTypeに変換する。空文字列はtaskとして扱う。
func ParseTaskType(s string) (TaskType, error) {
	switch TaskType(s) {
	case "":
		return TaskTypeTask, nil
	case TaskTypeTask, TaskTypeStory, TaskTypeBug, TaskTypeIssue:
		return TaskType(s), nil
	}
	return "", fmt.Errorf("unknown task type: %q", s)
}

// Priority はタスクの優先度。
type Priority string

const (
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2"
	PriorityP3 Priority = "P3"
)

// ParsePriority は文字列をPriorityに変換する。空文字列はP2として扱う。
func ParsePriority(s string) (Priority, error) {
	switch Priority(s) {
	case "":
		return PriorityP2, nil
	case PriorityP1, PriorityP2, PriorityP3:
		return Priority(s), nil
	}
	return "", fmt.Errorf("unknown priority: %q", s)
}

// Project はプラン上限の対象となるプロジェクトを表す。
type Project struct {
	ID          string
	TenantID    string
	Name        string
	Description string
	CreatorID   string
	CreatedAt   time.Time
}

// ProjectMember はプロジェクトメンバーシップを表す。
type ProjectMember struct {
	ProjectID string
	UserID    string
	Role      MemberRole
	Username  string
	FullName  string
	CreatedAt time.Time
}

// Epic は作業階層の最上位。
type Epic struct {
	ID          string
	TenantID    string
	ProjectID   *string
	Title       string
	Description string
	Status      EpicStatus
	Progress    float64
	OwnerID     *string
	ClosedAt    *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Feature はエピック配下の作業単位。ProjectIDは親エピックから導出する。
type Feature struct {
	ID          string
	TenantID    string
	EpicID      *string
	ProjectID   *string
	Title       string
	Description string
	Status      FeatureStatus
	ClosedAt    *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Task は作業の最小単位。FeatureとEpicを直接参照できる。
type Task struct {
	ID             string
	TenantID       string
	ProjectID      *string
	FeatureID      *string
	EpicID         *string
	SprintID       *string
	ParentID       *string
	ColumnID       *string
	AssigneeID     *string
	Title          string
	Description    string
	Type           TaskType
	Priority       Priority
	Status         TaskStatus
	StoryPoints    *int
	EstimatedHours *float64
	DueDate        *time.Time
	ClosedAt       *time.Time
	CreatedBy      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Sprint は期間を区切った作業計画。ProjectIDがnilの場合はテナント全体のスプリント。
type Sprint struct {
	ID             string
	TenantID       string
	ProjectID      *string
	Name           string
	Goal           string
	StartDate      *time.Time
	EndDate        *time.Time
	Status         SprintStatus
	TargetCapacity *int
	CreatedAt      time.Time
}
