package model

import (
	"fmt"
	"time"
)

// Unlimited はプラン上限が無制限であることを示す番兵値。
const Unlimited = -1

// Resource はプラン上限の対象となるリソース種別を表す。
type Resource string

const (
	ResourceProjects Resource = "projects"
	ResourceMembers  Resource = "members"
)

// PlanID は課金プランの識別子。
type PlanID string

const (
	PlanFree       PlanID = "free"
	PlanPro        PlanID = "pro"
	PlanEnterprise PlanID = "enterprise"
)

// Plan は課金プランとその上限値を表す。
type Plan struct {
	ID          PlanID `json:"id"`
	Name        string `json:"name"`
	MaxProjects int    `json:"max_projects"`
	MaxMembers  int    `json:"max_members"`
	PriceCents  int    `json:"price_cents"`
}

var plans = []Plan{
	{ID: PlanFree, Name: "Free", MaxProjects: 1, MaxMembers: 5, PriceCents: 0},
	{ID: PlanPro, Name: "Pro", MaxProjects: 10, MaxMembers: 25, PriceCents: 2900},
	{ID: PlanEnterprise, Name: "Enterprise", MaxProjects: Unlimited, MaxMembers: Unlimited, PriceCents: 9900},
}

// Plans は提供中のプラン一覧を返す。
func Plans() []Plan {
	out := make([]Plan, len(plans))
	copy(out, plans)
	return out
}

// LookupPlan はIDに対応するプランを返す。
func LookupPlan(id PlanID) (Plan, error) {
	for _, p := range plans {
		if p.ID == id {
			return p, nil
		}
	}
	return Plan{}, fmt.Errorf("unknown plan: %q", id)
}

// Tenant は分離されたワークスペースを表す。
type Tenant struct {
	ID           string
	Name         string
	Slug         string
	PlanID       PlanID
	MaxProjects  int
	MaxMembers   int
	TrialEndsAt  *time.Time
	DoneColumnID string
	CreatedAt    time.Time
}

// LimitFor はリソース種別に対応する上限値を返す。
func (t *Tenant) LimitFor(resource Resource) (int, error) {
	switch resource {
	case ResourceProjects:
		return t.MaxProjects, nil
	case ResourceMembers:
		return t.MaxMembers, nil
	}
	return 0, fmt.Errorf("unknown resource: %q", resource)
}

// Column はテナントごとのボード列を表す。
type Column struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenant_id"`
	Name      string `json:"name"`
	SortOrder int    `json:"sort_order"`
}

// DefaultColumns は登録時に作成するボード列を返す。
// 最後の要素が終端列（done）となる。
func DefaultColumns(tenantID string) []Column {
	keys := []struct{ key, name string }{
		{"todo", "To Do"},
		{"in-progress", "In Progress"},
		{"review", "Review"},
		{"done", "Done"},
	}
	cols := make([]Column, len(keys))
	for i, k := range keys {
		cols[i] = Column{
			ID:        tenantID + "-" + k.key,
			TenantID:  tenantID,
			Name:      k.name,
			SortOrder: i,
		}
	}
	return cols
}

// WithinLimit は現在数countに1件追加しても上限limitを超えないかを返す。
// limitがUnlimitedの場合は常にtrueを返す。
func WithinLimit(count, limit int) bool {
	if limit == Unlimited {
		return true
	}
	return count < limit
}
