package auth

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/agileflow/internal/audit"
	mailer "github.com/hitoshi/agileflow/internal/mail"
	"github.com/hitoshi/agileflow/internal/model"
	"github.com/hitoshi/agileflow/internal/repository"
)

// --- インメモリ実装 ---

type memUserRepo struct {
	mu        sync.Mutex
	users     map[string]*model.User
	slugs     map[string]string // tenantID -> slug
	createErr error
	lastOpts  repository.CreateUserOptions
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: map[string]*model.User{}, slugs: map[string]string{}}
}

func (m *memUserRepo) add(u *model.User, slug string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	m.slugs[u.TenantID] = slug
}

func (m *memUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[id], nil
}

func (m *memUserRepo) FindInTenant(ctx context.Context, tenantID, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok && u.TenantID == tenantID {
		return u, nil
	}
	return nil, nil
}

func (m *memUserRepo) FindByLogin(ctx context.Context, login, tenantSlug string) ([]*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.User
	for _, u := range m.users {
		if u.Username != login && u.Email != login {
			continue
		}
		if tenantSlug != "" && m.slugs[u.TenantID] != tenantSlug {
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

func (m *memUserRepo) FindByEmail(ctx context.Context, tenantID, email string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.TenantID == tenantID && u.Email == email {
			return u, nil
		}
	}
	return nil, nil
}

func (m *memUserRepo) FindByVerificationToken(ctx context.Context, token string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.VerificationToken != "" && u.VerificationToken == token {
			return u, nil
		}
	}
	return nil, nil
}

func (m *memUserRepo) FindByResetToken(ctx context.Context, token string, now time.Time) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ResetToken != "" && u.ResetToken == token && u.ResetTokenExpires != nil && u.ResetTokenExpires.After(now) {
			return u, nil
		}
	}
	return nil, nil
}

func (m *memUserRepo) ListByTenant(ctx context.Context, tenantID string) ([]*model.User, error) {
	return nil, nil
}

func (m *memUserRepo) ListByProjects(ctx context.Context, tenantID string, projectIDs []string) ([]*model.User, error) {
	return nil, nil
}

func (m *memUserRepo) CreateWithinLimit(ctx context.Context, u *model.User, opts repository.CreateUserOptions) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	m.lastOpts = opts
	m.mu.Unlock()
	m.add(u, "")
	return nil
}

func (m *memUserRepo) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		u.PasswordHash = passwordHash
		u.ResetToken = ""
		u.ResetTokenExpires = nil
	}
	return nil
}

func (m *memUserRepo) SetResetToken(ctx context.Context, id, token string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		u.ResetToken = token
		u.ResetTokenExpires = &expiresAt
	}
	return nil
}

func (m *memUserRepo) MarkEmailVerified(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		u.EmailVerified = true
		u.VerificationToken = ""
	}
	return nil
}

func (m *memUserRepo) DeleteInTenant(ctx context.Context, tenantID, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok && u.TenantID == tenantID {
		delete(m.users, id)
		return true, nil
	}
	return false, nil
}

type memRefreshRepo struct {
	mu   sync.Mutex
	rows []*model.RefreshToken
}

func (m *memRefreshRepo) Create(ctx context.Context, token *model.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, token)
	return nil
}

func (m *memRefreshRepo) ListActiveByUserID(ctx context.Context, userID string, now time.Time) ([]*model.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.RefreshToken
	for _, r := range m.rows {
		if r.UserID == userID && r.ExpiresAt.After(now) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memRefreshRepo) DeleteByUserID(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.rows[:0]
	for _, r := range m.rows {
		if r.UserID != userID {
			kept = append(kept, r)
		}
	}
	m.rows = kept
	return nil
}

func (m *memRefreshRepo) count(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.rows {
		if r.UserID == userID {
			n++
		}
	}
	return n
}

type memTenantRepo struct {
	tenants   map[string]*model.Tenant
	users     *memUserRepo
	columns   map[string][]model.Column
	createErr error
}

func newMemTenantRepo(users *memUserRepo) *memTenantRepo {
	return &memTenantRepo{tenants: map[string]*model.Tenant{}, users: users, columns: map[string][]model.Column{}}
}

func (m *memTenantRepo) FindByID(ctx context.Context, id string) (*model.Tenant, error) {
	return m.tenants[id], nil
}

func (m *memTenantRepo) FindBySlug(ctx context.Context, slug string) (*model.Tenant, error) {
	for _, t := range m.tenants {
		if t.Slug == slug {
			return t, nil
		}
	}
	return nil, nil
}

func (m *memTenantRepo) CreateWorkspace(ctx context.Context, tenant *model.Tenant, columns []model.Column, owner *model.User) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.tenants[tenant.ID] = tenant
	m.columns[tenant.ID] = columns
	m.users.add(owner, tenant.Slug)
	return nil
}

func (m *memTenantRepo) CountResources(ctx context.Context, tenantID string, resource model.Resource) (int, error) {
	return 0, nil
}

func (m *memTenantRepo) ListColumns(ctx context.Context, tenantID string) ([]*model.Column, error) {
	return nil, nil
}

type memInvitationRepo struct {
	invites []*model.Invitation
}

func (m *memInvitationRepo) Create(ctx context.Context, inv *model.Invitation) error {
	m.invites = append(m.invites, inv)
	return nil
}

func (m *memInvitationRepo) FindPendingByToken(ctx context.Context, token string, now time.Time) (*model.Invitation, error) {
	for _, inv := range m.invites {
		if inv.Token == token && inv.AcceptedAt == nil && inv.ExpiresAt.After(now) {
			return inv, nil
		}
	}
	return nil, nil
}

func (m *memInvitationRepo) ListByTenant(ctx context.Context, tenantID string) ([]*model.Invitation, error) {
	return m.invites, nil
}

// --- 協調オブジェクトのモック ---

type mockQuota struct {
	checkErr error
	checked  []model.Resource
}

func (m *mockQuota) Check(ctx context.Context, tenantID string, resource model.Resource) error {
	m.checked = append(m.checked, resource)
	return m.checkErr
}

func (m *mockQuota) Translate(err error, tenantID string, resource model.Resource) error {
	if err == repository.ErrQuotaExceeded {
		return model.NewQuotaExceededError(resource)
	}
	return err
}

type recordingSender struct {
	sent []mailer.Message
	err  error
}

func (r *recordingSender) Send(ctx context.Context, msg mailer.Message) error {
	r.sent = append(r.sent, msg)
	return r.err
}

type recordingAudit struct {
	events []audit.Event
}

func (r *recordingAudit) Record(ctx context.Context, e audit.Event) {
	r.events = append(r.events, e)
}

// compile-time interface check
var (
	_ repository.UserRepository         = (*memUserRepo)(nil)
	_ repository.RefreshTokenRepository = (*memRefreshRepo)(nil)
	_ repository.TenantRepository       = (*memTenantRepo)(nil)
	_ repository.InvitationRepository   = (*memInvitationRepo)(nil)
)
