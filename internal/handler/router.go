package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hitoshi/agileflow/internal/audit"
	"github.com/hitoshi/agileflow/internal/auth"
	"github.com/hitoshi/agileflow/internal/customfield"
	"github.com/hitoshi/agileflow/internal/invitation"
	"github.com/hitoshi/agileflow/internal/metrics"
	"github.com/hitoshi/agileflow/internal/middleware"
	"github.com/hitoshi/agileflow/internal/project"
	"github.com/hitoshi/agileflow/internal/tenant"
	"github.com/hitoshi/agileflow/internal/testmgmt"
	"github.com/hitoshi/agileflow/internal/user"
	"github.com/hitoshi/agileflow/internal/workitem"
	"github.com/prometheus/client_golang/prometheus"
)

// HealthChecker はヘルスチェックでDB疎通を確認するためのインターフェース。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Validator         middleware.AccessValidator
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector
	Gatherer          prometheus.Gatherer
	HealthChecker     HealthChecker

	// サービス
	AuthService        AuthServiceInterface
	TenantService      TenantServiceInterface
	ProjectService     ProjectServiceInterface
	UserService        UserServiceInterface
	InvitationService  InvitationServiceInterface
	WorkItemService    WorkItemServiceInterface
	CustomFieldService CustomFieldServiceInterface
	TestService        TestManagementServiceInterface
	AuditLogs          AuditLogReader
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Recovery → SecurityHeaders → Logging → Metrics → CORS
//	  公開ルート: RateLimit(Auth, IP単位)
//	  認証ルート: Auth(Bearer) → RateLimit(General, ユーザー単位)
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mc := deps.Metrics
	if mc == nil {
		mc = metrics.NopCollector{}
	}

	r.Use(chimw.RequestID)
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewMetricsMiddleware(mc))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	authHandler := NewAuthHandler(deps.AuthService)
	tenantHandler := NewTenantHandler(deps.TenantService)
	projectHandler := NewProjectHandler(deps.ProjectService)
	userHandler := NewUserHandler(deps.UserService, deps.InvitationService)
	workHandler := NewWorkItemHandler(deps.WorkItemService)
	fieldHandler := NewCustomFieldHandler(deps.CustomFieldService)
	testHandler := NewTestManagementHandler(deps.TestService)
	auditHandler := NewAuditHandler(deps.AuditLogs)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", healthHandler(deps.HealthChecker))

		// --- 認証不要のルート ---
		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.AuthMiddleware())

			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
			r.Post("/refresh", authHandler.Refresh)
			r.Get("/verify-email", authHandler.VerifyEmail)
			r.Post("/forgot-password", authHandler.ForgotPassword)
			r.Post("/reset-password", authHandler.ResetPassword)
			r.Post("/accept-invite", authHandler.AcceptInvite)
		})

		// --- 認証が必要なルート ---
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewAuthMiddleware(deps.Validator))
			r.Use(deps.RateLimiter.GeneralMiddleware())

			r.Post("/logout", authHandler.Logout)

			// テナント・課金
			r.Get("/tenant", tenantHandler.GetTenant)
			r.Get("/billing/plans", tenantHandler.ListPlans)
			r.Get("/billing/current", tenantHandler.CurrentBilling)
			r.Get("/columns", tenantHandler.ListColumns)

			// プロジェクト
			r.Route("/projects", func(r chi.Router) {
				r.Get("/", projectHandler.ListProjects)
				r.Post("/", projectHandler.CreateProject)
				r.Route("/{id}", func(r chi.Router) {
					r.Delete("/", projectHandler.DeleteProject)
					r.Get("/members", projectHandler.ListMembers)
					r.Post("/members", projectHandler.AddMember)
					r.Delete("/members/{userId}", projectHandler.RemoveMember)
				})
			})

			// ユーザー・招待
			r.Route("/users", func(r chi.Router) {
				r.Get("/", userHandler.ListUsers)
				r.Post("/", userHandler.CreateUser)
				r.Delete("/{id}", userHandler.DeleteUser)
				r.Post("/{id}/change-password", authHandler.ChangePassword)
			})
			r.Get("/invitations", userHandler.ListInvitations)
			r.Post("/invitations", userHandler.CreateInvitation)

			// 作業項目
			r.Route("/tasks", func(r chi.Router) {
				r.Get("/", workHandler.ListTasks)
				r.Post("/", workHandler.CreateTask)
				r.Route("/{id}", func(r chi.Router) {
					r.Patch("/", workHandler.UpdateTask)
					r.Delete("/", workHandler.DeleteTask)
					r.Get("/comments", workHandler.ListComments)
					r.Get("/attachments", workHandler.ListAttachments)
				})
			})
			r.Route("/epics", func(r chi.Router) {
				r.Get("/", workHandler.ListEpics)
				r.Post("/", workHandler.CreateEpic)
				r.Delete("/{id}", workHandler.DeleteEpic)
			})
			r.Route("/features", func(r chi.Router) {
				r.Get("/", workHandler.ListFeatures)
				r.Post("/", workHandler.CreateFeature)
				r.Delete("/{id}", workHandler.DeleteFeature)
			})
			r.Route("/sprints", func(r chi.Router) {
				r.Get("/", workHandler.ListSprints)
				r.Post("/", workHandler.CreateSprint)
				r.Delete("/{id}", workHandler.DeleteSprint)
			})
			r.Post("/comments", workHandler.CreateComment)
			r.Post("/attachments", workHandler.CreateAttachment)

			// カスタムフィールド
			r.Route("/custom-fields", func(r chi.Router) {
				r.Get("/definitions", fieldHandler.ListDefinitions)
				r.Post("/definitions", fieldHandler.CreateDefinition)
				r.Delete("/definitions/{id}", fieldHandler.DeleteDefinition)
				r.Get("/values/{entityId}", fieldHandler.ListValues)
				r.Post("/values", fieldHandler.SetValue)
			})

			// テスト管理
			r.Get("/test-suites", testHandler.ListSuites)
			r.Post("/test-suites", testHandler.CreateSuite)
			r.Route("/test-cases", func(r chi.Router) {
				r.Post("/", testHandler.CreateCase)
				r.Get("/{id}", testHandler.ListCases)
				r.Patch("/{id}", testHandler.UpdateCase)
			})

			// 監査ログ
			r.Get("/audit-logs/{entityType}/{entityId}", auditHandler.ListByEntity)
		})
	})

	return r
}

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database,omitempty"`
}

// healthHandler はヘルスチェックハンドラーを返す。checkerがnilの場合はプロセスの生存のみを返す。
// GET /api/health
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker == nil {
			writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := checker.PingContext(ctx); err != nil {
			slog.Error("health check failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Database: "down"})
			return
		}
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Database: "up"})
	}
}

// --- compile-time interface checks ---

var (
	_ AuthServiceInterface           = (*auth.Service)(nil)
	_ TenantServiceInterface         = (*tenant.Service)(nil)
	_ ProjectServiceInterface        = (*project.Service)(nil)
	_ UserServiceInterface           = (*user.Service)(nil)
	_ InvitationServiceInterface     = (*invitation.Service)(nil)
	_ WorkItemServiceInterface       = (*workitem.Service)(nil)
	_ CustomFieldServiceInterface    = (*customfield.Service)(nil)
	_ TestManagementServiceInterface = (*testmgmt.Service)(nil)
	_ AuditLogReader                 = (*audit.Recorder)(nil)
	_ middleware.AccessValidator     = (*auth.Service)(nil)
)
