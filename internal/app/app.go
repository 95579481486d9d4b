package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/hitoshi/agileflow/internal/access"
	"github.com/hitoshi/agileflow/internal/audit"
	"github.com/hitoshi/agileflow/internal/auth"
	"github.com/hitoshi/agileflow/internal/cascade"
	"github.com/hitoshi/agileflow/internal/config"
	"github.com/hitoshi/agileflow/internal/customfield"
	"github.com/hitoshi/agileflow/internal/database"
	"github.com/hitoshi/agileflow/internal/handler"
	"github.com/hitoshi/agileflow/internal/invitation"
	"github.com/hitoshi/agileflow/internal/logger"
	"github.com/hitoshi/agileflow/internal/mail"
	"github.com/hitoshi/agileflow/internal/metrics"
	"github.com/hitoshi/agileflow/internal/middleware"
	"github.com/hitoshi/agileflow/internal/project"
	"github.com/hitoshi/agileflow/internal/quota"
	"github.com/hitoshi/agileflow/internal/repository"
	"github.com/hitoshi/agileflow/internal/security"
	"github.com/hitoshi/agileflow/internal/tenant"
	"github.com/hitoshi/agileflow/internal/testmgmt"
	"github.com/hitoshi/agileflow/internal/user"
	"github.com/hitoshi/agileflow/internal/worker/cleanup"
	"github.com/hitoshi/agileflow/internal/workitem"
)

// Init はアプリケーションの初期化を行う。
// .envと環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. .envと環境変数から設定を読み込む
	if err := config.LoadDotEnv(); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再初期化する
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(&http.Client{Timeout: 5 * time.Second}, "http://localhost:"+port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("app_url", cfg.AppURL),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg, ParseMigrateAction(args))
	default:
		return runServe(cfg)
	}
}

// openDB はDB接続を開き、疎通を確認する。
func openDB(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// perMinute はreq/min単位の設定値をrate.Limitに変換する。
func perMinute(n int) rate.Limit {
	return rate.Limit(float64(n) / 60.0)
}

// newRateLimiter はConfigのレート制限値からRateLimiterを生成する。
func newRateLimiter(cfg *config.Config) *middleware.RateLimiter {
	rlCfg := middleware.DefaultRateLimiterConfig()
	rlCfg.GeneralRate = perMinute(cfg.RateLimitGeneral)
	rlCfg.GeneralBurst = cfg.RateLimitGeneral
	rlCfg.AuthRate = perMinute(cfg.RateLimitAuth)
	rlCfg.AuthBurst = cfg.RateLimitAuth
	return middleware.NewRateLimiter(rlCfg)
}

// newRegistry はアプリケーションとランタイムのメトリクスを登録したレジストリを返す。
func newRegistry() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewCollector(reg)
}

// buildRouterDeps はリポジトリとサービスを組み立ててルーターの依存を返す。
func buildRouterDeps(cfg *config.Config, db *sql.DB, log *slog.Logger, mc metrics.MetricsCollector, gatherer prometheus.Gatherer) *handler.RouterDeps {
	// 1. リポジトリの初期化
	tenantRepo := repository.NewPostgresTenantRepo(db)
	userRepo := repository.NewPostgresUserRepo(db)
	refreshRepo := repository.NewPostgresRefreshTokenRepo(db)
	projectRepo := repository.NewPostgresProjectRepo(db)
	invitationRepo := repository.NewPostgresInvitationRepo(db)
	hierarchyRepo := repository.NewPostgresHierarchyRepo(db)
	auditRepo := repository.NewPostgresAuditLogRepo(db)
	customFieldRepo := repository.NewPostgresCustomFieldRepo(db)
	testSuiteRepo := repository.NewPostgresTestSuiteRepo(db)

	// 2. 横断的なサービスの初期化
	recorder := audit.NewRecorder(auditRepo, mc)
	enforcer := quota.NewEnforcer(tenantRepo, mc)
	scopes := access.NewResolver(projectRepo)
	sanitizer := security.NewContentSanitizer()
	sender := mail.LogSender{}

	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	sessions := auth.NewSessionManager(tokens, refreshRepo, userRepo)
	passwords := auth.NewPasswordHasher(cfg.BcryptCost)

	// 3. ドメインサービスの初期化
	authService := auth.NewService(auth.Deps{
		Sessions:    sessions,
		Passwords:   passwords,
		Users:       userRepo,
		Tenants:     tenantRepo,
		Invitations: invitationRepo,
		Quota:       enforcer,
		Mailer:      sender,
		Audit:       recorder,
		Metrics:     mc,
	}, auth.ServiceConfig{
		AppURL:        cfg.AppURL,
		TrialPeriod:   cfg.TrialPeriod,
		ResetTokenTTL: cfg.PasswordResetTTL,
	})

	userService := user.NewService(user.Deps{
		Users:     userRepo,
		Projects:  projectRepo,
		Scopes:    scopes,
		Quota:     enforcer,
		Passwords: passwords,
		Sessions:  sessions,
		Mailer:    sender,
		Audit:     recorder,
		AppURL:    cfg.AppURL,
	})

	invitationService := invitation.NewService(
		invitationRepo,
		invitation.RepositoryLookups{Tenants: tenantRepo, Users: userRepo, Projects: projectRepo},
		enforcer, sender, recorder, cfg.AppURL, cfg.InvitationTTL,
	)

	workItemService := workitem.NewService(workitem.Deps{
		Epics:       repository.NewPostgresEpicRepo(db),
		Features:    repository.NewPostgresFeatureRepo(db),
		Tasks:       repository.NewPostgresTaskRepo(db),
		Sprints:     repository.NewPostgresSprintRepo(db),
		Comments:    repository.NewPostgresCommentRepo(db),
		Attachments: repository.NewPostgresAttachmentRepo(db),
		Tenants:     tenantRepo,
		Users:       userRepo,
		Projects:    projectRepo,
		Scopes:      scopes,
		Cascade:     cascade.NewEngine(hierarchyRepo, recorder, mc),
		Sanitizer:   sanitizer,
		Audit:       recorder,
	})

	return &handler.RouterDeps{
		Validator:         authService,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       newRateLimiter(cfg),
		Logger:            log,
		Metrics:           mc,
		Gatherer:          gatherer,
		HealthChecker:     db,

		AuthService:        authService,
		TenantService:      tenant.NewService(tenantRepo),
		ProjectService:     project.NewService(projectRepo, userRepo, scopes, enforcer, recorder),
		UserService:        userService,
		InvitationService:  invitationService,
		WorkItemService:    workItemService,
		CustomFieldService: customfield.NewService(customFieldRepo, workItemService, recorder),
		TestService:        testmgmt.NewService(testSuiteRepo, recorder),
		AuditLogs:          recorder,
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	reg, collector := newRegistry()
	deps := buildRouterDeps(cfg, db, slog.Default(), collector, reg)
	defer deps.RateLimiter.Stop()

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      handler.NewRouter(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("server listen error: %w", err)
	case <-stop:
	}
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、期限切れの認証データのクリーンアップをCLEANUP_INTERVALごとに実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	_, collector := newRegistry()
	cleanupJob := cleanup.NewCleanupJob(db, slog.Default(), collector)

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
	)

	// クリーンアップジョブをメインgoroutineで実行（ブロッキング）
	cleanupJob.Start(ctx, cfg.CleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
func runMigrate(cfg *config.Config, action MigrateAction) error {
	slog.Info("running database migrations",
		slog.String("action", string(action)),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	switch action {
	case MigrateDown:
		if err := database.RollbackMigration(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration rollback failed: %w", err)
		}
	case MigrateVersion:
		v, dirty, err := database.Version(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to read migration version: %w", err)
		}
		slog.Info("database schema version",
			slog.Uint64("version", uint64(v)),
			slog.Bool("dirty", dirty),
		)
		return nil
	default:
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /api/health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(client *http.Client, baseURL string) error {
	resp, err := client.Get(baseURL + "/api/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	at := strings.LastIndex(url, "@")
	scheme := strings.Index(url, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return "***"
	}
	return url[:scheme+3] + "***" + url[at:]
}

// compile-time interface check
var _ customfield.EntityChecker = (*workitem.Service)(nil)
