package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mergegate-labs/mergegate-go/internal/cache"
	"github.com/mergegate-labs/mergegate-go/internal/gatereport"
	"github.com/mergegate-labs/mergegate-go/internal/platform/apispec"
	"github.com/mergegate-labs/mergegate-go/internal/platform/auditlog"
	"github.com/mergegate-labs/mergegate-go/internal/platform/auth"
	"github.com/mergegate-labs/mergegate-go/internal/platform/env"
	"github.com/mergegate-labs/mergegate-go/internal/platform/httpserver"
	"github.com/mergegate-labs/mergegate-go/internal/platform/objectstore"
	"github.com/mergegate-labs/mergegate-go/internal/platform/postgres"
	repopg "github.com/mergegate-labs/mergegate-go/internal/repo/postgres"
	"github.com/mergegate-labs/mergegate-go/internal/service/jobs"
	storeminio "github.com/mergegate-labs/mergegate-go/internal/storage/objectstore"
	"github.com/mergegate-labs/mergegate-go/internal/toolchain"
	"github.com/mergegate-labs/mergegate-go/internal/workflow"
	"github.com/mergegate-labs/mergegate-go/internal/workspace"
)

const serviceName = "mergegate"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("MERGEGATE_HTTP_ADDR", ":8080")
	shutdownTimeout, err := env.Duration("MERGEGATE_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	pollInterval, err := env.Duration("MERGEGATE_DISPATCH_POLL_INTERVAL", defaultDispatcherPoll)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	workers, err := env.Int("MERGEGATE_DISPATCH_WORKERS", defaultDispatcherWorkers)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	pushBranches := env.StringSlice("MERGEGATE_PUSH_BRANCHES", []string{workflow.DefaultPushBranch})
	workspaceRoot := env.String("MERGEGATE_WORKSPACE_ROOT", filepath.Join(os.TempDir(), "mergegate-workspaces"))

	webhookSecret := env.String("MERGEGATE_WEBHOOK_SECRET", "")
	if strings.TrimSpace(webhookSecret) == "" {
		logger.Error("missing webhook secret", "env", "MERGEGATE_WEBHOOK_SECRET")
		os.Exit(2)
	}

	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid database config", "error", err)
		os.Exit(2)
	}
	db, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	storeCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid object store config", "error", err)
		os.Exit(2)
	}
	storeClient, err := objectstore.NewMinIOClient(storeCfg)
	if err != nil {
		logger.Error("object store client init failed", "error", err)
		os.Exit(1)
	}
	ensureCtx, cancelEnsure := context.WithTimeout(ctx, 5*time.Second)
	err = objectstore.EnsureBuckets(ensureCtx, storeClient, storeCfg)
	cancelEnsure()
	if err != nil {
		logger.Error("object store unavailable", "error", err)
		os.Exit(1)
	}

	authCfg, err := auth.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid auth config", "error", err)
		os.Exit(2)
	}

	var authenticator auth.Authenticator
	var oidcService *auth.OIDCService
	switch authCfg.Mode {
	case auth.ModeDev:
		authenticator = auth.NewDevAuthenticator(authCfg)
	case auth.ModeOIDC:
		svc, err := auth.NewOIDCService(ctx, authCfg)
		if err != nil {
			logger.Error("oidc init failed", "error", err)
			os.Exit(1)
		}
		oidcService = svc
		authenticator = svc
	case auth.ModeDisabled:
		authenticator = nil
	default:
		logger.Error("unsupported auth mode", "mode", string(authCfg.Mode))
		os.Exit(2)
	}

	cacheStore, err := storeminio.NewMinioStoreWithClient(storeClient)
	if err != nil {
		logger.Error("cache store init failed", "error", err)
		os.Exit(1)
	}
	buildCache, err := cache.NewObjectCache(cacheStore, storeCfg.BucketCaches)
	if err != nil {
		logger.Error("build cache init failed", "error", err)
		os.Exit(1)
	}

	runner := toolchain.NewExecRunner()
	workspaces, err := workspace.NewManager(workspaceRoot, runner)
	if err != nil {
		logger.Error("workspace manager init failed", "error", err)
		os.Exit(1)
	}

	var reporter gatereport.Reporter
	gateEndpoint := env.String("MERGEGATE_GATE_ENDPOINT", "")
	if strings.TrimSpace(gateEndpoint) != "" {
		reporter, err = gatereport.NewHTTPReporter(gateEndpoint, env.String("MERGEGATE_GATE_SECRET", ""))
		if err != nil {
			logger.Error("gate reporter init failed", "error", err)
			os.Exit(2)
		}
	} else {
		reporter = gatereport.LogReporter{Logger: logger}
	}

	jobRuns := repopg.NewJobRunStore(db)
	stages := repopg.NewStageExecutionStore(db)
	deliveries := repopg.NewDeliveryStore(db)

	service := &jobs.Service{
		Logger:     logger,
		JobRuns:    jobRuns,
		Stages:     stages,
		Deliveries: deliveries,
		Workspaces: workspaces,
		Cache:      buildCache,
		Runner:     runner,
		Reporter:   reporter,
		Triggers: workflow.TriggerSpec{
			PullRequest: &workflow.PullRequestTriggerSpec{},
			Push:        &workflow.PushTriggerSpec{Branches: pushBranches},
		},
		Audit: func(ctx context.Context, transition auditlog.JobTransition) {
			auditCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
			defer cancel()
			if err := auditlog.InsertJobTransition(auditCtx, db, transition); err != nil {
				logger.Warn("audit job transition failed", "job_run_id", transition.JobRunID, "error", err)
			}
		},
	}

	disp := startDispatcher(ctx, logger, service, jobRuns, workers, pollInterval)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz(serviceName))
	mux.HandleFunc(
		"/readyz",
		httpserver.ReadyzWithChecks(
			serviceName,
			httpserver.ReadinessCheck{
				Name: "postgres",
				Check: func(ctx context.Context) error {
					checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
					defer cancel()
					return db.PingContext(checkCtx)
				},
			},
			httpserver.ReadinessCheck{
				Name: "objectstore",
				Check: func(ctx context.Context) error {
					checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
					defer cancel()
					return objectstore.CheckBuckets(checkCtx, storeClient, storeCfg)
				},
			},
		),
	)

	api := newJobsAPI(logger, service, jobRuns, stages, webhookSecret, disp.Enqueue)
	api.audit = func(ctx context.Context, reason string, r *http.Request) {
		var ip net.IP
		if host, _, splitErr := net.SplitHostPort(r.RemoteAddr); splitErr == nil {
			ip = net.ParseIP(host)
		}
		auditCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
		defer cancel()
		_, err := auditlog.Insert(auditCtx, db, auditlog.Event{
			OccurredAt:   time.Now().UTC(),
			Actor:        "webhook",
			Action:       "webhook." + reason,
			ResourceType: "http",
			ResourceID:   r.Method + " " + r.URL.Path,
			RequestID:    r.Header.Get("X-Request-Id"),
			IP:           ip,
			UserAgent:    r.UserAgent(),
		})
		if err != nil {
			logger.Warn("audit webhook reject failed", "reason", reason, "error", err)
		}
	}
	api.register(mux)

	if oidcService != nil {
		mux.HandleFunc("/auth/logout", oidcService.LogoutHandler())
		mux.HandleFunc("/auth/session", oidcService.SessionHandler())

		if err := authCfg.ValidateForLogin(); err == nil {
			login, err := oidcService.LoginHandler()
			if err != nil {
				logger.Error("oidc login handler init failed", "error", err)
				os.Exit(2)
			}
			callback, err := oidcService.CallbackHandler()
			if err != nil {
				logger.Error("oidc callback handler init failed", "error", err)
				os.Exit(2)
			}
			mux.HandleFunc("/auth/login", login)
			mux.HandleFunc("/auth/callback", callback)
		} else {
			notConfigured := func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusNotImplemented)
				_, _ = w.Write([]byte("{\"error\":\"login_not_configured\"}\n"))
			}
			mux.HandleFunc("/auth/login", notConfigured)
			mux.HandleFunc("/auth/callback", notConfigured)
		}
	}

	doc, err := apispec.Load()
	if err != nil {
		logger.Error("openapi document invalid", "error", err)
		os.Exit(2)
	}
	contract, err := apispec.NewMiddleware(logger, doc)
	if err != nil {
		logger.Error("contract middleware init failed", "error", err)
		os.Exit(2)
	}

	var handler http.Handler = contract.Wrap(mux)
	if authenticator != nil {
		handler = auth.Middleware{
			Logger:        logger,
			Authenticator: authenticator,
			Authorize:     auth.MethodRoleAuthorizer(),
			Audit: func(ctx context.Context, event auth.DenyEvent) error {
				auditCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
				defer cancel()
				return auditlog.InsertAuthDeny(auditCtx, db, serviceName, event)
			},
			SkipPrefixes: []string{"/healthz", "/readyz", "/webhook", "/auth/"},
		}.Wrap(handler)
	}

	cfg := httpserver.Config{
		Service:         serviceName,
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}
	if err := httpserver.Run(ctx, logger, cfg, httpserver.Wrap(logger, serviceName, handler)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}

	disp.Wait()
}
