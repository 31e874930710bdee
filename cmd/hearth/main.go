package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/hearth-ehr/hearth/internal/app"
	"github.com/hearth-ehr/hearth/internal/audit"
	"github.com/hearth-ehr/hearth/internal/auth"
	"github.com/hearth-ehr/hearth/internal/clients"
	"github.com/hearth-ehr/hearth/internal/guard"
	guardhttp "github.com/hearth-ehr/hearth/internal/guard/http"
	"github.com/hearth-ehr/hearth/internal/observability"
	"github.com/hearth-ehr/hearth/internal/platform/cache"
	"github.com/hearth-ehr/hearth/internal/platform/db"
	"github.com/hearth-ehr/hearth/internal/rbac"
	"github.com/hearth-ehr/hearth/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	table, err := loadTable(cfg)
	if err != nil {
		logger.Error("rbac misconfiguration", slog.String("path", cfg.RBACTablePath), slog.Any("error", err))
		os.Exit(1)
	}
	evaluator := rbac.NewEvaluator(table)

	dbpool, err := db.New(ctx, cfg.PGDSN, db.PoolConfig{MaxConns: cfg.PGMaxConns, ApplicationName: "hearth"})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
	metrics := observability.NewMetrics()

	var sink audit.Sink
	switch cfg.AuditSink {
	case app.AuditSinkQueue:
		queueClient := jobs.NewClient(redisOpts)
		defer func() {
			if err := queueClient.Close(); err != nil {
				logger.Warn("asynq client close", slog.Any("error", err))
			}
		}()
		sink = jobs.NewAuditQueue(queueClient, logger)
	case app.AuditSinkMemory:
		logger.Warn("audit entries kept in memory only")
		sink = audit.NewMemorySink()
	default:
		sink = audit.NewPGSink(dbpool)
	}
	recorder := audit.NewRecorder(sink,
		audit.WithLogger(logger),
		audit.WithFailureHook(func(e audit.Entry, err error) {
			metrics.ObserveAuditFailure(string(e.Action), string(e.Outcome))
		}),
	)
	accessGuard := guard.New(evaluator, recorder,
		guard.WithPolicy(cfg.AuditPolicy()),
		guard.WithLogger(logger),
		guard.WithObserver(metrics),
	)

	sessionManager := auth.NewSessionManager(redisClient, "hearth_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	authenticator := &auth.Authenticator{
		Sessions: sessionManager,
		Tokens:   auth.NewTokenVerifier(cfg.TokenSecret, cfg.TokenTTL),
		Logger:   logger,
	}
	authHandler := auth.NewHandler(logger, auth.NewService(auth.NewRepository(dbpool)), authenticator)

	clientsService := clients.NewService(clients.NewRepository(dbpool), accessGuard)
	clientsHandler := clients.NewHandler(logger, clientsService, auth.PrincipalFromRequest)

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("asynq inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		Authenticator:      authenticator,
		AuthHandler:        authHandler,
		ClientsHandler:     clientsHandler,
		PermissionsHandler: rbac.NewPermissionsHandler(logger, evaluator, auth.PrincipalFromRequest),
		JobHandler:         jobs.NewHandler(inspector, logger),
		Guard:              guardhttp.Middleware{Guard: accessGuard, Principal: auth.PrincipalFromRequest, Logger: logger},
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("audit_sink", cfg.AuditSink))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("http server", slog.Any("error", err))
		os.Exit(1)
	}
}

func loadTable(cfg *app.Config) (rbac.Table, error) {
	if cfg.RBACTablePath == "" {
		return rbac.DefaultTable(), nil
	}
	return rbac.LoadTable(cfg.RBACTablePath)
}
