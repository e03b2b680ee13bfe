// Package server assembles the identity service: logger, repositories,
// services, mail delivery, rate limiting, metrics and the HTTP and gRPC
// health listeners, and runs them until a shutdown signal arrives.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/flicapp/identity/internal/logging"
	"github.com/flicapp/identity/internal/server/config"
	"github.com/flicapp/identity/internal/server/httpapi"
	"github.com/flicapp/identity/internal/server/mailer"
	"github.com/flicapp/identity/internal/server/metrics"
	"github.com/flicapp/identity/internal/server/ratelimit"
	"github.com/flicapp/identity/internal/server/repositories/repomanager"
	"github.com/flicapp/identity/internal/server/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	gs "github.com/flicapp/identity/internal/server/grpc"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config      *config.Config
	logger      logging.Logger
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	readiness   *httpapi.Readiness
	health      *gs.HealthServer
	notifier    *mailer.Notifier
	handler     http.Handler
	closers     []func() error
}

// NewApp wires every component around db. The caller owns db.
func NewApp(cfg *config.Config, db *sql.DB) (*App, error) {
	logger := logging.New(logging.Options{Backend: cfg.LogBackend, Level: cfg.LogLevel, File: cfg.LogFile})

	app := &App{
		config:      cfg,
		logger:      logger,
		db:          db,
		repomanager: repomanager.NewPostgresRepositoryManager(),
		readiness:   &httpapi.Readiness{},
		health:      gs.NewHealthServer(cfg.GRPCHealthAddr, logger),
	}
	if z, ok := logger.(*logging.ZapLogger); ok {
		app.closers = append(app.closers, z.Sync)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	sender, err := app.newSender()
	if err != nil {
		return nil, fmt.Errorf("mailer init error: %w", err)
	}
	app.notifier = mailer.NewNotifier(sender, logger.With("module", "mailer"), m, mailer.NotifierOptions{
		ResetURL: cfg.ResetURL,
		CodeTTL:  cfg.EmailCodeTTL,
		ResetTTL: cfg.PasswordResetTTL,
	})

	limiter := app.newLimiter()
	secret := []byte(cfg.SecretKey)
	svcLogger := logger.With("module", "services")

	merger := services.NewMergeService(db, app.repomanager, svcLogger, m)
	handlers := &httpapi.Handlers{
		Verification: services.NewVerificationService(db, app.repomanager, merger, app.notifier, limiter, svcLogger, m,
			services.VerificationOptions{
				CodeTTL:         cfg.EmailCodeTTL,
				SecretKey:       secret,
				SessionValidity: cfg.SessionTokenValidity,
			}),
		PasswordReset: services.NewPasswordResetService(db, app.repomanager, app.notifier, limiter, svcLogger, m, cfg.PasswordResetTTL),
		Merge:         merger,
		Users:         services.NewUserService(db, app.repomanager),
		Providers:     services.NewProviderService(db, app.repomanager, svcLogger),
		Stats:         services.NewStatsService(db, app.repomanager),
		Sessions:      services.NewSessionService(db, app.repomanager, limiter, svcLogger, secret, cfg.SessionTokenValidity),
	}

	app.handler = httpapi.NewRouter(handlers, httpapi.RouterOptions{
		Logger:    logger.With("module", "http"),
		Metrics:   m,
		Registry:  registry,
		Readiness: app.readiness,
		SecretKey: secret,
	})

	return app, nil
}

// newSender picks SMTP when a host is configured and the log otherwise.
func (app *App) newSender() (mailer.Sender, error) {
	if app.config.SMTPHost == "" {
		app.logger.Warn(context.Background(), "SMTP host not set, emails will be logged")
		return mailer.NewLogMailer(app.logger.With("module", "mailer")), nil
	}
	return mailer.NewSMTPMailer(mailer.Config{
		Host:     app.config.SMTPHost,
		Port:     app.config.SMTPPort,
		Username: app.config.SMTPUsername,
		Password: app.config.SMTPPassword,
		From:     app.config.SMTPFrom,
	})
}

// newLimiter shares counters through Redis when an address is configured.
func (app *App) newLimiter() ratelimit.Limiter {
	c := app.config
	if c.RateLimitCount <= 0 {
		return ratelimit.Unlimited{}
	}
	if c.RedisAddr == "" {
		return ratelimit.NewMemory(c.RateLimitCount, c.RateLimitWindow)
	}
	client := redis.NewClient(&redis.Options{Addr: c.RedisAddr})
	app.closers = append(app.closers, client.Close)
	return ratelimit.NewRedisLimiter(client, c.RateLimitCount, c.RateLimitWindow, "flicapp:ratelimit:")
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	srv := &http.Server{
		Addr:              app.config.HTTPAddr,
		Handler:           app.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		app.logger.Info(ctx, "Stopping HTTP server...")
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			app.logger.Error(ctx, "http shutdown", "error", err)
		}
	}()

	app.logger.Info(ctx, "Starting HTTP server", "address", app.config.HTTPAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.health.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// Run migrates when configured, marks the service ready and serves until
// ctx is cancelled or a signal arrives.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	if app.config.MigrateOnStart {
		if err := app.repomanager.RunMigrations(ctx, app.db); err != nil {
			return err
		}
	}

	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()

	app.readiness.SetReady(true)
	app.health.SetServing(true)

	<-ctx.Done()
	app.readiness.SetReady(false)
	app.health.SetServing(false)

	wg.Wait()
	app.notifier.Wait()
	app.close()

	app.logger.Info(context.Background(), "App stopped")
	return nil
}

func (app *App) close() {
	for _, c := range app.closers {
		if err := c(); err != nil {
			app.logger.Warn(context.Background(), "close", "error", err)
		}
	}
}
