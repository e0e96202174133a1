// Package server initializes and runs the mailvault server: it wires the
// document store, the upstream client, the credential cache and the services,
// starts the HTTP API and the verification schedule, and handles graceful
// shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmitrijs2005/mailvault/internal/cryptox"
	"github.com/dmitrijs2005/mailvault/internal/logging"
	"github.com/dmitrijs2005/mailvault/internal/server/config"
	"github.com/dmitrijs2005/mailvault/internal/server/httpapi"
	"github.com/dmitrijs2005/mailvault/internal/server/outlook"
	"github.com/dmitrijs2005/mailvault/internal/server/scheduler"
	"github.com/dmitrijs2005/mailvault/internal/server/services"
	"github.com/dmitrijs2005/mailvault/internal/server/storage"
	"github.com/dmitrijs2005/mailvault/internal/server/tokencache"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config    *config.Config
	logger    logging.Logger
	store     *storage.Store
	users     *services.UserService
	api       *httpapi.Server
	scheduler *scheduler.Scheduler
}

func NewApp(c *config.Config) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	codec, err := cryptox.NewCodec(c.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("codec init error: %w", err)
	}
	if !codec.Enabled() {
		logger.Warn(context.Background(), "no encryption key configured, secrets are stored in plaintext")
	}

	store := storage.New(c.DataFilePath)

	client := outlook.NewClient(outlook.Config{
		TokenURL:          c.TokenURL,
		BaseURL:           c.BaseURL,
		Timeout:           c.UpstreamTimeout,
		MaxAttempts:       c.RetryMaxAttempts,
		RetryBaseDelay:    c.RetryBaseDelay,
		RetryMaxDelay:     c.RetryMaxDelay,
		RequestsPerSecond: c.RequestsPerSecond,
	}, logger)
	cache := tokencache.New(client, 0, logger)

	users := services.NewUserService(store, logger)
	accounts := services.NewAccountService(store, codec, logger)
	verify := services.NewVerifyService(store, accounts, cache, client, c.VerifyConcurrency, logger)
	mail := services.NewMailService(accounts, cache, client, logger)

	api := httpapi.NewServer(users, accounts, verify, mail, httpapi.SessionConfig{
		Secret:     []byte(c.SessionSecret),
		TTL:        c.SessionTTL,
		CookieName: c.SessionCookieName,
	}, c.CORSAllowedOrigins, logger)

	sched := scheduler.New(verify, c.VerifyCronSpec, logger)

	return &App{
		config:    c,
		logger:    logger,
		store:     store,
		users:     users,
		api:       api,
		scheduler: sched,
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "starting app", "addr", app.config.ListenAddr, "data_file", app.store.Path())

	app.initSignalHandler(cancelFunc)

	if err := app.store.EnsureInitialized(); err != nil {
		return fmt.Errorf("store init error: %w", err)
	}
	if err := app.users.EnsureDefaultAdmin(ctx, app.config.AdminUsername, app.config.AdminPassword); err != nil {
		return fmt.Errorf("admin seed error: %w", err)
	}

	if err := app.scheduler.Start(); err != nil {
		return fmt.Errorf("scheduler start error: %w", err)
	}
	defer app.scheduler.Stop()

	srv := &http.Server{
		Addr:    app.config.ListenAddr,
		Handler: app.api.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server error: %w", err)
	case <-ctx.Done():
	}

	app.logger.Info(ctx, "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown error: %w", err)
	}
	return nil
}
