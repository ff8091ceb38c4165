package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"posehub.org/internal/audit"
	"posehub.org/internal/auth"
	"posehub.org/internal/config"
	"posehub.org/internal/httpapi"
	"posehub.org/internal/obs"
	"posehub.org/internal/resources"
	"posehub.org/internal/signedurl"
)

var version = "0.3.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", os.Getenv("POSEHUB_CONFIG"), "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := obs.NewLogger(obs.LogConfig{
		Level:   cfg.Log.Level,
		Pretty:  cfg.Log.Pretty,
		Service: cfg.App.Name,
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	obs.Init()

	tokenKey, urlKey, err := auth.DeriveKeys([]byte(cfg.Auth.MasterSecret))
	if err != nil {
		return err
	}

	var db *sql.DB
	var store auth.Store
	var auditStore audit.Store
	var versions httpapi.VersionSource

	if cfg.DB.DSN != "" {
		db, err = sql.Open("pgx", cfg.DB.DSN)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		db.SetMaxOpenConns(cfg.DB.MaxOpenConns)
		db.SetMaxIdleConns(cfg.DB.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)
		db.SetConnMaxIdleTime(cfg.DB.ConnMaxIdleTime)
		defer db.Close()

		store = auth.NewPGStore(db)
		auditStore = audit.NewPGStore(db)
		versions = resources.NewPGVersions(db)
	} else {
		log.Warn("no db.dsn configured, running on in-memory stores")
		store = auth.NewMemoryStore()
		auditStore = audit.NewMemoryStore()
		versions = resources.NewMemoryVersions()
	}

	codec, err := auth.NewCodec(tokenKey, cfg.Auth.Issuer, cfg.Auth.Audience)
	if err != nil {
		return err
	}
	signer, err := signedurl.New(urlKey)
	if err != nil {
		return err
	}
	auditLog := audit.NewLogger(auditStore, log)

	opts := []auth.ServiceOption{
		auth.WithAccessTTL(cfg.Auth.AccessTTL),
		auth.WithRefreshTTL(cfg.Auth.RefreshTTL),
		auth.WithLoginRate(cfg.Auth.LoginPerMinute, cfg.Auth.LoginBurst),
		auth.WithLogger(log),
	}
	if !cfg.Auth.FailClosed {
		opts = append(opts, auth.WithFailOpenRevocation())
	}
	if cfg.Auth.SingleSession {
		opts = append(opts, auth.WithSingleSession())
	}
	sessions, err := auth.NewService(store, codec, auditLog, opts...)
	if err != nil {
		return err
	}

	api := httpapi.New(httpapi.Deps{
		Sessions: sessions,
		Signer:   signer,
		Versions: versions,
		Images:   httpapi.DirImages{Dir: cfg.Images.Dir},
		Probe:    httpapi.ReadyProbe{DB: db},
		Log:      log,
		Version:  version,
		LinkTTL:  cfg.SignedURL.TTL,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The revocation blacklist only grows until expired entries are dropped.
	go pruneLoop(rootCtx, sessions, cfg.Auth.PruneInterval, log)

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting posehub-auth",
			zap.String("addr", srv.Addr),
			zap.String("version", version),
			zap.String("env", cfg.App.Env),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-rootCtx.Done():
	}

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("stopped")
	return nil
}

func pruneLoop(ctx context.Context, sessions *auth.Service, interval time.Duration, log *zap.Logger) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := sessions.PruneRevocations(ctx)
			if err != nil {
				log.Warn("revocation prune failed", zap.Error(err))
				continue
			}
			if n > 0 {
				log.Info("pruned expired revocations", zap.Int("count", n))
			}
		}
	}
}
