package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/idsync/pkg/assertion"
	"github.com/platinummonkey/idsync/pkg/config"
	"github.com/platinummonkey/idsync/pkg/directory"
	"github.com/platinummonkey/idsync/pkg/groups"
	"github.com/platinummonkey/idsync/pkg/httpapi"
	"github.com/platinummonkey/idsync/pkg/observability"
	"github.com/platinummonkey/idsync/pkg/reconcile"
	"github.com/platinummonkey/idsync/pkg/session"
	"github.com/platinummonkey/idsync/pkg/store"
	"github.com/platinummonkey/idsync/pkg/store/postgres"
)

func main() {
	startup := logrus.New()
	startup.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.LoadConfig()
	if err != nil {
		startup.WithError(err).Fatal("failed to load configuration")
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	metrics := observability.NewMetrics(nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Postgres
	db, err := postgres.Connect(postgres.ConnectionConfig{
		URL:         cfg.Database.URL,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		Timeout:     cfg.Database.Timeout,
		MaxLifetime: cfg.Database.MaxLifetime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
	})
	if err != nil {
		startup.WithError(err).Fatal("failed to connect to postgres")
	}
	defer db.Close()

	pgStore := postgres.NewStore(db, cfg.Reconcile.AccountClass)
	if err := pgStore.InitSchema(); err != nil {
		startup.WithError(err).Fatal("failed to initialize schema")
	}

	// Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:       cfg.Redis.URL,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		startup.WithError(err).Fatal("failed to connect to redis")
	}

	var recordStore store.RecordStore = pgStore
	if cfg.Redis.CacheEnabled {
		recordStore = postgres.NewCachedStore(pgStore, redisClient, cfg.Redis.CacheTTL)
	}

	// Reconciliation pipeline
	mapper := reconcile.NewAttributeMapper(cfg.Reconcile.FieldMappingRules(), logger)
	dir := directory.New(recordStore, directory.Config{
		Namespace:          cfg.Reconcile.AccountNamespace,
		AccountClass:       cfg.Reconcile.AccountClass,
		ExternalIDProperty: cfg.Reconcile.ExternalIDProperty,
	}, logger, metrics)
	profiles := reconcile.NewProfileSynchronizer(recordStore, logger, metrics)
	groupSync := groups.New(recordStore, groups.Config{
		Namespace:             cfg.Reconcile.GroupNamespace,
		ManagedGroupsProperty: cfg.Reconcile.ManagedGroupsProperty,
		DefaultGroup:          cfg.Reconcile.DefaultGroup,
	}, logger, metrics)
	sessions := session.NewStore(redisClient, cfg.Session.TTL, logger)

	reconciler := reconcile.NewReconciler(mapper, dir, profiles, groupSync, sessions, reconcile.Config{
		UsernameFields:     cfg.Reconcile.UsernameFieldOrder(),
		CapitalizeUsername: cfg.Reconcile.CapitalizeUsername,
	}, logger, metrics)

	// Identity providers
	var samlProvider httpapi.SAMLProvider
	if cfg.Provider.SAML != nil {
		p, err := assertion.NewSAMLProvider(cfg.Provider.SAML, cfg.Server.BaseURL)
		if err != nil {
			startup.WithError(err).Fatal("failed to configure SAML provider")
		}
		if err := p.ValidateConfig(); err != nil {
			startup.WithError(err).Fatal("invalid SAML configuration")
		}
		samlProvider = p
	}
	var oidcProvider httpapi.OIDCProvider
	if cfg.Provider.OIDC != nil {
		p, err := assertion.NewOIDCProvider(ctx, cfg.Provider.OIDC)
		if err != nil {
			startup.WithError(err).Fatal("failed to configure OIDC provider")
		}
		if err := p.ValidateConfig(); err != nil {
			startup.WithError(err).Fatal("invalid OIDC configuration")
		}
		oidcProvider = p
	}

	handlers := httpapi.NewHandlers(samlProvider, oidcProvider, reconciler, sessions, httpapi.Config{
		SessionCookie:      cfg.Session.CookieName,
		CookieSecure:       cfg.Session.CookieSecure,
		AllowLoginFallback: cfg.Provider.AllowLoginFallback,
	}, logger)

	router := mux.NewRouter()
	router.Use(httpapi.RequestIDMiddleware)
	router.Use(httpapi.RecoveryMiddleware(logger))
	router.Use(httpapi.LoggingMiddleware(logger))
	handlers.RegisterRoutes(router)

	apiServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics on a separate port for probes
	health := observability.NewHealthChecker(db, redisClient)
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", health.Liveness)
	healthMux.HandleFunc("/readyz", health.Readiness)
	if cfg.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", metrics.Handler())
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	// Periodic refresh of the active-sessions gauge
	scheduler := cron.New()
	if _, err := scheduler.AddFunc("@every 1m", func() {
		defer observability.RecoverPanic(logger, "session gauge refresh")
		count, err := sessions.Count(context.Background())
		if err != nil {
			logger.WithError(err).Warn("failed to count sessions")
			return
		}
		metrics.SessionsActive.Set(float64(count))
	}); err != nil {
		startup.WithError(err).Fatal("failed to schedule session gauge refresh")
	}
	scheduler.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		startup.WithField("addr", apiServer.Addr).Info("starting API server")
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		startup.WithField("addr", healthServer.Addr).Info("starting health server")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		startup.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		<-scheduler.Stop().Done()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			startup.WithError(err).Warn("API server shutdown failed")
		}
		if err := healthServer.Shutdown(shutdownCtx); err != nil {
			startup.WithError(err).Warn("health server shutdown failed")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		startup.WithError(err).Fatal("server error")
	}
	startup.Info("stopped")
}
