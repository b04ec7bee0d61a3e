package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/kormo-connect/backend/internal/ai"
	"github.com/kormo-connect/backend/internal/analysis"
	"github.com/kormo-connect/backend/internal/applications"
	"github.com/kormo-connect/backend/internal/auth"
	"github.com/kormo-connect/backend/internal/config"
	"github.com/kormo-connect/backend/internal/cvextract"
	"github.com/kormo-connect/backend/internal/database"
	"github.com/kormo-connect/backend/internal/ids"
	"github.com/kormo-connect/backend/internal/logging"
	"github.com/kormo-connect/backend/internal/matches"
	"github.com/kormo-connect/backend/internal/metrics"
	"github.com/kormo-connect/backend/internal/profiles"
	"github.com/kormo-connect/backend/internal/quota"
	"github.com/kormo-connect/backend/internal/reviews"
	"github.com/kormo-connect/backend/internal/server"
	"github.com/kormo-connect/backend/internal/storage"
	"github.com/kormo-connect/backend/internal/tasks"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

type appRuntime struct {
	config config.AppConfig
	logger *zap.Logger
	db     *gorm.DB
}

func openRuntime() (*appRuntime, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return nil, err
	}

	db, err := database.Open(appConfig.DatabaseDriver, appConfig.DatabaseDSN, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return &appRuntime{config: appConfig, logger: logger, db: db}, nil
}

func (r *appRuntime) Close() {
	if sqlDB, err := r.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	_ = r.logger.Sync()
}

func runServer(ctx context.Context) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()
	appConfig, logger, db := rt.config, rt.logger, rt.db

	if err := appConfig.RequireGemini(); err != nil {
		return err
	}

	metricsManager := metrics.NewManager(metrics.WithEnabled(appConfig.MetricsEnabled))

	gemini, err := ai.NewGeminiClient(ctx, ai.GeminiConfig{
		APIKey:   appConfig.Gemini.APIKey,
		Model:    appConfig.Gemini.Model,
		Endpoint: appConfig.Gemini.Endpoint,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	completer := ai.NewRetryingCompleter(gemini, ai.RetryConfig{
		MaxRetries:     appConfig.Gemini.MaxRetries,
		InitialBackoff: appConfig.Gemini.InitialBackoff,
		Logger:         logger,
		Observer:       metricsManager,
	})

	profileService, err := profiles.NewService(profiles.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		return err
	}
	tracker, err := quota.NewTracker(quota.TrackerConfig{
		Store:    quota.NewGormStore(db),
		Policy:   quota.NewPolicy(appConfig.Quota.Window, appConfig.Quota.FreeLimit, appConfig.Quota.PremiumLimit),
		Logger:   logger,
		Observer: metricsManager,
	})
	if err != nil {
		return err
	}

	idProvider := ids.NewUUIDProvider()
	cache, err := analysis.NewCache(analysis.CacheConfig{
		Database: db,
		TTL:      appConfig.Cache.TTL,
		Logger:   logger,
		Observer: metricsManager,
	})
	if err != nil {
		return err
	}
	records, err := analysis.NewRecords(db, idProvider, time.Now)
	if err != nil {
		return err
	}
	taskRepository, err := tasks.NewRepository(db)
	if err != nil {
		return err
	}
	suitability, err := analysis.NewService(analysis.ServiceConfig{
		Cache:     cache,
		Records:   records,
		Profiles:  profileService,
		Tasks:     taskRepository,
		Quota:     tracker,
		Completer: completer,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	cvConfig := cvextract.ServiceConfig{
		Profiles:  profileService,
		Quota:     tracker,
		Completer: completer,
		Logger:    logger,
	}
	if appConfig.Storage.Enabled() {
		objectStore, err := storage.NewS3Store(ctx, storage.S3Config{
			Endpoint:  appConfig.Storage.Endpoint,
			Region:    appConfig.Storage.Region,
			Bucket:    appConfig.Storage.Bucket,
			AccessKey: appConfig.Storage.AccessKey,
			SecretKey: appConfig.Storage.SecretKey,
		})
		if err != nil {
			return err
		}
		cvConfig.Storage = objectStore
	}
	cvService, err := cvextract.NewService(cvConfig)
	if err != nil {
		return err
	}

	matchService, err := matches.NewService(matches.ServiceConfig{
		Profiles:  profileService,
		Quota:     tracker,
		Completer: completer,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	applicationService, err := applications.NewService(applications.ServiceConfig{
		Database:   db,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	reviewService, err := reviews.NewService(reviews.ServiceConfig{
		Database:   db,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	validator, err := auth.NewValidator(auth.ValidatorConfig{
		SigningSecret: []byte(appConfig.Auth.JWTSecret),
		Issuer:        appConfig.Auth.Issuer,
		Audience:      appConfig.Auth.Audience,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Tokens:         validator,
		Profiles:       profileService,
		Suitability:    suitability,
		CV:             cvService,
		Matches:        matchService,
		Applications:   applicationService,
		Reviews:        reviewService,
		Metrics:        metricsManager,
		AllowedOrigins: appConfig.AllowedOrigins,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("model", appConfig.Gemini.Model),
			zap.Bool("cv_archive", appConfig.Storage.Enabled()),
		)
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("server shutting down")
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
