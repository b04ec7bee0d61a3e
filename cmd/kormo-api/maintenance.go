package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/kormo-connect/backend/internal/analysis"
	"github.com/kormo-connect/backend/internal/auth"
	"github.com/kormo-connect/backend/internal/config"
	"github.com/kormo-connect/backend/internal/profiles"
	"github.com/kormo-connect/backend/internal/tasks"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func runExpireSubscriptions(ctx context.Context, out io.Writer) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	profileService, err := profiles.NewService(profiles.ServiceConfig{Database: rt.db, Logger: rt.logger})
	if err != nil {
		return err
	}
	count, err := profileService.ExpireSubscriptions(ctx)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "expired %d subscriptions\n", count)
	return err
}

func runExpireTaskBoosts(ctx context.Context, out io.Writer) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	taskRepository, err := tasks.NewRepository(rt.db)
	if err != nil {
		return err
	}
	expired, err := taskRepository.ExpireBoosts(ctx, time.Now())
	if err != nil {
		rt.logger.Error("task boost expiry failed", zap.Error(err))
		return err
	}
	if len(expired) > 0 {
		rt.logger.Info("task boosts expired", zap.Int("count", len(expired)), zap.Strings("task_ids", expired))
	}
	_, err = fmt.Fprintf(out, "expired %d task boosts\n", len(expired))
	return err
}

func runPurgeCache(ctx context.Context, out io.Writer) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	cache, err := analysis.NewCache(analysis.CacheConfig{Database: rt.db, TTL: rt.config.Cache.TTL, Logger: rt.logger})
	if err != nil {
		return err
	}
	count, err := cache.Purge(ctx)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "purged %d cache entries\n", count)
	return err
}

// runIssueToken only needs the signing configuration, so it does not open the database.
func runIssueToken(ctx context.Context, out io.Writer, subject, email string, ttl time.Duration) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.Auth.JWTSecret),
		Issuer:        appConfig.Auth.Issuer,
		Audience:      appConfig.Auth.Audience,
		TokenTTL:      ttl,
	})
	if err != nil {
		return err
	}
	token, expiresIn, err := issuer.IssueToken(ctx, auth.Subject{ID: subject, Email: email})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "%s\nexpires in %ds\n", token, expiresIn)
	return err
}
