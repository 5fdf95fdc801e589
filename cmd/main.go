package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stockroom/config"
	"stockroom/internal/app"
	"stockroom/internal/repository"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	cfg, err := config.Load("")
	if err != nil {
		logger.WithError(err).Fatal("invalid configuration")
	}
	if cfg.IsDevelopment() {
		logger.SetLevel(logrus.DebugLevel)
	}

	db, err := config.ConnectDatabase(cfg.Database, logger)
	if err != nil {
		logger.WithError(err).Fatal("database connection failed")
	}
	if err := repository.AutoMigrate(db); err != nil {
		logger.WithError(err).Fatal("database migration failed")
	}

	var redisClient redis.UniversalClient
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			logger.WithError(err).Warn("redis unreachable, rate limits fall back to memory until it recovers")
		}
		cancel()
	}

	application, err := app.New(app.Options{
		Config: cfg,
		DB:     db,
		Redis:  redisClient,
		Log:    logger,
	})
	if err != nil {
		logger.WithError(err).Fatal("startup failed")
	}
	if err := application.Scheduler.Start(); err != nil {
		logger.WithError(err).Fatal("invalid sweep schedule")
	}

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.WithField("addr", cfg.HTTPAddr).Info("server started")
		if err := application.Echo.StartServer(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	<-application.Scheduler.Stop().Done()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := application.Echo.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("server shutdown failed")
	}
	application.Notify.Wait()
	if redisClient != nil {
		_ = redisClient.Close()
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
