package main // Entry point package

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iliyamo/session-auth/internal/config"
	"github.com/iliyamo/session-auth/internal/database"
	"github.com/iliyamo/session-auth/internal/logger"
	"github.com/iliyamo/session-auth/internal/queue"
	"github.com/iliyamo/session-auth/internal/repository"
	"github.com/iliyamo/session-auth/internal/router"
	"github.com/iliyamo/session-auth/internal/service"
	"github.com/iliyamo/session-auth/internal/utils"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	db, err := database.Open(database.Options{
		User:    cfg.DBUser,
		Pass:    cfg.DBPass,
		Host:    cfg.DBHost,
		Port:    cfg.DBPort,
		Name:    cfg.DBName,
		Timeout: cfg.StoreTimeout,
	})
	if err != nil {
		log.WithError(err).Fatal("database connection failed")
	}
	defer db.Close()

	migrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = database.Migrate(migrateCtx, db)
	cancel()
	if err != nil {
		log.WithError(err).Fatal("schema migration failed")
	}

	codec, err := utils.NewTokenCodec(cfg.JWTSecret, cfg.JWTIssuer, cfg.AccessTTL, cfg.RefreshTTL)
	if err != nil {
		log.WithError(err).Fatal("token codec")
	}

	opts := service.Options{StoreTimeout: cfg.StoreTimeout, Logger: log}
	if cfg.EventsEnabled {
		pub := queue.NewPublisher(cfg.RabbitMQURL, log)
		defer pub.Close()
		opts.Events = pub
	}
	sessions := service.NewSessionManager(repository.NewStore(db), utils.NewBcryptHasher(cfg.BcryptCost), codec, opts)

	if cfg.HasBootstrapAdmin() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_, err := sessions.Register(ctx, service.RegisterInput{
			Username: cfg.AdminUsername,
			Email:    cfg.AdminEmail,
			Password: cfg.AdminPassword,
			Role:     "admin",
		})
		cancel()
		switch {
		case err == nil:
			log.WithField("email", cfg.AdminEmail).Info("bootstrap admin created")
		case errors.Is(err, service.ErrDuplicateIdentity):
			log.Debug("bootstrap admin already exists")
		default:
			log.WithError(err).Fatal("bootstrap admin")
		}
	}

	rdb := config.NewRedisClient(log)
	if rdb != nil {
		defer rdb.Close()
	}

	e := router.New(router.Deps{
		Sessions:  sessions,
		Codec:     codec,
		DB:        db,
		Redis:     rdb,
		RateLimit: config.LoadRateLimitConfig(),
		Logger:    log,
	})

	addr := ":" + cfg.Port
	go func() {
		log.WithField("addr", addr).WithField("env", cfg.Env).Info("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server stopped")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := e.Shutdown(ctx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
	}
	log.Info("server stopped")
}
