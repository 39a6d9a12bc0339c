// Command notifier consumes session.superseded events and tells the displaced
// account holder that a login elsewhere ended their session.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/iliyamo/session-auth/internal/config"
	"github.com/iliyamo/session-auth/internal/logger"
	"github.com/iliyamo/session-auth/internal/queue"
)

func main() {
	_ = godotenv.Load()
	cfg := config.LoadNotifierConfig()
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := &queue.Consumer{
		URL:      cfg.RabbitMQURL,
		Notifier: queue.LogNotifier{Log: log},
		Log:      log,
		Prefetch: cfg.Prefetch,
	}
	if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("notifier stopped")
	}
	log.Info("notifier stopped")
}
