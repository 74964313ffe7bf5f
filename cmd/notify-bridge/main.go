package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prmission/backend/internal/config"
	"github.com/prmission/backend/internal/db"
	"github.com/prmission/backend/internal/events"
	"github.com/prmission/backend/internal/services"
	"go.uber.org/zap"
)

// Notify bridge — optional small service that subscribes to Redis
// events and forwards them to an external webhook.

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	notify := services.NewNotifyClient(cfg.WebhookURL, log)
	if !notify.Enabled() {
		log.Fatal("WEBHOOK_URL is required")
	}

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	subscriber := events.NewRedisSubscriber(rdb, log)

	log.Info("notify-bridge started", zap.String("webhook", cfg.WebhookURL))

	_ = subscriber.Subscribe(ctx, events.StreamProtocol, func(event events.Event) {
		log.Info("forwarding event", zap.String("type", event.Type))
		if err := notify.Send(ctx, event); err != nil {
			log.Warn("forward failed", zap.String("type", event.Type), zap.Error(err))
		}
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down notify-bridge")
	cancel()
}
