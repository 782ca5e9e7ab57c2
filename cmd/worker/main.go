// Asynchronous worker that drains the SMS outbox and delivers messages
// through Twilio, with its own metrics endpoint.
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chrismeisner/makethetake/internal/app/worker"
	"github.com/chrismeisner/makethetake/internal/platform/config"
	"github.com/chrismeisner/makethetake/internal/platform/health"
	"github.com/chrismeisner/makethetake/internal/platform/logger"
	"github.com/chrismeisner/makethetake/internal/platform/migrations"
	postgresstorage "github.com/chrismeisner/makethetake/internal/platform/storage/postgres"
	redisstorage "github.com/chrismeisner/makethetake/internal/platform/storage/redis"
	twilioclient "github.com/chrismeisner/makethetake/internal/platform/twilio"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("invalid configuration", "err", err)
	}

	// The worker shares the API's GORM connection setup so migrations and
	// models never diverge between the two binaries.
	db, err := postgresstorage.Open(ctx, cfg.PostgresDSN())
	if err != nil {
		logger.Fatal("postgres connection failed", "err", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("could not unwrap sql.DB", "err", err)
	}
	defer sqlDB.Close()

	if cfg.AutoMigrate {
		if err := migrations.Run(db); err != nil {
			logger.Fatal("auto migration failed", "err", err)
		}
	}

	redisClient, err := redisstorage.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Fatal("redis connection failed", "err", err)
	}
	defer redisClient.Close()

	outbox := redisstorage.NewOutbox(redisClient, cfg.OutboxKeyPrefix)
	checker := health.NewChecker(sqlDB, redisClient)

	if cfg.WorkerMetricsAddress != "" {
		go func() {
			// Metrics stay reachable while the main goroutine blocks on the
			// outbox.
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			mux.HandleFunc("/readyz", checker.ReadyHandler())
			logger.Info("worker metrics listening", "addr", cfg.WorkerMetricsAddress)
			if err := http.ListenAndServe(cfg.WorkerMetricsAddress, mux); err != nil {
				logger.Error("worker metrics server error", "err", err)
			}
		}()
	}

	messenger := twilioclient.NewClient(
		cfg.TwilioAccountSID,
		cfg.TwilioAuthToken,
		cfg.TwilioVerifyServiceID,
		cfg.TwilioFromNumber,
	)
	dispatcher := worker.NewSMSDispatcher(messenger, logger.L())

	logger.Info("worker started, waiting for messages")
	err = dispatcher.Run(ctx, outbox)

	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		logger.Fatal("worker stopped with error", "err", err)
	}

	logger.Info("worker stopped")
}
