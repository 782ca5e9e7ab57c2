// API entrypoint: loads configuration, wires dependencies and starts the HTTP
// server serving both the JSON API and the server-rendered pages.
package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chrismeisner/makethetake/internal/app/httpapi"
	"github.com/chrismeisner/makethetake/internal/app/identity"
	"github.com/chrismeisner/makethetake/internal/app/session"
	"github.com/chrismeisner/makethetake/internal/app/takes"
	"github.com/chrismeisner/makethetake/internal/app/web"
	"github.com/chrismeisner/makethetake/internal/domain"
	"github.com/chrismeisner/makethetake/internal/platform/clock"
	"github.com/chrismeisner/makethetake/internal/platform/config"
	"github.com/chrismeisner/makethetake/internal/platform/health"
	"github.com/chrismeisner/makethetake/internal/platform/ids"
	"github.com/chrismeisner/makethetake/internal/platform/logger"
	"github.com/chrismeisner/makethetake/internal/platform/migrations"
	postgresstorage "github.com/chrismeisner/makethetake/internal/platform/storage/postgres"
	redisstorage "github.com/chrismeisner/makethetake/internal/platform/storage/redis"
	"github.com/chrismeisner/makethetake/internal/platform/throttle"
	twilioclient "github.com/chrismeisner/makethetake/internal/platform/twilio"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("invalid configuration", "err", err)
	}

	// One shared GORM connection for the whole process: repositories, pool
	// reuse and readiness checks.
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

	// Redis carries the tally counters and the SMS outbox.
	redisClient, err := redisstorage.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Fatal("redis connection failed", "err", err)
	}
	defer redisClient.Close()

	profileRepo := postgresstorage.NewProfileRepository(db)
	propRepo := postgresstorage.NewPropRepository(db)
	takeRepo := postgresstorage.NewTakeRepository(db)
	counter := redisstorage.NewCounter(redisClient, cfg.CounterKeyPrefix)
	outbox := redisstorage.NewOutbox(redisClient, cfg.OutboxKeyPrefix)
	clockSystem := clock.NewSystemClock()
	idGen := ids.NewGenerator()

	verifier := twilioclient.NewClient(
		cfg.TwilioAccountSID,
		cfg.TwilioAuthToken,
		cfg.TwilioVerifyServiceID,
		cfg.TwilioFromNumber,
	)

	var sendCodeThrottle domain.Throttle = throttle.NewNoop()
	if cfg.SendCodeRateEnabled {
		window := time.Duration(cfg.SendCodeRateWindowSeconds) * time.Second
		sendCodeThrottle = throttle.NewRedisLimiter(redisClient, cfg.SendCodeRateMax, window, cfg.SendCodeRatePrefix)
	}

	identitySvc := identity.NewService(profileRepo, verifier, sendCodeThrottle, idGen, logger.L())
	takeSvc := takes.NewService(
		propRepo,
		takeRepo,
		identitySvc,
		counter,
		outbox,
		clockSystem,
		idGen,
		cfg.AppURL,
		logger.L(),
	)
	sessions := session.NewManager(cfg.SessionSecret, session.DefaultTTL)

	mux := http.NewServeMux()
	checker := health.NewChecker(sqlDB, redisClient)

	api := httpapi.New(takeSvc, identitySvc, sessions, logger.L())
	api.Register(mux)
	frontend, err := web.New(takeSvc, identitySvc, sessions)
	if err != nil {
		logger.Fatal("template loading failed", "err", err)
	}
	frontend.Register(mux)
	mux.HandleFunc("/readyz", checker.ReadyHandler())
	mux.Handle("/metrics", promhttp.Handler())

	logger.Info("api listening", "addr", cfg.HTTPAddress)
	if err := http.ListenAndServe(cfg.HTTPAddress, mux); err != nil {
		logger.Fatal("server error", "err", err)
	}
}
