package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"tickpulse/internal/config"
	"tickpulse/internal/database"
	"tickpulse/internal/deriv"
	"tickpulse/internal/metrics"
	"tickpulse/internal/prediction"
	"tickpulse/internal/relay"
	"tickpulse/internal/server"
	"tickpulse/internal/session"
)

func main() {
	// A .env file is optional; real environment variables take precedence.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("cannot load config: %v", err)
	}

	logger := newLogger(cfg.Log)
	if cfg.Deriv.AppID == "" {
		logger.Warn("deriv.app_id is empty; upstream connections will be rejected")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("tickpulse stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	repo, err := database.NewPostgresRepository(ctx, cfg.Database.DSN())
	if err != nil {
		return err
	}
	defer repo.Close()
	if err := repo.Migrate(ctx); err != nil {
		return err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(reg)

	newClient := deriv.NewFactory(cfg.Deriv, logger)
	ticks := relay.New(relay.Config{
		BufferSize:     cfg.Relay.BufferSize,
		ConnectTimeout: cfg.Deriv.ConnectTimeout,
	}, func() relay.Upstream { return newClient() }, m, logger)

	sessions := session.NewManager(
		session.NewRedisStore(rdb, cfg.Session.TTL),
		session.CookieConfig{Name: cfg.Session.CookieName, TTL: cfg.Session.TTL, Secure: cfg.Session.Secure},
		logger,
	)

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := server.New(cfg, server.Deps{
		Repo:     repo,
		Sessions: sessions,
		Relay:    ticks,
		NewDeriv: func() server.DerivAPI { return newClient() },
		Metrics:  m,
		Gatherer: reg,
		NewRand:  prediction.NewRand,
		Logger:   logger,
	})

	return srv.Run(ctx)
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(handler).With("service", "tickpulse")
}
