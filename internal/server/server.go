package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tickpulse/internal/config"
	"tickpulse/internal/database"
	"tickpulse/internal/deriv"
	"tickpulse/internal/metrics"
	"tickpulse/internal/prediction"
	"tickpulse/internal/relay"
	"tickpulse/internal/session"
)

// DerivAPI is the request/response surface of the trading API used by the
// account handlers. *deriv.Client implements it.
type DerivAPI interface {
	Connect(ctx context.Context) error
	Authorize(ctx context.Context, token string) (deriv.AuthorizeResult, error)
	GetAccountBalance(ctx context.Context, token string) (deriv.BalanceResult, error)
	GetAccountList(ctx context.Context, token string) ([]deriv.Account, error)
	Disconnect() error
}

// Deps are the collaborators of the HTTP surface.
type Deps struct {
	Repo     database.Repository
	Sessions *session.Manager
	Relay    *relay.Relay
	NewDeriv func() DerivAPI
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	NewRand  func() prediction.Rand // one source per signals stream
	Logger   *slog.Logger
}

// Server is the HTTP surface of the application.
type Server struct {
	cfg    config.Config
	deps   Deps
	logger *slog.Logger
	engine *gin.Engine
}

// New builds the router.
func New(cfg config.Config, deps Deps) *Server {
	if deps.NewRand == nil {
		deps.NewRand = prediction.NewRand
	}

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger,
		engine: gin.New(),
	}

	origins := cfg.Server.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{cfg.Server.FrontendURL}
	}

	s.engine.Use(gin.Recovery(), requestLogger(s.logger))
	s.engine.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Cache-Control"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))

	auth := s.engine.Group("/api/auth")
	auth.GET("/deriv", s.derivLogin)
	auth.GET("/deriv/callback", s.derivCallback)
	auth.GET("/me", s.deps.Sessions.Require(), s.me)
	auth.POST("/logout", s.logout)

	user := s.engine.Group("/api/user", s.deps.Sessions.Require())
	user.GET("/balances", s.balances)
	user.GET("/profile", s.profile)

	ticks := s.engine.Group("/api/ticks")
	ticks.GET("/symbols", s.symbols)
	ticks.GET("/stream/:symbol", s.streamTicks)
	ticks.GET("/stream/:symbol/signals", s.streamSignals)
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down. Open streams are ended
// by cancelling their request contexts.
func (s *Server) Run(ctx context.Context) error {
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	srv := &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Server: listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Server: shutting down")
	cancelBase()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("Server: request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
