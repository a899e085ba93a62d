package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/AgentOS/scripthost/internal/api/http"
	"github.com/GriffinCanCode/AgentOS/scripthost/internal/api/middleware"
	"github.com/GriffinCanCode/AgentOS/scripthost/internal/api/ws"
	"github.com/GriffinCanCode/AgentOS/scripthost/internal/domain/bridge"
	"github.com/GriffinCanCode/AgentOS/scripthost/internal/domain/execution"
	"github.com/GriffinCanCode/AgentOS/scripthost/internal/domain/modules"
	"github.com/GriffinCanCode/AgentOS/scripthost/internal/domain/permissions"
	"github.com/GriffinCanCode/AgentOS/scripthost/internal/domain/supervisor"
	"github.com/GriffinCanCode/AgentOS/scripthost/internal/domain/tasks"
	"github.com/GriffinCanCode/AgentOS/scripthost/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/scripthost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/scripthost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/scripthost/internal/infrastructure/resilience"
)

const shutdownTimeout = 10 * time.Second

// Server wraps the HTTP server and the script host it exposes
type Server struct {
	router  *gin.Engine
	hub     *bridge.Hub
	broker  *permissions.Broker
	virtual *modules.VirtualRegistry
	tasks   *tasks.Manager
	main    *supervisor.Supervisor
	logger  *logging.Logger
	config  *config.Config
	metrics *monitoring.Metrics
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config, logger *logging.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	logger.Info("Initializing script host",
		zap.String("port", cfg.Server.Port),
		zap.String("main_module", cfg.Runtime.MainModule),
	)

	if cfg.Runtime.StageDir != "" {
		if err := os.MkdirAll(cfg.Runtime.StageDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create stage dir: %w", err)
		}
	}

	// Initialize metrics first (needed by other components)
	metrics := monitoring.NewMetrics()

	hub := bridge.NewHub(logger).WithMetrics(metrics)
	broker := permissions.NewBroker(cfg.Runtime.MaxPromptBytes, hub, logger).WithMetrics(metrics)
	virtual := modules.NewVirtualRegistry()
	fetcher := modules.NewHTTPFetcher(modules.FetcherConfig{
		Timeout:   cfg.Fetch.Timeout,
		Retries:   cfg.Fetch.Retries,
		RateLimit: cfg.Fetch.RateLimit,
		UserAgent: cfg.Fetch.UserAgent,
	})

	env := &execution.Environment{
		Virtual:      virtual,
		Fetcher:      fetcher,
		Broker:       broker,
		Events:       hub,
		Logger:       logger,
		Metrics:      metrics,
		AllowRead:    cfg.Runtime.AllowRead,
		MaxCallStack: cfg.Runtime.MaxCallStack,
	}

	taskManager := tasks.NewManager(env, cfg.Runtime.StageDir, hub, logger).WithMetrics(metrics)

	var mainCtx *supervisor.Supervisor
	if cfg.Runtime.MainModule != "" {
		policy := resilience.RetryPolicy{
			MaxRetries: cfg.Runtime.MaxRetries,
			Backoff:    cfg.Runtime.RetryBackoff,
		}
		mainCtx = supervisor.New(env, cfg.Runtime.MainModule, policy, hub, logger).
			WithMetrics(metrics).
			OnFatal(func(err error) {
				logger.Error("main context cannot be kept alive", zap.Error(err))
			})
	} else {
		logger.Info("Main context disabled")
	}

	// Create router
	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		rl := middleware.DefaultRateLimitConfig()
		rl.RequestsPerSecond = float64(cfg.RateLimit.RequestsPerSecond)
		rl.Burst = cfg.RateLimit.Burst
		router.Use(middleware.RateLimit(rl))
	}

	// A nil *Supervisor must not become a non-nil interface
	var mainAPI apihttp.MainContext
	var mainWS ws.MainEvents
	if mainCtx != nil {
		mainAPI = mainCtx
		mainWS = mainCtx
	}

	handlers := apihttp.NewHandlers(taskManager, broker, virtual, mainAPI, hub, logger)
	handlers.Register(router)

	wsHandler := ws.NewHandler(hub, taskManager, mainWS, broker, logger).WithMetrics(metrics)
	router.GET("/stream", wsHandler.HandleConnection)

	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	logger.Info("Server initialized successfully")

	return &Server{
		router:  router,
		hub:     hub,
		broker:  broker,
		virtual: virtual,
		tasks:   taskManager,
		main:    mainCtx,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
	}, nil
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run listens on the configured address and serves until ctx is cancelled
// or the main context fails fatally
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.config.Server.Host, s.config.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln. The main context is started alongside the listener
// and everything is shut down before Serve returns.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		s.logger.Info("Starting HTTP server", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	mainDone := make(chan struct{})
	if s.main != nil {
		go func() {
			defer close(mainDone)
			if err := s.main.Run(ctx); err != nil {
				errCh <- fmt.Errorf("main context: %w", err)
			}
		}()
	} else {
		close(mainDone)
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()

	if err := s.shutdown(shutdownCtx, srv, cancel, mainDone); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// shutdown stops accepting requests, then the main context and tasks, and
// finally drains the notification hub
func (s *Server) shutdown(ctx context.Context, srv *http.Server, cancel context.CancelFunc, mainDone <-chan struct{}) error {
	s.logger.Info("Shutting down server...")

	var errs []error
	if err := srv.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	if s.main != nil {
		s.main.Close()
	}
	cancel()
	select {
	case <-mainDone:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("main context shutdown: %w", ctx.Err()))
	}

	if err := s.tasks.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("task shutdown: %w", err))
	}

	s.hub.Close()
	_ = s.logger.Sync()
	return errors.Join(errs...)
}
