package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/brewlogic/internal/audit"
	"github.com/nerrad567/brewlogic/internal/brew"
	"github.com/nerrad567/brewlogic/internal/infrastructure/config"
	"github.com/nerrad567/brewlogic/internal/infrastructure/logging"
	"github.com/nerrad567/brewlogic/internal/recipe"
	"github.com/nerrad567/brewlogic/internal/stats"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// BrewService is the executor surface the API drives. brew.Executor
// satisfies it.
type BrewService interface {
	Start(ctx context.Context, key string) (brew.RunState, error)
	Abort(ctx context.Context) error
	RunState() brew.RunState
}

// FaultChecker reports the current appliance fault. brew.FaultMonitor
// satisfies it.
type FaultChecker interface {
	CheckNow(ctx context.Context) (*brew.Fault, error)
}

// RecipeService manages recipe definitions. recipe.Registry satisfies it.
type RecipeService interface {
	ListRecipes(ctx context.Context) []recipe.Recipe
	GetRecipe(ctx context.Context, key string) (*recipe.Recipe, error)
	SaveRecipe(ctx context.Context, rec *recipe.Recipe) error
	DeleteRecipe(ctx context.Context, key string) error
	RefreshCache(ctx context.Context) error
}

// StatsService serves brew statistics. stats.SQLiteStore satisfies it.
type StatsService interface {
	Summary(ctx context.Context) (stats.Summary, error)
	ListRuns(ctx context.Context, limit int) ([]stats.Run, error)
}

// ConnectionChecker reports broker connectivity. mqtt.Client satisfies it.
type ConnectionChecker interface {
	IsConnected() bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Brew     BrewService
	Faults   FaultChecker // optional
	Recipes  RecipeService
	Stats    StatsService      // optional
	Audit    audit.Repository  // optional
	MQTT     ConnectionChecker // optional
	DB       *sql.DB           // optional, for pool metrics
	Metrics  *Metrics          // optional, created when nil
	Version  string
}

// Server is the HTTP API server for brewlogic.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	secCfg    config.SecurityConfig
	logger    *logging.Logger
	brew      BrewService
	faults    FaultChecker
	recipes   RecipeService
	stats     StatsService
	audit     audit.Repository
	mqtt      ConnectionChecker
	db        *sql.DB
	metrics   *Metrics
	version   string
	startTime time.Time
	tickets   *ticketStore
	hub       *Hub
	server    *http.Server
	cancel    context.CancelFunc // cancels background goroutines on Close()

	routerOnce sync.Once
	router     http.Handler
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Brew == nil {
		return nil, fmt.Errorf("brew service is required")
	}
	if deps.Recipes == nil {
		return nil, fmt.Errorf("recipe service is required")
	}

	metrics := deps.Metrics
	if metrics == nil {
		metrics = NewMetrics()
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		brew:      deps.Brew,
		faults:    deps.Faults,
		recipes:   deps.Recipes,
		stats:     deps.Stats,
		audit:     deps.Audit,
		mqtt:      deps.MQTT,
		db:        deps.DB,
		metrics:   metrics,
		version:   deps.Version,
		startTime: time.Now(),
		tickets:   newTicketStore(),
		hub:       NewHub(deps.WS, deps.Logger),
	}
	s.hub.AddChannel(ChannelBrewState, s.brewSnapshot)
	return s, nil
}

// Handler returns the HTTP handler with all routes and middleware.
func (s *Server) Handler() http.Handler {
	s.routerOnce.Do(func() {
		s.router = s.buildRouter()
	})
	return s.router
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// HandleBrewEvent relays an executor transition to WebSocket clients and
// metrics. Register it with brew.Executor.AddListener.
func (s *Server) HandleBrewEvent(ev brew.Event) {
	s.metrics.Observe(ev)
	s.hub.Broadcast(ChannelBrewState, ev)
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub and ticket cleanup, then launches the HTTP
// listener in a background goroutine. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	go s.cleanTicketsLoop(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.Handler(),
		ReadTimeout:       s.cfg.Timeouts.ReadTimeout(),
		ReadHeaderTimeout: s.cfg.Timeouts.ReadTimeout(),
		WriteTimeout:      s.cfg.Timeouts.WriteTimeout(),
		IdleTimeout:       s.cfg.Timeouts.IdleTimeout(),
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
