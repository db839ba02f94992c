package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/thesisgrey/config"
	"github.com/mohammad-safakhou/thesisgrey/internal/execution"
	"github.com/mohammad-safakhou/thesisgrey/internal/reporting"
	"github.com/mohammad-safakhou/thesisgrey/internal/results"
	"github.com/mohammad-safakhou/thesisgrey/internal/review"
	"github.com/mohammad-safakhou/thesisgrey/internal/runtime"
	"github.com/mohammad-safakhou/thesisgrey/internal/serp"
	"github.com/mohammad-safakhou/thesisgrey/internal/sessions"
	"github.com/mohammad-safakhou/thesisgrey/internal/store"
	"github.com/mohammad-safakhou/thesisgrey/internal/strategy"
	"github.com/mohammad-safakhou/thesisgrey/internal/sysconfig"
	"github.com/mohammad-safakhou/thesisgrey/internal/validate"
)

// Settings is the runtime configuration view handlers read.
type Settings interface {
	Get(ctx context.Context) (sysconfig.SystemConfig, error)
}

// Runner starts and retries search runs.
type Runner interface {
	Prepare(ctx context.Context, sessionID, userID string) (*execution.Run, error)
	PrepareRetry(ctx context.Context, executionID, ownerID string) (*execution.Run, error)
	Execute(ctx context.Context, r *execution.Run) (execution.Summary, error)
	Reprocess(ctx context.Context, sessionID, userID string) (results.Summary, error)
}

// Deps is everything the routes need.
type Deps struct {
	Store    *store.Store
	Runner   Runner
	Reports  *reporting.Service
	Settings Settings
	Config   *sysconfig.Provider
	Index    *results.IndexCache
	Jobs     *Jobs
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
	Secret   []byte
	Secure   bool
}

// Jobs runs background work bound to the server's lifetime.
type Jobs struct {
	ctx    context.Context
	wg     sync.WaitGroup
	logger *zap.Logger
}

func NewJobs(ctx context.Context, logger *zap.Logger) *Jobs {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Jobs{ctx: ctx, logger: logger}
}

// Go runs fn in the background with the server context.
func (j *Jobs) Go(name string, fn func(ctx context.Context) error) {
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		if err := fn(j.ctx); err != nil {
			j.logger.Error("background job failed", zap.String("job", name), zap.Error(err))
		}
	}()
}

// Wait blocks until every job returned.
func (j *Jobs) Wait() { j.wg.Wait() }

// New builds the echo instance with every route registered.
func New(d Deps) *echo.Echo {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.HTTPErrorHandler = errorHandler(d.Logger)
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderContentType, echo.HeaderAuthorization, "Cookie"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	if d.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}
	registerDocs(e)

	api := e.Group("/api")
	auth := &AuthHandler{Store: d.Store, Secret: d.Secret, Secure: d.Secure}
	auth.Register(api.Group("/auth"))

	protected := api.Group("", runtime.EchoAuthMiddleware(d.Secret))
	protected.GET("/me", auth.me)
	(&SessionsHandler{Store: d.Store}).Register(protected)
	(&StrategyHandler{Store: d.Store, Settings: d.Settings}).Register(protected)
	(&ExecutionsHandler{Store: d.Store, Runner: d.Runner, Jobs: d.Jobs}).Register(protected)
	(&ResultsHandler{Store: d.Store, Runner: d.Runner, Index: d.Index}).Register(protected)
	(&ReviewHandler{Store: d.Store}).Register(protected)
	(&ReportsHandler{Store: d.Store, Reports: d.Reports, Settings: d.Settings}).Register(protected)

	admin := protected.Group("/config", runtime.RequireScopes(runtime.ScopeAdmin))
	(&ConfigHandler{Config: d.Config, Store: d.Store}).Register(admin)
	return e
}

// errorHandler renders every failure as {"error": msg} and logs it.
func errorHandler(logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		code, body := statusFor(err)
		req := c.Request()
		fields := []zap.Field{
			zap.Int("status", code),
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.String("remote_ip", c.RealIP()),
			zap.Error(err),
		}
		if code >= http.StatusInternalServerError {
			logger.Error("request failed", fields...)
		} else {
			logger.Debug("request rejected", fields...)
		}
		if c.Response().Committed {
			return
		}
		if req.Method == http.MethodHead {
			_ = c.NoContent(code)
			return
		}
		_ = c.JSON(code, body)
	}
}

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) (int, any) {
	var (
		he    *echo.HTTPError
		vErrs validate.Errors
	)
	switch {
	case errors.As(err, &he):
		msg := http.StatusText(he.Code)
		if he.Message != nil {
			msg = fmt.Sprint(he.Message)
		}
		return he.Code, HTTPError{Error: msg}
	case errors.As(err, &vErrs):
		return http.StatusBadRequest, ValidationErrorResponse{Error: "validation failed", Fields: vErrs}
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, HTTPError{Error: "not found"}
	case errors.Is(err, sessions.ErrInvalidTransition),
		errors.Is(err, sessions.ErrUnknownStatus),
		errors.Is(err, review.ErrInvalidDecision),
		errors.Is(err, strategy.ErrIncomplete),
		errors.Is(err, reporting.ErrUnsupportedFormat),
		errors.Is(err, execution.ErrNoQueries):
		return http.StatusBadRequest, HTTPError{Error: err.Error()}
	case errors.Is(err, execution.ErrAlreadyRunning),
		errors.Is(err, execution.ErrNotExecutable),
		errors.Is(err, execution.ErrNotProcessable),
		store.IsUniqueViolation(err):
		return http.StatusConflict, HTTPError{Error: conflictMessage(err)}
	}
	return http.StatusInternalServerError, HTTPError{Error: "internal server error"}
}

func conflictMessage(err error) string {
	if store.IsUniqueViolation(err) {
		return "already exists"
	}
	return err.Error()
}

func userID(c echo.Context) string {
	id, _ := c.Get("user_id").(string)
	return id
}

// ownedSession loads the :id session; sessions of other users are not found.
func ownedSession(c echo.Context, st *store.Store, param string) (store.Session, error) {
	return st.GetSession(c.Request().Context(), c.Param(param), userID(c))
}

func bind(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return nil
}

// App holds the wired service components shared by the HTTP server and the
// command line.
type App struct {
	Store    *store.Store
	Settings *sysconfig.Provider
	Executor *execution.Executor
	Reports  *reporting.Service
	Registry *prometheus.Registry
	Secret   []byte
	Logger   *zap.Logger

	closers []func()
}

// Close releases the connections opened by Build.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// Build migrates the database and wires every component from cfg.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	dsn, err := runtime.BuildPostgresDSN(cfg)
	if err != nil {
		return nil, err
	}
	if err := Migrate(cfg.General.Migrations, dsn, "up", 0); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return nil, err
	}
	app := &App{Store: st, Logger: logger, closers: []func(){func() { _ = st.Close() }}}

	secret, err := runtime.LoadJWTSecret(cfg)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Secret = secret

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := runtime.NewMetrics(reg)
	app.Registry = reg

	settings := sysconfig.NewProvider(sysconfig.Defaults(cfg), st, time.Minute, logger)
	limiter := serp.NewRateLimiter(cfg.Serp.RequestsPerSecond, cfg.Serp.Burst)
	client := serp.NewHTTPClient(cfg.Serp.Timeout, cfg.Serp.MaxRetries, cfg.Serp.Backoff).WithLimiter(limiter)
	searcher, err := serp.NewSearcher(cfg.Serp, client)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("search provider: %w", err)
	}

	locker, closeLocker, err := NewLocker(ctx, cfg.Storage.Redis, logger)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.closers = append(app.closers, closeLocker)

	app.Settings = settings
	app.Executor = execution.New(st, searcher, limiter, settings, locker, metrics, logger,
		execution.Options{Concurrency: cfg.Serp.Concurrency})
	app.Reports = reporting.NewService(st, reporting.FileWriter{Dir: cfg.Reporting.ReportsDir}, metrics, logger)
	return app, nil
}

// Run wires the service from cfg and serves until ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	app, err := Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	cleaner, err := reporting.NewCleaner(app.Store, cfg.Reporting.CleanupCron, logger)
	if err != nil {
		return err
	}
	cleaner.Start(runCtx)

	jobs := NewJobs(runCtx, logger)
	e := New(Deps{
		Store:    app.Store,
		Runner:   app.Executor,
		Reports:  app.Reports,
		Settings: app.Settings,
		Config:   app.Settings,
		Index:    results.NewIndexCache(10 * time.Minute),
		Jobs:     jobs,
		Gatherer: app.Registry,
		Logger:   logger,
		Secret:   app.Secret,
		Secure:   cfg.General.IsProduction(),
	})

	addr := cfg.General.Listen
	if addr == "" {
		addr = ":10001"
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", addr))
		errCh <- e.Start(addr)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	stop()
	jobs.Wait()
	return nil
}

// NewLocker returns a redis-backed locker when redis is configured and an
// in-process one otherwise.
func NewLocker(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (execution.Locker, func(), error) {
	if !cfg.Enabled() {
		logger.Info("redis not configured; using in-process execution locks")
		return execution.NewLocalLocker(), func() {}, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr(),
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.Timeout,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("redis connection failed (%s): %w", cfg.Addr(), err)
	}
	return &execution.RedisLocker{Client: rdb}, func() { _ = rdb.Close() }, nil
}
