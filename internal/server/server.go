package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/essaygen/config"
	"github.com/mohammad-safakhou/essaygen/internal/essay"
	"github.com/mohammad-safakhou/essaygen/internal/llm"
	"github.com/mohammad-safakhou/essaygen/internal/telemetry"
	"github.com/mohammad-safakhou/essaygen/provider"
	"github.com/mohammad-safakhou/essaygen/repository"
)

// Server owns the HTTP surface and everything built for it at startup.
type Server struct {
	cfg     *config.Config
	logger  *zap.Logger
	echo    *echo.Echo
	cache   *essay.ContextCache
	metrics *telemetry.Metrics
	report  essay.BootstrapReport
	closers []func() error
}

// Option customizes New.
type Option func(*options)

type options struct {
	generator llm.Generator
	records   essay.RecordFetcher
	invoker   []llm.InvokerOption
}

// WithGenerator replaces the configured model provider.
func WithGenerator(g llm.Generator) Option { return func(o *options) { o.generator = g } }

// WithRecords replaces the configured document store.
func WithRecords(r essay.RecordFetcher) Option { return func(o *options) { o.records = r } }

// WithInvokerOptions adds options to the model invoker.
func WithInvokerOptions(opts ...llm.InvokerOption) Option {
	return func(o *options) { o.invoker = append(o.invoker, opts...) }
}

// New wires the service and runs the startup phase. It returns once the
// context cache has been filled or left not ready, so that serving can
// only begin after startup has finished. A missing API key is fatal only
// when model.require_api_key is set; store and model failures are not.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	s := &Server{cfg: cfg, logger: logger, cache: essay.NewContextCache()}
	if cfg.Telemetry.Enabled {
		s.metrics = telemetry.NewMetrics()
	}

	gen := o.generator
	if gen == nil {
		var err error
		gen, err = provider.New(ctx, cfg.Model, logger.Named("provider"))
		if err != nil {
			return nil, err
		}
	}
	invOpts := append([]llm.InvokerOption{
		llm.WithLogger(logger.Named("invoker")),
		llm.WithObserver(s.metrics),
	}, o.invoker...)
	invoker := llm.NewInvoker(gen, invOpts...)

	distillPolicy := retryPolicy(llm.DistillationPolicy(), cfg.Model.Distillation, cfg.Model.AttemptTimeout)
	composePolicy := retryPolicy(llm.CompositionPolicy(), cfg.Model.Composition, cfg.Model.AttemptTimeout)

	startupTimeout := coverBudget(logger, "server.startup_timeout", cfg.Server.StartupTimeout, distillPolicy)
	requestTimeout := coverBudget(logger, "server.request_timeout", cfg.Server.RequestTimeout, composePolicy)

	s.report = s.bootstrap(ctx, startupTimeout, o.records, essay.NewDistiller(invoker, distillPolicy, logger.Named("distiller")))
	s.metrics.SetContextState(s.report.Ready, s.report.Fallback)

	composer := essay.NewComposer(s.cache, invoker, essay.ComposerConfig{
		Policy:   composePolicy,
		MinWords: cfg.Essay.MinWords,
		MaxWords: cfg.Essay.MaxWords,
	}, logger.Named("composer"))
	s.echo = s.router(&EssayHandler{
		Composer:           composer,
		Cache:              s.cache,
		Metrics:            s.metrics,
		Logger:             logger.Named("http"),
		RequestTimeout:     requestTimeout,
		ConventionalStatus: cfg.Server.ConventionalStatus,
	})
	return s, nil
}

func (s *Server) bootstrap(ctx context.Context, timeout time.Duration, records essay.RecordFetcher, d *essay.Distiller) essay.BootstrapReport {
	log := s.logger.Named("startup")
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if records == nil {
		repo, err := repository.NewRecordRepository(ctx, s.cfg.Storage)
		if err != nil {
			err = fmt.Errorf("%w: open %s store: %w", essay.ErrMissingSource, s.cfg.Storage.Driver, err)
			log.Error("document store unavailable", zap.Error(err))
			return essay.BootstrapReport{Err: err}
		}
		s.closers = append(s.closers, repo.Close)
		records = repo
	}
	src := essay.Sources{
		UsersCollection:        s.cfg.Sources.UsersCollection,
		UserID:                 s.cfg.Sources.UserID,
		ScholarshipsCollection: s.cfg.Sources.ScholarshipsCollection,
		ScholarshipID:          s.cfg.Sources.ScholarshipID,
	}
	return essay.Bootstrap(ctx, records, src, d, s.cache, log)
}

func (s *Server) router(h *EssayHandler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))
	httpLog := s.logger.Named("http")
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		Skipper: func(c echo.Context) bool {
			p := c.Path()
			return p == "/healthz" || p == "/readyz" || p == "/metrics"
		},
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("request_id", v.RequestID),
			}
			if v.Error != nil {
				httpLog.Warn("request", append(fields, zap.Error(v.Error))...)
				return nil
			}
			httpLog.Info("request", fields...)
			return nil
		},
	}))
	// Unified HTTP error handler with structured JSON and logging
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		httpLog.Warn("http error",
			zap.Int("status", code),
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.String("remote", c.RealIP()),
			zap.Error(err))
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]any{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	if s.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}
	registerPage(e)
	h.Register(e)
	return e
}

// Handler is the routed HTTP handler.
func (s *Server) Handler() http.Handler { return s.echo }

// Report is the outcome of the startup phase.
func (s *Server) Report() essay.BootstrapReport { return s.report }

// Serve accepts connections until ctx ends, then shuts down gracefully. A
// nil listener listens on server.address.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if ln != nil {
		s.echo.Listener = ln
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", s.cfg.Server.Address))
		errCh <- s.echo.Start(s.cfg.Server.Address)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close releases the document store.
func (s *Server) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// Run builds the server and serves until ctx is canceled.
func Run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	s, err := New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()
	return s.Serve(ctx, nil)
}

// budgetSlack is reserved on top of a retry budget for the work around the
// model calls (record lookups, writing the response).
const budgetSlack = 5 * time.Second

// coverBudget returns configured, raised when needed so that a call under
// policy can use all of its attempts before the deadline.
func coverBudget(logger *zap.Logger, key string, configured time.Duration, policy llm.RetryPolicy) time.Duration {
	budget := policy.Budget()
	if budget == 0 || configured <= 0 {
		return configured
	}
	need := budget + budgetSlack
	if configured >= need {
		return configured
	}
	logger.Warn("timeout shorter than the retry budget; raising it",
		zap.String("key", key),
		zap.Duration("configured", configured),
		zap.Duration("effective", need))
	return need
}

// retryPolicy applies non-zero config overrides to a preset.
func retryPolicy(preset llm.RetryPolicy, o config.RetryConfig, attemptTimeout time.Duration) llm.RetryPolicy {
	p := preset
	if o.MaxAttempts > 0 {
		p.MaxAttempts = o.MaxAttempts
	}
	if o.InitialDelay > 0 {
		p.InitialDelay = o.InitialDelay
	}
	if o.Multiplier > 0 {
		p.Multiplier = o.Multiplier
	}
	if o.MaxDelay > 0 {
		p.MaxDelay = o.MaxDelay
	}
	if len(o.RetryableStatusCodes) > 0 {
		p.RetryableStatusCodes = append([]int(nil), o.RetryableStatusCodes...)
	}
	if attemptTimeout > 0 {
		p.AttemptTimeout = attemptTimeout
	}
	return p
}
