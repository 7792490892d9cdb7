package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/elonfeng/sigint/pkg/model"
)

const (
	defaultArchiveDays = 7
	maxArchiveDays     = 30
)

// Store is the read side the API serves from.
type Store interface {
	GetCurrent(ctx context.Context, cat model.Category) (*model.CategoryState, error)
	GetNarratives(ctx context.Context) (*model.NarrativeDocument, error)
	GetSignals(ctx context.Context, cat model.Category) (*model.SignalDocument, error)
	GetCorrelations(ctx context.Context) (*model.CorrelationDocument, error)
	ArchiveRange(ctx context.Context, cat model.Category, days int, now time.Time) ([]model.NewsItem, error)
	ArchiveDates(ctx context.Context) ([]string, error)
}

// Runner triggers a job on demand.
type Runner interface {
	RunNamed(ctx context.Context, name string) ([]model.RunResult, error)
}

// Options configures the HTTP server.
type Options struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
}

// Server provides the HTTP API.
type Server struct {
	store  Store
	runner Runner
	logger zerolog.Logger
	opts   Options
	now    func() time.Time
}

// New creates a new HTTP server. runner may be nil, which disables the jobs
// endpoint.
func New(s Store, runner Runner, logger zerolog.Logger, opts Options) *Server {
	if strings.TrimSpace(opts.Host) == "" {
		opts.Host = "0.0.0.0"
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	return &Server{store: s, runner: runner, logger: logger, opts: opts, now: time.Now}
}

// Handler builds the echo instance with every route registered.
func (s *Server) Handler() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ev := s.logger.Debug()
			if v.Error != nil {
				ev = s.logger.Error().Err(v.Error)
			}
			ev.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("request_id", v.RequestID).
				Msg("http request")
			return nil
		},
	}))

	api := e.Group("/api/v1")
	api.GET("/health", s.handleHealth)
	api.GET("/categories/:category", s.handleCategory)
	api.GET("/narratives", s.handleNarratives)
	api.GET("/correlations", s.handleCorrelations)
	api.GET("/signals/:category", s.handleSignals)
	api.GET("/archive/dates", s.handleArchiveDates)
	api.GET("/archive/:category", s.handleArchive)
	api.POST("/jobs/:job", s.handleRunJob)
	return e
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	e := s.Handler()
	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			s.logger.Error().Err(err).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", addr).Msg("sigint server started")
	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("sigint server stopped")
	return nil
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status := http.StatusInternalServerError
	message := "Internal server error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		if m, ok := he.Message.(string); ok && strings.TrimSpace(m) != "" {
			message = m
		} else {
			message = http.StatusText(status)
		}
	}
	if status >= 500 {
		s.logger.Error().Err(err).Str("uri", c.Request().RequestURI).Msg("request failed")
		_ = internalError(c, "Internal server error")
		return
	}
	_ = fail(c, status, message, nil)
}

func (s *Server) handleHealth(c echo.Context) error {
	return success(c, map[string]any{"service": "sigint", "time": s.now().UTC()})
}

func (s *Server) handleCategory(c echo.Context) error {
	cat, err := model.ParseCategory(c.Param("category"))
	if err != nil {
		return failValidation(c, map[string]string{"category": err.Error()})
	}
	state, err := s.store.GetCurrent(c.Request().Context(), cat)
	if err != nil {
		s.logger.Error().Err(err).Str("category", string(cat)).Msg("load category failed")
		return internalError(c, "Failed to load category")
	}
	if state == nil {
		return failNotFound(c, fmt.Sprintf("No data for category %s", cat))
	}
	return success(c, state)
}

func (s *Server) handleNarratives(c echo.Context) error {
	doc, err := s.store.GetNarratives(c.Request().Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("load narratives failed")
		return internalError(c, "Failed to load narratives")
	}
	if doc == nil {
		doc = &model.NarrativeDocument{Patterns: []model.NarrativePattern{}}
	}
	return success(c, doc)
}

func (s *Server) handleCorrelations(c echo.Context) error {
	doc, err := s.store.GetCorrelations(c.Request().Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("load correlations failed")
		return internalError(c, "Failed to load correlations")
	}
	if doc == nil {
		doc = &model.CorrelationDocument{Correlations: []model.CorrelatedNarrative{}, Divergent: []model.VelocitySpike{}}
	}
	return success(c, doc)
}

func (s *Server) handleSignals(c echo.Context) error {
	cat, err := model.ParseCategory(c.Param("category"))
	if err != nil {
		return failValidation(c, map[string]string{"category": err.Error()})
	}
	doc, err := s.store.GetSignals(c.Request().Context(), cat)
	if err != nil {
		s.logger.Error().Err(err).Str("category", string(cat)).Msg("load signals failed")
		return internalError(c, "Failed to load signals")
	}
	if doc == nil {
		return failNotFound(c, fmt.Sprintf("No signals for category %s", cat))
	}
	return success(c, doc)
}

func (s *Server) handleArchive(c echo.Context) error {
	fieldErrors := make(map[string]string)
	cat, err := model.ParseCategory(c.Param("category"))
	if err != nil {
		fieldErrors["category"] = err.Error()
	}
	days, err := parsePositiveInt(c.QueryParam("days"), defaultArchiveDays, 1, maxArchiveDays)
	if err != nil {
		fieldErrors["days"] = err.Error()
	}
	if len(fieldErrors) > 0 {
		return failValidation(c, fieldErrors)
	}

	items, err := s.store.ArchiveRange(c.Request().Context(), cat, days, s.now())
	if err != nil {
		s.logger.Error().Err(err).Str("category", string(cat)).Msg("load archive failed")
		return internalError(c, "Failed to load archive")
	}
	return success(c, map[string]any{"category": cat, "days": days, "items": items, "count": len(items)})
}

func (s *Server) handleArchiveDates(c echo.Context) error {
	dates, err := s.store.ArchiveDates(c.Request().Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("load archive dates failed")
		return internalError(c, "Failed to load archive dates")
	}
	if dates == nil {
		dates = []string{}
	}
	return success(c, dates)
}

func (s *Server) handleRunJob(c echo.Context) error {
	if s.runner == nil {
		return fail(c, http.StatusServiceUnavailable, "Jobs are not enabled on this server", nil)
	}
	job := strings.TrimSpace(c.Param("job"))
	results, err := s.runner.RunNamed(c.Request().Context(), job)
	if err != nil {
		return failNotFound(c, err.Error())
	}
	return success(c, results)
}

func parsePositiveInt(raw string, defaultValue, minValue, maxValue int) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("must be an integer")
	}
	if value < minValue || value > maxValue {
		return 0, fmt.Errorf("must be between %d and %d", minValue, maxValue)
	}
	return value, nil
}
