package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/zen-systems/cascadegate/pkg/archive"
	"github.com/zen-systems/cascadegate/pkg/cascade"
	"github.com/zen-systems/cascadegate/pkg/metrics"
	"github.com/zen-systems/cascadegate/pkg/schema"
)

const (
	maxBodyBytes        = 1 << 20 // 1 MiB
	shutdownGracePeriod = 10 * time.Second
	readTimeout         = 30 * time.Second
	idleTimeout         = 120 * time.Second
	defaultListLimit    = 50
)

// Server exposes the cascade over HTTP.
type Server struct {
	cascade *cascade.Cascade
	text    *cascade.TextStreamManager
	tools   *cascade.ToolStreamManager
	tracker *metrics.Tracker
	archive *archive.Store
	logger  zerolog.Logger
	app     *echo.Echo
	address string
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request and lifecycle logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithArchive serves archived outcomes from store.
func WithArchive(store *archive.Store) Option {
	return func(s *Server) {
		s.archive = store
	}
}

// WithAddress sets the listen address.
func WithAddress(addr string) Option {
	return func(s *Server) {
		s.address = addr
	}
}

// New constructs an HTTP server wired with routing and middleware.
func New(c *cascade.Cascade, opts ...Option) (*Server, error) {
	if c == nil {
		return nil, errors.New("cascade must not be nil")
	}

	s := &Server{
		cascade: c,
		text:    cascade.NewTextStreamManager(c),
		tools:   cascade.NewToolStreamManager(c),
		tracker: c.Tracker(),
		logger:  zerolog.Nop(),
		address: ":8080",
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "server").Logger()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogLatency: true,
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ev := s.logger.Info()
			if v.Error != nil {
				ev = s.logger.Warn().Err(v.Error)
			}
			ev.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request")
			return nil
		},
	}))

	s.app = e
	s.registerRoutes()
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.app
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info().Str("addr", s.address).Msg("starting server")

	// No write timeout: streams stay open for the whole cascade.
	httpServer := &http.Server{
		Addr:        s.address,
		Handler:     s.app,
		ReadTimeout: readTimeout,
		IdleTimeout: idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.app.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := s.app.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info().Msg("server shutdown complete")
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) registerRoutes() {
	s.app.GET("/health", s.handleHealth)
	s.app.POST("/v1/cascade", s.handleCascade)
	s.app.POST("/v1/cascade/stream", s.handleStream)
	s.app.POST("/v1/classify", s.handleClassify)
	s.app.POST("/v1/validate", s.handleValidate)
	s.app.GET("/v1/metrics", s.handleMetrics)
	s.app.GET("/v1/outcomes", s.handleOutcomes)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCascade(c echo.Context) error {
	var q schema.Query
	if err := decodeRequestBody(c, &q); err != nil {
		return err
	}

	out, err := s.cascade.Run(c.Request().Context(), &q)
	if err != nil {
		if errors.Is(err, cascade.ErrConfiguration) {
			return requestError{Status: http.StatusBadRequest, Message: err.Error(), Type: "invalid_request_error"}
		}
		if errors.Is(err, context.Canceled) {
			return requestError{Status: statusClientClosed, Message: "request cancelled", Type: "cancelled"}
		}
		// Failed outcomes still carry their diagnostics.
		return c.JSON(http.StatusBadGateway, out)
	}
	return c.JSON(http.StatusOK, out)
}

// statusClientClosed is the de facto status for a client that went away.
const statusClientClosed = 499

func (s *Server) handleStream(c echo.Context) error {
	var q schema.Query
	if err := decodeRequestBody(c, &q); err != nil {
		return err
	}

	ctx := c.Request().Context()
	var (
		events <-chan cascade.Event
		err    error
	)
	if q.HasTools() {
		events, err = s.tools.Stream(ctx, &q)
	} else {
		events, err = s.text.Stream(ctx, &q)
	}
	if err != nil {
		return requestError{Status: http.StatusBadRequest, Message: err.Error(), Type: "invalid_request_error"}
	}
	return writeEventStream(c, events)
}

type classifyRequest struct {
	schema.Query
}

func (s *Server) handleClassify(c echo.Context) error {
	var req classifyRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.cascade.Classifier().Classify(c.Request().Context(), &req.Query))
}

type validateRequest struct {
	Calls      []schema.ToolCall   `json:"calls"`
	Tools      []schema.ToolSchema `json:"tools"`
	Complexity string              `json:"complexity,omitempty"`
}

func (s *Server) handleValidate(c echo.Context) error {
	var req validateRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}
	if len(req.Tools) == 0 {
		return requestError{Status: http.StatusBadRequest, Message: "tools are required", Type: "invalid_request_error"}
	}
	return c.JSON(http.StatusOK, s.cascade.Validator().Validate(req.Calls, req.Tools, req.Complexity))
}

func (s *Server) handleMetrics(c echo.Context) error {
	if s.tracker == nil {
		return requestError{Status: http.StatusNotFound, Message: "metrics tracking is disabled", Type: "not_found"}
	}
	return c.JSON(http.StatusOK, s.tracker.Summary())
}

func (s *Server) handleOutcomes(c echo.Context) error {
	limit := defaultListLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return requestError{Status: http.StatusBadRequest, Message: "limit must be a positive integer", Type: "invalid_request_error"}
		}
		limit = n
	}

	if s.archive != nil {
		records, err := s.archive.List(c.Request().Context(), limit)
		if err != nil {
			s.logger.Error().Err(err).Msg("list archived outcomes")
			return requestError{Status: http.StatusInternalServerError, Message: "archive unavailable", Type: "server_error"}
		}
		return c.JSON(http.StatusOK, records)
	}
	if s.tracker == nil {
		return requestError{Status: http.StatusNotFound, Message: "metrics tracking is disabled", Type: "not_found"}
	}
	records := s.tracker.Records()
	if len(records) > limit {
		records = records[len(records)-limit:]
	}
	// Newest first, matching the archive.
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return c.JSON(http.StatusOK, records)
}

func decodeRequestBody[T any](c echo.Context, target *T) error {
	req := c.Request()
	defer req.Body.Close()

	req.Body = http.MaxBytesReader(c.Response(), req.Body, maxBodyBytes)

	decoder := json.NewDecoder(req.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return requestError{
				Status:  http.StatusBadRequest,
				Message: "request body is required",
				Type:    "invalid_request_error",
			}
		}
		return requestError{
			Status:  http.StatusBadRequest,
			Message: fmt.Sprintf("invalid JSON payload: %v", err),
			Type:    "invalid_request_error",
		}
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "request body must contain a single JSON object",
			Type:    "invalid_request_error",
		}
	}
	return nil
}

type requestError struct {
	Status  int
	Message string
	Type    string
}

func (e requestError) Error() string {
	return e.Message
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func writeError(c echo.Context, status int, message, errType string) error {
	var payload errorBody
	payload.Error.Message = message
	payload.Error.Type = errType
	return c.JSON(status, payload)
}

func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	var reqErr requestError
	if errors.As(err, &reqErr) {
		_ = writeError(c, reqErr.Status, reqErr.Message, reqErr.Type)
		return
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		_ = writeError(c, he.Code, fmt.Sprint(he.Message), "invalid_request_error")
		return
	}

	_ = writeError(c, http.StatusInternalServerError, "internal server error", "server_error")
}
