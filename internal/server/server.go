// Package server exposes the question-answering pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sql-assistant/internal/common/config"
	apperrors "sql-assistant/internal/common/errors"
	"sql-assistant/internal/common/logger"
	"sql-assistant/internal/common/validation"
	"sql-assistant/internal/models"
	"sql-assistant/internal/session"
)

const defaultCookieName = "session_id"

// Runner is the pipeline as seen by the HTTP host.
type Runner interface {
	Run(ctx context.Context, question string) (*models.PipelineRun, error)
}

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	echo      *echo.Echo
	cfg       config.ServerConfig
	session   config.SessionConfig
	runner    Runner
	store     session.Store
	db        Pinger
	validator *validation.Validator
	logger    logger.Logger
}

type queryRequest struct {
	Question  string `json:"question"`
	SessionID string `json:"sessionId,omitempty"`
}

type queryResponse struct {
	Status   string `json:"status"`
	Response string `json:"response,omitempty"`
	RunID    string `json:"runId,omitempty"`
	Query    string `json:"query,omitempty"`
}

type errorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Stage   string `json:"stage,omitempty"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

type historyResponse struct {
	History []models.Interaction `json:"history"`
}

// New builds the routes. db may be nil, in which case /ready only reports
// that the process is up.
func New(cfg config.ServerConfig, sessionCfg config.SessionConfig, runner Runner, store session.Store, db Pinger, log logger.Logger) *Server {
	if sessionCfg.CookieName == "" {
		sessionCfg.CookieName = defaultCookieName
	}

	s := &Server{
		echo:      echo.New(),
		cfg:       cfg,
		session:   sessionCfg,
		runner:    runner,
		store:     store,
		db:        db,
		validator: validation.MustValidator(validation.QuestionSchema),
		logger:    log.WithFields(map[string]interface{}{"component": "http"}),
	}

	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Info("request", map[string]interface{}{
				"method":    v.Method,
				"uri":       v.URI,
				"status":    v.Status,
				"latencyMs": v.Latency.Milliseconds(),
			})
			return nil
		},
	}))

	e.POST("/query", s.query)
	e.GET("/history", s.history)
	e.GET("/health", s.health)
	e.GET("/ready", s.ready)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return s
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start blocks until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	srv := &http.Server{
		Addr:         s.cfg.Address,
		Handler:      s.echo,
		ReadTimeout:  config.Millis(s.cfg.ReadTimeout),
		WriteTimeout: config.Millis(s.cfg.WriteTimeout),
	}

	s.logger.Info("http server listening", map[string]interface{}{"address": s.cfg.Address})
	if err := s.echo.StartServer(srv); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) query(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "could not read request body")
	}

	result := s.validator.ValidateBytes(body)
	if !result.Valid {
		return c.JSON(http.StatusBadRequest, errorResponse{
			Status:  "error",
			Message: strings.Join(result.GetErrorMessages(), "; "),
			Code:    string(apperrors.ErrCodeInvalidInput),
		})
	}

	var req queryRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = s.sessionID(c)
	} else {
		s.setSessionCookie(c, sessionID)
	}

	run, err := s.runner.Run(c.Request().Context(), req.Question)
	if err != nil {
		return s.pipelineError(c, err)
	}

	interaction := models.Interaction{Question: req.Question, Response: run.Answer, AskedAt: time.Now().UTC()}
	if err := s.store.Append(c.Request().Context(), sessionID, interaction); err != nil {
		// the answer is still returned; only the history entry is lost
		s.logger.Warn("failed to record interaction", map[string]interface{}{
			"sessionId": sessionID,
			"error":     err.Error(),
		})
	}

	resp := queryResponse{Status: "success", Response: run.Answer, RunID: run.ID}
	if run.Query != nil {
		resp.Query = run.Query.SQL
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) history(c echo.Context) error {
	h, err := s.store.List(c.Request().Context(), s.sessionID(c))
	if err != nil {
		s.logger.Error("failed to read history", map[string]interface{}{"error": err.Error()})
		return echo.NewHTTPError(http.StatusServiceUnavailable, "history unavailable")
	}
	return c.JSON(http.StatusOK, historyResponse{History: h})
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ready(c echo.Context) error {
	if s.db == nil {
		return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	if err := s.db.Ping(ctx); err != nil {
		s.logger.Warn("readiness check failed", map[string]interface{}{"error": err.Error()})
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) pipelineError(c echo.Context, err error) error {
	stdErr := apperrors.ToStandardError(err)
	resp := errorResponse{
		Status:  "error",
		Message: stdErr.Message,
		Code:    string(stdErr.Code),
		Details: stdErr.Details,
	}
	if stage, ok := stdErr.Metadata["stage"].(string); ok {
		resp.Stage = stage
	}

	s.logger.Warn("query failed", map[string]interface{}{
		"stage": resp.Stage,
		"code":  resp.Code,
		"error": err.Error(),
	})
	return c.JSON(apperrors.HTTPStatus(err), resp)
}

// sessionID returns the caller's session, issuing a new cookie on first
// contact.
func (s *Server) sessionID(c echo.Context) string {
	if cookie, err := c.Cookie(s.session.CookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	id := uuid.New().String()
	s.setSessionCookie(c, id)
	return id
}

func (s *Server) setSessionCookie(c echo.Context, id string) {
	cookie := &http.Cookie{
		Name:     s.session.CookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	if s.session.TTL > 0 {
		cookie.MaxAge = int(config.Millis(s.session.TTL).Seconds())
	}
	c.SetCookie(cookie)
}

func (s *Server) handleError(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := err.Error()

	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if he.Message != nil {
			msg = fmt.Sprint(he.Message)
		}
	}

	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed", map[string]interface{}{
			"method": c.Request().Method,
			"path":   c.Request().URL.Path,
			"error":  err.Error(),
		})
	}
	if !c.Response().Committed {
		_ = c.JSON(code, errorResponse{Status: "error", Message: msg})
	}
}
