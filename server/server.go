// Package server exposes the turn router over HTTP. The surface is
// deliberately small: a JSON chat endpoint, a legacy plain-text
// endpoint kept for old clients, and status probes.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v5"
	"go.uber.org/zap"

	"github.com/OnslaughtSnail/parley/internal/version"
	"github.com/OnslaughtSnail/parley/kernel/dialog"
	"github.com/OnslaughtSnail/parley/kernel/router"
	"github.com/OnslaughtSnail/parley/kernel/spell"
)

type chatRequest struct {
	Message   string `json:"message"`
	Mode      string `json:"mode"`       // "AIML", "LLM" or "hybrid"; empty means hybrid
	SessionID string `json:"session_id"` // empty starts a new session
}

type tokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

type chatResponse struct {
	Response  string     `json:"response"`
	Source    string     `json:"source"`
	Mode      string     `json:"mode"`
	Tokens    tokenUsage `json:"tokens"`
	SessionID string     `json:"session_id"`
}

type statusResponse struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Status  string `json:"status"`
}

// Server routes chat requests to the turn router. The optional spell
// corrector runs on every incoming message before routing.
type Server struct {
	router  *router.Router
	spell   *spell.Corrector
	logger  *zap.Logger
	echo    *echo.Echo
	httpSrv *http.Server
}

func New(r *router.Router, corrector *spell.Corrector, logger *zap.Logger) (*Server, error) {
	if r == nil {
		return nil, errors.New("server: router is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{router: r, spell: corrector, logger: logger}

	e := echo.New()
	e.Use(s.logRequests)
	e.Use(allowCrossOrigin)
	e.GET("/", s.handleStatus)
	e.GET("/healthz", s.handleHealth)
	e.POST("/chat", s.handleChat)
	e.GET("/get", s.handleLegacyGet)
	s.echo = e
	return s, nil
}

// Handler exposes the routing tree, mainly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// ListenAndServe serves until ctx is canceled, then drains in-flight
// requests before returning.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpSrv.ListenAndServe()
	}()
	s.logger.Info("listening", zap.String("addr", addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (s *Server) handleChat(c *echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, chatResponse{
			Response: "Please provide a message",
			Source:   string(dialog.SourceError),
		})
	}
	if strings.TrimSpace(req.Message) == "" {
		return c.JSON(http.StatusBadRequest, chatResponse{
			Response: "Please provide a message",
			Source:   string(dialog.SourceError),
		})
	}

	message := req.Message
	if s.spell != nil {
		message = s.spell.CorrectAll(message)
	}

	mode := dialog.ParseMode(req.Mode)
	res, err := s.router.Route(c.Request().Context(), message, req.SessionID, mode)
	if err != nil {
		// Route only errors on an empty question, already checked above.
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, chatResponse{
		Response: res.Text,
		Source:   string(res.Source),
		Mode:     string(res.Mode),
		Tokens: tokenUsage{
			Prompt:     res.Usage.PromptTokens,
			Completion: res.Usage.CompletionTokens,
			Total:      res.Usage.TotalTokens,
		},
		SessionID: res.SessionID,
	})
}

// handleLegacyGet serves the old plain-text endpoint: GET /get?msg=...
// answers with the reply body only. Old clients send no session id, so
// each request is its own session.
func (s *Server) handleLegacyGet(c *echo.Context) error {
	msg := c.QueryParam("msg")
	if strings.TrimSpace(msg) == "" {
		return c.String(http.StatusOK, ":)")
	}
	if s.spell != nil {
		msg = s.spell.CorrectAll(msg)
	}
	res, err := s.router.Route(c.Request().Context(), msg, "", dialog.ModeHybrid)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.String(http.StatusOK, res.Text)
}

func (s *Server) handleStatus(c *echo.Context) error {
	return c.JSON(http.StatusOK, statusResponse{
		Name:    "parley",
		Version: version.Version,
		Status:  "ok",
	})
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func (s *Server) logRequests(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c *echo.Context) error {
		start := time.Now()
		err := next(c)
		s.logger.Info("request",
			zap.String("method", c.Request().Method),
			zap.String("path", c.Request().URL.Path),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return err
	}
}

func allowCrossOrigin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c *echo.Context) error {
		h := c.Response().Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		if c.Request().Method == http.MethodOptions {
			return c.NoContent(http.StatusNoContent)
		}
		return next(c)
	}
}
