// Package httpapi exposes the admission service over HTTP with echo.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bnema/mailpilot/internal/application"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	zlog "github.com/rs/zerolog/log"
)

const (
	HeaderUserID   = "X-User-ID"
	HeaderUserPlan = "X-User-Plan"

	shutdownTimeout = 10 * time.Second
)

type Server struct {
	e         *echo.Echo
	admission *application.AdmissionService
	providers *application.ProviderService
}

func NewServer(admission *application.AdmissionService, providers *application.ProviderService) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Logger.SetLevel(log.OFF)
	e.HTTPErrorHandler = handleError

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:      true,
		LogStatus:   true,
		LogMethod:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			event := zlog.Info()
			switch {
			case v.Status >= 500:
				event = zlog.Error()
			case v.Status >= 400:
				event = zlog.Warn()
			}
			event.
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Msg("http request")
			return nil
		},
	}))

	s := &Server{e: e, admission: admission, providers: providers}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.e.GET("/healthz", s.health)

	v1 := s.e.Group("/v1", identify)
	v1.GET("/credits", s.credits)
	v1.GET("/modes", s.modes)
	v1.GET("/providers", s.listProviders)
	v1.GET("/sessions/latest", s.latestSession)
	v1.POST("/turns", s.turn)
	v1.POST("/moderations", s.moderate)
	v1.GET("/conversations/:id", s.conversation)
	v1.GET("/conversations/:id/checkpoints", s.checkpoints)
	v1.GET("/conversations/:id/replay", s.replay)
	v1.POST("/conversations/:id/events", s.advance)
}

func (s *Server) Handler() http.Handler {
	return s.e
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		zlog.Info().Str("addr", addr).Msg("http server listening")
		errCh <- s.e.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.e.Shutdown(shutdownCtx); err != nil {
		return err
	}
	zlog.Info().Msg("http server stopped")
	return nil
}
