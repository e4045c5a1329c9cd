package replyserver

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-go-golems/parley/pkg/conversations"
	"github.com/go-go-golems/parley/pkg/replyclient"
	"github.com/go-go-golems/parley/pkg/transitions"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"
)

// Responder computes the reply for a history. It is only called with a
// non-empty history ending in a user message.
type Responder func(ctx context.Context, payload transitions.Payload) (string, error)

// EchoResponder answers with the last user message.
func EchoResponder(_ context.Context, payload transitions.Payload) (string, error) {
	last := payload.Messages[len(payload.Messages)-1]
	return "You said: " + last.Content, nil
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// Server is a stand-in for the /ask reply service, used for local
// development and tests.
type Server struct {
	echo      *echo.Echo
	responder Responder
	delay     time.Duration
	failWith  int
}

type Option func(*Server)

func WithResponder(r Responder) Option {
	return func(s *Server) {
		s.responder = r
	}
}

// WithDelay holds every answer back for d.
func WithDelay(d time.Duration) Option {
	return func(s *Server) {
		s.delay = d
	}
}

// WithFailure makes /ask answer every request with the given status code.
func WithFailure(status int) Option {
	return func(s *Server) {
		s.failWith = status
	}
}

func New(options ...Option) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Debug().Str("method", v.Method).Str("uri", v.URI).Int("status", v.Status).Msg("Stub request")
			return nil
		},
	}))

	s := &Server{
		echo:      e,
		responder: EchoResponder,
	}
	for _, o := range options {
		o(s)
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
	})
	e.POST("/ask", s.Ask)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

// Ask handles POST /ask.
func (s *Server) Ask(c echo.Context) error {
	var req replyclient.AskRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}
	if len(req.Messages) == 0 {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "messages is required"})
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != conversations.RoleUser || strings.TrimSpace(last.Content) == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "last message must be a non-empty user message"})
	}

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-c.Request().Context().Done():
			return c.Request().Context().Err()
		}
	}

	if s.failWith != 0 {
		return c.JSON(s.failWith, ErrorResponse{Error: http.StatusText(s.failWith)})
	}

	reply, err := s.responder(c.Request().Context(), req)
	if err != nil {
		log.Warn().Err(err).Msg("Stub responder failed")
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, replyclient.AskResponse{Reply: reply})
}

// ListenAndServe serves on addr until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Stub reply server listening")
		errCh <- s.echo.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
