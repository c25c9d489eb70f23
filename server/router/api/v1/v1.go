package v1

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/pandemonium/internal/profile"
	"github.com/hrygo/pandemonium/plugin/ai/orchestrator"
	"github.com/hrygo/pandemonium/plugin/ai/persona"
	"github.com/hrygo/pandemonium/plugin/ai/session"
	apierrors "github.com/hrygo/pandemonium/server/internal/errors"
	"github.com/hrygo/pandemonium/server/internal/observability"
	"github.com/hrygo/pandemonium/server/middleware"
)

// BasePath is the prefix of every session API route.
const BasePath = "/api/v1"

// APIV1Service serves the session API.
type APIV1Service struct {
	Secret       string
	Profile      *profile.Profile
	Sessions     session.SessionStore
	Orchestrator *orchestrator.Orchestrator
	Personas     persona.Provider
	Metrics      *observability.Metrics
	Logger       *slog.Logger

	limiter *middleware.RateLimiter
}

// Options are the collaborators of the API service.
type Options struct {
	Profile      *profile.Profile
	Sessions     session.SessionStore
	Orchestrator *orchestrator.Orchestrator
	Personas     persona.Provider
	Metrics      *observability.Metrics
	Limiter      *middleware.RateLimiter
	Logger       *slog.Logger
}

func NewAPIV1Service(opts Options) *APIV1Service {
	service := &APIV1Service{
		Profile:      opts.Profile,
		Sessions:     opts.Sessions,
		Orchestrator: opts.Orchestrator,
		Personas:     opts.Personas,
		Metrics:      opts.Metrics,
		Logger:       opts.Logger,
		limiter:      opts.Limiter,
	}
	if opts.Profile != nil {
		service.Secret = opts.Profile.JWTSecret
	}
	if service.Metrics == nil {
		service.Metrics = observability.NewMetrics(0)
	}
	if service.Logger == nil {
		service.Logger = slog.Default()
	}
	if service.limiter == nil {
		rps, burst := 1.0, 5
		if opts.Profile != nil && opts.Profile.RateLimitRPS > 0 {
			rps, burst = opts.Profile.RateLimitRPS, opts.Profile.RateLimitBurst
		}
		service.limiter = middleware.NewRateLimiter(rps, burst)
	}
	return service
}

// Limiter returns the per-session message rate limiter.
func (s *APIV1Service) Limiter() *middleware.RateLimiter {
	return s.limiter
}

// Register mounts the API routes on echoServer.
func (s *APIV1Service) Register(echoServer *echo.Echo) {
	echoServer.GET("/healthz", s.Healthz)

	g := echoServer.Group(BasePath)
	g.Use(s.requestContext, s.authenticate)

	g.POST("/sessions", s.CreateSession)
	g.GET("/sessions/:id", s.GetSession)
	g.POST("/sessions/:id/messages", s.PostMessage, s.limiter.PerParam("id"))
	g.GET("/sessions/:id/messages", s.ListMessages)
	g.POST("/sessions/:id/end", s.EndSession)
	g.GET("/sessions/:id/feed", s.GetSessionFeed)

	g.GET("/personas/:id", s.GetPersona)
	g.GET("/system/metrics", s.GetMetrics)
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewHTTPErrorHandler renders AIError and echo errors as ErrorResponse.
func NewHTTPErrorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		body := ErrorResponse{Code: string(apierrors.ErrCodeInternal), Message: "internal error"}

		var aiErr *apierrors.AIError
		var httpErr *echo.HTTPError
		switch {
		case stderrors.As(err, &aiErr):
			status = aiErr.HTTPStatus()
			body = ErrorResponse{Code: string(aiErr.Code), Message: aiErr.Message}
		case stderrors.As(err, &httpErr):
			status = httpErr.Code
			body = ErrorResponse{Code: codeForStatus(status), Message: fmt.Sprint(httpErr.Message)}
		}

		if status >= http.StatusInternalServerError {
			logger.Error("request failed", "method", c.Request().Method, "path", c.Path(), "error", err)
		}

		var writeErr error
		if c.Request().Method == http.MethodHead {
			writeErr = c.NoContent(status)
		} else {
			writeErr = c.JSON(status, body)
		}
		if writeErr != nil {
			logger.Warn("failed to write error response", "error", writeErr)
		}
	}
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return string(apierrors.ErrCodeInvalidArgument)
	case http.StatusUnauthorized:
		return string(apierrors.ErrCodeUnauthorized)
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	case http.StatusTooManyRequests:
		return string(apierrors.ErrCodeRateLimitExceeded)
	case http.StatusServiceUnavailable:
		return string(apierrors.ErrCodeServiceUnavailable)
	}
	if status >= http.StatusInternalServerError {
		return string(apierrors.ErrCodeInternal)
	}
	return http.StatusText(status)
}
