package v1

import (
	"log/slog"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/pandemonium/server/auth"
	apierrors "github.com/hrygo/pandemonium/server/internal/errors"
	"github.com/hrygo/pandemonium/server/internal/observability"
)

// requestContext attaches an observability.RequestContext to the request
// and logs the outcome.
func (s *APIV1Service) requestContext(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		route := c.Path()
		var sessionID string
		if strings.HasPrefix(route, BasePath+"/sessions/:id") {
			sessionID = c.Param("id")
		}

		rc := observability.NewRequestContext(s.Logger, route, sessionID, "")
		c.Response().Header().Set(echo.HeaderXRequestID, rc.RequestID)
		c.SetRequest(req.WithContext(observability.WithRequestContext(req.Context(), rc)))

		err := next(c)
		if err != nil {
			code := apierrors.GetCodeFromError(err, apierrors.ErrCodeInternal)
			rc.Warn("request failed",
				slog.String(observability.LogFieldErrorCode, string(code)),
				slog.Int64(observability.LogFieldDuration, rc.DurationMs()),
				slog.String("error", err.Error()),
			)
			return err
		}
		rc.Debug("request completed",
			slog.Int("status", c.Response().Status),
			slog.Int64(observability.LogFieldDuration, rc.DurationMs()),
		)
		return nil
	}
}

// authenticate verifies the bearer token when a secret is configured and
// puts the token subject in the request context as the owner id.
func (s *APIV1Service) authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.Secret == "" {
			return next(c)
		}
		req := c.Request()
		token, err := auth.ExtractBearerToken(req.Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return apierrors.Unauthorized("authentication required")
		}
		claims, err := auth.ParseAccessToken(s.Secret, token)
		if err != nil {
			return apierrors.Unauthorized("invalid access token")
		}

		ctx := auth.WithOwner(req.Context(), claims.OwnerID())
		if rc, ok := observability.FromContext(ctx); ok {
			rc.OwnerID = claims.OwnerID()
		}
		c.SetRequest(req.WithContext(ctx))
		return next(c)
	}
}
