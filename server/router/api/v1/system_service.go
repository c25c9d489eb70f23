package v1

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/pandemonium/internal/version"
	"github.com/hrygo/pandemonium/plugin/ai/persona"
	apierrors "github.com/hrygo/pandemonium/server/internal/errors"
	"github.com/hrygo/pandemonium/server/internal/observability"
)

// MetricsResponse is the body of GET /system/metrics.
type MetricsResponse struct {
	*observability.MetricsSnapshot
	SuccessRate float64 `json:"successRate"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// GetPersona returns a persona profile.
// GET /api/v1/personas/:id
func (s *APIV1Service) GetPersona(c echo.Context) error {
	id := c.Param("id")
	p, err := s.Personas.GetPersona(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, persona.ErrNotFound) {
			return apierrors.PersonaNotFound(id)
		}
		return apierrors.Internal(err)
	}
	return c.JSON(http.StatusOK, p)
}

// GetMetrics returns the round counters.
// GET /api/v1/system/metrics
func (s *APIV1Service) GetMetrics(c echo.Context) error {
	snap := s.Metrics.Snapshot()
	return c.JSON(http.StatusOK, MetricsResponse{MetricsSnapshot: snap, SuccessRate: snap.SuccessRate()})
}

// Healthz reports liveness.
// GET /healthz
func (s *APIV1Service) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Version: version.Version})
}
