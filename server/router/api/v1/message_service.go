package v1

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/pandemonium/plugin/ai/orchestrator"
	"github.com/hrygo/pandemonium/plugin/ai/session"
	apierrors "github.com/hrygo/pandemonium/server/internal/errors"
	"github.com/hrygo/pandemonium/server/internal/observability"
	"github.com/hrygo/pandemonium/server/stream"
)

// PostMessageRequest is the body of POST /sessions/:id/messages.
type PostMessageRequest struct {
	Text string `json:"text"`
}

// PostMessage starts a round and streams its events.
// Session errors are returned as JSON before the stream starts; once the
// stream has started every outcome is reported as an event.
// POST /api/v1/sessions/:id/messages
func (s *APIV1Service) PostMessage(c echo.Context) error {
	id := c.Param("id")
	var req PostMessageRequest
	if err := c.Bind(&req); err != nil {
		return apierrors.InvalidArgument("invalid request body")
	}
	if _, err := s.ownedSession(c, id); err != nil {
		return err
	}

	ctx := c.Request().Context()
	round, err := s.Orchestrator.HandleUserMessage(ctx, id, req.Text)
	if err != nil {
		return roundError(id, err)
	}

	rc, ok := observability.FromContext(ctx)
	if !ok {
		rc = observability.NewRequestContext(s.Logger, c.Path(), id, "")
	}

	st := stream.New(c.Response(), stream.Negotiate(c.Request().Header.Get(echo.HeaderAccept)))
	if err := st.Start(http.StatusOK); err != nil {
		round.Detach()
		rc.Warn("stream start failed", slog.String("error", err.Error()))
		return nil
	}
	err = st.Relay(ctx, round, func(orchestrator.Event) { s.Metrics.RecordStreamEvent() })
	if err != nil {
		rc.Info("client left before the round completed",
			slog.Int("events_sent", st.Sent()),
			slog.String("error", err.Error()),
		)
		return nil
	}
	rc.Info("round streamed",
		slog.Int("events_sent", st.Sent()),
		slog.Int(observability.LogFieldMessageLen, len(req.Text)),
		slog.Int64(observability.LogFieldDuration, rc.DurationMs()),
	)
	return nil
}

func roundError(id string, err error) error {
	switch {
	case errors.Is(err, orchestrator.ErrEmptyMessage):
		return apierrors.InvalidArgument("message text must not be empty")
	case errors.Is(err, session.ErrSessionInactive):
		return apierrors.SessionInactive(id)
	case errors.Is(err, orchestrator.ErrSessionNotFound):
		return apierrors.SessionNotFound(id)
	default:
		return apierrors.Internal(err)
	}
}
