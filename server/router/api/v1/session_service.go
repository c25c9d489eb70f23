package v1

import (
	"errors"
	"fmt"
	"html"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/feeds"
	"github.com/labstack/echo/v4"

	"github.com/hrygo/pandemonium/plugin/ai/session"
	"github.com/hrygo/pandemonium/server/auth"
	apierrors "github.com/hrygo/pandemonium/server/internal/errors"
)

// feedHeadlineRunes bounds the title of a transcript entry.
const feedHeadlineRunes = 60

// CreateSessionRequest is the body of POST /sessions.
type CreateSessionRequest struct {
	PersonaIDs []string `json:"personaIDs"`
	OwnerID    string   `json:"ownerID"`
	Name       string   `json:"name"`
}

// CreateSessionResponse is the body returned by POST /sessions.
type CreateSessionResponse struct {
	SessionID string    `json:"sessionID"`
	CreatedAt time.Time `json:"createdAt"`
}

// CreateSession starts a session with a fixed set of personas.
// POST /api/v1/sessions
func (s *APIV1Service) CreateSession(c echo.Context) error {
	var req CreateSessionRequest
	if err := c.Bind(&req); err != nil {
		return apierrors.InvalidArgument("invalid request body")
	}

	ownerID := strings.TrimSpace(req.OwnerID)
	if owner, ok := auth.OwnerFromContext(c.Request().Context()); ok {
		if ownerID != "" && ownerID != owner {
			return apierrors.InvalidArgument("ownerID does not match the access token")
		}
		ownerID = owner
	}

	sess, err := s.Sessions.Create(c.Request().Context(), req.PersonaIDs, ownerID, strings.TrimSpace(req.Name))
	if err != nil {
		if errors.Is(err, session.ErrInvalidSession) {
			return apierrors.Wrap(err, apierrors.ErrCodeInvalidArgument, err.Error())
		}
		return apierrors.Internal(err)
	}
	return c.JSON(http.StatusCreated, CreateSessionResponse{SessionID: sess.ID, CreatedAt: sess.CreatedAt})
}

// GetSession returns the session metadata.
// GET /api/v1/sessions/:id
func (s *APIV1Service) GetSession(c echo.Context) error {
	sess, err := s.ownedSession(c, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sess)
}

// ListMessages returns the most recent messages, oldest first.
// GET /api/v1/sessions/:id/messages?limit=
func (s *APIV1Service) ListMessages(c echo.Context) error {
	id := c.Param("id")
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return apierrors.InvalidArgument(fmt.Sprintf("invalid limit: %q", raw))
		}
		limit = n
	}
	if _, err := s.ownedSession(c, id); err != nil {
		return err
	}

	history, err := s.Sessions.GetHistory(c.Request().Context(), id, limit)
	if err != nil {
		return sessionError(id, err)
	}
	if history == nil {
		history = []session.Message{}
	}
	return c.JSON(http.StatusOK, history)
}

// EndSession marks the session completed. Ending twice is not an error.
// POST /api/v1/sessions/:id/end
func (s *APIV1Service) EndSession(c echo.Context) error {
	id := c.Param("id")
	if _, err := s.ownedSession(c, id); err != nil {
		return err
	}
	if err := s.Sessions.Complete(c.Request().Context(), id); err != nil {
		return sessionError(id, err)
	}
	return c.JSON(http.StatusOK, struct{}{})
}

// GetSessionFeed exports the retained history as an Atom feed.
// GET /api/v1/sessions/:id/feed
func (s *APIV1Service) GetSessionFeed(c echo.Context) error {
	id := c.Param("id")
	sess, err := s.ownedSession(c, id)
	if err != nil {
		return err
	}
	history, err := s.Sessions.GetHistory(c.Request().Context(), id, 0)
	if err != nil {
		return sessionError(id, err)
	}

	href := fmt.Sprintf("%s://%s%s/sessions/%s", c.Scheme(), c.Request().Host, BasePath, id)
	title := sess.Name
	if title == "" {
		title = "Session " + id
	}
	feed := &feeds.Feed{
		Id:          "urn:pandemonium:session:" + id,
		Title:       title,
		Link:        &feeds.Link{Href: href},
		Description: fmt.Sprintf("Conversation with %s", strings.Join(sess.PersonaIDs, ", ")),
		Author:      &feeds.Author{Name: sess.OwnerID},
		Created:     sess.CreatedAt,
		Updated:     sess.LastActivity,
	}
	for _, m := range history {
		author := m.PersonaID
		if author == "" {
			author = string(session.RoleUser)
		}
		feed.Items = append(feed.Items, &feeds.Item{
			Id:      "urn:pandemonium:message:" + m.ID,
			Title:   author + ": " + headline(m.Content),
			Link:    &feeds.Link{Href: href + "/messages"},
			Author:  &feeds.Author{Name: author},
			Content: html.EscapeString(m.Content),
			Created: m.CreatedAt,
		})
	}

	atom, err := feed.ToAtom()
	if err != nil {
		return apierrors.Internal(err)
	}
	return c.Blob(http.StatusOK, "application/atom+xml; charset=utf-8", []byte(atom))
}

// ownedSession loads the session and hides sessions of other owners.
func (s *APIV1Service) ownedSession(c echo.Context, id string) (*session.Session, error) {
	ctx := c.Request().Context()
	sess, err := s.Sessions.Get(ctx, id)
	if err != nil {
		return nil, sessionError(id, err)
	}
	if owner, ok := auth.OwnerFromContext(ctx); ok && sess.OwnerID != owner {
		return nil, apierrors.SessionNotFound(id)
	}
	return sess, nil
}

func sessionError(id string, err error) error {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return apierrors.SessionNotFound(id)
	case errors.Is(err, session.ErrSessionInactive):
		return apierrors.SessionInactive(id)
	default:
		return apierrors.Internal(err)
	}
}

func headline(content string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(content), "\n")
	runes := []rune(line)
	if len(runes) <= feedHeadlineRunes {
		return line
	}
	return string(runes[:feedHeadlineRunes]) + "..."
}
