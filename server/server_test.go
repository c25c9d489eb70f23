package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/pandemonium/internal/profile"
	"github.com/hrygo/pandemonium/plugin/ai/session"
	v1 "github.com/hrygo/pandemonium/server/router/api/v1"
)

const personasTOML = `
version = 1

[[persona]]
id = "alice"
name = "Alice"
status = "active"
system_instruction = "You are Alice."

[[persona]]
id = "bob"
name = "Bob"
status = "active"
system_instruction = "You are Bob."
`

func testProfile(t *testing.T, driver string) *profile.Profile {
	t.Helper()
	dir := t.TempDir()
	personas := filepath.Join(dir, "personas.toml")
	require.NoError(t, os.WriteFile(personas, []byte(personasTOML), 0o600))

	p := &profile.Profile{
		Mode:              "dev",
		Driver:            driver,
		Data:              dir,
		LLMProvider:       "mock",
		PersonasFile:      personas,
		SessionTTL:        time.Hour,
		HistoryLimit:      50,
		TaskTimeout:       5 * time.Second,
		TimingBase:        time.Millisecond,
		TimingMin:         time.Millisecond,
		TimingMax:         5 * time.Millisecond,
		TimingCheckpoints: 2,
		RateLimitRPS:      100,
		RateLimitBurst:    100,
	}
	if driver == "sqlite" {
		p.DSN = filepath.Join(dir, "pandemonium_test.db")
	}
	return p
}

func newTestServer(t *testing.T, p *profile.Profile) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := NewServer(context.Background(), p, logger)
	require.NoError(t, err)
	return s
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func createSession(t *testing.T, baseURL string) string {
	t.Helper()
	resp := postJSON(t, baseURL+"/api/v1/sessions", `{"personaIDs":["alice","bob"],"ownerID":"admin","name":"demo"}`)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created v1.CreateSessionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	return created.SessionID
}

func TestServerRoundOverHTTP(t *testing.T) {
	s := newTestServer(t, testProfile(t, "memory"))
	defer s.Close()
	assert.Nil(t, s.Store)

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	id := createSession(t, ts.URL)
	resp := postJSON(t, ts.URL+"/api/v1/sessions/"+id+"/messages", `{"text":"Morning all"}`)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(string(body), "event: ack\n"))
	assert.True(t, strings.HasSuffix(strings.TrimSpace(string(body)), "}"))
	assert.Contains(t, string(body), "event: complete\n")
	assert.Equal(t, 2, strings.Count(string(body), "event: message\n"))

	history, err := s.Sessions.GetHistory(context.Background(), id, 0)
	require.NoError(t, err)
	assert.Len(t, history, 3)

	resp, err = http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServerHistorySurvivesRestart(t *testing.T) {
	p := testProfile(t, "sqlite")

	first := newTestServer(t, p)
	require.NotNil(t, first.Store)
	ts := httptest.NewServer(first.Handler())
	id := createSession(t, ts.URL)
	resp := postJSON(t, ts.URL+"/api/v1/sessions/"+id+"/messages", `{"text":"Remember this"}`)
	_, err := io.Copy(io.Discard, resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	ts.Close()
	first.Orchestrator.Wait()
	require.NoError(t, first.Close())

	second := newTestServer(t, p)
	defer second.Close()

	sess, err := second.Sessions.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 3, sess.MessageCount)
	assert.Equal(t, session.StatusActive, sess.Status)

	history, err := second.Sessions.GetHistory(context.Background(), id, 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "Remember this", history[0].Content)
	assert.Equal(t, session.RoleUser, history[0].Role)
}

func TestNewServerRequiresPersonasFile(t *testing.T) {
	p := testProfile(t, "memory")
	p.PersonasFile = filepath.Join(t.TempDir(), "missing.toml")

	_, err := NewServer(context.Background(), p, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "personas")
}

func TestRunStopsOnCancel(t *testing.T) {
	p := testProfile(t, "memory")
	p.Addr = "127.0.0.1"
	p.Port = 0
	s := newTestServer(t, p)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
