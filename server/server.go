// Package server wires the conversation engine to its HTTP API and runs it.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/hrygo/pandemonium/internal/profile"
	"github.com/hrygo/pandemonium/internal/version"
	"github.com/hrygo/pandemonium/plugin/ai"
	"github.com/hrygo/pandemonium/plugin/ai/cache"
	"github.com/hrygo/pandemonium/plugin/ai/orchestrator"
	"github.com/hrygo/pandemonium/plugin/ai/persona"
	"github.com/hrygo/pandemonium/plugin/ai/session"
	"github.com/hrygo/pandemonium/plugin/ai/timeout"
	"github.com/hrygo/pandemonium/plugin/ai/timing"
	"github.com/hrygo/pandemonium/server/internal/observability"
	"github.com/hrygo/pandemonium/server/middleware"
	v1 "github.com/hrygo/pandemonium/server/router/api/v1"
	"github.com/hrygo/pandemonium/store"
	"github.com/hrygo/pandemonium/store/db"
)

// limiterPruneInterval is how often idle rate-limit buckets are dropped.
const limiterPruneInterval = 5 * time.Minute

// Server owns every long-lived component of a running instance.
type Server struct {
	Profile *profile.Profile
	Store   *store.Store

	Sessions     *session.Store
	Personas     persona.Provider
	Orchestrator *orchestrator.Orchestrator
	Metrics      *observability.Metrics

	echoServer *echo.Echo
	apiV1      *v1.APIV1Service
	cache      *cache.Service
	cleanup    *session.SessionCleanupJob
	logger     *slog.Logger
}

// NewServer opens the durable store and builds the engine and the API.
// The returned server must be closed.
func NewServer(ctx context.Context, profile *profile.Profile, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{Profile: profile, logger: logger}

	st, err := db.OpenStore(ctx, profile)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open store")
	}
	s.Store = st

	s.cache = cache.NewService(cache.ServiceConfig{SessionTTL: profile.SessionTTL})
	s.Sessions = session.NewStore(s.cache, session.NewStoreDurable(st), session.Config{
		TTL:          profile.SessionTTL,
		HistoryLimit: profile.HistoryLimit,
		Logger:       logger,
	})

	personas, err := persona.NewFileProvider(profile.PersonasFile, persona.Generation{
		Temperature: profile.LLMTemperature,
		MaxTokens:   profile.LLMMaxTokens,
	})
	if err != nil {
		_ = s.Close()
		return nil, errors.Wrapf(err, "failed to load personas from %s", profile.PersonasFile)
	}
	s.Personas = personas

	completion, err := ai.NewCompletionProvider(ai.NewConfigFromProfile(profile))
	if err != nil {
		_ = s.Close()
		return nil, errors.Wrap(err, "failed to create completion provider")
	}

	s.Metrics = observability.NewMetrics(0)
	s.Orchestrator, err = orchestrator.New(orchestrator.Deps{
		Sessions:   s.Sessions,
		Personas:   s.Personas,
		Completion: completion,
		Timing: timing.NewModel(timing.Config{
			Base:        profile.TimingBase,
			Jitter:      profile.TimingJitter,
			Min:         profile.TimingMin,
			Max:         profile.TimingMax,
			Checkpoints: profile.TimingCheckpoints,
		}, nil),
		Logger:       logger,
		Metrics:      s.Metrics,
		TaskTimeout:  profile.TaskTimeout,
		HistoryLimit: profile.HistoryLimit,
	})
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	if profile.IdleTimeout > 0 {
		s.cleanup = session.NewSessionCleanupJob(s.Sessions, session.CleanupConfig{
			IdleTimeout:   profile.IdleTimeout,
			SweepInterval: profile.IdleSweepInterval,
			Logger:        logger,
		})
	}

	s.apiV1 = v1.NewAPIV1Service(v1.Options{
		Profile:      profile,
		Sessions:     s.Sessions,
		Orchestrator: s.Orchestrator,
		Personas:     s.Personas,
		Metrics:      s.Metrics,
		Limiter:      middleware.NewRateLimiter(profile.RateLimitRPS, profile.RateLimitBurst),
		Logger:       logger,
	})
	s.echoServer = newEcho(logger)
	s.apiV1.Register(s.echoServer)
	return s, nil
}

func newEcho(logger *slog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = v1.NewHTTPErrorHandler(logger)
	e.Use(echomiddleware.RecoverWithConfig(echomiddleware.RecoverConfig{
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			logger.Error("handler panic", "path", c.Path(), "error", err, "stack", string(stack))
			return err
		},
	}))
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOriginFunc: func(_ string) (bool, error) {
			return true, nil
		},
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"*"},
		ExposeHeaders: []string{echo.HeaderXRequestID},
	}))
	return e
}

// Handler returns the HTTP handler of the API.
func (s *Server) Handler() http.Handler {
	return s.echoServer
}

// Run serves HTTP and the idle-session job until ctx is done, then drains
// in-flight rounds and shuts down.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.echoServer,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("server listening",
			"addr", addr,
			"version", version.Version,
			"mode", s.Profile.Mode,
			"driver", s.Profile.Driver,
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server failed")
		}
		return nil
	})
	if s.cleanup != nil {
		g.Go(func() error {
			return s.cleanup.Run(gctx)
		})
	}
	g.Go(func() error {
		ticker := time.NewTicker(limiterPruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if n := s.apiV1.Limiter().Prune(); n > 0 {
					s.logger.Debug("pruned rate limiters", "count", n)
				}
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down", "grace", timeout.ShutdownTimeout)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "http shutdown failed")
		}
		return s.drain(shutdownCtx)
	})

	return g.Wait()
}

// drain waits for rounds whose clients already left.
func (s *Server) drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.Orchestrator.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.New("rounds still running after the shutdown grace period")
	}
}

// Close releases the cache and the durable store.
func (s *Server) Close() error {
	if s.cache != nil {
		s.cache.Close()
	}
	if s.Store != nil {
		if err := s.Store.Close(); err != nil {
			return errors.Wrap(err, "failed to close store")
		}
	}
	return nil
}
