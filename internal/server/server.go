/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_jukebox/internal/api"
	"github.com/friendsincode/grimnir_jukebox/internal/cache"
	"github.com/friendsincode/grimnir_jukebox/internal/config"
	"github.com/friendsincode/grimnir_jukebox/internal/eventbus"
	"github.com/friendsincode/grimnir_jukebox/internal/events"
	"github.com/friendsincode/grimnir_jukebox/internal/logbuffer"
	"github.com/friendsincode/grimnir_jukebox/internal/models"
	"github.com/friendsincode/grimnir_jukebox/internal/playout"
	"github.com/friendsincode/grimnir_jukebox/internal/resolver"
	"github.com/friendsincode/grimnir_jukebox/internal/session"
	"github.com/friendsincode/grimnir_jukebox/internal/telemetry"
	"github.com/friendsincode/grimnir_jukebox/internal/version"
	"github.com/friendsincode/grimnir_jukebox/internal/webhooks"
)

const shutdownTimeout = 10 * time.Second

// Server bundles HTTP and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	cache     *cache.Cache
	logBuffer *logbuffer.Buffer
	bus       *events.Bus
	natsBus   *eventbus.NATSBus
	resolver  *resolver.Client
	gateway   *playout.Gateway
	registry  *session.Registry
	api       *api.API
	webhooks  *webhooks.Service
}

// New constructs the server and wires dependencies. logBuf may be nil.
func New(cfg *config.Config, logBuf *logbuffer.Buffer, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("grimnir-jukebox-api"))
	router.Use(telemetry.MetricsMiddleware)
	router.Use(timeoutMiddleware(60 * time.Second))

	srv := &Server{
		cfg:       cfg,
		logger:    logger,
		router:    router,
		bus:       events.NewBus(),
		logBuffer: logBuf,
	}

	if err := srv.initDependencies(); err != nil {
		_ = srv.Close()
		return nil, err
	}

	srv.configureRoutes()

	srv.httpServer = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		// Observer panels and the event stream hold connections open.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	return srv, nil
}

// timeoutMiddleware applies a request timeout to everything except
// WebSocket upgrades.
func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(d)(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}
			timeout.ServeHTTP(w, r)
		})
	}
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	if s.cfg.CacheEnabled {
		c, err := cache.New(cache.Config{
			RedisAddr:      s.cfg.RedisAddr,
			RedisPassword:  s.cfg.RedisPassword,
			RedisDB:        s.cfg.RedisDB,
			ResolveTTL:     s.cfg.ResolveCacheTTL,
			DisableOnError: true,
		}, s.logger)
		if err != nil {
			return err
		}
		s.cache = c
		s.DeferClose(c.Close)
	}

	// Events go to NATS as well when configured.
	var publisher events.Publisher = s.bus
	var source api.EventSource = s.bus
	if s.cfg.NATSURL != "" {
		natsCfg := eventbus.DefaultNATSConfig()
		natsCfg.URL = s.cfg.NATSURL
		natsCfg.Token = s.cfg.NATSToken
		s.natsBus = eventbus.NewNATSBus(natsCfg, s.bus, s.logger)
		s.DeferClose(s.natsBus.Close)
		publisher = s.natsBus
		source = s.natsBus
	}

	if len(s.cfg.Webhooks) > 0 {
		s.webhooks = webhooks.NewService(WebhookTargets(s.cfg.Webhooks), source, s.logger)
		ctx, cancel := context.WithCancel(context.Background())
		s.webhooks.Start(ctx)
		s.DeferClose(func() error {
			cancel()
			s.webhooks.Wait()
			return nil
		})
	}

	ytdlp := resolver.NewYTDLP(s.cfg.YTDLPFormat, s.cfg.YTDLPProxy)
	s.resolver = resolver.New(ytdlp, resolver.Options{
		Platforms: ResolverPlatforms(s.cfg.Platforms),
		Timeout:   s.cfg.ResolveTimeout,
		Cache:     s.cache,
	}, s.logger)

	s.gateway = playout.NewGateway(playout.Config{
		PlayerBin:  s.cfg.PlayerBin,
		PlayerArgs: s.cfg.PlayerArgs,
	}, ytdlp, s.logger)
	s.DeferClose(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.gateway.Shutdown(ctx)
	})

	s.registry = session.NewRegistry(s.gateway, s.resolver, session.Options{
		IdleTimeout:       s.cfg.IdleTimeout,
		SyncInterval:      s.cfg.SyncInterval,
		StreamOpenTimeout: s.cfg.StreamOpenTimeout,
		HistorySize:       s.cfg.HistorySize,
		MaxQueueSize:      s.cfg.MaxQueueSize,
		DefaultVolume:     s.cfg.DefaultVolume,
		IdleStatusText:    s.cfg.IdleStatusText,
		Events:            publisher,
		Logger:            s.logger,
	})
	s.DeferClose(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.registry.Shutdown(ctx)
		return nil
	})

	s.api = api.New(s.registry, source, s.logger)
	s.api.SetVersion(version.Version)
	if s.logBuffer != nil {
		s.api.SetLogBuffer(s.logBuffer)
	}
	return nil
}

// ResolverPlatforms converts configured entries, falling back to the built-in
// table when none are configured.
func ResolverPlatforms(entries []config.PlatformEntry) resolver.PlatformTable {
	if len(entries) == 0 {
		return resolver.DefaultPlatforms()
	}
	table := make(resolver.PlatformTable, 0, len(entries))
	for _, e := range entries {
		table = append(table, resolver.PlatformDomains{
			Platform: models.ParsePlatform(e.Platform),
			Domains:  e.Domains,
		})
	}
	return table
}

// WebhookTargets converts configured webhook entries into delivery targets.
func WebhookTargets(entries []config.WebhookEntry) []webhooks.Target {
	targets := make([]webhooks.Target, 0, len(entries))
	for _, e := range entries {
		t := webhooks.Target{URL: e.URL, Secret: e.Secret}
		for _, name := range e.Events {
			t.Events = append(t.Events, events.EventType(name))
		}
		targets = append(targets, t)
	}
	return targets
}

// HTTPServer returns the configured http.Server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Registry returns the session registry.
func (s *Server) Registry() *session.Registry {
	return s.registry
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	s.router.Handle("/metrics", telemetry.Handler())

	s.api.Routes(s.router)
}
