package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/wardops/wardops/internal/config"
	"github.com/wardops/wardops/internal/domain/escalation"
	"github.com/wardops/wardops/internal/domain/handover"
	"github.com/wardops/wardops/internal/domain/jobs"
	"github.com/wardops/wardops/internal/domain/reconcile"
	"github.com/wardops/wardops/internal/domain/roster"
	"github.com/wardops/wardops/internal/platform/auth"
	"github.com/wardops/wardops/internal/platform/db"
	"github.com/wardops/wardops/internal/platform/fanout"
	"github.com/wardops/wardops/internal/platform/middleware"
	"github.com/wardops/wardops/internal/platform/websocket"
)

// apiPrefix is where every on-call route is mounted.
const apiPrefix = "/api/v1/oncall"

// app holds the wired stores and their backing connections.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger

	pool     *pgxpool.Pool
	redis    *redis.Client
	notifier *fanout.Redis

	jobs     *jobs.Store
	list     *escalation.Store
	roster   *roster.Cache
	handover *handover.Service
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{
			MaxConns: cfg.DBMaxConns,
			MinConns: cfg.DBMinConns,
			Tenant:   cfg.DefaultTenant,
		})
		if err != nil {
			return nil, err
		}
		a.pool = pool
		logger.Info().Str("tenant", cfg.DefaultTenant).Msg("connected to database")
	}

	var jobRepo jobs.Repository
	var entryRepo escalation.Repository
	switch cfg.StoreBackend {
	case config.BackendMemory:
		jobRepo, entryRepo = jobs.NewRepoMemory(), escalation.NewRepoMemory()
		logger.Warn().Msg("using in-memory stores; records are lost on restart")
	default:
		if a.pool == nil {
			return nil, fmt.Errorf("STORE_BACKEND=%s needs DATABASE_URL", cfg.StoreBackend)
		}
		jobRepo, entryRepo = jobs.NewRepoPG(a.pool), escalation.NewRepoPG(a.pool)
	}

	provider, err := a.rosterProvider()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.roster = roster.NewCache(provider, logger)

	a.jobs = jobs.NewStore(jobRepo, logger)
	a.list = escalation.NewStore(entryRepo, logger)
	a.list.SetRoster(provider)
	a.handover = handover.NewService(a.jobs, a.list, a.roster, logger)

	if cfg.RedisURL != "" {
		client, err := fanout.Connect(ctx, cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.redis = client
		a.notifier = fanout.NewRedis(client, cfg.FanoutChannel, logger)
		a.jobs.SetNotifier(a.notifier)
		a.list.SetNotifier(a.notifier)
		logger.Info().Str("channel", cfg.FanoutChannel).Msg("cross-instance fan-out enabled")
	}

	return a, nil
}

func (a *app) rosterProvider() (roster.Provider, error) {
	switch src := a.cfg.ResolvedRosterSource(); src {
	case config.RosterDB:
		if a.pool == nil {
			return nil, fmt.Errorf("ROSTER_SOURCE=db needs DATABASE_URL")
		}
		return roster.NewRepoPG(a.pool), nil
	case config.RosterHTTP:
		return roster.NewHTTPClient(a.cfg.RosterURL, a.cfg.RosterTimeout, a.logger), nil
	case config.RosterStatic:
		if a.cfg.RosterFile == "" {
			return roster.NewStatic(), nil
		}
		f, err := os.Open(a.cfg.RosterFile)
		if err != nil {
			return nil, fmt.Errorf("open roster file: %w", err)
		}
		defer f.Close()
		return roster.LoadStatic(f)
	default:
		return nil, fmt.Errorf("unknown roster source %q", src)
	}
}

// Close releases subscriptions and connections.
func (a *app) Close() {
	if a.jobs != nil {
		a.jobs.Close()
	}
	if a.list != nil {
		a.list.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

// listen refreshes local snapshots when another instance commits. It
// returns when ctx is cancelled.
func (a *app) listen(ctx context.Context) error {
	if a.notifier == nil {
		return nil
	}
	l, err := a.notifier.Subscribe(ctx)
	if err != nil {
		return err
	}
	return l.Run(ctx, map[string]fanout.Handler{
		fanout.CollectionJobs: func(ctx context.Context, c fanout.Change) {
			a.jobs.Refresh(ctx, c.Scope)
		},
		fanout.CollectionEscalation: func(ctx context.Context, c fanout.Change) {
			a.list.Refresh(ctx, c.Scope)
		},
	})
}

func (a *app) authMiddleware() echo.MiddlewareFunc {
	switch a.cfg.ResolvedAuthMode() {
	case config.AuthDevelopment:
		a.logger.Warn().Msg("development auth: requests run as X-Dev-User or dev-user/admin")
		return auth.DevAuthMiddleware()
	case config.AuthSharedKey:
		return auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     a.cfg.AuthIssuer,
			Audience:   a.cfg.AuthAudience,
			SigningKey: []byte(a.cfg.AuthSigningKey),
		})
	default:
		return auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   a.cfg.AuthIssuer,
			Audience: a.cfg.AuthAudience,
			JWKSURL:  a.cfg.AuthJWKSURL,
		})
	}
}

// newServer builds the echo instance and the websocket hub fed by both
// stores' broadcasters.
func (a *app) newServer() (*echo.Echo, *websocket.Hub) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(middleware.SecurityHeaders(a.cfg.IsProduction()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  a.cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders:  []string{"Authorization", "Content-Type", middleware.RequestIDHeader, db.TenantHeader},
		ExposeHeaders: []string{handover.StaleHeader, middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit(a.cfg.BodyLimit))
	if a.cfg.RequestTimeout > 0 {
		e.Use(middleware.RequestTimeout(a.cfg.RequestTimeout))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"backend": a.cfg.StoreBackend,
		})
	})
	if a.pool != nil {
		e.GET("/health/db", db.HealthHandler(a.pool))
	}

	api := e.Group(apiPrefix,
		a.authMiddleware(),
		db.TenantMiddleware(a.pool, a.cfg.DefaultTenant),
		middleware.Audit(a.logger),
	)

	jobs.NewHandler(a.jobs).RegisterRoutes(api)
	escalation.NewHandler(a.list).RegisterRoutes(api)
	reconcile.NewHandler(a.list, a.roster).RegisterRoutes(api)
	handover.NewHandler(a.handover).RegisterRoutes(api)

	hub := websocket.NewHub(a.logger)
	websocket.Bind(hub, fanout.CollectionJobs, a.jobs.Broadcaster())
	websocket.Bind(hub, fanout.CollectionEscalation, a.list.Broadcaster())
	websocket.NewHandler(hub).RegisterRoutes(api)

	return e, hub
}

func runServer(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to start")
		return err
	}
	defer a.Close()

	e, _ := a.newServer()

	go func() {
		if err := a.listen(ctx); err != nil {
			logger.Error().Err(err).Msg("fan-out listener stopped")
		}
	}()

	errc := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("backend", cfg.StoreBackend).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		logger.Error().Err(err).Msg("server error")
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}
