// Package app wires the daters server runtime: config, logging, persistence,
// HTTP routes and the realtime vote feed.
package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"daters/cmd/identity"
	"daters/cmd/internal/api"
	"daters/cmd/internal/dates"
	"daters/cmd/internal/expansion"
	"daters/cmd/internal/groups"
	"daters/cmd/internal/mail"
	"daters/cmd/internal/migrations"
	"daters/cmd/internal/realtime"
)

// Store is a small app-level lifecycle abstraction.
// It exists to allow DB-backed resources to be closed gracefully.
type Store interface {
	Close(ctx context.Context) error
}

// nopStore is used for in-memory store mode.
type nopStore struct{}

func (nopStore) Close(_ context.Context) error { return nil }

type dbStore struct {
	pool *pgxpool.Pool
}

func (s dbStore) Close(_ context.Context) error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// App is the daters server runtime: it owns HTTP wiring and every long-lived
// dependency behind it.
type App struct {
	cfg Config
	log Logger

	store     Store
	dbPool    *pgxpool.Pool
	dbEnabled bool

	hasher  *identity.Hasher
	mailer  mail.Sender
	metrics *Metrics

	api  *api.Handler
	feed *realtime.Feed
	hub  *realtime.Hub
}

// New constructs a fully wired App instance from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	hcfg, err := identity.HasherConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if err := ValidateSecurityConfig(cfg, hcfg.Password); err != nil {
		return nil, err
	}

	st, pool, err := newStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	a := &App{
		cfg:       cfg,
		log:       log,
		store:     st,
		dbPool:    pool,
		dbEnabled: pool != nil,
	}
	// Everything opened so far is released if wiring fails below.
	ok := false
	defer func() {
		if !ok {
			a.closeResources(context.Background())
		}
	}()

	users, err := newUserStore(cfg, pool)
	if err != nil {
		return nil, err
	}

	a.hasher, err = identity.NewHasher(hcfg)
	if err != nil {
		return nil, err
	}

	idSvc := identity.NewService(users, a.hasher, identity.WithLogger(log))
	grpSvc := groups.NewService(users, groups.WithLogger(log))

	dateStore, err := newDateStore(cfg, pool, grpSvc)
	if err != nil {
		return nil, err
	}

	a.hub = realtime.NewHub(log)
	dateSvc := dates.NewService(grpSvc, dateStore, dates.WithNotifier(a.hub), dates.WithLogger(log))

	var cache *expansion.Cache
	a.metrics = NewMetrics(Gauges{
		HasherQueueDepth: a.hasher.QueueDepth,
		CacheEntries:     func() int { return cache.Len() },
		FeedConnections:  a.hub.Connections,
		FeedDropped:      a.hub.Dropped,
	})
	cache = expansion.New(cfg.ExpansionCacheSize, expansion.WithOnEvict(a.metrics.Evicted))

	a.mailer, err = newMailer(cfg, log)
	if err != nil {
		return nil, err
	}

	a.api = api.NewHandler(api.Config{
		MaxBodyBytes: cfg.MaxBodyBytes,
		PublicURL:    cfg.PublicURL,
		MailTimeout:  cfg.MailTimeout,
	}, idSvc, grpSvc, dateSvc, cache,
		api.WithLogger(log),
		api.WithMailer(a.mailer),
		api.WithRecorder(a.metrics),
	)
	a.feed = realtime.NewFeed(log, a.hub, grpSvc, cfg.Feed)

	ok = true
	return a, nil
}

// Handler returns the full middleware-wrapped route tree.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.metrics, a.api, a.feed)
	return WithRequestLogging(WithSecurityHeaders(mux), a.log, a.metrics.ObserveRequest)
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled, "amqp_enabled", a.cfg.AMQPURL != "")

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		a.closeResources(context.Background())
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := srv.Shutdown(shutdownCtx)
	if err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
	}
	a.closeResources(shutdownCtx)
	if err != nil {
		return err
	}

	a.log.Info("server.stopped")
	return nil
}

// closeResources releases the hasher pool, the mail connection and the
// database pool, in that order. Hijacked feed connections are not tracked by
// Shutdown; their contexts end with the process.
func (a *App) closeResources(ctx context.Context) {
	if a.hasher != nil {
		if err := a.hasher.Close(); err != nil {
			a.log.Error("hasher.close.fail", "err", err)
		}
	}
	if c, ok := a.mailer.(io.Closer); ok {
		if err := c.Close(); err != nil {
			a.log.Error("mail.close.fail", "err", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(ctx); err != nil {
			a.log.Error("store.close.fail", "err", err)
		}
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// newStore decides between Postgres-backed persistence and in-memory dev store.
// A nil pool means in-memory mode.
func newStore(ctx context.Context, cfg Config, log Logger) (Store, *pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		return nopStore{}, nil, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	if cfg.DBMigrate {
		if err := migrations.Up(ctx, pool, cfg.DBSchema); err != nil {
			pool.Close()
			return nil, nil, err
		}
		log.Info("db.migrate.ok", "schema", cfg.DBSchema)
	}

	log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema)
	return dbStore{pool: pool}, pool, nil
}

func newUserStore(cfg Config, pool *pgxpool.Pool) (identity.Store, error) {
	if pool == nil {
		return identity.NewMemoryStore(), nil
	}
	return identity.NewPostgresStore(pool, identity.WithSchema(cfg.DBSchema))
}

func newDateStore(cfg Config, pool *pgxpool.Pool, members dates.Membership) (dates.Store, error) {
	if pool == nil {
		return dates.NewMemoryStore(dates.WithMemberCheck(dates.MembershipFromGroups(members))), nil
	}
	return dates.NewPostgresStore(pool, dates.WithSchema(cfg.DBSchema))
}

func newMailer(cfg Config, log Logger) (mail.Sender, error) {
	if cfg.AMQPURL == "" {
		log.Info("mail.amqp.disabled", "fallback", "log")
		return mail.LogSender{Log: log}, nil
	}
	s, err := mail.NewAMQPSender(cfg.AMQPURL, cfg.ActivationQueue)
	if err != nil {
		return nil, err
	}
	log.Info("mail.amqp.enabled", "queue", cfg.ActivationQueue)
	return s, nil
}
