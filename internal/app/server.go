// Package app assembles the store, change feed, engine and HTTP server
// from a config.Config.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zoravur/livesql/internal/api"
	"github.com/zoravur/livesql/internal/config"
	"github.com/zoravur/livesql/internal/docstore"
	"github.com/zoravur/livesql/internal/docstore/memstore"
	"github.com/zoravur/livesql/internal/docstore/pgstore"
	"github.com/zoravur/livesql/internal/reactive"
	"github.com/zoravur/livesql/internal/wal"
)

// Store is an opened backend. Feed is nil for the memory backend or when
// feeds are disabled.
type Store struct {
	docstore.Store
	Feed  pgstore.ChangeFeed
	pg    *pgstore.Store
	close func()
}

// Close releases the backend.
func (s *Store) Close() {
	if s.close != nil {
		s.close()
	}
}

// Follow runs the change feed until ctx is done. Without a feed it just
// waits.
func (s *Store) Follow(ctx context.Context) error {
	if s.Feed == nil || s.pg == nil {
		<-ctx.Done()
		return nil
	}
	err := s.pg.Follow(ctx, s.Feed)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// OpenStore opens the configured backend, migrating postgres when asked.
func OpenStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Store, error) {
	if cfg.Store.Backend == "memory" {
		return &Store{Store: memstore.New(log.Named("memstore"))}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if cfg.Store.Migrate {
		db := stdlib.OpenDBFromPool(pool)
		err := pgstore.Migrate(ctx, db)
		_ = db.Close()
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	pg, err := pgstore.New(pool, pgstore.Options{Workers: cfg.Store.Workers, Logger: log.Named("pgstore")})
	if err != nil {
		pool.Close()
		return nil, err
	}

	var feed pgstore.ChangeFeed
	switch cfg.Store.Feed {
	case "notify":
		feed = &pgstore.NotifyFeed{DSN: cfg.Store.DSN, Channel: cfg.Store.Channel, Logger: log.Named("notify")}
	case "wal":
		feed = &wal.Consumer{Addr: cfg.Store.WALAddr, Logger: log.Named("wal")}
	}
	return &Store{
		Store: pg,
		Feed:  feed,
		pg:    pg,
		close: func() {
			pg.Close()
			pool.Close()
		},
	}, nil
}

type Server struct {
	httpServer *http.Server
	Engine     *reactive.Engine
	store      *Store
	log        *zap.Logger
}

func NewServer(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Server, error) {
	store, err := OpenStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	engine, err := reactive.NewEngine(store, reactive.Config{
		Root:          cfg.Engine.Root,
		Query:         cfg.QueryOptions(),
		PlanCacheSize: cfg.Engine.PlanCacheSize,
		Logger:        log,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	mux := api.SetupRoutes(api.Deps{
		Engine:    engine,
		Store:     store,
		Root:      cfg.Engine.Root,
		StaticDir: cfg.HTTP.StaticDir,
	})

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		Engine: engine,
		store:  store,
		log:    log,
	}, nil
}

// Store is the opened backend, for seeding before Run.
func (s *Server) Store() docstore.Store { return s.store }

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	defer s.store.Close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error { return s.store.Follow(ctx) })
	g.Go(func() error {
		<-ctx.Done()
		s.log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := s.httpServer.Shutdown(sctx)
		s.Engine.Close()
		return err
	})
	return g.Wait()
}
