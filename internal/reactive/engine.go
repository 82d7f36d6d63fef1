// Package reactive runs SQL statements as live queries over a document
// store: it watches every native query of a plan, combines their latest
// snapshots and re-derives the SQL result set on every change.
package reactive

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/zoravur/livesql/internal/docstore"
	"github.com/zoravur/livesql/internal/logutil"
	"github.com/zoravur/livesql/internal/metrics"
	"github.com/zoravur/livesql/internal/query"
	"github.com/zoravur/livesql/pkg/sqlast"
)

const defaultPlanCacheSize = 256

// Config configures an Engine.
type Config struct {
	// Root prefixes every collection named in FROM.
	Root          string
	Query         query.Options
	PlanCacheSize int
	Logger        *zap.Logger
}

// Engine turns SQL text into subscriptions against one store.
type Engine struct {
	store docstore.Watcher
	root  string
	opts  query.Options
	log   *zap.Logger
	plans *lru.Cache[string, *query.Plan]
	reg   *Registry
}

func NewEngine(w docstore.Watcher, cfg Config) (*Engine, error) {
	if w == nil {
		return nil, fmt.Errorf("reactive: nil watcher")
	}
	size := cfg.PlanCacheSize
	if size <= 0 {
		size = defaultPlanCacheSize
	}
	plans, err := lru.New[string, *query.Plan](size)
	if err != nil {
		return nil, fmt.Errorf("plan cache: %w", err)
	}
	log := cfg.Logger
	if log == nil {
		log = zap.L()
	}
	return &Engine{
		store: w,
		root:  cfg.Root,
		opts:  cfg.Query,
		log:   log.Named("reactive"),
		plans: plans,
		reg:   NewRegistry(),
	}, nil
}

// Registry lists the running subscriptions.
func (e *Engine) Registry() *Registry { return e.reg }

// Plan parses and translates sql, reusing an earlier plan for the same
// text. Errors are *sqlast.ParseError, sqlast.ErrEmptyQuery,
// *query.ValidationError or *query.TranslationError.
func (e *Engine) Plan(sql string) (*query.Plan, error) {
	if p, ok := e.plans.Get(sql); ok {
		metrics.PlanCache.WithLabelValues("hit").Inc()
		return p, nil
	}
	metrics.PlanCache.WithLabelValues("miss").Inc()

	st, err := sqlast.Parse(sql)
	if err != nil {
		return nil, err
	}
	p, err := query.NewPlan(e.root, st, e.opts)
	if err != nil {
		return nil, err
	}
	metrics.QueriesPerPlan.Observe(float64(len(p.Queries)))
	e.plans.Add(sql, p)
	return p, nil
}

// Subscribe starts a live query. Statement errors are returned directly;
// failures after that end the subscription and surface through Err. The
// subscription runs until ctx is done or Cancel is called.
func (e *Engine) Subscribe(ctx context.Context, sql string) (*Subscription, error) {
	p, err := e.Plan(sql)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		ID:      uuid.NewString(),
		SQL:     sql,
		Plan:    p,
		Created: time.Now(),
		results: make(chan ResultSet),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	e.reg.Register(s)
	metrics.SubscriptionsActive.Inc()

	e.log.Info("subscription started",
		zap.String("subscription", s.ID),
		logutil.Statement(sql, p.Queries),
		logutil.Group("options",
			zap.Stringer("unionOrdering", p.Options.UnionOrdering),
			zap.String("includeKey", p.Options.IncludeKey),
		),
	)
	go s.run(ctx, e)
	return s, nil
}

// Query answers sql once: it subscribes, takes the first result set and
// cancels.
func (e *Engine) Query(ctx context.Context, sql string) (ResultSet, error) {
	s, err := e.Subscribe(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer s.Cancel()

	rs, ok := <-s.Results()
	if !ok {
		if err := s.Wait(); err != nil {
			return nil, err
		}
		return nil, ctx.Err()
	}
	s.Cancel()
	_ = s.Wait()
	return rs, nil
}

// Close cancels every subscription and waits for them to release their
// watches.
func (e *Engine) Close() {
	subs := e.reg.Snapshot()
	for _, s := range subs {
		s.Cancel()
	}
	for _, s := range subs {
		<-s.Done()
	}
}
