package reactive

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/zoravur/livesql/internal/metrics"
	"github.com/zoravur/livesql/internal/query"
)

// Subscription is a running live SQL statement. Result sets arrive on
// Results until the subscription ends; Err then tells why.
type Subscription struct {
	ID      string
	SQL     string
	Plan    *query.Plan
	Created time.Time

	results chan ResultSet
	cancel  context.CancelFunc
	done    chan struct{}
	emitted atomic.Int64

	mu  sync.Mutex
	err error
}

// Results delivers every result set in order. It is closed when the
// subscription ends.
func (s *Subscription) Results() <-chan ResultSet { return s.results }

// Done is closed once every native watch has been released.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Cancel stops the subscription. It is safe to call more than once.
func (s *Subscription) Cancel() { s.cancel() }

// Wait blocks until the subscription has ended and returns Err.
func (s *Subscription) Wait() error {
	<-s.done
	return s.Err()
}

// Err is nil while running and after a plain Cancel. It holds the
// *SourceError of a failed native watch, or the context error when the
// parent context expired.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Emitted counts the result sets delivered so far.
func (s *Subscription) Emitted() int64 { return s.emitted.Load() }

func (s *Subscription) setErr(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

func (s *Subscription) run(ctx context.Context, e *Engine) {
	log := e.log.With(zap.String("subscription", s.ID))
	combined := make(chan Combined)
	errc := make(chan error, 1)
	go func() { errc <- CombineLatest(ctx, e.store, s.Plan.Queries, combined) }()

	defer func() {
		e.reg.Unregister(s.ID)
		metrics.SubscriptionsActive.Dec()
		close(s.results)
		close(s.done)
	}()

	for {
		select {
		case c := <-combined:
			start := time.Now()
			rs := ResultSet(s.Plan.Process(Flatten(c.Snapshots)))
			metrics.ProcessDuration.Observe(time.Since(start).Seconds())

			select {
			case s.results <- rs:
				s.emitted.Add(1)
				metrics.ResultSets.Inc()
				log.Debug("result set delivered", zap.Int("rows", len(rs)), zap.Int("trigger", c.Trigger))
			case <-ctx.Done():
			}

		case err := <-errc:
			switch {
			case err == nil, errors.Is(err, context.Canceled):
				log.Debug("subscription stopped")
			default:
				s.setErr(err)
				log.Warn("subscription failed", zap.Error(err))
			}
			return
		}
	}
}
