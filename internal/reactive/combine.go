package reactive

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/zoravur/livesql/internal/docstore"
	"github.com/zoravur/livesql/internal/metrics"
)

// SourceError is a native watch failure. It ends the whole subscription.
type SourceError struct {
	Index      int
	Branch     int
	Collection string
	Err        error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source %d (%s, branch %d): %v", e.Index, e.Collection, e.Branch, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// Combined holds the latest snapshot of every source, in source order, and
// the index of the source whose change produced it.
type Combined struct {
	Snapshots []docstore.Snapshot
	Trigger   int
}

type sourceEvent struct {
	index int
	snap  docstore.Snapshot
}

// CombineLatest watches every query and sends a Combined on out each time
// any source emits, once all sources have emitted at least once. It blocks
// until ctx is done or a source fails. The first failure stops every other
// watch and is returned as a *SourceError; cancellation returns ctx.Err().
// Every watch has been released when CombineLatest returns.
func CombineLatest(ctx context.Context, w docstore.Watcher, queries []docstore.Query, out chan<- Combined) error {
	if len(queries) == 0 {
		select {
		case out <- Combined{Trigger: -1}:
		case <-ctx.Done():
			return ctx.Err()
		}
		<-ctx.Done()
		return ctx.Err()
	}

	g, gctx := errgroup.WithContext(ctx)
	events := make(chan sourceEvent)

	for i, q := range queries {
		snaps := make(chan docstore.Snapshot)
		g.Go(func() error {
			metrics.WatchesActive.Inc()
			defer metrics.WatchesActive.Dec()

			err := w.Watch(gctx, q, snaps)
			if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			metrics.SourceErrors.WithLabelValues(q.Collection).Inc()
			return &SourceError{Index: i, Branch: q.Branch, Collection: q.Collection, Err: err}
		})
		g.Go(func() error {
			for {
				select {
				case s := <-snaps:
					select {
					case events <- sourceEvent{index: i, snap: s}:
					case <-gctx.Done():
						return gctx.Err()
					}
				case <-gctx.Done():
					return gctx.Err()
				}
			}
		})
	}

	g.Go(func() error {
		latest := make([]docstore.Snapshot, len(queries))
		seen := make([]bool, len(queries))
		ready := 0
		for {
			select {
			case ev := <-events:
				if !seen[ev.index] {
					seen[ev.index] = true
					ready++
				}
				latest[ev.index] = ev.snap
				if ready < len(queries) {
					continue
				}
				c := Combined{Snapshots: append([]docstore.Snapshot(nil), latest...), Trigger: ev.index}
				select {
				case out <- c:
				case <-gctx.Done():
					return gctx.Err()
				}
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	err := g.Wait()
	if ctx.Err() != nil {
		var serr *SourceError
		if !errors.As(err, &serr) {
			return ctx.Err()
		}
	}
	return err
}

// Flatten concatenates snapshots in source order, tagging every document
// with the index of the source it came from.
func Flatten(snaps []docstore.Snapshot) []docstore.Document {
	n := 0
	for _, s := range snaps {
		n += len(s)
	}
	out := make([]docstore.Document, 0, n)
	for i, s := range snaps {
		for _, d := range s {
			out = append(out, d.WithOrigin(i))
		}
	}
	return out
}
