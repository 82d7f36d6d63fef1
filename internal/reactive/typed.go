package reactive

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-viper/mapstructure/v2"
)

// Decode converts every row of rs into a T. Struct fields are matched by
// their json tag.
func Decode[T any](rs ResultSet) ([]T, error) {
	out := make([]T, 0, len(rs))
	for _, d := range rs {
		var v T
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           &v,
			TagName:          "json",
			WeaklyTypedInput: true,
		})
		if err != nil {
			return nil, err
		}
		if err := dec.Decode(d.Data); err != nil {
			return nil, fmt.Errorf("decode row %q: %w", d.Key, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// QueryAs is Engine.Query with rows decoded into T.
func QueryAs[T any](ctx context.Context, e *Engine, sql string) ([]T, error) {
	rs, err := e.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	return Decode[T](rs)
}

// TypedSubscription is a Subscription whose rows are decoded into T.
type TypedSubscription[T any] struct {
	*Subscription
	out chan []T

	mu  sync.Mutex
	err error
}

// SubscribeAs is Engine.Subscribe with rows decoded into T. A row that
// cannot be decoded ends the subscription with that error.
func SubscribeAs[T any](ctx context.Context, e *Engine, sql string) (*TypedSubscription[T], error) {
	s, err := e.Subscribe(ctx, sql)
	if err != nil {
		return nil, err
	}
	ts := &TypedSubscription[T]{Subscription: s, out: make(chan []T)}
	go ts.pump()
	return ts, nil
}

func (ts *TypedSubscription[T]) pump() {
	defer close(ts.out)
	for rs := range ts.Subscription.Results() {
		rows, err := Decode[T](rs)
		if err != nil {
			ts.mu.Lock()
			ts.err = err
			ts.mu.Unlock()
			ts.Cancel()
			for range ts.Subscription.Results() {
			}
			return
		}
		select {
		case ts.out <- rows:
		case <-ts.Done():
			return
		}
	}
}

// Results delivers decoded result sets; it is closed when the
// subscription ends.
func (ts *TypedSubscription[T]) Results() <-chan []T { return ts.out }

// Err reports a decoding failure, or else the subscription's own error.
func (ts *TypedSubscription[T]) Err() error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.err != nil {
		return ts.err
	}
	return ts.Subscription.Err()
}

// Wait blocks until the subscription has ended and returns Err.
func (ts *TypedSubscription[T]) Wait() error {
	<-ts.Done()
	for range ts.out {
	}
	return ts.Err()
}
