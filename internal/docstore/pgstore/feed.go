package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// DefaultChannel is the NOTIFY channel written by the documents trigger.
const DefaultChannel = "livesql_changes"

// NotifyFeed follows the documents trigger with LISTEN.
type NotifyFeed struct {
	DSN     string
	Channel string
	Logger  *zap.Logger
}

// Run implements ChangeFeed. A reconnect reports "" since notifications
// may have been missed.
func (f *NotifyFeed) Run(ctx context.Context, notify func(collection string)) error {
	log := f.Logger
	if log == nil {
		log = zap.NewNop()
	}
	channel := f.Channel
	if channel == "" {
		channel = DefaultChannel
	}

	l := pq.NewListener(f.DSN, 500*time.Millisecond, 30*time.Second, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnectionAttemptFailed, pq.ListenerEventDisconnected:
			log.Warn("notify listener connection problem", zap.Error(err))
		case pq.ListenerEventReconnected:
			log.Info("notify listener reconnected")
		}
	})
	defer l.Close()

	if err := l.Listen(channel); err != nil {
		return fmt.Errorf("pgstore: listen %s: %w", channel, err)
	}
	log.Info("listening for changes", zap.String("channel", channel))

	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()
	for {
		select {
		case n := <-l.Notify:
			countChange("notify")
			if n == nil {
				notify("")
				continue
			}
			notify(n.Extra)
		case <-ping.C:
			go func() {
				if err := l.Ping(); err != nil {
					log.Warn("notify listener ping failed", zap.Error(err))
				}
			}()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
