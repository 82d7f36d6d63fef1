// Package wal turns the wal2json stream published by cmd/walstream into
// collection change notifications for pgstore.
package wal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/zoravur/livesql/internal/metrics"
)

type Change struct {
	Schema       string   `json:"schema"`
	Table        string   `json:"table"`
	Kind         string   `json:"kind"`
	ColumnNames  []string `json:"columnnames"`
	ColumnValues []any    `json:"columnvalues"`
	OldKeys      Keys     `json:"oldkeys"`
}

type Keys struct {
	KeyNames  []string `json:"keynames"`
	KeyValues []any    `json:"keyvalues"`
}

type Envelope struct {
	Change []Change `json:"change"`
}

// Consumer follows a walstream server and implements pgstore.ChangeFeed.
type Consumer struct {
	Addr string
	// Table is the documents table; changes to other tables are ignored.
	Table  string
	Logger *zap.Logger
	// Retry is the pause before reconnecting after the stream drops.
	Retry time.Duration
}

// Run dials Addr and reports changed collections until ctx is done. Every
// reconnect reports "" since changes may have been missed.
func (c *Consumer) Run(ctx context.Context, notify func(collection string)) error {
	log := c.logger()
	retry := c.Retry
	if retry <= 0 {
		retry = 2 * time.Second
	}
	first := true
	for {
		err := c.stream(ctx, notify, first)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		first = false
		log.Warn("wal stream dropped, reconnecting", zap.Error(err), zap.Duration("retry", retry))
		select {
		case <-time.After(retry):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Consumer) stream(ctx context.Context, notify func(string), first bool) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return fmt.Errorf("wal: dial %s: %w", c.Addr, err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	c.logger().Info("connected to wal stream", zap.String("addr", c.Addr))
	if !first {
		notify("")
	}

	// wal2json pretty-prints, so messages span lines.
	dec := json.NewDecoder(conn)
	for {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				return io.ErrUnexpectedEOF
			}
			return fmt.Errorf("wal: decode: %w", err)
		}
		for _, coll := range c.OnMessage(raw) {
			notify(coll)
		}
	}
}

// OnMessage decodes one wal2json transaction and returns the collections
// it touched, each once.
func (c *Consumer) OnMessage(line []byte) []string {
	log := c.logger()
	var env Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		log.Warn("wal decode error", zap.Error(err))
		return nil
	}

	table := c.Table
	if table == "" {
		table = "documents"
	}
	seen := make(map[string]bool)
	var out []string
	for _, ch := range env.Change {
		if ch.Table != table {
			continue
		}
		coll, ok := collectionOf(ch)
		if !ok {
			log.Warn("wal change without collection",
				zap.String("kind", ch.Kind), zap.String("table", ch.Table))
			continue
		}
		metrics.ChangeEvents.WithLabelValues("wal").Inc()
		if !seen[coll] {
			seen[coll] = true
			out = append(out, coll)
		}
	}
	log.Debug("wal message", zap.Int("changes", len(env.Change)), zap.Strings("collections", out))
	return out
}

// collectionOf reads the collection column: from the new row for inserts
// and updates, from the old key for deletes.
func collectionOf(ch Change) (string, bool) {
	if ch.Kind == "delete" {
		for i, name := range ch.OldKeys.KeyNames {
			if name == "collection" && i < len(ch.OldKeys.KeyValues) {
				s, ok := ch.OldKeys.KeyValues[i].(string)
				return s, ok
			}
		}
		return "", false
	}
	for i, name := range ch.ColumnNames {
		if name == "collection" && i < len(ch.ColumnValues) {
			s, ok := ch.ColumnValues[i].(string)
			return s, ok
		}
	}
	return "", false
}

func (c *Consumer) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}
