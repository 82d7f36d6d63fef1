package wal

import (
	"context"
	"errors"
	"net"
	"reflect"
	"sync"
	"testing"
	"time"
)

const txn = `{
	"change": [
		{
			"kind": "insert",
			"schema": "public",
			"table": "documents",
			"columnnames": ["collection", "key", "data", "updated_at"],
			"columntypes": ["text", "text", "jsonb", "timestamp with time zone"],
			"columnvalues": ["items", "pen", "{\"price\": 3}", "2025-01-01 00:00:00+00"]
		},
		{
			"kind": "update",
			"schema": "public",
			"table": "documents",
			"columnnames": ["collection", "key", "data", "updated_at"],
			"columnvalues": ["items", "mug", "{\"price\": 8}", "2025-01-01 00:00:00+00"],
			"oldkeys": {"keynames": ["collection", "key"], "keyvalues": ["items", "mug"]}
		},
		{
			"kind": "delete",
			"schema": "public",
			"table": "documents",
			"oldkeys": {"keynames": ["collection", "key"], "keyvalues": ["people", "p1"]}
		},
		{
			"kind": "insert",
			"schema": "public",
			"table": "goose_db_version",
			"columnnames": ["id"],
			"columnvalues": [3]
		}
	]
}`

func TestOnMessageCollections(t *testing.T) {
	c := &Consumer{}
	got := c.OnMessage([]byte(txn))
	want := []string{"items", "people"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestOnMessageIgnoresGarbage(t *testing.T) {
	c := &Consumer{}
	for _, in := range []string{`not json`, `{}`, `{"change":[{"kind":"delete","table":"documents"}]}`} {
		if got := c.OnMessage([]byte(in)); len(got) != 0 {
			t.Errorf("OnMessage(%q) = %v", in, got)
		}
	}
}

func TestRunFollowsStream(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	// First connection sends one transaction and hangs up; the second
	// stays open.
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		_, _ = conn.Write([]byte(txn + "\n"))
		conn.Close()

		conn, err = l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		<-time.After(5 * time.Second)
	}()

	var (
		mu  sync.Mutex
		got []string
	)
	done := make(chan struct{})
	notify := func(coll string) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, coll)
		if len(got) == 3 {
			close(done)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Consumer{Addr: l.Addr().String(), Retry: 10 * time.Millisecond}
	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx, notify) }()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out")
	}
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	// The reconnect reports every collection as changed.
	if want := []string{"items", "people", ""}; !reflect.DeepEqual(got[:3], want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}
