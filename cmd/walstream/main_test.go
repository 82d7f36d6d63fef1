package main

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/zoravur/livesql/internal/wal"
)

func TestBroadcasterDropsForFullListeners(t *testing.T) {
	b := NewBroadcaster(zap.NewNop())
	slow := make(chan []byte, 1)
	fast := make(chan []byte, 2)
	b.AddListener(slow)
	b.AddListener(fast)

	b.Broadcast([]byte("a"))
	b.Broadcast([]byte("b"))
	if len(slow) != 1 || len(fast) != 2 {
		t.Fatalf("slow=%d fast=%d", len(slow), len(fast))
	}
	b.RemoveListener(slow)
	if b.Len() != 1 {
		t.Fatalf("%d listeners", b.Len())
	}
}

func TestClientReceivesBroadcasts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := NewBroadcaster(zap.NewNop())

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	go serve(ctx, l, b, zap.NewNop())

	conn, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for b.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	msg := `{"change":[{"kind":"insert","table":"documents","columnnames":["collection","key"],"columnvalues":["items","pen"]}]}`
	b.Broadcast([]byte(msg))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		t.Fatal(err)
	}
	// What the sidecar writes is what the server-side consumer reads.
	if got := (&wal.Consumer{}).OnMessage(line); len(got) != 1 || got[0] != "items" {
		t.Fatalf("consumer saw %v", got)
	}
}
