package logutil

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/zoravur/livesql/internal/docstore"
)

func TestStatementField(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	log := zap.New(core)

	queries := []docstore.Query{
		{Collection: "items", Filters: []docstore.Filter{{Field: "price", Op: docstore.Lt, Value: 10}}},
		{Collection: "items", Filters: []docstore.Filter{{Field: "category", Op: docstore.Eq, Value: "sale"}}},
	}
	log.Info("started",
		Statement("SELECT * FROM items WHERE price < 10 OR category = 'sale'", queries),
		Group("options", zap.String("includeKey", "_key")),
	)

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("%d entries", len(entries))
	}
	ctx := entries[0].ContextMap()
	st, ok := ctx["statement"].(map[string]any)
	if !ok {
		t.Fatalf("statement = %#v", ctx["statement"])
	}
	if st["queries"] != int64(2) {
		t.Fatalf("queries = %#v", st["queries"])
	}
	native, ok := st["native"].([]any)
	if !ok || len(native) != 2 || native[1] != queries[1].String() {
		t.Fatalf("native = %#v", st["native"])
	}
	if opts, ok := ctx["options"].(map[string]any); !ok || opts["includeKey"] != "_key" {
		t.Fatalf("options = %#v", ctx["options"])
	}
}
