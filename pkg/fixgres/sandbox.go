package fixgres

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/binary"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"
)

// Sandbox is a schema of its own inside the shared container. Every pooled
// connection opened with DSN has the sandbox schema first on its
// search_path.
type Sandbox struct {
	DB     *sql.DB
	DSN    string
	Schema string
	Seed   int64
	Close  func()
}

var (
	bootOnce sync.Once
	booted   bool
	bootErr  error
)

// Boot starts the shared container once. Use it from TestMain.
func Boot(opts ...Option) error {
	bootOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		cfg := &config{}
		for _, o := range opts {
			o(cfg)
		}
		if cfg.randomSeed == 0 {
			cfg.randomSeed = randomSeed()
		}

		bootErr = boot(ctx, cfg)
		booted = bootErr == nil
	})
	return bootErr
}

// BootOnce is Boot for use inside a test.
func BootOnce(t *testing.T, opts ...Option) {
	t.Helper()
	if err := Boot(opts...); err != nil {
		t.Fatalf("fixgres boot failed: %v", err)
	}
}

// Booted reports whether the shared container is up.
func Booted() bool { return booted }

func NewSandbox(t *testing.T) *Sandbox {
	t.Helper()
	if !booted {
		t.Fatalf("fixgres not booted. Call fixgres.Boot(...) in TestMain first.")
	}

	admin, err := sql.Open("pgx", connString) // admin connection (no search_path)
	if err != nil {
		t.Fatalf("open admin: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Unique schema per test
	schema := fmt.Sprintf("t_%x", time.Now().UnixNano())

	if _, err := admin.ExecContext(ctx, `CREATE SCHEMA "`+schema+`"`); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	sbxDSN := withSearchPath(connString, schema)

	db, err := sql.Open("pgx", sbxDSN)
	if err != nil {
		t.Fatalf("open sandbox: %v", err)
	}

	if migrate != nil {
		if err := migrate(ctx, db); err != nil {
			t.Fatalf("migrate sandbox: %v", err)
		}
	}

	sbx := &Sandbox{
		DB:     db,
		DSN:    sbxDSN,
		Schema: schema,
		Seed:   seed ^ time.Now().UnixNano(),
	}
	var closeOnce sync.Once
	sbx.Close = func() {
		closeOnce.Do(func() {
			// drop schema with admin handle (it doesn't share the search_path)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_, _ = admin.ExecContext(ctx, `DROP SCHEMA IF EXISTS "`+schema+`" CASCADE`)
			_ = db.Close()
			_ = admin.Close()
		})
	}
	t.Cleanup(sbx.Close)
	return sbx
}

func withSearchPath(base, schema string) string {
	u, _ := url.Parse(base)
	q := u.Query()
	q.Set("options", fmt.Sprintf("-csearch_path=%s,public", schema))
	u.RawQuery = q.Encode()
	return u.String()
}

func randomSeed() int64 {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return int64(binary.LittleEndian.Uint64(b[:]))
}
