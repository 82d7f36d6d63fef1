package fixgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

type config struct {
	image      string
	dbName     string
	user       string
	password   string
	migrate    Migrator
	randomSeed int64
}

type Option func(*config)

func WithImage(i string) Option     { return func(c *config) { c.image = i } }
func WithDBName(n string) Option    { return func(c *config) { c.dbName = n } }
func WithUser(u string) Option      { return func(c *config) { c.user = u } }
func WithPassword(p string) Option  { return func(c *config) { c.password = p } }
func WithRandomSeed(s int64) Option { return func(c *config) { c.randomSeed = s } }

// WithMigrations applies migrations to every sandbox schema as it is
// created.
func WithMigrations(m Migrator) Option { return func(c *config) { c.migrate = m } }

// Migrator brings a freshly created sandbox schema up to date.
type Migrator func(ctx context.Context, db *sql.DB) error

var (
	once       sync.Once
	pg         *postgres.PostgresContainer
	mu         sync.Mutex
	connString string
	seed       int64
	migrate    Migrator
)

func boot(ctx context.Context, c *config) error {
	var onceErr error
	once.Do(func() {
		if c.image == "" {
			c.image = "docker.io/postgres:16-alpine"
		}
		if c.dbName == "" {
			c.dbName = "livesql"
		}
		if c.user == "" {
			c.user = "postgres"
		}
		if c.password == "" {
			c.password = "pass"
		}
		seed = c.randomSeed

		container, err := postgres.Run(ctx,
			c.image,
			postgres.WithDatabase(c.dbName),
			postgres.WithUsername(c.user),
			postgres.WithPassword(c.password),
			postgres.BasicWaitStrategies(),
		)
		if err != nil {
			onceErr = err
			return
		}
		mu.Lock()
		pg = container
		mu.Unlock()

		host, _ := container.Host(ctx)
		port, _ := container.MappedPort(ctx, "5432/tcp")
		connString = fmt.Sprintf(
			"postgres://%s:%s@%s:%s/%s?sslmode=disable",
			c.user, c.password, host, port.Port(), c.dbName,
		)
		migrate = c.migrate
	})
	return onceErr
}

func ShutdownNow() error {
	mu.Lock()
	defer mu.Unlock()
	if pg == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := pg.Terminate(ctx)
	pg = nil
	return err
}
