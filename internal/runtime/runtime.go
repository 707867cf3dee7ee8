// Package runtime wires the dependency graph for a dcbd process (spec
// C15): pool, store, command executor, progress store, elector,
// scheduler, and the optional NATS/Redis clients used by dispatch sinks.
// The admin API is wired separately, in cmd/dcbd.
// Grounded on the teacher's internal/web-app/main.go, which hand-builds
// a Server struct from environment-derived settings and a single pgx
// pool; generalized here into a struct assembled from a config.Config
// and started/stopped as one unit via errgroup, rather than one
// main() wiring an HTTP server only.
package runtime

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dcbrun/dcb/internal/command"
	"github.com/dcbrun/dcb/internal/config"
	"github.com/dcbrun/dcb/internal/processor"
	"github.com/dcbrun/dcb/internal/store"
)

// progressDB opens a database/sql handle over the same DSN the pgxpool
// uses, so ProgressStore (which needs database/sql for sqlmock
// testability in isolation) can share connection settings with the
// rest of the runtime without sharing a single *sql.DB across two
// driver styles.
func progressDB(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("runtime: opening database/sql handle: %w", err)
	}
	db.SetMaxOpenConns(int(cfg.Database.MaxConns))
	return db, nil
}

// Runtime holds every long-lived component one dcbd process owns.
type Runtime struct {
	Config    *config.Config
	Log       zerolog.Logger
	Pool      *pgxpool.Pool
	Store     store.Store
	Executor  *command.Executor
	Progress  *processor.ProgressStore
	Elector   *processor.Elector
	Scheduler *processor.Scheduler

	natsConn    *nats.Conn
	redisClient *redis.Client
	progressDB  *sql.DB
}

// New connects to Postgres, bootstraps the schema, and wires the
// command executor and processor scheduler. Subscriptions are attached
// by the caller via AddSubscription before Run, since they are
// domain-specific.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Runtime, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("runtime: parsing database dsn: %w", err)
	}
	poolCfg.MaxConns = cfg.Database.MaxConns

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("runtime: creating connection pool: %w", err)
	}

	s := store.New(pool)
	if err := s.Bootstrap(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("runtime: bootstrapping schema: %w", err)
	}

	sqlDB, err := progressDB(cfg)
	if err != nil {
		pool.Close()
		return nil, err
	}
	progress := processor.NewProgressStore(sqlDB)
	elector := processor.NewElector(pool)
	sched := processor.NewScheduler(s, progress, elector, log)
	sched.PollInterval = cfg.Processor.PollInterval()
	sched.BackoffEnabled = cfg.Processor.BackoffEnabled
	sched.BackoffThreshold = cfg.Processor.BackoffThreshold
	sched.BackoffMultiplier = cfg.Processor.BackoffMultiplier
	sched.BackoffMaxSeconds = cfg.Processor.BackoffMaxSeconds
	sched.MaxErrors = cfg.Processor.MaxErrors

	rt := &Runtime{
		Config:     cfg,
		Log:        log,
		Pool:       pool,
		Store:      s,
		Executor:   command.NewExecutor(s, log),
		Progress:   progress,
		Elector:    elector,
		Scheduler:  sched,
		progressDB: sqlDB,
	}

	if cfg.NATS.Enabled {
		nc, err := nats.Connect(cfg.NATS.URL)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("runtime: connecting to NATS: %w", err)
		}
		rt.natsConn = nc
	}
	if cfg.Redis.Enabled {
		rt.redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	}

	return rt, nil
}

// AddSubscription registers one processor subscription with the
// scheduler, applying any per-processor enabled override from config and
// the configured batch size when the subscription sets none. Call before
// Run.
func (rt *Runtime) AddSubscription(sub processor.Subscription) {
	if sub.BatchSize <= 0 {
		sub.BatchSize = rt.Config.Processor.BatchSize
	}
	if sub.Enabled == nil {
		enabled := rt.Config.Processor.Enabled(sub.ID)
		sub.Enabled = &enabled
	}
	rt.Scheduler.Subscriptions = append(rt.Scheduler.Subscriptions, sub)
}

// NATSConn returns the NATS connection if nats.enabled, nil otherwise.
func (rt *Runtime) NATSConn() *nats.Conn { return rt.natsConn }

// RedisClient returns the Redis client if redis.enabled, nil otherwise.
func (rt *Runtime) RedisClient() *redis.Client { return rt.redisClient }

// Run starts the processor scheduler and blocks until ctx is canceled
// or a subscription fails irrecoverably.
func (rt *Runtime) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rt.Scheduler.Run(ctx) })
	return g.Wait()
}

// Close releases every connection the runtime opened.
func (rt *Runtime) Close() error {
	if rt.natsConn != nil {
		rt.natsConn.Close()
	}
	if rt.redisClient != nil {
		_ = rt.redisClient.Close()
	}
	if rt.progressDB != nil {
		_ = rt.progressDB.Close()
	}
	rt.Pool.Close()
	return nil
}
