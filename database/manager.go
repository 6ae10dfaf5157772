/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/extra/bundebug"
)

const (
	defaultConnectTimeout = 30 * time.Second
	maxHealthTimeout      = 5 * time.Second
)

// ManagerOption customises a Manager.
type ManagerOption func(*Manager)

func WithLogger(logger Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithModels sets the models whose tables are created and registered with Bun.
func WithModels(registry *ModelRegistry) ManagerOption {
	return func(m *Manager) { m.models = registry }
}

// WithForeignKeys sets the constraints added when tables are created.
func WithForeignKeys(keys *ForeignKeySet) ManagerOption {
	return func(m *Manager) { m.keys = keys }
}

func WithMigrations(steps ...MigrationStep) ManagerOption {
	return func(m *Manager) { m.steps = append(m.steps, steps...) }
}

// WithDataInit sets where InitData looks for seed files.
func WithDataInit(cfg DataInitConfig) ManagerOption {
	return func(m *Manager) { m.seed = cfg }
}

// WithQueryHooks attaches extra Bun query hooks on connect.
func WithQueryHooks(hooks ...bun.QueryHook) ManagerOption {
	return func(m *Manager) { m.hooks = append(m.hooks, hooks...) }
}

// Health is the outcome of a ping against the pool.
type Health struct {
	Healthy   bool          `json:"healthy"`
	Latency   time.Duration `json:"latency"`
	Err       string        `json:"error,omitempty"`
	CheckedAt time.Time     `json:"checked_at"`
	Stats     sql.DBStats   `json:"stats"`
}

// Manager owns one Bun connection pool. Units of work borrow DB() and never
// close it. The pool re-dials broken connections by itself, so the optional
// health monitor only records Health; it never replaces the pool.
type Manager struct {
	cfg    ConnectionConfig
	logger Logger
	models *ModelRegistry
	keys   *ForeignKeySet
	steps  []MigrationStep
	seed   DataInitConfig
	hooks  []bun.QueryHook

	mu     sync.RWMutex
	db     *bun.DB
	health Health
	// stop and done belong to the monitor of the current connection.
	stop chan struct{}
	done chan struct{}
}

// NewManager returns an unconnected Manager. A nil cfg means
// DefaultConnectionConfig.
func NewManager(cfg *ConnectionConfig, opts ...ManagerOption) *Manager {
	if cfg == nil {
		cfg = DefaultConnectionConfig()
	}
	m := &Manager{
		cfg:    *cfg,
		logger: DefaultLogger(),
		models: NewModelRegistry(),
		keys:   NewForeignKeySet(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect opens and pings the pool. It is a no-op while connected.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.db != nil {
		return nil
	}
	open, ok := openers[m.cfg.Dialect()]
	if !ok {
		return fmt.Errorf("unsupported database type: %q", m.cfg.Type)
	}
	db, err := open(&m.cfg)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	m.configurePool(db.DB)

	timeout := m.cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	h := ping(pingCtx, db)
	m.health = h
	if !h.Healthy {
		_ = db.Close()
		return fmt.Errorf("database connection test failed: %s", h.Err)
	}

	m.addHooks(db)
	// join models sort after the models they link; bun resolves m2m
	// relations by table name, so they are registered first
	instances := m.models.Instances()
	slices.Reverse(instances)
	db.RegisterModel(instances...)
	m.db = db

	if interval := m.cfg.HealthCheckInterval; interval > 0 {
		m.stop, m.done = make(chan struct{}), make(chan struct{})
		go m.monitor(db, interval, m.stop, m.done)
	}
	m.logger.Info("Database connected", "type", m.cfg.Dialect(), "host", m.cfg.Host, "latency", h.Latency)
	return nil
}

func (m *Manager) addHooks(db *bun.DB) {
	db.AddQueryHook(bundebug.NewQueryHook(
		bundebug.WithEnabled(false),
		bundebug.FromEnv("BUNDEBUG"),
	))
	if m.cfg.EnableQueryLog {
		db.AddQueryHook(NewQueryHook(nil, false))
	}
	if m.cfg.SlowQueryTime > 0 {
		db.AddQueryHook(NewSlowQueryHook(m.cfg.SlowQueryTime, m.logger))
	}
	for _, hook := range m.hooks {
		db.AddQueryHook(hook)
	}
}

func (m *Manager) configurePool(db *sql.DB) {
	// a zero idle pool would drop a shared in-memory SQLite database
	if m.cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(m.cfg.MaxIdleConns)
	}
	if m.cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(m.cfg.MaxOpenConns)
	}
	db.SetConnMaxLifetime(m.cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(m.cfg.ConnMaxIdleTime)
}

// Close stops the health monitor, waits for it to exit and closes the pool.
// The Manager can Connect again afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	db, stop, done := m.db, m.stop, m.done
	m.db, m.stop, m.done = nil, nil, nil
	m.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		m.logger.Error("Failed to close database", "error", err)
		return err
	}
	m.logger.Info("Database closed")
	return nil
}

func (m *Manager) monitor(db *bun.DB, interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	timeout := min(interval, maxHealthTimeout)
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			h := m.record(db, ping(ctx, db))
			cancel()
			if !h.Healthy {
				m.logger.Warn("Database health check failed", "error", h.Err)
			}
		}
	}
}

func ping(ctx context.Context, db *bun.DB) Health {
	start := time.Now()
	err := db.PingContext(ctx)
	h := Health{Healthy: err == nil, Latency: time.Since(start), CheckedAt: start, Stats: db.Stats()}
	if err != nil {
		h.Err = err.Error()
	}
	return h
}

// record keeps h only if db is still the current pool.
func (m *Manager) record(db *bun.DB, h Health) Health {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.db == db {
		m.health = h
	}
	return h
}

// Health pings the pool now and records the result.
func (m *Manager) Health(ctx context.Context) Health {
	db := m.DB()
	if db == nil {
		return m.record(nil, Health{Err: "database not connected", CheckedAt: time.Now()})
	}
	return m.record(db, ping(ctx, db))
}

// LastHealth returns the most recent check without touching the database.
func (m *Manager) LastHealth() Health {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.health
}

func (m *Manager) Ping(ctx context.Context) error {
	db := m.DB()
	if db == nil {
		return errNotConnected
	}
	return db.PingContext(ctx)
}

// DB returns the pool, or nil when not connected.
func (m *Manager) DB() *bun.DB {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.db
}

// Stats returns the pool statistics; zero when not connected.
func (m *Manager) Stats() sql.DBStats {
	db := m.DB()
	if db == nil {
		return sql.DBStats{}
	}
	return db.Stats()
}

func (m *Manager) Logger() Logger {
	return m.logger
}

var errNotConnected = errors.New("database not connected")

// Migrator returns a Migrator over the current pool.
func (m *Manager) Migrator() (*Migrator, error) {
	db := m.DB()
	if db == nil {
		return nil, errNotConnected
	}
	return NewMigrator(db, m.logger, m.models, m.keys, m.steps...), nil
}

func (m *Manager) RunMigrations(ctx context.Context) error {
	mg, err := m.Migrator()
	if err != nil {
		return err
	}
	return mg.Up(ctx)
}

func (m *Manager) Rollback(ctx context.Context, version string) error {
	mg, err := m.Migrator()
	if err != nil {
		return err
	}
	return mg.Down(ctx, version)
}

func (m *Manager) AppliedMigrations(ctx context.Context) ([]Migration, error) {
	mg, err := m.Migrator()
	if err != nil {
		return nil, err
	}
	return mg.Applied(ctx)
}

// InitData runs the seed files. A missing seed root is logged and skipped.
func (m *Manager) InitData(ctx context.Context) error {
	db := m.DB()
	if db == nil {
		return errNotConnected
	}
	seeder := NewSeeder(db, m.seed, m.logger)
	if err := seeder.CheckRoot(); err != nil {
		if errors.Is(err, ErrSeedRootMissing) {
			m.logger.Warn("Skipping data initialization", "error", err.Error())
			return nil
		}
		return err
	}
	_, err := seeder.Run(ctx)
	return err
}
