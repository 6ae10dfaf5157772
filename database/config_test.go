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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
connection:
  type: postgres
  driver: pgx
  host: db.internal
  port: 5432
  username: app
  dbname: blog
  max_open_conns: 20
  slow_query_time: 500ms
migrate:
  enable_migrate_on_startup: true
  enable_foreign_key: true
  foreign_key_file: configs/fks.yaml
init:
  auto_init_on_startup: true
  environment: test
`))
	require.NoError(t, err)

	assert.Equal(t, TypePostgres, cfg.ConnectionConfig.Type)
	assert.Equal(t, DriverPGX, cfg.ConnectionConfig.Driver)
	assert.Equal(t, "db.internal", cfg.ConnectionConfig.Host)
	assert.Equal(t, 5432, cfg.ConnectionConfig.Port)
	assert.Equal(t, 20, cfg.ConnectionConfig.MaxOpenConns)
	assert.Equal(t, 500*time.Millisecond, cfg.ConnectionConfig.SlowQueryTime)
	assert.True(t, cfg.DataMigrateConfig.EnableMigrateOnStartup)
	assert.Equal(t, "configs/fks.yaml", cfg.DataMigrateConfig.ForeignKeyFile)
	assert.Equal(t, "test", cfg.DataInitConfig.Environment)

	// untouched keys keep their defaults
	assert.Equal(t, 10, cfg.ConnectionConfig.MaxIdleConns)
	assert.Equal(t, time.Hour, cfg.ConnectionConfig.ConnMaxLifetime)
	assert.Equal(t, "configs/sql", cfg.DataInitConfig.Filepath)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.yaml")
	require.NoError(t, os.WriteFile(path, []byte("connection:\n  type: sqlite\n  dbname: local\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, TypeSQLite, cfg.ConnectionConfig.Type)
	assert.Equal(t, "local.db", SQLiteDSN(&cfg.ConnectionConfig))

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")

	_, err = ParseConfig([]byte("connection: [unbalanced"))
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("DB_TYPE", TypeSQLite)
	t.Setenv("DB_DSN", "file::memory:?cache=shared")
	t.Setenv("DB_PORT", "")
	t.Setenv("DB_MAX_OPEN_CONNS", "7")
	t.Setenv("DB_CONN_MAX_LIFETIME", "60")
	t.Setenv("DB_ENABLE_QUERY_LOG", "true")

	cfg := DefaultConnectionConfig()
	cfg.Type = TypeMySQL
	cfg.Port = 3306
	require.NoError(t, ApplyEnv(cfg))

	assert.Equal(t, TypeSQLite, cfg.Type)
	assert.Equal(t, "file::memory:?cache=shared", cfg.DSN)
	assert.Equal(t, 3306, cfg.Port, "empty variables are ignored")
	assert.Equal(t, 7, cfg.MaxOpenConns)
	assert.Equal(t, time.Minute, cfg.ConnMaxLifetime)
	assert.True(t, cfg.EnableQueryLog)

	t.Setenv("DB_CONN_MAX_LIFETIME", "90m")
	require.NoError(t, ApplyEnv(cfg))
	assert.Equal(t, 90*time.Minute, cfg.ConnMaxLifetime)
}

func TestApplyEnvReportsBadValues(t *testing.T) {
	t.Setenv("DB_PORT", "five")
	t.Setenv("DB_ENABLE_QUERY_LOG", "sometimes")
	t.Setenv("DB_HOST", "db.internal")

	cfg := DefaultConnectionConfig()
	cfg.Port = 5432
	err := ApplyEnv(cfg)
	require.Error(t, err)
	assert.ErrorContains(t, err, "DB_PORT")
	assert.ErrorContains(t, err, "DB_ENABLE_QUERY_LOG")
	assert.Equal(t, 5432, cfg.Port)
	assert.Equal(t, "db.internal", cfg.Host)
}

func TestConnectionConfigValidate(t *testing.T) {
	for _, typ := range []string{TypeMySQL, TypePostgres, "postgresql", TypeSQLite, "sqlite3"} {
		cfg := &ConnectionConfig{Type: typ}
		assert.NoError(t, cfg.Validate(), typ)
	}
	assert.Equal(t, TypePostgres, (&ConnectionConfig{Type: "postgresql"}).Dialect())
	assert.Equal(t, TypeSQLite, (&ConnectionConfig{Type: "sqlite3"}).Dialect())

	assert.ErrorContains(t, (&ConnectionConfig{Type: "oracle"}).Validate(), "unsupported database type")
	assert.ErrorContains(t, (&ConnectionConfig{Type: TypePostgres, Driver: "odbc"}).Validate(), "unsupported postgres driver")
	assert.Error(t, (&ConnectionConfig{Type: TypeSQLite, MaxOpenConns: -1}).Validate())
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	ctx := t.Context()

	_, err := Open(ctx, nil)
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.ConnectionConfig.Type = "oracle"
	_, err = Open(ctx, cfg)
	assert.ErrorContains(t, err, "unsupported database type")

	cfg.ConnectionConfig = *sqliteConfig()
	t.Setenv("DB_MAX_IDLE_CONNS", "lots")
	_, err = Open(ctx, cfg, WithLogger(NopLogger{}))
	assert.ErrorContains(t, err, "DB_MAX_IDLE_CONNS")
}

func TestOpenAppliesEnvironmentToCopy(t *testing.T) {
	t.Setenv("DB_MAX_OPEN_CONNS", "3")
	cfg := DefaultConfig()
	cfg.ConnectionConfig = *sqliteConfig()

	m, err := Open(t.Context(), cfg, WithLogger(NopLogger{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	assert.Equal(t, 3, m.Stats().MaxOpenConnections)
	assert.Equal(t, 100, cfg.ConnectionConfig.MaxOpenConns, "caller config is not modified")
}
