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
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// Open applies the DB_* environment overrides to cfg, validates it and
// connects a Manager. Migrations run when enable_migrate_on_startup is set
// and seed files when auto_init_on_startup is set. On any failure the pool
// is closed again. Callers hand m.DB() to units of work and Close when done.
func Open(ctx context.Context, cfg *Config, opts ...ManagerOption) (*Manager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database configuration cannot be empty")
	}
	conn := cfg.ConnectionConfig
	if err := ApplyEnv(&conn); err != nil {
		return nil, fmt.Errorf("invalid environment override: %w", err)
	}
	if err := conn.Validate(); err != nil {
		return nil, err
	}

	opts = append([]ManagerOption{WithDataInit(cfg.DataInitConfig)}, opts...)
	if mc := cfg.DataMigrateConfig; mc.EnableForeignKey && mc.ForeignKeyFile != "" {
		opts = append(opts, WithForeignKeyFile(mc.ForeignKeyFile))
	}
	m := NewManager(&conn, opts...)

	if err := m.Connect(ctx); err != nil {
		return nil, err
	}
	if cfg.DataMigrateConfig.EnableMigrateOnStartup {
		if err := m.RunMigrations(ctx); err != nil {
			_ = m.Close()
			return nil, fmt.Errorf("failed to run database migrations: %w", err)
		}
	}
	if cfg.DataInitConfig.AutoInitOnStartup {
		if err := m.InitData(ctx); err != nil {
			_ = m.Close()
			return nil, fmt.Errorf("failed to initialize data: %w", err)
		}
	}
	return m, nil
}

// WithForeignKeyFile adds the constraints of a YAML file to the manager's
// set, replacing code-defined ones of the same name. A file that cannot be
// read or holds an invalid constraint is logged and ignored as a whole.
func WithForeignKeyFile(path string) ManagerOption {
	return func(m *Manager) {
		keys, err := LoadForeignKeys(path)
		if err == nil {
			err = NewForeignKeySet(keys...).Validate()
		}
		if err != nil {
			m.logger.Warn("Ignoring foreign key file", "path", path, "error", err.Error())
			return
		}
		if m.keys == nil {
			m.keys = NewForeignKeySet()
		}
		m.keys.Add(keys...)
	}
}

type opener func(cfg *ConnectionConfig) (*bun.DB, error)

var openers = map[string]opener{
	TypeMySQL:    openMySQL,
	TypePostgres: openPostgres,
	TypeSQLite:   openSQLite,
}

func openMySQL(cfg *ConnectionConfig) (*bun.DB, error) {
	dsn, err := MySQLDSN(cfg)
	if err != nil {
		return nil, err
	}
	sqlDB, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	return bun.NewDB(sqlDB, mysqldialect.New()), nil
}

func openPostgres(cfg *ConnectionConfig) (*bun.DB, error) {
	driver := "postgres"
	if cfg.Driver == DriverPGX {
		driver = "pgx"
	}
	sqlDB, err := sql.Open(driver, PostgresDSN(cfg))
	if err != nil {
		return nil, err
	}
	return bun.NewDB(sqlDB, pgdialect.New()), nil
}

func openSQLite(cfg *ConnectionConfig) (*bun.DB, error) {
	sqlDB, err := sql.Open(sqliteshim.ShimName, SQLiteDSN(cfg))
	if err != nil {
		return nil, err
	}
	return bun.NewDB(sqlDB, sqlitedialect.New()), nil
}

// MySQLDSN returns the driver DSN for cfg. A user supplied DSN keeps its
// parameters, but clientFoundRows is always switched on: UPDATE must report
// matched rows or an unchanged row reads as a version conflict.
func MySQLDSN(cfg *ConnectionConfig) (string, error) {
	var mc *mysql.Config
	if cfg.DSN != "" {
		parsed, err := mysql.ParseDSN(cfg.DSN)
		if err != nil {
			return "", fmt.Errorf("invalid mysql dsn: %w", err)
		}
		mc = parsed
	} else {
		mc = mysql.NewConfig()
		mc.User = cfg.Username
		mc.Passwd = cfg.Password
		mc.Net = "tcp"
		mc.Addr = hostPort(cfg, 3306)
		mc.DBName = cfg.DBName
		mc.ParseTime = true
		mc.Loc = time.Local
		mc.Timeout = cfg.ConnectTimeout
		mc.ReadTimeout = cfg.ReadTimeout
		mc.WriteTimeout = cfg.WriteTimeout
		mc.Params = map[string]string{"charset": "utf8mb4"}
	}
	mc.ClientFoundRows = true
	return mc.FormatDSN(), nil
}

// PostgresDSN returns cfg.DSN when set, otherwise a postgres:// URL built
// from the discrete fields. sslmode defaults to disable.
func PostgresDSN(cfg *ConnectionConfig) string {
	if cfg.DSN != "" {
		return cfg.DSN
	}
	q := url.Values{}
	q.Set("sslmode", cfg.SSLMode)
	if cfg.SSLMode == "" {
		q.Set("sslmode", "disable")
	}
	if secs := int(cfg.ConnectTimeout.Seconds()); secs > 0 {
		q.Set("connect_timeout", strconv.Itoa(secs))
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.Username, cfg.Password),
		Host:     hostPort(cfg, 5432),
		Path:     "/" + cfg.DBName,
		RawQuery: q.Encode(),
	}
	return u.String()
}

func hostPort(cfg *ConnectionConfig, defaultPort int) string {
	host, port := cfg.Host, cfg.Port
	if host == "" {
		host = "localhost"
	}
	if port == 0 {
		port = defaultPort
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// SQLiteDSN returns cfg.DSN when set, a shared in-memory database for an
// empty name or ":memory:", and the file <dbname>.db otherwise.
func SQLiteDSN(cfg *ConnectionConfig) string {
	switch {
	case cfg.DSN != "":
		return cfg.DSN
	case cfg.DBName == "" || cfg.DBName == ":memory:":
		return "file::memory:?cache=shared"
	default:
		return cfg.DBName + ".db"
	}
}
