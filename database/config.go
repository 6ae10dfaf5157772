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
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Supported database types.
const (
	TypeMySQL    = "mysql"
	TypePostgres = "postgres"
	TypeSQLite   = "sqlite"
)

// Supported PostgreSQL drivers.
const (
	DriverPQ  = "pq"
	DriverPGX = "pgx"
)

var typeAliases = map[string]string{
	TypeMySQL:    TypeMySQL,
	TypePostgres: TypePostgres,
	"postgresql": TypePostgres,
	TypeSQLite:   TypeSQLite,
	"sqlite3":    TypeSQLite,
}

// ConnectionConfig describes how to reach a database and size its pool.
// A non-empty DSN takes precedence over the discrete host and credential
// fields; for MySQL it is still rewritten to report matched rows.
type ConnectionConfig struct {
	Type                string        `json:"type" yaml:"type"`     // mysql, postgres or sqlite
	Driver              string        `json:"driver" yaml:"driver"` // postgres only: pq (default) or pgx
	DSN                 string        `json:"dsn" yaml:"dsn"`
	Host                string        `json:"host" yaml:"host"`
	Port                int           `json:"port" yaml:"port"`
	Username            string        `json:"username" yaml:"username"`
	Password            string        `json:"password" yaml:"password"`
	DBName              string        `json:"dbname" yaml:"dbname"`
	SSLMode             string        `json:"sslmode" yaml:"sslmode"`
	MaxIdleConns        int           `json:"max_idle_conns" yaml:"max_idle_conns"`
	MaxOpenConns        int           `json:"max_open_conns" yaml:"max_open_conns"`
	ConnMaxLifetime     time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	ConnMaxIdleTime     time.Duration `json:"conn_max_idle_time" yaml:"conn_max_idle_time"`
	ConnectTimeout      time.Duration `json:"connect_timeout" yaml:"connect_timeout"`
	ReadTimeout         time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout        time.Duration `json:"write_timeout" yaml:"write_timeout"`
	HealthCheckInterval time.Duration `json:"health_check_interval" yaml:"health_check_interval"`
	EnableQueryLog      bool          `json:"enable_query_log" yaml:"enable_query_log"`
	SlowQueryTime       time.Duration `json:"slow_query_time" yaml:"slow_query_time"`
}

// Dialect returns the canonical database type, or "" when Type is not
// supported.
func (c *ConnectionConfig) Dialect() string {
	return typeAliases[c.Type]
}

// Validate reports an unsupported type or driver.
func (c *ConnectionConfig) Validate() error {
	var errs []error
	if c.Dialect() == "" {
		errs = append(errs, fmt.Errorf("unsupported database type: %q", c.Type))
	}
	if c.Driver != "" && !slices.Contains([]string{DriverPQ, DriverPGX}, c.Driver) {
		errs = append(errs, fmt.Errorf("unsupported postgres driver: %q", c.Driver))
	}
	if c.MaxOpenConns < 0 || c.MaxIdleConns < 0 {
		errs = append(errs, errors.New("pool sizes must not be negative"))
	}
	return errors.Join(errs...)
}

// DataMigrateConfig controls migrations on startup.
type DataMigrateConfig struct {
	EnableMigrateOnStartup bool   `json:"enable_migrate_on_startup" yaml:"enable_migrate_on_startup"`
	EnableForeignKey       bool   `json:"enable_foreign_key" yaml:"enable_foreign_key"`
	ForeignKeyFile         string `json:"foreign_key_file" yaml:"foreign_key_file"`
}

// DataInitConfig controls seeding. Filepath is the seed root holding
// common/ and environments/<Environment>/.
type DataInitConfig struct {
	AutoInitOnStartup bool   `json:"auto_init_on_startup" yaml:"auto_init_on_startup"`
	Filepath          string `json:"filepath" yaml:"filepath"`
	Environment       string `json:"environment" yaml:"environment"`
}

type Config struct {
	ConnectionConfig  ConnectionConfig  `json:"connection_config" yaml:"connection"`
	DataMigrateConfig DataMigrateConfig `json:"data_migrate_config" yaml:"migrate"`
	DataInitConfig    DataInitConfig    `json:"data_init_config" yaml:"init"`
}

func DefaultConnectionConfig() *ConnectionConfig {
	return &ConnectionConfig{
		MaxIdleConns:        10,
		MaxOpenConns:        100,
		ConnMaxLifetime:     time.Hour,
		ConnMaxIdleTime:     30 * time.Minute,
		ConnectTimeout:      10 * time.Second,
		ReadTimeout:         30 * time.Second,
		WriteTimeout:        30 * time.Second,
		HealthCheckInterval: 5 * time.Minute,
		SlowQueryTime:       2 * time.Second,
	}
}

func DefaultConfig() *Config {
	return &Config{
		ConnectionConfig: *DefaultConnectionConfig(),
		DataInitConfig:   DataInitConfig{Filepath: defaultSeedRoot, Environment: "prod"},
	}
}

// LoadConfig reads a YAML file on top of DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML on top of DefaultConfig.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

type envSetter func(c *ConnectionConfig, v string) error

func setString(field func(*ConnectionConfig) *string) envSetter {
	return func(c *ConnectionConfig, v string) error {
		*field(c) = v
		return nil
	}
}

func setInt(field func(*ConnectionConfig) *int) envSetter {
	return func(c *ConnectionConfig, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

// setDuration accepts a Go duration or a whole number of seconds.
func setDuration(field func(*ConnectionConfig) *time.Duration) envSetter {
	return func(c *ConnectionConfig, v string) error {
		if n, err := strconv.Atoi(v); err == nil {
			*field(c) = time.Duration(n) * time.Second
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*field(c) = d
		return nil
	}
}

func setBool(field func(*ConnectionConfig) *bool) envSetter {
	return func(c *ConnectionConfig, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}

// EnvOverrides maps environment variables to the connection fields they
// replace. They exist so credentials can stay out of config files.
var EnvOverrides = []struct {
	Name string
	set  envSetter
}{
	{"DB_TYPE", setString(func(c *ConnectionConfig) *string { return &c.Type })},
	{"DB_DRIVER", setString(func(c *ConnectionConfig) *string { return &c.Driver })},
	{"DB_DSN", setString(func(c *ConnectionConfig) *string { return &c.DSN })},
	{"DB_HOST", setString(func(c *ConnectionConfig) *string { return &c.Host })},
	{"DB_PORT", setInt(func(c *ConnectionConfig) *int { return &c.Port })},
	{"DB_USERNAME", setString(func(c *ConnectionConfig) *string { return &c.Username })},
	{"DB_PASSWORD", setString(func(c *ConnectionConfig) *string { return &c.Password })},
	{"DB_NAME", setString(func(c *ConnectionConfig) *string { return &c.DBName })},
	{"DB_SSLMODE", setString(func(c *ConnectionConfig) *string { return &c.SSLMode })},
	{"DB_MAX_IDLE_CONNS", setInt(func(c *ConnectionConfig) *int { return &c.MaxIdleConns })},
	{"DB_MAX_OPEN_CONNS", setInt(func(c *ConnectionConfig) *int { return &c.MaxOpenConns })},
	{"DB_CONN_MAX_LIFETIME", setDuration(func(c *ConnectionConfig) *time.Duration { return &c.ConnMaxLifetime })},
	{"DB_ENABLE_QUERY_LOG", setBool(func(c *ConnectionConfig) *bool { return &c.EnableQueryLog })},
}

// ApplyEnv overrides cfg with every set variable of EnvOverrides. A value
// that does not parse is reported and leaves its field unchanged.
func ApplyEnv(cfg *ConnectionConfig) error {
	var errs []error
	for _, o := range EnvOverrides {
		v, ok := os.LookupEnv(o.Name)
		if !ok || v == "" {
			continue
		}
		if err := o.set(cfg, v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", o.Name, err))
		}
	}
	return errors.Join(errs...)
}
