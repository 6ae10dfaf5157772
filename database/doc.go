// Package database provides connection management for MySQL, PostgreSQL and
// SQLite through Bun, together with table creation and versioned migrations,
// configurable foreign keys, SQL seed files, query hooks and the driver error
// classifier used to map store failures onto repository errors.
package database
