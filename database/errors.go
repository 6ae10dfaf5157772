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
	"database/sql"
	"errors"
	"slices"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// ErrorClass is the dialect-independent category of a store error.
type ErrorClass int

const (
	ClassUnknown ErrorClass = iota
	ClassNoRows
	ClassMissingTable
	ClassMissingColumn
	ClassMissingIndex
	ClassTableExists
	ClassColumnExists
	ClassIndexExists
	ClassUniqueViolation
	ClassNotNullViolation
	ClassForeignKeyViolation
	ClassCheckViolation
	ClassTruncation
	ClassTypeMismatch
)

// classRule describes how each driver reports one class. Messages is a list
// of alternatives; every fragment of an alternative must appear in the
// lowercased message. SQLite reports constraint failures only as text.
type classRule struct {
	class    ErrorClass
	name     string
	sqlState []string
	mysql    []uint16
	messages [][]string
}

// Order matters for message matching: the more specific rules come first.
var classRules = []classRule{
	{class: ClassNoRows, name: "no_rows"},
	{
		class: ClassMissingColumn, name: "missing_column",
		sqlState: []string{"42703"}, mysql: []uint16{1054},
		messages: [][]string{{"no such column"}, {"undefined column"}},
	},
	{
		class: ClassMissingIndex, name: "missing_index",
		sqlState: []string{"42704"}, mysql: []uint16{1091},
		messages: [][]string{{"no such index"}, {"index", "does not exist"}},
	},
	{
		class: ClassMissingTable, name: "missing_table",
		sqlState: []string{"42P01"}, mysql: []uint16{1146},
		messages: [][]string{{"no such table"}, {"undefined table"}},
	},
	{
		class: ClassIndexExists, name: "index_exists",
		mysql:    []uint16{1061},
		messages: [][]string{{"index", "already exists"}},
	},
	{
		class: ClassColumnExists, name: "column_exists",
		sqlState: []string{"42701"}, mysql: []uint16{1060},
		messages: [][]string{{"duplicate column name"}},
	},
	{
		class: ClassTableExists, name: "table_exists",
		sqlState: []string{"42P07"}, mysql: []uint16{1050},
		messages: [][]string{{"table", "already exists"}, {"relation", "already exists"}},
	},
	{
		class: ClassUniqueViolation, name: "unique_violation",
		sqlState: []string{"23505"}, mysql: []uint16{1062},
		messages: [][]string{{"unique constraint failed"}, {"duplicate key value"}},
	},
	{
		class: ClassNotNullViolation, name: "not_null_violation",
		sqlState: []string{"23502"}, mysql: []uint16{1048},
		messages: [][]string{{"not null constraint failed"}, {"not-null constraint"}},
	},
	{
		class: ClassForeignKeyViolation, name: "foreign_key_violation",
		sqlState: []string{"23503"}, mysql: []uint16{1216, 1217, 1451, 1452},
		messages: [][]string{{"foreign key constraint failed"}, {"foreign key violation"}},
	},
	{
		class: ClassCheckViolation, name: "check_violation",
		sqlState: []string{"23514"}, mysql: []uint16{3819},
		messages: [][]string{{"check constraint"}},
	},
	{
		class: ClassTruncation, name: "truncation",
		sqlState: []string{"22001"}, mysql: []uint16{1265, 1406},
		messages: [][]string{{"data truncated"}, {"right truncation"}},
	},
	{
		class: ClassTypeMismatch, name: "type_mismatch",
		sqlState: []string{"42804"},
		messages: [][]string{{"datatype mismatch"}},
	},
}

func (c ErrorClass) String() string {
	for _, rule := range classRules {
		if rule.class == c {
			return rule.name
		}
	}
	return "unknown"
}

// Classify reports whether err was raised by the store and, if so, its class.
// Store errors with an unrecognised code are (ClassUnknown, true).
func Classify(err error) (ErrorClass, bool) {
	if err == nil {
		return ClassUnknown, false
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ClassNoRows, true
	}

	var (
		pqErr    *pq.Error
		pgErr    *pgconn.PgError
		mysqlErr *mysql.MySQLError
	)
	switch {
	case errors.As(err, &pqErr):
		return bySQLState(string(pqErr.Code)), true
	case errors.As(err, &pgErr):
		return bySQLState(pgErr.Code), true
	case errors.As(err, &mysqlErr):
		for _, rule := range classRules {
			if slices.Contains(rule.mysql, mysqlErr.Number) {
				return rule.class, true
			}
		}
		return ClassUnknown, true
	}

	msg := strings.ToLower(err.Error())
	for _, rule := range classRules {
		if matchesMessage(msg, rule.messages) {
			return rule.class, true
		}
	}
	// pgx text errors carry the code as "(SQLSTATE 23505)"
	if _, code, ok := strings.Cut(msg, "sqlstate "); ok && len(code) >= 5 {
		if class := bySQLState(strings.ToUpper(code[:5])); class != ClassUnknown {
			return class, true
		}
	}
	return ClassUnknown, false
}

func bySQLState(code string) ErrorClass {
	for _, rule := range classRules {
		if slices.Contains(rule.sqlState, code) {
			return rule.class
		}
	}
	return ClassUnknown
}

func matchesMessage(msg string, alternatives [][]string) bool {
	for _, fragments := range alternatives {
		if len(fragments) > 0 && allContained(msg, fragments) {
			return true
		}
	}
	return false
}

func allContained(msg string, fragments []string) bool {
	for _, f := range fragments {
		if !strings.Contains(msg, f) {
			return false
		}
	}
	return true
}
