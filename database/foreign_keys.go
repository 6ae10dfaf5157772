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
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/uptrace/bun"
	"gopkg.in/yaml.v3"
)

// Referential actions accepted in OnDelete and OnUpdate.
const (
	ActionCascade    = "CASCADE"
	ActionRestrict   = "RESTRICT"
	ActionSetNull    = "SET NULL"
	ActionSetDefault = "SET DEFAULT"
	ActionNoAction   = "NO ACTION"
)

var referentialActions = []string{ActionCascade, ActionRestrict, ActionSetNull, ActionSetDefault, ActionNoAction}

// ForeignKey declares that Table.Column references
// ReferenceTable.ReferenceColumn. The yaml tags match the foreign key file.
type ForeignKey struct {
	Name            string `yaml:"constraint_name,omitempty"`
	Table           string `yaml:"table"`
	Column          string `yaml:"column"`
	ReferenceTable  string `yaml:"reference_table"`
	ReferenceColumn string `yaml:"reference_column"`
	OnDelete        string `yaml:"on_delete,omitempty"`
	OnUpdate        string `yaml:"on_update,omitempty"`
}

// ConstraintName returns Name, or fk_<table>_<column> when it is empty.
func (fk ForeignKey) ConstraintName() string {
	if fk.Name != "" {
		return fk.Name
	}
	return "fk_" + fk.Table + "_" + fk.Column
}

// String renders the relationship, e.g. "posts.blog_id -> blogs.id".
func (fk ForeignKey) String() string {
	return fmt.Sprintf("%s.%s -> %s.%s", fk.Table, fk.Column, fk.ReferenceTable, fk.ReferenceColumn)
}

// RemovesDependents reports whether deleting a referenced row is resolved by
// the database itself (cascade delete or resetting the reference).
func (fk ForeignKey) RemovesDependents() bool {
	switch normalizeAction(fk.OnDelete) {
	case ActionCascade, ActionSetNull, ActionSetDefault:
		return true
	}
	return false
}

// Validate reports missing names and unknown actions.
func (fk ForeignKey) Validate() error {
	var errs []error
	required := [][2]string{
		{"table", fk.Table},
		{"column", fk.Column},
		{"reference_table", fk.ReferenceTable},
		{"reference_column", fk.ReferenceColumn},
	}
	for _, f := range required {
		if f[1] == "" {
			errs = append(errs, fmt.Errorf("foreign key %s: %s is empty", fk.ConstraintName(), f[0]))
		}
	}
	for _, f := range [][2]string{{"on_delete", fk.OnDelete}, {"on_update", fk.OnUpdate}} {
		if f[1] != "" && !slices.Contains(referentialActions, normalizeAction(f[1])) {
			errs = append(errs, fmt.Errorf("foreign key %s: invalid %s action %q", fk.ConstraintName(), f[0], f[1]))
		}
	}
	return errors.Join(errs...)
}

// actions renders the ON DELETE / ON UPDATE suffix of the constraint.
func (fk ForeignKey) actions() string {
	var sb strings.Builder
	if fk.OnDelete != "" {
		sb.WriteString(" ON DELETE " + normalizeAction(fk.OnDelete))
	}
	if fk.OnUpdate != "" {
		sb.WriteString(" ON UPDATE " + normalizeAction(fk.OnUpdate))
	}
	return sb.String()
}

func normalizeAction(action string) string {
	return strings.Join(strings.Fields(strings.ToUpper(action)), " ")
}

// ForeignKeySet holds the foreign keys of a schema. Tables use them in
// CREATE TABLE and the unit of work consults them before staging deletes.
// It is safe for concurrent use.
type ForeignKeySet struct {
	mu   sync.RWMutex
	keys []ForeignKey
}

func NewForeignKeySet(keys ...ForeignKey) *ForeignKeySet {
	s := &ForeignKeySet{}
	s.Add(keys...)
	return s
}

// Add registers keys; a key with the same constraint name replaces the
// earlier one.
func (s *ForeignKeySet) Add(keys ...ForeignKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		i := slices.IndexFunc(s.keys, func(o ForeignKey) bool { return o.ConstraintName() == k.ConstraintName() })
		if i >= 0 {
			s.keys[i] = k
		} else {
			s.keys = append(s.keys, k)
		}
	}
}

// All returns a copy of every key.
func (s *ForeignKeySet) All() []ForeignKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.keys)
}

func (s *ForeignKeySet) filter(match func(ForeignKey) bool) []ForeignKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ForeignKey
	for _, k := range s.keys {
		if match(k) {
			out = append(out, k)
		}
	}
	return out
}

// DeclaredOn returns the keys whose columns live in table.
func (s *ForeignKeySet) DeclaredOn(table string) []ForeignKey {
	return s.filter(func(k ForeignKey) bool { return strings.EqualFold(k.Table, table) })
}

// Referencing returns the keys pointing at table, i.e. the tables holding
// rows that depend on it.
func (s *ForeignKeySet) Referencing(table string) []ForeignKey {
	return s.filter(func(k ForeignKey) bool { return strings.EqualFold(k.ReferenceTable, table) })
}

// Validate checks every key.
func (s *ForeignKeySet) Validate() error {
	var errs []error
	for _, k := range s.All() {
		errs = append(errs, k.Validate())
	}
	return errors.Join(errs...)
}

// ApplyToCreateTable adds a FOREIGN KEY clause to q for every key declared on
// table.
func (s *ForeignKeySet) ApplyToCreateTable(q *bun.CreateTableQuery, table string) *bun.CreateTableQuery {
	for _, k := range s.DeclaredOn(table) {
		q = q.ForeignKey("(?) REFERENCES ? (?)"+k.actions(),
			bun.Ident(k.Column), bun.Ident(k.ReferenceTable), bun.Ident(k.ReferenceColumn))
	}
	return q
}

type foreignKeyFile struct {
	ForeignKeys []ForeignKey `yaml:"foreign_keys"`
}

// LoadForeignKeys reads a foreign key file:
//
//	foreign_keys:
//	  - table: posts
//	    column: blog_id
//	    reference_table: blogs
//	    reference_column: id
//	    on_delete: RESTRICT
func LoadForeignKeys(path string) ([]ForeignKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read foreign key file: %w", err)
	}
	var file foreignKeyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse foreign key file %s: %w", path, err)
	}
	return file.ForeignKeys, nil
}

// SaveForeignKeys writes keys in the LoadForeignKeys format, creating parent
// directories.
func SaveForeignKeys(path string, keys []ForeignKey) error {
	data, err := yaml.Marshal(foreignKeyFile{ForeignKeys: keys})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
