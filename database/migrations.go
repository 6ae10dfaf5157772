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
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"os"
	"reflect"
	"slices"
	"time"

	"github.com/uptrace/bun"
)

// BaseTablesVersion is the version under which the tables of registered
// models are created. Other migration versions should sort after it.
const BaseTablesVersion = "000"

// Migration is the record of an applied migration step.
type Migration struct {
	bun.BaseModel `bun:"table:bun_migrations"`

	Version   string    `bun:"version,pk"`
	Name      string    `bun:"name,notnull"`
	AppliedAt time.Time `bun:"applied_at,notnull"`
}

// MigrationFunc runs inside the step's transaction.
type MigrationFunc func(ctx context.Context, db bun.IDB) error

// MigrationStep is one versioned schema change. Down is optional; a step
// without it cannot be rolled back.
type MigrationStep struct {
	Version string
	Name    string
	Up      MigrationFunc
	Down    MigrationFunc
}

// Migrator applies migration steps in version order, each in its own
// transaction together with its record. The first step creates the tables
// of the registered models.
type Migrator struct {
	db     *bun.DB
	logger Logger
	models *ModelRegistry
	keys   *ForeignKeySet
	steps  []MigrationStep
}

func NewMigrator(db *bun.DB, logger Logger, models *ModelRegistry, keys *ForeignKeySet, steps ...MigrationStep) *Migrator {
	if models == nil {
		models = NewModelRegistry()
	}
	if keys == nil {
		keys = NewForeignKeySet()
	}
	if logger == nil {
		logger = NopLogger{}
	}
	return &Migrator{db: db, logger: logger, models: models, keys: keys, steps: steps}
}

func (m *Migrator) plan() []MigrationStep {
	steps := append([]MigrationStep{{
		Version: BaseTablesVersion,
		Name:    "create_base_tables",
		Up:      m.createTables,
		Down:    m.dropTables,
	}}, m.steps...)
	slices.SortStableFunc(steps, func(a, b MigrationStep) int { return cmp.Compare(a.Version, b.Version) })
	return steps
}

// Up applies every pending step. Statements are kept out of the query log
// unless QueryLogEnv is "2".
func (m *Migrator) Up(ctx context.Context) error {
	if os.Getenv(QueryLogEnv) != "2" {
		Mute(true)
		defer Mute(false)
	}

	if _, err := m.db.NewCreateTable().Model((*Migration)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	done, err := m.appliedVersions(ctx)
	if err != nil {
		return err
	}

	for _, step := range m.plan() {
		if done[step.Version] {
			continue
		}
		err := m.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			if step.Up != nil {
				if err := step.Up(ctx, tx); err != nil {
					return err
				}
			}
			rec := &Migration{Version: step.Version, Name: step.Name, AppliedAt: time.Now()}
			_, err := tx.NewInsert().Model(rec).Exec(ctx)
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %s (%s) failed: %w", step.Version, step.Name, err)
		}
		m.logger.Info("Migration applied", "version", step.Version, "name", step.Name)
	}
	return nil
}

// Down runs the Down function of an applied step and deletes its record.
// It returns an error wrapping sql.ErrNoRows when the step is not applied.
func (m *Migrator) Down(ctx context.Context, version string) error {
	i := slices.IndexFunc(m.plan(), func(s MigrationStep) bool { return s.Version == version })
	if i < 0 {
		return fmt.Errorf("unknown migration version: %s", version)
	}
	step := m.plan()[i]
	if step.Down == nil {
		return fmt.Errorf("migration %s has no down step", version)
	}

	done, err := m.appliedVersions(ctx)
	if err != nil {
		return err
	}
	if !done[version] {
		return fmt.Errorf("migration %s is not applied: %w", version, sql.ErrNoRows)
	}

	err = m.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := step.Down(ctx, tx); err != nil {
			return err
		}
		_, err := tx.NewDelete().Model((*Migration)(nil)).Where("version = ?", version).Exec(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("rollback of migration %s failed: %w", version, err)
	}
	m.logger.Info("Migration rolled back", "version", version, "name", step.Name)
	return nil
}

// Applied lists the applied steps by version.
func (m *Migrator) Applied(ctx context.Context) ([]Migration, error) {
	var records []Migration
	err := m.db.NewSelect().Model(&records).OrderExpr("version ASC").Scan(ctx)
	return records, err
}

func (m *Migrator) appliedVersions(ctx context.Context) (map[string]bool, error) {
	records, err := m.Applied(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read applied migrations: %w", err)
	}
	done := make(map[string]bool, len(records))
	for _, r := range records {
		done[r.Version] = true
	}
	return done, nil
}

func (m *Migrator) createTables(ctx context.Context, db bun.IDB) error {
	for _, model := range m.models.Models() {
		q := db.NewCreateTable().Model(model.Instance).IfNotExists()
		if table := db.Dialect().Tables().Get(reflect.TypeOf(model.Instance)); table != nil {
			q = m.keys.ApplyToCreateTable(q, table.Name)
		}
		if _, err := q.Exec(ctx); err != nil {
			return fmt.Errorf("failed to create table for %s: %w", model.Name(), err)
		}
	}
	return nil
}

// dropTables drops in reverse creation order so referencing tables go first.
func (m *Migrator) dropTables(ctx context.Context, db bun.IDB) error {
	models := m.models.Models()
	slices.Reverse(models)
	for _, model := range models {
		if _, err := db.NewDropTable().Model(model.Instance).IfExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to drop table for %s: %w", model.Name(), err)
		}
	}
	return nil
}
