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

package repository

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"github.com/tomoncle/unitofwork/database"
)

type author struct {
	bun.BaseModel `bun:"table:authors,alias:a"`

	ID      int64   `bun:"id,pk,autoincrement"`
	Name    string  `bun:"name,notnull,unique" validate:"required"`
	Email   string  `bun:"email" validate:"omitempty,email"`
	Version int64   `bun:"version,notnull"`
	Books   []*book `bun:"rel:has-many,join:id=author_id"`
}

type book struct {
	bun.BaseModel `bun:"table:books,alias:bk"`

	ID       int64   `bun:"id,pk,autoincrement"`
	AuthorID int64   `bun:"author_id,notnull"`
	Title    string  `bun:"title,notnull" validate:"required"`
	Author   *author `bun:"rel:belongs-to,join:author_id=id"`
}

// note has no version column and is removed with its author.
type note struct {
	bun.BaseModel `bun:"table:notes,alias:n"`

	ID       int64  `bun:"id,pk,autoincrement"`
	AuthorID int64  `bun:"author_id,notnull"`
	Body     string `bun:"body"`
}

func testForeignKeys() []database.ForeignKey {
	return []database.ForeignKey{
		{Table: "books", Column: "author_id", ReferenceTable: "authors", ReferenceColumn: "id", OnDelete: database.ActionRestrict},
		{Table: "notes", Column: "author_id", ReferenceTable: "authors", ReferenceColumn: "id", OnDelete: database.ActionCascade},
	}
}

type testEnv struct {
	db          *bun.DB
	foreignKeys *database.ForeignKeySet
	queries     *database.QueryCounter
}

// newTestEnv opens a private shared-cache in-memory SQLite database with the
// test tables created.
func newTestEnv(t testing.TB) *testEnv {
	t.Helper()
	ctx := context.Background()

	cfg := database.DefaultConnectionConfig()
	cfg.Type = database.TypeSQLite
	cfg.DSN = fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	cfg.HealthCheckInterval = 0
	cfg.SlowQueryTime = 0

	queries := database.NewQueryCounter()
	fks := database.NewForeignKeySet(testForeignKeys()...)
	m := database.NewManager(cfg,
		database.WithLogger(database.NopLogger{}),
		database.WithModels(database.NewModelRegistry(
			database.NewModel((*author)(nil), 10),
			database.NewModel((*book)(nil), 20),
			database.NewModel((*note)(nil), 20),
		)),
		database.WithForeignKeys(fks),
		database.WithQueryHooks(queries),
	)
	require.NoError(t, m.Connect(ctx))
	t.Cleanup(func() { _ = m.Close() })
	require.NoError(t, m.RunMigrations(ctx))
	queries.Reset()

	return &testEnv{db: m.DB(), foreignKeys: fks, queries: queries}
}

func (env *testEnv) begin(t testing.TB) *UnitOfWork {
	t.Helper()
	uow, err := Begin(context.Background(), env.db,
		WithLogger(database.NopLogger{}),
		WithForeignKeys(env.foreignKeys))
	require.NoError(t, err)
	t.Cleanup(func() { _ = uow.Close() })
	return uow
}

// seedAuthor commits an author in its own unit of work.
func (env *testEnv) seedAuthor(t testing.TB, name string) *author {
	t.Helper()
	uow := env.begin(t)
	a := &author{Name: name}
	require.NoError(t, NewRepository[author](uow).Add(context.Background(), a))
	_, err := uow.Commit(context.Background())
	require.NoError(t, err)
	require.NoError(t, uow.Close())
	return a
}

func (env *testEnv) seedBooks(t testing.TB, authorID int64, n int) {
	t.Helper()
	uow := env.begin(t)
	books := NewRepository[book](uow)
	for i := 0; i < n; i++ {
		require.NoError(t, books.Add(context.Background(), &book{AuthorID: authorID, Title: fmt.Sprintf("book-%d", i)}))
	}
	_, err := uow.Commit(context.Background())
	require.NoError(t, err)
	require.NoError(t, uow.Close())
}

func (env *testEnv) countRows(t testing.TB, model any) int {
	t.Helper()
	n, err := env.db.NewSelect().Model(model).Count(context.Background())
	require.NoError(t, err)
	return n
}
