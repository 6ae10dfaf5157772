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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomoncle/unitofwork/database"
)

func TestBeginRequiresDatabase(t *testing.T) {
	_, err := Begin(context.Background(), nil)
	require.Error(t, err)
}

func TestUnitOfWorkHoldsOneConnectionUntilClosed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.Equal(t, 0, env.db.Stats().InUse)

	uow, err := Begin(ctx, env.db, WithLogger(database.NopLogger{}))
	require.NoError(t, err)
	assert.NotEmpty(t, uow.ID())
	assert.Equal(t, 1, env.db.Stats().InUse)

	require.NoError(t, uow.Close())
	assert.Equal(t, 0, env.db.Stats().InUse)

	// idempotent
	require.NoError(t, uow.Close())

	_, err = NewRepository[author](uow).GetAll(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = uow.Commit(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, NewRepository[author](uow).Add(ctx, &author{Name: "late"}), ErrClosed)
}

func TestCloseDiscardsStagedChanges(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	uow := env.begin(t)
	a := &author{Name: "discarded"}
	require.NoError(t, NewRepository[author](uow).Add(ctx, a))
	require.NoError(t, uow.Close())

	assert.Equal(t, Detached, uow.State(a))
	assert.Equal(t, 0, env.countRows(t, (*author)(nil)))
}

func TestDoCommitsOnSuccess(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a := &author{Name: "done"}
	err := Do(ctx, env.db, func(ctx context.Context, uow *UnitOfWork) error {
		return NewRepository[author](uow).Add(ctx, a)
	}, WithLogger(database.NopLogger{}))
	require.NoError(t, err)

	assert.NotZero(t, a.ID)
	assert.Equal(t, 1, env.countRows(t, (*author)(nil)))
	assert.Equal(t, 0, env.db.Stats().InUse)
}

func TestDoReleasesConnectionOnErrorAndPanic(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := Do(ctx, env.db, func(ctx context.Context, uow *UnitOfWork) error {
		if err := NewRepository[author](uow).Add(ctx, &author{Name: "never"}); err != nil {
			return err
		}
		return boom
	}, WithLogger(database.NopLogger{}))
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, env.db.Stats().InUse)

	require.Panics(t, func() {
		_ = Do(ctx, env.db, func(ctx context.Context, uow *UnitOfWork) error {
			_ = NewRepository[author](uow).Add(ctx, &author{Name: "never"})
			panic("boom")
		}, WithLogger(database.NopLogger{}))
	})
	assert.Equal(t, 0, env.db.Stats().InUse)
	assert.Equal(t, 0, env.countRows(t, (*author)(nil)))
}

func TestCommitWithoutChangesIsNoop(t *testing.T) {
	env := newTestEnv(t)
	env.seedAuthor(t, "quiet")

	uow := env.begin(t)
	_, err := NewRepository[author](uow).GetAll(context.Background())
	require.NoError(t, err)
	env.queries.Reset()

	n, err := uow.Commit(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, env.queries.Total())
}

func TestCommitIsAtomic(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedAuthor(t, "taken")

	uow := env.begin(t)
	authors := NewRepository[author](uow)
	first := &author{Name: "fresh"}
	dup := &author{Name: "taken"}
	require.NoError(t, authors.Add(ctx, first))
	require.NoError(t, authors.Add(ctx, dup))

	_, err := uow.Commit(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistence)

	// nothing applied, entities back to their pre-commit values and states
	assert.Equal(t, 1, env.countRows(t, (*author)(nil)))
	assert.Zero(t, first.ID)
	assert.Zero(t, first.Version)
	assert.Equal(t, Added, uow.State(first))
	assert.Equal(t, Added, uow.State(dup))

	// fixing the failing entity lets the same unit of work commit
	dup.Name = "other"
	n, err := uow.Commit(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.Equal(t, 3, env.countRows(t, (*author)(nil)))
	assert.Equal(t, Detached, uow.State(first))
}

func TestCommitMixesInsertUpdateDelete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	keep := env.seedAuthor(t, "keep")
	drop := env.seedAuthor(t, "drop")

	uow := env.begin(t)
	authors := NewRepository[author](uow)
	loadedKeep, err := authors.GetByID(ctx, keep.ID)
	require.NoError(t, err)
	loadedKeep.Email = "keep@example.com"
	require.NoError(t, authors.DeleteByID(ctx, drop.ID))
	require.NoError(t, authors.Add(ctx, &author{Name: "new"}))

	assert.True(t, uow.HasChanges())
	assert.Equal(t, 3, uow.Pending())
	assert.Equal(t, Modified, uow.State(loadedKeep))

	n, err := uow.Commit(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	assert.False(t, uow.HasChanges())

	check := env.begin(t)
	all, err := NewRepository[author](check).GetAll(ctx)
	require.NoError(t, err)
	names := make([]string, 0, len(all))
	for _, a := range all {
		names = append(names, a.Name)
	}
	assert.ElementsMatch(t, []string{"keep", "new"}, names)
}

func TestDetachDropsPendingChange(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seeded := env.seedAuthor(t, "stay")

	uow := env.begin(t)
	authors := NewRepository[author](uow)
	a, err := authors.GetByID(ctx, seeded.ID)
	require.NoError(t, err)
	a.Name = "renamed"
	authors.Detach(a)
	assert.Equal(t, Detached, authors.Entry(a))

	n, err := uow.Commit(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	fresh, err := NewRepository[author](env.begin(t)).GetByID(ctx, seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, "stay", fresh.Name)
}

func TestSaveCommitsOnlyItsEntityType(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seeded := env.seedAuthor(t, "writer")

	uow := env.begin(t)
	authors := NewRepository[author](uow)
	notes := NewRepository[note](uow)

	a, err := authors.GetByID(ctx, seeded.ID)
	require.NoError(t, err)
	a.Email = "writer@example.com"
	require.NoError(t, authors.Update(ctx, a))
	n := &note{AuthorID: a.ID, Body: "draft"}
	require.NoError(t, notes.Add(ctx, n))

	affected, err := notes.Save(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, affected)
	assert.Equal(t, Detached, uow.State(n))
	assert.Equal(t, Modified, uow.State(a))

	affected, err = authors.Save(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, affected)
	assert.EqualValues(t, 2, a.Version)
}

func TestConcurrentUpdateIsRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seeded := env.seedAuthor(t, "shared")

	first := env.begin(t)
	second := env.begin(t)
	mine, err := NewRepository[author](first).GetByID(ctx, seeded.ID)
	require.NoError(t, err)
	theirs, err := NewRepository[author](second).GetByID(ctx, seeded.ID)
	require.NoError(t, err)

	theirs.Email = "theirs@example.com"
	_, err = second.Commit(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, theirs.Version)

	// explicit Update compares versions right away
	mine.Email = "mine@example.com"
	err = NewRepository[author](first).Update(ctx, mine)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConcurrency)
	assert.True(t, IsKind(err, KindConcurrency))

	// in-place changes are caught by the guarded update at commit
	_, err = first.Commit(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConcurrency)
	assert.EqualValues(t, 1, mine.Version)

	fresh, err := NewRepository[author](env.begin(t)).GetByID(ctx, seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, "theirs@example.com", fresh.Email)
}

func TestRemovingReferencedRowIsRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.seedAuthor(t, "prolific")
	env.seedBooks(t, a.ID, 2)

	uow := env.begin(t)
	err := NewRepository[author](uow).DeleteByID(ctx, a.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrReferentialIntegrity)
	assert.Equal(t, 0, uow.Pending())

	// removing the dependents first in the same unit of work unblocks it
	books := NewRepository[book](uow)
	all, err := books.GetAll(ctx)
	require.NoError(t, err)
	for _, b := range all {
		require.NoError(t, books.Delete(ctx, b))
	}
	require.NoError(t, NewRepository[author](uow).DeleteByID(ctx, a.ID))

	_, err = uow.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, env.countRows(t, (*author)(nil)))
	assert.Equal(t, 0, env.countRows(t, (*book)(nil)))
}

func TestCascadingDependentsDoNotBlockRemoval(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.seedAuthor(t, "noted")

	err := Do(ctx, env.db, func(ctx context.Context, uow *UnitOfWork) error {
		return NewRepository[note](uow).Add(ctx, &note{AuthorID: a.ID, Body: "n"})
	}, WithLogger(database.NopLogger{}))
	require.NoError(t, err)

	uow := env.begin(t)
	require.NoError(t, NewRepository[author](uow).DeleteByID(ctx, a.ID))
	_, err = uow.Commit(ctx)
	require.NoError(t, err)

	assert.Equal(t, 0, env.countRows(t, (*note)(nil)))
}

func TestForeignKeyViolationAtCommit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	uow := env.begin(t)
	orphan := &book{AuthorID: 4242, Title: "orphan"}
	require.NoError(t, NewRepository[book](uow).Add(ctx, orphan))

	_, err := uow.Commit(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrReferentialIntegrity)
	assert.Zero(t, orphan.ID)
	assert.Equal(t, Added, uow.State(orphan))
}

func TestPendingDetectsInPlaceMutation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seeded := env.seedAuthor(t, "plain")

	uow := env.begin(t)
	a, err := NewRepository[author](uow).GetByID(ctx, seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, Unchanged, uow.State(a))
	assert.False(t, uow.HasChanges())

	a.Email = "plain@example.com"
	assert.True(t, uow.HasChanges())
	assert.Equal(t, Modified, uow.State(a))
}
