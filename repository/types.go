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

	"github.com/uptrace/bun"

	"github.com/tomoncle/unitofwork/types"
)

// CrudRepository reads entities and stages changes to them. Nothing is
// written to the store before Save or UnitOfWork.Commit.
type CrudRepository[T any] interface {
	// GetAll returns every persisted entity, attached as Unchanged.
	GetAll(ctx context.Context) ([]*T, error)

	// GetByID returns the entity with the given primary key or a
	// KindNotFound error.
	GetByID(ctx context.Context, id any) (*T, error)

	// Add validates entity and stages it for insertion.
	Add(ctx context.Context, entity *T) error

	// Update stages an existing entity for update. It fails with
	// KindConcurrency when the stored version differs from the entity's.
	Update(ctx context.Context, entity *T) error

	// Delete stages entity for removal. It fails with
	// KindReferentialIntegrity when dependent rows block the delete.
	Delete(ctx context.Context, entity *T) error

	// DeleteByID loads the entity with the given key and stages its removal.
	DeleteByID(ctx context.Context, id any) error

	// Save commits the staged changes of this entity type atomically and
	// returns the number of affected rows.
	Save(ctx context.Context) (int64, error)
}

// QueryRepository provides filtered and paged reads.
type QueryRepository[T any] interface {
	List(ctx context.Context, filter *types.QueryFilter) ([]*T, error)
	Page(ctx context.Context, page *types.PageRequest) (*types.Pagination[T], error)
	Count(ctx context.Context) (int, error)
	Exists(ctx context.Context, id any) (bool, error)
}

// Repository is the generic repository of one entity type bound to a unit
// of work.
type Repository[T any] interface {
	CrudRepository[T]
	QueryRepository[T]

	// Entry returns the tracked state of entity.
	Entry(entity *T) EntityState

	// Detach stops tracking entity.
	Detach(entity *T)

	// UnitOfWork returns the unit of work the repository stages into.
	UnitOfWork() *UnitOfWork

	// NewSelect returns a select query on the unit of work's connection.
	// Rows it returns are not tracked.
	NewSelect() *bun.SelectQuery
}

// EagerRepository adds explicit relationship loading. Relations are named
// after the Go field of the Bun relation, e.g. "Posts" or "Posts.Tags".
type EagerRepository[T any] interface {
	Repository[T]

	// GetByIDWith returns the entity with the given relations populated.
	GetByIDWith(ctx context.Context, id any, relations ...string) (*T, error)

	// GetAllWith returns every entity with the given relations populated.
	GetAllWith(ctx context.Context, relations ...string) ([]*T, error)

	// Load fetches one relation into an already loaded entity, leaving its
	// column values untouched.
	Load(ctx context.Context, entity *T, relation string) error
}
