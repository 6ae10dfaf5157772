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
	"database/sql"
	"errors"
	"fmt"
	"reflect"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/schema"

	"github.com/tomoncle/unitofwork/types"
)

type baseRepositoryImpl[T any] struct {
	uow   *UnitOfWork
	table *schema.Table
}

// NewRepository returns the generic repository of T staging into uow.
func NewRepository[T any](uow *UnitOfWork) Repository[T] {
	return newBaseRepository[T](uow)
}

func newBaseRepository[T any](uow *UnitOfWork) *baseRepositoryImpl[T] {
	return &baseRepositoryImpl[T]{
		uow:   uow,
		table: uow.table(reflect.TypeFor[T]()),
	}
}

func (r *baseRepositoryImpl[T]) name() string { return r.table.Type.Name() }

func (r *baseRepositoryImpl[T]) UnitOfWork() *UnitOfWork { return r.uow }

func (r *baseRepositoryImpl[T]) NewSelect() *bun.SelectQuery { return r.uow.conn.NewSelect() }

func (r *baseRepositoryImpl[T]) Entry(entity *T) EntityState { return r.uow.State(entity) }

func (r *baseRepositoryImpl[T]) Detach(entity *T) { r.uow.Detach(entity) }

func (r *baseRepositoryImpl[T]) whereID(q *bun.SelectQuery, id any) (*bun.SelectQuery, error) {
	if len(r.table.PKs) != 1 {
		return nil, fmt.Errorf("%s: lookup by id needs a single-column primary key, got %d", r.name(), len(r.table.PKs))
	}
	return q.Where("?TableAlias.? = ?", bun.Ident(r.table.PKs[0].Name), id), nil
}

func (r *baseRepositoryImpl[T]) wherePK(q *bun.SelectQuery, strct reflect.Value) *bun.SelectQuery {
	for _, pk := range r.table.PKs {
		q = q.Where("?TableAlias.? = ?", bun.Ident(pk.Name), pk.Value(strct).Interface())
	}
	return q
}

func (r *baseRepositoryImpl[T]) readError(id any, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return newError(KindNotFound, r.name(), id, nil)
	}
	return newError(KindPersistence, r.name(), id, err)
}

func (r *baseRepositoryImpl[T]) attachAll(entities []*T) []*T {
	for i, entity := range entities {
		entities[i] = r.uow.attach(r.table, entity).(*T)
	}
	return entities
}

func (r *baseRepositoryImpl[T]) GetAll(ctx context.Context) ([]*T, error) {
	if err := r.uow.checkOpen(); err != nil {
		return nil, err
	}
	entities := make([]*T, 0)
	if err := r.uow.conn.NewSelect().Model(&entities).Scan(ctx); err != nil {
		return nil, r.readError(nil, err)
	}
	return r.attachAll(entities), nil
}

func (r *baseRepositoryImpl[T]) GetByID(ctx context.Context, id any) (*T, error) {
	if err := r.uow.checkOpen(); err != nil {
		return nil, err
	}
	entity := new(T)
	query, err := r.whereID(r.uow.conn.NewSelect().Model(entity), id)
	if err != nil {
		return nil, err
	}
	if err := query.Scan(ctx); err != nil {
		return nil, r.readError(id, err)
	}
	return r.uow.attach(r.table, entity).(*T), nil
}

func (r *baseRepositoryImpl[T]) List(ctx context.Context, filter *types.QueryFilter) ([]*T, error) {
	if err := r.uow.checkOpen(); err != nil {
		return nil, err
	}
	entities := make([]*T, 0)
	query := r.uow.conn.NewSelect().Model(&entities)
	if !filter.Empty() {
		query = query.Where(filter.Schema, filter.Args...)
	}
	if err := query.Scan(ctx); err != nil {
		return nil, r.readError(nil, err)
	}
	return r.attachAll(entities), nil
}

// Page returns one page of rows and the filtered total. A nil request is the
// first page of types.DefaultPageSize rows. Without explicit orders rows
// come in primary key order so consecutive pages do not overlap.
func (r *baseRepositoryImpl[T]) Page(ctx context.Context, req *types.PageRequest) (*types.Pagination[T], error) {
	if err := r.uow.checkOpen(); err != nil {
		return nil, err
	}
	var entities []*T
	query := r.uow.conn.NewSelect().Model(&entities)
	if f := req.Filter(); !f.Empty() {
		query = query.Where(f.Schema, f.Args...)
	}
	page := types.NewPagination[T](req)
	total, err := query.Count(ctx)
	if err != nil {
		return nil, r.readError(nil, err)
	}
	if total == 0 {
		return page, nil
	}

	if orders := req.Orders(); len(orders) > 0 {
		query = query.Order(orders...)
	} else {
		for _, pk := range r.table.PKs {
			query = query.OrderExpr("?TableAlias.? ASC", bun.Ident(pk.Name))
		}
	}
	if err := query.Offset(req.Offset()).Limit(req.Size()).Scan(ctx); err != nil {
		return nil, r.readError(nil, err)
	}
	page.Total = total
	page.Items = r.attachAll(entities)
	return page, nil
}

func (r *baseRepositoryImpl[T]) Count(ctx context.Context) (int, error) {
	if err := r.uow.checkOpen(); err != nil {
		return 0, err
	}
	n, err := r.uow.conn.NewSelect().Model((*T)(nil)).Count(ctx)
	if err != nil {
		return 0, r.readError(nil, err)
	}
	return n, nil
}

func (r *baseRepositoryImpl[T]) Exists(ctx context.Context, id any) (bool, error) {
	if err := r.uow.checkOpen(); err != nil {
		return false, err
	}
	query, err := r.whereID(r.uow.conn.NewSelect().Model((*T)(nil)), id)
	if err != nil {
		return false, err
	}
	ok, err := query.Exists(ctx)
	if err != nil {
		return false, r.readError(id, err)
	}
	return ok, nil
}

func (r *baseRepositoryImpl[T]) Add(ctx context.Context, entity *T) error {
	if err := r.uow.checkOpen(); err != nil {
		return err
	}
	if entity == nil {
		return newError(KindValidation, r.name(), nil, errors.New("entity is nil"))
	}

	switch state := r.uow.State(entity); state {
	case Added:
		return nil
	case Unchanged, Modified:
		return newError(KindValidation, r.name(), primaryKey(r.table, reflect.ValueOf(entity).Elem()),
			fmt.Errorf("entity is already tracked as %s", state))
	case Deleted:
		// re-adding a removed entity cancels the removal
		return r.uow.stage(r.table, entity, Unchanged)
	}

	if err := r.uow.validateEntity(ctx, r.table, entity); err != nil {
		return err
	}
	return r.uow.stage(r.table, entity, Added)
}

func (r *baseRepositoryImpl[T]) Update(ctx context.Context, entity *T) error {
	if err := r.uow.checkOpen(); err != nil {
		return err
	}
	if entity == nil {
		return newError(KindValidation, r.name(), nil, errors.New("entity is nil"))
	}

	strct := reflect.ValueOf(entity).Elem()
	switch r.uow.State(entity) {
	case Added:
		return r.uow.validateEntity(ctx, r.table, entity)
	case Deleted:
		return newError(KindValidation, r.name(), primaryKey(r.table, strct), errors.New("entity is staged for removal"))
	}

	if !hasPrimaryKey(r.table, strct) {
		return newError(KindNotFound, r.name(), nil, errors.New("entity has no primary key"))
	}
	if err := r.uow.validateEntity(ctx, r.table, entity); err != nil {
		return err
	}
	if err := r.checkStored(ctx, strct); err != nil {
		return err
	}
	return r.uow.stage(r.table, entity, Modified)
}

func (r *baseRepositoryImpl[T]) Delete(ctx context.Context, entity *T) error {
	if err := r.uow.checkOpen(); err != nil {
		return err
	}
	if entity == nil {
		return newError(KindValidation, r.name(), nil, errors.New("entity is nil"))
	}

	switch r.uow.State(entity) {
	case Added:
		r.uow.Detach(entity)
		return nil
	case Deleted:
		return nil
	}

	strct := reflect.ValueOf(entity).Elem()
	if !hasPrimaryKey(r.table, strct) {
		return newError(KindNotFound, r.name(), nil, errors.New("entity has no primary key"))
	}
	if err := r.checkStored(ctx, strct); err != nil {
		return err
	}
	if err := r.checkDependents(ctx, strct); err != nil {
		return err
	}
	return r.uow.stage(r.table, entity, Deleted)
}

func (r *baseRepositoryImpl[T]) DeleteByID(ctx context.Context, id any) error {
	entity, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return r.Delete(ctx, entity)
}

func (r *baseRepositoryImpl[T]) Save(ctx context.Context) (int64, error) {
	return r.uow.commit(ctx, matchTable(r.table))
}

// checkStored verifies the row of strct exists and, for versioned models,
// still carries the entity's version.
func (r *baseRepositoryImpl[T]) checkStored(ctx context.Context, strct reflect.Value) error {
	id := primaryKey(r.table, strct)
	query := r.wherePK(r.uow.conn.NewSelect().Model((*T)(nil)), strct)

	version := versionField(r.table)
	if version == nil {
		exists, err := query.Exists(ctx)
		if err != nil {
			return r.readError(id, err)
		}
		if !exists {
			return newError(KindNotFound, r.name(), id, nil)
		}
		return nil
	}

	var stored int64
	if err := query.Column(version.Name).Limit(1).Scan(ctx, &stored); err != nil {
		return r.readError(id, err)
	}
	if current := getVersion(version, strct); stored != current {
		return newError(KindConcurrency, r.name(), id,
			fmt.Errorf("stored version %d, entity version %d", stored, current))
	}
	return nil
}

// checkDependents rejects the removal while rows of another table still
// reference strct through a constraint the database would not resolve on
// its own. Dependents already staged for removal do not count.
func (r *baseRepositoryImpl[T]) checkDependents(ctx context.Context, strct reflect.Value) error {
	id := primaryKey(r.table, strct)
	for _, fk := range r.uow.foreignKeys.Referencing(r.table.Name) {
		if fk.RemovesDependents() {
			continue
		}
		field, ok := r.table.FieldMap[fk.ReferenceColumn]
		if !ok {
			continue
		}

		query := r.uow.conn.NewSelect().
			TableExpr("?", bun.Ident(fk.Table)).
			ColumnExpr("count(*)").
			Where("? = ?", bun.Ident(fk.Column), field.Value(strct).Interface())
		if column, keys := r.uow.deletedKeys(fk.Table); len(keys) > 0 {
			query = query.Where("? NOT IN (?)", bun.Ident(column), bun.In(keys))
		}

		var n int
		if err := query.Scan(ctx, &n); err != nil {
			return newError(KindPersistence, r.name(), id, err)
		}
		if n > 0 {
			return newError(KindReferentialIntegrity, r.name(), id,
				fmt.Errorf("%d row(s) in %s reference it through %s", n, fk.Table, fk.ConstraintName()))
		}
	}
	return nil
}
