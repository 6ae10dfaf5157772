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
	"fmt"
	"reflect"
	"strings"

	"github.com/uptrace/bun"
)

type eagerRepositoryImpl[T any] struct {
	*baseRepositoryImpl[T]
}

// NewEagerRepository returns a repository of T that can load relations
// together with the entities. Bun resolves belongs-to and has-one relations
// with a join and has-many and m2m relations with one query per relation, so
// the number of round trips does not grow with the number of related rows.
func NewEagerRepository[T any](uow *UnitOfWork) EagerRepository[T] {
	return &eagerRepositoryImpl[T]{newBaseRepository[T](uow)}
}

func withRelations(q *bun.SelectQuery, relations []string) *bun.SelectQuery {
	for _, relation := range relations {
		q = q.Relation(relation)
	}
	return q
}

func (r *eagerRepositoryImpl[T]) GetByIDWith(ctx context.Context, id any, relations ...string) (*T, error) {
	if err := r.uow.checkOpen(); err != nil {
		return nil, err
	}
	if err := r.checkRelations(relations); err != nil {
		return nil, err
	}
	entity := new(T)
	query, err := r.whereID(withRelations(r.uow.conn.NewSelect().Model(entity), relations), id)
	if err != nil {
		return nil, err
	}
	if err := query.Scan(ctx); err != nil {
		return nil, r.readError(id, err)
	}
	return r.attachGraph(entity, relations), nil
}

func (r *eagerRepositoryImpl[T]) GetAllWith(ctx context.Context, relations ...string) ([]*T, error) {
	if err := r.uow.checkOpen(); err != nil {
		return nil, err
	}
	if err := r.checkRelations(relations); err != nil {
		return nil, err
	}
	entities := make([]*T, 0)
	if err := withRelations(r.uow.conn.NewSelect().Model(&entities), relations).Scan(ctx); err != nil {
		return nil, r.readError(nil, err)
	}
	for i, entity := range entities {
		entities[i] = r.attachGraph(entity, relations)
	}
	return entities, nil
}

func (r *eagerRepositoryImpl[T]) Load(ctx context.Context, entity *T, relation string) error {
	if err := r.uow.checkOpen(); err != nil {
		return err
	}
	if entity == nil {
		return newError(KindValidation, r.name(), nil, errors.New("entity is nil"))
	}
	if err := r.checkRelations([]string{relation}); err != nil {
		return err
	}

	strct := reflect.ValueOf(entity).Elem()
	if !hasPrimaryKey(r.table, strct) {
		return newError(KindNotFound, r.name(), nil, errors.New("entity has no primary key"))
	}

	// load into a copy so pending in-memory changes on entity survive
	fresh := new(T)
	freshStrct := reflect.ValueOf(fresh).Elem()
	freshStrct.Set(strct)
	name := topRelation(relation)
	field := r.table.Relations[name].Field
	target := field.Value(freshStrct)
	target.Set(reflect.Zero(target.Type()))
	err := r.uow.conn.NewSelect().
		Model(fresh).
		WherePK().
		Relation(relation).
		Scan(ctx)
	if err != nil {
		return r.readError(primaryKey(r.table, strct), err)
	}

	field.Value(strct).Set(field.Value(freshStrct))
	r.attachRelated(strct, []string{name})
	return nil
}

func (r *eagerRepositoryImpl[T]) checkRelations(relations []string) error {
	for _, relation := range relations {
		if _, ok := r.table.Relations[topRelation(relation)]; !ok {
			return newError(KindValidation, r.name(), nil, fmt.Errorf("unknown relation %q", relation))
		}
	}
	return nil
}

// attachGraph attaches entity and the entities of its top-level relations.
// When entity's identity is already tracked the loaded relations are copied
// onto the tracked instance, which is returned.
func (r *eagerRepositoryImpl[T]) attachGraph(entity *T, relations []string) *T {
	tracked := r.uow.attach(r.table, entity).(*T)
	strct := reflect.ValueOf(tracked).Elem()
	names := topRelations(relations)
	if tracked != entity {
		loaded := reflect.ValueOf(entity).Elem()
		for _, name := range names {
			field := r.table.Relations[name].Field
			field.Value(strct).Set(field.Value(loaded))
		}
	}
	r.attachRelated(strct, names)
	return tracked
}

func (r *eagerRepositoryImpl[T]) attachRelated(strct reflect.Value, names []string) {
	for _, name := range names {
		rel := r.table.Relations[name]
		v := rel.Field.Value(strct)
		switch v.Kind() {
		case reflect.Ptr:
			if !v.IsNil() {
				v.Set(reflect.ValueOf(r.uow.attach(rel.JoinTable, v.Interface())))
			}
		case reflect.Slice:
			for i := 0; i < v.Len(); i++ {
				item := v.Index(i)
				if item.Kind() == reflect.Ptr && !item.IsNil() {
					item.Set(reflect.ValueOf(r.uow.attach(rel.JoinTable, item.Interface())))
				}
			}
		}
	}
}

func topRelation(relation string) string {
	name, _, _ := strings.Cut(relation, ".")
	return name
}

func topRelations(relations []string) []string {
	seen := make(map[string]struct{}, len(relations))
	names := make([]string, 0, len(relations))
	for _, relation := range relations {
		name := topRelation(relation)
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}
