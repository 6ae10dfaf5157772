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

package unitofwork

import (
	"context"

	"github.com/uptrace/bun"

	"github.com/tomoncle/unitofwork/repository"
	"github.com/tomoncle/unitofwork/types"
)

// Service is a repository facade for callers without a request scope: each
// call runs in a unit of work of its own, so writes are committed or rolled
// back before it returns.
type Service[T any] interface {
	Get(ctx context.Context, id any) (*T, error)
	All(ctx context.Context) ([]*T, error)
	List(ctx context.Context, filter *types.QueryFilter) ([]*T, error)
	// Page accepts a nil request; see repository.Repository.Page.
	Page(ctx context.Context, req *types.PageRequest) (*types.Pagination[T], error)

	// Create inserts all entities in one transaction.
	Create(ctx context.Context, entities ...*T) error
	Modify(ctx context.Context, entity *T) error
	Remove(ctx context.Context, id any) error
}

type service[T any] struct {
	db   *bun.DB
	opts []repository.Option
}

// NewService returns a Service over db. opts apply to every unit of work it
// starts.
func NewService[T any](db *bun.DB, opts ...repository.Option) Service[T] {
	return &service[T]{db: db, opts: opts}
}

type repoFunc[T any] func(ctx context.Context, repo repository.Repository[T]) error

func (s *service[T]) run(ctx context.Context, fn repoFunc[T]) error {
	return repository.Do(ctx, s.db, func(ctx context.Context, uow *repository.UnitOfWork) error {
		return fn(ctx, repository.NewRepository[T](uow))
	}, s.opts...)
}

func read[T, R any](ctx context.Context, s *service[T], fn func(context.Context, repository.Repository[T]) (R, error)) (R, error) {
	var out R
	err := s.run(ctx, func(ctx context.Context, repo repository.Repository[T]) (err error) {
		out, err = fn(ctx, repo)
		return err
	})
	return out, err
}

func (s *service[T]) Get(ctx context.Context, id any) (*T, error) {
	return read(ctx, s, func(ctx context.Context, repo repository.Repository[T]) (*T, error) {
		return repo.GetByID(ctx, id)
	})
}

func (s *service[T]) All(ctx context.Context) ([]*T, error) {
	return read(ctx, s, func(ctx context.Context, repo repository.Repository[T]) ([]*T, error) {
		return repo.GetAll(ctx)
	})
}

func (s *service[T]) List(ctx context.Context, filter *types.QueryFilter) ([]*T, error) {
	return read(ctx, s, func(ctx context.Context, repo repository.Repository[T]) ([]*T, error) {
		return repo.List(ctx, filter)
	})
}

func (s *service[T]) Page(ctx context.Context, req *types.PageRequest) (*types.Pagination[T], error) {
	return read(ctx, s, func(ctx context.Context, repo repository.Repository[T]) (*types.Pagination[T], error) {
		return repo.Page(ctx, req)
	})
}

func (s *service[T]) Create(ctx context.Context, entities ...*T) error {
	return s.run(ctx, func(ctx context.Context, repo repository.Repository[T]) error {
		for _, e := range entities {
			if err := repo.Add(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *service[T]) Modify(ctx context.Context, entity *T) error {
	return s.run(ctx, func(ctx context.Context, repo repository.Repository[T]) error {
		return repo.Update(ctx, entity)
	})
}

func (s *service[T]) Remove(ctx context.Context, id any) error {
	return s.run(ctx, func(ctx context.Context, repo repository.Repository[T]) error {
		return repo.DeleteByID(ctx, id)
	})
}
