// Package repository provides a unit of work over a Bun database and generic
// repositories that stage changes into it.
//
// A UnitOfWork holds one dedicated connection and a change tracker shared by
// every repository created on it. Reads attach entities as Unchanged; Add,
// Update and Delete stage changes; Commit (or a repository's Save) writes
// them in a single transaction, all or nothing. Models with an integer
// "version" column get optimistic concurrency checks.
//
//	err := repository.Do(ctx, db, func(ctx context.Context, uow *repository.UnitOfWork) error {
//		blogs := repository.NewRepository[Blog](uow)
//		return blogs.Add(ctx, &Blog{Name: "A"})
//	})
package repository
