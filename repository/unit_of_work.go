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
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/schema"

	"github.com/tomoncle/unitofwork/database"
)

var (
	defaultValidate = validator.New(validator.WithRequiredStructEnabled())
	defaultLogger   = sync.OnceValue(func() database.Logger {
		return database.NewLogger("UNIT_OF_WORK")
	})
)

// Option configures a UnitOfWork.
type Option func(*UnitOfWork)

// WithLogger sets the logger used for staging and commit events.
func WithLogger(logger database.Logger) Option {
	return func(u *UnitOfWork) {
		if logger != nil {
			u.logger = logger
		}
	}
}

// WithForeignKeys sets the constraints consulted when a delete is staged.
func WithForeignKeys(keys *database.ForeignKeySet) Option {
	return func(u *UnitOfWork) { u.foreignKeys = keys }
}

// WithTxOptions sets the options of the commit transaction.
func WithTxOptions(opts *sql.TxOptions) Option {
	return func(u *UnitOfWork) { u.txOptions = opts }
}

// WithValidator replaces the validator applied on Add and Update.
func WithValidator(v *validator.Validate) Option {
	return func(u *UnitOfWork) {
		if v != nil {
			u.validate = v
		}
	}
}

// UnitOfWork owns one store connection and the change tracker shared by all
// repositories created on it. It is meant for a single request scope and is
// not safe for concurrent mutation of the same tracked instances.
type UnitOfWork struct {
	id          string
	db          *bun.DB
	conn        bun.Conn
	logger      database.Logger
	foreignKeys *database.ForeignKeySet
	txOptions   *sql.TxOptions
	validate    *validator.Validate

	mu      sync.Mutex
	closed  bool
	tracker *tracker
}

// Begin acquires a dedicated connection from db's pool. The caller must
// Close the unit of work; Do does so on every path.
func Begin(ctx context.Context, db *bun.DB, opts ...Option) (*UnitOfWork, error) {
	if db == nil {
		return nil, errors.New("unit of work requires a database")
	}

	u := &UnitOfWork{
		id:        uuid.NewString(),
		db:        db,
		logger:    defaultLogger(),
		txOptions: &sql.TxOptions{},
		validate:  defaultValidate,
		tracker:   newTracker(),
	}
	for _, opt := range opts {
		opt(u)
	}
	if u.foreignKeys == nil {
		u.foreignKeys = database.NewForeignKeySet()
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	u.conn = conn

	if db.Dialect().Name() == dialect.SQLite {
		if _, err := conn.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
	}

	u.logger.Debug("Unit of work started", "uow", u.id)
	return u, nil
}

// Do runs fn inside a new unit of work and commits when fn succeeds. The
// connection is released on every exit path, panics included.
func Do(ctx context.Context, db *bun.DB, fn func(ctx context.Context, uow *UnitOfWork) error, opts ...Option) (err error) {
	u, err := Begin(ctx, db, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := u.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	if err := fn(ctx, u); err != nil {
		return err
	}
	_, err = u.Commit(ctx)
	return err
}

// ID identifies the unit of work in logs.
func (u *UnitOfWork) ID() string {
	return u.id
}

// DB returns the pool the unit of work was started from.
func (u *UnitOfWork) DB() *bun.DB {
	return u.db
}

// Close releases the connection and drops every tracked entry. Staged
// changes that were not committed are discarded. Close is idempotent.
func (u *UnitOfWork) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.closed {
		return nil
	}
	u.closed = true

	if pending := len(u.tracker.pending(matchAll)); pending > 0 {
		u.logger.Warn("Unit of work closed with uncommitted changes", "uow", u.id, "pending", pending)
	}
	u.tracker.reset()

	if err := u.conn.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("failed to release connection: %w", err)
	}
	u.logger.Debug("Unit of work closed", "uow", u.id)
	return nil
}

// Commit applies every staged change in one transaction, in staging order,
// and returns the number of affected rows.
func (u *UnitOfWork) Commit(ctx context.Context) (int64, error) {
	return u.commit(ctx, matchAll)
}

// State returns the tracked state of entity, Detached when untracked.
func (u *UnitOfWork) State(entity any) EntityState {
	u.mu.Lock()
	defer u.mu.Unlock()
	if e := u.tracker.lookup(entity); e != nil {
		return e.state
	}
	return Detached
}

// Detach stops tracking entity. Pending changes on it are dropped.
func (u *UnitOfWork) Detach(entity any) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if e := u.tracker.lookup(entity); e != nil {
		u.tracker.forget(e)
	}
}

// HasChanges reports whether a commit would issue any statement.
func (u *UnitOfWork) HasChanges() bool {
	return u.Pending() > 0
}

// Pending returns the number of entries a commit would write, including
// loaded entities modified in place.
func (u *UnitOfWork) Pending() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.tracker.detectChanges(matchAll)
	return len(u.tracker.pending(matchAll))
}

func (u *UnitOfWork) checkOpen() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return ErrClosed
	}
	return nil
}

func (u *UnitOfWork) table(typ reflect.Type) *schema.Table {
	return u.db.Table(typ)
}

func (u *UnitOfWork) validateEntity(ctx context.Context, table *schema.Table, entity any) error {
	if err := u.validate.StructCtx(ctx, entity); err != nil {
		strct := reflect.ValueOf(entity).Elem()
		return newError(KindValidation, table.Type.Name(), primaryKey(table, strct), err)
	}
	return nil
}

// attach registers a loaded entity as Unchanged and returns the instance the
// caller should use: the already tracked one when its identity is known.
func (u *UnitOfWork) attach(table *schema.Table, entity any) any {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.closed {
		return entity
	}
	if e := u.tracker.lookup(entity); e != nil {
		return e.entity
	}
	strct := reflect.ValueOf(entity).Elem()
	if e := u.tracker.lookupKey(identityKey(table, strct)); e != nil {
		return e.entity
	}
	u.tracker.track(&entry{
		entity:   entity,
		table:    table,
		state:    Unchanged,
		snapshot: takeSnapshot(table, strct),
	})
	return entity
}

// stage moves entity to state, tracking it when needed. A different instance
// tracked with the same identity is a conflict.
func (u *UnitOfWork) stage(table *schema.Table, entity any, state EntityState) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.closed {
		return ErrClosed
	}

	strct := reflect.ValueOf(entity).Elem()
	e := u.tracker.lookup(entity)
	if e == nil {
		if other := u.tracker.lookupKey(identityKey(table, strct)); other != nil && other.entity != entity {
			return newError(KindValidation, table.Type.Name(), primaryKey(table, strct),
				errors.New("another instance with the same key is already tracked"))
		}
		e = &entry{entity: entity, table: table, snapshot: takeSnapshot(table, strct)}
		e.state = state
		u.tracker.track(e)
	} else {
		e.state = state
		u.tracker.touch(e)
		u.tracker.index(e)
	}

	u.logger.Debug("Entity staged", "uow", u.id, "entity", e.entityName(), "id", e.id(), "state", state.String())
	return nil
}

// deletedKeys returns the primary keys of entries of table staged Deleted.
func (u *UnitOfWork) deletedKeys(tableName string) (string, []any) {
	u.mu.Lock()
	defer u.mu.Unlock()

	var column string
	var keys []any
	for _, e := range u.tracker.entries {
		if e.state != Deleted || e.table.Name != tableName || len(e.table.PKs) != 1 {
			continue
		}
		column = e.table.PKs[0].Name
		keys = append(keys, e.id())
	}
	return column, keys
}

func (u *UnitOfWork) commit(ctx context.Context, match func(*entry) bool) (int64, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.closed {
		return 0, ErrClosed
	}

	u.tracker.detectChanges(match)
	pending := u.tracker.pending(match)
	if len(pending) == 0 {
		return 0, nil
	}

	// struct copies restored if the transaction rolls back, so keys and
	// versions written during the attempt do not leak into the entities
	saved := make([]reflect.Value, len(pending))
	for i, e := range pending {
		saved[i] = reflect.New(e.strct().Type()).Elem()
		saved[i].Set(e.strct())
	}

	start := time.Now()
	var affected int64
	err := u.conn.RunInTx(ctx, u.txOptions, func(ctx context.Context, tx bun.Tx) error {
		for _, e := range pending {
			n, err := u.apply(ctx, tx, e)
			if err != nil {
				return err
			}
			affected += n
		}
		return nil
	})
	if err != nil {
		for i, e := range pending {
			e.strct().Set(saved[i])
		}
		u.logger.Warn("Unit of work rolled back",
			"uow", u.id,
			"entries", len(pending),
			"duration", time.Since(start),
			"error", err)

		var repoErr *Error
		if errors.As(err, &repoErr) {
			return 0, err
		}
		return 0, newError(KindPersistence, "", nil, err)
	}

	for _, e := range pending {
		u.tracker.forget(e)
	}
	u.logger.Info("Unit of work committed",
		"uow", u.id,
		"entries", len(pending),
		"rows_affected", affected,
		"duration", time.Since(start))
	return affected, nil
}

func (u *UnitOfWork) apply(ctx context.Context, tx bun.Tx, e *entry) (int64, error) {
	strct := e.strct()
	version := versionField(e.table)

	var (
		res sql.Result
		err error
	)
	switch e.state {
	case Added:
		if version != nil {
			setVersion(version, strct, 1)
		}
		res, err = tx.NewInsert().Model(e.entity).Exec(ctx)

	case Modified:
		q := tx.NewUpdate().Model(e.entity).WherePK()
		if version != nil {
			current := getVersion(version, strct)
			setVersion(version, strct, current+1)
			q = q.Where("?TableAlias.? = ?", bun.Ident(version.Name), current)
		}
		res, err = q.Exec(ctx)

	case Deleted:
		q := tx.NewDelete().Model(e.entity).WherePK()
		if version != nil {
			q = q.Where("?TableAlias.? = ?", bun.Ident(version.Name), getVersion(version, strct))
		}
		res, err = q.Exec(ctx)

	default:
		return 0, nil
	}
	if err != nil {
		return 0, storeError(e.entityName(), e.id(), err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeError(e.entityName(), e.id(), err)
	}
	if e.state != Added && n == 0 {
		return 0, newError(KindConcurrency, e.entityName(), e.id(),
			errors.New("no row matched the loaded key and version"))
	}
	return n, nil
}
