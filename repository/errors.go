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
	"errors"
	"fmt"
	"strings"

	"github.com/tomoncle/unitofwork/database"
)

// Kind classifies repository errors.
type Kind int

const (
	KindPersistence Kind = iota
	KindNotFound
	KindValidation
	KindConcurrency
	KindReferentialIntegrity
)

// Sentinels matched by errors.Is against any *Error of the same kind.
var (
	ErrNotFound             = errors.New("entity not found")
	ErrValidation           = errors.New("entity validation failed")
	ErrConcurrency          = errors.New("entity was modified concurrently")
	ErrReferentialIntegrity = errors.New("entity is referenced by dependent rows")
	ErrPersistence          = errors.New("store rejected the change")

	// ErrClosed is returned by every operation on a closed unit of work.
	ErrClosed = errors.New("unit of work is closed")
)

func (k Kind) sentinel() error {
	switch k {
	case KindNotFound:
		return ErrNotFound
	case KindValidation:
		return ErrValidation
	case KindConcurrency:
		return ErrConcurrency
	case KindReferentialIntegrity:
		return ErrReferentialIntegrity
	default:
		return ErrPersistence
	}
}

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	case KindConcurrency:
		return "concurrency"
	case KindReferentialIntegrity:
		return "referential_integrity"
	default:
		return "persistence"
	}
}

// Error is returned by repository and unit of work operations. Entity is the
// Go type name of the model and ID its primary key, when known.
type Error struct {
	Kind   Kind
	Entity string
	ID     any
	Err    error
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Kind.sentinel().Error())
	if e.Entity != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Entity)
		if e.ID != nil {
			fmt.Fprintf(&sb, "(%v)", e.ID)
		}
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

func newError(kind Kind, entity string, id any, err error) *Error {
	return &Error{Kind: kind, Entity: entity, ID: id, Err: err}
}

// storeError maps a driver error raised while writing to the kind a caller
// can act on.
func storeError(entity string, id any, err error) *Error {
	switch class, _ := database.Classify(err); class {
	case database.ClassForeignKeyViolation:
		return newError(KindReferentialIntegrity, entity, id, err)
	case database.ClassNotNullViolation, database.ClassCheckViolation, database.ClassTruncation:
		return newError(KindValidation, entity, id, err)
	default:
		return newError(KindPersistence, entity, id, err)
	}
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var repoErr *Error
	return errors.As(err, &repoErr) && repoErr.Kind == kind
}
