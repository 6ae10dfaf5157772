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
	"fmt"

	"github.com/tomoncle/unitofwork/types"
)

// EntityState is the change-tracking state of an entity instance within a
// unit of work.
type EntityState int

const (
	// Detached entities are not tracked.
	Detached EntityState = iota
	// Unchanged entities were loaded and not modified since.
	Unchanged
	// Added entities are inserted on commit.
	Added
	// Modified entities are updated on commit.
	Modified
	// Deleted entities are removed on commit.
	Deleted
)

var _ types.Enum = Detached

var entityStates = types.EnumTable[EntityState]{
	Detached:  {Name: "detached", Desc: "not tracked by the unit of work"},
	Unchanged: {Name: "unchanged", Desc: "loaded and unmodified"},
	Added:     {Name: "added", Desc: "staged for insertion"},
	Modified:  {Name: "modified", Desc: "staged for update"},
	Deleted:   {Name: "deleted", Desc: "staged for removal"},
}

// ParseEntityState returns the state called name, e.g. "modified".
func ParseEntityState(name string) (EntityState, error) {
	return entityStates.Parse(name)
}

func (s EntityState) IsValid() bool  { return entityStates.Valid(s) }
func (s EntityState) Number() int    { return entityStates.Number(s) }
func (s EntityState) Name() string   { return entityStates.Name(s) }
func (s EntityState) String() string { return s.Name() }
func (s EntityState) Desc() string   { return entityStates.Desc(s) }

func (s EntityState) MarshalText() ([]byte, error) {
	if !s.IsValid() {
		return nil, fmt.Errorf("invalid entity state %d", int(s))
	}
	return []byte(s.Name()), nil
}

func (s *EntityState) UnmarshalText(text []byte) error {
	parsed, err := ParseEntityState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// pending reports whether the state issues a statement on commit.
func (s EntityState) pending() bool {
	return s == Added || s == Modified || s == Deleted
}
