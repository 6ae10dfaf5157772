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
	"database/sql/driver"
	"fmt"
	"reflect"
	"strings"

	"github.com/uptrace/bun/schema"
)

// VersionColumn is the column used as an optimistic concurrency token when a
// model declares it with an integer type.
const VersionColumn = "version"

type entry struct {
	entity   any
	table    *schema.Table
	state    EntityState
	snapshot []any
	key      string
}

func (e *entry) strct() reflect.Value {
	return reflect.ValueOf(e.entity).Elem()
}

func (e *entry) id() any {
	return primaryKey(e.table, e.strct())
}

func (e *entry) entityName() string {
	return e.table.Type.Name()
}

// tracker records entries in staging order plus two indexes: by instance
// pointer and by table and primary key.
type tracker struct {
	entries  []*entry
	byEntity map[any]*entry
	byKey    map[string]*entry
}

func newTracker() *tracker {
	return &tracker{
		byEntity: make(map[any]*entry),
		byKey:    make(map[string]*entry),
	}
}

func (t *tracker) lookup(entity any) *entry {
	return t.byEntity[entity]
}

func (t *tracker) lookupKey(key string) *entry {
	if key == "" {
		return nil
	}
	return t.byKey[key]
}

func (t *tracker) track(e *entry) {
	t.entries = append(t.entries, e)
	t.byEntity[e.entity] = e
	t.index(e)
}

// index refreshes the identity key, which changes once a key is assigned.
func (t *tracker) index(e *entry) {
	if e.key != "" && t.byKey[e.key] == e {
		delete(t.byKey, e.key)
	}
	e.key = identityKey(e.table, e.strct())
	if e.key != "" && e.state != Added {
		t.byKey[e.key] = e
	}
}

// touch moves e to the end of the staging order.
func (t *tracker) touch(e *entry) {
	for i, candidate := range t.entries {
		if candidate == e {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			break
		}
	}
	t.entries = append(t.entries, e)
}

func (t *tracker) forget(e *entry) {
	delete(t.byEntity, e.entity)
	if e.key != "" && t.byKey[e.key] == e {
		delete(t.byKey, e.key)
	}
	for i, candidate := range t.entries {
		if candidate == e {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			break
		}
	}
	e.state = Detached
}

func (t *tracker) reset() {
	t.entries = nil
	t.byEntity = make(map[any]*entry)
	t.byKey = make(map[string]*entry)
}

// detectChanges promotes Unchanged entries whose column values differ from
// their snapshot to Modified.
func (t *tracker) detectChanges(match func(*entry) bool) {
	for _, e := range t.entries {
		if e.state != Unchanged || !match(e) {
			continue
		}
		if !reflect.DeepEqual(e.snapshot, takeSnapshot(e.table, e.strct())) {
			e.state = Modified
		}
	}
}

func (t *tracker) pending(match func(*entry) bool) []*entry {
	var result []*entry
	for _, e := range t.entries {
		if e.state.pending() && match(e) {
			result = append(result, e)
		}
	}
	return result
}

func matchAll(*entry) bool { return true }

func matchTable(table *schema.Table) func(*entry) bool {
	return func(e *entry) bool { return e.table == table }
}

func takeSnapshot(table *schema.Table, strct reflect.Value) []any {
	values := make([]any, len(table.Fields))
	for i, field := range table.Fields {
		values[i] = snapshotValue(field.Value(strct))
	}
	return values
}

// snapshotValue copies v so later in-place mutation of the entity does not
// alter the snapshot. Valuers are compared by their driver value.
func snapshotValue(v reflect.Value) any {
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil
		}
		return snapshotValue(v.Elem())
	}
	if !v.CanInterface() {
		return nil
	}
	if valuer, ok := v.Interface().(driver.Valuer); ok {
		if dv, err := valuer.Value(); err == nil {
			if b, ok := dv.([]byte); ok {
				return append([]byte(nil), b...)
			}
			return dv
		}
	}
	switch v.Kind() {
	case reflect.Slice:
		if v.IsNil() {
			return nil
		}
		clone := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		reflect.Copy(clone, v)
		return clone.Interface()
	case reflect.Map:
		if v.IsNil() {
			return nil
		}
		clone := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			clone.SetMapIndex(iter.Key(), iter.Value())
		}
		return clone.Interface()
	}
	return v.Interface()
}

// primaryKey returns the key of a single-column primary key, or the slice of
// values of a composite one.
func primaryKey(table *schema.Table, strct reflect.Value) any {
	switch len(table.PKs) {
	case 0:
		return nil
	case 1:
		return table.PKs[0].Value(strct).Interface()
	}
	values := make([]any, len(table.PKs))
	for i, pk := range table.PKs {
		values[i] = pk.Value(strct).Interface()
	}
	return values
}

func hasPrimaryKey(table *schema.Table, strct reflect.Value) bool {
	if len(table.PKs) == 0 {
		return false
	}
	for _, pk := range table.PKs {
		if pk.HasZeroValue(strct) {
			return false
		}
	}
	return true
}

func identityKey(table *schema.Table, strct reflect.Value) string {
	if !hasPrimaryKey(table, strct) {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(table.Name)
	for _, pk := range table.PKs {
		fmt.Fprintf(&sb, ":%v", pk.Value(strct).Interface())
	}
	return sb.String()
}

func versionField(table *schema.Table) *schema.Field {
	field, ok := table.FieldMap[VersionColumn]
	if !ok {
		return nil
	}
	switch field.IndirectType.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return field
	}
	return nil
}

func getVersion(field *schema.Field, strct reflect.Value) int64 {
	v := reflect.Indirect(field.Value(strct))
	if !v.IsValid() {
		return 0
	}
	switch v.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(v.Uint())
	}
	return v.Int()
}

func setVersion(field *schema.Field, strct reflect.Value, version int64) {
	v := field.Value(strct)
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			v.Set(reflect.New(v.Type().Elem()))
		}
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		v.SetUint(uint64(version))
	default:
		v.SetInt(version)
	}
}
