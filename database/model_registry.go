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

package database

import (
	"cmp"
	"reflect"
	"slices"
	"sync"
)

// Model is a Bun model registered for table creation. Tables are created in
// ascending Priority, so a referenced table needs a lower value than the
// tables referencing it.
type Model struct {
	Instance interface{}
	Priority int
}

// NewModel pairs a model pointer, typically (*T)(nil), with its priority.
func NewModel(instance interface{}, priority int) Model {
	return Model{Instance: instance, Priority: priority}
}

func (m Model) typ() reflect.Type {
	t := reflect.TypeOf(m.Instance)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

// Name returns the Go type name of the model.
func (m Model) Name() string {
	if t := m.typ(); t != nil {
		return t.Name()
	}
	return ""
}

// ModelRegistry keeps registered models in priority order; registering a
// model type again keeps the first registration.
type ModelRegistry struct {
	mu     sync.RWMutex
	models []Model
}

func NewModelRegistry(models ...Model) *ModelRegistry {
	r := &ModelRegistry{}
	r.Register(models...)
	return r
}

func (r *ModelRegistry) Register(models ...Model) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range models {
		known := slices.ContainsFunc(r.models, func(o Model) bool { return o.typ() == m.typ() })
		if !known {
			r.models = append(r.models, m)
		}
	}
	slices.SortStableFunc(r.models, func(a, b Model) int { return cmp.Compare(a.Priority, b.Priority) })
}

// Models returns a copy of the registered models in creation order.
func (r *ModelRegistry) Models() []Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.models)
}

// Instances returns the model pointers in creation order.
func (r *ModelRegistry) Instances() []interface{} {
	models := r.Models()
	out := make([]interface{}, len(models))
	for i, m := range models {
		out[i] = m.Instance
	}
	return out
}
