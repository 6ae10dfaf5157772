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

package types

import (
	"fmt"
	"strings"
)

// Returned for values outside an EnumTable.
const (
	IllegalValue = -1
	IllegalName  = "unknown"
)

// Enum is the method set of int-backed enums.
type Enum interface {
	fmt.Stringer
	IsValid() bool
	Number() int
	Name() string
	Desc() string
}

// EnumEntry names one enum value.
type EnumEntry struct {
	Name string
	Desc string
}

// EnumTable describes the values 0..len-1 of E, indexed by value.
type EnumTable[E ~int] []EnumEntry

func (t EnumTable[E]) Valid(e E) bool {
	return e >= 0 && int(e) < len(t)
}

func (t EnumTable[E]) Number(e E) int {
	if !t.Valid(e) {
		return IllegalValue
	}
	return int(e)
}

func (t EnumTable[E]) Name(e E) string {
	if !t.Valid(e) {
		return IllegalName
	}
	return t[e].Name
}

func (t EnumTable[E]) Desc(e E) string {
	if !t.Valid(e) {
		return IllegalName
	}
	return t[e].Desc
}

// Parse returns the value called name, ignoring case.
func (t EnumTable[E]) Parse(name string) (E, error) {
	for i, entry := range t {
		if strings.EqualFold(entry.Name, name) {
			return E(i), nil
		}
	}
	return E(IllegalValue), fmt.Errorf("unknown enum value %q", name)
}
