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
	"slices"
	"strings"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 1000
)

// QueryFilter is a WHERE condition in Bun syntax with its arguments.
type QueryFilter struct {
	Schema string
	Args   []interface{}
}

func NewQueryFilter(schema string, args ...interface{}) *QueryFilter {
	return &QueryFilter{Schema: schema, Args: args}
}

// Empty reports whether f adds no condition. A nil filter is empty.
func (f *QueryFilter) Empty() bool {
	return f == nil || strings.TrimSpace(f.Schema) == ""
}

// PageRequest selects one page of rows. All accessors work on a nil
// request and then describe the first page of DefaultPageSize rows in
// primary key order.
type PageRequest struct {
	page   int
	size   int
	filter *QueryFilter
	orders []string
}

// NewPageRequest requests page (1-based) of size rows. Out of range values
// are corrected by the accessors.
func NewPageRequest(page, size int) *PageRequest {
	return &PageRequest{page: page, size: size}
}

// Where sets the filter and returns p.
func (p *PageRequest) Where(schema string, args ...interface{}) *PageRequest {
	return p.WithFilter(NewQueryFilter(schema, args...))
}

func (p *PageRequest) WithFilter(f *QueryFilter) *PageRequest {
	if p == nil {
		p = NewPageRequest(1, DefaultPageSize)
	}
	p.filter = f
	return p
}

// OrderBy appends ORDER BY expressions such as "name DESC".
func (p *PageRequest) OrderBy(orders ...string) *PageRequest {
	if p == nil {
		p = NewPageRequest(1, DefaultPageSize)
	}
	p.orders = append(p.orders, orders...)
	return p
}

func (p *PageRequest) Page() int {
	if p == nil || p.page < 1 {
		return 1
	}
	return p.page
}

// Size is clamped to [1, MaxPageSize]; zero or negative means DefaultPageSize.
func (p *PageRequest) Size() int {
	switch {
	case p == nil || p.size < 1:
		return DefaultPageSize
	case p.size > MaxPageSize:
		return MaxPageSize
	}
	return p.size
}

func (p *PageRequest) Offset() int {
	return (p.Page() - 1) * p.Size()
}

func (p *PageRequest) Filter() *QueryFilter {
	if p == nil {
		return nil
	}
	return p.filter
}

// Orders returns a copy of the ORDER BY expressions. Empty means the
// repository orders by primary key.
func (p *PageRequest) Orders() []string {
	if p == nil {
		return nil
	}
	return slices.Clone(p.orders)
}

// Pagination is one page of results.
type Pagination[T any] struct {
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	Total    int  `json:"total"`
	Items    []*T `json:"items"`
}

// NewPagination returns an empty page matching req.
func NewPagination[T any](req *PageRequest) *Pagination[T] {
	return &Pagination[T]{Page: req.Page(), PageSize: req.Size(), Items: []*T{}}
}

// Pages is the number of pages needed for Total rows.
func (p *Pagination[T]) Pages() int {
	if p.PageSize < 1 {
		return 0
	}
	return (p.Total + p.PageSize - 1) / p.PageSize
}

func (p *Pagination[T]) HasNext() bool {
	return p.Page < p.Pages()
}
