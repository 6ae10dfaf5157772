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
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	"github.com/uptrace/bun"
)

// QueryLogEnv switches the query log at runtime: "0" disables it, "1" prints
// failed statements and "2" prints every statement.
const QueryLogEnv = "UOW_SQL_LOG"

var muted atomic.Bool

// Mute silences QueryHook and SlowQueryHook process-wide, e.g. while
// migrations run.
func Mute(on bool) {
	muted.Store(on)
}

type operationStyle struct {
	fg, bg *color.Color
}

var (
	operationStyles = map[string]operationStyle{
		"SELECT": {color.New(color.FgGreen), color.New(color.BgGreen, color.FgHiWhite)},
		"INSERT": {color.New(color.FgBlue), color.New(color.BgBlue, color.FgHiWhite)},
		"UPDATE": {color.New(color.FgYellow), color.New(color.BgYellow, color.FgHiWhite)},
		"DELETE": {color.New(color.FgMagenta), color.New(color.BgMagenta, color.FgHiWhite)},
	}
	otherStyle = operationStyle{color.New(color.FgRed), color.New(color.BgRed, color.FgHiWhite)}
	tagColor   = color.New(color.FgCyan)
	errColor   = color.New(color.BgRed, color.FgHiWhite)
)

func styleOf(event *bun.QueryEvent) operationStyle {
	if s, ok := operationStyles[event.Operation()]; ok {
		return s
	}
	return otherStyle
}

// QueryHook prints statements coloured by operation. Without QueryLogEnv it
// prints failures, or everything when verbose.
type QueryHook struct {
	out     io.Writer
	verbose bool
}

var _ bun.QueryHook = (*QueryHook)(nil)

// NewQueryHook returns a query log writing to w, or stdout when w is nil.
func NewQueryHook(w io.Writer, verbose bool) *QueryHook {
	if w == nil {
		w = os.Stdout
	}
	return &QueryHook{out: w, verbose: verbose}
}

func (h *QueryHook) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (h *QueryHook) AfterQuery(_ context.Context, event *bun.QueryEvent) {
	if muted.Load() {
		return
	}
	verbose := h.verbose
	if mode, ok := os.LookupEnv(QueryLogEnv); ok {
		switch mode {
		case "", "0":
			return
		case "2":
			verbose = true
		default:
			verbose = false
		}
	}
	if !verbose && !failed(event.Err) {
		return
	}

	line := fmt.Sprintf("%s %s %12s %s",
		time.Now().Format("2006-01-02 15:04:05.000"),
		tagColor.Sprint("[BUN]"),
		time.Since(event.StartTime).Round(time.Microsecond),
		styleOf(event).fg.Sprint(event.Query),
	)
	if event.Err != nil {
		line += "\t" + errColor.Sprintf(" %T: %v ", event.Err, event.Err)
	}
	_, _ = fmt.Fprintln(h.out, line)
}

// failed ignores the errors bun reports for ordinary control flow.
func failed(err error) bool {
	return err != nil && !errors.Is(err, sql.ErrNoRows) && !errors.Is(err, sql.ErrTxDone)
}

// SlowQueryHook warns about successful statements slower than threshold.
type SlowQueryHook struct {
	threshold time.Duration
	logger    Logger
}

var _ bun.QueryHook = (*SlowQueryHook)(nil)

func NewSlowQueryHook(threshold time.Duration, logger Logger) *SlowQueryHook {
	return &SlowQueryHook{threshold: threshold, logger: logger}
}

func (h *SlowQueryHook) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (h *SlowQueryHook) AfterQuery(_ context.Context, event *bun.QueryEvent) {
	if muted.Load() || event.Err != nil || h.logger == nil {
		return
	}
	if elapsed := time.Since(event.StartTime); elapsed > h.threshold {
		h.logger.Warn("Slow query",
			"duration", elapsed,
			"threshold", h.threshold,
			"query", styleOf(event).bg.Sprint(event.Query),
		)
	}
}

// QueryCounter counts the statements sent to the database, grouped by
// operation. It is safe for concurrent use.
type QueryCounter struct {
	mu  sync.Mutex
	ops map[string]int
}

var _ bun.QueryHook = (*QueryCounter)(nil)

func NewQueryCounter() *QueryCounter {
	return &QueryCounter{ops: make(map[string]int)}
}

func (c *QueryCounter) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (c *QueryCounter) AfterQuery(_ context.Context, event *bun.QueryEvent) {
	c.mu.Lock()
	c.ops[event.Operation()]++
	c.mu.Unlock()
}

// Total returns the number of statements seen since the last Reset.
func (c *QueryCounter) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.ops {
		n += v
	}
	return n
}

// Count returns the number of statements of one operation ("SELECT", ...).
func (c *QueryCounter) Count(operation string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ops[operation]
}

func (c *QueryCounter) Reset() {
	c.mu.Lock()
	clear(c.ops)
	c.mu.Unlock()
}
