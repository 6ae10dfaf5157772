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

// Package utils holds the process-wide registry of named logrus loggers.
package utils

import (
	"fmt"
	"io"
	"os"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

type Logger = logrus.Logger

const (
	// LevelEnv sets the level of loggers created afterwards.
	LevelEnv = "LOG_LEVEL"
	// FormatEnv selects "text" (default) or "json" output.
	FormatEnv = "CONSOLE_LOG_FORMAT"

	timestampFormat = "2006-01-02 15:04:05.000"
	loggerField     = "logger"
)

type registry struct {
	mu      sync.RWMutex
	loggers map[string]*logrus.Logger
	level   logrus.Level
	json    bool
	out     io.Writer
}

var loggers = &registry{
	loggers: map[string]*logrus.Logger{},
	level:   ParseLevel(os.Getenv(LevelEnv)),
	json:    strings.EqualFold(strings.TrimSpace(os.Getenv(FormatEnv)), "json"),
	out:     os.Stdout,
}

// ParseLevel parses a level name; empty or unknown names mean info.
func ParseLevel(s string) logrus.Level {
	lvl, err := logrus.ParseLevel(strings.TrimSpace(s))
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// NewLogger returns the logger registered under name, creating it with the
// current output, level and format on first use.
func NewLogger(name string) *logrus.Logger {
	loggers.mu.Lock()
	defer loggers.mu.Unlock()
	if l, ok := loggers.loggers[name]; ok {
		return l
	}

	l := logrus.New()
	l.SetOutput(loggers.out)
	l.SetLevel(loggers.level)
	if loggers.json {
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: timestampFormat,
			FieldMap:        logrus.FieldMap{logrus.FieldKeyMsg: "message"},
		})
		l.AddHook(nameHook(name))
	} else {
		l.SetFormatter(&ConsoleFormatter{Name: name})
	}
	loggers.loggers[name] = l
	return l
}

// SetLevel changes the level of the named logger, or of every logger and the
// default for new ones when name is empty. It reports whether a logger was
// found.
func SetLevel(name, level string) bool {
	lvl := ParseLevel(level)
	loggers.mu.Lock()
	defer loggers.mu.Unlock()
	if name == "" {
		loggers.level = lvl
		for _, l := range loggers.loggers {
			l.SetLevel(lvl)
		}
		return true
	}
	l, ok := loggers.loggers[name]
	if ok {
		l.SetLevel(lvl)
	}
	return ok
}

// SetOutput redirects every logger, present and future, to w.
func SetOutput(w io.Writer) {
	if w == nil {
		w = io.Discard
	}
	loggers.mu.Lock()
	defer loggers.mu.Unlock()
	loggers.out = w
	for _, l := range loggers.loggers {
		l.SetOutput(w)
	}
}

// nameHook stamps JSON records with the logger name.
type nameHook string

func (nameHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h nameHook) Fire(e *logrus.Entry) error {
	e.Data[loggerField] = string(h)
	return nil
}

var levelColors = map[logrus.Level]*color.Color{
	logrus.TraceLevel: color.New(color.FgBlue),
	logrus.DebugLevel: color.New(color.FgBlue),
	logrus.InfoLevel:  color.New(color.FgGreen),
	logrus.WarnLevel:  color.New(color.FgYellow),
	logrus.ErrorLevel: color.New(color.FgRed),
	logrus.FatalLevel: color.New(color.FgRed, color.Bold),
	logrus.PanicLevel: color.New(color.FgRed, color.Bold),
}

var (
	nameColor  = color.New(color.FgCyan)
	faintColor = color.New(color.Faint)
)

// ConsoleFormatter writes one line per entry:
//
//	2025-01-02 15:04:05.000    INFO [UNIT_OF_WORK] committed a=1 b=2
//
// Fields are sorted by key. Colours follow fatih/color, which disables them
// when the output is not a terminal.
type ConsoleFormatter struct {
	Name            string
	TimestampFormat string
}

func (f *ConsoleFormatter) Format(e *logrus.Entry) ([]byte, error) {
	ts := f.TimestampFormat
	if ts == "" {
		ts = timestampFormat
	}
	level := fmt.Sprintf("%7s", strings.ToUpper(e.Level.String()))
	if c, ok := levelColors[e.Level]; ok {
		level = c.Sprint(level)
	}

	var b strings.Builder
	b.WriteString(e.Time.Format(ts))
	b.WriteByte(' ')
	b.WriteString(level)
	b.WriteByte(' ')
	b.WriteString(nameColor.Sprintf("[%s]", f.Name))
	if e.HasCaller() {
		b.WriteByte(' ')
		b.WriteString(faintColor.Sprintf("%s/%s:%d", path.Base(path.Dir(e.Caller.File)), path.Base(e.Caller.File), e.Caller.Line))
	}
	b.WriteByte(' ')
	b.WriteString(e.Message)

	keys := make([]string, 0, len(e.Data))
	for k := range e.Data {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, e.Data[k])
	}
	b.WriteByte('\n')
	return []byte(b.String()), nil
}
