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
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/tomoncle/unitofwork/utils"
)

// Logger is the key/value logging contract used across the module: fields
// alternate between keys and values.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// NewLogger returns a Logger writing through the named logrus logger from
// the utils registry.
func NewLogger(name string) Logger {
	return logrusLogger{utils.NewLogger(name)}
}

type logrusLogger struct {
	l *logrus.Logger
}

func (l logrusLogger) Debug(msg string, fields ...interface{}) { l.with(fields).Debug(msg) }
func (l logrusLogger) Info(msg string, fields ...interface{})  { l.with(fields).Info(msg) }
func (l logrusLogger) Warn(msg string, fields ...interface{})  { l.with(fields).Warn(msg) }
func (l logrusLogger) Error(msg string, fields ...interface{}) { l.with(fields).Error(msg) }

// with turns key/value pairs into logrus fields. A trailing key without a
// value is kept under "extra".
func (l logrusLogger) with(kv []interface{}) *logrus.Entry {
	data := make(logrus.Fields, (len(kv)+1)/2)
	for i := 0; i < len(kv); i += 2 {
		if i+1 == len(kv) {
			data["extra"] = kv[i]
			break
		}
		data[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return l.l.WithFields(data)
}

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Debug(string, ...interface{}) {}
func (NopLogger) Info(string, ...interface{})  {}
func (NopLogger) Warn(string, ...interface{})  {}
func (NopLogger) Error(string, ...interface{}) {}

type loggerBox struct{ Logger }

var defaultLogger atomic.Pointer[loggerBox]

// DefaultLogger returns the logger managers use unless WithLogger is given.
// It is the "DATABASE" logrus logger until SetDefaultLogger replaces it.
func DefaultLogger() Logger {
	if box := defaultLogger.Load(); box != nil {
		return box.Logger
	}
	defaultLogger.CompareAndSwap(nil, &loggerBox{NewLogger("DATABASE")})
	return defaultLogger.Load().Logger
}

// SetDefaultLogger replaces the package default; nil is ignored.
func SetDefaultLogger(l Logger) {
	if l != nil {
		defaultLogger.Store(&loggerBox{l})
	}
}
