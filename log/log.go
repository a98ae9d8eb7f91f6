// Copyright 2022 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package log provides a minimal leveled, structured logging facade.
// Consumers hand the library any implementation of the Logger interface;
// a standard-output implementation is provided for the common case.
package log

import (
	"log"
)

// DefaultMessageKey is the key used by the helper methods for the
// free-form message value.
var DefaultMessageKey = "msg"

// Logger is the sink every log record is written to.
type Logger interface {
	Log(level Level, keyvals ...interface{}) error
}

type logger struct {
	logs      []Logger
	prefix    []interface{}
	hasValuer bool
}

func (c *logger) Log(level Level, keyvals ...interface{}) error {
	kvs := make([]interface{}, 0, len(c.prefix)+len(keyvals))
	kvs = append(kvs, c.prefix...)
	kvs = append(kvs, keyvals...)
	for _, l := range c.logs {
		if err := l.Log(level, kvs...); err != nil {
			return err
		}
	}
	return nil
}

// With returns a new logger that prepends the given key-value pairs to
// every record.
func With(l Logger, kv ...interface{}) Logger {
	if c, ok := l.(*logger); ok {
		kvs := make([]interface{}, 0, len(c.prefix)+len(kv))
		kvs = append(kvs, kv...)
		kvs = append(kvs, c.prefix...)
		return &logger{
			logs:   c.logs,
			prefix: kvs,
		}
	}
	return &logger{logs: []Logger{l}, prefix: kv}
}

// MultiLogger fans every record out to all the given loggers.
func MultiLogger(logs ...Logger) Logger {
	return &logger{logs: logs}
}

func init() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
}
