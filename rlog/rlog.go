// Package rlog provides the structured, leveled logging interface used
// throughout the dispatch core: the aggregator, buckets, endpoints, and
// location bindings all log through here rather than fmt/log.
package rlog

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type logLevel byte

const (
	levelDebug logLevel = 1
	levelInfo  logLevel = 2
	levelWarn  logLevel = 3
	levelError logLevel = 4
)

const (
	// InternalKeyPrefix is the prefix reserved for log fields that carry
	// framework-internal meaning (e.g. correlating a log line to a
	// subscription alias). User-supplied fields with this prefix are
	// renamed with an "x_" prefix so they never collide.
	InternalKeyPrefix = "fm_"
)

// Manager owns the root zerolog.Logger and exposes the leveled logging
// API. A process constructs exactly one Manager and shares it as the
// package Singleton.
type Manager struct {
	logger zerolog.Logger
}

// NewManager builds a Manager writing to w (os.Stderr if nil) at the
// given minimum level.
func NewManager(w *os.File, level string) *Manager {
	if w == nil {
		w = os.Stderr
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	logger := zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	return &Manager{logger: logger}
}

// Singleton is the process-wide logger used by the package-level
// Debug/Info/Warn/Error/With functions.
var Singleton = NewManager(nil, "info")

// Ctx holds additional logging context for use with the Infoc family
// of logging functions returned by With.
type Ctx struct {
	ctx zerolog.Context
}

func Debug(msg string, keysAndValues ...interface{}) { Singleton.Debug(msg, keysAndValues...) }
func Info(msg string, keysAndValues ...interface{})  { Singleton.Info(msg, keysAndValues...) }
func Warn(msg string, keysAndValues ...interface{})  { Singleton.Warn(msg, keysAndValues...) }
func Error(msg string, keysAndValues ...interface{}) { Singleton.Error(msg, keysAndValues...) }

// With adds a variadic number of fields to the logging context.
// The keysAndValues must be pairs of string keys and arbitrary data.
func With(keysAndValues ...interface{}) Ctx { return Singleton.With(keysAndValues...) }

func (m *Manager) Debug(msg string, keysAndValues ...interface{}) {
	m.doLog(levelDebug, m.logger.Debug(), msg, keysAndValues...)
}

func (m *Manager) Info(msg string, keysAndValues ...interface{}) {
	m.doLog(levelInfo, m.logger.Info(), msg, keysAndValues...)
}

func (m *Manager) Warn(msg string, keysAndValues ...interface{}) {
	m.doLog(levelWarn, m.logger.Warn(), msg, keysAndValues...)
}

func (m *Manager) Error(msg string, keysAndValues ...interface{}) {
	m.doLog(levelError, m.logger.Error(), msg, keysAndValues...)
}

func (m *Manager) With(keysAndValues ...interface{}) Ctx {
	ctx := m.logger.With()
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, _ := keysAndValues[i].(string)
		ctx = addContext(ctx, key, keysAndValues[i+1])
	}
	return Ctx{ctx: ctx}
}

func (c Ctx) Debug(msg string, keysAndValues ...interface{}) {
	l := c.ctx.Logger()
	doLogWith(l.Debug(), msg, keysAndValues...)
}

func (c Ctx) Info(msg string, keysAndValues ...interface{}) {
	l := c.ctx.Logger()
	doLogWith(l.Info(), msg, keysAndValues...)
}

func (c Ctx) Warn(msg string, keysAndValues ...interface{}) {
	l := c.ctx.Logger()
	doLogWith(l.Warn(), msg, keysAndValues...)
}

func (c Ctx) Error(msg string, keysAndValues ...interface{}) {
	l := c.ctx.Logger()
	doLogWith(l.Error(), msg, keysAndValues...)
}

// With returns a new Ctx that inherits from c and adds additional fields.
// The original ctx is not affected.
func (c Ctx) With(keysAndValues ...interface{}) Ctx {
	ctx := c.ctx
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, _ := keysAndValues[i].(string)
		ctx = addContext(ctx, key, keysAndValues[i+1])
	}
	return Ctx{ctx: ctx}
}

func (m *Manager) doLog(_ logLevel, ev *zerolog.Event, msg string, keysAndValues ...interface{}) {
	doLogWith(ev, msg, keysAndValues...)
}

func doLogWith(ev *zerolog.Event, msg string, keysAndValues ...interface{}) {
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, _ := keysAndValues[i].(string)
		addEventEntry(ev, key, keysAndValues[i+1])
	}
	ev.Msg(msg)
}

func addEventEntry(ev *zerolog.Event, key string, val interface{}) {
	if reserved(key) {
		key = "x_" + key
	}
	switch val := val.(type) {
	case error:
		ev.AnErr(key, val)
	case string:
		ev.Str(key, val)
	case bool:
		ev.Bool(key, val)
	case time.Time:
		ev.Time(key, val)
	case time.Duration:
		ev.Dur(key, val)
	case int:
		ev.Int(key, val)
	case int32:
		ev.Int32(key, val)
	case int64:
		ev.Int64(key, val)
	case uint32:
		ev.Uint32(key, val)
	case uint64:
		ev.Uint64(key, val)
	case float64:
		ev.Float64(key, val)
	default:
		ev.Interface(key, val)
	}
}

func addContext(ctx zerolog.Context, key string, val interface{}) zerolog.Context {
	if reserved(key) {
		key = "x_" + key
	}
	switch val := val.(type) {
	case error:
		return ctx.AnErr(key, val)
	case string:
		return ctx.Str(key, val)
	case bool:
		return ctx.Bool(key, val)
	case time.Time:
		return ctx.Time(key, val)
	case time.Duration:
		return ctx.Dur(key, val)
	case int:
		return ctx.Int(key, val)
	case int32:
		return ctx.Int32(key, val)
	case int64:
		return ctx.Int64(key, val)
	case uint32:
		return ctx.Uint32(key, val)
	case uint64:
		return ctx.Uint64(key, val)
	case float64:
		return ctx.Float64(key, val)
	default:
		return ctx.Interface(key, val)
	}
}

func reserved(key string) bool {
	return strings.HasPrefix(key, InternalKeyPrefix)
}
