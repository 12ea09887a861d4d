// Package zlog is the ambient logging wrapper used across zucchini. It
// mirrors the shape of saferwall/pe's log.Helper (a thin facade over a
// pluggable Logger, built with NewStdLogger/NewFilter/NewHelper) but is
// backed by logrus, and adds a per-category rate limiter for the
// "first N messages" diagnostic style spec §7 and §9 call for.
package zlog

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Logger is the minimal leveled-logging surface zucchini components take as
// a dependency, so callers never import logrus directly.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// std wraps a *logrus.Logger to satisfy Logger.
type std struct {
	l *logrus.Logger
}

// New returns a Logger that writes structured lines to stderr at the given
// level name ("debug", "info", "warn", "error"); an unrecognized level
// defaults to "info", matching NewFilter(log.FilterLevel(...)) in the
// teacher's shape.
func New(level string) Logger {
	l := logrus.New()
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &std{l: l}
}

func (s *std) Debugf(format string, args ...interface{}) { s.l.Debugf(format, args...) }
func (s *std) Infof(format string, args ...interface{})  { s.l.Infof(format, args...) }
func (s *std) Warnf(format string, args ...interface{})  { s.l.Warnf(format, args...) }
func (s *std) Errorf(format string, args ...interface{}) { s.l.Errorf(format, args...) }

// RateLimited wraps base so that, per category, only the first limit calls
// to the Limiter's Warn are emitted, the next one logs a "further messages
// suppressed" line, and later ones are counted silently. This generalizes the single global "first 10 messages"
// limiter the original implementation used (spec §9) into one counter per
// diagnostic category, so a flood of rel32 misdetections doesn't drown out
// a separate flood of ARM mode misdetections.
func RateLimited(base Logger, limit int) *Limiter {
	return &Limiter{base: base, limit: limit, counts: map[string]int{}}
}

// Limiter is a per-category rate limiter over a Logger.
type Limiter struct {
	base   Logger
	limit  int
	mu     sync.Mutex
	counts map[string]int
}

// Warn logs a rate-limited warning under category. Once a category passes
// the limit, further calls are dropped but still tallied so Suppressed can
// report how many were hidden.
func (r *Limiter) Warn(category, format string, args ...interface{}) {
	r.mu.Lock()
	n := r.counts[category]
	r.counts[category] = n + 1
	r.mu.Unlock()

	if n < r.limit {
		r.base.Warnf("[%s] %s", category, fmt.Sprintf(format, args...))
	} else if n == r.limit {
		r.base.Warnf("[%s] further messages suppressed", category)
	}
}

// Suppressed returns how many messages beyond the limit were dropped for
// category.
func (r *Limiter) Suppressed(category string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.counts[category] - r.limit
	if n < 0 {
		return 0
	}
	return n
}
