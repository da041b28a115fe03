// Package modeengine holds the process-wide mode and request counters.
// Mode reads/writes and counter increments are atomic; a mode change is
// observed by the next request, in-flight requests complete under the
// mode they started with (the caller captures Mode() once at the top of
// the request and doesn't re-read it mid-handling).
package modeengine

import (
	"sync/atomic"

	"vcrproxy/internal/config"
)

// Engine is process-wide mode + counter state.
type Engine struct {
	mode atomic.Value // config.Mode

	total    atomic.Int64
	hits     atomic.Int64
	misses   atomic.Int64
	recorded atomic.Int64
	errors   atomic.Int64
}

// New returns an Engine initialized to the given starting mode.
func New(initial config.Mode) *Engine {
	e := &Engine{}
	e.mode.Store(initial)
	return e
}

// Mode atomically reads the current mode.
func (e *Engine) Mode() config.Mode {
	return e.mode.Load().(config.Mode)
}

// SetMode atomically updates the mode. It returns an error if m is not a
// recognized mode.
func (e *Engine) SetMode(m config.Mode) error {
	if !m.Valid() {
		return ErrInvalidMode
	}
	e.mode.Store(m)
	return nil
}

// Counters is a point-in-time snapshot of the request counters.
type Counters struct {
	Total    int64
	Hits     int64
	Misses   int64
	Recorded int64
	Errors   int64
}

// Snapshot reads all counters. There is no ordering guarantee across the
// individual fields beyond each being independently atomic.
func (e *Engine) Snapshot() Counters {
	return Counters{
		Total:    e.total.Load(),
		Hits:     e.hits.Load(),
		Misses:   e.misses.Load(),
		Recorded: e.recorded.Load(),
		Errors:   e.errors.Load(),
	}
}

// Restore seeds the counters from a prior snapshot, e.g. one loaded from
// statsdb at process start. It is not itself atomic across fields and is
// meant to be called once before traffic flows.
func (e *Engine) Restore(c Counters) {
	e.total.Store(c.Total)
	e.hits.Store(c.Hits)
	e.misses.Store(c.Misses)
	e.recorded.Store(c.Recorded)
	e.errors.Store(c.Errors)
}

func (e *Engine) IncTotal()    { e.total.Add(1) }
func (e *Engine) IncHit()      { e.hits.Add(1) }
func (e *Engine) IncMiss()     { e.misses.Add(1) }
func (e *Engine) IncRecorded() { e.recorded.Add(1) }
func (e *Engine) IncError()    { e.errors.Add(1) }
