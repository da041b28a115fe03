// Package singleflight deduplicates concurrent forward-and-record
// operations that share a fingerprint, so at most one upstream fetch is
// in flight per fingerprint at a time. It is grounded on cdpnetool's
// internal/session.Manager (a mutex-guarded map keyed by an id, entries
// created and torn down around their lifetime), generalized from session
// identity to fingerprint identity and from CRUD semantics to a
// call/wait/broadcast pattern. Each leader call is stamped with a
// google/uuid trace id for log correlation with its followers.
package singleflight

import (
	"sync"

	"github.com/google/uuid"
)

// call represents an in-flight or completed operation for one fingerprint.
type call struct {
	wg      sync.WaitGroup
	val     any
	err     error
	traceID string
}

// Group dedups concurrent operations by key. The zero value is ready to
// use.
type Group struct {
	mu    sync.Mutex
	calls map[string]*call
}

// Result carries the outcome of Do along with whether the caller was the
// leader (performed the work) or a follower (waited for the leader).
type Result struct {
	Val     any
	Err     error
	Shared  bool
	TraceID string
}

// Do executes fn for key if no call for key is in flight, or waits for and
// returns the in-flight call's result otherwise. Failures are not cached:
// once a call completes (success or error) its entry is removed, so the
// next caller for the same key always gets a fresh attempt. fn receives the
// leader's trace id so it can stamp the work it performs (e.g. the upstream
// request) with the same id Result.TraceID reports to every caller.
func (g *Group) Do(key string, fn func(traceID string) (any, error)) Result {
	g.mu.Lock()
	if g.calls == nil {
		g.calls = make(map[string]*call)
	}
	if c, ok := g.calls[key]; ok {
		g.mu.Unlock()
		c.wg.Wait()
		return Result{Val: c.val, Err: c.err, Shared: true, TraceID: c.traceID}
	}

	c := &call{traceID: uuid.NewString()}
	c.wg.Add(1)
	g.calls[key] = c
	g.mu.Unlock()

	c.val, c.err = fn(c.traceID)
	c.wg.Done()

	g.mu.Lock()
	delete(g.calls, key)
	g.mu.Unlock()

	return Result{Val: c.val, Err: c.err, Shared: false, TraceID: c.traceID}
}
