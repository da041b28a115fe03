package singleflight

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDo_ConcurrentCallsShareOneExecution(t *testing.T) {
	var g Group
	var calls int32
	ready := make(chan struct{})

	const n = 20
	var wg sync.WaitGroup
	results := make([]Result, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			results[i] = g.Do("key", func(traceID string) (any, error) {
				assert.NotEmpty(t, traceID)
				atomic.AddInt32(&calls, 1)
				<-ready
				return "value", nil
			})
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(ready)
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	for _, r := range results {
		assert.Equal(t, "value", r.Val)
		assert.NoError(t, r.Err)
	}
}

func TestDo_DoesNotCacheFailures(t *testing.T) {
	var g Group
	var calls int32

	r1 := g.Do("key", func(traceID string) (any, error) {
		atomic.AddInt32(&calls, 1)
		return nil, assertError{}
	})
	assert.Error(t, r1.Err)

	r2 := g.Do("key", func(traceID string) (any, error) {
		atomic.AddInt32(&calls, 1)
		return "ok", nil
	})
	assert.NoError(t, r2.Err)
	assert.Equal(t, "ok", r2.Val)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

type assertError struct{}

func (assertError) Error() string { return "boom" }

func TestDo_DifferentKeysRunIndependently(t *testing.T) {
	var g Group
	r1 := g.Do("a", func(traceID string) (any, error) { return "a", nil })
	r2 := g.Do("b", func(traceID string) (any, error) { return "b", nil })
	assert.Equal(t, "a", r1.Val)
	assert.Equal(t, "b", r2.Val)
	assert.NotEqual(t, r1.TraceID, r2.TraceID)
}
