package eventloop

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkedIngress_FIFOAcrossChunks(t *testing.T) {
	var q chunkedIngress
	const n = chunkSize*3 + 7

	var got []int
	for i := 0; i < n; i++ {
		q.push(func() { got = append(got, i) })
	}
	assert.Equal(t, n, q.length)

	for {
		task, ok := q.pop()
		if !ok {
			break
		}
		task()
	}
	require.Len(t, got, n)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
	assert.Equal(t, 0, q.length)
	assert.Same(t, q.head, q.tail, "drained queue keeps a single chunk")
}

func TestChunkedIngress_InterleavedPushPop(t *testing.T) {
	var q chunkedIngress
	next, want := 0, 0
	for round := 0; round < 10; round++ {
		for i := 0; i < chunkSize+1; i++ {
			v := next
			next++
			q.push(func() { assert.Equal(t, want, v); want++ })
		}
		for i := 0; i < chunkSize/2; i++ {
			task, ok := q.pop()
			require.True(t, ok)
			task()
		}
	}
	for {
		task, ok := q.pop()
		if !ok {
			break
		}
		task()
	}
	assert.Equal(t, next, want)
}

func TestTaskQueue_DrainSnapshot(t *testing.T) {
	var q taskQueue
	var ran []string
	require.True(t, q.push(func() {
		ran = append(ran, "a")
		q.push(func() { ran = append(ran, "c") })
	}))
	require.True(t, q.push(func() { ran = append(ran, "b") }))

	remaining := q.drain(0, func(fn func()) { fn() })
	assert.Equal(t, []string{"a", "b"}, ran)
	assert.Equal(t, 1, remaining)

	assert.Zero(t, q.drain(0, func(fn func()) { fn() }))
	assert.Equal(t, []string{"a", "b", "c"}, ran)
}

func TestTaskQueue_DrainLimit(t *testing.T) {
	var q taskQueue
	var count int
	for i := 0; i < 10; i++ {
		q.push(func() { count++ })
	}
	assert.Equal(t, 6, q.drain(4, func(fn func()) { fn() }))
	assert.Equal(t, 4, count)
}

func TestTaskQueue_Close(t *testing.T) {
	var q taskQueue
	require.True(t, q.push(func() {}))
	q.close()
	assert.False(t, q.push(func() {}))
	_, ok := q.pop()
	assert.True(t, ok, "tasks queued before close are still delivered")
}

func TestTaskQueue_ConcurrentProducers(t *testing.T) {
	var q taskQueue
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				q.push(func() {})
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 2000, q.len())
}
