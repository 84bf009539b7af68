package eventloop

import (
	"sync"
)

// chunkSize is the number of tasks per node in the chunkedIngress linked list.
const chunkSize = 128

// chunkedIngress is a chunked linked-list FIFO of tasks.
//
// NOT thread-safe, see taskQueue for the synchronized wrapper.
type chunkedIngress struct {
	head   *chunk
	tail   *chunk
	length int
}

var chunkPool = sync.Pool{
	New: func() any {
		return &chunk{}
	},
}

// chunk is a fixed-size node, with readPos/pos cursors for O(1) push/pop.
type chunk struct {
	tasks   [chunkSize]func()
	next    *chunk
	readPos int
	pos     int
}

func newChunk() *chunk {
	c := chunkPool.Get().(*chunk)
	c.pos = 0
	c.readPos = 0
	c.next = nil
	return c
}

// returnChunk clears retained closures before pooling c.
func returnChunk(c *chunk) {
	clear(c.tasks[:c.pos])
	c.pos = 0
	c.readPos = 0
	c.next = nil
	chunkPool.Put(c)
}

func (q *chunkedIngress) push(task func()) {
	if q.tail == nil {
		q.tail = newChunk()
		q.head = q.tail
	} else if q.tail.pos == len(q.tail.tasks) {
		next := newChunk()
		q.tail.next = next
		q.tail = next
	}
	q.tail.tasks[q.tail.pos] = task
	q.tail.pos++
	q.length++
}

func (q *chunkedIngress) pop() (func(), bool) {
	if q.length == 0 {
		return nil, false
	}
	// q.length > 0 guarantees the head (after advancing) has an unread slot
	for q.head.readPos >= q.head.pos {
		old := q.head
		q.head = q.head.next
		returnChunk(old)
	}
	task := q.head.tasks[q.head.readPos]
	q.head.tasks[q.head.readPos] = nil
	q.head.readPos++
	q.length--
	if q.length == 0 {
		// single chunk left, rewind it for reuse
		for q.head != q.tail {
			old := q.head
			q.head = q.head.next
			returnChunk(old)
		}
		q.head.pos = 0
		q.head.readPos = 0
	}
	return task, true
}

// taskQueue is a mutex-guarded multi-producer, single-consumer task queue.
type taskQueue struct {
	q  chunkedIngress
	mu sync.Mutex
	// closed rejects further pushes, once the loop has terminated
	closed bool
}

// push enqueues task, returning false if the queue is closed.
func (t *taskQueue) push(task func()) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.q.push(task)
	return true
}

// pop removes the oldest task.
func (t *taskQueue) pop() (func(), bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.q.pop()
}

func (t *taskQueue) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.q.length
}

// close rejects future pushes. Tasks already queued may still be popped.
func (t *taskQueue) close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}

// drain runs at most the number of tasks queued at the time of the call, in
// order, so tasks queued by those tasks wait for the next drain. A limit > 0
// caps the count further. Returns the number of tasks left behind.
func (t *taskQueue) drain(limit int, run func(func())) int {
	n := t.len()
	if limit > 0 && n > limit {
		n = limit
	}
	return t.runN(n, run)
}

// runN runs at most n tasks, in order, returning the number left behind.
func (t *taskQueue) runN(n int, run func(func())) int {
	for i := 0; i < n; i++ {
		task, ok := t.pop()
		if !ok {
			break
		}
		run(task)
	}
	return t.len()
}
