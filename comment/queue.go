package comment

import "sync"

// Queue is an unbounded FIFO of comments shared between adapters and a
// scheduler. Every operation is safe for concurrent use.
//
// BBS comments are deduplicated by number against the BBS comments still
// pending, since a poll can overlap a previous one that has not drained yet.
type Queue struct {
	mu    sync.Mutex
	items []Comment
}

// NewQueue returns an empty queue.
func NewQueue() *Queue { return &Queue{} }

// Enqueue appends c and reports whether it was accepted.
func (q *Queue) Enqueue(c Comment) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.duplicateLocked(c) {
		return false
	}
	q.items = append(q.items, c)
	return true
}

// EnqueueMany appends each comment in order and returns how many were accepted.
func (q *Queue) EnqueueMany(cs []Comment) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	added := 0
	for _, c := range cs {
		if q.duplicateLocked(c) {
			continue
		}
		q.items = append(q.items, c)
		added++
	}
	return added
}

func (q *Queue) duplicateLocked(c Comment) bool {
	if c.Source != SourceBBS || !c.HasNumber() {
		return false
	}
	for _, pending := range q.items {
		if pending.Source == SourceBBS && pending.Number == c.Number {
			return true
		}
	}
	return false
}

// DrainAll removes and returns every pending comment in arrival order.
func (q *Queue) DrainAll() []Comment {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

// DrainOne removes and returns the oldest pending comment.
func (q *Queue) DrainOne() (Comment, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Comment{}, false
	}
	c := q.items[0]
	q.items[0] = Comment{}
	q.items = q.items[1:]
	return c, true
}

// Len returns the number of pending comments.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear discards every pending comment.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.items = nil
	q.mu.Unlock()
}
