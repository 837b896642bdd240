package event

import "sync"

// Queue is a double-buffered event queue. Events emitted during frame N are
// delivered by Drain after the SwapBuffers call that starts frame N+1.
// Emit may be called from any goroutine; SwapBuffers and Drain belong to
// the consuming loop.
type Queue[T any] struct {
	mu    sync.Mutex // protects back
	front []T
	back  []T
}

func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{
		front: make([]T, 0, 16),
		back:  make([]T, 0, 16),
	}
}

// Emit queues an event into the back buffer.
func (q *Queue[T]) Emit(ev T) {
	q.mu.Lock()
	q.back = append(q.back, ev)
	q.mu.Unlock()
}

// SwapBuffers rotates back→front and clears the new back buffer.
func (q *Queue[T]) SwapBuffers() {
	q.mu.Lock()
	q.front, q.back = q.back, q.front[:0]
	q.mu.Unlock()
}

// Drain delivers the front buffer in emission order and empties it.
func (q *Queue[T]) Drain(fn func(T)) {
	for _, ev := range q.front {
		fn(ev)
	}
	clear(q.front)
	q.front = q.front[:0]
}

// Pending reports how many events wait in the back buffer.
func (q *Queue[T]) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.back)
}
