package event

import (
	"slices"
	"sync"

	"github.com/google/uuid"
)

// Source broadcasts events of type T to registered observers. Handlers are
// called synchronously on the broadcasting goroutine, outside the source's
// lock, so a handler may subscribe or unsubscribe.
type Source[T any] struct {
	mu       sync.Mutex
	handlers []*Subscription
	fns      map[*Subscription]func(T)
}

// Subscription is the token returned by Subscribe. Its owner must call
// Unsubscribe before the handler's captured state goes away.
type Subscription struct {
	id     string
	cancel func()
	once   sync.Once
}

func (s *Subscription) ID() string { return s.id }

// Unsubscribe detaches the handler. Calling it more than once is a no-op.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(s.cancel)
}

func NewSource[T any]() *Source[T] {
	return &Source[T]{fns: make(map[*Subscription]func(T))}
}

func (src *Source[T]) Subscribe(fn func(T)) *Subscription {
	sub := &Subscription{id: uuid.NewString()}
	sub.cancel = func() {
		src.mu.Lock()
		defer src.mu.Unlock()
		delete(src.fns, sub)
		src.handlers = slices.DeleteFunc(src.handlers, func(s *Subscription) bool { return s == sub })
	}
	src.mu.Lock()
	src.handlers = append(src.handlers, sub)
	src.fns[sub] = fn
	src.mu.Unlock()
	return sub
}

// Broadcast copies the handler list and calls each handler in subscription
// order. Handlers removed during the broadcast are skipped.
func (src *Source[T]) Broadcast(ev T) {
	src.mu.Lock()
	subs := slices.Clone(src.handlers)
	src.mu.Unlock()

	for _, sub := range subs {
		src.mu.Lock()
		fn, ok := src.fns[sub]
		src.mu.Unlock()
		if ok {
			fn(ev)
		}
	}
}

func (src *Source[T]) Len() int {
	src.mu.Lock()
	defer src.mu.Unlock()
	return len(src.handlers)
}
