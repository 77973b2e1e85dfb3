// Package feed provides a multicast value feed that replays its latest value to new
// subscribers. Publishing never blocks: a subscriber that falls behind loses the oldest
// pending values, never the newest.
package feed

import "sync"

// Feed broadcasts values of type T to any number of subscribers.
type Feed[T any] struct {
	mu      sync.Mutex
	current T
	depth   int
	subs    map[*Subscription[T]]struct{}
	closed  bool
}

// New creates a feed holding initial as its current value. depth is the number of values
// buffered per subscriber; 1 makes subscribers observe only the latest value.
func New[T any](initial T, depth int) *Feed[T] {
	if depth < 1 {
		depth = 1
	}
	return &Feed[T]{
		current: initial,
		depth:   depth,
		subs:    make(map[*Subscription[T]]struct{}),
	}
}

// Publish sets the current value and delivers it to every subscriber.
// Publishing on a closed feed is a no-op.
func (f *Feed[T]) Publish(v T) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.current = v
	for s := range f.subs {
		offer(s.ch, v)
	}
}

// Current returns the most recently published value.
func (f *Feed[T]) Current() T {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// Subscribe registers a subscriber; the current value is queued immediately.
// Subscribing to a closed feed yields the current value followed by a closed channel.
func (f *Feed[T]) Subscribe() *Subscription[T] {
	f.mu.Lock()
	defer f.mu.Unlock()

	s := &Subscription[T]{ch: make(chan T, f.depth)}
	s.ch <- f.current
	if f.closed {
		close(s.ch)
		s.cancel = func() {}
		return s
	}

	f.subs[s] = struct{}{}
	s.cancel = func() { f.remove(s) }
	return s
}

// Len returns the number of live subscribers.
func (f *Feed[T]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Close releases every subscriber. It is safe to call more than once.
func (f *Feed[T]) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true
	for s := range f.subs {
		close(s.ch)
	}
	clear(f.subs)
}

func (f *Feed[T]) remove(s *Subscription[T]) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.subs[s]; ok {
		delete(f.subs, s)
		close(s.ch)
	}
}

// Subscription receives the values of a feed on C until it is cancelled or the feed closes.
type Subscription[T any] struct {
	ch     chan T
	cancel func()
	once   sync.Once
}

// C returns the receive channel. It is closed when the subscription ends.
func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

// Unsubscribe stops delivery and closes C. It is safe to call more than once.
func (s *Subscription[T]) Unsubscribe() {
	s.once.Do(s.cancel)
}

// Derive returns a subscription yielding fn applied to every value of src.
// Unsubscribing the derived subscription unsubscribes src.
func Derive[T, U any](src *Subscription[T], fn func(T) U) *Subscription[U] {
	out := &Subscription[U]{
		ch:     make(chan U, cap(src.ch)),
		cancel: src.Unsubscribe,
	}

	go func() {
		defer close(out.ch)
		for v := range src.ch {
			offer(out.ch, fn(v))
		}
	}()

	return out
}

// offer queues v on ch, dropping the oldest queued value when ch is full.
// Callers must be the only sender on ch.
func offer[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
