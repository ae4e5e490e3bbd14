// Package stream provides the reactive cells the feed stores are built on.
//
// A Cell holds a current value and an ordered list of subscribers. Set stores a
// new value and calls every subscriber synchronously, in Set order. Subscribe
// replays the current value to the new subscriber before returning, so a
// subscriber never misses the state that was current when it registered.
package stream

import (
	"slices"
	"sync"
)

// Observable is a source that can announce a change without exposing its type.
// Derive uses it to watch cells of different element types.
type Observable interface {
	Observe(fn func()) (cancel func())
}

type subscriber[T any] struct {
	id uint64
	fn func(T)
}

// Cell is a last-value-replaying reactive slot.
//
// Subscribers must not Set or Subscribe to the cell that is currently
// notifying them.
type Cell[T any] struct {
	dispatch sync.Mutex // serialises notification rounds

	mu     sync.Mutex
	value  T
	equal  func(a, b T) bool
	subs   []subscriber[T]
	nextID uint64
}

func NewCell[T any](initial T) *Cell[T] {
	return &Cell[T]{value: initial}
}

// NewDistinct returns a cell that drops writes equal to the current value.
func NewDistinct[T comparable](initial T) *Cell[T] {
	c := NewCell(initial)
	c.equal = func(a, b T) bool { return a == b }
	return c
}

func (c *Cell[T]) Get() T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Set stores v and notifies subscribers. It reports whether subscribers were notified.
func (c *Cell[T]) Set(v T) bool {
	return c.Update(func(T) T { return v })
}

// Update replaces the value with fn(current) atomically with respect to other
// writers and notifies subscribers with the result.
func (c *Cell[T]) Update(fn func(T) T) bool {
	c.dispatch.Lock()
	defer c.dispatch.Unlock()

	c.mu.Lock()
	next := fn(c.value)
	if c.equal != nil && c.equal(c.value, next) {
		c.mu.Unlock()
		return false
	}
	c.value = next
	subs := slices.Clone(c.subs)
	c.mu.Unlock()

	for _, s := range subs {
		s.fn(next)
	}
	return true
}

// Subscribe registers fn and immediately calls it with the current value.
// The returned function removes the subscription; calling it twice is safe.
func (c *Cell[T]) Subscribe(fn func(T)) (cancel func()) {
	c.dispatch.Lock()
	defer c.dispatch.Unlock()

	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.subs = append(c.subs, subscriber[T]{id: id, fn: fn})
	current := c.value
	c.mu.Unlock()

	fn(current)

	var once sync.Once
	return func() {
		once.Do(func() { c.remove(id) })
	}
}

func (c *Cell[T]) Observe(fn func()) (cancel func()) {
	return c.Subscribe(func(T) { fn() })
}

// Subscribers returns the number of live subscriptions.
func (c *Cell[T]) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

func (c *Cell[T]) remove(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = slices.DeleteFunc(c.subs, func(s subscriber[T]) bool { return s.id == id })
}

// NewCellFunc returns a cell that drops writes for which equal(current, next) is true.
func NewCellFunc[T any](initial T, equal func(a, b T) bool) *Cell[T] {
	c := NewCell(initial)
	c.equal = equal
	return c
}
