package stream

import "sync"

// Derived is a distinct cell recomputed from its dependencies.
type Derived[T comparable] struct {
	*Cell[T]

	compute func() T
	mu      sync.Mutex
	cancels []func()
}

// Derive returns a cell holding compute() that is recomputed every time one of
// deps changes. compute must read the dependencies' current values itself, so
// a recomputation always sees the latest combination rather than the value
// carried by the triggering notification.
func Derive[T comparable](compute func() T, deps ...Observable) *Derived[T] {
	d := &Derived[T]{
		Cell:    NewDistinct(compute()),
		compute: compute,
	}
	for _, dep := range deps {
		d.cancels = append(d.cancels, dep.Observe(d.recompute))
	}
	return d
}

func (d *Derived[T]) recompute() {
	d.Set(d.compute())
}

// Stop detaches the derived cell from its dependencies. The last value stays readable.
func (d *Derived[T]) Stop() {
	d.mu.Lock()
	cancels := d.cancels
	d.cancels = nil
	d.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}
