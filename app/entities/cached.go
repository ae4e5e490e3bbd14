package entities

import (
	"context"
	"errors"
	"fmt"

	"github.com/lysyi3m/scrollfeed/app/stream"
)

var ErrNotFound = errors.New("entity not found")

type State int

const (
	Unset State = iota
	Present
	Absent
)

func (s State) String() string {
	switch s {
	case Present:
		return "present"
	case Absent:
		return "absent"
	default:
		return "unset"
	}
}

// Snapshot is the value carried by a CachedEntity cell.
type Snapshot struct {
	Entity Entity
	State  State
}

// CachedEntity is the single shared cell for one urn. Its identity never
// changes once created; updates are written into it in place.
type CachedEntity struct {
	urn  string
	cell *stream.Cell[Snapshot]
}

func newCachedEntity(urn string) *CachedEntity {
	return &CachedEntity{
		urn: urn,
		cell: stream.NewCellFunc(Snapshot{}, func(a, b Snapshot) bool {
			return a.State == Absent && b.State == Absent
		}),
	}
}

func (c *CachedEntity) URN() string {
	return c.urn
}

// Peek returns the current snapshot without waiting.
func (c *CachedEntity) Peek() Snapshot {
	return c.cell.Get()
}

func (c *CachedEntity) State() State {
	return c.cell.Get().State
}

// Get waits until the entity is Present or Absent. Absent entities return
// ErrNotFound.
func (c *CachedEntity) Get(ctx context.Context) (Entity, error) {
	settled := make(chan Snapshot, 1)
	cancel := c.cell.Subscribe(func(s Snapshot) {
		if s.State == Unset {
			return
		}
		select {
		case settled <- s:
		default:
		}
	})
	defer cancel()

	select {
	case s := <-settled:
		if s.State == Absent {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, c.urn)
		}
		return s.Entity, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Subscribe replays the current snapshot and reports every later write.
func (c *CachedEntity) Subscribe(fn func(Snapshot)) (cancel func()) {
	return c.cell.Subscribe(fn)
}

// store writes entity into the cell unless it has been tombstoned.
func (c *CachedEntity) store(entity Entity) bool {
	stored := false
	c.cell.Update(func(cur Snapshot) Snapshot {
		if cur.State == Absent {
			return cur
		}
		stored = true
		return Snapshot{Entity: entity, State: Present}
	})
	return stored
}

func (c *CachedEntity) tombstone() {
	c.cell.Set(Snapshot{State: Absent})
}
