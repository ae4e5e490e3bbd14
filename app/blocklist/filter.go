package blocklist

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/lysyi3m/scrollfeed/app/stream"
)

// Store persists the blocked set. The filter only consumes it; it never
// depends on a store being attached.
type Store interface {
	ListBlocked(ctx context.Context) ([]string, error)
	ReplaceBlocked(ctx context.Context, guids []string) error
}

// Filter holds the blocked author guids as a reactive cell.
type Filter struct {
	blocked *stream.Cell[[]string]
	store   Store

	mu  sync.RWMutex
	set map[string]struct{}
}

func NewFilter(initial ...string) *Filter {
	f := &Filter{
		blocked: stream.NewCell[[]string](nil),
		set:     make(map[string]struct{}),
	}
	f.SetBlocked(initial)
	return f
}

// WithStore attaches the persistence collaborator used by Sync, Prune, Block and Unblock.
func (f *Filter) WithStore(store Store) *Filter {
	f.store = store
	return f
}

// CurrentBlocked returns a copy of the latest blocked set.
func (f *Filter) CurrentBlocked(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return slices.Clone(f.blocked.Get()), nil
}

// SetBlocked replaces the blocked set and notifies subscribers.
func (f *Filter) SetBlocked(guids []string) {
	next := normalize(guids)

	f.blocked.Update(func([]string) []string {
		set := make(map[string]struct{}, len(next))
		for _, guid := range next {
			set[guid] = struct{}{}
		}
		f.mu.Lock()
		f.set = set
		f.mu.Unlock()
		return next
	})
}

func (f *Filter) IsBlocked(guid string) bool {
	if guid == "" {
		return false
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.set[guid]
	return ok
}

// Subscribe calls fn with the current set and on every replacement.
func (f *Filter) Subscribe(fn func([]string)) (cancel func()) {
	return f.blocked.Subscribe(fn)
}

func (f *Filter) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.set)
}

// Sync loads the persisted set. On failure the prior value stays in place.
func (f *Filter) Sync(ctx context.Context) error {
	if f.store == nil {
		return nil
	}

	guids, err := f.store.ListBlocked(ctx)
	if err != nil {
		return fmt.Errorf("failed to load blocked authors: %w", err)
	}

	f.SetBlocked(guids)
	slog.Debug("Block list synced", "blocked", len(guids))
	return nil
}

// Prune rewrites the persisted set from memory, dropping rows that are no longer blocked.
func (f *Filter) Prune(ctx context.Context) error {
	if f.store == nil {
		return nil
	}

	current, err := f.CurrentBlocked(ctx)
	if err != nil {
		return err
	}

	if err := f.store.ReplaceBlocked(ctx, current); err != nil {
		return fmt.Errorf("failed to prune blocked authors: %w", err)
	}
	return nil
}

func (f *Filter) Block(ctx context.Context, guid string) error {
	if guid == "" || f.IsBlocked(guid) {
		return nil
	}
	return f.Replace(ctx, append(slices.Clone(f.blocked.Get()), guid))
}

func (f *Filter) Unblock(ctx context.Context, guid string) error {
	if !f.IsBlocked(guid) {
		return nil
	}
	next := slices.DeleteFunc(slices.Clone(f.blocked.Get()), func(g string) bool { return g == guid })
	return f.Replace(ctx, next)
}

// Replace persists guids as the whole blocked set, then publishes it.
func (f *Filter) Replace(ctx context.Context, guids []string) error {
	if f.store != nil {
		if err := f.store.ReplaceBlocked(ctx, normalize(guids)); err != nil {
			return fmt.Errorf("failed to persist blocked authors: %w", err)
		}
	}
	f.SetBlocked(guids)
	return nil
}

// normalize drops empty and duplicate guids, keeping first occurrences in order.
func normalize(guids []string) []string {
	out := make([]string, 0, len(guids))
	seen := make(map[string]struct{}, len(guids))
	for _, guid := range guids {
		if guid == "" {
			continue
		}
		if _, ok := seen[guid]; ok {
			continue
		}
		seen[guid] = struct{}{}
		out = append(out, guid)
	}
	return out
}
