package entities

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// ResyncThreshold is the batch size below which already-cached, non-inlined
// references are refetched.
const ResyncThreshold = 20

// BlockSource supplies the blocked author guids.
type BlockSource interface {
	CurrentBlocked(ctx context.Context) ([]string, error)
}

// Fetcher loads entities by urn. Missing urns are simply left out of the result.
type Fetcher interface {
	FetchEntities(ctx context.Context, urns []string) ([]Entity, error)
}

// Cache is the urn-keyed table of shared entity cells. Entries are never evicted.
type Cache struct {
	blocks  BlockSource
	fetcher Fetcher
	group   singleflight.Group

	mu    sync.RWMutex
	table map[string]*CachedEntity
}

func NewCache(blocks BlockSource, fetcher Fetcher) *Cache {
	return &Cache{
		blocks:  blocks,
		fetcher: fetcher,
		table:   make(map[string]*CachedEntity),
	}
}

// Upsert stores entity under its urn and returns the shared cell. A tombstoned
// cell keeps its Absent state. Entities without a urn are ignored.
func (c *Cache) Upsert(entity Entity) *CachedEntity {
	urn := entity.URN()
	if urn == "" {
		return nil
	}

	cached := c.cell(urn)
	if !cached.store(entity) {
		slog.Debug("Ignoring update for missing entity", "urn", urn)
	}
	return cached
}

// MarkNotFound transitions the urn's cell to Absent, creating it if needed.
func (c *Cache) MarkNotFound(urn string) *CachedEntity {
	cached := c.cell(urn)
	cached.tombstone()
	return cached
}

func (c *Cache) Lookup(urn string) (*CachedEntity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cached, ok := c.table[urn]
	return cached, ok
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.table)
}

// Resolve turns a batch of references into the cached cells that are present
// and not authored by a blocked guid, in input order.
func (c *Cache) Resolve(ctx context.Context, refs []FeedItemRef) ([]*CachedEntity, error) {
	if len(refs) == 0 {
		return nil, nil
	}

	blocked, err := c.blockedSet(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read block list: %w", err)
	}

	var unseen, resync []string
	queued := make(map[string]struct{})
	queue := func(list *[]string, urn string) {
		if _, ok := queued[urn]; ok {
			return
		}
		queued[urn] = struct{}{}
		*list = append(*list, urn)
	}

	for _, ref := range refs {
		if ref.URN == "" {
			continue
		}
		if ref.Entity != nil {
			c.Upsert(ref.Entity.withURN(ref.URN))
		}

		cached, ok := c.Lookup(ref.URN)
		switch {
		case !ok || cached.State() == Unset:
			c.cell(ref.URN)
			queue(&unseen, ref.URN)
		case ref.Entity == nil && len(refs) < ResyncThreshold && cached.State() == Present:
			queue(&resync, ref.URN)
		}
	}

	c.fetch(ctx, unseen, resync)

	result := make([]*CachedEntity, 0, len(refs))
	kept := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		if _, ok := kept[ref.URN]; ok {
			continue
		}
		cached, ok := c.Lookup(ref.URN)
		if !ok {
			continue
		}
		if _, ok := blocked[ref.OwnerGUID]; ok && ref.OwnerGUID != "" {
			continue
		}
		if cached.State() != Present {
			continue
		}
		kept[ref.URN] = struct{}{}
		result = append(result, cached)
	}

	return result, nil
}

// fetch loads unseen and resync urns in one call. Unseen urns the fetcher does
// not return are tombstoned. A transport failure leaves every cell untouched.
func (c *Cache) fetch(ctx context.Context, unseen, resync []string) {
	if c.fetcher == nil {
		return
	}

	urns := append(append([]string{}, unseen...), resync...)
	if len(urns) == 0 {
		return
	}

	v, err, shared := c.group.Do(strings.Join(urns, ","), func() (any, error) {
		return c.fetcher.FetchEntities(ctx, urns)
	})
	if err != nil {
		slog.Warn("Entity fetch failed", "urns", len(urns), "error", err)
		return
	}

	fetched, _ := v.([]Entity)
	returned := make(map[string]struct{}, len(fetched))
	for _, entity := range fetched {
		if c.Upsert(entity) != nil {
			returned[entity.URN()] = struct{}{}
		}
	}

	missing := 0
	for _, urn := range unseen {
		if _, ok := returned[urn]; !ok {
			c.MarkNotFound(urn)
			missing++
		}
	}

	slog.Debug("Entities fetched",
		"requested", len(urns), "returned", len(fetched), "missing", missing, "shared", shared)
}

func (c *Cache) blockedSet(ctx context.Context) (map[string]struct{}, error) {
	if c.blocks == nil {
		return nil, nil
	}
	guids, err := c.blocks.CurrentBlocked(ctx)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(guids))
	for _, guid := range guids {
		set[guid] = struct{}{}
	}
	return set, nil
}

// cell returns the cell for urn, creating an Unset one on first reference.
func (c *Cache) cell(urn string) *CachedEntity {
	c.mu.RLock()
	cached, ok := c.table[urn]
	c.mu.RUnlock()
	if ok {
		return cached
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if cached, ok := c.table[urn]; ok {
		return cached
	}
	cached = newCachedEntity(urn)
	c.table[urn] = cached
	return cached
}
