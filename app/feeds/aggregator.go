package feeds

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/lysyi3m/scrollfeed/app/entities"
	"github.com/lysyi3m/scrollfeed/app/stream"
)

const DefaultLimit = 12

// Aggregator pages a remote feed into an append-only buffer and publishes the
// resolved window [0, limit+offset) of that buffer.
type Aggregator struct {
	name    string
	cache   *entities.Cache
	fetcher PageFetcher

	limit      *stream.Cell[int]
	offset     *stream.Cell[int]
	raw        *stream.Cell[[]entities.FeedItemRef]
	resolved   *stream.Cell[[]*entities.CachedEntity]
	inProgress *stream.Cell[bool]
	hasMore    *stream.Derived[bool]

	mu               sync.Mutex
	endpoint         string
	params           map[string]string
	castToActivities bool
	pagingToken      string
	canFetchMore     bool
	loading          bool
	generation       uint64

	fetching atomic.Int32

	publishMu  sync.Mutex
	resolveSeq uint64
}

// State is a point-in-time view of an aggregator.
type State struct {
	Name         string `json:"name"`
	Endpoint     string `json:"endpoint"`
	Limit        int    `json:"limit"`
	Offset       int    `json:"offset"`
	PageSize     int    `json:"page_size"`
	Buffered     int    `json:"buffered"`
	Resolved     int    `json:"resolved"`
	InProgress   bool   `json:"in_progress"`
	HasMore      bool   `json:"has_more"`
	CanFetchMore bool   `json:"can_fetch_more"`
	PagingToken  string `json:"paging_token,omitempty"`
}

func NewAggregator(name string, cache *entities.Cache, fetcher PageFetcher) *Aggregator {
	a := &Aggregator{
		name:         name,
		cache:        cache,
		fetcher:      fetcher,
		limit:        stream.NewDistinct(DefaultLimit),
		offset:       stream.NewDistinct(0),
		raw:          stream.NewCell[[]entities.FeedItemRef](nil),
		resolved:     stream.NewCell[[]*entities.CachedEntity](nil),
		inProgress:   stream.NewDistinct(true),
		params:       map[string]string{"sync": "1"},
		canFetchMore: true,
	}
	a.hasMore = stream.Derive(func() bool {
		return a.inProgress.Get() || len(a.raw.Get()) > a.offset.Get()
	}, a.raw, a.inProgress, a.offset)
	return a
}

func (a *Aggregator) Name() string {
	return a.name
}

func (a *Aggregator) SetEndpoint(endpoint string) *Aggregator {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.endpoint = endpoint
	return a
}

func (a *Aggregator) SetLimit(limit int) *Aggregator {
	a.limit.Set(limit)
	return a
}

func (a *Aggregator) SetOffset(offset int) *Aggregator {
	a.offset.Set(offset)
	return a
}

// SetParams replaces the transport parameters. sync=1 is added when missing.
func (a *Aggregator) SetParams(params map[string]string) *Aggregator {
	next := maps.Clone(params)
	if next == nil {
		next = make(map[string]string)
	}
	if next["sync"] == "" {
		next["sync"] = "1"
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.params = next
	return a
}

func (a *Aggregator) SetCastToActivities(cast bool) *Aggregator {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.castToActivities = cast
	return a
}

func (a *Aggregator) PageSize() int {
	return a.limit.Get() + a.offset.Get()
}

// ResolvedFeed is the published window of resolved entities.
func (a *Aggregator) ResolvedFeed() *stream.Cell[[]*entities.CachedEntity] {
	return a.resolved
}

func (a *Aggregator) RawFeed() *stream.Cell[[]entities.FeedItemRef] {
	return a.raw
}

func (a *Aggregator) InProgress() *stream.Cell[bool] {
	return a.inProgress
}

// HasMore is true while a load is in progress or the buffer extends past the offset.
func (a *Aggregator) HasMore() *stream.Derived[bool] {
	return a.hasMore
}

func (a *Aggregator) Snapshot() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return State{
		Name:         a.name,
		Endpoint:     a.endpoint,
		Limit:        a.limit.Get(),
		Offset:       a.offset.Get(),
		PageSize:     a.PageSize(),
		Buffered:     len(a.raw.Get()),
		Resolved:     len(a.resolved.Get()),
		InProgress:   a.inProgress.Get(),
		HasMore:      a.hasMore.Get(),
		CanFetchMore: a.canFetchMore,
		PagingToken:  a.pagingToken,
	}
}

// IngestPage applies one transport response to the buffer.
func (a *Aggregator) IngestPage(ctx context.Context, page Page) {
	a.mu.Lock()
	generation := a.generation
	a.mu.Unlock()

	a.ingest(ctx, page, generation)
}

// Fetch requests the next page from the transport and ingests it. Pages that
// arrive after a Clear are dropped.
func (a *Aggregator) Fetch(ctx context.Context) error {
	if a.fetcher == nil {
		return fmt.Errorf("feed %s has no page fetcher", a.name)
	}

	a.fetching.Add(1)
	defer a.fetching.Add(-1)

	a.mu.Lock()
	req := a.pageRequestLocked()
	generation := a.generation
	a.mu.Unlock()

	requestID := uuid.NewString()
	slog.Debug("Fetching feed page", "feed", a.name, "request_id", requestID,
		"endpoint", req.Endpoint, "paging_token", req.PagingToken)

	page, err := a.fetcher.FetchPage(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to fetch page for feed %s: %w", a.name, err)
	}

	if !a.ingest(ctx, page, generation) {
		slog.Debug("Dropped page fetched before clear", "feed", a.name, "request_id", requestID)
	}
	return nil
}

// Fetching reports whether a page request is in flight. Unlike InProgress it
// does not stay set after a failed load.
func (a *Aggregator) Fetching() bool {
	return a.fetching.Load() > 0
}

// LoadMore advances the window by one limit. It does nothing while a load is
// in progress. The next page is fetched when the buffer does not cover the new
// window and the feed has not been exhausted.
func (a *Aggregator) LoadMore(ctx context.Context) error {
	a.mu.Lock()
	if a.inProgress.Get() || a.loading {
		a.mu.Unlock()
		return nil
	}
	a.loading = true

	previous := a.offset.Get()
	next := previous + a.limit.Get()
	a.offset.Set(next)
	needsFetch := len(a.raw.Get()) < next+a.limit.Get() && a.canFetchMore && a.fetcher != nil
	generation := a.generation
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.loading = false
		a.mu.Unlock()
	}()

	seq := a.currentSeq()
	if needsFetch {
		if err := a.Fetch(ctx); err != nil {
			// A Clear during the fetch already rewound the window.
			a.mu.Lock()
			if a.generation == generation {
				a.offset.Set(previous)
			}
			a.mu.Unlock()
			return err
		}
	}

	// An ingested page already resolved the new window.
	if a.currentSeq() == seq {
		a.recompute(ctx)
	}
	return nil
}

// Clear empties the buffer and rewinds the window. Pages requested before the
// clear are discarded when they arrive.
func (a *Aggregator) Clear() {
	a.mu.Lock()
	a.generation++
	a.pagingToken = ""
	a.canFetchMore = true
	a.offset.Set(0)
	a.raw.Set(nil)
	a.mu.Unlock()

	a.recompute(context.Background())
}

// Close detaches the derived hasMore cell.
func (a *Aggregator) Close() {
	a.hasMore.Stop()
}

func (a *Aggregator) ingest(ctx context.Context, page Page, generation uint64) bool {
	items := page.Items()

	a.mu.Lock()
	if generation != a.generation {
		a.mu.Unlock()
		return false
	}
	if len(items) > 0 {
		a.pagingToken = page.LoadNext
	} else {
		a.canFetchMore = false
	}
	firstPage := a.offset.Get() == 0
	a.mu.Unlock()

	if firstPage {
		a.inProgress.Set(false)
	}

	if len(items) == 0 {
		slog.Debug("Feed exhausted", "feed", a.name)
		return true
	}

	a.mu.Lock()
	if generation != a.generation {
		a.mu.Unlock()
		return false
	}
	a.raw.Update(func(current []entities.FeedItemRef) []entities.FeedItemRef {
		return slices.Concat(current, items)
	})
	a.mu.Unlock()

	slog.Debug("Feed page ingested", "feed", a.name, "items", len(items), "buffered", len(a.raw.Get()))
	a.recompute(ctx)
	return true
}

// recompute resolves the current window and publishes it. A later call
// supersedes one still resolving.
func (a *Aggregator) recompute(ctx context.Context) {
	a.publishMu.Lock()
	a.resolveSeq++
	seq := a.resolveSeq
	a.publishMu.Unlock()

	raw := a.raw.Get()
	window := raw[:min(len(raw), max(a.PageSize(), 0))]
	if len(window) > 0 {
		a.inProgress.Set(true)
	}

	resolved, err := a.cache.Resolve(ctx, window)
	if err != nil {
		slog.Warn("Failed to resolve feed window", "feed", a.name, "error", err)
		return
	}

	a.publishMu.Lock()
	defer a.publishMu.Unlock()
	if seq != a.resolveSeq {
		slog.Debug("Discarding superseded resolution", "feed", a.name)
		return
	}

	a.resolved.Set(resolved)
	if len(resolved) > 0 {
		a.inProgress.Set(false)
	}
}

func (a *Aggregator) currentSeq() uint64 {
	a.publishMu.Lock()
	defer a.publishMu.Unlock()
	return a.resolveSeq
}

func (a *Aggregator) pageRequestLocked() PageRequest {
	params := maps.Clone(a.params)
	if a.castToActivities {
		params["as_activities"] = "1"
	}
	return PageRequest{
		Endpoint:    a.endpoint,
		Params:      params,
		Limit:       a.limit.Get(),
		PagingToken: a.pagingToken,
	}
}
