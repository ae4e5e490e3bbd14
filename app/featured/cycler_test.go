package featured

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/lysyi3m/scrollfeed/app/entities"
	"github.com/lysyi3m/scrollfeed/app/feeds"
)

type mockPageFetcher struct {
	mu       sync.Mutex
	page     feeds.Page
	failures int
	requests []feeds.PageRequest
	started  chan struct{}
	release  chan struct{}
}

func (m *mockPageFetcher) FetchPage(ctx context.Context, req feeds.PageRequest) (feeds.Page, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	started, release := m.started, m.release
	m.started = nil
	fail := m.failures > 0
	if fail {
		m.failures--
	}
	m.mu.Unlock()

	if started != nil {
		close(started)
		<-release
	}
	if fail {
		return feeds.Page{}, errors.New("connection refused")
	}
	return m.page, nil
}

type mockEntityFetcher struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (m *mockEntityFetcher) FetchEntities(ctx context.Context, urns []string) ([]entities.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failures > 0 {
		m.failures--
		return nil, errors.New("upstream timeout")
	}
	out := make([]entities.Entity, len(urns))
	for i, urn := range urns {
		out[i] = entities.Entity{"urn": urn}
	}
	return out, nil
}

func (m *mockPageFetcher) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func boostPage(n int) feeds.Page {
	refs := make([]entities.FeedItemRef, n)
	for i := range refs {
		urn := fmt.Sprintf("boost:%d", i)
		refs[i] = entities.FeedItemRef{URN: urn, Entity: entities.Entity{"urn": urn}}
	}
	return feeds.Page{Entities: refs, LoadNext: "next"}
}

func TestCycler_StartConfiguresFeed(t *testing.T) {
	fetcher := &mockPageFetcher{page: boostPage(3)}
	feed := feeds.NewAggregator("featured", entities.NewCache(nil, nil), fetcher)
	cycler := NewCycler(feed)
	defer cycler.Close()

	if err := cycler.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	req := fetcher.requests[0]
	if req.Endpoint != DefaultEndpoint || req.Limit != DefaultLimit {
		t.Errorf("Expected %s with limit %d, got %+v", DefaultEndpoint, DefaultLimit, req)
	}
	if len(feed.ResolvedFeed().Get()) != 3 {
		t.Errorf("Expected 3 resolved entities, got %d", len(feed.ResolvedFeed().Get()))
	}
}

func TestCycler_WrapsAroundAndRefetches(t *testing.T) {
	fetcher := &mockPageFetcher{page: boostPage(3)}
	feed := feeds.NewAggregator("featured", entities.NewCache(nil, nil), fetcher)
	cycler := NewCycler(feed)
	defer cycler.Close()
	ctx := context.Background()

	if err := cycler.Start(ctx); err != nil {
		t.Fatal(err)
	}

	var got []string
	for i := 0; i < 4; i++ {
		entity, ok := cycler.Next(ctx)
		if !ok {
			t.Fatalf("Expected entity on call %d", i+1)
		}
		got = append(got, entity.URN())
	}

	want := []string{"boost:0", "boost:1", "boost:2", "boost:0"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Expected %v, got %v", want, got)
		}
	}
	if fetcher.calls() != 2 {
		t.Errorf("Expected wraparound to refetch once, got %d fetches", fetcher.calls())
	}
	if fetcher.requests[1].PagingToken != "" {
		t.Errorf("Expected refetch from the start, got token %q", fetcher.requests[1].PagingToken)
	}
}

func TestCycler_EmptyFeedReturnsFalse(t *testing.T) {
	fetcher := &mockPageFetcher{page: feeds.Page{Entities: []entities.FeedItemRef{}}}
	feed := feeds.NewAggregator("featured", entities.NewCache(nil, nil), fetcher)
	cycler := NewCycler(feed)
	defer cycler.Close()
	ctx := context.Background()

	if err := cycler.Start(ctx); err != nil {
		t.Fatal(err)
	}

	if entity, ok := cycler.Next(ctx); ok {
		t.Errorf("Expected false for empty feed, got %v", entity)
	}
	if cycler.Offset() != 0 {
		t.Errorf("Expected offset rewound to 0, got %d", cycler.Offset())
	}
}

func TestCycler_NoRefetchWhileFetching(t *testing.T) {
	fetcher := &mockPageFetcher{
		page:    boostPage(3),
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	started := fetcher.started
	feed := feeds.NewAggregator("featured", entities.NewCache(nil, nil), fetcher)
	cycler := NewCycler(feed)
	defer cycler.Close()
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- cycler.Start(ctx) }()
	<-started

	if _, ok := cycler.Next(ctx); ok {
		t.Error("Expected false before any page arrives")
	}
	if fetcher.calls() != 1 {
		t.Errorf("Expected no refetch while a page is loading, got %d fetches", fetcher.calls())
	}

	close(fetcher.release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}

func TestCycler_RecoversAfterFailedStart(t *testing.T) {
	fetcher := &mockPageFetcher{page: boostPage(3), failures: 1}
	feed := feeds.NewAggregator("featured", entities.NewCache(nil, nil), fetcher)
	cycler := NewCycler(feed)
	defer cycler.Close()
	ctx := context.Background()

	if err := cycler.Start(ctx); err == nil {
		t.Fatal("Expected Start to fail")
	}
	if !feed.InProgress().Get() {
		t.Fatal("Expected feed to stay in progress after a failed load")
	}

	entity, ok := cycler.Next(ctx)
	if !ok {
		t.Fatalf("Expected an entity once the transport recovers, fetches=%d", fetcher.calls())
	}
	if entity.URN() != "boost:0" {
		t.Errorf("Expected boost:0, got %s", entity.URN())
	}
}

func TestCycler_RecoversAfterEntityFetchFailure(t *testing.T) {
	refs := make([]entities.FeedItemRef, 3)
	for i := range refs {
		refs[i] = entities.FeedItemRef{URN: fmt.Sprintf("boost:%d", i)}
	}
	fetcher := &mockPageFetcher{page: feeds.Page{Entities: refs, LoadNext: "next"}}
	entityFetcher := &mockEntityFetcher{failures: 1}
	feed := feeds.NewAggregator("featured", entities.NewCache(nil, entityFetcher), fetcher)
	cycler := NewCycler(feed)
	defer cycler.Close()
	ctx := context.Background()

	if err := cycler.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if len(feed.ResolvedFeed().Get()) != 0 {
		t.Fatal("Expected empty window after the entity fetch failed")
	}

	entity, ok := cycler.Next(ctx)
	if !ok {
		t.Fatalf("Expected an entity after refetch, page fetches=%d", fetcher.calls())
	}
	if entity.URN() != "boost:0" {
		t.Errorf("Expected boost:0, got %s", entity.URN())
	}
	if fetcher.calls() != 2 || entityFetcher.calls != 2 {
		t.Errorf("Expected one refetch of page and entities, got %d and %d", fetcher.calls(), entityFetcher.calls)
	}
}

func TestCycler_Options(t *testing.T) {
	fetcher := &mockPageFetcher{page: boostPage(1)}
	feed := feeds.NewAggregator("featured", entities.NewCache(nil, nil), fetcher)
	cycler := NewCycler(feed, WithEndpoint("api/v2/feeds/featured"), WithLimit(4), WithEndpoint(""))
	defer cycler.Close()

	if err := cycler.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	req := fetcher.requests[0]
	if req.Endpoint != "api/v2/feeds/featured" || req.Limit != 4 {
		t.Errorf("Expected options applied, got %+v", req)
	}
}
