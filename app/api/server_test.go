package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/lysyi3m/scrollfeed/app/blocklist"
	"github.com/lysyi3m/scrollfeed/app/entities"
	"github.com/lysyi3m/scrollfeed/app/feeds"
	"github.com/lysyi3m/scrollfeed/app/tasks"
)

type pageSource struct {
	pages []feeds.Page
}

func (p *pageSource) FetchPage(ctx context.Context, req feeds.PageRequest) (feeds.Page, error) {
	if len(p.pages) == 0 {
		return feeds.Page{Entities: []entities.FeedItemRef{}}, nil
	}
	page := p.pages[0]
	p.pages = p.pages[1:]
	return page, nil
}

type noopFetcher struct{}

func (noopFetcher) FetchEntities(ctx context.Context, urns []string) ([]entities.Entity, error) {
	return nil, nil
}

type feedMap map[string]*feeds.Aggregator

func (m feedMap) Get(name string) (*feeds.Aggregator, bool) {
	a, ok := m[name]
	return a, ok
}

func (m feedMap) Names() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	return names
}

type stubFeatured struct {
	items []entities.Entity
}

func (s *stubFeatured) Next(ctx context.Context) (entities.Entity, bool) {
	if len(s.items) == 0 {
		return nil, false
	}
	item := s.items[0]
	s.items = s.items[1:]
	return item, true
}

type recordingScheduler struct {
	queued []tasks.TaskInterface
}

func (r *recordingScheduler) Start() error { return nil }
func (r *recordingScheduler) Stop()        {}
func (r *recordingScheduler) EnqueueTask(task tasks.TaskInterface) error {
	r.queued = append(r.queued, task)
	return nil
}

func refs(owners ...string) []entities.FeedItemRef {
	out := make([]entities.FeedItemRef, len(owners))
	for i, owner := range owners {
		urn := fmt.Sprintf("urn:%d", i)
		out[i] = entities.FeedItemRef{
			URN:       urn,
			OwnerGUID: owner,
			Entity:    entities.Entity{"urn": urn, "owner_guid": owner, "title": "Post " + urn},
		}
	}
	return out
}

func setupServer(t *testing.T, opts ...HandlerOption) (*gin.Engine, *blocklist.Filter, *feeds.Aggregator) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	filter := blocklist.NewFilter("bad")
	cache := entities.NewCache(filter, noopFetcher{})
	source := &pageSource{pages: []feeds.Page{
		{Entities: refs("a", "bad", "b"), LoadNext: "t1"},
		{Entities: refs("c"), LoadNext: "t2"},
	}}
	aggregator := feeds.NewAggregator("newsfeed", cache, source).SetEndpoint("api/v2/feeds").SetLimit(3)
	t.Cleanup(aggregator.Close)

	if err := aggregator.Fetch(context.Background()); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	handler := NewHandler(feedMap{"newsfeed": aggregator}, filter, opts...)
	return NewServer(handler, "secret"), filter, aggregator
}

func TestHealth(t *testing.T) {
	router, _, _ := setupServer(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["feeds"] != float64(1) || body["blocked"] != float64(1) {
		t.Errorf("Unexpected health body: %v", body)
	}
}

func TestGetFeedExcludesBlockedAuthors(t *testing.T) {
	router, _, _ := setupServer(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/feeds/newsfeed", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var body struct {
		Feed  feeds.State       `json:"feed"`
		Items []entities.Entity `json:"items"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(body.Items))
	}
	for _, item := range body.Items {
		if item["owner_guid"] == "bad" {
			t.Error("Blocked author leaked into response")
		}
	}
	if body.Feed.Name != "newsfeed" || body.Feed.InProgress {
		t.Errorf("Unexpected feed state: %+v", body.Feed)
	}
}

func TestGetFeedNotFound(t *testing.T) {
	router, _, _ := setupServer(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/feeds/missing", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestGetFeedRSS(t *testing.T) {
	router, _, _ := setupServer(t, WithBaseURL("https://feeds.example.com/"))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/feeds/newsfeed/rss", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if got := w.Header().Get("X-Feed-Items"); got != "2" {
		t.Errorf("Expected X-Feed-Items 2, got %s", got)
	}
	if !strings.Contains(w.Body.String(), "https://feeds.example.com/feeds/newsfeed/rss") {
		t.Error("Expected self link in RSS output")
	}
}

func TestLoadMore(t *testing.T) {
	router, _, aggregator := setupServer(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/feeds/newsfeed/more", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if state := aggregator.Snapshot(); state.Offset != 3 || state.Buffered != 4 {
		t.Errorf("Unexpected state after load more: %+v", state)
	}
}

func TestRefreshEnqueuesTask(t *testing.T) {
	scheduler := &recordingScheduler{}
	router, _, _ := setupServer(t, WithScheduler(scheduler, nil))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/feeds/newsfeed/refresh", nil))

	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", w.Code)
	}
	if len(scheduler.queued) != 1 || scheduler.queued[0].GetType() != tasks.TaskTypeRefreshFeed {
		t.Errorf("Expected one refresh task, got %v", scheduler.queued)
	}
}

func TestNextFeatured(t *testing.T) {
	featured := &stubFeatured{items: []entities.Entity{{"urn": "urn:boost"}}}
	router, _, _ := setupServer(t, WithFeatured(featured))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/featured/next", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "urn:boost") {
		t.Fatalf("Unexpected response: %d %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/featured/next", nil))
	if w.Code != http.StatusNoContent {
		t.Errorf("Expected 204 when exhausted, got %d", w.Code)
	}
}

func TestBlockedRequiresAPIKey(t *testing.T) {
	router, _, _ := setupServer(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/blocked", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without key, got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/blocked", nil)
	req.Header.Set("X-API-Key", "wrong")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 with wrong key, got %d", w.Code)
	}
}

func TestBlockAndUnblock(t *testing.T) {
	router, filter, _ := setupServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/blocked/a", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if !filter.IsBlocked("a") {
		t.Error("Expected a to be blocked")
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/blocked/a", nil)
	req.Header.Set("X-API-Key", "secret")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK || filter.IsBlocked("a") {
		t.Errorf("Expected a to be unblocked, got %d", w.Code)
	}
}

func TestReplaceBlocked(t *testing.T) {
	router, filter, _ := setupServer(t)

	req := httptest.NewRequest(http.MethodPut, "/api/blocked", strings.NewReader(`{"guids":["x","y","x"]}`))
	req.Header.Set("X-API-Key", "secret")
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if filter.Len() != 2 || filter.IsBlocked("bad") {
		t.Errorf("Expected block list [x y], got len %d", filter.Len())
	}

	req = httptest.NewRequest(http.MethodPut, "/api/blocked", strings.NewReader(`{}`))
	req.Header.Set("X-API-Key", "secret")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing guids, got %d", w.Code)
	}
}
