package feeds

import (
	"context"
	"testing"

	"github.com/lysyi3m/scrollfeed/app/entities"
)

func TestRegistryBuildsEnabledFeeds(t *testing.T) {
	tempDir := t.TempDir()
	writeConfig(t, tempDir, "boost", `
endpoint: "api/v2/boost/feed"
settings:
  enabled: true
  featured: true
  limit: 6
`)
	writeConfig(t, tempDir, "news", `
endpoint: "https://example.com/feed.xml"
source: rss
settings:
  enabled: true
  extract_content: true
`)
	writeConfig(t, tempDir, "disabled", "endpoint: x\n")

	configs := NewConfigCache(tempDir)
	if err := configs.Run(); err != nil {
		t.Fatal(err)
	}

	api := &mockPageFetcher{}
	rss := &mockPageFetcher{}
	registry := NewRegistry(configs, entities.NewCache(nil, nil), map[string]PageFetcher{
		SourceAPI: api,
		SourceRSS: rss,
	})
	defer registry.Close()

	if err := registry.Build(); err != nil {
		t.Fatal(err)
	}

	names := registry.Names()
	if len(names) != 2 || names[0] != "boost" || names[1] != "news" {
		t.Fatalf("Expected [boost news], got %v", names)
	}

	featured, ok := registry.Featured()
	if !ok || featured.Name() != "boost" {
		t.Fatalf("Expected boost to be featured")
	}
	if featured.PageSize() != 6 {
		t.Errorf("Expected limit from config, got page size %d", featured.PageSize())
	}

	news, _ := registry.Get("news")
	if err := news.Fetch(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(rss.requests) != 1 || rss.requests[0].Params["extract_content"] != "1" {
		t.Errorf("Expected rss transport with extract_content, got %+v", rss.requests)
	}
	if len(api.requests) != 0 {
		t.Errorf("Expected api transport unused, got %d calls", len(api.requests))
	}
}

func TestRegistryUnknownSource(t *testing.T) {
	tempDir := t.TempDir()
	writeConfig(t, tempDir, "news", "endpoint: x\nsource: rss\nsettings:\n  enabled: true\n")

	configs := NewConfigCache(tempDir)
	if err := configs.Run(); err != nil {
		t.Fatal(err)
	}

	registry := NewRegistry(configs, entities.NewCache(nil, nil), map[string]PageFetcher{})
	if err := registry.Build(); err == nil {
		t.Error("Expected error for feed without transport")
	}
}
