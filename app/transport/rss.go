package transport

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/go-shiori/go-readability"
	"github.com/mmcdole/gofeed"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/lysyi3m/scrollfeed/app/entities"
	"github.com/lysyi3m/scrollfeed/app/feeds"
)

// RSSURNPrefix marks urns minted for RSS/Atom items.
const RSSURNPrefix = "rss:"

const defaultMaxPending = 1000

// RSSSource pages an RSS or Atom document as a feed. The paging token is the
// index of the next item. With extract_content=1 the page carries bare
// references and FetchEntities fills in the article body with readability.
type RSSSource struct {
	httpClient *http.Client
	parser     *gofeed.Parser
	userAgent  string

	mu         sync.RWMutex
	pending    map[string]*pendingItem
	order      []string
	maxPending int
}

// pendingItem is an item seen on a page and awaiting FetchEntities.
type pendingItem struct {
	entity    entities.Entity
	extracted bool // extraction was attempted; the entity is final
}

type RSSOption func(*RSSSource)

func WithRSSTimeout(d time.Duration) RSSOption {
	return func(s *RSSSource) {
		s.httpClient.Timeout = d
	}
}

func WithRSSUserAgent(userAgent string) RSSOption {
	return func(s *RSSSource) {
		if userAgent != "" {
			s.userAgent = userAgent
		}
	}
}

func NewRSSSource(opts ...RSSOption) *RSSSource {
	s := &RSSSource{
		httpClient: &http.Client{Timeout: defaultTimeout},
		parser:     gofeed.NewParser(),
		userAgent:  defaultUserAgent,
		pending:    make(map[string]*pendingItem),
		maxPending: defaultMaxPending,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RSSSource) FetchPage(ctx context.Context, req feeds.PageRequest) (feeds.Page, error) {
	start := 0
	if req.PagingToken != "" {
		n, err := strconv.Atoi(req.PagingToken)
		if err != nil || n < 0 {
			return feeds.Page{}, fmt.Errorf("invalid paging token %q", req.PagingToken)
		}
		start = n
	}

	data, err := fetch(ctx, s.httpClient, req.Endpoint, s.userAgent)
	if err != nil {
		return feeds.Page{}, err
	}

	feed, err := s.parser.Parse(bytes.NewReader(data))
	if err != nil {
		return feeds.Page{}, fmt.Errorf("failed to parse feed: %w", err)
	}

	end := len(feed.Items)
	if req.Limit > 0 {
		end = min(end, start+req.Limit)
	}
	if start >= end {
		return feeds.Page{Entities: []entities.FeedItemRef{}}, nil
	}

	extract := req.Params["extract_content"] == "1"
	refs := make([]entities.FeedItemRef, 0, end-start)
	for _, item := range feed.Items[start:end] {
		entity := s.toEntity(item)
		ref := entities.FeedItemRef{URN: entity.URN(), OwnerGUID: entity.OwnerGUID()}
		if extract {
			s.remember(entity)
		} else {
			ref.Entity = entity
		}
		refs = append(refs, ref)
	}

	slog.Debug("RSS page parsed", "url", req.Endpoint, "items", len(refs), "total", len(feed.Items))

	return feeds.Page{Entities: refs, LoadNext: strconv.Itoa(end)}, nil
}

// FetchEntities returns the items seen on earlier pages, with the linked
// article's readable content attached when it can be extracted. Each article
// is extracted at most once. Urns never seen on a page are left out.
func (s *RSSSource) FetchEntities(ctx context.Context, urns []string) ([]entities.Entity, error) {
	out := make([]entities.Entity, 0, len(urns))
	for _, urn := range urns {
		s.mu.RLock()
		item, ok := s.pending[urn]
		var entity entities.Entity
		var extracted bool
		if ok {
			entity, extracted = item.entity, item.extracted
		}
		s.mu.RUnlock()
		if !ok {
			continue
		}

		if !extracted {
			link, _ := entity["link"].(string)
			if content, err := s.extractContent(ctx, link); err != nil {
				slog.Debug("Content extraction skipped", "urn", urn, "url", link, "error", err)
			} else {
				entity = maps.Clone(entity)
				entity["content"] = content
			}

			s.mu.Lock()
			if current, ok := s.pending[urn]; ok {
				current.entity = entity
				current.extracted = true
			}
			s.mu.Unlock()
		}
		out = append(out, entity)
	}
	return out, nil
}

// remember records a page item for FetchEntities. An already extracted item is
// kept as is. The oldest items are dropped past maxPending.
func (s *RSSSource) remember(entity entities.Entity) {
	urn := entity.URN()

	s.mu.Lock()
	defer s.mu.Unlock()

	if item, ok := s.pending[urn]; ok {
		if !item.extracted {
			item.entity = entity
		}
		return
	}

	s.pending[urn] = &pendingItem{entity: entity}
	s.order = append(s.order, urn)
	for len(s.order) > s.maxPending {
		delete(s.pending, s.order[0])
		s.order = s.order[1:]
	}
}

func (s *RSSSource) extractContent(ctx context.Context, link string) (string, error) {
	if link == "" {
		return "", fmt.Errorf("item has no link")
	}
	pageURL, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("invalid link: %w", err)
	}

	data, err := fetch(ctx, s.httpClient, link, s.userAgent)
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", fmt.Errorf("HTML data is empty")
	}

	article, err := readability.FromReader(bytes.NewReader(data), pageURL)
	if err != nil {
		return "", fmt.Errorf("failed to extract content: %w", err)
	}
	if article.Content == "" {
		return "", fmt.Errorf("no content extracted from HTML data")
	}
	return article.Content, nil
}

func (s *RSSSource) toEntity(item *gofeed.Item) entities.Entity {
	id := cmp.Or(item.GUID, item.Link, item.Title)
	author := s.extractAuthor(item)

	entity := entities.Entity{
		"urn":         RSSURNPrefix + id,
		"title":       item.Title,
		"link":        item.Link,
		"description": item.Description,
	}
	if item.Content != "" {
		entity["content"] = item.Content
	}
	if author != "" {
		entity["author"] = author
		entity["owner_guid"] = OwnerGUID(author)
	}
	if item.PublishedParsed != nil {
		entity["published"] = item.PublishedParsed.UTC().Format(time.RFC3339)
	}
	if len(item.Categories) > 0 {
		tags := make([]any, 0, len(item.Categories))
		for _, category := range item.Categories {
			tags = append(tags, category)
		}
		entity["tags"] = tags
	}
	return entity
}

func (s *RSSSource) extractAuthor(item *gofeed.Item) string {
	for _, author := range item.Authors {
		if author != nil {
			if name := cmp.Or(strings.TrimSpace(author.Name), strings.TrimSpace(author.Email)); name != "" {
				return name
			}
		}
	}
	if item.Author != nil {
		return cmp.Or(strings.TrimSpace(item.Author.Name), strings.TrimSpace(item.Author.Email))
	}
	return ""
}

// OwnerGUID derives a stable author id from a display name. "José Díaz" and
// "JOSÉ  DÍAZ" map to the same id.
func OwnerGUID(author string) string {
	folded := cases.Fold().String(norm.NFKC.String(author))
	fields := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '@' && r != '.'
	})
	return strings.Join(fields, "-")
}
