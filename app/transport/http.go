// Package transport implements the page and entity fetchers the feed
// aggregators consume: a JSON client for the remote API and an RSS/Atom source.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lysyi3m/scrollfeed/app/entities"
	"github.com/lysyi3m/scrollfeed/app/feeds"
)

const (
	defaultEntitiesEndpoint = "api/v2/entities"
	defaultTimeout          = 30 * time.Second
	defaultUserAgent        = "Scrollfeed/dev"
)

// HTTPClient talks to the remote feed API.
type HTTPClient struct {
	httpClient       *http.Client
	baseURL          string
	entitiesEndpoint string
	userAgent        string
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

func WithBaseURL(baseURL string) Option {
	return func(c *HTTPClient) {
		c.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *HTTPClient) {
		c.httpClient.Timeout = d
	}
}

func WithUserAgent(userAgent string) Option {
	return func(c *HTTPClient) {
		if userAgent != "" {
			c.userAgent = userAgent
		}
	}
}

// WithEntitiesEndpoint sets the path serving entity lookups by urn.
func WithEntitiesEndpoint(endpoint string) Option {
	return func(c *HTTPClient) {
		c.entitiesEndpoint = endpoint
	}
}

func NewHTTPClient(opts ...Option) *HTTPClient {
	c := &HTTPClient{
		httpClient:       &http.Client{Timeout: defaultTimeout},
		entitiesEndpoint: defaultEntitiesEndpoint,
		userAgent:        defaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchPage requests one feed page. The paging token is sent as from_timestamp.
func (c *HTTPClient) FetchPage(ctx context.Context, req feeds.PageRequest) (feeds.Page, error) {
	query := url.Values{}
	for key, value := range req.Params {
		query.Set(key, value)
	}
	if req.Limit > 0 {
		query.Set("limit", strconv.Itoa(req.Limit))
	}
	if req.PagingToken != "" {
		query.Set("from_timestamp", req.PagingToken)
	}

	var page feeds.Page
	if err := c.getJSON(ctx, c.resolve(req.Endpoint, query), &page); err != nil {
		return feeds.Page{}, fmt.Errorf("failed to fetch page %s: %w", req.Endpoint, err)
	}
	return page, nil
}

// FetchEntities looks up entities by urn. Unknown urns are omitted by the server.
func (c *HTTPClient) FetchEntities(ctx context.Context, urns []string) ([]entities.Entity, error) {
	if len(urns) == 0 {
		return nil, nil
	}

	query := url.Values{}
	query.Set("urns", strings.Join(urns, ","))

	var body struct {
		Entities []entities.Entity `json:"entities"`
	}
	if err := c.getJSON(ctx, c.resolve(c.entitiesEndpoint, query), &body); err != nil {
		return nil, fmt.Errorf("failed to fetch %d entities: %w", len(urns), err)
	}
	return body.Entities, nil
}

func (c *HTTPClient) resolve(endpoint string, query url.Values) string {
	target := endpoint
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		target = c.baseURL + "/" + strings.TrimPrefix(endpoint, "/")
	}
	if len(query) == 0 {
		return target
	}
	if strings.Contains(target, "?") {
		return target + "&" + query.Encode()
	}
	return target + "?" + query.Encode()
}

func (c *HTTPClient) getJSON(ctx context.Context, target string, v any) error {
	data, err := fetch(ctx, c.httpClient, target, c.userAgent)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func fetch(ctx context.Context, client *http.Client, target, userAgent string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return data, nil
}
