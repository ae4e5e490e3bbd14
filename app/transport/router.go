package transport

import (
	"context"
	"fmt"
	"strings"

	"github.com/lysyi3m/scrollfeed/app/entities"
)

// Router splits entity lookups between the RSS source and the remote API by urn prefix.
type Router struct {
	api entities.Fetcher
	rss entities.Fetcher
}

func NewRouter(api, rss entities.Fetcher) *Router {
	return &Router{api: api, rss: rss}
}

func (r *Router) FetchEntities(ctx context.Context, urns []string) ([]entities.Entity, error) {
	var apiURNs, rssURNs []string
	for _, urn := range urns {
		if strings.HasPrefix(urn, RSSURNPrefix) {
			rssURNs = append(rssURNs, urn)
		} else {
			apiURNs = append(apiURNs, urn)
		}
	}

	var out []entities.Entity
	if len(rssURNs) > 0 && r.rss != nil {
		fetched, err := r.rss.FetchEntities(ctx, rssURNs)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch rss entities: %w", err)
		}
		out = append(out, fetched...)
	}
	if len(apiURNs) > 0 && r.api != nil {
		fetched, err := r.api.FetchEntities(ctx, apiURNs)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch api entities: %w", err)
		}
		out = append(out, fetched...)
	}
	return out, nil
}
