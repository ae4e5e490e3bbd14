package feeds

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/lysyi3m/scrollfeed/app/entities"
)

// Page is one response from a feed endpoint.
type Page struct {
	Entities []entities.FeedItemRef `json:"entities"`
	Activity []entities.FeedItemRef `json:"activity"`
	LoadNext string                 `json:"load-next"`
}

// Items returns the page's references. Activity is used only when the page
// carries no entities list at all; an explicit empty list stays empty.
func (p Page) Items() []entities.FeedItemRef {
	if p.Entities == nil && p.Activity != nil {
		return p.Activity
	}
	return p.Entities
}

// UnmarshalJSON accepts load-next as a string or a number.
func (p *Page) UnmarshalJSON(data []byte) error {
	var raw struct {
		Entities []entities.FeedItemRef `json:"entities"`
		Activity []entities.FeedItemRef `json:"activity"`
		LoadNext json.RawMessage        `json:"load-next"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	p.Entities = raw.Entities
	p.Activity = raw.Activity
	p.LoadNext = ""

	token := bytes.TrimSpace(raw.LoadNext)
	if len(token) == 0 || bytes.Equal(token, []byte("null")) {
		return nil
	}
	if token[0] == '"' {
		return json.Unmarshal(token, &p.LoadNext)
	}
	p.LoadNext = string(token)
	return nil
}

// PageRequest describes one page fetch.
type PageRequest struct {
	Endpoint    string
	Params      map[string]string
	Limit       int
	PagingToken string
}

// PageFetcher performs the transport call for a feed page.
type PageFetcher interface {
	FetchPage(ctx context.Context, req PageRequest) (Page, error)
}
