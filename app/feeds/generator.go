package feeds

import (
	"bytes"
	"cmp"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"github.com/lysyi3m/scrollfeed/app/entities"
)

// Channel describes the RSS channel wrapping a resolved window.
type Channel struct {
	Name        string
	Title       string
	Link        string
	Description string
	SelfLink    string
	Version     string
}

type Generator struct{}

func NewGenerator() *Generator {
	return &Generator{}
}

func (g *Generator) Run(channel Channel, items []entities.Entity) (string, error) {
	var buf bytes.Buffer

	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	buf.WriteString("\n")
	buf.WriteString(`<rss version="2.0" xmlns:content="http://purl.org/rss/1.0/modules/content/" xmlns:atom="http://www.w3.org/2005/Atom">`)
	buf.WriteString("\n  <channel>\n")

	g.writeElement(&buf, "title", cmp.Or(channel.Title, channel.Name), 4)
	g.writeElement(&buf, "link", channel.Link, 4)
	g.writeElement(&buf, "description", cmp.Or(channel.Description, fmt.Sprintf("Resolved feed %s", channel.Name)), 4)

	if channel.SelfLink != "" {
		buf.WriteString(fmt.Sprintf("    <atom:link href=\"%s\" rel=\"self\" type=\"application/rss+xml\" />\n",
			html.EscapeString(channel.SelfLink)))
	}

	lastBuildDate := time.Now().In(time.Local)
	if len(items) > 0 {
		if published, ok := publishedAt(items[0]); ok {
			lastBuildDate = published
		}
	}
	g.writeElement(&buf, "lastBuildDate", lastBuildDate.Format(time.RFC1123Z), 4)
	g.writeElement(&buf, "generator", fmt.Sprintf("Scrollfeed/%s", cmp.Or(channel.Version, "dev")), 4)

	for _, item := range items {
		g.writeItem(&buf, item)
	}

	buf.WriteString("  </channel>\n</rss>")

	return buf.String(), nil
}

func (g *Generator) writeItem(buf *bytes.Buffer, item entities.Entity) {
	buf.WriteString("    <item>\n")

	if urn := item.URN(); urn != "" {
		buf.WriteString(fmt.Sprintf("      <guid isPermaLink=\"%t\">", g.isURL(urn)))
		xml.EscapeText(buf, []byte(urn))
		buf.WriteString("</guid>\n")
	}

	g.writeElement(buf, "title", field(item, "title", "message"), 6)
	g.writeElement(buf, "link", field(item, "perma_url", "link", "url"), 6)

	description := field(item, "description", "blurb", "message")
	g.writeElement(buf, "description", cmp.Or(description, "No description available"), 6)

	if content := field(item, "content"); content != "" && content != description {
		buf.WriteString("      <content:encoded><![CDATA[")
		buf.WriteString(strings.ReplaceAll(content, "]]>", "]]]]><![CDATA[>"))
		buf.WriteString("]]></content:encoded>\n")
	}

	if published, ok := publishedAt(item); ok {
		g.writeElement(buf, "pubDate", published.Format(time.RFC1123Z), 6)
	}

	if author := authorName(item); author != "" {
		g.writeElement(buf, "author", author, 6)
	}

	if tags, ok := item["tags"].([]any); ok {
		for _, tag := range tags {
			if category, ok := tag.(string); ok && category != "" {
				g.writeElement(buf, "category", category, 6)
			}
		}
	}

	buf.WriteString("    </item>\n")
}

func (g *Generator) writeElement(buf *bytes.Buffer, tag, content string, indent int) {
	if content == "" {
		return
	}

	for i := 0; i < indent; i++ {
		buf.WriteByte(' ')
	}

	buf.WriteString("<")
	buf.WriteString(tag)
	buf.WriteString(">")
	xml.EscapeText(buf, []byte(content))
	buf.WriteString("</")
	buf.WriteString(tag)
	buf.WriteString(">\n")
}

func (g *Generator) isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// field returns the first non-empty string value among keys.
func field(item entities.Entity, keys ...string) string {
	for _, key := range keys {
		if s, ok := item[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func authorName(item entities.Entity) string {
	if author := field(item, "author"); author != "" {
		return author
	}
	if owner, ok := item["ownerObj"].(map[string]any); ok {
		return field(owner, "name", "username")
	}
	return ""
}

// publishedAt reads time_created (unix seconds) or published (RFC 3339).
func publishedAt(item entities.Entity) (time.Time, bool) {
	switch ts := item["time_created"].(type) {
	case float64:
		return time.Unix(int64(ts), 0).UTC(), true
	case int64:
		return time.Unix(ts, 0).UTC(), true
	case int:
		return time.Unix(int64(ts), 0).UTC(), true
	case json.Number:
		if secs, err := ts.Int64(); err == nil {
			return time.Unix(secs, 0).UTC(), true
		}
	case string:
		if secs, err := strconv.ParseInt(ts, 10, 64); err == nil {
			return time.Unix(secs, 0).UTC(), true
		}
	}

	if s := field(item, "published"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
