package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lysyi3m/scrollfeed/app/entities"
	"github.com/lysyi3m/scrollfeed/app/feeds"
	"github.com/lysyi3m/scrollfeed/app/tasks"
)

type HandlerOption func(*Handler)

// WithFeatured enables GET /featured/next.
func WithFeatured(featured FeaturedSource) HandlerOption {
	return func(h *Handler) {
		h.featured = featured
	}
}

// WithScheduler routes refresh requests through the task queue.
func WithScheduler(scheduler tasks.TaskSchedulerInterface, cursors tasks.CursorStore) HandlerOption {
	return func(h *Handler) {
		h.scheduler = scheduler
		h.cursors = cursors
	}
}

func WithBaseURL(baseURL string) HandlerOption {
	return func(h *Handler) {
		h.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

func WithVersion(version string) HandlerOption {
	return func(h *Handler) {
		h.version = version
	}
}

func NewHandler(lookup FeedLookup, blocks BlockList, opts ...HandlerOption) *Handler {
	h := &Handler{
		feeds:     lookup,
		blocks:    blocks,
		generator: feeds.NewGenerator(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := map[string]interface{}{
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
		"feeds":     len(h.feeds.Names()),
		"blocked":   h.blocks.Len(),
	}

	c.JSON(http.StatusOK, health)
}

func (h *Handler) ListFeeds(c *gin.Context) {
	names := h.feeds.Names()
	states := make([]feeds.State, 0, len(names))
	for _, name := range names {
		if aggregator, ok := h.feeds.Get(name); ok {
			states = append(states, aggregator.Snapshot())
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"feeds": states,
		"total": len(states),
	})
}

// GetFeed returns the feed state and its resolved window.
func (h *Handler) GetFeed(c *gin.Context) {
	aggregator, ok := h.aggregator(c)
	if !ok {
		return
	}

	items := resolvedItems(aggregator)

	c.JSON(http.StatusOK, gin.H{
		"feed":  aggregator.Snapshot(),
		"items": items,
	})
}

func (h *Handler) GetFeedRSS(c *gin.Context) {
	aggregator, ok := h.aggregator(c)
	if !ok {
		return
	}

	name := aggregator.Name()
	items := resolvedItems(aggregator)

	channel := feeds.Channel{
		Name:    name,
		Title:   name,
		Link:    h.baseURL,
		Version: h.version,
	}
	if h.baseURL != "" {
		channel.SelfLink = h.baseURL + "/feeds/" + name + "/rss"
	}

	rss, err := h.generator.Run(channel, items)
	if err != nil {
		slog.Error("RSS generation error", "feed", name, "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	c.Header("Content-Type", "application/xml; charset=utf-8")
	c.Header("X-Feed-Items", strconv.Itoa(len(items)))
	c.Header("X-Feed-Name", name)

	c.String(http.StatusOK, rss)
}

func (h *Handler) LoadMore(c *gin.Context) {
	aggregator, ok := h.aggregator(c)
	if !ok {
		return
	}

	if err := aggregator.LoadMore(c.Request.Context()); err != nil {
		slog.Error("Failed to load more", "feed", aggregator.Name(), "error", err)
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "Failed to load more",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"feed":  aggregator.Snapshot(),
		"items": resolvedItems(aggregator),
	})
}

// RefreshFeed enqueues a refresh task when a scheduler is attached, and
// refreshes inline otherwise.
func (h *Handler) RefreshFeed(c *gin.Context) {
	aggregator, ok := h.aggregator(c)
	if !ok {
		return
	}

	task := tasks.NewRefreshFeedTask(aggregator, h.cursors)

	if h.scheduler == nil {
		if err := task.Execute(c.Request.Context()); err != nil {
			slog.Error("Failed to refresh feed", "feed", aggregator.Name(), "error", err)
			c.JSON(http.StatusBadGateway, gin.H{
				"error":   "Failed to refresh feed",
				"details": err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "feed": aggregator.Snapshot()})
		return
	}

	if err := h.scheduler.EnqueueTask(task); err != nil {
		slog.Error("Error enqueueing refresh task", "feed", aggregator.Name(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to enqueue refresh task",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"task": gin.H{
			"id":   task.ID,
			"type": task.Type,
		},
	})
}

func (h *Handler) NextFeatured(c *gin.Context) {
	if h.featured == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No featured feed configured"})
		return
	}

	entity, ok := h.featured.Next(c.Request.Context())
	if !ok {
		c.Status(http.StatusNoContent)
		return
	}

	c.JSON(http.StatusOK, entity)
}

func (h *Handler) APIGetBlocked(c *gin.Context) {
	guids, err := h.blocks.CurrentBlocked(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"guids": guids,
		"total": len(guids),
	})
}

func (h *Handler) APIReplaceBlocked(c *gin.Context) {
	var req blockedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if err := h.blocks.Replace(c.Request.Context(), req.Guids); err != nil {
		slog.Error("Failed to replace block list", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to replace block list"})
		return
	}

	h.APIGetBlocked(c)
}

func (h *Handler) APIBlock(c *gin.Context) {
	guid := c.Param("guid")
	if err := h.blocks.Block(c.Request.Context(), guid); err != nil {
		slog.Error("Failed to block author", "guid", guid, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to block author"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "guid": guid, "blocked": h.blocks.Len()})
}

func (h *Handler) APIUnblock(c *gin.Context) {
	guid := c.Param("guid")
	if err := h.blocks.Unblock(c.Request.Context(), guid); err != nil {
		slog.Error("Failed to unblock author", "guid", guid, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to unblock author"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "guid": guid, "blocked": h.blocks.Len()})
}

func (h *Handler) aggregator(c *gin.Context) (*feeds.Aggregator, bool) {
	name := c.Param("name")
	aggregator, ok := h.feeds.Get(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Feed not found"})
		return nil, false
	}
	return aggregator, true
}

func resolvedItems(aggregator *feeds.Aggregator) []entities.Entity {
	cells := aggregator.ResolvedFeed().Get()
	items := make([]entities.Entity, 0, len(cells))
	for _, cell := range cells {
		if snapshot := cell.Peek(); snapshot.State == entities.Present {
			items = append(items, snapshot.Entity)
		}
	}
	return items
}
