package feeds

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/lysyi3m/scrollfeed/app/entities"
)

// Registry owns one aggregator per enabled feed definition. All aggregators
// share a single entity cache.
type Registry struct {
	configs *ConfigCache
	cache   *entities.Cache
	sources map[string]PageFetcher

	mu    sync.RWMutex
	feeds map[string]*Aggregator
}

// NewRegistry builds a registry. sources maps a config's source ("api", "rss")
// to the transport serving it.
func NewRegistry(configs *ConfigCache, cache *entities.Cache, sources map[string]PageFetcher) *Registry {
	return &Registry{
		configs: configs,
		cache:   cache,
		sources: sources,
		feeds:   make(map[string]*Aggregator),
	}
}

// Build creates aggregators for every enabled config that does not have one yet.
func (r *Registry) Build() error {
	for _, config := range r.configs.GetEnabledConfigs() {
		if _, ok := r.Get(config.Name); ok {
			continue
		}

		fetcher, ok := r.sources[config.Source]
		if !ok {
			return fmt.Errorf("no transport registered for source %s (feed %s)", config.Source, config.Name)
		}

		params := make(map[string]string, len(config.Params)+1)
		for k, v := range config.Params {
			params[k] = v
		}
		if config.Settings.ExtractContent {
			params["extract_content"] = "1"
		}

		aggregator := NewAggregator(config.Name, r.cache, fetcher).
			SetEndpoint(config.Endpoint).
			SetLimit(config.Settings.Limit).
			SetParams(params).
			SetCastToActivities(config.Settings.CastToActivities)

		r.mu.Lock()
		r.feeds[config.Name] = aggregator
		r.mu.Unlock()

		slog.Info("Feed registered", "feed", config.Name, "source", config.Source, "endpoint", config.Endpoint)
	}
	return nil
}

func (r *Registry) Get(name string) (*Aggregator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	aggregator, ok := r.feeds[name]
	return aggregator, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.feeds))
	for name := range r.feeds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Featured returns the first enabled feed marked featured.
func (r *Registry) Featured() (*Aggregator, bool) {
	for _, config := range r.configs.GetEnabledConfigs() {
		if config.Settings.Featured {
			return r.Get(config.Name)
		}
	}
	return nil, false
}

func (r *Registry) Config(name string) (*Config, error) {
	return r.configs.GetConfig(name)
}

func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, aggregator := range r.feeds {
		aggregator.Close()
	}
}
