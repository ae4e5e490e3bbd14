package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/lysyi3m/scrollfeed/app/api"
	"github.com/lysyi3m/scrollfeed/app/blocklist"
	"github.com/lysyi3m/scrollfeed/app/cfg"
	"github.com/lysyi3m/scrollfeed/app/database"
	"github.com/lysyi3m/scrollfeed/app/entities"
	"github.com/lysyi3m/scrollfeed/app/featured"
	"github.com/lysyi3m/scrollfeed/app/feeds"
	"github.com/lysyi3m/scrollfeed/app/tasks"
	"github.com/lysyi3m/scrollfeed/app/transport"
)

func main() {
	appCfg, err := cfg.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if appCfg == nil {
		// Help was shown
		return
	}

	level := slog.LevelInfo
	if appCfg.Debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	slog.Info("Starting Scrollfeed", "version", appCfg.Version)

	if err := os.MkdirAll(filepath.Dir(appCfg.DBPath), 0o755); err != nil {
		fatal("Failed to create database directory", err)
	}

	db, err := database.Open(appCfg.DBPath)
	if err != nil {
		fatal("Failed to open database", err)
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		fatal("Failed to run migrations", err)
	}
	slog.Info("Database ready", "path", appCfg.DBPath, "migration_version", version, "dirty", dirty)

	blockRepo := database.NewBlockListRepository(db)
	cursorRepo := database.NewCursorRepository(db)

	ctx := context.Background()

	filter := blocklist.NewFilter(appCfg.InitialBlocked...).WithStore(blockRepo)
	if err := seedBlockList(ctx, filter, blockRepo, appCfg.InitialBlocked); err != nil {
		fatal("Failed to seed block list", err)
	}

	apiClient := transport.NewHTTPClient(
		transport.WithBaseURL(appCfg.APIBaseURL),
		transport.WithTimeout(appCfg.HTTPTimeout()),
		transport.WithUserAgent(appCfg.UserAgent),
	)
	rssSource := transport.NewRSSSource(
		transport.WithRSSTimeout(appCfg.HTTPTimeout()),
		transport.WithRSSUserAgent(appCfg.UserAgent),
	)

	cache := entities.NewCache(filter, transport.NewRouter(apiClient, rssSource))

	configCache := feeds.NewConfigCache(appCfg.FeedsDir)
	if err := configCache.Run(); err != nil {
		fatal("Failed to load feed configurations", err)
	}

	registry := feeds.NewRegistry(configCache, cache, map[string]feeds.PageFetcher{
		feeds.SourceAPI: apiClient,
		feeds.SourceRSS: rssSource,
	})
	if err := registry.Build(); err != nil {
		fatal("Failed to build feeds", err)
	}
	defer registry.Close()

	handlerOpts := []api.HandlerOption{
		api.WithBaseURL(appCfg.BaseUrl),
		api.WithVersion(appCfg.Version),
	}

	var featuredName string
	if feed, ok := registry.Featured(); ok {
		featuredName = feed.Name()
		featuredCfg, err := registry.Config(featuredName)
		if err != nil {
			fatal("Failed to read featured feed configuration", err)
		}

		cycler := featured.NewCycler(feed,
			featured.WithEndpoint(featuredCfg.Endpoint),
			featured.WithLimit(featuredCfg.Settings.Limit),
		)
		defer cycler.Close()

		if err := cycler.Start(ctx); err != nil {
			slog.Warn("Failed to load featured feed", "feed", featuredName, "error", err)
		}
		handlerOpts = append(handlerOpts, api.WithFeatured(cycler))
	}

	scheduler := tasks.NewScheduler(filter, cursorRepo, feedJobs(registry, featuredName), tasks.Settings{
		WorkerCount:   appCfg.WorkerCount,
		SyncSchedule:  appCfg.SyncSchedule,
		PruneSchedule: appCfg.PruneSchedule,
		Location:      time.Local,
	})
	if err := scheduler.Start(); err != nil {
		fatal("Failed to start scheduler", err)
	}
	defer scheduler.Stop()

	handlerOpts = append(handlerOpts, api.WithScheduler(scheduler, cursorRepo))
	handler := api.NewHandler(registry, filter, handlerOpts...)

	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      api.NewServer(handler, appCfg.APIAccessKey),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "port", appCfg.Port, "feeds", len(registry.Names()))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig.String())
	case err := <-serverErrChan:
		slog.Error("Server error", "error", err)
	}

	slog.Info("Shutting down server gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped")
	}
}

// feedJobs lists the registered feeds for the scheduler. The featured feed is
// left out because the cycler owns its reloads.
func feedJobs(registry *feeds.Registry, featuredName string) []tasks.FeedJob {
	var jobs []tasks.FeedJob
	for _, name := range registry.Names() {
		if name == featuredName {
			continue
		}
		feed, ok := registry.Get(name)
		if !ok {
			continue
		}
		config, err := registry.Config(name)
		if err != nil {
			slog.Warn("Feed configuration missing", "feed", name, "error", err)
			continue
		}
		jobs = append(jobs, tasks.FeedJob{
			Feed:     feed,
			Schedule: config.Settings.RefreshSchedule,
			Timeout:  time.Duration(config.Settings.Timeout) * time.Second,
		})
	}
	return jobs
}

// seedBlockList writes the configured guids when nothing is persisted yet and
// otherwise loads the persisted set.
func seedBlockList(ctx context.Context, filter *blocklist.Filter, repo *database.BlockListRepository, initial []string) error {
	count, err := repo.CountBlocked(ctx)
	if err != nil {
		return err
	}
	if count == 0 {
		return filter.Replace(ctx, initial)
	}
	return filter.Sync(ctx)
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}
