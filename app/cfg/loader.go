package cfg

import (
	"cmp"
	"fmt"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Storage
	DBPath string `long:"db-path" env:"DB_PATH" default:"./data/scrollfeed.db" description:"Path to the SQLite database file"`

	// Application configuration
	FeedsDir      string `long:"feeds-dir" env:"FEEDS_DIR" default:"./feeds" description:"Directory containing feed definition files"`
	Port          string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	BaseUrl       string `long:"base-url" env:"BASE_URL" description:"Public base URL for the service (e.g., https://feeds.example.com)"`
	WorkerCount   int    `long:"worker-count" env:"WORKER_COUNT" default:"5" description:"Number of background workers"`
	SyncSchedule  string `long:"sync-schedule" env:"SYNC_SCHEDULE" default:"*/5 * * * *" description:"Cron schedule for reloading the block list"`
	PruneSchedule string `long:"prune-schedule" env:"PRUNE_SCHEDULE" default:"0 3 * * *" description:"Cron schedule for pruning the persisted block list"`
	APIAccessKey  string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for authentication (optional)"`

	// Remote feed API
	APIBaseURL     string   `long:"api-base-url" env:"API_BASE_URL" default:"https://www.minds.com/" description:"Base URL of the remote feed API"`
	Timeout        int      `long:"timeout" env:"TIMEOUT" default:"30" description:"HTTP timeout in seconds for remote requests"`
	InitialBlocked []string `long:"blocked" env:"INITIAL_BLOCKED" env-delim:"," default:"991463054707265537" description:"Author guids blocked before the persisted list loads"`

	// Application metadata
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"Scrollfeed/1.0" description:"User agent string for HTTP requests"`
	Timezone  string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for schedules and timestamps (e.g., UTC, America/New_York)"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

var globalCfg *Cfg

// Load parses the process flags and environment.
func Load() (*Cfg, error) {
	return LoadArgs(os.Args[1:])
}

// LoadArgs parses args and the environment. It returns nil, nil when help was requested.
func LoadArgs(args []string) (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.ParseArgs(args); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		DBPath:         raw.DBPath,
		FeedsDir:       raw.FeedsDir,
		Port:           raw.Port,
		BaseUrl:        raw.BaseUrl,
		WorkerCount:    raw.WorkerCount,
		SyncSchedule:   raw.SyncSchedule,
		PruneSchedule:  raw.PruneSchedule,
		APIAccessKey:   raw.APIAccessKey,
		APIBaseURL:     raw.APIBaseURL,
		Timeout:        raw.Timeout,
		InitialBlocked: raw.InitialBlocked,
		UserAgent:      raw.UserAgent,
		Timezone:       raw.Timezone,
		Debug:          raw.Debug,
		Version:        GetVersion(),
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		fmt.Printf("Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
	}

	globalCfg = cfg

	return cfg, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

func (c *Cfg) HTTPTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err != nil {
			return err
		} else {
			time.Local = loc
			fmt.Printf("Timezone configured: %s\n", timezone)
		}
	}
	return nil
}
