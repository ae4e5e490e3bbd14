package feeds

// Configuration types

type Config struct {
	Name     string            // Derived from filename (without .yml extension)
	Endpoint string            `yaml:"endpoint"`
	Source   string            `yaml:"source"` // "api" or "rss"
	Params   map[string]string `yaml:"params"`
	Settings ConfigSettings    `yaml:"settings"`
}

type ConfigSettings struct {
	Enabled          bool   `yaml:"enabled"`
	Featured         bool   `yaml:"featured"`
	Limit            int    `yaml:"limit"`
	CastToActivities bool   `yaml:"cast_to_activities"`
	ExtractContent   bool   `yaml:"extract_content"` // rss only
	RefreshSchedule  string `yaml:"refresh_schedule"` // cron expression, empty disables
	Timeout          int    `yaml:"timeout"`          // seconds
}

const (
	SourceAPI = "api"
	SourceRSS = "rss"
)
