package cfg

type Cfg struct {
	// Storage
	DBPath string

	// Application configuration
	FeedsDir      string
	Port          string
	BaseUrl       string
	WorkerCount   int
	SyncSchedule  string
	PruneSchedule string
	APIAccessKey  string

	// Remote feed API
	APIBaseURL     string
	Timeout        int
	InitialBlocked []string

	// Application metadata
	UserAgent string
	Timezone  string
	Debug     bool
	Version   string
}
