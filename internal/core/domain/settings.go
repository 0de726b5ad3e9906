package domain

import "time"

const unknownDescription = "Unknown"

// IndexMode defines when label index updates are applied relative to a store write.
type IndexMode string

// Available index modes.
const (
	// IndexModeSync applies the index update before Ingest returns.
	IndexModeSync IndexMode = "sync"

	// IndexModeAsync leaves the queued update to the background index worker.
	// Searches may miss the record for up to one drain interval.
	IndexModeAsync IndexMode = "async"
)

// IsValid returns true if the index mode is recognised.
func (m IndexMode) IsValid() bool {
	switch m {
	case IndexModeSync, IndexModeAsync:
		return true
	default:
		return false
	}
}

// String returns the string representation.
func (m IndexMode) String() string {
	return string(m)
}

// Description returns a human-readable description of the mode.
func (m IndexMode) Description() string {
	switch m {
	case IndexModeSync:
		return "Synchronous (index updated before ingest returns)"
	case IndexModeAsync:
		return "Asynchronous (index updated by background worker)"
	default:
		return unknownDescription
	}
}

// StorageSettings holds persistence configuration.
type StorageSettings struct {
	// DataDir holds the SQLite database. Empty uses ~/.detectsearch/data.
	DataDir string

	// OpTimeout bounds every store and index call.
	OpTimeout time.Duration
}

// IndexSettings holds label index maintenance configuration.
type IndexSettings struct {
	// Mode selects synchronous or asynchronous index updates.
	Mode IndexMode

	// MaxAttempts is how many times a queued update is tried before it is dropped and left to repair.
	MaxAttempts int

	// RetryBase is the first backoff delay; later attempts double it.
	RetryBase time.Duration

	// RetryMax caps the backoff delay.
	RetryMax time.Duration

	// DrainBatch is the number of queued updates claimed per drain.
	DrainBatch int
}

// SearchSettings holds search behaviour configuration.
type SearchSettings struct {
	// DefaultLimit is used when a request does not set one.
	DefaultLimit int

	// Strict validates every hit against the store by default.
	Strict bool
}

// RepairSettings holds reconciliation configuration.
type RepairSettings struct {
	// BatchSize is how many records are read per store scan.
	BatchSize int

	// RatePerSecond caps batches per second so repair does not starve ingestion.
	RatePerSecond float64
}

// Settings is the full runtime configuration.
type Settings struct {
	Storage   StorageSettings
	Index     IndexSettings
	Search    SearchSettings
	Repair    RepairSettings
	Scheduler SchedulerConfig

	// MetricsAddr is the listen address for the Prometheus endpoint. Empty disables it.
	MetricsAddr string

	// InboxDir is watched for ingestion event files. Empty disables the watcher.
	InboxDir string

	// VisionAPIKey enables the Google Vision detector.
	VisionAPIKey string
}

// DefaultSettings returns sensible defaults.
func DefaultSettings() Settings {
	return Settings{
		Storage: StorageSettings{
			OpTimeout: 5 * time.Second,
		},
		Index: IndexSettings{
			Mode:        IndexModeSync,
			MaxAttempts: 8,
			RetryBase:   time.Second,
			RetryMax:    5 * time.Minute,
			DrainBatch:  100,
		},
		Search: SearchSettings{
			DefaultLimit: DefaultPageSize,
		},
		Repair: RepairSettings{
			BatchSize:     200,
			RatePerSecond: 20,
		},
		Scheduler: DefaultSchedulerConfig(),
	}
}
