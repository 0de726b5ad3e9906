package driven

import "time"

// Metrics records operational counters.
// Implementations must be safe for concurrent use.
type Metrics interface {
	// ObserveIngest records a completed ingestion.
	ObserveIngest(objects, dropped int, elapsed time.Duration)

	// ObserveIndexJob records an applied or failed index job.
	ObserveIndexJob(kind string, ok bool)

	// ObserveSearch records a label search.
	ObserveSearch(results, warnings int, elapsed time.Duration)

	// ObserveRepair records the outcome of a repair pass.
	ObserveRepair(reindexed, orphans int)

	// ObserveError records a failed operation by name.
	ObserveError(op string)
}
