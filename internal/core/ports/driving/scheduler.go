package driving

import "context"

// Scheduler drains the index queue and repairs the label index in the
// background while a long-running command is active.
type Scheduler interface {
	// Start runs due tasks until Stop is called or ctx is done.
	Start(ctx context.Context) error

	// Stop returns once in-flight tasks have finished.
	Stop() error
}
