package domain

import "time"

// Task IDs for built-in tasks.
const (
	TaskIDIndexDrain  = "index-drain"
	TaskIDIndexRepair = "index-repair"
)

// TaskNames maps built-in task IDs to display names.
var TaskNames = map[string]string{
	TaskIDIndexDrain:  "Label Index Drain",
	TaskIDIndexRepair: "Label Index Repair",
}

// ScheduledTask is the persisted state of a recurring background task.
type ScheduledTask struct {
	ID       string
	Name     string
	Interval time.Duration
	Enabled  bool

	LastRun     time.Time
	NextRun     time.Time
	LastSuccess time.Time

	// LastError is empty after a successful run.
	LastError string
}

// Due reports whether an enabled task should start at now.
func (t *ScheduledTask) Due(now time.Time) bool {
	return t.Enabled && !t.NextRun.After(now)
}

// Finish records a run that started at started and ended at ended,
// and schedules the next one an Interval later.
func (t *ScheduledTask) Finish(started, ended time.Time, err error) {
	t.LastRun = started
	t.NextRun = ended.Add(t.Interval)
	if err != nil {
		t.LastError = err.Error()
		return
	}
	t.LastError = ""
	t.LastSuccess = ended
}

// TaskResult is one execution of a task, kept as history.
type TaskResult struct {
	TaskID    string
	StartedAt time.Time
	EndedAt   time.Time
	Success   bool
	Error     string

	// ItemsProcessed counts index jobs applied or index entries repaired.
	ItemsProcessed int
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	// Enabled is the master switch for the scheduler.
	Enabled bool

	// Tick is how often the scheduler checks for due tasks.
	Tick time.Duration

	TaskConfigs map[string]TaskConfig
}

// TaskConfig holds configuration for a single task.
type TaskConfig struct {
	Enabled  bool
	Interval time.Duration
}

// GetTaskConfig returns the configuration for a task, or the zero
// TaskConfig (disabled) when it is not configured.
func (c *SchedulerConfig) GetTaskConfig(taskID string) TaskConfig {
	return c.TaskConfigs[taskID]
}

// DefaultSchedulerConfig drains queued index updates every ten seconds
// and runs a full repair hourly.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Enabled: true,
		Tick:    5 * time.Second,
		TaskConfigs: map[string]TaskConfig{
			TaskIDIndexDrain:  {Enabled: true, Interval: 10 * time.Second},
			TaskIDIndexRepair: {Enabled: true, Interval: time.Hour},
		},
	}
}
