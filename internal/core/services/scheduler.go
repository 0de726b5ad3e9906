package services

import (
	"context"
	"sync"
	"time"

	"github.com/custodia-labs/detectsearch/internal/core/domain"
	"github.com/custodia-labs/detectsearch/internal/core/ports/driven"
	"github.com/custodia-labs/detectsearch/internal/core/ports/driving"
	"github.com/custodia-labs/detectsearch/internal/logger"
)

var schedLog = logger.For("scheduler")

var _ driving.Scheduler = (*Scheduler)(nil)

// historyRetention is how many results are kept per task.
const historyRetention = 100

// taskFunc runs one pass of a task and reports how many items it handled.
type taskFunc func(ctx context.Context) (int, error)

// Scheduler runs the index-drain and index-repair tasks on their intervals.
// Task timing lives in the SchedulerStore, so a restart keeps the cadence.
// A task never overlaps with its own previous run.
type Scheduler struct {
	config domain.SchedulerConfig
	store  driven.SchedulerStore
	tasks  map[string]taskFunc

	mu       sync.Mutex
	cancel   context.CancelFunc
	inflight map[string]bool
	wg       sync.WaitGroup
}

// NewScheduler creates a scheduler. A nil worker or repair service leaves
// its task stored but disabled.
func NewScheduler(
	config domain.SchedulerConfig,
	store driven.SchedulerStore,
	worker driving.IndexWorker,
	repair driving.RepairService,
) *Scheduler {
	tasks := make(map[string]taskFunc)
	if worker != nil {
		tasks[domain.TaskIDIndexDrain] = worker.Drain
	}
	if repair != nil {
		// An empty user repairs every user's entries.
		tasks[domain.TaskIDIndexRepair] = func(ctx context.Context) (int, error) {
			report, err := repair.Repair(ctx, "")
			return report.Reindexed + report.OrphansRemoved, err
		}
	}
	return &Scheduler{
		config:   config,
		store:    store,
		tasks:    tasks,
		inflight: make(map[string]bool),
	}
}

// Start blocks, running due tasks every tick, until Stop is called or ctx
// is done. Calling Start on a running scheduler returns nil at once.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return nil
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
		cancel()
	}()

	if err := s.initialiseTasks(ctx); err != nil {
		schedLog.Error("initialise tasks: %v", err)
	}

	tick := s.config.Tick
	if tick <= 0 {
		tick = domain.DefaultSchedulerConfig().Tick
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	// Tasks get ctx rather than loopCtx so Stop lets them finish.
	for {
		s.checkAndRunDueTasks(ctx)
		select {
		case <-loopCtx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Stop ends the loop and waits for running tasks.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	return nil
}

// initialiseTasks stores every built-in task with its configured interval.
func (s *Scheduler) initialiseTasks(ctx context.Context) error {
	for id, name := range domain.TaskNames {
		cfg := s.config.GetTaskConfig(id)
		cfg.Enabled = cfg.Enabled && s.tasks[id] != nil
		if err := s.ensureTask(ctx, id, name, cfg); err != nil {
			return err
		}
	}
	return nil
}

// ensureTask creates the task, or updates a stored one. A changed interval
// pushes the next run one new interval out.
func (s *Scheduler) ensureTask(ctx context.Context, id, name string, cfg domain.TaskConfig) error {
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return err
	}

	now := time.Now()
	switch {
	case task == nil:
		task = &domain.ScheduledTask{ID: id, Name: name, Interval: cfg.Interval, NextRun: now}
	case task.Interval != cfg.Interval:
		task.Interval = cfg.Interval
		task.NextRun = now.Add(cfg.Interval)
	}
	task.Enabled = cfg.Enabled
	return s.store.SaveTask(ctx, task)
}

// checkAndRunDueTasks starts each due task that is not already running.
func (s *Scheduler) checkAndRunDueTasks(ctx context.Context) {
	tasks, err := s.store.ListTasks(ctx)
	if err != nil {
		schedLog.Error("list tasks: %v", err)
		return
	}

	now := time.Now()
	for i := range tasks {
		if tasks[i].Due(now) && s.claim(tasks[i].ID) {
			s.runTask(ctx, &tasks[i])
		}
	}
}

func (s *Scheduler) claim(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[taskID] {
		return false
	}
	s.inflight[taskID] = true
	return true
}

func (s *Scheduler) release(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, taskID)
}

// runTask executes task in the background and records the outcome.
func (s *Scheduler) runTask(ctx context.Context, task *domain.ScheduledTask) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(task.ID)

		fn, ok := s.tasks[task.ID]
		if !ok {
			schedLog.Warn("no runner for task %s", task.ID)
			return
		}

		result := &domain.TaskResult{TaskID: task.ID, StartedAt: time.Now()}
		items, err := fn(ctx)
		result.EndedAt = time.Now()
		result.ItemsProcessed = items
		result.Success = err == nil
		if err != nil {
			result.Error = err.Error()
			schedLog.Warn("task %s failed: %v", task.ID, err)
		}
		task.Finish(result.StartedAt, result.EndedAt, err)

		s.record(ctx, task, result)
	}()
}

func (s *Scheduler) record(ctx context.Context, task *domain.ScheduledTask, result *domain.TaskResult) {
	if err := s.store.SaveTask(ctx, task); err != nil {
		schedLog.Error("save task %s: %v", task.ID, err)
	}
	if err := s.store.RecordResult(ctx, result); err != nil {
		schedLog.Error("record result for %s: %v", task.ID, err)
	}
	if err := s.store.PruneHistory(ctx, historyRetention); err != nil {
		schedLog.Warn("prune history: %v", err)
	}
}
