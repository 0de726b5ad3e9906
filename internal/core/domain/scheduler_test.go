package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultSchedulerConfig(t *testing.T) {
	config := DefaultSchedulerConfig()

	assert.True(t, config.Enabled)
	assert.Len(t, config.TaskConfigs, 2)

	drainCfg := config.TaskConfigs[TaskIDIndexDrain]
	assert.True(t, drainCfg.Enabled)
	assert.Equal(t, 10*time.Second, drainCfg.Interval)

	repairCfg := config.TaskConfigs[TaskIDIndexRepair]
	assert.True(t, repairCfg.Enabled)
	assert.Equal(t, 1*time.Hour, repairCfg.Interval)
}

func TestSchedulerConfig_GetTaskConfig_NilMap(t *testing.T) {
	config := SchedulerConfig{
		Enabled:     true,
		TaskConfigs: nil,
	}

	cfg := config.GetTaskConfig("any-task")
	assert.False(t, cfg.Enabled)
	assert.Equal(t, time.Duration(0), cfg.Interval)
}

func TestScheduledTask_Due(t *testing.T) {
	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		task ScheduledTask
		want bool
	}{
		{"never run", ScheduledTask{Enabled: true}, true},
		{"next run reached", ScheduledTask{Enabled: true, NextRun: now}, true},
		{"next run ahead", ScheduledTask{Enabled: true, NextRun: now.Add(time.Second)}, false},
		{"disabled", ScheduledTask{NextRun: now.Add(-time.Hour)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.task.Due(now))
		})
	}
}

func TestScheduledTask_Finish(t *testing.T) {
	started := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	ended := started.Add(2 * time.Second)
	task := ScheduledTask{Interval: time.Minute, LastError: "old failure"}

	task.Finish(started, ended, nil)
	assert.Equal(t, started, task.LastRun)
	assert.Equal(t, ended.Add(time.Minute), task.NextRun)
	assert.Equal(t, ended, task.LastSuccess)
	assert.Empty(t, task.LastError)

	task.Finish(ended, ended.Add(time.Second), errors.New("index timeout"))
	assert.Equal(t, "index timeout", task.LastError)
	assert.Equal(t, ended, task.LastSuccess, "failures keep the last success")
}

func TestTaskNames(t *testing.T) {
	for id := range DefaultSchedulerConfig().TaskConfigs {
		assert.NotEmpty(t, TaskNames[id], id)
	}
}
