package axon

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Swind/go-axon/core"
)

func resetDefault(t *testing.T) {
	t.Helper()
	ShutdownDefaultScheduler()
	t.Cleanup(ShutdownDefaultScheduler)
}

// TestInitDefaultScheduler_InitOnce verifies the default scheduler is created once
// Given: InitDefaultScheduler called twice with different names
// When: DefaultScheduler is read
// Then: The first configuration wins and the same instance is returned
func TestInitDefaultScheduler_InitOnce(t *testing.T) {
	resetDefault(t)

	// Arrange
	cfg := core.DefaultSchedulerConfig()
	cfg.Name = "first"
	other := core.DefaultSchedulerConfig()
	other.Name = "second"

	// Act
	s1 := InitDefaultScheduler(cfg)
	s2 := InitDefaultScheduler(other)

	// Assert
	assert.Same(t, s1, s2)
	assert.Same(t, s1, DefaultScheduler())
	assert.Equal(t, "first", DefaultScheduler().Name())
}

// TestRunForever_RunToCompletion verifies the default scheduler is released after it drains
// Given: A task activated on the default scheduler
// When: RunForever returns
// Then: The task ran to completion and a fresh default scheduler is handed out next
func TestRunForever_RunToCompletion(t *testing.T) {
	resetDefault(t)

	// Arrange
	steps := 0
	task := NewTask("counter", func(ctx context.Context, t *Task) error {
		steps++
		if steps == 3 {
			return ErrTaskDone
		}
		return nil
	}, core.WithPostOffice(core.NewPostOffice(nil)))
	require.NoError(t, Activate(task))
	first := DefaultScheduler()

	// Act
	err := RunForever(context.Background())

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 3, steps)
	assert.Equal(t, core.TaskStopped, task.State())
	assert.NotSame(t, first, DefaultScheduler())
}

// TestRunForever_SlowMo verifies the optional slow-motion delay is applied
func TestRunForever_SlowMo(t *testing.T) {
	resetDefault(t)

	steps := 0
	task := NewTask("slow", func(ctx context.Context, t *Task) error {
		steps++
		if steps == 3 {
			return ErrTaskDone
		}
		return nil
	}, core.WithPostOffice(core.NewPostOffice(nil)))
	require.NoError(t, Activate(task))

	start := time.Now()
	require.NoError(t, RunForever(context.Background(), 10*time.Millisecond))

	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

// TestActivate_ExplicitScheduler verifies an explicit scheduler bypasses the default
func TestActivate_ExplicitScheduler(t *testing.T) {
	resetDefault(t)

	s := core.NewScheduler(&core.SchedulerConfig{Name: "explicit"})
	task := NewTask("idle", nil, core.WithPostOffice(core.NewPostOffice(nil)))

	require.NoError(t, Activate(task, s))

	assert.Same(t, s, task.Scheduler())
	assert.Equal(t, 0, DefaultScheduler().TaskCount())
}

// TestShutdownDefaultScheduler verifies shutdown stops tasks and releases the instance
// Given: A paused task on the default scheduler
// When: ShutdownDefaultScheduler is called
// Then: The task is stopped and a new default scheduler is created on demand
func TestShutdownDefaultScheduler(t *testing.T) {
	resetDefault(t)

	// Arrange
	task := NewTask("sleeper", func(ctx context.Context, t *Task) error {
		t.Pause()
		return nil
	}, core.WithPostOffice(core.NewPostOffice(nil)))
	require.NoError(t, Activate(task))
	s := DefaultScheduler()

	// Act
	ShutdownDefaultScheduler()

	// Assert
	select {
	case <-task.Stopped():
	case <-time.After(time.Second):
		t.Fatal("task did not stop")
	}
	assert.NotSame(t, s, DefaultScheduler())
}
