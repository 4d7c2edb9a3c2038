package axon

import (
	"context"
	"sync"
	"time"

	"github.com/Swind/go-axon/core"
)

// =============================================================================
// Process-wide default scheduler
// =============================================================================

var (
	defaultScheduler *core.Scheduler
	defaultConfig    *core.SchedulerConfig
	defaultMu        sync.Mutex
)

// InitDefaultScheduler creates the default scheduler with cfg.
// It is a no-op returning the existing instance if one is already initialized.
func InitDefaultScheduler(cfg *core.SchedulerConfig) *core.Scheduler {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultScheduler != nil {
		return defaultScheduler
	}
	defaultConfig = cfg
	defaultScheduler = core.NewScheduler(cfg)
	return defaultScheduler
}

// DefaultScheduler returns the default scheduler, creating it on first use.
func DefaultScheduler() *core.Scheduler {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultScheduler == nil {
		defaultScheduler = core.NewScheduler(defaultConfig)
	}
	return defaultScheduler
}

// ShutdownDefaultScheduler stops every task on the default scheduler and
// forgets it. The next DefaultScheduler call starts a fresh instance.
func ShutdownDefaultScheduler() {
	defaultMu.Lock()
	s := defaultScheduler
	defaultScheduler = nil
	defaultConfig = nil
	defaultMu.Unlock()

	if s != nil {
		s.Shutdown()
	}
}

// Activate registers t with s, or with the default scheduler when s is omitted.
func Activate(t *core.Task, s ...*core.Scheduler) error {
	if len(s) > 0 && s[0] != nil {
		return t.Activate(s[0])
	}
	return t.Activate(DefaultScheduler())
}

// RunForever runs the default scheduler until no tasks remain or ctx ends.
// An optional slowMo delay is inserted between passes.
//
// The default scheduler runs to completion: once RunForever returns, the
// instance is released and later activations go to a new one.
func RunForever(ctx context.Context, slowMo ...time.Duration) error {
	s := DefaultScheduler()
	if len(slowMo) > 0 {
		s.SetSlowMo(slowMo[0])
	}

	err := s.RunForever(ctx)

	defaultMu.Lock()
	if defaultScheduler == s {
		defaultScheduler = nil
	}
	defaultMu.Unlock()
	return err
}
