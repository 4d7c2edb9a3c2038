package prometheus

import (
	"context"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/Swind/go-axon/core"
)

// SchedulerSnapshotProvider provides current scheduler stats snapshots.
type SchedulerSnapshotProvider interface {
	Stats() core.SchedulerStats
}

// TaskSnapshotProvider provides current task snapshots.
type TaskSnapshotProvider interface {
	Snapshot() core.TaskStats
}

// SnapshotPoller periodically exports scheduler and task snapshots into Prometheus gauges.
type SnapshotPoller struct {
	interval time.Duration

	schedulersMu sync.RWMutex
	schedulers   map[string]SchedulerSnapshotProvider

	tasksMu sync.RWMutex
	tasks   map[string]TaskSnapshotProvider

	schedulerTasks   *prom.GaugeVec
	schedulerSteps   *prom.GaugeVec
	schedulerFaults  *prom.GaugeVec
	schedulerRunning *prom.GaugeVec

	taskInboxDepth *prom.GaugeVec
	taskStopped    *prom.GaugeVec

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(namespace string, reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if namespace == "" {
		namespace = "axon"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	schedulerTasks := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "scheduler_tasks",
		Help:      "Tasks known to each scheduler, by state.",
	}, []string{"scheduler", "state"})
	schedulerSteps := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "scheduler_steps_total",
		Help:      "Scheduler step count snapshot.",
	}, []string{"scheduler"})
	schedulerFaults := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "scheduler_faults_total",
		Help:      "Scheduler task fault count snapshot.",
	}, []string{"scheduler"})
	schedulerRunning := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "scheduler_running",
		Help:      "Scheduler running state (1=running, 0=stopped).",
	}, []string{"scheduler"})
	taskInboxDepth := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "task_inbox_depth",
		Help:      "Messages held per task inbox.",
	}, []string{"task", "box"})
	taskStopped := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "task_stopped",
		Help:      "Task stopped state (1=stopped, 0=alive).",
	}, []string{"task"})

	var err error
	if schedulerTasks, err = registerCollector(reg, schedulerTasks); err != nil {
		return nil, err
	}
	if schedulerSteps, err = registerCollector(reg, schedulerSteps); err != nil {
		return nil, err
	}
	if schedulerFaults, err = registerCollector(reg, schedulerFaults); err != nil {
		return nil, err
	}
	if schedulerRunning, err = registerCollector(reg, schedulerRunning); err != nil {
		return nil, err
	}
	if taskInboxDepth, err = registerCollector(reg, taskInboxDepth); err != nil {
		return nil, err
	}
	if taskStopped, err = registerCollector(reg, taskStopped); err != nil {
		return nil, err
	}

	return &SnapshotPoller{
		interval:         interval,
		schedulers:       make(map[string]SchedulerSnapshotProvider),
		tasks:            make(map[string]TaskSnapshotProvider),
		schedulerTasks:   schedulerTasks,
		schedulerSteps:   schedulerSteps,
		schedulerFaults:  schedulerFaults,
		schedulerRunning: schedulerRunning,
		taskInboxDepth:   taskInboxDepth,
		taskStopped:      taskStopped,
	}, nil
}

// AddScheduler adds or replaces a scheduler snapshot provider by name.
func (p *SnapshotPoller) AddScheduler(name string, provider SchedulerSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "scheduler")
	p.schedulersMu.Lock()
	p.schedulers[name] = provider
	p.schedulersMu.Unlock()
}

// RemoveScheduler stops polling a scheduler.
func (p *SnapshotPoller) RemoveScheduler(name string) {
	if p == nil {
		return
	}
	name = normalizeLabel(name, "scheduler")
	p.schedulersMu.Lock()
	delete(p.schedulers, name)
	p.schedulersMu.Unlock()
}

// AddTask adds or replaces a task snapshot provider by name.
func (p *SnapshotPoller) AddTask(name string, provider TaskSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "task")
	p.tasksMu.Lock()
	p.tasks[name] = provider
	p.tasksMu.Unlock()
}

// RemoveTask stops polling a task.
func (p *SnapshotPoller) RemoveTask(name string) {
	if p == nil {
		return
	}
	name = normalizeLabel(name, "task")
	p.tasksMu.Lock()
	delete(p.tasks, name)
	p.tasksMu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.stateMu.Unlock()

	go p.loop(pollCtx, p.done)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.stateMu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

func (p *SnapshotPoller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collectOnce()
		}
	}
}

func (p *SnapshotPoller) collectOnce() {
	p.schedulersMu.RLock()
	for name, provider := range p.schedulers {
		stats := provider.Stats()
		p.schedulerTasks.WithLabelValues(name, "runnable").Set(float64(stats.Runnable))
		p.schedulerTasks.WithLabelValues(name, "paused").Set(float64(stats.Paused))
		p.schedulerSteps.WithLabelValues(name).Set(float64(stats.Steps))
		p.schedulerFaults.WithLabelValues(name).Set(float64(stats.Faults))
		p.schedulerRunning.WithLabelValues(name).Set(boolGauge(stats.Running))
	}
	p.schedulersMu.RUnlock()

	p.tasksMu.RLock()
	for name, provider := range p.tasks {
		snap := provider.Snapshot()
		for box, depth := range snap.InboxLens {
			p.taskInboxDepth.WithLabelValues(name, box).Set(float64(depth))
		}
		p.taskStopped.WithLabelValues(name).Set(boolGauge(snap.State == core.TaskStopped))
	}
	p.tasksMu.RUnlock()
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
