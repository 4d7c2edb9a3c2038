package prometheus

import (
	"errors"
	"fmt"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/Swind/go-axon/core"
)

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	DurationBuckets []float64
}

// stepBuckets suit cooperative steps, which should return in well under a millisecond.
var stepBuckets = []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05, .1, .5, 1}

// MetricsExporter adapts core.Metrics to Prometheus collectors.
type MetricsExporter struct {
	stepDurationSeconds *prom.HistogramVec
	taskFaultTotal      *prom.CounterVec
	sendRejectedTotal   *prom.CounterVec
	runQueue            *prom.GaugeVec
}

var _ core.Metrics = (*MetricsExporter)(nil)

// NewMetricsExporter creates and registers Prometheus collectors for core.Metrics.
func NewMetricsExporter(namespace string, reg prom.Registerer, opts ExporterOptions) (*MetricsExporter, error) {
	if namespace == "" {
		namespace = "axon"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.DurationBuckets
	if len(buckets) == 0 {
		buckets = stepBuckets
	}

	durationVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "step_duration_seconds",
		Help:      "Duration of one task step in seconds.",
		Buckets:   buckets,
	}, []string{"task"})
	faultVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_fault_total",
		Help:      "Total number of task faults (errors and panics).",
	}, []string{"task"})
	rejectedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "send_rejected_total",
		Help:      "Total number of sends refused by backpressure.",
	}, []string{"box", "reason"})
	runQueueVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "run_queue",
		Help:      "Tasks per scheduler after the latest pass, by state.",
	}, []string{"scheduler", "state"})

	var err error
	if durationVec, err = registerCollector(reg, durationVec); err != nil {
		return nil, err
	}
	if faultVec, err = registerCollector(reg, faultVec); err != nil {
		return nil, err
	}
	if rejectedVec, err = registerCollector(reg, rejectedVec); err != nil {
		return nil, err
	}
	if runQueueVec, err = registerCollector(reg, runQueueVec); err != nil {
		return nil, err
	}

	return &MetricsExporter{
		stepDurationSeconds: durationVec,
		taskFaultTotal:      faultVec,
		sendRejectedTotal:   rejectedVec,
		runQueue:            runQueueVec,
	}, nil
}

// RecordStepDuration records how long one step took.
func (m *MetricsExporter) RecordStepDuration(taskName string, duration time.Duration) {
	if m == nil {
		return
	}
	m.stepDurationSeconds.WithLabelValues(normalizeLabel(taskName, "unknown")).Observe(duration.Seconds())
}

// RecordTaskFault records task faults.
func (m *MetricsExporter) RecordTaskFault(taskName string, fault any) {
	if m == nil {
		return
	}
	m.taskFaultTotal.WithLabelValues(normalizeLabel(taskName, "unknown")).Inc()
}

// RecordRunQueue records runnable and paused counts.
func (m *MetricsExporter) RecordRunQueue(schedulerName string, runnable, paused int) {
	if m == nil {
		return
	}
	name := normalizeLabel(schedulerName, "unknown")
	m.runQueue.WithLabelValues(name, "runnable").Set(float64(runnable))
	m.runQueue.WithLabelValues(name, "paused").Set(float64(paused))
}

// RecordSendRejected records backpressure rejections.
func (m *MetricsExporter) RecordSendRejected(box string, reason string) {
	if m == nil {
		return
	}
	m.sendRejectedTotal.WithLabelValues(normalizeLabel(box, "unknown"), normalizeLabel(reason, "unknown")).Inc()
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
