package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/catalog-harvester/internal/progress"
)

// PrometheusSink exports run-level progress: runs started, finished and in
// flight, run wall time, and the planned versus completed pages of each
// institution's latest run. Per-page outcomes are counted by the worker.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runDuration   *prometheus.HistogramVec
	pagesPlanned  *prometheus.GaugeVec
	pagesDone     *prometheus.GaugeVec

	mu      sync.Mutex
	running map[[16]byte]struct{}
}

// NewPrometheusSink registers the collectors against reg, or the default
// registerer when reg is nil.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvester_runs_started_total",
			Help: "Institution runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_runs_completed_total",
			Help: "Institution runs completed, labeled by result.",
		}, []string{"result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "harvester_runs_running",
			Help: "Institution runs currently in progress.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harvester_run_duration_seconds",
			Help:    "Wall time per completed institution run.",
			Buckets: []float64{10, 60, 300, 900, 1800, 3600, 7200, 14400, 28800},
		}, []string{"result"}),
		pagesPlanned: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "harvester_run_pages_planned",
			Help: "Pages planned by the latest run of each institution.",
		}, []string{"institution"}),
		pagesDone: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "harvester_run_pages_done",
			Help: "Pages completed by the latest run of each institution.",
		}, []string{"institution"}),
		running: make(map[[16]byte]struct{}),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runDuration,
		s.pagesPlanned,
		s.pagesDone,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			s.runsStarted.Inc()
			s.pagesPlanned.WithLabelValues(evt.Institution).Set(0)
			s.pagesDone.WithLabelValues(evt.Institution).Set(0)
			if s.track(evt.RunID, true) {
				s.runsRunning.Inc()
			}
		case progress.StagePlanDone:
			s.pagesPlanned.WithLabelValues(evt.Institution).Set(float64(evt.Pages))
		case progress.StagePageDone:
			s.pagesDone.WithLabelValues(evt.Institution).Inc()
		case progress.StageRunDone, progress.StageRunError:
			result := "success"
			if evt.Stage == progress.StageRunError {
				result = "error"
			}
			s.runsCompleted.WithLabelValues(result).Inc()
			if evt.Dur > 0 {
				s.runDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
			}
			if s.track(evt.RunID, false) {
				s.runsRunning.Dec()
			}
		}
	}
	return nil
}

// track adds or removes a running run and reports whether the set changed.
func (s *PrometheusSink) track(id [16]byte, start bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[id]
	switch {
	case start && !ok:
		s.running[id] = struct{}{}
		return true
	case !start && ok:
		delete(s.running, id)
		return true
	}
	return false
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
