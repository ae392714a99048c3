package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/danielpatrickdp/evalboard/go-controller/internal/progress"
)

var phases = []progress.Phase{progress.PhaseStopped, progress.PhaseRunning, progress.PhaseComplete}

// Recorder exports run progress and outcomes as Prometheus metrics.
type Recorder struct {
	// ProgressTotal holds the number of entries in the current run
	ProgressTotal prometheus.Gauge
	// ProgressCurrent holds the number of entries processed so far
	ProgressCurrent prometheus.Gauge
	// ProgressPhase is 1 for the active phase and 0 for the others
	ProgressPhase *prometheus.GaugeVec
	// Evaluations counts per-entry outcomes (evaluated, skipped, transient, failed)
	Evaluations *prometheus.CounterVec
	// Runs counts finished runs by outcome
	Runs *prometheus.CounterVec
}

// NewRecorder creates the collectors and registers them on reg.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		ProgressTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "evalboard_progress_total",
			Help: "Number of entries in the current run",
		}),
		ProgressCurrent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "evalboard_progress_current",
			Help: "Number of entries processed in the current run",
		}),
		ProgressPhase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "evalboard_progress_phase",
			Help: "Current progress phase, one-hot",
		}, []string{"phase"}),
		Evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evalboard_evaluations_total",
			Help: "Total number of processed entries by run mode and outcome",
		}, []string{"mode", "outcome"}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evalboard_runs_total",
			Help: "Total number of finished runs by mode and outcome",
		}, []string{"mode", "outcome"}),
	}

	for _, c := range []prometheus.Collector{r.ProgressTotal, r.ProgressCurrent, r.ProgressPhase, r.Evaluations, r.Runs} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// ObserveProgress mirrors a progress snapshot. It has the signature of a
// progress observer.
func (r *Recorder) ObserveProgress(s progress.Snapshot) {
	r.ProgressTotal.Set(float64(s.Total))
	r.ProgressCurrent.Set(float64(s.Current))
	for _, p := range phases {
		v := 0.0
		if p == s.Phase {
			v = 1
		}
		r.ProgressPhase.WithLabelValues(string(p)).Set(v)
	}
}

// ObserveEvaluation counts one processed entry.
func (r *Recorder) ObserveEvaluation(mode, outcome string) {
	r.Evaluations.WithLabelValues(mode, outcome).Inc()
}

// ObserveRun counts one finished run.
func (r *Recorder) ObserveRun(mode, outcome string) {
	r.Runs.WithLabelValues(mode, outcome).Inc()
}
