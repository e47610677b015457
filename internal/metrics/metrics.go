// Package metrics records per-step deployment metrics and pushes them to a
// Prometheus Pushgateway at the end of a run.
package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/Bidon15/stakedeploy/internal/deployer"
)

const namespace = "stakedeploy"

// StatusFailed labels steps that did not complete.
const StatusFailed = "failed"

// Recorder is a deployer.Observer that records step outcomes.
type Recorder struct {
	duration *prometheus.HistogramVec
	steps    *prometheus.CounterVec
	gas      *prometheus.CounterVec
}

var _ deployer.Observer = (*Recorder)(nil)

// NewRecorder creates a Recorder and registers its collectors with reg.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Time from submission of a step's first transaction to confirmation of its last.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"step", "contract"}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Deployment steps by final status.",
		}, []string{"step", "status"}),
		gas: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gas_used_total",
			Help:      "Gas used by confirmed deployment transactions.",
		}, []string{"step"}),
	}
	for _, c := range []prometheus.Collector{r.duration, r.steps, r.gas} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return r, nil
}

func (r *Recorder) StepStarted(deployer.Step) {}

func (r *Recorder) StepCompleted(res deployer.Result) {
	r.steps.WithLabelValues(res.Step, string(res.Status)).Inc()
	if res.Status != deployer.StatusConfirmed {
		return
	}
	r.duration.WithLabelValues(res.Step, res.Contract).Observe(res.Timing.Elapsed.Seconds())
	r.gas.WithLabelValues(res.Step).Add(float64(res.GasUsed))
}

func (r *Recorder) StepFailed(step deployer.Step, _ error) {
	r.steps.WithLabelValues(step.Name, StatusFailed).Inc()
}

// Push sends everything g gathers to the Pushgateway at url under job,
// replacing the previous push for the same grouping.
func Push(ctx context.Context, url, job string, g prometheus.Gatherer, grouping map[string]string) error {
	p := push.New(url, job).Gatherer(g)
	for k, v := range grouping {
		p = p.Grouping(k, v)
	}
	if err := p.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
