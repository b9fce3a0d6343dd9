package metrics

import (
	"net/http"
	"strconv"

	"github.com/melih/howls-moving-docker/internal/core/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hmd"

var _ ports.Recorder = (*Prometheus)(nil)

// Prometheus records control loop metrics in its own registry.
type Prometheus struct {
	registry *prometheus.Registry

	rotations   *prometheus.CounterVec
	recycles    *prometheus.CounterVec
	detections  *prometheus.CounterVec
	sweepErrors *prometheus.CounterVec
	production  prometheus.Gauge
	decoys      prometheus.Gauge
}

// NewPrometheus creates the metrics and registers them, together with the
// Go runtime and process collectors, in a fresh registry.
func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Prometheus{
		registry: reg,
		rotations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rotations_total",
			Help:      "Production endpoint rotations by service and result.",
		}, []string{"service", "success"}),
		recycles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recycles_total",
			Help:      "Decoy fleet recycles by result.",
		}, []string{"success"}),
		detections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detections_total",
			Help:      "Successful logins detected on decoys.",
		}, []string{"service"}),
		sweepErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_errors_total",
			Help:      "Decoy log checks that failed.",
		}, []string{"service"}),
		production: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "production_containers",
			Help:      "Production containers currently owned.",
		}),
		decoys: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "decoy_containers",
			Help:      "Decoy containers currently owned.",
		}),
	}
}

func (p *Prometheus) RotationDone(service string, ok bool) {
	p.rotations.WithLabelValues(service, strconv.FormatBool(ok)).Inc()
}

func (p *Prometheus) RecycleDone(ok bool) {
	p.recycles.WithLabelValues(strconv.FormatBool(ok)).Inc()
}

func (p *Prometheus) Detection(service string) {
	p.detections.WithLabelValues(service).Inc()
}

func (p *Prometheus) SweepError(service string) {
	p.sweepErrors.WithLabelValues(service).Inc()
}

func (p *Prometheus) FleetSize(production, decoys int) {
	p.production.Set(float64(production))
	p.decoys.Set(float64(decoys))
}

// Registry exposes the underlying registry, mainly for tests.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
