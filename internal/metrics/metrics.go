// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package metrics exposes Prometheus metrics of normalization jobs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Job results used as label values
const (
	ResultSuccess  = "success"
	ResultFailure  = "failure"
	ResultCanceled = "canceled"
)

// Registry holds all job metrics on its own Prometheus registry
type Registry struct {
	reg *prometheus.Registry

	Jobs           *prometheus.CounterVec
	IMADRounds     prometheus.Counter
	BestDelta      prometheus.Gauge
	NoChangePixels prometheus.Gauge
	JobDuration    *prometheus.HistogramVec
}

// New creates a registry with all job metrics and the Go runtime collectors
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		Jobs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arrnorm_jobs_total",
				Help: "Total number of normalization jobs by result",
			},
			[]string{"result"},
		),

		IMADRounds: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "arrnorm_imad_rounds_total",
				Help: "Total number of completed IR-MAD iterations",
			},
		),

		BestDelta: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "arrnorm_imad_best_delta",
				Help: "Canonical correlation change of the round selected by the last IR-MAD run",
			},
		),

		NoChangePixels: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "arrnorm_radcal_nochange_pixels",
				Help: "Invariant pixels used by the last radiometric calibration",
			},
		),

		JobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "arrnorm_job_duration_seconds",
				Help:    "Duration of normalization jobs in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"result"},
		),
	}
	r.reg.MustRegister(r.Jobs, r.IMADRounds, r.BestDelta, r.NoChangePixels, r.JobDuration,
		collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return r
}

// Gatherer returns the underlying registry for scraping
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// Handler serves the registry in the Prometheus exposition format
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// ObserveRound records one completed IR-MAD iteration
func (r *Registry) ObserveRound() {
	if r == nil {
		return
	}
	r.IMADRounds.Inc()
}

// ObserveIMAD records the delta of the selected round
func (r *Registry) ObserveIMAD(bestDelta float64) {
	if r == nil {
		return
	}
	r.BestDelta.Set(bestDelta)
}

// ObserveRadcal records the size of the no-change mask
func (r *Registry) ObserveRadcal(noChange int64) {
	if r == nil {
		return
	}
	r.NoChangePixels.Set(float64(noChange))
}

// RecordJob records the outcome and duration of a job
func (r *Registry) RecordJob(result string, d time.Duration) {
	if r == nil {
		return
	}
	r.Jobs.WithLabelValues(result).Inc()
	r.JobDuration.WithLabelValues(result).Observe(d.Seconds())
}
