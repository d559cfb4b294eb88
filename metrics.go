// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ketch

import (
	"github.com/luxfi/metric"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "ketch"

type leaderMetrics struct {
	rounds        prometheus.Counter
	commits       prometheus.Counter
	aborts        prometheus.Counter
	pushFailures  prometheus.Counter
	queueLen      prometheus.Gauge
	roundDuration metric.Averager
}

func newLeaderMetrics(registerer prometheus.Registerer) (*leaderMetrics, error) {
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}
	m := &leaderMetrics{
		rounds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rounds_started_total",
			Help:      "Number of consensus rounds started",
		}),
		commits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "commits_total",
			Help:      "Number of log positions committed on a majority",
		}),
		aborts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "proposals_aborted_total",
			Help:      "Number of proposals aborted",
		}),
		pushFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "pushes_failed_total",
			Help:      "Number of replica pushes that failed",
		}),
		queueLen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "queue_length",
			Help:      "Number of proposals waiting in the leader queue",
		}),
	}
	for _, c := range []prometheus.Collector{
		m.rounds,
		m.commits,
		m.aborts,
		m.pushFailures,
		m.queueLen,
	} {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}
	duration, err := metric.NewAverager(metricsNamespace, "round_duration", registerer)
	if err != nil {
		return nil, err
	}
	m.roundDuration = duration
	return m, nil
}
