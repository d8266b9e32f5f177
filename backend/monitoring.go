// Copyright (c) 2026 TTBT Enterprises LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package backend

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ttbt-io/statkeeper/backend/scoring"
)

// Metrics holds the prometheus collectors of a server. Every method is safe
// to call on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	mutations        *prometheus.CounterVec
	mutationDuration *prometheus.HistogramVec
	recomputes       prometheus.Counter
	integrityFaults  prometheus.Counter
	publishFailures  prometheus.Counter
	publishDropped   prometheus.Counter
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	wsClients        prometheus.Gauge
	raftLeader       prometheus.Gauge
	raftApplied      prometheus.Gauge
}

// NewMetrics creates the collectors on a private registry. When r is not
// nil, gauges of the live game and team counts are exported too.
func NewMetrics(r *Registry) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "statkeeper",
			Name:      "game_mutations_total",
			Help:      "Game mutations by operation and outcome.",
		}, []string{"op", "outcome"}),
		mutationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "statkeeper",
			Name:      "game_mutation_duration_seconds",
			Help:      "Time to apply a game mutation.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"op"}),
		recomputes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "statkeeper",
			Name:      "game_recomputes_total",
			Help:      "Full replays of a game log after an edit.",
		}),
		integrityFaults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "statkeeper",
			Name:      "integrity_faults_total",
			Help:      "Replays aborted on an unrecognized result code.",
		}),
		publishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "statkeeper",
			Name:      "redis_publish_failures_total",
			Help:      "State updates that could not be published to redis.",
		}),
		publishDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "statkeeper",
			Name:      "redis_publish_dropped_total",
			Help:      "State updates dropped because the publish queue was full.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "statkeeper",
			Name:      "http_requests_total",
			Help:      "HTTP requests by method and status code.",
		}, []string{"method", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "statkeeper",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "statkeeper",
			Name:      "websocket_clients",
			Help:      "Connected websocket subscribers.",
		}),
		raftLeader: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "statkeeper",
			Name:      "raft_leader",
			Help:      "1 when this node is the raft leader.",
		}),
		raftApplied: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "statkeeper",
			Name:      "raft_applied_index",
			Help:      "Last raft log index applied to the FSM.",
		}),
	}
	m.registry.MustRegister(
		m.mutations, m.mutationDuration, m.recomputes, m.integrityFaults,
		m.publishFailures, m.publishDropped, m.httpRequests, m.httpDuration, m.wsClients,
		m.raftLeader, m.raftApplied,
	)
	if r != nil {
		m.registry.MustRegister(
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: "statkeeper",
				Name:      "games",
				Help:      "Live games.",
			}, func() float64 { return float64(r.CountTotalGames()) }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: "statkeeper",
				Name:      "teams",
				Help:      "Live teams.",
			}, func() float64 { return float64(r.CountTotalTeams()) }),
		)
	}
	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case scoring.IsValidation(err):
		return "invalid"
	case errors.Is(err, scoring.ErrGameFinal):
		return "final"
	case errors.Is(err, scoring.ErrNotFound):
		return "not_found"
	case scoring.IsIntegrity(err):
		return "integrity"
	}
	return "error"
}

// ObserveMutation records the outcome and duration of a game mutation.
func (m *Metrics) ObserveMutation(op MutationOp, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(string(op), outcome(err)).Inc()
	m.mutationDuration.WithLabelValues(string(op)).Observe(d.Seconds())
	if err == nil && op.recomputes() {
		m.recomputes.Inc()
	}
	if scoring.IsIntegrity(err) {
		m.integrityFaults.Inc()
	}
}

// PublishFailed counts a failed redis publication.
func (m *Metrics) PublishFailed() {
	if m == nil {
		return
	}
	m.publishFailures.Inc()
}

// PublishDropped counts an update dropped from a full publish queue.
func (m *Metrics) PublishDropped() {
	if m == nil {
		return
	}
	m.publishDropped.Inc()
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(method string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(method).Observe(d.Seconds())
}

// ClientConnected and ClientDisconnected track websocket subscribers.
func (m *Metrics) ClientConnected() {
	if m == nil {
		return
	}
	m.wsClients.Inc()
}

func (m *Metrics) ClientDisconnected() {
	if m == nil {
		return
	}
	m.wsClients.Dec()
}

// SetRaftState exports the leadership and applied index of this node.
func (m *Metrics) SetRaftState(leader bool, applied uint64) {
	if m == nil {
		return
	}
	if leader {
		m.raftLeader.Set(1)
	} else {
		m.raftLeader.Set(0)
	}
	m.raftApplied.Set(float64(applied))
}
