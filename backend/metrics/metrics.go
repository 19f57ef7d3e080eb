// Copyright (C) 2025 efchat.net <tj@efchat.net>
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

// Package metrics holds the Prometheus counters exported by the indexer.
// All methods are safe on a nil *Metrics so components can run without them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ciphindex"

type Metrics struct {
	verifications    *prometheus.CounterVec
	reconcileRuns    *prometheus.CounterVec
	remoteFailures   *prometheus.CounterVec
	storeRejected    *prometheus.CounterVec
	reconcileSkipped prometheus.Counter
}

// New creates the counters and registers them on reg. A nil reg leaves
// them unregistered, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verifications_total",
			Help:      "Binding verifications by result.",
		}, []string{"result"}),
		reconcileRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_runs_total",
			Help:      "Per-address reconciliation runs by outcome.",
		}, []string{"outcome"}),
		remoteFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_fetch_failures_total",
			Help:      "Failed remote indexer fetches by direction.",
		}, []string{"direction"}),
		storeRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_rejected_total",
			Help:      "Records refused by the conversation store.",
		}, []string{"reason"}),
		reconcileSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_skipped_total",
			Help:      "Runs skipped because the address was still in flight.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.verifications, m.reconcileRuns, m.remoteFailures, m.storeRejected, m.reconcileSkipped)
	}
	return m
}

func (m *Metrics) ObserveVerification(result string) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveReconcile(outcome string) {
	if m == nil {
		return
	}
	m.reconcileRuns.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveRemoteFailure(direction string) {
	if m == nil {
		return
	}
	m.remoteFailures.WithLabelValues(direction).Inc()
}

func (m *Metrics) ObserveRejected(reason string) {
	if m == nil {
		return
	}
	m.storeRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveSkipped() {
	if m == nil {
		return
	}
	m.reconcileSkipped.Inc()
}
