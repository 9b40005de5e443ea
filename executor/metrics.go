// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package executor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type executorMetrics struct {
	actionsTotal      *prometheus.CounterVec
	pendingRecoveries prometheus.Counter
	confirmSeconds    prometheus.Histogram
}

func (e *Executor) initMetrics(promRegistry prometheus.Registerer) {
	promautoFactory := promauto.With(promRegistry)
	e.metrics = &executorMetrics{
		actionsTotal: promautoFactory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autoranker_actions_total",
				Help: "ledger actions processed by kind and result",
			},
			[]string{"kind", "result"},
		),
		pendingRecoveries: promautoFactory.NewCounter(
			prometheus.CounterOpts{
				Name: "autoranker_action_pending_recoveries_total",
				Help: "submissions recovered by awaiting an already pending transaction",
			},
		),
		confirmSeconds: promautoFactory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "autoranker_action_confirm_seconds",
				Help:    "time from submission to confirmation",
				Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
			},
		),
	}
}

func (e *Executor) countAction(kind string, result string) {
	if e.metrics == nil {
		return
	}
	e.metrics.actionsTotal.WithLabelValues(kind, result).Inc()
}
