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

package autoranker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type driverMetrics struct {
	pushesTotal *prometheus.CounterVec
}

func (d *Driver) initMetrics(promRegistry prometheus.Registerer) {
	promautoFactory := promauto.With(promRegistry)
	d.metrics = &driverMetrics{
		pushesTotal: promautoFactory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autoranker_round_pushes_total",
				Help: "round pushes by result",
			},
			[]string{"result"},
		),
	}
}

func (d *Driver) countPush(err error) {
	if d.metrics == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "failed"
	}
	d.metrics.pushesTotal.WithLabelValues(result).Inc()
}
