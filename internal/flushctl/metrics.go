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

package flushctl

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus metrics for the flush controller: global only, no per-region
// labels, so cardinality never scales with the number of hosted regions.
var (
	ticksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wbfc_ticks_total",
		Help: "Total number of executor ticks, regardless of whether a victim was selected",
	})
	victimsSelectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wbfc_victims_selected_total",
		Help: "Total number of regions selected by the planner across all ticks",
	})
	flushesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wbfc_flushes_total",
		Help: "Total number of successful tablet flushes (failures are counted in wbfc_flush_errors_total)",
	})
	flushErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wbfc_flush_errors_total",
		Help: "Total number of transient flush failures (logged, not fatal)",
	})
	missingTabletTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wbfc_missing_tablet_total",
		Help: "Total number of times a planner victim had no open tablet, aborting the remaining batch",
	})
	reclaimedBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wbfc_reclaimed_bytes_total",
		Help: "Cumulative bytes reclaimed by flushes (pre-flush size minus post-flush size)",
	})
	batchSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "wbfc_batch_size",
		Help:    "Distribution of planner output length per tick",
		Buckets: []float64{0, 1, 2, 4, 8, 16, 32},
	})
	planningDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "wbfc_planning_duration_seconds",
		Help:    "Wall-clock time spent inside wbfc.Plan per tick",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(
		ticksTotal,
		victimsSelectedTotal,
		flushesTotal,
		flushErrorsTotal,
		missingTabletTotal,
		reclaimedBytesTotal,
		batchSize,
		planningDuration,
	)
}

func recordTick(victims int, planDuration time.Duration) {
	ticksTotal.Inc()
	victimsSelectedTotal.Add(float64(victims))
	batchSize.Observe(float64(victims))
	planningDuration.Observe(planDuration.Seconds())
}

func recordFlush(preSize, postSize uint64) {
	flushesTotal.Inc()
	if preSize > postSize {
		reclaimedBytesTotal.Add(float64(preSize - postSize))
	}
}

func recordFlushError() { flushErrorsTotal.Inc() }

func recordMissingTablet() { missingTabletTotal.Inc() }

// ServeMetrics starts a dedicated /metrics HTTP endpoint in a background
// goroutine, mirroring the teacher's startMetricsEndpoint helper. Safe to
// call at most once per addr.
func ServeMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		_ = server.ListenAndServe()
	}()
}
