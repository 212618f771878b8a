// Package metrics exports the load figures DQDT and the scheduler
// already compute as Prometheus gauges, scraped over /metrics by
// almosctl serve. Nothing here samples anything itself — cpu_compute_
// stats and dqdt_update already produce exactly these numbers on every
// update cycle, so each Observe* call just copies a value that was
// computed anyway into a gauge. Styled after pkg/metrics's package-level
// collector vars, init-time MustRegister and promhttp.Handler wrapper.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"almos/kernel/cluster"
	"almos/kernel/dqdt"
	"almos/kernel/mem/ppm"
)

var (
	// DQDT summary gauges, one set of labeled series per tree level.
	DQDTFreePages = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "almos_dqdt_free_pages",
			Help: "DQDT node summary: total free pages beneath this level (M)",
		},
		[]string{"level"},
	)

	DQDTThreads = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "almos_dqdt_runnable_threads",
			Help: "DQDT node summary: runnable thread count beneath this level (T)",
		},
		[]string{"level"},
	)

	DQDTUsage = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "almos_dqdt_usage_percent",
			Help: "DQDT node summary: average CPU busy percent beneath this level (U)",
		},
		[]string{"level"},
	)

	// CPUBusyPercent mirrors cpu_s.busy_percent as cpu_compute_stats
	// last computed it.
	CPUBusyPercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "almos_cpu_busy_percent",
			Help: "Per-CPU busy percent as last sampled by cpu_compute_stats",
		},
		[]string{"cluster", "cpu"},
	)

	// PPMFreeBlocks mirrors one cluster's buddy free list, per order.
	PPMFreeBlocks = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "almos_ppm_free_blocks",
			Help: "Free buddy-allocator blocks per order, per cluster",
		},
		[]string{"cluster", "order"},
	)

	// SchedRunQueueDepth holds the per-CPU depth ObserveRunQueueDepth
	// is given; runtime.Sample passes cluster.CPU.Runnable(), the
	// u_runnable stand-in.
	SchedRunQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "almos_sched_run_queue_depth",
			Help: "Runnable thread count in a CPU's ready queue",
		},
		[]string{"cluster", "cpu"},
	)
)

func init() {
	prometheus.MustRegister(DQDTFreePages)
	prometheus.MustRegister(DQDTThreads)
	prometheus.MustRegister(DQDTUsage)
	prometheus.MustRegister(CPUBusyPercent)
	prometheus.MustRegister(PPMFreeBlocks)
	prometheus.MustRegister(SchedRunQueueDepth)
}

// Handler returns the Prometheus HTTP handler almosctl serve mounts at
// /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveDQDTNode copies one tree node's folded summary into the DQDT
// gauges, labeled by level.
func ObserveDQDTNode(level int, s dqdt.Summary) {
	lvl := strconv.Itoa(level)
	DQDTFreePages.WithLabelValues(lvl).Set(float64(s.FreePages))
	DQDTThreads.WithLabelValues(lvl).Set(float64(s.Threads))
	DQDTUsage.WithLabelValues(lvl).Set(float64(s.Usage))
}

// ObserveCPU copies cpu's last-computed busy percent into
// CPUBusyPercent.
func ObserveCPU(c *cluster.Cluster, cpu *cluster.CPU) {
	CPUBusyPercent.WithLabelValues(clusterLabel(c), cpuLabel(cpu)).Set(float64(cpu.BusyPercent()))
}

// ObservePPM copies pool's free-block counts into PPMFreeBlocks, one
// series per order.
func ObservePPM(c *cluster.Cluster, pool *ppm.PPM) {
	for order, count := range pool.FreeBlocksPerOrder() {
		PPMFreeBlocks.WithLabelValues(clusterLabel(c), strconv.Itoa(order)).Set(float64(count))
	}
}

// ObserveRunQueueDepth copies a CPU's current ready-queue depth into
// SchedRunQueueDepth.
func ObserveRunQueueDepth(c *cluster.Cluster, cpu *cluster.CPU, depth int) {
	SchedRunQueueDepth.WithLabelValues(clusterLabel(c), cpuLabel(cpu)).Set(float64(depth))
}

func clusterLabel(c *cluster.Cluster) string {
	if c == nil {
		return "none"
	}
	return strconv.FormatUint(uint64(c.CID), 10)
}

func cpuLabel(cpu *cluster.CPU) string {
	if cpu == nil {
		return "none"
	}
	return strconv.FormatUint(uint64(cpu.GID), 10)
}
