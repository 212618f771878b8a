package metrics

import (
	"strconv"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"almos/kernel/cluster"
	"almos/kernel/dqdt"
	"almos/kernel/mem/ppm"
)

func TestObserveDQDTNodeSetsAllThreeGauges(t *testing.T) {
	ObserveDQDTNode(2, dqdt.Summary{FreePages: 100, Threads: 4, Usage: 37})

	if got := testutil.ToFloat64(DQDTFreePages.WithLabelValues("2")); got != 100 {
		t.Errorf("DQDTFreePages = %v, want 100", got)
	}
	if got := testutil.ToFloat64(DQDTThreads.WithLabelValues("2")); got != 4 {
		t.Errorf("DQDTThreads = %v, want 4", got)
	}
	if got := testutil.ToFloat64(DQDTUsage.WithLabelValues("2")); got != 37 {
		t.Errorf("DQDTUsage = %v, want 37", got)
	}
}

func TestObserveCPUSetsBusyPercentByClusterAndCPULabel(t *testing.T) {
	c := &cluster.Cluster{CID: 7}
	cpu := cluster.NewCPU(c, 0, 3)
	cpu.ComputeStats(80, 100, 0)

	ObserveCPU(c, cpu)

	if got := testutil.ToFloat64(CPUBusyPercent.WithLabelValues("7", "3")); got != 80 {
		t.Errorf("CPUBusyPercent = %v, want 80", got)
	}
}

func TestObservePPMSetsOneSeriesPerOrder(t *testing.T) {
	c := &cluster.Cluster{CID: 1}
	pool := ppm.New(1, 64, 3)

	ObservePPM(c, pool)

	for order, count := range pool.FreeBlocksPerOrder() {
		got := testutil.ToFloat64(PPMFreeBlocks.WithLabelValues("1", strconv.Itoa(order)))
		if got != float64(count) {
			t.Errorf("PPMFreeBlocks[order=%d] = %v, want %v", order, got, count)
		}
	}
}

func TestObserveRunQueueDepthHandlesANilCluster(t *testing.T) {
	cpu := cluster.NewCPU(nil, 0, 0)
	ObserveRunQueueDepth(nil, cpu, 5)

	if got := testutil.ToFloat64(SchedRunQueueDepth.WithLabelValues("none", "0")); got != 5 {
		t.Errorf("SchedRunQueueDepth = %v, want 5", got)
	}
}
