// Package cluster models the TSAR mesh topology: a Table of Clusters,
// each owning a fixed set of CPUs, built from a bib.BootInfoBlock. It
// intentionally knows nothing about DQDT, scheduling or memory
// management — those packages attach their own per-cluster and per-CPU
// state by indexing on ClusterID/CPU.GID rather than cluster importing
// them, mirroring how kern/cluster.h and kern/cpu.h are leaves that
// ppm.h, dqdt.h and scheduler.h build on top of, not the reverse.
package cluster

import (
	"sync/atomic"
)

// State mirrors the cpu_s state enum (kern/cpu.h).
type State int

const (
	Active State = iota
	Idle
	Lowpower
	Suspend
	Deactive
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Idle:
		return "idle"
	case Lowpower:
		return "lowpower"
	case Suspend:
		return "suspend"
	case Deactive:
		return "deactive"
	default:
		return "unknown"
	}
}

// CPU is one mesh core. LID is the cluster-local id, GID the
// mesh-wide global id (kern/cpu.h's cpu_s.lid/gid).
type CPU struct {
	LID, GID uint

	Cluster *Cluster

	state       int32 // State, accessed atomically
	ticksCount  uint64
	busyPercent int32 // 0..100, accessed atomically
	runnable    int32 // scheduler.u_runnable/user_nr stand-in, accessed atomically

	// prngA/prngC/lastNum back a CPU-local linear congruential
	// generator, the Go analogue of cpu_s's prng_A/prng_C/last_num
	// used by the scheduler and DQDT to break placement ties without a
	// shared source of randomness.
	prngA, prngC, lastNum uint32
}

// NewCPU builds a CPU in the Idle state, seeded so distinct CPUs draw
// distinct pseudo-random sequences.
func NewCPU(cluster *Cluster, lid, gid uint) *CPU {
	return &CPU{
		LID:     lid,
		GID:     gid,
		Cluster: cluster,
		state:   int32(Idle),
		prngA:   1103515245,
		prngC:   uint32(12345 + gid*2654435761),
		lastNum: uint32(gid + 1),
	}
}

// State returns the CPU's current power/run state.
func (c *CPU) State() State { return State(atomic.LoadInt32(&c.state)) }

// SetState transitions the CPU's power/run state.
func (c *CPU) SetState(s State) { atomic.StoreInt32(&c.state, int32(s)) }

// Tick records one scheduler tick, the Go analogue of the timer
// interrupt handler bumping cpu_s.ticks_count.
func (c *CPU) Tick() { atomic.AddUint64(&c.ticksCount, 1) }

// Ticks returns the number of ticks observed so far.
func (c *CPU) Ticks() uint64 { return atomic.LoadUint64(&c.ticksCount) }

// BusyPercent returns the last value computed by ComputeStats.
func (c *CPU) BusyPercent() uint { return uint(atomic.LoadInt32(&c.busyPercent)) }

// ComputeStats recomputes busy_percent from a sampled busy/idle tick
// delta, discarding samples under threshold as noise — the Go
// analogue of cpu_compute_stats (kern/cpu.h), whose job is exactly to
// feed DQDT's bottom-up load aggregation a stable per-CPU load figure.
func (c *CPU) ComputeStats(busyTicks, totalTicks uint, threshold int) {
	if totalTicks == 0 {
		return
	}
	delta := int(busyTicks) - int(atomic.LoadInt32(&c.busyPercent))*int(totalTicks)/100
	if delta < 0 {
		delta = -delta
	}
	if delta < threshold {
		return
	}
	pct := busyTicks * 100 / totalTicks
	if pct > 100 {
		pct = 100
	}
	atomic.StoreInt32(&c.busyPercent, int32(pct))
}

// Runnable returns the number of threads this CPU currently has
// runnable, the Go analogue of scheduler_s.u_runnable/user_nr.
func (c *CPU) Runnable() int { return int(atomic.LoadInt32(&c.runnable)) }

// AddRunnable adjusts the runnable-thread count by delta, called by the
// scheduler on enqueue/dequeue and by DQDT placement to reserve a CPU
// before the thread actually lands on it.
func (c *CPU) AddRunnable(delta int) { atomic.AddInt32(&c.runnable, int32(delta)) }

// Rand draws the next value from the CPU-local PRNG stream (a 32-bit
// LCG, matching the update rule ALMOS's cpu_s.prng fields drive).
func (c *CPU) Rand() uint32 {
	c.lastNum = c.lastNum*c.prngA + c.prngC
	return c.lastNum
}
