package sched

import (
	"testing"

	"almos/kernel/cluster"
)

func newScheduler() (*Scheduler, *cluster.CPU) {
	cpu := cluster.NewCPU(nil, 0, 0)
	idle := NewThread(0, IdleThread)
	return NewScheduler(cpu, idle), cpu
}

func TestAddCreatedPrependsKernelThreadsAheadOfUserThreads(t *testing.T) {
	s, _ := newScheduler()

	u1 := NewThread(1, UserThread)
	u2 := NewThread(2, UserThread)
	k1 := NewThread(3, KernelThread)

	s.AddCreated(u1)
	s.AddCreated(u2)
	s.AddCreated(k1)

	if got := s.Elect(nil); got != k1 {
		t.Fatalf("expected the kernel thread to be elected first, got thread %d", got.ID)
	}
	if got := s.Elect(k1); got != u1 {
		t.Fatalf("expected the first user thread next, got thread %d", got.ID)
	}
}

func TestAddCreatedTracksCountersByKind(t *testing.T) {
	s, cpu := newScheduler()
	s.AddCreated(NewThread(1, UserThread))
	s.AddCreated(NewThread(2, KernelThread))

	stats := s.Stats()
	if stats.TotalNr != 2 {
		t.Fatalf("expected total_nr 2, got %d", stats.TotalNr)
	}
	if stats.UserNr != 1 {
		t.Fatalf("expected user_nr 1, got %d", stats.UserNr)
	}
	if stats.KRunnable != 1 {
		t.Fatalf("expected k_runnable 1, got %d", stats.KRunnable)
	}
	if cpu.Runnable() != 1 {
		t.Fatalf("expected the CPU's u_runnable stand-in to be 1, got %d", cpu.Runnable())
	}
}

func TestElectFallsBackToIdleOnAnEmptyQueue(t *testing.T) {
	s, _ := newScheduler()
	if got := s.Elect(nil); got != s.Idle {
		t.Fatalf("expected the idle thread when the queue is empty, got %+v", got)
	}
}

func TestElectLeavesARequeuedThreadsQuantumExhaustedUntilReElected(t *testing.T) {
	s, _ := newScheduler()
	th := NewThread(1, UserThread)
	s.AddCreated(th)
	s.Elect(nil)

	for i := 0; i < RRQuantum+1; i++ {
		s.Clock(th)
	}
	if !th.NeedResched() {
		t.Fatal("expected the thread to be flagged for reschedule once its quantum goes negative")
	}

	s.AddCreated(NewThread(2, UserThread))
	next := s.Elect(th)
	if next.ID != 2 {
		t.Fatalf("expected thread 2 to be elected, got %d", next.ID)
	}
	if th.quantum >= 0 {
		t.Fatalf("expected the re-queued thread's exhausted quantum to stay negative until it is re-elected, got %d", th.quantum)
	}
}

func TestClockNeverFlagsTheIdleThread(t *testing.T) {
	s, _ := newScheduler()
	for i := 0; i < RRQuantum+5; i++ {
		s.Clock(s.Idle)
	}
	if s.Idle.NeedResched() {
		t.Fatal("expected the idle thread to never need rescheduling")
	}
}

func TestSleepAndWakeupAdjustRunnableCounters(t *testing.T) {
	s, cpu := newScheduler()
	th := NewThread(1, UserThread)
	s.AddCreated(th)

	if cpu.Runnable() != 1 {
		t.Fatalf("expected u_runnable 1 after add_created, got %d", cpu.Runnable())
	}

	s.Sleep(th)
	if th.State() != Wait {
		t.Fatalf("expected state Wait after Sleep, got %v", th.State())
	}
	if cpu.Runnable() != 0 {
		t.Fatalf("expected u_runnable 0 after Sleep, got %d", cpu.Runnable())
	}
	if s.Len() != 0 {
		t.Fatalf("expected the sleeping thread off the ready queue, got len %d", s.Len())
	}

	s.Wakeup(th)
	if th.State() != Ready {
		t.Fatalf("expected state Ready after Wakeup, got %v", th.State())
	}
	if cpu.Runnable() != 1 {
		t.Fatalf("expected u_runnable 1 after Wakeup, got %d", cpu.Runnable())
	}
}

func TestExitRetiresAQueuedThreadAndBacksOutCounters(t *testing.T) {
	s, cpu := newScheduler()
	th := NewThread(1, UserThread)
	s.AddCreated(th)

	s.Exit(th)
	if th.State() != Dead {
		t.Fatalf("expected state Dead, got %v", th.State())
	}
	stats := s.Stats()
	if stats.TotalNr != 0 || stats.UserNr != 0 {
		t.Fatalf("expected total_nr/user_nr to drop to 0, got %+v", stats)
	}
	if cpu.Runnable() != 0 {
		t.Fatalf("expected u_runnable back to 0, got %d", cpu.Runnable())
	}
}

func TestExitRetiresTheCurrentlyRunningThread(t *testing.T) {
	s, cpu := newScheduler()
	th := NewThread(1, UserThread)
	s.AddCreated(th)
	s.Elect(nil) // th is now running, off the ready queue

	s.Exit(th)
	stats := s.Stats()
	if stats.TotalNr != 0 {
		t.Fatalf("expected total_nr to drop even though the thread wasn't queued, got %d", stats.TotalNr)
	}
	if cpu.Runnable() != 0 {
		t.Fatalf("expected u_runnable back to 0, got %d", cpu.Runnable())
	}
}

func TestRemoveUnlinksWithoutChangingState(t *testing.T) {
	s, _ := newScheduler()
	th := NewThread(1, UserThread)
	s.AddCreated(th)

	s.Remove(th)
	if th.State() != Ready {
		t.Fatalf("expected Remove to leave state untouched, got %v", th.State())
	}
	if s.Len() != 0 {
		t.Fatal("expected the thread off the ready queue after Remove")
	}
	if stats := s.Stats(); stats.TotalNr != 0 {
		t.Fatalf("expected total_nr decremented, got %d", stats.TotalNr)
	}
}

func TestYieldReQueuesARunningThreadBehindNewArrivals(t *testing.T) {
	s, _ := newScheduler()
	th := NewThread(1, UserThread)
	s.AddCreated(th)
	s.Elect(nil) // th running

	other := NewThread(2, UserThread)
	s.AddCreated(other)

	next := s.Yield(th)
	if next != other {
		t.Fatalf("expected the already-queued thread to run next, got %d", next.ID)
	}
	if s.Len() != 1 {
		t.Fatalf("expected the yielded thread back on the queue, got len %d", s.Len())
	}
}
