package signal

import (
	"testing"

	"almos/kernel/cluster"
	"almos/kernel/mem/ppm"
	"almos/kernel/mem/pmm"
	"almos/kernel/mem/vmm"
	"almos/kernel/sched"
	"almos/kernel/task"
	"almos/kernel/thread"
)

func newTaskAndThreads(t *testing.T, n int) (*task.Task, []*thread.Thread) {
	t.Helper()
	pool := ppm.New(0, 64, 4)
	pmmTable := pmm.New(pool, 16)
	addrSpace := vmm.New(pmmTable, pool, 0)
	taskMgr := task.NewManager()
	tk, err := taskMgr.Create(nil, nil, addrSpace, 0, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	cpu := cluster.NewCPU(nil, 0, 0)
	idle := sched.NewThread(0, sched.IdleThread)
	sc := sched.NewScheduler(cpu, idle)
	threadMgr := thread.NewManager()

	var threads []*thread.Thread
	for i := 0; i < n; i++ {
		th, err := threadMgr.Create(tk, sc, sched.UserThread, false)
		if err != nil {
			t.Fatalf("Create thread: %v", err)
		}
		threads = append(threads, th)
	}
	return tk, threads
}

func TestInitTaskIgnoresSIGCHLDAndSIGURGByDefault(t *testing.T) {
	tk, threads := newTaskAndThreads(t, 1)
	m := NewManager()
	m.InitTask(tk)
	m.InitThread(threads[0], ^uint32(0))

	if err := m.Rise(tk, threads, SIGCHLD); err != nil {
		t.Fatalf("Rise: %v", err)
	}
	_, action, ok := m.Notify(tk, threads[0])
	if !ok {
		t.Fatal("expected SIGCHLD to be pending")
	}
	if action != ActionIgnore {
		t.Fatalf("expected ActionIgnore, got %v", action)
	}
}

func TestRiseSIGKILLReachesEveryThread(t *testing.T) {
	tk, threads := newTaskAndThreads(t, 3)
	m := NewManager()
	m.InitTask(tk)
	for _, th := range threads {
		m.InitThread(th, ^uint32(0))
	}

	if err := m.Rise(tk, threads, SIGKILL); err != nil {
		t.Fatalf("Rise: %v", err)
	}
	for i, th := range threads {
		if _, _, ok := m.Notify(tk, th); !ok {
			t.Fatalf("expected thread %d to have SIGKILL pending", i)
		}
	}
}

func TestRiseOfAnOrdinarySignalTargetsOnlyTheHandlerThread(t *testing.T) {
	tk, threads := newTaskAndThreads(t, 2)
	m := NewManager()
	m.InitTask(tk)
	for _, th := range threads {
		m.InitThread(th, ^uint32(0))
	}
	m.SetHandlerThread(tk, threads[1])

	// SIGURG is an ordinary, non-broadcast signal; it should reach only
	// the designated handler thread.
	if err := m.Rise(tk, threads, SIGURG); err != nil {
		t.Fatalf("Rise: %v", err)
	}
	if _, _, ok := m.Notify(tk, threads[0]); ok {
		t.Fatal("expected the non-handler thread to have nothing pending")
	}
	if _, _, ok := m.Notify(tk, threads[1]); !ok {
		t.Fatal("expected the handler thread to have the signal pending")
	}
}

func TestMaskedSignalsAreNotReported(t *testing.T) {
	tk, threads := newTaskAndThreads(t, 1)
	m := NewManager()
	m.InitTask(tk)
	m.InitThread(threads[0], 0) // everything masked

	if err := m.Rise(tk, threads, SIGKILL); err != nil {
		t.Fatalf("Rise: %v", err)
	}
	if _, _, ok := m.Notify(tk, threads[0]); ok {
		t.Fatal("expected a fully masked thread to report nothing pending")
	}
}

func TestNotifyLatchesUntilAcknowledge(t *testing.T) {
	tk, threads := newTaskAndThreads(t, 1)
	m := NewManager()
	m.InitTask(tk)
	m.InitThread(threads[0], ^uint32(0))

	m.Rise(tk, threads, SIGKILL)
	m.Rise(tk, threads, SIGTERM)

	sig, _, ok := m.Notify(tk, threads[0])
	if !ok {
		t.Fatal("expected the first pending signal to be reported")
	}
	if sig != SIGTERM {
		t.Fatalf("expected SIGTERM (lowest-numbered) to be reported first, got %v", sig)
	}

	if _, _, ok := m.Notify(tk, threads[0]); ok {
		t.Fatal("expected Notify to report nothing while still latched")
	}

	m.Acknowledge(threads[0])
	sig, _, ok = m.Notify(tk, threads[0])
	if !ok || sig != SIGKILL {
		t.Fatalf("expected SIGKILL to be reported after Acknowledge, got sig=%v ok=%v", sig, ok)
	}
}
