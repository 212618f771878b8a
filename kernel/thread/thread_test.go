package thread

import (
	"context"
	"errors"
	"testing"
	"time"

	"almos/kernel/cluster"
	"almos/kernel/mem/ppm"
	"almos/kernel/mem/pmm"
	"almos/kernel/mem/vmm"
	"almos/kernel/sched"
	"almos/kernel/task"
)

func newScheduler() *sched.Scheduler {
	cpu := cluster.NewCPU(nil, 0, 0)
	idle := sched.NewThread(0, sched.IdleThread)
	return sched.NewScheduler(cpu, idle)
}

func newTask(t *testing.T) *task.Task {
	t.Helper()
	pool := ppm.New(0, 64, 4)
	pmmTable := pmm.New(pool, 16)
	addrSpace := vmm.New(pmmTable, pool, 0)
	mgr := task.NewManager()
	tk, err := mgr.Create(nil, nil, addrSpace, 0, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return tk
}

func TestCreateRegistersWithTheSchedulerAndAllocatesAnOrder(t *testing.T) {
	sc := newScheduler()
	tk := newTask(t)
	m := NewManager()

	th, err := m.Create(tk, sc, sched.UserThread, false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if th.Order != 0 {
		t.Fatalf("expected the first thread to take order 0, got %d", th.Order)
	}
	if sc.Stats().TotalNr != 1 {
		t.Fatalf("expected the scheduler to see one thread, got %d", sc.Stats().TotalNr)
	}
	if !th.Joinable() {
		t.Fatal("expected a non-detached thread to be joinable")
	}
}

func TestCreateAllocatesDistinctOrdersPerTask(t *testing.T) {
	sc := newScheduler()
	tk := newTask(t)
	m := NewManager()

	a, _ := m.Create(tk, sc, sched.UserThread, false)
	b, _ := m.Create(tk, sc, sched.UserThread, false)
	if a.Order == b.Order {
		t.Fatalf("expected distinct orders, both got %d", a.Order)
	}
}

func TestExitFreesTheOrderSlotForReuse(t *testing.T) {
	sc := newScheduler()
	tk := newTask(t)
	m := NewManager()

	a, _ := m.Create(tk, sc, sched.UserThread, false)
	m.Exit(a, sc, nil)

	b, err := m.Create(tk, sc, sched.UserThread, false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if b.Order != a.Order {
		t.Fatalf("expected the freed order %d to be reused, got %d", a.Order, b.Order)
	}
}

func TestExitReportsLastThreadOnlyOnceCountReachesZero(t *testing.T) {
	sc := newScheduler()
	tk := newTask(t)
	m := NewManager()

	a, _ := m.Create(tk, sc, sched.UserThread, false)
	b, _ := m.Create(tk, sc, sched.UserThread, false)

	if last := m.Exit(a, sc, nil); last {
		t.Fatal("expected the first exit to not be reported as the last thread")
	}
	if last := m.Exit(b, sc, nil); !last {
		t.Fatal("expected the second exit to be reported as the last thread")
	}
}

func TestJoinBlocksUntilExitAndReturnsTheExitError(t *testing.T) {
	sc := newScheduler()
	tk := newTask(t)
	m := NewManager()
	th, _ := m.Create(tk, sc, sched.UserThread, false)

	result := make(chan error, 1)
	go func() {
		result <- th.Join(context.Background())
	}()

	select {
	case <-result:
		t.Fatal("expected Join to block before Exit")
	case <-time.After(20 * time.Millisecond):
	}

	wantErr := errors.New("killed")
	m.Exit(th, sc, wantErr)

	select {
	case err := <-result:
		if err != wantErr {
			t.Fatalf("expected %v, got %v", wantErr, err)
		}
	case <-time.After(time.Second):
		t.Fatal("expected Join to return once Exit signals")
	}
}

func TestDupPinsTheChildWhenRequested(t *testing.T) {
	sc := newScheduler()
	parentTask := newTask(t)
	childTask := newTask(t)
	m := NewManager()

	parent, _ := m.Create(parentTask, sc, sched.UserThread, false)
	child, err := m.Dup(parent, childTask, sc, true)
	if err != nil {
		t.Fatalf("Dup: %v", err)
	}
	if !child.MigrationDisabled() {
		t.Fatal("expected a pinned fork target to disable migration")
	}
	if child.Kind != sched.UserThread {
		t.Fatalf("expected the child to inherit the parent's kind, got %v", child.Kind)
	}
}

func TestDupLeavesTheChildMigratableWhenNotPinned(t *testing.T) {
	sc := newScheduler()
	parentTask := newTask(t)
	childTask := newTask(t)
	m := NewManager()

	parent, _ := m.Create(parentTask, sc, sched.UserThread, false)
	child, err := m.Dup(parent, childTask, sc, false)
	if err != nil {
		t.Fatalf("Dup: %v", err)
	}
	if child.MigrationDisabled() {
		t.Fatal("expected an unpinned fork target to stay migratable")
	}
}
