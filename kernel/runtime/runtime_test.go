package runtime

import (
	"context"
	"testing"

	"almos/kernel/bib"
	"almos/kernel/config"
	"almos/kernel/mem"
	"almos/kernel/mem/vmm"
	"almos/kernel/signal"
)

func newBootInfo(t *testing.T) *bib.BootInfoBlock {
	t.Helper()
	return &bib.BootInfoBlock{
		Header: bib.Header{XMax: 2, YMax: 1, OnlineClusters: 2, OnlineCPUs: 4},
		Clusters: []bib.ClusterDesc{
			{CID: 0, CPUNr: 2},
			{CID: 1, CPUNr: 2},
		},
		Devices: map[uint16][]bib.DeviceDesc{
			0: {{ID: bib.RAMBankDeviceID, Size: uint32(1024 * mem.PageSize)}},
			1: {{ID: bib.RAMBankDeviceID, Size: uint32(1024 * mem.PageSize)}},
		},
	}
}

func bootRuntime(t *testing.T) *Runtime {
	t.Helper()
	r, err := Boot(config.Default(), newBootInfo(t))
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	return r
}

func TestBootPlacesABootstrapTaskWithOneThread(t *testing.T) {
	r := bootRuntime(t)

	procs := r.Ps()
	if len(procs) != 1 {
		t.Fatalf("expected 1 task after boot, got %d", len(procs))
	}
	if procs[0].Pid != 1 {
		t.Fatalf("expected the bootstrap task to be pid 1, got %d", procs[0].Pid)
	}
	if len(procs[0].Threads) != 1 {
		t.Fatalf("expected 1 thread, got %d", len(procs[0].Threads))
	}
	if procs[0].State != "ready" {
		t.Fatalf("expected the bootstrap task to be ready, got %s", procs[0].State)
	}
}

func TestKillRisesASignalOnTheLookedUpTask(t *testing.T) {
	r := bootRuntime(t)

	if err := r.Kill(1, signal.SIGTERM); err != nil {
		t.Fatalf("Kill: %v", err)
	}
}

func TestKillFailsForAnUnknownPid(t *testing.T) {
	r := bootRuntime(t)

	if err := r.Kill(999, signal.SIGTERM); err == nil {
		t.Fatal("expected an error for an unregistered pid")
	}
}

func TestPwdIsAlwaysRootWithNoVFS(t *testing.T) {
	r := bootRuntime(t)

	cwd, err := r.Pwd(1)
	if err != nil {
		t.Fatalf("Pwd: %v", err)
	}
	if cwd != "/" {
		t.Fatalf("expected /, got %q", cwd)
	}
}

func TestDQDTSnapshotIncludesEveryClusterLeaf(t *testing.T) {
	r := bootRuntime(t)

	snap := r.DQDTSnapshot()
	var leaves int
	for _, n := range snap {
		if n.Cluster != nil {
			leaves++
		}
	}
	if leaves != 2 {
		t.Fatalf("expected 2 cluster leaves, got %d", leaves)
	}
}

func TestHandleFaultDeliversSigBusForAnUnmappedAddress(t *testing.T) {
	r := bootRuntime(t)
	task, err := r.Tasks.Lookup(1)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	th := r.Threads.Threads(task)[0]
	r.Signals.InitThread(th, ^uint32(0)) // unmask every signal so Notify can report it

	if err := r.HandleFault(1, th, 9999, 0); err == nil {
		t.Fatal("expected an error faulting outside every mapped region")
	}

	sig, _, found := r.Signals.Notify(task, th)
	if !found || sig != signal.SIGBUS {
		t.Fatalf("expected SIGBUS to have been risen on the faulting thread, got sig=%v found=%v", sig, found)
	}
}

func TestHandleFaultResolvesAMappedRegionWithNoSignal(t *testing.T) {
	r := bootRuntime(t)
	task, err := r.Tasks.Lookup(1)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	th := r.Threads.Threads(task)[0]

	if _, err := task.VMM.Mmap(100, 104, 0, vmm.KindAnon, nil, 0); err != nil {
		t.Fatalf("Mmap: %v", err)
	}
	if err := r.HandleFault(1, th, 101, vmm.FaultWrite); err != nil {
		t.Fatalf("HandleFault: %v", err)
	}
	if _, _, found := r.Signals.Notify(task, th); found {
		t.Fatal("expected no signal for a successfully resolved fault")
	}
}

func TestForkRegistersAPlacedChildWithOneThread(t *testing.T) {
	r := bootRuntime(t)

	child, err := r.Fork(1)
	if err != nil {
		t.Fatalf("Fork: %v", err)
	}
	if child.Pid == 1 {
		t.Fatal("expected the child to get a fresh pid")
	}
	if child.Parent == nil || child.Parent.Pid != 1 {
		t.Fatal("expected the child's parent to be pid 1")
	}
	if child.Cluster == nil || child.CPU == nil {
		t.Fatal("expected the child to come out placed on a cluster and CPU")
	}
	if n := r.Threads.Count(child); n != 1 {
		t.Fatalf("expected the child to have 1 thread, got %d", n)
	}

	parent, _ := r.Tasks.Lookup(1)
	found := false
	for _, c := range parent.Children() {
		if c == child {
			found = true
		}
	}
	if !found {
		t.Fatal("expected the child to be linked into the parent's child list")
	}
}

func TestForkRejectsAnUnknownPid(t *testing.T) {
	r := bootRuntime(t)

	if _, err := r.Fork(999); err == nil {
		t.Fatal("expected an error forking an unregistered pid")
	}
}

func TestMigrateThreadMovesTheSoleThreadToADQDTChosenCluster(t *testing.T) {
	r := bootRuntime(t)

	task, err := r.Tasks.Lookup(1)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	fromCluster := task.Cluster.CID

	if err := r.MigrateThread(context.Background(), 1); err != nil {
		t.Fatalf("MigrateThread: %v", err)
	}

	th := r.Threads.Threads(task)[0]
	if th.Task.Cluster == nil || th.Task.CPU == nil {
		t.Fatal("expected the migrated thread's task to retain a placement")
	}
	_ = fromCluster // the target cluster may legitimately be the same one under symmetric load
}

func TestMigrateThreadRejectsAnUnknownPid(t *testing.T) {
	r := bootRuntime(t)

	if err := r.MigrateThread(context.Background(), 999); err == nil {
		t.Fatal("expected an error migrating an unregistered pid")
	}
}

func TestParseSignalRejectsUnknownNames(t *testing.T) {
	if _, err := ParseSignal("SIGBOGUS"); err == nil {
		t.Fatal("expected an error for an unknown signal name")
	}
	sig, err := ParseSignal("SIGKILL")
	if err != nil || sig != signal.SIGKILL {
		t.Fatalf("ParseSignal(SIGKILL) = %v, %v", sig, err)
	}
}
