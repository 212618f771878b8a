// Package alarm is a tick-driven timed wait: alarm_manager_init
// registers a caller's sleep with the kernel so it wakes on an event
// fired after a given number of ticks rather than busy-polling a clock
// (alarm_wait(info, msec), used to pace the DQDT manager's periodic
// update rather than having it spin every scheduler tick). No
// alarm.c ships in this kernel's source tree — the mechanism is
// inferred from that description plus the tick-countdown shape
// kernel/sched.Scheduler.Clock already uses for quantum expiry, and
// from kernel/completion as the one-shot wake primitive every other
// blocking operation in this port is built on.
package alarm

import (
	"context"
	"sync"

	"almos/kernel/completion"
)

type entry struct {
	remaining int
	done      *completion.Completion
}

// Manager is the Go analogue of the alarm manager alarm_manager_init
// installs per cluster: a set of pending countdowns advanced by Tick.
type Manager struct {
	mu      sync.Mutex
	entries []*entry
}

// NewManager builds an empty alarm manager.
func NewManager() *Manager {
	return &Manager{}
}

// Wait registers an alarm for the given number of ticks and blocks
// until either it fires or ctx is done, the Go analogue of
// alarm_wait(info, msec) sleeping the caller on the alarm's event.
// A non-positive tick count fires immediately, matching an
// already-expired timeout.
func (m *Manager) Wait(ctx context.Context, ticks int) error {
	if ticks <= 0 {
		return nil
	}

	e := &entry{remaining: ticks, done: completion.New()}
	m.mu.Lock()
	m.entries = append(m.entries, e)
	m.mu.Unlock()

	err := e.done.Wait(ctx)
	if err != nil {
		m.cancel(e)
	}
	return err
}

// Tick advances every pending alarm by one tick, firing (and removing)
// any whose countdown reaches zero. The Go analogue of the periodic
// timer interrupt the alarm manager hooks to decrement its countdowns.
func (m *Manager) Tick() {
	m.mu.Lock()
	var fired []*entry
	kept := m.entries[:0]
	for _, e := range m.entries {
		e.remaining--
		if e.remaining <= 0 {
			fired = append(fired, e)
		} else {
			kept = append(kept, e)
		}
	}
	m.entries = kept
	m.mu.Unlock()

	for _, e := range fired {
		e.done.Signal(nil)
	}
}

// cancel removes e from the pending set if it hasn't already fired,
// the Go analogue of cancellation not propagating into in-flight
// timeouts — a caller that gave up via ctx just stops being tracked.
func (m *Manager) cancel(target *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.entries {
		if e == target {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			return
		}
	}
}

// Pending reports how many alarms are currently counting down.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
