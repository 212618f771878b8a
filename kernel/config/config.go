// Package config holds the tunables the original C kernel bakes in as
// preprocessor constants in kernel-config.h. Collecting them into one
// loadable struct (instead of scattering package-level consts) lets
// almosctl drive different cluster topologies and scheduling regimes
// from a single YAML scenario file without rebuilding anything.
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the set of kernel-wide tunables.
type Config struct {
	// PPMMaxOrder is the highest buddy-allocator order (PPM_MAX_ORDER).
	PPMMaxOrder uint `yaml:"ppm_max_order"`

	// SchedQuantum is the round-robin quantum in ticks (RR_QUANTUM).
	SchedQuantum int `yaml:"sched_quantum"`

	// DQDTMgrPeriod is the number of ticks between dqdt_update runs
	// (DQDT_MGR_PERIOD).
	DQDTMgrPeriod int `yaml:"dqdt_mgr_period"`

	// DQDTBusyThreshold is the minimum sampled busy delta below which
	// cpu_compute_stats discards the sample as noise.
	DQDTBusyThreshold int `yaml:"dqdt_busy_threshold"`

	// RemoteEventRingSize is the fixed capacity of a CPU's remote LFFB
	// ring (one per event priority).
	RemoteEventRingSize int `yaml:"remote_event_ring_size"`

	// RemoteEventMaxTry bounds the lock-free CAS retries on the LFFB
	// before a sender falls back to the re-send-backoff trampoline.
	RemoteEventMaxTry int `yaml:"remote_event_max_try"`

	// MonoCPU mirrors CONFIG_MONO_CPU: when true, TLB/cache flushes are
	// performed locally instead of being queued as events.
	MonoCPU bool `yaml:"mono_cpu"`

	// AutoNextTouch mirrors CONFIG_AUTO_NEXT_TOUCH: madvise-migrate all
	// eligible regions on the first pthread_create.
	AutoNextTouch bool `yaml:"auto_next_touch"`
}

// Default returns the tunables the original kernel-config.h ships with.
func Default() Config {
	return Config{
		PPMMaxOrder:         9,
		SchedQuantum:        3,
		DQDTMgrPeriod:       100,
		DQDTBusyThreshold:   5,
		RemoteEventRingSize: 32,
		RemoteEventMaxTry:   4,
		MonoCPU:             false,
		AutoNextTouch:       false,
	}
}

// Load reads a Config from a YAML file, filling in defaults for any
// field the file leaves at its zero value's sibling (callers that want
// strict zero values should start from an explicit Config, not Load).
func Load(path string) (Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
