package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scenario.yaml")
	if err := os.WriteFile(path, []byte("sched_quantum: 7\nmono_cpu: true\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.SchedQuantum != 7 {
		t.Errorf("expected SchedQuantum=7, got %d", cfg.SchedQuantum)
	}
	if !cfg.MonoCPU {
		t.Error("expected MonoCPU=true")
	}
	if cfg.PPMMaxOrder != Default().PPMMaxOrder {
		t.Errorf("expected untouched field to keep its default, got %d", cfg.PPMMaxOrder)
	}
}
