package main

import (
	"os"

	"gopkg.in/yaml.v3"

	"almos/kernel/bib"
	"almos/kernel/config"
)

// Scenario is the YAML shape almosctl boot/serve load in place of the
// binary BIB blob a real TSAR bootloader hands the kernel (see
// bib.BootInfoBlock's package doc on that tradeoff) plus the tunables
// kernel/config already loads from YAML on its own.
type Scenario struct {
	Config config.Config     `yaml:"config"`
	Boot   bib.BootInfoBlock `yaml:"boot"`
}

func loadScenario(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	s := &Scenario{Config: config.Default()}
	if err := yaml.NewDecoder(f).Decode(s); err != nil {
		return nil, err
	}
	return s, nil
}
