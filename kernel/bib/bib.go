// Package bib models ALMOS's Boot Information Block, the struct the
// boot loader (via info2bib) hands the kernel describing the tiled
// NUMA mesh it is running on: dimensions, per-cluster CPU/device
// counts, and per-cluster device descriptors. Binary BIB parsing is an
// an explicit non-goal here; this package is the named external
// interface contract — a BootInfoBlock value is built
// directly by callers (tests, the almosctl CLI from a YAML scenario
// file) rather than decoded from the signed binary blob the real
// bootloader produces.
package bib

// Signature is the magic string a real BIB blob is prefixed with.
const Signature = "@ALMOS ARCH BIB"

// RAMBankDeviceID is the device id reserved for a cluster's own memory
// bank; every cluster's device list has this as device 0.
const RAMBankDeviceID = 0

// Header mirrors arch_bib_header_s (tools/arch_info/arch-bib.h).
type Header struct {
	XMax           uint16 `yaml:"x_max,omitempty"`
	YMax           uint16 `yaml:"y_max,omitempty"`
	CPUNr          uint32 `yaml:"cpu_nr,omitempty"`
	BootstrapCPU   uint32 `yaml:"bootstrap_cpu,omitempty"`
	BootstrapTTY   uint32 `yaml:"bootstrap_tty,omitempty"`
	BootstrapDMA   uint32 `yaml:"bootstrap_dma,omitempty"`
	ReservedStart  uint32 `yaml:"reserved_start,omitempty"`
	ReservedLimit  uint32 `yaml:"reserved_limit,omitempty"`
	OnlineClusters uint16 `yaml:"online_clusters"`
	OnlineCPUs     uint16 `yaml:"online_cpus"`
}

// ClusterDesc mirrors arch_bib_cluster_s.
type ClusterDesc struct {
	CID       uint16 `yaml:"cid"`
	CPUNr     uint8  `yaml:"cpu_nr"`
	DevNr     uint8  `yaml:"dev_nr,omitempty"`
	DevOffset uint16 `yaml:"dev_offset,omitempty"`
}

// DeviceDesc mirrors arch_bib_device_s. Device id RAMBankDeviceID is
// always the cluster's RAM bank.
type DeviceDesc struct {
	ID   uint8  `yaml:"id"`
	Base uint32 `yaml:"base,omitempty"`
	Size uint32 `yaml:"size,omitempty"`
	IRQ  int16  `yaml:"irq,omitempty"`
}

// BootInfoBlock is the fully decoded BIB: a header plus, per cluster,
// its descriptor and device list.
type BootInfoBlock struct {
	Header   Header                  `yaml:"header"`
	Clusters []ClusterDesc           `yaml:"clusters"`
	Devices  map[uint16][]DeviceDesc `yaml:"devices"` // keyed by ClusterDesc.CID
}

// Validate checks the structural invariants a real BIB decoder would
// enforce: cluster count matches the header, and every cluster has a
// device 0 that is its RAM bank.
func (b *BootInfoBlock) Validate() error {
	if len(b.Clusters) != int(b.Header.OnlineClusters) {
		return errMismatchedClusterCount
	}
	for _, c := range b.Clusters {
		devs := b.Devices[c.CID]
		if len(devs) == 0 || devs[0].ID != RAMBankDeviceID {
			return errMissingRAMBank
		}
	}
	return nil
}
