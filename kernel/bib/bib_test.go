package bib

import "testing"

func validBIB() *BootInfoBlock {
	return &BootInfoBlock{
		Header: Header{XMax: 2, YMax: 1, CPUNr: 8, OnlineClusters: 2, OnlineCPUs: 8},
		Clusters: []ClusterDesc{
			{CID: 0, CPUNr: 4, DevNr: 2, DevOffset: 0},
			{CID: 1, CPUNr: 4, DevNr: 1, DevOffset: 0},
		},
		Devices: map[uint16][]DeviceDesc{
			0: {{ID: RAMBankDeviceID, Base: 0x0, Size: 1 << 20}, {ID: 1, Base: 0x1000, Size: 0x10, IRQ: 3}},
			1: {{ID: RAMBankDeviceID, Base: 0x0, Size: 1 << 20}},
		},
	}
}

func TestValidateAccepts(t *testing.T) {
	if err := validBIB().Validate(); err != nil {
		t.Fatalf("expected a well-formed BIB to validate, got %v", err)
	}
}

func TestValidateRejectsClusterCountMismatch(t *testing.T) {
	b := validBIB()
	b.Header.OnlineClusters = 3
	if err := b.Validate(); err == nil {
		t.Fatal("expected a cluster-count mismatch to be rejected")
	}
}

func TestValidateRejectsMissingRAMBank(t *testing.T) {
	b := validBIB()
	b.Devices[1] = []DeviceDesc{{ID: 5}}
	if err := b.Validate(); err == nil {
		t.Fatal("expected a cluster missing its RAM bank to be rejected")
	}
}
