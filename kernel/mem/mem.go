// Package mem defines the small set of types shared by every physical-
// and virtual-memory package: page sizing and the virtual page-number
// type VPN (physical frame numbers are plain uint64 values). Kept
// separate from ppm/pmm/vmm so none of them need to import each other
// just for an address type.
package mem

// PageShift is log2(PageSize); TSAR clusters use 4KiB pages.
const PageShift = 12

// PageSize is the fixed page size in bytes.
const PageSize = 1 << PageShift

// VPN is a virtual page number (a virtual address with the page offset
// bits shifted out).
type VPN uint64

// Addr returns the base virtual address of this page.
func (v VPN) Addr() uintptr { return uintptr(v) << PageShift }

// VPNFromAddr truncates a virtual address down to its containing page.
func VPNFromAddr(addr uintptr) VPN { return VPN(addr >> PageShift) }

// PageCount returns the number of pages needed to cover size bytes,
// rounding up.
func PageCount(size uintptr) uintptr {
	return (size + PageSize - 1) / PageSize
}
