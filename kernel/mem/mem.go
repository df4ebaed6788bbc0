// Package mem provides the data types for describing memory addresses and
// block sizes.
package mem

// Size represents a memory block size in bytes.
type Size uint64

// Common memory block sizes.
const (
	Byte Size = 1
	Kb        = 1024 * Byte
	Mb        = 1024 * Kb
	Gb        = 1024 * Mb
)

// PhysAddr describes an address in the physical address space. Physical and
// virtual addresses are deliberately distinct types so that one can never be
// accidentally used where the other is expected.
type PhysAddr uintptr

// PageAlignDown rounds the address down to the nearest page boundary.
func (addr PhysAddr) PageAlignDown() PhysAddr {
	return addr &^ (PageSize - 1)
}

// PageAlignUp rounds the address up to the nearest page boundary.
func (addr PhysAddr) PageAlignUp() PhysAddr {
	return (addr + PageSize - 1) &^ (PageSize - 1)
}

// VirtAddr describes an address in the virtual address space.
type VirtAddr uintptr

// PageAlignDown rounds the address down to the nearest page boundary.
func (addr VirtAddr) PageAlignDown() VirtAddr {
	return addr &^ (PageSize - 1)
}

// PageOffset returns the offset of the address within its page.
func (addr VirtAddr) PageOffset() uintptr {
	return uintptr(addr) & (PageSize - 1)
}
