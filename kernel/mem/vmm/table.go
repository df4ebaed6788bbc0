package vmm

import (
	"unsafe"

	"github.com/BenMcAvoy/viceOS/kernel/mem"
	"github.com/BenMcAvoy/viceOS/kernel/mem/pmm"
)

// pageTable is a 4Kb-aligned array of 512 entries; one such table exists per
// level of the paging hierarchy that has been materialized.
type pageTable [tableEntryCount]pageTableEntry

// tableForFrame returns a pointer to the page table stored in the given
// physical frame. The default implementation reaches the frame through the
// higher-half physical mirror which the bootstrap tables keep fully populated
// below the 4Gb ceiling: unlike the identity alias, the mirror has no hole at
// the heap window, so every frame the allocator can hand out is addressable
// through it. Tests override this variable to point walks at Go-managed
// memory.
var tableForFrame = func(frame pmm.Frame) *pageTable {
	return (*pageTable)(unsafe.Pointer(uintptr(higherHalfBase) + uintptr(frame.Address())))
}

// frameForTable returns the physical frame that backs a bootstrap page
// table. The bootstrap tables live in the kernel image which is identity
// mapped, so their virtual address doubles as their physical one.
func frameForTable(table *pageTable) pmm.Frame {
	return pmm.FrameFromAddress(mem.PhysAddr(uintptr(unsafe.Pointer(table))))
}

// tableIndex extracts the 9-bit page table index for the given level from a
// virtual address.
func tableIndex(virtAddr mem.VirtAddr, level int) uintptr {
	return (uintptr(virtAddr) >> pageLevelShifts[level]) & (tableEntryCount - 1)
}

// TableIndices holds the decomposition of a virtual address into its four
// page table indices and page offset.
type TableIndices struct {
	PML4, PDPT, PD, PT uintptr
	Offset             uintptr
}

// IndicesForAddress decomposes a virtual address into the four 9-bit table
// indices and the 12-bit page offset used by the 4-level amd64 paging
// scheme. The decomposition is pure; it performs no table walk.
func IndicesForAddress(virtAddr mem.VirtAddr) TableIndices {
	return TableIndices{
		PML4:   tableIndex(virtAddr, 0),
		PDPT:   tableIndex(virtAddr, 1),
		PD:     tableIndex(virtAddr, 2),
		PT:     tableIndex(virtAddr, 3),
		Offset: virtAddr.PageOffset(),
	}
}
