// Package vmm builds and mutates the 4-level page table structure that backs
// the kernel's virtual address space. Mapping primitives consume the
// registered frame allocator to materialize missing table levels on demand.
package vmm

import (
	"unsafe"

	"github.com/BenMcAvoy/viceOS/kernel"
	"github.com/BenMcAvoy/viceOS/kernel/cpu"
	"github.com/BenMcAvoy/viceOS/kernel/kfmt"
	"github.com/BenMcAvoy/viceOS/kernel/mem"
	"github.com/BenMcAvoy/viceOS/kernel/mem/pmm"
)

var (
	// ErrNotMapped is returned when walking a virtual address whose
	// translation reaches a non-present entry at any table level.
	ErrNotMapped = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}

	// ErrHugePage is returned when Map or Unmap encounters a huge page
	// entry partway through a walk. Huge pages are only ever installed by
	// the bootstrap initializer; splitting one into 4Kb mappings is not
	// supported.
	ErrHugePage = &kernel.Error{Module: "vmm", Message: "cannot modify part of a huge page mapping"}

	// frameAllocator points to a frame allocator function registered using
	// SetFrameAllocator.
	frameAllocator FrameAllocatorFn

	// The following functions are used by tests to mock calls to the cpu
	// package which would fault if issued in user-mode.
	flushTLBEntryFn = cpu.FlushTLBEntry
	switchPDTFn     = cpu.SwitchPDT
)

// FrameAllocatorFn is a function that can allocate physical frames.
type FrameAllocatorFn func() (pmm.Frame, *kernel.Error)

// SetFrameAllocator registers a frame allocator function that will be used by
// the vmm code when new page tables need to be materialized.
func SetFrameAllocator(allocFn FrameAllocatorFn) {
	frameAllocator = allocFn
}

// AddressSpace describes a paging hierarchy rooted at a PML4 frame.
type AddressSpace struct {
	root pmm.Frame
}

// RootFrame returns the physical frame holding the top-level (PML4) table of
// this address space.
func (as *AddressSpace) RootFrame() pmm.Frame {
	return as.root
}

// kernelSpace is the address space every kernel subsystem shares. It is
// bootstrapped once by Init and never torn down.
var kernelSpace AddressSpace

// KernelSpace returns the kernel's address space. Process creation clones
// the kernel half of it into new per-process spaces.
func KernelSpace() *AddressSpace {
	return &kernelSpace
}

const (
	// bootstrapTableCount is the number of permanent page tables set up by
	// Init: one PML4 plus a PDPT and four PDs for each of the two aliases
	// (identity and higher half) covering 4Gb.
	bootstrapTableCount = 11

	// hugePageShift/hugePageSize describe the 2Mb huge pages installed by
	// the bootstrap identity mapping.
	hugePageShift = 21
	hugePageSize  = 1 << hugePageShift

	// higherHalfBase is the virtual address where the bootstrap mapping
	// mirrors physical memory (PML4 entry 511, PDPT entry 0).
	higherHalfBase = mem.VirtAddr(0xffffff8000000000)

	// mmioWindowStart is the base of the bump-reserved virtual window used
	// by MapRegion. It sits in the higher half one PDPT entry past the 4Gb
	// physical mirror (PML4 entry 511, PDPT entry 4) where the bootstrap
	// tables install no mappings.
	mmioWindowStart = mem.VirtAddr(0xffffff8100000000)
)

// bootstrapArena provides page-aligned backing storage for the permanent
// bootstrap tables. Go offers no way to force 4Kb alignment on a global, so
// the arena over-allocates by one page and Init carves the tables out of its
// aligned interior.
var bootstrapArena [(bootstrapTableCount + 1) * mem.PageSize]byte

// mmioNextFree is the bump cursor for MapRegion reservations. It is only
// advanced during single-threaded boot and driver initialization.
var mmioNextFree mem.VirtAddr

// Init sets up the kernel address space. The permanent bootstrap tables map
// the first 4Gb of physical memory twice, each alias through its own PDPT and
// PD set of 2Mb huge pages:
//
//   - The identity alias at virtual 0 leaves the PD range covering
//     [heapWindowStart, heapWindowStart+heapWindowSize) non-present so that
//     heap pages are mapped with 4Kb granularity and Map never runs into a
//     bootstrap huge page there.
//   - The higher-half mirror keeps full coverage with no hole. Table walks
//     reach page table frames through this alias, so any frame the allocator
//     hands out stays addressable even after its identity alias is carved
//     out for the heap window.
//
// Once the tables are built the top-level table is installed into the CPU's
// paging-base register.
func Init(heapWindowStart mem.VirtAddr, heapWindowSize mem.Size) *kernel.Error {
	arenaBase := (uintptr(unsafe.Pointer(&bootstrapArena[0])) + mem.PageSize - 1) &^ uintptr(mem.PageSize-1)

	pml4 := (*pageTable)(unsafe.Pointer(arenaBase))
	pdptLow := (*pageTable)(unsafe.Pointer(arenaBase + mem.PageSize))
	pdptHigh := (*pageTable)(unsafe.Pointer(arenaBase + 2*mem.PageSize))
	var pdsLow, pdsHigh [4]*pageTable
	for i := range pdsLow {
		pdsLow[i] = (*pageTable)(unsafe.Pointer(arenaBase + uintptr(3+i)*mem.PageSize))
		pdsHigh[i] = (*pageTable)(unsafe.Pointer(arenaBase + uintptr(7+i)*mem.PageSize))
	}

	*pml4 = pageTable{}
	*pdptLow = pageTable{}
	*pdptHigh = pageTable{}

	pml4[0] = newPageTableEntry(frameForTable(pdptLow), FlagPresent|FlagRW)
	pml4[tableEntryCount-1] = newPageTableEntry(frameForTable(pdptHigh), FlagPresent|FlagRW)

	heapFirstHuge := uintptr(heapWindowStart) >> hugePageShift
	heapLastHuge := (uintptr(heapWindowStart) + uintptr(heapWindowSize) + hugePageSize - 1) >> hugePageShift

	for j := range pdsLow {
		*pdsLow[j] = pageTable{}
		*pdsHigh[j] = pageTable{}
		pdptLow[j] = newPageTableEntry(frameForTable(pdsLow[j]), FlagPresent|FlagRW)
		pdptHigh[j] = newPageTableEntry(frameForTable(pdsHigh[j]), FlagPresent|FlagRW)

		for i := 0; i < tableEntryCount; i++ {
			hugeIndex := uintptr(j*tableEntryCount + i)
			frame := pmm.FrameFromAddress(mem.PhysAddr(hugeIndex << hugePageShift))

			pdsHigh[j][i] = newPageTableEntry(frame, FlagPresent|FlagRW|FlagHugePage)

			if hugeIndex >= heapFirstHuge && hugeIndex < heapLastHuge {
				continue
			}
			pdsLow[j][i] = newPageTableEntry(frame, FlagPresent|FlagRW|FlagHugePage)
		}
	}

	kernelSpace.root = frameForTable(pml4)
	mmioNextFree = mmioWindowStart

	switchPDTFn(uintptr(kernelSpace.root.Address()))

	kfmt.Trace("[vmm] kernel address space active: pml4 at 0x%x, heap window [0x%x - 0x%x) unmapped",
		uintptr(kernelSpace.root.Address()), uintptr(heapWindowStart), uintptr(heapWindowStart)+uintptr(heapWindowSize))
	return nil
}

// MapRegion maps the physical memory region which starts at the given frame
// and spans size bytes (rounded up to the nearest page boundary) into the
// next free block of the reserved MMIO window. It returns the Page that
// corresponds to the region start. Drivers use this to reach device memory
// such as the framebuffer.
func MapRegion(frame pmm.Frame, size mem.Size, flags PageTableEntryFlag) (Page, *kernel.Error) {
	size = (size + mem.PageSize - 1) &^ (mem.PageSize - 1)
	startPage := PageFromAddress(mmioNextFree)

	pageCount := uintptr(size) >> mem.PageShift
	for pageIndex := uintptr(0); pageIndex < pageCount; pageIndex++ {
		if err := kernelSpace.Map(startPage+Page(pageIndex), frame+pmm.Frame(pageIndex), flags); err != nil {
			// Unwind the pages mapped so far; the cursor has not moved, so
			// a retry must find the window free of stale leaf entries.
			for ; pageIndex > 0; pageIndex-- {
				kernelSpace.Unmap(startPage + Page(pageIndex-1))
			}
			return 0, err
		}
	}

	mmioNextFree += mem.VirtAddr(size)
	return startPage, nil
}
