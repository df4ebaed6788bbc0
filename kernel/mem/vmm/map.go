package vmm

import (
	"github.com/BenMcAvoy/viceOS/kernel"
	"github.com/BenMcAvoy/viceOS/kernel/mem"
	"github.com/BenMcAvoy/viceOS/kernel/mem/pmm"
)

// Map establishes a mapping between a virtual page and a physical memory
// frame in this address space. Missing intermediate tables are materialized
// on the fly: each one is allocated from the registered frame allocator,
// zeroed and installed as a present+writable entry before the walk descends.
// The leaf entry receives the caller's flags with FlagPresent forced on, and
// the TLB entry for the page is invalidated.
//
// Frame exhaustion while building a table level aborts the walk and
// propagates the allocator's error; tables installed up to that point remain
// in place.
func (as *AddressSpace) Map(page Page, frame pmm.Frame, flags PageTableEntryFlag) *kernel.Error {
	var (
		table    = tableForFrame(as.root)
		virtAddr = page.Address()
	)

	for level := 0; level < pageLevels-1; level++ {
		pte := &table[tableIndex(virtAddr, level)]

		if pte.HasFlags(FlagPresent) {
			if pte.HasFlags(FlagHugePage) {
				return ErrHugePage
			}
		} else {
			newTableFrame, err := frameAllocator()
			if err != nil {
				return err
			}

			// The new table may contain stale data from a previous use of
			// the frame; it must be cleared before the entry becomes
			// reachable.
			*tableForFrame(newTableFrame) = pageTable{}
			*pte = newPageTableEntry(newTableFrame, FlagPresent|FlagRW)
		}

		table = tableForFrame(pte.Frame())
	}

	table[tableIndex(virtAddr, pageLevels-1)] = newPageTableEntry(frame, flags|FlagPresent)
	flushTLBEntryFn(uintptr(virtAddr))
	return nil
}

// Unmap removes the mapping for a virtual page and returns the physical
// frame it previously pointed to. The walk never creates tables: if any
// level on the way down is absent, or the leaf entry itself is not present,
// Unmap reports ErrNotMapped. Intermediate tables created by earlier Map
// calls are left in place even if this was their last present entry; table
// levels are never reclaimed once materialized.
func (as *AddressSpace) Unmap(page Page) (pmm.Frame, *kernel.Error) {
	var (
		table    = tableForFrame(as.root)
		virtAddr = page.Address()
	)

	for level := 0; level < pageLevels-1; level++ {
		pte := table[tableIndex(virtAddr, level)]

		if !pte.HasFlags(FlagPresent) {
			return pmm.InvalidFrame, ErrNotMapped
		}
		if pte.HasFlags(FlagHugePage) {
			return pmm.InvalidFrame, ErrHugePage
		}

		table = tableForFrame(pte.Frame())
	}

	pte := &table[tableIndex(virtAddr, pageLevels-1)]
	if !pte.HasFlags(FlagPresent) {
		return pmm.InvalidFrame, ErrNotMapped
	}

	frame := pte.Frame()
	*pte = 0
	flushTLBEntryFn(uintptr(virtAddr))
	return frame, nil
}

// Translate returns the physical address that the supplied virtual address
// maps to. The walk is read-only and short-circuits at huge page entries: a
// huge entry at the PDPT (1Gb) or PD (2Mb) level resolves to the huge page's
// base plus the corresponding low-order bits of the virtual address.
func (as *AddressSpace) Translate(virtAddr mem.VirtAddr) (mem.PhysAddr, *kernel.Error) {
	table := tableForFrame(as.root)

	for level := 0; level < pageLevels; level++ {
		pte := table[tableIndex(virtAddr, level)]

		if !pte.HasFlags(FlagPresent) {
			return 0, ErrNotMapped
		}

		if level == pageLevels-1 || pte.HasFlags(FlagHugePage) {
			offsetMask := (uintptr(1) << pageLevelShifts[level]) - 1
			return pte.Frame().Address() + mem.PhysAddr(uintptr(virtAddr)&offsetMask), nil
		}

		table = tableForFrame(pte.Frame())
	}

	return 0, ErrNotMapped
}

// Map establishes a mapping between a virtual page and a physical memory
// frame in the kernel address space.
func Map(page Page, frame pmm.Frame, flags PageTableEntryFlag) *kernel.Error {
	return kernelSpace.Map(page, frame, flags)
}

// Unmap removes a mapping previously installed in the kernel address space
// via a call to Map and returns the frame it pointed to.
func Unmap(page Page) (pmm.Frame, *kernel.Error) {
	return kernelSpace.Unmap(page)
}

// Translate returns the physical address that the supplied virtual address
// maps to in the kernel address space.
func Translate(virtAddr mem.VirtAddr) (mem.PhysAddr, *kernel.Error) {
	return kernelSpace.Translate(virtAddr)
}
