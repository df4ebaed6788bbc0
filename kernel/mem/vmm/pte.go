package vmm

import (
	"github.com/BenMcAvoy/viceOS/kernel/mem"
	"github.com/BenMcAvoy/viceOS/kernel/mem/pmm"
)

// pageTableEntry describes an entry in a page table at any level. The entry
// packs a 4Kb-aligned physical address (bits 12-51) together with a set of
// flag bits (bits 0-11 and 63). The two bit ranges never overlap;
// newPageTableEntry masks each input to its legal range.
type pageTableEntry uint64

// newPageTableEntry constructs an entry pointing at the supplied frame with
// the supplied flags.
func newPageTableEntry(frame pmm.Frame, flags PageTableEntryFlag) pageTableEntry {
	return pageTableEntry((uint64(frame.Address()) & pteAddrMask) | (uint64(flags) & pteFlagMask))
}

// HasFlags returns true if this entry has all the input flags set.
func (pte pageTableEntry) HasFlags(flags PageTableEntryFlag) bool {
	return uint64(pte)&uint64(flags) == uint64(flags)
}

// Flags returns the flag bits of this entry.
func (pte pageTableEntry) Flags() PageTableEntryFlag {
	return PageTableEntryFlag(uint64(pte) & pteFlagMask)
}

// SetFlags sets the input list of flags on the page table entry.
func (pte *pageTableEntry) SetFlags(flags PageTableEntryFlag) {
	*pte = pageTableEntry(uint64(*pte) | (uint64(flags) & pteFlagMask))
}

// ClearFlags unsets the input list of flags from the page table entry.
func (pte *pageTableEntry) ClearFlags(flags PageTableEntryFlag) {
	*pte = pageTableEntry(uint64(*pte) &^ (uint64(flags) & pteFlagMask))
}

// Frame returns the physical page frame that this page table entry points to.
func (pte pageTableEntry) Frame() pmm.Frame {
	return pmm.Frame((uint64(pte) & pteAddrMask) >> mem.PageShift)
}

// SetFrame updates the page table entry to point to the given physical frame.
func (pte *pageTableEntry) SetFrame(frame pmm.Frame) {
	*pte = pageTableEntry((uint64(*pte) &^ pteAddrMask) | (uint64(frame.Address()) & pteAddrMask))
}
