package vmm

const (
	// pageLevels indicates the number of page table levels supported by the
	// amd64 architecture (PML4, PDPT, PD and PT).
	pageLevels = 4

	// tableEntryCount is the number of entries in a page table at any level.
	tableEntryCount = 512

	// pteAddrMask extracts the physical address stored in a page table
	// entry. For this particular architecture, bits 12-51 contain the
	// physical memory address.
	pteAddrMask = uint64(0x000ffffffffff000)

	// pteFlagMask extracts the flag bits of a page table entry: bits 0-11
	// plus the no-execute bit (bit 63).
	pteFlagMask = uint64(0x8000000000000fff)
)

// pageLevelShifts defines the shift required to extract each page table
// index from a virtual address. Each level indexes 9 bits; the remaining low
// 12 bits are the page offset.
var pageLevelShifts = [pageLevels]uint8{39, 30, 21, 12}

// PageTableEntryFlag describes a flag that can be applied to a page table
// entry.
type PageTableEntryFlag uint64

const (
	// FlagPresent is set when the page is available in memory and not
	// swapped out. An entry without this flag must never be dereferenced as
	// a table pointer.
	FlagPresent PageTableEntryFlag = 1 << iota

	// FlagRW is set if the page can be written to.
	FlagRW

	// FlagUserAccessible is set if user-mode processes can access this page.
	// If not set only kernel code can access this page.
	FlagUserAccessible

	// FlagWriteThroughCaching implies write-through caching when set and
	// write-back caching if cleared.
	FlagWriteThroughCaching

	// FlagDoNotCache prevents this page from being cached if set.
	FlagDoNotCache

	// FlagAccessed is set by the CPU when this page is accessed.
	FlagAccessed

	// FlagDirty is set by the CPU when this page is modified.
	FlagDirty

	// FlagHugePage is set when the entry maps a 1Gb (PDPT level) or 2Mb (PD
	// level) page instead of pointing to the next table level.
	FlagHugePage

	// FlagGlobal prevents the TLB from flushing the cached translation for
	// this page when the CR3 register is updated.
	FlagGlobal

	// FlagNoExecute marks the page contents as non-executable.
	FlagNoExecute PageTableEntryFlag = 1 << 63
)
