// Package bootinfo models the handoff structure that the bootloader passes
// to the kernel entrypoint: the physical memory map, the framebuffer
// descriptor and the kernel/initrd extents. The package does not parse any
// bootloader-specific format; the trampoline code that runs before Kmain is
// responsible for translating the raw multiboot payload into these records.
package bootinfo

import (
	"github.com/BenMcAvoy/viceOS/kernel/kfmt"
	"github.com/BenMcAvoy/viceOS/kernel/mem"
)

// MemoryType describes the kind of memory that a MemoryMapEntry covers.
type MemoryType uint32

// The memory region types reported by the bootloader.
const (
	MemAvailable MemoryType = iota + 1
	MemReserved
	MemAcpiReclaimable
	MemAcpiNvs
	MemBadMemory
	MemKernel
	MemBootloader
	MemFramebuffer
	MemPageTable
)

// IsRAM returns true if regions of this type are backed by actual RAM.
// Reserved and MMIO regions cover huge holes in the physical address space
// and would make memory totals misleadingly large if counted.
func (t MemoryType) IsRAM() bool {
	switch t {
	case MemAvailable, MemAcpiReclaimable, MemAcpiNvs, MemKernel, MemBootloader:
		return true
	default:
		return false
	}
}

// String implements fmt.Stringer for MemoryType.
func (t MemoryType) String() string {
	switch t {
	case MemAvailable:
		return "available"
	case MemReserved:
		return "reserved"
	case MemAcpiReclaimable:
		return "acpi (reclaimable)"
	case MemAcpiNvs:
		return "acpi (nvs)"
	case MemBadMemory:
		return "bad memory"
	case MemKernel:
		return "kernel"
	case MemBootloader:
		return "bootloader"
	case MemFramebuffer:
		return "framebuffer"
	case MemPageTable:
		return "page table"
	default:
		return "unknown"
	}
}

// MemoryMapEntry describes a contiguous region of physical memory. Reported
// addresses are not necessarily page-aligned.
type MemoryMapEntry struct {
	// The physical address where the region starts.
	Base mem.PhysAddr

	// The region length in bytes.
	Length mem.Size

	// The region type.
	Type MemoryType
}

// FramebufferInfo describes the linear framebuffer set up by the bootloader.
// The memory core only uses it to size the region it makes reachable; pixel
// format interpretation is left to the display driver.
type FramebufferInfo struct {
	// The framebuffer physical address.
	Address mem.PhysAddr

	// Width and height in pixels.
	Width, Height uint32

	// Row pitch in bytes.
	Pitch uint32

	// Bits per pixel.
	BitsPerPixel uint8

	// The bit position of each color channel within a pixel.
	RedShift, GreenShift, BlueShift uint8
}

// Size returns the number of bytes that the framebuffer occupies.
func (fb *FramebufferInfo) Size() mem.Size {
	return mem.Size(fb.Pitch) * mem.Size(fb.Height)
}

// BootInfo is the complete bootloader handoff consumed by Kmain.
type BootInfo struct {
	// The ordered physical memory map. May be empty if the bootloader could
	// not obtain one.
	MemoryMap []MemoryMapEntry

	// The active framebuffer, if any (Address is 0 otherwise).
	Framebuffer FramebufferInfo

	// The physical extent of the loaded kernel image.
	KernelStart, KernelEnd mem.PhysAddr

	// The physical extent of the initial ramdisk, if any.
	InitrdStart, InitrdEnd mem.PhysAddr

	// The kernel command line.
	CmdLine string
}

// MemRegionVisitor defines a visitor function that gets invoked by
// VisitMemRegions for each entry in the memory map. The visitor returns false
// to stop the iteration.
type MemRegionVisitor func(*MemoryMapEntry) bool

// VisitMemRegions iterates the memory map in order, invoking visitor for
// each entry.
func (bi *BootInfo) VisitMemRegions(visitor MemRegionVisitor) {
	for i := range bi.MemoryMap {
		if !visitor(&bi.MemoryMap[i]) {
			return
		}
	}
}

// MemStats summarizes the RAM described by a memory map.
type MemStats struct {
	// TotalRAM is the amount of RAM-backed memory (see MemoryType.IsRAM).
	TotalRAM mem.Size

	// AvailableRAM is the amount of memory the kernel is free to use.
	AvailableRAM mem.Size
}

// fallbackRAM is assumed when the bootloader supplies no memory map. 32Mb is
// a safe lower bound for the machines the kernel targets; on anything
// smaller the kernel would not get far anyway.
const fallbackRAM = 32 * mem.Mb

// Stats tallies the memory map into a MemStats summary. If no memory map was
// provided it falls back to assuming fallbackRAM of usable memory.
func (bi *BootInfo) Stats() MemStats {
	if len(bi.MemoryMap) == 0 {
		kfmt.Error("[bootinfo] no memory map provided by bootloader, assuming %dMb available", uint64(fallbackRAM/mem.Mb))
		return MemStats{TotalRAM: fallbackRAM, AvailableRAM: fallbackRAM}
	}

	var stats MemStats
	bi.VisitMemRegions(func(region *MemoryMapEntry) bool {
		if region.Type.IsRAM() {
			stats.TotalRAM += region.Length
		}
		if region.Type == MemAvailable {
			stats.AvailableRAM += region.Length
		}
		return true
	})

	return stats
}
