package pmm

import (
	"github.com/BenMcAvoy/viceOS/kernel"
	"github.com/BenMcAvoy/viceOS/kernel/hal/bootinfo"
	"github.com/BenMcAvoy/viceOS/kernel/kfmt"
	"github.com/BenMcAvoy/viceOS/kernel/mem"
	"github.com/BenMcAvoy/viceOS/kernel/sync"
)

var (
	// frameAllocator is the allocator instance that serves all physical
	// frame reservations while the kernel runs. It is guarded by
	// allocatorLock so the package-level helpers are safe to call from any
	// context; the design assumes interrupt handlers do not allocate.
	frameAllocator BitmapAllocator

	allocatorLock sync.Spinlock
)

// Init sets up the kernel physical memory allocation sub-system using the
// memory map supplied by the bootloader.
func Init(info *bootinfo.BootInfo) {
	printMemoryMap(info)

	allocatorLock.Acquire()
	frameAllocator.Init(info)
	allocatorLock.Release()
}

// printMemoryMap logs the system memory map as reported by the bootloader.
func printMemoryMap(info *bootinfo.BootInfo) {
	if info == nil {
		return
	}

	kfmt.Debug("[pmm] system memory map:")
	var totalFree mem.Size
	info.VisitMemRegions(func(region *bootinfo.MemoryMapEntry) bool {
		kfmt.Debug("[pmm]\t[0x%10x - 0x%10x], size: %10d, type: %s",
			uintptr(region.Base), uintptr(region.Base)+uintptr(region.Length), uint64(region.Length), region.Type.String())

		if region.Type == bootinfo.MemAvailable {
			totalFree += region.Length
		}
		return true
	})
	kfmt.Debug("[pmm] free memory: %dKb", uint64(totalFree/mem.Kb))
}

// AllocFrame reserves the next available free frame.
func AllocFrame() (Frame, *kernel.Error) {
	allocatorLock.Acquire()
	frame, err := frameAllocator.AllocFrame()
	allocatorLock.Release()
	return frame, err
}

// AllocContiguousFrames reserves a run of n consecutive free frames.
func AllocContiguousFrames(n uint) (Frame, *kernel.Error) {
	allocatorLock.Acquire()
	frame, err := frameAllocator.AllocContiguousFrames(n)
	allocatorLock.Release()
	return frame, err
}

// FreeFrame releases a previously reserved frame.
func FreeFrame(frame Frame) {
	allocatorLock.Acquire()
	frameAllocator.FreeFrame(frame)
	allocatorLock.Release()
}

// FreeContiguousFrames releases a previously reserved run of n frames.
func FreeContiguousFrames(frame Frame, n uint) {
	allocatorLock.Acquire()
	frameAllocator.FreeContiguousFrames(frame, n)
	allocatorLock.Release()
}

// Stats returns the total, used and free frame counts.
func Stats() (total, used, free uintptr) {
	allocatorLock.Acquire()
	total, used, free = frameAllocator.Stats()
	allocatorLock.Release()
	return total, used, free
}
