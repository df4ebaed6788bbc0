package pmm

import (
	"github.com/BenMcAvoy/viceOS/kernel"
	"github.com/BenMcAvoy/viceOS/kernel/hal/bootinfo"
	"github.com/BenMcAvoy/viceOS/kernel/kfmt"
	"github.com/BenMcAvoy/viceOS/kernel/mem"
)

const (
	// maxPhysMem defines the physical address ceiling that the allocator can
	// track. Frames above the ceiling are treated as permanently allocated.
	maxPhysMem = 4 * mem.Gb

	// maxFrames is the number of frames below the ceiling.
	maxFrames = uintptr(maxPhysMem) >> mem.PageShift

	// bitmapWords is the number of uint64 words needed to track one bit per
	// frame below the ceiling (128Kb of bitmap).
	bitmapWords = maxFrames / 64
)

// ErrOutOfMemory is returned by the allocator when it cannot satisfy a frame
// reservation request. Running out of frames is a recoverable condition;
// callers are expected to propagate the error rather than panic.
var ErrOutOfMemory = &kernel.Error{Module: "pmm", Message: "out of physical memory"}

// BitmapAllocator tracks the allocation status of every physical frame below
// a fixed ceiling using one bit per frame; a set bit marks the frame as
// allocated or out of range.
//
// Allocations scan the bitmap starting at a monotonically advancing cursor
// which makes the common boot-time pattern (allocate, never free) O(1)
// amortized. The cursor is a hint, not a source of truth: it always points at
// or before the lowest free frame, so a stale cursor only costs extra
// scanning, never an incorrect allocation.
type BitmapAllocator struct {
	bitmap [bitmapWords]uint64

	// firstFree is the scan cursor. It is advanced past each allocated frame
	// and wound back whenever a lower frame is freed.
	firstFree uintptr

	// totalFrames is one past the highest frame ever marked free. Frames
	// between regions below this high-water mark count as allocated which
	// keeps totalFrames == freeFrames + used frames at all times.
	totalFrames uintptr

	// freeFrames counts the frames currently available for allocation.
	freeFrames uintptr
}

// Init resets the allocator and marks the frames fully covered by each
// available region in the supplied memory map as free. Region boundaries are
// rounded inward (start up, end down) so partially covered frames stay
// reserved.
//
// If the boot info carries no memory map the allocator falls back to treating
// everything below the ceiling as free. That is unsafe on real hardware but
// beats not being able to boot at all.
func (a *BitmapAllocator) Init(info *bootinfo.BootInfo) {
	kfmt.Trace("[pmm] initializing frame allocator")

	for i := range a.bitmap {
		a.bitmap[i] = ^uint64(0)
	}
	a.firstFree = 0
	a.totalFrames = 0
	a.freeFrames = 0

	if info == nil || len(info.MemoryMap) == 0 {
		kfmt.Warn("[pmm] no memory map provided, assuming all memory below %dMb is available", uint64(maxPhysMem/mem.Mb))
		for i := range a.bitmap {
			a.bitmap[i] = 0
		}
		a.totalFrames = maxFrames
		a.freeFrames = maxFrames
		return
	}

	info.VisitMemRegions(func(region *bootinfo.MemoryMapEntry) bool {
		if region.Type != bootinfo.MemAvailable {
			return true
		}

		start := uintptr(region.Base.PageAlignUp()) >> mem.PageShift
		end := uintptr((region.Base + mem.PhysAddr(region.Length)).PageAlignDown()) >> mem.PageShift
		for frame := start; frame < end; frame++ {
			a.markFree(frame)
		}
		return true
	})

	kfmt.Debug("[pmm] frame allocator initialized: %d frames (%dMb) total, %d frames (%dMb) free",
		uint64(a.totalFrames), uint64(a.totalFrames)<<mem.PageShift/uint64(mem.Mb),
		uint64(a.freeFrames), uint64(a.freeFrames)<<mem.PageShift/uint64(mem.Mb),
	)
}

// markFree clears the bitmap bit for frame and updates the allocator
// counters. Out-of-range or already-free frames are ignored.
func (a *BitmapAllocator) markFree(frame uintptr) {
	if frame >= maxFrames || !a.isAllocated(frame) {
		return
	}

	a.bitmap[frame/64] &^= 1 << (frame % 64)
	a.freeFrames++
	if frame+1 > a.totalFrames {
		a.totalFrames = frame + 1
	}
}

// markAllocated sets the bitmap bit for frame and updates the allocator
// counters. Out-of-range or already-allocated frames are ignored.
func (a *BitmapAllocator) markAllocated(frame uintptr) {
	if frame >= maxFrames || a.isAllocated(frame) {
		return
	}

	a.bitmap[frame/64] |= 1 << (frame % 64)
	a.freeFrames--
}

// isAllocated returns true if frame is reserved or lies outside the
// allocator's ceiling.
func (a *BitmapAllocator) isAllocated(frame uintptr) bool {
	if frame >= maxFrames {
		return true
	}

	return a.bitmap[frame/64]&(1<<(frame%64)) != 0
}

// AllocFrame reserves the lowest free frame at or after the scan cursor,
// wrapping around to the start of the bitmap if the tail of the scan comes up
// empty. It returns ErrOutOfMemory when no free frame exists.
func (a *BitmapAllocator) AllocFrame() (Frame, *kernel.Error) {
	for frame := a.firstFree; frame < a.totalFrames; frame++ {
		if !a.isAllocated(frame) {
			a.markAllocated(frame)
			a.firstFree = frame + 1
			return Frame(frame), nil
		}
	}

	// The cursor may have skipped over frames freed below it; wrap around
	// and rescan up to the old cursor position.
	for frame := uintptr(0); frame < a.firstFree; frame++ {
		if !a.isAllocated(frame) {
			a.markAllocated(frame)
			a.firstFree = frame + 1
			return Frame(frame), nil
		}
	}

	kfmt.Warn("[pmm] out of memory: total=%d frames, free=%d frames", uint64(a.totalFrames), uint64(a.freeFrames))
	return InvalidFrame, ErrOutOfMemory
}

// AllocContiguousFrames reserves the first run of n consecutive free frames
// that starts at or after the scan cursor. Unlike AllocFrame the scan does
// not wrap around the bitmap; a request that could only be satisfied by a run
// below the cursor fails. This is a documented limitation: contiguous
// requests are rare and wrapping would complicate run detection across the
// bitmap boundary.
//
// On failure no frame is left allocated.
func (a *BitmapAllocator) AllocContiguousFrames(n uint) (Frame, *kernel.Error) {
	if n == 0 || uintptr(n) > a.freeFrames {
		return InvalidFrame, ErrOutOfMemory
	}

	for start := a.firstFree; start+uintptr(n) <= a.totalFrames; start++ {
		run := true
		for frame := start; frame < start+uintptr(n); frame++ {
			if a.isAllocated(frame) {
				run = false
				break
			}
		}

		if run {
			for frame := start; frame < start+uintptr(n); frame++ {
				a.markAllocated(frame)
			}
			a.firstFree = start + uintptr(n)
			return Frame(start), nil
		}
	}

	return InvalidFrame, ErrOutOfMemory
}

// FreeFrame releases a frame previously returned by AllocFrame. Freeing an
// already-free frame is a silent no-op so that defensive callers can always
// free on their error paths.
func (a *BitmapAllocator) FreeFrame(frame Frame) {
	if uintptr(frame) >= maxFrames {
		kfmt.Warn("[pmm] attempt to free out-of-range frame at address 0x%x", uintptr(frame.Address()))
		return
	}

	a.markFree(uintptr(frame))
	if uintptr(frame) < a.firstFree {
		// Winding the cursor back keeps it pointing at or before the lowest
		// free frame so AllocFrame rarely needs its wrap-around scan.
		a.firstFree = uintptr(frame)
	}
}

// FreeContiguousFrames releases a run of n frames previously returned by
// AllocContiguousFrames.
func (a *BitmapAllocator) FreeContiguousFrames(frame Frame, n uint) {
	for i := uintptr(0); i < uintptr(n); i++ {
		cur := uintptr(frame) + i
		if cur >= maxFrames {
			kfmt.Warn("[pmm] attempt to free out-of-range frame at address 0x%x", cur<<mem.PageShift)
			continue
		}
		a.markFree(cur)
	}

	if uintptr(frame) < a.firstFree {
		a.firstFree = uintptr(frame)
	}
}

// Stats returns the total, used and free frame counts.
func (a *BitmapAllocator) Stats() (total, used, free uintptr) {
	return a.totalFrames, a.totalFrames - a.freeFrames, a.freeFrames
}
