package heap

import "unsafe"

// minBlockSize is the allocation granularity: every block must be able to
// hold a hole header once it is freed.
const minBlockSize = unsafe.Sizeof(hole{})

// hole describes a free block. The header lives inside the free memory
// itself, at the block's start address, so the free list costs no memory
// beyond the arena it manages.
type hole struct {
	size uintptr
	next *hole
}

// listAllocator implements a first-fit allocator over a contiguous arena.
// Free blocks form a singly linked list sorted by address which lets
// deallocations coalesce with both neighbors in a single pass.
type listAllocator struct {
	first *hole

	// bottom and top delimit the arena handed to the allocator so far; top
	// only moves up (via extend).
	bottom, top uintptr

	// holeBytes tracks the total free space across all holes.
	holeBytes uintptr
}

// init hands the arena [bottom, bottom+size) to the allocator as one big
// free block. Both bottom and size must be multiples of minBlockSize.
func (a *listAllocator) init(bottom, size uintptr) {
	a.first = nil
	a.bottom = bottom
	a.top = bottom
	a.holeBytes = 0
	a.extend(size)
}

// extend grows the arena by size bytes past its current top and makes the
// new range allocatable. The new range coalesces with a trailing hole if one
// ends exactly at the old top.
func (a *listAllocator) extend(size uintptr) {
	top := a.top
	a.top += size
	a.insertHole(top, size)
}

// allocate reserves size bytes aligned to align using the first hole that
// can satisfy the request. It returns the reserved address and true, or 0
// and false if no hole is large enough.
func (a *listAllocator) allocate(size, align uintptr) (uintptr, bool) {
	size = padToBlock(size)
	if align < minBlockSize {
		align = minBlockSize
	}

	var prev *hole
	for h := a.first; h != nil; prev, h = h, h.next {
		start := uintptr(unsafe.Pointer(h))

		alignedStart := alignUp(start, align)
		if pad := alignedStart - start; pad > 0 && pad < minBlockSize {
			// The gap in front of the aligned block is too small to remain
			// a hole; push the block further into this one.
			alignedStart = alignUp(start+minBlockSize, align)
		}

		pad := alignedStart - start
		if h.size < pad+size {
			continue
		}

		tail := h.size - pad - size
		if tail > 0 && tail < minBlockSize {
			// The remainder past the block cannot hold a hole header;
			// allocating here would leak it, so keep looking.
			continue
		}

		next := h.next
		if tail > 0 {
			t := (*hole)(unsafe.Pointer(alignedStart + size))
			t.size = tail
			t.next = next
			next = t
		}

		switch {
		case pad > 0:
			h.size = pad
			h.next = next
		case prev == nil:
			a.first = next
		default:
			prev.next = next
		}

		a.holeBytes -= size
		return alignedStart, true
	}

	return 0, false
}

// deallocate returns the block at addr to the free list. The size must match
// the one passed to allocate.
func (a *listAllocator) deallocate(addr, size uintptr) {
	a.insertHole(addr, padToBlock(size))
}

// insertHole links the range [addr, addr+size) into the address-ordered free
// list, merging it with the preceding and/or following hole when they touch.
func (a *listAllocator) insertHole(addr, size uintptr) {
	a.holeBytes += size

	var prev *hole
	next := a.first
	for next != nil && uintptr(unsafe.Pointer(next)) < addr {
		prev, next = next, next.next
	}

	if next != nil && addr+size == uintptr(unsafe.Pointer(next)) {
		size += next.size
		next = next.next
	}

	if prev != nil && uintptr(unsafe.Pointer(prev))+prev.size == addr {
		prev.size += size
		prev.next = next
		return
	}

	h := (*hole)(unsafe.Pointer(addr))
	h.size = size
	h.next = next
	if prev == nil {
		a.first = h
	} else {
		prev.next = h
	}
}

// freeBytes returns the total number of bytes available across all holes.
func (a *listAllocator) freeBytes() uintptr {
	return a.holeBytes
}

// usedBytes returns the number of arena bytes currently allocated.
func (a *listAllocator) usedBytes() uintptr {
	return a.top - a.bottom - a.holeBytes
}

// padToBlock rounds size up to the allocator's block granularity.
func padToBlock(size uintptr) uintptr {
	if size < minBlockSize {
		size = minBlockSize
	}
	return alignUp(size, minBlockSize)
}

// alignUp rounds v up to the nearest multiple of align; align must be a
// power of two.
func alignUp(v, align uintptr) uintptr {
	return (v + align - 1) &^ (align - 1)
}
