// Package heap implements the kernel's general purpose allocator. The heap
// occupies a fixed virtual window backed lazily by physical frames: when an
// allocation cannot be satisfied the heap maps additional frames into the
// window, up to a hard ceiling, and retries once before reporting failure.
package heap

import (
	"github.com/BenMcAvoy/viceOS/kernel"
	"github.com/BenMcAvoy/viceOS/kernel/kfmt"
	"github.com/BenMcAvoy/viceOS/kernel/mem"
	"github.com/BenMcAvoy/viceOS/kernel/mem/pmm"
	"github.com/BenMcAvoy/viceOS/kernel/mem/vmm"
	"github.com/BenMcAvoy/viceOS/kernel/sync"
)

const (
	// Start is the fixed virtual address where the heap window begins:
	// 32Mb, past the kernel image and the bootloader payload.
	Start = mem.VirtAddr(0x0000000002000000)

	// InitialSize is the number of bytes mapped up front by Init.
	InitialSize = 4 * mem.Mb

	// ExtendChunkSize is the minimum growth amount per extension. Growing
	// by a chunk rather than by the exact failed request amortizes the cost
	// of frame allocation and page table walks across many small
	// allocations.
	ExtendChunkSize = 4 * mem.Mb

	// MaxSize is the hard ceiling on the mapped heap extent. It bounds the
	// physical memory a single leaking subsystem can commit.
	MaxSize = 512 * mem.Mb
)

// ErrAllocFailed is returned when an allocation request cannot be satisfied
// even after extending the heap. Callers at the top of the kernel treat this
// as fatal; everything below is expected to propagate it.
var ErrAllocFailed = &kernel.Error{Module: "heap", Message: "kernel heap exhausted"}

var (
	// The following functions are used by tests to mock the frame allocator
	// and mapper dependencies.
	allocFrameFn = pmm.AllocFrame
	freeFrameFn  = pmm.FreeFrame
	mapFn        = vmm.Map
)

// Allocator manages the kernel heap window. The zero value configures
// itself with the package defaults on Init; tests construct instances with a
// smaller window.
type Allocator struct {
	list listAllocator

	// start is the base of the heap window; heapEnd tracks the end of its
	// mapped extent and only ever moves up.
	start, heapEnd mem.VirtAddr

	initialSize, extendChunk, maxSize mem.Size
}

// Init maps the initial heap pages, each backed by a freshly allocated
// frame, and hands the window to the free list as its initial arena.
func (h *Allocator) Init() *kernel.Error {
	if h.start == 0 {
		h.start = Start
	}
	if h.initialSize == 0 {
		h.initialSize = InitialSize
	}
	if h.extendChunk == 0 {
		h.extendChunk = ExtendChunkSize
	}
	if h.maxSize == 0 {
		h.maxSize = MaxSize
	}

	pageCount := uintptr(h.initialSize+mem.PageSize-1) >> mem.PageShift
	for i := uintptr(0); i < pageCount; i++ {
		frame, err := allocFrameFn()
		if err != nil {
			return err
		}

		if err = mapFn(vmm.PageFromAddress(h.start)+vmm.Page(i), frame, vmm.FlagRW|vmm.FlagNoExecute); err != nil {
			freeFrameFn(frame)
			return err
		}
	}

	mapped := pageCount << mem.PageShift
	h.heapEnd = h.start + mem.VirtAddr(mapped)
	h.list.init(uintptr(h.start), mapped)

	kfmt.Trace("[heap] initialized at 0x%x, size %dKb", uintptr(h.start), uint64(mapped)/1024)
	return nil
}

// Allocate reserves size bytes aligned to align. If the free list cannot
// satisfy the request the heap attempts exactly one extension sized to cover
// at least the failed request and retries; a second failure is reported to
// the caller as ErrAllocFailed.
func (h *Allocator) Allocate(size, align uintptr) (mem.VirtAddr, *kernel.Error) {
	if addr, ok := h.list.allocate(size, align); ok {
		return mem.VirtAddr(addr), nil
	}

	if h.tryExtend(mem.Size(size)) {
		if addr, ok := h.list.allocate(size, align); ok {
			return mem.VirtAddr(addr), nil
		}
	}

	return 0, ErrAllocFailed
}

// Deallocate returns an allocation to the free list. The size and align
// arguments must match the ones passed to Allocate. Deallocate never fails.
func (h *Allocator) Deallocate(addr mem.VirtAddr, size, align uintptr) {
	h.list.deallocate(uintptr(addr), size)
}

// tryExtend maps more pages into the heap window and tells the free list
// about them. The growth amount is at least minBytes and at least one extend
// chunk, capped by the remaining headroom under the hard ceiling. If a frame
// allocation or mapping call fails partway, the pages mapped so far are kept
// and committed. tryExtend returns false only if zero pages could be mapped
// or the ceiling was already reached.
func (h *Allocator) tryExtend(minBytes mem.Size) bool {
	current := mem.Size(h.heapEnd - h.start)
	if current >= h.maxSize {
		kfmt.Warn("[heap] heap has reached its maximum size (%dMb)", uint64(h.maxSize/mem.Mb))
		return false
	}

	want := minBytes
	if want < h.extendChunk {
		want = h.extendChunk
	}
	if headroom := h.maxSize - current; want > headroom {
		want = headroom
	}

	pageCount := uintptr(want+mem.PageSize-1) >> mem.PageShift
	var mapped uintptr
	for mapped < pageCount {
		frame, err := allocFrameFn()
		if err != nil {
			kfmt.Warn("[heap] extension stopped early: out of physical frames after %d pages", uint64(mapped))
			break
		}

		page := vmm.PageFromAddress(h.heapEnd) + vmm.Page(mapped)
		if err = mapFn(page, frame, vmm.FlagRW|vmm.FlagNoExecute); err != nil {
			freeFrameFn(frame)
			kfmt.Warn("[heap] extension stopped early: failed to map 0x%x: %s", uintptr(page.Address()), err.Message)
			break
		}

		mapped++
	}

	if mapped == 0 {
		return false
	}

	added := mapped << mem.PageShift
	h.list.extend(added)
	h.heapEnd += mem.VirtAddr(added)

	kfmt.Debug("[heap] extended by %dKb (total: %dKb / %dMb max)",
		uint64(added)/1024, uint64(h.heapEnd-h.start)/1024, uint64(h.maxSize/mem.Mb))
	return true
}

// Stats returns the free and used byte counts of the underlying free list.
func (h *Allocator) Stats() (free, used uintptr) {
	return h.list.freeBytes(), h.list.usedBytes()
}

// Size returns the number of bytes currently mapped into the heap window.
func (h *Allocator) Size() mem.Size {
	return mem.Size(h.heapEnd - h.start)
}

var (
	// kernelHeap serves every dynamic allocation in the kernel. It is
	// guarded by heapLock; the extension path calls into the vmm and pmm
	// packages whose locks are always acquired after this one, so the lock
	// order is acyclic.
	kernelHeap Allocator

	heapLock sync.Spinlock
)

// Init sets up the kernel heap.
func Init() *kernel.Error {
	heapLock.Acquire()
	err := kernelHeap.Init()
	heapLock.Release()
	return err
}

// Allocate reserves size bytes aligned to align from the kernel heap.
func Allocate(size, align uintptr) (mem.VirtAddr, *kernel.Error) {
	heapLock.Acquire()
	addr, err := kernelHeap.Allocate(size, align)
	heapLock.Release()
	return addr, err
}

// Deallocate returns an allocation to the kernel heap.
func Deallocate(addr mem.VirtAddr, size, align uintptr) {
	heapLock.Acquire()
	kernelHeap.Deallocate(addr, size, align)
	heapLock.Release()
}

// Stats returns the free and used byte counts of the kernel heap.
func Stats() (free, used uintptr) {
	heapLock.Acquire()
	free, used = kernelHeap.Stats()
	heapLock.Release()
	return free, used
}

// Size returns the number of bytes currently mapped into the kernel heap
// window.
func Size() mem.Size {
	heapLock.Acquire()
	size := kernelHeap.Size()
	heapLock.Release()
	return size
}
