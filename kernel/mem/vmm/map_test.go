package vmm

import (
	"testing"
	"unsafe"

	"github.com/BenMcAvoy/viceOS/kernel"
	"github.com/BenMcAvoy/viceOS/kernel/mem"
	"github.com/BenMcAvoy/viceOS/kernel/mem/pmm"
)

// testFrameArena hands out page-aligned frames backed by Go-managed memory.
// The frame addresses double as valid pointers so the default tableForFrame
// implementation can dereference them exactly like it would on real hardware
// with the identity mapping in place.
type testFrameArena struct {
	buf  []byte
	base uintptr
	next int
	max  int
}

func newTestFrameArena(frames int) *testFrameArena {
	buf := make([]byte, (frames+1)*mem.PageSize)
	base := (uintptr(unsafe.Pointer(&buf[0])) + mem.PageSize - 1) &^ uintptr(mem.PageSize-1)
	return &testFrameArena{buf: buf, base: base, max: frames}
}

func (fa *testFrameArena) allocFrame() (pmm.Frame, *kernel.Error) {
	if fa.next >= fa.max {
		return pmm.InvalidFrame, pmm.ErrOutOfMemory
	}

	frame := fa.frame(fa.next)
	fa.next++
	return frame, nil
}

func (fa *testFrameArena) frame(index int) pmm.Frame {
	return pmm.FrameFromAddress(mem.PhysAddr(fa.base + uintptr(index)*mem.PageSize))
}

// table returns the arena page at index as a page table so tests can inspect
// or seed entries directly.
func (fa *testFrameArena) table(index int) *pageTable {
	return (*pageTable)(unsafe.Pointer(fa.base + uintptr(index)*mem.PageSize))
}

// identityTableForFrame dereferences a frame's address directly. Arena frames
// are backed by Go-managed memory, so the identity view stands in for the
// higher-half mirror the kernel build uses.
func identityTableForFrame(frame pmm.Frame) *pageTable {
	return (*pageTable)(unsafe.Pointer(uintptr(frame.Address())))
}

// setupTestSpace points an address space at a root table drawn from the
// arena, reroutes table access to the identity view and replaces the TLB
// flush hook with a recorder. The returned restore function must be deferred.
func setupTestSpace(t *testing.T, arena *testFrameArena) (as *AddressSpace, flushed *[]uintptr, restore func()) {
	t.Helper()

	origFlush := flushTLBEntryFn
	origAllocator := frameAllocator
	origTableForFrame := tableForFrame

	tableForFrame = identityTableForFrame

	rootFrame, err := arena.allocFrame()
	if err != nil {
		t.Fatalf("expected the arena to supply a root table; got %v", err)
	}
	*tableForFrame(rootFrame) = pageTable{}

	var flushCalls []uintptr
	flushTLBEntryFn = func(virtAddr uintptr) { flushCalls = append(flushCalls, virtAddr) }
	SetFrameAllocator(arena.allocFrame)

	return &AddressSpace{root: rootFrame}, &flushCalls, func() {
		flushTLBEntryFn = origFlush
		frameAllocator = origAllocator
		tableForFrame = origTableForFrame
	}
}

func TestMapTranslateRoundTrip(t *testing.T) {
	arena := newTestFrameArena(8)
	as, flushed, restore := setupTestSpace(t, arena)
	defer restore()

	page := PageFromAddress(0x500000)
	frame := pmm.FrameFromAddress(0x700000)

	if err := as.Map(page, frame, FlagRW); err != nil {
		t.Fatalf("expected Map to succeed; got %v", err)
	}

	// The walk materialized a PDPT, PD and PT on top of the root.
	if exp, got := 4, arena.next; got != exp {
		t.Fatalf("expected %d arena frames to be in use; got %d", exp, got)
	}

	if exp, got := []uintptr{0x500000}, *flushed; len(got) != 1 || got[0] != exp[0] {
		t.Fatalf("expected a single TLB flush for 0x%x; got %v", exp[0], got)
	}

	phys, err := as.Translate(0x500123)
	if err != nil {
		t.Fatalf("expected Translate to succeed; got %v", err)
	}
	if exp := mem.PhysAddr(0x700123); phys != exp {
		t.Fatalf("expected Translate to return 0x%x; got 0x%x", uintptr(exp), uintptr(phys))
	}

	// A second mapping through the same tables must not materialize new ones.
	if err := as.Map(page+1, frame+1, FlagRW); err != nil {
		t.Fatalf("expected Map to succeed; got %v", err)
	}
	if exp, got := 4, arena.next; got != exp {
		t.Fatalf("expected no additional arena frames to be used; got %d", got)
	}
}

func TestMapForcesPresentFlag(t *testing.T) {
	arena := newTestFrameArena(8)
	as, _, restore := setupTestSpace(t, arena)
	defer restore()

	if err := as.Map(PageFromAddress(0x1000), pmm.Frame(42), FlagNoExecute); err != nil {
		t.Fatalf("expected Map to succeed; got %v", err)
	}

	if _, err := as.Translate(0x1000); err != nil {
		t.Fatalf("expected the leaf entry to be present; got %v", err)
	}
}

func TestUnmap(t *testing.T) {
	arena := newTestFrameArena(8)
	as, flushed, restore := setupTestSpace(t, arena)
	defer restore()

	page := PageFromAddress(0x500000)
	frame := pmm.FrameFromAddress(0x700000)

	if err := as.Map(page, frame, FlagRW); err != nil {
		t.Fatalf("expected Map to succeed; got %v", err)
	}

	got, err := as.Unmap(page)
	if err != nil {
		t.Fatalf("expected Unmap to succeed; got %v", err)
	}
	if got != frame {
		t.Fatalf("expected Unmap to return frame %d; got %d", frame, got)
	}

	if exp, got := 2, len(*flushed); got != exp {
		t.Fatalf("expected %d TLB flushes (map + unmap); got %d", exp, got)
	}

	if _, err = as.Translate(page.Address()); err != ErrNotMapped {
		t.Fatalf("expected Translate to fail after Unmap; got %v", err)
	}

	// A second Unmap of the same page reports the missing mapping.
	if _, err = as.Unmap(page); err != ErrNotMapped {
		t.Fatalf("expected a double Unmap to return ErrNotMapped; got %v", err)
	}
}

func TestUnmapMissingIntermediateTable(t *testing.T) {
	arena := newTestFrameArena(8)
	as, _, restore := setupTestSpace(t, arena)
	defer restore()

	if _, err := as.Unmap(PageFromAddress(0x500000)); err != ErrNotMapped {
		t.Fatalf("expected Unmap on an empty space to return ErrNotMapped; got %v", err)
	}
}

func TestMapHugePageConflict(t *testing.T) {
	arena := newTestFrameArena(8)
	as, _, restore := setupTestSpace(t, arena)
	defer restore()

	// Seed a 2Mb huge page covering [0x400000, 0x600000).
	if err := seedHugePD(as, arena, 0x400000); err != nil {
		t.Fatalf("expected the huge page setup to succeed; got %v", err)
	}

	if err := as.Map(PageFromAddress(0x500000), pmm.Frame(42), FlagRW); err != ErrHugePage {
		t.Fatalf("expected Map into a huge page to return ErrHugePage; got %v", err)
	}
	if _, err := as.Unmap(PageFromAddress(0x500000)); err != ErrHugePage {
		t.Fatalf("expected Unmap of a huge page to return ErrHugePage; got %v", err)
	}
}

// seedHugePD installs a PD-level huge entry mapping the 2Mb region at virt to
// the identical physical range.
func seedHugePD(as *AddressSpace, arena *testFrameArena, virt mem.VirtAddr) *kernel.Error {
	pdptFrame, err := arena.allocFrame()
	if err != nil {
		return err
	}
	pdFrame, err := arena.allocFrame()
	if err != nil {
		return err
	}

	pdpt := tableForFrame(pdptFrame)
	pd := tableForFrame(pdFrame)
	*pdpt = pageTable{}
	*pd = pageTable{}

	root := tableForFrame(as.root)
	root[tableIndex(virt, 0)] = newPageTableEntry(pdptFrame, FlagPresent|FlagRW)
	pdpt[tableIndex(virt, 1)] = newPageTableEntry(pdFrame, FlagPresent|FlagRW)
	pd[tableIndex(virt, 2)] = newPageTableEntry(pmm.FrameFromAddress(mem.PhysAddr(virt)), FlagPresent|FlagRW|FlagHugePage)
	return nil
}

func TestTranslateHugePage(t *testing.T) {
	arena := newTestFrameArena(8)
	as, _, restore := setupTestSpace(t, arena)
	defer restore()

	// PD-level (2Mb) huge page: the low 21 bits of the virtual address pass
	// through to the physical one.
	if err := seedHugePD(as, arena, 0x400000); err != nil {
		t.Fatalf("expected the huge page setup to succeed; got %v", err)
	}

	phys, err := as.Translate(0x412345)
	if err != nil {
		t.Fatalf("expected Translate to succeed; got %v", err)
	}
	if exp := mem.PhysAddr(0x412345); phys != exp {
		t.Fatalf("expected Translate to return 0x%x; got 0x%x", uintptr(exp), uintptr(phys))
	}

	// PDPT-level (1Gb) huge page: 30 bits of offset pass through.
	pdptFrame, aerr := arena.allocFrame()
	if aerr != nil {
		t.Fatalf("expected the arena to supply a PDPT; got %v", aerr)
	}
	pdpt := tableForFrame(pdptFrame)
	*pdpt = pageTable{}

	virt := mem.VirtAddr(0x8000000000) // PML4 entry 1
	root := tableForFrame(as.root)
	root[tableIndex(virt, 0)] = newPageTableEntry(pdptFrame, FlagPresent|FlagRW)
	pdpt[tableIndex(virt, 1)] = newPageTableEntry(pmm.FrameFromAddress(0x40000000), FlagPresent|FlagRW|FlagHugePage)

	phys, err = as.Translate(virt + 0x12345678)
	if err != nil {
		t.Fatalf("expected Translate to succeed; got %v", err)
	}
	if exp := mem.PhysAddr(0x40000000 + 0x12345678); phys != exp {
		t.Fatalf("expected Translate to return 0x%x; got 0x%x", uintptr(exp), uintptr(phys))
	}
}

func TestMapFrameExhaustion(t *testing.T) {
	arena := newTestFrameArena(2)
	as, _, restore := setupTestSpace(t, arena)
	defer restore()

	// Only one spare frame: the walk needs three new tables and must give up
	// partway while propagating the allocator's error.
	if err := as.Map(PageFromAddress(0x500000), pmm.Frame(42), FlagRW); err != pmm.ErrOutOfMemory {
		t.Fatalf("expected Map to propagate the allocator error; got %v", err)
	}
}

func TestKernelSpaceWrappers(t *testing.T) {
	arena := newTestFrameArena(8)
	as, _, restore := setupTestSpace(t, arena)
	defer restore()

	origRoot := kernelSpace.root
	kernelSpace.root = as.root
	defer func() { kernelSpace.root = origRoot }()

	page := PageFromAddress(0x600000)
	frame := pmm.FrameFromAddress(0x900000)

	if err := Map(page, frame, FlagRW); err != nil {
		t.Fatalf("expected Map to succeed; got %v", err)
	}

	phys, err := Translate(0x600042)
	if err != nil {
		t.Fatalf("expected Translate to succeed; got %v", err)
	}
	if exp := mem.PhysAddr(0x900042); phys != exp {
		t.Fatalf("expected Translate to return 0x%x; got 0x%x", uintptr(exp), uintptr(phys))
	}

	got, err := Unmap(page)
	if err != nil {
		t.Fatalf("expected Unmap to succeed; got %v", err)
	}
	if got != frame {
		t.Fatalf("expected Unmap to return frame %d; got %d", frame, got)
	}
}
