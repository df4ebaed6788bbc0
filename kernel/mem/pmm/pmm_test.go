package pmm

import (
	"testing"

	"github.com/BenMcAvoy/viceOS/kernel/hal/bootinfo"
	"github.com/BenMcAvoy/viceOS/kernel/mem"
)

func TestPackageLevelAllocator(t *testing.T) {
	Init(&bootinfo.BootInfo{
		MemoryMap: []bootinfo.MemoryMapEntry{
			{Base: 0, Length: 8 * mem.PageSize, Type: bootinfo.MemAvailable},
			{Base: 0x100000, Length: 1 * mem.Mb, Type: bootinfo.MemKernel},
		},
	})

	if total, used, free := Stats(); total != 8 || used != 0 || free != 8 {
		t.Fatalf("expected stats (8, 0, 8); got (%d, %d, %d)", total, used, free)
	}

	frame, err := AllocFrame()
	if err != nil {
		t.Fatalf("expected AllocFrame to succeed; got %v", err)
	}

	run, err := AllocContiguousFrames(2)
	if err != nil {
		t.Fatalf("expected AllocContiguousFrames to succeed; got %v", err)
	}

	FreeFrame(frame)
	FreeContiguousFrames(run, 2)

	if total, used, free := Stats(); total != 8 || used != 0 || free != 8 {
		t.Fatalf("expected all frames to be free again; got (%d, %d, %d)", total, used, free)
	}
}
