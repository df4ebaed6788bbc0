// Package kmain hosts the kernel's Go entrypoint. The assembly trampoline
// jumps here once it has set up a minimal environment and translated the
// bootloader payload into a bootinfo.BootInfo.
package kmain

import (
	"github.com/BenMcAvoy/viceOS/kernel"
	"github.com/BenMcAvoy/viceOS/kernel/cpu"
	"github.com/BenMcAvoy/viceOS/kernel/hal/bootinfo"
	"github.com/BenMcAvoy/viceOS/kernel/kfmt"
	"github.com/BenMcAvoy/viceOS/kernel/mem"
	"github.com/BenMcAvoy/viceOS/kernel/mem/heap"
	"github.com/BenMcAvoy/viceOS/kernel/mem/pmm"
	"github.com/BenMcAvoy/viceOS/kernel/mem/vmm"
)

// haltFn is mocked by tests so Kmain can return.
var haltFn = cpu.Halt

// Kmain is the only Go symbol that is visible (exported) to the assembly
// trampoline. It bootstraps the memory subsystems in dependency order:
// physical frames first, then the kernel address space, then the heap that
// draws on both. Kmain does not return; if any step fails the error is
// reported via kernel.Panic.
func Kmain(info *bootinfo.BootInfo) {
	kfmt.Printf("viceOS starting\n")

	stats := info.Stats()
	kfmt.Info("[kmain] memory: %dMb total, %dMb available",
		uint64(stats.TotalRAM/mem.Mb), uint64(stats.AvailableRAM/mem.Mb))
	if info.CmdLine != "" {
		kfmt.Info("[kmain] cmdline: %s", info.CmdLine)
	}

	pmm.Init(info)
	vmm.SetFrameAllocator(pmm.AllocFrame)

	if err := vmm.Init(heap.Start, heap.MaxSize); err != nil {
		kernel.Panic(err)
	}
	if err := heap.Init(); err != nil {
		kernel.Panic(err)
	}

	kernel.SetPanicDiagnostics(dumpMemoryStats)

	if info.Framebuffer.Address != 0 {
		fb := &info.Framebuffer
		frame := pmm.FrameFromAddress(fb.Address)
		page, err := vmm.MapRegion(frame, fb.Size(), vmm.FlagRW|vmm.FlagDoNotCache|vmm.FlagNoExecute)
		if err != nil {
			kernel.Panic(err)
		}
		kfmt.Info("[kmain] framebuffer %dx%d (%d bpp) mapped at 0x%x",
			uint64(fb.Width), uint64(fb.Height), uint64(fb.BitsPerPixel), uintptr(page.Address()))
	}

	dumpMemoryStats()
	kfmt.Printf("viceOS memory core online\n")

	haltFn()
}

// dumpMemoryStats logs the frame allocator and heap counters. It is also
// registered as the panic diagnostics hook so out-of-memory panics carry the
// numbers needed to diagnose them.
func dumpMemoryStats() {
	total, used, free := pmm.Stats()
	kfmt.Info("[kmain] pmm: %d frames total, %d used, %d free", uint64(total), uint64(used), uint64(free))

	heapFree, heapUsed := heap.Stats()
	kfmt.Info("[kmain] heap: %dKb mapped, %d bytes used, %d bytes free",
		uint64(heap.Size()/mem.Kb), uint64(heapUsed), uint64(heapFree))
}
