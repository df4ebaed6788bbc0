package vmm

import "github.com/BenMcAvoy/viceOS/kernel/mem"

// Page describes a virtual memory page index.
type Page uintptr

// Address returns the virtual memory address where this Page begins.
func (p Page) Address() mem.VirtAddr {
	return mem.VirtAddr(p << mem.PageShift)
}

// PageFromAddress returns the Page that contains the given virtual address.
// Addresses that are not page-aligned are rounded down to the page that
// contains them.
func PageFromAddress(virtAddr mem.VirtAddr) Page {
	return Page(virtAddr >> mem.PageShift)
}
