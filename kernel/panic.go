package kernel

import (
	"github.com/BenMcAvoy/viceOS/kernel/cpu"
	"github.com/BenMcAvoy/viceOS/kernel/kfmt"
)

var (
	// cpuHaltFn is mocked by tests and is automatically inlined by the compiler.
	cpuHaltFn = cpu.Halt

	// diagnosticsFn is invoked (if set) before the CPU is halted so that the
	// boot code can dump frame allocator and heap statistics on the way down.
	// The kernel package cannot import the memory packages directly as they
	// depend on it for error reporting.
	diagnosticsFn func()

	errRuntimePanic = &Error{Module: "rt", Message: "unknown cause"}
)

// SetPanicDiagnostics registers a function that Panic invokes before halting
// the machine. The boot code uses this to surface memory statistics in the
// out-of-memory diagnostic path.
func SetPanicDiagnostics(fn func()) {
	diagnosticsFn = fn
}

// Panic outputs the supplied error (if not nil) together with any registered
// diagnostics and halts the CPU. Calls to Panic never return.
func Panic(e interface{}) {
	var err *Error

	switch t := e.(type) {
	case *Error:
		err = t
	case string:
		errRuntimePanic.Message = t
		err = errRuntimePanic
	case error:
		errRuntimePanic.Message = t.Error()
		err = errRuntimePanic
	}

	kfmt.Printf("\n-----------------------------------\n")
	if err != nil {
		kfmt.Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
	}
	if diagnosticsFn != nil {
		diagnosticsFn()
	}
	kfmt.Printf("*** kernel panic: system halted ***")
	kfmt.Printf("\n-----------------------------------\n")

	cpuHaltFn()
}
