// Package xeno is the embedding facade: one Engine per embedded language
// runtime, owning the security policy, the compiler and the VM. All other
// components read the policy through the Engine's single owned instance.
package xeno

import (
	"strings"
	"time"

	"github.com/tliron/commonlog"

	"github.com/vlplay/xeno/pkg/compiler"
	"github.com/vlplay/xeno/pkg/security"
	"github.com/vlplay/xeno/pkg/vm"
)

// Version metadata reported by the facade and the host bridge.
const (
	LanguageName    = "Xeno Language"
	LanguageVersion = "v0.1.3"
	LanguageDate    = "08.11.2025"

	CompilerName    = "Xeno Compiler"
	CompilerVersion = "v0.1.3"
	CompilerDate    = "08.11.2025"

	VMName    = "Xeno Virtual Machine"
	VMVersion = "v0.1.3"
	VMDate    = "08.11.2025"
)

var log = commonlog.GetLogger("xeno.engine")

// Engine bundles one compiler and one VM around a shared policy.
// Not safe for concurrent use except for the documented worker/supervisor
// pattern on Run and Stop.
type Engine struct {
	policy   *security.Policy
	compiler *compiler.Compiler
	machine  *vm.VM

	out   vm.TextSink
	input *vm.InputQueue

	// compileErrors counts ERROR-class diagnostics from the last Compile;
	// warnings keep a compilation successful.
	compileErrors int
}

// NewEngine creates an engine with the default policy, a stdout text sink,
// a discarding pin sink and an empty input queue.
func NewEngine() *Engine {
	e := &Engine{
		policy: security.NewPolicy(),
		out:    vm.StdoutSink{},
		input:  vm.NewInputQueue(),
	}
	e.policy.SetDiag(e.writeLine)
	e.compiler = compiler.New(e.policy, e.compilerDiag)
	e.machine = vm.New(e.policy, vm.FuncSink(e.writeLine), nil, e.input)
	return e
}

func (e *Engine) writeLine(line string) { e.out.WriteLine(line) }

func (e *Engine) compilerDiag(line string) {
	if strings.HasPrefix(line, "ERROR:") {
		e.compileErrors++
	}
	e.out.WriteLine(line)
}

// SetTextSink routes all program output and diagnostics to the given sink.
func (e *Engine) SetTextSink(out vm.TextSink) {
	e.out = out
}

// SetPinSink attaches a pin back-end.
func (e *Engine) SetPinSink(pins vm.PinSink) {
	e.machine.SetPinSink(pins)
}

// Input returns the engine's input queue for host-pushed lines.
func (e *Engine) Input() *vm.InputQueue { return e.input }

// Policy returns the engine-owned policy for read access.
func (e *Engine) Policy() *security.Policy { return e.policy }

// VM exposes the engine's virtual machine for state inspection.
func (e *Engine) VM() *vm.VM { return e.machine }

// Compile translates source text. Diagnostics stream to the text sink;
// compilation always processes every line. Returns false when any
// ERROR-class diagnostic was emitted.
func (e *Engine) Compile(source string) bool {
	e.compileErrors = 0
	start := time.Now()
	e.compiler.Compile(source)
	log.Debugf("compiled %d instructions, %d strings in %s",
		e.compiler.Program().Len(), len(e.compiler.Program().Strings), time.Since(start))
	return e.compileErrors == 0
}

// Run loads the last-compiled program into the VM and executes it to
// completion, fault or stop. Returns false when verification rejects the
// artifact.
func (e *Engine) Run(quiet bool) bool {
	if !e.machine.LoadProgram(e.compiler.Program(), quiet) {
		log.Warning("program rejected at load")
		return false
	}
	e.machine.Run(quiet)
	return true
}

// CompileAndRun compiles and, on success, runs.
func (e *Engine) CompileAndRun(source string, quiet bool) bool {
	if !e.Compile(source) {
		return false
	}
	return e.Run(quiet)
}

// Step executes a single instruction of the loaded program.
func (e *Engine) Step() { e.machine.Step() }

// Stop forces the VM to idle; safe to call from a supervisor goroutine
// while a worker drives Run.
func (e *Engine) Stop() { e.machine.Stop() }

// IsRunning reports whether the VM is executing or loaded-and-unfinished.
func (e *Engine) IsRunning() bool { return e.machine.IsRunning() }

// DumpState writes the VM state dump to the text sink.
func (e *Engine) DumpState() { e.machine.DumpState() }

// Disassemble writes the loaded program's listing to the text sink.
func (e *Engine) Disassemble() { e.machine.Disassemble() }

// PrintCompiledCode writes the compiler's artifact listing to the text sink.
func (e *Engine) PrintCompiledCode() {
	listing := strings.TrimSuffix(e.compiler.Listing(), "\n")
	e.out.WriteLine(listing)
}

// --- policy pass-throughs ---------------------------------------------------

// SetMaxInstructions applies the per-execution instruction ceiling.
func (e *Engine) SetMaxInstructions(v uint32) bool { return e.policy.SetMaxInstructions(v) }

// SetMaxStringLength applies the string-length ceiling.
func (e *Engine) SetMaxStringLength(v uint16) bool { return e.policy.SetMaxStringLength(v) }

// SetMaxVariableNameLength applies the identifier-length ceiling.
func (e *Engine) SetMaxVariableNameLength(v uint16) bool { return e.policy.SetMaxVariableNameLength(v) }

// SetMaxExpressionDepth applies the expression-rewrite depth ceiling.
func (e *Engine) SetMaxExpressionDepth(v uint16) bool { return e.policy.SetMaxExpressionDepth(v) }

// SetMaxLoopDepth applies the loop-nesting ceiling.
func (e *Engine) SetMaxLoopDepth(v uint16) bool { return e.policy.SetMaxLoopDepth(v) }

// SetMaxIfDepth applies the if-nesting ceiling.
func (e *Engine) SetMaxIfDepth(v uint16) bool { return e.policy.SetMaxIfDepth(v) }

// SetMaxStackSize applies the VM stack capacity.
func (e *Engine) SetMaxStackSize(v uint16) bool { return e.policy.SetMaxStackSize(v) }

// SetAllowedPins replaces the pin allow-list.
func (e *Engine) SetAllowedPins(pins []uint8) bool { return e.policy.SetAllowedPins(pins) }

// MaxInstructions returns the current instruction ceiling.
func (e *Engine) MaxInstructions() uint32 { return e.policy.MaxInstructions() }

// MaxStringLength returns the current string-length ceiling.
func (e *Engine) MaxStringLength() uint16 { return e.policy.MaxStringLength() }

// MaxVariableNameLength returns the current identifier-length ceiling.
func (e *Engine) MaxVariableNameLength() uint16 { return e.policy.MaxVariableNameLength() }

// MaxExpressionDepth returns the expression-rewrite depth ceiling.
func (e *Engine) MaxExpressionDepth() uint16 { return e.policy.MaxExpressionDepth() }

// MaxLoopDepth returns the loop-nesting ceiling.
func (e *Engine) MaxLoopDepth() uint16 { return e.policy.MaxLoopDepth() }

// MaxIfDepth returns the if-nesting ceiling.
func (e *Engine) MaxIfDepth() uint16 { return e.policy.MaxIfDepth() }

// MaxStackSize returns the VM stack capacity.
func (e *Engine) MaxStackSize() uint16 { return e.policy.MaxStackSize() }

// AllowedPins returns a copy of the pin allow-list.
func (e *Engine) AllowedPins() []uint8 { return e.policy.AllowedPins() }

// SecurityLimitsInfo returns the multi-line bounds summary.
func (e *Engine) SecurityLimitsInfo() string { return e.policy.LimitsInfo() }

// ValidateConfig re-checks the whole policy for coherence.
func (e *Engine) ValidateConfig() bool { return e.policy.Validate() }
