package vm

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vlplay/xeno/pkg/bytecode"
	"github.com/vlplay/xeno/pkg/security"
)

// MaxIterations bounds total step-loop iterations per execution,
// independently of the policy's instruction ceiling. It catches bytecode
// that loops forever without retiring instructions against the policy cap.
const MaxIterations = 100000

// InputTimeout is how long a single input opcode waits for a host line.
const InputTimeout = 30000 * time.Millisecond

// State is the VM lifecycle state.
type State uint8

const (
	// StateIdle means no program is loaded.
	StateIdle State = iota
	// StateLoaded means a program verified successfully and PC is zero.
	StateLoaded
	// StateRunning means the step loop is active.
	StateRunning
	// StateHalted means the program completed cleanly.
	StateHalted
	// StateFaulted means verification or execution failed fatally.
	StateFaulted
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoaded:
		return "loaded"
	case StateRunning:
		return "running"
	case StateHalted:
		return "halted"
	case StateFaulted:
		return "faulted"
	default:
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
}

type handler func(vm *VM, instr bytecode.Instruction)

// VM executes verified bytecode. Step, Run, LoadProgram and Stop are not
// re-entrant; the documented sharing pattern is one worker goroutine
// driving Run plus one supervisor that may call Stop.
type VM struct {
	policy *security.Policy
	out    TextSink
	pins   PinSink
	input  InputSource

	program []bytecode.Instruction
	strings []string
	lookup  map[string]uint16

	variables map[string]bytecode.Value

	stack []bytecode.Value
	sp    int
	pc    uint32

	running atomic.Bool
	state   State

	instructionCount uint32
	iterationCount   uint32
	maxInstructions  uint32

	cancel     chan struct{}
	cancelOnce *sync.Once

	dispatch [256]handler
}

// New creates a VM bound to a policy and the given sinks. Nil sinks fall
// back to stdout, a discarding pin sink, and an empty input source.
func New(pol *security.Policy, out TextSink, pins PinSink, input InputSource) *VM {
	if out == nil {
		out = StdoutSink{}
	}
	if pins == nil {
		pins = NullPinSink{}
	}
	vm := &VM{
		policy:    pol,
		out:       out,
		pins:      pins,
		input:     input,
		variables: make(map[string]bytecode.Value),
		lookup:    make(map[string]uint16),
		stack:     make([]bytecode.Value, pol.MaxStackSize()),
	}
	vm.initDispatchTable()
	vm.resetState()
	return vm
}

// SetTextSink replaces the output sink.
func (vm *VM) SetTextSink(out TextSink) { vm.out = out }

// SetPinSink replaces the pin back-end.
func (vm *VM) SetPinSink(pins PinSink) { vm.pins = pins }

// SetInputSource replaces the input source.
func (vm *VM) SetInputSource(input InputSource) { vm.input = input }

func (vm *VM) println(line string) { vm.out.WriteLine(line) }

// fatal reports a diagnostic, clears running and moves the VM to faulted.
// Fatal errors never panic across the Step boundary.
func (vm *VM) fatal(line string) {
	vm.println(line)
	vm.running.Store(false)
	vm.state = StateFaulted
}

func (vm *VM) resetState() {
	vm.pc = 0
	vm.sp = 0
	vm.running.Store(false)
	vm.instructionCount = 0
	vm.iterationCount = 0
	vm.maxInstructions = vm.policy.MaxInstructions()
	vm.variables = make(map[string]bytecode.Value)
	vm.lookup = make(map[string]uint16)
}

// LoadProgram verifies and loads a compiled artifact. The string table is
// sanitized first; verification runs against the sanitized table the VM
// will actually use. On failure nothing is retained and the VM faults.
func (vm *VM) LoadProgram(p *bytecode.Program, quiet bool) bool {
	vm.resetState()
	vm.stack = make([]bytecode.Value, vm.policy.MaxStackSize())

	sanitized := make([]string, len(p.Strings))
	for i, s := range p.Strings {
		sanitized[i] = vm.policy.SanitizeString(s)
	}

	verified := &bytecode.Program{Instructions: p.Instructions, Strings: sanitized}
	if err := security.VerifyProgram(verified, vm.policy, vm.println); err != nil {
		vm.println("SECURITY: Bytecode verification failed - refusing to load")
		vm.state = StateFaulted
		vm.program = nil
		vm.strings = nil
		return false
	}

	vm.program = make([]bytecode.Instruction, len(p.Instructions))
	copy(vm.program, p.Instructions)
	vm.strings = sanitized
	for i, s := range vm.strings {
		vm.lookup[s] = uint16(i)
	}

	vm.cancel = make(chan struct{})
	vm.cancelOnce = new(sync.Once)
	vm.running.Store(true)
	vm.state = StateLoaded

	if !quiet {
		vm.println("\nProgram loaded and verified successfully")
	}
	return true
}

// Step executes one instruction. The program counter is advanced past the
// current instruction before its handler runs, so branch handlers assign
// absolute targets. Returns false once the VM is no longer running.
func (vm *VM) Step() bool {
	if !vm.running.Load() {
		return false
	}
	if vm.pc >= uint32(len(vm.program)) {
		// End of program counts as clean completion.
		vm.running.Store(false)
		vm.state = StateHalted
		return false
	}

	if vm.state == StateLoaded {
		vm.state = StateRunning
	}

	vm.iterationCount++
	if vm.iterationCount > MaxIterations {
		vm.fatal("ERROR: Iteration limit exceeded - possible infinite loop")
		return false
	}

	instr := vm.program[vm.pc]
	vm.pc++

	h := vm.dispatch[instr.Opcode]
	if h == nil {
		vm.fatal(fmt.Sprintf("ERROR: Unknown instruction %d", byte(instr.Opcode)))
		return false
	}
	h(vm, instr)

	vm.instructionCount++
	if vm.instructionCount > vm.maxInstructions {
		vm.fatal("ERROR: Instruction limit exceeded - possible infinite loop")
		return false
	}

	return vm.running.Load()
}

// Run drives Step until the program halts, faults or is stopped. In quiet
// mode the sink carries nothing but program output and diagnostics.
func (vm *VM) Run(quiet bool) {
	if !quiet {
		vm.println("\nStarting Xeno VM...")
		vm.println("")
	}

	for vm.Step() {
	}

	if !quiet {
		vm.println("")
		vm.println("Xeno VM finished")
	}
}

// Stop forces the VM back to idle, resetting PC and stack pointer. A read
// blocked in the input opcode is woken; a sleeping delay is not interrupted,
// the worker observes the cleared flag when it expires.
func (vm *VM) Stop() {
	vm.running.Store(false)
	if vm.cancelOnce != nil {
		vm.cancelOnce.Do(func() { close(vm.cancel) })
	}
	vm.pc = 0
	vm.sp = 0
	vm.state = StateIdle
}

// IsRunning reports whether a loaded program has not yet halted, faulted or
// been stopped.
func (vm *VM) IsRunning() bool { return vm.running.Load() }

// State returns the lifecycle state.
func (vm *VM) State() State { return vm.state }

// PC returns the program counter.
func (vm *VM) PC() uint32 { return vm.pc }

// SP returns the stack pointer (index of the next free slot).
func (vm *VM) SP() int { return vm.sp }

// InstructionCount returns instructions retired this execution.
func (vm *VM) InstructionCount() uint32 { return vm.instructionCount }

// IterationCount returns step-loop iterations this execution.
func (vm *VM) IterationCount() uint32 { return vm.iterationCount }

// Variable returns the current binding of name.
func (vm *VM) Variable(name string) (bytecode.Value, bool) {
	v, ok := vm.variables[name]
	return v, ok
}

// StringTableLen returns the current interned-string count.
func (vm *VM) StringTableLen() int { return len(vm.strings) }

// --- stack primitives -------------------------------------------------------

func (vm *VM) push(v bytecode.Value) bool {
	if vm.sp >= len(vm.stack) {
		vm.fatal("CRITICAL ERROR: Stack overflow - terminating execution")
		return false
	}
	vm.stack[vm.sp] = v
	vm.sp++
	return true
}

func (vm *VM) pop() (bytecode.Value, bool) {
	if vm.sp == 0 {
		vm.fatal("CRITICAL ERROR: Stack underflow - terminating execution")
		return bytecode.Value{}, false
	}
	vm.sp--
	return vm.stack[vm.sp], true
}

func (vm *VM) popTwo() (a, b bytecode.Value, ok bool) {
	if vm.sp < 2 {
		vm.fatal("CRITICAL ERROR: Stack underflow in binary operation - terminating execution")
		return bytecode.Value{}, bytecode.Value{}, false
	}
	vm.sp--
	b = vm.stack[vm.sp]
	vm.sp--
	a = vm.stack[vm.sp]
	return a, b, true
}

func (vm *VM) peek() (bytecode.Value, bool) {
	if vm.sp == 0 {
		vm.fatal("CRITICAL ERROR: Stack underflow in peek - terminating execution")
		return bytecode.Value{}, false
	}
	return vm.stack[vm.sp-1], true
}

// --- string table -----------------------------------------------------------

// stringAt returns the table entry for a runtime index, or "" when invalid.
func (vm *VM) stringAt(idx uint32) string {
	if idx < uint32(len(vm.strings)) {
		return vm.strings[idx]
	}
	return ""
}

// addString sanitizes and interns a runtime string, returning its handle.
// The side index gives O(1) lookup for repeated concatenation results.
func (vm *VM) addString(s string) uint16 {
	safe := vm.policy.SanitizeString(s)

	if idx, ok := vm.lookup[safe]; ok {
		return idx
	}
	if len(vm.strings) >= bytecode.MaxStringTableSize {
		vm.println("ERROR: String table overflow")
		return 0
	}
	vm.strings = append(vm.strings, safe)
	idx := uint16(len(vm.strings) - 1)
	vm.lookup[safe] = idx
	return idx
}

// valueToString renders a value for string concatenation (floats with three
// fractional digits; state dumps use describeValue instead).
func (vm *VM) valueToString(v bytecode.Value) string {
	switch v.Type {
	case bytecode.TypeInt:
		return strconv.FormatInt(int64(v.Int), 10)
	case bytecode.TypeFloat:
		return strconv.FormatFloat(float64(v.Float), 'f', 3, 32)
	case bytecode.TypeString:
		return vm.stringAt(uint32(v.Str))
	case bytecode.TypeBool:
		if v.Bool {
			return "true"
		}
		return "false"
	}
	return ""
}

// --- dispatch ---------------------------------------------------------------

func (vm *VM) initDispatchTable() {
	vm.dispatch[bytecode.OpNop] = func(*VM, bytecode.Instruction) {}
	vm.dispatch[bytecode.OpPrint] = (*VM).handlePrint
	vm.dispatch[bytecode.OpLedOn] = (*VM).handleLed
	vm.dispatch[bytecode.OpLedOff] = (*VM).handleLed
	vm.dispatch[bytecode.OpDelay] = (*VM).handleDelay
	vm.dispatch[bytecode.OpPush] = (*VM).handlePush
	vm.dispatch[bytecode.OpPushFloat] = (*VM).handlePush
	vm.dispatch[bytecode.OpPushString] = (*VM).handlePush
	vm.dispatch[bytecode.OpPushBool] = (*VM).handlePush
	vm.dispatch[bytecode.OpPop] = (*VM).handlePop
	for _, op := range []bytecode.Opcode{
		bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv,
		bytecode.OpMod, bytecode.OpPow, bytecode.OpMax, bytecode.OpMin,
	} {
		vm.dispatch[op] = (*VM).handleBinaryOp
	}
	for _, op := range []bytecode.Opcode{
		bytecode.OpAbs, bytecode.OpSqrt, bytecode.OpSin, bytecode.OpCos, bytecode.OpTan,
	} {
		vm.dispatch[op] = (*VM).handleUnaryMath
	}
	for _, op := range []bytecode.Opcode{
		bytecode.OpEq, bytecode.OpNeq, bytecode.OpLt,
		bytecode.OpGt, bytecode.OpLte, bytecode.OpGte,
	} {
		vm.dispatch[op] = (*VM).handleComparison
	}
	vm.dispatch[bytecode.OpJump] = (*VM).handleJump
	vm.dispatch[bytecode.OpJumpIf] = (*VM).handleJumpIf
	vm.dispatch[bytecode.OpPrintNum] = (*VM).handlePrintNum
	vm.dispatch[bytecode.OpStore] = (*VM).handleStore
	vm.dispatch[bytecode.OpLoad] = (*VM).handleLoad
	vm.dispatch[bytecode.OpInput] = (*VM).handleInput
	vm.dispatch[bytecode.OpHalt] = (*VM).handleHalt
}

// --- handlers ---------------------------------------------------------------

func (vm *VM) handlePrint(instr bytecode.Instruction) {
	if instr.Arg1 >= uint32(len(vm.strings)) {
		vm.fatal("ERROR: Invalid string index")
		return
	}
	vm.println(vm.strings[instr.Arg1])
}

// handleLed re-checks the pin against the allow-list even though the
// verifier already did; the pin sink must never see an unauthorized pin.
func (vm *VM) handleLed(instr bytecode.Instruction) {
	pin := uint8(instr.Arg1)
	if instr.Arg1 > security.MaxPinNumber || !vm.policy.IsPinAllowed(pin) {
		vm.println(fmt.Sprintf("ERROR: Pin not allowed: %d", instr.Arg1))
		return
	}

	high := instr.Opcode == bytecode.OpLedOn
	vm.pins.SetPinMode(pin, PinOutput)
	vm.pins.SetPin(pin, high)

	if high {
		vm.println(fmt.Sprintf("LED ON pin %d", pin))
	} else {
		vm.println(fmt.Sprintf("LED OFF pin %d", pin))
	}
}

func (vm *VM) handleDelay(instr bytecode.Instruction) {
	time.Sleep(time.Duration(instr.Arg1) * time.Millisecond)
}

func (vm *VM) handlePush(instr bytecode.Instruction) {
	var value bytecode.Value
	switch instr.Opcode {
	case bytecode.OpPush:
		value = bytecode.MakeInt(int32(instr.Arg1))
	case bytecode.OpPushFloat:
		value = bytecode.MakeFloat(bytecode.FloatFromBits(instr.Arg1))
	case bytecode.OpPushString:
		value = bytecode.MakeString(uint16(instr.Arg1))
	case bytecode.OpPushBool:
		value = bytecode.MakeBool(instr.Arg1 != 0)
	}
	vm.push(value)
}

func (vm *VM) handlePop(instr bytecode.Instruction) {
	vm.pop()
}

func (vm *VM) handleBinaryOp(instr bytecode.Instruction) {
	a, b, ok := vm.popTwo()
	if !ok {
		return
	}

	var result bytecode.Value
	switch instr.Opcode {
	case bytecode.OpAdd:
		result = vm.performAddition(a, b)
	case bytecode.OpSub:
		result = vm.performSubtraction(a, b)
	case bytecode.OpMul:
		result = vm.performMultiplication(a, b)
	case bytecode.OpDiv:
		result = vm.performDivision(a, b)
	case bytecode.OpMod:
		result = vm.performModulo(a, b)
	case bytecode.OpPow:
		result = vm.performPower(a, b)
	case bytecode.OpMax:
		result = vm.performMax(a, b)
	case bytecode.OpMin:
		result = vm.performMin(a, b)
	default:
		return
	}

	vm.push(result)
}

// handleUnaryMath replaces the top of stack in place.
func (vm *VM) handleUnaryMath(instr bytecode.Instruction) {
	a, ok := vm.peek()
	if !ok {
		return
	}

	var result bytecode.Value
	switch instr.Opcode {
	case bytecode.OpAbs:
		result = vm.performAbs(a)
	case bytecode.OpSqrt:
		result = vm.performSqrt(a)
	case bytecode.OpSin:
		result = bytecode.MakeFloat(float32(math.Sin(float64(a.AsFloat()))))
	case bytecode.OpCos:
		result = bytecode.MakeFloat(float32(math.Cos(float64(a.AsFloat()))))
	case bytecode.OpTan:
		result = bytecode.MakeFloat(float32(math.Tan(float64(a.AsFloat()))))
	default:
		return
	}

	vm.stack[vm.sp-1] = result
}

func (vm *VM) handleComparison(instr bytecode.Instruction) {
	a, b, ok := vm.popTwo()
	if !ok {
		return
	}

	// Comparison results follow the error-code convention: integer 0 means
	// the relation holds, 1 means it does not. JUMP_IF branches on non-zero,
	// so an if-condition jumps over its then-body exactly when false.
	if vm.performComparison(a, b, instr.Opcode) {
		vm.push(bytecode.MakeInt(0))
	} else {
		vm.push(bytecode.MakeInt(1))
	}
}

func (vm *VM) handlePrintNum(instr bytecode.Instruction) {
	val, ok := vm.peek()
	if !ok {
		return
	}

	switch val.Type {
	case bytecode.TypeInt:
		vm.println(strconv.FormatInt(int64(val.Int), 10))
	case bytecode.TypeFloat:
		vm.println(strconv.FormatFloat(float64(val.Float), 'f', 2, 32))
	case bytecode.TypeString:
		if uint32(val.Str) >= uint32(len(vm.strings)) {
			vm.fatal("ERROR: Invalid string index")
			return
		}
		vm.println(vm.strings[val.Str])
	case bytecode.TypeBool:
		if val.Bool {
			vm.println("true")
		} else {
			vm.println("false")
		}
	}
}

func (vm *VM) handleStore(instr bytecode.Instruction) {
	if instr.Arg1 >= uint32(len(vm.strings)) {
		vm.fatal("ERROR: Invalid variable name index in STORE")
		return
	}
	value, ok := vm.pop()
	if !ok {
		return
	}
	vm.variables[vm.strings[instr.Arg1]] = value
}

func (vm *VM) handleLoad(instr bytecode.Instruction) {
	if instr.Arg1 >= uint32(len(vm.strings)) {
		vm.fatal("ERROR: Invalid variable name index in LOAD")
		return
	}
	name := vm.strings[instr.Arg1]
	if value, ok := vm.variables[name]; ok {
		vm.push(value)
		return
	}
	vm.println("ERROR: Variable not found: " + name)
	vm.push(bytecode.MakeInt(0))
}

func (vm *VM) handleJump(instr bytecode.Instruction) {
	if instr.Arg1 >= uint32(len(vm.program)) {
		vm.fatal("ERROR: Jump to invalid address")
		return
	}
	vm.pc = instr.Arg1
}

func (vm *VM) handleJumpIf(instr bytecode.Instruction) {
	cond, ok := vm.pop()
	if !ok {
		return
	}

	truthy := false
	switch cond.Type {
	case bytecode.TypeInt:
		truthy = cond.Int != 0
	case bytecode.TypeFloat:
		truthy = cond.Float != 0
	case bytecode.TypeString:
		truthy = vm.stringAt(uint32(cond.Str)) != ""
	case bytecode.TypeBool:
		truthy = cond.Bool
	}

	if truthy && instr.Arg1 < uint32(len(vm.program)) {
		vm.pc = instr.Arg1
	}
}

func (vm *VM) handleInput(instr bytecode.Instruction) {
	if instr.Arg1 >= uint32(len(vm.strings)) {
		vm.fatal("ERROR: Invalid variable name index in INPUT")
		return
	}
	name := vm.strings[instr.Arg1]
	vm.println("INPUT " + name + ":")

	var raw string
	var got bool
	if vm.input != nil {
		raw, got = vm.input.ReadLine(InputTimeout, vm.cancel)
	}

	if !vm.running.Load() {
		// Stopped while waiting; report nothing.
		return
	}

	trimmed := strings.TrimSpace(raw)
	if !got || trimmed == "" {
		vm.println("TIMEOUT - using default value 0")
		vm.variables[name] = bytecode.MakeInt(0)
		return
	}

	lowered := strings.ToLower(trimmed)
	var value bytecode.Value
	switch {
	case isIntegerString(trimmed):
		value = bytecode.MakeInt(parseInt32(trimmed))
	case isFloatString(trimmed):
		value = bytecode.MakeFloat(parseFloat32(trimmed))
	case lowered == "true" || lowered == "false":
		value = bytecode.MakeBool(lowered == "true")
	default:
		value = bytecode.MakeString(vm.addString(trimmed))
	}

	vm.variables[name] = value
	vm.println("-> " + trimmed)
}

func (vm *VM) handleHalt(instr bytecode.Instruction) {
	vm.running.Store(false)
	vm.state = StateHalted
}
