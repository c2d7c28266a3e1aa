package vm

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/vlplay/xeno/pkg/bytecode"
)

// dumpStackDisplayLimit caps how many stack slots a state dump shows.
const dumpStackDisplayLimit = 10

// DumpState writes the VM state to the text sink: program counter, stack
// pointer, the first few stack entries with their type tags, then the
// variable environment in name order.
func (vm *VM) DumpState() {
	var sb strings.Builder

	sb.WriteString("\n=== VM State ===\n")
	fmt.Fprintf(&sb, "Program Counter: %d\n", vm.pc)
	fmt.Fprintf(&sb, "Stack Pointer: %d\n", vm.sp)
	fmt.Fprintf(&sb, "Max Stack Size: %d\n", len(vm.stack))

	sb.WriteString("Stack: [\n")
	for i := 0; i < vm.sp && i < dumpStackDisplayLimit; i++ {
		fmt.Fprintf(&sb, "  %d: %s\n", i, vm.describeValue(vm.stack[i]))
	}
	if vm.sp > dumpStackDisplayLimit {
		sb.WriteString("  ...\n")
	}
	sb.WriteString("]\n")

	sb.WriteString("Variables: {\n")
	names := make([]string, 0, len(vm.variables))
	for name := range vm.variables {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&sb, "  %s: %s\n", name, vm.describeValue(vm.variables[name]))
	}
	sb.WriteString("}")

	vm.println(sb.String())
	vm.println("")
}

func (vm *VM) describeValue(v bytecode.Value) string {
	switch v.Type {
	case bytecode.TypeInt:
		return "INT " + strconv.FormatInt(int64(v.Int), 10)
	case bytecode.TypeFloat:
		return "FLOAT " + strconv.FormatFloat(float64(v.Float), 'f', 4, 32)
	case bytecode.TypeString:
		return fmt.Sprintf("STRING %q", vm.stringAt(uint32(v.Str)))
	case bytecode.TypeBool:
		if v.Bool {
			return "BOOL true"
		}
		return "BOOL false"
	}
	return v.Type.String()
}

// Disassemble writes the loaded program's listing to the text sink.
func (vm *VM) Disassemble() {
	p := &bytecode.Program{Instructions: vm.program, Strings: vm.strings}
	out := p.Disassemble("Disassembly", true)
	vm.println(strings.TrimSuffix(out, "\n"))
}

// Input-line classification for the input opcode. First match in the order
// integer, float, boolean, string decides the bound type. Parsing is
// explicit and fallible; a shape match that fails to parse binds zero.

func isIntegerString(s string) bool {
	if s == "" {
		return false
	}
	start := 0
	if s[0] == '-' {
		start = 1
	}
	if start == len(s) {
		return false
	}
	for i := start; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	_, err := strconv.ParseInt(s, 10, 32)
	return err == nil
}

func isFloatString(s string) bool {
	if s == "" {
		return false
	}
	hasDecimal := false
	start := 0
	if s[0] == '-' {
		start = 1
	}
	for i := start; i < len(s); i++ {
		if s[i] == '.' {
			if hasDecimal {
				return false
			}
			hasDecimal = true
		} else if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return hasDecimal
}

func parseInt32(s string) int32 {
	v, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0
	}
	return int32(v)
}

func parseFloat32(s string) float32 {
	v, err := strconv.ParseFloat(s, 32)
	if err != nil {
		return 0
	}
	return float32(v)
}
