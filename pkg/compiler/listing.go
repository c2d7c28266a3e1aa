package compiler

import (
	"fmt"
	"strings"

	"github.com/vlplay/xeno/pkg/bytecode"
)

// Listing returns the compiled-code dump: the string table followed by the
// bytecode. Unlike the VM disassembly, PRINT shows its raw table index and
// STORE/LOAD/INPUT resolve to the variable name.
func (c *Compiler) Listing() string {
	var sb strings.Builder

	sb.WriteString("=== Compiled Xeno Program ===\n")
	sb.WriteString("String table:\n")
	for i, s := range c.program.Strings {
		fmt.Fprintf(&sb, "  %d: %q\n", i, s)
	}

	sb.WriteString("Bytecode:\n")
	for i, instr := range c.program.Instructions {
		fmt.Fprintf(&sb, "  %d: %s\n", i, c.formatListing(instr))
	}

	return sb.String()
}

func (c *Compiler) formatListing(instr bytecode.Instruction) string {
	name := instr.Opcode.String()

	switch instr.Opcode {
	case bytecode.OpPrint, bytecode.OpLedOn, bytecode.OpLedOff,
		bytecode.OpDelay, bytecode.OpJump, bytecode.OpJumpIf:
		return fmt.Sprintf("%s %d", name, instr.Arg1)
	case bytecode.OpPush:
		return fmt.Sprintf("%s %d", name, int32(instr.Arg1))
	case bytecode.OpPushFloat:
		return fmt.Sprintf("%s %.4f", name, bytecode.FloatFromBits(instr.Arg1))
	case bytecode.OpPushBool:
		if instr.Arg1 != 0 {
			return name + " true"
		}
		return name + " false"
	case bytecode.OpPushString:
		if s, ok := c.program.StringAt(instr.Arg1); ok {
			return fmt.Sprintf("%s \"%s\"", name, s)
		}
		return name + " <invalid>"
	case bytecode.OpStore, bytecode.OpLoad, bytecode.OpInput:
		if s, ok := c.program.StringAt(instr.Arg1); ok {
			return name + " " + s
		}
		return name + " <invalid>"
	}

	return name
}
