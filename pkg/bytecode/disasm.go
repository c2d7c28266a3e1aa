package bytecode

import (
	"fmt"
	"strconv"
	"strings"
)

// Disassemble returns a human-readable listing of the program, one
// instruction per line as "<index>: <mnemonic> [<operand>]". String-indexed
// operands are resolved against the string table: quoted for pushed
// literals, bare for variable and input names, "<invalid>" when the index
// is out of range.
func (p *Program) Disassemble(title string, showStrings bool) string {
	var sb strings.Builder

	sb.WriteString("=== " + title + " ===\n")

	if showStrings {
		sb.WriteString("String table:\n")
		for i, s := range p.Strings {
			fmt.Fprintf(&sb, "  %d: %q\n", i, s)
		}
		sb.WriteString("Bytecode:\n")
	} else {
		sb.WriteString("Instructions:\n")
	}

	for i, instr := range p.Instructions {
		sb.WriteString(strconv.Itoa(i))
		sb.WriteString(": ")
		sb.WriteString(p.formatInstruction(instr))
		sb.WriteByte('\n')
	}

	return sb.String()
}

func (p *Program) formatInstruction(instr Instruction) string {
	info := GetOpcodeInfo(instr.Opcode)

	switch info.Arg {
	case ArgNone:
		if !instr.Opcode.IsDocumented() {
			return fmt.Sprintf("UNKNOWN %d", byte(instr.Opcode))
		}
		return info.Name
	case ArgInt:
		return fmt.Sprintf("%s %d", info.Name, int32(instr.Arg1))
	case ArgFloat:
		return fmt.Sprintf("%s %.4f", info.Name, FloatFromBits(instr.Arg1))
	case ArgBool:
		if instr.Arg1 != 0 {
			return info.Name + " true"
		}
		return info.Name + " false"
	case ArgString:
		if s, ok := p.StringAt(instr.Arg1); ok {
			return fmt.Sprintf("%s \"%s\"", info.Name, s)
		}
		return info.Name + " <invalid>"
	case ArgName:
		if s, ok := p.StringAt(instr.Arg1); ok {
			return info.Name + " " + s
		}
		return info.Name + " <invalid>"
	case ArgPin:
		return fmt.Sprintf("%s pin=%d", info.Name, instr.Arg1)
	case ArgMillis:
		return fmt.Sprintf("%s %dms", info.Name, instr.Arg1)
	case ArgAddress:
		return fmt.Sprintf("%s %d", info.Name, instr.Arg1)
	}
	return info.Name
}
