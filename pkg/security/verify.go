package security

import (
	"errors"
	"fmt"

	"github.com/vlplay/xeno/pkg/bytecode"
)

// Load-time ceilings enforced by the verifier. These are stricter than the
// artifact's own capacity limits and are not configurable.
const (
	VerifyMaxInstructions = 10000
	VerifyMaxStrings      = 1000

	// VerifyMaxDelayMillis caps a single DELAY immediate.
	VerifyMaxDelayMillis = 60000

	// haltExemptSize: programs at or below this length may omit HALT.
	haltExemptSize = 10
)

// VerifyProgram performs the whole-artifact load-time check that makes
// every subsequent runtime step's safety predicates hold by construction.
// It must run against the sanitized string table the VM will actually use.
// The checks run in the documented order; the first failure is reported
// through diag and returned. Verification never executes the program.
func VerifyProgram(p *bytecode.Program, pol *Policy, diag DiagFunc) error {
	report := func(format string, args ...any) error {
		line := fmt.Sprintf(format, args...)
		if diag != nil {
			diag(line)
		}
		return errors.New(line)
	}

	if len(p.Instructions) > VerifyMaxInstructions {
		return report("SECURITY: Program too large")
	}

	if len(p.Strings) > VerifyMaxStrings {
		return report("SECURITY: String table too large")
	}

	for i, instr := range p.Instructions {
		if !instr.Opcode.IsDocumented() {
			return report("SECURITY: Invalid opcode at instruction %d", i)
		}

		if instr.Opcode.IsJump() {
			if instr.Arg1 >= uint32(len(p.Instructions)) {
				return report("SECURITY: Invalid jump target at instruction %d", i)
			}
		}

		if instr.Opcode.UsesStringIndex() {
			if instr.Arg1 >= uint32(len(p.Strings)) {
				return report("SECURITY: Invalid string index at instruction %d", i)
			}
		}

		if instr.Opcode == bytecode.OpLedOn || instr.Opcode == bytecode.OpLedOff {
			if instr.Arg1 > MaxPinNumber || !pol.IsPinAllowed(uint8(instr.Arg1)) {
				return report("SECURITY: Unauthorized pin access at instruction %d", i)
			}
		}

		if instr.Opcode == bytecode.OpDelay {
			if instr.Arg1 > VerifyMaxDelayMillis {
				return report("SECURITY: Excessive delay at instruction %d", i)
			}
		}
	}

	if len(p.Instructions) > haltExemptSize && !hasHalt(p) {
		return report("SECURITY: Program missing HALT instruction")
	}

	return nil
}

func hasHalt(p *bytecode.Program) bool {
	for _, instr := range p.Instructions {
		if instr.Opcode == bytecode.OpHalt {
			return true
		}
	}
	return false
}
