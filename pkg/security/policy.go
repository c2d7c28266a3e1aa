// Package security holds the validated resource policy, the string
// sanitizer, and the load-time bytecode verifier. The policy has a single
// owner (the language facade); the compiler and VM read it through a shared
// pointer and never mutate it.
package security

import (
	"fmt"
	"strings"
)

// Compile-time bounds on every tunable. Setters range-check against these;
// they are not themselves configurable.
const (
	MinStringLength      = 1
	MaxStringLengthLimit = 4096

	MinVariableNameLength      = 1
	MaxVariableNameLengthLimit = 256

	MinExpressionDepth      = 1
	MaxExpressionDepthLimit = 256

	MinLoopDepth      = 1
	MaxLoopDepthLimit = 64

	MinIfDepth      = 1
	MaxIfDepthLimit = 64

	MinStackSize      = 16
	MaxStackSizeLimit = 2048

	MinInstructionsLimit = 1000
	MaxInstructionsLimit = 1000000

	MinPinNumber = 0
	MaxPinNumber = 255
)

// Defaults applied by NewPolicy.
const (
	DefaultMaxStringLength       = 256
	DefaultMaxVariableNameLength = 32
	DefaultMaxExpressionDepth    = 32
	DefaultMaxLoopDepth          = 16
	DefaultMaxIfDepth            = 16
	DefaultMaxStackSize          = 256
	DefaultMaxInstructions       = 10000
)

// DefaultPin is the only pin allowed out of the box.
const DefaultPin = 13

// DiagFunc receives single-line diagnostics ("SECURITY: ..."). The facade
// routes it to the process text sink.
type DiagFunc func(line string)

// Policy is the value object holding all resource tunables. Each setter
// validates its argument and reports failure without mutating state.
type Policy struct {
	maxStringLength       uint16
	maxVariableNameLength uint16
	maxExpressionDepth    uint16
	maxLoopDepth          uint16
	maxIfDepth            uint16
	maxStackSize          uint16
	maxInstructions       uint32
	allowedPins           []uint8

	diag DiagFunc
}

// NewPolicy returns a policy with the documented defaults and pin 13 as the
// only allowed pin.
func NewPolicy() *Policy {
	return &Policy{
		maxStringLength:       DefaultMaxStringLength,
		maxVariableNameLength: DefaultMaxVariableNameLength,
		maxExpressionDepth:    DefaultMaxExpressionDepth,
		maxLoopDepth:          DefaultMaxLoopDepth,
		maxIfDepth:            DefaultMaxIfDepth,
		maxStackSize:          DefaultMaxStackSize,
		maxInstructions:       DefaultMaxInstructions,
		allowedPins:           []uint8{DefaultPin},
	}
}

// SetDiag routes policy diagnostics to the given sink.
func (p *Policy) SetDiag(diag DiagFunc) { p.diag = diag }

func (p *Policy) report(format string, args ...any) {
	if p.diag != nil {
		p.diag(fmt.Sprintf(format, args...))
	}
}

func (p *Policy) validateLimit(value, minVal, maxVal uint32, param string) bool {
	if value < minVal || value > maxVal {
		p.report("SECURITY: %s must be between %d and %d", param, minVal, maxVal)
		return false
	}
	return true
}

// MaxStringLength returns the current string-length ceiling.
func (p *Policy) MaxStringLength() uint16 { return p.maxStringLength }

// MaxVariableNameLength returns the current identifier-length ceiling.
func (p *Policy) MaxVariableNameLength() uint16 { return p.maxVariableNameLength }

// MaxExpressionDepth returns the function-rewrite recursion ceiling.
func (p *Policy) MaxExpressionDepth() uint16 { return p.maxExpressionDepth }

// MaxLoopDepth returns the for-nesting ceiling.
func (p *Policy) MaxLoopDepth() uint16 { return p.maxLoopDepth }

// MaxIfDepth returns the if-nesting ceiling.
func (p *Policy) MaxIfDepth() uint16 { return p.maxIfDepth }

// MaxStackSize returns the VM value-stack capacity.
func (p *Policy) MaxStackSize() uint16 { return p.maxStackSize }

// MaxInstructions returns the per-execution instruction ceiling.
func (p *Policy) MaxInstructions() uint32 { return p.maxInstructions }

// AllowedPins returns a copy of the pin allow-list.
func (p *Policy) AllowedPins() []uint8 {
	pins := make([]uint8, len(p.allowedPins))
	copy(pins, p.allowedPins)
	return pins
}

// SetMaxStringLength range-checks and applies the string-length ceiling.
func (p *Policy) SetMaxStringLength(length uint16) bool {
	if !p.validateLimit(uint32(length), MinStringLength, MaxStringLengthLimit, "MAX_STRING_LENGTH") {
		return false
	}
	p.maxStringLength = length
	return true
}

// SetMaxVariableNameLength range-checks and applies the identifier ceiling.
func (p *Policy) SetMaxVariableNameLength(length uint16) bool {
	if !p.validateLimit(uint32(length), MinVariableNameLength, MaxVariableNameLengthLimit, "MAX_VARIABLE_NAME_LENGTH") {
		return false
	}
	p.maxVariableNameLength = length
	return true
}

// SetMaxExpressionDepth range-checks and applies the rewrite-depth ceiling.
func (p *Policy) SetMaxExpressionDepth(depth uint16) bool {
	if !p.validateLimit(uint32(depth), MinExpressionDepth, MaxExpressionDepthLimit, "MAX_EXPRESSION_DEPTH") {
		return false
	}
	p.maxExpressionDepth = depth
	return true
}

// SetMaxLoopDepth range-checks and applies the loop-nesting ceiling.
func (p *Policy) SetMaxLoopDepth(depth uint16) bool {
	if !p.validateLimit(uint32(depth), MinLoopDepth, MaxLoopDepthLimit, "MAX_LOOP_DEPTH") {
		return false
	}
	p.maxLoopDepth = depth
	return true
}

// SetMaxIfDepth range-checks and applies the if-nesting ceiling.
func (p *Policy) SetMaxIfDepth(depth uint16) bool {
	if !p.validateLimit(uint32(depth), MinIfDepth, MaxIfDepthLimit, "MAX_IF_DEPTH") {
		return false
	}
	p.maxIfDepth = depth
	return true
}

// SetMaxStackSize range-checks and applies the stack capacity.
func (p *Policy) SetMaxStackSize(size uint16) bool {
	if !p.validateLimit(uint32(size), MinStackSize, MaxStackSizeLimit, "MAX_STACK_SIZE") {
		return false
	}
	p.maxStackSize = size
	return true
}

// SetMaxInstructions range-checks and applies the instruction ceiling.
func (p *Policy) SetMaxInstructions(maxInstr uint32) bool {
	if maxInstr < MinInstructionsLimit || maxInstr > MaxInstructionsLimit {
		p.report("SECURITY: max_instructions must be between %d and %d",
			MinInstructionsLimit, MaxInstructionsLimit)
		return false
	}
	p.maxInstructions = maxInstr
	return true
}

// SetAllowedPins replaces the pin allow-list. The whole list is rejected if
// any entry is out of range.
func (p *Policy) SetAllowedPins(pins []uint8) bool {
	for _, pin := range pins {
		if int(pin) < MinPinNumber || int(pin) > MaxPinNumber {
			p.report("SECURITY: Invalid pin number (%d). Must be between %d and %d",
				pin, MinPinNumber, MaxPinNumber)
			return false
		}
	}
	p.allowedPins = make([]uint8, len(pins))
	copy(p.allowedPins, pins)
	return true
}

// IsPinAllowed reports whether the pin is on the allow-list.
func (p *Policy) IsPinAllowed(pin uint8) bool {
	for _, allowed := range p.allowedPins {
		if pin == allowed {
			return true
		}
	}
	return false
}

// Validate re-runs every setter against the current state on a scratch
// copy; it must succeed for a configuration to be considered coherent.
func (p *Policy) Validate() bool {
	tmp := &Policy{diag: p.diag}
	return tmp.SetMaxStringLength(p.maxStringLength) &&
		tmp.SetMaxVariableNameLength(p.maxVariableNameLength) &&
		tmp.SetMaxExpressionDepth(p.maxExpressionDepth) &&
		tmp.SetMaxLoopDepth(p.maxLoopDepth) &&
		tmp.SetMaxIfDepth(p.maxIfDepth) &&
		tmp.SetMaxStackSize(p.maxStackSize) &&
		tmp.SetMaxInstructions(p.maxInstructions) &&
		tmp.SetAllowedPins(p.allowedPins)
}

// LimitsInfo returns the multi-line summary of the compile-time bounds.
func (p *Policy) LimitsInfo() string {
	var sb strings.Builder
	sb.Grow(256)
	sb.WriteString("Security Limits:\n")
	fmt.Fprintf(&sb, "String Length: %d - %d\n", MinStringLength, MaxStringLengthLimit)
	fmt.Fprintf(&sb, "Variable Name: %d - %d\n", MinVariableNameLength, MaxVariableNameLengthLimit)
	fmt.Fprintf(&sb, "Expression Depth: %d - %d\n", MinExpressionDepth, MaxExpressionDepthLimit)
	fmt.Fprintf(&sb, "Loop Depth: %d - %d\n", MinLoopDepth, MaxLoopDepthLimit)
	fmt.Fprintf(&sb, "If Depth: %d - %d\n", MinIfDepth, MaxIfDepthLimit)
	fmt.Fprintf(&sb, "Stack Size: %d - %d\n", MinStackSize, MaxStackSizeLimit)
	fmt.Fprintf(&sb, "Instructions: %d - %d\n", MinInstructionsLimit, MaxInstructionsLimit)
	fmt.Fprintf(&sb, "Pin Numbers: %d - %d", MinPinNumber, MaxPinNumber)
	return sb.String()
}
