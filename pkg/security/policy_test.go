package security

import (
	"strings"
	"testing"
)

func TestPolicyDefaults(t *testing.T) {
	p := NewPolicy()

	if p.MaxStringLength() != 256 {
		t.Errorf("MaxStringLength = %d, want 256", p.MaxStringLength())
	}
	if p.MaxVariableNameLength() != 32 {
		t.Errorf("MaxVariableNameLength = %d, want 32", p.MaxVariableNameLength())
	}
	if p.MaxExpressionDepth() != 32 {
		t.Errorf("MaxExpressionDepth = %d, want 32", p.MaxExpressionDepth())
	}
	if p.MaxLoopDepth() != 16 || p.MaxIfDepth() != 16 {
		t.Error("loop/if depth defaults should be 16")
	}
	if p.MaxStackSize() != 256 {
		t.Errorf("MaxStackSize = %d, want 256", p.MaxStackSize())
	}
	if p.MaxInstructions() != 10000 {
		t.Errorf("MaxInstructions = %d, want 10000", p.MaxInstructions())
	}
	if pins := p.AllowedPins(); len(pins) != 1 || pins[0] != 13 {
		t.Errorf("AllowedPins = %v, want [13]", pins)
	}
}

func TestSetterRangeChecks(t *testing.T) {
	cases := []struct {
		name    string
		set     func(p *Policy, v uint32) bool
		get     func(p *Policy) uint32
		low     uint32
		high    uint32
		initial uint32
	}{
		{
			"string length",
			func(p *Policy, v uint32) bool { return p.SetMaxStringLength(uint16(v)) },
			func(p *Policy) uint32 { return uint32(p.MaxStringLength()) },
			1, 4096, 256,
		},
		{
			"variable name length",
			func(p *Policy, v uint32) bool { return p.SetMaxVariableNameLength(uint16(v)) },
			func(p *Policy) uint32 { return uint32(p.MaxVariableNameLength()) },
			1, 256, 32,
		},
		{
			"expression depth",
			func(p *Policy, v uint32) bool { return p.SetMaxExpressionDepth(uint16(v)) },
			func(p *Policy) uint32 { return uint32(p.MaxExpressionDepth()) },
			1, 256, 32,
		},
		{
			"loop depth",
			func(p *Policy, v uint32) bool { return p.SetMaxLoopDepth(uint16(v)) },
			func(p *Policy) uint32 { return uint32(p.MaxLoopDepth()) },
			1, 64, 16,
		},
		{
			"if depth",
			func(p *Policy, v uint32) bool { return p.SetMaxIfDepth(uint16(v)) },
			func(p *Policy) uint32 { return uint32(p.MaxIfDepth()) },
			1, 64, 16,
		},
		{
			"stack size",
			func(p *Policy, v uint32) bool { return p.SetMaxStackSize(uint16(v)) },
			func(p *Policy) uint32 { return uint32(p.MaxStackSize()) },
			16, 2048, 256,
		},
		{
			"instructions",
			func(p *Policy, v uint32) bool { return p.SetMaxInstructions(v) },
			func(p *Policy) uint32 { return p.MaxInstructions() },
			1000, 1000000, 10000,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := NewPolicy()

			if !tc.set(p, tc.low) {
				t.Errorf("minimum %d rejected", tc.low)
			}
			if !tc.set(p, tc.high) {
				t.Errorf("maximum %d rejected", tc.high)
			}

			// Rejection must preserve the previous value.
			tc.set(p, tc.initial)
			if tc.low > 0 && tc.set(p, tc.low-1) {
				t.Errorf("below-minimum %d accepted", tc.low-1)
			}
			if tc.set(p, tc.high+1) {
				t.Errorf("above-maximum %d accepted", tc.high+1)
			}
			if got := tc.get(p); got != tc.initial {
				t.Errorf("value after rejected sets = %d, want %d", got, tc.initial)
			}
		})
	}
}

func TestSetterEmitsDiagnostic(t *testing.T) {
	p := NewPolicy()
	var lines []string
	p.SetDiag(func(line string) { lines = append(lines, line) })

	p.SetMaxStackSize(4)

	if len(lines) != 1 || !strings.HasPrefix(lines[0], "SECURITY: MAX_STACK_SIZE must be between") {
		t.Errorf("diagnostic = %v", lines)
	}
}

func TestAllowedPins(t *testing.T) {
	p := NewPolicy()

	if !p.SetAllowedPins([]uint8{2, 13, 255, 0}) {
		t.Fatal("valid pin list rejected")
	}
	for _, pin := range []uint8{2, 13, 255, 0} {
		if !p.IsPinAllowed(pin) {
			t.Errorf("pin %d should be allowed", pin)
		}
	}
	if p.IsPinAllowed(7) {
		t.Error("pin 7 should not be allowed")
	}

	// The returned slice is a copy; mutating it must not affect the policy.
	pins := p.AllowedPins()
	pins[0] = 99
	if p.IsPinAllowed(99) {
		t.Error("policy shares its pin slice with callers")
	}
}

func TestValidateConfig(t *testing.T) {
	p := NewPolicy()
	if !p.Validate() {
		t.Error("default policy should validate")
	}
}

func TestLimitsInfo(t *testing.T) {
	info := NewPolicy().LimitsInfo()

	for _, want := range []string{
		"Security Limits:",
		"String Length: 1 - 4096",
		"Variable Name: 1 - 256",
		"Expression Depth: 1 - 256",
		"Loop Depth: 1 - 64",
		"If Depth: 1 - 64",
		"Stack Size: 16 - 2048",
		"Instructions: 1000 - 1000000",
		"Pin Numbers: 0 - 255",
	} {
		if !strings.Contains(info, want) {
			t.Errorf("LimitsInfo missing %q:\n%s", want, info)
		}
	}
}
