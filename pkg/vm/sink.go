// Package vm implements the sandboxed stack virtual machine that executes
// verified Xeno bytecode under the resource bounds of a security policy.
//
// All observable effects flow through injected sinks and sources: a
// TextSink for program output and diagnostics, a PinSink for digital pin
// side effects, and an InputSource for the input opcode. The test harness
// supplies deterministic stubs; the host supplies the real ones.
package vm

import (
	"fmt"
	"os"
)

// TextSink receives all program-visible text, one line at a time. The sink
// appends the line terminator itself. Thread-safety is the host's concern.
type TextSink interface {
	WriteLine(line string)
}

// StdoutSink writes lines to standard output with per-line flush semantics.
type StdoutSink struct{}

// WriteLine implements TextSink.
func (StdoutSink) WriteLine(line string) {
	fmt.Fprintln(os.Stdout, line)
}

// FuncSink adapts a function to the TextSink interface.
type FuncSink func(line string)

// WriteLine implements TextSink.
func (f FuncSink) WriteLine(line string) { f(line) }

// PinMode selects the direction of a digital pin.
type PinMode uint8

const (
	// PinInput configures a pin for reading.
	PinInput PinMode = iota
	// PinOutput configures a pin for driving.
	PinOutput
)

// PinSink is the capability-checked back-end receiving digital pin side
// effects. The VM only calls it for pins the policy allows, and only after
// the verifier has already vetted the program's pin immediates.
type PinSink interface {
	SetPinMode(pin uint8, mode PinMode)
	SetPin(pin uint8, high bool)
}

// NullPinSink discards all pin operations. Used when no hardware back-end
// is attached.
type NullPinSink struct{}

// SetPinMode implements PinSink.
func (NullPinSink) SetPinMode(pin uint8, mode PinMode) {}

// SetPin implements PinSink.
func (NullPinSink) SetPin(pin uint8, high bool) {}
