package xeno

import (
	"strings"
	"testing"
)

type recordSink struct {
	lines []string
}

func (r *recordSink) WriteLine(line string) { r.lines = append(r.lines, line) }

func (r *recordSink) contains(want string) bool {
	for _, line := range r.lines {
		if line == want {
			return true
		}
	}
	return false
}

// programOutput filters diagnostics, keeping plain program output in order.
func (r *recordSink) programOutput() []string {
	var out []string
	for _, line := range r.lines {
		if strings.HasPrefix(line, "ERROR:") || strings.HasPrefix(line, "WARNING:") ||
			strings.HasPrefix(line, "SECURITY:") || strings.HasPrefix(line, "CRITICAL ERROR:") {
			continue
		}
		out = append(out, line)
	}
	return out
}

func newTestEngine(t *testing.T) (*Engine, *recordSink) {
	t.Helper()
	e := NewEngine()
	sink := &recordSink{}
	e.SetTextSink(sink)
	return e, sink
}

func runSource(t *testing.T, source string) (*Engine, *recordSink) {
	t.Helper()
	e, sink := newTestEngine(t)
	if !e.Compile(source) {
		t.Fatalf("compile failed: %v", sink.lines)
	}
	e.Run(true)
	return e, sink
}

func TestScenarioPrintLiteral(t *testing.T) {
	_, sink := runSource(t, "print \"hello\"\nhalt")

	if len(sink.lines) != 1 || sink.lines[0] != "hello" {
		t.Errorf("output = %v, want [hello]", sink.lines)
	}
}

func TestScenarioSignedArithmetic(t *testing.T) {
	e, sink := runSource(t, "set x 2 + 3 * 4\nprint $x\nhalt")

	if !sink.contains("14") {
		t.Errorf("output = %v, want 14", sink.lines)
	}
	if v, ok := e.VM().Variable("x"); !ok || v.Int != 14 {
		t.Errorf("x = %+v, want int 14", v)
	}
}

func TestScenarioBranchPolarity(t *testing.T) {
	_, sink := runSource(t,
		"set a 1\nif a == 1 then\nprint \"yes\"\nelse\nprint \"no\"\nendif\nhalt")

	if !sink.contains("yes") {
		t.Errorf("output = %v, want yes", sink.lines)
	}
	if sink.contains("no") {
		t.Errorf("output = %v, else branch must not run", sink.lines)
	}
}

func TestScenarioCountedLoop(t *testing.T) {
	e, sink := runSource(t, "for i = 1 to 3\nprint $i\nendfor\nhalt")

	got := sink.programOutput()
	want := []string{"1", "2", "3"}
	if len(got) != len(want) {
		t.Fatalf("output = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("output = %v, want %v", got, want)
		}
	}

	if v, ok := e.VM().Variable("i"); !ok || v.Int != 4 {
		t.Errorf("i = %+v, want int 4 after loop", v)
	}
}

func TestScenarioOverflowSafety(t *testing.T) {
	e, sink := runSource(t, "set a 2147483647\nset b a + 1\nprint $b\nhalt")

	if !sink.contains("ERROR: Integer overflow in addition") {
		t.Errorf("output = %v, want overflow diagnostic", sink.lines)
	}
	if !sink.contains("0") {
		t.Errorf("output = %v, want printed 0", sink.lines)
	}
	if e.VM().State().String() != "halted" {
		t.Errorf("state = %v, VM must finish via HALT", e.VM().State())
	}
}

func TestScenarioUnauthorizedPin(t *testing.T) {
	e, sink := newTestEngine(t)
	if !e.Compile("led 42 on\nhalt") {
		t.Fatalf("compile failed: %v", sink.lines)
	}

	if e.Run(true) {
		t.Error("run should fail verification")
	}
	if !sink.contains("SECURITY: Unauthorized pin access at instruction 0") {
		t.Errorf("output = %v", sink.lines)
	}
	for _, line := range sink.lines {
		if strings.HasPrefix(line, "LED ON") {
			t.Error("no pin output may be produced")
		}
	}
	if e.VM().State().String() != "faulted" {
		t.Errorf("state = %v, want faulted", e.VM().State())
	}
}

func TestScenarioEnqueuedInput(t *testing.T) {
	e, sink := newTestEngine(t)
	if !e.Compile("input x\nhalt") {
		t.Fatal("compile failed")
	}

	e.Input().Push("3.14")
	e.Run(true)

	if !sink.contains("-> 3.14") {
		t.Errorf("output = %v, want echo", sink.lines)
	}
	v, ok := e.VM().Variable("x")
	if !ok || v.Type.String() != "FLOAT" || v.Float != 3.14 {
		t.Errorf("x = %+v, want float 3.14", v)
	}
}

func TestCompileReportsErrors(t *testing.T) {
	e, _ := newTestEngine(t)

	if e.Compile("set 9bad 1\nhalt") {
		t.Error("compile with an invalid identifier should report failure")
	}
	if !e.Compile("print \"fine\"\nhalt") {
		t.Error("clean source should compile")
	}
	if !e.Compile("frobnicate\nhalt") {
		t.Error("warnings alone should not fail a compile")
	}
}

func TestCompileAndRun(t *testing.T) {
	e, sink := newTestEngine(t)
	if !e.CompileAndRun("print \"combined\"\nhalt", true) {
		t.Fatal("CompileAndRun failed")
	}
	if !sink.contains("combined") {
		t.Errorf("output = %v", sink.lines)
	}
}

func TestStopInvariants(t *testing.T) {
	e, _ := newTestEngine(t)
	e.Compile("push 1\npush 2\nhalt")
	e.Run(true)

	e.Stop()
	if e.IsRunning() {
		t.Error("IsRunning after Stop")
	}
	if e.VM().PC() != 0 || e.VM().SP() != 0 {
		t.Error("Stop must reset PC and stack pointer")
	}
}

func TestPolicySettersThroughFacade(t *testing.T) {
	e, sink := newTestEngine(t)

	if !e.SetMaxInstructions(5000) {
		t.Error("valid max instructions rejected")
	}
	if e.SetMaxInstructions(1) {
		t.Error("out-of-range max instructions accepted")
	}
	if !sink.contains("SECURITY: max_instructions must be between 1000 and 1000000") {
		t.Errorf("output = %v", sink.lines)
	}
	if e.MaxInstructions() != 5000 {
		t.Errorf("MaxInstructions = %d, want 5000", e.MaxInstructions())
	}

	if !e.SetAllowedPins([]uint8{2, 4}) {
		t.Error("valid pin list rejected")
	}
	if !e.ValidateConfig() {
		t.Error("coherent config should validate")
	}
}

func TestSecurityLimitsInfo(t *testing.T) {
	e, _ := newTestEngine(t)
	if !strings.Contains(e.SecurityLimitsInfo(), "Security Limits:") {
		t.Error("limits info missing header")
	}
}

func TestVersionMetadata(t *testing.T) {
	if LanguageName != "Xeno Language" || LanguageVersion == "" || LanguageDate == "" {
		t.Error("language metadata incomplete")
	}
	if VMName == "" || CompilerName == "" {
		t.Error("component metadata incomplete")
	}
}

func TestDisassembleThroughFacade(t *testing.T) {
	e, sink := newTestEngine(t)
	e.Compile("print \"d\"\nhalt")
	e.Run(true)

	e.Disassemble()
	joined := strings.Join(sink.lines, "\n")
	if !strings.Contains(joined, "=== Disassembly ===") {
		t.Errorf("disassembly missing header:\n%s", joined)
	}
	if !strings.Contains(joined, "1: HALT") {
		t.Errorf("disassembly missing instruction:\n%s", joined)
	}
}

func TestPrintCompiledCodeThroughFacade(t *testing.T) {
	e, sink := newTestEngine(t)
	e.Compile("print \"c\"\nhalt")

	e.PrintCompiledCode()
	joined := strings.Join(sink.lines, "\n")
	if !strings.Contains(joined, "=== Compiled Xeno Program ===") {
		t.Errorf("listing missing header:\n%s", joined)
	}
}
