package compiler

import (
	"strings"
	"testing"

	"github.com/vlplay/xeno/pkg/bytecode"
)

func TestSubstituteConstants(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"pi", "M_PI", "3.141592653589793"},
		{"pi in expression", "2 * M_PI", "2 * 3.141592653589793"},
		{"e", "M_E + 1", "2.718281828459045 + 1"},
		{"tau", "M_TAU", "6.283185307179586"},
		{"sqrt2", "M_SQRT2", "1.4142135623730951"},
		{"sqrt3", "M_SQRT3", "1.7320508075688772"},
		{"light speed", "P_LIGHT_SPEED", "299792458"},
		{"not isolated prefix", "M_PIE", "M_PIE"},
		{"not isolated suffix", "xM_PI", "xM_PI"},
		{"underscore neighbor", "M_PI_2", "M_PI_2"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := substituteConstants(tc.in); got != tc.want {
				t.Errorf("substituteConstants(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestRewriteFunctions(t *testing.T) {
	tc := newTestCompiler(t)

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"abs", "abs(5)", "[5]"},
		{"max", "max(1,2)", "{1,2}"},
		{"min", "min(1,2)", "|1,2|"},
		{"sqrt", "sqrt(9)", "~9~"},
		{"sin", "sin(0)", "#0#"},
		{"cos", "cos(0)", "@0@"},
		{"tan", "tan(0)", "&0&"},
		{"nested", "abs(max(1,2))", "[{1,2}]"},
		{"surrounded", "1 + abs(2) + 3", "1 + [2] + 3"},
		{"inner parens", "abs((1))", "[(1)]"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := tc.rewriteFunctions(c.in); got != c.want {
				t.Errorf("rewriteFunctions(%q) = %q, want %q", c.in, got, c.want)
			}
		})
	}
}

func TestFindMatchingParen(t *testing.T) {
	cases := []struct {
		expr  string
		start int
		want  int
	}{
		{"(1)", 0, 2},
		{"(1 + (2))", 0, 8},
		{"((2))", 1, 3},
		{"(open", 0, -1},
	}
	for _, tc := range cases {
		if got := findMatchingParen(tc.expr, tc.start); got != tc.want {
			t.Errorf("findMatchingParen(%q, %d) = %d, want %d", tc.expr, tc.start, got, tc.want)
		}
	}
}

func TestTokenizeExpression(t *testing.T) {
	tc := newTestCompiler(t)

	cases := []struct {
		name string
		in   string
		want []string
	}{
		{"arithmetic", "2 + 3 * 4", []string{"2", "+", "3", "*", "4"}},
		{"no spaces", "2+3*4", []string{"2", "+", "3", "*", "4"}},
		{"two char operators", "a<=b == c", []string{"a", "<=", "b", "==", "c"}},
		{"quoted string", `"a b" + x`, []string{`"a b"`, "+", "x"}},
		{"bracket token", "[1+2] + 3", []string{"[1+2]", "+", "3"}},
		{"parens", "(1 + 2) * 3", []string{"(", "1", "+", "2", ")", "*", "3"}},
		{"leading minus gets zero", "-3", []string{"0", "-", "3"}},
		{"leading minus in parens", "(-3)", []string{"(", "0", "-", "3", ")"}},
		{"binary minus untouched", "5 - 3", []string{"5", "-", "3"}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := tc.tokenizeExpression(c.in)
			if len(got) != len(c.want) {
				t.Fatalf("tokens = %v, want %v", got, c.want)
			}
			for i := range got {
				if got[i] != c.want[i] {
					t.Fatalf("tokens = %v, want %v", got, c.want)
				}
			}
		})
	}
}

func TestInfixToPostfix(t *testing.T) {
	tc := newTestCompiler(t)

	cases := []struct {
		name string
		in   []string
		want []string
	}{
		{"precedence", []string{"2", "+", "3", "*", "4"}, []string{"2", "3", "4", "*", "+"}},
		{"parens override", []string{"(", "2", "+", "3", ")", "*", "4"}, []string{"2", "3", "+", "4", "*"}},
		{"power right associative", []string{"2", "^", "3", "^", "2"}, []string{"2", "3", "2", "^", "^"}},
		{"comparison binds loosest", []string{"1", "+", "2", "==", "3"}, []string{"1", "2", "+", "3", "=="}},
		{"left associative subtraction", []string{"5", "-", "3", "-", "1"}, []string{"5", "3", "-", "1", "-"}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := tc.infixToPostfix(c.in)
			if len(got) != len(c.want) {
				t.Fatalf("postfix = %v, want %v", got, c.want)
			}
			for i := range got {
				if got[i] != c.want[i] {
					t.Fatalf("postfix = %v, want %v", got, c.want)
				}
			}
		})
	}
}

func TestCompileExpressionFunctions(t *testing.T) {
	cases := []struct {
		name string
		expr string
		last bytecode.Opcode
	}{
		{"abs", "abs(0 - 5)", bytecode.OpAbs},
		{"sqrt", "sqrt(16)", bytecode.OpSqrt},
		{"sin", "sin(0)", bytecode.OpSin},
		{"cos", "cos(0)", bytecode.OpCos},
		{"tan", "tan(0)", bytecode.OpTan},
		{"max", "max(1, 2)", bytecode.OpMax},
		{"min", "min(3, 4)", bytecode.OpMin},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			tc := newTestCompiler(t)
			tc.compileExpression(c.expr)
			p := tc.Program()
			if p.Len() == 0 {
				t.Fatal("no code emitted")
			}
			if got := p.Instructions[p.Len()-1].Opcode; got != c.last {
				t.Errorf("last opcode = %v, want %v", got, c.last)
			}
		})
	}
}

func TestCompileExpressionMaxMissingComma(t *testing.T) {
	tc := newTestCompiler(t)
	tc.compileExpression("max(5)")

	if !tc.hasDiag("ERROR: max function requires two arguments") {
		t.Errorf("diagnostics = %v", tc.diags)
	}
}

func TestCompileExpressionTooManyTokens(t *testing.T) {
	tc := newTestCompiler(t)
	parts := make([]string, 101)
	for i := range parts {
		parts[i] = "1"
	}
	tc.compileExpression(strings.Join(parts, " + "))

	if !tc.hasDiag("ERROR: Too many tokens in expression") {
		t.Errorf("diagnostics = %v", tc.diags)
	}
}

func TestCompileExpressionDepthLimited(t *testing.T) {
	tc := newTestCompiler(t)
	// The rewrite budget counts calls handled per pass; 33 sequential
	// calls exceed the default 32.
	parts := make([]string, 33)
	for i := range parts {
		parts[i] = "abs(1)"
	}
	tc.compileExpression(strings.Join(parts, " + "))

	if !tc.hasDiag("ERROR: Expression too complex") {
		t.Errorf("diagnostics = %v", tc.diags)
	}
}

func TestCompileExpressionStringLiteral(t *testing.T) {
	tc := newTestCompiler(t)
	tc.compileExpression(`"hello" + "!"`)

	p := tc.Program()
	want := []bytecode.Opcode{bytecode.OpPushString, bytecode.OpPushString, bytecode.OpAdd}
	if !sameOpcodes(opcodes(p), want) {
		t.Fatalf("opcodes = %v, want %v", opcodes(p), want)
	}
}

func TestCompileExpressionBooleans(t *testing.T) {
	tc := newTestCompiler(t)
	tc.compileExpression("true == false")

	p := tc.Program()
	want := []bytecode.Opcode{bytecode.OpPushBool, bytecode.OpPushBool, bytecode.OpEq}
	if !sameOpcodes(opcodes(p), want) {
		t.Fatalf("opcodes = %v, want %v", opcodes(p), want)
	}
	if p.Instructions[0].Arg1 != 1 || p.Instructions[1].Arg1 != 0 {
		t.Error("boolean immediates should be 1 and 0")
	}
}
