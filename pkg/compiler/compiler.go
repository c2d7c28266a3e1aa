// Package compiler lowers Xeno source text into stack bytecode. Compilation
// is single-pass and line-oriented: every line is parsed independently, and
// a bad line is diagnosed and skipped so later lines still produce code.
package compiler

import (
	"fmt"
	"strings"

	"github.com/vlplay/xeno/pkg/bytecode"
	"github.com/vlplay/xeno/pkg/security"
)

// maxLineLength rejects pathological single lines before any parsing.
const maxLineLength = 512

// loopFrame records an open for-loop while its body is being emitted.
// endfor pops the frame and back-patches the condition jump.
type loopFrame struct {
	varName      string
	startAddr    int
	condJumpAddr int
}

// Compiler holds the per-compilation state. Not safe for concurrent use;
// it takes no locks of its own.
type Compiler struct {
	policy *security.Policy
	out    func(line string)

	program *bytecode.Program

	// varTypes tracks the compile-time type of variables assigned literal
	// values. endfor consults it to pick an int or float increment.
	varTypes map[string]bytecode.ValueType

	// ifStack holds addresses of pending forward jumps awaiting endif/else.
	ifStack []int

	loopStack []loopFrame
}

// New returns a compiler reading limits from pol and writing diagnostics
// through out. The compiler never mutates the policy.
func New(pol *security.Policy, out func(string)) *Compiler {
	if out == nil {
		out = func(string) {}
	}
	return &Compiler{
		policy:  pol,
		out:     out,
		program: bytecode.NewProgram(),
	}
}

// Program returns the artifact produced by the last Compile call.
func (c *Compiler) Program() *bytecode.Program { return c.program }

// Compile translates source text into bytecode. All prior compilation state
// is discarded. Diagnostics are emitted through the sink; compilation always
// runs to the end of the source so that every line gets a chance to report.
// A terminating HALT is appended if the program does not already end in one.
func (c *Compiler) Compile(source string) {
	c.program = bytecode.NewProgram()
	c.varTypes = make(map[string]bytecode.ValueType)
	c.ifStack = c.ifStack[:0]
	c.loopStack = c.loopStack[:0]

	for i, line := range strings.Split(source, "\n") {
		if line != "" {
			c.compileLine(line, i+1)
		}
	}

	if !c.program.EndsWithHalt() {
		c.emit(bytecode.OpHalt, 0)
	}
}

// cleanLine strips a //-comment and surrounding whitespace.
func cleanLine(line string) string {
	if idx := strings.Index(line, "//"); idx >= 0 {
		line = line[:idx]
	}
	return strings.TrimSpace(line)
}

// simpleCommands are the zero-argument commands that lower to a single
// identically-named opcode.
var simpleCommands = map[string]bytecode.Opcode{
	"pop":  bytecode.OpPop,
	"add":  bytecode.OpAdd,
	"sub":  bytecode.OpSub,
	"mul":  bytecode.OpMul,
	"div":  bytecode.OpDiv,
	"mod":  bytecode.OpMod,
	"abs":  bytecode.OpAbs,
	"pow":  bytecode.OpPow,
	"max":  bytecode.OpMax,
	"min":  bytecode.OpMin,
	"sqrt": bytecode.OpSqrt,
	"halt": bytecode.OpHalt,
}

func (c *Compiler) compileLine(line string, lineNumber int) {
	cleaned := cleanLine(line)
	if cleaned == "" {
		return
	}

	if len(cleaned) > maxLineLength {
		c.out(fmt.Sprintf("ERROR: Line too long at line %d", lineNumber))
		return
	}

	command := cleaned
	args := ""
	if idx := strings.IndexByte(cleaned, ' '); idx > 0 {
		command = cleaned[:idx]
		args = strings.TrimSpace(cleaned[idx+1:])
	}
	command = strings.ToLower(command)

	if op, ok := simpleCommands[command]; ok {
		c.emit(op, 0)
		return
	}

	switch command {
	case "print":
		c.compilePrint(args, lineNumber)
	case "printnum":
		c.emit(bytecode.OpPrintNum, 0)
	case "led":
		c.compileLed(args, lineNumber)
	case "delay":
		c.compileDelay(args, lineNumber)
	case "push":
		c.compilePush(args)
	case "input":
		c.compileInput(args, lineNumber)
	case "set":
		c.compileSet(args, lineNumber)
	case "if":
		c.compileIf(args, lineNumber)
	case "else":
		c.compileElse(lineNumber)
	case "endif":
		c.compileEndif(lineNumber)
	case "for":
		c.compileFor(args, lineNumber)
	case "endfor":
		c.compileEndfor(lineNumber)
	default:
		c.out(fmt.Sprintf("WARNING: Unknown command at line %d: %s", lineNumber, command))
	}
}

func (c *Compiler) compilePrint(args string, lineNumber int) {
	if varName := extractVariableName(args); varName != "" {
		if c.isValidVariable(varName) {
			c.emit(bytecode.OpLoad, uint32(c.variableIndex(varName)))
			c.emit(bytecode.OpPrintNum, 0)
		} else {
			c.out(fmt.Sprintf("ERROR: Invalid variable name in print at line %d", lineNumber))
		}
		return
	}

	text := args
	if strings.HasPrefix(text, "\"") && strings.HasSuffix(text, "\"") && len(text) >= 2 {
		text = text[1 : len(text)-1]
	}
	if !c.validateString(text) {
		text = ""
	}
	c.emit(bytecode.OpPrint, uint32(c.addString(text)))
}

func (c *Compiler) compileLed(args string, lineNumber int) {
	idx := strings.IndexByte(args, ' ')
	if idx <= 0 {
		c.out(fmt.Sprintf("WARNING: Invalid LED command at line %d", lineNumber))
		return
	}

	pin := parseIntDefault(args[:idx])
	state := strings.ToLower(strings.TrimSpace(args[idx+1:]))

	if pin < 0 || pin > 255 {
		c.out(fmt.Sprintf("ERROR: Invalid pin number at line %d", lineNumber))
		return
	}

	switch state {
	case "on", "1", "true":
		c.emit(bytecode.OpLedOn, uint32(pin))
	case "off", "0", "false":
		c.emit(bytecode.OpLedOff, uint32(pin))
	default:
		c.out(fmt.Sprintf("WARNING: Unknown LED state at line %d", lineNumber))
	}
}

func (c *Compiler) compileDelay(args string, lineNumber int) {
	ms := parseIntDefault(args)
	if ms < 0 || ms > 60000 {
		c.out(fmt.Sprintf("WARNING: Delay time out of range at line %d", lineNumber))
		ms = min(max(ms, 0), 60000)
	}
	c.emit(bytecode.OpDelay, uint32(ms))
}

// compilePush handles the push command. Identifier-shaped arguments load a
// variable, which makes bare true/false here a variable reference rather
// than a boolean literal; booleans still push as literals inside
// expressions.
func (c *Compiler) compilePush(args string) {
	switch {
	case c.isValidVariable(args):
		c.emit(bytecode.OpLoad, uint32(c.variableIndex(args)))
	case isFloatLiteral(args):
		c.emit(bytecode.OpPushFloat, bytecode.FloatBits(parseFloatDefault(args)))
	case isBoolLiteral(args):
		c.emit(bytecode.OpPushBool, boolBits(args == "true"))
	case isQuotedString(args):
		str := args[1 : len(args)-1]
		if !c.validateString(str) {
			str = ""
		}
		c.emit(bytecode.OpPushString, uint32(c.addString(str)))
	default:
		c.emit(bytecode.OpPush, uint32(int32(parseIntDefault(args))))
	}
}

func (c *Compiler) compileInput(args string, lineNumber int) {
	if !c.validateVariableName(args) {
		c.out(fmt.Sprintf("ERROR: Invalid variable name for input at line %d", lineNumber))
		return
	}
	c.emit(bytecode.OpInput, uint32(c.variableIndex(args)))
}

func (c *Compiler) compileSet(args string, lineNumber int) {
	idx := strings.IndexByte(args, ' ')
	if idx <= 0 {
		c.out(fmt.Sprintf("ERROR: Invalid SET command at line %d", lineNumber))
		return
	}

	varName := args[:idx]
	expression := args[idx+1:]

	if !c.validateVariableName(varName) {
		c.out(fmt.Sprintf("ERROR: Invalid variable name '%s' at line %d", varName, lineNumber))
		return
	}

	// Literal assignments pin the variable's compile-time type, which
	// decides the increment type of a for-loop over it.
	if isIntegerLiteral(expression) || isFloatLiteral(expression) ||
		isQuotedString(expression) || isBoolLiteral(expression) {
		c.varTypes[varName] = literalType(expression)
	}

	c.compileExpression(expression)
	c.emit(bytecode.OpStore, uint32(c.variableIndex(varName)))
}

func (c *Compiler) compileIf(args string, lineNumber int) {
	if len(c.ifStack) >= int(c.policy.MaxIfDepth()) {
		c.out(fmt.Sprintf("ERROR: IF nesting too deep at line %d", lineNumber))
		return
	}

	thenPos := strings.Index(args, " then")
	if thenPos <= 0 {
		c.out(fmt.Sprintf("ERROR: Invalid IF command at line %d", lineNumber))
		return
	}

	c.compileExpression(args[:thenPos])

	jumpAddr := c.program.Len()
	c.emit(bytecode.OpJumpIf, 0)
	c.ifStack = append(c.ifStack, jumpAddr)
}

// compileElse emits the taken-branch jump at address A, patches the prior
// JUMP_IF to the instruction after A, and replaces the pending entry with A.
func (c *Compiler) compileElse(lineNumber int) {
	if len(c.ifStack) == 0 {
		c.out(fmt.Sprintf("ERROR: ELSE without IF at line %d", lineNumber))
		return
	}

	elseJumpAddr := c.program.Len()
	c.emit(bytecode.OpJump, 0)

	ifJumpAddr := c.ifStack[len(c.ifStack)-1]
	c.program.Patch(ifJumpAddr, uint32(c.program.Len()))

	c.ifStack[len(c.ifStack)-1] = elseJumpAddr
}

func (c *Compiler) compileEndif(lineNumber int) {
	if len(c.ifStack) == 0 {
		c.out(fmt.Sprintf("ERROR: ENDIF without IF at line %d", lineNumber))
		return
	}

	jumpAddr := c.ifStack[len(c.ifStack)-1]
	c.ifStack = c.ifStack[:len(c.ifStack)-1]
	c.program.Patch(jumpAddr, uint32(c.program.Len()))
}

func (c *Compiler) compileFor(args string, lineNumber int) {
	if len(c.loopStack) >= int(c.policy.MaxLoopDepth()) {
		c.out(fmt.Sprintf("ERROR: Loop nesting too deep at line %d", lineNumber))
		return
	}

	equalsPos := strings.IndexByte(args, '=')
	toPos := strings.Index(args, " to ")
	if equalsPos <= 0 || toPos <= equalsPos {
		c.out(fmt.Sprintf("ERROR: Invalid FOR command at line %d", lineNumber))
		return
	}

	varName := strings.TrimSpace(args[:equalsPos])
	if !c.validateVariableName(varName) {
		c.out(fmt.Sprintf("ERROR: Invalid variable name in FOR at line %d", lineNumber))
		return
	}

	startExpr := strings.TrimSpace(args[equalsPos+1 : toPos])
	endExpr := strings.TrimSpace(args[toPos+4:])

	c.compileExpression(startExpr)
	varIndex := c.variableIndex(varName)
	c.emit(bytecode.OpStore, uint32(varIndex))

	loopStart := c.program.Len()
	c.emit(bytecode.OpLoad, uint32(varIndex))
	c.compileExpression(endExpr)
	c.emit(bytecode.OpLte, 0)

	condJump := c.program.Len()
	c.emit(bytecode.OpJumpIf, 0)

	c.loopStack = append(c.loopStack, loopFrame{
		varName:      varName,
		startAddr:    loopStart,
		condJumpAddr: condJump,
	})
}

func (c *Compiler) compileEndfor(lineNumber int) {
	if len(c.loopStack) == 0 {
		c.out(fmt.Sprintf("ERROR: ENDFOR without FOR at line %d", lineNumber))
		return
	}

	frame := c.loopStack[len(c.loopStack)-1]
	c.loopStack = c.loopStack[:len(c.loopStack)-1]

	c.emit(bytecode.OpLoad, uint32(c.variableIndex(frame.varName)))
	if c.varTypes[frame.varName] == bytecode.TypeFloat {
		c.emit(bytecode.OpPushFloat, bytecode.FloatBits(1.0))
	} else {
		c.emit(bytecode.OpPush, 1)
	}
	c.emit(bytecode.OpAdd, 0)
	c.emit(bytecode.OpStore, uint32(c.variableIndex(frame.varName)))
	c.emit(bytecode.OpJump, uint32(frame.startAddr))

	c.program.Patch(frame.condJumpAddr, uint32(c.program.Len()))
}

func (c *Compiler) emit(op bytecode.Opcode, arg1 uint32) {
	if !c.program.Emit(bytecode.Inst(op, arg1)) {
		c.out("ERROR: Program too large")
	}
}

// addString interns a raw (unsanitized) string into the artifact's table.
// Sanitization happens at load time, against the policy the VM runs under.
func (c *Compiler) addString(s string) uint16 {
	if !c.validateString(s) {
		return 0
	}
	idx, ok := c.program.AddString(s)
	if !ok {
		c.out("ERROR: String table overflow")
		return 0
	}
	return idx
}

func (c *Compiler) variableIndex(name string) uint16 {
	if !c.validateVariableName(name) {
		return 0
	}
	return c.addString(name)
}

func (c *Compiler) validateString(s string) bool {
	if len(s) > int(c.policy.MaxStringLength()) {
		c.out("ERROR: String too long")
		return false
	}
	return true
}

func (c *Compiler) validateVariableName(name string) bool {
	if len(name) > int(c.policy.MaxVariableNameLength()) {
		c.out("ERROR: Variable name too long")
		return false
	}
	if !c.isValidVariable(name) {
		c.out("ERROR: Invalid variable name")
		return false
	}
	return true
}

// extractVariableName returns the identifier of a $-prefixed reference, or
// "" when the text is not one.
func extractVariableName(text string) string {
	if strings.HasPrefix(text, "$") {
		return text[1:]
	}
	return ""
}
