// Package server implements the host command channel: a line-oriented text
// protocol that drives one embedded Xeno engine over standard I/O or a
// WebSocket connection.
package server

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/vlplay/xeno/pkg/vm"
	"github.com/vlplay/xeno/pkg/xeno"
)

// Bridge metadata reported alongside the language versions.
const (
	BridgeName    = "Xeno Bridge"
	BridgeVersion = "v0.1.0"
	BridgeDate    = "08.11.2025"
)

var log = commonlog.GetLogger("xeno.host")

// Bridge runs the command loop for one engine over one transport. Every
// write is flushed immediately. Responses are single lines, except that
// GET_VERSION, GET_SETTINGS, GET_SECURITY_LIMITS and the dump commands
// write multi-line text. Program output and
// responses share the writer; a mutex keeps worker output and command
// responses from interleaving mid-line.
type Bridge struct {
	engine *xeno.Engine
	rd     *bufio.Reader

	wmu sync.Mutex
	w   io.Writer

	quiet bool
	busy  atomic.Bool
}

// NewBridge wires a bridge around the engine, reading commands from r and
// writing responses to w. The engine's text sink is redirected to w as well.
func NewBridge(engine *xeno.Engine, r io.Reader, w io.Writer, quiet bool) *Bridge {
	b := &Bridge{
		engine: engine,
		rd:     bufio.NewReader(r),
		w:      w,
		quiet:  quiet,
	}
	engine.SetTextSink(vm.FuncSink(b.send))
	return b
}

// send writes text plus a newline and flushes. Safe for concurrent use by the
// command loop and the run worker.
func (b *Bridge) send(line string) {
	b.wmu.Lock()
	defer b.wmu.Unlock()
	fmt.Fprintln(b.w, line)
	if f, ok := b.w.(interface{ Flush() error }); ok {
		f.Flush()
	}
}

// Serve runs the command loop until EXIT or end of input.
func (b *Bridge) Serve() error {
	for {
		line, err := b.rd.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				if strings.TrimRight(line, "\r\n") != "" {
					b.dispatch(strings.TrimRight(line, "\r\n"))
				}
				return nil
			}
			return err
		}

		cmd := strings.TrimRight(line, "\r\n")
		if cmd == "" {
			continue
		}
		if !b.dispatch(cmd) {
			return nil
		}
	}
}

// readValueLine fetches the follow-up line of a two-line command.
func (b *Bridge) readValueLine() (string, bool) {
	line, err := b.rd.ReadString('\n')
	if err != nil && line == "" {
		return "", false
	}
	return strings.TrimRight(line, "\r\n"), true
}

// dispatch handles one command. Returns false when the loop should exit.
func (b *Bridge) dispatch(cmd string) bool {
	log.Debugf("command: %s", cmd)

	if payload, ok := strings.CutPrefix(cmd, "STDIN"); ok && (payload == "" || payload[0] == ' ') {
		b.engine.Input().Push(strings.TrimPrefix(payload, " "))
		return true
	}

	switch cmd {
	case "COMPILE":
		b.handleCompile()
	case "RUN":
		b.handleRun()
	case "STOP":
		b.engine.Stop()
		b.send("Virtual machine stopped")
	case "STEP":
		b.engine.Step()
	case "IS_RUNNING":
		if b.busy.Load() || b.engine.IsRunning() {
			b.send("VM is running")
		} else {
			b.send("VM is not running")
		}
	case "DUMP_STATE":
		b.engine.DumpState()
	case "DISASSEMBLE":
		b.engine.Disassemble()
	case "PRINT_COMPILED_CODE":
		b.engine.PrintCompiledCode()
	case "SET_MAX_INSTRUCTIONS":
		b.handleSetLimit(cmd, func(v uint64) bool {
			return b.engine.SetMaxInstructions(uint32(v))
		}, 32)
	case "SET_MAX_STRING_LIMIT":
		b.handleSetLimit(cmd, func(v uint64) bool {
			return b.engine.SetMaxStringLength(uint16(v))
		}, 16)
	case "SET_MAX_VARIABLE_NAME_LIMIT":
		b.handleSetLimit(cmd, func(v uint64) bool {
			return b.engine.SetMaxVariableNameLength(uint16(v))
		}, 16)
	case "SET_MAX_EXPRESSION_DEPTH":
		b.handleSetLimit(cmd, func(v uint64) bool {
			return b.engine.SetMaxExpressionDepth(uint16(v))
		}, 16)
	case "SET_MAX_LOOP_DEPTH":
		b.handleSetLimit(cmd, func(v uint64) bool {
			return b.engine.SetMaxLoopDepth(uint16(v))
		}, 16)
	case "SET_MAX_IF_DEPTH":
		b.handleSetLimit(cmd, func(v uint64) bool {
			return b.engine.SetMaxIfDepth(uint16(v))
		}, 16)
	case "SET_MAX_STACK_SIZE":
		b.handleSetLimit(cmd, func(v uint64) bool {
			return b.engine.SetMaxStackSize(uint16(v))
		}, 16)
	case "SET_ALLOWED_PINS":
		b.handleSetAllowedPins()
	case "GET_LANGUAGE_NAME":
		b.send("Language: " + xeno.LanguageName)
	case "GET_LANGUAGE_VERSION":
		b.send("Language version: " + xeno.LanguageVersion)
	case "GET_LANGUAGE_DATE":
		b.send("Language date: " + xeno.LanguageDate)
	case "GET_VM_VERSION":
		b.send("VM version: " + xeno.VMVersion)
	case "GET_VM_DATE":
		b.send("VM date: " + xeno.VMDate)
	case "GET_COMPILER_VERSION":
		b.send("Compiler version: " + xeno.CompilerVersion)
	case "GET_COMPILER_DATE":
		b.send("Compiler date: " + xeno.CompilerDate)
	case "GET_BRIDGE_VERSION":
		b.send("Bridge version: " + BridgeVersion)
	case "GET_BRIDGE_DATE":
		b.send("Bridge date: " + BridgeDate)
	case "GET_VERSION":
		b.send(versionSummary())
	case "GET_SETTINGS":
		b.send(b.settingsSummary())
	case "GET_SECURITY_LIMITS":
		b.send(b.engine.SecurityLimitsInfo())
	case "EXIT":
		b.send("Exiting")
		b.engine.Stop()
		return false
	default:
		b.send("Unknown command: " + cmd)
	}

	return true
}

// handleCompile reads the decimal byte length line, then exactly that many
// bytes of source. A trailing newline after the blob is consumed if present.
func (b *Bridge) handleCompile() {
	lenLine, ok := b.readValueLine()
	if !ok {
		b.send("Missing source code length")
		return
	}

	n, err := strconv.ParseUint(strings.TrimSpace(lenLine), 10, 32)
	if err != nil {
		b.send("Invalid length format")
		return
	}

	src := make([]byte, n)
	if _, err := io.ReadFull(b.rd, src); err != nil {
		b.send("Could not read source code")
		return
	}
	if peeked, err := b.rd.Peek(1); err == nil && peeked[0] == '\n' {
		b.rd.Discard(1)
	}

	if b.engine.Compile(string(src)) {
		b.send("Compilation successful!")
	} else {
		b.send("Compilation failed - check your code for errors")
	}
}

// handleRun starts execution on a worker goroutine so the command loop can
// keep servicing STOP and STDIN. The completion banner is emitted when the
// worker finishes, regardless of how the program ended.
func (b *Bridge) handleRun() {
	if b.busy.Load() {
		b.send("VM already running")
		return
	}
	b.busy.Store(true)

	runID := uuid.NewString()
	log.Infof("run %s started", runID)

	go func() {
		defer b.busy.Store(false)
		b.engine.Run(b.quiet)
		log.Infof("run %s finished", runID)
		b.send("=== Execution completed ===")
	}()
}

func (b *Bridge) handleSetLimit(name string, set func(uint64) bool, bits int) {
	value, ok := b.readValueLine()
	if !ok {
		b.send("Missing value for " + name)
		return
	}
	v, err := strconv.ParseUint(strings.TrimSpace(value), 10, bits)
	if err != nil {
		b.send("Invalid value for " + name)
		return
	}
	// The policy setter emits its own diagnostic on rejection; success is
	// silent by protocol.
	set(v)
}

func (b *Bridge) handleSetAllowedPins() {
	value, ok := b.readValueLine()
	if !ok {
		b.send("Missing value for SET_ALLOWED_PINS")
		return
	}

	var pins []uint8
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		pin, err := strconv.ParseUint(part, 10, 8)
		if err != nil {
			b.send("Invalid pin list")
			return
		}
		pins = append(pins, uint8(pin))
	}

	b.engine.SetAllowedPins(pins)
}

func versionSummary() string {
	return "Version Information:\n" +
		"  Language: " + xeno.LanguageName + " " + xeno.LanguageVersion + " (" + xeno.LanguageDate + ")\n" +
		"  Virtual Machine: " + xeno.VMVersion + " (" + xeno.VMDate + ")\n" +
		"  Compiler: " + xeno.CompilerVersion + " (" + xeno.CompilerDate + ")"
}

func (b *Bridge) settingsSummary() string {
	return "Current Settings:\n" +
		"  Max Instructions: " + strconv.FormatUint(uint64(b.engine.MaxInstructions()), 10) + "\n" +
		"  Quiet: " + strconv.FormatBool(b.quiet)
}
