package compiler

import (
	"strconv"

	"github.com/vlplay/xeno/pkg/bytecode"
)

// Literal classification. Parsing is explicit and fallible: a literal that
// passes the shape check but fails to parse is treated as zero.

// isIntegerLiteral reports whether s is a decimal integer that fits in a
// signed 32-bit value. At most one leading '-' is accepted; length is capped
// at 16 characters.
func isIntegerLiteral(s string) bool {
	if s == "" || len(s) > 16 {
		return false
	}
	start := 0
	if s[0] == '-' {
		start = 1
	}
	if start == len(s) {
		return false
	}
	for i := start; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	_, err := strconv.ParseInt(s, 10, 32)
	return err == nil
}

// isFloatLiteral reports whether s is a decimal float literal: optional
// leading '-', digits, exactly one '.', total length in (1, 32].
func isFloatLiteral(s string) bool {
	if s == "" || len(s) > 32 {
		return false
	}
	hasDecimal := false
	start := 0
	if s[0] == '-' {
		start = 1
	}
	for i := start; i < len(s); i++ {
		if s[i] == '.' {
			if hasDecimal {
				return false
			}
			hasDecimal = true
		} else if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return hasDecimal && len(s) > 1
}

func isBoolLiteral(s string) bool {
	return s == "true" || s == "false"
}

func isQuotedString(s string) bool {
	return len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"'
}

// isValidVariable reports whether s is an identifier: an ASCII letter or
// underscore followed by letters, digits and underscores, no longer than
// the policy's variable-name limit.
func (c *Compiler) isValidVariable(s string) bool {
	if s == "" || len(s) > int(c.policy.MaxVariableNameLength()) {
		return false
	}
	if !isIdentStart(s[0]) {
		return false
	}
	for i := 1; i < len(s); i++ {
		if !isIdentChar(s[i]) {
			return false
		}
	}
	return true
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

// parseIntDefault parses a decimal integer, yielding zero on failure.
func parseIntDefault(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return v
}

// parseInt32Default parses a 32-bit literal, yielding zero on failure.
func parseInt32Default(s string) int32 {
	v, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0
	}
	return int32(v)
}

// parseFloatDefault parses a 32-bit float literal, yielding zero on failure.
func parseFloatDefault(s string) float32 {
	v, err := strconv.ParseFloat(s, 32)
	if err != nil {
		return 0
	}
	return float32(v)
}

func boolBits(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// literalType classifies a literal for the compile-time variable type map.
func literalType(s string) bytecode.ValueType {
	switch {
	case isQuotedString(s):
		return bytecode.TypeString
	case isFloatLiteral(s):
		return bytecode.TypeFloat
	case isIntegerLiteral(s):
		return bytecode.TypeInt
	case isBoolLiteral(s):
		return bytecode.TypeBool
	default:
		return bytecode.TypeInt
	}
}
