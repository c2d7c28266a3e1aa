package security

import "strings"

// SanitizeString maps every byte of input to a safe replacement before the
// string may enter an interned table:
//
//   - printable ASCII (32..126) is copied, with a backslash prepended to
//     backslash, double quote, single quote and backtick
//   - space, tab, newline and carriage return are copied verbatim
//   - everything else becomes '?'
//
// The result is truncated at the policy's max string length with "..."
// appended. A second pass leaves a string unchanged only when it has no
// backslash, quote or backtick; each of those gains another backslash.
func (p *Policy) SanitizeString(input string) string {
	maxLen := int(p.maxStringLength)

	var sb strings.Builder
	sb.Grow(len(input))

	for i := 0; i < len(input); i++ {
		c := input[i]

		switch {
		case c >= 32 && c <= 126:
			if c == '\\' || c == '"' || c == '\'' || c == '`' {
				sb.WriteByte('\\')
			}
			sb.WriteByte(c)
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			sb.WriteByte(c)
		default:
			sb.WriteByte('?')
		}

		if sb.Len() >= maxLen {
			sb.WriteString("...")
			break
		}
	}

	return sb.String()
}
