// Package bytecode defines the Xeno instruction set and the compiled
// program artifact shared by the compiler and the virtual machine.
//
// The format is designed for:
//   - Fixed-width instructions (opcode byte, 32-bit primary immediate,
//     16-bit reserved secondary immediate)
//   - Stable numeric opcode values (the wire encoding never changes an
//     existing opcode's byte)
//   - A string table indexed by 16-bit handles, shared between printable
//     literals, variable names, and runtime string values
//
// A Program can be serialized to bytes using canonical CBOR for handing a
// compiled artifact between host processes. Programs are always re-verified
// on load; serialization carries no trust.
package bytecode
