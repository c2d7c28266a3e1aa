package vm

import (
	"math"

	"github.com/vlplay/xeno/pkg/bytecode"
)

// Checked signed 32-bit arithmetic. Every operation that would overflow
// reports a diagnostic and signals the caller to substitute zero; nothing
// ever silently wraps.

func (vm *VM) checkedAdd(a, b int32) (int32, bool) {
	if (b > 0 && a > math.MaxInt32-b) || (b < 0 && a < math.MinInt32-b) {
		vm.println("ERROR: Integer overflow in addition")
		return 0, false
	}
	return a + b, true
}

func (vm *VM) checkedSub(a, b int32) (int32, bool) {
	if (b > 0 && a < math.MinInt32+b) || (b < 0 && a > math.MaxInt32+b) {
		vm.println("ERROR: Integer overflow in subtraction")
		return 0, false
	}
	return a - b, true
}

func (vm *VM) checkedMul(a, b int32) (int32, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	if mulOverflows(a, b) {
		vm.println("ERROR: Integer overflow in multiplication")
		return 0, false
	}
	return a * b, true
}

func mulOverflows(a, b int32) bool {
	if a > 0 {
		if b > 0 {
			return a > math.MaxInt32/b
		}
		return b < math.MinInt32/a
	}
	if b > 0 {
		return a < math.MinInt32/b
	}
	return a < math.MaxInt32/b
}

// checkedPow performs repeated multiplication with overflow checks.
// Negative exponents yield zero.
func (vm *VM) checkedPow(base, exponent int32) (int32, bool) {
	if exponent < 0 {
		return 0, false
	}
	if exponent == 0 {
		return 1, true
	}
	if base == 0 {
		return 0, true
	}

	result := int32(1)
	for i := int32(0); i < exponent; i++ {
		if mulOverflows(result, base) {
			vm.println("ERROR: Integer overflow in power operation")
			return 0, false
		}
		result *= base
	}
	return result, true
}

func (vm *VM) checkedMod(a, b int32) (int32, bool) {
	if b == 0 {
		vm.println("ERROR: Modulo by zero")
		return 0, false
	}
	if a == math.MinInt32 && b == -1 {
		return 0, true
	}
	return a % b, true
}

func bothNumeric(a, b bytecode.Value) bool {
	return a.IsNumeric() && b.IsNumeric()
}

func eitherFloat(a, b bytecode.Value) bool {
	return a.Type == bytecode.TypeFloat || b.Type == bytecode.TypeFloat
}

// performAddition implements ADD: string concatenation when either operand
// is a string, float arithmetic when either is a float, checked integer
// arithmetic otherwise.
func (vm *VM) performAddition(a, b bytecode.Value) bytecode.Value {
	if a.Type == bytecode.TypeString || b.Type == bytecode.TypeString {
		combined := vm.valueToString(a) + vm.valueToString(b)
		return bytecode.MakeString(vm.addString(combined))
	}
	if bothNumeric(a, b) {
		if eitherFloat(a, b) {
			return bytecode.MakeFloat(a.AsFloat() + b.AsFloat())
		}
		if result, ok := vm.checkedAdd(a.Int, b.Int); ok {
			return bytecode.MakeInt(result)
		}
		return bytecode.MakeInt(0)
	}
	return bytecode.MakeInt(0)
}

func (vm *VM) performSubtraction(a, b bytecode.Value) bytecode.Value {
	if bothNumeric(a, b) {
		if eitherFloat(a, b) {
			return bytecode.MakeFloat(a.AsFloat() - b.AsFloat())
		}
		if result, ok := vm.checkedSub(a.Int, b.Int); ok {
			return bytecode.MakeInt(result)
		}
		return bytecode.MakeInt(0)
	}
	return bytecode.MakeInt(0)
}

func (vm *VM) performMultiplication(a, b bytecode.Value) bytecode.Value {
	if bothNumeric(a, b) {
		if eitherFloat(a, b) {
			return bytecode.MakeFloat(a.AsFloat() * b.AsFloat())
		}
		if result, ok := vm.checkedMul(a.Int, b.Int); ok {
			return bytecode.MakeInt(result)
		}
		return bytecode.MakeInt(0)
	}
	return bytecode.MakeInt(0)
}

// performDivision detects the MinInt32 / -1 case and treats it as overflow.
func (vm *VM) performDivision(a, b bytecode.Value) bytecode.Value {
	if !bothNumeric(a, b) {
		return bytecode.MakeInt(0)
	}
	if eitherFloat(a, b) {
		if bf := b.AsFloat(); bf != 0 {
			return bytecode.MakeFloat(a.AsFloat() / bf)
		}
		vm.println("ERROR: Division by zero")
		return bytecode.MakeFloat(0)
	}
	if b.Int == 0 {
		vm.println("ERROR: Division by zero")
		return bytecode.MakeInt(0)
	}
	if a.Int == math.MinInt32 && b.Int == -1 {
		vm.println("ERROR: Integer overflow in division")
		return bytecode.MakeInt(0)
	}
	return bytecode.MakeInt(a.Int / b.Int)
}

// performModulo requires both operands to be integers.
func (vm *VM) performModulo(a, b bytecode.Value) bytecode.Value {
	if a.Type != bytecode.TypeInt || b.Type != bytecode.TypeInt {
		vm.println("ERROR: Modulo requires integer operands")
		return bytecode.MakeInt(0)
	}
	if result, ok := vm.checkedMod(a.Int, b.Int); ok {
		return bytecode.MakeInt(result)
	}
	return bytecode.MakeInt(0)
}

func (vm *VM) performPower(a, b bytecode.Value) bytecode.Value {
	if bothNumeric(a, b) {
		if eitherFloat(a, b) {
			return bytecode.MakeFloat(float32(math.Pow(float64(a.AsFloat()), float64(b.AsFloat()))))
		}
		if result, ok := vm.checkedPow(a.Int, b.Int); ok {
			return bytecode.MakeInt(result)
		}
		return bytecode.MakeInt(0)
	}
	return bytecode.MakeInt(0)
}

func (vm *VM) performAbs(a bytecode.Value) bytecode.Value {
	switch a.Type {
	case bytecode.TypeInt:
		if a.Int == math.MinInt32 {
			vm.println("ERROR: Integer overflow in absolute value")
			return bytecode.MakeInt(math.MaxInt32)
		}
		if a.Int < 0 {
			return bytecode.MakeInt(-a.Int)
		}
		return a
	case bytecode.TypeFloat:
		return bytecode.MakeFloat(float32(math.Abs(float64(a.Float))))
	}
	return bytecode.MakeInt(0)
}

// performSqrt yields a float even for integer operands. Negative operands
// report and yield zero of the operand's numeric type.
func (vm *VM) performSqrt(a bytecode.Value) bytecode.Value {
	switch a.Type {
	case bytecode.TypeInt:
		if a.Int < 0 {
			vm.println("ERROR: Square root of negative number")
			return bytecode.MakeInt(0)
		}
		return bytecode.MakeFloat(float32(math.Sqrt(float64(a.Int))))
	case bytecode.TypeFloat:
		if a.Float < 0 {
			vm.println("ERROR: Square root of negative number")
			return bytecode.MakeFloat(0)
		}
		return bytecode.MakeFloat(float32(math.Sqrt(float64(a.Float))))
	}
	return bytecode.MakeInt(0)
}

func (vm *VM) performMax(a, b bytecode.Value) bytecode.Value {
	if !bothNumeric(a, b) {
		return bytecode.MakeInt(0)
	}
	if eitherFloat(a, b) {
		return bytecode.MakeFloat(max(a.AsFloat(), b.AsFloat()))
	}
	return bytecode.MakeInt(max(a.Int, b.Int))
}

func (vm *VM) performMin(a, b bytecode.Value) bytecode.Value {
	if !bothNumeric(a, b) {
		return bytecode.MakeInt(0)
	}
	if eitherFloat(a, b) {
		return bytecode.MakeFloat(min(a.AsFloat(), b.AsFloat()))
	}
	return bytecode.MakeInt(min(a.Int, b.Int))
}

// floatEqTolerance is the absolute-difference bound under which two float
// values compare equal.
const floatEqTolerance = 1e-4

// performComparison evaluates a relational opcode over two values. Mixed
// int/float operands are promoted to float and compared exactly; equal-typed
// floats use the absolute tolerance; strings compare lexicographically on
// interned content. Any other mixed-type pair is unequal and unordered.
func (vm *VM) performComparison(a, b bytecode.Value, op bytecode.Opcode) bool {
	if a.Type != b.Type {
		if bothNumeric(a, b) {
			return compareOrdered(a.AsFloat(), b.AsFloat(), op)
		}
		switch op {
		case bytecode.OpEq:
			return false
		case bytecode.OpNeq:
			return true
		default:
			return false
		}
	}

	switch a.Type {
	case bytecode.TypeInt:
		return compareOrdered(a.Int, b.Int, op)
	case bytecode.TypeFloat:
		diff := math.Abs(float64(a.Float) - float64(b.Float))
		switch op {
		case bytecode.OpEq:
			return diff < floatEqTolerance
		case bytecode.OpNeq:
			return diff >= floatEqTolerance
		default:
			return compareOrdered(a.Float, b.Float, op)
		}
	case bytecode.TypeString:
		sa := vm.stringAt(uint32(a.Str))
		sb := vm.stringAt(uint32(b.Str))
		return compareOrdered(sa, sb, op)
	case bytecode.TypeBool:
		return compareOrdered(boolInt(a.Bool), boolInt(b.Bool), op)
	}
	return false
}

func compareOrdered[T int32 | float32 | string](a, b T, op bytecode.Opcode) bool {
	switch op {
	case bytecode.OpEq:
		return a == b
	case bytecode.OpNeq:
		return a != b
	case bytecode.OpLt:
		return a < b
	case bytecode.OpGt:
		return a > b
	case bytecode.OpLte:
		return a <= b
	case bytecode.OpGte:
		return a >= b
	}
	return false
}

func boolInt(b bool) int32 {
	if b {
		return 1
	}
	return 0
}
