package script

import (
	"bytes"
	"crypto/sha1"
	"crypto/sha256"

	"golang.org/x/crypto/ripemd160"

	"github.com/djkazic/wizards-wallet/pkg/util"
)

func opcodeInvalid(op *parsedOpcode, vm *Engine) error {
	return scriptError(ErrInvalidOpcode, "attempt to execute invalid opcode %s", op.opcode.name)
}

func opcodeDisabled(op *parsedOpcode, vm *Engine) error {
	return scriptError(ErrDisabledOpcode, "attempt to execute disabled opcode %s", op.opcode.name)
}

func opcodeReserved(op *parsedOpcode, vm *Engine) error {
	return scriptError(ErrReservedOpcode, "attempt to execute reserved opcode %s", op.opcode.name)
}

func opcodeFalse(op *parsedOpcode, vm *Engine) error {
	vm.dstack.PushByteArray(nil)
	return nil
}

func opcodePushData(op *parsedOpcode, vm *Engine) error {
	vm.dstack.PushByteArray(op.data)
	return nil
}

func opcode1Negate(op *parsedOpcode, vm *Engine) error {
	vm.dstack.PushInt(scriptNum(-1))
	return nil
}

// opcodeN pushes the small integer encoded by OP_1 through OP_16.
func opcodeN(op *parsedOpcode, vm *Engine) error {
	vm.dstack.PushInt(scriptNum(op.opcode.value - (OP_1 - 1)))
	return nil
}

func opcodeNop(op *parsedOpcode, vm *Engine) error {
	return nil
}

// Flow control. These run even in unexecuted branches so nesting is
// tracked; a nested IF inside a skipped branch is itself skipped.

func opcodeIf(op *parsedOpcode, vm *Engine) error {
	condVal := opCondFalse
	if vm.isBranchExecuting() {
		ok, err := vm.dstack.PopBool()
		if err != nil {
			return err
		}
		if ok {
			condVal = opCondTrue
		}
	} else {
		condVal = opCondSkip
	}
	vm.condStack = append(vm.condStack, condVal)
	return nil
}

func opcodeNotIf(op *parsedOpcode, vm *Engine) error {
	condVal := opCondFalse
	if vm.isBranchExecuting() {
		ok, err := vm.dstack.PopBool()
		if err != nil {
			return err
		}
		if !ok {
			condVal = opCondTrue
		}
	} else {
		condVal = opCondSkip
	}
	vm.condStack = append(vm.condStack, condVal)
	return nil
}

func opcodeElse(op *parsedOpcode, vm *Engine) error {
	if len(vm.condStack) == 0 {
		return scriptError(ErrUnbalancedConditional, "encountered opcode %s with no matching opcode to begin conditional execution", op.opcode.name)
	}

	top := len(vm.condStack) - 1
	switch vm.condStack[top] {
	case opCondTrue:
		vm.condStack[top] = opCondFalse
	case opCondFalse:
		vm.condStack[top] = opCondTrue
	}
	return nil
}

func opcodeEndif(op *parsedOpcode, vm *Engine) error {
	if len(vm.condStack) == 0 {
		return scriptError(ErrUnbalancedConditional, "encountered opcode %s with no matching opcode to begin conditional execution", op.opcode.name)
	}
	vm.condStack = vm.condStack[:len(vm.condStack)-1]
	return nil
}

func abstractVerify(op *parsedOpcode, vm *Engine, code ErrorCode) error {
	ok, err := vm.dstack.PopBool()
	if err != nil {
		return err
	}
	if !ok {
		return scriptError(code, "%s failed", op.opcode.name)
	}
	return nil
}

func opcodeVerify(op *parsedOpcode, vm *Engine) error {
	return abstractVerify(op, vm, ErrVerifyFailed)
}

func opcodeReturn(op *parsedOpcode, vm *Engine) error {
	return scriptError(ErrEarlyReturn, "script returned early")
}

// Stack manipulation.

func opcodeToAltStack(op *parsedOpcode, vm *Engine) error {
	so, err := vm.dstack.PopByteArray()
	if err != nil {
		return err
	}
	vm.astack.PushByteArray(so)
	return nil
}

func opcodeFromAltStack(op *parsedOpcode, vm *Engine) error {
	so, err := vm.astack.PopByteArray()
	if err != nil {
		return err
	}
	vm.dstack.PushByteArray(so)
	return nil
}

func opcode2Drop(op *parsedOpcode, vm *Engine) error { return vm.dstack.DropN(2) }
func opcode2Dup(op *parsedOpcode, vm *Engine) error  { return vm.dstack.DupN(2) }
func opcode3Dup(op *parsedOpcode, vm *Engine) error  { return vm.dstack.DupN(3) }
func opcode2Over(op *parsedOpcode, vm *Engine) error { return vm.dstack.OverN(2) }
func opcode2Rot(op *parsedOpcode, vm *Engine) error  { return vm.dstack.RotN(2) }
func opcode2Swap(op *parsedOpcode, vm *Engine) error { return vm.dstack.SwapN(2) }
func opcodeDrop(op *parsedOpcode, vm *Engine) error  { return vm.dstack.DropN(1) }
func opcodeDup(op *parsedOpcode, vm *Engine) error   { return vm.dstack.DupN(1) }
func opcodeNip(op *parsedOpcode, vm *Engine) error   { return vm.dstack.NipN(1) }
func opcodeOver(op *parsedOpcode, vm *Engine) error  { return vm.dstack.OverN(1) }
func opcodeRot(op *parsedOpcode, vm *Engine) error   { return vm.dstack.RotN(1) }
func opcodeSwap(op *parsedOpcode, vm *Engine) error  { return vm.dstack.SwapN(1) }
func opcodeTuck(op *parsedOpcode, vm *Engine) error  { return vm.dstack.Tuck() }

func opcodeIfDup(op *parsedOpcode, vm *Engine) error {
	so, err := vm.dstack.PeekByteArray(0)
	if err != nil {
		return err
	}
	if asBool(so) {
		vm.dstack.PushByteArray(so)
	}
	return nil
}

func opcodeDepth(op *parsedOpcode, vm *Engine) error {
	vm.dstack.PushInt(scriptNum(vm.dstack.Depth()))
	return nil
}

func opcodePick(op *parsedOpcode, vm *Engine) error {
	val, err := vm.dstack.PopInt()
	if err != nil {
		return err
	}
	return vm.dstack.PickN(val.Int32())
}

func opcodeRoll(op *parsedOpcode, vm *Engine) error {
	val, err := vm.dstack.PopInt()
	if err != nil {
		return err
	}
	return vm.dstack.RollN(val.Int32())
}

func opcodeSize(op *parsedOpcode, vm *Engine) error {
	so, err := vm.dstack.PeekByteArray(0)
	if err != nil {
		return err
	}
	vm.dstack.PushInt(scriptNum(len(so)))
	return nil
}

func opcodeEqual(op *parsedOpcode, vm *Engine) error {
	a, err := vm.dstack.PopByteArray()
	if err != nil {
		return err
	}
	b, err := vm.dstack.PopByteArray()
	if err != nil {
		return err
	}
	vm.dstack.PushBool(bytes.Equal(a, b))
	return nil
}

func opcodeEqualVerify(op *parsedOpcode, vm *Engine) error {
	if err := opcodeEqual(op, vm); err != nil {
		return err
	}
	return abstractVerify(op, vm, ErrVerifyFailed)
}

// Arithmetic.

func unaryNum(vm *Engine, f func(scriptNum) scriptNum) error {
	m, err := vm.dstack.PopInt()
	if err != nil {
		return err
	}
	vm.dstack.PushInt(f(m))
	return nil
}

func binaryNum(vm *Engine, f func(a, b scriptNum) scriptNum) error {
	v0, err := vm.dstack.PopInt()
	if err != nil {
		return err
	}
	v1, err := vm.dstack.PopInt()
	if err != nil {
		return err
	}
	vm.dstack.PushInt(f(v1, v0))
	return nil
}

func boolNum(b bool) scriptNum {
	if b {
		return 1
	}
	return 0
}

func opcode1Add(op *parsedOpcode, vm *Engine) error {
	return unaryNum(vm, func(m scriptNum) scriptNum { return m + 1 })
}

func opcode1Sub(op *parsedOpcode, vm *Engine) error {
	return unaryNum(vm, func(m scriptNum) scriptNum { return m - 1 })
}

func opcodeNegate(op *parsedOpcode, vm *Engine) error {
	return unaryNum(vm, func(m scriptNum) scriptNum { return -m })
}

func opcodeAbs(op *parsedOpcode, vm *Engine) error {
	return unaryNum(vm, func(m scriptNum) scriptNum {
		if m < 0 {
			return -m
		}
		return m
	})
}

func opcodeNot(op *parsedOpcode, vm *Engine) error {
	return unaryNum(vm, func(m scriptNum) scriptNum { return boolNum(m == 0) })
}

func opcode0NotEqual(op *parsedOpcode, vm *Engine) error {
	return unaryNum(vm, func(m scriptNum) scriptNum { return boolNum(m != 0) })
}

func opcodeAdd(op *parsedOpcode, vm *Engine) error {
	return binaryNum(vm, func(a, b scriptNum) scriptNum { return a + b })
}

func opcodeSub(op *parsedOpcode, vm *Engine) error {
	return binaryNum(vm, func(a, b scriptNum) scriptNum { return a - b })
}

func opcodeBoolAnd(op *parsedOpcode, vm *Engine) error {
	return binaryNum(vm, func(a, b scriptNum) scriptNum { return boolNum(a != 0 && b != 0) })
}

func opcodeBoolOr(op *parsedOpcode, vm *Engine) error {
	return binaryNum(vm, func(a, b scriptNum) scriptNum { return boolNum(a != 0 || b != 0) })
}

func opcodeNumEqual(op *parsedOpcode, vm *Engine) error {
	return binaryNum(vm, func(a, b scriptNum) scriptNum { return boolNum(a == b) })
}

func opcodeNumEqualVerify(op *parsedOpcode, vm *Engine) error {
	if err := opcodeNumEqual(op, vm); err != nil {
		return err
	}
	return abstractVerify(op, vm, ErrVerifyFailed)
}

func opcodeNumNotEqual(op *parsedOpcode, vm *Engine) error {
	return binaryNum(vm, func(a, b scriptNum) scriptNum { return boolNum(a != b) })
}

func opcodeLessThan(op *parsedOpcode, vm *Engine) error {
	return binaryNum(vm, func(a, b scriptNum) scriptNum { return boolNum(a < b) })
}

func opcodeGreaterThan(op *parsedOpcode, vm *Engine) error {
	return binaryNum(vm, func(a, b scriptNum) scriptNum { return boolNum(a > b) })
}

func opcodeLessThanOrEqual(op *parsedOpcode, vm *Engine) error {
	return binaryNum(vm, func(a, b scriptNum) scriptNum { return boolNum(a <= b) })
}

func opcodeGreaterThanOrEqual(op *parsedOpcode, vm *Engine) error {
	return binaryNum(vm, func(a, b scriptNum) scriptNum { return boolNum(a >= b) })
}

func opcodeMin(op *parsedOpcode, vm *Engine) error {
	return binaryNum(vm, func(a, b scriptNum) scriptNum {
		if a < b {
			return a
		}
		return b
	})
}

func opcodeMax(op *parsedOpcode, vm *Engine) error {
	return binaryNum(vm, func(a, b scriptNum) scriptNum {
		if a > b {
			return a
		}
		return b
	})
}

// opcodeWithin: x min max -> min <= x < max.
func opcodeWithin(op *parsedOpcode, vm *Engine) error {
	maxVal, err := vm.dstack.PopInt()
	if err != nil {
		return err
	}
	minVal, err := vm.dstack.PopInt()
	if err != nil {
		return err
	}
	x, err := vm.dstack.PopInt()
	if err != nil {
		return err
	}
	vm.dstack.PushBool(x >= minVal && x < maxVal)
	return nil
}

// Crypto.

func hashOp(vm *Engine, f func([]byte) []byte) error {
	buf, err := vm.dstack.PopByteArray()
	if err != nil {
		return err
	}
	vm.dstack.PushByteArray(f(buf))
	return nil
}

func opcodeRipemd160(op *parsedOpcode, vm *Engine) error {
	return hashOp(vm, func(b []byte) []byte {
		h := ripemd160.New()
		h.Write(b)
		return h.Sum(nil)
	})
}

func opcodeSha1(op *parsedOpcode, vm *Engine) error {
	return hashOp(vm, func(b []byte) []byte {
		h := sha1.Sum(b)
		return h[:]
	})
}

func opcodeSha256(op *parsedOpcode, vm *Engine) error {
	return hashOp(vm, func(b []byte) []byte {
		h := sha256.Sum256(b)
		return h[:]
	})
}

func opcodeHash160(op *parsedOpcode, vm *Engine) error {
	return hashOp(vm, func(b []byte) []byte {
		h := util.Hash160(b)
		return h[:]
	})
}

func opcodeHash256(op *parsedOpcode, vm *Engine) error {
	return hashOp(vm, func(b []byte) []byte {
		h := util.DoubleSHA256(b)
		return h[:]
	})
}

func opcodeCodeSeparator(op *parsedOpcode, vm *Engine) error {
	vm.lastCodeSep = vm.scriptOff + 1
	return nil
}
