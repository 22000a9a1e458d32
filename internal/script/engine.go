package script

import (
	"github.com/djkazic/wizards-wallet/internal/types"
)

// Conditional branch states.
const (
	opCondFalse = 0
	opCondTrue  = 1
	opCondSkip  = 2
)

// Engine evaluates one transaction input: the input's scriptSig followed
// by the pkScript of the output it spends, sharing one data stack. An
// Engine is single-use and not safe for concurrent use; build one per
// input.
type Engine struct {
	scripts     [][]parsedOpcode
	scriptIdx   int
	scriptOff   int
	lastCodeSep int

	dstack    stack
	astack    stack
	condStack []int
	numOps    int

	tx    *types.Tx
	txIdx int

	// sigErr keeps the reason the most recent signature check returned
	// false, so a final false result can name it.
	sigErr *Error
}

// NewEngine prepares evaluation of input txIdx of tx against pkScript.
func NewEngine(pkScript []byte, tx *types.Tx, txIdx int) (*Engine, error) {
	if tx == nil {
		return nil, scriptError(ErrInternal, "nil transaction")
	}
	if txIdx < 0 || txIdx >= len(tx.TxIn) {
		return nil, scriptError(ErrInvalidIndex,
			"transaction input index %d is negative or >= %d", txIdx, len(tx.TxIn))
	}

	scriptSig := tx.TxIn[txIdx].SignatureScript
	vm := Engine{tx: tx, txIdx: txIdx}
	for _, s := range [][]byte{scriptSig, pkScript} {
		if len(s) > MaxScriptSize {
			return nil, scriptError(ErrScriptTooLarge,
				"script size %d is larger than max allowed size %d", len(s), MaxScriptSize)
		}
		pops, err := parseScript(s)
		if err != nil {
			return nil, err
		}
		vm.scripts = append(vm.scripts, pops)
	}

	for vm.scriptIdx < len(vm.scripts) && len(vm.scripts[vm.scriptIdx]) == 0 {
		vm.scriptIdx++
	}
	return &vm, nil
}

// isBranchExecuting reports whether the current conditional branch runs.
func (vm *Engine) isBranchExecuting() bool {
	if len(vm.condStack) == 0 {
		return true
	}
	return vm.condStack[len(vm.condStack)-1] == opCondTrue
}

// executeOpcode runs a single instruction, applying the checks that hold
// whether or not the branch is executing.
func (vm *Engine) executeOpcode(pop *parsedOpcode) error {
	if isDisabled(pop.opcode.value) {
		return scriptError(ErrDisabledOpcode, "attempt to execute disabled opcode %s", pop.opcode.name)
	}
	if alwaysIllegal(pop.opcode.value) {
		return scriptError(ErrReservedOpcode, "attempt to execute reserved opcode %s", pop.opcode.name)
	}

	if pop.opcode.value > OP_16 {
		vm.numOps++
		if vm.numOps > MaxOpsPerScript {
			return scriptError(ErrTooManyOperations, "exceeded max operation limit of %d", MaxOpsPerScript)
		}
	} else if len(pop.data) > MaxScriptElementSize {
		return scriptError(ErrElementTooLarge,
			"element size %d exceeds max allowed size %d", len(pop.data), MaxScriptElementSize)
	}

	if !vm.isBranchExecuting() && !isConditional(pop.opcode.value) {
		return nil
	}
	return pop.opcode.exec(pop, vm)
}

// Step executes the next instruction. done is true once the last script has
// finished.
func (vm *Engine) Step() (done bool, err error) {
	if vm.scriptIdx >= len(vm.scripts) {
		return true, scriptError(ErrInternal, "attempt to step past the end of the program")
	}

	pop := &vm.scripts[vm.scriptIdx][vm.scriptOff]
	if err := vm.executeOpcode(pop); err != nil {
		return true, err
	}
	vm.scriptOff++

	if combined := vm.dstack.Depth() + vm.astack.Depth(); combined > MaxStackSize {
		return false, scriptError(ErrStackOverflow,
			"combined stack size %d > max allowed %d", combined, MaxStackSize)
	}

	if vm.scriptOff >= len(vm.scripts[vm.scriptIdx]) {
		if len(vm.condStack) != 0 {
			return false, scriptError(ErrUnbalancedConditional, "end of script reached in conditional execution")
		}

		// The alt stack does not carry between scripts, nor do the
		// per-script counters.
		vm.astack = stack{}
		vm.numOps = 0
		vm.lastCodeSep = 0
		vm.scriptOff = 0
		vm.scriptIdx++
		for vm.scriptIdx < len(vm.scripts) && len(vm.scripts[vm.scriptIdx]) == 0 {
			vm.scriptIdx++
		}
		if vm.scriptIdx >= len(vm.scripts) {
			return true, nil
		}
	}
	return false, nil
}

// Execute runs both scripts to completion. It returns nil only when the
// final stack holds exactly one true element.
func (vm *Engine) Execute() error {
	for vm.scriptIdx < len(vm.scripts) {
		done, err := vm.Step()
		if err != nil {
			return err
		}
		if done {
			break
		}
	}
	return vm.checkFinalStack()
}

func (vm *Engine) checkFinalStack() error {
	if vm.dstack.Depth() < 1 {
		return scriptError(ErrEvalFalse, "stack empty at end of script execution")
	}
	ok, err := vm.dstack.PeekBool(0)
	if err != nil {
		return err
	}
	if !ok {
		if vm.sigErr != nil {
			return vm.sigErr
		}
		return scriptError(ErrEvalFalse, "false stack entry at end of script execution")
	}
	if vm.dstack.Depth() != 1 {
		return scriptError(ErrCleanStack,
			"stack contains %d unexpected items", vm.dstack.Depth()-1)
	}
	return nil
}

// subScript returns the portion of the current script after the most
// recent OP_CODESEPARATOR.
func (vm *Engine) subScript() []parsedOpcode {
	return vm.scripts[vm.scriptIdx][vm.lastCodeSep:]
}

// VerifyInput checks that input idx of tx correctly spends prevOut. It
// keeps no state between calls and is safe to call concurrently.
func VerifyInput(tx *types.Tx, idx int, prevOut *types.TxOut) error {
	if prevOut == nil {
		return scriptError(ErrInternal, "nil previous output")
	}
	vm, err := NewEngine(prevOut.PkScript, tx, idx)
	if err != nil {
		return err
	}
	return vm.Execute()
}
