package script

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

// checkSig verifies one signature-with-hashtype against a public key over
// the given subscript. Encoding problems make the check false rather than
// failing the script; the reason is kept for the final error. A signature
// that does not parse counts as one that does not verify.
func (vm *Engine) checkSig(sigBytes, pkBytes []byte, subScript []parsedOpcode) bool {
	if len(sigBytes) == 0 {
		return false
	}

	hashType := SigHashType(sigBytes[len(sigBytes)-1])
	sigDER := sigBytes[:len(sigBytes)-1]

	pubKey, err := btcec.ParsePubKey(pkBytes)
	if err != nil {
		vm.noteSigFailure(ErrInvalidPubKey, "unable to parse public key: %v", err)
		return false
	}
	sig, err := ecdsa.ParseSignature(sigDER)
	if err != nil {
		vm.noteSigFailure(ErrSignatureVerificationFailed, "malformed signature: %v", err)
		return false
	}

	hash := calcSignatureHash(subScript, hashType, vm.tx, vm.txIdx)
	if !sig.Verify(hash, pubKey) {
		vm.noteSigFailure(ErrSignatureVerificationFailed, "signature does not match public key")
		return false
	}
	return true
}

func (vm *Engine) noteSigFailure(code ErrorCode, format string, args ...interface{}) {
	vm.sigErr = scriptError(code, format, args...)
}

func opcodeCheckSig(op *parsedOpcode, vm *Engine) error {
	pkBytes, err := vm.dstack.PopByteArray()
	if err != nil {
		return err
	}
	sigBytes, err := vm.dstack.PopByteArray()
	if err != nil {
		return err
	}

	// The signature cannot sign itself, so every push of it is removed
	// from the subscript first.
	subScript := removeOpcodeByData(vm.subScript(), sigBytes)
	vm.dstack.PushBool(vm.checkSig(sigBytes, pkBytes, subScript))
	return nil
}

func opcodeCheckSigVerify(op *parsedOpcode, vm *Engine) error {
	if err := opcodeCheckSig(op, vm); err != nil {
		return err
	}
	return vm.verifySig(op)
}

// verifySig pops the result of a signature opcode and fails the script on
// false, reporting the underlying signature problem when there was one.
func (vm *Engine) verifySig(op *parsedOpcode) error {
	ok, err := vm.dstack.PopBool()
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	if vm.sigErr != nil {
		return vm.sigErr
	}
	return scriptError(ErrVerifyFailed, "%s failed", op.opcode.name)
}

// opcodeCheckMultiSig: dummy [sig ...] numsigs [pubkey ...] numpubkeys.
// Signatures must appear in the same order as their keys. One extra item
// is consumed below the signatures (the historical off-by-one).
func opcodeCheckMultiSig(op *parsedOpcode, vm *Engine) error {
	numKeys, err := vm.dstack.PopInt()
	if err != nil {
		return err
	}
	numPubKeys := int(numKeys.Int32())
	if numPubKeys < 0 || numPubKeys > MaxPubKeysPerMultiSig {
		return scriptError(ErrInvalidPubKeyCount,
			"number of pubkeys %d is out of range [0, %d]", numPubKeys, MaxPubKeysPerMultiSig)
	}
	vm.numOps += numPubKeys
	if vm.numOps > MaxOpsPerScript {
		return scriptError(ErrTooManyOperations, "exceeded max operation limit of %d", MaxOpsPerScript)
	}

	pubKeys := make([][]byte, 0, numPubKeys)
	for i := 0; i < numPubKeys; i++ {
		pk, err := vm.dstack.PopByteArray()
		if err != nil {
			return err
		}
		pubKeys = append(pubKeys, pk)
	}

	sigCount, err := vm.dstack.PopInt()
	if err != nil {
		return err
	}
	numSigs := int(sigCount.Int32())
	if numSigs < 0 || numSigs > numPubKeys {
		return scriptError(ErrInvalidSignatureCount,
			"number of signatures %d is out of range [0, %d]", numSigs, numPubKeys)
	}

	sigs := make([][]byte, 0, numSigs)
	for i := 0; i < numSigs; i++ {
		sig, err := vm.dstack.PopByteArray()
		if err != nil {
			return err
		}
		sigs = append(sigs, sig)
	}

	if _, err := vm.dstack.PopByteArray(); err != nil {
		return err
	}

	subScript := vm.subScript()
	for _, sig := range sigs {
		subScript = removeOpcodeByData(subScript, sig)
	}

	success := true
	pubKeyIdx, sigIdx := 0, 0
	for numSigs > 0 {
		if vm.checkSig(sigs[sigIdx], pubKeys[pubKeyIdx], subScript) {
			sigIdx++
			numSigs--
		}
		pubKeyIdx++
		numPubKeys--

		// More signatures left than keys to match them against.
		if numSigs > numPubKeys {
			success = false
			break
		}
	}

	vm.dstack.PushBool(success)
	return nil
}

func opcodeCheckMultiSigVerify(op *parsedOpcode, vm *Engine) error {
	if err := opcodeCheckMultiSig(op, vm); err != nil {
		return err
	}
	return vm.verifySig(op)
}
