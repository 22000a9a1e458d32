package script

const (
	// MaxScriptSize is the largest script, in bytes, the engine will run.
	MaxScriptSize = 10000
	// MaxScriptElementSize is the largest single stack element.
	MaxScriptElementSize = 520
	// MaxStackSize bounds the combined size of the main and alt stacks.
	MaxStackSize = 1000
	// MaxOpsPerScript counts non-push opcodes, executed or not.
	MaxOpsPerScript = 201
	// MaxPubKeysPerMultiSig bounds the key count of OP_CHECKMULTISIG.
	MaxPubKeysPerMultiSig = 20

	defaultScriptNumLen = 4
)

// scriptNum is a stack integer. Operands are little-endian sign-magnitude
// and limited to four bytes; results may grow past that and are only
// rejected if consumed again as operands.
type scriptNum int64

// makeScriptNum decodes v. Non-minimal encodings are accepted.
func makeScriptNum(v []byte, maxLen int) (scriptNum, error) {
	if len(v) > maxLen {
		return 0, scriptError(ErrNumberTooBig,
			"numeric value encoded as %x is %d bytes which exceeds the max of %d", v, len(v), maxLen)
	}
	if len(v) == 0 {
		return 0, nil
	}

	var result int64
	for i, b := range v {
		result |= int64(b) << uint8(8*i)
	}

	if v[len(v)-1]&0x80 != 0 {
		result &= ^(int64(0x80) << uint8(8*(len(v)-1)))
		return scriptNum(-result), nil
	}
	return scriptNum(result), nil
}

// Bytes returns the minimal encoding of n. Zero encodes as an empty slice.
func (n scriptNum) Bytes() []byte {
	if n == 0 {
		return nil
	}

	negative := n < 0
	if negative {
		n = -n
	}

	result := make([]byte, 0, 9)
	for n > 0 {
		result = append(result, byte(n&0xff))
		n >>= 8
	}

	// The sign lives in the top bit of the last byte. If the magnitude
	// already uses that bit, add a byte to hold it.
	if result[len(result)-1]&0x80 != 0 {
		extra := byte(0x00)
		if negative {
			extra = 0x80
		}
		result = append(result, extra)
	} else if negative {
		result[len(result)-1] |= 0x80
	}
	return result
}

// Int32 clamps n to the int32 range.
func (n scriptNum) Int32() int32 {
	if n > 2147483647 {
		return 2147483647
	}
	if n < -2147483648 {
		return -2147483648
	}
	return int32(n)
}

// asBool applies the script truth rule: any non-zero byte is true, except
// a lone sign bit in the final byte (negative zero).
func asBool(t []byte) bool {
	for i := range t {
		if t[i] != 0 {
			if i == len(t)-1 && t[i] == 0x80 {
				return false
			}
			return true
		}
	}
	return false
}

func fromBool(v bool) []byte {
	if v {
		return []byte{1}
	}
	return nil
}
