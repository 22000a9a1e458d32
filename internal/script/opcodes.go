package script

import "fmt"

// Opcode values. Only the ones referenced by name in this package or by
// callers building scripts are listed; the rest of the table is populated
// in init.
const (
	OP_0                   = 0x00
	OP_FALSE               = 0x00
	OP_DATA_1              = 0x01
	OP_DATA_20             = 0x14
	OP_DATA_33             = 0x21
	OP_DATA_75             = 0x4b
	OP_PUSHDATA1           = 0x4c
	OP_PUSHDATA2           = 0x4d
	OP_PUSHDATA4           = 0x4e
	OP_1NEGATE             = 0x4f
	OP_RESERVED            = 0x50
	OP_1                   = 0x51
	OP_TRUE                = 0x51
	OP_2                   = 0x52
	OP_3                   = 0x53
	OP_16                  = 0x60
	OP_NOP                 = 0x61
	OP_VER                 = 0x62
	OP_IF                  = 0x63
	OP_NOTIF               = 0x64
	OP_VERIF               = 0x65
	OP_VERNOTIF            = 0x66
	OP_ELSE                = 0x67
	OP_ENDIF               = 0x68
	OP_VERIFY              = 0x69
	OP_RETURN              = 0x6a
	OP_TOALTSTACK          = 0x6b
	OP_FROMALTSTACK        = 0x6c
	OP_2DROP               = 0x6d
	OP_2DUP                = 0x6e
	OP_3DUP                = 0x6f
	OP_2OVER               = 0x70
	OP_2ROT                = 0x71
	OP_2SWAP               = 0x72
	OP_IFDUP               = 0x73
	OP_DEPTH               = 0x74
	OP_DROP                = 0x75
	OP_DUP                 = 0x76
	OP_NIP                 = 0x77
	OP_OVER                = 0x78
	OP_PICK                = 0x79
	OP_ROLL                = 0x7a
	OP_ROT                 = 0x7b
	OP_SWAP                = 0x7c
	OP_TUCK                = 0x7d
	OP_CAT                 = 0x7e
	OP_SUBSTR              = 0x7f
	OP_LEFT                = 0x80
	OP_RIGHT               = 0x81
	OP_SIZE                = 0x82
	OP_INVERT              = 0x83
	OP_AND                 = 0x84
	OP_OR                  = 0x85
	OP_XOR                 = 0x86
	OP_EQUAL               = 0x87
	OP_EQUALVERIFY         = 0x88
	OP_RESERVED1           = 0x89
	OP_RESERVED2           = 0x8a
	OP_1ADD                = 0x8b
	OP_1SUB                = 0x8c
	OP_2MUL                = 0x8d
	OP_2DIV                = 0x8e
	OP_NEGATE              = 0x8f
	OP_ABS                 = 0x90
	OP_NOT                 = 0x91
	OP_0NOTEQUAL           = 0x92
	OP_ADD                 = 0x93
	OP_SUB                 = 0x94
	OP_MUL                 = 0x95
	OP_DIV                 = 0x96
	OP_MOD                 = 0x97
	OP_LSHIFT              = 0x98
	OP_RSHIFT              = 0x99
	OP_BOOLAND             = 0x9a
	OP_BOOLOR              = 0x9b
	OP_NUMEQUAL            = 0x9c
	OP_NUMEQUALVERIFY      = 0x9d
	OP_NUMNOTEQUAL         = 0x9e
	OP_LESSTHAN            = 0x9f
	OP_GREATERTHAN         = 0xa0
	OP_LESSTHANOREQUAL     = 0xa1
	OP_GREATERTHANOREQUAL  = 0xa2
	OP_MIN                 = 0xa3
	OP_MAX                 = 0xa4
	OP_WITHIN              = 0xa5
	OP_RIPEMD160           = 0xa6
	OP_SHA1                = 0xa7
	OP_SHA256              = 0xa8
	OP_HASH160             = 0xa9
	OP_HASH256             = 0xaa
	OP_CODESEPARATOR       = 0xab
	OP_CHECKSIG            = 0xac
	OP_CHECKSIGVERIFY      = 0xad
	OP_CHECKMULTISIG       = 0xae
	OP_CHECKMULTISIGVERIFY = 0xaf
	OP_NOP1                = 0xb0
	OP_CHECKLOCKTIMEVERIFY = 0xb1
	OP_CHECKSEQUENCEVERIFY = 0xb2
	OP_NOP4                = 0xb4
	OP_NOP10               = 0xb9
)

// opcode describes one entry of the dispatch table. length is 1 for plain
// opcodes, the total size for fixed data pushes, and -1/-2/-4 for the
// OP_PUSHDATA variants whose length prefix follows the opcode.
type opcode struct {
	value  byte
	name   string
	length int
	exec   func(*parsedOpcode, *Engine) error
}

// opcodeArray maps every byte value to its behavior. Bytes without a
// defined opcode resolve to opcodeInvalid. Populated in init because the
// crypto handlers reach back into the parser.
var opcodeArray [256]opcode

var opcodeNames = map[byte]string{
	OP_0: "OP_0", OP_PUSHDATA1: "OP_PUSHDATA1", OP_PUSHDATA2: "OP_PUSHDATA2", OP_PUSHDATA4: "OP_PUSHDATA4",
	OP_1NEGATE: "OP_1NEGATE", OP_RESERVED: "OP_RESERVED", OP_NOP: "OP_NOP", OP_VER: "OP_VER",
	OP_IF: "OP_IF", OP_NOTIF: "OP_NOTIF", OP_VERIF: "OP_VERIF", OP_VERNOTIF: "OP_VERNOTIF",
	OP_ELSE: "OP_ELSE", OP_ENDIF: "OP_ENDIF", OP_VERIFY: "OP_VERIFY", OP_RETURN: "OP_RETURN",
	OP_TOALTSTACK: "OP_TOALTSTACK", OP_FROMALTSTACK: "OP_FROMALTSTACK", OP_2DROP: "OP_2DROP",
	OP_2DUP: "OP_2DUP", OP_3DUP: "OP_3DUP", OP_2OVER: "OP_2OVER", OP_2ROT: "OP_2ROT", OP_2SWAP: "OP_2SWAP",
	OP_IFDUP: "OP_IFDUP", OP_DEPTH: "OP_DEPTH", OP_DROP: "OP_DROP", OP_DUP: "OP_DUP", OP_NIP: "OP_NIP",
	OP_OVER: "OP_OVER", OP_PICK: "OP_PICK", OP_ROLL: "OP_ROLL", OP_ROT: "OP_ROT", OP_SWAP: "OP_SWAP",
	OP_TUCK: "OP_TUCK", OP_CAT: "OP_CAT", OP_SUBSTR: "OP_SUBSTR", OP_LEFT: "OP_LEFT", OP_RIGHT: "OP_RIGHT",
	OP_SIZE: "OP_SIZE", OP_INVERT: "OP_INVERT", OP_AND: "OP_AND", OP_OR: "OP_OR", OP_XOR: "OP_XOR",
	OP_EQUAL: "OP_EQUAL", OP_EQUALVERIFY: "OP_EQUALVERIFY", OP_RESERVED1: "OP_RESERVED1",
	OP_RESERVED2: "OP_RESERVED2", OP_1ADD: "OP_1ADD", OP_1SUB: "OP_1SUB", OP_2MUL: "OP_2MUL",
	OP_2DIV: "OP_2DIV", OP_NEGATE: "OP_NEGATE", OP_ABS: "OP_ABS", OP_NOT: "OP_NOT",
	OP_0NOTEQUAL: "OP_0NOTEQUAL", OP_ADD: "OP_ADD", OP_SUB: "OP_SUB", OP_MUL: "OP_MUL", OP_DIV: "OP_DIV",
	OP_MOD: "OP_MOD", OP_LSHIFT: "OP_LSHIFT", OP_RSHIFT: "OP_RSHIFT", OP_BOOLAND: "OP_BOOLAND",
	OP_BOOLOR: "OP_BOOLOR", OP_NUMEQUAL: "OP_NUMEQUAL", OP_NUMEQUALVERIFY: "OP_NUMEQUALVERIFY",
	OP_NUMNOTEQUAL: "OP_NUMNOTEQUAL", OP_LESSTHAN: "OP_LESSTHAN", OP_GREATERTHAN: "OP_GREATERTHAN",
	OP_LESSTHANOREQUAL: "OP_LESSTHANOREQUAL", OP_GREATERTHANOREQUAL: "OP_GREATERTHANOREQUAL",
	OP_MIN: "OP_MIN", OP_MAX: "OP_MAX", OP_WITHIN: "OP_WITHIN", OP_RIPEMD160: "OP_RIPEMD160",
	OP_SHA1: "OP_SHA1", OP_SHA256: "OP_SHA256", OP_HASH160: "OP_HASH160", OP_HASH256: "OP_HASH256",
	OP_CODESEPARATOR: "OP_CODESEPARATOR", OP_CHECKSIG: "OP_CHECKSIG", OP_CHECKSIGVERIFY: "OP_CHECKSIGVERIFY",
	OP_CHECKMULTISIG: "OP_CHECKMULTISIG", OP_CHECKMULTISIGVERIFY: "OP_CHECKMULTISIGVERIFY",
	OP_NOP1: "OP_NOP1", OP_CHECKLOCKTIMEVERIFY: "OP_CHECKLOCKTIMEVERIFY",
	OP_CHECKSEQUENCEVERIFY: "OP_CHECKSEQUENCEVERIFY",
}

var opcodeHandlers = map[byte]func(*parsedOpcode, *Engine) error{
	OP_0:        opcodeFalse,
	OP_1NEGATE:  opcode1Negate,
	OP_RESERVED: opcodeReserved,
	OP_NOP:      opcodeNop,
	OP_VER:      opcodeReserved,
	OP_IF:       opcodeIf,
	OP_NOTIF:    opcodeNotIf,
	OP_VERIF:    opcodeReserved,
	OP_VERNOTIF: opcodeReserved,
	OP_ELSE:     opcodeElse,
	OP_ENDIF:    opcodeEndif,
	OP_VERIFY:   opcodeVerify,
	OP_RETURN:   opcodeReturn,

	OP_TOALTSTACK:   opcodeToAltStack,
	OP_FROMALTSTACK: opcodeFromAltStack,
	OP_2DROP:        opcode2Drop,
	OP_2DUP:         opcode2Dup,
	OP_3DUP:         opcode3Dup,
	OP_2OVER:        opcode2Over,
	OP_2ROT:         opcode2Rot,
	OP_2SWAP:        opcode2Swap,
	OP_IFDUP:        opcodeIfDup,
	OP_DEPTH:        opcodeDepth,
	OP_DROP:         opcodeDrop,
	OP_DUP:          opcodeDup,
	OP_NIP:          opcodeNip,
	OP_OVER:         opcodeOver,
	OP_PICK:         opcodePick,
	OP_ROLL:         opcodeRoll,
	OP_ROT:          opcodeRot,
	OP_SWAP:         opcodeSwap,
	OP_TUCK:         opcodeTuck,

	OP_CAT:    opcodeDisabled,
	OP_SUBSTR: opcodeDisabled,
	OP_LEFT:   opcodeDisabled,
	OP_RIGHT:  opcodeDisabled,
	OP_SIZE:   opcodeSize,

	OP_INVERT:      opcodeDisabled,
	OP_AND:         opcodeDisabled,
	OP_OR:          opcodeDisabled,
	OP_XOR:         opcodeDisabled,
	OP_EQUAL:       opcodeEqual,
	OP_EQUALVERIFY: opcodeEqualVerify,
	OP_RESERVED1:   opcodeReserved,
	OP_RESERVED2:   opcodeReserved,

	OP_1ADD:               opcode1Add,
	OP_1SUB:               opcode1Sub,
	OP_2MUL:               opcodeDisabled,
	OP_2DIV:               opcodeDisabled,
	OP_NEGATE:             opcodeNegate,
	OP_ABS:                opcodeAbs,
	OP_NOT:                opcodeNot,
	OP_0NOTEQUAL:          opcode0NotEqual,
	OP_ADD:                opcodeAdd,
	OP_SUB:                opcodeSub,
	OP_MUL:                opcodeDisabled,
	OP_DIV:                opcodeDisabled,
	OP_MOD:                opcodeDisabled,
	OP_LSHIFT:             opcodeDisabled,
	OP_RSHIFT:             opcodeDisabled,
	OP_BOOLAND:            opcodeBoolAnd,
	OP_BOOLOR:             opcodeBoolOr,
	OP_NUMEQUAL:           opcodeNumEqual,
	OP_NUMEQUALVERIFY:     opcodeNumEqualVerify,
	OP_NUMNOTEQUAL:        opcodeNumNotEqual,
	OP_LESSTHAN:           opcodeLessThan,
	OP_GREATERTHAN:        opcodeGreaterThan,
	OP_LESSTHANOREQUAL:    opcodeLessThanOrEqual,
	OP_GREATERTHANOREQUAL: opcodeGreaterThanOrEqual,
	OP_MIN:                opcodeMin,
	OP_MAX:                opcodeMax,
	OP_WITHIN:             opcodeWithin,

	OP_RIPEMD160:           opcodeRipemd160,
	OP_SHA1:                opcodeSha1,
	OP_SHA256:              opcodeSha256,
	OP_HASH160:             opcodeHash160,
	OP_HASH256:             opcodeHash256,
	OP_CODESEPARATOR:       opcodeCodeSeparator,
	OP_CHECKSIG:            opcodeCheckSig,
	OP_CHECKSIGVERIFY:      opcodeCheckSigVerify,
	OP_CHECKMULTISIG:       opcodeCheckMultiSig,
	OP_CHECKMULTISIGVERIFY: opcodeCheckMultiSigVerify,

	// Soft-fork locktime opcodes run as NOPs; lock time policy is not
	// enforced by this engine.
	OP_NOP1:                opcodeNop,
	OP_CHECKLOCKTIMEVERIFY: opcodeNop,
	OP_CHECKSEQUENCEVERIFY: opcodeNop,
}

func init() {
	for i := 0; i < 256; i++ {
		b := byte(i)
		op := opcode{value: b, length: 1, exec: opcodeInvalid}
		switch {
		case b == OP_0:
			op.name = "OP_0"
		case b >= OP_DATA_1 && b <= OP_DATA_75:
			op.name = fmt.Sprintf("OP_DATA_%d", b)
			op.length = int(b) + 1
			op.exec = opcodePushData
		case b == OP_PUSHDATA1:
			op.length, op.exec = -1, opcodePushData
		case b == OP_PUSHDATA2:
			op.length, op.exec = -2, opcodePushData
		case b == OP_PUSHDATA4:
			op.length, op.exec = -4, opcodePushData
		case b >= OP_1 && b <= OP_16:
			op.name = fmt.Sprintf("OP_%d", b-OP_1+1)
			op.exec = opcodeN
		case b >= OP_NOP4 && b <= OP_NOP10:
			op.name = fmt.Sprintf("OP_NOP%d", b-OP_NOP4+4)
			op.exec = opcodeNop
		}
		if name, ok := opcodeNames[b]; ok {
			op.name = name
		}
		if h, ok := opcodeHandlers[b]; ok {
			op.exec = h
		}
		if op.name == "" {
			op.name = fmt.Sprintf("OP_UNKNOWN%d", b)
		}
		opcodeArray[i] = op
	}
}

// isDisabled reports whether the opcode fails a script merely by
// appearing in it, executed branch or not.
func isDisabled(b byte) bool {
	switch b {
	case OP_CAT, OP_SUBSTR, OP_LEFT, OP_RIGHT, OP_INVERT, OP_AND, OP_OR, OP_XOR,
		OP_2MUL, OP_2DIV, OP_MUL, OP_DIV, OP_MOD, OP_LSHIFT, OP_RSHIFT:
		return true
	}
	return false
}

// alwaysIllegal opcodes fail even inside an unexecuted branch.
func alwaysIllegal(b byte) bool {
	return b == OP_VERIF || b == OP_VERNOTIF
}

func isConditional(b byte) bool {
	return b >= OP_IF && b <= OP_ENDIF
}

// OpcodeName returns the canonical name of an opcode byte.
func OpcodeName(b byte) string {
	return opcodeArray[b].name
}
