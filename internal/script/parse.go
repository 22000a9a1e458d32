package script

import (
	"encoding/binary"
)

// parsedOpcode is one decoded instruction. raw is the exact byte encoding
// the instruction occupied in its script.
type parsedOpcode struct {
	opcode *opcode
	data   []byte
	raw    []byte
}

func (pop *parsedOpcode) isPush() bool {
	return pop.opcode.value <= OP_16
}

// isCanonicalPush reports whether the push uses the smallest encoding for
// its data.
func (pop *parsedOpcode) isCanonicalPush() bool {
	op := pop.opcode.value
	n := len(pop.data)
	if op > OP_16 {
		return false
	}
	if op < OP_PUSHDATA1 && op > OP_0 && n == 1 && pop.data[0] <= 16 {
		return false
	}
	if op == OP_PUSHDATA1 && n < OP_PUSHDATA1 {
		return false
	}
	if op == OP_PUSHDATA2 && n <= 0xff {
		return false
	}
	if op == OP_PUSHDATA4 && n <= 0xffff {
		return false
	}
	return true
}

// parseScript splits a script into instructions. A push whose declared
// length runs past the end of the script is malformed.
func parseScript(script []byte) ([]parsedOpcode, error) {
	retScript := make([]parsedOpcode, 0, len(script))
	for i := 0; i < len(script); {
		instr := script[i]
		op := &opcodeArray[instr]
		pop := parsedOpcode{opcode: op}

		switch {
		case op.length == 1:
			pop.raw = script[i : i+1]
			i++

		case op.length > 1:
			if len(script[i:]) < op.length {
				return retScript, scriptError(ErrMalformedPush,
					"opcode %s requires %d bytes, but script only has %d remaining",
					op.name, op.length, len(script[i:]))
			}
			pop.data = script[i+1 : i+op.length]
			pop.raw = script[i : i+op.length]
			i += op.length

		default:
			off := i + 1
			prefix := -op.length
			if len(script[off:]) < prefix {
				return retScript, scriptError(ErrMalformedPush,
					"opcode %s requires %d bytes, but script only has %d remaining",
					op.name, prefix, len(script[off:]))
			}

			var l uint64
			switch prefix {
			case 1:
				l = uint64(script[off])
			case 2:
				l = uint64(binary.LittleEndian.Uint16(script[off:]))
			case 4:
				l = uint64(binary.LittleEndian.Uint32(script[off:]))
			}
			off += prefix

			if l > uint64(len(script[off:])) {
				return retScript, scriptError(ErrMalformedPush,
					"opcode %s pushes %d bytes, but script only has %d remaining",
					op.name, l, len(script[off:]))
			}
			end := off + int(l)
			pop.data = script[off:end]
			pop.raw = script[i:end]
			i = end
		}

		retScript = append(retScript, pop)
	}
	return retScript, nil
}

func unparseScript(pops []parsedOpcode) []byte {
	var n int
	for _, pop := range pops {
		n += len(pop.raw)
	}
	script := make([]byte, 0, n)
	for _, pop := range pops {
		script = append(script, pop.raw...)
	}
	return script
}

// removeOpcode drops every instance of the opcode.
func removeOpcode(pops []parsedOpcode, op byte) []parsedOpcode {
	out := make([]parsedOpcode, 0, len(pops))
	for _, pop := range pops {
		if pop.opcode.value != op {
			out = append(out, pop)
		}
	}
	return out
}

// removeOpcodeByData drops every canonical push of data.
func removeOpcodeByData(pops []parsedOpcode, data []byte) []parsedOpcode {
	out := make([]parsedOpcode, 0, len(pops))
	for _, pop := range pops {
		if pop.isCanonicalPush() && string(pop.data) == string(data) {
			continue
		}
		out = append(out, pop)
	}
	return out
}

// IsPushOnly reports whether script parses and contains only push
// instructions.
func IsPushOnly(script []byte) bool {
	pops, err := parseScript(script)
	if err != nil {
		return false
	}
	for i := range pops {
		if !pops[i].isPush() {
			return false
		}
	}
	return true
}
