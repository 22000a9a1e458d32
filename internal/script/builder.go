package script

import (
	"fmt"

	"github.com/djkazic/wizards-wallet/pkg/util"
)

// Builder assembles scripts using minimal pushes. The first error sticks
// and is returned by Script.
type Builder struct {
	script []byte
	err    error
}

func NewBuilder() *Builder {
	return &Builder{script: make([]byte, 0, 64)}
}

// AddOp appends a single opcode.
func (b *Builder) AddOp(op byte) *Builder {
	if b.err != nil {
		return b
	}
	if len(b.script)+1 > MaxScriptSize {
		b.err = fmt.Errorf("adding opcode would exceed the maximum script size of %d", MaxScriptSize)
		return b
	}
	b.script = append(b.script, op)
	return b
}

// AddData pushes data with the smallest encoding that represents it.
func (b *Builder) AddData(data []byte) *Builder {
	if b.err != nil {
		return b
	}
	if len(data) > MaxScriptElementSize {
		b.err = fmt.Errorf("push of %d bytes exceeds the element limit of %d", len(data), MaxScriptElementSize)
		return b
	}
	if len(b.script)+len(data)+5 > MaxScriptSize {
		b.err = fmt.Errorf("push of %d bytes would exceed the maximum script size of %d", len(data), MaxScriptSize)
		return b
	}
	b.script = appendPush(b.script, data)
	return b
}

func appendPush(script, data []byte) []byte {
	n := len(data)
	switch {
	case n == 0:
		return append(script, OP_0)
	case n == 1 && data[0] >= 1 && data[0] <= 16:
		return append(script, OP_1-1+data[0])
	case n == 1 && data[0] == 0x81:
		return append(script, OP_1NEGATE)
	}
	script = append(script, util.WriteScriptLen(n)...)
	return append(script, data...)
}

// AddInt64 pushes val as a script number, using OP_0, OP_1NEGATE and
// OP_1..OP_16 for the small values.
func (b *Builder) AddInt64(val int64) *Builder {
	if b.err != nil {
		return b
	}
	switch {
	case val == 0:
		return b.AddOp(OP_0)
	case val == -1:
		return b.AddOp(OP_1NEGATE)
	case val >= 1 && val <= 16:
		return b.AddOp(byte(OP_1 - 1 + val))
	}
	return b.AddData(scriptNum(val).Bytes())
}

// Script returns the assembled bytes.
func (b *Builder) Script() ([]byte, error) {
	return b.script, b.err
}
