package script

import (
	"encoding/binary"
	"fmt"
)

// ScriptBuilder assembles scripts using minimal pushes. The first error
// sticks and is returned by Script.
type ScriptBuilder struct {
	script []byte
	err    error
}

// NewScriptBuilder returns an empty builder.
func NewScriptBuilder() *ScriptBuilder {
	return &ScriptBuilder{script: make([]byte, 0, 64)}
}

// AddOp appends an opcode.
func (b *ScriptBuilder) AddOp(op byte) *ScriptBuilder {
	if b.err != nil {
		return b
	}
	if len(b.script)+1 > MaxScriptSize {
		b.err = fmt.Errorf("adding opcode would exceed max script size %d", MaxScriptSize)
		return b
	}
	b.script = append(b.script, op)
	return b
}

// AddOps appends several opcodes.
func (b *ScriptBuilder) AddOps(ops ...byte) *ScriptBuilder {
	for _, op := range ops {
		b.AddOp(op)
	}
	return b
}

// AddData appends the minimal push of data.
func (b *ScriptBuilder) AddData(data []byte) *ScriptBuilder {
	if b.err != nil {
		return b
	}
	if len(data) > MaxScriptElementSize {
		b.err = fmt.Errorf("push of %d bytes exceeds max element size %d", len(data), MaxScriptElementSize)
		return b
	}
	b.script = appendMinimalPush(b.script, data)
	return b
}

// AddInt64 appends n using OP_0, OP_1NEGATE or OP_1-OP_16 when possible.
func (b *ScriptBuilder) AddInt64(n int64) *ScriptBuilder {
	switch {
	case n == 0:
		return b.AddOp(OP_0)
	case n == -1:
		return b.AddOp(OP_1NEGATE)
	case n >= 1 && n <= 16:
		return b.AddOp(byte(OP_1 - 1 + n))
	}
	return b.AddData(scriptNum(n).Bytes())
}

// Script returns the assembled script.
func (b *ScriptBuilder) Script() ([]byte, error) {
	return b.script, b.err
}

func appendMinimalPush(s, data []byte) []byte {
	n := len(data)
	switch {
	case n == 0:
		return append(s, OP_0)
	case n == 1 && data[0] >= 1 && data[0] <= 16:
		return append(s, OP_1-1+data[0])
	case n == 1 && data[0] == 0x81:
		return append(s, OP_1NEGATE)
	case n <= OP_DATA_75:
		s = append(s, byte(n))
	case n <= 0xff:
		s = append(s, OP_PUSHDATA1, byte(n))
	case n <= 0xffff:
		s = binary.LittleEndian.AppendUint16(append(s, OP_PUSHDATA2), uint16(n))
	default:
		s = binary.LittleEndian.AppendUint32(append(s, OP_PUSHDATA4), uint32(n))
	}
	return append(s, data...)
}
