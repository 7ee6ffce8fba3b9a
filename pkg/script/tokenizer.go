package script

import "encoding/binary"

// tokenizer walks a script one opcode at a time without allocating.
type tokenizer struct {
	script []byte
	offset int
	op     *opcode
	data   []byte
	err    error
}

func newTokenizer(script []byte) tokenizer {
	return tokenizer{script: script}
}

// Next advances to the next opcode. It returns false at the end of the
// script or on a malformed push, in which case Err is set.
func (t *tokenizer) Next() bool {
	if t.err != nil || t.offset >= len(t.script) {
		return false
	}
	op, data, next, err := parseOpAt(t.script, t.offset)
	if err != nil {
		t.err = err
		return false
	}
	t.op, t.data, t.offset = op, data, next
	return true
}

// Done reports whether the tokenizer stopped, either at the end or on error.
func (t *tokenizer) Done() bool {
	return t.err != nil || t.offset >= len(t.script)
}

// ByteIndex returns the offset just past the current opcode.
func (t *tokenizer) ByteIndex() int {
	return t.offset
}

// Err returns the parse error, if any.
func (t *tokenizer) Err() error {
	return t.err
}

// parseOpAt decodes the opcode at offset and returns it with its push data
// and the offset of the following opcode.
func parseOpAt(script []byte, offset int) (*opcode, []byte, int, error) {
	op := &opcodeArray[script[offset]]
	switch {
	case op.length == 1:
		return op, nil, offset + 1, nil

	case op.length > 1:
		end := offset + op.length
		if end > len(script) {
			return nil, nil, 0, scriptErrorf(ErrMalformedPush,
				"opcode %s requires %d bytes, only %d remaining", op.name, op.length, len(script)-offset)
		}
		return op, script[offset+1 : end], end, nil

	default:
		n := -op.length
		start := offset + 1 + n
		if start > len(script) {
			return nil, nil, 0, scriptErrorf(ErrMalformedPush,
				"opcode %s requires %d length bytes", op.name, n)
		}
		var dataLen uint64
		switch n {
		case 1:
			dataLen = uint64(script[offset+1])
		case 2:
			dataLen = uint64(binary.LittleEndian.Uint16(script[offset+1:]))
		case 4:
			dataLen = uint64(binary.LittleEndian.Uint32(script[offset+1:]))
		}
		if dataLen > uint64(len(script)-start) {
			return nil, nil, 0, scriptErrorf(ErrMalformedPush,
				"opcode %s pushes %d bytes, only %d remaining", op.name, dataLen, len(script)-start)
		}
		end := start + int(dataLen)
		return op, script[start:end], end, nil
	}
}

// checkScriptParses returns the first parse error in script, if any.
func checkScriptParses(script []byte) error {
	t := newTokenizer(script)
	for t.Next() {
	}
	return t.Err()
}
