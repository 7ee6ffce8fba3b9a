package script

const (
	// maxScriptNumLen is the default operand size for numeric opcodes.
	maxScriptNumLen = 4

	// lockTimeNumLen is the operand size accepted by CLTV and CSV.
	lockTimeNumLen = 5
)

// scriptNum is a number as seen by numeric opcodes: little-endian with a
// sign bit in the most significant byte.
//
// Operands are limited to 4 bytes, but results may overflow into 5 bytes
// and still be pushed back onto the stack.
type scriptNum int64

// checkMinimalDataEncoding returns ErrMinimalData when v has superfluous
// high-order bytes.
func checkMinimalDataEncoding(v []byte) error {
	if len(v) == 0 {
		return nil
	}
	// The last byte may only be 0x00 or 0x80 if the next byte needs its
	// sign bit.
	if v[len(v)-1]&0x7f == 0 {
		if len(v) == 1 || v[len(v)-2]&0x80 == 0 {
			return scriptErrorf(ErrMinimalData, "numeric value encoded as %x is not minimally encoded", v)
		}
	}
	return nil
}

// Bytes returns the minimal encoding of n.
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

// Int32 returns n clamped to the int32 range.
func (n scriptNum) Int32() int32 {
	if n > 2147483647 {
		return 2147483647
	}
	if n < -2147483648 {
		return -2147483648
	}
	return int32(n)
}

// makeScriptNum decodes v, rejecting values longer than numLen bytes and,
// when requireMinimal is set, non-minimal encodings.
func makeScriptNum(v []byte, requireMinimal bool, numLen int) (scriptNum, error) {
	if len(v) > numLen {
		return 0, scriptErrorf(ErrNumberTooBig,
			"numeric value encoded as %x is %d bytes which exceeds the max allowed of %d", v, len(v), numLen)
	}
	if requireMinimal {
		if err := checkMinimalDataEncoding(v); err != nil {
			return 0, err
		}
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
