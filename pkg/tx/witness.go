package tx

// Taproot witness constants.
const (
	// AnnexTag marks the last witness item as an annex.
	AnnexTag = 0x50

	// ControlBaseSize is the control block length with an empty path.
	ControlBaseSize = 33

	// ControlNodeSize is the size of each merkle path element.
	ControlNodeSize = 32

	// ControlMaxNodeCount is the deepest merkle path a control block may carry.
	ControlMaxNodeCount = 128

	// ControlMaxSize is the largest valid control block.
	ControlMaxSize = ControlBaseSize + ControlNodeSize*ControlMaxNodeCount
)

// Spend type bits returned by Witness.SpendType.
const (
	SpendTypeAnnex  = 1 << 0
	SpendTypeScript = 1 << 1
)

// Witness is the ordered list of witness stack items of an input.
type Witness [][]byte

// Annex returns the annex when the witness has at least two items and the
// last one starts with AnnexTag. A single item is never an annex, even if
// it begins with AnnexTag.
//
// The rule is applied to any witness; callers that need taproot-only
// semantics must check the spent output first.
func (w Witness) Annex() []byte {
	if len(w) < 2 {
		return nil
	}
	last := w[len(w)-1]
	if len(last) > 0 && last[0] == AnnexTag {
		return last
	}
	return nil
}

// Stack returns the witness items with any annex removed.
func (w Witness) Stack() Witness {
	if w.Annex() != nil {
		return w[:len(w)-1]
	}
	return w
}

// IsControlBlock reports whether b has a valid control block length:
// 33 + 32k bytes for 0 <= k <= 128.
func IsControlBlock(b []byte) bool {
	if len(b) < ControlBaseSize || len(b) > ControlMaxSize {
		return false
	}
	return (len(b)-ControlBaseSize)%ControlNodeSize == 0
}

// SpendType returns the taproot spend type bits: SpendTypeAnnex when an
// annex is present, SpendTypeScript when at least two items remain after
// removing it and the last one is shaped like a control block.
//
// Script validation is stricter: any two or more items are a script path
// and a last item of the wrong size fails the spend. Such a witness is
// reported here as a key-path spend.
func (w Witness) SpendType() byte {
	var st byte
	if w.Annex() != nil {
		st |= SpendTypeAnnex
	}
	stack := w.Stack()
	if len(stack) >= 2 && IsControlBlock(stack[len(stack)-1]) {
		st |= SpendTypeScript
	}
	return st
}

// Tapleaf returns the revealed script of a script-path spend, which is the
// second-to-last item after removing the annex. Returns nil for key-path
// spends.
func (w Witness) Tapleaf() []byte {
	if w.SpendType()&SpendTypeScript == 0 {
		return nil
	}
	stack := w.Stack()
	return stack[len(stack)-2]
}

// ControlBlock returns the last item after removing the annex for a
// script-path spend, or nil.
func (w Witness) ControlBlock() []byte {
	if w.SpendType()&SpendTypeScript == 0 {
		return nil
	}
	stack := w.Stack()
	return stack[len(stack)-1]
}

// SerializeSize returns the encoded witness length.
func (w Witness) SerializeSize() int {
	n := VarIntSize(uint64(len(w)))
	for _, item := range w {
		n += VarIntSize(uint64(len(item))) + len(item)
	}
	return n
}

// AppendTo appends the witness encoding: count, then each item as varbytes.
func (w Witness) AppendTo(buf []byte) []byte {
	buf = AppendVarInt(buf, uint64(len(w)))
	for _, item := range w {
		buf = AppendVarBytes(buf, item)
	}
	return buf
}

// Copy returns a deep copy of the witness.
func (w Witness) Copy() Witness {
	if w == nil {
		return nil
	}
	c := make(Witness, len(w))
	for i, item := range w {
		c[i] = append([]byte(nil), item...)
	}
	return c
}
