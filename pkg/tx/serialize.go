package tx

import "encoding/binary"

// Witness serialization markers.
const (
	witnessMarker = 0x00
	witnessFlag   = 0x01
)

// WitnessScaleFactor is the weight multiplier for non-witness bytes.
const WitnessScaleFactor = 4

// VarIntSize returns the encoded length of a compact-size integer.
func VarIntSize(n uint64) int {
	switch {
	case n < 0xfd:
		return 1
	case n <= 0xffff:
		return 3
	case n <= 0xffffffff:
		return 5
	default:
		return 9
	}
}

// AppendVarInt appends n as a compact-size integer.
func AppendVarInt(buf []byte, n uint64) []byte {
	switch {
	case n < 0xfd:
		return append(buf, byte(n))
	case n <= 0xffff:
		buf = append(buf, 0xfd)
		return binary.LittleEndian.AppendUint16(buf, uint16(n))
	case n <= 0xffffffff:
		buf = append(buf, 0xfe)
		return binary.LittleEndian.AppendUint32(buf, uint32(n))
	default:
		buf = append(buf, 0xff)
		return binary.LittleEndian.AppendUint64(buf, n)
	}
}

// AppendVarBytes appends b prefixed by its compact-size length.
func AppendVarBytes(buf, b []byte) []byte {
	buf = AppendVarInt(buf, uint64(len(b)))
	return append(buf, b...)
}

// AppendOutPoint appends the 36-byte outpoint encoding.
func AppendOutPoint(buf []byte, in *Input) []byte {
	buf = append(buf, in.PrevOut.TxID[:]...)
	return binary.LittleEndian.AppendUint32(buf, in.PrevOut.Index)
}

// Serialize returns the output encoding: value(8) | script(varbytes).
func (out *Output) Serialize() []byte {
	buf := make([]byte, 0, 8+VarIntSize(uint64(len(out.Script)))+len(out.Script))
	return out.AppendTo(buf)
}

// AppendTo appends the output encoding to buf.
func (out *Output) AppendTo(buf []byte) []byte {
	buf = binary.LittleEndian.AppendUint64(buf, uint64(out.Value))
	return AppendVarBytes(buf, out.Script)
}

// Serialize returns the full encoding, including witness data when any
// input carries it.
func (tx *Transaction) Serialize() []byte {
	return tx.serialize(tx.HasWitness())
}

// SerializeNoWitness returns the legacy encoding used for the txid.
func (tx *Transaction) SerializeNoWitness() []byte {
	return tx.serialize(false)
}

func (tx *Transaction) serialize(withWitness bool) []byte {
	buf := make([]byte, 0, tx.baseSize()+64)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(tx.Version))
	if withWitness {
		buf = append(buf, witnessMarker, witnessFlag)
	}
	buf = AppendVarInt(buf, uint64(len(tx.Inputs)))
	for i := range tx.Inputs {
		in := &tx.Inputs[i]
		buf = AppendOutPoint(buf, in)
		buf = AppendVarBytes(buf, in.Script)
		buf = binary.LittleEndian.AppendUint32(buf, in.Sequence)
	}
	buf = AppendVarInt(buf, uint64(len(tx.Outputs)))
	for i := range tx.Outputs {
		buf = tx.Outputs[i].AppendTo(buf)
	}
	if withWitness {
		for i := range tx.Inputs {
			buf = tx.Inputs[i].Witness.AppendTo(buf)
		}
	}
	return binary.LittleEndian.AppendUint32(buf, tx.LockTime)
}

func (tx *Transaction) baseSize() int {
	n := 8 + VarIntSize(uint64(len(tx.Inputs))) + VarIntSize(uint64(len(tx.Outputs)))
	for _, in := range tx.Inputs {
		n += 40 + VarIntSize(uint64(len(in.Script))) + len(in.Script)
	}
	for _, out := range tx.Outputs {
		n += 8 + VarIntSize(uint64(len(out.Script))) + len(out.Script)
	}
	return n
}

// BaseSize returns the serialized size without witness data.
func (tx *Transaction) BaseSize() int {
	return tx.baseSize()
}

// TotalSize returns the serialized size including witness data.
func (tx *Transaction) TotalSize() int {
	n := tx.baseSize()
	if tx.HasWitness() {
		n += 2
		for _, in := range tx.Inputs {
			n += in.Witness.SerializeSize()
		}
	}
	return n
}

// Weight returns the BIP141 weight: base size * 3 + total size.
func (tx *Transaction) Weight() int {
	return tx.baseSize()*(WitnessScaleFactor-1) + tx.TotalSize()
}

// VirtualSize returns the weight divided by four, rounded up.
func (tx *Transaction) VirtualSize() int {
	return (tx.Weight() + WitnessScaleFactor - 1) / WitnessScaleFactor
}
