package script

import "fmt"

// Opcode values.
const (
	OP_0                   = 0x00
	OP_FALSE               = 0x00
	OP_DATA_1              = 0x01
	OP_DATA_5              = 0x05
	OP_DATA_20             = 0x14
	OP_DATA_32             = 0x20
	OP_DATA_33             = 0x21
	OP_DATA_65             = 0x41
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
	OP_4                   = 0x54
	OP_5                   = 0x55
	OP_6                   = 0x56
	OP_7                   = 0x57
	OP_8                   = 0x58
	OP_9                   = 0x59
	OP_10                  = 0x5a
	OP_11                  = 0x5b
	OP_12                  = 0x5c
	OP_13                  = 0x5d
	OP_14                  = 0x5e
	OP_15                  = 0x5f
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
	OP_NOP2                = 0xb1
	OP_CHECKSEQUENCEVERIFY = 0xb2
	OP_NOP3                = 0xb2
	OP_NOP4                = 0xb3
	OP_NOP10               = 0xb9
	OP_CHECKSIGADD         = 0xba
	OP_INVALIDOPCODE       = 0xff
)

// Script limits.
const (
	MaxScriptSize         = 10000
	MaxScriptElementSize  = 520
	MaxOpsPerScript       = 201
	MaxStackSize          = 1000
	MaxPubKeysPerMultiSig = 20

	// Each executed non-empty tapscript signature costs this much of the
	// input's validation budget. The budget starts at this value plus the
	// serialized witness size.
	ValidationWeightPerSigOp = 50
	ValidationWeightOffset   = 50
)

// handler executes one opcode. The interpreter checks that the data stack
// holds at least op.arity items before calling it.
type handler func(op *opcode, data []byte, vm *engine) error

// opcode describes one of the 256 opcode values.
//
// length is 1 for plain opcodes, the total encoded size for the fixed-size
// pushes 0x01-0x4b, and -1, -2 or -4 for the PUSHDATA forms whose data
// length follows in that many little-endian bytes.
type opcode struct {
	value  byte
	name   string
	length int
	arity  int
	fn     handler
}

var opcodeArray [256]opcode

type opDef struct {
	name  string
	arity int
	fn    handler
}

var namedOps = map[byte]opDef{
	OP_1NEGATE:             {"OP_1NEGATE", 0, opcode1Negate},
	OP_RESERVED:            {"OP_RESERVED", 0, opcodeReserved},
	OP_NOP:                 {"OP_NOP", 0, opcodeNop},
	OP_VER:                 {"OP_VER", 0, opcodeReserved},
	OP_IF:                  {"OP_IF", 0, opcodeIf},
	OP_NOTIF:               {"OP_NOTIF", 0, opcodeNotIf},
	OP_VERIF:               {"OP_VERIF", 0, opcodeReserved},
	OP_VERNOTIF:            {"OP_VERNOTIF", 0, opcodeReserved},
	OP_ELSE:                {"OP_ELSE", 0, opcodeElse},
	OP_ENDIF:               {"OP_ENDIF", 0, opcodeEndif},
	OP_VERIFY:              {"OP_VERIFY", 1, opcodeVerify},
	OP_RETURN:              {"OP_RETURN", 0, opcodeReturn},
	OP_TOALTSTACK:          {"OP_TOALTSTACK", 1, opcodeToAltStack},
	OP_FROMALTSTACK:        {"OP_FROMALTSTACK", 0, opcodeFromAltStack},
	OP_2DROP:               {"OP_2DROP", 2, opcode2Drop},
	OP_2DUP:                {"OP_2DUP", 2, opcode2Dup},
	OP_3DUP:                {"OP_3DUP", 3, opcode3Dup},
	OP_2OVER:               {"OP_2OVER", 4, opcode2Over},
	OP_2ROT:                {"OP_2ROT", 6, opcode2Rot},
	OP_2SWAP:               {"OP_2SWAP", 4, opcode2Swap},
	OP_IFDUP:               {"OP_IFDUP", 1, opcodeIfDup},
	OP_DEPTH:               {"OP_DEPTH", 0, opcodeDepth},
	OP_DROP:                {"OP_DROP", 1, opcodeDrop},
	OP_DUP:                 {"OP_DUP", 1, opcodeDup},
	OP_NIP:                 {"OP_NIP", 2, opcodeNip},
	OP_OVER:                {"OP_OVER", 2, opcodeOver},
	OP_PICK:                {"OP_PICK", 2, opcodePick},
	OP_ROLL:                {"OP_ROLL", 2, opcodeRoll},
	OP_ROT:                 {"OP_ROT", 3, opcodeRot},
	OP_SWAP:                {"OP_SWAP", 2, opcodeSwap},
	OP_TUCK:                {"OP_TUCK", 2, opcodeTuck},
	OP_CAT:                 {"OP_CAT", 0, opcodeDisabled},
	OP_SUBSTR:              {"OP_SUBSTR", 0, opcodeDisabled},
	OP_LEFT:                {"OP_LEFT", 0, opcodeDisabled},
	OP_RIGHT:               {"OP_RIGHT", 0, opcodeDisabled},
	OP_SIZE:                {"OP_SIZE", 1, opcodeSize},
	OP_INVERT:              {"OP_INVERT", 0, opcodeDisabled},
	OP_AND:                 {"OP_AND", 0, opcodeDisabled},
	OP_OR:                  {"OP_OR", 0, opcodeDisabled},
	OP_XOR:                 {"OP_XOR", 0, opcodeDisabled},
	OP_EQUAL:               {"OP_EQUAL", 2, opcodeEqual},
	OP_EQUALVERIFY:         {"OP_EQUALVERIFY", 2, opcodeEqualVerify},
	OP_RESERVED1:           {"OP_RESERVED1", 0, opcodeReserved},
	OP_RESERVED2:           {"OP_RESERVED2", 0, opcodeReserved},
	OP_1ADD:                {"OP_1ADD", 1, opcodeUnaryNum},
	OP_1SUB:                {"OP_1SUB", 1, opcodeUnaryNum},
	OP_2MUL:                {"OP_2MUL", 0, opcodeDisabled},
	OP_2DIV:                {"OP_2DIV", 0, opcodeDisabled},
	OP_NEGATE:              {"OP_NEGATE", 1, opcodeUnaryNum},
	OP_ABS:                 {"OP_ABS", 1, opcodeUnaryNum},
	OP_NOT:                 {"OP_NOT", 1, opcodeUnaryNum},
	OP_0NOTEQUAL:           {"OP_0NOTEQUAL", 1, opcodeUnaryNum},
	OP_ADD:                 {"OP_ADD", 2, opcodeBinaryNum},
	OP_SUB:                 {"OP_SUB", 2, opcodeBinaryNum},
	OP_MUL:                 {"OP_MUL", 0, opcodeDisabled},
	OP_DIV:                 {"OP_DIV", 0, opcodeDisabled},
	OP_MOD:                 {"OP_MOD", 0, opcodeDisabled},
	OP_LSHIFT:              {"OP_LSHIFT", 0, opcodeDisabled},
	OP_RSHIFT:              {"OP_RSHIFT", 0, opcodeDisabled},
	OP_BOOLAND:             {"OP_BOOLAND", 2, opcodeBinaryNum},
	OP_BOOLOR:              {"OP_BOOLOR", 2, opcodeBinaryNum},
	OP_NUMEQUAL:            {"OP_NUMEQUAL", 2, opcodeBinaryNum},
	OP_NUMEQUALVERIFY:      {"OP_NUMEQUALVERIFY", 2, opcodeNumEqualVerify},
	OP_NUMNOTEQUAL:         {"OP_NUMNOTEQUAL", 2, opcodeBinaryNum},
	OP_LESSTHAN:            {"OP_LESSTHAN", 2, opcodeBinaryNum},
	OP_GREATERTHAN:         {"OP_GREATERTHAN", 2, opcodeBinaryNum},
	OP_LESSTHANOREQUAL:     {"OP_LESSTHANOREQUAL", 2, opcodeBinaryNum},
	OP_GREATERTHANOREQUAL:  {"OP_GREATERTHANOREQUAL", 2, opcodeBinaryNum},
	OP_MIN:                 {"OP_MIN", 2, opcodeBinaryNum},
	OP_MAX:                 {"OP_MAX", 2, opcodeBinaryNum},
	OP_WITHIN:              {"OP_WITHIN", 3, opcodeWithin},
	OP_RIPEMD160:           {"OP_RIPEMD160", 1, opcodeHash},
	OP_SHA1:                {"OP_SHA1", 1, opcodeHash},
	OP_SHA256:              {"OP_SHA256", 1, opcodeHash},
	OP_HASH160:             {"OP_HASH160", 1, opcodeHash},
	OP_HASH256:             {"OP_HASH256", 1, opcodeHash},
	OP_CODESEPARATOR:       {"OP_CODESEPARATOR", 0, opcodeCodeSeparator},
	OP_CHECKSIG:            {"OP_CHECKSIG", 2, opcodeCheckSig},
	OP_CHECKSIGVERIFY:      {"OP_CHECKSIGVERIFY", 2, opcodeCheckSigVerify},
	OP_CHECKMULTISIG:       {"OP_CHECKMULTISIG", 1, opcodeCheckMultiSig},
	OP_CHECKMULTISIGVERIFY: {"OP_CHECKMULTISIGVERIFY", 1, opcodeCheckMultiSigVerify},
	OP_NOP1:                {"OP_NOP1", 0, opcodeNop},
	OP_CHECKLOCKTIMEVERIFY: {"OP_CHECKLOCKTIMEVERIFY", 0, opcodeCheckLockTimeVerify},
	OP_CHECKSEQUENCEVERIFY: {"OP_CHECKSEQUENCEVERIFY", 0, opcodeCheckSequenceVerify},
	OP_CHECKSIGADD:         {"OP_CHECKSIGADD", 0, opcodeCheckSigAdd},
}

func init() {
	for i := range opcodeArray {
		opcodeArray[i] = opcode{
			value:  byte(i),
			name:   fmt.Sprintf("OP_UNKNOWN%d", i),
			length: 1,
			fn:     opcodeInvalid,
		}
	}
	opcodeArray[OP_0] = opcode{value: OP_0, name: "OP_0", length: 1, fn: opcodeFalse}
	for i := OP_DATA_1; i <= OP_DATA_75; i++ {
		opcodeArray[i] = opcode{value: byte(i), name: fmt.Sprintf("OP_DATA_%d", i), length: i + 1, fn: opcodePushData}
	}
	opcodeArray[OP_PUSHDATA1] = opcode{value: OP_PUSHDATA1, name: "OP_PUSHDATA1", length: -1, fn: opcodePushData}
	opcodeArray[OP_PUSHDATA2] = opcode{value: OP_PUSHDATA2, name: "OP_PUSHDATA2", length: -2, fn: opcodePushData}
	opcodeArray[OP_PUSHDATA4] = opcode{value: OP_PUSHDATA4, name: "OP_PUSHDATA4", length: -4, fn: opcodePushData}
	for i := OP_1; i <= OP_16; i++ {
		opcodeArray[i] = opcode{value: byte(i), name: fmt.Sprintf("OP_%d", i-OP_1+1), length: 1, fn: opcodeN}
	}
	for i := OP_NOP4; i <= OP_NOP10; i++ {
		opcodeArray[i] = opcode{value: byte(i), name: fmt.Sprintf("OP_NOP%d", i-OP_NOP1+1), length: 1, fn: opcodeNop}
	}
	for v, d := range namedOps {
		opcodeArray[v] = opcode{value: v, name: d.name, length: 1, arity: d.arity, fn: d.fn}
	}
}

// isDisabled reports whether op fails a legacy or segwit v0 script even on
// an unexecuted branch.
func isDisabled(v byte) bool {
	switch v {
	case OP_CAT, OP_SUBSTR, OP_LEFT, OP_RIGHT, OP_INVERT, OP_AND, OP_OR,
		OP_XOR, OP_2MUL, OP_2DIV, OP_MUL, OP_DIV, OP_MOD, OP_LSHIFT, OP_RSHIFT:
		return true
	}
	return false
}

// isConditional reports whether op runs on unexecuted branches.
func isConditional(v byte) bool {
	return v >= OP_IF && v <= OP_ENDIF
}

// isOpSuccess reports whether v is an OP_SUCCESSx opcode in tapscript.
func isOpSuccess(v byte) bool {
	return v == 80 || v == 98 ||
		(v >= 126 && v <= 129) ||
		(v >= 131 && v <= 134) ||
		(v >= 137 && v <= 138) ||
		(v >= 141 && v <= 142) ||
		(v >= 149 && v <= 153) ||
		(v >= 187 && v <= 254)
}

// OpcodeName returns the human-readable name of an opcode value.
func OpcodeName(v byte) string {
	return opcodeArray[v].name
}
