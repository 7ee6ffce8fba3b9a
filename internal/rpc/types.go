package rpc

import (
	"encoding/hex"

	"github.com/Klingon-tech/tapnode/pkg/block"
	"github.com/Klingon-tech/tapnode/pkg/tx"
)

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeNotFound       = -32000
	// CodeRejected reports a block or transaction that failed validation.
	// Error.Data carries the failure kind.
	CodeRejected = -32001
	// CodeUnavailable reports a method disabled on this node.
	CodeUnavailable = -32002
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	ID      any    `json:"id"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
	ID      any    `json:"id"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// RejectData is the Error.Data of a CodeRejected error.
type RejectData struct {
	Kind string `json:"kind"`
}

// ── Param types ─────────────────────────────────────────────────────────

// HashParam is used by endpoints that take a single hash.
type HashParam struct {
	Hash string `json:"hash"`
}

// HeightParam is used by endpoints that take a block height.
type HeightParam struct {
	Height uint32 `json:"height"`
}

// OutpointParam is used by utxo_get.
type OutpointParam struct {
	TxID  string `json:"tx_id"`
	Index uint32 `json:"index"`
}

// HexParam is used by endpoints that take raw serialized bytes.
type HexParam struct {
	Hex string `json:"hex"`
}

// GenerateParam is used by mining_generate.
type GenerateParam struct {
	Count  int    `json:"count"`
	Script string `json:"script"` // Hex output script paid by the coinbase.
}

// TxCreateInput is one input of tx_create. Sequence defaults from the
// locktime and replaceable settings when omitted.
type TxCreateInput struct {
	TxID     string `json:"tx_id"`
	Vout     int64  `json:"vout"`
	Sequence *int64 `json:"sequence,omitempty"`
}

// TxCreateOutput is one output of tx_create.
type TxCreateOutput struct {
	Script string `json:"script"` // Hex output script.
	Value  int64  `json:"value"`
}

// TxCreateParam is used by tx_create.
type TxCreateParam struct {
	Inputs   []TxCreateInput  `json:"inputs"`
	Outputs  []TxCreateOutput `json:"outputs"`
	LockTime int64            `json:"locktime"`
	// Replaceable signals BIP125 replacement. When set it must agree
	// with any explicit input sequence.
	Replaceable *bool `json:"replaceable,omitempty"`
}

// HelpParam is used by rpc_help. An empty method lists every method.
type HelpParam struct {
	Method string `json:"method"`
}

// ── Result types ────────────────────────────────────────────────────────

// ChainInfoResult is returned by chain_getInfo.
type ChainInfoResult struct {
	Network        string `json:"network"`
	Height         uint32 `json:"height"`
	TipHash        string `json:"tip_hash"`
	Work           string `json:"work"` // Cumulative chain work, hex.
	MedianTimePast int64  `json:"median_time_past"`
	TipTimestamp   uint32 `json:"tip_timestamp"`
}

// BlockResult wraps a block with its precomputed hash for RPC responses.
type BlockResult struct {
	Hash         string        `json:"hash"`
	Height       uint32        `json:"height"`
	InBestChain  bool          `json:"in_best_chain"`
	Header       *block.Header `json:"header"`
	Weight       int           `json:"weight"`
	Transactions []string      `json:"transactions"` // Txids in block order.
	Hex          string        `json:"hex,omitempty"`
}

// TxResult describes a decoded transaction.
type TxResult struct {
	TxID        string          `json:"tx_id"`
	WitnessHash string          `json:"wtx_id"`
	Size        int             `json:"size"`
	VirtualSize int             `json:"vsize"`
	Weight      int             `json:"weight"`
	Transaction *tx.Transaction `json:"transaction"`
}

// NewTxResult builds a TxResult for t.
func NewTxResult(t *tx.Transaction) *TxResult {
	return &TxResult{
		TxID:        t.Hash().String(),
		WitnessHash: t.WitnessHash().String(),
		Size:        t.TotalSize(),
		VirtualSize: t.VirtualSize(),
		Weight:      t.Weight(),
		Transaction: t,
	}
}

// UTXOResult is returned by utxo_get.
type UTXOResult struct {
	TxID     string `json:"tx_id"`
	Index    uint32 `json:"index"`
	Value    int64  `json:"value"`
	Script   string `json:"script"`
	Height   uint32 `json:"height"`
	Coinbase bool   `json:"coinbase"`
}

// CommitmentResult is returned by chain_getUTXOCommitment.
type CommitmentResult struct {
	Height     uint32 `json:"height"`
	TipHash    string `json:"tip_hash"`
	Commitment string `json:"commitment"`
}

// SubmitResult is returned by block_submit and chain_reorganize.
type SubmitResult struct {
	Hash    string `json:"hash"`
	Height  uint32 `json:"height"`
	TipHash string `json:"tip_hash"`
}

// TxSubmitResult is returned by tx_submit.
type TxSubmitResult struct {
	TxID string `json:"tx_id"`
	Fee  int64  `json:"fee"`
}

// MempoolInfoResult is returned by mempool_getInfo.
type MempoolInfoResult struct {
	Count      int   `json:"count"`
	MinFeeRate int64 `json:"min_fee_rate"`
}

// MempoolContentResult is returned by mempool_getContent.
type MempoolContentResult struct {
	Hashes []string `json:"hashes"`
}

// BanInfo is one entry of net_getBanList.
type BanInfo struct {
	ID        string `json:"id"`
	Reason    string `json:"reason"`
	Score     int    `json:"score"`
	BannedAt  int64  `json:"banned_at"`
	ExpiresAt int64  `json:"expires_at"`
}

// GenerateResult is returned by mining_generate.
type GenerateResult struct {
	Hashes []string `json:"hashes"`
}

// TxCreateResult is returned by tx_create.
type TxCreateResult struct {
	TxID string `json:"tx_id"`
	Hex  string `json:"hex"`
}

// MethodHelp describes one RPC method.
type MethodHelp struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// HelpResult is returned by rpc_help.
type HelpResult struct {
	Methods []MethodHelp `json:"methods"`
}

func hexString(b []byte) string {
	return hex.EncodeToString(b)
}
