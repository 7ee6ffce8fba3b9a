package rpc

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/Klingon-tech/tapnode/internal/chain"
	"github.com/Klingon-tech/tapnode/internal/codec"
	"github.com/Klingon-tech/tapnode/internal/utxo"
	"github.com/Klingon-tech/tapnode/pkg/block"
	"github.com/Klingon-tech/tapnode/pkg/ruleerr"
	"github.com/Klingon-tech/tapnode/pkg/tx"
	"github.com/Klingon-tech/tapnode/pkg/types"
)

// maxGenerate bounds one mining_generate call.
const maxGenerate = 1000

// rejectError converts a validation failure into a CodeRejected error
// carrying its classification.
func rejectError(err error) *Error {
	return &Error{
		Code:    CodeRejected,
		Message: err.Error(),
		Data:    RejectData{Kind: ruleerr.KindOf(err).String()},
	}
}

func parseHash(s string) (types.Hash, *Error) {
	if s == "" {
		return types.Hash{}, &Error{Code: CodeInvalidParams, Message: "hash is required"}
	}
	h, err := types.HexToHash(s)
	if err != nil {
		return types.Hash{}, &Error{Code: CodeInvalidParams, Message: "invalid hash: must be 32-byte hex"}
	}
	return h, nil
}

func parseHex(s string) ([]byte, *Error) {
	if s == "" {
		return nil, &Error{Code: CodeInvalidParams, Message: "hex is required"}
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid hex: %v", err)}
	}
	return b, nil
}

// ── Chain endpoints ─────────────────────────────────────────────────────

func (s *Server) handleChainGetInfo(_ *Request) (any, *Error) {
	st := s.chain.State()
	return &ChainInfoResult{
		Network:        s.chain.Params().Name,
		Height:         st.Height,
		TipHash:        st.TipHash.String(),
		Work:           st.Work.Text(16),
		MedianTimePast: st.MedianTimePast,
		TipTimestamp:   st.TipTimestamp,
	}, nil
}

func (s *Server) handleChainGetBlockByHash(req *Request) (any, *Error) {
	var params HashParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	hash, rpcErr := parseHash(params.Hash)
	if rpcErr != nil {
		return nil, rpcErr
	}

	blk, err := s.chain.GetBlock(hash)
	if err != nil {
		return nil, &Error{Code: CodeNotFound, Message: fmt.Sprintf("block not found: %v", err)}
	}
	return s.newBlockResult(blk)
}

func (s *Server) handleChainGetBlockByHeight(req *Request) (any, *Error) {
	var params HeightParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}

	blk, err := s.chain.GetBlockByHeight(params.Height)
	if err != nil {
		return nil, &Error{Code: CodeNotFound, Message: fmt.Sprintf("block not found at height %d: %v", params.Height, err)}
	}
	return s.newBlockResult(blk)
}

func (s *Server) newBlockResult(blk *block.Block) (*BlockResult, *Error) {
	raw, err := codec.EncodeBlock(blk)
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: fmt.Sprintf("encode block: %v", err)}
	}
	hash := blk.Hash()
	res := &BlockResult{
		Hash:         hash.String(),
		Header:       blk.Header,
		Weight:       blk.Weight(),
		Transactions: make([]string, len(blk.Transactions)),
		Hex:          hexString(raw),
	}
	for i, t := range blk.Transactions {
		res.Transactions[i] = t.Hash().String()
	}
	if e := s.chain.Entry(hash); e != nil {
		res.Height = e.Height
		if active, err := s.chain.GetBlockByHeight(e.Height); err == nil {
			res.InBestChain = active.Hash() == hash
		}
	}
	return res, nil
}

func (s *Server) handleChainGetUTXOCommitment(_ *Request) (any, *Error) {
	st := s.chain.State()
	c, err := s.chain.UTXOCommitment()
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	return &CommitmentResult{
		Height:     st.Height,
		TipHash:    st.TipHash.String(),
		Commitment: c.String(),
	}, nil
}

func (s *Server) handleChainReorganize(ctx context.Context, req *Request) (any, *Error) {
	var params HashParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	hash, rpcErr := parseHash(params.Hash)
	if rpcErr != nil {
		return nil, rpcErr
	}

	if err := s.chain.Reorganize(ctx, hash); err != nil {
		if errors.Is(err, chain.ErrUnknownBlock) {
			return nil, &Error{Code: CodeNotFound, Message: err.Error()}
		}
		return nil, rejectError(err)
	}
	st := s.chain.State()
	return &SubmitResult{Hash: hash.String(), Height: st.Height, TipHash: st.TipHash.String()}, nil
}

// ── Block submission ────────────────────────────────────────────────────

func (s *Server) handleBlockSubmit(ctx context.Context, req *Request) (any, *Error) {
	var params HexParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	raw, rpcErr := parseHex(params.Hex)
	if rpcErr != nil {
		return nil, rpcErr
	}
	blk, err := codec.DecodeBlock(raw)
	if err != nil {
		return nil, rejectError(err)
	}

	submit := s.submitBlock
	if submit == nil {
		submit = s.chain.ProcessBlock
	}
	if err := submit(ctx, blk); err != nil {
		return nil, rejectError(err)
	}

	st := s.chain.State()
	return &SubmitResult{Hash: blk.Hash().String(), Height: st.Height, TipHash: st.TipHash.String()}, nil
}

// ── UTXO endpoints ──────────────────────────────────────────────────────

func (s *Server) handleUTXOGet(req *Request) (any, *Error) {
	var params OutpointParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	txid, rpcErr := parseHash(params.TxID)
	if rpcErr != nil {
		return nil, rpcErr
	}

	op := types.Outpoint{TxID: txid, Index: params.Index}
	coin, err := s.chain.Coins().Get(op)
	if err != nil {
		if errors.Is(err, utxo.ErrNotFound) {
			return nil, &Error{Code: CodeNotFound, Message: fmt.Sprintf("utxo %s not found", op)}
		}
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	return &UTXOResult{
		TxID:     txid.String(),
		Index:    params.Index,
		Value:    coin.Value,
		Script:   hexString(coin.Script),
		Height:   coin.Height,
		Coinbase: coin.Coinbase,
	}, nil
}

// ── Transaction endpoints ───────────────────────────────────────────────

func (s *Server) handleTxDecode(req *Request) (any, *Error) {
	var params HexParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	raw, rpcErr := parseHex(params.Hex)
	if rpcErr != nil {
		return nil, rpcErr
	}
	t, err := codec.DecodeTx(raw)
	if err != nil {
		return nil, rejectError(err)
	}
	return NewTxResult(t), nil
}

// Default input sequences of tx_create.
const (
	// sequenceLocktime enables the transaction locktime without
	// signalling replacement.
	sequenceLocktime uint32 = tx.SequenceFinal - 1
	// sequenceReplaceable is the highest sequence signalling BIP125.
	sequenceReplaceable uint32 = tx.SequenceFinal - 2
)

func invalidParams(msg string) *Error {
	return &Error{Code: CodeInvalidParams, Message: msg}
}

func (s *Server) handleTxCreate(req *Request) (any, *Error) {
	var params TxCreateParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	if params.LockTime < 0 || params.LockTime > math.MaxUint32 {
		return nil, invalidParams("Invalid parameter, locktime out of range")
	}
	replaceable := params.Replaceable != nil && *params.Replaceable

	t := &tx.Transaction{Version: 2, LockTime: uint32(params.LockTime)}
	for i, in := range params.Inputs {
		txid, rpcErr := parseHash(in.TxID)
		if rpcErr != nil {
			return nil, rpcErr
		}
		if in.Vout < 0 || in.Vout > math.MaxUint32 {
			return nil, invalidParams(fmt.Sprintf("Invalid parameter, vout of input %d out of range", i))
		}
		seq := tx.SequenceFinal
		switch {
		case replaceable:
			seq = sequenceReplaceable
		case t.LockTime != 0:
			seq = sequenceLocktime
		}
		if in.Sequence != nil {
			if *in.Sequence < 0 || *in.Sequence > math.MaxUint32 {
				return nil, invalidParams("Invalid parameter, sequence number is out of range")
			}
			seq = uint32(*in.Sequence)
		}
		t.Inputs = append(t.Inputs, tx.Input{
			PrevOut:  types.Outpoint{TxID: txid, Index: uint32(in.Vout)},
			Sequence: seq,
		})
	}
	if params.Replaceable != nil && *params.Replaceable != signalsReplaceable(t) {
		return nil, invalidParams("Sequence conflicts with replaceability.")
	}

	for i, out := range params.Outputs {
		pkScript, err := hex.DecodeString(out.Script)
		if err != nil {
			return nil, invalidParams(fmt.Sprintf("Invalid parameter, script of output %d is not hex", i))
		}
		if out.Value < 0 || out.Value > tx.MaxMoney {
			return nil, invalidParams(fmt.Sprintf("Invalid parameter, value of output %d out of range", i))
		}
		t.Outputs = append(t.Outputs, tx.Output{Value: out.Value, Script: pkScript})
	}

	raw, err := codec.EncodeTx(t)
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	return &TxCreateResult{TxID: t.Hash().String(), Hex: hexString(raw)}, nil
}

// signalsReplaceable reports whether any input opts in to BIP125.
func signalsReplaceable(t *tx.Transaction) bool {
	for _, in := range t.Inputs {
		if in.Sequence <= sequenceReplaceable {
			return true
		}
	}
	return false
}

func (s *Server) handleHelp(req *Request) (any, *Error) {
	var params HelpParam
	if req.Params != nil {
		if err := parseParams(req, &params); err != nil {
			return nil, err
		}
	}
	if params.Method != "" {
		desc, ok := methodHelp[params.Method]
		if !ok {
			return nil, &Error{Code: CodeMethodNotFound, Message: fmt.Sprintf("method %q not found", params.Method)}
		}
		return &HelpResult{Methods: []MethodHelp{{Name: params.Method, Description: desc}}}, nil
	}
	res := &HelpResult{Methods: make([]MethodHelp, 0, len(methodHelp))}
	for name, desc := range methodHelp {
		res.Methods = append(res.Methods, MethodHelp{Name: name, Description: desc})
	}
	slices.SortFunc(res.Methods, func(a, b MethodHelp) int { return strings.Compare(a.Name, b.Name) })
	return res, nil
}

func (s *Server) handleTxSubmit(ctx context.Context, req *Request) (any, *Error) {
	var params HexParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	raw, rpcErr := parseHex(params.Hex)
	if rpcErr != nil {
		return nil, rpcErr
	}
	t, err := codec.DecodeTx(raw)
	if err != nil {
		return nil, rejectError(err)
	}

	fee, err := s.pool.Add(ctx, t)
	if err != nil {
		return nil, rejectError(err)
	}
	return &TxSubmitResult{TxID: t.Hash().String(), Fee: fee}, nil
}

// ── Mempool endpoints ───────────────────────────────────────────────────

func (s *Server) handleMempoolGetInfo(_ *Request) (any, *Error) {
	return &MempoolInfoResult{
		Count:      s.pool.Count(),
		MinFeeRate: s.pool.MinFeeRate(),
	}, nil
}

func (s *Server) handleMempoolGetContent(_ *Request) (any, *Error) {
	hashes := s.pool.Hashes()
	res := &MempoolContentResult{Hashes: make([]string, len(hashes))}
	for i, h := range hashes {
		res.Hashes[i] = h.String()
	}
	return res, nil
}

// ── Network endpoints ───────────────────────────────────────────────────

func (s *Server) handleNetGetBanList(_ *Request) (any, *Error) {
	if s.banManager == nil {
		return nil, &Error{Code: CodeUnavailable, Message: "ban manager not enabled"}
	}
	list := s.banManager.BanList()
	res := make([]BanInfo, len(list))
	for i, rec := range list {
		res[i] = BanInfo{
			ID:        rec.ID,
			Reason:    rec.Reason,
			Score:     rec.Score,
			BannedAt:  rec.BannedAt,
			ExpiresAt: rec.ExpiresAt,
		}
	}
	return res, nil
}

// ── Mining endpoints ────────────────────────────────────────────────────

func (s *Server) handleMiningGenerate(ctx context.Context, req *Request) (any, *Error) {
	if s.generate == nil {
		return nil, &Error{Code: CodeUnavailable, Message: "block generation not enabled"}
	}
	var params GenerateParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	if params.Count < 1 || params.Count > maxGenerate {
		return nil, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("count must be between 1 and %d", maxGenerate)}
	}
	payTo, rpcErr := parseHex(params.Script)
	if rpcErr != nil {
		return nil, rpcErr
	}

	hashes, err := s.generate(ctx, params.Count, payTo)
	res := &GenerateResult{Hashes: make([]string, len(hashes))}
	for i, h := range hashes {
		res.Hashes[i] = h.String()
	}
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: err.Error(), Data: res}
	}
	return res, nil
}
