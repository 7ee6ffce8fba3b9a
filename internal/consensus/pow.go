package consensus

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/Klingon-tech/tapnode/pkg/block"
	"github.com/Klingon-tech/tapnode/pkg/crypto"
	"github.com/Klingon-tech/tapnode/pkg/ruleerr"
	"github.com/Klingon-tech/tapnode/pkg/types"
)

// PoW errors.
var (
	ErrInsufficientWork = errors.New("hash does not meet difficulty target")
	ErrBadTarget        = errors.New("target is zero, negative or overflows")
	ErrTargetTooEasy    = errors.New("target is above the proof-of-work limit")
	ErrBadDifficulty    = errors.New("block bits do not match expected")
	ErrNonceExhausted   = errors.New("nonce space exhausted")
)

var bigOne = big.NewInt(1)

// oneLsh256 is 2^256.
var oneLsh256 = new(big.Int).Lsh(bigOne, 256)

// CompactToBig expands the compact "bits" representation of a target. The
// top byte is the size in bytes, bit 23 is a sign bit and the low 23 bits
// are the mantissa.
func CompactToBig(compact uint32) *big.Int {
	mantissa := compact & 0x007fffff
	negative := compact&0x00800000 != 0
	exponent := uint(compact >> 24)

	var bn *big.Int
	if exponent <= 3 {
		mantissa >>= 8 * (3 - exponent)
		bn = big.NewInt(int64(mantissa))
	} else {
		bn = big.NewInt(int64(mantissa))
		bn.Lsh(bn, 8*(exponent-3))
	}
	if negative {
		bn.Neg(bn)
	}
	return bn
}

// BigToCompact is the inverse of CompactToBig. Precision beyond the three
// mantissa bytes is truncated.
func BigToCompact(n *big.Int) uint32 {
	if n.Sign() == 0 {
		return 0
	}
	abs := new(big.Int).Abs(n)
	exponent := uint(len(abs.Bytes()))
	var mantissa uint32
	if exponent <= 3 {
		mantissa = uint32(abs.Uint64())
		mantissa <<= 8 * (3 - exponent)
	} else {
		mantissa = uint32(new(big.Int).Rsh(abs, 8*(exponent-3)).Uint64())
	}
	// Keep the sign bit clear by moving a byte into the exponent.
	if mantissa&0x00800000 != 0 {
		mantissa >>= 8
		exponent++
	}
	compact := uint32(exponent<<24) | mantissa
	if n.Sign() < 0 {
		compact |= 0x00800000
	}
	return compact
}

// compactOverflows reports whether bits encode a value wider than 256 bits.
func compactOverflows(bits uint32) bool {
	mantissa := bits & 0x007fffff
	size := bits >> 24
	return mantissa != 0 && (size > 34 ||
		(mantissa > 0xff && size > 33) ||
		(mantissa > 0xffff && size > 32))
}

// HashToBig interprets a block hash as a little-endian 256-bit number.
func HashToBig(h types.Hash) *big.Int {
	var be [types.HashSize]byte
	for i := range h {
		be[types.HashSize-1-i] = h[i]
	}
	return new(big.Int).SetBytes(be[:])
}

// CalcWork returns the expected number of hashes to find a block with the
// given bits: 2^256 / (target + 1).
func CalcWork(bits uint32) *big.Int {
	target := CompactToBig(bits)
	if target.Sign() <= 0 || compactOverflows(bits) {
		return new(big.Int)
	}
	denom := new(big.Int).Add(target, bigOne)
	return new(big.Int).Div(oneLsh256, denom)
}

// CheckProofOfWork verifies that hash meets the target encoded in bits and
// that the target does not exceed powLimit.
func CheckProofOfWork(hash types.Hash, bits uint32, powLimit *big.Int) error {
	target := CompactToBig(bits)
	if target.Sign() <= 0 || compactOverflows(bits) {
		return ruleerr.Errorf(ruleerr.Structural, "%w: bits %08x", ErrBadTarget, bits)
	}
	if target.Cmp(powLimit) > 0 {
		return ruleerr.Errorf(ruleerr.ConsensusRule, "%w: bits %08x", ErrTargetTooEasy, bits)
	}
	if HashToBig(hash).Cmp(target) > 0 {
		return ruleerr.Errorf(ruleerr.ConsensusRule, "%w: block %s", ErrInsufficientWork, hash)
	}
	return nil
}

// CalcNextRequiredBits returns the bits for the block after one with
// lastBits. firstTime is the timestamp of the first block in the retarget
// window and lastTime that of the last. The adjustment is clamped to a
// factor of four in either direction and never exceeds PowLimit.
func CalcNextRequiredBits(p *Params, lastBits uint32, firstTime, lastTime int64) uint32 {
	if p.NoRetargeting {
		return lastBits
	}
	timespan := int64(p.TargetTimespan.Seconds())
	actual := lastTime - firstTime
	if actual < timespan/4 {
		actual = timespan / 4
	}
	if actual > timespan*4 {
		actual = timespan * 4
	}

	next := CompactToBig(lastBits)
	next.Mul(next, big.NewInt(actual))
	next.Div(next, big.NewInt(timespan))
	if next.Cmp(p.PowLimit) > 0 {
		next.Set(p.PowLimit)
	}
	return BigToCompact(next)
}

// PoW implements proof-of-work consensus with Bitcoin compact targets.
// The engine holds no chain state; the expected bits are supplied by
// BitsFn.
type PoW struct {
	Params *Params

	// BitsFn is called by Prepare to compute the bits for a new header
	// from chain state. If nil, Prepare uses Params.PowLimitBits.
	BitsFn func(h *block.Header) uint32

	// Threads controls the number of parallel mining goroutines. 0 or 1
	// mines on the calling goroutine. Each goroutine searches a strided
	// partition of the nonce space.
	Threads int
}

// NewPoW creates a PoW engine for the given network.
func NewPoW(p *Params) *PoW {
	return &PoW{Params: p}
}

// VerifyHeader checks that the header hash meets its stated bits.
func (p *PoW) VerifyHeader(header *block.Header) error {
	if header == nil {
		return ruleerr.Wrap(ruleerr.Structural, block.ErrNilHeader)
	}
	return CheckProofOfWork(header.Hash(), header.Bits, p.Params.PowLimit)
}

// Prepare sets the header bits for mining.
func (p *PoW) Prepare(header *block.Header) error {
	if p.BitsFn != nil {
		header.Bits = p.BitsFn(header)
	} else {
		header.Bits = p.Params.PowLimitBits
	}
	return nil
}

// Seal mines the block by iterating the nonce until the header hash meets
// the target.
func (p *PoW) Seal(blk *block.Block) error {
	return p.SealWithCancel(context.Background(), blk)
}

// SealWithCancel mines the block with cancellation support. When the
// context is cancelled mining stops and ctx.Err() is returned.
func (p *PoW) SealWithCancel(ctx context.Context, blk *block.Block) error {
	if blk == nil || blk.Header == nil {
		return fmt.Errorf("nil block or header")
	}
	target := CompactToBig(blk.Header.Bits)
	if target.Sign() <= 0 || compactOverflows(blk.Header.Bits) {
		return ErrBadTarget
	}

	threads := p.Threads
	if threads <= 1 {
		return sealSingle(ctx, blk, target)
	}
	return sealParallel(ctx, blk, target, threads)
}

// sealingPrefix returns the first 76 header bytes. Only the trailing
// nonce changes while mining.
func sealingPrefix(h *block.Header) []byte {
	return h.Serialize()[:block.HeaderSize-4]
}

func meetsTarget(buf []byte, target, scratch *big.Int) bool {
	h := crypto.DoubleSha256(buf)
	for i, j := 0, len(h)-1; i < j; i, j = i+1, j-1 {
		h[i], h[j] = h[j], h[i]
	}
	scratch.SetBytes(h[:])
	return scratch.Cmp(target) <= 0
}

func sealSingle(ctx context.Context, blk *block.Block, target *big.Int) error {
	prefix := sealingPrefix(blk.Header)
	buf := make([]byte, block.HeaderSize)
	copy(buf, prefix)
	hashInt := new(big.Int)

	for nonce := uint32(0); ; nonce++ {
		// Check cancellation every 65536 iterations.
		if nonce&0xFFFF == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}

		binary.LittleEndian.PutUint32(buf[len(prefix):], nonce)
		if meetsTarget(buf, target, hashInt) {
			blk.Header.Nonce = nonce
			return nil
		}
		if nonce == ^uint32(0) {
			return ErrNonceExhausted
		}
	}
}

// sealParallel mines with multiple goroutines: goroutine i starts at
// nonce i and steps by threads.
func sealParallel(ctx context.Context, blk *block.Block, target *big.Int, threads int) error {
	prefix := sealingPrefix(blk.Header)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	found := make(chan uint32, 1)

	var wg sync.WaitGroup
	for i := 0; i < threads; i++ {
		wg.Add(1)
		start := uint64(i)
		stride := uint64(threads)
		go func() {
			defer wg.Done()
			buf := make([]byte, block.HeaderSize)
			copy(buf, prefix)
			hashInt := new(big.Int)

			for nonce := start; nonce <= uint64(^uint32(0)); nonce += stride {
				if (nonce/stride)&0xFFFF == 0 && nonce > 0 {
					select {
					case <-ctx.Done():
						return
					default:
					}
				}

				binary.LittleEndian.PutUint32(buf[len(prefix):], uint32(nonce))
				if meetsTarget(buf, target, hashInt) {
					select {
					case found <- uint32(nonce):
					default:
					}
					cancel()
					return
				}
			}
		}()
	}

	// Wait in background so goroutines are cleaned up.
	go func() {
		wg.Wait()
		close(found)
	}()

	select {
	case nonce, ok := <-found:
		if !ok {
			return ErrNonceExhausted
		}
		blk.Header.Nonce = nonce
		return nil
	case <-ctx.Done():
		// A result may have raced with the cancel it triggered.
		select {
		case nonce, ok := <-found:
			if ok {
				blk.Header.Nonce = nonce
				return nil
			}
		default:
		}
		return ctx.Err()
	}
}
