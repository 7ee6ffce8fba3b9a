package chain

import (
	"fmt"
	"math/big"
	"slices"

	"github.com/Klingon-tech/tapnode/internal/consensus"
	"github.com/Klingon-tech/tapnode/pkg/block"
	"github.com/Klingon-tech/tapnode/pkg/types"
)

type status byte

const (
	statusStored status = iota
	statusInvalid
)

// Entry is a block in the index. Entries are created once and never
// mutated. Parent links point towards genesis only.
type Entry struct {
	Hash   types.Hash
	Header block.Header
	Height uint32
	// Work is the cumulative proof of work up to and including this block.
	Work   *big.Int
	Parent *Entry
}

func newEntry(h *block.Header, parent *Entry) *Entry {
	e := &Entry{
		Hash:   h.Hash(),
		Header: *h,
		Work:   consensus.CalcWork(h.Bits),
		Parent: parent,
	}
	if parent != nil {
		e.Height = parent.Height + 1
		e.Work.Add(e.Work, parent.Work)
	}
	return e
}

// Ancestor returns the entry at height on this entry's branch, or nil.
func (e *Entry) Ancestor(height uint32) *Entry {
	if height > e.Height {
		return nil
	}
	n := e
	for n != nil && n.Height > height {
		n = n.Parent
	}
	return n
}

// MedianTimePast returns the median timestamp of this block and up to
// span-1 of its ancestors.
func (e *Entry) MedianTimePast(span int) int64 {
	ts := make([]int64, 0, span)
	for n := e; n != nil && len(ts) < span; n = n.Parent {
		ts = append(ts, int64(n.Header.Timestamp))
	}
	return consensus.MedianTime(ts)
}

// blockIndex holds every stored entry and the active chain. It is guarded
// by the chain mutex.
type blockIndex struct {
	entries map[types.Hash]*Entry
	invalid map[types.Hash]struct{}
	// active[h] is the best-chain entry at height h.
	active []*Entry
}

func newBlockIndex() *blockIndex {
	return &blockIndex{
		entries: make(map[types.Hash]*Entry),
		invalid: make(map[types.Hash]struct{}),
	}
}

func (bi *blockIndex) lookup(hash types.Hash) *Entry {
	return bi.entries[hash]
}

func (bi *blockIndex) add(e *Entry) {
	bi.entries[e.Hash] = e
}

func (bi *blockIndex) tip() *Entry {
	if len(bi.active) == 0 {
		return nil
	}
	return bi.active[len(bi.active)-1]
}

// contains reports whether e is on the active chain.
func (bi *blockIndex) contains(e *Entry) bool {
	return int(e.Height) < len(bi.active) && bi.active[e.Height] == e
}

// fork returns the last entry shared by e's branch and the active chain.
func (bi *blockIndex) fork(e *Entry) *Entry {
	for e != nil && !bi.contains(e) {
		e = e.Parent
	}
	return e
}

// setTip makes e the head of the active chain.
func (bi *blockIndex) setTip(e *Entry) {
	if int(e.Height) < len(bi.active) {
		bi.active = bi.active[:e.Height+1]
	} else {
		bi.active = slices.Grow(bi.active, int(e.Height)+1-len(bi.active))
		bi.active = bi.active[:e.Height+1]
	}
	for n := e; n != nil && bi.active[n.Height] != n; n = n.Parent {
		bi.active[n.Height] = n
	}
}

func (bi *blockIndex) markInvalid(hash types.Hash) {
	bi.invalid[hash] = struct{}{}
}

func (bi *blockIndex) isInvalid(hash types.Hash) bool {
	_, ok := bi.invalid[hash]
	return ok
}

// load rebuilds the index from stored records and the persisted tip.
func (bi *blockIndex) load(bs *BlockStore, tipHash types.Hash) error {
	var recs []indexRecord
	if err := bs.ForEachIndex(func(r indexRecord) error {
		recs = append(recs, r)
		return nil
	}); err != nil {
		return fmt.Errorf("load block index: %w", err)
	}
	slices.SortFunc(recs, func(a, b indexRecord) int {
		return int(a.height) - int(b.height)
	})

	for _, r := range recs {
		var parent *Entry
		if r.height > 0 {
			parent = bi.lookup(r.header.PrevHash)
			if parent == nil {
				return fmt.Errorf("block index %s: parent %s missing", r.hash, r.header.PrevHash)
			}
		}
		e := newEntry(r.header, parent)
		if e.Height != r.height {
			return fmt.Errorf("block index %s: height %d, linked at %d", r.hash, r.height, e.Height)
		}
		bi.add(e)
		if r.status == statusInvalid {
			bi.markInvalid(e.Hash)
		}
	}

	tip := bi.lookup(tipHash)
	if tip == nil {
		return fmt.Errorf("tip %s not in block index", tipHash)
	}
	bi.setTip(tip)
	return nil
}

// nextBits returns the bits required for a child of parent.
func nextBits(p *consensus.Params, parent *Entry) uint32 {
	interval := p.RetargetInterval()
	next := parent.Height + 1
	if p.NoRetargeting || interval == 0 || next%interval != 0 {
		return parent.Header.Bits
	}
	first := parent.Ancestor(next - interval)
	return consensus.CalcNextRequiredBits(p, parent.Header.Bits,
		int64(first.Header.Timestamp), int64(parent.Header.Timestamp))
}
