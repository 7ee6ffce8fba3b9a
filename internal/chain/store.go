package chain

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/Klingon-tech/tapnode/internal/codec"
	"github.com/Klingon-tech/tapnode/internal/storage"
	"github.com/Klingon-tech/tapnode/internal/utxo"
	"github.com/Klingon-tech/tapnode/pkg/block"
	"github.com/Klingon-tech/tapnode/pkg/types"
)

// Namespaces within the node database.
var (
	prefixCoins  = []byte("c/") // c/<outpoint> -> coin
	prefixBlock  = []byte("b/") // b/<hash(32)> -> serialized block
	prefixIndex  = []byte("i/") // i/<hash(32)> -> header(80) | height(4) | status(1)
	prefixHeight = []byte("h/") // h/<height(4)> -> hash(32), best chain only
	prefixUndo   = []byte("u/") // u/<hash(32)> -> coin diff of a connected block
	prefixState  = []byte("s/")
	keyTip       = []byte("tip")
)

const indexRecordSize = block.HeaderSize + 4 + 1

// BlockStore persists blocks, index records, undo data and the coin set.
// Every namespace lives in one DB so a chain update commits in one batch.
type BlockStore struct {
	db      storage.DB
	coins   *storage.PrefixDB
	blocks  *storage.PrefixDB
	index   *storage.PrefixDB
	heights *storage.PrefixDB
	undo    *storage.PrefixDB
	state   *storage.PrefixDB
}

// NewBlockStore creates a block store backed by the given database.
func NewBlockStore(db storage.DB) *BlockStore {
	return &BlockStore{
		db:      db,
		coins:   storage.NewPrefixDB(db, prefixCoins),
		blocks:  storage.NewPrefixDB(db, prefixBlock),
		index:   storage.NewPrefixDB(db, prefixIndex),
		heights: storage.NewPrefixDB(db, prefixHeight),
		undo:    storage.NewPrefixDB(db, prefixUndo),
		state:   storage.NewPrefixDB(db, prefixState),
	}
}

// CoinDB returns the coin namespace.
func (bs *BlockStore) CoinDB() storage.DB {
	return bs.coins
}

// GetBlock retrieves a block by its hash.
func (bs *BlockStore) GetBlock(hash types.Hash) (*block.Block, error) {
	data, err := bs.blocks.Get(hash[:])
	if err != nil {
		return nil, fmt.Errorf("block get %s: %w", hash, err)
	}
	blk, err := codec.DecodeBlock(data)
	if err != nil {
		return nil, fmt.Errorf("block decode %s: %w", hash, err)
	}
	return blk, nil
}

// HasBlock checks if block data exists for hash.
func (bs *BlockStore) HasBlock(hash types.Hash) (bool, error) {
	return bs.blocks.Has(hash[:])
}

// HashAtHeight returns the best-chain block hash at height.
func (bs *BlockStore) HashAtHeight(height uint32) (types.Hash, error) {
	data, err := bs.heights.Get(heightKey(height))
	if err != nil {
		return types.Hash{}, fmt.Errorf("height index get %d: %w", height, err)
	}
	return types.HashFromBytes(data)
}

// GetUndo retrieves the coin diff recorded when hash was connected.
func (bs *BlockStore) GetUndo(hash types.Hash) (*utxo.Diff, error) {
	data, err := bs.undo.Get(hash[:])
	if err != nil {
		return nil, fmt.Errorf("get undo %s: %w", hash, err)
	}
	d, err := utxo.DecodeDiff(data)
	if err != nil {
		return nil, fmt.Errorf("decode undo %s: %w", hash, err)
	}
	return d, nil
}

// GetTip returns the persisted tip hash. ok is false for a fresh store.
func (bs *BlockStore) GetTip() (hash types.Hash, ok bool, err error) {
	data, err := bs.state.Get(keyTip)
	if errors.Is(err, storage.ErrNotFound) {
		return types.Hash{}, false, nil
	}
	if err != nil {
		return types.Hash{}, false, fmt.Errorf("get tip: %w", err)
	}
	hash, err = types.HashFromBytes(data)
	if err != nil {
		return types.Hash{}, false, fmt.Errorf("corrupt tip: %w", err)
	}
	return hash, true, nil
}

// indexRecord is a decoded block index entry.
type indexRecord struct {
	hash   types.Hash
	header *block.Header
	height uint32
	status status
}

// ForEachIndex visits every stored index record.
func (bs *BlockStore) ForEachIndex(fn func(r indexRecord) error) error {
	return bs.index.ForEach(nil, func(key, value []byte) error {
		hash, err := types.HashFromBytes(key)
		if err != nil {
			return fmt.Errorf("corrupt index key: %w", err)
		}
		if len(value) != indexRecordSize {
			return fmt.Errorf("corrupt index record %s: %d bytes", hash, len(value))
		}
		h, err := block.DecodeHeader(value[:block.HeaderSize])
		if err != nil {
			return fmt.Errorf("index record %s: %w", hash, err)
		}
		return fn(indexRecord{
			hash:   hash,
			header: h,
			height: binary.BigEndian.Uint32(value[block.HeaderSize:]),
			status: status(value[block.HeaderSize+4]),
		})
	})
}

func heightKey(height uint32) []byte {
	return binary.BigEndian.AppendUint32(nil, height)
}

func encodeIndexRecord(e *Entry, st status) []byte {
	buf := make([]byte, 0, indexRecordSize)
	buf = append(buf, e.Header.Serialize()...)
	buf = binary.BigEndian.AppendUint32(buf, e.Height)
	return append(buf, byte(st))
}

// storeBatch stages writes across every namespace and commits them
// atomically.
type storeBatch struct {
	bs    *BlockStore
	inner storage.Batch
}

func (bs *BlockStore) newBatch() *storeBatch {
	return &storeBatch{bs: bs, inner: storage.NewBatch(bs.db)}
}

func (sb *storeBatch) putBlock(blk *block.Block) error {
	hash := blk.Hash()
	return sb.bs.blocks.Wrap(sb.inner).Put(hash[:], blk.Serialize())
}

func (sb *storeBatch) putEntry(e *Entry, st status) error {
	return sb.bs.index.Wrap(sb.inner).Put(e.Hash[:], encodeIndexRecord(e, st))
}

func (sb *storeBatch) setHeight(height uint32, hash types.Hash) error {
	return sb.bs.heights.Wrap(sb.inner).Put(heightKey(height), hash[:])
}

func (sb *storeBatch) deleteHeight(height uint32) error {
	return sb.bs.heights.Wrap(sb.inner).Delete(heightKey(height))
}

func (sb *storeBatch) putUndo(hash types.Hash, d *utxo.Diff) error {
	return sb.bs.undo.Wrap(sb.inner).Put(hash[:], d.Serialize())
}

func (sb *storeBatch) deleteUndo(hash types.Hash) error {
	return sb.bs.undo.Wrap(sb.inner).Delete(hash[:])
}

func (sb *storeBatch) setTip(hash types.Hash) error {
	return sb.bs.state.Wrap(sb.inner).Put(keyTip, hash[:])
}

// coins returns a batch writing into the coin namespace.
func (sb *storeBatch) coins() storage.Batch {
	return sb.bs.coins.Wrap(sb.inner)
}

func (sb *storeBatch) commit() error {
	if err := sb.inner.Commit(); err != nil {
		return fmt.Errorf("commit chain batch: %w", err)
	}
	return nil
}
