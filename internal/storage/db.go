// Package storage provides the key-value stores behind the chain
// databases.
package storage

import "errors"

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("key not found")

// DB is the interface for key-value storage.
type DB interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	Has(key []byte) (bool, error)
	// ForEach visits all keys with the given prefix in ascending key
	// order. The callback must not retain key or value.
	// Return a non-nil error from fn to stop iteration early.
	ForEach(prefix []byte, fn func(key, value []byte) error) error
	Close() error
}

// Batch collects writes that become visible together on Commit. A batch
// that is never committed has no effect.
type Batch interface {
	Put(key, value []byte) error
	Delete(key []byte) error
	// Len returns the number of buffered operations.
	Len() int
	Commit() error
}

// Batcher is implemented by stores that can commit a Batch atomically.
type Batcher interface {
	NewBatch() Batch
}

// batchOp is one buffered write.
type batchOp struct {
	key   []byte
	value []byte
	del   bool
}

// opLog buffers operations with copied key and value bytes.
type opLog struct {
	ops []batchOp
}

func (l *opLog) put(key, value []byte) {
	l.ops = append(l.ops, batchOp{
		key:   append([]byte(nil), key...),
		value: append([]byte{}, value...),
	})
}

func (l *opLog) delete(key []byte) {
	l.ops = append(l.ops, batchOp{key: append([]byte(nil), key...), del: true})
}

// NewBatch returns an atomic batch when db supports one and a
// best-effort sequential batch otherwise.
func NewBatch(db DB) Batch {
	if b, ok := db.(Batcher); ok {
		return b.NewBatch()
	}
	return &seqBatch{db: db}
}

// seqBatch replays its log against a DB without atomicity.
type seqBatch struct {
	opLog
	db DB
}

func (s *seqBatch) Put(key, value []byte) error { s.put(key, value); return nil }
func (s *seqBatch) Delete(key []byte) error     { s.delete(key); return nil }
func (s *seqBatch) Len() int                    { return len(s.ops) }

func (s *seqBatch) Commit() error {
	for _, op := range s.ops {
		var err error
		if op.del {
			err = s.db.Delete(op.key)
		} else {
			err = s.db.Put(op.key, op.value)
		}
		if err != nil {
			return err
		}
	}
	s.ops = nil
	return nil
}
