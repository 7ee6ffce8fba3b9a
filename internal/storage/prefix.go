package storage

// PrefixDB confines a DB to the keys under a fixed prefix. The chain keeps
// its coins, blocks and undo records in separate PrefixDBs over one
// underlying store so a single Batch can span all of them.
type PrefixDB struct {
	inner  DB
	prefix []byte
}

// NewPrefixDB creates a new PrefixDB wrapping inner with the given prefix.
func NewPrefixDB(inner DB, prefix []byte) *PrefixDB {
	return &PrefixDB{inner: inner, prefix: append([]byte(nil), prefix...)}
}

// Key returns key as stored in the inner DB.
func (p *PrefixDB) Key(key []byte) []byte {
	out := make([]byte, len(p.prefix)+len(key))
	copy(out, p.prefix)
	copy(out[len(p.prefix):], key)
	return out
}

// Inner returns the wrapped DB.
func (p *PrefixDB) Inner() DB {
	return p.inner
}

// Get retrieves a value by key.
func (p *PrefixDB) Get(key []byte) ([]byte, error) {
	return p.inner.Get(p.Key(key))
}

// Put stores a key-value pair.
func (p *PrefixDB) Put(key, value []byte) error {
	return p.inner.Put(p.Key(key), value)
}

// Delete removes a key.
func (p *PrefixDB) Delete(key []byte) error {
	return p.inner.Delete(p.Key(key))
}

// Has checks if a key exists.
func (p *PrefixDB) Has(key []byte) (bool, error) {
	return p.inner.Has(p.Key(key))
}

// ForEach iterates over keys under prefix within the namespace. Keys are
// passed to fn with the namespace stripped.
func (p *PrefixDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	n := len(p.prefix)
	return p.inner.ForEach(p.Key(prefix), func(key, value []byte) error {
		return fn(key[n:], value)
	})
}

// Close is a no-op; the inner DB owns the lifecycle.
func (p *PrefixDB) Close() error {
	return nil
}

// NewBatch returns a batch on the inner DB that namespaces its keys.
func (p *PrefixDB) NewBatch() Batch {
	return p.Wrap(NewBatch(p.inner))
}

// Wrap returns a view of b that writes under this namespace. Wrapping one
// inner batch for several PrefixDBs lets them commit together.
func (p *PrefixDB) Wrap(b Batch) Batch {
	return &prefixBatch{inner: b, db: p}
}

type prefixBatch struct {
	inner Batch
	db    *PrefixDB
}

func (pb *prefixBatch) Put(key, value []byte) error { return pb.inner.Put(pb.db.Key(key), value) }
func (pb *prefixBatch) Delete(key []byte) error     { return pb.inner.Delete(pb.db.Key(key)) }
func (pb *prefixBatch) Len() int                    { return pb.inner.Len() }
func (pb *prefixBatch) Commit() error               { return pb.inner.Commit() }
