package p2p

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Klingon-tech/tapnode/internal/storage"
)

// BanRecord is a persisted ban entry.
type BanRecord struct {
	ID        string `json:"id"`         // Peer address.
	Reason    string `json:"reason"`     // Why banned
	Score     int    `json:"score"`      // Accumulated score at ban time
	BannedAt  int64  `json:"banned_at"`  // Unix timestamp
	ExpiresAt int64  `json:"expires_at"` // Unix timestamp (0 = permanent)
}

// IsExpired returns true if the ban has a non-zero expiry at or before now.
func (r *BanRecord) IsExpired(now time.Time) bool {
	return r.ExpiresAt > 0 && now.Unix() >= r.ExpiresAt
}

const banKeyPrefix = "ban/"

// BanStore persists ban records as JSON in a storage.DB under the "ban/"
// prefix.
type BanStore struct {
	db *storage.PrefixDB
}

// NewBanStore creates a new BanStore backed by the given DB.
func NewBanStore(db storage.DB) *BanStore {
	return &BanStore{db: storage.NewPrefixDB(db, []byte(banKeyPrefix))}
}

// Get retrieves a ban record by peer ID.
func (bs *BanStore) Get(id string) (*BanRecord, error) {
	data, err := bs.db.Get([]byte(id))
	if err != nil {
		return nil, err
	}
	var rec BanRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal ban record: %w", err)
	}
	return &rec, nil
}

// Put persists a ban record.
func (bs *BanStore) Put(rec *BanRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal ban record: %w", err)
	}
	return bs.db.Put([]byte(rec.ID), data)
}

// Delete removes a ban record.
func (bs *BanStore) Delete(id string) error {
	return bs.db.Delete([]byte(id))
}

// ForEach iterates over all ban records. Corrupt records are skipped.
func (bs *BanStore) ForEach(fn func(*BanRecord) error) error {
	return bs.db.ForEach(nil, func(_, value []byte) error {
		var rec BanRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return nil
		}
		return fn(&rec)
	})
}

// PruneExpired removes corrupt records and bans expired at now. Returns
// the number pruned.
func (bs *BanStore) PruneExpired(now time.Time) (int, error) {
	var toDelete [][]byte

	err := bs.db.ForEach(nil, func(key, value []byte) error {
		var rec BanRecord
		if err := json.Unmarshal(value, &rec); err != nil || rec.IsExpired(now) {
			toDelete = append(toDelete, append([]byte(nil), key...))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("iterate for prune: %w", err)
	}

	for _, k := range toDelete {
		if err := bs.db.Delete(k); err != nil {
			return 0, fmt.Errorf("delete expired ban: %w", err)
		}
	}
	return len(toDelete), nil
}
