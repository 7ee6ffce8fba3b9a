package p2p

import (
	"context"
	"sync"
	"time"

	"github.com/Klingon-tech/tapnode/internal/log"
)

// Ban thresholds and durations.
const (
	BanThreshold = 100 // Score at which a peer gets banned.
	BanDuration  = 24 * time.Hour
)

// Penalty values for different offenses.
const (
	PenaltyInvalidBlock  = 100 // Consensus failure.
	PenaltyInvalidTx     = 20  // Consensus failure in a relayed tx.
	PenaltyProtocol      = 10  // Out-of-order or duplicate handshake messages.
	PenaltyHandshakeFail = 100 // Instant ban.
)

// BanManager tracks peer offense scores and manages bans. Peers are keyed
// by address.
type BanManager struct {
	mu     sync.RWMutex
	scores map[string]int
	bans   map[string]*BanRecord
	store  *BanStore // Persistence (nil for tests).
	now    func() time.Time

	// OnBan is called outside the lock when a peer becomes banned, so the
	// transport can drop it.
	OnBan func(id string)
}

// NewBanManager creates a new BanManager.
// store may be nil to disable persistence (useful for tests).
func NewBanManager(store *BanStore) *BanManager {
	return &BanManager{
		scores: make(map[string]int),
		bans:   make(map[string]*BanRecord),
		store:  store,
		now:    time.Now,
	}
}

// LoadBans restores persisted bans from the store into the in-memory cache.
func (bm *BanManager) LoadBans() error {
	if bm.store == nil {
		return nil
	}

	// Prune expired bans first.
	now := bm.now()
	if _, err := bm.store.PruneExpired(now); err != nil {
		return err
	}

	bm.mu.Lock()
	defer bm.mu.Unlock()
	return bm.store.ForEach(func(rec *BanRecord) error {
		if !rec.IsExpired(now) {
			bm.bans[rec.ID] = rec
		}
		return nil
	})
}

// RecordOffense adds a penalty score to a peer. If the cumulative score
// reaches BanThreshold, the peer is banned. Reports whether this offense
// caused a ban.
func (bm *BanManager) RecordOffense(id string, penalty int, reason string) bool {
	if penalty <= 0 {
		return false
	}
	bm.mu.Lock()
	now := bm.now()

	// Already banned, nothing to do.
	if rec, ok := bm.bans[id]; ok && !rec.IsExpired(now) {
		bm.mu.Unlock()
		return false
	}

	bm.scores[id] += penalty
	if bm.scores[id] < BanThreshold {
		bm.mu.Unlock()
		return false
	}

	// Ban the peer.
	rec := &BanRecord{
		ID:        id,
		Reason:    reason,
		Score:     bm.scores[id],
		BannedAt:  now.Unix(),
		ExpiresAt: now.Add(BanDuration).Unix(),
	}
	bm.bans[id] = rec
	delete(bm.scores, id) // Clear score, ban is active.
	bm.mu.Unlock()

	// Persist.
	if bm.store != nil {
		if err := bm.store.Put(rec); err != nil {
			log.P2P.Error().Err(err).Str("peer", id).Msg("Failed to persist ban")
		}
	}

	log.P2P.Warn().
		Str("peer", id).
		Str("reason", reason).
		Int("score", rec.Score).
		Msg("Peer banned")

	if bm.OnBan != nil {
		bm.OnBan(id)
	}
	return true
}

// Score returns the accumulated offense score of an unbanned peer.
func (bm *BanManager) Score(id string) int {
	bm.mu.RLock()
	defer bm.mu.RUnlock()
	return bm.scores[id]
}

// IsBanned returns true if the peer is currently banned.
func (bm *BanManager) IsBanned(id string) bool {
	bm.mu.RLock()
	rec, ok := bm.bans[id]
	bm.mu.RUnlock()

	if !ok {
		return false
	}

	if rec.IsExpired(bm.now()) {
		// Clean up expired ban.
		bm.mu.Lock()
		delete(bm.bans, id)
		bm.mu.Unlock()
		if bm.store != nil {
			_ = bm.store.Delete(id)
		}
		return false
	}

	return true
}

// Unban manually removes a ban.
func (bm *BanManager) Unban(id string) {
	bm.mu.Lock()
	delete(bm.bans, id)
	delete(bm.scores, id)
	bm.mu.Unlock()

	if bm.store != nil {
		_ = bm.store.Delete(id)
	}
}

// BanList returns a snapshot of all active bans.
func (bm *BanManager) BanList() []BanRecord {
	bm.mu.RLock()
	defer bm.mu.RUnlock()

	now := bm.now()
	var list []BanRecord
	for _, rec := range bm.bans {
		if !rec.IsExpired(now) {
			list = append(list, *rec)
		}
	}
	return list
}

// RunPruneLoop periodically prunes expired bans until ctx is done.
func (bm *BanManager) RunPruneLoop(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			bm.pruneExpired()
		}
	}
}

func (bm *BanManager) pruneExpired() {
	now := bm.now()
	bm.mu.Lock()
	for id, rec := range bm.bans {
		if rec.IsExpired(now) {
			delete(bm.bans, id)
		}
	}
	bm.mu.Unlock()

	if bm.store != nil {
		if _, err := bm.store.PruneExpired(now); err != nil {
			log.P2P.Warn().Err(err).Msg("Failed to prune bans")
		}
	}
}
