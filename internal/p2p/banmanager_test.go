package p2p

import (
	"testing"
	"time"

	"github.com/Klingon-tech/tapnode/internal/storage"
)

func newTestBanManager(store *BanStore) (*BanManager, *time.Time) {
	now := t0
	bm := NewBanManager(store)
	bm.now = func() time.Time { return now }
	return bm, &now
}

func TestBanManager_ScoreAccumulation(t *testing.T) {
	bm, _ := newTestBanManager(nil)
	id := "10.0.0.1:8333"

	// 20 points should not trigger ban.
	bm.RecordOffense(id, PenaltyInvalidTx, "bad tx 1")
	if bm.IsBanned(id) {
		t.Error("peer should not be banned after 20 points")
	}

	// Another 20 points (total 40), still not banned.
	bm.RecordOffense(id, PenaltyInvalidTx, "bad tx 2")
	if bm.IsBanned(id) {
		t.Error("peer should not be banned after 40 points")
	}
	if bm.Score(id) != 40 {
		t.Errorf("Score() = %d, want 40", bm.Score(id))
	}
}

func TestBanManager_ThresholdBan(t *testing.T) {
	bm, _ := newTestBanManager(nil)
	id := "10.0.0.1:8333"

	var banned []string
	bm.OnBan = func(id string) { banned = append(banned, id) }

	for i := range BanThreshold/PenaltyProtocol - 1 {
		if bm.RecordOffense(id, PenaltyProtocol, "protocol") {
			t.Fatalf("banned after %d offenses", i+1)
		}
	}
	if !bm.RecordOffense(id, PenaltyProtocol, "protocol") {
		t.Fatal("threshold offense should ban")
	}
	if !bm.IsBanned(id) {
		t.Error("peer should be banned at threshold")
	}
	if len(banned) != 1 || banned[0] != id {
		t.Errorf("OnBan calls = %v", banned)
	}
	if bm.Score(id) != 0 {
		t.Error("score should reset once banned")
	}
}

func TestBanManager_InstantBan(t *testing.T) {
	bm, _ := newTestBanManager(nil)
	id := "10.0.0.1:8333"

	bm.RecordOffense(id, PenaltyInvalidBlock, "bad block")
	if !bm.IsBanned(id) {
		t.Error("peer should be banned after an invalid block")
	}
}

func TestBanManager_ZeroPenalty(t *testing.T) {
	bm, _ := newTestBanManager(nil)
	if bm.RecordOffense("a", 0, "") {
		t.Error("zero penalty should not ban")
	}
	if bm.Score("a") != 0 {
		t.Error("zero penalty should not score")
	}
}

func TestBanManager_Expiry(t *testing.T) {
	bm, now := newTestBanManager(nil)
	id := "10.0.0.1:8333"
	bm.RecordOffense(id, PenaltyHandshakeFail, "bad")

	*now = now.Add(BanDuration)
	if bm.IsBanned(id) {
		t.Error("ban should expire")
	}
	if len(bm.BanList()) != 0 {
		t.Error("expired ban still listed")
	}
}

func TestBanManager_Unban(t *testing.T) {
	bm, _ := newTestBanManager(nil)
	id := "10.0.0.1:8333"
	bm.RecordOffense(id, PenaltyHandshakeFail, "bad handshake")

	if !bm.IsBanned(id) {
		t.Fatal("peer should be banned")
	}

	bm.Unban(id)
	if bm.IsBanned(id) {
		t.Error("peer should not be banned after Unban")
	}
}

func TestBanManager_BanList(t *testing.T) {
	bm, _ := newTestBanManager(nil)

	bm.RecordOffense("peer-a", PenaltyHandshakeFail, "bad")
	bm.RecordOffense("peer-b", PenaltyHandshakeFail, "bad")

	if list := bm.BanList(); len(list) != 2 {
		t.Errorf("expected 2 bans, got %d", len(list))
	}
}

func TestBanManager_Persistence(t *testing.T) {
	store := NewBanStore(storage.NewMemory())
	bm, _ := newTestBanManager(store)
	id := "10.0.0.9:8333"
	bm.RecordOffense(id, PenaltyHandshakeFail, "genesis mismatch")

	// A second manager over the same store sees the ban.
	bm2, _ := newTestBanManager(store)
	if err := bm2.LoadBans(); err != nil {
		t.Fatalf("LoadBans: %v", err)
	}
	if !bm2.IsBanned(id) {
		t.Error("ban should survive reload from store")
	}

	// After expiry LoadBans prunes the record.
	bm3, now := newTestBanManager(store)
	*now = now.Add(BanDuration + time.Second)
	if err := bm3.LoadBans(); err != nil {
		t.Fatalf("LoadBans: %v", err)
	}
	if bm3.IsBanned(id) {
		t.Error("expired ban should not load")
	}
	if _, err := store.Get(id); err == nil {
		t.Error("expired ban should be pruned from the store")
	}
}

func TestBanManager_DuplicateOffense_AlreadyBanned(t *testing.T) {
	bm, _ := newTestBanManager(nil)
	id := "10.0.0.1:8333"
	bm.RecordOffense(id, PenaltyHandshakeFail, "bad handshake")

	// Recording another offense on a banned peer should be a no-op.
	if bm.RecordOffense(id, PenaltyInvalidBlock, "bad block") {
		t.Error("offense on a banned peer reported a new ban")
	}
	if list := bm.BanList(); len(list) != 1 || list[0].Reason != "bad handshake" {
		t.Errorf("ban list = %+v", list)
	}
}

func TestBanManager_PruneExpired(t *testing.T) {
	store := NewBanStore(storage.NewMemory())
	bm, now := newTestBanManager(store)
	bm.RecordOffense("a", PenaltyHandshakeFail, "bad")

	*now = now.Add(BanDuration)
	bm.pruneExpired()
	if len(bm.bans) != 0 {
		t.Error("in-memory ban not pruned")
	}
	if _, err := store.Get("a"); err == nil {
		t.Error("stored ban not pruned")
	}
}
