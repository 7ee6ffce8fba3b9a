package node

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/Klingon-tech/tapnode/config"
	"github.com/Klingon-tech/tapnode/internal/p2p"
	"github.com/Klingon-tech/tapnode/internal/rpc"
	"github.com/Klingon-tech/tapnode/internal/rpcclient"
	"github.com/Klingon-tech/tapnode/pkg/block"
	"github.com/Klingon-tech/tapnode/pkg/types"
)

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	tests := []struct {
		input, want string
	}{
		{"~/foo/bar", filepath.Join(home, "foo/bar")},
		{"~/.tapnode/blocks.hex", filepath.Join(home, ".tapnode/blocks.hex")},
		{"/absolute/path", "/absolute/path"},
		{"relative/path", "relative/path"},
		{"", ""},
	}
	for _, tt := range tests {
		got := expandHome(tt.input)
		if got != tt.want {
			t.Errorf("expandHome(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestNewWithDB_StartsAtGenesis(t *testing.T) {
	n := newTestNode(t, nil)
	if n.Height() != 0 {
		t.Fatalf("height = %d, want 0", n.Height())
	}
	if n.TipHash() != n.Chain().Params().Genesis.Hash() {
		t.Fatalf("tip %s is not genesis", n.TipHash())
	}
	if n.Mempool().Count() != 0 {
		t.Fatalf("mempool not empty")
	}
	if err := n.Start(); err == nil {
		t.Fatal("second Start should fail")
	}
}

func TestImportBlocks(t *testing.T) {
	n := newTestNode(t, nil)
	m := newMiner(t)
	blks := m.chainFrom(t, 3)

	body := "# regtest blocks\n\n" + hexLines(t, blks).String()
	stats, err := n.ImportBlocks(context.Background(), strings.NewReader(body))
	if err != nil {
		t.Fatalf("ImportBlocks: %v", err)
	}
	if stats.Lines != 3 || stats.Accepted != 3 || stats.Known != 0 {
		t.Fatalf("stats = %+v", stats)
	}
	if n.Height() != 3 || n.TipHash() != blks[2].Hash() {
		t.Fatalf("tip = %d %s, want 3 %s", n.Height(), n.TipHash(), blks[2].Hash())
	}

	// A second import only finds known blocks.
	stats, err = n.ImportBlocks(context.Background(), hexLines(t, blks))
	if err != nil {
		t.Fatalf("re-import: %v", err)
	}
	if stats.Accepted != 0 || stats.Known != 3 {
		t.Fatalf("re-import stats = %+v", stats)
	}
}

func TestImportBlocks_BadHex(t *testing.T) {
	n := newTestNode(t, nil)
	_, err := n.ImportBlocks(context.Background(), strings.NewReader("\nzz\n"))
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Fatalf("err = %v, want line 2 hex error", err)
	}
}

func TestImportBlocks_TruncatedBlock(t *testing.T) {
	n := newTestNode(t, nil)
	line := hexLines(t, newMiner(t).chainFrom(t, 1)).String()
	line = strings.TrimSpace(line)
	_, err := n.ImportBlocks(context.Background(), strings.NewReader(line[:len(line)-4]))
	if err == nil {
		t.Fatal("expected decode error")
	}
}

func TestImportBlocks_InvalidBlockStops(t *testing.T) {
	n := newTestNode(t, nil)
	m := newMiner(t)
	blks := m.chainFrom(t, 3)

	// Break the merkle root of the second block and reseal it.
	bad := *blks[1].Header
	bad.MerkleRoot[0] ^= 0xff
	broken := block.NewBlock(&bad, blks[1].Transactions)

	input := hexLines(t, []*block.Block{blks[0], broken, blks[2]})
	stats, err := n.ImportBlocks(context.Background(), input)
	if err == nil {
		t.Fatal("expected invalid block error")
	}
	if stats.Accepted != 1 {
		t.Fatalf("accepted = %d, want 1", stats.Accepted)
	}
	if n.Height() != 1 {
		t.Fatalf("height = %d, want 1", n.Height())
	}
}

func TestImportFile_Missing(t *testing.T) {
	n := newTestNode(t, nil)
	if _, err := n.ImportFile(context.Background(), filepath.Join(t.TempDir(), "none.hex")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestHandlePeerOutput_InvalidBlockBansPeer(t *testing.T) {
	n := newTestNode(t, nil)
	m := newMiner(t)
	good := m.chainFrom(t, 2)

	bad := *good[0].Header
	bad.MerkleRoot[0] ^= 0xff
	broken := block.NewBlock(&bad, good[0].Transactions)

	const peer = "203.0.113.7:8333"
	closeConn, err := n.HandlePeerOutput(context.Background(), peer, p2p.Output{Blocks: []*block.Block{broken}})
	if err != nil {
		t.Fatalf("HandlePeerOutput: %v", err)
	}
	if closeConn {
		t.Fatal("block delivery alone should not close")
	}

	// The queue is serialized, so once this block is done the bad one has
	// been handled too.
	processAll(t, n, good[:1])
	if !n.Bans().IsBanned(peer) {
		t.Fatalf("peer not banned, score %d", n.Bans().Score(peer))
	}
	closeConn, err = n.HandlePeerOutput(context.Background(), peer, p2p.Output{Blocks: good[1:]})
	if err != nil || !closeConn {
		t.Fatalf("banned peer: close=%v err=%v", closeConn, err)
	}
	if n.Height() != 1 {
		t.Fatalf("banned peer's block was processed: height %d", n.Height())
	}
}

func TestHandlePeerOutput_Penalty(t *testing.T) {
	n := newTestNode(t, nil)
	const peer = "198.51.100.1:8333"

	out := p2p.Output{Penalty: p2p.PenaltyProtocol, Offense: "message before handshake"}
	closeConn, err := n.HandlePeerOutput(context.Background(), peer, out)
	if err != nil || closeConn {
		t.Fatalf("close=%v err=%v", closeConn, err)
	}
	if n.Bans().Score(peer) != p2p.PenaltyProtocol {
		t.Fatalf("score = %d", n.Bans().Score(peer))
	}

	out = p2p.Output{Close: true, CloseReason: "ping timeout"}
	if closeConn, _ := n.HandlePeerOutput(context.Background(), peer, out); !closeConn {
		t.Fatal("session close not propagated")
	}
}

func TestHandlePeerOutput_ValidBlocks(t *testing.T) {
	n := newTestNode(t, nil)
	blks := newMiner(t).chainFrom(t, 2)

	if _, err := n.HandlePeerOutput(context.Background(), "peer", p2p.Output{Blocks: blks}); err != nil {
		t.Fatalf("HandlePeerOutput: %v", err)
	}
	waitFor(t, "blocks connected", func() bool { return n.Height() == 2 })
	if n.Bans().Score("peer") != 0 {
		t.Fatalf("honest peer scored %d", n.Bans().Score("peer"))
	}
}

func TestNode_SessionSyncsFromChain(t *testing.T) {
	n := newTestNode(t, nil)
	blks := newMiner(t).chainFrom(t, 2)
	processAll(t, n, blks)

	now := time.Unix(1_700_000_000, 0)
	s := p2p.NewSession(n.SessionConfig(false, true), now)
	out := s.Start(now)
	if len(out.Send) != 1 {
		t.Fatalf("Start sent %d messages", len(out.Send))
	}
	if v := out.Send[0].(*wire.MsgVersion); v.LastBlock != 2 || v.Nonce == 0 {
		t.Fatalf("version height=%d nonce=%d", v.LastBlock, v.Nonce)
	}

	peer := wire.NewMsgVersion(&wire.NetAddress{}, &wire.NetAddress{}, 1, 0)
	peer.ProtocolVersion = int32(p2p.ProtocolVersion)
	s.Handle(peer, now)
	out = s.Handle(wire.NewMsgVerAck(), now)
	if len(out.Send) != 1 {
		t.Fatalf("after verack sent %d messages", len(out.Send))
	}
	gb, ok := out.Send[0].(*wire.MsgGetBlocks)
	if !ok {
		t.Fatalf("after verack sent %s, want getblocks", out.Send[0].Command())
	}
	want := []types.Hash{blks[1].Hash(), blks[0].Hash(), n.Chain().GenesisHash()}
	if len(gb.BlockLocatorHashes) != len(want) {
		t.Fatalf("locator has %d hashes, want %d", len(gb.BlockLocatorHashes), len(want))
	}
	for i, h := range gb.BlockLocatorHashes {
		if types.Hash(*h) != want[i] {
			t.Errorf("locator[%d] = %s, want %s", i, types.Hash(*h), want[i])
		}
	}

	inv := wire.NewMsgInv()
	known := chainhash.Hash(blks[1].Hash())
	unknown := chainhash.Hash{0x42}
	_ = inv.AddInvVect(wire.NewInvVect(wire.InvTypeBlock, &known))
	_ = inv.AddInvVect(wire.NewInvVect(wire.InvTypeBlock, &unknown))
	out = s.Handle(inv, now)
	if len(out.Send) != 1 {
		t.Fatalf("reply to inv: %d messages", len(out.Send))
	}
	gd := out.Send[0].(*wire.MsgGetData)
	if len(gd.InvList) != 1 || gd.InvList[0].Hash != unknown {
		t.Fatalf("getdata = %v, want only the unknown block", gd.InvList)
	}
}

func TestNode_MempoolFollowsChain(t *testing.T) {
	n := newTestNode(t, nil)
	m := newMiner(t)
	blks := m.chainFrom(t, 101)
	processAll(t, n, blks)

	spend := m.spendCoinbase(t, blks[0], 1000)
	fee, err := n.Mempool().Add(context.Background(), spend)
	if err != nil {
		t.Fatalf("mempool Add: %v", err)
	}
	if fee != 1000 {
		t.Fatalf("fee = %d, want 1000", fee)
	}

	hashes, err := n.Generate(context.Background(), 1, m.pkScript)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	confirm, err := n.Chain().GetBlock(hashes[0])
	if err != nil {
		t.Fatalf("GetBlock: %v", err)
	}
	if len(confirm.Transactions) != 2 || confirm.Transactions[1].Hash() != spend.Hash() {
		t.Fatalf("generated block does not confirm the spend")
	}
	waitFor(t, "mempool eviction", func() bool { return !n.Mempool().Has(spend.Hash()) })

	// Disconnecting the block returns the transaction to the pool.
	if err := n.Chain().Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	waitFor(t, "mempool re-add", func() bool { return n.Mempool().Has(spend.Hash()) })
}

func TestGenerate_MainnetRefused(t *testing.T) {
	cfg := testConfig(t)
	cfg.Network = config.Mainnet
	n := newTestNode(t, cfg)
	if _, err := n.Generate(context.Background(), 1, newMiner(t).pkScript); !errors.Is(err, ErrNotRegtest) {
		t.Fatalf("err = %v, want ErrNotRegtest", err)
	}
}

func TestNode_MetricsServer(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.Enabled = true
	cfg.Metrics.Addr = "127.0.0.1:0"
	n := newTestNode(t, cfg)
	processAll(t, n, newMiner(t).chainFrom(t, 1))

	addr := n.MetricsAddr()
	if addr == "" {
		t.Fatal("metrics server not running")
	}
	resp, err := http.Get("http://" + addr + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	for _, want := range []string{
		"tapnode_chain_tip_height 1",
		"tapnode_chain_blocks_connected_total 1",
		"tapnode_node_blocks_processed_total 1",
		"tapnode_mempool_transactions 0",
	} {
		if !bytes.Contains(body, []byte(want)) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestNode_RPCServer(t *testing.T) {
	cfg := testConfig(t)
	cfg.RPC.Enabled = true
	cfg.RPC.Addr = "127.0.0.1:0"
	n := newTestNode(t, cfg)
	client := rpcclient.New("http://" + n.RPCAddr() + "/")
	ctx := context.Background()

	var gen rpc.GenerateResult
	if err := client.Call(ctx, "mining_generate", rpc.GenerateParam{Count: 2, Script: "51"}, &gen); err != nil {
		t.Fatalf("mining_generate: %v", err)
	}
	if len(gen.Hashes) != 2 {
		t.Fatalf("generated %d blocks", len(gen.Hashes))
	}
	if n.Queue().Processed() != 2 {
		t.Errorf("queue processed %d, want 2", n.Queue().Processed())
	}

	var info rpc.ChainInfoResult
	if err := client.Call(ctx, "chain_getInfo", nil, &info); err != nil {
		t.Fatalf("chain_getInfo: %v", err)
	}
	if info.Height != 2 || info.TipHash != gen.Hashes[1] {
		t.Fatalf("info = %+v", info)
	}

	n.Bans().RecordOffense("10.0.0.9:8333", 100, "test")
	var bans []rpc.BanInfo
	if err := client.Call(ctx, "net_getBanList", nil, &bans); err != nil {
		t.Fatalf("net_getBanList: %v", err)
	}
	if len(bans) != 1 || bans[0].ID != "10.0.0.9:8333" {
		t.Fatalf("bans = %+v", bans)
	}
}

func TestNew_PersistsAcrossRestart(t *testing.T) {
	cfg := testConfig(t)
	blks := newMiner(t).chainFrom(t, 2)

	n, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := n.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := n.ImportBlocks(context.Background(), hexLines(t, blks)); err != nil {
		t.Fatalf("ImportBlocks: %v", err)
	}
	n.Bans().RecordOffense("bad-peer", p2p.BanThreshold, "test")
	n.Stop()

	n, err = New(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer n.Stop()
	if n.Height() != 2 || n.TipHash() != blks[1].Hash() {
		t.Fatalf("reopened at %d %s", n.Height(), n.TipHash())
	}
	if !n.Bans().IsBanned("bad-peer") {
		t.Fatal("ban not persisted")
	}
	if _, err := os.Stat(filepath.Join(cfg.LogsDir(), "tapnode.log")); err != nil {
		t.Fatalf("log file: %v", err)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Network = "simnet"
	if _, err := New(cfg); err == nil {
		t.Fatal("expected error for unknown network")
	}
}
