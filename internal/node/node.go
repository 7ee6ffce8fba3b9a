// Package node provides a reusable tapnode instance that can be embedded
// in any binary.
package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/Klingon-tech/tapnode/config"
	"github.com/Klingon-tech/tapnode/internal/chain"
	klog "github.com/Klingon-tech/tapnode/internal/log"
	"github.com/Klingon-tech/tapnode/internal/mempool"
	"github.com/Klingon-tech/tapnode/internal/miner"
	"github.com/Klingon-tech/tapnode/internal/p2p"
	"github.com/Klingon-tech/tapnode/internal/rpc"
	"github.com/Klingon-tech/tapnode/internal/storage"
	"github.com/Klingon-tech/tapnode/pkg/block"
	"github.com/Klingon-tech/tapnode/pkg/types"
	"github.com/btcsuite/btcd/wire"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
)

// ErrNotRegtest is returned by Generate on networks where blocks cannot
// be mined on demand.
var ErrNotRegtest = errors.New("block generation is only available on regtest")

// eventBuffer sizes the mempool's chain event subscription.
const eventBuffer = 64

// Node is a fully-initialized tapnode.
type Node struct {
	cfg    *config.Config
	logger zerolog.Logger

	// Core
	db    storage.DB
	ch    *chain.Chain
	pool  *mempool.Pool
	queue *BlockQueue

	// Peers
	bans *p2p.BanManager
	// nonce identifies this node in version messages.
	nonce uint64

	// Servers
	rpcServer *rpc.Server

	// Metrics
	registry      *prometheus.Registry
	metricsServer *http.Server
	metricsAddr   string

	// Lifecycle
	ownsLog bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New creates and initializes a new Node. It performs all setup steps
// (logger, storage, chain, mempool, ban list) but does NOT start
// background goroutines. Call Start() for that.
func New(cfg *config.Config) (*Node, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	// ── 1. Init logger ──────────────────────────────────────────────
	logFile := expandHome(cfg.Log.File)
	if logFile == "" {
		logFile = filepath.Join(cfg.LogsDir(), "tapnode.log")
	}
	if err := ensureDir(filepath.Dir(logFile)); err != nil {
		return nil, fmt.Errorf("creating logs dir: %w", err)
	}
	if err := klog.Init(cfg.Log.Level, cfg.Log.JSON, logFile); err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}

	// ── 2. Open storage ─────────────────────────────────────────────
	dbDir := cfg.DatabaseDir()
	db, err := storage.NewBadger(dbDir)
	if err != nil {
		return nil, fmt.Errorf("open database at %s: %w", dbDir, err)
	}

	n, err := NewWithDB(cfg, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	n.ownsLog = true
	n.logger.Info().Str("path", dbDir).Msg("Database opened")
	return n, nil
}

// NewWithDB builds a Node on an already opened store. The node owns db
// and closes it on Stop.
func NewWithDB(cfg *config.Config, db storage.DB) (*Node, error) {
	params := cfg.Network.Params()
	if params == nil {
		return nil, fmt.Errorf("unknown network %q", cfg.Network)
	}
	logger := klog.WithComponent("node").With().Str("network", params.Name).Logger()
	logger.Info().
		Str("network", string(cfg.Network)).
		Int("workers", cfg.Chain.Workers).
		Msg("Starting tapnode")

	// ── 1. Metrics registry ─────────────────────────────────────────
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// ── 2. Chain ────────────────────────────────────────────────────
	ch, err := chain.New(chain.Config{
		Params:  params,
		DB:      db,
		Workers: cfg.Chain.Workers,
		Metrics: chain.NewMetrics(registry),
	})
	if err != nil {
		return nil, fmt.Errorf("create chain: %w", err)
	}

	// ── 3. Mempool ──────────────────────────────────────────────────
	pool := mempool.New(ch, cfg.MempoolPolicy(), cfg.Mempool.MaxSize)
	pool.SetMinFeeRate(cfg.Mempool.MinFeeRate)

	// ── 4. Ban list ─────────────────────────────────────────────────
	bans := p2p.NewBanManager(p2p.NewBanStore(db))
	if err := bans.LoadBans(); err != nil {
		logger.Warn().Err(err).Msg("Failed to load persisted bans")
	}

	nonce, err := wire.RandomUint64()
	if err != nil {
		return nil, fmt.Errorf("version nonce: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		cfg:         cfg,
		logger:      logger,
		db:          db,
		ch:          ch,
		pool:        pool,
		bans:        bans,
		nonce:       nonce,
		registry:    registry,
		metricsAddr: cfg.Metrics.Addr,
		ctx:         ctx,
		cancel:      cancel,
	}
	n.queue = NewBlockQueue(ch, cfg.Chain.QueueSize, n.punishBlock)
	registerNodeMetrics(registry, n)

	return n, nil
}

// Start launches background goroutines: the block queue, the mempool's
// chain event loop, ban pruning, the JSON-RPC server and the metrics
// listener.
func (n *Node) Start() error {
	if n.started {
		return errors.New("node already started")
	}
	n.started = true

	events, unsubscribe := n.ch.Subscribe(eventBuffer)

	n.wg.Add(3)
	go func() {
		defer n.wg.Done()
		n.queue.Run(n.ctx)
	}()
	go func() {
		defer n.wg.Done()
		defer unsubscribe()
		n.pool.Run(n.ctx, events)
	}()
	go func() {
		defer n.wg.Done()
		n.bans.RunPruneLoop(n.ctx)
	}()

	if n.cfg.RPC.Enabled {
		if err := n.startRPC(); err != nil {
			n.cancel()
			n.wg.Wait()
			return fmt.Errorf("start rpc: %w", err)
		}
	}

	if n.cfg.Metrics.Enabled {
		if err := n.startMetrics(); err != nil {
			if n.rpcServer != nil {
				n.rpcServer.Stop()
			}
			n.cancel()
			n.wg.Wait()
			return fmt.Errorf("start metrics: %w", err)
		}
	}

	tip := n.ch.State()
	n.logger.Info().
		Uint32("height", tip.Height).
		Str("tip", tip.TipHash.String()).
		Bool("rpc", n.cfg.RPC.Enabled).
		Bool("metrics", n.cfg.Metrics.Enabled).
		Msg("Node started successfully")
	return nil
}

// Stop performs graceful shutdown in reverse order.
func (n *Node) Stop() {
	if n.rpcServer != nil {
		if err := n.rpcServer.Stop(); err != nil {
			n.logger.Warn().Err(err).Msg("RPC server shutdown")
		}
	}
	if n.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := n.metricsServer.Shutdown(shutdownCtx); err != nil {
			n.logger.Warn().Err(err).Msg("Metrics server shutdown")
		}
		cancel()
	}

	n.cancel()
	n.wg.Wait()

	if n.db != nil {
		if err := n.db.Close(); err != nil {
			n.logger.Warn().Err(err).Msg("Closing database")
		}
	}

	n.logger.Info().Msg("Goodbye!")
	if n.ownsLog {
		klog.Close()
	}
}

// Chain returns the node's chain.
func (n *Node) Chain() *chain.Chain {
	return n.ch
}

// Mempool returns the node's transaction pool.
func (n *Node) Mempool() *mempool.Pool {
	return n.pool
}

// Bans returns the peer ban manager.
func (n *Node) Bans() *p2p.BanManager {
	return n.bans
}

// Queue returns the block queue.
func (n *Node) Queue() *BlockQueue {
	return n.queue
}

// Registry returns the prometheus registry the node's collectors use.
func (n *Node) Registry() *prometheus.Registry {
	return n.registry
}

// Height returns the current chain height.
func (n *Node) Height() uint32 {
	return n.ch.Height()
}

// TipHash returns the hash of the current chain tip.
func (n *Node) TipHash() types.Hash {
	return n.ch.TipHash()
}

// RPCAddr returns the address the JSON-RPC server is listening on.
func (n *Node) RPCAddr() string {
	if n.rpcServer == nil {
		return ""
	}
	return n.rpcServer.Addr()
}

// MetricsAddr returns the address the metrics server is listening on.
func (n *Node) MetricsAddr() string {
	if n.metricsServer == nil {
		return ""
	}
	return n.metricsAddr
}

// Generate mines count blocks from the mempool paying to payTo and
// processes each through the block queue. It returns the new block hashes.
func (n *Node) Generate(ctx context.Context, count int, payTo []byte) ([]types.Hash, error) {
	if n.cfg.Network != config.Regtest {
		return nil, ErrNotRegtest
	}
	m := miner.New(n.ch, n.pool, payTo)
	hashes := make([]types.Hash, 0, count)
	for range count {
		blk, err := m.ProduceBlock(ctx)
		if err != nil {
			return hashes, err
		}
		if err := n.queue.Process(ctx, blk); err != nil {
			return hashes, fmt.Errorf("generated block %s: %w", blk.Hash(), err)
		}
		hashes = append(hashes, blk.Hash())
	}
	return hashes, nil
}

// ── Peers ───────────────────────────────────────────────────────────

// SessionConfig returns the session settings for a new peer connection.
// A loader session syncs blocks from the peer using the chain's locator.
func (n *Node) SessionConfig(inbound, loader bool) p2p.SessionConfig {
	return p2p.SessionConfig{
		Inbound:     inbound,
		Nonce:       n.nonce,
		Services:    wire.SFNodeNetwork | wire.SFNodeWitness,
		StartHeight: func() int32 { return int32(n.ch.Height()) },
		Loader:      loader,
		Locator:     n.ch.BlockLocator,
		HaveBlock:   n.ch.HasBlock,
	}
}

// HandlePeerOutput applies what a peer session asked for: blocks are
// queued for validation and offenses are scored. It reports whether the
// connection to peer should be dropped.
func (n *Node) HandlePeerOutput(ctx context.Context, peer string, out p2p.Output) (bool, error) {
	if n.bans.IsBanned(peer) {
		return true, nil
	}
	if out.Penalty > 0 {
		if n.bans.RecordOffense(peer, out.Penalty, out.Offense) {
			return true, nil
		}
	}
	for _, blk := range out.Blocks {
		if err := n.queue.Submit(ctx, peer, blk); err != nil {
			return out.Close, err
		}
	}
	if out.Close {
		n.logger.Debug().Str("peer", peer).Str("reason", out.CloseReason).Msg("Closing peer session")
	}
	return out.Close, nil
}

// punishBlock scores a peer for relaying an invalid block.
func (n *Node) punishBlock(peer string, blk *block.Block, err error) {
	reason := fmt.Sprintf("invalid block %s: %v", blk.Hash(), err)
	n.bans.RecordOffense(peer, p2p.PenaltyInvalidBlock, reason)
}

// ── Servers ─────────────────────────────────────────────────────────

// startRPC serves JSON-RPC. Submitted blocks share the block queue with
// peers and imports.
func (n *Node) startRPC() error {
	srv := rpc.New(n.cfg.RPC.Addr, n.ch, n.pool, n.cfg.RPC.AllowedIPs)
	srv.SetBanManager(n.bans)
	srv.SetBlockSubmitter(n.queue.Process)
	if n.cfg.Network == config.Regtest {
		srv.SetGenerator(n.Generate)
	}
	if err := srv.Start(); err != nil {
		return err
	}
	n.rpcServer = srv
	return nil
}

func (n *Node) startMetrics() error {
	ln, err := net.Listen("tcp", n.cfg.Metrics.Addr)
	if err != nil {
		return err
	}
	n.metricsAddr = ln.Addr().String()
	n.metricsServer = newMetricsServer(n.registry)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.metricsServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			n.logger.Error().Err(err).Msg("Metrics server stopped")
		}
	}()
	n.logger.Info().Str("addr", n.metricsAddr).Msg("Metrics server listening")
	return nil
}
