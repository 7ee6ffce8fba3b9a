// Package config handles application configuration.
//
// Configuration is split into two categories:
//   - Protocol rules: fixed per network in consensus.Params, must match across all nodes
//   - Node settings: Runtime configuration, can vary per node
package config

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/Klingon-tech/tapnode/internal/consensus"
	"github.com/Klingon-tech/tapnode/internal/mempool"
)

// NetworkType identifies the network a node follows.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Regtest NetworkType = "regtest"
)

// Params returns the consensus parameters of the network, or nil for an
// unknown network.
func (n NetworkType) Params() *consensus.Params {
	switch n {
	case Mainnet:
		return consensus.MainNetParams()
	case Regtest:
		return consensus.RegTestParams()
	}
	return nil
}

// =============================================================================
// Node Configuration (runtime, per-node settings)
// =============================================================================

// Config holds node-specific runtime configuration.
// These settings can vary between nodes without breaking consensus.
type Config struct {
	// Core
	Network NetworkType `conf:"network"`
	DataDir string      `conf:"datadir"`

	// Block validation
	Chain ChainConfig

	// Transaction pool
	Mempool MempoolConfig

	// JSON-RPC server
	RPC RPCConfig

	// Prometheus endpoint
	Metrics MetricsConfig

	// Logging
	Log LogConfig

	// ImportFile names a file of hex-encoded raw blocks, one per line, to
	// process on startup (not persisted in config file).
	ImportFile string
}

// ChainConfig holds block processing settings.
type ChainConfig struct {
	Workers   int `conf:"chain.workers"`   // Parallel script verification workers.
	QueueSize int `conf:"chain.queuesize"` // Pending blocks awaiting processing.
}

// MempoolConfig holds relay policy settings.
type MempoolConfig struct {
	MaxSize            int   `conf:"mempool.maxsize"`    // Transaction count limit.
	MinFeeRate         int64 `conf:"mempool.minfeerate"` // Satoshis per virtual byte.
	PermitBareMultiSig bool  `conf:"mempool.permitbaremultisig"`
	DataCarrierSize    int   `conf:"mempool.datacarriersize"` // Largest OP_RETURN payload.
}

// RPCConfig holds JSON-RPC server settings.
type RPCConfig struct {
	Enabled    bool     `conf:"rpc.enabled"`
	Addr       string   `conf:"rpc.addr"`
	AllowedIPs []string `conf:"rpc.allowed"` // IPs or CIDRs; empty allows all.
}

// MetricsConfig holds the Prometheus listener settings.
type MetricsConfig struct {
	Enabled bool   `conf:"metrics.enabled"`
	Addr    string `conf:"metrics.addr"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// =============================================================================
// Directory helpers
// =============================================================================

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.tapnode
//	macOS:   ~/Library/Application Support/Tapnode
//	Windows: %APPDATA%\Tapnode
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tapnode"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Tapnode")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "Tapnode")
		}
		return filepath.Join(home, "AppData", "Roaming", "Tapnode")
	default:
		return filepath.Join(home, ".tapnode")
	}
}

// ChainDataDir returns the network-specific data directory.
func (c *Config) ChainDataDir() string {
	return filepath.Join(c.DataDir, string(c.Network))
}

// DatabaseDir returns the block, coin and undo database directory.
func (c *Config) DatabaseDir() string {
	return filepath.Join(c.ChainDataDir(), "db")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "tapnode.conf")
}

// MempoolPolicy returns the relay policy described by the mempool settings.
func (c *Config) MempoolPolicy() *mempool.Policy {
	p := mempool.DefaultPolicy()
	p.PermitBareMultiSig = c.Mempool.PermitBareMultiSig
	p.MaxDataCarrierSize = c.Mempool.DataCarrierSize
	return p
}
