package config

import (
	"runtime"

	"github.com/Klingon-tech/tapnode/internal/mempool"
	"github.com/Klingon-tech/tapnode/pkg/script"
)

// Default listen addresses.
const (
	DefaultRPCAddr        = "127.0.0.1:8332"
	DefaultRegtestRPCAddr = "127.0.0.1:18443"

	DefaultMetricsAddr        = "127.0.0.1:9332"
	DefaultRegtestMetricsAddr = "127.0.0.1:19332"
)

// DefaultMainnet returns the default node configuration for mainnet.
func DefaultMainnet() *Config {
	return &Config{
		Network: Mainnet,
		DataDir: DefaultDataDir(),
		Chain: ChainConfig{
			Workers:   runtime.NumCPU(),
			QueueSize: 256,
		},
		Mempool: MempoolConfig{
			MaxSize:            mempool.DefaultMaxSize,
			MinFeeRate:         1,
			PermitBareMultiSig: true,
			DataCarrierSize:    script.MaxDataCarrierSize,
		},
		RPC: RPCConfig{
			Enabled:    true,
			Addr:       DefaultRPCAddr,
			AllowedIPs: []string{"127.0.0.1", "::1"},
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    DefaultMetricsAddr,
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}

// DefaultRegtest returns the default node configuration for regtest.
func DefaultRegtest() *Config {
	cfg := DefaultMainnet()
	cfg.Network = Regtest
	cfg.Mempool.MinFeeRate = 0
	cfg.RPC.Addr = DefaultRegtestRPCAddr
	cfg.Metrics.Addr = DefaultRegtestMetricsAddr
	return cfg
}

// Default returns the default node configuration for the given network.
func Default(network NetworkType) *Config {
	switch network {
	case Regtest:
		return DefaultRegtest()
	default:
		return DefaultMainnet()
	}
}
