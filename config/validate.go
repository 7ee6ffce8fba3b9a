package config

import (
	"fmt"
	"net"
	"strings"
)

// Validate checks runtime node config for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Network.Params() == nil {
		return fmt.Errorf("network must be %q or %q", Mainnet, Regtest)
	}
	if cfg.DataDir == "" {
		return fmt.Errorf("datadir must be set")
	}
	if cfg.Chain.Workers < 1 {
		return fmt.Errorf("chain.workers must be at least 1")
	}
	if cfg.Chain.QueueSize < 1 {
		return fmt.Errorf("chain.queuesize must be at least 1")
	}
	if cfg.Mempool.MaxSize < 1 {
		return fmt.Errorf("mempool.maxsize must be at least 1")
	}
	if cfg.Mempool.MinFeeRate < 0 {
		return fmt.Errorf("mempool.minfeerate must not be negative")
	}
	if cfg.Mempool.DataCarrierSize < 0 {
		return fmt.Errorf("mempool.datacarriersize must not be negative")
	}
	if cfg.RPC.Enabled {
		if _, _, err := net.SplitHostPort(cfg.RPC.Addr); err != nil {
			return fmt.Errorf("rpc.addr %q: %w", cfg.RPC.Addr, err)
		}
		for _, entry := range cfg.RPC.AllowedIPs {
			if _, _, err := net.ParseCIDR(entry); err != nil && net.ParseIP(entry) == nil {
				return fmt.Errorf("rpc.allowed: %q is not an IP or CIDR", entry)
			}
		}
	}
	if cfg.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(cfg.Metrics.Addr); err != nil {
			return fmt.Errorf("metrics.addr %q: %w", cfg.Metrics.Addr, err)
		}
	}

	switch strings.ToLower(cfg.Log.Level) {
	case "", "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be trace, debug, info, warn or error")
	}
	return nil
}
