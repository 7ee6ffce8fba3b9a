package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// LoadFile loads node configuration from a .conf file.
// Format: key = value (one per line, # for comments)
func LoadFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse key = value
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("line %d: invalid format (expected key = value)", lineNum)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Remove quotes if present
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}

		values[key] = value
	}

	return values, scanner.Err()
}

// ApplyFileConfig applies file configuration to a Config struct.
func ApplyFileConfig(cfg *Config, values map[string]string) error {
	for key, value := range values {
		if err := setConfigValue(cfg, key, value); err != nil {
			return fmt.Errorf("config key %q: %w", key, err)
		}
	}
	return nil
}

// setConfigValue sets a node config value by key.
// Only node-operational settings, NOT protocol rules.
func setConfigValue(cfg *Config, key, value string) error {
	switch key {
	// Core
	case "network":
		cfg.Network = NetworkType(strings.ToLower(value))
	case "datadir":
		cfg.DataDir = value

	// Chain
	case "chain.workers":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.Chain.Workers = n
	case "chain.queuesize":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.Chain.QueueSize = n

	// Mempool
	case "mempool.maxsize":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.Mempool.MaxSize = n
	case "mempool.minfeerate":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		cfg.Mempool.MinFeeRate = n
	case "mempool.permitbaremultisig":
		cfg.Mempool.PermitBareMultiSig = parseBool(value)
	case "mempool.datacarriersize":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.Mempool.DataCarrierSize = n

	// RPC
	case "rpc.enabled", "rpc":
		cfg.RPC.Enabled = parseBool(value)
	case "rpc.addr":
		cfg.RPC.Addr = value
	case "rpc.allowed":
		cfg.RPC.AllowedIPs = parseStringList(value)

	// Metrics
	case "metrics.enabled", "metrics":
		cfg.Metrics.Enabled = parseBool(value)
	case "metrics.addr":
		cfg.Metrics.Addr = value

	// Logging
	case "log.level":
		cfg.Log.Level = value
	case "log.file":
		cfg.Log.File = value
	case "log.json":
		cfg.Log.JSON = parseBool(value)

	default:
		// Unknown keys are ignored
	}
	return nil
}

// parseBool parses a boolean value.
func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// parseStringList parses a comma-separated list.
func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// WriteDefaultConfig writes a default node configuration file.
func WriteDefaultConfig(path string, network NetworkType) error {
	cfg := Default(network)
	content := `# Tapnode Configuration
#
# This file contains NODE settings only.
# Consensus rules are fixed per network and cannot be changed here.

# Network: mainnet or regtest
network = ` + string(network) + `

# Data directory (default: ~/.tapnode)
# datadir = ~/.tapnode

# ============================================================================
# Block Processing
# ============================================================================

# Script verification workers (default: number of CPUs)
# chain.workers = 4

# Blocks waiting for validation before submitters block
chain.queuesize = ` + strconv.Itoa(cfg.Chain.QueueSize) + `

# ============================================================================
# Mempool Policy
# ============================================================================

mempool.maxsize = ` + strconv.Itoa(cfg.Mempool.MaxSize) + `
# Minimum fee rate in satoshis per virtual byte
mempool.minfeerate = ` + strconv.FormatInt(cfg.Mempool.MinFeeRate, 10) + `
mempool.permitbaremultisig = true
mempool.datacarriersize = ` + strconv.Itoa(cfg.Mempool.DataCarrierSize) + `

# ============================================================================
# JSON-RPC
# ============================================================================

rpc.enabled = true
rpc.addr = ` + cfg.RPC.Addr + `
# Comma-separated IPs or CIDRs allowed to connect
rpc.allowed = ` + strings.Join(cfg.RPC.AllowedIPs, ",") + `

# ============================================================================
# Metrics
# ============================================================================

metrics.enabled = false
metrics.addr = ` + cfg.Metrics.Addr + `

# ============================================================================
# Logging
# ============================================================================

log.level = info
# log.file =
log.json = false
`
	return os.WriteFile(path, []byte(content), 0o644)
}
