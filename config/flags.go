package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
)

// Version is the daemon version reported by --version.
const Version = "0.1.0"

// Flags holds parsed command-line flags.
type Flags struct {
	// Commands
	Help    bool
	Version bool

	// Core
	Network string
	DataDir string
	Config  string

	// Chain
	Workers    int
	QueueSize  int
	ImportFile string

	// Mempool
	MaxMempool   int
	MinFeeRate   int64
	BareMultiSig bool

	// RPC
	RPC        bool
	RPCAddr    string
	RPCAllowed string

	// Metrics
	Metrics     bool
	MetricsAddr string

	// Logging
	LogLevel string
	LogFile  string
	LogJSON  bool

	// Remaining args
	Args []string

	// Explicitly-set flags (for zero-value overrides).
	SetMinFeeRate   bool
	SetBareMultiSig bool
	SetRPC          bool
	SetMetrics      bool
	SetLogJSON      bool
}

// ParseFlags parses command-line arguments. It returns flag.ErrHelp for
// -h/--help.
func ParseFlags(args []string) (*Flags, error) {
	f := &Flags{}
	fs := flag.NewFlagSet("tapnoded", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	// Commands
	fs.BoolVar(&f.Help, "help", false, "Show help message")
	fs.BoolVar(&f.Help, "h", false, "Show help message (shorthand)")
	fs.BoolVar(&f.Version, "version", false, "Show version information")
	fs.BoolVar(&f.Version, "v", false, "Show version (shorthand)")

	// Core
	fs.StringVar(&f.Network, "network", "", "Network type (mainnet or regtest)")
	regtest := fs.Bool("regtest", false, "Use regtest (shorthand for --network=regtest)")
	fs.StringVar(&f.DataDir, "datadir", "", "Data directory path")
	fs.StringVar(&f.Config, "config", "", "Config file path")
	fs.StringVar(&f.Config, "c", "", "Config file path (shorthand)")

	// Chain
	fs.IntVar(&f.Workers, "workers", 0, "Script verification workers")
	fs.IntVar(&f.QueueSize, "queue-size", 0, "Pending block queue size")
	fs.StringVar(&f.ImportFile, "import", "", "Import hex-encoded raw blocks from file")

	// Mempool
	fs.IntVar(&f.MaxMempool, "maxmempool", 0, "Maximum mempool transactions")
	fs.Int64Var(&f.MinFeeRate, "minfeerate", 0, "Minimum relay fee rate (sat/vbyte)")
	fs.BoolVar(&f.BareMultiSig, "permitbaremultisig", true, "Relay bare multisig outputs")

	// RPC
	fs.BoolVar(&f.RPC, "rpc", true, "Serve JSON-RPC")
	fs.StringVar(&f.RPCAddr, "rpc-addr", "", "JSON-RPC listen address")
	fs.StringVar(&f.RPCAllowed, "rpc-allowed", "", "Comma-separated IPs or CIDRs allowed to use JSON-RPC")

	// Metrics
	fs.BoolVar(&f.Metrics, "metrics", false, "Serve Prometheus metrics")
	fs.StringVar(&f.MetricsAddr, "metrics-addr", "", "Metrics listen address")

	// Logging
	fs.StringVar(&f.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&f.LogFile, "log-file", "", "Log file path")
	fs.BoolVar(&f.LogJSON, "log-json", false, "Output logs as JSON")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// Handle --regtest shorthand
	if *regtest {
		f.Network = string(Regtest)
	}
	f.SetMinFeeRate = isFlagSet(fs, "minfeerate")
	f.SetBareMultiSig = isFlagSet(fs, "permitbaremultisig")
	f.SetRPC = isFlagSet(fs, "rpc")
	f.SetMetrics = isFlagSet(fs, "metrics")
	f.SetLogJSON = isFlagSet(fs, "log-json")

	f.Args = fs.Args()
	for _, arg := range f.Args {
		if strings.HasPrefix(arg, "-") {
			return nil, fmt.Errorf("flag %q was not parsed (positional argument stopped parsing)", arg)
		}
	}
	return f, nil
}

// ApplyFlags applies command-line flags to a Config struct.
func ApplyFlags(cfg *Config, f *Flags) {
	// Core
	if f.Network != "" {
		cfg.Network = NetworkType(strings.ToLower(f.Network))
	}
	if f.DataDir != "" {
		cfg.DataDir = f.DataDir
	}

	// Chain
	if f.Workers != 0 {
		cfg.Chain.Workers = f.Workers
	}
	if f.QueueSize != 0 {
		cfg.Chain.QueueSize = f.QueueSize
	}
	if f.ImportFile != "" {
		cfg.ImportFile = f.ImportFile
	}

	// Mempool
	if f.MaxMempool != 0 {
		cfg.Mempool.MaxSize = f.MaxMempool
	}
	if f.SetMinFeeRate {
		cfg.Mempool.MinFeeRate = f.MinFeeRate
	}
	if f.SetBareMultiSig {
		cfg.Mempool.PermitBareMultiSig = f.BareMultiSig
	}

	// RPC
	if f.SetRPC {
		cfg.RPC.Enabled = f.RPC
	}
	if f.RPCAddr != "" {
		cfg.RPC.Addr = f.RPCAddr
	}
	if f.RPCAllowed != "" {
		cfg.RPC.AllowedIPs = parseStringList(f.RPCAllowed)
	}

	// Metrics
	if f.SetMetrics {
		cfg.Metrics.Enabled = f.Metrics
	}
	if f.MetricsAddr != "" {
		cfg.Metrics.Addr = f.MetricsAddr
	}

	// Logging
	if f.LogLevel != "" {
		cfg.Log.Level = f.LogLevel
	}
	if f.LogFile != "" {
		cfg.Log.File = f.LogFile
	}
	if f.SetLogJSON {
		cfg.Log.JSON = f.LogJSON
	}
}

// isFlagSet checks if a flag was explicitly set.
func isFlagSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

// PrintUsage writes the help text.
func PrintUsage(w io.Writer) {
	usage := `tapnode - Bitcoin consensus node with taproot validation

Usage:
  tapnoded [options]
  tapnoded --help

Commands:
  --help, -h      Show this help message
  --version, -v   Show version information

Core Options:
  --network       Network type: mainnet (default) or regtest
  --regtest       Shorthand for --network=regtest
  --datadir       Data directory (default: ~/.tapnode)
  --config, -c    Config file path (default: <datadir>/tapnode.conf)

Chain Options:
  --workers       Script verification workers (default: number of CPUs)
  --queue-size    Pending block queue size (default: 256)
  --import        File of hex-encoded raw blocks to process on startup

Mempool Options:
  --maxmempool          Maximum mempool transactions (default: 5000)
  --minfeerate          Minimum relay fee rate in sat/vbyte
  --permitbaremultisig  Relay bare multisig outputs (default: true)

RPC Options:
  --rpc           Serve JSON-RPC (default: true)
  --rpc-addr      JSON-RPC listen address (mainnet: 127.0.0.1:8332)
  --rpc-allowed   Comma-separated IPs or CIDRs (default: 127.0.0.1,::1)

Metrics Options:
  --metrics       Serve Prometheus metrics
  --metrics-addr  Metrics listen address (mainnet: 127.0.0.1:9332)

Logging Options:
  --log-level     Log level: debug, info, warn, error (default: info)
  --log-file      Log file path (default: stdout)
  --log-json      Output logs as JSON

Examples:
  # Start a regtest node and import blocks
  tapnoded --regtest --import=blocks.hex

  # Mine 10 regtest blocks over JSON-RPC
  tapnode-cli --regtest generate 10 51

  # Serve metrics on all interfaces
  tapnoded --metrics --metrics-addr=0.0.0.0:9332
`
	fmt.Fprint(w, usage)
}

// Load loads configuration with the following precedence:
// 1. Default values
// 2. Auto-create data dirs + default config (idempotent)
// 3. Config file
// 4. Command-line flags
//
// It returns flag.ErrHelp after printing usage for --help.
func Load(args []string) (*Config, *Flags, error) {
	flags, err := ParseFlags(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			PrintUsage(os.Stdout)
		}
		return nil, nil, err
	}

	// Handle help/version
	if flags.Help {
		PrintUsage(os.Stdout)
		return nil, flags, flag.ErrHelp
	}
	if flags.Version {
		return nil, flags, nil
	}

	// Determine network first (needed for defaults)
	network := Mainnet
	if strings.EqualFold(flags.Network, string(Regtest)) {
		network = Regtest
	}

	// Start with defaults
	cfg := Default(network)

	// Override datadir if specified
	if flags.DataDir != "" {
		cfg.DataDir = flags.DataDir
	}

	// Auto-create data directories and default config on first start.
	if err := EnsureDataDirs(cfg); err != nil {
		return nil, nil, fmt.Errorf("ensuring data dirs: %w", err)
	}

	// Determine config file path
	configPath := flags.Config
	if configPath == "" {
		configPath = cfg.ConfigFile()
	}

	// Load config file
	fileValues, err := LoadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config file: %w", err)
	}

	// Apply file config
	if err := ApplyFileConfig(cfg, fileValues); err != nil {
		return nil, nil, fmt.Errorf("applying config file: %w", err)
	}

	// Apply flags (highest precedence)
	ApplyFlags(cfg, flags)
	if err := Validate(cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, flags, nil
}

// EnsureDataDirs creates the data directory structure and a default config
// file if they don't already exist. This is idempotent, safe to call on
// every startup.
func EnsureDataDirs(cfg *Config) error {
	dirs := []string{
		cfg.DataDir,
		cfg.ChainDataDir(),
		cfg.DatabaseDir(),
		cfg.LogsDir(),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	// Create default config if it doesn't exist.
	configPath := cfg.ConfigFile()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := WriteDefaultConfig(configPath, cfg.Network); err != nil {
			return fmt.Errorf("writing config file: %w", err)
		}
	}

	return nil
}
