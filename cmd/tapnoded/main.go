// Tapnode consensus node daemon.
//
// Usage:
//
//	tapnoded [--regtest] [--import=blocks.hex]  Run node
//	tapnoded --help                             Show help
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Klingon-tech/tapnode/config"
	"github.com/Klingon-tech/tapnode/internal/log"
	"github.com/Klingon-tech/tapnode/internal/node"
)

func main() {
	cfg, flags, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if flags.Version {
		fmt.Printf("tapnoded %s\n", config.Version)
		return
	}

	n, err := node.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := n.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		n.Stop()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.ImportFile != "" {
		stats, err := n.ImportFile(ctx, cfg.ImportFile)
		if err != nil {
			log.Node.Error().Err(err).
				Str("file", cfg.ImportFile).
				Int("accepted", stats.Accepted).
				Msg("Block import failed")
		}
	}

	state := n.Chain().State()
	log.Node.Info().
		Uint32("height", state.Height).
		Str("tip", state.TipHash.String()).
		Str("work", state.Work.String()).
		Str("rpc", n.RPCAddr()).
		Msg("Chain tip")

	<-ctx.Done()
	n.Stop()
}
