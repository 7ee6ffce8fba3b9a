package node

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Klingon-tech/tapnode/internal/chain"
	"github.com/Klingon-tech/tapnode/internal/codec"
)

// maxImportLine bounds one hex-encoded block: a maximum weight block is
// at most 4MB serialized.
const maxImportLine = 8<<20 + 1024

// ImportStats summarizes a block import.
type ImportStats struct {
	Lines    int
	Accepted int
	Known    int
}

// ImportBlocks reads hex-encoded raw blocks, one per line, and processes
// them in order through the block queue. Blank lines and lines starting
// with # are skipped. Already known blocks are counted and skipped. Any
// other failure stops the import. The queue must be running.
func (n *Node) ImportBlocks(ctx context.Context, r io.Reader) (ImportStats, error) {
	var stats ImportStats
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxImportLine)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		stats.Lines++

		raw, err := hex.DecodeString(line)
		if err != nil {
			return stats, fmt.Errorf("line %d: decode hex: %w", lineNum, err)
		}
		blk, err := codec.DecodeBlock(raw)
		if err != nil {
			return stats, fmt.Errorf("line %d: %w", lineNum, err)
		}
		if err := n.queue.Process(ctx, blk); err != nil {
			if errors.Is(err, chain.ErrBlockKnown) {
				stats.Known++
				continue
			}
			return stats, fmt.Errorf("line %d: block %s: %w", lineNum, blk.Hash(), err)
		}
		stats.Accepted++
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("line %d: %w", lineNum+1, err)
	}

	n.logger.Info().
		Int("accepted", stats.Accepted).
		Int("known", stats.Known).
		Uint32("height", n.ch.Height()).
		Msg("Block import complete")
	return stats, nil
}

// ImportFile imports blocks from the file at path.
func (n *Node) ImportFile(ctx context.Context, path string) (ImportStats, error) {
	f, err := os.Open(expandHome(path))
	if err != nil {
		return ImportStats{}, err
	}
	defer f.Close()
	return n.ImportBlocks(ctx, f)
}
