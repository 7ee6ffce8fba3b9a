// tapnode-cli is a command-line client for interacting with a tapnoded node.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Klingon-tech/tapnode/config"
	"github.com/Klingon-tech/tapnode/internal/rpc"
	"github.com/Klingon-tech/tapnode/internal/rpcclient"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	rpcURL := ""
	network := string(config.Mainnet)
	timeout := 10 * time.Second

	// Scan for --rpc, --network, --regtest and --timeout before the subcommand.
	args := os.Args[1:]
	for len(args) > 0 {
		switch {
		case args[0] == "--rpc" && len(args) > 1:
			rpcURL = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--rpc="):
			rpcURL = args[0][len("--rpc="):]
			args = args[1:]
		case args[0] == "--network" && len(args) > 1:
			network = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--network="):
			network = args[0][len("--network="):]
			args = args[1:]
		case args[0] == "--regtest":
			network = string(config.Regtest)
			args = args[1:]
		case strings.HasPrefix(args[0], "--timeout="):
			d, err := time.ParseDuration(args[0][len("--timeout="):])
			if err != nil {
				fatal("invalid --timeout: %v", err)
			}
			timeout = d
			args = args[1:]
		default:
			goto dispatch
		}
	}

dispatch:
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}
	if rpcURL == "" {
		rpcURL = "http://" + config.Default(config.NetworkType(network)).RPC.Addr + "/"
	}

	client := rpcclient.NewWithTimeout(rpcURL, timeout)
	ctx := context.Background()
	cmd := args[0]
	cmdArgs := args[1:]

	switch cmd {
	case "status":
		cmdStatus(ctx, client)
	case "block":
		cmdBlock(ctx, client, cmdArgs)
	case "rawblock":
		cmdRawBlock(ctx, client, cmdArgs)
	case "submitblock":
		cmdSubmitBlock(ctx, client, cmdArgs)
	case "decodetx":
		cmdDecodeTx(ctx, client, cmdArgs)
	case "createtx":
		cmdCreateTx(ctx, client, cmdArgs)
	case "sendtx":
		cmdSendTx(ctx, client, cmdArgs)
	case "utxo":
		cmdUTXO(ctx, client, cmdArgs)
	case "commitment":
		cmdCommitment(ctx, client)
	case "mempool":
		cmdMempool(ctx, client)
	case "bans":
		cmdBans(ctx, client)
	case "reorg":
		cmdReorg(ctx, client, cmdArgs)
	case "generate":
		cmdGenerate(ctx, client, cmdArgs)
	case "methods":
		cmdMethods(ctx, client, cmdArgs)
	case "help", "--help", "-h":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: tapnode-cli [global flags] <command> [args]

Global flags:
  --rpc <url>         RPC endpoint (default: from --network)
  --network <net>     mainnet (default) or regtest
  --regtest           Shorthand for --network=regtest
  --timeout=<dur>     HTTP timeout (default: 10s)

Commands:
  status                          Show chain status
  block <hash|height>             Show block details
  rawblock <hash|height>          Print the hex-encoded block
  submitblock <hex|@file>         Submit a raw block
  decodetx <hex|@file>            Decode a raw transaction
  createtx <inputs> <outputs> [locktime] [replaceable]
                                  Build an unsigned transaction; inputs and
                                  outputs are JSON arrays
  sendtx <hex|@file>              Submit a raw transaction to the mempool
  utxo <txid> <index>             Show an unspent output
  commitment                      Show the UTXO set commitment
  mempool                         Show mempool stats
  bans                            Show banned peers
  reorg <hash>                    Switch the active chain to a stored block
  generate <count> <script-hex>   Mine blocks (regtest only)
  methods [name]                  List the node's RPC methods
`)
}

// ── status ──────────────────────────────────────────────────────────────

func cmdStatus(ctx context.Context, client *rpcclient.Client) {
	var info rpc.ChainInfoResult
	if err := client.Call(ctx, "chain_getInfo", nil, &info); err != nil {
		fatal("chain_getInfo: %v", err)
	}

	fmt.Printf("Network: %s\n", info.Network)
	fmt.Printf("Height:  %d\n", info.Height)
	fmt.Printf("Tip:     %s\n", info.TipHash)
	fmt.Printf("Work:    0x%s\n", info.Work)
	fmt.Printf("MTP:     %s\n", time.Unix(info.MedianTimePast, 0).UTC().Format("2006-01-02 15:04:05 UTC"))
}

// ── block ───────────────────────────────────────────────────────────────

func fetchBlock(ctx context.Context, client *rpcclient.Client, args []string, usageLine string) rpc.BlockResult {
	if len(args) < 1 {
		fatal("Usage: %s", usageLine)
	}

	arg := args[0]
	var blk rpc.BlockResult

	// Try as height first (pure number).
	if height, err := strconv.ParseUint(arg, 10, 32); err == nil {
		if err := client.Call(ctx, "chain_getBlockByHeight", rpc.HeightParam{Height: uint32(height)}, &blk); err != nil {
			fatal("chain_getBlockByHeight: %v", err)
		}
	} else {
		if err := client.Call(ctx, "chain_getBlockByHash", rpc.HashParam{Hash: arg}, &blk); err != nil {
			fatal("chain_getBlockByHash: %v", err)
		}
	}
	return blk
}

func cmdBlock(ctx context.Context, client *rpcclient.Client, args []string) {
	blk := fetchBlock(ctx, client, args, "tapnode-cli block <hash|height>")

	fmt.Printf("Hash:         %s\n", blk.Hash)
	fmt.Printf("Height:       %d\n", blk.Height)
	fmt.Printf("Best Chain:   %v\n", blk.InBestChain)
	if blk.Header != nil {
		fmt.Printf("Prev:         %s\n", blk.Header.PrevHash)
		fmt.Printf("Merkle Root:  %s\n", blk.Header.MerkleRoot)
		ts := time.Unix(int64(blk.Header.Timestamp), 0).UTC()
		fmt.Printf("Timestamp:    %s\n", ts.Format("2006-01-02 15:04:05 UTC"))
		fmt.Printf("Bits:         %08x\n", blk.Header.Bits)
	}
	fmt.Printf("Weight:       %d\n", blk.Weight)
	fmt.Printf("Transactions: %d\n", len(blk.Transactions))
	for i, h := range blk.Transactions {
		fmt.Printf("  [%d] %s\n", i, h)
	}
}

func cmdRawBlock(ctx context.Context, client *rpcclient.Client, args []string) {
	blk := fetchBlock(ctx, client, args, "tapnode-cli rawblock <hash|height>")
	fmt.Println(blk.Hex)
}

func cmdSubmitBlock(ctx context.Context, client *rpcclient.Client, args []string) {
	raw := hexArg(args, "tapnode-cli submitblock <hex|@file>")

	var result rpc.SubmitResult
	if err := client.Call(ctx, "block_submit", rpc.HexParam{Hex: raw}, &result); err != nil {
		fatal("block_submit: %v", err)
	}
	fmt.Printf("Block accepted!\n")
	fmt.Printf("  Hash:   %s\n", result.Hash)
	fmt.Printf("  Height: %d\n", result.Height)
	fmt.Printf("  Tip:    %s\n", result.TipHash)
}

// ── tx ──────────────────────────────────────────────────────────────────

func cmdDecodeTx(ctx context.Context, client *rpcclient.Client, args []string) {
	raw := hexArg(args, "tapnode-cli decodetx <hex|@file>")

	var result rpc.TxResult
	if err := client.Call(ctx, "tx_decode", rpc.HexParam{Hex: raw}, &result); err != nil {
		fatal("tx_decode: %v", err)
	}
	printJSON(result)
}

func cmdCreateTx(ctx context.Context, client *rpcclient.Client, args []string) {
	const usageLine = "tapnode-cli createtx <inputs-json> <outputs-json> [locktime] [replaceable]"
	if len(args) < 2 {
		fatal("Usage: %s", usageLine)
	}
	var params rpc.TxCreateParam
	if err := json.Unmarshal([]byte(args[0]), &params.Inputs); err != nil {
		fatal("invalid inputs: %v", err)
	}
	if err := json.Unmarshal([]byte(args[1]), &params.Outputs); err != nil {
		fatal("invalid outputs: %v", err)
	}
	if len(args) > 2 {
		lt, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			fatal("invalid locktime: %v", err)
		}
		params.LockTime = lt
	}
	if len(args) > 3 {
		rbf, err := strconv.ParseBool(args[3])
		if err != nil {
			fatal("invalid replaceable: %v", err)
		}
		params.Replaceable = &rbf
	}

	var result rpc.TxCreateResult
	if err := client.Call(ctx, "tx_create", params, &result); err != nil {
		fatal("tx_create: %v", err)
	}
	fmt.Println(result.Hex)
}

func cmdSendTx(ctx context.Context, client *rpcclient.Client, args []string) {
	raw := hexArg(args, "tapnode-cli sendtx <hex|@file>")

	var result rpc.TxSubmitResult
	if err := client.Call(ctx, "tx_submit", rpc.HexParam{Hex: raw}, &result); err != nil {
		fatal("tx_submit: %v", err)
	}
	fmt.Printf("Transaction accepted!\n")
	fmt.Printf("  TxID: %s\n", result.TxID)
	fmt.Printf("  Fee:  %d\n", result.Fee)
}

func cmdUTXO(ctx context.Context, client *rpcclient.Client, args []string) {
	if len(args) < 2 {
		fatal("Usage: tapnode-cli utxo <txid> <index>")
	}
	index, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		fatal("invalid index: %v", err)
	}

	var result rpc.UTXOResult
	if err := client.Call(ctx, "utxo_get", rpc.OutpointParam{TxID: args[0], Index: uint32(index)}, &result); err != nil {
		fatal("utxo_get: %v", err)
	}
	fmt.Printf("Outpoint: %s:%d\n", result.TxID, result.Index)
	fmt.Printf("Value:    %s\n", formatAmount(result.Value))
	fmt.Printf("Script:   %s\n", result.Script)
	fmt.Printf("Height:   %d\n", result.Height)
	fmt.Printf("Coinbase: %v\n", result.Coinbase)
}

func cmdCommitment(ctx context.Context, client *rpcclient.Client) {
	var result rpc.CommitmentResult
	if err := client.Call(ctx, "chain_getUTXOCommitment", nil, &result); err != nil {
		fatal("chain_getUTXOCommitment: %v", err)
	}
	fmt.Printf("Height:     %d\n", result.Height)
	fmt.Printf("Tip:        %s\n", result.TipHash)
	fmt.Printf("Commitment: %s\n", result.Commitment)
}

// ── mempool ─────────────────────────────────────────────────────────────

func cmdMempool(ctx context.Context, client *rpcclient.Client) {
	var info rpc.MempoolInfoResult
	if err := client.Call(ctx, "mempool_getInfo", nil, &info); err != nil {
		fatal("mempool_getInfo: %v", err)
	}

	fmt.Printf("Count:   %d\n", info.Count)
	fmt.Printf("Min Fee Rate: %d per vbyte\n", info.MinFeeRate)

	if info.Count > 0 {
		var content rpc.MempoolContentResult
		if err := client.Call(ctx, "mempool_getContent", nil, &content); err != nil {
			fatal("mempool_getContent: %v", err)
		}
		fmt.Println("Pending:")
		for _, h := range content.Hashes {
			fmt.Printf("  %s\n", h)
		}
	}
}

// ── bans ────────────────────────────────────────────────────────────────

func cmdBans(ctx context.Context, client *rpcclient.Client) {
	var bans []rpc.BanInfo
	if err := client.Call(ctx, "net_getBanList", nil, &bans); err != nil {
		fatal("net_getBanList: %v", err)
	}

	fmt.Printf("Banned:  %d\n", len(bans))
	for _, b := range bans {
		until := time.Unix(b.ExpiresAt, 0).UTC().Format("2006-01-02 15:04:05 UTC")
		fmt.Printf("  %s (score %d, until %s): %s\n", b.ID, b.Score, until, b.Reason)
	}
}

// ── reorg / generate ────────────────────────────────────────────────────

func cmdReorg(ctx context.Context, client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal("Usage: tapnode-cli reorg <hash>")
	}

	var result rpc.SubmitResult
	if err := client.Call(ctx, "chain_reorganize", rpc.HashParam{Hash: args[0]}, &result); err != nil {
		fatal("chain_reorganize: %v", err)
	}
	fmt.Printf("Height: %d\n", result.Height)
	fmt.Printf("Tip:    %s\n", result.TipHash)
}

func cmdGenerate(ctx context.Context, client *rpcclient.Client, args []string) {
	if len(args) < 2 {
		fatal("Usage: tapnode-cli generate <count> <script-hex>")
	}
	count, err := strconv.Atoi(args[0])
	if err != nil {
		fatal("invalid count: %v", err)
	}
	if _, err := hex.DecodeString(args[1]); err != nil {
		fatal("invalid script hex: %v", err)
	}

	var result rpc.GenerateResult
	if err := client.Call(ctx, "mining_generate", rpc.GenerateParam{Count: count, Script: args[1]}, &result); err != nil {
		fatal("mining_generate: %v", err)
	}
	for _, h := range result.Hashes {
		fmt.Println(h)
	}
}

func cmdMethods(ctx context.Context, client *rpcclient.Client, args []string) {
	var params any
	if len(args) > 0 {
		params = rpc.HelpParam{Method: args[0]}
	}
	var result rpc.HelpResult
	if err := client.Call(ctx, "rpc_help", params, &result); err != nil {
		fatal("rpc_help: %v", err)
	}
	for _, m := range result.Methods {
		fmt.Printf("  %-26s %s\n", m.Name, m.Description)
	}
}

// ── Helpers ─────────────────────────────────────────────────────────────

// hexArg returns the first argument, reading it from a file when it
// starts with '@'.
func hexArg(args []string, usageLine string) string {
	if len(args) < 1 {
		fatal("Usage: %s", usageLine)
	}
	arg := args[0]
	if strings.HasPrefix(arg, "@") {
		data, err := os.ReadFile(arg[1:])
		if err != nil {
			fatal("read %s: %v", arg[1:], err)
		}
		arg = string(data)
	}
	return strings.TrimSpace(arg)
}

func formatAmount(sats int64) string {
	return fmt.Sprintf("%d.%08d BTC", sats/100_000_000, sats%100_000_000)
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fatal("marshal result: %v", err)
	}
	fmt.Println(string(data))
}

// ── Error helper ────────────────────────────────────────────────────────

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
