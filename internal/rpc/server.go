// Package rpc implements the JSON-RPC 2.0 API server.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/Klingon-tech/tapnode/internal/chain"
	klog "github.com/Klingon-tech/tapnode/internal/log"
	"github.com/Klingon-tech/tapnode/internal/mempool"
	"github.com/Klingon-tech/tapnode/internal/p2p"
	"github.com/Klingon-tech/tapnode/pkg/block"
	"github.com/Klingon-tech/tapnode/pkg/types"
	"github.com/rs/zerolog"
)

// maxBodySize is the maximum allowed request body size. A hex-encoded
// block of maximum weight must fit.
const maxBodySize = 10 << 20

// BlockSubmitter hands a block to the node for validation and waits for
// the verdict.
type BlockSubmitter func(ctx context.Context, blk *block.Block) error

// Generator mines blocks on demand (regtest only).
type Generator func(ctx context.Context, count int, payTo []byte) ([]types.Hash, error)

// Server is the JSON-RPC 2.0 HTTP server.
type Server struct {
	addr        string
	chain       *chain.Chain
	pool        *mempool.Pool
	banManager  *p2p.BanManager // For net_getBanList (nil = disabled).
	submitBlock BlockSubmitter  // For block_submit (nil = chain.ProcessBlock).
	generate    Generator       // For mining_generate (nil = disabled).
	server      *http.Server
	logger      zerolog.Logger
	ln          net.Listener
	allowedNets []*net.IPNet // Empty = allow all.
}

// New creates a new RPC server. allowedIPs holds IP or CIDR entries; an
// empty list allows every client.
func New(addr string, ch *chain.Chain, pool *mempool.Pool, allowedIPs []string) *Server {
	s := &Server{
		addr:        addr,
		chain:       ch,
		pool:        pool,
		logger:      klog.RPC,
		allowedNets: parseAllowedIPs(allowedIPs),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRequest)

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Block submission waits behind the block queue.
		WriteTimeout: 5 * time.Minute,
	}

	return s
}

// parseAllowedIPs converts string IP/CIDR entries into net.IPNet.
func parseAllowedIPs(entries []string) []*net.IPNet {
	var nets []*net.IPNet
	for _, entry := range entries {
		_, ipNet, err := net.ParseCIDR(entry)
		if err == nil {
			nets = append(nets, ipNet)
			continue
		}
		// Try as a single IP (add /32 or /128).
		ip := net.ParseIP(entry)
		if ip == nil {
			continue
		}
		bits := 32
		if ip.To4() == nil {
			bits = 128
		}
		nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return nets
}

// SetBanManager sets the ban manager for net_getBanList.
func (s *Server) SetBanManager(bm *p2p.BanManager) {
	s.banManager = bm
}

// SetBlockSubmitter routes block_submit through fn instead of calling the
// chain directly.
func (s *Server) SetBlockSubmitter(fn BlockSubmitter) {
	s.submitBlock = fn
}

// SetGenerator enables mining_generate.
func (s *Server) SetGenerator(fn Generator) {
	s.generate = fn
}

// Start begins listening and serving in a background goroutine.
// It returns immediately after the listener is bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("rpc listen: %w", err)
	}
	s.ln = ln

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("RPC server error")
		}
	}()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("RPC server listening")
	return nil
}

// Addr returns the listener address (useful when bound to :0).
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// ServeHTTP lets the server be mounted on another mux or driven by
// httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handleRequest(w, r)
}

// handleRequest is the main HTTP handler for JSON-RPC requests.
func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	// IP filtering.
	if len(s.allowedNets) > 0 {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		ip := net.ParseIP(host)
		if ip == nil || !s.isIPAllowed(ip) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
	}

	if r.Method != http.MethodPost {
		writeError(w, nil, CodeInvalidRequest, "only POST method is allowed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		writeError(w, nil, CodeParseError, "failed to read request body")
		return
	}
	if len(body) > maxBodySize {
		writeError(w, nil, CodeInvalidRequest, "request body too large")
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, nil, CodeParseError, "invalid JSON")
		return
	}

	if req.JSONRPC != "2.0" {
		writeError(w, req.ID, CodeInvalidRequest, "jsonrpc must be \"2.0\"")
		return
	}

	result, rpcErr := s.dispatch(r.Context(), &req)
	if rpcErr != nil {
		s.logger.Debug().Str("method", req.Method).Int("code", rpcErr.Code).Msg(rpcErr.Message)
		writeJSON(w, Response{
			JSONRPC: "2.0",
			Error:   rpcErr,
			ID:      req.ID,
		})
		return
	}

	writeJSON(w, Response{
		JSONRPC: "2.0",
		Result:  result,
		ID:      req.ID,
	})
}

// dispatch routes a request to the appropriate handler.
func (s *Server) dispatch(ctx context.Context, req *Request) (any, *Error) {
	switch req.Method {
	case "chain_getInfo":
		return s.handleChainGetInfo(req)
	case "chain_getBlockByHash":
		return s.handleChainGetBlockByHash(req)
	case "chain_getBlockByHeight":
		return s.handleChainGetBlockByHeight(req)
	case "chain_getUTXOCommitment":
		return s.handleChainGetUTXOCommitment(req)
	case "chain_reorganize":
		return s.handleChainReorganize(ctx, req)
	case "block_submit":
		return s.handleBlockSubmit(ctx, req)
	case "utxo_get":
		return s.handleUTXOGet(req)
	case "tx_decode":
		return s.handleTxDecode(req)
	case "tx_create":
		return s.handleTxCreate(req)
	case "tx_submit":
		return s.handleTxSubmit(ctx, req)
	case "mempool_getInfo":
		return s.handleMempoolGetInfo(req)
	case "mempool_getContent":
		return s.handleMempoolGetContent(req)
	case "net_getBanList":
		return s.handleNetGetBanList(req)
	case "mining_generate":
		return s.handleMiningGenerate(ctx, req)
	case "rpc_help":
		return s.handleHelp(req)
	default:
		return nil, &Error{Code: CodeMethodNotFound, Message: fmt.Sprintf("method %q not found", req.Method)}
	}
}

// methodHelp documents every method dispatch routes.
var methodHelp = map[string]string{
	"chain_getInfo":           "Report the network, tip and cumulative work.",
	"chain_getBlockByHash":    "Return a block by hash.",
	"chain_getBlockByHeight":  "Return the best-chain block at a height.",
	"chain_getUTXOCommitment": "Return the coin set commitment at the tip.",
	"chain_reorganize":        "Make a stored block the tip.",
	"block_submit":            "Validate and connect a hex-encoded block.",
	"utxo_get":                "Look up an unspent output.",
	"tx_decode":               "Decode a hex-encoded transaction.",
	"tx_create":               "Build an unsigned transaction from inputs and outputs.",
	"tx_submit":               "Validate a hex-encoded transaction and add it to the mempool.",
	"mempool_getInfo":         "Report mempool size and minimum fee rate.",
	"mempool_getContent":      "List mempool transaction ids.",
	"net_getBanList":          "List banned peers.",
	"mining_generate":         "Mine blocks paying to a script (regtest only).",
	"rpc_help":                "List methods, or describe one.",
}

// writeJSON writes a JSON-RPC response.
func writeJSON(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// writeError writes a JSON-RPC error response.
func writeError(w http.ResponseWriter, id any, code int, message string) {
	writeJSON(w, Response{
		JSONRPC: "2.0",
		Error:   &Error{Code: code, Message: message},
		ID:      id,
	})
}

// isIPAllowed checks if the IP is in the allowed networks list.
func (s *Server) isIPAllowed(ip net.IP) bool {
	for _, n := range s.allowedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// parseParams unmarshals the request params into the given target.
func parseParams(req *Request, target any) *Error {
	if req.Params == nil {
		return &Error{Code: CodeInvalidParams, Message: "params required"}
	}

	data, err := json.Marshal(req.Params)
	if err != nil {
		return &Error{Code: CodeInvalidParams, Message: "invalid params"}
	}

	if err := json.Unmarshal(data, target); err != nil {
		return &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid params: %v", err)}
	}
	return nil
}
