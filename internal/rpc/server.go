// Package rpc serves the node's JSON-RPC 1.0 interface over HTTP and wraps
// a typed client around it for the command line.
package rpc

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/djkazic/wizards-wallet/internal/chain"
	"github.com/djkazic/wizards-wallet/internal/jsonrpc"
	"github.com/djkazic/wizards-wallet/internal/metrics"
	"github.com/djkazic/wizards-wallet/internal/types"
	"github.com/djkazic/wizards-wallet/internal/utxo"
	"github.com/djkazic/wizards-wallet/internal/wallet"
)

const (
	maxRequestSize = 1 << 20
	readTimeout    = 30 * time.Second
)

// Backend is the node state the server reads and drives.
type Backend interface {
	Chain() *chain.Chain
	UTXOs() *utxo.Set
	Wallet() *wallet.Wallet
	PeerCount() int
	Block(hash types.Hash256) (*types.Block, bool)
	Send(ctx context.Context, addr string, amount int64) (*types.Tx, error)
}

// Config configures the server. Basic auth is off when User is empty.
type Config struct {
	User     string
	Password string
	// Metrics mounts the Prometheus handler on /metrics.
	Metrics bool
}

type handlerFunc func(ctx context.Context, params []json.RawMessage) (interface{}, error)

type method struct {
	description string
	usage       string
	minParams   int
	maxParams   int
	handler     handlerFunc
}

// HelpEntry describes one method in help output.
type HelpEntry struct {
	Description string `json:"description"`
	Usage       string `json:"usage"`
}

// Server is the HTTP JSON-RPC server.
type Server struct {
	cfg     Config
	backend Backend
	logger  *zap.Logger
	methods map[string]*method

	mu       sync.Mutex
	http     *http.Server
	listener net.Listener
}

// NewServer builds a server over backend.
func NewServer(cfg Config, backend Backend, logger *zap.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		backend: backend,
		logger:  logger.Named("rpc"),
	}
	s.methods = s.methodTable()
	return s
}

// Handler returns the HTTP handler serving / and, if enabled, /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.serveRPC)
	if s.cfg.Metrics {
		mux.Handle("/metrics", metrics.Handler())
	}
	return s.auth(mux)
}

// Start listens on addr and serves in the background.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("rpc listen %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readTimeout,
	}

	s.mu.Lock()
	s.http = srv
	s.listener = ln
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("rpc server stopped", zap.Error(err))
		}
	}()
	s.logger.Info("rpc server listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the listening address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) auth(next http.Handler) http.Handler {
	if s.cfg.User == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(user), []byte(s.cfg.User)) != 1 ||
			subtle.ConstantTimeCompare([]byte(pass), []byte(s.cfg.Password)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="jsonrpc"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) serveRPC(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "JSON-RPC requests must be POST", http.StatusMethodNotAllowed)
		return
	}

	var req jsonrpc.Request
	body := http.MaxBytesReader(w, r.Body, maxRequestSize)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeResponse(w, &jsonrpc.Response{
			Error: jsonrpc.NewError(jsonrpc.ErrCodeParse, "Parse error: %v", err),
		})
		return
	}

	writeResponse(w, s.dispatch(r.Context(), &req))
}

func (s *Server) dispatch(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	resp := &jsonrpc.Response{JSONRPC: req.JSONRPC, ID: req.ID}

	m, ok := s.methods[req.Method]
	if !ok {
		metrics.RPCRequests.WithLabelValues("unknown", "error").Inc()
		resp.Error = &jsonrpc.Error{
			Code:    jsonrpc.ErrCodeMethodNotFound,
			Message: "Method not found",
			Data:    req.Method,
		}
		return resp
	}

	start := time.Now()
	var (
		result interface{}
		err    error
	)
	if len(req.Params) < m.minParams || len(req.Params) > m.maxParams {
		err = usageError(req.Method, m.usage)
	} else {
		result, err = m.handler(ctx, req.Params)
	}

	if err != nil {
		metrics.RPCRequests.WithLabelValues(req.Method, "error").Inc()
		resp.Error = toRPCError(err)
		s.logger.Debug("rpc call failed",
			zap.String("method", req.Method),
			zap.Int("code", resp.Error.Code),
			zap.String("message", resp.Error.Message),
		)
		return resp
	}

	raw, err := json.Marshal(result)
	if err != nil {
		s.logger.Error("marshal rpc result", zap.String("method", req.Method), zap.Error(err))
		resp.Error = jsonrpc.NewError(jsonrpc.ErrCodeInternal, "Internal error")
		return resp
	}
	metrics.RPCRequests.WithLabelValues(req.Method, "ok").Inc()
	resp.Result = raw
	s.logger.Debug("rpc call",
		zap.String("method", req.Method),
		zap.Duration("elapsed", time.Since(start)),
	)
	return resp
}

func writeResponse(w http.ResponseWriter, resp *jsonrpc.Response) {
	if resp.Result == nil && resp.Error == nil {
		resp.Result = json.RawMessage("null")
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func usageError(name, usage string) *jsonrpc.Error {
	return jsonrpc.NewError(jsonrpc.ErrCodeInvalidParams, "Usage: %s", strings.TrimSpace(name+" "+usage))
}

func toRPCError(err error) *jsonrpc.Error {
	var rpcErr *jsonrpc.Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	return jsonrpc.NewError(jsonrpc.ErrCodeMisc, "%s", err.Error())
}

// decodeParams unmarshals params[i] into dst[i]. Missing trailing params
// leave their destination untouched.
func (s *Server) decodeParams(name string, params []json.RawMessage, dst ...interface{}) error {
	for i, p := range params {
		if i >= len(dst) {
			break
		}
		if err := json.Unmarshal(p, dst[i]); err != nil {
			return usageError(name, s.methods[name].usage)
		}
	}
	return nil
}

func (s *Server) help(name string) (interface{}, error) {
	if name != "" {
		m, ok := s.methods[name]
		if !ok {
			return nil, &jsonrpc.Error{Code: jsonrpc.ErrCodeMethodNotFound, Message: "Method not found", Data: name}
		}
		return HelpEntry{Description: m.description, Usage: m.usage}, nil
	}

	out := make(map[string]HelpEntry, len(s.methods))
	for n, m := range s.methods {
		out[n] = HelpEntry{Description: m.description, Usage: m.usage}
	}
	return out, nil
}
