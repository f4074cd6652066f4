package rpc

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"lockboxd/core"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020
)

// RateLimit bounds mutating calls per client address.
type RateLimit struct {
	RequestsPerMinute float64
	Burst             int
}

// Server exposes the lockbox lifecycle and query surface as JSON-RPC 2.0
// over HTTP, with health, metrics and audit plumbing around it.
type Server struct {
	node      *core.Node
	log       *slog.Logger
	audit     *AuditStore
	authToken string

	limit    RateLimit
	mu       sync.Mutex
	visitors map[string]*rate.Limiter
}

// NewServer builds a server over a node. The audit store and logger are
// optional; the auth token defaults to the LOCKBOXD_RPC_TOKEN environment
// variable.
func NewServer(node *core.Node, audit *AuditStore, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		node:      node,
		log:       log,
		audit:     audit,
		authToken: strings.TrimSpace(os.Getenv("LOCKBOXD_RPC_TOKEN")),
		limit:     RateLimit{RequestsPerMinute: 600, Burst: 20},
		visitors:  make(map[string]*rate.Limiter),
	}
}

// SetAuthToken overrides the bearer token required for mutating calls.
// An empty token disables authentication.
func (s *Server) SetAuthToken(token string) {
	s.authToken = strings.TrimSpace(token)
}

// SetRateLimit overrides the per-client limit on mutating calls.
func (s *Server) SetRateLimit(limit RateLimit) {
	if limit.RequestsPerMinute > 0 {
		s.limit = limit
	}
}

// Handler assembles the HTTP routing around the JSON-RPC endpoint.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/rpc", s.handle)
	return otelhttp.NewHandler(r, "lockboxd.rpc")
}

// Start serves the handler until the listener fails.
func (s *Server) Start(addr string) error {
	s.log.Info("starting JSON-RPC server", "addr", addr)
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return server.ListenAndServe()
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() { _ = body.Close() }()

	var req RPCRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, 0, codeParseError, "parse_error", err.Error())
		return
	}
	if req.JSONRPC != jsonRPCVersion || strings.TrimSpace(req.Method) == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "invalid_request", "jsonrpc 2.0 request expected")
		return
	}

	handler, ok := s.routes()[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method_not_found", req.Method)
		return
	}
	if handler.mutating {
		if !s.allow(clientID(r)) {
			writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "rate_limited", "too many requests")
			return
		}
		if rpcErr := s.requireAuth(r); rpcErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
			return
		}
	}
	handler.fn(w, r, &req)
}

type route struct {
	mutating bool
	fn       func(http.ResponseWriter, *http.Request, *RPCRequest)
}

func (s *Server) routes() map[string]route {
	return map[string]route{
		"lockbox_create":  {mutating: true, fn: s.handleLockboxCreate},
		"lockbox_reset":   {mutating: true, fn: s.handleLockboxReset},
		"lockbox_deposit": {mutating: true, fn: s.handleLockboxDeposit},
		"lockbox_receive": {mutating: true, fn: s.handleLockboxReceive},
		"lockbox_claim":   {mutating: true, fn: s.handleLockboxClaim},
		"lockbox_get":     {fn: s.handleLockboxGet},
		"lockbox_list":    {fn: s.handleLockboxList},
	}
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return nil
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) || strings.TrimSpace(header[len(prefix):]) != s.authToken {
		return &RPCError{Code: codeUnauthorized, Message: "unauthorized", Data: "missing or invalid bearer token"}
	}
	return nil
}

func (s *Server) allow(client string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	limiter, ok := s.visitors[client]
	if !ok {
		perSecond := s.limit.RequestsPerMinute / 60.0
		if perSecond <= 0 {
			perSecond = 1
		}
		burst := s.limit.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		s.visitors[client] = limiter
	}
	return limiter.Allow()
}

func clientID(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeResult(w http.ResponseWriter, id int, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}

func writeError(w http.ResponseWriter, status, id, code int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(RPCResponse{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Error:   &RPCError{Code: code, Message: message, Data: data},
	})
}

func singleParam(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("exactly one parameter object expected")
	}
	return json.Unmarshal(req.Params[0], out)
}
