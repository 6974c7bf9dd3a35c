package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/luxfi/log"
	"golang.org/x/time/rate"

	"github.com/luxfi/perps/pkg/lx"
	"github.com/luxfi/perps/pkg/node"
	"github.com/luxfi/perps/pkg/settlement"
)

// JSONRPCServer handles JSON-RPC 2.0 requests
type JSONRPCServer struct {
	node    *node.Node
	limiter *rate.Limiter
	admin   bool
	methods map[string]handler
	logger  log.Logger
}

type handler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Config tunes the server. A zero RateLimit disables limiting.
type Config struct {
	RateLimit float64
	RateBurst int
	Admin     bool
}

// NewJSONRPCServer creates a new JSON-RPC server
func NewJSONRPCServer(n *node.Node, cfg Config, logger log.Logger) *JSONRPCServer {
	s := &JSONRPCServer{
		node:   n,
		admin:  cfg.Admin,
		logger: logger,
	}
	if cfg.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}
	s.methods = s.routes()
	return s
}

// JSONRPCRequest represents a JSON-RPC 2.0 request
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      interface{}     `json:"id"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response
type JSONRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// RPCError represents a JSON-RPC error
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Error implements error interface
func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC Error %d: %s", e.Code, e.Message)
}

// Standard JSON-RPC error codes
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603

	// LimitExceeded is returned when the request rate is over the limit.
	LimitExceeded = -32005
)

// ServeHTTP implements http.Handler
func (s *JSONRPCServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.send(w, nil, nil, &RPCError{Code: ParseError, Message: "Parse error"})
		return
	}
	if req.JSONRPC != "2.0" {
		s.send(w, req.ID, nil, &RPCError{Code: InvalidRequest, Message: "Invalid Request"})
		return
	}
	if s.limiter != nil && !s.limiter.Allow() {
		s.send(w, req.ID, nil, &RPCError{Code: LimitExceeded, Message: "rate limit exceeded"})
		return
	}

	result, err := s.handleMethod(r.Context(), req.Method, req.Params)
	if err != nil {
		s.send(w, req.ID, nil, s.rpcError(req.Method, err))
		return
	}
	s.send(w, req.ID, result, nil)
}

func (s *JSONRPCServer) handleMethod(ctx context.Context, method string, params json.RawMessage) (interface{}, error) {
	h, ok := s.methods[method]
	if !ok {
		return nil, &RPCError{Code: MethodNotFound, Message: "Method not found"}
	}
	return h(ctx, params)
}

// rpcError maps engine and ledger errors onto JSON-RPC codes. Rejections the
// caller can fix are invalid params; the error class travels in Data.
func (s *JSONRPCServer) rpcError(method string, err error) *RPCError {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}

	class := lx.Classify(err)
	switch {
	case class == lx.ClassValidation,
		errors.Is(err, settlement.ErrInsufficientFunds),
		errors.Is(err, settlement.ErrInvalidAmount):
		return &RPCError{Code: InvalidParams, Message: err.Error(), Data: map[string]string{"class": lx.ClassValidation.String()}}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), errors.Is(err, node.ErrStopped):
		return &RPCError{Code: InternalError, Message: err.Error()}
	default:
		if class == lx.ClassUnknown || class == lx.ClassArithmetic {
			s.logger.Error("request failed", "method", method, "error", err)
		}
		return &RPCError{Code: InternalError, Message: err.Error(), Data: map[string]string{"class": class.String()}}
	}
}

func (s *JSONRPCServer) send(w http.ResponseWriter, id interface{}, result interface{}, rpcErr *RPCError) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		Result:  result,
		Error:   rpcErr,
		ID:      id,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("failed to write response", "error", err)
	}
}

func decode(params json.RawMessage, v interface{}) error {
	if len(params) == 0 {
		return &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}
	if err := json.Unmarshal(params, v); err != nil {
		return &RPCError{Code: InvalidParams, Message: "Invalid params", Data: err.Error()}
	}
	return nil
}
