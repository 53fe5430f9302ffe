// Package rpcserver implements plexy's JSON-RPC 2.0 HTTP surface, grounded
// on original_source src/rpc.rs (a jsonrpsee server exposing
// numberOfTunnels, tunnelInfo, and remotes) and extended with the rest of
// original_source's control operations (open, close, listTunnels,
// addRemote, removeRemote). No JSON-RPC or HTTP-router library appears
// anywhere in the example corpus; net/http plus encoding/json is the
// ecosystem's own minimal answer to this surface, so this package is one
// of the few built directly on the standard library.
package rpcserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/relaymesh/plexy/internal/tunnelstate"
)

// Engine is the subset of *daemon.Daemon the RPC surface needs.
type Engine interface {
	NumberOfTunnels() int
	Status(localText string) (map[string]tunnelstate.TunnelStats, error)
	Remotes(localText string) (live, dead []string, err error)
	ListTunnels() []string
	OpenTunnel(ctx context.Context, specText string) error
	CloseTunnel(localText string) error
	AddRemote(localText, remoteText string) error
	RemoveRemote(localText, remoteText string) error
}

// Server serves JSON-RPC 2.0 requests over HTTP POST at "/".
type Server struct {
	Engine Engine
	Logger *slog.Logger
}

// NewServer builds an RPC server around an Engine.
func NewServer(engine Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{Engine: engine, Logger: logger}
}

// Handler returns the http.Handler to mount; callers decide how to serve
// it (http.Server, http.ListenAndServe, a mux with other routes).
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	return mux
}

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      json.RawMessage `json:"id"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

// Standard JSON-RPC 2.0 error codes, used for transport-level failures; a
// method that fails against the tunnel engine instead surfaces plexy's own
// tunnelstate.Error code so callers can tell a missing tunnel from a
// malformed envelope.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
)

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, nil, codeParseError, "parse error", nil)
		return
	}
	if req.Method == "" {
		writeError(w, req.ID, codeInvalidRequest, "missing method", nil)
		return
	}

	result, err := s.dispatch(r.Context(), req.Method, req.Params)
	if err != nil {
		var te *tunnelstate.Error
		var mnf *methodNotFoundError
		switch {
		case errors.As(err, &te):
			writeError(w, req.ID, int(te.Code), te.Message, nil)
		case errors.As(err, &mnf):
			writeError(w, req.ID, codeMethodNotFound, err.Error(), nil)
		default:
			writeError(w, req.ID, codeInvalidParams, err.Error(), nil)
		}
		return
	}
	writeResult(w, req.ID, result)
}

type localParam struct {
	Local string `json:"local"`
}

type tunnelParam struct {
	Tunnel string `json:"tunnel"`
}

type remoteParam struct {
	Local  string `json:"local"`
	Remote string `json:"remote"`
}

func (s *Server) dispatch(ctx context.Context, method string, params json.RawMessage) (any, error) {
	switch method {
	case "numberOfTunnels":
		return s.Engine.NumberOfTunnels(), nil
	case "tunnelInfo":
		var p localParam
		if len(params) > 0 {
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, err
			}
		}
		status, err := s.Engine.Status(p.Local)
		if err != nil {
			return nil, err
		}
		return status, nil
	case "remotes":
		var p localParam
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		live, dead, err := s.Engine.Remotes(p.Local)
		if err != nil {
			return nil, err
		}
		return map[string][]string{"live": live, "dead": dead}, nil
	case "listTunnels":
		return s.Engine.ListTunnels(), nil
	case "open":
		var p tunnelParam
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		if err := s.Engine.OpenTunnel(ctx, p.Tunnel); err != nil {
			return nil, err
		}
		return true, nil
	case "close":
		var p localParam
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		if err := s.Engine.CloseTunnel(p.Local); err != nil {
			return nil, err
		}
		return true, nil
	case "addRemote":
		var p remoteParam
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		if err := s.Engine.AddRemote(p.Local, p.Remote); err != nil {
			return nil, err
		}
		return true, nil
	case "removeRemote":
		var p remoteParam
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		if err := s.Engine.RemoveRemote(p.Local, p.Remote); err != nil {
			return nil, err
		}
		return true, nil
	default:
		return nil, &methodNotFoundError{method: method}
	}
}

type methodNotFoundError struct{ method string }

func (e *methodNotFoundError) Error() string { return "method not found: " + e.method }

func writeResult(w http.ResponseWriter, id json.RawMessage, result any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response{JSONRPC: "2.0", Result: result, ID: id})
}

func writeError(w http.ResponseWriter, id json.RawMessage, code int, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response{JSONRPC: "2.0", Error: &rpcError{Code: code, Message: message, Data: data}, ID: id})
}
