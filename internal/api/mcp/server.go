package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/Zereker/social/internal/action"
	"github.com/Zereker/social/pkg/log"
)

// JSON-RPC 2.0 错误码
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

// 支持的协议版本，第一个为默认
var protocolVersions = []string{"2025-03-26", "2024-11-05"}

// maxLineSize 单条 JSON-RPC 消息上限
const maxLineSize = 1 << 20

const instructions = "Social relationship engine. Use social_apply_action to change the " +
	"relationship between two users, social_get_view to list a category " +
	"(friends, requests, followers, blocked, online, common) and " +
	"social_presence for online status and counts."

// Server represents an MCP server
type Server struct {
	logger  *slog.Logger
	handler *Handler
	name    string
	version string
	methods map[string]methodFunc

	mu sync.Mutex // 串行写出
}

// ServerConfig contains server configuration
type ServerConfig struct {
	Name    string
	Version string
}

type methodFunc func(ctx context.Context, req *jsonRPCRequest) (any, *Error)

// NewServer creates a new MCP server
func NewServer(friends *action.Friends, config ServerConfig) *Server {
	s := &Server{
		logger:  log.Logger("mcp"),
		handler: NewHandler(friends),
		name:    config.Name,
		version: config.Version,
	}
	s.methods = map[string]methodFunc{
		"initialize": s.initialize,
		"ping":       func(context.Context, *jsonRPCRequest) (any, *Error) { return struct{}{}, nil },
		"tools/list": s.toolsList,
		"tools/call": s.toolsCall,
	}
	return s
}

// JSON-RPC types
type jsonRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// notification 没有 id 的请求不需要响应
func (r *jsonRPCRequest) notification() bool {
	return len(r.ID) == 0 || string(r.ID) == "null"
}

type jsonRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error represents a JSON-RPC error
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type peerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type initializeParams struct {
	ProtocolVersion string   `json:"protocolVersion"`
	ClientInfo      peerInfo `json:"clientInfo"`
}

type initializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ServerInfo      peerInfo       `json:"serverInfo"`
	Instructions    string         `json:"instructions,omitempty"`
}

type toolsListResult struct {
	Tools []Tool `json:"tools"`
}

type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// RunStdio runs the MCP server using stdio transport
func (s *Server) RunStdio(ctx context.Context) error {
	s.logger.Info("starting stdio server", "name", s.name, "version", s.version)
	return s.Serve(ctx, os.Stdin, os.Stdout)
}

// Serve reads newline-delimited JSON-RPC messages from r and writes one
// response line per request to w. It returns nil when r is exhausted.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		if resp := s.dispatch(ctx, line); resp != nil {
			if err := s.write(w, resp); err != nil {
				return errors.Wrap(err, "write response")
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "read request")
	}
	s.logger.Info("input closed")
	return nil
}

// dispatch 处理一条消息，通知返回 nil
func (s *Server) dispatch(ctx context.Context, line []byte) *jsonRPCResponse {
	var req jsonRPCRequest
	if err := json.Unmarshal(line, &req); err != nil {
		return errorResponse(nil, codeParseError, "Parse error", err.Error())
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		return errorResponse(req.ID, codeInvalidRequest, "Invalid Request", nil)
	}

	if req.notification() {
		s.logger.Debug("notification", "method", req.Method)
		return nil
	}

	method, ok := s.methods[req.Method]
	if !ok {
		return errorResponse(req.ID, codeMethodNotFound, "Method not found", req.Method)
	}

	result, rpcErr := s.call(ctx, method, &req)
	if rpcErr != nil {
		return &jsonRPCResponse{JSONRPC: "2.0", ID: req.ID, Error: rpcErr}
	}
	return &jsonRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: result}
}

// call 方法内的 panic 只影响当前请求，stdio 进程继续服务
func (s *Server) call(ctx context.Context, method methodFunc, req *jsonRPCRequest) (result any, rpcErr *Error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic recovered", "method", req.Method, "error", r)
			result, rpcErr = nil, &Error{Code: codeInternalError, Message: "Internal error"}
		}
	}()
	return method(ctx, req)
}

func (s *Server) initialize(_ context.Context, req *jsonRPCRequest) (any, *Error) {
	var params initializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, &Error{Code: codeInvalidParams, Message: "Invalid params", Data: err.Error()}
		}
	}

	s.logger.Info("initialize",
		"client", params.ClientInfo.Name,
		"client_version", params.ClientInfo.Version,
		"protocol", params.ProtocolVersion,
	)

	return initializeResult{
		ProtocolVersion: negotiate(params.ProtocolVersion),
		Capabilities: map[string]any{
			"tools": map[string]any{"listChanged": false},
		},
		ServerInfo:   peerInfo{Name: s.name, Version: s.version},
		Instructions: instructions,
	}, nil
}

func (s *Server) toolsList(context.Context, *jsonRPCRequest) (any, *Error) {
	return toolsListResult{Tools: SocialTools}, nil
}

func (s *Server) toolsCall(ctx context.Context, req *jsonRPCRequest) (any, *Error) {
	var params toolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, &Error{Code: codeInvalidParams, Message: "Invalid params", Data: err.Error()}
	}
	if strings.TrimSpace(params.Name) == "" {
		return nil, &Error{Code: codeInvalidParams, Message: "Invalid params", Data: "name is required"}
	}

	s.logger.Info("tools/call", "tool", params.Name)
	return s.handler.HandleToolCall(ctx, ToolCallRequest{
		Name:      params.Name,
		Arguments: params.Arguments,
	}), nil
}

// negotiate 客户端版本受支持时原样返回，否则返回默认版本
func negotiate(requested string) string {
	for _, v := range protocolVersions {
		if v == requested {
			return v
		}
	}
	return protocolVersions[0]
}

func errorResponse(id json.RawMessage, code int, message string, data any) *jsonRPCResponse {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	return &jsonRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &Error{Code: code, Message: message, Data: data},
	}
}

func (s *Server) write(w io.Writer, resp *jsonRPCResponse) error {
	if len(resp.ID) == 0 {
		resp.ID = json.RawMessage("null")
	}

	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = w.Write(data)
	return err
}
