package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"voxelforge/internal/logging"
	"voxelforge/internal/service"
)

// maxMessageSize bounds a single JSON-RPC line; BLOCK_SET payloads
// can be large.
const maxMessageSize = 16 * 1024 * 1024

// Tool is one callable exposed to the agent.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
	Handler     func(ctx context.Context, args map[string]any) (any, error)
}

// Server speaks MCP over a reader/writer pair, normally stdio. One
// instance serves one agent session.
type Server struct {
	name    string
	version string

	in  io.Reader
	out io.Writer
	wmu sync.Mutex

	tools map[string]*Tool
	order []string
}

// NewServer creates a server with no tools registered.
func NewServer(name, version string, in io.Reader, out io.Writer) *Server {
	return &Server{
		name:    name,
		version: version,
		in:      in,
		out:     out,
		tools:   make(map[string]*Tool),
	}
}

// Register adds a tool. Re-registering a name replaces the handler
// but keeps the listing order.
func (s *Server) Register(t *Tool) {
	if _, exists := s.tools[t.Name]; !exists {
		s.order = append(s.order, t.Name)
	}
	s.tools[t.Name] = t
}

// Serve reads newline-delimited JSON-RPC messages until EOF or ctx
// cancellation. Requests are handled serially; responses are written
// in request order.
func (s *Server) Serve(ctx context.Context) error {
	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 64*1024), maxMessageSize)

	logging.MCP("Server %s ready with %d tools", s.name, len(s.tools))
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeError(json.RawMessage("null"), codeParseError, "parse error")
			continue
		}
		s.handle(ctx, &req)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read transport: %w", err)
	}
	logging.MCP("Transport closed, server %s exiting", s.name)
	return nil
}

func (s *Server) handle(ctx context.Context, req *request) {
	switch req.Method {
	case "initialize":
		s.writeResult(req.ID, initializeResult{
			ProtocolVersion: protocolVersion,
			ServerInfo:      serverInfo{Name: s.name, Version: s.version},
		})
	case "notifications/initialized":
		// Acknowledgement only; nothing to send back.
	case "ping":
		s.writeResult(req.ID, struct{}{})
	case "tools/list":
		s.writeResult(req.ID, s.listTools())
	case "tools/call":
		s.callTool(ctx, req)
	default:
		if req.isNotification() {
			logging.MCPDebug("Ignoring notification %s", req.Method)
			return
		}
		s.writeError(req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method))
	}
}

func (s *Server) listTools() listToolsResult {
	out := listToolsResult{Tools: make([]toolDescriptor, 0, len(s.order))}
	for _, name := range s.order {
		t := s.tools[name]
		out.Tools = append(out.Tools, toolDescriptor{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	return out
}

func (s *Server) callTool(ctx context.Context, req *request) {
	var params callToolParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.writeError(req.ID, codeInvalidParams, "malformed tool call params")
		return
	}
	tool, ok := s.tools[params.Name]
	if !ok {
		s.writeError(req.ID, codeInvalidParams, fmt.Sprintf("unknown tool %q", params.Name))
		return
	}

	timer := logging.StartTimer(logging.CategoryMCP, "tool "+params.Name)
	defer timer.Stop()

	result, err := tool.Handler(ctx, params.Arguments)
	if err != nil {
		s.writeResult(req.ID, errorResult(describeErr(err)))
		return
	}

	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		s.writeError(req.ID, codeInternalError, fmt.Sprintf("encode result: %v", err))
		return
	}
	s.writeResult(req.ID, textResult(string(payload)))
}

// describeErr prefixes domain errors so the agent can distinguish
// bad inputs from bad state without parsing prose.
func describeErr(err error) string {
	switch {
	case errors.Is(err, service.ErrInvalid):
		return fmt.Sprintf("validation error: %v", err)
	case errors.Is(err, service.ErrNotFound):
		return fmt.Sprintf("not found: %v", err)
	case errors.Is(err, service.ErrConflict):
		return fmt.Sprintf("state error: %v", err)
	default:
		return fmt.Sprintf("internal error: %v", err)
	}
}

func (s *Server) writeResult(id json.RawMessage, result any) {
	s.write(response{JSONRPC: jsonrpcVersion, ID: id, Result: result})
}

func (s *Server) writeError(id json.RawMessage, code int, msg string) {
	logging.MCPDebug("RPC error %d: %s", code, msg)
	s.write(response{JSONRPC: jsonrpcVersion, ID: id, Error: &rpcError{Code: code, Message: msg}})
}

func (s *Server) write(resp response) {
	data, err := json.Marshal(resp)
	if err != nil {
		logging.MCP("Failed to encode response: %v", err)
		return
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	s.out.Write(data)
	s.out.Write([]byte("\n"))
}
