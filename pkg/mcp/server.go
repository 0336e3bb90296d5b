// Package mcp exposes cache and request statistics to MCP clients over a
// line-delimited JSON-RPC stdio transport.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/pario-ai/semcache/pkg/logging"
	"github.com/pario-ai/semcache/pkg/models"
	"github.com/pario-ai/semcache/pkg/tracker"
)

// CacheStatter provides cache statistics without coupling to a concrete cache.
type CacheStatter interface {
	Stats(ctx context.Context) (models.CacheStats, error)
}

// Server is a minimal MCP server.
type Server struct {
	tracker tracker.Tracker
	cache   CacheStatter
	version string
}

// New creates a Server. Either dependency may be nil; the matching tools
// then report that the feature is not configured.
func New(t tracker.Tracker, cache CacheStatter, version string) *Server {
	return &Server{tracker: t, cache: cache, version: version}
}

// Run reads JSON-RPC requests from r line by line and writes responses to w.
// It blocks until r is closed or ctx is cancelled.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeResponse(ctx, w, Response{
				JSONRPC: "2.0",
				Error:   &RPCError{Code: CodeParseError, Message: "parse error"},
			})
			continue
		}

		if resp := s.dispatch(ctx, &req); resp != nil {
			s.writeResponse(ctx, w, *resp)
		}
	}
	return scanner.Err()
}

func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	switch req.Method {
	case "initialize":
		return &Response{JSONRPC: "2.0", ID: req.ID, Result: InitializeResult{
			ProtocolVersion: protocolVersion,
			ServerInfo:      ServerInfo{Name: "semcache", Version: s.version},
			Capabilities:    map[string]any{"tools": map[string]any{}},
		}}
	case "notifications/initialized":
		return nil
	case "tools/list":
		return &Response{JSONRPC: "2.0", ID: req.ID, Result: ToolsListResult{Tools: allTools}}
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	default:
		return &Response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &RPCError{Code: CodeMethodNotFound, Message: fmt.Sprintf("unknown method: %s", req.Method)},
		}
	}
}

func (s *Server) handleToolsCall(ctx context.Context, req *Request) *Response {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return &Response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &RPCError{Code: CodeInvalidParams, Message: "invalid params"},
		}
	}

	handler, ok := toolHandlers[params.Name]
	if !ok {
		return &Response{JSONRPC: "2.0", ID: req.ID, Result: errorResult(fmt.Sprintf("unknown tool: %s", params.Name))}
	}
	return &Response{JSONRPC: "2.0", ID: req.ID, Result: handler(ctx, s, params.Arguments)}
}

func (s *Server) writeResponse(ctx context.Context, w io.Writer, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		logging.From(ctx).Error("mcp marshal failed", logging.ErrorAttr(err))
		return
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		logging.From(ctx).Error("mcp write failed", logging.ErrorAttr(err))
	}
}
