// Package mcpserver wires the MCP JSON-RPC methods (initialize,
// tools/list, tools/call) to pkg/toolcatalog and pkg/dispatch. The
// dispatch style — decode params, switch on method, build a response
// envelope — follows rakunlabs-at's pkg/mcp/server.go, with the
// single-process in-memory tool map replaced by a call into the
// tenant-aware tool-selection engine and dispatcher.
package mcpserver

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/stacklok/fedmcp/pkg/apperr"
	"github.com/stacklok/fedmcp/pkg/dispatch"
	"github.com/stacklok/fedmcp/pkg/mcpwire"
	"github.com/stacklok/fedmcp/pkg/toolcatalog"
)

// ProtocolVersion is the MCP protocol version this server implements.
const ProtocolVersion = "2025-06-18"

// Server answers MCP JSON-RPC requests for a single logical deployment.
// A transport (HTTP, stdio, SSE — none of which this package implements)
// decodes wire bytes into a request, calls HandleRequest, and writes the
// returned bytes back; transport framing is explicitly out of scope.
type Server struct {
	catalog    *toolcatalog.Engine
	dispatcher *dispatch.Dispatcher
	name       string
	version    string
}

// New constructs a Server backed by catalog and dispatcher.
func New(catalog *toolcatalog.Engine, dispatcher *dispatch.Dispatcher, name, version string) *Server {
	return &Server{catalog: catalog, dispatcher: dispatcher, name: name, version: version}
}

// HandleRequest decodes one JSON-RPC message, routes it, and returns the
// encoded response. Returns nil for a notification (no response body is
// sent for those, mirroring rakunlabs-at's ServeHTTP notification path).
func (s *Server) HandleRequest(ctx context.Context, principal dispatch.Principal, raw json.RawMessage) json.RawMessage {
	var req mcpwire.JSONRPCRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return encode(errorResponse(nil, apperr.CodeInvalidParams, "parse error"))
	}

	if req.ID == nil {
		// Notifications (e.g. notifications/initialized) require no response.
		return nil
	}

	var resp mcpwire.JSONRPCResponse
	switch req.Method {
	case "initialize":
		resp = s.handleInitialize(req.ID)
	case "tools/list":
		resp = s.handleToolsList(ctx, req.ID, principal)
	case "tools/call":
		resp = s.handleToolsCall(ctx, req.ID, principal, req.Params)
	case "ping":
		resp = mcpwire.JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: map[string]any{}}
	default:
		resp = errorResponse(req.ID, apperr.CodeMethodOrTool, "method not found: "+req.Method)
	}
	return encode(resp)
}

func (s *Server) handleInitialize(id any) mcpwire.JSONRPCResponse {
	return mcpwire.JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result: mcpwire.InitializeResult{
			ProtocolVersion: ProtocolVersion,
			Capabilities: mcpwire.Capabilities{
				Tools: &mcpwire.ToolsCapability{ListChanged: false},
			},
			ServerInfo: mcpwire.ServerInfo{Name: s.name, Version: s.version},
		},
	}
}

func (s *Server) handleToolsList(ctx context.Context, id any, principal dispatch.Principal) mcpwire.JSONRPCResponse {
	effective, err := s.catalog.GetEnabledTools(ctx, principal.TenantID)
	if err != nil {
		return errorFromApp(id, err)
	}

	tools := make([]mcpwire.Tool, len(effective))
	for i, t := range effective {
		tools[i] = mcpwire.Tool{
			Name:        t.ToolName,
			Description: t.Description,
			InputSchema: genericObjectSchema(),
		}
	}
	return mcpwire.JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: mcpwire.ToolsListResult{Tools: tools}}
}

func (s *Server) handleToolsCall(ctx context.Context, id any, principal dispatch.Principal, params json.RawMessage) mcpwire.JSONRPCResponse {
	var call mcpwire.ToolsCallParams
	if err := json.Unmarshal(params, &call); err != nil {
		return errorResponse(id, apperr.CodeInvalidParams, "invalid params")
	}

	result, err := s.dispatcher.Dispatch(ctx, dispatch.Request{
		ToolName:  call.Name,
		Arguments: call.Arguments,
		Principal: principal,
		RequestID: uuid.NewString(),
	})
	if err != nil {
		return errorFromApp(id, err)
	}

	return mcpwire.JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result: mcpwire.ToolsCallResult{
			Content:           renderContentBlocks(result.Content),
			StructuredContent: result.Content,
			IsError:           false,
			Providers:         result.Providers,
			Completeness:      string(result.Completeness),
		},
	}
}

// renderContentBlocks renders a tool's machine payload as the single
// human-readable text block clients without structuredContent support
// fall back to; structuredContent carries the same payload untouched
// for clients that read it directly.
func renderContentBlocks(payload any) []mcpwire.ContentBlock {
	text, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return []mcpwire.ContentBlock{{Type: "text", Text: "error rendering result"}}
	}
	return []mcpwire.ContentBlock{{Type: "text", Text: string(text)}}
}

// genericObjectSchema is the InputSchema this server publishes for every
// tool. Tool arguments aren't modeled as a per-tool JSON Schema anywhere
// upstream of pkg/dispatch (the catalog entry carries only name,
// category, and plan — not a typed argument list), so every tool
// advertises an open object and pkg/dispatch's own Parse functions are
// the actual source of truth for which arguments are required.
func genericObjectSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": true,
	}
}

func errorFromApp(id any, err error) mcpwire.JSONRPCResponse {
	appErr := apperr.ToJSONRPCError(err)
	return mcpwire.JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &mcpwire.JSONRPCError{Code: appErr.Code, Message: appErr.Message, Data: appErr.Data},
	}
}

func errorResponse(id any, code int, message string) mcpwire.JSONRPCResponse {
	return mcpwire.JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &mcpwire.JSONRPCError{Code: code, Message: message},
	}
}

func encode(resp mcpwire.JSONRPCResponse) json.RawMessage {
	if resp.IsEmpty() {
		return nil
	}
	b, err := json.Marshal(resp)
	if err != nil {
		b, _ = json.Marshal(errorResponse(resp.ID, apperr.CodeInternal, "response encode failed"))
	}
	return b
}
