// Package mcpwire defines the JSON-RPC 2.0 envelope and the MCP
// request/result shapes this server speaks, grounded on rakunlabs-at's
// pkg/mcp/model.go. It has no behavior of its own — pkg/mcpserver
// decodes/encodes these types over whatever transport embeds it.
package mcpwire

import "encoding/json"

// JSONRPCRequest is one inbound JSON-RPC 2.0 call or notification.
// Notifications omit ID; a request awaiting a response carries one.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse is the outbound envelope. A notification produces a
// zero-value Response (no ID, no Result, no Error); the transport layer
// must recognize that and send nothing.
type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      any           `json:"id,omitempty"`
	Result  any           `json:"result,omitempty"`
	Error   *JSONRPCError `json:"error,omitempty"`
}

// IsEmpty reports whether r is the zero-value notification response.
func (r JSONRPCResponse) IsEmpty() bool {
	return r.ID == nil && r.Result == nil && r.Error == nil
}

// JSONRPCError is the wire shape of an error response. Its field set
// mirrors apperr.JSONRPCError exactly; pkg/mcpserver converts between
// them rather than importing mcpwire from apperr, avoiding a cycle
// between the error taxonomy and the wire layer.
type JSONRPCError struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// ClientInfo identifies the connecting MCP client.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ServerInfo identifies this server in an initialize response.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeParams is the initialize request body.
type InitializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      ClientInfo     `json:"clientInfo"`
}

// ToolsCapability advertises tool support and whether the tool list can
// change after initialize (it cannot, here — the catalog is fixed per
// request, not pushed).
type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// Capabilities is the server's advertised feature set. Only tools are
// populated — resources, prompts, completions, and logging are out of
// scope for this server.
type Capabilities struct {
	Tools *ToolsCapability `json:"tools,omitempty"`
}

// InitializeResult is the initialize response body.
type InitializeResult struct {
	ProtocolVersion string       `json:"protocolVersion"`
	Capabilities    Capabilities `json:"capabilities"`
	ServerInfo      ServerInfo   `json:"serverInfo"`
}

// Tool describes one callable tool for a tools/list response.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// ToolsListResult is the tools/list response body.
type ToolsListResult struct {
	Tools []Tool `json:"tools"`
}

// ToolsCallParams is the tools/call request body.
type ToolsCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ContentBlock is one human-renderable block of a tools/call result,
// mirroring mark3labs/mcp-go's TextContent shape (the type toolhive
// itself builds responses from).
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ToolsCallResult is the tools/call response body: spec.md §6.1's
// documented content/structuredContent/isError envelope, plus the
// provider metadata §4.6 step 7 adds.
type ToolsCallResult struct {
	Content           []ContentBlock `json:"content"`
	StructuredContent any            `json:"structuredContent"`
	IsError           bool           `json:"isError"`
	Providers         []string       `json:"providers,omitempty"`
	Completeness      string         `json:"dataCompleteness,omitempty"`
}
