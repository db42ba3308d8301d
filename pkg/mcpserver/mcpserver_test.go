package mcpserver

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/fedmcp/pkg/crypto"
	"github.com/stacklok/fedmcp/pkg/dispatch"
	"github.com/stacklok/fedmcp/pkg/domain"
	"github.com/stacklok/fedmcp/pkg/mcpwire"
	"github.com/stacklok/fedmcp/pkg/oauthmgr"
	"github.com/stacklok/fedmcp/pkg/provider"
	"github.com/stacklok/fedmcp/pkg/storage/memstore"
	"github.com/stacklok/fedmcp/pkg/toolcatalog"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store := memstore.New([]domain.ToolCatalogEntry{
		{ToolName: "get_athlete", Description: "Fetch the authenticated athlete profile", Category: domain.CategoryDataAccess, IsEnabledByDefault: true, MinPlan: domain.PlanTrial},
		{ToolName: "disabled_tool", Description: "never enabled", Category: domain.CategoryUtility, IsEnabledByDefault: false, MinPlan: domain.PlanTrial},
	})
	require.NoError(t, store.CreateTenant(context.Background(), domain.Tenant{ID: "tenant-1", Plan: domain.PlanEnterprise}))

	registry := provider.NewRegistry()
	enc, err := crypto.NewEnvelopeStore(make([]byte, 32))
	require.NoError(t, err)
	tokens := oauthmgr.New(store, enc, registry, nil)
	catalog := toolcatalog.New(store)
	d := dispatch.New(catalog, registry, tokens, store, nil, nil)

	return New(catalog, d, "fedmcp", "0.1.0")
}

func testPrincipal() dispatch.Principal {
	return dispatch.Principal{UserID: "user-1", TenantID: "tenant-1"}
}

func TestHandleRequest_Initialize(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	raw := []byte(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","capabilities":{},"clientInfo":{"name":"test","version":"1.0"}}}`)

	out := s.HandleRequest(context.Background(), testPrincipal(), raw)
	require.NotNil(t, out)

	var resp mcpwire.JSONRPCResponse
	require.NoError(t, json.Unmarshal(out, &resp))
	assert.Nil(t, resp.Error)
	assert.NotNil(t, resp.Result)
}

func TestHandleRequest_ToolsListExcludesDisabled(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	raw := []byte(`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)

	out := s.HandleRequest(context.Background(), testPrincipal(), raw)
	require.NotNil(t, out)

	var decoded struct {
		Result struct {
			Tools []mcpwire.Tool `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(out, &decoded))
	names := make([]string, len(decoded.Result.Tools))
	for i, tool := range decoded.Result.Tools {
		names[i] = tool.Name
	}
	assert.Contains(t, names, "get_athlete")
	assert.NotContains(t, names, "disabled_tool")
}

func TestHandleRequest_ToolsListUnauthenticatedSucceeds(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	raw := []byte(`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)

	out := s.HandleRequest(context.Background(), dispatch.Principal{}, raw)
	require.NotNil(t, out)

	var decoded struct {
		Error  *mcpwire.JSONRPCError `json:"error"`
		Result struct {
			Tools []mcpwire.Tool `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(out, &decoded))
	require.Nil(t, decoded.Error)
	require.NotEmpty(t, decoded.Result.Tools)

	names := make([]string, len(decoded.Result.Tools))
	for i, tool := range decoded.Result.Tools {
		names[i] = tool.Name
	}
	assert.Contains(t, names, "get_athlete")
	assert.NotContains(t, names, "disabled_tool")
}

func TestHandleRequest_ToolsCallUnknownTool(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	raw := []byte(`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"no_such_tool","arguments":{}}}`)

	out := s.HandleRequest(context.Background(), testPrincipal(), raw)
	require.NotNil(t, out)

	var resp mcpwire.JSONRPCResponse
	require.NoError(t, json.Unmarshal(out, &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "tool_not_available", resp.Error.Data["kind"])
}

func TestHandleRequest_UnknownMethod(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	raw := []byte(`{"jsonrpc":"2.0","id":4,"method":"resources/list"}`)

	out := s.HandleRequest(context.Background(), testPrincipal(), raw)
	require.NotNil(t, out)

	var resp mcpwire.JSONRPCResponse
	require.NoError(t, json.Unmarshal(out, &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, -32601, resp.Error.Code)
}

func TestHandleRequest_NotificationProducesNoResponse(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	raw := []byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)

	out := s.HandleRequest(context.Background(), testPrincipal(), raw)
	assert.Nil(t, out)
}

func TestRenderContentBlocks_EncodesPayloadAsTextBlock(t *testing.T) {
	t.Parallel()
	blocks := renderContentBlocks(map[string]any{"athlete_id": "123"})
	require.Len(t, blocks, 1)
	assert.Equal(t, "text", blocks[0].Type)
	assert.Contains(t, blocks[0].Text, "athlete_id")
	assert.Contains(t, blocks[0].Text, "123")
}

func TestHandleRequest_MalformedJSON(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	out := s.HandleRequest(context.Background(), testPrincipal(), []byte(`{not json`))
	require.NotNil(t, out)

	var resp mcpwire.JSONRPCResponse
	require.NoError(t, json.Unmarshal(out, &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, -32602, resp.Error.Code)
}
