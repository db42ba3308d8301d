package app

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/stacklok/fedmcp/pkg/apperr"
	"github.com/stacklok/fedmcp/pkg/authn"
	"github.com/stacklok/fedmcp/pkg/config"
	"github.com/stacklok/fedmcp/pkg/dispatch"
	"github.com/stacklok/fedmcp/pkg/logger"
	"github.com/stacklok/fedmcp/pkg/mcpserver"
	"github.com/stacklok/fedmcp/pkg/oauthmgr"
)

// envelope is the subset of an incoming line this transport needs to
// read before handing the raw bytes to mcpserver: the JSON-RPC method
// name (to decide whether tools/call requires a principal) and an
// out-of-band auth_token carrying the bearer session token, since a
// stdio transport has no HTTP Authorization header to read it from.
type envelope struct {
	Method    string `json:"method"`
	AuthToken string `json:"auth_token"`
}

// serveStdio reads newline-delimited JSON-RPC requests from stdin,
// extracts the principal (if any), dispatches through server, and
// writes each non-notification response back to stdout as one line.
// Not MCP transport framing in the protocol sense (no SSE/HTTP wire
// codec) — just the minimal loop needed to drive pkg/mcpserver from a
// process's standard streams.
func serveStdio(ctx context.Context, server *mcpserver.Server, signingKey []byte) error {
	verifier := authn.New(signingKey)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	writer := bufio.NewWriter(os.Stdout)
	defer writer.Flush()

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		resp := handleLine(ctx, server, verifier, line)
		if resp == nil {
			continue
		}
		if _, err := writer.Write(resp); err != nil {
			return fmt.Errorf("write stdout: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write stdout: %w", err)
		}
		if err := writer.Flush(); err != nil {
			return fmt.Errorf("flush stdout: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	return nil
}

func handleLine(ctx context.Context, server *mcpserver.Server, verifier *authn.Verifier, raw []byte) json.RawMessage {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		// Malformed JSON: let mcpserver's own parser produce the
		// standard JSON-RPC parse-error response.
		return server.HandleRequest(ctx, dispatch.Principal{}, raw)
	}

	principal, authErr := verifier.ExtractPrincipal(env.AuthToken)
	if env.Method == "tools/call" && authErr != nil {
		return authRequiredResponse(raw)
	}
	return server.HandleRequest(ctx, principal, raw)
}

func authRequiredResponse(raw []byte) json.RawMessage {
	var peek struct {
		ID any `json:"id"`
	}
	_ = json.Unmarshal(raw, &peek)
	body, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      peek.ID,
		"error": apperr.JSONRPCError{
			Code:    apperr.CodeInternal,
			Message: "Authentication required",
		},
	})
	return body
}

// serveOAuthCallback runs the small HTTP listener spec.md's OAuth
// authorization-code flow needs — exchanging ?code=&state= for a stored
// token — distinct from MCP transport framing, which this module does
// not implement.
func serveOAuthCallback(ctx context.Context, cfg *config.Config, tokens *oauthmgr.Manager) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/authorize", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		tenantID, userID, providerName := q.Get("tenant_id"), q.Get("user_id"), q.Get("provider")
		if tenantID == "" || userID == "" || providerName == "" {
			http.Error(w, "tenant_id, user_id, and provider are required", http.StatusBadRequest)
			return
		}
		url, err := tokens.BuildAuthorizationURL(r.Context(), tenantID, userID, providerName)
		if err != nil {
			logger.Errorf("build authorization url failed: %v", err)
			http.Error(w, "failed to start authorization", http.StatusBadGateway)
			return
		}
		http.Redirect(w, r, url, http.StatusFound)
	})
	mux.HandleFunc("/oauth/callback", func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		state := r.URL.Query().Get("state")
		if code == "" || state == "" {
			http.Error(w, "missing code or state", http.StatusBadRequest)
			return
		}
		if err := tokens.ExchangeCode(r.Context(), code, state); err != nil {
			logger.Errorf("oauth callback exchange failed: %v", err)
			http.Error(w, "authorization failed", http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Provider connected. You can close this window."))
	})

	addr := fmt.Sprintf("%s:%d", cfg.Listener.Host, cfg.Listener.OAuthCallbackPort)
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		return srv.Close()
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("oauth callback listener: %w", err)
		}
		return nil
	}
}
