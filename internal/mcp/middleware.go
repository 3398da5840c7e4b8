package mcp

import (
	"context"
	"fmt"
	"strings"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rpggio/dutylog/internal/auth"
)

type contextKey int

const principalKey contextKey = iota

// localPrincipal acts for callers when auth is disabled.
var localPrincipal = auth.Principal{Subject: "local", Name: "mcp", Role: auth.RoleStaff}

func withPrincipal(ctx context.Context, p auth.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// getPrincipal extracts the caller from context.
func getPrincipal(ctx context.Context) (auth.Principal, bool) {
	p, ok := ctx.Value(principalKey).(auth.Principal)
	return p, ok
}

// actorFor returns the audit actor for the caller.
func actorFor(ctx context.Context) string {
	if p, ok := getPrincipal(ctx); ok {
		return "mcp:" + p.Actor()
	}
	return "mcp"
}

// authMiddleware implements bearer token authentication as MCP middleware.
func authMiddleware(verifier TokenVerifier) sdkmcp.Middleware {
	return func(next sdkmcp.MethodHandler) sdkmcp.MethodHandler {
		return func(ctx context.Context, method string, req sdkmcp.Request) (sdkmcp.Result, error) {
			// Handshake methods carry no credentials.
			if method == "initialize" || method == "ping" || strings.HasPrefix(method, "notifications/") {
				return next(ctx, method, req)
			}

			extra := req.GetExtra()
			if extra == nil || extra.Header == nil {
				return nil, fmt.Errorf("unauthorized: missing headers")
			}

			header := extra.Header.Get("Authorization")
			token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
			if token == "" {
				return nil, fmt.Errorf("unauthorized: missing bearer token")
			}

			principal, err := verifier.Verify(ctx, token)
			if err != nil {
				return nil, fmt.Errorf("unauthorized: %w", err)
			}
			if principal.Subject == "" {
				return nil, fmt.Errorf("unauthorized: invalid bearer token")
			}

			return next(withPrincipal(ctx, principal), method, req)
		}
	}
}

// noAuthMiddleware injects a fixed principal when auth is disabled.
func noAuthMiddleware(p auth.Principal) sdkmcp.Middleware {
	return func(next sdkmcp.MethodHandler) sdkmcp.MethodHandler {
		return func(ctx context.Context, method string, req sdkmcp.Request) (sdkmcp.Result, error) {
			return next(withPrincipal(ctx, p), method, req)
		}
	}
}
