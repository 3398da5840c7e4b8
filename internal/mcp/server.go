package mcp

import (
	"context"
	"log/slog"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rpggio/dutylog/internal/auth"
	"github.com/rpggio/dutylog/internal/domain/audit"
	"github.com/rpggio/dutylog/internal/domain/protocol"
)

// ProtocolService defines protocol operations needed by MCP.
type ProtocolService interface {
	Create(ctx context.Context, req protocol.CreateRequest) (*protocol.Protocol, error)
	Get(ctx context.Context, id string) (*protocol.Protocol, error)
	Finalize(ctx context.Context, req protocol.FinalizeRequest) (*protocol.Protocol, error)
	List(ctx context.Context, opts protocol.ListOptions) ([]protocol.Protocol, error)
	ListOpenOlderThan(ctx context.Context, threshold time.Duration) ([]protocol.Protocol, error)
	Summary(ctx context.Context) (protocol.Summary, error)
	Ranking(ctx context.Context, filter string) ([]protocol.PilotTotal, error)
	Location() *time.Location
}

// AuditService defines audit trail reads needed by MCP.
type AuditService interface {
	History(ctx context.Context, protocolID string, limit int) ([]audit.Entry, error)
}

// TokenVerifier resolves a bearer token into a principal.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (auth.Principal, error)
}

// Services contains all domain services needed by MCP.
type Services struct {
	Protocols ProtocolService
	Audit     AuditService
}

// Config contains server configuration.
type Config struct {
	Services    Services
	Verifier    TokenVerifier
	AuthEnabled bool
	Version     string
	Logger      *slog.Logger
}

// NewServer creates and configures an MCP server with all tools and middleware.
func NewServer(cfg Config) *sdkmcp.Server {
	version := cfg.Version
	if version == "" {
		version = "0.1.0"
	}
	server := sdkmcp.NewServer(&sdkmcp.Implementation{
		Name:    "dutylog",
		Version: version,
	}, &sdkmcp.ServerOptions{
		Instructions: serverInstructions,
		Logger:       cfg.Logger,
	})

	registerDocResources(server)

	if cfg.AuthEnabled {
		server.AddReceivingMiddleware(authMiddleware(cfg.Verifier))
	} else {
		server.AddReceivingMiddleware(noAuthMiddleware(localPrincipal))
	}
	server.AddReceivingMiddleware(trafficLoggingMiddleware(cfg.Logger, "inbound"))
	server.AddSendingMiddleware(trafficLoggingMiddleware(cfg.Logger, "outbound"))

	registerTools(server, newToolHandlers(cfg.Services))

	return server
}
