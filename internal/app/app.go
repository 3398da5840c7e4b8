package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rpggio/dutylog/internal/auth"
	"github.com/rpggio/dutylog/internal/config"
	"github.com/rpggio/dutylog/internal/discord"
	"github.com/rpggio/dutylog/internal/domain/audit"
	"github.com/rpggio/dutylog/internal/domain/protocol"
	"github.com/rpggio/dutylog/internal/escalation"
	"github.com/rpggio/dutylog/internal/ingest"
	"github.com/rpggio/dutylog/internal/mcp"
	"github.com/rpggio/dutylog/internal/storage"
	"github.com/rpggio/dutylog/internal/transport"
	"golang.org/x/sync/errgroup"
)

// Version is reported by the MCP server and the CLI.
const Version = "0.1.0"

// App holds the wired services of one dutylog process.
type App struct {
	Config    config.Config
	DB        *storage.DB
	Protocols *protocol.Service
	Audit     *audit.Service
	// Issuer is nil when no auth secret is configured.
	Issuer *auth.Issuer
	// Sync is nil when ingestion is disabled.
	Sync *ingest.Synchronizer
	// Sweeper is nil when escalation is disabled.
	Sweeper *escalation.Sweeper

	logger *slog.Logger
}

type options struct {
	source ingest.Source
	clock  protocol.Clock
}

// Option customizes New.
type Option func(*options)

// WithSource replaces the Discord message source and enables ingestion.
func WithSource(src ingest.Source) Option {
	return func(o *options) { o.source = src }
}

// WithClock replaces the wall clock in every time-dependent service.
func WithClock(c protocol.Clock) Option {
	return func(o *options) { o.clock = c }
}

// New opens the store, applies migrations and wires the services cfg enables.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	db, err := OpenStore(ctx, cfg.DB, logger)
	if err != nil {
		return nil, err
	}

	protocolRepo := storage.NewProtocolRepository(db)
	auditRepo := storage.NewAuditRepository(db)

	a := &App{
		Config: cfg,
		DB:     db,
		Protocols: protocol.NewService(protocolRepo, auditRepo, logger,
			protocol.WithLocation(loc),
			protocol.WithVehicle(cfg.Protocols.Vehicle),
			protocol.WithClock(o.clock),
		),
		Audit:  audit.NewService(auditRepo, logger),
		logger: logger,
	}

	if cfg.Auth.Secret != "" {
		if a.Issuer, err = auth.NewIssuer(cfg.Auth.Secret, cfg.Auth.TokenTTL); err != nil {
			_ = db.Close()
			return nil, err
		}
	} else {
		logger.Warn("auth.secret is empty, API and MCP are unauthenticated")
	}

	if cfg.Discord.Enabled || o.source != nil {
		if a.Sync, err = newSynchronizer(cfg, loc, a.Protocols, o, logger); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	if cfg.Escalation.Enabled {
		a.Sweeper = escalation.NewSweeper(a.Protocols, escalation.Config{
			Interval:  cfg.Escalation.Interval,
			Threshold: cfg.Escalation.Threshold,
			AutoWarn:  cfg.Escalation.AutoWarn,
		}, logger)
	}

	return a, nil
}

// OpenStore opens and migrates the configured database.
func OpenStore(ctx context.Context, cfg config.DBConfig, logger *slog.Logger) (*storage.DB, error) {
	dialect, err := storage.ParseDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}
	if dialect == storage.DialectSQLite {
		if err := ensureDBDir(cfg.DSN); err != nil {
			return nil, fmt.Errorf("preparing database path: %w", err)
		}
	}

	db, err := storage.Open(ctx, dialect, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx, logger); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func newSynchronizer(cfg config.Config, loc *time.Location, engine ingest.Creator, o options, logger *slog.Logger) (*ingest.Synchronizer, error) {
	src := o.source
	if src == nil {
		ds, err := discord.NewSource(cfg.Discord.Token, cfg.Discord.HTTPTimeout)
		if err != nil {
			return nil, err
		}
		src = ds
	}

	ledger, err := ingest.NewDedupSet(cfg.Discord.DedupCapacity)
	if err != nil {
		return nil, err
	}

	syncer := ingest.NewSynchronizer(src, ingest.NewExtractor(loc), engine, ledger, ingest.Config{
		ChannelID:      cfg.Discord.ChannelID,
		ProducerID:     cfg.Discord.ProducerID,
		FetchLimit:     cfg.Discord.FetchLimit,
		Interval:       cfg.Discord.Interval,
		CycleTimeout:   cfg.Discord.CycleTimeout,
		DefaultVehicle: cfg.Protocols.Vehicle,
	}, logger)
	if o.clock != nil {
		syncer.WithClock(o.clock)
	}
	return syncer, nil
}

// Handler builds the HTTP API, with MCP mounted at /mcp when enabled.
func (a *App) Handler() http.Handler {
	cfg := transport.Config{
		Protocols: a.Protocols,
		Audit:     a.Audit,
		Logger:    a.logger,
	}
	if a.Sync != nil {
		cfg.Sync = a.Sync
	}
	if a.Issuer != nil {
		cfg.AuthMiddleware = transport.AuthMiddleware(a.Issuer)
	}
	if a.Config.MCP.Enabled {
		cfg.MCP = a.mcpHandler()
	}
	return transport.NewServer(cfg)
}

func (a *App) mcpHandler() http.Handler {
	mcpCfg := mcp.Config{
		Services: mcp.Services{Protocols: a.Protocols, Audit: a.Audit},
		Version:  Version,
		Logger:   a.logger,
	}
	if a.Issuer != nil {
		mcpCfg.Verifier = a.Issuer
		mcpCfg.AuthEnabled = true
	}
	server := mcp.NewServer(mcpCfg)

	return sdkmcp.NewStreamableHTTPHandler(
		func(*http.Request) *sdkmcp.Server { return server },
		&sdkmcp.StreamableHTTPOptions{SessionTimeout: 30 * time.Minute},
	)
}

// RunWorkers runs the enabled background loops until ctx is done or one of
// them fails.
func (a *App) RunWorkers(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	if a.Sync != nil {
		g.Go(func() error { return a.Sync.Run(ctx) })
	}
	if a.Sweeper != nil {
		g.Go(func() error { return a.Sweeper.Run(ctx) })
	}
	return g.Wait()
}

// Close releases the store.
func (a *App) Close() error {
	if a.DB == nil {
		return nil
	}
	return a.DB.Close()
}

func ensureDBDir(path string) error {
	if path == "" || path == ":memory:" || strings.HasPrefix(path, "file:") {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
