package transport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rpggio/dutylog/internal/auth"
	"github.com/rpggio/dutylog/internal/domain/audit"
	"github.com/rpggio/dutylog/internal/domain/protocol"
	"github.com/rpggio/dutylog/internal/ingest"
)

// ProtocolService is the protocol engine as the HTTP layer uses it.
type ProtocolService interface {
	Create(ctx context.Context, req protocol.CreateRequest) (*protocol.Protocol, error)
	Get(ctx context.Context, id string) (*protocol.Protocol, error)
	Update(ctx context.Context, req protocol.UpdateRequest) (*protocol.Protocol, error)
	Finalize(ctx context.Context, req protocol.FinalizeRequest) (*protocol.Protocol, error)
	Delete(ctx context.Context, req protocol.DeleteRequest) error
	List(ctx context.Context, opts protocol.ListOptions) ([]protocol.Protocol, error)
	ListOpenOlderThan(ctx context.Context, threshold time.Duration) ([]protocol.Protocol, error)
	Summary(ctx context.Context) (protocol.Summary, error)
	Ranking(ctx context.Context, filter string) ([]protocol.PilotTotal, error)
}

// AuditService reads the audit trail.
type AuditService interface {
	History(ctx context.Context, protocolID string, limit int) ([]audit.Entry, error)
}

// SyncService controls the ingestion synchronizer.
type SyncService interface {
	RunOnce(ctx context.Context) (ingest.CycleReport, error)
	IsIngested(messageID string) bool
	LastReport() (ingest.CycleReport, bool)
}

// Config wires the HTTP server. Sync and MCP are optional. Without
// AuthMiddleware every route is public.
type Config struct {
	Protocols      ProtocolService
	Audit          AuditService
	Sync           SyncService
	MCP            http.Handler
	AuthMiddleware func(http.Handler) http.Handler
	Logger         *slog.Logger
}

// Server wires HTTP handlers.
type Server struct {
	protocols ProtocolService
	audit     AuditService
	sync      SyncService
	logger    *slog.Logger
}

// NewServer creates an HTTP server router with middleware.
func NewServer(cfg Config) *chi.Mux {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	srv := &Server{
		protocols: cfg.Protocols,
		audit:     cfg.Audit,
		sync:      cfg.Sync,
		logger:    logger.With("component", "http"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(srv.logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", srv.handleHealth)

	authenticated := func(h http.Handler) http.Handler { return h }
	adminOnly := authenticated
	if cfg.AuthMiddleware != nil {
		authenticated = cfg.AuthMiddleware
		adminOnly = RequireRole(auth.RoleAdmin)
	}

	if cfg.MCP != nil {
		r.With(authenticated).Handle("/mcp", cfg.MCP)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(authenticated)

		r.Get("/health", srv.handleHealth)

		r.Route("/protocols", func(r chi.Router) {
			r.Get("/", srv.handleListProtocols)
			r.Post("/", srv.handleCreateProtocol)
			r.Get("/stale", srv.handleStaleProtocols)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", srv.handleGetProtocol)
				r.Put("/", srv.handleUpdateProtocol)
				r.With(adminOnly).Delete("/", srv.handleDeleteProtocol)
				r.Post("/finalize", srv.handleFinalizeProtocol)
				r.Get("/audit", srv.handleProtocolAudit)
			})
		})

		r.Get("/stats/summary", srv.handleSummary)
		r.Get("/stats/ranking", srv.handleRanking)

		r.Route("/sync", func(r chi.Router) {
			r.With(adminOnly).Post("/run", srv.handleSyncRun)
			r.Get("/last", srv.handleSyncLast)
			r.Get("/messages/{id}", srv.handleSyncMessage)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListProtocols(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListQuery(r.URL.Query())
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	items, err := s.protocols.List(r.Context(), opts)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleCreateProtocol(w http.ResponseWriter, r *http.Request) {
	var body protocolBody
	if err := decodeBody(w, r, &body); err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	req, err := body.createRequest(actorFrom(r.Context()))
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	p, err := s.protocols.Create(r.Context(), req)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleGetProtocol(w http.ResponseWriter, r *http.Request) {
	p, err := s.protocols.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleUpdateProtocol(w http.ResponseWriter, r *http.Request) {
	var body protocolBody
	if err := decodeBody(w, r, &body); err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	req, err := body.updateRequest(chi.URLParam(r, "id"), actorFrom(r.Context()))
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	p, err := s.protocols.Update(r.Context(), req)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleFinalizeProtocol(w http.ResponseWriter, r *http.Request) {
	var body finalizeBody
	if err := decodeBody(w, r, &body); err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	req, err := body.finalizeRequest(chi.URLParam(r, "id"), actorFrom(r.Context()))
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	p, err := s.protocols.Finalize(r.Context(), req)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeleteProtocol(w http.ResponseWriter, r *http.Request) {
	req := protocol.DeleteRequest{
		ID:    chi.URLParam(r, "id"),
		Actor: actorFrom(r.Context()),
	}
	if p, ok := PrincipalFromContext(r.Context()); ok {
		req.ActorRole = string(p.Role)
	}
	if err := s.protocols.Delete(r.Context(), req); err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStaleProtocols(w http.ResponseWriter, r *http.Request) {
	threshold, err := parseThreshold(r.URL.Query().Get("older_than"))
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	items, err := s.protocols.ListOpenOlderThan(r.Context(), threshold)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleProtocolAudit(w http.ResponseWriter, r *http.Request) {
	limit, err := parseIntParam(r.URL.Query(), "limit")
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	entries, err := s.audit.History(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.protocols.Summary(r.Context())
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleRanking(w http.ResponseWriter, r *http.Request) {
	ranking, err := s.protocols.Ranking(r.Context(), r.URL.Query().Get("search"))
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ranking)
}

func (s *Server) handleSyncRun(w http.ResponseWriter, r *http.Request) {
	if s.sync == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "ingestion is disabled")
		return
	}
	report, err := s.sync.RunOnce(r.Context())
	if err != nil {
		if report.StartedAt.IsZero() {
			writeServiceError(w, s.logger, err)
			return
		}
		writeJSON(w, http.StatusBadGateway, report)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleSyncLast(w http.ResponseWriter, _ *http.Request) {
	if s.sync == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "ingestion is disabled")
		return
	}
	report, ok := s.sync.LastReport()
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "no cycle has run yet")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleSyncMessage(w http.ResponseWriter, r *http.Request) {
	if s.sync == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "ingestion is disabled")
		return
	}
	id := chi.URLParam(r, "id")
	writeJSON(w, http.StatusOK, map[string]any{
		"message_id": id,
		"ingested":   s.sync.IsIngested(id),
	})
}

func actorFrom(ctx context.Context) string {
	if p, ok := PrincipalFromContext(ctx); ok {
		return p.Actor()
	}
	return protocol.DefaultActor
}
