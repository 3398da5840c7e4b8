package audit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Service exposes read access to the audit trail. Writes belong to the
// protocol engine.
type Service struct {
	repo   Repository
	logger *slog.Logger
}

// NewService creates a new audit service.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{repo: repo, logger: logger}
}

// History returns the entries for one protocol, newest first.
func (s *Service) History(ctx context.Context, protocolID string, limit int) ([]Entry, error) {
	if strings.TrimSpace(protocolID) == "" {
		return nil, ErrInvalidInput
	}
	entries, err := s.repo.List(ctx, ListOptions{ProtocolID: protocolID, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("listing audit history: %w", err)
	}
	return entries, nil
}

// Recent lists audit entries with filtering.
func (s *Service) Recent(ctx context.Context, opts ListOptions) ([]Entry, error) {
	if opts.Limit < 0 || opts.Offset < 0 {
		return nil, ErrInvalidInput
	}
	return s.repo.List(ctx, opts)
}
