package escalation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rpggio/dutylog/internal/domain/protocol"
)

// Actor is recorded on protocols closed by the sweeper.
const Actor = "system:escalation"

// Engine is the part of the protocol service the sweeper uses.
type Engine interface {
	ListOpenOlderThan(ctx context.Context, threshold time.Duration) ([]protocol.Protocol, error)
	Finalize(ctx context.Context, req protocol.FinalizeRequest) (*protocol.Protocol, error)
}

// Config holds sweeper settings.
type Config struct {
	Interval  time.Duration
	Threshold time.Duration
	AutoWarn  bool
}

// Result describes one sweep.
type Result struct {
	Stale  []protocol.Protocol
	Warned int
}

// Sweeper periodically reports protocols left OPEN for too long and can close
// them as WARNING.
type Sweeper struct {
	engine Engine
	cfg    Config
	logger *slog.Logger
}

// NewSweeper creates a Sweeper.
func NewSweeper(engine Engine, cfg Config, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 12 * time.Hour
	}
	return &Sweeper{engine: engine, cfg: cfg, logger: logger.With("component", "escalation")}
}

// Run sweeps on every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("escalation sweep failed", "error", err)
			}
		}
	}
}

// Sweep runs a single pass.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	stale, err := s.engine.ListOpenOlderThan(ctx, s.cfg.Threshold)
	if err != nil {
		return Result{}, err
	}

	res := Result{Stale: stale}
	for _, p := range stale {
		s.logger.Warn("protocol open past threshold",
			"protocol_id", p.ID,
			"pilot", p.Pilot,
			"date", p.Date.String(),
			"start", p.Start.String(),
			"threshold", s.cfg.Threshold,
		)
		if !s.cfg.AutoWarn {
			continue
		}

		_, err := s.engine.Finalize(ctx, protocol.FinalizeRequest{
			ID:     p.ID,
			Status: protocol.StatusWarning,
			Actor:  Actor,
		})
		switch {
		case err == nil:
			res.Warned++
		case errors.Is(err, protocol.ErrConflict), errors.Is(err, protocol.ErrNotFound):
			s.logger.Debug("protocol changed before escalation", "protocol_id", p.ID, "error", err)
		default:
			s.logger.Error("escalating protocol failed", "protocol_id", p.ID, "error", err)
		}
	}
	return res, nil
}
