package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rpggio/dutylog/internal/domain/protocol"
)

const (
	DefaultFetchLimit   = 10
	DefaultInterval     = time.Minute
	DefaultCycleTimeout = 30 * time.Second
	DefaultActor        = "sync:discord"
)

var (
	// ErrCycleInProgress is returned by RunOnce while another cycle runs.
	ErrCycleInProgress = errors.New("ingestion cycle already in progress")
	// ErrFetch wraps failures of the message source.
	ErrFetch = errors.New("fetching messages")
)

// Creator is the part of the protocol engine the synchronizer drives.
type Creator interface {
	Create(ctx context.Context, req protocol.CreateRequest) (*protocol.Protocol, error)
}

// Config holds synchronizer settings.
type Config struct {
	ChannelID      string
	ProducerID     string
	FetchLimit     int
	Interval       time.Duration
	CycleTimeout   time.Duration
	DefaultVehicle string
	Actor          string
}

func (c Config) withDefaults() Config {
	if c.FetchLimit <= 0 {
		c.FetchLimit = DefaultFetchLimit
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.CycleTimeout <= 0 {
		c.CycleTimeout = DefaultCycleTimeout
	}
	if c.Actor == "" {
		c.Actor = DefaultActor
	}
	return c
}

// CycleReport summarizes one ingestion cycle.
type CycleReport struct {
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Fetched    int           `json:"fetched"`
	Ignored    int           `json:"ignored"`
	Unparsed   int           `json:"unparsed"`
	Duplicates int           `json:"duplicates"`
	Created    int           `json:"created"`
	Failed     int           `json:"failed"`
	Error      string        `json:"error,omitempty"`
}

// Synchronizer polls a channel and turns the producer's messages into
// protocols. At most one cycle runs at a time.
type Synchronizer struct {
	source  Source
	parser  Parser
	engine  Creator
	ledger  Ledger
	cfg     Config
	logger  *slog.Logger
	clock   protocol.Clock
	running atomic.Bool

	mu   sync.Mutex
	last *CycleReport
}

// NewSynchronizer creates a Synchronizer.
func NewSynchronizer(source Source, parser Parser, engine Creator, ledger Ledger, cfg Config, logger *slog.Logger) *Synchronizer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Synchronizer{
		source: source,
		parser: parser,
		engine: engine,
		ledger: ledger,
		cfg:    cfg.withDefaults(),
		logger: logger.With("component", "sync"),
		clock:  protocol.SystemClock(),
	}
}

// WithClock replaces the clock used for reports.
func (s *Synchronizer) WithClock(c protocol.Clock) *Synchronizer {
	if c != nil {
		s.clock = c
	}
	return s
}

// Run executes a cycle immediately and then on every interval until ctx is
// done. Ticks that fire while a cycle is still running are skipped.
func (s *Synchronizer) Run(ctx context.Context) error {
	s.logger.Info("synchronizer started",
		"channel_id", s.cfg.ChannelID,
		"interval", s.cfg.Interval,
		"fetch_limit", s.cfg.FetchLimit,
	)

	var wg sync.WaitGroup
	defer wg.Wait()

	tick := func() {
		defer wg.Done()
		if _, err := s.RunOnce(ctx); errors.Is(err, ErrCycleInProgress) {
			s.logger.Warn("previous cycle still running, skipping tick")
		}
	}

	wg.Add(1)
	go tick()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("synchronizer stopped")
			return nil
		case <-ticker.C:
			wg.Add(1)
			go tick()
		}
	}
}

// RunOnce executes a single cycle. It returns ErrCycleInProgress without
// doing anything when a cycle is already running. Per-message failures are
// counted in the report, not returned.
func (s *Synchronizer) RunOnce(ctx context.Context) (CycleReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		return CycleReport{}, ErrCycleInProgress
	}
	defer s.running.Store(false)

	report := CycleReport{StartedAt: s.clock.Now()}
	err := s.guardedCycle(ctx, &report)
	report.Duration = s.clock.Now().Sub(report.StartedAt)
	if err != nil {
		report.Error = err.Error()
		s.logger.Error("ingestion cycle failed", "error", err)
	} else {
		s.logger.Info("ingestion cycle complete",
			"fetched", report.Fetched,
			"created", report.Created,
			"duplicates", report.Duplicates,
			"failed", report.Failed,
		)
	}

	s.mu.Lock()
	s.last = &report
	s.mu.Unlock()

	return report, err
}

// IsIngested reports whether the message was already turned into a protocol.
func (s *Synchronizer) IsIngested(messageID string) bool {
	return s.ledger.Seen(messageID)
}

// LastReport returns the most recent cycle report.
func (s *Synchronizer) LastReport() (CycleReport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return CycleReport{}, false
	}
	return *s.last, true
}

// Busy reports whether a cycle is running.
func (s *Synchronizer) Busy() bool {
	return s.running.Load()
}

func (s *Synchronizer) guardedCycle(ctx context.Context, report *CycleReport) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("ingestion cycle panicked: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.CycleTimeout)
	defer cancel()

	return s.cycle(ctx, report)
}

func (s *Synchronizer) cycle(ctx context.Context, report *CycleReport) error {
	messages, err := s.source.FetchRecent(ctx, s.cfg.ChannelID, s.cfg.FetchLimit)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFetch, err)
	}
	report.Fetched = len(messages)

	for _, msg := range messages {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("ingestion cycle interrupted: %w", err)
		}
		if msg.AuthorID != s.cfg.ProducerID {
			report.Ignored++
			continue
		}

		candidate, ok := s.parser.Extract(msg)
		if !ok {
			report.Unparsed++
			s.logger.Debug("message skipped, mandatory fields missing", "message_id", msg.ID)
			continue
		}

		if s.ledger.Seen(msg.ID) {
			report.Duplicates++
			continue
		}

		if candidate.EndDefaulted {
			s.logger.Warn("finalized message without end time, using start time", "message_id", msg.ID)
		}

		req := candidate.Request(s.cfg.DefaultVehicle, s.cfg.Actor)
		p, err := s.engine.Create(ctx, req)
		if err != nil {
			report.Failed++
			s.logger.Warn("creating protocol from message failed", "message_id", msg.ID, "error", err)
			continue
		}

		s.ledger.Mark(msg.ID)
		report.Created++
		s.logger.Info("protocol ingested", "message_id", msg.ID, "protocol_id", p.ID, "pilot", p.Pilot)
	}
	return nil
}
