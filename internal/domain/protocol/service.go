package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/rpggio/dutylog/internal/domain/audit"
	"github.com/rpggio/dutylog/internal/repository"
)

// DefaultActor is recorded when a caller does not identify itself.
const DefaultActor = "api"

// Service is the protocol lifecycle engine.
type Service struct {
	protocols Repository
	audits    AuditRepository
	logger    *slog.Logger
	clock     Clock
	loc       *time.Location
	vehicle   string
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the clock used for timestamps and staleness checks.
func WithClock(c Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLocation sets the location protocol dates and times are read in.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithVehicle restricts protocols to a single vehicle. Empty allows any.
func WithVehicle(name string) Option {
	return func(s *Service) {
		s.vehicle = strings.TrimSpace(name)
	}
}

// NewService creates a new protocol service.
func NewService(protocols Repository, audits AuditRepository, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Service{
		protocols: protocols,
		audits:    audits,
		logger:    logger,
		clock:     SystemClock(),
		loc:       time.UTC,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Vehicle returns the configured vehicle restriction, empty when unrestricted.
func (s *Service) Vehicle() string { return s.vehicle }

// Location returns the location protocol times are interpreted in.
func (s *Service) Location() *time.Location { return s.loc }

// CreateRequest describes a new protocol. A nil Start is a missing start time;
// midnight is a valid start.
type CreateRequest struct {
	Pilot   string
	Vehicle string
	Date    civil.Date
	Start   *civil.Time
	End     *civil.Time
	Link    *string
	Status  Status
	Actor   string
	Meta    map[string]string
}

// UpdateRequest replaces the editable fields of a protocol. An empty Status
// keeps the current one.
type UpdateRequest struct {
	ID      string
	Pilot   string
	Vehicle string
	Date    civil.Date
	Start   *civil.Time
	End     *civil.Time
	Link    *string
	Status  Status
	Actor   string
}

// FinalizeRequest closes an OPEN protocol. An empty Status means FINALIZED.
type FinalizeRequest struct {
	ID     string
	End    *civil.Time
	Status Status
	Actor  string
}

// DeleteRequest removes a protocol. ActorRole is recorded in the audit trail;
// the privilege check belongs to the caller.
type DeleteRequest struct {
	ID        string
	Actor     string
	ActorRole string
}

// Create validates and stores a new protocol.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Protocol, error) {
	pilot, vehicle, err := s.validateIdentity(req.Pilot, req.Vehicle)
	if err != nil {
		return nil, err
	}
	if err := ValidateSchedule(req.Date, req.Start); err != nil {
		return nil, err
	}

	status := req.Status
	if status == "" {
		status = StatusFinalized
	}
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}

	end, seconds, err := ResolveTiming(status, req.Date, *req.Start, req.End)
	if err != nil {
		return nil, err
	}
	link, err := normalizeLink(req.Link)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	p := &Protocol{
		ID:        uuid.NewString(),
		Pilot:     pilot,
		Vehicle:   vehicle,
		Date:      req.Date,
		Start:     *req.Start,
		End:       end,
		Link:      link,
		Status:    status,
		Duration:  seconds,
		Revision:  1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.protocols.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("creating protocol: %w", err)
	}

	s.record(ctx, p, audit.ActionCreate, req.Actor, "", req.Meta)
	return p, nil
}

// Update replaces the editable fields of an existing protocol. Status changes
// are refused; use Finalize to close an OPEN protocol.
func (s *Service) Update(ctx context.Context, req UpdateRequest) (*Protocol, error) {
	if strings.TrimSpace(req.ID) == "" {
		return nil, ErrMissingID
	}
	current, err := s.Get(ctx, req.ID)
	if err != nil {
		return nil, err
	}

	status := current.Status
	if req.Status != "" {
		if err := ValidateStatusChange(current.Status, req.Status); err != nil {
			return nil, err
		}
	}

	pilot, vehicle, err := s.validateIdentity(req.Pilot, req.Vehicle)
	if err != nil {
		return nil, err
	}
	if err := ValidateSchedule(req.Date, req.Start); err != nil {
		return nil, err
	}
	end, seconds, err := ResolveTiming(status, req.Date, *req.Start, req.End)
	if err != nil {
		return nil, err
	}
	link, err := normalizeLink(req.Link)
	if err != nil {
		return nil, err
	}

	updated := *current
	updated.Pilot = pilot
	updated.Vehicle = vehicle
	updated.Date = req.Date
	updated.Start = *req.Start
	updated.End = end
	updated.Link = link
	updated.Duration = seconds

	if err := s.save(ctx, &updated, current.Revision); err != nil {
		return nil, err
	}

	s.record(ctx, &updated, audit.ActionUpdate, req.Actor, "", nil)
	return &updated, nil
}

// Finalize moves an OPEN protocol into a terminal status. Closed protocols
// are left untouched and ErrNotOpen is returned.
func (s *Service) Finalize(ctx context.Context, req FinalizeRequest) (*Protocol, error) {
	if strings.TrimSpace(req.ID) == "" {
		return nil, ErrMissingID
	}
	current, err := s.Get(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if current.Status != StatusOpen {
		return nil, ErrNotOpen
	}

	target := req.Status
	if target == "" {
		target = StatusFinalized
	}
	if !target.IsTerminal() {
		return nil, fmt.Errorf("%w: finalize target must be a closed status", ErrInvalidStatus)
	}

	end, seconds, err := ResolveTiming(target, current.Date, current.Start, req.End)
	if err != nil {
		return nil, err
	}

	updated := *current
	updated.Status = target
	updated.End = end
	updated.Duration = seconds

	if err := s.save(ctx, &updated, current.Revision); err != nil {
		return nil, err
	}

	s.record(ctx, &updated, audit.ActionFinalize, req.Actor, "", nil)
	return &updated, nil
}

// Delete permanently removes a protocol.
func (s *Service) Delete(ctx context.Context, req DeleteRequest) error {
	if strings.TrimSpace(req.ID) == "" {
		return ErrMissingID
	}
	current, err := s.Get(ctx, req.ID)
	if err != nil {
		return err
	}

	if err := s.protocols.Delete(ctx, req.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("deleting protocol: %w", err)
	}

	s.record(ctx, current, audit.ActionDelete, req.Actor, req.ActorRole, nil)
	return nil
}

// Get fetches a protocol by ID.
func (s *Service) Get(ctx context.Context, id string) (*Protocol, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrMissingID
	}
	p, err := s.protocols.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting protocol: %w", err)
	}
	return p, nil
}

// List returns protocols matching opts, newest date first.
func (s *Service) List(ctx context.Context, opts ListOptions) ([]Protocol, error) {
	if opts.Limit < 0 || opts.Offset < 0 {
		return nil, fmt.Errorf("%w: negative limit or offset", ErrValidation)
	}
	for _, st := range opts.Statuses {
		if !st.Valid() {
			return nil, ErrInvalidStatus
		}
	}
	items, err := s.protocols.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("listing protocols: %w", err)
	}
	return items, nil
}

// ListOpenOlderThan returns OPEN protocols that started more than threshold
// ago, oldest first.
func (s *Service) ListOpenOlderThan(ctx context.Context, threshold time.Duration) ([]Protocol, error) {
	if threshold < 0 {
		return nil, fmt.Errorf("%w: negative threshold", ErrValidation)
	}
	open, err := s.protocols.List(ctx, ListOptions{Statuses: []Status{StatusOpen}})
	if err != nil {
		return nil, fmt.Errorf("listing open protocols: %w", err)
	}

	now := s.clock.Now()
	stale := make([]Protocol, 0, len(open))
	for _, p := range open {
		if p.Status != StatusOpen {
			continue
		}
		if now.Sub(p.StartedAt(s.loc)) > threshold {
			stale = append(stale, p)
		}
	}
	sort.SliceStable(stale, func(i, j int) bool {
		return stale[i].StartedAt(s.loc).Before(stale[j].StartedAt(s.loc))
	})
	return stale, nil
}

func (s *Service) validateIdentity(pilot, vehicle string) (string, string, error) {
	p, err := normalizeIdentity(pilot, ErrMissingPilot)
	if err != nil {
		return "", "", err
	}
	v, err := normalizeIdentity(vehicle, ErrMissingVehicle)
	if err != nil {
		return "", "", err
	}
	if s.vehicle != "" && !strings.EqualFold(v, s.vehicle) {
		return "", "", fmt.Errorf("%w: %q", ErrVehicleNotAllowed, v)
	}
	if s.vehicle != "" {
		v = s.vehicle
	}
	return p, v, nil
}

func (s *Service) save(ctx context.Context, p *Protocol, expectedRevision int64) error {
	p.Revision = expectedRevision + 1
	p.UpdatedAt = s.clock.Now().UTC()
	if err := s.protocols.Update(ctx, p, expectedRevision); err != nil {
		switch {
		case errors.Is(err, repository.ErrConflict):
			return ErrConcurrentWrite
		case errors.Is(err, repository.ErrNotFound):
			return ErrNotFound
		}
		return fmt.Errorf("updating protocol: %w", err)
	}
	return nil
}

type auditPayload struct {
	Record *Protocol         `json:"record"`
	Role   string            `json:"role,omitempty"`
	Meta   map[string]string `json:"meta,omitempty"`
}

// record appends an audit entry. Failures are logged and never returned.
func (s *Service) record(ctx context.Context, p *Protocol, action audit.Action, actor, role string, meta map[string]string) {
	if s.audits == nil {
		return
	}
	if strings.TrimSpace(actor) == "" {
		actor = DefaultActor
	}

	payload, err := json.Marshal(auditPayload{Record: p, Role: role, Meta: meta})
	if err != nil {
		s.logger.Error("encoding audit payload", "protocol_id", p.ID, "action", action, "error", err)
		return
	}

	entry := &audit.Entry{
		ProtocolID: p.ID,
		Action:     action,
		Actor:      actor,
		CreatedAt:  s.clock.Now().UTC(),
		Payload:    string(payload),
	}
	if err := s.audits.Append(ctx, entry); err != nil {
		s.logger.Error("appending audit entry", "protocol_id", p.ID, "action", action, "error", err)
	}
}
