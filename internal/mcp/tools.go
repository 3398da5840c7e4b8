package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dustin/go-humanize"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rpggio/dutylog/internal/domain/protocol"
)

const defaultStaleThreshold = 12 * time.Hour

type toolHandlers struct {
	protocols ProtocolService
	audit     AuditService
	now       func() time.Time
}

func newToolHandlers(s Services) *toolHandlers {
	return &toolHandlers{protocols: s.Protocols, audit: s.Audit, now: time.Now}
}

func registerTools(server *sdkmcp.Server, h *toolHandlers) {
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "list_protocols",
		Description: "List protocols, newest date first, optionally filtered by status, pilot and date range",
	}, h.listProtocols)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "get_protocol",
		Description: "Get one protocol by id",
	}, h.getProtocol)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "create_protocol",
		Description: "Record a duty protocol. Status defaults to FINALIZED, which requires an end time; use OPEN for a running shift",
	}, h.createProtocol)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "finalize_protocol",
		Description: "Close an OPEN protocol with an end time. Fails with NOT_OPEN on closed protocols",
	}, h.finalizeProtocol)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "protocol_history",
		Description: "Audit trail of one protocol, newest first",
	}, h.protocolHistory)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "stale_protocols",
		Description: "OPEN protocols that started longer ago than older_than (default 12h), oldest first",
	}, h.staleProtocols)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "pilot_ranking",
		Description: "Pilots ranked by finalized seconds, optionally filtered by a name fragment",
	}, h.pilotRanking)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "protocol_summary",
		Description: "Totals across all protocols: counts per status group, seconds, average and unique pilots",
	}, h.protocolSummary)
}

type protocolView struct {
	ID              string `json:"id"`
	Pilot           string `json:"pilot"`
	Vehicle         string `json:"vehicle"`
	Date            string `json:"date"`
	Start           string `json:"start"`
	End             string `json:"end,omitempty"`
	Link            string `json:"link,omitempty"`
	Status          string `json:"status"`
	DurationSeconds int64  `json:"duration_seconds"`
	Duration        string `json:"duration"`
	Revision        int64  `json:"revision"`
	Updated         string `json:"updated"`
}

func (h *toolHandlers) view(p protocol.Protocol) protocolView {
	v := protocolView{
		ID:              p.ID,
		Pilot:           p.Pilot,
		Vehicle:         p.Vehicle,
		Date:            p.Date.String(),
		Start:           p.Start.String(),
		Status:          string(p.Status),
		DurationSeconds: p.Duration,
		Duration:        (time.Duration(p.Duration) * time.Second).String(),
		Revision:        p.Revision,
		Updated:         humanize.RelTime(p.UpdatedAt, h.now(), "ago", "from now"),
	}
	if p.End != nil {
		v.End = p.End.String()
	}
	if p.Link != nil {
		v.Link = *p.Link
	}
	return v
}

func (h *toolHandlers) views(items []protocol.Protocol) []protocolView {
	out := make([]protocolView, 0, len(items))
	for _, p := range items {
		out = append(out, h.view(p))
	}
	return out
}

type listInput struct {
	Statuses []string `json:"statuses,omitempty" jsonschema:"status names to include, e.g. OPEN or FINALIZED"`
	Pilot    string   `json:"pilot,omitempty" jsonschema:"exact pilot name, case-insensitive"`
	From     string   `json:"from,omitempty" jsonschema:"earliest date, YYYY-MM-DD"`
	To       string   `json:"to,omitempty" jsonschema:"latest date, YYYY-MM-DD"`
	Limit    int      `json:"limit,omitempty" jsonschema:"maximum number of results"`
	Offset   int      `json:"offset,omitempty" jsonschema:"offset for pagination"`
}

type listOutput struct {
	Protocols []protocolView `json:"protocols"`
}

func (h *toolHandlers) listProtocols(ctx context.Context, _ *sdkmcp.CallToolRequest, in listInput) (*sdkmcp.CallToolResult, listOutput, error) {
	opts := protocol.ListOptions{Pilot: in.Pilot, Limit: in.Limit, Offset: in.Offset}
	for _, name := range in.Statuses {
		st, err := protocol.ParseStatus(name)
		if err != nil {
			return nil, listOutput{}, MapError(err)
		}
		opts.Statuses = append(opts.Statuses, st)
	}
	var err error
	if opts.From, err = optionalDate(in.From); err != nil {
		return nil, listOutput{}, MapError(err)
	}
	if opts.To, err = optionalDate(in.To); err != nil {
		return nil, listOutput{}, MapError(err)
	}

	items, err := h.protocols.List(ctx, opts)
	if err != nil {
		return nil, listOutput{}, MapError(err)
	}
	return nil, listOutput{Protocols: h.views(items)}, nil
}

type getInput struct {
	ID string `json:"id" jsonschema:"protocol id"`
}

type protocolOutput struct {
	Protocol protocolView `json:"protocol"`
}

func (h *toolHandlers) getProtocol(ctx context.Context, _ *sdkmcp.CallToolRequest, in getInput) (*sdkmcp.CallToolResult, protocolOutput, error) {
	p, err := h.protocols.Get(ctx, in.ID)
	if err != nil {
		return nil, protocolOutput{}, MapError(err)
	}
	return nil, protocolOutput{Protocol: h.view(*p)}, nil
}

type createInput struct {
	Pilot   string `json:"pilot" jsonschema:"pilot name or id"`
	Vehicle string `json:"vehicle" jsonschema:"vehicle name"`
	Date    string `json:"date" jsonschema:"shift date, YYYY-MM-DD"`
	Start   string `json:"start" jsonschema:"start time, HH:MM or HH:MM:SS"`
	End     string `json:"end,omitempty" jsonschema:"end time; earlier than start means the next day"`
	Link    string `json:"link,omitempty" jsonschema:"evidence URL"`
	Status  string `json:"status,omitempty" jsonschema:"initial status, default FINALIZED"`
}

func (h *toolHandlers) createProtocol(ctx context.Context, _ *sdkmcp.CallToolRequest, in createInput) (*sdkmcp.CallToolResult, protocolOutput, error) {
	date, err := protocol.ParseDate(in.Date)
	if err != nil {
		return nil, protocolOutput{}, MapError(err)
	}
	req := protocol.CreateRequest{
		Pilot:   in.Pilot,
		Vehicle: in.Vehicle,
		Date:    date,
		Actor:   actorFor(ctx),
	}
	if strings.TrimSpace(in.Start) != "" {
		start, err := protocol.ParseClock(in.Start)
		if err != nil {
			return nil, protocolOutput{}, MapError(err)
		}
		req.Start = &start
	}
	if req.End, err = optionalClock(in.End); err != nil {
		return nil, protocolOutput{}, MapError(err)
	}
	if link := strings.TrimSpace(in.Link); link != "" {
		req.Link = &link
	}
	if in.Status != "" {
		if req.Status, err = protocol.ParseStatus(in.Status); err != nil {
			return nil, protocolOutput{}, MapError(err)
		}
	}

	p, err := h.protocols.Create(ctx, req)
	if err != nil {
		return nil, protocolOutput{}, MapError(err)
	}
	return nil, protocolOutput{Protocol: h.view(*p)}, nil
}

type finalizeInput struct {
	ID     string `json:"id" jsonschema:"protocol id"`
	End    string `json:"end,omitempty" jsonschema:"end time, required for FINALIZED"`
	Status string `json:"status,omitempty" jsonschema:"closing status, default FINALIZED"`
}

func (h *toolHandlers) finalizeProtocol(ctx context.Context, _ *sdkmcp.CallToolRequest, in finalizeInput) (*sdkmcp.CallToolResult, protocolOutput, error) {
	req := protocol.FinalizeRequest{ID: in.ID, Actor: actorFor(ctx)}
	var err error
	if req.End, err = optionalClock(in.End); err != nil {
		return nil, protocolOutput{}, MapError(err)
	}
	if in.Status != "" {
		if req.Status, err = protocol.ParseStatus(in.Status); err != nil {
			return nil, protocolOutput{}, MapError(err)
		}
	}

	p, err := h.protocols.Finalize(ctx, req)
	if err != nil {
		return nil, protocolOutput{}, MapError(err)
	}
	return nil, protocolOutput{Protocol: h.view(*p)}, nil
}

type historyInput struct {
	ID    string `json:"id" jsonschema:"protocol id"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of entries"`
}

type entryView struct {
	ID      int64  `json:"id"`
	Action  string `json:"action"`
	Actor   string `json:"actor"`
	At      string `json:"at"`
	Payload string `json:"payload,omitempty"`
}

type historyOutput struct {
	Entries []entryView `json:"entries"`
}

func (h *toolHandlers) protocolHistory(ctx context.Context, _ *sdkmcp.CallToolRequest, in historyInput) (*sdkmcp.CallToolResult, historyOutput, error) {
	entries, err := h.audit.History(ctx, in.ID, in.Limit)
	if err != nil {
		return nil, historyOutput{}, MapError(err)
	}
	out := historyOutput{Entries: make([]entryView, 0, len(entries))}
	for _, e := range entries {
		out.Entries = append(out.Entries, entryView{
			ID:      e.ID,
			Action:  string(e.Action),
			Actor:   e.Actor,
			At:      e.CreatedAt.UTC().Format(time.RFC3339),
			Payload: e.Payload,
		})
	}
	return nil, out, nil
}

type staleInput struct {
	OlderThan string `json:"older_than,omitempty" jsonschema:"Go duration such as 12h or 90m"`
}

type staleView struct {
	Protocol protocolView `json:"protocol"`
	OpenFor  string       `json:"open_for"`
}

type staleOutput struct {
	Threshold string      `json:"threshold"`
	Protocols []staleView `json:"protocols"`
}

func (h *toolHandlers) staleProtocols(ctx context.Context, _ *sdkmcp.CallToolRequest, in staleInput) (*sdkmcp.CallToolResult, staleOutput, error) {
	threshold := defaultStaleThreshold
	if in.OlderThan != "" {
		d, err := time.ParseDuration(in.OlderThan)
		if err != nil || d < 0 {
			return nil, staleOutput{}, MapError(fmt.Errorf("%w: older_than must be a duration such as 12h", protocol.ErrValidation))
		}
		threshold = d
	}

	items, err := h.protocols.ListOpenOlderThan(ctx, threshold)
	if err != nil {
		return nil, staleOutput{}, MapError(err)
	}
	now, loc := h.now(), h.protocols.Location()
	out := staleOutput{Threshold: threshold.String(), Protocols: make([]staleView, 0, len(items))}
	for _, p := range items {
		out.Protocols = append(out.Protocols, staleView{
			Protocol: h.view(p),
			OpenFor:  strings.TrimSpace(humanize.RelTime(p.StartedAt(loc), now, "", "")),
		})
	}
	return nil, out, nil
}

type rankingInput struct {
	Search string `json:"search,omitempty" jsonschema:"case-insensitive pilot name fragment"`
}

type rankView struct {
	Position  int    `json:"position"`
	Pilot     string `json:"pilot"`
	Seconds   int64  `json:"seconds"`
	Duration  string `json:"duration"`
	Protocols int    `json:"protocols"`
}

type rankingOutput struct {
	Pilots []rankView `json:"pilots"`
}

func (h *toolHandlers) pilotRanking(ctx context.Context, _ *sdkmcp.CallToolRequest, in rankingInput) (*sdkmcp.CallToolResult, rankingOutput, error) {
	ranking, err := h.protocols.Ranking(ctx, in.Search)
	if err != nil {
		return nil, rankingOutput{}, MapError(err)
	}
	out := rankingOutput{Pilots: make([]rankView, 0, len(ranking))}
	for i, r := range ranking {
		out.Pilots = append(out.Pilots, rankView{
			Position:  i + 1,
			Pilot:     r.Pilot,
			Seconds:   r.Seconds,
			Duration:  (time.Duration(r.Seconds) * time.Second).String(),
			Protocols: r.Protocols,
		})
	}
	return nil, out, nil
}

type summaryInput struct{}

type summaryOutput struct {
	Summary protocol.Summary `json:"summary"`
	Hours   string           `json:"hours"`
}

func (h *toolHandlers) protocolSummary(ctx context.Context, _ *sdkmcp.CallToolRequest, _ summaryInput) (*sdkmcp.CallToolResult, summaryOutput, error) {
	sum, err := h.protocols.Summary(ctx)
	if err != nil {
		return nil, summaryOutput{}, MapError(err)
	}
	hours := float64(sum.TotalSeconds) / 3600
	return nil, summaryOutput{Summary: sum, Hours: humanize.FormatFloat("#,###.##", hours)}, nil
}

func optionalDate(v string) (*civil.Date, error) {
	if strings.TrimSpace(v) == "" {
		return nil, nil
	}
	d, err := protocol.ParseDate(v)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func optionalClock(v string) (*civil.Time, error) {
	if strings.TrimSpace(v) == "" {
		return nil, nil
	}
	t, err := protocol.ParseClock(v)
	if err != nil {
		return nil, protocol.ErrInvalidEnd
	}
	return &t, nil
}
