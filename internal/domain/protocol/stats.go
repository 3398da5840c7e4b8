package protocol

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Summarize computes dashboard totals over items. Only FINALIZED protocols
// contribute seconds and the average.
func Summarize(items []Protocol) Summary {
	var sum Summary
	pilots := make(map[string]struct{})
	for _, p := range items {
		sum.Total++
		pilots[strings.ToLower(p.Pilot)] = struct{}{}
		switch {
		case p.Status == StatusOpen:
			sum.Open++
		case p.Status.IsDurationBearing():
			sum.Finalized++
			sum.TotalSeconds += p.Duration
		case p.Status.IsNonCounting():
			sum.NonCounting++
		}
	}
	if sum.Finalized > 0 {
		sum.AverageSeconds = sum.TotalSeconds / int64(sum.Finalized)
	}
	sum.UniquePilots = len(pilots)
	return sum
}

// RankPilots sums FINALIZED seconds per pilot, highest first. A non-empty
// filter keeps pilots whose name contains it, ignoring case.
func RankPilots(items []Protocol, filter string) []PilotTotal {
	filter = strings.ToLower(strings.TrimSpace(filter))
	totals := make(map[string]*PilotTotal)
	var order []string
	for _, p := range items {
		if !p.Status.IsDurationBearing() {
			continue
		}
		if filter != "" && !strings.Contains(strings.ToLower(p.Pilot), filter) {
			continue
		}
		t, ok := totals[p.Pilot]
		if !ok {
			t = &PilotTotal{Pilot: p.Pilot}
			totals[p.Pilot] = t
			order = append(order, p.Pilot)
		}
		t.Seconds += p.Duration
		t.Protocols++
	}

	ranking := make([]PilotTotal, 0, len(order))
	for _, name := range order {
		ranking = append(ranking, *totals[name])
	}
	sort.SliceStable(ranking, func(i, j int) bool {
		if ranking[i].Seconds != ranking[j].Seconds {
			return ranking[i].Seconds > ranking[j].Seconds
		}
		return ranking[i].Pilot < ranking[j].Pilot
	})
	return ranking
}

// Summary returns totals over every stored protocol.
func (s *Service) Summary(ctx context.Context) (Summary, error) {
	items, err := s.protocols.List(ctx, ListOptions{})
	if err != nil {
		return Summary{}, fmt.Errorf("listing protocols: %w", err)
	}
	return Summarize(items), nil
}

// Ranking returns the pilot ranking over finalized protocols.
func (s *Service) Ranking(ctx context.Context, filter string) ([]PilotTotal, error) {
	items, err := s.protocols.List(ctx, ListOptions{Statuses: []Status{StatusFinalized}})
	if err != nil {
		return nil, fmt.Errorf("listing finalized protocols: %w", err)
	}
	return RankPilots(items, filter), nil
}
