package protocol

import (
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

// Protocol is one logged duty session
type Protocol struct {
	ID        string      `json:"id"`
	Pilot     string      `json:"pilot"`
	Vehicle   string      `json:"vehicle"`
	Date      civil.Date  `json:"date"`
	Start     civil.Time  `json:"start"`
	End       *civil.Time `json:"end,omitempty"`
	Link      *string     `json:"link,omitempty"`
	Status    Status      `json:"status"`
	Duration  int64       `json:"duration"` // seconds, derived
	Revision  int64       `json:"revision"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// StartedAt returns the start instant of the protocol in loc.
func (p Protocol) StartedAt(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return civil.DateTime{Date: p.Date, Time: p.Start}.In(loc)
}

// Summary aggregates a set of protocols the way the dashboard shows them
type Summary struct {
	Total          int   `json:"total"`
	Open           int   `json:"open"`
	Finalized      int   `json:"finalized"`
	NonCounting    int   `json:"non_counting"`
	TotalSeconds   int64 `json:"total_seconds"`
	AverageSeconds int64 `json:"average_seconds"`
	UniquePilots   int   `json:"unique_pilots"`
}

// PilotTotal is one row of the pilot ranking
type PilotTotal struct {
	Pilot     string `json:"pilot"`
	Seconds   int64  `json:"seconds"`
	Protocols int    `json:"protocols"`
}

// ParseDate parses a YYYY-MM-DD calendar date.
func ParseDate(s string) (civil.Date, error) {
	d, err := civil.ParseDate(strings.TrimSpace(s))
	if err != nil {
		return civil.Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return d, nil
}

// ParseClock parses a time of day written as HH:MM or HH:MM:SS.
func ParseClock(s string) (civil.Time, error) {
	v := strings.TrimSpace(s)
	if strings.Count(v, ":") == 1 {
		v += ":00"
	}
	t, err := civil.ParseTime(v)
	if err != nil || !t.IsValid() {
		return civil.Time{}, fmt.Errorf("%w: invalid time of day %q", ErrValidation, s)
	}
	return t, nil
}
