package ingest

import (
	"strconv"

	"cloud.google.com/go/civil"
	"github.com/rpggio/dutylog/internal/domain/protocol"
)

// Candidate holds the fields recovered from a message before validation.
type Candidate struct {
	MessageID       string
	Number          string
	Date            *civil.Date
	Start           *civil.Time
	End             *civil.Time
	Pilot           string
	Vehicle         string
	Status          protocol.Status
	DurationSeconds int64
	Link            *string

	// EndDefaulted is set when a finalized message carried no end time and
	// the start time was copied into End.
	EndDefaulted bool
}

// Complete reports whether the mandatory fields were recovered.
func (c *Candidate) Complete() bool {
	return c.Date != nil && c.Start != nil && c.Pilot != "" && c.Vehicle != ""
}

// Request converts the candidate into an engine create request. An empty
// vehicle falls back to defaultVehicle.
func (c *Candidate) Request(defaultVehicle, actor string) protocol.CreateRequest {
	vehicle := c.Vehicle
	if vehicle == "" {
		vehicle = defaultVehicle
	}

	req := protocol.CreateRequest{
		Pilot:   c.Pilot,
		Vehicle: vehicle,
		Start:   c.Start,
		End:     c.End,
		Link:    c.Link,
		Status:  c.Status,
		Actor:   actor,
		Meta:    map[string]string{"source_message_id": c.MessageID},
	}
	if c.Date != nil {
		req.Date = *c.Date
	}
	if c.Number != "" {
		req.Meta["protocol_number"] = c.Number
	}
	if c.DurationSeconds > 0 {
		req.Meta["reported_duration_seconds"] = strconv.FormatInt(c.DurationSeconds, 10)
	}
	if c.EndDefaulted {
		req.Meta["end_defaulted"] = "true"
	}
	return req
}
