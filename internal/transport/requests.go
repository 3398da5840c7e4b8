package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rpggio/dutylog/internal/domain/protocol"
)

const (
	maxBodyBytes          = 1 << 20
	defaultStaleThreshold = 12 * time.Hour
)

// protocolBody is the JSON accepted by create and update.
type protocolBody struct {
	Pilot   string  `json:"pilot"`
	Vehicle string  `json:"vehicle"`
	Date    string  `json:"date"`
	Start   string  `json:"start"`
	End     *string `json:"end"`
	Link    *string `json:"link"`
	Status  string  `json:"status"`
}

type finalizeBody struct {
	End    *string `json:"end"`
	Status string  `json:"status"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: malformed request body: %v", protocol.ErrValidation, err)
	}
	return nil
}

func (b protocolBody) schedule() (civil.Date, *civil.Time, *civil.Time, error) {
	date, err := protocol.ParseDate(b.Date)
	if err != nil {
		return civil.Date{}, nil, nil, err
	}
	var start *civil.Time
	if strings.TrimSpace(b.Start) != "" {
		t, err := protocol.ParseClock(b.Start)
		if err != nil {
			return civil.Date{}, nil, nil, err
		}
		start = &t
	}
	end, err := optionalClock(b.End)
	if err != nil {
		return civil.Date{}, nil, nil, err
	}
	return date, start, end, nil
}

func (b protocolBody) createRequest(actor string) (protocol.CreateRequest, error) {
	date, start, end, err := b.schedule()
	if err != nil {
		return protocol.CreateRequest{}, err
	}
	status, err := optionalStatus(b.Status)
	if err != nil {
		return protocol.CreateRequest{}, err
	}
	return protocol.CreateRequest{
		Pilot:   b.Pilot,
		Vehicle: b.Vehicle,
		Date:    date,
		Start:   start,
		End:     end,
		Link:    b.Link,
		Status:  status,
		Actor:   actor,
	}, nil
}

func (b protocolBody) updateRequest(id, actor string) (protocol.UpdateRequest, error) {
	date, start, end, err := b.schedule()
	if err != nil {
		return protocol.UpdateRequest{}, err
	}
	status, err := optionalStatus(b.Status)
	if err != nil {
		return protocol.UpdateRequest{}, err
	}
	return protocol.UpdateRequest{
		ID:      id,
		Pilot:   b.Pilot,
		Vehicle: b.Vehicle,
		Date:    date,
		Start:   start,
		End:     end,
		Link:    b.Link,
		Status:  status,
		Actor:   actor,
	}, nil
}

func (b finalizeBody) finalizeRequest(id, actor string) (protocol.FinalizeRequest, error) {
	end, err := optionalClock(b.End)
	if err != nil {
		return protocol.FinalizeRequest{}, err
	}
	status, err := optionalStatus(b.Status)
	if err != nil {
		return protocol.FinalizeRequest{}, err
	}
	return protocol.FinalizeRequest{ID: id, End: end, Status: status, Actor: actor}, nil
}

func optionalClock(v *string) (*civil.Time, error) {
	if v == nil || strings.TrimSpace(*v) == "" {
		return nil, nil
	}
	t, err := protocol.ParseClock(*v)
	if err != nil {
		return nil, protocol.ErrInvalidEnd
	}
	return &t, nil
}

func optionalStatus(v string) (protocol.Status, error) {
	if strings.TrimSpace(v) == "" {
		return "", nil
	}
	return protocol.ParseStatus(v)
}

func parseListQuery(q url.Values) (protocol.ListOptions, error) {
	var opts protocol.ListOptions
	for _, raw := range q["status"] {
		for _, name := range strings.Split(raw, ",") {
			if strings.TrimSpace(name) == "" {
				continue
			}
			st, err := protocol.ParseStatus(name)
			if err != nil {
				return protocol.ListOptions{}, err
			}
			opts.Statuses = append(opts.Statuses, st)
		}
	}
	opts.Pilot = strings.TrimSpace(q.Get("pilot"))

	for key, dst := range map[string]**civil.Date{"from": &opts.From, "to": &opts.To} {
		if v := q.Get(key); v != "" {
			d, err := protocol.ParseDate(v)
			if err != nil {
				return protocol.ListOptions{}, err
			}
			*dst = &d
		}
	}

	var err error
	if opts.Limit, err = parseIntParam(q, "limit"); err != nil {
		return protocol.ListOptions{}, err
	}
	if opts.Offset, err = parseIntParam(q, "offset"); err != nil {
		return protocol.ListOptions{}, err
	}
	return opts, nil
}

func parseIntParam(q url.Values, key string) (int, error) {
	v := q.Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", protocol.ErrValidation, key)
	}
	return n, nil
}

// parseThreshold reads a Go duration such as "12h" or "90m".
func parseThreshold(v string) (time.Duration, error) {
	if v == "" {
		return defaultStaleThreshold, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%w: older_than must be a non-negative duration", protocol.ErrValidation)
	}
	return d, nil
}
