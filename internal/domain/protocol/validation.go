package protocol

import (
	"net/url"
	"strings"

	"cloud.google.com/go/civil"
)

// ValidateSchedule checks the date and start time shared by every write.
func ValidateSchedule(date civil.Date, start *civil.Time) error {
	if !date.IsValid() {
		return ErrInvalidDate
	}
	if start == nil || !start.IsValid() {
		return ErrInvalidStart
	}
	return nil
}

// ValidateStatusChange checks a status change requested through an update.
// Only finalize moves a protocol out of OPEN, and closed protocols stay closed.
func ValidateStatusChange(from, to Status) error {
	if from == to {
		return nil
	}
	if !to.Valid() {
		return ErrInvalidStatus
	}
	if from.IsTerminal() && to == StatusOpen {
		return ErrReopen
	}
	return ErrInvalidTransition
}

// ResolveTiming derives the stored end time and duration for a status.
// OPEN keeps no end, non-counting statuses keep the given end with a zero
// duration, and FINALIZED requires an end that yields a positive duration.
func ResolveTiming(status Status, date civil.Date, start civil.Time, end *civil.Time) (*civil.Time, int64, error) {
	if end != nil && !end.IsValid() {
		return nil, 0, ErrInvalidEnd
	}
	switch {
	case status == StatusOpen:
		return nil, 0, nil
	case status.IsNonCounting():
		return end, 0, nil
	case status.IsDurationBearing():
		if end == nil {
			return nil, 0, ErrEndRequired
		}
		seconds := Duration(date, start, *end)
		if seconds <= 0 {
			return nil, 0, ErrNonPositiveDuration
		}
		return end, seconds, nil
	default:
		return nil, 0, ErrInvalidStatus
	}
}

func normalizeIdentity(value string, missing error) (string, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return "", missing
	}
	return v, nil
}

func normalizeLink(link *string) (*string, error) {
	if link == nil {
		return nil, nil
	}
	v := strings.TrimSpace(*link)
	if v == "" {
		return nil, nil
	}
	u, err := url.ParseRequestURI(v)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, ErrInvalidLink
	}
	return &v, nil
}
