package protocol

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state of a protocol.
type Status string

const (
	StatusOpen             Status = "OPEN"
	StatusFinalized        Status = "FINALIZED"
	StatusWarning          Status = "WARNING"
	StatusNotParticipating Status = "NOT_PARTICIPATING"
	StatusInactive         Status = "INACTIVE"
)

// Statuses lists every known status, OPEN first.
var Statuses = []Status{
	StatusOpen,
	StatusFinalized,
	StatusWarning,
	StatusNotParticipating,
	StatusInactive,
}

// Names used by the dashboard and the reporting bot.
var statusAliases = map[string]Status{
	"ABERTO":            StatusOpen,
	"FINALIZADO":        StatusFinalized,
	"ADVERTENCIA":       StatusWarning,
	"ADVERTÊNCIA":       StatusWarning,
	"NAO PARTICIPANDO":  StatusNotParticipating,
	"NÃO PARTICIPANDO":  StatusNotParticipating,
	"NOT PARTICIPATING": StatusNotParticipating,
	"INATIVO":           StatusInactive,
}

// ParseStatus resolves a status name case-insensitively. Canonical names and
// the Portuguese labels are accepted.
func ParseStatus(name string) (Status, error) {
	key := strings.ToUpper(strings.TrimSpace(name))
	if key == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidStatus)
	}
	if s := Status(key); s.Valid() {
		return s, nil
	}
	if s, ok := statusAliases[key]; ok {
		return s, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, name)
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusFinalized, StatusWarning, StatusNotParticipating, StatusInactive:
		return true
	}
	return false
}

// IsDurationBearing reports whether protocols in this status accumulate time.
func (s Status) IsDurationBearing() bool {
	return s == StatusFinalized
}

// IsTerminal reports whether s is a closed status. OPEN is the only
// non-terminal status.
func (s Status) IsTerminal() bool {
	return s.Valid() && s != StatusOpen
}

// IsNonCounting reports whether s is terminal but never carries a duration.
func (s Status) IsNonCounting() bool {
	return s.IsTerminal() && !s.IsDurationBearing()
}

func (s Status) String() string {
	return string(s)
}
