package audit

import "time"

// ListOptions provides filtering options for listing audit entries.
type ListOptions struct {
	ProtocolID string
	Action     *Action
	Actor      string
	Since      *time.Time
	Limit      int
	Offset     int
}
