package audit

import "time"

// Action is the kind of change an audit entry records
type Action string

const (
	ActionCreate   Action = "CREATE"
	ActionUpdate   Action = "UPDATE"
	ActionFinalize Action = "FINALIZE"
	ActionDelete   Action = "DELETE"
)

// Entry is an immutable row of the protocol audit trail
type Entry struct {
	ID         int64     `json:"id"`
	ProtocolID string    `json:"protocol_id"`
	Action     Action    `json:"action"`
	Actor      string    `json:"actor"`
	CreatedAt  time.Time `json:"created_at"`
	Payload    string    `json:"payload,omitempty"` // JSON snapshot
}
