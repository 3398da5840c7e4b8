package audit

import "context"

// Repository provides persistence operations for audit entries.
type Repository interface {
	Append(ctx context.Context, entry *Entry) error
	List(ctx context.Context, opts ListOptions) ([]Entry, error)
}
