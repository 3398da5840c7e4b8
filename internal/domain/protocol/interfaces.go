package protocol

import (
	"context"
	"time"

	"github.com/rpggio/dutylog/internal/domain/audit"
)

// Repository provides persistence for protocols.
type Repository interface {
	Create(ctx context.Context, p *Protocol) error
	Get(ctx context.Context, id string) (*Protocol, error)
	Update(ctx context.Context, p *Protocol, expectedRevision int64) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, opts ListOptions) ([]Protocol, error)
}

// AuditRepository appends audit entries.
type AuditRepository interface {
	Append(ctx context.Context, entry *audit.Entry) error
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }
