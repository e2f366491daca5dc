package audit

import (
	"context"

	"github.com/google/uuid"
)

// Repository manages audit entry persistence. The interface is append-only on
// purpose: there are no update or delete methods, which makes unsynchronized
// concurrent appends safe.
type Repository interface {
	Append(ctx context.Context, entry *Entry) error
	ListByEscrowID(ctx context.Context, escrowID uuid.UUID, limit, offset int) ([]*Entry, error)
	CountByEscrowID(ctx context.Context, escrowID uuid.UUID) (int64, error)
}
