package history

import (
	"context"
	"time"

	"github.com/tbnorth/tattle/internal/heartbeat"
)

// Event is one accepted heartbeat report mirrored to an external system for
// long-term analytics. Mirroring is best-effort and never blocks ingestion
// correctness; the store remains the source of truth.
type Event struct {
	OccurredAt time.Time       `json:"occurred_at"`
	Entry      heartbeat.Entry `json:"entry"`
}

// Sink is a destination for mirrored reports. Implementations must be safe
// for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
