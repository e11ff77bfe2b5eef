package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/tbnorth/tattle/internal/heartbeat"
	"github.com/tbnorth/tattle/internal/metrics"
)

// ExpireDefers removes stale suppressions and returns the ones still active.
// Per process the minimum declared TTL governs: once it has elapsed, every
// DEFER row for that process is purged together, so a later, shorter DEFER is
// never blocked by an earlier long one. Processes are handled independently;
// a failure on one loses no purges already committed for others.
func (m *Monitor) ExpireDefers(ctx context.Context) ([]heartbeat.DeferEntry, error) {
	defers, err := m.st.Defers(ctx)
	if err != nil {
		return nil, fmt.Errorf("load defers: %w", err)
	}
	if len(defers) == 0 {
		return nil, nil
	}
	now := m.now().UTC()

	governing := make(map[string]heartbeat.DeferEntry)
	for _, d := range defers {
		g, ok := governing[d.Tag]
		if !ok || d.TTLHours < g.TTLHours ||
			(d.TTLHours == g.TTLHours && d.Timestamp.Before(g.Timestamp)) {
			governing[d.Tag] = d
		}
	}

	expired := make(map[string]bool)
	for tag, g := range governing {
		if now.Sub(g.Timestamp) > time.Duration(g.TTLHours*float64(time.Hour)) {
			n, err := m.st.PurgeDefers(ctx, tag)
			if err != nil {
				return nil, fmt.Errorf("purge defers for %s: %w", tag, err)
			}
			expired[tag] = true
			metrics.AddDeferPurged(n)
			m.logger.Info("defer expired, suppression purged", "tag", tag, "rows", n)
		}
	}

	remaining := defers[:0]
	for _, d := range defers {
		if !expired[d.Tag] {
			remaining = append(remaining, d)
		}
	}
	return remaining, nil
}
