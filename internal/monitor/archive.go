package monitor

import (
	"context"
	"fmt"

	"github.com/tbnorth/tattle/internal/metrics"
)

// ArchiveResult reports what a retention sweep moved.
type ArchiveResult struct {
	Moved map[string]int64 `json:"moved"` // per tag
	Total int64            `json:"total"`
}

// Archive moves all but the keep most recent log rows per process into the
// archive table and reclaims freed space. This is an administrative
// operation, not part of the request hot path. Each process is moved in its
// own transaction, so a mid-sweep failure returns the partial result with
// already-moved processes intact.
func (m *Monitor) Archive(ctx context.Context, keep int) (ArchiveResult, error) {
	res := ArchiveResult{Moved: make(map[string]int64)}
	if keep < 0 {
		return res, fmt.Errorf("negative keep %d", keep)
	}
	tags, err := m.st.LogTags(ctx)
	if err != nil {
		return res, fmt.Errorf("load log tags: %w", err)
	}
	for _, tag := range tags {
		moved, err := m.st.ArchiveTag(ctx, tag, keep)
		if err != nil {
			return res, fmt.Errorf("archive %s: %w", tag, err)
		}
		if moved > 0 {
			res.Moved[tag] = moved
			res.Total += moved
			m.logger.Info("archived", "tag", tag, "rows", moved)
		}
	}
	if err := m.st.Vacuum(ctx); err != nil {
		return res, fmt.Errorf("vacuum: %w", err)
	}
	metrics.AddArchived(res.Total)
	return res, nil
}
