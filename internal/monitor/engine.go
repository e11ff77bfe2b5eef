package monitor

import (
	"context"
	"fmt"
	"sort"

	"github.com/tbnorth/tattle/internal/heartbeat"
	"github.com/tbnorth/tattle/internal/metrics"
)

// qualifying is the status set eligible to represent last known health.
// INFO chatter and DEFER bookkeeping rows are excluded so they never displace
// an earlier health-relevant entry.
var qualifying = []heartbeat.Status{
	heartbeat.StatusOK,
	heartbeat.StatusFail,
	heartbeat.StatusDisable,
	heartbeat.StatusEnable,
	heartbeat.StatusDefunct,
}

// unregisteredDescription is displayed for tags that report without ever
// being registered.
const unregisteredDescription = "*unregistered process, assuming default interval*"

// Statuses derives one RenderedStatus per eligible process, ordered by how
// long ago each was last seen; processes that never reported sort first.
// Defer expiry runs first so suppression state is current.
func (m *Monitor) Statuses(ctx context.Context, includeDisabled bool) ([]heartbeat.RenderedStatus, error) {
	now := m.now().UTC()

	remaining, err := m.ExpireDefers(ctx)
	if err != nil {
		return nil, err
	}
	deferred := make(map[string]bool, len(remaining))
	for _, d := range remaining {
		deferred[d.Tag] = true
	}

	procs, err := m.st.Processes(ctx)
	if err != nil {
		return nil, fmt.Errorf("load processes: %w", err)
	}
	registered := make(map[string]heartbeat.Process, len(procs))
	for _, p := range procs {
		registered[p.Tag] = p
	}

	latest, err := m.st.LatestEntries(ctx, qualifying)
	if err != nil {
		return nil, fmt.Errorf("load latest entries: %w", err)
	}
	logTags, err := m.st.LogTags(ctx)
	if err != nil {
		return nil, fmt.Errorf("load log tags: %w", err)
	}

	tags := make(map[string]bool, len(registered)+len(logTags))
	for t := range registered {
		tags[t] = true
	}
	for _, t := range logTags {
		tags[t] = true
	}

	out := make([]heartbeat.RenderedStatus, 0, len(tags))
	for tag := range tags {
		p, isReg := registered[tag]
		if isReg && p.Retired() {
			continue
		}
		interval := p.Interval
		assumed := false
		if !isReg || interval == 0 {
			interval = m.defaultInterval
			assumed = true
		}
		desc := p.Description
		if desc == "" {
			desc = unregisteredDescription
		}

		e, reportedHealth := latest[tag]
		if !reportedHealth {
			// never reported anything health-relevant; NEW wins even over an
			// active defer
			out = append(out, heartbeat.RenderedStatus{
				Tag:         tag,
				Level:       heartbeat.StatusNew,
				Delta:       interval,
				Overdue:     true,
				Interval:    interval,
				Assumed:     assumed,
				Description: desc,
			})
			continue
		}

		if !includeDisabled && e.Status == heartbeat.StatusDisable {
			continue
		}

		last := e.Timestamp
		dueAt := last.Add(interval)
		overdue := now.After(dueAt)

		level := e.Status
		if !deferred[tag] {
			switch e.Status {
			case heartbeat.StatusOK, heartbeat.StatusDisable, heartbeat.StatusEnable:
				if overdue {
					level = heartbeat.StatusFail
				}
			default:
				level = heartbeat.StatusFail
			}
			if e.Status == heartbeat.StatusFail || (level == heartbeat.StatusFail && p.Hard) {
				level = heartbeat.StatusHard
			}
		} else {
			level = heartbeat.StatusDefer
		}

		out = append(out, heartbeat.RenderedStatus{
			Tag:         tag,
			Level:       level,
			LastSeen:    &last,
			Delta:       dueAt.Sub(now),
			Overdue:     overdue,
			Message:     e.Message,
			Source:      e.Source,
			Interval:    interval,
			Assumed:     assumed,
			Description: desc,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		li, lj := out[i].LastSeen, out[j].LastSeen
		switch {
		case li == nil && lj == nil:
			return out[i].Tag < out[j].Tag
		case li == nil:
			return true
		case lj == nil:
			return false
		case li.Equal(*lj):
			return out[i].Tag < out[j].Tag
		default:
			return li.Before(*lj)
		}
	})

	metrics.IncStatusQuery()
	counts := make(map[heartbeat.Status]int)
	for _, rs := range out {
		counts[rs.Level]++
	}
	for _, lvl := range []heartbeat.Status{
		heartbeat.StatusNew, heartbeat.StatusOK, heartbeat.StatusFail, heartbeat.StatusHard,
		heartbeat.StatusDisable, heartbeat.StatusEnable, heartbeat.StatusDefer,
	} {
		metrics.SetProcessLevel(string(lvl), counts[lvl])
	}
	return out, nil
}

// Severity reduces the current status sequence to one worst-case level for
// icon and alert selection. Disabled processes are not considered.
func (m *Monitor) Severity(ctx context.Context) (heartbeat.Severity, error) {
	statuses, err := m.Statuses(ctx, false)
	if err != nil {
		return "", err
	}
	return heartbeat.ReduceSeverity(statuses), nil
}
