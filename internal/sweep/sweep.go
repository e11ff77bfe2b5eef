package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

// Task is a recurring maintenance job such as the retention sweep or defer
// expiry. Schedule supports only the form "@every <duration>" (e.g.
// "@every 1h"). Non-overlap: if the previous run of the same task is still
// going, the tick is skipped.
//
// Name must be unique across tasks inside the same Scheduler.

type Task struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error

	// internal (guarded via atomic)
	running atomic.Bool
}

// parseEvery parses schedules of the form "@every <duration>".
func parseEvery(expr string) (time.Duration, error) {
	expr = strings.TrimSpace(expr)
	if !strings.HasPrefix(expr, "@every ") {
		return 0, fmt.Errorf("unsupported schedule: %s (only @every <duration> supported)", expr)
	}
	durStr := strings.TrimSpace(strings.TrimPrefix(expr, "@every "))
	d, err := time.ParseDuration(durStr)
	if err != nil {
		return 0, fmt.Errorf("invalid @every duration: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("@every duration must be > 0")
	}
	return d, nil
}

func (t *Task) validate() error {
	if t.Name == "" {
		return errors.New("sweep task requires a name")
	}
	if t.Schedule == "" {
		return errors.New("sweep task requires a schedule")
	}
	if t.Run == nil {
		return errors.New("sweep task requires a run function")
	}
	return nil
}

// Scheduler runs maintenance tasks in the background.
// Use Start to launch the tickers, and Stop to cancel them.

type Scheduler struct {
	logger *slog.Logger
	tasks  []*Task
	quit   chan struct{}
}

func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{logger: logger}
}

func (s *Scheduler) Add(task *Task) error {
	if err := task.validate(); err != nil {
		return err
	}
	if _, err := parseEvery(task.Schedule); err != nil {
		return fmt.Errorf("task %s: %w", task.Name, err)
	}
	s.tasks = append(s.tasks, task)
	return nil
}

// Start launches all task loops. Call Stop to cancel.
func (s *Scheduler) Start() error {
	if s.quit != nil {
		return errors.New("scheduler already started")
	}
	s.quit = make(chan struct{})
	for _, t := range s.tasks {
		d, err := parseEvery(t.Schedule)
		if err != nil {
			return fmt.Errorf("task %s: %w", t.Name, err)
		}
		go s.runTask(t, d)
	}
	return nil
}

func (s *Scheduler) runTask(t *Task, period time.Duration) {
	tick := time.NewTicker(period)
	defer tick.Stop()
	for {
		select {
		case <-s.quit:
			return
		case <-tick.C:
			// mark running; if already true, skip this tick
			if !t.running.CompareAndSwap(false, true) {
				s.logger.Debug("sweep still running, tick skipped", "task", t.Name)
				continue
			}
			// run off the ticker goroutine so slow sweeps don't delay Stop
			go func(t *Task) {
				defer t.running.Store(false)
				if err := t.Run(context.Background()); err != nil {
					s.logger.Warn("sweep failed", "task", t.Name, "err", err)
				}
			}(t)
		}
	}
}

// Stop cancels all tasks.
func (s *Scheduler) Stop() {
	if s.quit == nil {
		return
	}
	select {
	case <-s.quit:
		// already closed
	default:
		close(s.quit)
	}
}
