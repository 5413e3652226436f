package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// DefaultPruneSchedule runs the prune job once an hour.
const DefaultPruneSchedule = "@every 1h"

// Pruner removes snapshots older than a retention window on a cron
// schedule. Long-lived commands run one next to the browser engine.
type Pruner struct {
	store     *Store
	retention time.Duration
	scheduler *cronlib.Cron
	logger    *slog.Logger
}

// NewPruner schedules pruning of st. schedule is a standard cron spec or a
// descriptor such as "@every 30m"; empty uses DefaultPruneSchedule.
func NewPruner(st *Store, schedule string, retention time.Duration, logger *slog.Logger) (*Pruner, error) {
	if retention <= 0 {
		return nil, fmt.Errorf("prune retention must be positive, got %s", retention)
	}
	if schedule == "" {
		schedule = DefaultPruneSchedule
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "prune")

	p := &Pruner{
		store:     st,
		retention: retention,
		scheduler: cronlib.New(cronlib.WithLogger(cronLogger{logger})),
		logger:    logger,
	}
	if _, err := p.scheduler.AddFunc(schedule, p.run); err != nil {
		return nil, fmt.Errorf("invalid prune schedule %q: %w", schedule, err)
	}
	return p, nil
}

// Start begins running the schedule in the background.
func (p *Pruner) Start() {
	p.scheduler.Start()
	p.logger.Debug("prune scheduled", "retention", p.retention)
}

// Stop halts the schedule and waits for a running job to finish.
func (p *Pruner) Stop() {
	<-p.scheduler.Stop().Done()
}

// RunOnce deletes every snapshot older than the retention window.
func (p *Pruner) RunOnce(ctx context.Context) (int64, error) {
	return p.store.Prune(ctx, time.Now().Add(-p.retention))
}

func (p *Pruner) run() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	n, err := p.RunOnce(ctx)
	if err != nil {
		p.logger.Warn("prune failed", "error", err)
		return
	}
	if n > 0 {
		p.logger.Info("pruned snapshots", "count", n)
	}
}

// cronLogger routes the scheduler's own messages to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
