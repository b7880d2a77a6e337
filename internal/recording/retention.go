package recording

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
)

// retentionSchedule runs the sweep nightly at 02:30 local time, when the
// coop is quiet and no encodes are likely in flight.
const retentionSchedule = "30 2 * * *"

// pruneTimeout bounds the history prune callback per sweep.
const pruneTimeout = time.Minute

// PruneFunc removes stored history older than the cutoff and reports how
// many rows went away. It runs inside the nightly sweep.
type PruneFunc func(ctx context.Context, cutoff time.Time) (int64, error)

// Retention deletes per-day recording directories older than the configured
// number of days, and prunes motion history through the same schedule.
type Retention struct {
	outputDir string
	days      int
	logger    *slog.Logger
	cron      *cron.Cron
	prune     PruneFunc
}

// NewRetention creates the sweeper. days <= 0 disables it.
func NewRetention(outputDir string, days int, logger *slog.Logger) *Retention {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retention{
		outputDir: outputDir,
		days:      days,
		logger:    logger.With(slog.String("component", "retention")),
	}
}

// OnSweep registers a prune callback invoked with each sweep's cutoff.
// Register before Start.
func (r *Retention) OnSweep(fn PruneFunc) {
	r.prune = fn
}

// Start schedules the nightly sweep and runs one immediately to catch up
// after downtime.
func (r *Retention) Start() error {
	if r.days <= 0 {
		r.logger.Info("retention disabled")
		return nil
	}
	r.cron = cron.New()
	if _, err := r.cron.AddFunc(retentionSchedule, func() { r.Sweep(time.Now()) }); err != nil {
		return err
	}
	r.cron.Start()
	go r.Sweep(time.Now())
	return nil
}

// Stop halts the schedule. A sweep in progress finishes.
func (r *Retention) Stop() {
	if r.cron != nil {
		r.cron.Stop()
	}
}

// Sweep removes day directories whose date is older than the retention
// window relative to now, then prunes history behind the same cutoff.
// Returns how many directories were removed. Non-date directory names are
// left alone.
func (r *Retention) Sweep(now time.Time) int {
	cutoff := now.AddDate(0, 0, -r.days)
	defer r.pruneHistory(cutoff)

	entries, err := os.ReadDir(r.outputDir)
	if err != nil {
		if !os.IsNotExist(err) {
			r.logger.Warn("reading output directory", slog.String("error", err.Error()))
		}
		return 0
	}

	removed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		day, err := time.ParseInLocation("2006-01-02", e.Name(), now.Location())
		if err != nil {
			continue
		}
		if !day.Before(cutoff) {
			continue
		}
		path := filepath.Join(r.outputDir, e.Name())
		if err := os.RemoveAll(path); err != nil {
			r.logger.Warn("removing expired day directory",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			continue
		}
		removed++
		r.logger.Info("removed expired recordings", slog.String("day", e.Name()))
	}
	return removed
}

func (r *Retention) pruneHistory(cutoff time.Time) {
	if r.prune == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), pruneTimeout)
	defer cancel()
	rows, err := r.prune(ctx, cutoff)
	if err != nil {
		r.logger.Warn("pruning motion history", slog.String("error", err.Error()))
		return
	}
	if rows > 0 {
		r.logger.Info("pruned motion history", slog.Int64("events", rows))
	}
}
