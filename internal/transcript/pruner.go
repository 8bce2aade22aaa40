package transcript

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zulandar/ridechat/internal/logger"
)

// DefaultRetentionDays is how long cached messages are kept.
const DefaultRetentionDays = 30

// cronParser accepts standard 5-field expressions (minute, hour, dom, month,
// dow) and descriptors such as @daily.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Pruner deletes cached messages older than the retention window on a cron
// schedule.
type Pruner struct {
	store    *Store
	schedule cron.Schedule
	keep     time.Duration
	now      func() time.Time
	log      *logger.Logger
}

// PrunerOpts holds parameters for creating a Pruner.
type PrunerOpts struct {
	Store  *Store
	Cron   string // 5-field expression, e.g. "0 3 * * *"
	Days   int    // defaults to DefaultRetentionDays
	Logger *logger.Logger
	Now    func() time.Time
}

// NewPruner creates a Pruner.
func NewPruner(opts PrunerOpts) (*Pruner, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("transcript: pruner: store is required")
	}
	sched, err := cronParser.Parse(opts.Cron)
	if err != nil {
		return nil, fmt.Errorf("transcript: pruner: invalid cron %q: %w", opts.Cron, err)
	}
	days := opts.Days
	if days <= 0 {
		days = DefaultRetentionDays
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	lg := opts.Logger
	if lg == nil {
		lg = logger.Nop()
	}
	return &Pruner{
		store:    opts.Store,
		schedule: sched,
		keep:     time.Duration(days) * 24 * time.Hour,
		now:      now,
		log:      lg,
	}, nil
}

// Next returns the duration from t until the next scheduled prune.
func (p *Pruner) Next(t time.Time) time.Duration {
	d := p.schedule.Next(t).Sub(t)
	if d < 0 {
		return 0
	}
	return d
}

// PruneOnce deletes every message older than the retention window.
func (p *Pruner) PruneOnce() (int64, error) {
	cutoff := p.now().Add(-p.keep)
	n, err := p.store.DeleteBefore(cutoff)
	if err != nil {
		return 0, err
	}
	p.log.Info("transcript_pruned", "deleted", n, "cutoff", cutoff.Format(time.RFC3339))
	return n, nil
}

// Run prunes on schedule until ctx is cancelled.
func (p *Pruner) Run(ctx context.Context) error {
	for {
		wait := p.Next(p.now())
		p.log.Debug("transcript_prune_scheduled", "in", wait)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		if _, err := p.PruneOnce(); err != nil {
			p.log.Warn("transcript_prune_failed", "error", err)
		}
	}
}
