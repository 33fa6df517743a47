package session

import (
	"context"
	"log/slog"
	"time"
)

// Reaper periodically removes expired records from a Registry.
//
// Lookups already hide expired records; the reaper only reclaims space.
type Reaper struct {
	Registry Registry
	Interval time.Duration
	Logger   *slog.Logger

	// Now defaults to time.Now.
	Now func() time.Time

	// OnPurge, if set, is called with the number of records removed by each sweep.
	OnPurge func(n int)
}

// Sweep runs one purge pass.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	n, err := r.Registry.PurgeExpired(ctx, now().UTC())
	if err != nil {
		return 0, err
	}
	if r.OnPurge != nil {
		r.OnPurge(n)
	}
	return n, nil
}

// Run sweeps every Interval until ctx is done.
func (r *Reaper) Run(ctx context.Context) {
	log := r.Logger
	if log == nil {
		log = slog.Default()
	}
	interval := r.Interval
	if interval <= 0 {
		interval = time.Minute
	}

	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := r.Sweep(ctx)
			if err != nil {
				if ctx.Err() == nil {
					log.Warn("session.reaper.error", "err", err)
				}
				continue
			}
			if n > 0 {
				log.Info("session.reaper.purged", "count", n)
			}
		}
	}
}
