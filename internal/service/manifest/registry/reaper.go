package registry

import (
	"context"
	"log/slog"
	"time"
)

// Reaper periodically evicts registry entries nobody retrieved within the
// max-life-cycle bound. It runs for the lifetime of the hosting process and
// stops when its context is cancelled at shutdown.
type Reaper struct {
	reg   *Registry
	every time.Duration
	log   *slog.Logger
}

// NewReaper builds a reaper scanning reg every cleanFrequency. Zero selects
// the default frequency.
func NewReaper(reg *Registry, cleanFrequency time.Duration, log *slog.Logger) *Reaper {
	if cleanFrequency <= 0 {
		cleanFrequency = DefaultCleanFrequency
	}
	if log == nil {
		log = slog.Default()
	}
	return &Reaper{reg: reg, every: cleanFrequency, log: log}
}

// Run blocks, scanning on the clean frequency until ctx is cancelled.
func (rp *Reaper) Run(ctx context.Context) {
	rp.log.Info("registry reaper started", "clean_frequency", rp.every.String(),
		"max_life_cycle", rp.reg.MaxLifeCycle().String())
	ticker := time.NewTicker(rp.every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			rp.log.Info("registry reaper stopped")
			return
		case <-ticker.C:
			if n := rp.reg.evictStale(time.Now()); n > 0 {
				rp.log.Info("registry sweep complete", "evicted", n, "remaining", rp.reg.Len())
			}
		}
	}
}
