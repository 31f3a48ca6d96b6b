package cron

import (
	"context"
	"time"

	"emperror.dev/errors"
	"github.com/apex/log"

	"github.com/northstar-wraith/wraith/system"
)

type pruneCron struct {
	mu        *system.AtomicBool
	pruner    Pruner
	retention time.Duration
}

// Run removes every history entry older than the retention period.
func (pc *pruneCron) Run(ctx context.Context) error {
	// Don't execute this cron if there is currently one running.
	if !pc.mu.SwapIf(true) {
		return errors.WithStack(ErrCronRunning)
	}
	defer pc.mu.Store(false)

	n, err := pc.pruner.Prune(ctx, time.Now().Add(-pc.retention))
	if err != nil {
		return err
	}
	if n > 0 {
		log.WithField("events", n).Debug("cron: pruned server history")
	}
	return nil
}
