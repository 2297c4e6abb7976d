package draftstore

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Pruner runs Store.Prune on a standard five-field cron schedule.
type Pruner struct {
	store     *Store
	retention time.Duration
	logger    zerolog.Logger
	cron      *cron.Cron
}

func NewPruner(store *Store, schedule string, retention time.Duration, logger zerolog.Logger) (*Pruner, error) {
	p := &Pruner{
		store:     store,
		retention: retention,
		logger:    logger,
		cron:      cron.New(),
	}
	if _, err := p.cron.AddFunc(schedule, p.run); err != nil {
		return nil, fmt.Errorf("invalid prune schedule %q: %w", schedule, err)
	}
	return p, nil
}

func (p *Pruner) run() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	n, err := p.store.Prune(ctx, p.retention)
	if err != nil {
		p.logger.Error().Err(err).Msg("pruning draft journal")
		return
	}
	p.logger.Info().Int64("removed", n).Dur("retention", p.retention).Msg("draft journal pruned")
}

// Start prunes once immediately and then on schedule.
func (p *Pruner) Start() {
	p.run()
	p.cron.Start()
	entries := p.cron.Entries()
	if len(entries) > 0 {
		p.logger.Debug().Time("next", entries[0].Next).Msg("draft journal pruning scheduled")
	}
}

// Stop halts the schedule and waits for a running prune to finish.
func (p *Pruner) Stop() {
	<-p.cron.Stop().Done()
}
