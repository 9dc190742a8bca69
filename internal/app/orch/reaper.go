package orch

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/rtcsignal/internal/domain"
	"github.com/rs/zerolog/log"
)

var errSkip = errors.New("skip")

// Sweep fails idle sessions and removes tombstones past their grace period.
func (c *Coordinator) Sweep() {
	now := c.now()
	idle, grace := c.Opts.idleTimeout(), c.Opts.removeGrace()

	for _, s := range c.Store.List() {
		key := s.Key()
		if s.State.Terminal() {
			removed := c.Store.RemoveIf(key, func(cur domain.Session) bool {
				return !cur.State.Terminal() || cur.IdleFor(now) < grace
			})
			if removed {
				c.finish(key)
				if c.OnRemove != nil {
					c.OnRemove(key)
				}
			}
			continue
		}
		if s.IdleFor(now) < idle {
			continue
		}
		_, err := c.Store.Update(key, func(cur *domain.Session) error {
			if cur.State.Terminal() || cur.IdleFor(now) < idle {
				return errSkip
			}
			cur.State = domain.StateFailed
			return nil
		})
		if err != nil {
			continue
		}
		log.Warn().Str("module", "orch.reaper").Str("sid", key.String()).Dur("idle", s.IdleFor(now)).Msg("idle session failed")
		c.finish(key)
		c.notify(key)
	}
}

// Run sweeps on a ticker until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	t := time.NewTicker(c.Opts.sweepInterval())
	defer t.Stop()
	log.Info().Str("module", "orch.reaper").Dur("interval", c.Opts.sweepInterval()).Msg("reaper started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "orch.reaper").Msg("reaper stopped")
			return nil
		case <-t.C:
			c.Sweep()
		}
	}
}
