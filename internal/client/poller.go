package client

import (
	"context"
	"time"
)

// poll drains the opposite role's candidates on a fixed interval. It gives
// up after MaxEmptyPolls empty polls in a row; a failed poll counts as empty.
func (m *Manager) poll(ctx context.Context, h *handle) {
	producer := h.key.Role.Opposite()
	limit := m.opts.maxEmptyPolls()
	t := time.NewTicker(m.opts.pollInterval())
	defer t.Stop()

	empty := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		rctx, cancel := m.call(ctx)
		cands, err := m.transport.PollCandidates(rctx, h.key.ID, producer)
		cancel()
		if ctx.Err() != nil {
			return
		}

		switch {
		case err != nil:
			m.logger.Warn().Err(err).Msg("poll failed")
			empty++
		case len(cands) == 0:
			empty++
		default:
			empty = 0
			for _, c := range cands {
				m.applyRemote(h, c)
			}
		}

		if empty >= limit {
			m.logger.Info().Int("empty_polls", empty).Msg("candidate polling stopped")
			return
		}
	}
}
