package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dkeye/rtcsignal/internal/domain"
)

// runJobs is the single outbound signaling worker. Jobs left in the queue
// when the handle is cancelled are dropped.
func (m *Manager) runJobs(ctx context.Context, h *handle) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-h.jobs:
			if err := j.run(ctx); err != nil && ctx.Err() == nil {
				m.logger.Warn().Err(err).Str("job", j.name).Msg("signaling job failed")
				m.setStatusFor(h, StatusError)
			}
		}
	}
}

func (m *Manager) candidateJob(h *handle, c domain.ICECandidate) job {
	return job{
		name: "candidate",
		run: func(ctx context.Context) error {
			return m.submitCandidate(ctx, h.key, c)
		},
	}
}

func (m *Manager) stateJob(h *handle, st domain.State) job {
	return job{
		name: "state:" + string(st),
		run: func(ctx context.Context) error {
			rctx, cancel := m.call(ctx)
			defer cancel()
			if err := m.transport.ReportState(rctx, h.key, st); err != nil {
				return fmt.Errorf("report %s: %w", st, err)
			}
			return nil
		},
	}
}

func retryable(err error) bool {
	switch {
	case errors.Is(err, domain.ErrTransport),
		errors.Is(err, domain.ErrSignalingTimeout),
		errors.Is(err, domain.ErrRateLimited):
		return true
	}
	return false
}

func (m *Manager) newBackOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = m.opts.retryBase()
	eb.MaxInterval = 5 * time.Second
	eb.MaxElapsedTime = 0
	eb.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(m.opts.candidateRetries())), ctx)
}

// submitCandidate retries transport failures and rate limiting only; anything the coordinator
// rejected is final.
func (m *Manager) submitCandidate(ctx context.Context, key domain.SessionKey, c domain.ICECandidate) error {
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		rctx, cancel := m.call(ctx)
		defer cancel()
		err := m.transport.SubmitCandidate(rctx, key, c)
		if err == nil || retryable(err) {
			if err != nil {
				m.logger.Debug().Err(err).Int("attempt", attempt).Msg("candidate submit retry")
			}
			return err
		}
		return backoff.Permanent(err)
	}, m.newBackOff(ctx))
	if err != nil {
		return fmt.Errorf("submit candidate: %w", err)
	}
	return nil
}
