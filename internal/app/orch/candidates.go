package orch

import (
	"context"
	"errors"

	"github.com/dkeye/rtcsignal/internal/domain"
	"github.com/rs/zerolog/log"
)

// SubmitCandidate accepts a client candidate in every non-terminal state,
// admitting the session if this is its first message. In the answer
// topology it goes to the server peer once that peer has answered and is
// held until then; otherwise it is queued for the opposite peer and pushed
// when push delivery is on.
func (c *Coordinator) SubmitCandidate(ctx context.Context, key domain.SessionKey, cand domain.ICECandidate) error {
	if err := c.admit(ctx, key); err != nil {
		return err
	}
	if c.Opts.topology() == TopologyAnswer && !cand.EndOfCandidates() {
		return c.deliverInbound(ctx, key, cand)
	}

	// queued under the session lock so nothing lands after finish purged
	_, err := c.Store.Update(key, func(s *domain.Session) error {
		if err := rejectTerminal(s); err != nil {
			return err
		}
		c.Queue.Enqueue(key, cand)
		return nil
	})
	if err != nil {
		return err
	}
	if c.Opts.topology() == TopologyRelay && c.Opts.push() {
		return c.Flush(ctx, key)
	}
	return nil
}

// deliverInbound runs under the session lock: a Release from finish can
// only happen after the terminal transition, never between the state check
// and the delivery.
func (c *Coordinator) deliverInbound(ctx context.Context, key domain.SessionKey, cand domain.ICECandidate) error {
	rec := domain.CandidateRecord{SessionID: key.ID, Role: key.Role, ICE: cand, EnqueuedAt: c.now().UTC()}
	_, err := c.Store.Update(key, func(s *domain.Session) error {
		if err := rejectTerminal(s); err != nil {
			return err
		}
		if s.RemoteDescription == "" {
			c.mu.Lock()
			if c.held == nil {
				c.held = make(map[domain.SessionKey][]domain.CandidateRecord)
			}
			c.held[key] = append(c.held[key], rec)
			c.mu.Unlock()
			return nil
		}
		if c.Answerer == nil {
			return nil
		}
		return c.Answerer.Deliver(ctx, key, []domain.CandidateRecord{rec})
	})
	return err
}

// releaseHeld must be called with key's session lock held.
func (c *Coordinator) releaseHeld(ctx context.Context, key domain.SessionKey) {
	c.mu.Lock()
	recs := c.held[key]
	delete(c.held, key)
	c.mu.Unlock()
	if len(recs) == 0 || c.Answerer == nil {
		return
	}
	if err := c.Answerer.Deliver(ctx, key, recs); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("sid", key.String()).Int("n", len(recs)).Msg("held candidates rejected")
	}
}

// RelayCandidate queues a candidate gathered by the server peer of key. It
// lands in the opposite role's bucket, which is what key's client drains.
func (c *Coordinator) RelayCandidate(key domain.SessionKey, cand domain.ICECandidate) {
	sess, err := c.Store.Get(key)
	if err != nil || sess.State.Terminal() {
		log.Debug().Str("module", "orch").Str("sid", key.String()).Msg("dropping server candidate for gone session")
		return
	}
	bucket := domain.SessionKey{ID: key.ID, Role: key.Role.Opposite()}
	c.Queue.Enqueue(bucket, cand)
	if !c.Opts.push() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.Opts.requestTimeout())
	defer cancel()
	if err := c.Flush(ctx, bucket); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("bucket", bucket.String()).Msg("push server candidate")
	}
}

// DrainCandidates hands out everything produced by producer for id, oldest
// first. An empty result is not an error.
func (c *Coordinator) DrainCandidates(ctx context.Context, id domain.SessionID, producer domain.Role) ([]domain.CandidateRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	consumer := domain.SessionKey{ID: id, Role: producer.Opposite()}
	_, err := c.Store.Update(consumer, func(s *domain.Session) error {
		if s.State.Terminal() {
			return errSkip
		}
		return nil
	})
	if err != nil && !errors.Is(err, domain.ErrNotFound) && !errors.Is(err, errSkip) {
		return nil, err
	}
	return c.Queue.Drain(domain.SessionKey{ID: id, Role: producer}), nil
}

func (c *Coordinator) GatheringComplete(id domain.SessionID, producer domain.Role) bool {
	return c.Queue.IsGatheringComplete(domain.SessionKey{ID: id, Role: producer})
}

// Flush drains bucket into the sink. Undelivered batches go back to the
// head of the bucket so a later subscriber still receives them in order.
func (c *Coordinator) Flush(ctx context.Context, bucket domain.SessionKey) error {
	if c.Sink == nil {
		return nil
	}
	unlock := c.lockBucket(bucket)
	defer unlock()

	recs := c.Queue.Drain(bucket)
	if len(recs) == 0 {
		return nil
	}
	if err := c.Sink.Deliver(ctx, bucket, recs); err != nil {
		c.Queue.Requeue(bucket, recs)
		if errors.Is(err, domain.ErrNotFound) {
			log.Debug().Str("module", "orch").Str("bucket", bucket.String()).Int("n", len(recs)).Msg("no subscriber, kept queued")
			return nil
		}
		log.Warn().Err(err).Str("module", "orch").Str("bucket", bucket.String()).Msg("push delivery failed, kept queued")
		return nil
	}
	log.Debug().Str("module", "orch").Str("bucket", bucket.String()).Int("n", len(recs)).Msg("pushed candidates")
	return nil
}

func (c *Coordinator) lockBucket(bucket domain.SessionKey) func() {
	c.mu.Lock()
	if c.pushLocks == nil {
		c.pushLocks = make(map[domain.SessionKey]*pushLock)
	}
	l, ok := c.pushLocks[bucket]
	if !ok {
		l = &pushLock{}
		c.pushLocks[bucket] = l
	}
	l.refs++
	c.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		c.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(c.pushLocks, bucket)
		}
		c.mu.Unlock()
	}
}
