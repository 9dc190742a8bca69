package orch

import (
	"context"
	"fmt"

	"github.com/dkeye/rtcsignal/internal/domain"
	"github.com/rs/zerolog/log"
)

// SubmitOffer records the client's offer and returns the answer, either
// produced by the Answerer or posted by the opposite peer. The wait is
// bounded by the request timeout.
func (c *Coordinator) SubmitOffer(ctx context.Context, key domain.SessionKey, sdp string) (string, error) {
	if sdp == "" {
		return "", domain.ErrEmptyDescription
	}
	if err := c.admit(ctx, key); err != nil {
		return "", err
	}
	relay := c.Opts.topology() == TopologyRelay

	// Registered before the offer becomes visible so a fast answer is never missed.
	var wait chan struct{}
	if relay {
		wait = c.waiter(key)
	}

	fresh := false
	sess, err := c.Store.Update(key, func(s *domain.Session) error {
		if err := rejectTerminal(s); err != nil {
			return err
		}
		changed, err := s.SetLocalDescription(sdp)
		if err != nil {
			return fmt.Errorf("%w: offer for %s", err, key)
		}
		if !changed {
			return nil
		}
		if !domain.CanTransition(s.State, domain.StateOfferReceived) {
			return fmt.Errorf("%w: offer in state %s", domain.ErrInvalidTransition, s.State)
		}
		s.State = domain.StateOfferReceived
		fresh = true
		return nil
	})
	if err != nil {
		if relay {
			c.dropWaiter(key, wait)
		}
		return "", err
	}
	if sess.RemoteDescription != "" {
		return sess.RemoteDescription, nil
	}
	log.Info().Str("module", "orch").Str("sid", key.String()).Bool("fresh", fresh).Msg("offer recorded")

	ctx, cancel := context.WithTimeout(ctx, c.Opts.requestTimeout())
	defer cancel()

	if relay {
		return c.awaitAnswer(ctx, key, wait)
	}
	if !fresh {
		return "", fmt.Errorf("%w: answer for %s still in progress", domain.ErrInvalidTransition, key)
	}
	return c.answer(ctx, key, sdp)
}

func (c *Coordinator) answer(ctx context.Context, key domain.SessionKey, offer string) (string, error) {
	if c.Answerer == nil {
		err := fmt.Errorf("%w: no answerer configured", domain.ErrTransport)
		c.fail(key, err)
		return "", err
	}
	ans, err := c.Answerer.Answer(ctx, key, offer)
	if err == nil && ans == "" {
		err = domain.ErrEmptyDescription
	}
	if err != nil {
		err = timeoutErr(ctx, err)
		c.fail(key, err)
		return "", err
	}
	if err := c.recordAnswer(ctx, key, ans); err != nil {
		c.Answerer.Release(key)
		return "", err
	}
	log.Info().Str("module", "orch").Str("sid", key.String()).Msg("answered")
	return ans, nil
}

func (c *Coordinator) awaitAnswer(ctx context.Context, key domain.SessionKey, wait chan struct{}) (string, error) {
	select {
	case <-wait:
	case <-ctx.Done():
	}
	sess, err := c.Store.Get(key)
	if err != nil {
		return "", err
	}
	if sess.RemoteDescription != "" {
		return sess.RemoteDescription, nil
	}
	if err := rejectTerminal(&sess); err != nil {
		return "", err
	}
	c.dropWaiter(key, wait)
	return "", fmt.Errorf("%w: no answer for %s", domain.ErrSignalingTimeout, key)
}

// recordAnswer stores the answer. In the answer topology the candidates
// held back until now are handed to the server peer under the same lock, so
// they reach it before any later one.
func (c *Coordinator) recordAnswer(ctx context.Context, key domain.SessionKey, sdp string) error {
	_, err := c.Store.Update(key, func(s *domain.Session) error {
		if err := rejectTerminal(s); err != nil {
			return err
		}
		changed, err := s.SetRemoteDescription(sdp)
		if err != nil {
			return fmt.Errorf("%w: answer for %s", err, key)
		}
		if !changed {
			return nil
		}
		if !domain.CanTransition(s.State, domain.StateAnswered) {
			return fmt.Errorf("%w: answer in state %s", domain.ErrInvalidTransition, s.State)
		}
		s.State = domain.StateAnswered
		c.releaseHeld(ctx, key)
		return nil
	})
	return err
}

// SubmitAnswer is posted by the opposite peer in the relay topology. key
// names the offering session.
func (c *Coordinator) SubmitAnswer(ctx context.Context, key domain.SessionKey, sdp string) error {
	if sdp == "" {
		return domain.ErrEmptyDescription
	}
	if c.Opts.topology() != TopologyRelay {
		return fmt.Errorf("%w: answers are produced by the server", domain.ErrInvalidTransition)
	}
	if err := c.recordAnswer(ctx, key, sdp); err != nil {
		return err
	}
	log.Info().Str("module", "orch").Str("sid", key.String()).Msg("answer posted")
	c.notify(key)
	return nil
}

// PendingOffer exposes a recorded offer to the answering peer.
func (c *Coordinator) PendingOffer(key domain.SessionKey) (string, error) {
	sess, err := c.Store.Get(key)
	if err != nil {
		return "", err
	}
	if err := rejectTerminal(&sess); err != nil {
		return "", err
	}
	if sess.LocalDescription == "" {
		return "", fmt.Errorf("%w: no offer for %s yet", domain.ErrNotFound, key)
	}
	return sess.LocalDescription, nil
}

func (c *Coordinator) waiter(key domain.SessionKey) chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.waiters == nil {
		c.waiters = make(map[domain.SessionKey]chan struct{})
	}
	ch, ok := c.waiters[key]
	if !ok {
		ch = make(chan struct{})
		c.waiters[key] = ch
	}
	return ch
}

func (c *Coordinator) dropWaiter(key domain.SessionKey, ch chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.waiters[key]; ok && cur == ch {
		delete(c.waiters, key)
	}
}

// notify wakes everyone waiting on key.
func (c *Coordinator) notify(key domain.SessionKey) {
	c.mu.Lock()
	ch, ok := c.waiters[key]
	if ok {
		delete(c.waiters, key)
	}
	c.mu.Unlock()
	if ok {
		close(ch)
	}
}
