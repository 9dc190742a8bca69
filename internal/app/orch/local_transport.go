package orch

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/rtcsignal/internal/core"
	"github.com/dkeye/rtcsignal/internal/domain"
)

// LocalTransport is an in-process core.SignalingTransport. It doubles as
// the push sink so embedded clients can subscribe without a network hop.
type LocalTransport struct {
	Coord *Coordinator

	mu   sync.Mutex
	subs map[domain.SessionKey]func(domain.ICECandidate)
}

var (
	_ core.SignalingTransport = (*LocalTransport)(nil)
	_ core.CandidateSink      = (*LocalTransport)(nil)
)

func NewLocalTransport(c *Coordinator) *LocalTransport {
	return &LocalTransport{Coord: c, subs: make(map[domain.SessionKey]func(domain.ICECandidate))}
}

func (t *LocalTransport) CreateSession(ctx context.Context, key domain.SessionKey) error {
	_, err := t.Coord.CreateSession(ctx, key)
	return err
}

func (t *LocalTransport) SubmitOffer(ctx context.Context, key domain.SessionKey, sdp string) (string, error) {
	return t.Coord.SubmitOffer(ctx, key, sdp)
}

func (t *LocalTransport) SubmitCandidate(ctx context.Context, key domain.SessionKey, c domain.ICECandidate) error {
	return t.Coord.SubmitCandidate(ctx, key, c)
}

func (t *LocalTransport) PollCandidates(ctx context.Context, id domain.SessionID, producer domain.Role) ([]domain.ICECandidate, error) {
	recs, err := t.Coord.DrainCandidates(ctx, id, producer)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ICECandidate, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.ICE)
	}
	return out, nil
}

func (t *LocalTransport) ReportState(ctx context.Context, key domain.SessionKey, state domain.State) error {
	return t.Coord.ReportState(ctx, key, state)
}

func (t *LocalTransport) SubscribeCandidates(ctx context.Context, id domain.SessionID, producer domain.Role, fn func(domain.ICECandidate)) error {
	bucket := domain.SessionKey{ID: id, Role: producer}
	t.mu.Lock()
	if _, ok := t.subs[bucket]; ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: subscriber for %s", domain.ErrDuplicateSession, bucket)
	}
	t.subs[bucket] = fn
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.subs, bucket)
		t.mu.Unlock()
	}()

	if err := t.Coord.Flush(ctx, bucket); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

func (t *LocalTransport) Deliver(_ context.Context, bucket domain.SessionKey, recs []domain.CandidateRecord) error {
	t.mu.Lock()
	fn, ok := t.subs[bucket]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: no subscriber for %s", domain.ErrNotFound, bucket)
	}
	for _, r := range recs {
		fn(r.ICE)
	}
	return nil
}
