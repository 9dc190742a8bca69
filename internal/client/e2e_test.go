package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/rtcsignal/internal/app"
	"github.com/dkeye/rtcsignal/internal/app/orch"
	"github.com/dkeye/rtcsignal/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingTransport struct {
	*orch.LocalTransport
	mu    sync.Mutex
	polls int
}

func (t *countingTransport) PollCandidates(ctx context.Context, id domain.SessionID, producer domain.Role) ([]domain.ICECandidate, error) {
	t.mu.Lock()
	t.polls++
	t.mu.Unlock()
	return t.LocalTransport.PollCandidates(ctx, id, producer)
}

func (t *countingTransport) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.polls
}

// answerAll plays the answering side of the relay topology for both roles.
func answerAll(ctx context.Context, c *orch.Coordinator, keys ...domain.SessionKey) {
	left := append([]domain.SessionKey(nil), keys...)
	for len(left) > 0 && ctx.Err() == nil {
		next := left[:0]
		for _, k := range left {
			if _, err := c.PendingOffer(k); err == nil {
				if err := c.SubmitAnswer(ctx, k, "A-"+string(k.Role)); err == nil {
					continue
				}
			}
			next = append(next, k)
		}
		left = next
		time.Sleep(time.Millisecond)
	}
}

func TestRelayPollEndToEnd(t *testing.T) {
	coord := orch.New(orch.Options{Topology: orch.TopologyRelay, RequestTimeout: time.Second},
		app.NewStore(time.Now), app.NewCandidateQueue(time.Now))
	lt := orch.NewLocalTransport(coord)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go answerAll(ctx, coord, pubABC, subABC)

	pubFactory := &fakeFactory{gather: []string{"cand1"}}
	pubOpts := testOptions(pubABC)
	pubOpts.PollInterval = 10 * time.Millisecond
	pub := NewManager(pubOpts, lt, pubFactory, &fakeSource{})

	subFactory := &fakeFactory{}
	subTransport := &countingTransport{LocalTransport: lt}
	subOpts := testOptions(subABC)
	subOpts.PollInterval = 10 * time.Millisecond
	sub := NewManager(subOpts, subTransport, subFactory, nil)

	require.NoError(t, pub.Initialize(ctx))
	require.NoError(t, sub.Initialize(ctx))

	assert.Equal(t, "A-publisher", pubFactory.created()[0].remote)
	assert.Equal(t, "A-subscriber", subFactory.created()[0].remote)

	subPC := subFactory.created()[0]
	require.Eventually(t, func() bool {
		added, _ := subPC.snapshot()
		return len(added) == 1
	}, time.Second, time.Millisecond)
	added, _ := subPC.snapshot()
	assert.Equal(t, []string{"cand1"}, added)
	require.Eventually(t, func() bool {
		return coord.GatheringComplete("abc", domain.RolePublisher)
	}, time.Second, time.Millisecond)

	// the subscriber gives up once the publisher has nothing more to say
	require.Eventually(t, func() bool {
		n := subTransport.count()
		time.Sleep(30 * time.Millisecond)
		return n == subTransport.count()
	}, 2*time.Second, time.Millisecond)

	s, err := coord.Get(pubABC)
	require.NoError(t, err)
	assert.Equal(t, domain.StateAnswered, s.State)

	require.NoError(t, pub.Teardown(context.Background()))
	require.NoError(t, sub.Teardown(context.Background()))

	s, err = coord.Get(pubABC)
	require.NoError(t, err)
	assert.Equal(t, domain.StateClosed, s.State)
}
