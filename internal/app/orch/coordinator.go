// Package orch drives the signaling handshake: it owns the session store and
// the candidate queue and mediates every access to them.
package orch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/rtcsignal/internal/app"
	"github.com/dkeye/rtcsignal/internal/core"
	"github.com/dkeye/rtcsignal/internal/domain"
	"github.com/rs/zerolog/log"
)

type Topology string

const (
	// TopologyAnswer lets a server-side peer answer every offer.
	TopologyAnswer Topology = "answer"
	// TopologyRelay forwards the offer to the opposite peer and waits for its answer.
	TopologyRelay Topology = "relay"
)

func ParseTopology(s string) (Topology, error) {
	switch Topology(s) {
	case TopologyAnswer, TopologyRelay:
		return Topology(s), nil
	case "":
		return TopologyAnswer, nil
	}
	return "", fmt.Errorf("unknown topology %q", s)
}

type Delivery string

const (
	DeliveryPoll Delivery = "poll"
	DeliveryPush Delivery = "push"
)

func ParseDelivery(s string) (Delivery, error) {
	switch Delivery(s) {
	case DeliveryPoll, DeliveryPush:
		return Delivery(s), nil
	case "":
		return DeliveryPoll, nil
	}
	return "", fmt.Errorf("unknown delivery %q", s)
}

type Options struct {
	Topology       Topology
	Delivery       Delivery
	RequestTimeout time.Duration
	IdleTimeout    time.Duration
	RemoveGrace    time.Duration
	SweepInterval  time.Duration
}

func (o Options) topology() Topology {
	if o.Topology == "" {
		return TopologyAnswer
	}
	return o.Topology
}

func (o Options) push() bool { return o.Delivery == DeliveryPush }

func (o Options) requestTimeout() time.Duration {
	if o.RequestTimeout <= 0 {
		return 10 * time.Second
	}
	return o.RequestTimeout
}

func (o Options) idleTimeout() time.Duration {
	if o.IdleTimeout <= 0 {
		return 2 * time.Minute
	}
	return o.IdleTimeout
}

func (o Options) removeGrace() time.Duration {
	if o.RemoveGrace <= 0 {
		return 30 * time.Second
	}
	return o.RemoveGrace
}

func (o Options) sweepInterval() time.Duration {
	if o.SweepInterval <= 0 {
		return 5 * time.Second
	}
	return o.SweepInterval
}

// Coordinator is the SignalingCoordinator. Answerer is required in the answer
// topology, Sink in push delivery.
type Coordinator struct {
	Store    core.SessionStore
	Queue    *app.CandidateQueue
	Answerer core.Answerer
	Sink     core.CandidateSink
	Opts     Options
	Now      func() time.Time

	// OnRemove runs after the reaper drops a session for good.
	OnRemove func(key domain.SessionKey)

	mu        sync.Mutex
	waiters   map[domain.SessionKey]chan struct{}
	held      map[domain.SessionKey][]domain.CandidateRecord
	pushLocks map[domain.SessionKey]*pushLock
}

// pushLock serializes drain, deliver and requeue for one bucket. It is
// dropped once nobody references it.
type pushLock struct {
	mu   sync.Mutex
	refs int
}

func New(opts Options, store core.SessionStore, queue *app.CandidateQueue) *Coordinator {
	return &Coordinator{
		Store:     store,
		Queue:     queue,
		Opts:      opts,
		Now:       time.Now,
		waiters:   make(map[domain.SessionKey]chan struct{}),
		held:      make(map[domain.SessionKey][]domain.CandidateRecord),
		pushLocks: make(map[domain.SessionKey]*pushLock),
	}
}

func (c *Coordinator) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

// CreateSession registers a new session; an empty id gets a generated one.
func (c *Coordinator) CreateSession(ctx context.Context, key domain.SessionKey) (domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return domain.Session{}, err
	}
	if key.ID == "" {
		key.ID = domain.NewSessionID()
	}
	if err := validKey(key); err != nil {
		return domain.Session{}, err
	}
	return c.Store.Create(key)
}

// admit makes sure key has a session, creating it on first use. Offers and
// candidates may arrive without an explicit CreateSession.
func (c *Coordinator) admit(ctx context.Context, key domain.SessionKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validKey(key); err != nil {
		return err
	}
	if _, created, err := c.Store.GetOrCreate(key); err != nil {
		return err
	} else if created {
		log.Info().Str("module", "orch").Str("sid", key.String()).Msg("session admitted")
	}
	return nil
}

func validKey(key domain.SessionKey) error {
	if err := key.ID.Validate(); err != nil {
		return err
	}
	_, err := domain.ParseRole(string(key.Role))
	return err
}

func (c *Coordinator) Get(key domain.SessionKey) (domain.Session, error) {
	return c.Store.Get(key)
}

// ReportState maps a peer-connection report onto the session state machine.
func (c *Coordinator) ReportState(ctx context.Context, key domain.SessionKey, st domain.State) error {
	switch st {
	case domain.StateConnecting:
		return c.ReportConnecting(key)
	case domain.StateConnected:
		return c.ReportConnected(key)
	case domain.StateDisconnected:
		return c.ReportDisconnected(key)
	case domain.StateFailed:
		return c.ReportFailed(key)
	case domain.StateClosed:
		return c.Close(ctx, key)
	}
	return fmt.Errorf("%w: %s cannot be reported", domain.ErrInvalidTransition, st)
}

func (c *Coordinator) ReportConnecting(key domain.SessionKey) error {
	return c.Store.Transition(key, domain.StateConnecting)
}

func (c *Coordinator) ReportConnected(key domain.SessionKey) error {
	return c.Store.Transition(key, domain.StateConnected)
}

func (c *Coordinator) ReportDisconnected(key domain.SessionKey) error {
	return c.Store.Transition(key, domain.StateDisconnected)
}

func (c *Coordinator) ReportFailed(key domain.SessionKey) error {
	if err := c.Store.Transition(key, domain.StateFailed); err != nil {
		return err
	}
	c.finish(key)
	return nil
}

var errAlreadyClosed = errors.New("already closed")

// Close is allowed from every state. Closing a closed session succeeds.
// The tombstone stays until the reaper removes it so late traffic is
// answered with ErrSessionTerminated.
func (c *Coordinator) Close(_ context.Context, key domain.SessionKey) error {
	_, err := c.Store.Update(key, func(s *domain.Session) error {
		if s.State == domain.StateClosed {
			return errAlreadyClosed
		}
		s.State = domain.StateClosed
		return nil
	})
	if errors.Is(err, errAlreadyClosed) {
		return nil
	}
	if err != nil {
		return err
	}
	log.Info().Str("module", "orch").Str("sid", key.String()).Msg("session closed")
	c.finish(key)
	c.notify(key)
	return nil
}

// feedBucket is the bucket whose only purpose is serving this session.
func (c *Coordinator) feedBucket(key domain.SessionKey) domain.SessionKey {
	if c.Opts.topology() == TopologyAnswer {
		return domain.SessionKey{ID: key.ID, Role: key.Role.Opposite()}
	}
	return key
}

// finish releases everything a terminal session holds except its tombstone.
func (c *Coordinator) finish(key domain.SessionKey) {
	if c.Answerer != nil {
		c.Answerer.Release(key)
	}
	c.mu.Lock()
	delete(c.held, key)
	c.mu.Unlock()
	c.Queue.Purge(c.feedBucket(key))
}

func (c *Coordinator) fail(key domain.SessionKey, cause error) {
	log.Warn().Err(cause).Str("module", "orch").Str("sid", key.String()).Msg("session failed")
	if err := c.ReportFailed(key); err != nil && !errors.Is(err, domain.ErrInvalidTransition) {
		log.Error().Err(err).Str("module", "orch").Str("sid", key.String()).Msg("mark failed")
	}
}

func rejectTerminal(s *domain.Session) error {
	if s.State.Terminal() {
		return fmt.Errorf("%w: %s is %s", domain.ErrSessionTerminated, s.Key(), s.State)
	}
	return nil
}

func timeoutErr(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		if errors.Is(err, domain.ErrSignalingTimeout) {
			return err
		}
		return fmt.Errorf("%w: %v", domain.ErrSignalingTimeout, err)
	}
	return err
}
