// Package client owns the client side of a signaling session: one peer
// connection per logical stream, offer/answer, candidate delivery and
// state reporting.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/rtcsignal/internal/core"
	"github.com/dkeye/rtcsignal/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Status string

const (
	StatusIdle         Status = "idle"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
)

type Options struct {
	Key domain.SessionKey
	// Push subscribes to remote candidates instead of polling for them.
	Push bool

	PollInterval     time.Duration
	MaxEmptyPolls    int
	RequestTimeout   time.Duration
	CandidateRetries int
	RetryBase        time.Duration
}

func (o Options) pollInterval() time.Duration {
	if o.PollInterval <= 0 {
		return time.Second
	}
	return o.PollInterval
}

func (o Options) maxEmptyPolls() int {
	if o.MaxEmptyPolls <= 0 {
		return 5
	}
	return o.MaxEmptyPolls
}

func (o Options) requestTimeout() time.Duration {
	if o.RequestTimeout <= 0 {
		return 10 * time.Second
	}
	return o.RequestTimeout
}

func (o Options) candidateRetries() int {
	if o.CandidateRetries < 0 {
		return 0
	}
	if o.CandidateRetries == 0 {
		return 3
	}
	return o.CandidateRetries
}

func (o Options) retryBase() time.Duration {
	if o.RetryBase <= 0 {
		return 200 * time.Millisecond
	}
	return o.RetryBase
}

var errTornDown = errors.New("connection torn down during initialize")

// Manager is the ClientConnectionManager. The slot holds at most one handle;
// a handle owns exactly one peer connection for its whole life.
type Manager struct {
	opts      Options
	transport core.SignalingTransport
	factory   core.PeerConnectionFactory
	media     core.MediaSource
	logger    zerolog.Logger

	mu       sync.Mutex
	h        *handle
	status   Status
	onStatus func(Status)
}

// NewManager wires a manager. media is only used by publishers.
func NewManager(opts Options, transport core.SignalingTransport, factory core.PeerConnectionFactory, media core.MediaSource) *Manager {
	return &Manager{
		opts:      opts,
		transport: transport,
		factory:   factory,
		media:     media,
		logger:    log.With().Str("module", "client").Str("sid", opts.Key.String()).Logger(),
		status:    StatusIdle,
	}
}

// OnStatus registers an observer for status changes. It runs synchronously
// and must not call back into the manager.
func (m *Manager) OnStatus(fn func(Status)) {
	m.mu.Lock()
	m.onStatus = fn
	m.mu.Unlock()
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Manager) setStatusLocked(st Status) {
	if m.status == st {
		return
	}
	m.status = st
	m.logger.Info().Str("status", string(st)).Msg("status")
	if m.onStatus != nil {
		m.onStatus(st)
	}
}

// setStatusFor only applies while h still owns the slot.
func (m *Manager) setStatusFor(h *handle, st Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.h == h {
		m.setStatusLocked(st)
	}
}

// Initialize connects the stream. While a connection is active it only logs
// a warning; a failed attempt releases everything it acquired.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	if m.h != nil {
		m.mu.Unlock()
		m.logger.Warn().Msg("initialize ignored, connection already active")
		return nil
	}
	h := newHandle(m.opts.Key)
	m.h = h
	m.setStatusLocked(StatusConnecting)
	m.mu.Unlock()

	if err := m.start(ctx, h); err != nil {
		m.logger.Error().Err(err).Msg("initialize failed")
		if rerr := m.release(context.WithoutCancel(ctx), h); rerr != nil {
			m.logger.Warn().Err(rerr).Msg("release after failed initialize")
		}
		m.mu.Lock()
		if m.h == h {
			m.h = nil
			m.setStatusLocked(StatusError)
		}
		m.mu.Unlock()
		return err
	}
	return nil
}

// Teardown stops polling, closes the connection and closes the session.
// Repeated calls are no-ops.
func (m *Manager) Teardown(ctx context.Context) error {
	m.mu.Lock()
	h := m.h
	m.h = nil
	if h != nil {
		m.setStatusLocked(StatusIdle)
	}
	m.mu.Unlock()
	if h == nil {
		return nil
	}
	return m.release(ctx, h)
}

func (m *Manager) call(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.opts.requestTimeout())
}

func (m *Manager) start(ctx context.Context, h *handle) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(h.ctx, cancel)
	defer stop()

	h.spawn(func(ctx context.Context) { m.runJobs(ctx, h) })

	rctx, rcancel := m.call(ctx)
	err := m.transport.CreateSession(rctx, h.key)
	rcancel()
	if err != nil && !errors.Is(err, domain.ErrDuplicateSession) {
		return fmt.Errorf("create session: %w", err)
	}

	var local core.LocalMedia
	if h.key.Role == domain.RolePublisher {
		if m.media == nil {
			return errors.New("publisher without media source")
		}
		local, err = m.media.Acquire(ctx)
		if err != nil {
			return fmt.Errorf("acquire media: %w", err)
		}
		if !h.adoptMedia(local) {
			_ = local.Close()
			return errTornDown
		}
	}

	pc, err := m.factory.NewPeerConnection()
	if err != nil {
		return fmt.Errorf("new peer connection: %w", err)
	}
	if !h.adoptPC(pc) {
		_ = pc.Close()
		return errTornDown
	}

	if local != nil {
		err = pc.AddLocalMedia(local)
	} else {
		err = pc.AddRecvOnly()
	}
	if err != nil {
		return fmt.Errorf("prepare media: %w", err)
	}

	pc.OnICECandidate(func(c *domain.ICECandidate) { m.onLocalCandidate(h, c) })
	pc.OnConnectionStateChange(func(s domain.PeerState) { m.onPeerState(h, s) })

	offer, err := pc.CreateOffer()
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}

	rctx, rcancel = m.call(ctx)
	answer, err := m.transport.SubmitOffer(rctx, h.key, offer)
	rcancel()
	if err != nil {
		return fmt.Errorf("submit offer: %w", err)
	}
	if err := pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	m.logger.Info().Msg("answer applied")

	if !h.markAnswered(m) {
		return errTornDown
	}
	if m.opts.Push {
		h.spawn(func(ctx context.Context) { m.subscribe(ctx, h) })
	} else {
		h.startPoll(func(ctx context.Context) { m.poll(ctx, h) })
	}
	return nil
}

func (m *Manager) onLocalCandidate(h *handle, c *domain.ICECandidate) {
	cand := domain.ICECandidate{}
	if c != nil {
		cand = *c
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if !m.opts.Push && !h.answered {
		h.pending = append(h.pending, cand)
		return
	}
	h.enqueue(m.candidateJob(h, cand))
}

func (m *Manager) onPeerState(h *handle, s domain.PeerState) {
	switch s {
	case domain.PeerStateConnecting:
		m.setStatusFor(h, StatusConnecting)
	case domain.PeerStateConnected:
		m.setStatusFor(h, StatusConnected)
	case domain.PeerStateDisconnected:
		m.setStatusFor(h, StatusDisconnected)
	case domain.PeerStateFailed:
		m.setStatusFor(h, StatusError)
	}
	if s == domain.PeerStateDisconnected || s == domain.PeerStateFailed || s == domain.PeerStateClosed {
		h.stopPoll()
	}
	// closed is reported by release
	st, ok := s.SessionState()
	if !ok || st == domain.StateClosed {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.enqueue(m.stateJob(h, st))
}

func (m *Manager) subscribe(ctx context.Context, h *handle) {
	producer := h.key.Role.Opposite()
	err := m.transport.SubscribeCandidates(ctx, h.key.ID, producer, func(c domain.ICECandidate) {
		m.applyRemote(h, c)
	})
	if err != nil && ctx.Err() == nil {
		m.logger.Error().Err(err).Msg("candidate subscription ended")
		m.setStatusFor(h, StatusError)
	}
}

func (m *Manager) applyRemote(h *handle, c domain.ICECandidate) {
	if c.EndOfCandidates() {
		return
	}
	pc := h.peer()
	if pc == nil {
		return
	}
	if err := pc.AddICECandidate(c); err != nil {
		m.logger.Warn().Err(err).Str("candidate", c.Candidate).Msg("remote candidate rejected")
	}
}

// release runs once per handle, whichever path gets there first.
func (m *Manager) release(ctx context.Context, h *handle) error {
	var err error
	h.once.Do(func() {
		h.shutdown()
		h.wg.Wait()

		pc, media := h.take()
		if pc != nil {
			if cerr := pc.Close(); cerr != nil {
				m.logger.Warn().Err(cerr).Msg("close peer connection")
			}
		}
		if media != nil {
			if cerr := media.Close(); cerr != nil {
				m.logger.Warn().Err(cerr).Msg("close media")
			}
		}

		ctx, cancel := m.call(ctx)
		defer cancel()
		rerr := m.transport.ReportState(ctx, h.key, domain.StateClosed)
		if rerr != nil && !errors.Is(rerr, domain.ErrNotFound) && !errors.Is(rerr, domain.ErrSessionTerminated) {
			err = fmt.Errorf("close session: %w", rerr)
		}
		m.logger.Info().Msg("torn down")
	})
	return err
}
