package client

import (
	"context"
	"sync"

	"github.com/dkeye/rtcsignal/internal/core"
	"github.com/dkeye/rtcsignal/internal/domain"
	"github.com/sourcegraph/conc"
)

type job struct {
	name string
	run  func(ctx context.Context) error
}

// handle is one connection attempt. Every goroutine it starts is joined by
// release before the peer connection is closed.
type handle struct {
	key    domain.SessionKey
	ctx    context.Context
	cancel context.CancelFunc
	wg     conc.WaitGroup
	jobs   chan job
	once   sync.Once

	mu         sync.Mutex
	pc         core.PeerConnection
	media      core.LocalMedia
	answered   bool
	closed     bool
	pending    []domain.ICECandidate
	pollCancel context.CancelFunc
}

func newHandle(key domain.SessionKey) *handle {
	ctx, cancel := context.WithCancel(context.Background())
	return &handle{
		key:    key,
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(chan job, 64),
	}
}

func (h *handle) adoptMedia(m core.LocalMedia) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.media = m
	return true
}

func (h *handle) adoptPC(pc core.PeerConnection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.pc = pc
	return true
}

func (h *handle) peer() core.PeerConnection {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pc
}

// markAnswered flushes candidates buffered before the answer, in order.
func (h *handle) markAnswered(m *Manager) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.answered = true
	for _, c := range h.pending {
		h.enqueue(m.candidateJob(h, c))
	}
	h.pending = nil
	return true
}

// enqueue must be called with h.mu held so producers keep their order.
func (h *handle) enqueue(j job) {
	select {
	case h.jobs <- j:
	case <-h.ctx.Done():
	}
}

// spawn starts a goroutine owned by the handle. Nothing starts once the
// handle is shut down, so release never races a late Go with Wait.
func (h *handle) spawn(run func(ctx context.Context)) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.wg.Go(func() { run(h.ctx) })
	return true
}

func (h *handle) startPoll(run func(ctx context.Context)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || h.pollCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(h.ctx)
	h.pollCancel = cancel
	h.wg.Go(func() { run(ctx) })
}

func (h *handle) stopPoll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pollCancel != nil {
		h.pollCancel()
	}
}

// shutdown cancels first: a producer blocked in enqueue holds h.mu until
// the context is done.
func (h *handle) shutdown() {
	h.cancel()
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
}

// take hands back what still needs closing.
func (h *handle) take() (core.PeerConnection, core.LocalMedia) {
	h.mu.Lock()
	defer h.mu.Unlock()
	pc, media := h.pc, h.media
	h.pc, h.media = nil, nil
	h.pending = nil
	return pc, media
}
