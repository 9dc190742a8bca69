package client

import (
	"context"
	"sync"

	"github.com/dkeye/rtcsignal/internal/core"
	"github.com/dkeye/rtcsignal/internal/domain"
)

type fakePC struct {
	mu       sync.Mutex
	gather   []string
	onICE    func(*domain.ICECandidate)
	onState  func(domain.PeerState)
	local    string
	remote   string
	added    []string
	closed   int
	media    int
	recvOnly int
}

func (p *fakePC) AddLocalMedia(core.LocalMedia) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.media++
	return nil
}

func (p *fakePC) AddRecvOnly() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recvOnly++
	return nil
}

func (p *fakePC) CreateOffer() (string, error) { return "O1", nil }

// SetLocalDescription starts "gathering": the configured candidates fire
// synchronously, followed by the end marker.
func (p *fakePC) SetLocalDescription(sdp string) error {
	p.mu.Lock()
	p.local = sdp
	fn, gather := p.onICE, p.gather
	p.mu.Unlock()
	if fn == nil {
		return nil
	}
	for _, g := range gather {
		c := domain.ICECandidate{Candidate: g}
		fn(&c)
	}
	fn(nil)
	return nil
}

func (p *fakePC) SetRemoteDescription(sdp string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remote = sdp
	return nil
}

func (p *fakePC) AddICECandidate(c domain.ICECandidate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.added = append(p.added, c.Candidate)
	return nil
}

func (p *fakePC) OnICECandidate(fn func(*domain.ICECandidate)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onICE = fn
}

func (p *fakePC) OnConnectionStateChange(fn func(domain.PeerState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onState = fn
}

func (p *fakePC) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return nil
}

func (p *fakePC) emit(s domain.PeerState) {
	p.mu.Lock()
	fn := p.onState
	p.mu.Unlock()
	fn(s)
}

func (p *fakePC) snapshot() (added []string, closed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.added...), p.closed
}

type fakeFactory struct {
	mu     sync.Mutex
	gather []string
	pcs    []*fakePC
}

func (f *fakeFactory) NewPeerConnection() (core.PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pc := &fakePC{gather: f.gather}
	f.pcs = append(f.pcs, pc)
	return pc, nil
}

func (f *fakeFactory) created() []*fakePC {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakePC(nil), f.pcs...)
}

type fakeMedia struct {
	mu     sync.Mutex
	closed int
}

func (m *fakeMedia) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return nil
}

type fakeSource struct {
	mu       sync.Mutex
	acquired []*fakeMedia
}

func (s *fakeSource) Acquire(context.Context) (core.LocalMedia, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := &fakeMedia{}
	s.acquired = append(s.acquired, m)
	return m, nil
}

// fakeTransport records every call in order. Hooks override the defaults.
type fakeTransport struct {
	mu     sync.Mutex
	events []string
	polls  int

	offer     func(ctx context.Context) (string, error)
	candidate func(n int) error
	pollFn    func(n int) ([]domain.ICECandidate, error)
	subscribe func(ctx context.Context, fn func(domain.ICECandidate)) error
	report    func(st domain.State) error
	nCand     int
}

func (t *fakeTransport) record(e string) {
	t.mu.Lock()
	t.events = append(t.events, e)
	t.mu.Unlock()
}

func (t *fakeTransport) log() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.events...)
}

func (t *fakeTransport) pollCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.polls
}

func (t *fakeTransport) CreateSession(context.Context, domain.SessionKey) error {
	t.record("create")
	return nil
}

func (t *fakeTransport) SubmitOffer(ctx context.Context, _ domain.SessionKey, sdp string) (string, error) {
	t.record("offer:" + sdp)
	if t.offer != nil {
		return t.offer(ctx)
	}
	return "A1", nil
}

func (t *fakeTransport) SubmitCandidate(_ context.Context, _ domain.SessionKey, c domain.ICECandidate) error {
	t.mu.Lock()
	t.nCand++
	n := t.nCand
	t.events = append(t.events, "candidate:"+c.Candidate)
	t.mu.Unlock()
	if t.candidate != nil {
		return t.candidate(n)
	}
	return nil
}

func (t *fakeTransport) PollCandidates(context.Context, domain.SessionID, domain.Role) ([]domain.ICECandidate, error) {
	t.mu.Lock()
	t.polls++
	n := t.polls
	t.mu.Unlock()
	if t.pollFn != nil {
		return t.pollFn(n)
	}
	return []domain.ICECandidate{}, nil
}

func (t *fakeTransport) ReportState(_ context.Context, _ domain.SessionKey, st domain.State) error {
	t.record("state:" + string(st))
	if t.report != nil {
		return t.report(st)
	}
	return nil
}

func (t *fakeTransport) SubscribeCandidates(ctx context.Context, _ domain.SessionID, _ domain.Role, fn func(domain.ICECandidate)) error {
	t.record("subscribe")
	if t.subscribe != nil {
		return t.subscribe(ctx, fn)
	}
	<-ctx.Done()
	return nil
}
