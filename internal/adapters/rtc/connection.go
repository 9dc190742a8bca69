package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/rtcsignal/internal/core"
	"github.com/dkeye/rtcsignal/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const DefaultSTUN = "stun:stun.l.google.com:19302"

// Configuration builds a pion configuration; no servers means public STUN.
func Configuration(iceServers []string) webrtc.Configuration {
	if len(iceServers) == 0 {
		iceServers = []string{DefaultSTUN}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: iceServers}},
	}
}

// TrackMedia is local media backed by pion tracks.
type TrackMedia interface {
	core.LocalMedia
	Tracks() []webrtc.TrackLocal
}

// Connection wraps a pion PeerConnection. It implements core.PeerConnection
// for clients and carries the extra answering surface the server needs.
type Connection struct {
	pc     *webrtc.PeerConnection
	key    domain.SessionKey
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	onICE   func(*domain.ICECandidate)
	onState func(domain.PeerState)
	onTrack func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)

	closeOnce sync.Once
}

var _ core.PeerConnection = (*Connection)(nil)

func NewConnection(cfg webrtc.Configuration, key domain.SessionKey) (*Connection, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{pc: pc, key: key, ctx: ctx, cancel: cancel}
	c.bind()
	return c, nil
}

func (c *Connection) bind() {
	sid := c.key.String()

	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "webrtc").Str("sid", sid).Str("ice_state", s.String()).Msg("ICE state")
		if s == webrtc.ICEConnectionStateFailed || s == webrtc.ICEConnectionStateClosed {
			c.cancel()
		}
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("sid", sid).Str("peer_connection_state", s.String()).Msg("Peer state")
		c.mu.RLock()
		fn := c.onState
		c.mu.RUnlock()
		if fn != nil {
			fn(peerState(s))
		}
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		c.mu.RLock()
		fn := c.onICE
		c.mu.RUnlock()
		if fn == nil {
			return
		}
		if cand == nil {
			fn(nil)
			return
		}
		ci := cand.ToJSON()
		fn(&domain.ICECandidate{Candidate: ci.Candidate, SDPMid: ci.SDPMid, SDPMLineIndex: ci.SDPMLineIndex})
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "webrtc").
			Str("sid", sid).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		c.mu.RLock()
		fn := c.onTrack
		c.mu.RUnlock()
		if fn != nil {
			fn(c.ctx, track, receiver)
		}
	})
}

func peerState(s webrtc.PeerConnectionState) domain.PeerState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return domain.PeerStateConnecting
	case webrtc.PeerConnectionStateConnected:
		return domain.PeerStateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return domain.PeerStateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return domain.PeerStateFailed
	case webrtc.PeerConnectionStateClosed:
		return domain.PeerStateClosed
	}
	return domain.PeerStateNew
}

func (c *Connection) AddLocalMedia(m core.LocalMedia) error {
	tm, ok := m.(TrackMedia)
	if !ok {
		return fmt.Errorf("unsupported local media %T", m)
	}
	for _, track := range tm.Tracks() {
		if _, err := c.AddLocalTrack(track); err != nil {
			return err
		}
	}
	return nil
}

// AddLocalTrack adds track and drains its RTCP so interceptors keep working.
func (c *Connection) AddLocalTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return nil, fmt.Errorf("add track %s: %w", track.ID(), err)
	}
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return sender, nil
}

func (c *Connection) AddRecvOnly() error {
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeVideo, webrtc.RTPCodecTypeAudio} {
		if _, err := c.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return fmt.Errorf("add %s transceiver: %w", kind, err)
		}
	}
	return nil
}

func (c *Connection) CreateOffer() (string, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	return offer.SDP, nil
}

func (c *Connection) SetLocalDescription(sdp string) error {
	return c.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp})
}

func (c *Connection) SetRemoteDescription(sdp string) error {
	return c.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
}

// ApplyOfferAndCreateAnswer answers a remote offer. With waitGathering the
// returned SDP carries every local candidate and nothing is trickled.
func (c *Connection) ApplyOfferAndCreateAnswer(ctx context.Context, offer string, waitGathering bool) (string, error) {
	if err := c.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer}); err != nil {
		return "", fmt.Errorf("set remote offer: %w", err)
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}

	var gatherComplete <-chan struct{}
	if waitGathering {
		gatherComplete = webrtc.GatheringCompletePromise(c.pc)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local answer: %w", err)
	}
	if gatherComplete != nil {
		select {
		case <-gatherComplete:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return c.pc.LocalDescription().SDP, nil
}

func (c *Connection) AddICECandidate(cand domain.ICECandidate) error {
	if cand.EndOfCandidates() {
		return nil
	}
	return c.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     cand.Candidate,
		SDPMid:        cand.SDPMid,
		SDPMLineIndex: cand.SDPMLineIndex,
	})
}

func (c *Connection) OnICECandidate(fn func(*domain.ICECandidate)) {
	c.mu.Lock()
	c.onICE = fn
	c.mu.Unlock()
}

func (c *Connection) OnConnectionStateChange(fn func(domain.PeerState)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

// OnTrack receives remote tracks with a context that ends with the connection.
func (c *Connection) OnTrack(fn func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)) {
	c.mu.Lock()
	c.onTrack = fn
	c.mu.Unlock()
}

func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.pc.Close()
		if err != nil && !errors.Is(err, webrtc.ErrConnectionClosed) {
			log.Error().Err(err).Str("module", "webrtc").Str("sid", c.key.String()).Msg("close error")
			return
		}
		err = nil
		log.Info().Str("module", "webrtc").Str("sid", c.key.String()).Msg("closed")
	})
	return err
}

// Factory creates client connections.
type Factory struct {
	Config webrtc.Configuration
	Key    domain.SessionKey
}

var _ core.PeerConnectionFactory = (*Factory)(nil)

func (f *Factory) NewPeerConnection() (core.PeerConnection, error) {
	return NewConnection(f.Config, f.Key)
}
