package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/rtcsignal/internal/app/sfu"
	"github.com/dkeye/rtcsignal/internal/core"
	"github.com/dkeye/rtcsignal/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type answerPeer struct {
	mu      sync.Mutex
	conn    *Connection
	ready   bool
	pending []domain.ICECandidate
}

// Answerer is the server-side peer of the answer topology. Publisher
// sessions feed relays; subscriber sessions sharing the same id get the
// relayed tracks.
type Answerer struct {
	Config           webrtc.Configuration
	Relays           *sfu.RelayManager
	WaitForGathering bool
	// OnCandidate receives server candidates; an empty candidate marks the
	// end of gathering.
	OnCandidate func(key domain.SessionKey, c domain.ICECandidate)

	mu    sync.Mutex
	peers map[domain.SessionKey]*answerPeer
}

var _ core.Answerer = (*Answerer)(nil)

func NewAnswerer(cfg webrtc.Configuration, relays *sfu.RelayManager) *Answerer {
	return &Answerer{
		Config: cfg,
		Relays: relays,
		peers:  make(map[domain.SessionKey]*answerPeer),
	}
}

func (a *Answerer) peer(key domain.SessionKey) *answerPeer {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.peers == nil {
		a.peers = make(map[domain.SessionKey]*answerPeer)
	}
	p, ok := a.peers[key]
	if !ok {
		p = &answerPeer{}
		a.peers[key] = p
	}
	return p
}

func (a *Answerer) Answer(ctx context.Context, key domain.SessionKey, offer string) (string, error) {
	p := a.peer(key)
	p.mu.Lock()
	if p.conn != nil {
		p.mu.Unlock()
		return "", fmt.Errorf("%w: %s already answered", domain.ErrInvalidTransition, key)
	}
	conn, err := NewConnection(a.Config, key)
	if err != nil {
		p.mu.Unlock()
		return "", err
	}
	p.conn = conn
	p.mu.Unlock()

	if !a.WaitForGathering {
		conn.OnICECandidate(func(c *domain.ICECandidate) {
			if a.OnCandidate == nil {
				return
			}
			if c == nil {
				c = &domain.ICECandidate{}
			}
			a.OnCandidate(key, *c)
		})
	}

	switch key.Role {
	case domain.RolePublisher:
		conn.OnTrack(func(ctx context.Context, track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			if a.Relays != nil {
				a.Relays.StartRelay(ctx, key.ID, track)
			}
		})
	case domain.RoleSubscriber:
		if err := a.attachRelays(conn, key); err != nil {
			a.Release(key)
			return "", err
		}
	}

	answer, err := conn.ApplyOfferAndCreateAnswer(ctx, offer, a.WaitForGathering)
	if err != nil {
		a.Release(key)
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.ready = true
	for _, c := range p.pending {
		if err := conn.AddICECandidate(c); err != nil {
			log.Warn().Err(err).Str("module", "answerer").Str("sid", key.String()).Msg("buffered candidate rejected")
		}
	}
	p.pending = nil
	return answer, nil
}

func (a *Answerer) attachRelays(conn *Connection, key domain.SessionKey) error {
	if a.Relays == nil {
		return nil
	}
	srcs := a.Relays.SrcTracks(key.ID)
	if len(srcs) == 0 {
		log.Warn().Str("module", "answerer").Str("sid", key.String()).Msg("no publisher tracks to relay yet")
		return nil
	}
	for _, src := range srcs {
		local, err := webrtc.NewTrackLocalStaticRTP(src.Codec().RTPCodecCapability, src.ID(), src.StreamID())
		if err != nil {
			return fmt.Errorf("relay track %s: %w", src.ID(), err)
		}
		if _, err := conn.AddLocalTrack(local); err != nil {
			return err
		}
		a.Relays.AddSubscriber(key.ID, src.ID(), key, local)
	}
	return nil
}

// Deliver hands client candidates to the peer of bucket. Candidates that
// arrive while the offer is being applied are held back; without a peer
// they are dropped, so a released session never gets one back.
func (a *Answerer) Deliver(_ context.Context, bucket domain.SessionKey, recs []domain.CandidateRecord) error {
	a.mu.Lock()
	p, ok := a.peers[bucket]
	a.mu.Unlock()
	if !ok {
		log.Debug().Str("module", "answerer").Str("sid", bucket.String()).Int("n", len(recs)).Msg("no peer, candidates dropped")
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	for _, r := range recs {
		if r.ICE.EndOfCandidates() {
			continue
		}
		if !p.ready {
			p.pending = append(p.pending, r.ICE)
			continue
		}
		if err := p.conn.AddICECandidate(r.ICE); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: add candidate: %v", domain.ErrTransport, err)
	}
	return nil
}

func (a *Answerer) Release(key domain.SessionKey) {
	a.mu.Lock()
	p, ok := a.peers[key]
	delete(a.peers, key)
	a.mu.Unlock()

	if a.Relays != nil {
		if key.Role == domain.RolePublisher {
			for _, st := range a.Relays.StopRelay(key.ID) {
				log.Info().
					Str("module", "answerer").
					Str("sid", key.String()).
					Str("track_id", st.TrackID).
					Uint64("packets", st.Packets).
					Uint64("write_errors", st.WriteErrors).
					Msg("relay finished")
			}
		} else {
			a.Relays.MarkSubscriberDelete(key.ID, key)
		}
	}
	if !ok {
		return
	}
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}
