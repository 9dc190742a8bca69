package sfu

import (
	"context"
	"sync"

	"github.com/dkeye/rtcsignal/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// RelayManager keeps one relay per publisher track, grouped by session id.
type RelayManager struct {
	mu     sync.RWMutex
	relays map[domain.SessionID]map[string]*Relay
}

func NewRelayManager() *RelayManager {
	return &RelayManager{
		relays: make(map[domain.SessionID]map[string]*Relay),
	}
}

// StartRelay starts forwarding track for the publisher of id.
// A relay for the same track id is replaced.
func (m *RelayManager) StartRelay(ctx context.Context, id domain.SessionID, track *webrtc.TrackRemote) *Relay {
	logger := log.With().
		Str("module", "relay").
		Str("sid", string(id)).
		Str("track_id", track.ID()).
		Str("kind", track.Kind().String()).
		Logger()

	relayCtx, cancel := context.WithCancel(ctx)
	relay := NewRelay(track, cancel)

	m.mu.Lock()
	tracks, ok := m.relays[id]
	if !ok {
		tracks = make(map[string]*Relay)
		m.relays[id] = tracks
	}
	if old, ok := tracks[track.ID()]; ok {
		logger.Info().Msg("replacing existing relay")
		old.stop()
	}
	tracks[track.ID()] = relay
	m.mu.Unlock()

	logger.Info().Msg("starting relay loop")
	go relay.run(relayCtx, &logger)
	return relay
}

func (m *RelayManager) relay(id domain.SessionID, trackID string) (*Relay, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.relays[id][trackID]
	return r, ok
}

// AddSubscriber attaches localTrack of dst to the relay of the given source track.
func (m *RelayManager) AddSubscriber(id domain.SessionID, trackID string, dst domain.SessionKey, localTrack *webrtc.TrackLocalStaticRTP) bool {
	relay, ok := m.relay(id, trackID)
	if !ok {
		return false
	}
	relay.Attach(dst, localTrack)
	return true
}

// MarkSubscriberDelete detaches dst from every relay of id.
func (m *RelayManager) MarkSubscriberDelete(id domain.SessionID, dst domain.SessionKey) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, relay := range m.relays[id] {
		relay.Detach(dst)
	}
}

// StopRelay stops all relays of id and forgets them. The final counters
// are returned for logging.
func (m *RelayManager) StopRelay(id domain.SessionID) []RelayStats {
	m.mu.Lock()
	tracks, ok := m.relays[id]
	delete(m.relays, id)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	stats := make([]RelayStats, 0, len(tracks))
	for _, relay := range tracks {
		relay.stop()
		stats = append(stats, relay.Stats())
	}
	log.Info().Str("module", "relay").Str("sid", string(id)).Int("tracks", len(tracks)).Msg("relays stopped")
	return stats
}

func (m *RelayManager) Stats(id domain.SessionID) []RelayStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RelayStats, 0, len(m.relays[id]))
	for _, relay := range m.relays[id] {
		out = append(out, relay.Stats())
	}
	return out
}

func (m *RelayManager) HasRelay(id domain.SessionID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.relays[id]) > 0
}

// SrcTracks returns the publisher tracks currently relayed for id.
func (m *RelayManager) SrcTracks(id domain.SessionID) []*webrtc.TrackRemote {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*webrtc.TrackRemote, 0, len(m.relays[id]))
	for _, relay := range m.relays[id] {
		out = append(out, relay.Src)
	}
	return out
}
