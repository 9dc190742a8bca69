package sfu

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dkeye/rtcsignal/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// sink is one subscriber's copy of a relayed track. A dropped sink is
// skipped by forward and pruned on the next pass.
type sink struct {
	local   *webrtc.TrackLocalStaticRTP
	dropped atomic.Bool
}

type RelayStats struct {
	TrackID     string
	Packets     uint64
	WriteErrors uint64
	Subscribers int
}

// Relay fans one publisher track out to the subscribers of its session.
type Relay struct {
	Src *webrtc.TrackRemote

	cancel    context.CancelFunc
	packets   atomic.Uint64
	writeErrs atomic.Uint64

	mu    sync.RWMutex
	sinks map[domain.SessionKey]*sink
}

func NewRelay(src *webrtc.TrackRemote, cancel context.CancelFunc) *Relay {
	return &Relay{
		Src:    src,
		cancel: cancel,
		sinks:  make(map[domain.SessionKey]*sink),
	}
}

func (r *Relay) run(ctx context.Context, logger *zerolog.Logger) {
	defer r.dropAll()
	for ctx.Err() == nil {
		pkt, _, err := r.Src.ReadRTP()
		if err != nil {
			logger.Warn().Err(err).Msg("source track ended")
			return
		}
		r.forward(pkt, logger)
	}
	logger.Info().Msg("relay stopped")
}

func (r *Relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	r.packets.Add(1)

	r.mu.RLock()
	var stale []domain.SessionKey
	for dst, s := range r.sinks {
		if s.dropped.Load() {
			stale = append(stale, dst)
			continue
		}
		if err := s.local.WriteRTP(pkt); err != nil {
			r.writeErrs.Add(1)
			logger.Error().Err(err).Str("dst", dst.String()).Msg("write RTP failed, dropping subscriber")
			s.dropped.Store(true)
			stale = append(stale, dst)
		}
	}
	r.mu.RUnlock()

	if len(stale) > 0 {
		r.prune(stale)
	}
}

func (r *Relay) prune(keys []domain.SessionKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, dst := range keys {
		// a replacement attached since the read pass stays
		if s, ok := r.sinks[dst]; ok && s.dropped.Load() {
			delete(r.sinks, dst)
		}
	}
}

// Attach starts copying packets to local for dst, replacing an earlier
// track of the same subscriber.
func (r *Relay) Attach(dst domain.SessionKey, local *webrtc.TrackLocalStaticRTP) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.sinks[dst]; ok {
		old.dropped.Store(true)
	}
	r.sinks[dst] = &sink{local: local}
}

func (r *Relay) Detach(dst domain.SessionKey) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.sinks[dst]; ok {
		s.dropped.Store(true)
	}
}

func (r *Relay) Subscribers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, s := range r.sinks {
		if !s.dropped.Load() {
			n++
		}
	}
	return n
}

func (r *Relay) Stats() RelayStats {
	st := RelayStats{
		Packets:     r.packets.Load(),
		WriteErrors: r.writeErrs.Load(),
		Subscribers: r.Subscribers(),
	}
	if r.Src != nil {
		st.TrackID = r.Src.ID()
	}
	return st
}

func (r *Relay) dropAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sinks {
		s.dropped.Store(true)
	}
}

func (r *Relay) stop() {
	r.dropAll()
	if r.cancel != nil {
		r.cancel()
	}
}
