package core

import (
	"context"

	"github.com/dkeye/rtcsignal/internal/domain"
)

// LocalMedia is captured media owned by one client connection.
type LocalMedia interface {
	Close() error
}

type MediaSource interface {
	Acquire(ctx context.Context) (LocalMedia, error)
}

// PeerConnection is the external peer-connection capability. The core only
// drives its SDP/ICE surface; SDP is an opaque string.
type PeerConnection interface {
	AddLocalMedia(LocalMedia) error
	// AddRecvOnly prepares a receive-only transceiver for subscribers.
	AddRecvOnly() error
	CreateOffer() (string, error)
	SetLocalDescription(sdp string) error
	// SetRemoteDescription applies the answer.
	SetRemoteDescription(sdp string) error
	AddICECandidate(domain.ICECandidate) error
	// OnICECandidate gets nil once gathering is complete.
	OnICECandidate(func(*domain.ICECandidate))
	OnConnectionStateChange(func(domain.PeerState))
	Close() error
}

type PeerConnectionFactory interface {
	NewPeerConnection() (PeerConnection, error)
}

// Answerer is the server-side peer that answers offers in the answer
// topology. Client candidates reach it through Deliver.
type Answerer interface {
	CandidateSink
	Answer(ctx context.Context, key domain.SessionKey, offer string) (string, error)
	// Release drops every resource held for key. Safe to repeat.
	Release(key domain.SessionKey)
}
