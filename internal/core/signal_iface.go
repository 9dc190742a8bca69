package core

import (
	"context"

	"github.com/dkeye/rtcsignal/internal/domain"
)

// SignalingTransport is what a client uses to reach the coordinator.
// Every call must honour ctx so each round trip is individually boundable.
type SignalingTransport interface {
	CreateSession(ctx context.Context, key domain.SessionKey) error
	// SubmitOffer returns the answer SDP.
	SubmitOffer(ctx context.Context, key domain.SessionKey, sdp string) (string, error)
	SubmitCandidate(ctx context.Context, key domain.SessionKey, c domain.ICECandidate) error
	// PollCandidates drains candidates produced by the given role.
	PollCandidates(ctx context.Context, id domain.SessionID, producer domain.Role) ([]domain.ICECandidate, error)
	// ReportState forwards a peer-connection state; StateClosed closes the session.
	ReportState(ctx context.Context, key domain.SessionKey, state domain.State) error
	// SubscribeCandidates streams pushed candidates produced by the given role
	// until ctx is done or the stream breaks.
	SubscribeCandidates(ctx context.Context, id domain.SessionID, producer domain.Role, fn func(domain.ICECandidate)) error
}

// CandidateSink receives drained candidate batches in push delivery mode.
// Delivery is fire-and-forget.
type CandidateSink interface {
	Deliver(ctx context.Context, bucket domain.SessionKey, recs []domain.CandidateRecord) error
}
