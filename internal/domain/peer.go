package domain

// PeerState mirrors the connection states a peer connection reports.
type PeerState string

const (
	PeerStateNew          PeerState = "new"
	PeerStateConnecting   PeerState = "connecting"
	PeerStateConnected    PeerState = "connected"
	PeerStateDisconnected PeerState = "disconnected"
	PeerStateFailed       PeerState = "failed"
	PeerStateClosed       PeerState = "closed"
)

// SessionState maps a peer state onto the session state it reports.
// ok is false for states that are not forwarded.
func (p PeerState) SessionState() (State, bool) {
	switch p {
	case PeerStateConnecting:
		return StateConnecting, true
	case PeerStateConnected:
		return StateConnected, true
	case PeerStateDisconnected:
		return StateDisconnected, true
	case PeerStateFailed:
		return StateFailed, true
	case PeerStateClosed:
		return StateClosed, true
	}
	return "", false
}
