package domain

import "time"

// ICECandidate is opaque to the core. An empty Candidate means the producer
// finished gathering.
type ICECandidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex"`
}

func (c ICECandidate) EndOfCandidates() bool { return c.Candidate == "" }

// CandidateRecord is a buffered candidate owned by the queue until drained.
type CandidateRecord struct {
	SessionID  SessionID
	Role       Role
	ICE        ICECandidate
	EnqueuedAt time.Time
}

func (r CandidateRecord) Key() SessionKey { return SessionKey{ID: r.SessionID, Role: r.Role} }
