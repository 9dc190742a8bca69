// Package domain contains signaling entities and their rules, no transport
package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const MaxSessionIDLen = 64

var (
	ErrSessionIDEmpty   = errors.New("session id empty")
	ErrSessionIDTooLong = errors.New("session id too long")
	ErrUnknownRole      = errors.New("unknown role")
)

type SessionID string

// NewSessionID is used when the caller leaves the id to the coordinator.
func NewSessionID() SessionID {
	return SessionID(uuid.NewString())
}

func (id SessionID) Validate() error {
	if len(id) == 0 {
		return ErrSessionIDEmpty
	}
	if len(id) > MaxSessionIDLen {
		return ErrSessionIDTooLong
	}
	return nil
}

type Role string

const (
	RolePublisher  Role = "publisher"
	RoleSubscriber Role = "subscriber"
)

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RolePublisher, RoleSubscriber:
		return Role(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
}

// Opposite is the remote side of a call; in the single-peer topology it is
// the server peer connection answering this session.
func (r Role) Opposite() Role {
	if r == RolePublisher {
		return RoleSubscriber
	}
	return RolePublisher
}

// SessionKey is the composite primary key. A publisher and a subscriber may
// share a human-chosen SessionID while staying independent state machines.
type SessionKey struct {
	ID   SessionID
	Role Role
}

func (k SessionKey) String() string { return string(k.ID) + "/" + string(k.Role) }

// Session is one role-scoped signaling exchange.
// LocalDescription is the offer produced by the role's client,
// RemoteDescription the answer handed back to it. Both are write-once.
type Session struct {
	ID                SessionID `json:"sessionId"`
	Role              Role      `json:"role"`
	State             State     `json:"state"`
	LocalDescription  string    `json:"localDescription,omitempty"`
	RemoteDescription string    `json:"remoteDescription,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
	LastActivityAt    time.Time `json:"lastActivityAt"`
}

func NewSession(key SessionKey, now time.Time) *Session {
	return &Session{
		ID:             key.ID,
		Role:           key.Role,
		State:          StateCreated,
		CreatedAt:      now,
		LastActivityAt: now,
	}
}

func (s *Session) Key() SessionKey { return SessionKey{ID: s.ID, Role: s.Role} }

func (s *Session) Touch(now time.Time) { s.LastActivityAt = now }

// IdleFor reports how long the session has seen no activity.
func (s *Session) IdleFor(now time.Time) time.Duration {
	return now.Sub(s.LastActivityAt)
}

// SetLocalDescription records the offer. An identical repeat is a no-op,
// a different payload is a conflict.
func (s *Session) SetLocalDescription(sdp string) (changed bool, err error) {
	return setOnce(&s.LocalDescription, sdp)
}

// SetRemoteDescription records the answer with the same write-once rule.
func (s *Session) SetRemoteDescription(sdp string) (changed bool, err error) {
	return setOnce(&s.RemoteDescription, sdp)
}

func setOnce(dst *string, sdp string) (bool, error) {
	if *dst == "" {
		*dst = sdp
		return true, nil
	}
	if *dst == sdp {
		return false, nil
	}
	return false, ErrDescriptionConflict
}
